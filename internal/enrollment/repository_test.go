package enrollment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/campus-events/backend/internal/apperr"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind apperr.Kind
	}{
		{"serialization failure", fmt.Errorf("commit tx: %w", &pgconn.PgError{Code: "40001"}), apperr.KindConflict},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, apperr.KindConflict},
		{"unique violation", &pgconn.PgError{Code: "23505", ConstraintName: "event_enrollments_student_id_event_id_key"}, apperr.KindDuplicateEnrollment},
		{"business error passes through", apperr.ErrEventFull, apperr.KindCapacityExceeded},
		{"other database error", errors.New("connection reset"), apperr.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, apperr.KindOf(classify(tt.err)))
		})
	}

	assert.ErrorIs(t, classify(context.DeadlineExceeded), context.DeadlineExceeded)
}
