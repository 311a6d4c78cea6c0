package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/models"
)

// Repository stores talk secrets in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a credentials repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTalk returns a talk including its secret.
func (r *Repository) GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error) {
	return events.GetTalk(ctx, r.pool, id)
}

// UpdateTalkSecret overwrites the secret in a single statement, so readers see either
// the old or the new value.
func (r *Repository) UpdateTalkSecret(ctx context.Context, talkID uuid.UUID, secret string, issuedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE talks SET secret = $1, secret_issued_at = $2, updated_at = NOW() WHERE id = $3`, secret, issuedAt, talkID)
	if err != nil {
		return fmt.Errorf("update talk secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrTalkNotFound
	}
	return nil
}
