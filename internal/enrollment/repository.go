package enrollment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/database"
)

// Repository is the PostgreSQL capacity ledger. Seat counting and insertion run in a
// SERIALIZABLE transaction so two requests for the last seat cannot both commit.
type Repository struct {
	*events.Repository
	pool *pgxpool.Pool
}

// NewRepository creates an enrollment repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: events.NewRepository(pool), pool: pool}
}

// CreateEventEnrollment counts confirmed enrollments, compares with capacity and
// inserts, all in one serializable transaction.
func (r *Repository) CreateEventEnrollment(ctx context.Context, studentID, eventID uuid.UUID) (*models.EventEnrollment, models.CapacitySummary, error) {
	var enr models.EventEnrollment
	var seats models.CapacitySummary
	err := database.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		event, err := events.GetEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM event_enrollments WHERE event_id = $1 AND status = 'confirmed'`, eventID).Scan(&count); err != nil {
			return fmt.Errorf("count event enrollments: %w", err)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM event_enrollments WHERE event_id = $1 AND student_id = $2)`, eventID, studentID).Scan(&exists); err != nil {
			return fmt.Errorf("check duplicate enrollment: %w", err)
		}
		if exists {
			return apperr.ErrAlreadyEnrolled
		}
		if count >= event.Capacity {
			return apperr.ErrEventFull
		}
		const q = `INSERT INTO event_enrollments (student_id, event_id, status)
			VALUES ($1, $2, 'confirmed')
			RETURNING id, student_id, event_id, status, created_at`
		var status string
		if err := tx.QueryRow(ctx, q, studentID, eventID).Scan(&enr.ID, &enr.StudentID, &enr.EventID, &status, &enr.CreatedAt); err != nil {
			return err
		}
		enr.Status = models.EnrollmentStatus(status)
		seats = models.NewCapacitySummary(event.Capacity, count+1)
		return nil
	})
	if err != nil {
		return nil, seats, classify(err)
	}
	return &enr, seats, nil
}

// CreateTalkEnrollment checks the event prerequisite, counts, compares with the talk
// capacity and inserts in one serializable transaction.
func (r *Repository) CreateTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, models.CapacitySummary, error) {
	var enr models.TalkEnrollment
	var seats models.CapacitySummary
	err := database.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		talk, err := events.GetTalk(ctx, tx, talkID)
		if err != nil {
			return err
		}
		var hasEvent bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM event_enrollments WHERE event_id = $1 AND student_id = $2 AND status = 'confirmed')`, talk.EventID, studentID).Scan(&hasEvent); err != nil {
			return fmt.Errorf("check event enrollment: %w", err)
		}
		if !hasEvent {
			return apperr.ErrEventEnrollmentNeeded
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM talk_enrollments WHERE talk_id = $1 AND student_id = $2)`, talkID, studentID).Scan(&exists); err != nil {
			return fmt.Errorf("check duplicate enrollment: %w", err)
		}
		if exists {
			return apperr.ErrAlreadyEnrolled
		}
		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM talk_enrollments WHERE talk_id = $1`, talkID).Scan(&count); err != nil {
			return fmt.Errorf("count talk enrollments: %w", err)
		}
		if count >= talk.Capacity {
			return apperr.ErrTalkFull
		}
		const q = `INSERT INTO talk_enrollments (student_id, talk_id, status)
			VALUES ($1, $2, 'not_yet')
			RETURNING id, student_id, talk_id, present, present_at, status, verified_by, walk_in, created_at, updated_at`
		row, err := scanTalkEnrollment(tx.QueryRow(ctx, q, studentID, talkID))
		if err != nil {
			return err
		}
		enr = *row
		seats = models.NewCapacitySummary(talk.Capacity, count+1)
		return nil
	})
	if err != nil {
		return nil, seats, classify(err)
	}
	return &enr, seats, nil
}

// DeleteEventEnrollment removes the event enrollment and, in the same transaction,
// every talk enrollment the student holds in that event. It runs SERIALIZABLE like
// CreateTalkEnrollment, so a talk enrollment racing the cancel cannot outlive it.
func (r *Repository) DeleteEventEnrollment(ctx context.Context, studentID, eventID uuid.UUID) (*models.EnrollmentCancellation, error) {
	res := &models.EnrollmentCancellation{EventID: eventID}
	err := database.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM event_enrollments WHERE student_id = $1 AND event_id = $2`, studentID, eventID)
		if err != nil {
			return fmt.Errorf("delete event enrollment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.ErrEnrollmentNotFound
		}
		const q = `WITH removed AS (
				DELETE FROM talk_enrollments te USING talks t
				WHERE te.talk_id = t.id AND t.event_id = $1 AND te.student_id = $2
				RETURNING te.present
			)
			SELECT COUNT(*), COUNT(*) FILTER (WHERE present) FROM removed`
		if err := tx.QueryRow(ctx, q, eventID, studentID).Scan(&res.TalksRemoved, &res.PresentDiscarded); err != nil {
			return fmt.Errorf("delete talk enrollments: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return res, nil
}

// DeleteTalkEnrollment removes one talk enrollment.
func (r *Repository) DeleteTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM talk_enrollments WHERE student_id = $1 AND talk_id = $2`, studentID, talkID)
	if err != nil {
		return fmt.Errorf("delete talk enrollment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrEnrollmentNotFound
	}
	return nil
}

// ListStudentEnrollments returns the student's event and talk enrollments.
func (r *Repository) ListStudentEnrollments(ctx context.Context, studentID uuid.UUID) (*models.StudentEnrollments, error) {
	out := &models.StudentEnrollments{Events: []models.EventEnrollment{}, Talks: []models.TalkEnrollment{}}
	rows, err := r.pool.Query(ctx, `SELECT id, student_id, event_id, status, created_at FROM event_enrollments WHERE student_id = $1 ORDER BY created_at`, studentID)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var e models.EventEnrollment
		var status string
		if err := rows.Scan(&e.ID, &e.StudentID, &e.EventID, &status, &e.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		e.Status = models.EnrollmentStatus(status)
		out.Events = append(out.Events, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.pool.Query(ctx, `SELECT id, student_id, talk_id, present, present_at, status, verified_by, walk_in, created_at, updated_at
		FROM talk_enrollments WHERE student_id = $1 ORDER BY created_at`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTalkEnrollment(rows)
		if err != nil {
			return nil, err
		}
		out.Talks = append(out.Talks, *t)
	}
	return out, rows.Err()
}

func scanTalkEnrollment(row pgx.Row) (*models.TalkEnrollment, error) {
	var t models.TalkEnrollment
	var status string
	if err := row.Scan(&t.ID, &t.StudentID, &t.TalkID, &t.Present, &t.PresentAt, &status, &t.VerifiedBy, &t.WalkIn, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = models.AttendanceStatus(status)
	return &t, nil
}

// classify maps PostgreSQL race outcomes onto business error kinds.
func classify(err error) error {
	var appErr *apperr.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case database.IsSerializationFailure(err):
		return apperr.Wrap(apperr.KindConflict, apperr.ErrBusy.Message, err)
	case database.IsUniqueViolation(err, ""):
		return apperr.ErrAlreadyEnrolled
	case errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("enrollment store: %w", err)
	}
}
