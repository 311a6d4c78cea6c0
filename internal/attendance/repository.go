package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/database"
)

const enrollmentColumns = `id, student_id, talk_id, present, present_at, status, verified_by, walk_in, created_at, updated_at`

// Repository records presence in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	users *auth.Repository
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, users: auth.NewRepository(pool)}
}

// GetTalk returns a talk including its current secret.
func (r *Repository) GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error) {
	return events.GetTalk(ctx, r.pool, id)
}

// GetUser returns a user by ID.
func (r *Repository) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.users.GetUser(ctx, id)
}

// GetTalkEnrollment returns the student's enrollment in the talk.
func (r *Repository) GetTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+enrollmentColumns+` FROM talk_enrollments WHERE student_id = $1 AND talk_id = $2`, studentID, talkID)
	e, err := scanEnrollment(row)
	if database.IsNoRows(err) {
		return nil, apperr.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get talk enrollment: %w", err)
	}
	return e, nil
}

// MarkPresent is a single conditional update; only one concurrent caller can match
// present = false.
func (r *Repository) MarkPresent(ctx context.Context, enrollmentID uuid.UUID, at time.Time, verifiedBy *uuid.UUID) (bool, error) {
	const q = `UPDATE talk_enrollments
		SET present = true, present_at = $2, status = 'present', verified_by = $3, updated_at = NOW()
		WHERE id = $1 AND present = false`
	tag, err := r.pool.Exec(ctx, q, enrollmentID, at, verifiedBy)
	if err != nil {
		return false, fmt.Errorf("mark present: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CreateWalkIn inserts an enrollment that is already present. Losing an insert race
// against another walk-in means the student is already recorded.
func (r *Repository) CreateWalkIn(ctx context.Context, studentID, talkID uuid.UUID, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error) {
	const q = `INSERT INTO talk_enrollments (student_id, talk_id, present, present_at, status, verified_by, walk_in)
		VALUES ($1, $2, true, $3, 'walk_in', $4, true)
		ON CONFLICT (student_id, talk_id) DO NOTHING
		RETURNING ` + enrollmentColumns
	e, err := scanEnrollment(r.pool.QueryRow(ctx, q, studentID, talkID, at, verifiedBy))
	if database.IsNoRows(err) {
		return nil, apperr.ErrAlreadyPresent
	}
	if err != nil {
		return nil, fmt.Errorf("create walk-in: %w", err)
	}
	return e, nil
}

// SetAttendanceStatus applies a staff override. Attended statuses set presence;
// the others clear it.
func (r *Repository) SetAttendanceStatus(ctx context.Context, studentID, talkID uuid.UUID, status models.AttendanceStatus, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error) {
	const q = `UPDATE talk_enrollments
		SET status = $3,
			present = $4,
			present_at = CASE WHEN $4 THEN $5::timestamptz ELSE NULL END,
			verified_by = $6,
			updated_at = NOW()
		WHERE student_id = $1 AND talk_id = $2
		RETURNING ` + enrollmentColumns
	e, err := scanEnrollment(r.pool.QueryRow(ctx, q, studentID, talkID, string(status), status.Attended(), at, verifiedBy))
	if database.IsNoRows(err) {
		return nil, apperr.ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("set attendance status: %w", err)
	}
	return e, nil
}

// ListTalkAttendance returns the roster of a talk ordered by student name.
func (r *Repository) ListTalkAttendance(ctx context.Context, talkID uuid.UUID) ([]models.AttendanceRow, error) {
	const q = `SELECT te.id, te.student_id, te.talk_id, te.present, te.present_at, te.status, te.verified_by, te.walk_in, te.created_at, te.updated_at,
			u.full_name, COALESCE(u.registration_number, '')
		FROM talk_enrollments te
		JOIN users u ON u.id = te.student_id
		WHERE te.talk_id = $1
		ORDER BY u.full_name`
	rows, err := r.pool.Query(ctx, q, talkID)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()
	list := []models.AttendanceRow{}
	for rows.Next() {
		var row models.AttendanceRow
		var status string
		e := &row.TalkEnrollment
		if err := rows.Scan(&e.ID, &e.StudentID, &e.TalkID, &e.Present, &e.PresentAt, &status, &e.VerifiedBy, &e.WalkIn, &e.CreatedAt, &e.UpdatedAt,
			&row.FullName, &row.RegistrationNumber); err != nil {
			return nil, err
		}
		e.Status = models.AttendanceStatus(status)
		list = append(list, row)
	}
	return list, rows.Err()
}

func scanEnrollment(row pgx.Row) (*models.TalkEnrollment, error) {
	var e models.TalkEnrollment
	var status string
	if err := row.Scan(&e.ID, &e.StudentID, &e.TalkID, &e.Present, &e.PresentAt, &status, &e.VerifiedBy, &e.WalkIn, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Status = models.AttendanceStatus(status)
	return &e, nil
}
