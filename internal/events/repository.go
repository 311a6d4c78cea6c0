package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/database"
)

const (
	eventColumns = `id, title, description, capacity, is_active, shift, starts_at, ends_at, created_by, created_at, updated_at`
	talkColumns  = `id, event_id, title, kind, speaker_id, capacity, starts_at, ends_at, credit_hours::float8, secret, secret_issued_at, rotation_seconds, created_at, updated_at`
)

// Querier is satisfied by both the pool and a transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository handles event and talk persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateEvent inserts a new event.
func (r *Repository) CreateEvent(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (title, description, capacity, is_active, shift, starts_at, ends_at, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.Title, e.Description, e.Capacity, e.IsActive, string(e.Shift), e.StartsAt, e.EndsAt, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// GetEvent returns an event by ID.
func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return GetEvent(ctx, r.pool, id)
}

// ListEvents returns all events, newest first.
func (r *Repository) ListEvents(ctx context.Context) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// SetEventActive toggles the active flag.
func (r *Repository) SetEventActive(ctx context.Context, id uuid.UUID, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET is_active = $1, updated_at = NOW() WHERE id = $2`, active, id)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrEventNotFound
	}
	return nil
}

// CreateTalk inserts a new talk.
func (r *Repository) CreateTalk(ctx context.Context, t *models.Talk) error {
	const q = `INSERT INTO talks (event_id, title, kind, speaker_id, capacity, starts_at, ends_at, credit_hours, rotation_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, t.EventID, t.Title, string(t.Kind), t.SpeakerID, t.Capacity, t.StartsAt, t.EndsAt, t.CreditHours, t.RotationSeconds).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

// GetTalk returns a talk by ID.
func (r *Repository) GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error) {
	return GetTalk(ctx, r.pool, id)
}

// ListTalksByEvent returns the talks of an event ordered by start time.
func (r *Repository) ListTalksByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Talk, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+talkColumns+` FROM talks WHERE event_id = $1 ORDER BY starts_at`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Talk
	for rows.Next() {
		t, err := scanTalk(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// GetEvent loads an event through q, mapping a missing row to apperr.ErrEventNotFound.
func GetEvent(ctx context.Context, q Querier, id uuid.UUID) (*models.Event, error) {
	e, err := scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

// GetTalk loads a talk through q, mapping a missing row to apperr.ErrTalkNotFound.
func GetTalk(ctx context.Context, q Querier, id uuid.UUID) (*models.Talk, error) {
	t, err := scanTalk(q.QueryRow(ctx, `SELECT `+talkColumns+` FROM talks WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.ErrTalkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get talk: %w", err)
	}
	return t, nil
}

func scanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	var shift string
	if err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Capacity, &e.IsActive, &shift, &e.StartsAt, &e.EndsAt, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Shift = models.Shift(shift)
	return &e, nil
}

func scanTalk(row pgx.Row) (*models.Talk, error) {
	var t models.Talk
	var kind string
	if err := row.Scan(&t.ID, &t.EventID, &t.Title, &kind, &t.SpeakerID, &t.Capacity, &t.StartsAt, &t.EndsAt, &t.CreditHours, &t.Secret, &t.SecretIssuedAt, &t.RotationSeconds, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Kind = models.TalkKind(kind)
	return &t, nil
}
