package certificates

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/events"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/database"
)

const (
	constraintCode          = "certificates_code_key"
	constraintParticipation = "certificates_participation_key"
	constraintSpeaker       = "certificates_speaker_key"
)

// Repository stores certificates in PostgreSQL.
type Repository struct {
	*events.Repository
	pool *pgxpool.Pool
}

// NewRepository creates a certificates repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: events.NewRepository(pool), pool: pool}
}

// ListEventPresence returns every present talk enrollment of the event with the
// talk's credit hours.
func (r *Repository) ListEventPresence(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRecord, error) {
	const q = `SELECT te.student_id, te.talk_id, t.credit_hours::float8
		FROM talk_enrollments te
		JOIN talks t ON t.id = te.talk_id
		WHERE t.event_id = $1 AND te.present = true
		ORDER BY te.student_id, t.starts_at`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	defer rows.Close()
	var list []models.PresenceRecord
	for rows.Next() {
		var p models.PresenceRecord
		if err := rows.Scan(&p.StudentID, &p.TalkID, &p.CreditHours); err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// HasParticipationCertificate reports whether the student already holds the event certificate.
func (r *Repository) HasParticipationCertificate(ctx context.Context, userID, eventID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM certificates WHERE kind = 'participation' AND user_id = $1 AND event_id = $2)`, userID, eventID).Scan(&exists)
	return exists, err
}

// HasSpeakerCertificate reports whether the speaker already holds the talk certificate.
func (r *Repository) HasSpeakerCertificate(ctx context.Context, userID, talkID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM certificates WHERE kind = 'speaker' AND user_id = $1 AND talk_id = $2)`, userID, talkID).Scan(&exists)
	return exists, err
}

// InsertCertificate inserts c, distinguishing a code collision from a certificate
// that a concurrent batch already issued.
func (r *Repository) InsertCertificate(ctx context.Context, c *models.Certificate) error {
	const q = `INSERT INTO certificates (kind, user_id, event_id, talk_id, code, total_hours, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := r.pool.QueryRow(ctx, q, string(c.Kind), c.UserID, c.EventID, c.TalkID, c.Code, c.TotalHours, c.IssuedAt).Scan(&c.ID)
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err, constraintCode):
		return ErrCodeTaken
	case database.IsUniqueViolation(err, constraintParticipation), database.IsUniqueViolation(err, constraintSpeaker):
		return ErrCertificateExists
	default:
		return fmt.Errorf("insert certificate: %w", err)
	}
}

// GetCertificateVerification returns the redacted public view for code.
func (r *Repository) GetCertificateVerification(ctx context.Context, code string) (*models.CertificateVerification, error) {
	const q = `SELECT c.kind, c.total_hours::float8, c.issued_at, u.full_name, COALESCE(u.registration_number, ''), e.title, COALESCE(t.title, '')
		FROM certificates c
		JOIN users u ON u.id = c.user_id
		JOIN events e ON e.id = c.event_id
		LEFT JOIN talks t ON t.id = c.talk_id
		WHERE c.code = $1`
	var v models.CertificateVerification
	var kind string
	err := r.pool.QueryRow(ctx, q, code).Scan(&kind, &v.TotalHours, &v.IssuedAt, &v.HolderName, &v.RegistrationNumber, &v.EventTitle, &v.TalkTitle)
	if database.IsNoRows(err) {
		return nil, apperr.ErrCertificateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("verify certificate: %w", err)
	}
	v.Kind = models.CertificateKind(kind)
	return &v, nil
}
