package credentials

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
)

// SecretBytes is the entropy of a credential secret (256 bits).
const SecretBytes = 32

// PayloadType tags QR payloads produced by this service.
const PayloadType = "attendance"

// Payload is the flat JSON rendered into the presenter QR code.
type Payload struct {
	Type       string    `json:"type"`
	TalkID     uuid.UUID `json:"talk_id"`
	EventID    uuid.UUID `json:"event_id"`
	Secret     string    `json:"secret"`
	ValidFrom  time.Time `json:"valid_from"`
	ValidUntil time.Time `json:"valid_until"`
	IssuedAt   time.Time `json:"issued_at"`
}

// NewSecret returns a fresh URL-safe secret.
func NewSecret() (string, error) {
	b := make([]byte, SecretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Window returns the inclusive attendance window of a talk.
func Window(t *models.Talk, tolerance time.Duration) (from, until time.Time) {
	return t.StartsAt.Add(-tolerance), t.EndsAt.Add(tolerance)
}

// PayloadFor builds the QR payload for the talk's current secret.
func PayloadFor(t *models.Talk, tolerance time.Duration) *Payload {
	from, until := Window(t, tolerance)
	p := &Payload{
		Type:       PayloadType,
		TalkID:     t.ID,
		EventID:    t.EventID,
		Secret:     t.Secret,
		ValidFrom:  from,
		ValidUntil: until,
	}
	if t.SecretIssuedAt != nil {
		p.IssuedAt = *t.SecretIssuedAt
	}
	return p
}

// Encode returns the JSON text placed in the QR code.
func (p *Payload) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var errNotAttendancePayload = errors.New("not an attendance payload")

// ParsePayload decodes a scanned QR text. Anything that is not an attendance payload
// is reported as an invalid credential.
func ParsePayload(raw string) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidCredential, apperr.ErrInvalidCredential.Message, err)
	}
	if p.Type != PayloadType || p.Secret == "" || p.TalkID == uuid.Nil {
		return nil, apperr.Wrap(apperr.KindInvalidCredential, apperr.ErrInvalidCredential.Message, errNotAttendancePayload)
	}
	return &p, nil
}

// Check validates a scanned secret for the talk at instant now. The window is checked
// before the secret so an out-of-window scan is always reported as such.
func Check(t *models.Talk, secret string, now time.Time, tolerance time.Duration) error {
	from, until := Window(t, tolerance)
	if now.Before(from) || now.After(until) {
		return apperr.ErrOutsideWindow
	}
	if t.Secret == "" || secret == "" {
		return apperr.ErrInvalidCredential
	}
	if subtle.ConstantTimeCompare([]byte(t.Secret), []byte(secret)) != 1 {
		return apperr.ErrInvalidCredential
	}
	return nil
}
