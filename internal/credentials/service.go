package credentials

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
)

const (
	// DefaultTolerance widens the talk schedule on both sides.
	DefaultTolerance = 15 * time.Minute
	// DefaultRotation is used for talks without their own rotation period.
	DefaultRotation = 60 * time.Second

	guardTTL = 5 * time.Second
)

// Store persists the per-talk secret.
type Store interface {
	GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error)
	UpdateTalkSecret(ctx context.Context, talkID uuid.UUID, secret string, issuedAt time.Time) error
}

// Service issues and rotates talk credentials.
type Service struct {
	store     Store
	guard     Guard
	tolerance time.Duration
	rotation  time.Duration
	hub       Broadcaster
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a credential service. A nil guard falls back to an in-process one.
func NewService(store Store, guard Guard, tolerance, rotation time.Duration, logger *zap.Logger) *Service {
	if guard == nil {
		guard = NewLocalGuard()
	}
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}
	if rotation <= 0 {
		rotation = DefaultRotation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, guard: guard, tolerance: tolerance, rotation: rotation, now: time.Now, logger: logger}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetBroadcaster makes manual regenerations push the new code to open projectors.
func (s *Service) SetBroadcaster(hub Broadcaster) { s.hub = hub }

// Tolerance returns the configured window tolerance.
func (s *Service) Tolerance() time.Duration { return s.tolerance }

// Regenerate replaces the talk secret on staff request. The previous secret stops
// verifying as soon as the new one is stored.
func (s *Service) Regenerate(ctx context.Context, p models.Principal, talkID uuid.UUID) (*Payload, error) {
	if !p.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	release, ok, err := s.guard.Acquire(ctx, talkID, guardTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.ErrRegenerationInFlight
	}
	defer release()

	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return nil, err
	}
	if err := s.issue(ctx, talk); err != nil {
		return nil, err
	}
	s.logger.Info("credential regenerated",
		zap.String("talk_id", talkID.String()),
		zap.String("by", p.UserID.String()),
	)
	payload := PayloadFor(talk, s.tolerance)
	if s.hub != nil {
		s.hub.BroadcastToTalkAndPublish(talkID, EventCredentialRotated, payload)
	}
	return payload, nil
}

// Rotate is the automatic path used by the projector. It regenerates only when the
// current secret is at least one rotation period old, and reports whether it did.
// A concurrent rotation of the same talk makes this call a no-op.
func (s *Service) Rotate(ctx context.Context, talkID uuid.UUID) (*Payload, bool, error) {
	release, ok, err := s.guard.Acquire(ctx, talkID, guardTTL)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	defer release()

	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return nil, false, err
	}
	if talk.Secret != "" && talk.SecretIssuedAt != nil && s.now().Sub(*talk.SecretIssuedAt) < s.periodOf(talk) {
		return PayloadFor(talk, s.tolerance), false, nil
	}
	if err := s.issue(ctx, talk); err != nil {
		return nil, false, err
	}
	s.logger.Debug("credential rotated", zap.String("talk_id", talkID.String()))
	return PayloadFor(talk, s.tolerance), true, nil
}

// Current returns the payload for the talk's live secret, issuing the first one if
// the talk has none yet.
func (s *Service) Current(ctx context.Context, p models.Principal, talkID uuid.UUID) (*Payload, error) {
	if !p.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return nil, err
	}
	if talk.Secret != "" {
		return PayloadFor(talk, s.tolerance), nil
	}
	payload, _, err := s.Rotate(ctx, talkID)
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return nil, apperr.ErrRegenerationInFlight
	}
	return payload, nil
}

// Period returns the rotation period used for the talk.
func (s *Service) Period(ctx context.Context, talkID uuid.UUID) time.Duration {
	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return s.rotation
	}
	return s.periodOf(talk)
}

func (s *Service) periodOf(t *models.Talk) time.Duration {
	if t.RotationSeconds > 0 {
		return time.Duration(t.RotationSeconds) * time.Second
	}
	return s.rotation
}

func (s *Service) issue(ctx context.Context, talk *models.Talk) error {
	secret, err := NewSecret()
	if err != nil {
		return err
	}
	issuedAt := s.now().UTC()
	if err := s.store.UpdateTalkSecret(ctx, talk.ID, secret, issuedAt); err != nil {
		s.logger.Error("store credential failed", zap.String("talk_id", talk.ID.String()), zap.Error(err))
		return err
	}
	talk.Secret = secret
	talk.SecretIssuedAt = &issuedAt
	return nil
}
