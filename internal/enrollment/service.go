package enrollment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
)

// DefaultTimeout bounds a whole enrollment attempt.
const DefaultTimeout = 10 * time.Second

// Store is the persistence contract for the capacity ledger. Create methods must
// count, compare and insert as one atomic unit.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error)
	CreateEventEnrollment(ctx context.Context, studentID, eventID uuid.UUID) (*models.EventEnrollment, models.CapacitySummary, error)
	CreateTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, models.CapacitySummary, error)
	DeleteEventEnrollment(ctx context.Context, studentID, eventID uuid.UUID) (*models.EnrollmentCancellation, error)
	DeleteTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) error
	ListStudentEnrollments(ctx context.Context, studentID uuid.UUID) (*models.StudentEnrollments, error)
}

// EventResult is returned by a successful event enrollment.
type EventResult struct {
	Enrollment *models.EventEnrollment `json:"enrollment"`
	Event      *models.Event           `json:"event"`
	Seats      models.CapacitySummary  `json:"seats"`
}

// TalkResult is returned by a successful talk enrollment.
type TalkResult struct {
	Enrollment *models.TalkEnrollment `json:"enrollment"`
	Talk       *models.Talk           `json:"talk"`
	Seats      models.CapacitySummary `json:"seats"`
}

// Service admits students into events and talks without overselling seats.
type Service struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewService creates an enrollment service. A non-positive timeout uses DefaultTimeout.
func NewService(store Store, timeout time.Duration, logger *zap.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, timeout: timeout, logger: logger}
}

// EnrollInEvent reserves a seat in an event for the principal.
func (s *Service) EnrollInEvent(ctx context.Context, p models.Principal, eventID uuid.UUID) (*EventResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, s.classify(ctx, err, "get event")
	}
	if !event.IsActive {
		return nil, apperr.ErrEventInactive
	}
	if !event.AllowsShift(p.Shift) {
		return nil, apperr.ErrShiftMismatch
	}

	enr, seats, err := s.store.CreateEventEnrollment(ctx, p.UserID, eventID)
	if err != nil {
		return nil, s.classify(ctx, err, "create event enrollment")
	}
	s.logger.Info("event enrollment confirmed",
		zap.String("event_id", eventID.String()),
		zap.String("student_id", p.UserID.String()),
		zap.Int("seats_left", seats.SeatsLeft),
	)
	return &EventResult{Enrollment: enr, Event: event, Seats: seats}, nil
}

// EnrollInTalk reserves a seat in a talk. The student must already hold an
// enrollment in the talk's event.
func (s *Service) EnrollInTalk(ctx context.Context, p models.Principal, talkID uuid.UUID) (*TalkResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return nil, s.classify(ctx, err, "get talk")
	}
	event, err := s.store.GetEvent(ctx, talk.EventID)
	if err != nil {
		return nil, s.classify(ctx, err, "get event")
	}
	if !event.IsActive {
		return nil, apperr.ErrEventInactive
	}

	enr, seats, err := s.store.CreateTalkEnrollment(ctx, p.UserID, talkID)
	if err != nil {
		return nil, s.classify(ctx, err, "create talk enrollment")
	}
	s.logger.Info("talk enrollment confirmed",
		zap.String("talk_id", talkID.String()),
		zap.String("student_id", p.UserID.String()),
		zap.Int("seats_left", seats.SeatsLeft),
	)
	return &TalkResult{Enrollment: enr, Talk: talk, Seats: seats}, nil
}

// CancelEventEnrollment withdraws the student from the event and every talk of it.
// Recorded presence in those talks is discarded with the enrollments.
func (s *Service) CancelEventEnrollment(ctx context.Context, p models.Principal, eventID uuid.UUID) (*models.EnrollmentCancellation, error) {
	res, err := s.store.DeleteEventEnrollment(ctx, p.UserID, eventID)
	if err != nil {
		return nil, s.classify(ctx, err, "delete event enrollment")
	}
	if res.PresentDiscarded > 0 {
		// TODO: switch to a soft cancel that keeps attendance history once reporting needs it.
		s.logger.Warn("event withdrawal discarded recorded attendance",
			zap.String("event_id", eventID.String()),
			zap.String("student_id", p.UserID.String()),
			zap.Int("present_discarded", res.PresentDiscarded),
		)
	}
	return res, nil
}

// CancelTalkEnrollment removes only the talk enrollment.
func (s *Service) CancelTalkEnrollment(ctx context.Context, p models.Principal, talkID uuid.UUID) error {
	if err := s.store.DeleteTalkEnrollment(ctx, p.UserID, talkID); err != nil {
		return s.classify(ctx, err, "delete talk enrollment")
	}
	return nil
}

// ListMine returns the principal's event and talk enrollments.
func (s *Service) ListMine(ctx context.Context, p models.Principal) (*models.StudentEnrollments, error) {
	list, err := s.store.ListStudentEnrollments(ctx, p.UserID)
	if err != nil {
		return nil, s.classify(ctx, err, "list enrollments")
	}
	return list, nil
}

// classify turns timeouts into retryable conflicts and passes business errors through.
func (s *Service) classify(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		s.logger.Warn("enrollment timed out", zap.String("op", op), zap.Error(err))
		return apperr.Wrap(apperr.KindConflict, "enrollment timed out, please retry", err)
	}
	switch apperr.KindOf(err) {
	case apperr.KindInternal:
		s.logger.Error("enrollment store failure", zap.String("op", op), zap.Error(err))
	case apperr.KindConflict:
		s.logger.Warn("enrollment lost a concurrent race", zap.String("op", op), zap.Error(err))
	default:
		s.logger.Debug("enrollment rejected", zap.String("op", op), zap.Error(err))
	}
	return err
}
