package attendance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/credentials"
	"github.com/campus-events/backend/internal/models"
)

// EventAttendanceMarked is broadcast to the talk's projectors on every new presence.
const EventAttendanceMarked = "attendance_marked"

// Store is the persistence contract of the recorder.
type Store interface {
	GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error)
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, error)
	// MarkPresent flips present from false to true and reports whether this call did it.
	MarkPresent(ctx context.Context, enrollmentID uuid.UUID, at time.Time, verifiedBy *uuid.UUID) (bool, error)
	CreateWalkIn(ctx context.Context, studentID, talkID uuid.UUID, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error)
	SetAttendanceStatus(ctx context.Context, studentID, talkID uuid.UUID, status models.AttendanceStatus, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error)
	ListTalkAttendance(ctx context.Context, talkID uuid.UUID) ([]models.AttendanceRow, error)
}

// Notifier fans attendance events out to projectors.
type Notifier interface {
	BroadcastToTalkAndPublish(talkID uuid.UUID, event string, payload interface{})
}

// Confirmation is returned to the scanning student.
type Confirmation struct {
	TalkID      uuid.UUID `json:"talk_id"`
	TalkTitle   string    `json:"talk_title"`
	CreditHours float64   `json:"credit_hours"`
	PresentAt   time.Time `json:"present_at"`
	WalkIn      bool      `json:"walk_in"`
}

// Service records attendance exactly once per talk enrollment.
type Service struct {
	store     Store
	notifier  Notifier
	tolerance time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates an attendance recorder. notifier may be nil.
func NewService(store Store, notifier Notifier, tolerance time.Duration, logger *zap.Logger) *Service {
	if tolerance < 0 {
		tolerance = credentials.DefaultTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, notifier: notifier, tolerance: tolerance, now: time.Now, logger: logger}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Scan verifies a scanned secret and marks the caller present.
func (s *Service) Scan(ctx context.Context, p models.Principal, talkID uuid.UUID, secret string) (*Confirmation, error) {
	now := s.now()
	talk, err := s.verify(ctx, talkID, secret, now)
	if err != nil {
		return nil, err
	}
	enr, err := s.store.GetTalkEnrollment(ctx, p.UserID, talkID)
	if err != nil {
		if errors.Is(err, apperr.ErrEnrollmentNotFound) {
			return nil, apperr.ErrNotEnrolled
		}
		return nil, s.fail("get talk enrollment", err)
	}
	if enr.Present {
		return nil, apperr.ErrAlreadyPresent
	}
	won, err := s.store.MarkPresent(ctx, enr.ID, now, nil)
	if err != nil {
		return nil, s.fail("mark present", err)
	}
	if !won {
		return nil, apperr.ErrAlreadyPresent
	}
	return s.confirmed(talk, p.UserID, now, false), nil
}

// WalkIn lets staff admit a student at the door. The window and secret checks still
// apply; a missing enrollment is created as a walk-in.
func (s *Service) WalkIn(ctx context.Context, staff models.Principal, talkID, studentID uuid.UUID, secret string) (*Confirmation, error) {
	if !staff.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	now := s.now()
	talk, err := s.verify(ctx, talkID, secret, now)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, studentID); err != nil {
		return nil, err
	}
	enr, err := s.store.GetTalkEnrollment(ctx, studentID, talkID)
	switch {
	case errors.Is(err, apperr.ErrEnrollmentNotFound):
		if _, err := s.store.CreateWalkIn(ctx, studentID, talkID, now, staff.UserID); err != nil {
			return nil, s.fail("create walk-in", err)
		}
		s.logger.Info("walk-in admitted",
			zap.String("talk_id", talkID.String()),
			zap.String("student_id", studentID.String()),
			zap.String("by", staff.UserID.String()),
		)
		return s.confirmed(talk, studentID, now, true), nil
	case err != nil:
		return nil, s.fail("get talk enrollment", err)
	}
	if enr.Present {
		return nil, apperr.ErrAlreadyPresent
	}
	won, err := s.store.MarkPresent(ctx, enr.ID, now, &staff.UserID)
	if err != nil {
		return nil, s.fail("mark present", err)
	}
	if !won {
		return nil, apperr.ErrAlreadyPresent
	}
	return s.confirmed(talk, studentID, now, false), nil
}

// SetStatus is the staff override. It skips window and single-use checks.
func (s *Service) SetStatus(ctx context.Context, staff models.Principal, talkID, studentID uuid.UUID, status models.AttendanceStatus) (*models.TalkEnrollment, error) {
	if !staff.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	if _, ok := models.ParseAttendanceStatus(string(status)); !ok {
		return nil, apperr.New(apperr.KindInvalidInput, "unknown attendance status")
	}
	if _, err := s.store.GetTalk(ctx, talkID); err != nil {
		return nil, err
	}
	now := s.now()
	enr, err := s.store.SetAttendanceStatus(ctx, studentID, talkID, status, now, staff.UserID)
	if errors.Is(err, apperr.ErrEnrollmentNotFound) && status == models.AttendanceWalkIn {
		if _, err := s.store.GetUser(ctx, studentID); err != nil {
			return nil, err
		}
		enr, err = s.store.CreateWalkIn(ctx, studentID, talkID, now, staff.UserID)
	}
	if err != nil {
		return nil, s.fail("set attendance status", err)
	}
	s.logger.Info("attendance overridden",
		zap.String("talk_id", talkID.String()),
		zap.String("student_id", studentID.String()),
		zap.String("status", string(status)),
		zap.String("by", staff.UserID.String()),
	)
	if status.Attended() && s.notifier != nil {
		s.notifier.BroadcastToTalkAndPublish(talkID, EventAttendanceMarked, map[string]interface{}{
			"student_id": studentID, "status": status,
		})
	}
	return enr, nil
}

// List returns the talk roster with presence for staff.
func (s *Service) List(ctx context.Context, staff models.Principal, talkID uuid.UUID) ([]models.AttendanceRow, error) {
	if !staff.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	if _, err := s.store.GetTalk(ctx, talkID); err != nil {
		return nil, err
	}
	rows, err := s.store.ListTalkAttendance(ctx, talkID)
	if err != nil {
		return nil, s.fail("list attendance", err)
	}
	return rows, nil
}

func (s *Service) verify(ctx context.Context, talkID uuid.UUID, secret string, now time.Time) (*models.Talk, error) {
	talk, err := s.store.GetTalk(ctx, talkID)
	if err != nil {
		return nil, err
	}
	if err := credentials.Check(talk, secret, now, s.tolerance); err != nil {
		s.logger.Debug("scan rejected", zap.String("talk_id", talkID.String()), zap.Error(err))
		return nil, err
	}
	return talk, nil
}

func (s *Service) confirmed(talk *models.Talk, studentID uuid.UUID, at time.Time, walkIn bool) *Confirmation {
	if s.notifier != nil {
		s.notifier.BroadcastToTalkAndPublish(talk.ID, EventAttendanceMarked, map[string]interface{}{
			"student_id": studentID, "status": models.AttendancePresent, "walk_in": walkIn,
		})
	}
	return &Confirmation{
		TalkID:      talk.ID,
		TalkTitle:   talk.Title,
		CreditHours: talk.CreditHours,
		PresentAt:   at,
		WalkIn:      walkIn,
	}
}

// fail passes business errors through and logs infrastructure ones.
func (s *Service) fail(op string, err error) error {
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.Error("attendance store failure", zap.String("op", op), zap.Error(err))
	}
	return err
}
