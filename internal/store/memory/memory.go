// Package memory is an in-process implementation of every repository contract, used
// by tests and by DATABASE_DRIVER=memory. Enrollment into one event or talk is
// serialized by a per-resource mutex so the count-compare-insert stays atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/internal/models"
)

type pair struct {
	a, b uuid.UUID
}

// Store holds all state in maps guarded by mu.
type Store struct {
	mu sync.RWMutex

	users        map[uuid.UUID]*models.User
	usersByEmail map[string]uuid.UUID

	events map[uuid.UUID]*models.Event
	talks  map[uuid.UUID]*models.Talk

	eventEnrollments map[uuid.UUID]*models.EventEnrollment
	eventEnrByPair   map[pair]uuid.UUID // student, event
	talkEnrollments  map[uuid.UUID]*models.TalkEnrollment
	talkEnrByPair    map[pair]uuid.UUID // student, talk

	certs         map[uuid.UUID]*models.Certificate
	certByCode    map[string]uuid.UUID
	participation map[pair]uuid.UUID // user, event
	speaker       map[pair]uuid.UUID // user, talk

	resourceLocks sync.Map // uuid.UUID -> *sync.Mutex
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:            make(map[uuid.UUID]*models.User),
		usersByEmail:     make(map[string]uuid.UUID),
		events:           make(map[uuid.UUID]*models.Event),
		talks:            make(map[uuid.UUID]*models.Talk),
		eventEnrollments: make(map[uuid.UUID]*models.EventEnrollment),
		eventEnrByPair:   make(map[pair]uuid.UUID),
		talkEnrollments:  make(map[uuid.UUID]*models.TalkEnrollment),
		talkEnrByPair:    make(map[pair]uuid.UUID),
		certs:            make(map[uuid.UUID]*models.Certificate),
		certByCode:       make(map[string]uuid.UUID),
		participation:    make(map[pair]uuid.UUID),
		speaker:          make(map[pair]uuid.UUID),
	}
}

func (s *Store) lockResource(id uuid.UUID) func() {
	v, _ := s.resourceLocks.LoadOrStore(id, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// Users

// CreateUser implements auth.UserStore.
func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.usersByEmail[email]; ok {
		return auth.ErrEmailTaken
	}
	now := time.Now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	s.usersByEmail[email] = u.ID
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByEmail returns a user by email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.usersByEmail[strings.ToLower(email)]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	return s.GetUser(ctx, id)
}

// Events and talks

// CreateEvent stores e.
func (s *Store) CreateEvent(_ context.Context, e *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	s.events[e.ID] = &cp
	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, id uuid.UUID) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return nil, apperr.ErrEventNotFound
	}
	cp := *e
	return &cp, nil
}

// ListEvents returns all events, newest first.
func (s *Store) ListEvents(_ context.Context) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		list = append(list, *e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartsAt.After(list[j].StartsAt) })
	return list, nil
}

// SetEventActive toggles the active flag.
func (s *Store) SetEventActive(_ context.Context, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return apperr.ErrEventNotFound
	}
	e.IsActive = active
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// CreateTalk stores t.
func (s *Store) CreateTalk(_ context.Context, t *models.Talk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[t.EventID]; !ok {
		return apperr.ErrEventNotFound
	}
	now := time.Now().UTC()
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.CreatedAt, t.UpdatedAt = now, now
	cp := *t
	s.talks[t.ID] = &cp
	return nil
}

// GetTalk returns a talk by ID, including its secret.
func (s *Store) GetTalk(_ context.Context, id uuid.UUID) (*models.Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.talks[id]
	if !ok {
		return nil, apperr.ErrTalkNotFound
	}
	return copyTalk(t), nil
}

// ListTalksByEvent returns the talks of an event ordered by start time.
func (s *Store) ListTalksByEvent(_ context.Context, eventID uuid.UUID) ([]models.Talk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.Talk
	for _, t := range s.talks {
		if t.EventID == eventID {
			list = append(list, *copyTalk(t))
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].StartsAt.Before(list[j].StartsAt) })
	return list, nil
}

// UpdateTalkSecret implements credentials.Store.
func (s *Store) UpdateTalkSecret(_ context.Context, talkID uuid.UUID, secret string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return apperr.ErrTalkNotFound
	}
	t.Secret = secret
	at := issuedAt
	t.SecretIssuedAt = &at
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func copyTalk(t *models.Talk) *models.Talk {
	cp := *t
	if t.SecretIssuedAt != nil {
		at := *t.SecretIssuedAt
		cp.SecretIssuedAt = &at
	}
	if t.SpeakerID != nil {
		id := *t.SpeakerID
		cp.SpeakerID = &id
	}
	return &cp
}

// Enrollment

// CreateEventEnrollment implements enrollment.Store.
func (s *Store) CreateEventEnrollment(ctx context.Context, studentID, eventID uuid.UUID) (*models.EventEnrollment, models.CapacitySummary, error) {
	unlock := s.lockResource(eventID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, models.CapacitySummary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[eventID]
	if !ok {
		return nil, models.CapacitySummary{}, apperr.ErrEventNotFound
	}
	if _, dup := s.eventEnrByPair[pair{studentID, eventID}]; dup {
		return nil, models.CapacitySummary{}, apperr.ErrAlreadyEnrolled
	}
	count := 0
	for _, enr := range s.eventEnrollments {
		if enr.EventID == eventID && enr.Status == models.EnrollmentConfirmed {
			count++
		}
	}
	if count >= e.Capacity {
		return nil, models.CapacitySummary{}, apperr.ErrEventFull
	}
	enr := &models.EventEnrollment{
		ID:        uuid.New(),
		StudentID: studentID,
		EventID:   eventID,
		Status:    models.EnrollmentConfirmed,
		CreatedAt: time.Now().UTC(),
	}
	s.eventEnrollments[enr.ID] = enr
	s.eventEnrByPair[pair{studentID, eventID}] = enr.ID
	cp := *enr
	return &cp, models.NewCapacitySummary(e.Capacity, count+1), nil
}

// CreateTalkEnrollment implements enrollment.Store.
func (s *Store) CreateTalkEnrollment(ctx context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, models.CapacitySummary, error) {
	unlock := s.lockResource(talkID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return nil, models.CapacitySummary{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return nil, models.CapacitySummary{}, apperr.ErrTalkNotFound
	}
	if id, ok := s.eventEnrByPair[pair{studentID, t.EventID}]; !ok || s.eventEnrollments[id].Status != models.EnrollmentConfirmed {
		return nil, models.CapacitySummary{}, apperr.ErrEventEnrollmentNeeded
	}
	if _, dup := s.talkEnrByPair[pair{studentID, talkID}]; dup {
		return nil, models.CapacitySummary{}, apperr.ErrAlreadyEnrolled
	}
	count := s.countTalkLocked(talkID)
	if count >= t.Capacity {
		return nil, models.CapacitySummary{}, apperr.ErrTalkFull
	}
	now := time.Now().UTC()
	enr := &models.TalkEnrollment{
		ID:        uuid.New(),
		StudentID: studentID,
		TalkID:    talkID,
		Status:    models.AttendanceNotYet,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.insertTalkEnrollmentLocked(enr)
	return copyEnrollment(enr), models.NewCapacitySummary(t.Capacity, count+1), nil
}

// DeleteEventEnrollment removes the event enrollment and the student's talk
// enrollments in that event.
func (s *Store) DeleteEventEnrollment(_ context.Context, studentID, eventID uuid.UUID) (*models.EnrollmentCancellation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.eventEnrByPair[pair{studentID, eventID}]
	if !ok {
		return nil, apperr.ErrEnrollmentNotFound
	}
	delete(s.eventEnrollments, id)
	delete(s.eventEnrByPair, pair{studentID, eventID})

	res := &models.EnrollmentCancellation{EventID: eventID}
	for tid, t := range s.talks {
		if t.EventID != eventID {
			continue
		}
		eid, ok := s.talkEnrByPair[pair{studentID, tid}]
		if !ok {
			continue
		}
		if s.talkEnrollments[eid].Present {
			res.PresentDiscarded++
		}
		delete(s.talkEnrollments, eid)
		delete(s.talkEnrByPair, pair{studentID, tid})
		res.TalksRemoved++
	}
	return res, nil
}

// DeleteTalkEnrollment removes one talk enrollment.
func (s *Store) DeleteTalkEnrollment(_ context.Context, studentID, talkID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.talkEnrByPair[pair{studentID, talkID}]
	if !ok {
		return apperr.ErrEnrollmentNotFound
	}
	delete(s.talkEnrollments, id)
	delete(s.talkEnrByPair, pair{studentID, talkID})
	return nil
}

// ListStudentEnrollments returns the student's enrollments ordered by creation.
func (s *Store) ListStudentEnrollments(_ context.Context, studentID uuid.UUID) (*models.StudentEnrollments, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &models.StudentEnrollments{Events: []models.EventEnrollment{}, Talks: []models.TalkEnrollment{}}
	for _, e := range s.eventEnrollments {
		if e.StudentID == studentID {
			out.Events = append(out.Events, *e)
		}
	}
	for _, t := range s.talkEnrollments {
		if t.StudentID == studentID {
			out.Talks = append(out.Talks, *copyEnrollment(t))
		}
	}
	sort.Slice(out.Events, func(i, j int) bool { return out.Events[i].CreatedAt.Before(out.Events[j].CreatedAt) })
	sort.Slice(out.Talks, func(i, j int) bool { return out.Talks[i].CreatedAt.Before(out.Talks[j].CreatedAt) })
	return out, nil
}

// CountTalkEnrollments returns the number of enrollments in a talk.
func (s *Store) CountTalkEnrollments(talkID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countTalkLocked(talkID)
}

// CountEventEnrollments returns the number of confirmed enrollments in an event.
func (s *Store) CountEventEnrollments(eventID uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.eventEnrollments {
		if e.EventID == eventID && e.Status == models.EnrollmentConfirmed {
			n++
		}
	}
	return n
}

func (s *Store) countTalkLocked(talkID uuid.UUID) int {
	n := 0
	for _, e := range s.talkEnrollments {
		if e.TalkID == talkID {
			n++
		}
	}
	return n
}

func (s *Store) insertTalkEnrollmentLocked(enr *models.TalkEnrollment) {
	s.talkEnrollments[enr.ID] = enr
	s.talkEnrByPair[pair{enr.StudentID, enr.TalkID}] = enr.ID
}

func copyEnrollment(e *models.TalkEnrollment) *models.TalkEnrollment {
	cp := *e
	if e.PresentAt != nil {
		at := *e.PresentAt
		cp.PresentAt = &at
	}
	if e.VerifiedBy != nil {
		id := *e.VerifiedBy
		cp.VerifiedBy = &id
	}
	return &cp
}

// Attendance

// GetTalkEnrollment returns the student's enrollment in a talk.
func (s *Store) GetTalkEnrollment(_ context.Context, studentID, talkID uuid.UUID) (*models.TalkEnrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.talkEnrByPair[pair{studentID, talkID}]
	if !ok {
		return nil, apperr.ErrEnrollmentNotFound
	}
	return copyEnrollment(s.talkEnrollments[id]), nil
}

// MarkPresent flips present only if it is still false.
func (s *Store) MarkPresent(_ context.Context, enrollmentID uuid.UUID, at time.Time, verifiedBy *uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.talkEnrollments[enrollmentID]
	if !ok || e.Present {
		return false, nil
	}
	e.Present = true
	t := at
	e.PresentAt = &t
	e.Status = models.AttendancePresent
	if verifiedBy != nil {
		v := *verifiedBy
		e.VerifiedBy = &v
	} else {
		e.VerifiedBy = nil
	}
	e.UpdatedAt = time.Now().UTC()
	return true, nil
}

// CreateWalkIn inserts an already-present enrollment.
func (s *Store) CreateWalkIn(_ context.Context, studentID, talkID uuid.UUID, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.talks[talkID]; !ok {
		return nil, apperr.ErrTalkNotFound
	}
	if _, dup := s.talkEnrByPair[pair{studentID, talkID}]; dup {
		return nil, apperr.ErrAlreadyPresent
	}
	now := time.Now().UTC()
	t := at
	v := verifiedBy
	enr := &models.TalkEnrollment{
		ID:         uuid.New(),
		StudentID:  studentID,
		TalkID:     talkID,
		Present:    true,
		PresentAt:  &t,
		Status:     models.AttendanceWalkIn,
		VerifiedBy: &v,
		WalkIn:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.insertTalkEnrollmentLocked(enr)
	return copyEnrollment(enr), nil
}

// SetAttendanceStatus applies a staff override.
func (s *Store) SetAttendanceStatus(_ context.Context, studentID, talkID uuid.UUID, status models.AttendanceStatus, at time.Time, verifiedBy uuid.UUID) (*models.TalkEnrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.talkEnrByPair[pair{studentID, talkID}]
	if !ok {
		return nil, apperr.ErrEnrollmentNotFound
	}
	e := s.talkEnrollments[id]
	e.Status = status
	e.Present = status.Attended()
	if e.Present {
		t := at
		e.PresentAt = &t
	} else {
		e.PresentAt = nil
	}
	v := verifiedBy
	e.VerifiedBy = &v
	e.UpdatedAt = time.Now().UTC()
	return copyEnrollment(e), nil
}

// ListTalkAttendance returns the roster of a talk ordered by student name.
func (s *Store) ListTalkAttendance(_ context.Context, talkID uuid.UUID) ([]models.AttendanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := []models.AttendanceRow{}
	for _, e := range s.talkEnrollments {
		if e.TalkID != talkID {
			continue
		}
		row := models.AttendanceRow{TalkEnrollment: *copyEnrollment(e)}
		if u, ok := s.users[e.StudentID]; ok {
			row.FullName = u.FullName
			row.RegistrationNumber = u.RegistrationNumber
		}
		list = append(list, row)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].FullName < list[j].FullName })
	return list, nil
}

// Certificates

// ListEventPresence returns present talk enrollments of the event.
func (s *Store) ListEventPresence(_ context.Context, eventID uuid.UUID) ([]models.PresenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var list []models.PresenceRecord
	for _, e := range s.talkEnrollments {
		t, ok := s.talks[e.TalkID]
		if !ok || t.EventID != eventID || !e.Present {
			continue
		}
		list = append(list, models.PresenceRecord{StudentID: e.StudentID, TalkID: e.TalkID, CreditHours: t.CreditHours})
	}
	return list, nil
}

// HasParticipationCertificate reports whether the user holds the event certificate.
func (s *Store) HasParticipationCertificate(_ context.Context, userID, eventID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.participation[pair{userID, eventID}]
	return ok, nil
}

// HasSpeakerCertificate reports whether the user holds the talk certificate.
func (s *Store) HasSpeakerCertificate(_ context.Context, userID, talkID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.speaker[pair{userID, talkID}]
	return ok, nil
}

// InsertCertificate enforces the same uniqueness rules as the database schema.
func (s *Store) InsertCertificate(_ context.Context, c *models.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.certByCode[c.Code]; ok {
		return certificates.ErrCodeTaken
	}
	var key pair
	var index map[pair]uuid.UUID
	switch c.Kind {
	case models.CertificateParticipation:
		key, index = pair{c.UserID, c.EventID}, s.participation
	case models.CertificateSpeaker:
		if c.TalkID == nil {
			return apperr.New(apperr.KindInvalidInput, "speaker certificate needs a talk")
		}
		key, index = pair{c.UserID, *c.TalkID}, s.speaker
	default:
		return apperr.New(apperr.KindInvalidInput, "unknown certificate kind")
	}
	if _, ok := index[key]; ok {
		return certificates.ErrCertificateExists
	}
	c.ID = uuid.New()
	cp := *c
	s.certs[c.ID] = &cp
	s.certByCode[c.Code] = c.ID
	index[key] = c.ID
	return nil
}

// GetCertificateVerification returns the public view for code.
func (s *Store) GetCertificateVerification(_ context.Context, code string) (*models.CertificateVerification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.certByCode[code]
	if !ok {
		return nil, apperr.ErrCertificateNotFound
	}
	c := s.certs[id]
	v := &models.CertificateVerification{Kind: c.Kind, TotalHours: c.TotalHours, IssuedAt: c.IssuedAt}
	if u, ok := s.users[c.UserID]; ok {
		v.HolderName = u.FullName
		v.RegistrationNumber = u.RegistrationNumber
	}
	if e, ok := s.events[c.EventID]; ok {
		v.EventTitle = e.Title
	}
	if c.TalkID != nil {
		if t, ok := s.talks[*c.TalkID]; ok {
			v.TalkTitle = t.Title
		}
	}
	return v, nil
}

// Certificates returns every issued certificate.
func (s *Store) Certificates() []models.Certificate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]models.Certificate, 0, len(s.certs))
	for _, c := range s.certs {
		list = append(list, *c)
	}
	return list
}
