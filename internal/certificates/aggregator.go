package certificates

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
)

// DefaultCodeRetries bounds attempts to find an unused code for one certificate.
const DefaultCodeRetries = 5

var (
	// ErrCodeTaken is returned by stores when the generated code already exists.
	ErrCodeTaken = errors.New("certificate code already taken")
	// ErrCertificateExists is returned by stores when the holder already has the certificate.
	ErrCertificateExists = errors.New("certificate already issued")
	// ErrCodeExhausted means every generated code collided.
	ErrCodeExhausted = errors.New("could not allocate a unique certificate code")
)

// Store is the persistence contract of the aggregator.
type Store interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListTalksByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Talk, error)
	ListEventPresence(ctx context.Context, eventID uuid.UUID) ([]models.PresenceRecord, error)
	HasParticipationCertificate(ctx context.Context, userID, eventID uuid.UUID) (bool, error)
	HasSpeakerCertificate(ctx context.Context, userID, talkID uuid.UUID) (bool, error)
	InsertCertificate(ctx context.Context, c *models.Certificate) error
	GetCertificateVerification(ctx context.Context, code string) (*models.CertificateVerification, error)
}

// ReportSink archives a serialized batch result and returns a download URL.
type ReportSink interface {
	ArchiveReport(ctx context.Context, eventID string, at time.Time, body []byte) (string, error)
}

// ItemFailure is one certificate that could not be issued.
type ItemFailure struct {
	Kind   models.CertificateKind `json:"kind"`
	UserID uuid.UUID              `json:"user_id"`
	TalkID *uuid.UUID             `json:"talk_id,omitempty"`
	Error  string                 `json:"error"`
}

// BatchResult summarizes one aggregation run.
type BatchResult struct {
	EventID             uuid.UUID     `json:"event_id"`
	ParticipationIssued int           `json:"participation_issued"`
	SpeakerIssued       int           `json:"speaker_issued"`
	Skipped             int           `json:"skipped"`
	Failures            []ItemFailure `json:"failures"`
	ReportURL           string        `json:"report_url,omitempty"`
	CompletedAt         time.Time     `json:"completed_at"`
}

// Aggregator turns recorded presence into certificates.
type Aggregator struct {
	store   Store
	reports ReportSink
	newCode CodeFunc
	retries int
	now     func() time.Time
	logger  *zap.Logger
}

// NewAggregator creates an aggregator. reports may be nil.
func NewAggregator(store Store, reports ReportSink, retries int, logger *zap.Logger) *Aggregator {
	if retries <= 0 {
		retries = DefaultCodeRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{store: store, reports: reports, newCode: NewCode, retries: retries, now: time.Now, logger: logger}
}

// SetCodeFunc overrides the code generator.
func (a *Aggregator) SetCodeFunc(fn CodeFunc) { a.newCode = fn }

// SetClock overrides the time source.
func (a *Aggregator) SetClock(now func() time.Time) { a.now = now }

// Issue runs a batch on staff request.
func (a *Aggregator) Issue(ctx context.Context, staff models.Principal, eventID uuid.UUID) (*BatchResult, error) {
	if !staff.Role.IsStaff() {
		return nil, apperr.ErrForbidden
	}
	return a.IssueForEvent(ctx, eventID)
}

// IssueForEvent issues participation certificates to every student with presence and
// speaker certificates for every talk with a speaker. Re-running it issues nothing new.
// Per-item failures are collected in the result.
func (a *Aggregator) IssueForEvent(ctx context.Context, eventID uuid.UUID) (*BatchResult, error) {
	event, err := a.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	presence, err := a.store.ListEventPresence(ctx, eventID)
	if err != nil {
		return nil, err
	}
	talks, err := a.store.ListTalksByEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	res := &BatchResult{EventID: eventID, Failures: []ItemFailure{}}
	year := a.now().Year()

	for _, st := range groupByStudent(presence) {
		issued, err := a.issueParticipation(ctx, event.ID, st, year)
		switch {
		case err != nil:
			res.Failures = append(res.Failures, ItemFailure{Kind: models.CertificateParticipation, UserID: st.studentID, Error: err.Error()})
			a.logger.Warn("participation certificate failed",
				zap.String("event_id", eventID.String()),
				zap.String("student_id", st.studentID.String()),
				zap.Error(err),
			)
		case issued:
			res.ParticipationIssued++
		default:
			res.Skipped++
		}
	}

	for i := range talks {
		t := &talks[i]
		if t.SpeakerID == nil {
			continue
		}
		issued, err := a.issueSpeaker(ctx, event.ID, t, year)
		switch {
		case err != nil:
			talkID := t.ID
			res.Failures = append(res.Failures, ItemFailure{Kind: models.CertificateSpeaker, UserID: *t.SpeakerID, TalkID: &talkID, Error: err.Error()})
			a.logger.Warn("speaker certificate failed",
				zap.String("talk_id", t.ID.String()),
				zap.String("speaker_id", t.SpeakerID.String()),
				zap.Error(err),
			)
		case issued:
			res.SpeakerIssued++
		default:
			res.Skipped++
		}
	}

	res.CompletedAt = a.now().UTC()
	a.archive(ctx, res)
	a.logger.Info("certificate batch completed",
		zap.String("event_id", eventID.String()),
		zap.Int("participation_issued", res.ParticipationIssued),
		zap.Int("speaker_issued", res.SpeakerIssued),
		zap.Int("skipped", res.Skipped),
		zap.Int("failures", len(res.Failures)),
	)
	return res, nil
}

// Verify returns the public view of a certificate.
func (a *Aggregator) Verify(ctx context.Context, code string) (*models.CertificateVerification, error) {
	if !ValidCode(code) {
		return nil, apperr.ErrCertificateNotFound
	}
	return a.store.GetCertificateVerification(ctx, code)
}

type studentHours struct {
	studentID uuid.UUID
	hours     float64
}

// groupByStudent sums credit hours per student, ordered by student ID so runs are
// reproducible.
func groupByStudent(records []models.PresenceRecord) []studentHours {
	totals := make(map[uuid.UUID]float64)
	for _, r := range records {
		totals[r.StudentID] += r.CreditHours
	}
	out := make([]studentHours, 0, len(totals))
	for id, h := range totals {
		out = append(out, studentHours{studentID: id, hours: math.Round(h*100) / 100})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].studentID.String() < out[j].studentID.String() })
	return out
}

func (a *Aggregator) issueParticipation(ctx context.Context, eventID uuid.UUID, st studentHours, year int) (bool, error) {
	exists, err := a.store.HasParticipationCertificate(ctx, st.studentID, eventID)
	if err != nil || exists {
		return false, err
	}
	return a.insert(ctx, &models.Certificate{
		Kind:       models.CertificateParticipation,
		UserID:     st.studentID,
		EventID:    eventID,
		TotalHours: st.hours,
	}, year)
}

func (a *Aggregator) issueSpeaker(ctx context.Context, eventID uuid.UUID, t *models.Talk, year int) (bool, error) {
	exists, err := a.store.HasSpeakerCertificate(ctx, *t.SpeakerID, t.ID)
	if err != nil || exists {
		return false, err
	}
	talkID := t.ID
	return a.insert(ctx, &models.Certificate{
		Kind:       models.CertificateSpeaker,
		UserID:     *t.SpeakerID,
		EventID:    eventID,
		TalkID:     &talkID,
		TotalHours: t.CreditHours,
	}, year)
}

// insert retries on code collisions. A concurrent batch that issued the same
// certificate first makes this a skip.
func (a *Aggregator) insert(ctx context.Context, c *models.Certificate, year int) (bool, error) {
	for attempt := 0; attempt < a.retries; attempt++ {
		code, err := a.newCode(year)
		if err != nil {
			return false, err
		}
		c.Code = code
		c.IssuedAt = a.now().UTC()
		err = a.store.InsertCertificate(ctx, c)
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, ErrCodeTaken):
			a.logger.Debug("certificate code collision", zap.String("code", code), zap.Int("attempt", attempt+1))
			continue
		case errors.Is(err, ErrCertificateExists):
			return false, nil
		default:
			return false, err
		}
	}
	return false, ErrCodeExhausted
}

func (a *Aggregator) archive(ctx context.Context, res *BatchResult) {
	if a.reports == nil {
		return
	}
	body, err := json.Marshal(res)
	if err != nil {
		a.logger.Warn("marshal certificate report failed", zap.Error(err))
		return
	}
	url, err := a.reports.ArchiveReport(ctx, res.EventID.String(), res.CompletedAt, body)
	if err != nil {
		a.logger.Warn("archive certificate report failed", zap.String("event_id", res.EventID.String()), zap.Error(err))
		return
	}
	res.ReportURL = url
}
