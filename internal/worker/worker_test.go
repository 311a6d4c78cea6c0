package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/pkg/queue"
)

type fakeIssuer struct {
	mu    sync.Mutex
	calls []uuid.UUID
	errs  []error
	done  chan uuid.UUID
}

func (f *fakeIssuer) IssueForEvent(_ context.Context, eventID uuid.UUID) (*certificates.BatchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, eventID)
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	f.mu.Unlock()
	if f.done != nil {
		f.done <- eventID
	}
	if err != nil {
		return nil, err
	}
	return &certificates.BatchResult{EventID: eventID}, nil
}

type fakeSource struct {
	mu      sync.Mutex
	jobs    []*queue.Job
	retried []*queue.Job
}

func (s *fakeSource) Dequeue(ctx context.Context) (*queue.Job, error) {
	s.mu.Lock()
	if len(s.jobs) > 0 {
		job := s.jobs[0]
		s.jobs = s.jobs[1:]
		s.mu.Unlock()
		return job, nil
	}
	s.mu.Unlock()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
		return nil, nil
	}
}

func (s *fakeSource) Retry(_ context.Context, job *queue.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job.Attempt++
	s.retried = append(s.retried, job)
	if job.Attempt < queue.MaxRetries {
		s.jobs = append(s.jobs, job)
	}
	return nil
}

func batchJob(t *testing.T, eventID uuid.UUID) *queue.Job {
	t.Helper()
	job, err := queue.NewJob(queue.JobTypeCertificateBatch, queue.CertificateBatchPayload{EventID: eventID, RequestedBy: uuid.New()})
	require.NoError(t, err)
	return job
}

func TestProcess(t *testing.T) {
	eventID := uuid.New()

	t.Run("runs the batch", func(t *testing.T) {
		issuer := &fakeIssuer{}
		p := NewCertificateProcessor(issuer, &fakeSource{}, nil)
		require.NoError(t, p.Process(context.Background(), batchJob(t, eventID)))
		assert.Equal(t, []uuid.UUID{eventID}, issuer.calls)
	})

	t.Run("drops business failures", func(t *testing.T) {
		issuer := &fakeIssuer{errs: []error{apperr.ErrEventNotFound}}
		p := NewCertificateProcessor(issuer, &fakeSource{}, nil)
		assert.NoError(t, p.Process(context.Background(), batchJob(t, eventID)))
	})

	t.Run("surfaces infrastructure failures", func(t *testing.T) {
		issuer := &fakeIssuer{errs: []error{errors.New("connection reset")}}
		p := NewCertificateProcessor(issuer, &fakeSource{}, nil)
		assert.Error(t, p.Process(context.Background(), batchJob(t, eventID)))
	})

	t.Run("surfaces retryable conflicts", func(t *testing.T) {
		issuer := &fakeIssuer{errs: []error{apperr.ErrBusy}}
		p := NewCertificateProcessor(issuer, &fakeSource{}, nil)
		assert.Error(t, p.Process(context.Background(), batchJob(t, eventID)))
	})

	t.Run("rejects unknown job types", func(t *testing.T) {
		job, err := queue.NewJob("send_email", map[string]string{})
		require.NoError(t, err)
		p := NewCertificateProcessor(&fakeIssuer{}, &fakeSource{}, nil)
		assert.Error(t, p.Process(context.Background(), job))
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		job := &queue.Job{ID: "j", Type: queue.JobTypeCertificateBatch, Payload: []byte(`{"event_id":`)}
		p := NewCertificateProcessor(&fakeIssuer{}, &fakeSource{}, nil)
		assert.Error(t, p.Process(context.Background(), job))
	})
}

func TestRun_RetriesFailedJobs(t *testing.T) {
	eventID := uuid.New()
	issuer := &fakeIssuer{errs: []error{errors.New("db down")}, done: make(chan uuid.UUID, 4)}
	src := &fakeSource{jobs: []*queue.Job{batchJob(t, eventID)}}
	p := NewCertificateProcessor(issuer, src, nil)
	p.backoff = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(stopped)
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-issuer.done:
			assert.Equal(t, eventID, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("batch attempt %d did not run", i+1)
		}
	}
	cancel()
	<-stopped

	src.mu.Lock()
	defer src.mu.Unlock()
	require.Len(t, src.retried, 1)
	assert.Equal(t, 1, src.retried[0].Attempt)
}

func TestInlineScheduler(t *testing.T) {
	eventID := uuid.New()
	issuer := &fakeIssuer{done: make(chan uuid.UUID, 1)}
	s := NewInlineScheduler(issuer, nil)

	require.NoError(t, s.ScheduleCertificateBatch(context.Background(), eventID, uuid.New()))
	select {
	case got := <-issuer.done:
		assert.Equal(t, eventID, got)
	case <-time.After(2 * time.Second):
		t.Fatal("inline batch did not run")
	}
}
