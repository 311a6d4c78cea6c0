package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/certificates"
	"github.com/campus-events/backend/pkg/queue"
)

// JobSource is the queue the worker drains.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// BatchIssuer runs one certificate batch.
type BatchIssuer interface {
	IssueForEvent(ctx context.Context, eventID uuid.UUID) (*certificates.BatchResult, error)
}

// CertificateProcessor runs certificate batch jobs enqueued when an event closes.
type CertificateProcessor struct {
	issuer  BatchIssuer
	queue   JobSource
	backoff time.Duration
	logger  *zap.Logger
}

// NewCertificateProcessor creates a certificate batch processor.
func NewCertificateProcessor(issuer BatchIssuer, q JobSource, logger *zap.Logger) *CertificateProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertificateProcessor{issuer: issuer, queue: q, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one job. Business errors such as a deleted event are not retried.
func (p *CertificateProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeCertificateBatch {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.CertificateBatchPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	res, err := p.issuer.IssueForEvent(ctx, payload.EventID)
	if err != nil {
		if k := apperr.KindOf(err); k != apperr.KindInternal && !k.Retryable() {
			p.logger.Warn("certificate batch dropped", zap.String("job_id", job.ID), zap.String("event_id", payload.EventID.String()), zap.Error(err))
			return nil
		}
		return fmt.Errorf("issue certificates: %w", err)
	}
	p.logger.Info("certificate batch job completed",
		zap.String("job_id", job.ID),
		zap.String("event_id", payload.EventID.String()),
		zap.Int("participation_issued", res.ParticipationIssued),
		zap.Int("speaker_issued", res.SpeakerIssued),
		zap.Int("failures", len(res.Failures)),
	)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *CertificateProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("certificate worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *CertificateProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// InlineScheduler runs certificate batches in-process for deployments without Redis.
type InlineScheduler struct {
	issuer BatchIssuer
	logger *zap.Logger
}

// NewInlineScheduler creates an in-process scheduler.
func NewInlineScheduler(issuer BatchIssuer, logger *zap.Logger) *InlineScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineScheduler{issuer: issuer, logger: logger}
}

// ScheduleCertificateBatch runs the batch in a background goroutine.
func (s *InlineScheduler) ScheduleCertificateBatch(_ context.Context, eventID, requestedBy uuid.UUID) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := s.issuer.IssueForEvent(ctx, eventID); err != nil {
			s.logger.Error("inline certificate batch failed", zap.String("event_id", eventID.String()), zap.Error(err))
		}
	}()
	s.logger.Info("scheduled inline certificate batch", zap.String("event_id", eventID.String()), zap.String("requested_by", requestedBy.String()))
	return nil
}
