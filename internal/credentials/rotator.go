package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventCredentialRotated is broadcast to projectors after every rotation.
const EventCredentialRotated = "credential_rotated"

// Broadcaster pushes an event to every projector of a talk, on all instances.
type Broadcaster interface {
	BroadcastToTalkAndPublish(talkID uuid.UUID, event string, payload interface{})
}

// Rotator drives automatic rotation for one talk while its projector is open.
type Rotator struct {
	talkID   uuid.UUID
	svc      *Service
	hub      Broadcaster
	logger   *zap.Logger
	interval time.Duration
	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewRotator creates a rotator ticking every interval.
func NewRotator(talkID uuid.UUID, svc *Service, hub Broadcaster, interval time.Duration, logger *zap.Logger) *Rotator {
	if interval <= 0 {
		interval = DefaultRotation
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rotator{
		talkID:   talkID,
		svc:      svc,
		hub:      hub,
		logger:   logger,
		interval: interval,
	}
}

// Start begins the rotation loop. Starting a running rotator does nothing.
func (r *Rotator) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(ctx, r.done)
	r.logger.Info("credential rotator started", zap.String("talk_id", r.talkID.String()), zap.Duration("interval", r.interval))
}

// Stop ends the loop and waits for it to exit.
func (r *Rotator) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	<-r.done
	r.logger.Info("credential rotator stopped", zap.String("talk_id", r.talkID.String()))
}

func (r *Rotator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.tick(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, false)
		}
	}
}

// tick rotates when due. The first tick always broadcasts so a freshly opened
// projector shows the live code.
func (r *Rotator) tick(ctx context.Context, announce bool) {
	payload, rotated, err := r.svc.Rotate(ctx, r.talkID)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Warn("credential rotation failed", zap.Error(err), zap.String("talk_id", r.talkID.String()))
		}
		return
	}
	if payload == nil || (!rotated && !announce) {
		return
	}
	if r.hub != nil {
		r.hub.BroadcastToTalkAndPublish(r.talkID, EventCredentialRotated, payload)
	}
}

// RotatorRegistry holds one running rotator per talk.
type RotatorRegistry struct {
	mu       sync.Mutex
	rotators map[uuid.UUID]*Rotator
	svc      *Service
	hub      Broadcaster
	logger   *zap.Logger
}

// NewRotatorRegistry creates an empty registry.
func NewRotatorRegistry(svc *Service, hub Broadcaster, logger *zap.Logger) *RotatorRegistry {
	return &RotatorRegistry{rotators: make(map[uuid.UUID]*Rotator), svc: svc, hub: hub, logger: logger}
}

// Start starts the rotator for talkID if not already running.
func (reg *RotatorRegistry) Start(talkID uuid.UUID) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if reg.rotators[talkID] != nil {
		return
	}
	interval := reg.svc.Period(context.Background(), talkID)
	rotator := NewRotator(talkID, reg.svc, reg.hub, interval, reg.logger)
	reg.rotators[talkID] = rotator
	rotator.Start()
}

// Stop stops the rotator for talkID and removes it.
func (reg *RotatorRegistry) Stop(talkID uuid.UUID) {
	reg.mu.Lock()
	rotator := reg.rotators[talkID]
	delete(reg.rotators, talkID)
	reg.mu.Unlock()
	if rotator != nil {
		rotator.Stop()
	}
}

// Running reports whether talkID has an active rotator.
func (reg *RotatorRegistry) Running(talkID uuid.UUID) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.rotators[talkID] != nil
}

// StopAll stops every rotator, used on shutdown.
func (reg *RotatorRegistry) StopAll() {
	reg.mu.Lock()
	list := make([]*Rotator, 0, len(reg.rotators))
	for id, r := range reg.rotators {
		list = append(list, r)
		delete(reg.rotators, id)
	}
	reg.mu.Unlock()
	for _, r := range list {
		r.Stop()
	}
}

// OnProjectorCount matches the hub room callback: start on the first projector and
// stop when the last one leaves.
func (reg *RotatorRegistry) OnProjectorCount(talkID uuid.UUID, count int) {
	if count > 0 {
		reg.Start(talkID)
		return
	}
	reg.Stop(talkID)
}
