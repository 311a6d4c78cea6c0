package credentials

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
)

type talkStore struct {
	mu    sync.Mutex
	talks map[uuid.UUID]*models.Talk
	saves int
}

func newTalkStore(talks ...*models.Talk) *talkStore {
	s := &talkStore{talks: make(map[uuid.UUID]*models.Talk)}
	for _, t := range talks {
		s.talks[t.ID] = t
	}
	return s
}

func (s *talkStore) GetTalk(_ context.Context, id uuid.UUID) (*models.Talk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[id]
	if !ok {
		return nil, apperr.ErrTalkNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *talkStore) UpdateTalkSecret(_ context.Context, talkID uuid.UUID, secret string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.talks[talkID]
	if !ok {
		return apperr.ErrTalkNotFound
	}
	t.Secret = secret
	t.SecretIssuedAt = &issuedAt
	s.saves++
	return nil
}

func morningTalk() *models.Talk {
	start := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	return &models.Talk{
		ID:          uuid.New(),
		EventID:     uuid.New(),
		Title:       "Load paths",
		StartsAt:    start,
		EndsAt:      start.Add(2 * time.Hour),
		CreditHours: 2,
		Secret:      "s3cret",
	}
}

var staff = models.Principal{UserID: uuid.New(), Role: models.RoleOrganizer}

func TestCheck_Window(t *testing.T) {
	talk := morningTalk()
	at := func(h, m int) time.Time { return time.Date(2026, 5, 4, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name   string
		now    time.Time
		secret string
		want   error
	}{
		{"too early with valid secret", at(8, 44), "s3cret", apperr.ErrOutsideWindow},
		{"too early with wrong secret", at(8, 44), "nope", apperr.ErrOutsideWindow},
		{"inside tolerance before start", at(8, 46), "s3cret", nil},
		{"lower bound inclusive", at(8, 45), "s3cret", nil},
		{"upper bound inclusive", at(11, 15), "s3cret", nil},
		{"after upper bound", at(11, 16), "s3cret", apperr.ErrOutsideWindow},
		{"wrong secret inside window", at(10, 0), "nope", apperr.ErrInvalidCredential},
		{"empty secret", at(10, 0), "", apperr.ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(talk, tt.secret, tt.now, 15*time.Minute)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCheck_TalkWithoutSecret(t *testing.T) {
	talk := morningTalk()
	talk.Secret = ""
	err := Check(talk, "", talk.StartsAt, DefaultTolerance)
	assert.ErrorIs(t, err, apperr.ErrInvalidCredential)
}

func TestNewSecret(t *testing.T) {
	a, err := NewSecret()
	require.NoError(t, err)
	b, err := NewSecret()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.False(t, strings.ContainsAny(a, "+/="))
}

func TestParsePayload(t *testing.T) {
	talk := morningTalk()
	encoded, err := PayloadFor(talk, DefaultTolerance).Encode()
	require.NoError(t, err)

	p, err := ParsePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, talk.ID, p.TalkID)
	assert.Equal(t, "s3cret", p.Secret)
	assert.True(t, p.ValidFrom.Equal(talk.StartsAt.Add(-DefaultTolerance)))

	for _, raw := range []string{"", "not json", `{"type":"poll"}`, `{"type":"attendance","talk_id":"` + talk.ID.String() + `"}`} {
		_, err := ParsePayload(raw)
		assert.True(t, apperr.IsKind(err, apperr.KindInvalidCredential), "raw=%q", raw)
	}
}

func TestRegenerate_InvalidatesPreviousSecret(t *testing.T) {
	talk := morningTalk()
	store := newTalkStore(talk)
	svc := NewService(store, nil, DefaultTolerance, time.Minute, nil)
	during := talk.StartsAt.Add(30 * time.Minute)

	first, err := svc.Regenerate(context.Background(), staff, talk.ID)
	require.NoError(t, err)
	second, err := svc.Regenerate(context.Background(), staff, talk.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Secret, second.Secret)

	current, err := store.GetTalk(context.Background(), talk.ID)
	require.NoError(t, err)
	assert.ErrorIs(t, Check(current, first.Secret, during, DefaultTolerance), apperr.ErrInvalidCredential)
	assert.NoError(t, Check(current, second.Secret, during, DefaultTolerance))
}

func TestRegenerate_RequiresStaff(t *testing.T) {
	talk := morningTalk()
	svc := NewService(newTalkStore(talk), nil, DefaultTolerance, time.Minute, nil)
	for _, role := range []models.Role{models.RoleStudent, models.RoleSpeaker} {
		_, err := svc.Regenerate(context.Background(), models.Principal{UserID: uuid.New(), Role: role}, talk.ID)
		assert.ErrorIs(t, err, apperr.ErrForbidden)
	}
	_, err := svc.Regenerate(context.Background(), staff, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrTalkNotFound)
}

func TestRegenerate_InFlight(t *testing.T) {
	talk := morningTalk()
	guard := NewLocalGuard()
	svc := NewService(newTalkStore(talk), guard, DefaultTolerance, time.Minute, nil)

	release, ok, err := guard.Acquire(context.Background(), talk.ID, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.Regenerate(context.Background(), staff, talk.ID)
	assert.ErrorIs(t, err, apperr.ErrRegenerationInFlight)
	assert.True(t, apperr.KindOf(err).Retryable())

	payload, rotated, err := svc.Rotate(context.Background(), talk.ID)
	assert.NoError(t, err)
	assert.False(t, rotated)
	assert.Nil(t, payload)

	release()
	_, err = svc.Regenerate(context.Background(), staff, talk.ID)
	assert.NoError(t, err)
}

func TestRotate_SkipsWhileSecretIsFresh(t *testing.T) {
	talk := morningTalk()
	store := newTalkStore(talk)
	svc := NewService(store, nil, DefaultTolerance, time.Minute, nil)
	now := talk.StartsAt
	svc.SetClock(func() time.Time { return now })

	first, rotated, err := svc.Rotate(context.Background(), talk.ID)
	require.NoError(t, err)
	require.True(t, rotated, "a secret without issue time is always rotated")

	now = now.Add(30 * time.Second)
	again, rotated, err := svc.Rotate(context.Background(), talk.ID)
	require.NoError(t, err)
	assert.False(t, rotated)
	assert.Equal(t, first.Secret, again.Secret)

	now = now.Add(31 * time.Second)
	next, rotated, err := svc.Rotate(context.Background(), talk.ID)
	require.NoError(t, err)
	assert.True(t, rotated)
	assert.NotEqual(t, first.Secret, next.Secret)
	assert.Equal(t, 2, store.saves)
}

func TestRotate_UsesTalkPeriod(t *testing.T) {
	talk := morningTalk()
	talk.RotationSeconds = 10
	svc := NewService(newTalkStore(talk), nil, DefaultTolerance, time.Minute, nil)
	assert.Equal(t, 10*time.Second, svc.Period(context.Background(), talk.ID))
	assert.Equal(t, time.Minute, svc.Period(context.Background(), uuid.New()))
}

func TestCurrent_IssuesFirstSecret(t *testing.T) {
	talk := morningTalk()
	talk.Secret = ""
	store := newTalkStore(talk)
	svc := NewService(store, nil, DefaultTolerance, time.Minute, nil)

	p, err := svc.Current(context.Background(), staff, talk.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, p.Secret)
	assert.Equal(t, PayloadType, p.Type)

	again, err := svc.Current(context.Background(), staff, talk.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Secret, again.Secret)
	assert.Equal(t, 1, store.saves)

	_, err = svc.Current(context.Background(), models.Principal{Role: models.RoleStudent}, talk.ID)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestLocalGuard(t *testing.T) {
	g := NewLocalGuard()
	id := uuid.New()

	release, ok, err := g.Acquire(context.Background(), id, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = g.Acquire(context.Background(), id, time.Second)
	assert.False(t, ok)
	_, ok, _ = g.Acquire(context.Background(), uuid.New(), time.Second)
	assert.True(t, ok, "guards are per talk")

	release()
	_, ok, _ = g.Acquire(context.Background(), id, time.Second)
	assert.True(t, ok)
}

type recordingHub struct {
	mu      sync.Mutex
	events  []string
	secrets []string
	ch      chan struct{}
}

func (h *recordingHub) BroadcastToTalkAndPublish(_ uuid.UUID, event string, payload interface{}) {
	h.mu.Lock()
	h.events = append(h.events, event)
	if p, ok := payload.(*Payload); ok {
		h.secrets = append(h.secrets, p.Secret)
	}
	h.mu.Unlock()
	select {
	case h.ch <- struct{}{}:
	default:
	}
}

func (h *recordingHub) lastSecret() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.secrets) == 0 {
		return ""
	}
	return h.secrets[len(h.secrets)-1]
}

func TestRegenerate_PushesNewSecretToProjectors(t *testing.T) {
	talk := morningTalk()
	talk.Secret = ""
	svc := NewService(newTalkStore(talk), nil, DefaultTolerance, time.Hour, nil)
	hub := &recordingHub{ch: make(chan struct{}, 1)}
	svc.SetBroadcaster(hub)
	reg := NewRotatorRegistry(svc, hub, nil)
	t.Cleanup(reg.StopAll)

	reg.OnProjectorCount(talk.ID, 1)
	select {
	case <-hub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("rotator did not announce the first credential")
	}
	shown := hub.lastSecret()
	require.NotEmpty(t, shown)

	fresh, err := svc.Regenerate(context.Background(), staff, talk.ID)
	require.NoError(t, err)
	require.NotEqual(t, shown, fresh.Secret)
	assert.Equal(t, fresh.Secret, hub.lastSecret(), "projector shows the regenerated code")
}

func TestRotatorRegistry_FollowsProjectorCount(t *testing.T) {
	talk := morningTalk()
	talk.Secret = ""
	svc := NewService(newTalkStore(talk), nil, DefaultTolerance, time.Hour, nil)
	hub := &recordingHub{ch: make(chan struct{}, 1)}
	reg := NewRotatorRegistry(svc, hub, nil)

	reg.OnProjectorCount(talk.ID, 1)
	assert.True(t, reg.Running(talk.ID))

	select {
	case <-hub.ch:
	case <-time.After(2 * time.Second):
		t.Fatal("rotator did not announce the first credential")
	}
	hub.mu.Lock()
	assert.Equal(t, []string{EventCredentialRotated}, hub.events)
	hub.mu.Unlock()

	reg.OnProjectorCount(talk.ID, 2)
	assert.True(t, reg.Running(talk.ID))

	reg.OnProjectorCount(talk.ID, 0)
	assert.False(t, reg.Running(talk.ID))

	reg.Start(talk.ID)
	reg.StopAll()
	assert.False(t, reg.Running(talk.ID))
}
