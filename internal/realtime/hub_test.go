package realtime

import (
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func projector(talkID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), TalkID: talkID, send: make(chan WSMessage, 4)}
}

type countLog struct {
	mu     sync.Mutex
	counts []int
}

func (l *countLog) record(_ uuid.UUID, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = append(l.counts, n)
}

func TestHub_RoomChangeCounts(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	log := &countLog{}
	hub.SetRoomChangeHandler(log.record)
	talkID := uuid.New()

	a, b := projector(talkID), projector(talkID)
	hub.Register(a)
	hub.Register(b)
	assert.Equal(t, 2, hub.ProjectorCount(talkID))

	hub.Unregister(a)
	hub.Unregister(b)
	assert.Equal(t, 0, hub.ProjectorCount(talkID))
	assert.Equal(t, []int{1, 2, 1, 0}, log.counts)

	_, open := <-a.send
	assert.False(t, open, "send channel is closed on unregister")
}

func TestHub_RoomChangeLastCallbackSeesEmptyRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	talkID := uuid.New()
	log := &countLog{}
	joinSeen := make(chan struct{})
	releaseJoin := make(chan struct{})
	var first sync.Once
	hub.SetRoomChangeHandler(func(id uuid.UUID, n int) {
		first.Do(func() {
			close(joinSeen)
			<-releaseJoin
		})
		log.record(id, n)
	})

	c := projector(talkID)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Register(c)
	}()
	<-joinSeen
	go func() {
		defer wg.Done()
		hub.Unregister(c)
	}()
	require.Eventually(t, func() bool { return hub.ProjectorCount(talkID) == 0 }, time.Second, time.Millisecond)
	close(releaseJoin)
	wg.Wait()

	log.mu.Lock()
	defer log.mu.Unlock()
	require.NotEmpty(t, log.counts)
	assert.Equal(t, 0, log.counts[len(log.counts)-1], "rotator must see the room empty last")
}

func TestHub_LocalBroadcastStaysInRoom(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	talkA, talkB := uuid.New(), uuid.New()
	inA, inB := projector(talkA), projector(talkB)
	hub.Register(inA)
	hub.Register(inB)

	hub.BroadcastToTalkAndPublish(talkA, "credential_rotated", map[string]string{"secret": "x"})

	require.Len(t, inA.send, 1)
	msg := <-inA.send
	assert.Equal(t, "credential_rotated", msg.Event)
	assert.JSONEq(t, `{"secret":"x"}`, string(msg.Data))
	assert.Len(t, inB.send, 0)
}

type fakeBus struct {
	mu          sync.Mutex
	handlers    map[uuid.UUID]func(string, []byte)
	published   int
	failPublish bool
	cancelled   int
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[uuid.UUID]func(string, []byte))}
}

func (b *fakeBus) PublishTalkEvent(talkID uuid.UUID, event string, payload []byte) error {
	b.mu.Lock()
	b.published++
	h := b.handlers[talkID]
	fail := b.failPublish
	b.mu.Unlock()
	if fail {
		return errors.New("redis unavailable")
	}
	if h != nil {
		h(event, payload)
	}
	return nil
}

func (b *fakeBus) SubscribeTalk(talkID uuid.UUID, handler func(string, []byte)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[talkID] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers, talkID)
		b.cancelled++
	}, nil
}

func TestHub_PublishDeliversOnceThroughSubscription(t *testing.T) {
	bus := newFakeBus()
	hub := NewHub(nil, bus, bus)
	talkID := uuid.New()
	c := projector(talkID)
	hub.Register(c)

	hub.BroadcastToTalkAndPublish(talkID, "attendance_marked", map[string]int{"n": 1})
	assert.Equal(t, 1, bus.published)
	require.Len(t, c.send, 1)
	assert.Equal(t, "attendance_marked", (<-c.send).Event)

	hub.Unregister(c)
	assert.Equal(t, 1, bus.cancelled)
}

func TestHub_PublishFailureFallsBackToLocal(t *testing.T) {
	bus := newFakeBus()
	bus.failPublish = true
	hub := NewHub(nil, bus, bus)
	talkID := uuid.New()
	c := projector(talkID)
	hub.Register(c)

	hub.BroadcastToTalkAndPublish(talkID, "credential_rotated", map[string]int{"n": 1})
	assert.Len(t, c.send, 1)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://projector.campus.test"})
	req := httptest.NewRequest("GET", "/ws/projector", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "https://projector.campus.test")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.test")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
