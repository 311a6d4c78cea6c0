package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// RoomChangeHandler is called with the projector count of a talk after every join
// and leave, including the final leave with count 0.
type RoomChangeHandler func(talkID uuid.UUID, count int)

// Hub maintains talk_id -> set of projector connections. With Redis configured,
// broadcasts go through pub/sub so every instance delivers them exactly once.
type Hub struct {
	rooms    map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func()
	mu       sync.RWMutex
	notifyMu sync.Mutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
	onChange RoomChangeHandler
}

// RedisPublisher publishes talk events for other instances.
type RedisPublisher interface {
	PublishTalkEvent(talkID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to talk channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeTalk(talkID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a hub. redisPub and redisSub may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:    make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// SetRoomChangeHandler sets the callback for projector count changes.
func (h *Hub) SetRoomChangeHandler(fn RoomChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// Register adds a client to its talk room. The first client of a room starts the
// Redis subscription.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if h.rooms[c.TalkID] == nil {
		h.rooms[c.TalkID] = make(map[string]*Client)
		if h.redisSub != nil {
			talkID := c.TalkID
			cancel, err := h.redisSub.SubscribeTalk(talkID, func(event string, payload []byte) {
				h.BroadcastToTalk(talkID, event, json.RawMessage(payload))
			})
			if err != nil {
				h.logger.Warn("talk subscription failed", zap.String("talk_id", talkID.String()), zap.Error(err))
			} else {
				h.subs[talkID] = cancel
			}
		}
	}
	h.rooms[c.TalkID][c.ID] = c
	h.mu.Unlock()
	h.notify(c.TalkID)
	h.logger.Debug("projector joined", zap.String("client_id", c.ID), zap.String("talk_id", c.TalkID.String()))
}

// Unregister removes a client. The last client of a room cancels the subscription.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	m, known := h.rooms[c.TalkID]
	if known {
		if _, present := m[c.ID]; present {
			delete(m, c.ID)
			close(c.send)
		}
		if len(m) == 0 {
			delete(h.rooms, c.TalkID)
			if cancel, ok := h.subs[c.TalkID]; ok {
				cancel()
				delete(h.subs, c.TalkID)
			}
		}
	}
	h.mu.Unlock()
	if known {
		h.notify(c.TalkID)
	}
	h.logger.Debug("projector left", zap.String("client_id", c.ID), zap.String("talk_id", c.TalkID.String()))
}

// notify reports the room size to the change handler. Callbacks run one at a time
// and read the size when they run, so the last one always sees the current room.
func (h *Hub) notify(talkID uuid.UUID) {
	h.notifyMu.Lock()
	defer h.notifyMu.Unlock()
	h.mu.RLock()
	onChange := h.onChange
	count := len(h.rooms[talkID])
	h.mu.RUnlock()
	if onChange != nil {
		onChange(talkID, count)
	}
}

// BroadcastToTalk sends a message to the local clients of a talk.
func (h *Hub) BroadcastToTalk(talkID uuid.UUID, event string, payload interface{}) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			h.logger.Warn("marshal broadcast failed", zap.String("event", event), zap.Error(err))
			return
		}
	}
	msg := WSMessage{Event: event, Data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[talkID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// BroadcastToTalkAndPublish delivers an event to every projector of the talk on all
// instances. With Redis it publishes only, since this instance's subscription
// performs the local delivery.
func (h *Hub) BroadcastToTalkAndPublish(talkID uuid.UUID, event string, payload interface{}) {
	if h.redis == nil {
		h.BroadcastToTalk(talkID, event, payload)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := h.redis.PublishTalkEvent(talkID, event, data); err != nil {
		h.logger.Warn("publish talk event failed, delivering locally", zap.String("event", event), zap.Error(err))
		h.BroadcastToTalk(talkID, event, json.RawMessage(data))
	}
}

// ProjectorCount returns the number of local projectors of a talk.
func (h *Hub) ProjectorCount(talkID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[talkID])
}
