package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

const sendBuffer = 64

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one presenter projector connected to a talk.
type Client struct {
	ID     string
	TalkID uuid.UUID
	UserID uuid.UUID
	hub    *Hub
	conn   *websocket.Conn
	send   chan WSMessage
	logger *zap.Logger
}

// Authenticator turns a query-string token into a principal.
type Authenticator func(token string) (models.Principal, error)

// TalkLookup confirms the talk exists before upgrading.
type TalkLookup func(ctx context.Context, talkID uuid.UUID) error

// ServeWs upgrades GET /ws/projector?talk_id=&token= for staff. Browsers cannot set
// headers on WebSocket requests, so the JWT travels in the query string.
func ServeWs(hub *Hub, logger *zap.Logger, authenticate Authenticator, lookup TalkLookup, allowedOrigins []string) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return func(c *gin.Context) {
		talkIDStr := c.Query("talk_id")
		token := c.Query("token")
		if talkIDStr == "" || token == "" {
			response.BadRequest(c, "talk_id and token required")
			return
		}
		talkID, err := uuid.Parse(talkIDStr)
		if err != nil {
			response.BadRequest(c, "invalid talk_id")
			return
		}
		p, err := authenticate(token)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			return
		}
		if !p.Role.IsStaff() {
			response.Forbidden(c, "insufficient permissions")
			return
		}
		if lookup != nil {
			if err := lookup(c.Request.Context(), talkID); err != nil {
				response.NotFound(c, "talk not found")
				return
			}
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		client := &Client{
			ID:     uuid.New().String(),
			TalkID: talkID,
			UserID: p.UserID,
			hub:    hub,
			conn:   conn,
			send:   make(chan WSMessage, sendBuffer),
			logger: logger,
		}
		hub.Register(client)
		go client.writePump()
		client.readPump()
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// readPump only keeps the connection alive; projectors do not send commands.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("projector read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
