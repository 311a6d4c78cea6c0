package events

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

// Store is the event and talk persistence used by the handler.
type Store interface {
	CreateEvent(ctx context.Context, e *models.Event) error
	GetEvent(ctx context.Context, id uuid.UUID) (*models.Event, error)
	ListEvents(ctx context.Context) ([]models.Event, error)
	SetEventActive(ctx context.Context, id uuid.UUID, active bool) error
	CreateTalk(ctx context.Context, t *models.Talk) error
	GetTalk(ctx context.Context, id uuid.UUID) (*models.Talk, error)
	ListTalksByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Talk, error)
}

// BatchScheduler queues certificate aggregation for a closed event.
type BatchScheduler interface {
	ScheduleCertificateBatch(ctx context.Context, eventID, requestedBy uuid.UUID) error
}

// CreateEventRequest is the body for POST /events.
type CreateEventRequest struct {
	Title       string    `json:"title" binding:"required"`
	Description string    `json:"description"`
	Capacity    int       `json:"capacity" binding:"required,min=1"`
	Shift       string    `json:"shift"`
	StartsAt    time.Time `json:"starts_at" binding:"required"`
	EndsAt      time.Time `json:"ends_at" binding:"required"`
	Inactive    bool      `json:"inactive"`
}

// CreateTalkRequest is the body for POST /events/:id/talks.
type CreateTalkRequest struct {
	Title           string     `json:"title" binding:"required"`
	Kind            string     `json:"kind"`
	SpeakerID       *uuid.UUID `json:"speaker_id"`
	Capacity        int        `json:"capacity" binding:"required,min=1"`
	StartsAt        time.Time  `json:"starts_at" binding:"required"`
	EndsAt          time.Time  `json:"ends_at" binding:"required"`
	CreditHours     float64    `json:"credit_hours" binding:"min=0"`
	RotationSeconds int        `json:"rotation_seconds"`
}

// EventDetail is an event with its talks.
type EventDetail struct {
	models.Event
	Talks []models.Talk `json:"talks"`
}

// Handler handles event and talk HTTP endpoints.
type Handler struct {
	store     Store
	scheduler BatchScheduler
	rotation  int
	logger    *zap.Logger
}

// NewHandler creates an events handler. rotationSec is the default credential
// rotation period for new talks.
func NewHandler(store Store, scheduler BatchScheduler, rotationSec int, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, scheduler: scheduler, rotation: rotationSec, logger: logger}
}

// Create handles POST /events (staff).
func (h *Handler) Create(c *gin.Context) {
	var req CreateEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	shift := models.ShiftBoth
	if req.Shift != "" {
		s, ok := models.ParseShift(req.Shift)
		if !ok {
			response.BadRequest(c, "invalid shift")
			return
		}
		shift = s
	}
	if !req.EndsAt.After(req.StartsAt) {
		response.BadRequest(c, "ends_at must be after starts_at")
		return
	}
	e := &models.Event{
		Title:       req.Title,
		Description: req.Description,
		Capacity:    req.Capacity,
		IsActive:    !req.Inactive,
		Shift:       shift,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		CreatedBy:   middleware.PrincipalFrom(c).UserID,
	}
	if err := h.store.CreateEvent(c.Request.Context(), e); err != nil {
		h.logger.Error("create event failed", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, e)
}

// List handles GET /events.
func (h *Handler) List(c *gin.Context) {
	list, err := h.store.ListEvents(c.Request.Context())
	if err != nil {
		h.logger.Error("list events failed", zap.Error(err))
		response.Internal(c, "failed to list events")
		return
	}
	if list == nil {
		list = []models.Event{}
	}
	response.OK(c, list)
}

// Get handles GET /events/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.store.GetEvent(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	talks, err := h.store.ListTalksByEvent(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if talks == nil {
		talks = []models.Talk{}
	}
	response.OK(c, EventDetail{Event: *e, Talks: talks})
}

// CreateTalk handles POST /events/:id/talks (staff).
func (h *Handler) CreateTalk(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req CreateTalkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		response.BadRequest(c, "ends_at must be after starts_at")
		return
	}
	kind := models.TalkKindLecture
	switch models.TalkKind(req.Kind) {
	case "", models.TalkKindLecture:
	case models.TalkKindActivity:
		kind = models.TalkKindActivity
	default:
		response.BadRequest(c, "invalid kind")
		return
	}
	if _, err := h.store.GetEvent(c.Request.Context(), eventID); err != nil {
		response.Error(c, err)
		return
	}
	rotation := req.RotationSeconds
	if rotation <= 0 {
		rotation = h.rotation
	}
	t := &models.Talk{
		EventID:         eventID,
		Title:           req.Title,
		Kind:            kind,
		SpeakerID:       req.SpeakerID,
		Capacity:        req.Capacity,
		StartsAt:        req.StartsAt,
		EndsAt:          req.EndsAt,
		CreditHours:     req.CreditHours,
		RotationSeconds: rotation,
	}
	if err := h.store.CreateTalk(c.Request.Context(), t); err != nil {
		h.logger.Error("create talk failed", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to create talk")
		return
	}
	response.Created(c, t)
}

// GetTalk handles GET /talks/:id.
func (h *Handler) GetTalk(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	t, err := h.store.GetTalk(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, t)
}

// Close handles POST /events/:id/close (staff): stop enrollment and queue the
// certificate batch.
func (h *Handler) Close(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if err := h.store.SetEventActive(c.Request.Context(), id, false); err != nil {
		response.Error(c, err)
		return
	}
	p := middleware.PrincipalFrom(c)
	if err := h.scheduler.ScheduleCertificateBatch(c.Request.Context(), id, p.UserID); err != nil {
		h.logger.Error("schedule certificate batch failed", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "event closed but certificate batch could not be queued")
		return
	}
	h.logger.Info("event closed", zap.String("event_id", id.String()), zap.String("by", p.UserID.String()))
	response.Accepted(c, gin.H{"event_id": id, "is_active": false, "certificate_batch": "queued"})
}
