package enrollment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/pkg/response"
)

// Handler exposes enrollment over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an enrollment handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// EnrollEvent handles POST /events/:id/enroll.
func (h *Handler) EnrollEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	res, err := h.svc.EnrollInEvent(c.Request.Context(), middleware.PrincipalFrom(c), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// CancelEvent handles DELETE /events/:id/enroll.
func (h *Handler) CancelEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	res, err := h.svc.CancelEventEnrollment(c.Request.Context(), middleware.PrincipalFrom(c), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// EnrollTalk handles POST /talks/:id/enroll.
func (h *Handler) EnrollTalk(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	res, err := h.svc.EnrollInTalk(c.Request.Context(), middleware.PrincipalFrom(c), talkID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// CancelTalk handles DELETE /talks/:id/enroll.
func (h *Handler) CancelTalk(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	if err := h.svc.CancelTalkEnrollment(c.Request.Context(), middleware.PrincipalFrom(c), talkID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ListMine handles GET /me/enrollments.
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context(), middleware.PrincipalFrom(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}
