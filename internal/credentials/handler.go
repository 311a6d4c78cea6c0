package credentials

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/pkg/response"
)

// Handler exposes credential endpoints to staff.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates a credentials handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

type payloadResponse struct {
	*Payload
	QR string `json:"qr"`
}

// Regenerate handles POST /talks/:id/credential/regenerate.
func (h *Handler) Regenerate(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	p, err := h.svc.Regenerate(c.Request.Context(), middleware.PrincipalFrom(c), talkID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.render(c, p)
}

// Current handles GET /talks/:id/credential.
func (h *Handler) Current(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	p, err := h.svc.Current(c.Request.Context(), middleware.PrincipalFrom(c), talkID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.render(c, p)
}

func (h *Handler) render(c *gin.Context, p *Payload) {
	qr, err := p.Encode()
	if err != nil {
		h.logger.Error("encode qr payload failed", zap.Error(err))
		response.Internal(c, "failed to encode credential")
		return
	}
	response.OK(c, payloadResponse{Payload: p, QR: qr})
}
