package certificates

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/pkg/response"
)

// Handler exposes certificate issuance and public verification.
type Handler struct {
	agg    *Aggregator
	logger *zap.Logger
}

// NewHandler creates a certificates handler.
func NewHandler(agg *Aggregator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{agg: agg, logger: logger}
}

// Issue handles POST /events/:id/certificates.
func (h *Handler) Issue(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	res, err := h.agg.Issue(c.Request.Context(), middleware.PrincipalFrom(c), eventID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Verify handles GET /certificates/verify/:code. No authentication.
func (h *Handler) Verify(c *gin.Context) {
	v, err := h.agg.Verify(c.Request.Context(), strings.TrimSpace(c.Param("code")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}
