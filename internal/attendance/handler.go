package attendance

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/credentials"
	"github.com/campus-events/backend/internal/middleware"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

// ScanRequest is the body for POST /talks/:id/attendance/scan. Clients may send the
// raw QR text in qr instead of the decoded secret.
type ScanRequest struct {
	Secret string `json:"secret"`
	TalkID string `json:"talk_id"`
	QR     string `json:"qr"`
}

var credentialMismatch = apperr.New(apperr.KindInvalidCredential, "QR code belongs to a different talk")

// WalkInRequest is the body for POST /talks/:id/attendance/walk-in.
type WalkInRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	Secret    string `json:"secret" binding:"required"`
}

// StatusRequest is the body for PUT /talks/:id/attendance/:studentId.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Handler exposes the attendance recorder over HTTP.
type Handler struct {
	svc    *Service
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(svc *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// Scan handles POST /talks/:id/attendance/scan.
func (h *Handler) Scan(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	var req ScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	secret := req.Secret
	if req.QR != "" {
		payload, err := credentials.ParsePayload(req.QR)
		if err != nil {
			response.Error(c, err)
			return
		}
		req.TalkID = payload.TalkID.String()
		secret = payload.Secret
	}
	if secret == "" {
		response.BadRequest(c, "secret is required")
		return
	}
	if req.TalkID != "" && req.TalkID != talkID.String() {
		response.Error(c, credentialMismatch)
		return
	}
	res, err := h.svc.Scan(c.Request.Context(), middleware.PrincipalFrom(c), talkID, secret)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// WalkIn handles POST /talks/:id/attendance/walk-in.
func (h *Handler) WalkIn(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	var req WalkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	studentID, err := uuid.Parse(req.StudentID)
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return
	}
	res, err := h.svc.WalkIn(c.Request.Context(), middleware.PrincipalFrom(c), talkID, studentID, req.Secret)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, res)
}

// SetStatus handles PUT /talks/:id/attendance/:studentId.
func (h *Handler) SetStatus(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	studentID, err := uuid.Parse(c.Param("studentId"))
	if err != nil {
		response.BadRequest(c, "invalid student id")
		return
	}
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status, ok := models.ParseAttendanceStatus(req.Status)
	if !ok {
		response.BadRequest(c, "invalid status")
		return
	}
	res, err := h.svc.SetStatus(c.Request.Context(), middleware.PrincipalFrom(c), talkID, studentID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// List handles GET /talks/:id/attendance.
func (h *Handler) List(c *gin.Context) {
	talkID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid talk id")
		return
	}
	rows, err := h.svc.List(c.Request.Context(), middleware.PrincipalFrom(c), talkID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, rows)
}
