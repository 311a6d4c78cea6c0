package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/campus-events/backend/internal/apperr"
	"github.com/campus-events/backend/internal/models"
	"github.com/campus-events/backend/pkg/response"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = apperr.New(apperr.KindDuplicateEnrollment, "email already registered")

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email              string `json:"email" binding:"required,email"`
	Password           string `json:"password" binding:"required,min=6,max=72"`
	FullName           string `json:"full_name" binding:"required"`
	RegistrationNumber string `json:"registration_number"`
	Role               string `json:"role"`  // defaults to student
	Shift              string `json:"shift"` // required for students, staff default to both
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string            `json:"token"`
	User  models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	users       UserStore
	jwt         *JWTService
	staffSignup bool
	logger      *zap.Logger
}

// NewHandler creates an auth handler. Admin and organizer accounts can only
// self-register when staffSignup is true.
func NewHandler(users UserStore, jwt *JWTService, staffSignup bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, jwt: jwt, staffSignup: staffSignup, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleStudent
	if req.Role != "" {
		r, ok := models.ParseRole(req.Role)
		if !ok {
			response.BadRequest(c, "invalid role")
			return
		}
		role = r
	}
	if role.IsStaff() && !h.staffSignup {
		response.Forbidden(c, "staff accounts cannot self-register")
		return
	}
	shift := models.ShiftBoth
	if req.Shift == "" && role == models.RoleStudent {
		response.BadRequest(c, "students must declare a shift")
		return
	}
	if req.Shift != "" {
		s, ok := models.ParseShift(req.Shift)
		if !ok {
			response.BadRequest(c, "invalid shift")
			return
		}
		shift = s
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	user := &models.User{
		Email:              req.Email,
		Password:           hash,
		FullName:           req.FullName,
		RegistrationNumber: req.RegistrationNumber,
		Role:               role,
		Shift:              shift,
	}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			response.Conflict(c, ErrEmailTaken.Message)
			return
		}
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.Created(c, TokenResponse{Token: token, User: user.ToPublic()})
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil || !CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}
	response.OK(c, TokenResponse{Token: token, User: user.ToPublic()})
}
