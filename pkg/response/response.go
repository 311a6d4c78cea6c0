package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/campus-events/backend/internal/apperr"
)

// RetryAfterSeconds is advertised on retryable conflicts.
const RetryAfterSeconds = 1

// Body is the standard API response envelope.
type Body struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      string      `json:"code,omitempty"`
	Category  string      `json:"category,omitempty"`
	Retryable bool        `json:"retryable,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// Accepted sends a 202 JSON response with data.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err, Code: string(apperr.KindUnauthorized)})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error renders an engine error with a status, code and category derived from its kind.
// Errors without a kind become a generic 500 so internals are never leaked.
func Error(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	body := Body{
		Success:   false,
		Error:     apperr.Message(err),
		Code:      string(kind),
		Category:  string(kind.Category()),
		Retryable: kind.Retryable(),
	}
	if body.Retryable {
		c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	}
	c.JSON(status, body)
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindUnauthorized:
		return http.StatusForbidden
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindDuplicateEnrollment, apperr.KindAlreadyPresent:
		return http.StatusConflict
	case apperr.KindConflict:
		return http.StatusServiceUnavailable
	case apperr.KindInternal, "":
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}
