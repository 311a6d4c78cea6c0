package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtSvc *auth.JWTService, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(jwtSvc)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		p := PrincipalFrom(c)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "role": p.Role, "shift": p.Shift})
	})
	r.GET("/me", handlers...)
	return r
}

func tokenFor(t *testing.T, svc *auth.JWTService, role models.Role) (string, uuid.UUID) {
	t.Helper()
	u := &models.User{ID: uuid.New(), Email: "x@campus.test", Role: role, Shift: models.ShiftMorning}
	token, err := svc.Generate(u)
	require.NoError(t, err)
	return token, u.ID
}

func TestJWT(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc)
	token, id := tokenFor(t, svc, models.RoleStudent)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Contains(t, w.Body.String(), id.String())
				assert.Contains(t, w.Body.String(), `"shift":"morning"`)
			}
		})
	}
}

func TestRequireStaff(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, RequireStaff())

	for role, want := range map[models.Role]int{
		models.RoleAdmin:     http.StatusOK,
		models.RoleOrganizer: http.StatusOK,
		models.RoleSpeaker:   http.StatusForbidden,
		models.RoleStudent:   http.StatusForbidden,
	} {
		token, _ := tokenFor(t, svc, role)
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, string(role))
	}
}

func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"https://app.campus.test"}))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://app.campus.test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "https://app.campus.test", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "Retry-After")
}
