package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-events/backend/config"
	"github.com/campus-events/backend/internal/auth"
	"github.com/campus-events/backend/internal/store/memory"
)

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error"`
	Code      string          `json:"code"`
	Category  string          `json:"category"`
	Retryable bool            `json:"retryable"`
}

type harness struct {
	t     *testing.T
	srv   *Server
	store *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Server:       config.ServerConfig{CORSAllowedOrigins: "*"},
		Database:     config.DatabaseConfig{Driver: config.DriverMemory},
		JWT:          config.JWTConfig{Secret: "test", ExpireHours: 1, AllowStaffSignup: true},
		Enrollment:   config.EnrollmentConfig{TimeoutSec: 5},
		Attendance:   config.AttendanceConfig{ToleranceMin: 15, CredentialRotation: 60},
		Certificates: config.CertificatesConfig{CodeRetries: 5},
	}
	m := memory.New()
	srv := New(Deps{
		Config: cfg,
		Stores: MemoryStores(m),
		JWT:    auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours),
	})
	t.Cleanup(srv.Rotators.StopAll)
	return &harness{t: t, srv: srv, store: m}
}

func (h *harness) do(method, path, token string, body interface{}) (int, envelope, http.Header) {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.srv.Engine.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env, w.Header()
}

func (h *harness) register(email, role, shift string) (token, id string) {
	h.t.Helper()
	status, env, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": email, "password": "secret123", "full_name": email, "registration_number": "RA-" + email,
		"role": role, "shift": shift,
	})
	require.Equal(h.t, http.StatusCreated, status, env.Error)
	var out struct {
		Token string `json:"token"`
		User  struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	require.NoError(h.t, json.Unmarshal(env.Data, &out))
	return out.Token, out.User.ID
}

func decodeID(t *testing.T, env envelope) string {
	t.Helper()
	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.NotEmpty(t, out.ID)
	return out.ID
}

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.register("admin@campus.test", "admin", "both")
	ana, _ := h.register("ana@campus.test", "student", "morning")
	bia, _ := h.register("bia@campus.test", "student", "morning")

	status, _, _ := h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@campus.test", "password": "secret123"})
	assert.Equal(t, http.StatusOK, status)
	status, _, _ = h.do(http.MethodPost, "/auth/login", "", map[string]string{"email": "ana@campus.test", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _, _ = h.do(http.MethodPost, "/auth/register", "", map[string]string{"email": "ana@campus.test", "password": "secret123", "full_name": "dup", "shift": "morning"})
	assert.Equal(t, http.StatusConflict, status)

	now := time.Now().UTC()
	status, _, _ = h.do(http.MethodPost, "/events", ana, map[string]interface{}{
		"title": "nope", "capacity": 1, "starts_at": now, "ends_at": now.Add(time.Hour),
	})
	assert.Equal(t, http.StatusForbidden, status)

	status, env, _ := h.do(http.MethodPost, "/events", admin, map[string]interface{}{
		"title": "Arch Week", "capacity": 1, "shift": "morning",
		"starts_at": now.Add(-time.Hour), "ends_at": now.Add(48 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	eventID := decodeID(t, env)

	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/talks", admin, map[string]interface{}{
		"title": "Facades", "capacity": 10, "credit_hours": 2,
		"starts_at": now.Add(-30 * time.Minute), "ends_at": now.Add(90 * time.Minute),
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	talkID := decodeID(t, env)

	// Capacity 1: first student in, second rejected, repeat is informational.
	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/enroll", ana, nil)
	require.Equal(t, http.StatusCreated, status, env.Error)
	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/enroll", bia, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "capacity_exceeded", env.Code)
	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/enroll", ana, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "informational", env.Category)

	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/enroll", bia, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "missing_prerequisite_enrollment", env.Code)
	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/enroll", ana, nil)
	require.Equal(t, http.StatusCreated, status, env.Error)

	status, _, _ = h.do(http.MethodGet, "/talks/"+talkID+"/credential", ana, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, env, _ = h.do(http.MethodGet, "/talks/"+talkID+"/credential", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	var cred struct {
		Secret string `json:"secret"`
		QR     string `json:"qr"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cred))
	require.NotEmpty(t, cred.QR)

	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/attendance/scan", ana, map[string]string{"secret": "stale"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_credential", env.Code)
	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/attendance/scan", ana, map[string]string{"qr": cred.QR})
	require.Equal(t, http.StatusOK, status, env.Error)
	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/attendance/scan", ana, map[string]string{"secret": cred.Secret})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_present", env.Code)

	status, env, _ = h.do(http.MethodGet, "/talks/"+talkID+"/attendance", admin, nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"present":true`)

	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/close", admin, nil)
	require.Equal(t, http.StatusAccepted, status, env.Error)

	var code string
	require.Eventually(t, func() bool {
		certs := h.store.Certificates()
		if len(certs) != 1 {
			return false
		}
		code = certs[0].Code
		return certs[0].TotalHours == 2
	}, 2*time.Second, 10*time.Millisecond)

	status, env, _ = h.do(http.MethodGet, "/certificates/verify/"+code, "", nil)
	require.Equal(t, http.StatusOK, status, env.Error)
	assert.Contains(t, string(env.Data), `"holder_name":"ana@campus.test"`)
	status, _, _ = h.do(http.MethodGet, "/certificates/verify/CERT-1999-00000000", "", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env, _ = h.do(http.MethodPost, "/talks/"+talkID+"/enroll", ana, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "inactive", env.Code)
}

func TestScanRejectsQRFromAnotherTalk(t *testing.T) {
	h := newHarness(t)
	admin, _ := h.register("admin@campus.test", "organizer", "both")
	ana, _ := h.register("ana@campus.test", "student", "night")
	now := time.Now().UTC()

	_, env, _ := h.do(http.MethodPost, "/events", admin, map[string]interface{}{
		"title": "Night Lab", "capacity": 5, "starts_at": now.Add(-time.Hour), "ends_at": now.Add(time.Hour),
	})
	eventID := decodeID(t, env)
	talk := func(title string) string {
		_, env, _ := h.do(http.MethodPost, "/events/"+eventID+"/talks", admin, map[string]interface{}{
			"title": title, "capacity": 5, "credit_hours": 1, "starts_at": now.Add(-10 * time.Minute), "ends_at": now.Add(time.Hour),
		})
		return decodeID(t, env)
	}
	first, second := talk("One"), talk("Two")

	_, env, _ = h.do(http.MethodGet, "/talks/"+first+"/credential", admin, nil)
	var cred struct {
		QR string `json:"qr"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &cred))

	status, env, _ := h.do(http.MethodPost, "/talks/"+second+"/attendance/scan", ana, map[string]string{"qr": cred.QR})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "invalid_credential", env.Code)
}

func TestStaffSignupGate(t *testing.T) {
	h := newHarness(t)
	h.srv = New(Deps{
		Config: &config.Config{
			Enrollment:   config.EnrollmentConfig{TimeoutSec: 5},
			Attendance:   config.AttendanceConfig{ToleranceMin: 15, CredentialRotation: 60},
			Certificates: config.CertificatesConfig{CodeRetries: 5},
			JWT:          config.JWTConfig{Secret: "test", ExpireHours: 1},
		},
		Stores: MemoryStores(memory.New()),
		JWT:    auth.NewJWTService("test", 1),
	})
	t.Cleanup(h.srv.Rotators.StopAll)

	status, _, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "boss@campus.test", "password": "secret123", "full_name": "Boss", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, status)
	h.register("speaker@campus.test", "speaker", "both")
}

func TestStudentShiftIsDeclared(t *testing.T) {
	h := newHarness(t)
	status, _, _ := h.do(http.MethodPost, "/auth/register", "", map[string]string{
		"email": "noshift@campus.test", "password": "secret123", "full_name": "No Shift",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	admin, _ := h.register("admin@campus.test", "organizer", "")
	ana, _ := h.register("ana@campus.test", "student", "morning")
	now := time.Now().UTC()
	_, env, _ := h.do(http.MethodPost, "/events", admin, map[string]interface{}{
		"title": "Night Lab", "capacity": 5, "shift": "night", "starts_at": now, "ends_at": now.Add(time.Hour),
	})
	eventID := decodeID(t, env)

	status, env, _ = h.do(http.MethodPost, "/events/"+eventID+"/enroll", ana, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "shift_mismatch", env.Code)
}

type schedulerSpy struct {
	calls int
}

func (s *schedulerSpy) ScheduleCertificateBatch(context.Context, uuid.UUID, uuid.UUID) error {
	s.calls++
	return nil
}

func TestMemoryDriverKeepsBatchesInProcess(t *testing.T) {
	h := newHarness(t)
	spy := &schedulerSpy{}
	h.store = memory.New()
	h.srv = New(Deps{
		Config: &config.Config{
			Database:     config.DatabaseConfig{Driver: config.DriverMemory},
			JWT:          config.JWTConfig{Secret: "test", ExpireHours: 1, AllowStaffSignup: true},
			Enrollment:   config.EnrollmentConfig{TimeoutSec: 5},
			Attendance:   config.AttendanceConfig{ToleranceMin: 15, CredentialRotation: 60},
			Certificates: config.CertificatesConfig{CodeRetries: 5},
		},
		Stores:    MemoryStores(h.store),
		JWT:       auth.NewJWTService("test", 1),
		Scheduler: spy,
	})
	t.Cleanup(h.srv.Rotators.StopAll)

	admin, _ := h.register("admin@campus.test", "organizer", "")
	now := time.Now().UTC()
	_, env, _ := h.do(http.MethodPost, "/events", admin, map[string]interface{}{
		"title": "Arch Week", "capacity": 5, "starts_at": now.Add(-time.Hour), "ends_at": now.Add(time.Hour),
	})
	eventID := decodeID(t, env)

	status, _, _ := h.do(http.MethodPost, "/events/"+eventID+"/close", admin, nil)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Zero(t, spy.calls, "queue is bypassed for the memory store")
}

func TestUnauthenticatedRoutes(t *testing.T) {
	h := newHarness(t)
	status, _, _ := h.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)
	status, _, _ = h.do(http.MethodGet, "/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
