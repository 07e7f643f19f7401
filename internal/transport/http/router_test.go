package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	nethttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fitbook/backend/internal/auth"
	"fitbook/backend/internal/domain"
	"fitbook/backend/internal/service/appointments"
	"fitbook/backend/internal/service/availability"
	"fitbook/backend/internal/store"
	"fitbook/backend/internal/store/memory"
)

var testNow = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	router *gin.Engine
	tokens *auth.Tokens
	repo   *memory.AppointmentStore
}

func newTestEnv(t *testing.T, readiness ...ReadinessCheck) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog := memory.NewCatalog()
	catalog.AddService(domain.Service{ID: 1, Name: "Pilates", DurationMinutes: 60, Price: 300})
	catalog.AddService(domain.Service{ID: 2, Name: "Boxing", DurationMinutes: 45, Price: 250})
	catalog.AddTrainer(domain.Trainer{ID: 10, Name: "T"}, 1)
	catalog.AddTrainer(domain.Trainer{ID: 11, Name: "U"}, 1)

	repo := memory.NewAppointmentStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := func() time.Time { return testNow }

	tokens, err := auth.NewTokens("0123456789abcdef0123456789abcdef", "fitbook", time.Hour)
	require.NoError(t, err)

	router := NewRouter(Deps{
		Appointments: appointments.NewService(repo, catalog, appointments.WithClock(clock), appointments.WithLogger(logger)),
		Availability: availability.NewService(repo, catalog, availability.WithClock(clock)),
		Catalog:      catalog,
		Tokens:       tokens,
		Readiness:    readiness,
		Location:     time.UTC,
		Logger:       logger,
	})
	return &testEnv{router: router, tokens: tokens, repo: repo}
}

func (e *testEnv) token(t *testing.T, id string, roles ...domain.Role) string {
	t.Helper()
	raw, err := e.tokens.Mint(domain.Requester{ID: id, Roles: roles})
	require.NoError(t, err)
	return raw
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func booking(serviceID, trainerID int64, start string) map[string]any {
	return map[string]any{"serviceId": serviceID, "trainerId": trainerID, "start": start}
}

func TestAvailability(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "m1", domain.RoleMember)

	rec := env.do(t, nethttp.MethodPost, "/appointments", memberToken, booking(1, 10, "2026-03-02T10:00:00Z"))
	require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, nethttp.MethodGet, "/availability?date=2026-03-02&startTime=10:30&duration=60&serviceId=1", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	got := decode[[]availableTrainerResponse](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, int64(11), got[0].TrainerID)
	assert.Equal(t, "U", got[0].Name)
	assert.Equal(t, "Pilates", got[0].QualifiedServicesText)
	assert.Equal(t, "02.03.2026 10:30 - 11:30", got[0].AvailabilityWindowText)
}

func TestAvailability_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{name: "bad date", query: "date=02-03-2026&startTime=10:30&duration=60&serviceId=1", status: nethttp.StatusBadRequest, code: "validation_failed"},
		{name: "bad time", query: "date=2026-03-02&startTime=25:99&duration=60&serviceId=1", status: nethttp.StatusBadRequest, code: "validation_failed"},
		{name: "zero duration", query: "date=2026-03-02&startTime=10:30&duration=0&serviceId=1", status: nethttp.StatusBadRequest, code: "validation_failed"},
		{name: "missing duration", query: "date=2026-03-02&startTime=10:30&serviceId=1", status: nethttp.StatusBadRequest, code: "validation_failed"},
		{name: "past start", query: "date=2026-02-01&startTime=10:30&duration=60&serviceId=1", status: nethttp.StatusBadRequest, code: "validation_failed"},
		{name: "unknown service", query: "date=2026-03-02&startTime=10:30&duration=60&serviceId=99", status: nethttp.StatusNotFound, code: "service_not_found"},
		{name: "nobody qualified", query: "date=2026-03-02&startTime=10:30&duration=45&serviceId=2", status: nethttp.StatusNotFound, code: "no_availability"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, nethttp.MethodGet, "/availability?"+tt.query, "", nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorBody](t, rec).Code)
		})
	}
}

func TestAppointmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "m1", domain.RoleMember)
	otherToken := env.token(t, "m2", domain.RoleMember)
	adminToken := env.token(t, "a1", domain.RoleAdmin)

	rec := env.do(t, nethttp.MethodPost, "/appointments", "", booking(1, 10, "2026-03-02T10:00:00Z"))
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)

	rec = env.do(t, nethttp.MethodPost, "/appointments", memberToken, booking(1, 10, "2026-03-02T10:00:00Z"))
	require.Equal(t, nethttp.StatusCreated, rec.Code, rec.Body.String())
	created := decode[resultResponse](t, rec)
	assert.Equal(t, "pending", created.Appointment.Status)
	assert.Equal(t, string(appointments.NoticeCreated), created.Notice)
	id := created.Appointment.ID

	rec = env.do(t, nethttp.MethodPost, "/appointments", otherToken, booking(1, 10, "2026-03-02T10:30:00Z"))
	assert.Equal(t, nethttp.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decode[ErrorBody](t, rec).Code)

	rec = env.do(t, nethttp.MethodPost, "/appointments", otherToken, booking(2, 10, "2026-03-02T12:00:00Z"))
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "trainerId", decode[ErrorBody](t, rec).Field)

	rec = env.do(t, nethttp.MethodPost, "/admin/appointments/"+id+"/confirm", memberToken, nil)
	assert.Equal(t, nethttp.StatusForbidden, rec.Code)

	rec = env.do(t, nethttp.MethodPost, "/admin/appointments/"+id+"/confirm", adminToken, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[resultResponse](t, rec).Appointment.Status)

	rec = env.do(t, nethttp.MethodPut, "/appointments/"+id, memberToken, booking(1, 10, "2026-03-02T14:00:00Z"))
	require.Equal(t, nethttp.StatusOK, rec.Code, rec.Body.String())
	edited := decode[resultResponse](t, rec)
	assert.Equal(t, "pending", edited.Appointment.Status)
	assert.Equal(t, string(appointments.NoticeRequiresApproval), edited.Notice)

	rec = env.do(t, nethttp.MethodGet, "/appointments/"+id, otherToken, nil)
	assert.Equal(t, nethttp.StatusNotFound, rec.Code)

	rec = env.do(t, nethttp.MethodGet, "/appointments", memberToken, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse](t, rec).Total)

	rec = env.do(t, nethttp.MethodGet, "/admin/appointments?trainerId=10&status=pending", adminToken, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listResponse](t, rec).Total)

	rec = env.do(t, nethttp.MethodGet, "/admin/appointments?status=done", adminToken, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)

	rec = env.do(t, nethttp.MethodDelete, "/appointments/"+id, memberToken, nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[resultResponse](t, rec).Appointment.Status)

	rec = env.do(t, nethttp.MethodDelete, "/admin/appointments/"+id, adminToken, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code, "cancelling twice is a validation error")
}

func TestCreateAppointment_IdempotencyKeyHeader(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "m1", domain.RoleMember)

	send := func() *httptest.ResponseRecorder {
		raw, err := json.Marshal(booking(1, 10, "2026-03-02T10:00:00Z"))
		require.NoError(t, err)
		req := httptest.NewRequest(nethttp.MethodPost, "/appointments", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+memberToken)
		req.Header.Set("Idempotency-Key", "retry-1")
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, nethttp.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, nethttp.StatusCreated, second.Code, second.Body.String())
	assert.Equal(t, decode[resultResponse](t, first).Appointment.ID, decode[resultResponse](t, second).Appointment.ID)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	memberToken := env.token(t, "m1", domain.RoleMember)

	rec := env.do(t, nethttp.MethodPost, "/appointments", memberToken, map[string]any{"trainerId": 10, "start": "2026-03-02T10:00:00Z"})
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "serviceId", decode[ErrorBody](t, rec).Field)

	rec = env.do(t, nethttp.MethodGet, "/appointments/not-a-uuid", memberToken, nil)
	assert.Equal(t, nethttp.StatusBadRequest, rec.Code)
	assert.Equal(t, "id", decode[ErrorBody](t, rec).Field)

	rec = env.do(t, nethttp.MethodGet, "/appointments", "garbage", nil)
	assert.Equal(t, nethttp.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode[ErrorBody](t, rec).Code)
}

func TestCatalogRoutes(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, nethttp.MethodGet, "/trainers", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	trainers := decode[[]trainerResponse](t, rec)
	require.Len(t, trainers, 2)
	assert.Equal(t, []string{"Pilates"}, trainers[0].Services)

	rec = env.do(t, nethttp.MethodGet, "/services", "", nil)
	require.Equal(t, nethttp.StatusOK, rec.Code)
	services := decode[[]serviceResponse](t, rec)
	require.Len(t, services, 2)
	assert.Equal(t, "Boxing", services[0].Name)
}

func TestHealthProbes(t *testing.T) {
	env := newTestEnv(t,
		ReadinessCheck{Name: "database", Check: func(context.Context) error { return nil }},
		ReadinessCheck{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := env.do(t, nethttp.MethodGet, "/healthz", "", nil)
	assert.Equal(t, nethttp.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	rec = env.do(t, nethttp.MethodGet, "/readyz", "", nil)
	assert.Equal(t, nethttp.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "redis")
}

func TestWriteError_Internal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(nethttp.MethodGet, "/", nil)

	writeError(c, slog.New(slog.NewTextHandler(io.Discard, nil)), &appointments.PersistenceError{Op: "x", Err: store.ErrTransient})
	assert.Equal(t, nethttp.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode[ErrorBody](t, rec).Code)
}

func TestWriteError_AppointmentChanged(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	writeError(c, slog.New(slog.NewTextHandler(io.Discard, nil)), appointments.ErrAppointmentChanged)

	assert.Equal(t, nethttp.StatusConflict, rec.Code)
	assert.Equal(t, "appointment_changed", decode[ErrorBody](t, rec).Code)
}
