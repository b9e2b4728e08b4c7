package handlers_test

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/http/handlers"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestHealthHandler_GetHealth(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handlers.HealthResponse](t, rec)

	assert.Equal(t, "healthy", got.Status)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Equal(t, "ok", got.Components.Database.Status)
	assert.Equal(t, "not_configured", got.Components.Scheduler.Status)
	assert.Equal(t, "accepting", got.Components.Sessions.Status)
	assert.Equal(t, 1, got.Components.Sessions.Active)
	assert.Equal(t, 2, got.Components.Sessions.MaxSessions)
	assert.Equal(t, map[string]string{"database": "ok", "sessions": "accepting"}, got.Checks)
}

func TestHealthHandler_LivezReadyz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[handlers.StatusCheckResponse](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decode[handlers.StatusCheckResponse](t, rec).Status)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.manager.Close(ctx))

	rec = env.do(t, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	got := decode[handlers.StatusCheckResponse](t, rec)
	assert.Equal(t, "not_ready", got.Status)
	assert.Equal(t, "closed", got.Components["sessions"])

	// Liveness does not depend on the manager.
	rec = env.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_Unconfigured(t *testing.T) {
	h := handlers.NewHealthHandler("dev")

	out, err := h.GetReadyz(context.Background(), &handlers.ReadyzInput{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
	assert.Equal(t, "not_configured", out.Body.Components["database"])

	health, err := h.GetHealth(context.Background(), &handlers.HealthInput{})
	require.NoError(t, err)
	assert.Equal(t, "degraded", health.Body.Status)
	assert.Equal(t, "closed", health.Body.Components.Sessions.Status)
	assert.Empty(t, health.Body.Components.CircuitBreakers)
}

func TestSystemHandler_GetStats(t *testing.T) {
	env := newTestEnv(t)
	created := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/v1/system/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[handlers.SystemStatsResponse](t, rec)
	assert.Empty(t, got.Sessions.Sessions)

	rec = env.do(t, http.MethodGet, "/api/v1/system/stats?include_sessions=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[handlers.SystemStatsResponse](t, rec)
	require.Len(t, got.Sessions.Sessions, 1)
	assert.Equal(t, created.ID, got.Sessions.Sessions[0].ID)
}
