package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/http/handlers"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

func TestCircuitBreakerHandler(t *testing.T) {
	cfg := httpclient.DefaultConfig()
	cfg.CircuitThreshold = 1
	cfg.CircuitTimeout = time.Hour
	client := httpclient.New(cfg)
	client.Breaker().RecordFailure()

	registry := httpclient.NewRegistry()
	registry.Register("segments", client)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewCircuitBreakerHandler(registry).Register(api)

	type breakers struct {
		CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
	}
	serve := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := serve(http.MethodGet, "/api/v1/circuit-breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[breakers](t, rec)
	require.Len(t, got.CircuitBreakers, 1)
	assert.Equal(t, "segments", got.CircuitBreakers[0].Name)
	assert.Equal(t, "open", got.CircuitBreakers[0].State)

	rec = serve(http.MethodPost, "/api/v1/circuit-breakers/segments/reset")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode[breakers](t, rec)
	assert.Equal(t, "closed", got.CircuitBreakers[0].State)

	rec = serve(http.MethodPost, "/api/v1/circuit-breakers/manifests/reset")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
