package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/glebarez/sqlite"
	"github.com/go-chi/chi/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/http/handlers"
	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/session"
)

const fixtureMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT8S">
  <Period id="p0">
    <AdaptationSet id="video" contentType="video" mimeType="video/x-raw">
      <SegmentTemplate timescale="1" duration="2" startNumber="0" media="v-$Number$.bin"/>
      <Representation id="v1" bandwidth="400000"/>
    </AdaptationSet>
    <AdaptationSet id="a-en" contentType="audio" mimeType="audio/x-raw" lang="en">
      <SegmentTemplate timescale="1" duration="2" startNumber="0" media="a-$Number$.bin"/>
      <Representation id="a1" bandwidth="96000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func writeFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.mpd")
	require.NoError(t, os.WriteFile(path, []byte(fixtureMPD), 0o600))
	for i := 0; i < 4; i++ {
		for _, prefix := range []string{"v", "a"} {
			name := filepath.Join(dir, fmt.Sprintf("%s-%d.bin", prefix, i))
			require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte{byte(i)}, 1024), 0o600))
		}
	}
	return path
}

type testEnv struct {
	db       *gorm.DB
	manager  *session.Manager
	sessions repository.SessionRepository
	events   repository.EventRepository
	router   *chi.Mux
	events2  *handlers.EventHandler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	cfg.Playback.TickInterval = 5 * time.Millisecond
	cfg.Playback.Autoplay = false
	cfg.Server.MaxSessions = 2

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.PlaybackSession{}, &models.SessionEvent{}))

	env := &testEnv{
		db:       db,
		sessions: repository.NewSessionRepository(db),
		events:   repository.NewEventRepository(db),
	}
	env.manager = session.NewManager(session.ManagerConfig{
		Config:   cfg,
		Sessions: env.sessions,
		Events:   env.events,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = env.manager.Close(ctx)
	})

	env.router = chi.NewRouter()
	api := humachi.New(env.router, huma.DefaultConfig("Test API", "1.0.0"))
	handlers.NewSessionHandler(env.manager, env.sessions).Register(api)
	env.events2 = handlers.NewEventHandler(env.manager, env.sessions, env.events)
	env.events2.Register(api)
	env.events2.RegisterSSE(env.router)
	handlers.NewSystemHandler(env.manager).Register(api)
	handlers.NewHealthHandler("1.0.0").WithDB(db).WithManager(env.manager).Register(api)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), rec.Body.String())
	return out
}

// createSession starts a session on the fixture and waits until its
// manifest is loaded.
func (e *testEnv) createSession(t *testing.T) handlers.SessionResponse {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{"manifest_url": writeFixture(t)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[handlers.SessionResponse](t, rec)

	id, err := models.ParseULID(created.ID)
	require.NoError(t, err)
	s, err := e.manager.Get(id)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return s.Stats().State == models.SessionStatePlaying
	}, 5*time.Second, 5*time.Millisecond)
	return created
}
