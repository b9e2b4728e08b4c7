package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/models"
)

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	cfg := testConfig(t)
	cfg.Server.MaxSessions = maxSessions
	cfg.Playback.Autoplay = false
	sessions, events := setupJournal(t)
	m := NewManager(ManagerConfig{Config: cfg, Sessions: sessions, Events: events})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func TestManager_CreateGetList(t *testing.T) {
	m := newTestManager(t, 0)
	ctx := context.Background()
	url := writeFixture(t)

	a, err := m.Create(ctx, CreateRequest{ManifestURL: url})
	require.NoError(t, err)
	b, err := m.Create(ctx, CreateRequest{ManifestURL: url})
	require.NoError(t, err)

	got, err := m.Get(a.ID())
	require.NoError(t, err)
	assert.Same(t, a, got)

	_, err = m.Get(models.NewULID())
	assert.ErrorIs(t, err, ErrSessionNotFound)

	list := m.List()
	require.Len(t, list, 2)
	assert.ElementsMatch(t, []models.ULID{a.ID(), b.ID()}, []models.ULID{list[0].ID(), list[1].ID()})
	assert.Less(t, list[0].ID().String(), list[1].ID().String())
	assert.NotNil(t, m.Client())
}

func TestManager_CreateValidates(t *testing.T) {
	m := newTestManager(t, 0)

	_, err := m.Create(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, models.ErrManifestURLRequired)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Create(ctx, CreateRequest{ManifestURL: "https://cdn.example/a.mpd"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_MaxSessions(t *testing.T) {
	m := newTestManager(t, 1)
	ctx := context.Background()
	url := writeFixture(t)

	s, err := m.Create(ctx, CreateRequest{ManifestURL: url})
	require.NoError(t, err)
	assert.False(t, m.Accepting())

	_, err = m.Create(ctx, CreateRequest{ManifestURL: url})
	assert.ErrorIs(t, err, ErrTooManySessions)

	require.NoError(t, m.Stop(ctx, s.ID()))
	assert.Equal(t, models.SessionStateStopped, s.Stats().State)

	// the slot is released once the session finished
	require.Eventually(t, m.Accepting, time.Second, 5*time.Millisecond)
	_, err = m.Create(ctx, CreateRequest{ManifestURL: url})
	assert.NoError(t, err)

	assert.ErrorIs(t, m.Stop(ctx, models.NewULID()), ErrSessionNotFound)
}

func TestManager_AutoplayOverride(t *testing.T) {
	m := newTestManager(t, 0)
	autoplay := true

	s, err := m.Create(context.Background(), CreateRequest{ManifestURL: writeFixture(t), Autoplay: &autoplay})
	require.NoError(t, err)

	waitPlaying(t, s)
	assert.False(t, s.Stats().Paused)
}

func TestManager_Stats(t *testing.T) {
	m := newTestManager(t, 4)
	s, err := m.Create(context.Background(), CreateRequest{ManifestURL: writeFixture(t)})
	require.NoError(t, err)

	st := m.Stats(context.Background())
	assert.Equal(t, 1, st.Active)
	assert.Equal(t, 4, st.MaxSessions)
	assert.Equal(t, int64(1), st.Created)
	assert.True(t, st.Accepting)
	assert.Equal(t, int32(os.Getpid()), st.Process.PID)
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, s.ID().String(), st.Sessions[0].ID)
}

func TestManager_Close(t *testing.T) {
	m := newTestManager(t, 0)
	s, err := m.Create(context.Background(), CreateRequest{ManifestURL: writeFixture(t)})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Close(ctx))

	select {
	case <-s.Done():
	default:
		t.Fatal("session still running after Close")
	}
	assert.False(t, m.Accepting())
	_, err = m.Create(context.Background(), CreateRequest{ManifestURL: writeFixture(t)})
	assert.ErrorIs(t, err, ErrManagerClosed)
}
