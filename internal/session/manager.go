package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/sysstats"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// Manager errors.
var (
	// ErrSessionNotFound is returned when no running session has the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when server.max_sessions is reached.
	ErrTooManySessions = errors.New("maximum number of sessions reached")
	// ErrManagerClosed is returned once the manager is shutting down.
	ErrManagerClosed = errors.New("session manager closed")
)

// ManagerConfig holds the dependencies of a Manager.
type ManagerConfig struct {
	Config   *config.Config
	Client   *httpclient.Client
	Sessions repository.SessionRepository
	Events   repository.EventRepository
	Logger   *slog.Logger
}

// CreateRequest describes a session to start.
type CreateRequest struct {
	ManifestURL string
	StartAt     *float64
	// Autoplay overrides playback.autoplay when set.
	Autoplay *bool
}

// Manager owns the running sessions of the daemon.
type Manager struct {
	cfg      *config.Config
	client   *httpclient.Client
	sessions repository.SessionRepository
	events   repository.EventRepository
	logger   *slog.Logger
	process  *sysstats.ProcessCollector

	// ctx outlives the requests that create sessions.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	active  map[models.ULID]*Session
	closed  bool
	created int64
}

// NewManager creates a session manager.
func NewManager(mc ManagerConfig) *Manager {
	if mc.Logger == nil {
		mc.Logger = slog.Default()
	}
	logger := mc.Logger.With(slog.String("component", "session_manager"))
	client := mc.Client
	if client == nil {
		client = httpclient.New(ClientConfig(mc.Config, logger))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      mc.Config,
		client:   client,
		sessions: mc.Sessions,
		events:   mc.Events,
		logger:   logger,
		process:  sysstats.NewProcessCollector(),
		ctx:      ctx,
		cancel:   cancel,
		active:   make(map[models.ULID]*Session),
	}
}

// Client returns the HTTP client shared by every session.
func (m *Manager) Client() *httpclient.Client { return m.client }

// Create starts a session. The session runs until stopped, independently
// of ctx.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	autoplay := m.cfg.Playback.Autoplay
	if req.Autoplay != nil {
		autoplay = *req.Autoplay
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if limit := m.cfg.Server.MaxSessions; limit > 0 && len(m.active) >= limit {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrTooManySessions, limit)
	}
	s, err := New(Options{
		ManifestURL: req.ManifestURL,
		StartAt:     req.StartAt,
		Autoplay:    autoplay,
		Config:      m.cfg,
		Client:      m.client,
		Sessions:    m.sessions,
		Events:      m.events,
		Logger:      m.logger,
		OnDone:      m.remove,
	})
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.active[s.ID()] = s
	m.created++
	m.mu.Unlock()

	if err := s.Start(m.ctx); err != nil {
		m.remove(s)
		return nil, err
	}
	return s, nil
}

// Get returns a running session.
func (m *Manager) Get(id models.ULID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.active[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns the running sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID().String() < out[j].ID().String() })
	return out
}

// Stop stops a running session and waits for it to finish.
func (m *Manager) Stop(ctx context.Context, id models.ULID) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	// the error of a failed session is reported by its stats, not here
	if err := s.Stop(ctx); err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// Accepting reports whether new sessions can be created.
func (m *Manager) Accepting() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	limit := m.cfg.Server.MaxSessions
	return limit <= 0 || len(m.active) < limit
}

// Close stops every session and waits for them until ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.cancel()
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for %d sessions: %w", len(sessions), ctx.Err())
		}
	}
	m.logger.Info("session manager closed", slog.Int("sessions", len(sessions)))
	return nil
}

// MaxSessions returns the session limit, zero when unlimited.
func (m *Manager) MaxSessions() int { return m.cfg.Server.MaxSessions }

// Closed reports whether Close was called.
func (m *Manager) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, s.ID())
}

// ManagerStats describes the manager and the process hosting it.
type ManagerStats struct {
	Active      int                   `json:"active"`
	MaxSessions int                   `json:"max_sessions"`
	Created     int64                 `json:"created"`
	Accepting   bool                  `json:"accepting"`
	Process     sysstats.ProcessStats `json:"process"`
	Sessions    []Stats               `json:"sessions,omitempty"`
	Collected   time.Time             `json:"collected_at"`
}

// Stats returns the manager counters, the process resource usage and a
// snapshot of every running session.
func (m *Manager) Stats(ctx context.Context) ManagerStats {
	sessions := m.List()
	m.mu.RLock()
	st := ManagerStats{
		Active:      len(m.active),
		MaxSessions: m.cfg.Server.MaxSessions,
		Created:     m.created,
		Collected:   time.Now(),
	}
	m.mu.RUnlock()
	st.Accepting = m.Accepting()

	st.Process = m.process.Collect(ctx)
	for _, s := range sessions {
		st.Sessions = append(st.Sessions, s.Stats())
	}
	return st
}
