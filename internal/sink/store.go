package sink

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/playcore/internal/inventory"
	"github.com/jmylchreest/playcore/internal/media"
)

// ErrTypeDisabled is returned when a buffer is requested for a media type
// that was disabled after a failure.
var ErrTypeDisabled = errors.New("media type disabled")

// Factory creates the sink backing one media type.
type Factory func(t media.Type) (Sink, error)

// Entry is the writer and inventory pair for one media type. It outlives
// period and track switches.
type Entry struct {
	Type      media.Type
	Sink      Sink
	Writer    *QueuedWriter
	Inventory *inventory.Inventory
}

// Store owns one Entry per media type for a playback session.
type Store struct {
	factory Factory
	logger  *slog.Logger

	mu       sync.Mutex
	entries  map[media.Type]*Entry
	disabled map[media.Type]bool
}

// NewStore creates a store using factory for lazy sink creation.
func NewStore(factory Factory, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		factory:  factory,
		logger:   logger,
		entries:  make(map[media.Type]*Entry),
		disabled: make(map[media.Type]bool),
	}
}

// DefaultFactory returns memory sinks for native types and custom sinks for
// text and image.
func DefaultFactory(cfg MemorySinkConfig) Factory {
	return func(t media.Type) (Sink, error) {
		switch t {
		case media.TypeVideo, media.TypeAudio:
			return NewMemorySink(t, cfg), nil
		case media.TypeText:
			return NewCueSink(), nil
		case media.TypeImage:
			return NewThumbnailSink(), nil
		default:
			return nil, fmt.Errorf("no sink for media type %q", t)
		}
	}
}

// GetOrCreate returns the entry for t, creating its sink on first use.
func (s *Store) GetOrCreate(t media.Type) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled[t] {
		return nil, fmt.Errorf("%w: %s", ErrTypeDisabled, t)
	}
	if e, ok := s.entries[t]; ok {
		return e, nil
	}
	snk, err := s.factory(t)
	if err != nil {
		return nil, fmt.Errorf("creating %s sink: %w", t, err)
	}
	e := &Entry{
		Type:      t,
		Sink:      snk,
		Writer:    NewQueuedWriter(snk, s.logger),
		Inventory: inventory.New(),
	}
	s.entries[t] = e
	s.logger.Debug("created sink", slog.String("media_type", string(t)))
	return e, nil
}

// Get returns the entry for t if it was created.
func (s *Store) Get(t media.Type) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[t]
	return e, ok
}

// Disable disposes the entry of t and refuses to recreate it.
func (s *Store) Disable(t media.Type) {
	s.mu.Lock()
	e := s.entries[t]
	delete(s.entries, t)
	s.disabled[t] = true
	s.mu.Unlock()

	if e != nil {
		e.Writer.Dispose()
		e.Inventory.Reset()
	}
	s.logger.Info("disabled media type", slog.String("media_type", string(t)))
}

// IsDisabled reports whether t was disabled.
func (s *Store) IsDisabled(t media.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[t]
}

// Types returns the media types with a live entry, in canonical order.
func (s *Store) Types() []media.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []media.Type
	for _, t := range media.AllTypes {
		if _, ok := s.entries[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// DisposeAll disposes every entry. The store can be reused afterwards.
func (s *Store) DisposeAll() {
	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[media.Type]*Entry)
	s.mu.Unlock()

	for _, e := range entries {
		e.Writer.Dispose()
		e.Inventory.Reset()
	}
}
