package sink

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/playcore/internal/media"
)

// MemorySinkConfig configures a MemorySink.
type MemorySinkConfig struct {
	// Latency delays every completion to emulate decoder work.
	Latency time.Duration

	// Capacity is the maximum buffered duration in seconds. Appends beyond it
	// evict the earliest content, the way browsers garbage-collect source
	// buffers. Zero disables eviction.
	Capacity float64

	// MaxBytes rejects appends once the stored payload would exceed it with
	// ErrQuotaExceeded. Zero disables the check.
	MaxBytes int64
}

// MemorySink is a native sink simulating a decoder buffer: it keeps the
// presentation ranges of appended media and the byte volume they occupy.
type MemorySink struct {
	typ media.Type
	cfg MemorySinkConfig

	mu         sync.Mutex
	buffered   media.TimeRanges
	updating   bool
	generation uint64
	initToken  media.InitToken
	bytes      int64
	evicted    float64
}

// NewMemorySink creates a sink for a native media type.
func NewMemorySink(t media.Type, cfg MemorySinkConfig) *MemorySink {
	return &MemorySink{typ: t, cfg: cfg}
}

// Type implements Sink.
func (s *MemorySink) Type() media.Type {
	return s.typ
}

// Append implements Sink.
func (s *MemorySink) Append(chunk Chunk, done func(error)) {
	gen, ok := s.begin()
	if !ok {
		done(ErrSinkBusy)
		return
	}
	s.finish(gen, done, func() error { return s.applyAppend(chunk) })
}

// Remove implements Sink.
func (s *MemorySink) Remove(start, end float64, done func(error)) {
	gen, ok := s.begin()
	if !ok {
		done(ErrSinkBusy)
		return
	}
	s.finish(gen, done, func() error {
		s.buffered = s.buffered.Remove(start, end)
		return nil
	})
}

// Buffered implements Sink.
func (s *MemorySink) Buffered() media.TimeRanges {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffered.Clone()
}

// Updating implements Sink.
func (s *MemorySink) Updating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updating
}

// Abort implements Sink. An operation in progress completes with
// ErrAborted and has no effect.
func (s *MemorySink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.updating = false
	s.initToken = media.InitToken{}
}

// Evict drops every buffered range outside keep, emulating a garbage
// collection pass by the platform.
func (s *MemorySink) Evict(keep media.TimeRanges) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.buffered.Duration()
	s.buffered = s.buffered.Intersect(keep)
	s.evicted += before - s.buffered.Duration()
}

// Bytes returns the volume of appended payload still accounted for.
func (s *MemorySink) Bytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// EvictedSeconds returns how much content was garbage-collected.
func (s *MemorySink) EvictedSeconds() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evicted
}

func (s *MemorySink) begin() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updating {
		return 0, false
	}
	s.updating = true
	return s.generation, true
}

func (s *MemorySink) finish(gen uint64, done func(error), apply func() error) {
	run := func() {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			done(ErrAborted)
			return
		}
		err := apply()
		s.updating = false
		s.mu.Unlock()
		done(err)
	}
	if s.cfg.Latency <= 0 {
		go run()
		return
	}
	time.AfterFunc(s.cfg.Latency, run)
}

var errInvalidRange = errors.New("media end before start")

// applyAppend runs with s.mu held.
func (s *MemorySink) applyAppend(chunk Chunk) error {
	size := int64(len(chunk.Init) + len(chunk.Data))
	if s.cfg.MaxBytes > 0 && s.bytes+size > s.cfg.MaxBytes {
		return ErrQuotaExceeded
	}
	if chunk.Init != nil {
		s.initToken = chunk.InitToken
	}
	if !chunk.HasMedia() {
		s.bytes += size
		return nil
	}
	if s.initToken.IsZero() && !chunk.InitToken.IsZero() {
		// media for an init segment the sink never received
		s.initToken = chunk.InitToken
	}
	if chunk.End < chunk.Start {
		return errInvalidRange
	}

	start, end := chunk.Start, chunk.End
	if w := chunk.AppendWindow; w.End > w.Start {
		start = math.Max(start, w.Start)
		end = math.Min(end, w.End)
	}
	s.bytes += size
	if end > start {
		s.buffered = s.buffered.Add(start, end)
	}
	s.collect(start)
	return nil
}

// collect evicts the earliest content while above capacity, never touching
// the range that was just appended.
func (s *MemorySink) collect(appendedAt float64) {
	if s.cfg.Capacity <= 0 {
		return
	}
	for s.buffered.Duration() > s.cfg.Capacity && len(s.buffered) > 0 {
		first := s.buffered[0]
		if first.Contains(appendedAt) || first.Start >= appendedAt {
			return
		}
		excess := s.buffered.Duration() - s.cfg.Capacity
		cut := math.Min(first.End, first.Start+excess)
		if first.End > appendedAt {
			cut = math.Min(cut, appendedAt)
		}
		s.buffered = s.buffered.Remove(first.Start, cut)
		s.evicted += cut - first.Start
	}
}
