// Package clock simulates the playback clock of a media element.
package clock

import (
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/media"
)

// Ready states, as reported by HTMLMediaElement.readyState.
const (
	HaveNothing = iota
	HaveMetadata
	HaveCurrentData
	HaveFutureData
	HaveEnoughData
)

const (
	// enoughDataAhead is the buffered duration ahead of the position
	// reported as HaveEnoughData.
	enoughDataAhead = 2.0

	// currentDataEpsilon is the smallest amount of data at the position
	// that lets playback move.
	currentDataEpsilon = 1.0 / 60
)

// BufferedFunc returns the content playable at once: the intersection of
// the buffered ranges of every native sink.
type BufferedFunc func() media.TimeRanges

// Simulated advances the position at the playback rate while data is
// buffered at the position, and stalls otherwise.
type Simulated struct {
	mu sync.RWMutex

	buffered BufferedFunc
	now      func() time.Time

	position float64
	rate     float64
	duration float64
	paused   bool
	seeking  bool
	stalled  bool
	ended    bool
	metadata bool
	last     time.Time
}

// Option configures a Simulated clock.
type Option func(*Simulated)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Simulated) { c.now = now }
}

// WithRate sets the playback rate.
func WithRate(rate float64) Option {
	return func(c *Simulated) {
		if rate > 0 {
			c.rate = rate
		}
	}
}

// NewSimulated creates a clock positioned at start. The clock is paused
// until Play is called.
func NewSimulated(start float64, buffered BufferedFunc, opts ...Option) *Simulated {
	c := &Simulated{
		buffered: buffered,
		now:      time.Now,
		position: start,
		rate:     1,
		duration: math.Inf(1),
		paused:   true,
		seeking:  true,
	}
	for _, o := range opts {
		o(c)
	}
	c.last = c.now()
	return c
}

// Play starts the clock.
func (c *Simulated) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	c.paused = false
}

// Pause stops the clock.
func (c *Simulated) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advanceLocked()
	c.paused = true
}

// Seek moves the position. The clock reports seeking until data is
// buffered at the new position.
func (c *Simulated) Seek(position float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = c.now()
	c.position = math.Max(position, 0)
	c.seeking = true
	c.ended = false
}

// SetDuration sets the content duration. Playback ends there.
func (c *Simulated) SetDuration(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d <= 0 {
		d = math.Inf(1)
	}
	c.duration = d
}

// SetMetadata records that init data reached the sinks.
func (c *Simulated) SetMetadata(loaded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata = loaded
}

// Ended reports whether the position reached the duration.
func (c *Simulated) Ended() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ended
}

// Paused reports whether the clock is paused.
func (c *Simulated) Paused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// Duration returns the content duration, +Inf while unknown.
func (c *Simulated) Duration() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duration
}

// Position returns the last computed position.
func (c *Simulated) Position() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.position
}

// Tick advances the clock to now and returns the observation.
func (c *Simulated) Tick() buffer.Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	ahead := c.advanceLocked()
	return buffer.Tick{
		Position:   c.position,
		Stalled:    c.stalled,
		Seeking:    c.seeking,
		ReadyState: c.readyState(ahead),
	}
}

// advanceLocked moves the position by the elapsed time, bounded by the
// buffered data, and returns the data left ahead of the position.
func (c *Simulated) advanceLocked() float64 {
	now := c.now()
	elapsed := now.Sub(c.last).Seconds()
	c.last = now

	ahead := c.dataAhead()
	if c.seeking {
		// time spent seeking does not count as playback
		c.seeking = ahead < currentDataEpsilon
		c.stalled = false
		return ahead
	}
	if c.paused || c.ended {
		c.stalled = false
		return ahead
	}

	step := elapsed * c.rate
	if step > ahead {
		step = ahead
	}
	c.position += step
	ahead -= step

	if c.position >= c.duration-currentDataEpsilon {
		c.position = math.Min(c.position, c.duration)
		c.ended = true
		c.stalled = false
		return ahead
	}
	c.stalled = ahead < currentDataEpsilon
	return ahead
}

func (c *Simulated) dataAhead() float64 {
	if c.buffered == nil {
		return 0
	}
	return c.buffered().BufferedAhead(c.position)
}

func (c *Simulated) readyState(ahead float64) int {
	switch {
	case ahead >= enoughDataAhead || (ahead > 0 && c.position+ahead >= c.duration-currentDataEpsilon):
		return HaveEnoughData
	case ahead >= currentDataEpsilon*2:
		return HaveFutureData
	case ahead > 0:
		return HaveCurrentData
	case c.metadata:
		return HaveMetadata
	}
	return HaveNothing
}
