// Package sink provides the append-only buffer primitives media is pushed
// into, and the queued writer that serializes operations against them.
package sink

import (
	"context"
	"errors"
	"sync"

	"github.com/jmylchreest/playcore/internal/media"
)

// Sink errors.
var (
	ErrSinkBusy       = errors.New("sink is already processing an operation")
	ErrAppend         = errors.New("sink append failed")
	ErrRemove         = errors.New("sink remove failed")
	ErrAborted        = errors.New("sink operation aborted")
	ErrWriterDisposed = errors.New("queued writer disposed")
	ErrQuotaExceeded  = errors.New("sink quota exceeded")
)

// Chunk is what a sink receives for one append.
type Chunk struct {
	// Init holds initialization data to push before Data, or nil when the
	// sink already holds the init segment identified by InitToken.
	Init      []byte
	InitToken media.InitToken

	// Data is the raw media payload; Payload carries the parsed form for
	// custom sinks (cues, thumbnails).
	Data    []byte
	Payload any

	// Start and End are the presentation bounds of Data.
	Start float64
	End   float64

	TimestampOffset float64
	AppendWindow    media.TimeRange
}

// HasMedia reports whether the chunk carries media in addition to init data.
func (c Chunk) HasMedia() bool {
	return c.Data != nil || c.Payload != nil
}

// Sink is the capability set of a single-writer buffer. Operations complete
// asynchronously by calling done exactly once. Callers must not submit a new
// operation while Updating reports true.
type Sink interface {
	Type() media.Type
	Append(chunk Chunk, done func(error))
	Remove(start, end float64, done func(error))
	Buffered() media.TimeRanges
	Updating() bool
	Abort()
}

// Completion is the deferred result of one queued operation.
type Completion struct {
	done      chan struct{}
	mu        sync.Mutex
	err       error
	resolved  bool
	callbacks []func(error)
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Resolved returns an already completed Completion.
func Resolved(err error) *Completion {
	c := newCompletion()
	c.resolve(err)
	return c
}

// Done is closed once the operation completed.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Err returns the operation error once Done is closed.
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Wait blocks until completion or context cancellation.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnComplete registers fn to run on completion. If the operation already
// completed, fn runs immediately on the calling goroutine.
func (c *Completion) OnComplete(fn func(error)) {
	c.mu.Lock()
	if c.resolved {
		err := c.err
		c.mu.Unlock()
		fn(err)
		return
	}
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

func (c *Completion) resolve(err error) {
	c.mu.Lock()
	if c.resolved {
		c.mu.Unlock()
		return
	}
	c.resolved = true
	c.err = err
	callbacks := c.callbacks
	c.callbacks = nil
	close(c.done)
	c.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}
