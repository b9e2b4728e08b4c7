package sink

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/playcore/internal/media"
)

// InitData is a loaded initialization segment.
type InitData struct {
	Token media.InitToken
	Data  []byte
}

// MediaData is a parsed media segment ready to be appended.
type MediaData struct {
	Data            []byte
	Payload         any
	Start           float64
	End             float64
	TimestampOffset float64
	AppendWindow    media.TimeRange
}

type opKind int

const (
	opAppend opKind = iota
	opRemove
)

type operation struct {
	kind       opKind
	init       *InitData
	data       *MediaData
	chunk      Chunk
	start      float64
	end        float64
	completion *Completion
}

// QueuedWriterStats is a snapshot of a writer's counters.
type QueuedWriterStats struct {
	Queued        int   `json:"queued"`
	Pending       bool  `json:"pending"`
	Appends       int64 `json:"appends"`
	Removes       int64 `json:"removes"`
	InitsSkipped  int64 `json:"inits_skipped"`
	BytesAppended int64 `json:"bytes_appended"`
	Failures      int64 `json:"failures"`
}

// QueuedWriter serializes append and remove operations against a Sink that
// can only process one operation at a time. Operations run in FIFO order and
// the next one is submitted only after the sink completed the current one.
type QueuedWriter struct {
	typ    media.Type
	sink   Sink
	logger *slog.Logger

	mu       sync.Mutex
	queue    []*operation
	pending  *operation
	lastInit media.InitToken
	disposed bool
	stats    QueuedWriterStats
}

// NewQueuedWriter wraps a sink.
func NewQueuedWriter(s Sink, logger *slog.Logger) *QueuedWriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueuedWriter{
		typ:    s.Type(),
		sink:   s,
		logger: logger.With(slog.String("media_type", string(s.Type()))),
	}
}

// Type returns the media type of the underlying sink.
func (w *QueuedWriter) Type() media.Type {
	return w.typ
}

// Append queues an append. A nil init and nil data is a no-op. When init
// carries the token of the last init segment submitted, the init data is
// not pushed again.
func (w *QueuedWriter) Append(init *InitData, data *MediaData) *Completion {
	if init == nil && data == nil {
		return Resolved(nil)
	}
	return w.enqueue(&operation{kind: opAppend, init: init, data: data})
}

// Remove queues the removal of [start, end).
func (w *QueuedWriter) Remove(start, end float64) *Completion {
	if end <= start {
		return Resolved(nil)
	}
	return w.enqueue(&operation{kind: opRemove, start: start, end: end})
}

// Buffered returns the ranges the sink reports as occupied.
func (w *QueuedWriter) Buffered() media.TimeRanges {
	return w.sink.Buffered()
}

// Pending reports whether an operation is currently submitted to the sink.
func (w *QueuedWriter) Pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pending != nil
}

// Stats returns the writer counters.
func (w *QueuedWriter) Stats() QueuedWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.stats
	s.Queued = len(w.queue)
	s.Pending = w.pending != nil
	return s
}

// Abort rejects every queued operation, aborts the sink and forgets the last
// init segment. The writer stays usable.
func (w *QueuedWriter) Abort() {
	w.abort(false)
}

// Dispose aborts and detaches the writer. Later operations fail with
// ErrWriterDisposed.
func (w *QueuedWriter) Dispose() {
	w.abort(true)
}

func (w *QueuedWriter) abort(dispose bool) {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	dropped := w.queue
	if w.pending != nil {
		dropped = append([]*operation{w.pending}, dropped...)
	}
	w.queue = nil
	w.pending = nil
	w.lastInit = media.InitToken{}
	w.disposed = dispose
	w.mu.Unlock()

	w.sink.Abort()

	reason := ErrAborted
	if dispose {
		reason = ErrWriterDisposed
	}
	for _, op := range dropped {
		op.completion.resolve(reason)
	}
	if len(dropped) > 0 {
		w.logger.Debug("queued writer dropped operations",
			slog.Int("count", len(dropped)),
			slog.Bool("disposed", dispose))
	}
}

func (w *QueuedWriter) enqueue(op *operation) *Completion {
	op.completion = newCompletion()

	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		op.completion.resolve(ErrWriterDisposed)
		return op.completion
	}
	w.queue = append(w.queue, op)
	w.mu.Unlock()

	w.advance()
	return op.completion
}

// advance submits the head of the queue when the sink is idle.
func (w *QueuedWriter) advance() {
	for {
		w.mu.Lock()
		if w.disposed || w.pending != nil || len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		op := w.queue[0]
		w.queue[0] = nil
		w.queue = w.queue[1:]

		if op.kind == opAppend && !w.prepareLocked(op) {
			w.stats.InitsSkipped++
			w.mu.Unlock()
			op.completion.resolve(nil)
			continue
		}
		w.pending = op
		w.mu.Unlock()

		w.dispatch(op)
		return
	}
}

// prepareLocked builds the chunk for an append and returns false when
// nothing is left to submit.
func (w *QueuedWriter) prepareLocked(op *operation) bool {
	chunk := Chunk{}
	if op.init != nil && !op.init.Token.IsZero() {
		chunk.InitToken = op.init.Token
		if op.init.Token != w.lastInit {
			chunk.Init = op.init.Data
			if chunk.Init == nil {
				chunk.Init = []byte{}
			}
			w.lastInit = op.init.Token
		} else if op.data == nil {
			return false
		} else {
			w.stats.InitsSkipped++
		}
	}
	if op.data != nil {
		chunk.Data = op.data.Data
		chunk.Payload = op.data.Payload
		chunk.Start = op.data.Start
		chunk.End = op.data.End
		chunk.TimestampOffset = op.data.TimestampOffset
		chunk.AppendWindow = op.data.AppendWindow
	}
	op.chunk = chunk
	return chunk.Init != nil || op.data != nil
}

func (w *QueuedWriter) dispatch(op *operation) {
	switch op.kind {
	case opAppend:
		w.sink.Append(op.chunk, func(err error) { w.complete(op, err) })
	case opRemove:
		w.sink.Remove(op.start, op.end, func(err error) { w.complete(op, err) })
	}
}

func (w *QueuedWriter) complete(op *operation, err error) {
	w.mu.Lock()
	if w.pending != op {
		// aborted while the sink was working
		w.mu.Unlock()
		return
	}
	w.pending = nil
	switch {
	case err != nil:
		w.stats.Failures++
		if op.kind == opAppend && op.chunk.Init != nil && w.lastInit == op.chunk.InitToken {
			w.lastInit = media.InitToken{}
		}
	case op.kind == opAppend:
		w.stats.Appends++
		w.stats.BytesAppended += int64(len(op.chunk.Init) + len(op.chunk.Data))
	default:
		w.stats.Removes++
	}
	w.mu.Unlock()

	if err != nil {
		sentinel := ErrAppend
		if op.kind == opRemove {
			sentinel = ErrRemove
		}
		err = fmt.Errorf("%w: %w", sentinel, err)
		w.logger.Warn("sink operation failed", slog.String("error", err.Error()))
	}
	op.completion.resolve(err)
	w.advance()
}
