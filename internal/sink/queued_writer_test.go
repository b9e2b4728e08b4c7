package sink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/media"
)

// manualSink records submitted operations and completes them on demand.
type manualSink struct {
	mu         sync.Mutex
	ops        []string
	chunks     []Chunk
	done       func(error)
	violations int
	aborted    int
}

func (s *manualSink) Type() media.Type { return media.TypeVideo }

func (s *manualSink) submit(name string, chunk *Chunk, done func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		s.violations++
	}
	s.ops = append(s.ops, name)
	if chunk != nil {
		s.chunks = append(s.chunks, *chunk)
	}
	s.done = done
}

func (s *manualSink) Append(chunk Chunk, done func(error)) { s.submit("append", &chunk, done) }

func (s *manualSink) Remove(_, _ float64, done func(error)) { s.submit("remove", nil, done) }

func (s *manualSink) Buffered() media.TimeRanges { return nil }

func (s *manualSink) Updating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

func (s *manualSink) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted++
}

// finish completes the submitted operation.
func (s *manualSink) finish(err error) {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()
	if done != nil {
		done(err)
	}
}

func (s *manualSink) submitted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func resolved(c *Completion) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestQueuedWriter_SingleSubmissionFIFO(t *testing.T) {
	s := &manualSink{}
	w := NewQueuedWriter(s, nil)

	c1 := w.Append(nil, &MediaData{Data: []byte{1}, Start: 0, End: 2})
	c2 := w.Remove(0, 1)
	c3 := w.Append(nil, &MediaData{Data: []byte{2}, Start: 2, End: 4})

	assert.Equal(t, []string{"append"}, s.submitted())
	assert.True(t, w.Pending())
	assert.Equal(t, 2, w.Stats().Queued)

	s.finish(nil)
	assert.True(t, resolved(c1))
	assert.False(t, resolved(c2))
	assert.Equal(t, []string{"append", "remove"}, s.submitted())

	s.finish(nil)
	s.finish(nil)
	assert.True(t, resolved(c2))
	assert.True(t, resolved(c3))
	assert.Equal(t, []string{"append", "remove", "append"}, s.submitted())
	assert.Zero(t, s.violations)
	assert.False(t, w.Pending())
}

func TestQueuedWriter_NoopAppend(t *testing.T) {
	s := &manualSink{}
	w := NewQueuedWriter(s, nil)

	c := w.Append(nil, nil)
	assert.True(t, resolved(c))
	assert.NoError(t, c.Err())
	assert.Empty(t, s.submitted())
}

func TestQueuedWriter_InitElision(t *testing.T) {
	s := &manualSink{}
	w := NewQueuedWriter(s, nil)
	tok := media.NewInitToken()
	other := media.NewInitToken()

	init := &InitData{Token: tok, Data: []byte("init")}
	w.Append(init, nil)
	s.finish(nil)

	// same token, init only: skipped entirely
	c := w.Append(&InitData{Token: tok, Data: []byte("init")}, nil)
	assert.True(t, resolved(c))
	assert.Len(t, s.submitted(), 1)

	// same token with media: media only
	w.Append(init, &MediaData{Data: []byte("m"), Start: 0, End: 2})
	s.finish(nil)

	// new token: init pushed again
	w.Append(&InitData{Token: other, Data: []byte("init2")}, &MediaData{Data: []byte("m2"), Start: 2, End: 4})
	s.finish(nil)

	require.Len(t, s.chunks, 3)
	assert.Equal(t, []byte("init"), s.chunks[0].Init)
	assert.Nil(t, s.chunks[1].Init)
	assert.Equal(t, tok, s.chunks[1].InitToken)
	assert.Equal(t, []byte("init2"), s.chunks[2].Init)
	assert.Equal(t, int64(2), w.Stats().InitsSkipped)
}

func TestQueuedWriter_FailureIsolated(t *testing.T) {
	s := &manualSink{}
	w := NewQueuedWriter(s, nil)
	tok := media.NewInitToken()

	c1 := w.Append(&InitData{Token: tok, Data: []byte("i")}, &MediaData{Data: []byte{1}, Start: 0, End: 2})
	c2 := w.Append(&InitData{Token: tok, Data: []byte("i")}, &MediaData{Data: []byte{2}, Start: 2, End: 4})

	s.finish(errors.New("decode error"))
	require.True(t, resolved(c1))
	assert.ErrorIs(t, c1.Err(), ErrAppend)

	// the failed init must be pushed again
	require.Len(t, s.chunks, 2)
	assert.Equal(t, []byte("i"), s.chunks[1].Init)

	s.finish(nil)
	assert.NoError(t, c2.Err())
	assert.Equal(t, int64(1), w.Stats().Failures)
}

func TestQueuedWriter_AbortAndDispose(t *testing.T) {
	s := &manualSink{}
	w := NewQueuedWriter(s, nil)

	c1 := w.Append(nil, &MediaData{Data: []byte{1}, Start: 0, End: 2})
	c2 := w.Remove(0, 2)

	w.Abort()
	assert.ErrorIs(t, c1.Err(), ErrAborted)
	assert.ErrorIs(t, c2.Err(), ErrAborted)
	assert.Equal(t, 1, s.aborted)

	// late completion of the aborted operation is ignored
	s.finish(nil)
	assert.False(t, w.Pending())

	c3 := w.Remove(0, 2)
	assert.False(t, resolved(c3))
	s.finish(nil)
	assert.NoError(t, c3.Err())

	w.Dispose()
	c4 := w.Append(nil, &MediaData{Data: []byte{1}})
	assert.ErrorIs(t, c4.Err(), ErrWriterDisposed)
}

func TestQueuedWriter_MemorySink(t *testing.T) {
	s := NewMemorySink(media.TypeAudio, MemorySinkConfig{Latency: time.Millisecond})
	w := NewQueuedWriter(s, nil)
	tok := media.NewInitToken()

	var last *Completion
	for i := 0; i < 5; i++ {
		start := float64(i * 2)
		last = w.Append(&InitData{Token: tok, Data: []byte("init")},
			&MediaData{Data: make([]byte, 10), Start: start, End: start + 2})
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, last.Wait(ctx))

	assert.Equal(t, media.TimeRanges{{Start: 0, End: 10}}, w.Buffered())
	assert.Equal(t, int64(54), s.Bytes())

	require.NoError(t, w.Remove(4, 6).Wait(ctx))
	assert.Equal(t, media.TimeRanges{{Start: 0, End: 4}, {Start: 6, End: 10}}, w.Buffered())
}
