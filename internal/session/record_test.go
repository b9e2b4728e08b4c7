package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/models"
)

func TestKindName(t *testing.T) {
	tests := []struct {
		kind buffer.EventKind
		want string
	}{
		{buffer.KindAddedSegment, "added_segment"},
		{buffer.KindPeriodBufferReady, "period_buffer_ready"},
		{buffer.KindEndOfStream, "end_of_stream"},
		{buffer.KindBufferComplete, "buffer_complete"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, KindName(tt.kind))
		})
	}
}

func TestNewRecord(t *testing.T) {
	period := &media.Period{ID: "p1", Start: 0, End: 10}
	rep := &media.Representation{ID: "v1", Bitrate: 500000}
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("added segment", func(t *testing.T) {
		rec := newRecord(7, 1.5, at, buffer.AddedSegment{
			Type:           media.TypeVideo,
			Period:         period,
			Representation: rep,
			Start:          2,
			End:            4,
			Buffered:       media.TimeRanges{{Start: 0, End: 4}},
		})
		assert.Equal(t, int64(7), rec.Seq)
		assert.Equal(t, "added_segment", rec.Kind)
		assert.Equal(t, "video", rec.MediaType)
		assert.Equal(t, "p1", rec.PeriodID)
		assert.Equal(t, 1.5, rec.Position)
		assert.Equal(t, "v1", rec.Detail["representation"])
		assert.Equal(t, 2.0, rec.Detail["start"])
		assert.Equal(t, false, rec.Detail["init"])
	})

	t.Run("fatal error", func(t *testing.T) {
		rec := newRecord(1, 0, at, buffer.Error{Type: media.TypeAudio, Err: errors.New("boom"), Fatal: true})
		assert.Equal(t, "audio", rec.MediaType)
		assert.Equal(t, true, rec.Detail["fatal"])
		assert.Equal(t, "boom", rec.Detail["error"])
	})

	t.Run("no detail", func(t *testing.T) {
		rec := newRecord(2, 0, at, buffer.NeedsManifestRefresh{Type: media.TypeVideo})
		assert.Nil(t, rec.Detail)
	})
}

func TestRecord_ModelRoundTrip(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := newRecord(3, 2.5, at, buffer.RepresentationChange{
		Type:           media.TypeVideo,
		Period:         &media.Period{ID: "p1"},
		Representation: &media.Representation{ID: "v2", Bitrate: 2000000},
	})

	id := models.NewULID()
	row := rec.model(id)
	assert.Equal(t, id, row.SessionID)
	assert.Equal(t, "representation_change", row.Kind)
	assert.JSONEq(t, `{"representation":"v2","bitrate":2000000}`, row.Detail)
	assert.Equal(t, at, row.CreatedAt)

	back := RecordFromModel(row)
	assert.Equal(t, rec.Seq, back.Seq)
	assert.Equal(t, rec.Kind, back.Kind)
	assert.Equal(t, "v2", back.Detail["representation"])
	// numbers come back from JSON as float64
	assert.Equal(t, 2000000.0, back.Detail["bitrate"])
}

func TestBroker(t *testing.T) {
	b := NewBroker(nil)

	sub := b.Subscribe()
	require.NotEmpty(t, sub.ID)
	assert.Equal(t, 1, b.Count())

	b.Publish(Record{Seq: 1, Kind: "added_segment"})
	rec := <-sub.Events
	assert.Equal(t, int64(1), rec.Seq)

	b.Unsubscribe(sub.ID)
	_, ok := <-sub.Events
	assert.False(t, ok)
	assert.Equal(t, 0, b.Count())

	// unknown ids are ignored
	b.Unsubscribe("missing")
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Record{Seq: int64(i)})
	}
	assert.Len(t, sub.Events, subscriberBuffer)
}

func TestBroker_Close(t *testing.T) {
	b := NewBroker(nil)
	sub := b.Subscribe()
	b.Close()
	b.Close()

	_, ok := <-sub.Events
	assert.False(t, ok)

	late := b.Subscribe()
	_, ok = <-late.Events
	assert.False(t, ok)
	assert.Equal(t, 0, b.Count())

	b.Publish(Record{Seq: 1})
}
