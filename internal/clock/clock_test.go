package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/playcore/internal/media"
)

type fakeTime struct{ t time.Time }

func (f *fakeTime) now() time.Time { return f.t }

func (f *fakeTime) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestClock(start float64, ranges *media.TimeRanges) (*Simulated, *fakeTime) {
	ft := &fakeTime{t: time.Unix(1_700_000_000, 0)}
	c := NewSimulated(start, func() media.TimeRanges { return *ranges }, WithNow(ft.now))
	return c, ft
}

func TestSimulated_SeekingUntilDataArrives(t *testing.T) {
	var ranges media.TimeRanges
	c, ft := newTestClock(5, &ranges)
	c.Play()

	tick := c.Tick()
	assert.True(t, tick.Seeking)
	assert.False(t, tick.Stalled)
	assert.Equal(t, HaveNothing, tick.ReadyState)

	c.SetMetadata(true)
	assert.Equal(t, HaveMetadata, c.Tick().ReadyState)

	ranges = media.TimeRanges{{Start: 4, End: 20}}
	ft.advance(time.Second)
	tick = c.Tick()
	assert.False(t, tick.Seeking)
	assert.Equal(t, 5.0, tick.Position, "time spent seeking does not move the position")
	assert.Equal(t, HaveEnoughData, tick.ReadyState)
}

func TestSimulated_AdvancesAndStalls(t *testing.T) {
	ranges := media.TimeRanges{{Start: 0, End: 3}}
	c, ft := newTestClock(0, &ranges)
	c.Play()
	c.Tick()

	ft.advance(1500 * time.Millisecond)
	tick := c.Tick()
	assert.InDelta(t, 1.5, tick.Position, 1e-9)
	assert.False(t, tick.Stalled)
	assert.Equal(t, HaveFutureData, tick.ReadyState)

	ft.advance(5 * time.Second)
	tick = c.Tick()
	assert.InDelta(t, 3, tick.Position, 1e-9, "position never runs past the buffer")
	assert.True(t, tick.Stalled)

	ranges = media.TimeRanges{{Start: 0, End: 10}}
	ft.advance(time.Second)
	tick = c.Tick()
	assert.InDelta(t, 4, tick.Position, 1e-9)
	assert.False(t, tick.Stalled)
}

func TestSimulated_PauseAndRate(t *testing.T) {
	ranges := media.TimeRanges{{Start: 0, End: 60}}
	ft := &fakeTime{t: time.Unix(0, 0)}
	c := NewSimulated(0, func() media.TimeRanges { return ranges }, WithNow(ft.now), WithRate(2))

	ft.advance(time.Second)
	assert.Zero(t, c.Tick().Position, "paused until played")

	c.Play()
	ft.advance(time.Second)
	assert.InDelta(t, 2, c.Tick().Position, 1e-9)

	c.Pause()
	ft.advance(time.Second)
	assert.InDelta(t, 2, c.Tick().Position, 1e-9)
}

func TestSimulated_Ends(t *testing.T) {
	ranges := media.TimeRanges{{Start: 0, End: 10}}
	c, ft := newTestClock(9, &ranges)
	c.SetDuration(10)
	c.Play()
	c.Tick()

	tick := c.Tick()
	assert.Equal(t, HaveEnoughData, tick.ReadyState, "data up to the end is enough")

	ft.advance(2 * time.Second)
	tick = c.Tick()
	assert.True(t, c.Ended())
	assert.False(t, tick.Stalled)
	assert.Equal(t, 10.0, tick.Position)

	c.Seek(2)
	assert.False(t, c.Ended())
	assert.Equal(t, 2.0, c.Position())
}
