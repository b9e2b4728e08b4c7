package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jmylchreest/playcore/internal/inventory"
	"github.com/jmylchreest/playcore/internal/media"
)

func TestSegmentPriority(t *testing.T) {
	tests := []struct {
		name       string
		start      float64
		position   float64
		lowLatency bool
		want       int
	}{
		{name: "at playhead", start: 10, position: 10, want: 1},
		{name: "behind playhead", start: 8, position: 10, want: 1},
		{name: "three seconds ahead", start: 13, position: 10, want: 2},
		{name: "ten seconds ahead", start: 20, position: 10, want: 4},
		{name: "twenty seconds ahead", start: 30, position: 10, want: 6},
		{name: "far ahead", start: 60, position: 10, want: 7},
		{name: "low latency near playhead", start: 11, position: 10, lowLatency: true, want: InitPriority},
		{name: "low latency further", start: 13, position: 10, lowLatency: true, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SegmentPriority(tt.start, tt.position, tt.lowLatency))
		})
	}
}

func TestShouldDownload(t *testing.T) {
	p1 := testPeriod("p1", 0, 100)
	p2 := testPeriod("p2", 100, 200)
	earlier := testPeriod("p0", -100, 0)

	low := &media.Representation{ID: "low", Bitrate: 500_000}
	slightlyBetter := &media.Representation{ID: "better", Bitrate: 520_000}
	muchBetter := &media.Representation{ID: "best", Bitrate: 650_000}
	worse := &media.Representation{ID: "worse", Bitrate: 300_000}

	video := testAdaptation("video", media.TypeVideo, low, slightlyBetter, muchBetter, worse)
	otherTrack := testAdaptation("video-2", media.TypeVideo, low)

	seg := media.Segment{ID: "s", Time: 5000, Duration: 10000, Timescale: 1000}
	wanted := media.TimeRange{Start: 5, End: 15}

	buffered := func(period *media.Period, a *media.Adaptation, r *media.Representation) *inventory.Inventory {
		inv := inventory.New()
		inv.Insert(inventory.Record{Period: period, Adaptation: a, Representation: r, Start: 0, End: 20})
		return inv
	}

	tests := []struct {
		name string
		seg  media.Segment
		fc   FilterContext
		want bool
	}{
		{
			name: "nothing buffered",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: inventory.New()},
			want: true,
		},
		{
			name: "init segments are always loaded",
			seg:  media.Segment{ID: "init", IsInit: true},
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: buffered(p1, video, low)},
			want: true,
		},
		{
			name: "ignored segment",
			seg:  seg,
			fc: FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: inventory.New(),
				Ignore: map[string]struct{}{segmentKey(seg): {}}},
			want: false,
		},
		{
			name: "too short",
			seg:  media.Segment{ID: "tiny", Time: 5000, Duration: 1, Timescale: 1000},
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: inventory.New(), MinSegmentDuration: 0.005},
			want: false,
		},
		{
			name: "same representation already buffered",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: buffered(p1, video, low), RebufferingRatio: 1.2},
			want: false,
		},
		{
			name: "bitrate not high enough to replace",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: slightlyBetter, Inventory: buffered(p1, video, low), RebufferingRatio: 1.2},
			want: false,
		},
		{
			name: "bitrate high enough to replace",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: muchBetter, Inventory: buffered(p1, video, low), RebufferingRatio: 1.2},
			want: true,
		},
		{
			name: "lower bitrate never replaces",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: worse, Inventory: buffered(p1, video, low), RebufferingRatio: 1.2},
			want: false,
		},
		{
			name: "other track is replaced",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: buffered(p1, otherTrack, low), RebufferingRatio: 1.2},
			want: true,
		},
		{
			name: "later period content wins",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: muchBetter, Inventory: buffered(p2, video, low), RebufferingRatio: 1.2},
			want: false,
		},
		{
			name: "earlier period content is overwritten",
			seg:  seg,
			fc:   FilterContext{Period: p1, Adaptation: video, Representation: low, Inventory: buffered(earlier, video, low), RebufferingRatio: 1.2},
			want: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDownload(tt.seg, wanted, tt.fc))
		})
	}
}

func TestComputeSwitchStrategy(t *testing.T) {
	period := testPeriod("p", 0, 100)
	full := media.TimeRanges{{Start: 0, End: 100}}
	playing := Tick{Position: 50, ReadyState: 4}

	tests := []struct {
		name   string
		typ    media.Type
		ranges media.TimeRanges
		tick   Tick
		reload bool
		want   SwitchStrategy
	}{
		{
			name:   "nothing buffered",
			typ:    media.TypeVideo,
			tick:   playing,
			reload: true,
			want:   SwitchStrategy{Kind: StrategyContinue},
		},
		{
			name:   "buffered in another period",
			typ:    media.TypeAudio,
			ranges: media.TimeRanges{{Start: 100, End: 150}},
			tick:   playing,
			want:   SwitchStrategy{Kind: StrategyContinue},
		},
		{
			name:   "video switch while playing inside buffer",
			typ:    media.TypeVideo,
			ranges: full,
			tick:   playing,
			reload: true,
			want:   SwitchStrategy{Kind: StrategyNeedsReload},
		},
		{
			name:   "reload policy disabled",
			typ:    media.TypeVideo,
			ranges: full,
			tick:   playing,
			want: SwitchStrategy{Kind: StrategyCleanBuffer, Ranges: media.TimeRanges{
				{Start: 0, End: 45}, {Start: 55, End: 100},
			}},
		},
		{
			name:   "metadata only ready state",
			typ:    media.TypeVideo,
			ranges: full,
			tick:   Tick{Position: 50, ReadyState: 1},
			reload: true,
			want: SwitchStrategy{Kind: StrategyCleanBuffer, Ranges: media.TimeRanges{
				{Start: 0, End: 45}, {Start: 55, End: 100},
			}},
		},
		{
			name:   "audio paddings",
			typ:    media.TypeAudio,
			ranges: full,
			tick:   playing,
			reload: true,
			want: SwitchStrategy{Kind: StrategyCleanBuffer, Ranges: media.TimeRanges{
				{Start: 0, End: 48}, {Start: 52.5, End: 100},
			}},
		},
		{
			name:   "only content around the playhead",
			typ:    media.TypeAudio,
			ranges: media.TimeRanges{{Start: 49, End: 52}},
			tick:   playing,
			want:   SwitchStrategy{Kind: StrategyContinue},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeSwitchStrategy(tt.typ, period, tt.ranges, tt.tick, tt.reload)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Ranges, got.Ranges)
		})
	}

	t.Run("text removes everything", func(t *testing.T) {
		got := ComputeSwitchStrategy(media.TypeText, period, full, playing, true)
		assert.Equal(t, StrategyCleanBuffer, got.Kind)
		assert.InDelta(t, 100.0, got.Ranges.Duration(), 1e-9)
	})
}

func TestEventKindString(t *testing.T) {
	assert.Equal(t, "endOfStream", KindEndOfStream.String())
	assert.Equal(t, "discontinuityEncountered", DiscontinuityEncountered{}.Kind().String())
	assert.Equal(t, "EventKind(99)", EventKind(99).String())
	assert.Equal(t, "full", StatusFull.String())
	assert.Equal(t, "needs-reload", StrategyNeedsReload.String())
}
