package media

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTimeRanges_Add(t *testing.T) {
	tests := []struct {
		name  string
		start TimeRanges
		add   TimeRange
		want  TimeRanges
	}{
		{
			name: "into empty",
			add:  TimeRange{0, 4},
			want: TimeRanges{{0, 4}},
		},
		{
			name:  "touching merges",
			start: TimeRanges{{0, 4}},
			add:   TimeRange{4, 8},
			want:  TimeRanges{{0, 8}},
		},
		{
			name:  "disjoint keeps order",
			start: TimeRanges{{10, 12}},
			add:   TimeRange{0, 4},
			want:  TimeRanges{{0, 4}, {10, 12}},
		},
		{
			name:  "bridges two ranges",
			start: TimeRanges{{0, 4}, {6, 10}},
			add:   TimeRange{3, 7},
			want:  TimeRanges{{0, 10}},
		},
		{
			name:  "small hole is kept",
			start: TimeRanges{{0, 4}},
			add:   TimeRange{4.05, 8},
			want:  TimeRanges{{0, 4}, {4.05, 8}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.start.Add(tt.add.Start, tt.add.End)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeRanges_RemoveAndExclude(t *testing.T) {
	rs := TimeRanges{{0, 10}, {20, 30}}

	assert.Equal(t, TimeRanges{{0, 2}, {8, 10}, {20, 30}}, rs.Remove(2, 8))
	assert.Equal(t, TimeRanges{{0, 5}}, rs.Remove(5, 40))
	assert.Equal(t, TimeRanges{{0, 10}, {20, 30}}, rs, "receiver must not change")

	excluded := rs.Exclude(TimeRanges{{5, 25}})
	assert.Equal(t, TimeRanges{{0, 5}, {25, 30}}, excluded)
}

func TestTimeRanges_Intersect(t *testing.T) {
	rs := TimeRanges{{0, 10}, {20, 30}}
	got := rs.Intersect(TimeRanges{{5, 25}})
	assert.Equal(t, TimeRanges{{5, 10}, {20, 25}}, got)
}

func TestTimeRanges_Queries(t *testing.T) {
	rs := TimeRanges{{0, 10}, {10.05, 20}}

	r, ok := rs.RangeAt(3)
	assert.True(t, ok)
	assert.Equal(t, TimeRange{0, 10}, r)

	_, ok = rs.RangeAt(10.01)
	assert.False(t, ok)

	assert.InDelta(t, 0.05, rs.NextRangeGap(10), 1e-9)
	assert.True(t, math.IsInf(rs.NextRangeGap(15), 1))
	assert.InDelta(t, 7.0, rs.BufferedAhead(3), 1e-9)
	assert.InDelta(t, 19.95, rs.Duration(), 1e-9)
}
