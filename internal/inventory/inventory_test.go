package inventory

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/media"
)

type fixture struct {
	p1, p2 *media.Period
	video  *media.Adaptation
	low    *media.Representation
	high   *media.Representation
}

func newFixture() fixture {
	f := fixture{
		p1:   media.NewPeriod("p1", 10),
		p2:   media.NewPeriod("p2", 20),
		low:  &media.Representation{ID: "low", Bitrate: 500_000},
		high: &media.Representation{ID: "high", Bitrate: 2_000_000},
	}
	f.video = &media.Adaptation{ID: "v", Type: media.TypeVideo, Representations: []*media.Representation{f.low, f.high}}
	return f
}

func seg(id string, start, end float64) media.Segment {
	return media.Segment{ID: id, Time: int64(start * 1000), Duration: int64((end - start) * 1000), Timescale: 1000}
}

func (f fixture) record(p *media.Period, rep *media.Representation, start, end float64) Record {
	return Record{
		Period:         p,
		Adaptation:     f.video,
		Representation: rep,
		Segment:        seg(rep.ID, start, end),
		Start:          start,
		End:            end,
	}
}

func bounds(inv *Inventory) [][2]float64 {
	var out [][2]float64
	for _, r := range inv.Records() {
		out = append(out, [2]float64{r.Start, r.End})
	}
	return out
}

func assertSortedNoOverlap(t *testing.T, inv *Inventory) {
	t.Helper()
	recs := inv.Records()
	assert.True(t, sort.SliceIsSorted(recs, func(i, j int) bool { return recs[i].Start < recs[j].Start }))
	for i := 1; i < len(recs); i++ {
		assert.LessOrEqual(t, recs[i-1].End, recs[i].Start+1e-9, "records %d and %d overlap", i-1, i)
	}
}

func TestInsert_KeepsOrderAndSplits(t *testing.T) {
	f := newFixture()
	inv := New()

	inv.Insert(f.record(f.p1, f.low, 14, 18))
	inv.Insert(f.record(f.p1, f.low, 10, 14))
	inv.Insert(f.record(f.p1, f.low, 18, 22))
	assert.Equal(t, [][2]float64{{10, 14}, {14, 18}, {18, 22}}, bounds(inv))

	// higher quality in the middle of an existing record splits it
	inv.Insert(f.record(f.p1, f.high, 15, 17))
	assert.Equal(t, [][2]float64{{10, 14}, {14, 15}, {15, 17}, {17, 18}, {18, 22}}, bounds(inv))
	assertSortedNoOverlap(t, inv)

	// full cover drops the old ones
	inv.Insert(f.record(f.p1, f.high, 9, 23))
	assert.Equal(t, [][2]float64{{9, 23}}, bounds(inv))
}

func TestInsert_LaterPeriodWinsRegardlessOfOrder(t *testing.T) {
	f := newFixture()

	orders := map[string][]Record{
		"p1 first": {f.record(f.p1, f.low, 10, 30), f.record(f.p2, f.low, 20, 25)},
		"p2 first": {f.record(f.p2, f.low, 20, 25), f.record(f.p1, f.low, 10, 30)},
	}
	for name, recs := range orders {
		t.Run(name, func(t *testing.T) {
			inv := New()
			for _, r := range recs {
				inv.Insert(r)
			}
			got := inv.Records()
			require.Len(t, got, 3)
			assert.Equal(t, [][2]float64{{10, 20}, {20, 25}, {25, 30}}, bounds(inv))
			assert.Equal(t, "p1", got[0].Period.ID)
			assert.Equal(t, "p2", got[1].Period.ID)
			assert.Equal(t, "p1", got[2].Period.ID)
			assertSortedNoOverlap(t, inv)
		})
	}
}

func TestSynchronize(t *testing.T) {
	f := newFixture()
	inv := New()
	inv.Insert(f.record(f.p1, f.low, 10, 14))
	inv.Insert(f.record(f.p1, f.low, 14, 18))
	inv.Insert(f.record(f.p1, f.low, 18, 22))

	reported := media.TimeRanges{{Start: 10.02, End: 16}, {Start: 17, End: 21}}
	res := inv.Synchronize(reported)
	assert.True(t, res.Changed())
	assert.Equal(t, 1, res.Split)

	recs := inv.Records()
	require.Len(t, recs, 4)
	assert.InDelta(t, 10.02, recs[0].BufferedStart, 1e-9)
	// nominal bounds survive, only the buffered ones follow the sink
	assert.Equal(t, [][2]float64{{10, 14}, {14, 18}, {14, 18}, {18, 22}}, bounds(inv))
	assert.Equal(t, [][2]float64{{14, 16}, {17, 18}}, [][2]float64{
		{recs[1].BufferedStart, recs[1].BufferedEnd},
		{recs[2].BufferedStart, recs[2].BufferedEnd},
	})
	assert.InDelta(t, 21, recs[3].BufferedEnd, 1e-9)
	assert.Equal(t, media.TimeRanges{{Start: 10.02, End: 16}, {Start: 17, End: 21}},
		inv.RangesFor(func(*Record) bool { return true }))

	again := inv.Synchronize(reported)
	assert.False(t, again.Changed(), "second pass with the same ranges must not mutate")
	assert.Equal(t, recs, inv.Records())

	// everything evicted
	res = inv.Synchronize(nil)
	assert.Equal(t, 4, res.Removed)
	assert.Zero(t, inv.Len())
}

func TestQuery(t *testing.T) {
	f := newFixture()
	inv := New()
	inv.Insert(f.record(f.p1, f.high, 10, 14))
	inv.Insert(f.record(f.p1, f.low, 14, 18))
	inv.Insert(f.record(f.p1, f.high, 19, 22))

	wanted := media.TimeRange{Start: 10, End: 40}

	r := inv.Query(wanted, seg("x", 10, 14))
	require.NotNil(t, r)
	assert.Equal(t, "high", r.Representation.ID)

	r = inv.Query(wanted, seg("x", 12, 16))
	require.NotNil(t, r)
	assert.Equal(t, "low", r.Representation.ID, "lowest bitrate of the covering records")

	assert.Nil(t, inv.Query(wanted, seg("x", 16, 20)), "gap at 18-19")
	assert.Nil(t, inv.Query(wanted, seg("x", 22, 26)))

	// only the wanted part of the segment has to be covered
	r = inv.Query(media.TimeRange{Start: 10, End: 18}, seg("x", 16, 20))
	require.NotNil(t, r)
	assert.Equal(t, "low", r.Representation.ID)
}

func TestRemoveAndReset(t *testing.T) {
	f := newFixture()
	inv := New()
	inv.Insert(f.record(f.p1, f.low, 10, 20))
	inv.Insert(f.record(f.p2, f.low, 20, 30))

	inv.Remove(15, 25)
	assert.Equal(t, [][2]float64{{10, 15}, {25, 30}}, bounds(inv))

	inv.RemovePeriod("p2")
	assert.Equal(t, [][2]float64{{10, 15}}, bounds(inv))

	inv.Reset()
	assert.Zero(t, inv.Len())
}
