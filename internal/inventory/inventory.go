// Package inventory tracks which segments are resident in a sink.
//
// Records are kept sorted by start time and their effective bounds never
// overlap: inserting a segment trims, splits or drops whatever it
// supersedes. Synchronize reconciles the buffered bounds of records with
// the ranges the sink actually reports, which is how platform eviction is
// detected. It never changes nominal bounds, so a segment with an evicted
// hole is kept as pieces sharing the segment's nominal bounds.
package inventory

import (
	"math"
	"sort"

	"github.com/jmylchreest/playcore/internal/media"
)

const (
	// syncEpsilon is the difference under which synchronized bounds are
	// considered unchanged.
	syncEpsilon = 1e-6

	// minRecordDuration drops records reduced to noise by eviction.
	minRecordDuration = 1e-3

	// coverTolerance is the gap tolerated between contiguous records, and
	// at the edges of a wanted range, when deciding coverage.
	coverTolerance = 0.1
)

// Record is one buffered segment (or part of one).
type Record struct {
	Period         *media.Period
	Adaptation     *media.Adaptation
	Representation *media.Representation
	Segment        media.Segment

	// Start and End are the nominal presentation bounds.
	Start float64
	End   float64

	// BufferedStart and BufferedEnd are the bounds inferred from the sink.
	// They are only meaningful once Synced is true.
	BufferedStart float64
	BufferedEnd   float64
	Synced        bool
}

// EffectiveStart returns the synchronized start when known.
func (r *Record) EffectiveStart() float64 {
	if r.Synced {
		return r.BufferedStart
	}
	return r.Start
}

// EffectiveEnd returns the synchronized end when known.
func (r *Record) EffectiveEnd() float64 {
	if r.Synced {
		return r.BufferedEnd
	}
	return r.End
}

func (r *Record) bitrate() int {
	if r.Representation == nil {
		return 0
	}
	return r.Representation.Bitrate
}

func (r *Record) periodStart() float64 {
	if r.Period == nil {
		return math.Inf(-1)
	}
	return r.Period.Start
}

// Inventory is the ordered record list for one media type. It is not safe
// for concurrent use.
type Inventory struct {
	records []*Record
}

// New creates an empty inventory.
func New() *Inventory {
	return &Inventory{}
}

// Len returns the number of records.
func (inv *Inventory) Len() int {
	return len(inv.records)
}

// Records returns copies of every record in start order.
func (inv *Inventory) Records() []Record {
	out := make([]Record, len(inv.records))
	for i, r := range inv.records {
		out[i] = *r
	}
	return out
}

// Insert adds a freshly appended segment. A record belonging to a period
// starting later wins over the new one where they overlap; anything else
// overlapping is trimmed, split or dropped.
func (inv *Inventory) Insert(rec Record) {
	if rec.End-rec.Start <= 0 {
		return
	}
	rec.Synced = false

	// parts of the new record not shadowed by later periods
	pieces := media.TimeRanges{{Start: rec.Start, End: rec.End}}
	for _, r := range inv.records {
		if r.periodStart() > rec.periodStart() {
			pieces = pieces.Remove(r.Start, r.End)
		}
	}
	if len(pieces) == 0 {
		return
	}

	for _, p := range pieces {
		inv.cut(p.Start, p.End, func(r *Record) bool {
			return r.periodStart() <= rec.periodStart()
		})
	}
	for _, p := range pieces {
		if p.Duration() < minRecordDuration {
			continue
		}
		n := rec
		n.Start, n.End = p.Start, p.End
		inv.records = append(inv.records, &n)
	}
	inv.sort()
}

// Remove drops every recorded content in [start, end).
func (inv *Inventory) Remove(start, end float64) {
	if end <= start {
		return
	}
	inv.cut(start, end, func(*Record) bool { return true })
}

// RemovePeriod drops every record of a period.
func (inv *Inventory) RemovePeriod(periodID string) {
	kept := inv.records[:0]
	for _, r := range inv.records {
		if r.Period != nil && r.Period.ID == periodID {
			continue
		}
		kept = append(kept, r)
	}
	inv.records = kept
}

// Reset clears every record.
func (inv *Inventory) Reset() {
	inv.records = nil
}

// SyncResult counts what a synchronization pass changed.
type SyncResult struct {
	Updated int
	Removed int
	Split   int
}

// Changed reports whether the pass mutated the inventory.
func (s SyncResult) Changed() bool {
	return s.Updated+s.Removed+s.Split > 0
}

// Synchronize reconciles records with the ranges the sink reports. Records
// whose content vanished are removed, shrunk ones are trimmed and records
// with an evicted hole are split. Calling it twice with the same ranges
// changes nothing the second time.
func (inv *Inventory) Synchronize(ranges media.TimeRanges) SyncResult {
	var res SyncResult
	out := make([]*Record, 0, len(inv.records))
	for _, r := range inv.records {
		parts := media.TimeRanges{{Start: r.EffectiveStart(), End: r.EffectiveEnd()}}.Intersect(ranges)
		parts = dropTiny(parts)
		switch len(parts) {
		case 0:
			res.Removed++
		case 1:
			if !r.Synced ||
				math.Abs(r.BufferedStart-parts[0].Start) > syncEpsilon ||
				math.Abs(r.BufferedEnd-parts[0].End) > syncEpsilon {
				r.BufferedStart, r.BufferedEnd = parts[0].Start, parts[0].End
				r.Synced = true
				res.Updated++
			}
			out = append(out, r)
		default:
			res.Split++
			for _, p := range parts {
				n := *r
				n.BufferedStart, n.BufferedEnd = p.Start, p.End
				n.Synced = true
				out = append(out, &n)
			}
		}
	}
	inv.records = out
	inv.sort()
	return res
}

// Query returns the record to keep for the wanted part of seg, or nil when
// the contiguous records there leave a gap and seg should be downloaded.
// When several records cover the wanted part, the lowest bitrate one is
// returned since it bounds the quality that part plays at.
func (inv *Inventory) Query(wanted media.TimeRange, seg media.Segment) *Record {
	start := math.Max(wanted.Start, seg.Start())
	end := math.Min(wanted.End, seg.End())
	if end <= start {
		return nil
	}

	var lowest *Record
	cursor := start
	for _, r := range inv.records {
		rs, re := r.EffectiveStart(), r.EffectiveEnd()
		if re <= cursor {
			continue
		}
		if rs > cursor+coverTolerance {
			break
		}
		if lowest == nil || r.bitrate() < lowest.bitrate() {
			lowest = r
		}
		cursor = re
		if cursor >= end-coverTolerance {
			return lowest
		}
	}
	return nil
}

// RecordAt returns the record whose effective bounds contain t.
func (inv *Inventory) RecordAt(t float64) *Record {
	for _, r := range inv.records {
		if t >= r.EffectiveStart() && t < r.EffectiveEnd() {
			return r
		}
	}
	return nil
}

// RangesFor returns the ranges occupied by records matching keep.
func (inv *Inventory) RangesFor(keep func(*Record) bool) media.TimeRanges {
	var out media.TimeRanges
	for _, r := range inv.records {
		if keep(r) {
			out = out.Add(r.EffectiveStart(), r.EffectiveEnd())
		}
	}
	return out
}

// cut removes [start, end) from every record accepted by match.
func (inv *Inventory) cut(start, end float64, match func(*Record) bool) {
	out := make([]*Record, 0, len(inv.records)+1)
	for _, r := range inv.records {
		if r.End <= start || r.Start >= end || !match(r) {
			out = append(out, r)
			continue
		}
		if r.Start < start && start-r.Start >= minRecordDuration {
			left := *r
			left.End = start
			if left.Synced {
				left.BufferedEnd = math.Min(left.BufferedEnd, start)
			}
			if left.EffectiveEnd()-left.EffectiveStart() >= minRecordDuration {
				out = append(out, &left)
			}
		}
		if r.End > end && r.End-end >= minRecordDuration {
			right := *r
			right.Start = end
			if right.Synced {
				right.BufferedStart = math.Max(right.BufferedStart, end)
			}
			if right.EffectiveEnd()-right.EffectiveStart() >= minRecordDuration {
				out = append(out, &right)
			}
		}
	}
	inv.records = out
}

func (inv *Inventory) sort() {
	sort.SliceStable(inv.records, func(i, j int) bool {
		a, b := inv.records[i], inv.records[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.EffectiveStart() < b.EffectiveStart()
	})
}

func dropTiny(rs media.TimeRanges) media.TimeRanges {
	out := rs[:0:0]
	for _, r := range rs {
		if r.Duration() >= minRecordDuration {
			out = append(out, r)
		}
	}
	return out
}
