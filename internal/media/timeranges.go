package media

import (
	"fmt"
	"math"
	"strings"
)

// rangeEpsilon is the distance under which two range edges are considered
// to touch.
const rangeEpsilon = 1e-3

// TimeRange is a half-open [Start, End) interval in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether the two ranges intersect.
func (r TimeRange) Overlaps(o TimeRange) bool {
	return r.Start < o.End && o.Start < r.End
}

// TimeRanges is a sorted list of non-overlapping ranges. Operations return
// new slices and leave the receiver untouched.
type TimeRanges []TimeRange

// Clone returns a copy.
func (rs TimeRanges) Clone() TimeRanges {
	if rs == nil {
		return nil
	}
	out := make(TimeRanges, len(rs))
	copy(out, rs)
	return out
}

// Add inserts [start, end), merging touching ranges.
func (rs TimeRanges) Add(start, end float64) TimeRanges {
	if end-start <= 0 {
		return rs.Clone()
	}
	out := make(TimeRanges, 0, len(rs)+1)
	inserted := false
	cur := TimeRange{Start: start, End: end}
	for _, r := range rs {
		switch {
		case r.End < cur.Start-rangeEpsilon:
			out = append(out, r)
		case r.Start > cur.End+rangeEpsilon:
			if !inserted {
				out = append(out, cur)
				inserted = true
			}
			out = append(out, r)
		default:
			cur.Start = math.Min(cur.Start, r.Start)
			cur.End = math.Max(cur.End, r.End)
		}
	}
	if !inserted {
		out = append(out, cur)
	}
	return out
}

// Remove deletes [start, end) from the ranges.
func (rs TimeRanges) Remove(start, end float64) TimeRanges {
	out := make(TimeRanges, 0, len(rs)+1)
	for _, r := range rs {
		if r.End <= start || r.Start >= end {
			out = append(out, r)
			continue
		}
		if r.Start < start {
			out = append(out, TimeRange{Start: r.Start, End: start})
		}
		if r.End > end {
			out = append(out, TimeRange{Start: end, End: r.End})
		}
	}
	return out
}

// Intersect keeps the parts of rs also covered by other.
func (rs TimeRanges) Intersect(other TimeRanges) TimeRanges {
	var out TimeRanges
	for _, a := range rs {
		for _, b := range other {
			start := math.Max(a.Start, b.Start)
			end := math.Min(a.End, b.End)
			if end > start {
				out = append(out, TimeRange{Start: start, End: end})
			}
		}
	}
	return out
}

// Exclude removes every range of other from rs.
func (rs TimeRanges) Exclude(other TimeRanges) TimeRanges {
	out := rs.Clone()
	for _, r := range other {
		out = out.Remove(r.Start, r.End)
	}
	return out
}

// RangeAt returns the range containing t.
func (rs TimeRanges) RangeAt(t float64) (TimeRange, bool) {
	for _, r := range rs {
		if r.Contains(t) {
			return r, true
		}
	}
	return TimeRange{}, false
}

// Contains reports whether t is buffered.
func (rs TimeRanges) Contains(t float64) bool {
	_, ok := rs.RangeAt(t)
	return ok
}

// BufferedAhead returns how much contiguous content follows t.
func (rs TimeRanges) BufferedAhead(t float64) float64 {
	r, ok := rs.RangeAt(t)
	if !ok {
		return 0
	}
	return r.End - t
}

// NextRangeGap returns the distance between t and the start of the next
// range starting after t, or +Inf when there is none.
func (rs TimeRanges) NextRangeGap(t float64) float64 {
	for _, r := range rs {
		if r.Start > t {
			return r.Start - t
		}
	}
	return math.Inf(1)
}

// Duration returns the total buffered duration.
func (rs TimeRanges) Duration() float64 {
	var total float64
	for _, r := range rs {
		total += r.Duration()
	}
	return total
}

func (rs TimeRanges) String() string {
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = fmt.Sprintf("[%.3f, %.3f)", r.Start, r.End)
	}
	return strings.Join(parts, " ")
}
