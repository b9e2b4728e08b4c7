package buffer

import (
	"strconv"

	"github.com/jmylchreest/playcore/internal/inventory"
	"github.com/jmylchreest/playcore/internal/media"
)

// prioritySteps are the distances ahead of the playhead, in seconds,
// delimiting the priority classes of media segments.
var prioritySteps = [...]float64{2, 4, 8, 12, 18, 25}

// InitPriority is the priority of initialization segments.
const InitPriority = 0

// lowLatencyHorizon is the distance under which live segments get the
// top priority in low-latency mode.
const lowLatencyHorizon = 2

// SegmentPriority returns the priority of a media segment starting at
// start when the playhead is at position. Lower is more urgent.
func SegmentPriority(start, position float64, lowLatency bool) int {
	delta := start - position
	if lowLatency && delta < lowLatencyHorizon {
		return InitPriority
	}
	for i, step := range prioritySteps {
		if delta < step {
			return i + 1
		}
	}
	return len(prioritySteps) + 1
}

// FilterContext is what ShouldDownload needs to know about the buffer
// asking.
type FilterContext struct {
	Period         *media.Period
	Adaptation     *media.Adaptation
	Representation *media.Representation
	Inventory      *inventory.Inventory
	// Ignore holds keys of segments that must not be requested, such as
	// those with an append still pending.
	Ignore             map[string]struct{}
	RebufferingRatio   float64
	MinSegmentDuration float64
}

// ShouldDownload reports whether seg has to be (re)downloaded to cover the
// wanted range.
func ShouldDownload(seg media.Segment, wanted media.TimeRange, fc FilterContext) bool {
	if seg.IsInit {
		return true
	}
	if _, ok := fc.Ignore[segmentKey(seg)]; ok {
		return false
	}
	if seg.Seconds() < fc.MinSegmentDuration {
		return false
	}

	rec := fc.Inventory.Query(wanted, seg)
	if rec == nil {
		return true
	}
	if rec.Period == nil || fc.Period == nil || rec.Period.ID != fc.Period.ID {
		// content of a later period is never overwritten
		return rec.Period == nil || fc.Period == nil || rec.Period.Start < fc.Period.Start
	}
	if rec.Adaptation == nil || fc.Adaptation == nil || rec.Adaptation.ID != fc.Adaptation.ID {
		return true
	}
	if rec.Representation == nil || fc.Representation == nil {
		return true
	}
	if rec.Representation.ID == fc.Representation.ID {
		return false
	}
	ratio := fc.RebufferingRatio
	if ratio < 1 {
		ratio = 1
	}
	return float64(fc.Representation.Bitrate) > float64(rec.Representation.Bitrate)*ratio
}

func segmentKey(seg media.Segment) string {
	if seg.IsInit {
		return "init:" + seg.ID
	}
	return seg.ID + "@" + strconv.FormatInt(seg.Time, 10)
}
