package buffer

import (
	"github.com/jmylchreest/playcore/internal/media"
)

// SwitchStrategyKind is how an adaptation switch is applied.
type SwitchStrategyKind int

// Switch strategies.
const (
	// StrategyContinue keeps buffered content.
	StrategyContinue SwitchStrategyKind = iota
	// StrategyCleanBuffer removes the content of the period away from the
	// playhead before buffering the new track.
	StrategyCleanBuffer
	// StrategyNeedsReload asks for the whole media source to be recreated.
	StrategyNeedsReload
)

func (k SwitchStrategyKind) String() string {
	switch k {
	case StrategyCleanBuffer:
		return "clean-buffer"
	case StrategyNeedsReload:
		return "needs-reload"
	default:
		return "continue"
	}
}

// SwitchStrategy is the outcome of ComputeSwitchStrategy. Ranges lists what
// to remove for StrategyCleanBuffer.
type SwitchStrategy struct {
	Kind   SwitchStrategyKind
	Ranges media.TimeRanges
}

type switchPadding struct {
	before float64
	after  float64
}

// switchPaddings is the content kept around the playhead on a track switch,
// so playback does not stall while the new track loads.
var switchPaddings = map[media.Type]switchPadding{
	media.TypeVideo: {before: 5, after: 5},
	media.TypeAudio: {before: 2, after: 2.5},
	media.TypeText:  {before: 0, after: 0},
	media.TypeImage: {before: 0, after: 0},
}

// ComputeSwitchStrategy decides how to switch the track of t in period
// given what the sink holds. reloadOnVideoSwitch enables the reload
// fallback for video switches while playing inside buffered content.
func ComputeSwitchStrategy(t media.Type, period *media.Period, buffered media.TimeRanges, tick Tick, reloadOnVideoSwitch bool) SwitchStrategy {
	inPeriod := buffered.Intersect(media.TimeRanges{{Start: period.Start, End: period.End}})
	if len(inPeriod) == 0 {
		return SwitchStrategy{Kind: StrategyContinue}
	}

	pos := tick.Position
	if reloadOnVideoSwitch && t == media.TypeVideo && tick.ReadyState > 1 && inPeriod.Contains(pos) {
		return SwitchStrategy{Kind: StrategyNeedsReload}
	}

	pad := switchPaddings[t]
	toClean := inPeriod.Remove(pos-pad.before, pos+pad.after)
	if len(toClean) == 0 {
		return SwitchStrategy{Kind: StrategyContinue}
	}
	return SwitchStrategy{Kind: StrategyCleanBuffer, Ranges: toClean}
}
