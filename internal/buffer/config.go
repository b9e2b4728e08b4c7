package buffer

import (
	"fmt"
	"math"
)

// SwitchingMode controls how manual bitrate changes are applied.
type SwitchingMode string

// Switching modes.
const (
	// SwitchSeamless lets already buffered content play out.
	SwitchSeamless SwitchingMode = "seamless"
	// SwitchDirect removes buffered content of the old quality ahead of
	// the playhead.
	SwitchDirect SwitchingMode = "direct"
)

// Config holds the buffering settings of a session.
type Config struct {
	// WantedBufferAhead is the buffer goal in seconds ahead of the playhead.
	WantedBufferAhead float64
	// MaxBufferAhead and MaxBufferBehind bound what is kept in sinks.
	// Zero disables the bound.
	MaxBufferAhead  float64
	MaxBufferBehind float64
	// WantedBehind is how much content behind the playhead is still
	// scheduled for download.
	WantedBehind float64

	// RebufferingRatio is how much higher a bitrate must be before already
	// buffered content is replaced by it.
	RebufferingRatio float64
	// MinSegmentDuration filters out segments too short to be played.
	MinSegmentDuration float64
	// DiscontinuityThreshold is the largest gap seeked over when stalled
	// on a live stream.
	DiscontinuityThreshold float64
	LowLatency             bool

	SwitchingMode SwitchingMode
	// ReloadOnVideoSwitch asks for a media source reload when switching the
	// video track while playing inside the buffered content.
	ReloadOnVideoSwitch bool

	PreferredAudioLanguage string
	PreferredTextLanguage  string
}

// DefaultConfig returns the default buffering settings.
func DefaultConfig() Config {
	return Config{
		WantedBufferAhead:      30,
		RebufferingRatio:       1.5,
		MinSegmentDuration:     0.005,
		DiscontinuityThreshold: 0.1,
		SwitchingMode:          SwitchSeamless,
		ReloadOnVideoSwitch:    true,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.WantedBufferAhead <= 0 {
		return fmt.Errorf("wanted buffer ahead must be positive, got %v", c.WantedBufferAhead)
	}
	if c.MaxBufferAhead < 0 || c.MaxBufferBehind < 0 || c.WantedBehind < 0 {
		return fmt.Errorf("buffer bounds must not be negative")
	}
	if c.RebufferingRatio < 1 {
		return fmt.Errorf("rebuffering ratio must be at least 1, got %v", c.RebufferingRatio)
	}
	switch c.SwitchingMode {
	case SwitchSeamless, SwitchDirect:
	default:
		return fmt.Errorf("unknown switching mode %q", c.SwitchingMode)
	}
	return nil
}

// aheadGoal is the effective buffer goal.
func (c Config) aheadGoal() float64 {
	goal := c.WantedBufferAhead
	if c.MaxBufferAhead > 0 {
		goal = math.Min(goal, c.MaxBufferAhead)
	}
	return goal
}

func (c *Config) apply(g SetBufferGoal) {
	if g.WantedAhead >= 0 {
		c.WantedBufferAhead = g.WantedAhead
	}
	if g.MaxAhead >= 0 {
		c.MaxBufferAhead = g.MaxAhead
	}
	if g.MaxBehind >= 0 {
		c.MaxBufferBehind = g.MaxBehind
	}
}
