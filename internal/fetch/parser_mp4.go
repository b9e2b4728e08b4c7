package fetch

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"

	"github.com/jmylchreest/playcore/internal/media"
)

var errNoTracks = errors.New("no tracks in init segment")

// MP4Parser parses fragmented MP4 (CMAF) segments.
type MP4Parser struct{}

// ParseInit implements Parser.
func (MP4Parser) ParseInit(data []byte) (*InitInfo, error) {
	var init fmp4.Init
	if err := init.Unmarshal(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("parsing fmp4 init: %w", err)
	}
	if len(init.Tracks) == 0 {
		return nil, errNoTracks
	}

	info := &InitInfo{Timescales: make(map[int]uint32, len(init.Tracks))}
	for _, track := range init.Tracks {
		info.Timescales[track.ID] = track.TimeScale
		if info.Timescale == 0 {
			info.Timescale = track.TimeScale
			info.TrackID = track.ID
		}
	}
	return info, nil
}

// ParseMedia implements Parser. Timing is read from the fragment decode
// times and sample durations of the init segment's first track.
func (MP4Parser) ParseMedia(data []byte, _ media.Segment, init *InitInfo) (*ParsedSegment, error) {
	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("parsing fmp4 fragment: %w", err)
	}

	parsed := &ParsedSegment{Data: data}
	if init == nil || init.Timescale == 0 {
		return parsed, nil
	}

	var (
		found     bool
		baseTime  uint64
		total     uint64
		timescale = init.Timescale
	)
	for _, part := range parts {
		for _, track := range part.Tracks {
			if track.ID != init.TrackID {
				continue
			}
			if !found {
				baseTime = track.BaseTime
				found = true
			}
			for _, sample := range track.Samples {
				total += uint64(sample.Duration)
			}
		}
	}
	if !found {
		return parsed, nil
	}

	parsed.Timing = &TimingInfo{
		Start:    float64(baseTime) / float64(timescale),
		Duration: float64(total) / float64(timescale),
	}
	return parsed, nil
}
