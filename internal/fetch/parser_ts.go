package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/asticode/go-astits"

	"github.com/jmylchreest/playcore/internal/media"
)

// MPEG-TS clock rate and packet size.
const (
	tsClockRate  = 90000
	tsPacketSize = 188
)

var errNoPTS = errors.New("no timestamped PES packet in transport stream")

// TSParser parses MPEG transport stream segments.
type TSParser struct{}

// ParseInit implements Parser. Transport streams carry no init segment.
func (TSParser) ParseInit([]byte) (*InitInfo, error) {
	return nil, nil
}

// ParseMedia implements Parser. The segment start is the lowest PTS found;
// the duration comes from the manifest since the last frame duration is not
// known from timestamps alone.
func (TSParser) ParseMedia(data []byte, seg media.Segment, _ *InitInfo) (*ParsedSegment, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dmx := astits.NewDemuxer(ctx, bytes.NewReader(data), astits.DemuxerOptPacketSize(tsPacketSize))
	var (
		minPTS int64 = -1
		maxPTS int64 = -1
	)
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			return nil, fmt.Errorf("demuxing transport stream: %w", err)
		}
		if d.PES == nil || d.PES.Header == nil || d.PES.Header.OptionalHeader == nil {
			continue
		}
		pts := d.PES.Header.OptionalHeader.PTS
		if pts == nil {
			continue
		}
		if minPTS < 0 || pts.Base < minPTS {
			minPTS = pts.Base
		}
		if pts.Base > maxPTS {
			maxPTS = pts.Base
		}
	}
	if minPTS < 0 {
		return nil, errNoPTS
	}

	duration := seg.Seconds()
	if duration == 0 {
		duration = float64(maxPTS-minPTS) / tsClockRate
	}
	return &ParsedSegment{
		Data: data,
		Timing: &TimingInfo{
			Start:    float64(minPTS) / tsClockRate,
			Duration: duration,
		},
	}, nil
}
