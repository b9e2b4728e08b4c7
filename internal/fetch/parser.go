package fetch

import (
	"math"
	"strings"

	"github.com/jmylchreest/playcore/internal/media"
)

// InitInfo is what parsing an initialization segment yields for the media
// segments that follow it.
type InitInfo struct {
	// Timescale of the first track, used when a fragment does not name
	// its track.
	Timescale uint32
	TrackID   int
	// Timescales by track id.
	Timescales map[int]uint32
}

// TimingInfo is segment timing decoded from the payload.
type TimingInfo struct {
	// Start and Duration are in seconds on the media timeline, before the
	// segment timestamp offset is applied.
	Start    float64
	Duration float64
}

// ParsedSegment is a normalized segment ready to be appended.
type ParsedSegment struct {
	Data    []byte
	Payload any
	Timing  *TimingInfo
	// Offset is the timestamp offset the sink should apply.
	Offset float64
}

// Bounds returns the presentation range of the parsed segment. Decoded
// timing wins when it agrees with the manifest within half a segment;
// otherwise the manifest timing is used.
func (p *ParsedSegment) Bounds(seg media.Segment) (float64, float64) {
	start, end := seg.Start(), seg.End()
	if p == nil || p.Timing == nil {
		return start, end
	}
	decoded := p.Timing.Start + seg.TimestampOffset
	if math.Abs(decoded-start) > seg.Seconds()/2+0.1 {
		return start, end
	}
	if p.Timing.Duration > 0 {
		return decoded, decoded + p.Timing.Duration
	}
	return decoded, decoded + seg.Seconds()
}

// Parser turns raw segment bytes into ParsedSegments.
type Parser interface {
	// ParseInit parses an initialization segment. It may return nil info
	// when the format carries nothing useful in it.
	ParseInit(data []byte) (*InitInfo, error)

	// ParseMedia parses a media segment.
	ParseMedia(data []byte, seg media.Segment, init *InitInfo) (*ParsedSegment, error)
}

// ParserFor selects the parser for a representation mime type.
func ParserFor(mimeType string) Parser {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	switch {
	case strings.HasSuffix(mt, "/mp4") || mt == "application/mp4" || strings.HasSuffix(mt, "/iso.segment"):
		return MP4Parser{}
	case mt == "video/mp2t" || mt == "audio/mp2t":
		return TSParser{}
	case mt == "text/vtt":
		return VTTParser{}
	case strings.HasPrefix(mt, "image/"):
		return ImageParser{}
	default:
		return PassthroughParser{}
	}
}

// PassthroughParser hands payloads through untouched.
type PassthroughParser struct{}

// ParseInit implements Parser.
func (PassthroughParser) ParseInit([]byte) (*InitInfo, error) {
	return nil, nil
}

// ParseMedia implements Parser.
func (PassthroughParser) ParseMedia(data []byte, _ media.Segment, _ *InitInfo) (*ParsedSegment, error) {
	return &ParsedSegment{Data: data}, nil
}
