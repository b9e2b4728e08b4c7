package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange is an inclusive HTTP byte range.
type ByteRange struct {
	Start int64
	End   int64
}

// Header formats the range as an HTTP Range header value.
func (r ByteRange) Header() string {
	return fmt.Sprintf("bytes=%d-%d", r.Start, r.End)
}

// ParseByteRange parses "start-end".
func ParseByteRange(s string) (*ByteRange, error) {
	parts := strings.SplitN(strings.TrimSpace(s), "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid byte range %q", s)
	}
	start, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range start %q: %w", s, err)
	}
	end, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range end %q: %w", s, err)
	}
	if end < start {
		return nil, fmt.Errorf("invalid byte range %q: end before start", s)
	}
	return &ByteRange{Start: start, End: end}, nil
}

// Segment is a time-bounded chunk of a representation. Segments are
// immutable once described by the manifest.
type Segment struct {
	// ID identifies the segment within its representation.
	ID string

	// Time and Duration are expressed in Timescale units.
	Time      int64
	Duration  int64
	Timescale uint32

	// IsInit marks an initialization segment, which has no timing.
	IsInit bool

	URL        string
	Range      *ByteRange
	IndexRange *ByteRange

	// TimestampOffset is added to parsed media times to obtain
	// presentation times (e.g. -presentationTimeOffset + period start).
	TimestampOffset float64
}

// Start returns the presentation start in seconds.
func (s Segment) Start() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.Time) / float64(s.Timescale)
}

// End returns the presentation end in seconds.
func (s Segment) End() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.Time+s.Duration) / float64(s.Timescale)
}

// Seconds returns the segment duration in seconds.
func (s Segment) Seconds() float64 {
	if s.Timescale == 0 {
		return 0
	}
	return float64(s.Duration) / float64(s.Timescale)
}

// Same reports whether two segment descriptions designate the same segment.
func (s Segment) Same(o Segment) bool {
	return s.ID == o.ID && s.IsInit == o.IsInit && s.Time == o.Time && s.URL == o.URL
}

func (s Segment) String() string {
	if s.IsInit {
		return "init(" + s.ID + ")"
	}
	return fmt.Sprintf("seg(%s %.3f-%.3f)", s.ID, s.Start(), s.End())
}
