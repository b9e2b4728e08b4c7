package fetch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for thumbnails
	_ "image/png"
	"strconv"
	"strings"

	_ "golang.org/x/image/webp"

	"github.com/jmylchreest/playcore/internal/media"
)

var errNotWebVTT = errors.New("missing WEBVTT header")

// VTTParser parses WebVTT text segments into cues.
type VTTParser struct{}

// ParseInit implements Parser.
func (VTTParser) ParseInit([]byte) (*InitInfo, error) {
	return nil, nil
}

// ParseMedia implements Parser. Cue times are shifted by the segment
// timestamp offset.
func (VTTParser) ParseMedia(data []byte, seg media.Segment, _ *InitInfo) (*ParsedSegment, error) {
	cues, err := ParseWebVTT(data, seg.TimestampOffset)
	if err != nil {
		return nil, err
	}
	return &ParsedSegment{Data: data, Payload: cues}, nil
}

// ParseWebVTT parses a WebVTT document.
func ParseWebVTT(data []byte, offset float64) ([]media.Cue, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !sc.Scan() || !strings.HasPrefix(strings.TrimSpace(sc.Text()), "WEBVTT") {
		return nil, errNotWebVTT
	}

	cues := []media.Cue{}
	var (
		id   string
		cur  *media.Cue
		text []string
		skip bool
	)
	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(text, "\n")
			cues = append(cues, *cur)
		}
		cur, id, text = nil, "", nil
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.TrimSpace(line) == "":
			flush()
			skip = false
		case skip:
		case cur != nil:
			text = append(text, line)
		case strings.Contains(line, "-->"):
			start, end, settings, err := parseCueTiming(line)
			if err != nil {
				return nil, err
			}
			cur = &media.Cue{ID: id, Start: start + offset, End: end + offset, Settings: settings}
		case strings.HasPrefix(line, "NOTE") || strings.HasPrefix(line, "STYLE") || strings.HasPrefix(line, "REGION"):
			skip = true
		default:
			id = line
		}
	}
	flush()
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading webvtt: %w", err)
	}
	return cues, nil
}

func parseCueTiming(line string) (float64, float64, string, error) {
	left, right, _ := strings.Cut(line, "-->")
	fields := strings.Fields(right)
	if len(fields) == 0 {
		return 0, 0, "", fmt.Errorf("invalid cue timing %q", line)
	}
	start, err := parseVTTTimestamp(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, "", err
	}
	end, err := parseVTTTimestamp(fields[0])
	if err != nil {
		return 0, 0, "", err
	}
	return start, end, strings.Join(fields[1:], " "), nil
}

// parseVTTTimestamp parses "hh:mm:ss.ttt" or "mm:ss.ttt".
func parseVTTTimestamp(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	var total float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		if i < len(parts)-1 {
			total = (total + v) * 60
		} else {
			total += v
		}
	}
	return total, nil
}

// ImageParser decodes thumbnail image headers.
type ImageParser struct{}

// ParseInit implements Parser.
func (ImageParser) ParseInit([]byte) (*InitInfo, error) {
	return nil, nil
}

// ParseMedia implements Parser.
func (ImageParser) ParseMedia(data []byte, seg media.Segment, _ *InitInfo) (*ParsedSegment, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding thumbnail: %w", err)
	}
	return &ParsedSegment{
		Data: data,
		Payload: media.Thumbnail{
			Start:  seg.Start(),
			End:    seg.End(),
			Format: format,
			Width:  cfg.Width,
			Height: cfg.Height,
			Size:   len(data),
		},
	}, nil
}
