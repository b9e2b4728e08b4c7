package manifest

import (
	"context"
	"fmt"
	"math"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"

	"github.com/jmylchreest/playcore/internal/media"
)

// hlsTimescale expresses HLS segment times in microseconds.
const hlsTimescale = 1_000_000

const hlsPeriodID = "hls"

// ParseHLS parses a multivariant or media playlist. Media playlists of a
// multivariant playlist are fetched with fetch. HLS content is a single
// period; live playlists place their first segment at media sequence times
// target duration so that refreshes line up.
func ParseHLS(ctx context.Context, fetch FetchFunc, rawURL string, data []byte) (*media.Manifest, error) {
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing HLS playlist: %w", err)
	}

	b := &hlsBuilder{ctx: ctx, fetch: fetch, start: math.Inf(1)}
	period := media.NewPeriod(hlsPeriodID, 0)

	switch pl := pl.(type) {
	case *playlist.Media:
		// a lone media playlist is treated as muxed content
		rep, err := b.representation(rawURL, "main", 0, "", media.TypeVideo, pl)
		if err != nil {
			return nil, err
		}
		period.AddAdaptation(&media.Adaptation{ID: "video", Type: media.TypeVideo, Representations: []*media.Representation{rep}})

	case *playlist.Multivariant:
		if err := b.multivariant(rawURL, pl, period); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("%w: unsupported HLS playlist %T", ErrUnknownFormat, pl)
	}

	if math.IsInf(b.start, 1) {
		b.start = 0
	}
	period.Start = b.start
	if !b.live {
		period.End = b.end
	}

	m := media.NewManifest(rawURL, []*media.Period{period}, b.live)
	if b.live {
		m.MinPosition = b.start
		m.MaxPosition = b.end
		m.RefreshInterval = b.target
	}
	return m, nil
}

type hlsBuilder struct {
	ctx   context.Context
	fetch FetchFunc

	live   bool
	start  float64
	end    float64
	target time.Duration
}

func (b *hlsBuilder) multivariant(rawURL string, mv *playlist.Multivariant, period *media.Period) error {
	video := &media.Adaptation{ID: "video", Type: media.TypeVideo}
	audioOnly := &media.Adaptation{ID: "audio", Type: media.TypeAudio}
	seen := make(map[string]struct{})

	for i, v := range mv.Variants {
		if v == nil {
			continue
		}
		uri, err := resolve(rawURL, v.URI)
		if err != nil {
			return err
		}
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}

		codecs := strings.Join(v.Codecs, ",")
		target := video
		if audioCodecsOnly(v.Codecs) {
			target = audioOnly
		}
		pl, err := b.mediaPlaylist(uri)
		if err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
		rep, err := b.representation(uri, fmt.Sprintf("v%d-%d", i, v.Bandwidth), v.Bandwidth, codecs, target.Type, pl)
		if err != nil {
			return fmt.Errorf("variant %d: %w", i, err)
		}
		rep.Width, rep.Height = parseResolution(v.Resolution)
		target.Representations = append(target.Representations, rep)
	}
	if len(video.Representations) > 0 {
		period.AddAdaptation(video)
	}
	if len(audioOnly.Representations) > 0 {
		period.AddAdaptation(audioOnly)
	}

	for _, r := range mv.Renditions {
		if r == nil || r.URI == nil || *r.URI == "" {
			// muxed into the variant streams
			continue
		}
		var t media.Type
		switch r.Type {
		case playlist.MultivariantRenditionTypeAudio:
			t = media.TypeAudio
		case playlist.MultivariantRenditionTypeSubtitles:
			t = media.TypeText
		default:
			continue
		}
		uri, err := resolve(rawURL, *r.URI)
		if err != nil {
			return err
		}
		if _, dup := seen[uri]; dup {
			continue
		}
		seen[uri] = struct{}{}

		pl, err := b.mediaPlaylist(uri)
		if err != nil {
			return fmt.Errorf("rendition %s/%s: %w", r.GroupID, r.Name, err)
		}
		id := fmt.Sprintf("%s-%s-%s", t, r.GroupID, r.Name)
		rep, err := b.representation(uri, id, 0, "", t, pl)
		if err != nil {
			return fmt.Errorf("rendition %s/%s: %w", r.GroupID, r.Name, err)
		}
		period.AddAdaptation(&media.Adaptation{
			ID:              id,
			Type:            t,
			Language:        r.Language,
			Representations: []*media.Representation{rep},
		})
	}

	if len(period.Adaptations) == 0 {
		return fmt.Errorf("multivariant playlist %s has no playable stream", rawURL)
	}
	return nil
}

func (b *hlsBuilder) mediaPlaylist(uri string) (*playlist.Media, error) {
	data, err := b.fetch(b.ctx, uri)
	if err != nil {
		return nil, err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing media playlist %s: %w", uri, err)
	}
	mp, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("%s is not a media playlist", uri)
	}
	return mp, nil
}

// representation builds a representation from a media playlist.
func (b *hlsBuilder) representation(base, id string, bitrate int, codecs string, t media.Type, pl *playlist.Media) (*media.Representation, error) {
	target := time.Duration(pl.TargetDuration) * time.Second
	if target > b.target {
		b.target = target
	}
	if !pl.Endlist {
		b.live = true
	}

	var cur int64
	if !pl.Endlist {
		cur = int64(pl.MediaSequence) * int64(target/time.Microsecond)
	}
	b.start = math.Min(b.start, float64(cur)/hlsTimescale)

	var init *media.Segment
	if pl.Map != nil {
		u, err := resolve(base, pl.Map.URI)
		if err != nil {
			return nil, err
		}
		init = &media.Segment{ID: id + "-init", IsInit: true, URL: u}
		if pl.Map.ByteRangeLength != nil {
			var start uint64
			if pl.Map.ByteRangeStart != nil {
				start = *pl.Map.ByteRangeStart
			}
			init.Range = &media.ByteRange{Start: int64(start), End: int64(start + *pl.Map.ByteRangeLength - 1)}
		}
	}

	segments := make([]media.Segment, 0, len(pl.Segments))
	var (
		lastURI    string
		nextOffset uint64
		firstURI   string
	)
	for i, s := range pl.Segments {
		if s == nil {
			continue
		}
		dur := int64(s.Duration / time.Microsecond)
		seq := pl.MediaSequence + i
		if s.Gap {
			cur += dur
			continue
		}
		u, err := resolve(base, s.URI)
		if err != nil {
			return nil, err
		}
		if firstURI == "" {
			firstURI = u
		}
		seg := media.Segment{
			ID:        fmt.Sprintf("%s-%d", id, seq),
			Time:      cur,
			Duration:  dur,
			Timescale: hlsTimescale,
			URL:       u,
		}
		if s.ByteRangeLength != nil {
			start := nextOffset
			if s.ByteRangeStart != nil || u != lastURI {
				start = 0
				if s.ByteRangeStart != nil {
					start = *s.ByteRangeStart
				}
			}
			seg.Range = &media.ByteRange{Start: int64(start), End: int64(start + *s.ByteRangeLength - 1)}
			nextOffset = start + *s.ByteRangeLength
		}
		lastURI = u
		segments = append(segments, seg)
		cur += dur
	}
	b.end = math.Max(b.end, float64(cur)/hlsTimescale)

	return &media.Representation{
		ID:       id,
		Bitrate:  bitrate,
		Codecs:   codecs,
		MimeType: hlsMimeType(t, pl.Map != nil, firstURI),
		Index:    media.NewListIndex(init, segments, pl.Endlist),
	}, nil
}

func hlsMimeType(t media.Type, fmp4 bool, segmentURL string) string {
	ext := strings.ToLower(path.Ext(stripQuery(segmentURL)))
	switch {
	case t == media.TypeText || ext == ".vtt" || ext == ".webvtt":
		if fmp4 {
			return "application/mp4"
		}
		return "text/vtt"
	case fmp4 || ext == ".mp4" || ext == ".m4s" || ext == ".m4a" || ext == ".m4v":
		if t == media.TypeAudio {
			return "audio/mp4"
		}
		return "video/mp4"
	case ext == ".aac":
		return "audio/aac"
	}
	if t == media.TypeAudio {
		return "audio/mp2t"
	}
	return "video/mp2t"
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

var audioCodecPrefixes = []string{"mp4a", "ac-3", "ec-3", "opus", "flac", "mp3"}

func audioCodecsOnly(codecs []string) bool {
	if len(codecs) == 0 {
		return false
	}
	for _, c := range codecs {
		audio := false
		for _, p := range audioCodecPrefixes {
			if strings.HasPrefix(strings.ToLower(strings.TrimSpace(c)), p) {
				audio = true
				break
			}
		}
		if !audio {
			return false
		}
	}
	return true
}

func parseResolution(s string) (int, int) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return 0, 0
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil {
		return 0, 0
	}
	return width, height
}
