package manifest

import (
	"encoding/xml"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/playcore/internal/media"
)

// MPD is the root element of a Media Presentation Description.
type MPD struct {
	XMLName                   xml.Name `xml:"MPD"`
	Type                      string   `xml:"type,attr"`
	MediaPresentationDuration string   `xml:"mediaPresentationDuration,attr"`
	MinimumUpdatePeriod       string   `xml:"minimumUpdatePeriod,attr"`
	TimeShiftBufferDepth      string   `xml:"timeShiftBufferDepth,attr"`
	AvailabilityStartTime     string   `xml:"availabilityStartTime,attr"`
	BaseURL                   string   `xml:"BaseURL"`
	Periods                   []Period `xml:"Period"`
}

// Period represents a media content period.
type Period struct {
	ID       string          `xml:"id,attr"`
	Start    string          `xml:"start,attr"`
	Duration string          `xml:"duration,attr"`
	BaseURL  string          `xml:"BaseURL"`
	Sets     []AdaptationSet `xml:"AdaptationSet"`
}

// AdaptationSet represents a set of interchangeable representations.
type AdaptationSet struct {
	ID              string           `xml:"id,attr"`
	ContentType     string           `xml:"contentType,attr"`
	Lang            string           `xml:"lang,attr"`
	MimeType        string           `xml:"mimeType,attr"`
	Codecs          string           `xml:"codecs,attr"`
	BaseURL         string           `xml:"BaseURL"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentBase     *SegmentBase     `xml:"SegmentBase"`
	SegmentList     *SegmentList     `xml:"SegmentList"`
	Representations []Representation `xml:"Representation"`
}

// Representation represents a specific media stream.
type Representation struct {
	ID              string           `xml:"id,attr"`
	Bandwidth       int              `xml:"bandwidth,attr"`
	Codecs          string           `xml:"codecs,attr"`
	MimeType        string           `xml:"mimeType,attr"`
	Width           int              `xml:"width,attr"`
	Height          int              `xml:"height,attr"`
	BaseURL         string           `xml:"BaseURL"`
	SegmentTemplate *SegmentTemplate `xml:"SegmentTemplate"`
	SegmentBase     *SegmentBase     `xml:"SegmentBase"`
	SegmentList     *SegmentList     `xml:"SegmentList"`
}

// SegmentTemplate defines the URL structure for segments.
type SegmentTemplate struct {
	Timescale              uint32           `xml:"timescale,attr"`
	Duration               uint64           `xml:"duration,attr"`
	StartNumber            *uint64          `xml:"startNumber,attr"`
	PresentationTimeOffset uint64           `xml:"presentationTimeOffset,attr"`
	Initialization         string           `xml:"initialization,attr"`
	Media                  string           `xml:"media,attr"`
	Timeline               *SegmentTimeline `xml:"SegmentTimeline"`
}

// SegmentTimeline lists segments explicitly.
type SegmentTimeline struct {
	Segments []S `xml:"S"`
}

// S is a run of segments of equal duration.
type S struct {
	T *uint64 `xml:"t,attr"`
	D uint64  `xml:"d,attr"`
	R int     `xml:"r,attr"`
}

// URLType is an Initialization or RepresentationIndex element.
type URLType struct {
	SourceURL string `xml:"sourceURL,attr"`
	Range     string `xml:"range,attr"`
}

// SegmentBase describes a single-segment representation with an index.
type SegmentBase struct {
	Timescale              uint32   `xml:"timescale,attr"`
	PresentationTimeOffset uint64   `xml:"presentationTimeOffset,attr"`
	IndexRange             string   `xml:"indexRange,attr"`
	Initialization         *URLType `xml:"Initialization"`
}

// SegmentList lists segment URLs with a constant duration.
type SegmentList struct {
	Timescale      uint32       `xml:"timescale,attr"`
	Duration       uint64       `xml:"duration,attr"`
	Initialization *URLType     `xml:"Initialization"`
	SegmentURLs    []SegmentURL `xml:"SegmentURL"`
}

// SegmentURL is one entry of a SegmentList.
type SegmentURL struct {
	Media      string `xml:"media,attr"`
	MediaRange string `xml:"mediaRange,attr"`
}

// ParseDASH parses an MPD. now positions the live edge of dynamic
// presentations.
func ParseDASH(rawURL string, data []byte, now time.Time) (*media.Manifest, error) {
	var mpd MPD
	if err := xml.Unmarshal(data, &mpd); err != nil {
		return nil, fmt.Errorf("unmarshalling MPD: %w", err)
	}
	b, err := newDashBuilder(rawURL, &mpd, now)
	if err != nil {
		return nil, err
	}
	return b.build()
}

type dashBuilder struct {
	mpd  *MPD
	base string
	live bool

	presentationDuration float64
	timeShiftDepth       float64
	// liveEdge is the presentation time available now, for dynamic MPDs.
	liveEdge float64
}

func newDashBuilder(rawURL string, mpd *MPD, now time.Time) (*dashBuilder, error) {
	base, err := resolve(rawURL, mpd.BaseURL)
	if err != nil {
		return nil, err
	}
	b := &dashBuilder{mpd: mpd, base: base, live: mpd.Type == "dynamic"}

	if b.presentationDuration, err = parseOptionalDuration(mpd.MediaPresentationDuration, math.Inf(1)); err != nil {
		return nil, fmt.Errorf("mediaPresentationDuration: %w", err)
	}
	if b.timeShiftDepth, err = parseOptionalDuration(mpd.TimeShiftBufferDepth, math.Inf(1)); err != nil {
		return nil, fmt.Errorf("timeShiftBufferDepth: %w", err)
	}
	if b.live {
		ast := time.Unix(0, 0)
		if mpd.AvailabilityStartTime != "" {
			if ast, err = time.Parse(time.RFC3339, mpd.AvailabilityStartTime); err != nil {
				return nil, fmt.Errorf("availabilityStartTime: %w", err)
			}
		}
		b.liveEdge = now.Sub(ast).Seconds()
	}
	return b, nil
}

func (b *dashBuilder) build() (*media.Manifest, error) {
	if len(b.mpd.Periods) == 0 {
		return nil, fmt.Errorf("MPD has no period")
	}

	periods := make([]*media.Period, 0, len(b.mpd.Periods))
	var prev *media.Period
	var prevDuration float64
	for i := range b.mpd.Periods {
		p := &b.mpd.Periods[i]
		start, err := parseOptionalDuration(p.Start, math.NaN())
		if err != nil {
			return nil, fmt.Errorf("period %d start: %w", i, err)
		}
		if math.IsNaN(start) {
			start = 0
			if prev != nil && !math.IsNaN(prevDuration) {
				start = prev.Start + prevDuration
			}
		}
		duration, err := parseOptionalDuration(p.Duration, math.NaN())
		if err != nil {
			return nil, fmt.Errorf("period %d duration: %w", i, err)
		}
		id := p.ID
		if id == "" {
			id = fmt.Sprintf("period-%d", i)
		}
		period := media.NewPeriod(id, start)
		if !math.IsNaN(duration) {
			period.End = start + duration
		}
		if prev != nil && !prev.HasEnd() {
			prev.End = start
		}
		periods = append(periods, period)
		prev, prevDuration = period, duration
	}
	if last := periods[len(periods)-1]; !last.HasEnd() && !math.IsInf(b.presentationDuration, 1) {
		last.End = b.presentationDuration
	}

	for i, period := range periods {
		p := &b.mpd.Periods[i]
		periodBase, err := resolve(b.base, p.BaseURL)
		if err != nil {
			return nil, err
		}
		for j := range p.Sets {
			a, err := b.adaptation(period, periodBase, &p.Sets[j], j)
			if err != nil {
				return nil, fmt.Errorf("period %s: %w", period.ID, err)
			}
			if a != nil {
				period.AddAdaptation(a)
			}
		}
	}

	m := media.NewManifest(b.base, periods, b.live)
	if b.live {
		m.MaxPosition = b.liveEdge
		if !math.IsInf(b.timeShiftDepth, 1) {
			m.MinPosition = math.Max(0, b.liveEdge-b.timeShiftDepth)
		}
		if refresh, err := parseOptionalDuration(b.mpd.MinimumUpdatePeriod, 0); err == nil && refresh > 0 {
			m.RefreshInterval = seconds(refresh)
		}
	}
	return m, nil
}

func (b *dashBuilder) adaptation(period *media.Period, base string, set *AdaptationSet, index int) (*media.Adaptation, error) {
	setBase, err := resolve(base, set.BaseURL)
	if err != nil {
		return nil, err
	}
	id := set.ID
	if id == "" {
		id = strconv.Itoa(index)
	}

	a := &media.Adaptation{ID: id, Language: set.Lang}
	for i := range set.Representations {
		r := &set.Representations[i]
		mimeType := firstNonEmpty(r.MimeType, set.MimeType)
		codecs := firstNonEmpty(r.Codecs, set.Codecs)
		t, ok := contentType(set.ContentType, mimeType, codecs)
		if !ok {
			continue
		}
		a.Type = t

		repBase, err := resolve(setBase, r.BaseURL)
		if err != nil {
			return nil, err
		}
		tpl := r.SegmentTemplate
		if tpl == nil {
			tpl = set.SegmentTemplate
		}
		segBase := r.SegmentBase
		if segBase == nil {
			segBase = set.SegmentBase
		}
		list := r.SegmentList
		if list == nil {
			list = set.SegmentList
		}

		var idx *media.ListIndex
		switch {
		case tpl != nil:
			idx, err = b.templateIndex(period, repBase, tpl, r)
		case list != nil:
			idx, err = b.listIndex(period, repBase, list, r.ID)
		default:
			idx, err = b.baseIndex(period, repBase, segBase, r.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("representation %s: %w", r.ID, err)
		}
		a.Representations = append(a.Representations, &media.Representation{
			ID:       r.ID,
			Bitrate:  r.Bandwidth,
			Codecs:   codecs,
			MimeType: mimeType,
			Width:    r.Width,
			Height:   r.Height,
			Index:    idx,
		})
	}
	if len(a.Representations) == 0 {
		return nil, nil
	}
	return a, nil
}

// contentType infers the media type of a representation.
func contentType(declared, mimeType, codecs string) (media.Type, bool) {
	switch declared {
	case "video", "audio", "text", "image":
		return media.Type(declared), true
	}
	mt := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mt, "video/"):
		return media.TypeVideo, true
	case strings.HasPrefix(mt, "audio/"):
		return media.TypeAudio, true
	case strings.HasPrefix(mt, "text/"), mt == "application/ttml+xml":
		return media.TypeText, true
	case strings.HasPrefix(mt, "image/"):
		return media.TypeImage, true
	case mt == "application/mp4":
		c := strings.ToLower(codecs)
		if strings.HasPrefix(c, "stpp") || strings.HasPrefix(c, "wvtt") {
			return media.TypeText, true
		}
	}
	return "", false
}

// timing converts a media time to a presentation segment time.
type timing struct {
	timescale uint32
	pto       uint64
	period    *media.Period
}

// toPresentation returns t on the presentation timeline in timescale units.
func (tm timing) toPresentation(t uint64) int64 {
	return int64(t) - int64(tm.pto) + int64(math.Round(tm.period.Start*float64(tm.timescale)))
}

func (tm timing) offset() float64 {
	return tm.period.Start - float64(tm.pto)/float64(tm.timescale)
}

// availableEnd is the end of the content that may be listed for the
// period, in seconds.
func (b *dashBuilder) availableEnd(period *media.Period) float64 {
	end := period.End
	if b.live {
		end = math.Min(end, b.liveEdge)
	}
	return end
}

// behindWindow reports whether a segment ending at media time end has left
// the time shift window of a live presentation.
func (b *dashBuilder) behindWindow(tm timing, end uint64) bool {
	if !b.live || math.IsInf(b.timeShiftDepth, 1) {
		return false
	}
	return float64(tm.toPresentation(end))/float64(tm.timescale) < b.liveEdge-b.timeShiftDepth
}

func (b *dashBuilder) templateIndex(period *media.Period, base string, tpl *SegmentTemplate, r *Representation) (*media.ListIndex, error) {
	tm := timing{timescale: tpl.Timescale, pto: tpl.PresentationTimeOffset, period: period}
	if tm.timescale == 0 {
		tm.timescale = 1
	}
	startNumber := uint64(1)
	if tpl.StartNumber != nil {
		startNumber = *tpl.StartNumber
	}
	vars := templateVars{representationID: r.ID, bandwidth: r.Bandwidth}

	var init *media.Segment
	if tpl.Initialization != "" {
		u, err := resolve(base, expandTemplate(tpl.Initialization, vars))
		if err != nil {
			return nil, err
		}
		init = &media.Segment{ID: r.ID + "-init", IsInit: true, URL: u}
	}

	var segments []media.Segment
	add := func(number, t, d uint64) error {
		v := vars
		v.number, v.time = number, t
		u, err := resolve(base, expandTemplate(tpl.Media, v))
		if err != nil {
			return err
		}
		segments = append(segments, media.Segment{
			ID:              fmt.Sprintf("%s-%d", r.ID, number),
			Time:            tm.toPresentation(t),
			Duration:        int64(d),
			Timescale:       tm.timescale,
			URL:             u,
			TimestampOffset: tm.offset(),
		})
		return nil
	}

	end := b.availableEnd(period)
	limit := func(t uint64) bool {
		return math.IsInf(end, 1) || float64(tm.toPresentation(t))/float64(tm.timescale) < end-1e-6
	}

	switch {
	case tpl.Timeline != nil:
		var t uint64
		number := startNumber
		for i, s := range tpl.Timeline.Segments {
			if s.T != nil {
				t = *s.T
			}
			repeat := s.R
			if repeat < 0 {
				// repeat until the next S or the end of the period
				next := math.Inf(1)
				if i+1 < len(tpl.Timeline.Segments) && tpl.Timeline.Segments[i+1].T != nil {
					next = float64(*tpl.Timeline.Segments[i+1].T)
				}
				if math.IsInf(next, 1) && math.IsInf(end, 1) {
					repeat = 0
				} else {
					stop := next
					if math.IsInf(stop, 1) {
						stop = (end - tm.offset()) * float64(tm.timescale)
					}
					repeat = int(math.Ceil((stop-float64(t))/float64(s.D))) - 1
				}
			}
			for k := 0; k <= repeat; k++ {
				if !limit(t) {
					break
				}
				if !b.behindWindow(tm, t+s.D) {
					if err := add(number, t, s.D); err != nil {
						return nil, err
					}
				}
				t += s.D
				number++
			}
		}

	case tpl.Duration > 0:
		if math.IsInf(end, 1) {
			return nil, fmt.Errorf("segment template without timeline needs a period duration")
		}
		segDur := float64(tpl.Duration) / float64(tm.timescale)
		first := 0
		if b.live && !math.IsInf(b.timeShiftDepth, 1) {
			first = int(math.Max(0, math.Floor((b.liveEdge-b.timeShiftDepth-period.Start)/segDur)))
		}
		count := int(math.Ceil((end-period.Start)/segDur - 1e-9))
		if b.live {
			// the segment being produced at the live edge is not available
			count = int(math.Floor((end - period.Start) / segDur))
		}
		for n := first; n < count; n++ {
			t := tpl.PresentationTimeOffset + uint64(n)*tpl.Duration
			if err := add(startNumber+uint64(n), t, tpl.Duration); err != nil {
				return nil, err
			}
		}

	default:
		return nil, fmt.Errorf("segment template has neither timeline nor duration")
	}

	return media.NewListIndex(init, segments, !b.live), nil
}

func (b *dashBuilder) listIndex(period *media.Period, base string, list *SegmentList, repID string) (*media.ListIndex, error) {
	timescale := list.Timescale
	if timescale == 0 {
		timescale = 1
	}
	init, err := initFrom(base, list.Initialization, repID)
	if err != nil {
		return nil, err
	}
	start := int64(math.Round(period.Start * float64(timescale)))
	segments := make([]media.Segment, 0, len(list.SegmentURLs))
	for i, su := range list.SegmentURLs {
		u, err := resolve(base, su.Media)
		if err != nil {
			return nil, err
		}
		seg := media.Segment{
			ID:              fmt.Sprintf("%s-%d", repID, i+1),
			Time:            start + int64(i)*int64(list.Duration),
			Duration:        int64(list.Duration),
			Timescale:       timescale,
			URL:             u,
			TimestampOffset: period.Start,
		}
		if su.MediaRange != "" {
			if seg.Range, err = media.ParseByteRange(su.MediaRange); err != nil {
				return nil, err
			}
		}
		segments = append(segments, seg)
	}
	return media.NewListIndex(init, segments, !b.live), nil
}

// baseIndex describes a single-file representation as one segment covering
// the period.
func (b *dashBuilder) baseIndex(period *media.Period, base string, sb *SegmentBase, repID string) (*media.ListIndex, error) {
	if !period.HasEnd() {
		return nil, fmt.Errorf("single segment representation needs a period duration")
	}
	timescale := uint32(1000)
	var init *media.Segment
	var indexRange *media.ByteRange
	if sb != nil {
		var err error
		if init, err = initFrom(base, sb.Initialization, repID); err != nil {
			return nil, err
		}
		if sb.IndexRange != "" {
			if indexRange, err = media.ParseByteRange(sb.IndexRange); err != nil {
				return nil, err
			}
		}
	}
	seg := media.Segment{
		ID:              repID + "-0",
		Time:            int64(math.Round(period.Start * float64(timescale))),
		Duration:        int64(math.Round((period.End - period.Start) * float64(timescale))),
		Timescale:       timescale,
		URL:             base,
		IndexRange:      indexRange,
		TimestampOffset: period.Start,
	}
	return media.NewListIndex(init, []media.Segment{seg}, true), nil
}

func initFrom(base string, u *URLType, repID string) (*media.Segment, error) {
	if u == nil {
		return nil, nil
	}
	resolved, err := resolve(base, u.SourceURL)
	if err != nil {
		return nil, err
	}
	init := &media.Segment{ID: repID + "-init", IsInit: true, URL: resolved}
	if u.Range != "" {
		if init.Range, err = media.ParseByteRange(u.Range); err != nil {
			return nil, err
		}
	}
	return init, nil
}

type templateVars struct {
	representationID string
	bandwidth        int
	number           uint64
	time             uint64
}

var templateRe = regexp.MustCompile(`\$(RepresentationID|Number|Time|Bandwidth)(%0(\d+)d)?\$|\$\$`)

// expandTemplate substitutes $RepresentationID$, $Number$, $Time$ and
// $Bandwidth$, with optional %0Nd widths.
func expandTemplate(tpl string, v templateVars) string {
	return templateRe.ReplaceAllStringFunc(tpl, func(match string) string {
		if match == "$$" {
			return "$"
		}
		sub := templateRe.FindStringSubmatch(match)
		var value string
		switch sub[1] {
		case "RepresentationID":
			return v.representationID
		case "Number":
			value = strconv.FormatUint(v.number, 10)
		case "Time":
			value = strconv.FormatUint(v.time, 10)
		case "Bandwidth":
			value = strconv.Itoa(v.bandwidth)
		}
		if sub[3] != "" {
			width, _ := strconv.Atoi(sub[3])
			for len(value) < width {
				value = "0" + value
			}
		}
		return value
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
