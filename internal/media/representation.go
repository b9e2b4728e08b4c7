package media

import (
	"math"
	"sort"
)

// SegmentIndex lists the segments a representation makes available.
type SegmentIndex interface {
	// InitSegment returns the initialization segment, or nil.
	InitSegment() *Segment

	// Segments returns the segments intersecting [from, to), in time order.
	Segments(from, to float64) []Segment

	// ShouldRefresh reports whether the index must be refreshed from the
	// manifest to know about [from, to).
	ShouldRefresh(from, to float64) bool

	// IsFinished reports whether no segment will ever be added.
	IsFinished() bool

	// CheckDiscontinuity returns the start of the next segment when t falls
	// into a hole of the index, or -1.
	CheckDiscontinuity(t float64) float64

	// LastPosition returns the end of the last known segment.
	LastPosition() (float64, bool)
}

// ListIndex is a SegmentIndex backed by an explicit segment list.
type ListIndex struct {
	Init     *Segment
	List     []Segment
	Finished bool
}

// NewListIndex creates an index and sorts the list by start time.
func NewListIndex(init *Segment, segments []Segment, finished bool) *ListIndex {
	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start() < sorted[j].Start()
	})
	return &ListIndex{Init: init, List: sorted, Finished: finished}
}

// InitSegment implements SegmentIndex.
func (l *ListIndex) InitSegment() *Segment {
	return l.Init
}

// Segments implements SegmentIndex.
func (l *ListIndex) Segments(from, to float64) []Segment {
	var out []Segment
	for _, s := range l.List {
		if s.End() <= from {
			continue
		}
		if s.Start() >= to {
			break
		}
		out = append(out, s)
	}
	return out
}

// ShouldRefresh implements SegmentIndex.
func (l *ListIndex) ShouldRefresh(_, to float64) bool {
	if l.Finished {
		return false
	}
	last, ok := l.LastPosition()
	return !ok || to > last
}

// IsFinished implements SegmentIndex.
func (l *ListIndex) IsFinished() bool {
	return l.Finished
}

// CheckDiscontinuity implements SegmentIndex.
func (l *ListIndex) CheckDiscontinuity(t float64) float64 {
	for i := 0; i+1 < len(l.List); i++ {
		end := l.List[i].End()
		next := l.List[i+1].Start()
		if t >= end && t < next {
			return next
		}
	}
	return -1
}

// LastPosition implements SegmentIndex.
func (l *ListIndex) LastPosition() (float64, bool) {
	if len(l.List) == 0 {
		return 0, false
	}
	return l.List[len(l.List)-1].End(), true
}

// Decipherability is the content-protection state of a representation as
// reported by the DRM layer.
type Decipherability int

// Decipherability states.
const (
	DecipherabilityUnknown Decipherability = iota
	Decipherable
	Undecipherable
)

// Representation is one quality of a track.
type Representation struct {
	ID       string
	Bitrate  int
	Codecs   string
	MimeType string
	Width    int
	Height   int

	Index SegmentIndex

	Decipherability Decipherability
}

// Playable reports whether the representation can be chosen.
func (r *Representation) Playable() bool {
	return r.Decipherability != Undecipherable
}

// Adaptation (track) groups interchangeable representations.
type Adaptation struct {
	ID              string
	Type            Type
	Language        string
	Representations []*Representation
}

// PlayableRepresentations returns representations sorted by ascending
// bitrate, skipping undecipherable ones.
func (a *Adaptation) PlayableRepresentations() []*Representation {
	out := make([]*Representation, 0, len(a.Representations))
	for _, r := range a.Representations {
		if r.Playable() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Bitrate < out[j].Bitrate })
	return out
}

// RepresentationByID returns the representation with the given id, or nil.
func (a *Adaptation) RepresentationByID(id string) *Representation {
	for _, r := range a.Representations {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// Period is a manifest-defined contiguous time range with its own tracks.
type Period struct {
	ID    string
	Start float64
	// End is +Inf while unknown.
	End float64

	Adaptations map[Type][]*Adaptation
}

// NewPeriod creates a period with an unknown end.
func NewPeriod(id string, start float64) *Period {
	return &Period{
		ID:          id,
		Start:       start,
		End:         math.Inf(1),
		Adaptations: make(map[Type][]*Adaptation),
	}
}

// HasEnd reports whether the period end is known.
func (p *Period) HasEnd() bool {
	return !math.IsInf(p.End, 1)
}

// Contains reports whether t is inside [Start, End).
func (p *Period) Contains(t float64) bool {
	return t >= p.Start && t < p.End
}

// AdaptationsFor returns the tracks of one media type.
func (p *Period) AdaptationsFor(t Type) []*Adaptation {
	return p.Adaptations[t]
}

// AdaptationByID returns the track with the given id, or nil.
func (p *Period) AdaptationByID(t Type, id string) *Adaptation {
	for _, a := range p.Adaptations[t] {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// AddAdaptation appends a track to the period.
func (p *Period) AddAdaptation(a *Adaptation) {
	p.Adaptations[a.Type] = append(p.Adaptations[a.Type], a)
}
