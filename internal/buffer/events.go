package buffer

import (
	"fmt"

	"github.com/jmylchreest/playcore/internal/media"
)

// EventKind discriminates the events emitted by the buffer components.
type EventKind int

// Event kinds.
const (
	KindPeriodBufferReady EventKind = iota
	KindPeriodBufferCleared
	KindAdaptationChange
	KindRepresentationChange
	KindAddedSegment
	KindBufferStatus
	KindDiscontinuityEncountered
	KindNeedsManifestRefresh
	KindNeedsMediaSourceReload
	KindNeedsBufferFlush
	KindBufferComplete
	KindEndOfStream
	KindResumeStream
	KindActivePeriodChanged
	KindRepresentationTerminated
	KindWarning
	KindError
)

var eventKindNames = [...]string{
	KindPeriodBufferReady:        "periodBufferReady",
	KindPeriodBufferCleared:      "periodBufferCleared",
	KindAdaptationChange:         "adaptationChange",
	KindRepresentationChange:     "representationChange",
	KindAddedSegment:             "addedSegment",
	KindBufferStatus:             "bufferStatus",
	KindDiscontinuityEncountered: "discontinuityEncountered",
	KindNeedsManifestRefresh:     "needsManifestRefresh",
	KindNeedsMediaSourceReload:   "needsMediaSourceReload",
	KindNeedsBufferFlush:         "needsBufferFlush",
	KindBufferComplete:           "bufferComplete",
	KindEndOfStream:              "endOfStream",
	KindResumeStream:             "resumeStream",
	KindActivePeriodChanged:      "activePeriodChanged",
	KindRepresentationTerminated: "representationTerminated",
	KindWarning:                  "warning",
	KindError:                    "error",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is emitted upward by the buffer components.
type Event interface {
	Kind() EventKind
}

// Status is the filling state of a buffer.
type Status int

// Buffer statuses.
const (
	StatusUnknown Status = iota
	// StatusActive means segments are still needed.
	StatusActive
	// StatusFull means everything up to the period end is buffered.
	StatusFull
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusFull:
		return "full"
	default:
		return "unknown"
	}
}

// PeriodBufferReady is emitted when a period buffer starts for a type.
type PeriodBufferReady struct {
	Type       media.Type
	Period     *media.Period
	Adaptation *media.Adaptation
}

// PeriodBufferCleared is emitted when a period buffer is torn down.
type PeriodBufferCleared struct {
	Type   media.Type
	Period *media.Period
}

// AdaptationChange is emitted when a period buffer selects a track.
type AdaptationChange struct {
	Type       media.Type
	Period     *media.Period
	Adaptation *media.Adaptation
}

// RepresentationChange is emitted when a new quality starts buffering.
type RepresentationChange struct {
	Type           media.Type
	Period         *media.Period
	Representation *media.Representation
}

// AddedSegment is emitted once a segment landed in the sink.
type AddedSegment struct {
	Type           media.Type
	Period         *media.Period
	Representation *media.Representation
	Segment        media.Segment
	Start          float64
	End            float64
	Buffered       media.TimeRanges
}

// BufferStatus reports a change of filling state of a period buffer.
type BufferStatus struct {
	Type   media.Type
	Period *media.Period
	Status Status
}

// DiscontinuityEncountered asks the clock to seek over a hole.
type DiscontinuityEncountered struct {
	Type   media.Type
	Period *media.Period
	SeekTo float64
}

// NeedsManifestRefresh asks for a manifest reload.
type NeedsManifestRefresh struct {
	Type media.Type
}

// NeedsMediaSourceReload asks for every sink to be recreated. Position is
// where playback should resume.
type NeedsMediaSourceReload struct {
	Type     media.Type
	Position float64
}

// NeedsBufferFlush asks the decoder to drop its internal queue after
// buffered content ahead of the playhead was removed.
type NeedsBufferFlush struct {
	Type media.Type
}

// BufferComplete is emitted when a type is buffered up to the last period.
type BufferComplete struct {
	Type media.Type
}

// EndOfStream is emitted once every type is complete.
type EndOfStream struct{}

// ResumeStream is emitted when content is needed again after EndOfStream.
type ResumeStream struct{}

// ActivePeriodChanged is emitted when the period governing playback changes.
type ActivePeriodChanged struct {
	Period *media.Period
}

// RepresentationTerminated is emitted by a representation buffer once it
// stopped after a Terminate command.
type RepresentationTerminated struct {
	Address Address
}

// Warning is a recoverable failure.
type Warning struct {
	Type media.Type
	Err  error
}

// Error is an unrecoverable failure for Type.
type Error struct {
	Type  media.Type
	Err   error
	Fatal bool
}

func (PeriodBufferReady) Kind() EventKind        { return KindPeriodBufferReady }
func (PeriodBufferCleared) Kind() EventKind      { return KindPeriodBufferCleared }
func (AdaptationChange) Kind() EventKind         { return KindAdaptationChange }
func (RepresentationChange) Kind() EventKind     { return KindRepresentationChange }
func (AddedSegment) Kind() EventKind             { return KindAddedSegment }
func (BufferStatus) Kind() EventKind             { return KindBufferStatus }
func (DiscontinuityEncountered) Kind() EventKind { return KindDiscontinuityEncountered }
func (NeedsManifestRefresh) Kind() EventKind     { return KindNeedsManifestRefresh }
func (NeedsMediaSourceReload) Kind() EventKind   { return KindNeedsMediaSourceReload }
func (NeedsBufferFlush) Kind() EventKind         { return KindNeedsBufferFlush }
func (BufferComplete) Kind() EventKind           { return KindBufferComplete }
func (EndOfStream) Kind() EventKind              { return KindEndOfStream }
func (ResumeStream) Kind() EventKind             { return KindResumeStream }
func (ActivePeriodChanged) Kind() EventKind      { return KindActivePeriodChanged }
func (RepresentationTerminated) Kind() EventKind { return KindRepresentationTerminated }
func (Warning) Kind() EventKind                  { return KindWarning }
func (Error) Kind() EventKind                    { return KindError }
