package buffer

import (
	"fmt"

	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/inventory"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// Input is anything fed to a component's Handle method.
type Input interface {
	input()
}

// Address identifies a representation buffer. Buffer ids are never reused
// within a session, so a message addressed to a destroyed buffer cannot
// reach its successor.
type Address struct {
	Type     media.Type
	PeriodID string
	BufferID uint64
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%s/%d", a.Type, a.PeriodID, a.BufferID)
}

// Tick is an observation of the playback clock.
type Tick struct {
	Position float64
	Stalled  bool
	Seeking  bool
	// ReadyState follows HTMLMediaElement: 0 nothing, 1 metadata,
	// 2 current data, 3 future data, 4 enough data.
	ReadyState int
}

// Terminate stops a representation buffer. A non-urgent termination lets
// the in-flight request finish when it is still the most needed one.
type Terminate struct {
	Urgent bool
}

// SetTrack selects an adaptation for a media type.
type SetTrack struct {
	Type         media.Type
	AdaptationID string
}

// SetBitrate fixes the representation bitrate of a type. Zero returns to
// automatic selection.
type SetBitrate struct {
	Type    media.Type
	Bitrate int
}

// SetBufferGoal changes the buffer goals at runtime. Negative values leave
// the current setting untouched.
type SetBufferGoal struct {
	WantedAhead float64
	MaxAhead    float64
	MaxBehind   float64
}

// DecipherabilityUpdate reports a change of decryptability for
// representations, as signaled by the content protection layer.
type DecipherabilityUpdate struct {
	RepresentationIDs []string
	Decipherable      bool
}

// ManifestUpdated replaces the manifest after a refresh.
type ManifestUpdated struct {
	Manifest *media.Manifest
}

// Message is an Input posted back by an asynchronous collaborator.
type Message interface {
	Input
	Addr() Address
}

// FetchDone completes a segment request.
type FetchDone struct {
	Address   Address
	RequestID uint64
	Result    *fetch.Result
	Err       error
}

// WriteDone completes a segment append.
type WriteDone struct {
	Address        Address
	Writer         *sink.QueuedWriter
	Period         *media.Period
	Adaptation     *media.Adaptation
	Representation *media.Representation
	Segment        media.Segment
	Start          float64
	End            float64
	Err            error
}

func recordOf(m WriteDone) inventory.Record {
	return inventory.Record{
		Period:         m.Period,
		Adaptation:     m.Adaptation,
		Representation: m.Representation,
		Segment:        m.Segment,
		Start:          m.Start,
		End:            m.End,
	}
}

// RemoveDone completes a removal issued by a buffer or by garbage
// collection. BufferID zero addresses the orchestrator itself.
type RemoveDone struct {
	Address Address
	Err     error
}

func (Tick) input()                  {}
func (Terminate) input()             {}
func (SetTrack) input()              {}
func (SetBitrate) input()            {}
func (SetBufferGoal) input()         {}
func (DecipherabilityUpdate) input() {}
func (ManifestUpdated) input()       {}
func (FetchDone) input()             {}
func (WriteDone) input()             {}
func (RemoveDone) input()            {}

func (m FetchDone) Addr() Address  { return m.Address }
func (m WriteDone) Addr() Address  { return m.Address }
func (m RemoveDone) Addr() Address { return m.Address }
