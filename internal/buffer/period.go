package buffer

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/jmylchreest/playcore/internal/inventory"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// ErrNoPlayableRepresentation is reported when every representation of the
// selected track is undecipherable.
var ErrNoPlayableRepresentation = errors.New("no playable representation")

// PeriodBuffer buffers one media type for one period. It owns the
// representation buffer, applies track and quality switches, and turns
// into a placeholder that always reports full once its type is disabled.
type PeriodBuffer struct {
	env    *Env
	typ    media.Type
	period *media.Period
	id     uint64
	logger *slog.Logger

	adaptation *media.Adaptation
	entry      *sink.Entry
	rep        *RepresentationBuffer
	// pendingRep is started once the current representation buffer
	// terminated.
	pendingRep *media.Representation

	tick     Tick
	status   Status
	disabled bool
	disposed bool
}

// NewPeriodBuffer creates a period buffer. Start must be called before it
// handles any input.
func NewPeriodBuffer(env *Env, t media.Type, period *media.Period) *PeriodBuffer {
	return &PeriodBuffer{
		env:    env,
		typ:    t,
		period: period,
		id:     env.nextBufferID(),
		logger: env.Logger.With(
			slog.String("media_type", string(t)),
			slog.String("period_id", period.ID),
		),
	}
}

// Type returns the media type buffered.
func (pb *PeriodBuffer) Type() media.Type { return pb.typ }

// Period returns the period buffered.
func (pb *PeriodBuffer) Period() *media.Period { return pb.period }

// Adaptation returns the selected track, nil for a placeholder.
func (pb *PeriodBuffer) Adaptation() *media.Adaptation { return pb.adaptation }

// Representation returns the representation buffer currently running.
func (pb *PeriodBuffer) Representation() *RepresentationBuffer { return pb.rep }

// Status returns the last reported status.
func (pb *PeriodBuffer) Status() Status { return pb.status }

// Disabled reports whether the buffer is a placeholder.
func (pb *PeriodBuffer) Disabled() bool { return pb.disabled }

// Start selects the track and quality and starts buffering from tick.
func (pb *PeriodBuffer) Start(tick Tick) []Event {
	pb.tick = tick

	adaptation := pb.env.chooseAdaptation(pb.typ, pb.period)
	if adaptation == nil {
		// nothing of this type in the period
		pb.disabled = true
		return append([]Event{PeriodBufferReady{Type: pb.typ, Period: pb.period}}, pb.placeholderStatus()...)
	}

	entry, err := pb.env.Store.GetOrCreate(pb.typ)
	if err != nil {
		if errors.Is(err, sink.ErrTypeDisabled) {
			pb.disabled = true
			return append([]Event{PeriodBufferReady{Type: pb.typ, Period: pb.period}}, pb.placeholderStatus()...)
		}
		return pb.fail(err)
	}
	pb.entry = entry
	pb.adaptation = adaptation

	events := []Event{
		PeriodBufferReady{Type: pb.typ, Period: pb.period, Adaptation: adaptation},
		AdaptationChange{Type: pb.typ, Period: pb.period, Adaptation: adaptation},
	}
	return append(events, pb.startRepresentation(pb.env.chooseRepresentation(pb.typ, adaptation))...)
}

// Dispose stops the buffer. Content already appended stays in the sink.
func (pb *PeriodBuffer) Dispose() {
	if pb.rep != nil {
		pb.rep.stop()
	}
	pb.pendingRep = nil
	pb.disposed = true
}

// Handle processes one input and returns the resulting events.
func (pb *PeriodBuffer) Handle(in Input) []Event {
	if pb.disposed {
		return nil
	}
	if pb.disabled {
		if tick, ok := in.(Tick); ok {
			pb.tick = tick
			return pb.placeholderStatus()
		}
		return nil
	}

	switch in := in.(type) {
	case Tick:
		pb.tick = in
		events := pb.checkQuality(false)
		if pb.rep != nil {
			events = append(events, pb.absorb(pb.rep.Handle(in))...)
		}
		return events
	case FetchDone, WriteDone:
		msg := in.(Message)
		if pb.rep != nil && pb.rep.Address() == msg.Addr() {
			return pb.absorb(pb.rep.Handle(in))
		}
		return nil
	case RemoveDone:
		if in.Address.BufferID != pb.id {
			return nil
		}
		if in.Err != nil && !errors.Is(in.Err, sink.ErrAborted) && !errors.Is(in.Err, sink.ErrWriterDisposed) {
			return pb.fail(in.Err)
		}
		return nil
	case SetTrack:
		return pb.setTrack(in.AdaptationID)
	case SetBitrate:
		return pb.checkQuality(true)
	case DecipherabilityUpdate:
		return pb.onDecipherability()
	case ManifestUpdated:
		pb.rebind(in.Manifest)
		return nil
	}
	return nil
}

// disable turns the buffer into a placeholder without reporting anything
// but its status.
func (pb *PeriodBuffer) disable() []Event {
	if pb.disabled || pb.disposed {
		return nil
	}
	if pb.rep != nil {
		pb.rep.stop()
		pb.rep = nil
	}
	pb.pendingRep = nil
	pb.entry = nil
	pb.disabled = true
	return pb.placeholderStatus()
}

func (pb *PeriodBuffer) placeholderStatus() []Event {
	return pb.setStatus(StatusFull)
}

func (pb *PeriodBuffer) setStatus(s Status) []Event {
	if s == pb.status {
		return nil
	}
	pb.status = s
	return []Event{BufferStatus{Type: pb.typ, Period: pb.period, Status: s}}
}

// fail reports err: native types fail terminally, other types are
// disabled so audio and video keep playing.
func (pb *PeriodBuffer) fail(err error) []Event {
	if pb.typ.IsNative() {
		if pb.rep != nil {
			pb.rep.stop()
		}
		return []Event{Error{Type: pb.typ, Err: err, Fatal: true}}
	}
	pb.logger.Warn("disabling media type", slog.String("error", err.Error()))
	pb.env.Store.Disable(pb.typ)
	events := []Event{Warning{Type: pb.typ, Err: err}}
	return append(events, pb.disable()...)
}

func (pb *PeriodBuffer) startRepresentation(rep *media.Representation) []Event {
	pb.pendingRep = nil
	if rep == nil {
		return pb.fail(fmt.Errorf("%w in track %s", ErrNoPlayableRepresentation, pb.adaptation.ID))
	}
	addr := Address{Type: pb.typ, PeriodID: pb.period.ID, BufferID: pb.env.nextBufferID()}
	pb.rep = NewRepresentationBuffer(pb.env, addr, pb.period, pb.adaptation, rep, pb.entry)
	pb.logger.Debug("starting representation",
		slog.String("representation_id", rep.ID),
		slog.Int("bitrate", rep.Bitrate))

	events := []Event{RepresentationChange{Type: pb.typ, Period: pb.period, Representation: rep}}
	return append(events, pb.absorb(pb.rep.Handle(pb.tick))...)
}

// absorb handles the events of the representation buffer.
func (pb *PeriodBuffer) absorb(events []Event) []Event {
	var out []Event
	for _, ev := range events {
		switch e := ev.(type) {
		case RepresentationTerminated:
			if pb.rep == nil || e.Address != pb.rep.Address() {
				continue
			}
			if pb.pendingRep != nil {
				out = append(out, pb.startRepresentation(pb.pendingRep)...)
			}
		case BufferStatus:
			out = append(out, pb.setStatus(e.Status)...)
		case Error:
			if e.Fatal {
				out = append(out, e)
				continue
			}
			out = append(out, pb.fail(e.Err)...)
		default:
			out = append(out, ev)
		}
	}
	return out
}

// checkQuality switches representation when the chooser picks another
// one. Manual switches honor the configured switching mode.
func (pb *PeriodBuffer) checkQuality(manual bool) []Event {
	if pb.rep == nil || pb.adaptation == nil {
		return nil
	}
	want := pb.env.chooseRepresentation(pb.typ, pb.adaptation)
	if want == nil {
		return nil
	}
	target := pb.rep.Representation()
	if pb.pendingRep != nil {
		target = pb.pendingRep
	}
	if want.ID == target.ID {
		return nil
	}
	if manual && pb.env.Config.SwitchingMode == SwitchDirect {
		return pb.switchDirect(want)
	}
	pb.pendingRep = want
	return pb.absorb(pb.rep.Handle(Terminate{Urgent: false}))
}

// switchDirect stops the current quality at once and removes what it
// buffered ahead of the playhead.
func (pb *PeriodBuffer) switchDirect(want *media.Representation) []Event {
	old := pb.rep.Representation()
	pb.rep.stop()

	removed := pb.removeContent(func(r *inventory.Record) bool {
		return r.Representation != nil && r.Representation.ID == old.ID
	}, pb.tick.Position)

	events := pb.startRepresentation(want)
	if removed {
		events = append(events, NeedsBufferFlush{Type: pb.typ})
	}
	return events
}

// removeContent removes the content of this period matching keep from
// `from` onwards, and reports whether anything was removed.
func (pb *PeriodBuffer) removeContent(match func(*inventory.Record) bool, from float64) bool {
	ranges := pb.entry.Inventory.RangesFor(func(r *inventory.Record) bool {
		return r.Period != nil && r.Period.ID == pb.period.ID && match(r)
	})
	ranges = ranges.Intersect(media.TimeRanges{{Start: from, End: math.Inf(1)}})
	pb.remove(ranges)
	return len(ranges) > 0
}

// remove queues the removal of ranges and drops them from the inventory.
func (pb *PeriodBuffer) remove(ranges media.TimeRanges) {
	addr := Address{Type: pb.typ, PeriodID: pb.period.ID, BufferID: pb.id}
	post := pb.env.Post
	for _, r := range ranges {
		pb.entry.Inventory.Remove(r.Start, r.End)
		pb.entry.Writer.Remove(r.Start, r.End).OnComplete(func(err error) {
			post(RemoveDone{Address: addr, Err: err})
		})
	}
}

func (pb *PeriodBuffer) setTrack(id string) []Event {
	adaptation := pb.period.AdaptationByID(pb.typ, id)
	if adaptation == nil || pb.entry == nil {
		return nil
	}
	if pb.adaptation != nil && adaptation.ID == pb.adaptation.ID {
		return nil
	}

	strategy := ComputeSwitchStrategy(pb.typ, pb.period, pb.entry.Writer.Buffered(), pb.tick, pb.env.Config.ReloadOnVideoSwitch)
	pb.logger.Info("switching track",
		slog.String("adaptation_id", adaptation.ID),
		slog.String("strategy", strategy.Kind.String()))

	var events []Event
	switch strategy.Kind {
	case StrategyNeedsReload:
		pb.adaptation = adaptation
		return []Event{NeedsMediaSourceReload{Type: pb.typ, Position: pb.tick.Position}}
	case StrategyCleanBuffer:
		pb.remove(strategy.Ranges)
	}

	if pb.rep != nil {
		pb.rep.stop()
	}
	pb.adaptation = adaptation
	events = append(events, AdaptationChange{Type: pb.typ, Period: pb.period, Adaptation: adaptation})
	return append(events, pb.startRepresentation(pb.env.chooseRepresentation(pb.typ, adaptation))...)
}

func (pb *PeriodBuffer) onDecipherability() []Event {
	if pb.rep == nil {
		return nil
	}
	if pb.pendingRep != nil && !pb.pendingRep.Playable() {
		pb.pendingRep = nil
	}
	current := pb.rep.Representation()
	if current.Playable() {
		return pb.checkQuality(false)
	}

	pb.logger.Warn("representation became undecipherable", slog.String("representation_id", current.ID))
	pb.rep.stop()
	pb.removeContent(func(r *inventory.Record) bool {
		return r.Representation != nil && r.Representation.ID == current.ID
	}, math.Inf(-1))
	return pb.startRepresentation(pb.env.chooseRepresentation(pb.typ, pb.adaptation))
}

// rebind points the buffer at the objects of a refreshed manifest.
func (pb *PeriodBuffer) rebind(m *media.Manifest) {
	period := m.PeriodByID(pb.period.ID)
	if period == nil {
		return
	}
	pb.period = period
	if pb.adaptation == nil {
		return
	}
	if a := period.AdaptationByID(pb.typ, pb.adaptation.ID); a != nil {
		pb.adaptation = a
	}
	if pb.pendingRep != nil {
		if r := pb.adaptation.RepresentationByID(pb.pendingRep.ID); r != nil {
			pb.pendingRep = r
		}
	}
	if pb.rep != nil {
		rep := pb.adaptation.RepresentationByID(pb.rep.Representation().ID)
		if rep == nil {
			rep = pb.rep.Representation()
		}
		pb.rep.rebind(period, pb.adaptation, rep)
	}
}
