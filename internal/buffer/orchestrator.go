// Package buffer decides which segments to download and appends them to
// the sinks of a playback session.
//
// Three state machines are stacked: a RepresentationBuffer schedules the
// segments of one quality, a PeriodBuffer owns it for one period and
// applies track and quality switches, and the Orchestrator chains period
// buffers for every media type. Each exposes Handle(Input) []Event and is
// driven from a single loop. Asynchronous completions are posted back to
// that loop as addressed messages through Env.Post.
package buffer

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// ErrMediaTimeOutOfManifest is reported when the playhead leaves the
// manifest bounds.
var ErrMediaTimeOutOfManifest = errors.New("media time out of manifest bounds")

// boundsEpsilon is tolerated around the manifest bounds.
const boundsEpsilon = 1e-3

// Orchestrator keeps, for each media type, a chronological chain of period
// buffers. The next period starts buffering as soon as the previous one is
// full, and the chain restarts when the playhead leaves it.
type Orchestrator struct {
	env    *Env
	types  []media.Type
	logger *slog.Logger

	chains   map[media.Type][]*PeriodBuffer
	complete map[media.Type]bool
	failed   map[media.Type]bool
	gcBusy   map[media.Type]bool

	tick         Tick
	eos          bool
	outOfBounds  bool
	activePeriod *media.Period
}

// NewOrchestrator creates an orchestrator buffering types.
func NewOrchestrator(env *Env, types []media.Type) *Orchestrator {
	env.init()
	return &Orchestrator{
		env:      env,
		types:    types,
		logger:   env.Logger.With(slog.String("component", "orchestrator")),
		chains:   make(map[media.Type][]*PeriodBuffer),
		complete: make(map[media.Type]bool),
		failed:   make(map[media.Type]bool),
		gcBusy:   make(map[media.Type]bool),
	}
}

// Start starts buffering every type from position.
func (o *Orchestrator) Start(position float64) []Event {
	o.tick = Tick{Position: position}
	var out []Event
	for _, t := range o.types {
		out = append(out, o.startChain(t, position)...)
	}
	return append(out, o.updateActivePeriod()...)
}

// Stop tears every chain down.
func (o *Orchestrator) Stop() []Event {
	var out []Event
	for _, t := range o.types {
		out = append(out, o.teardown(t, 0)...)
	}
	return out
}

// Types returns the media types buffered.
func (o *Orchestrator) Types() []media.Type { return o.types }

// PeriodBuffers returns the chain of t in chronological order.
func (o *Orchestrator) PeriodBuffers(t media.Type) []*PeriodBuffer {
	return append([]*PeriodBuffer(nil), o.chains[t]...)
}

// ActivePeriod returns the period governing playback, if known.
func (o *Orchestrator) ActivePeriod() *media.Period { return o.activePeriod }

// Complete reports whether t is buffered up to the last period.
func (o *Orchestrator) Complete(t media.Type) bool { return o.complete[t] }

// EndOfStream reports whether every type is complete.
func (o *Orchestrator) EndOfStream() bool { return o.eos }

// Config returns the current buffering settings.
func (o *Orchestrator) Config() Config { return o.env.Config }

// Handle processes one input and returns the resulting events.
func (o *Orchestrator) Handle(in Input) []Event {
	switch in := in.(type) {
	case Tick:
		return o.onTick(in)
	case WriteDone:
		out := o.recordWrite(in)
		return append(out, o.route(in)...)
	case FetchDone:
		return o.route(in)
	case RemoveDone:
		if in.Address.BufferID == 0 {
			o.gcBusy[in.Address.Type] = false
			if in.Err != nil && !errors.Is(in.Err, sink.ErrAborted) && !errors.Is(in.Err, sink.ErrWriterDisposed) {
				o.logger.Warn("garbage collection failed",
					slog.String("media_type", string(in.Address.Type)),
					slog.String("error", in.Err.Error()))
			}
			return nil
		}
		return o.route(in)
	case SetTrack:
		o.env.trackOverride[in.Type] = in.AdaptationID
		return o.broadcast(in.Type, in)
	case SetBitrate:
		if in.Bitrate > 0 {
			o.env.manualBitrate[in.Type] = in.Bitrate
		} else {
			delete(o.env.manualBitrate, in.Type)
		}
		return o.broadcast(in.Type, in)
	case SetBufferGoal:
		o.env.Config.apply(in)
		return o.onTick(o.tick)
	case DecipherabilityUpdate:
		return o.onDecipherability(in)
	case ManifestUpdated:
		return o.onManifestUpdated(in)
	}
	return nil
}

func (o *Orchestrator) onTick(tick Tick) []Event {
	o.tick = tick
	out := o.checkBounds()

	for _, t := range o.types {
		if o.failed[t] {
			continue
		}
		chain := o.chains[t]
		if !o.covers(chain, tick.Position) {
			if len(chain) == 0 && o.env.Manifest.PeriodForTime(tick.Position) == nil &&
				o.env.Manifest.FirstPeriodAfterTime(tick.Position) == nil {
				// still past the last period
				continue
			}
			o.logger.Debug("playhead left buffered periods, restarting",
				slog.String("media_type", string(t)),
				slog.Float64("position", tick.Position))
			out = append(out, o.teardown(t, 0)...)
			out = append(out, o.startChain(t, tick.Position)...)
			continue
		}
		out = append(out, o.dropPassed(t, tick.Position)...)
		for _, pb := range o.chains[t] {
			if !o.inChain(t, pb) {
				continue
			}
			out = append(out, o.absorb(t, pb, pb.Handle(tick))...)
		}
	}

	o.collectGarbage()
	return append(out, o.updateActivePeriod()...)
}

// covers reports whether position lies within the span of chain. A
// position in a gap before the first period of the chain counts when no
// period contains it.
func (o *Orchestrator) covers(chain []*PeriodBuffer, position float64) bool {
	if len(chain) == 0 {
		return false
	}
	first, last := chain[0].Period(), chain[len(chain)-1].Period()
	if position >= first.Start && position < last.End {
		return true
	}
	if position < first.Start && o.env.Manifest.PeriodForTime(position) == nil {
		next := o.env.Manifest.FirstPeriodAfterTime(position)
		return next != nil && next.ID == first.ID
	}
	return false
}

func (o *Orchestrator) inChain(t media.Type, pb *PeriodBuffer) bool {
	for _, cur := range o.chains[t] {
		if cur == pb {
			return true
		}
	}
	return false
}

// startChain starts the chain of t at the period containing position.
func (o *Orchestrator) startChain(t media.Type, position float64) []Event {
	m := o.env.Manifest
	period := m.PeriodForTime(position)
	if period == nil {
		period = m.FirstPeriodAfterTime(position)
	}
	if period == nil {
		o.chains[t] = nil
		return o.markComplete(t)
	}
	return o.startPeriod(t, period)
}

func (o *Orchestrator) startPeriod(t media.Type, period *media.Period) []Event {
	pb := NewPeriodBuffer(o.env, t, period)
	o.chains[t] = append(o.chains[t], pb)
	o.logger.Debug("starting period buffer",
		slog.String("media_type", string(t)),
		slog.String("period_id", period.ID))
	return o.absorb(t, pb, pb.Start(o.tick))
}

// teardown disposes the buffers of t after index keep-1, latest first.
func (o *Orchestrator) teardown(t media.Type, keep int) []Event {
	chain := o.chains[t]
	if keep >= len(chain) {
		return nil
	}
	var out []Event
	for i := len(chain) - 1; i >= keep; i-- {
		chain[i].Dispose()
		out = append(out, PeriodBufferCleared{Type: t, Period: chain[i].Period()})
	}
	o.chains[t] = chain[:keep]
	return out
}

// dropPassed disposes the leading buffers of t whose period ended at or
// before position, oldest first. The last buffer of the chain is kept.
func (o *Orchestrator) dropPassed(t media.Type, position float64) []Event {
	chain := o.chains[t]
	n := 0
	for n < len(chain)-1 && chain[n].Period().End <= position {
		n++
	}
	if n == 0 {
		return nil
	}
	out := make([]Event, 0, n)
	for _, pb := range chain[:n] {
		pb.Dispose()
		out = append(out, PeriodBufferCleared{Type: t, Period: pb.Period()})
		o.logger.Debug("playhead passed period buffer",
			slog.String("media_type", string(t)),
			slog.String("period_id", pb.Period().ID))
	}
	o.chains[t] = append([]*PeriodBuffer(nil), chain[n:]...)
	return out
}

// absorb handles the events of a period buffer of t.
func (o *Orchestrator) absorb(t media.Type, pb *PeriodBuffer, events []Event) []Event {
	var out []Event
	for _, ev := range events {
		switch e := ev.(type) {
		case BufferStatus:
			out = append(out, e)
			if !o.inChain(t, pb) {
				continue
			}
			switch e.Status {
			case StatusFull:
				out = append(out, o.onFull(t, pb)...)
			case StatusActive:
				out = append(out, o.onActive(t, pb)...)
			}
		case Warning:
			out = append(out, e)
			if o.env.Store.IsDisabled(t) {
				out = append(out, o.disableType(t)...)
			}
		case Error:
			out = append(out, e)
			if e.Fatal {
				o.failed[t] = true
				out = append(out, o.teardown(t, 0)...)
				return out
			}
		default:
			out = append(out, ev)
		}
	}
	return out
}

// onFull starts the next period when the last buffer of the chain is
// full, or marks t complete when there is none.
func (o *Orchestrator) onFull(t media.Type, pb *PeriodBuffer) []Event {
	chain := o.chains[t]
	if len(chain) == 0 || chain[len(chain)-1] != pb {
		return nil
	}
	next := o.env.Manifest.PeriodAfter(pb.Period())
	if next == nil {
		return o.markComplete(t)
	}
	return o.startPeriod(t, next)
}

// onActive drops the buffers created ahead of pb, which needs content
// again.
func (o *Orchestrator) onActive(t media.Type, pb *PeriodBuffer) []Event {
	var out []Event
	chain := o.chains[t]
	for i, cur := range chain {
		if cur == pb {
			out = append(out, o.teardown(t, i+1)...)
			break
		}
	}
	if o.complete[t] {
		o.complete[t] = false
		if o.eos {
			o.eos = false
			out = append(out, ResumeStream{})
		}
	}
	return out
}

func (o *Orchestrator) markComplete(t media.Type) []Event {
	if o.complete[t] {
		return nil
	}
	o.complete[t] = true
	out := []Event{BufferComplete{Type: t}}
	if o.eos {
		return out
	}
	for _, typ := range o.types {
		if !o.complete[typ] && !o.failed[typ] {
			return out
		}
	}
	o.eos = true
	o.logger.Info("end of stream", slog.Float64("position", o.tick.Position))
	return append(out, EndOfStream{})
}

// disableType turns every buffer of t into a placeholder.
func (o *Orchestrator) disableType(t media.Type) []Event {
	var out []Event
	for _, pb := range o.PeriodBuffers(t) {
		if o.inChain(t, pb) {
			out = append(out, o.absorb(t, pb, pb.disable())...)
		}
	}
	return out
}

// route delivers a message to the period buffer it is addressed to.
// Messages for torn down buffers are dropped.
func (o *Orchestrator) route(m Message) []Event {
	addr := m.Addr()
	for _, pb := range o.chains[addr.Type] {
		if pb.Period().ID == addr.PeriodID {
			return o.absorb(addr.Type, pb, pb.Handle(m))
		}
	}
	o.logger.Debug("dropping stale message", slog.String("address", addr.String()))
	return nil
}

func (o *Orchestrator) broadcast(t media.Type, in Input) []Event {
	var out []Event
	for _, pb := range o.PeriodBuffers(t) {
		if o.inChain(t, pb) {
			out = append(out, o.absorb(t, pb, pb.Handle(in))...)
		}
	}
	return out
}

// recordWrite records a completed append in the inventory of its type.
// Content that landed is recorded even when its buffer is gone.
func (o *Orchestrator) recordWrite(m WriteDone) []Event {
	if m.Err != nil || m.Segment.IsInit || m.End <= m.Start {
		return nil
	}
	entry, ok := o.env.Store.Get(m.Address.Type)
	if !ok || entry.Writer != m.Writer {
		return nil
	}
	entry.Inventory.Insert(recordOf(m))
	buffered := entry.Writer.Buffered()
	entry.Inventory.Synchronize(buffered)
	return []Event{AddedSegment{
		Type:           m.Address.Type,
		Period:         m.Period,
		Representation: m.Representation,
		Segment:        m.Segment,
		Start:          m.Start,
		End:            m.End,
		Buffered:       buffered,
	}}
}

func (o *Orchestrator) onDecipherability(u DecipherabilityUpdate) []Event {
	state := media.Undecipherable
	if u.Decipherable {
		state = media.Decipherable
	}
	for _, r := range o.env.Manifest.Representations(u.RepresentationIDs) {
		r.Decipherability = state
	}
	var out []Event
	for _, t := range o.types {
		out = append(out, o.broadcast(t, u)...)
	}
	return out
}

func (o *Orchestrator) onManifestUpdated(u ManifestUpdated) []Event {
	if u.Manifest == nil {
		return nil
	}
	o.env.Manifest = u.Manifest
	var out []Event
	for _, t := range o.types {
		out = append(out, o.broadcast(t, u)...)
		chain := o.chains[t]
		if !o.complete[t] || len(chain) == 0 {
			continue
		}
		last := chain[len(chain)-1]
		if u.Manifest.PeriodAfter(last.Period()) == nil {
			continue
		}
		o.complete[t] = false
		if o.eos {
			o.eos = false
			out = append(out, ResumeStream{})
		}
		out = append(out, o.onFull(t, last)...)
	}
	return append(out, o.onTick(o.tick)...)
}

// checkBounds warns once each time the playhead leaves the manifest.
func (o *Orchestrator) checkBounds() []Event {
	m := o.env.Manifest
	pos := o.tick.Position
	minPos, maxPos := m.MinimumPosition(), m.MaximumPosition()
	out := pos < minPos-boundsEpsilon || (!m.IsLive() && maxPos > 0 && pos > maxPos+boundsEpsilon)
	if !out {
		o.outOfBounds = false
		return nil
	}
	if o.outOfBounds {
		return nil
	}
	o.outOfBounds = true
	return []Event{Warning{Err: fmt.Errorf("%w: %.3f not in [%.3f, %.3f]", ErrMediaTimeOutOfManifest, pos, minPos, maxPos)}}
}

// collectGarbage removes content outside the configured bounds around the
// playhead.
func (o *Orchestrator) collectGarbage() {
	cfg := o.env.Config
	if cfg.MaxBufferBehind <= 0 && cfg.MaxBufferAhead <= 0 {
		return
	}
	pos := o.tick.Position
	for _, t := range o.env.Store.Types() {
		if o.gcBusy[t] {
			continue
		}
		entry, ok := o.env.Store.Get(t)
		if !ok {
			continue
		}
		buffered := entry.Writer.Buffered()
		if len(buffered) == 0 {
			continue
		}
		lo, hi := buffered[0].Start, buffered[len(buffered)-1].End

		var remove media.TimeRanges
		if cfg.MaxBufferBehind > 0 && pos-cfg.MaxBufferBehind > lo {
			remove = remove.Add(lo, pos-cfg.MaxBufferBehind)
		}
		if cfg.MaxBufferAhead > 0 && pos+cfg.MaxBufferAhead < hi {
			remove = remove.Add(pos+cfg.MaxBufferAhead, hi)
		}
		remove = remove.Intersect(buffered)
		if len(remove) == 0 {
			continue
		}

		o.logger.Debug("collecting garbage",
			slog.String("media_type", string(t)),
			slog.String("ranges", remove.String()))
		o.gcBusy[t] = true
		post := o.env.Post
		addr := Address{Type: t}
		for i, r := range remove {
			entry.Inventory.Remove(r.Start, r.End)
			c := entry.Writer.Remove(r.Start, r.End)
			if i == len(remove)-1 {
				c.OnComplete(func(err error) { post(RemoveDone{Address: addr, Err: err}) })
			}
		}
	}
}

// updateActivePeriod emits ActivePeriodChanged when every type agrees on
// a new period containing the playhead.
func (o *Orchestrator) updateActivePeriod() []Event {
	pos := o.tick.Position
	var active *media.Period
	for _, t := range o.types {
		if o.failed[t] {
			continue
		}
		var found *media.Period
		for _, pb := range o.chains[t] {
			if pb.Period().Contains(pos) {
				found = pb.Period()
				break
			}
		}
		if found == nil {
			return nil
		}
		if active == nil {
			active = found
		} else if active.ID != found.ID {
			return nil
		}
	}
	if active == nil || (o.activePeriod != nil && o.activePeriod.ID == active.ID) {
		return nil
	}
	o.activePeriod = active
	return []Event{ActivePeriodChanged{Period: active}}
}

// Position returns the position of the last tick.
func (o *Orchestrator) Position() float64 { return o.tick.Position }
