package buffer

import (
	"errors"
	"log/slog"
	"math"

	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// fullEpsilon is the tolerance when comparing the buffer goal with the end
// of the content.
const fullEpsilon = 1e-3

// discontinuitySeekPadding is added past a skipped gap so the decoder
// lands on buffered content.
const discontinuitySeekPadding = 1.0 / 60

type queuedSegment struct {
	seg      media.Segment
	priority int
}

type inflight struct {
	id       uint64
	handle   *fetch.Handle
	seg      media.Segment
	priority int
}

// RepresentationBuffer schedules the downloads of one representation
// within one period and appends them to the sink of its media type. At
// most one request is in flight at any time.
type RepresentationBuffer struct {
	env        *Env
	addr       Address
	period     *media.Period
	adaptation *media.Adaptation
	rep        *media.Representation
	entry      *sink.Entry
	logger     *slog.Logger

	init     *sink.InitData
	initInfo *fetch.InitInfo

	queue     []queuedSegment
	current   *inflight
	lastReqID uint64
	// ignore holds segments whose append is pending; failed holds
	// best-effort segments that could not be loaded.
	ignore map[string]struct{}
	failed map[string]struct{}

	tick    Tick
	hasTick bool
	status  Status

	terminating      bool
	terminated       bool
	refreshRequested bool
	lastSeekTo       float64
}

// NewRepresentationBuffer creates a buffer. Nothing is requested until the
// first Tick.
func NewRepresentationBuffer(env *Env, addr Address, period *media.Period, adaptation *media.Adaptation, rep *media.Representation, entry *sink.Entry) *RepresentationBuffer {
	return &RepresentationBuffer{
		env:        env,
		addr:       addr,
		period:     period,
		adaptation: adaptation,
		rep:        rep,
		entry:      entry,
		logger: env.Logger.With(
			slog.String("media_type", string(addr.Type)),
			slog.String("period_id", addr.PeriodID),
			slog.String("representation_id", rep.ID),
		),
		ignore:     make(map[string]struct{}),
		failed:     make(map[string]struct{}),
		lastSeekTo: math.NaN(),
	}
}

// Address returns the address messages for this buffer must carry.
func (b *RepresentationBuffer) Address() Address { return b.addr }

// Representation returns the representation being buffered.
func (b *RepresentationBuffer) Representation() *media.Representation { return b.rep }

// Status returns the last computed status.
func (b *RepresentationBuffer) Status() Status { return b.status }

// InFlight returns the segment currently requested, if any.
func (b *RepresentationBuffer) InFlight() (media.Segment, bool) {
	if b.current == nil {
		return media.Segment{}, false
	}
	return b.current.seg, true
}

// Terminated reports whether the buffer stopped.
func (b *RepresentationBuffer) Terminated() bool { return b.terminated }

// Handle processes one input and returns the resulting events.
func (b *RepresentationBuffer) Handle(in Input) []Event {
	switch in := in.(type) {
	case Tick:
		b.tick = in
		b.hasTick = true
		if b.terminated || b.terminating {
			return nil
		}
		events := b.checkDiscontinuity()
		return append(events, b.update()...)
	case FetchDone:
		return b.onFetchDone(in)
	case WriteDone:
		return b.onWriteDone(in)
	case Terminate:
		return b.terminate(in)
	}
	return nil
}

// rebind points the buffer at refreshed manifest objects.
func (b *RepresentationBuffer) rebind(period *media.Period, adaptation *media.Adaptation, rep *media.Representation) {
	b.period = period
	b.adaptation = adaptation
	b.rep = rep
	b.refreshRequested = false
}

// stop cancels the in-flight request without emitting anything.
func (b *RepresentationBuffer) stop() {
	if b.current != nil {
		b.env.Fetcher.Cancel(b.current.handle)
		b.current = nil
	}
	b.queue = nil
	b.terminated = true
}

func (b *RepresentationBuffer) update() []Event {
	if b.terminated || b.terminating || !b.hasTick {
		return nil
	}
	needed, full, events := b.neededSegments()
	b.reconcile(needed)
	b.startNext()

	status := StatusActive
	if len(needed) == 0 && b.current == nil && len(b.ignore) == 0 && full {
		status = StatusFull
	}
	if status != b.status {
		b.status = status
		events = append(events, BufferStatus{Type: b.addr.Type, Period: b.period, Status: status})
	}
	return events
}

// neededSegments computes the ordered list of segments to download, and
// whether the buffer goal reaches the end of the content.
func (b *RepresentationBuffer) neededSegments() ([]queuedSegment, bool, []Event) {
	idx := b.rep.Index
	if idx == nil {
		return nil, true, nil
	}
	cfg := b.env.Config
	pos := b.tick.Position
	goalEnd := pos + cfg.aheadGoal()
	start := math.Max(pos-cfg.WantedBehind, b.period.Start)
	end := math.Min(goalEnd, b.period.End)

	b.entry.Inventory.Synchronize(b.entry.Writer.Buffered())

	var needed []queuedSegment
	if initSeg := idx.InitSegment(); initSeg != nil && b.init == nil {
		needed = append(needed, queuedSegment{seg: *initSeg, priority: InitPriority})
	}

	var events []Event
	if end > start {
		if idx.ShouldRefresh(start, end) && !b.refreshRequested {
			b.refreshRequested = true
			events = append(events, NeedsManifestRefresh{Type: b.addr.Type})
		}

		ignore := make(map[string]struct{}, len(b.ignore)+len(b.failed))
		for k := range b.ignore {
			ignore[k] = struct{}{}
		}
		for k := range b.failed {
			ignore[k] = struct{}{}
		}
		fc := FilterContext{
			Period:             b.period,
			Adaptation:         b.adaptation,
			Representation:     b.rep,
			Inventory:          b.entry.Inventory,
			Ignore:             ignore,
			RebufferingRatio:   cfg.RebufferingRatio,
			MinSegmentDuration: cfg.MinSegmentDuration,
		}
		wanted := media.TimeRange{Start: start, End: end}
		for _, seg := range idx.Segments(start, end) {
			if ShouldDownload(seg, wanted, fc) {
				needed = append(needed, queuedSegment{
					seg:      seg,
					priority: SegmentPriority(seg.Start(), pos, cfg.LowLatency),
				})
			}
		}
	}

	contentEnd := b.period.End
	if idx.IsFinished() {
		if last, ok := idx.LastPosition(); ok {
			contentEnd = math.Min(contentEnd, last)
		}
	}
	full := !math.IsInf(contentEnd, 1) && goalEnd >= contentEnd-fullEpsilon
	return needed, full, events
}

// reconcile replaces the queue with needed, keeping the in-flight request
// when it is still needed.
func (b *RepresentationBuffer) reconcile(needed []queuedSegment) {
	queue := make([]queuedSegment, 0, len(needed))
	keep := false
	for _, q := range needed {
		if b.current != nil && q.seg.Same(b.current.seg) {
			keep = true
			if q.priority != b.current.priority {
				b.current.priority = q.priority
				b.env.Fetcher.UpdatePriority(b.current.handle, q.priority)
			}
			continue
		}
		queue = append(queue, q)
	}
	if b.current != nil && !keep {
		b.logger.Debug("canceling unneeded request", slog.String("segment", b.current.seg.String()))
		b.env.Fetcher.Cancel(b.current.handle)
		b.current = nil
	}
	b.queue = queue
}

func (b *RepresentationBuffer) startNext() {
	if b.current != nil || b.terminating || b.terminated || len(b.queue) == 0 {
		return
	}
	next := b.queue[0]
	b.queue = b.queue[1:]

	b.lastReqID++
	id := b.lastReqID
	addr := b.addr
	post := b.env.Post
	req := fetch.Request{
		MediaType:      b.addr.Type,
		PeriodID:       b.period.ID,
		AdaptationID:   b.adaptation.ID,
		Representation: b.rep,
		Segment:        next.seg,
		InitInfo:       b.initInfo,
	}
	h := b.env.Fetcher.CreateRequest(req, next.priority, func(res *fetch.Result, err error) {
		post(FetchDone{Address: addr, RequestID: id, Result: res, Err: err})
	})
	b.current = &inflight{id: id, handle: h, seg: next.seg, priority: next.priority}
}

func (b *RepresentationBuffer) onFetchDone(m FetchDone) []Event {
	if b.current == nil || m.RequestID != b.current.id {
		return nil
	}
	seg := b.current.seg
	b.current = nil

	if m.Err != nil {
		if errors.Is(m.Err, fetch.ErrCanceled) {
			return b.afterRequest()
		}
		if fe, ok := fetch.AsError(m.Err); ok && !fe.Fatal {
			b.logger.Warn("skipping best-effort segment",
				slog.String("segment", seg.String()),
				slog.String("error", m.Err.Error()))
			b.failed[segmentKey(seg)] = struct{}{}
			return b.afterRequest()
		}
		b.stop()
		return []Event{Error{Type: b.addr.Type, Err: m.Err, Fatal: b.addr.Type.IsNative()}}
	}

	res := m.Result
	if res == nil {
		return b.afterRequest()
	}
	if seg.IsInit {
		b.init = &sink.InitData{Token: res.InitToken, Data: res.InitData}
		b.initInfo = res.InitInfo
		b.write(seg, 0, 0, nil)
		return b.afterRequest()
	}
	if res.Parsed == nil {
		return b.afterRequest()
	}

	start, end := res.Parsed.Bounds(seg)
	b.write(seg, start, end, &sink.MediaData{
		Data:            res.Parsed.Data,
		Payload:         res.Parsed.Payload,
		Start:           start,
		End:             end,
		TimestampOffset: seg.TimestampOffset,
		AppendWindow:    media.TimeRange{Start: b.period.Start, End: b.period.End},
	})
	return b.afterRequest()
}

// write queues an append and posts its completion back to the loop.
func (b *RepresentationBuffer) write(seg media.Segment, start, end float64, data *sink.MediaData) {
	if data != nil {
		b.ignore[segmentKey(seg)] = struct{}{}
	}
	msg := WriteDone{
		Address:        b.addr,
		Writer:         b.entry.Writer,
		Period:         b.period,
		Adaptation:     b.adaptation,
		Representation: b.rep,
		Segment:        seg,
		Start:          start,
		End:            end,
	}
	post := b.env.Post
	b.entry.Writer.Append(b.init, data).OnComplete(func(err error) {
		done := msg
		done.Err = err
		post(done)
	})
}

func (b *RepresentationBuffer) afterRequest() []Event {
	if b.terminating {
		b.terminating = false
		b.terminated = true
		b.queue = nil
		return []Event{RepresentationTerminated{Address: b.addr}}
	}
	return b.update()
}

func (b *RepresentationBuffer) onWriteDone(m WriteDone) []Event {
	delete(b.ignore, segmentKey(m.Segment))
	if m.Err != nil {
		if errors.Is(m.Err, sink.ErrAborted) || errors.Is(m.Err, sink.ErrWriterDisposed) {
			return nil
		}
		if m.Segment.IsInit {
			// the next append pushes the init segment again
			b.logger.Warn("init segment append failed", slog.String("error", m.Err.Error()))
		}
		b.stop()
		return []Event{Error{Type: b.addr.Type, Err: m.Err, Fatal: b.addr.Type.IsNative()}}
	}
	return b.update()
}

func (b *RepresentationBuffer) terminate(t Terminate) []Event {
	if b.terminated {
		return nil
	}
	if b.terminating && !t.Urgent {
		return nil
	}
	if b.current != nil && !t.Urgent && b.hasTick {
		needed, _, _ := b.neededSegments()
		if len(needed) > 0 && needed[0].seg.Same(b.current.seg) {
			b.terminating = true
			b.queue = nil
			return nil
		}
	}
	b.terminating = false
	b.stop()
	return []Event{RepresentationTerminated{Address: b.addr}}
}

// checkDiscontinuity looks for a hole to seek over while stalled.
func (b *RepresentationBuffer) checkDiscontinuity() []Event {
	pos := b.tick.Position
	// A gap skipped once may be met again after a recovery or a seek back.
	if !b.tick.Stalled || pos < b.lastSeekTo {
		b.lastSeekTo = math.NaN()
	}
	if !b.tick.Stalled || !b.addr.Type.IsNative() {
		return nil
	}
	buffered := b.entry.Writer.Buffered()

	seekTo := -1.0
	if b.env.Manifest != nil && b.env.Manifest.IsLive() {
		gap := buffered.NextRangeGap(pos)
		if gap > 0 && gap < b.env.Config.DiscontinuityThreshold {
			seekTo = pos + gap + discontinuitySeekPadding
		}
	}
	if seekTo < 0 && b.rep.Index != nil && b.period.Contains(pos) && !buffered.Contains(pos) {
		if next := b.rep.Index.CheckDiscontinuity(pos); next >= 0 {
			seekTo = next
		}
	}
	if seekTo < 0 || seekTo == b.lastSeekTo {
		return nil
	}
	b.lastSeekTo = seekTo
	b.logger.Info("discontinuity encountered",
		slog.Float64("position", pos),
		slog.Float64("seek_to", seekTo))
	return []Event{DiscontinuityEncountered{Type: b.addr.Type, Period: b.period, SeekTo: seekTo}}
}
