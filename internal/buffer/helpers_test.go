package buffer

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
)

// syncSink completes every operation synchronously.
type syncSink struct {
	typ        media.Type
	ranges     media.TimeRanges
	appends    []sink.Chunk
	removes    []media.TimeRange
	failAppend error
}

func (s *syncSink) Type() media.Type { return s.typ }

func (s *syncSink) Append(c sink.Chunk, done func(error)) {
	if s.failAppend != nil {
		done(s.failAppend)
		return
	}
	s.appends = append(s.appends, c)
	if c.HasMedia() {
		start, end := c.Start, c.End
		if c.AppendWindow.End > c.AppendWindow.Start {
			start = math.Max(start, c.AppendWindow.Start)
			end = math.Min(end, c.AppendWindow.End)
		}
		s.ranges = s.ranges.Add(start, end)
	}
	done(nil)
}

func (s *syncSink) Remove(start, end float64, done func(error)) {
	s.removes = append(s.removes, media.TimeRange{Start: start, End: end})
	s.ranges = s.ranges.Remove(start, end)
	done(nil)
}

func (s *syncSink) Buffered() media.TimeRanges { return s.ranges.Clone() }
func (s *syncSink) Updating() bool             { return false }
func (s *syncSink) Abort()                     {}

type fakeRequest struct {
	req       fetch.Request
	priority  int
	done      func(*fetch.Result, error)
	handle    *fetch.Handle
	canceled  bool
	completed bool
}

// fakeFetcher records requests and completes them on demand.
type fakeFetcher struct {
	mu       sync.Mutex
	requests []*fakeRequest
	updates  int
	tokens   map[string]media.InitToken
	// fail returns the error a request should complete with, if any.
	fail func(fetch.Request) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{tokens: make(map[string]media.InitToken)}
}

func (f *fakeFetcher) CreateRequest(req fetch.Request, priority int, done func(*fetch.Result, error)) *fetch.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := &fetch.Handle{Request: req}
	f.requests = append(f.requests, &fakeRequest{req: req, priority: priority, done: done, handle: h})
	return h
}

func (f *fakeFetcher) UpdatePriority(h *fetch.Handle, priority int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.find(h); r != nil {
		r.priority = priority
		f.updates++
	}
}

func (f *fakeFetcher) Cancel(h *fetch.Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r := f.find(h); r != nil {
		r.canceled = true
	}
}

func (f *fakeFetcher) find(h *fetch.Handle) *fakeRequest {
	for _, r := range f.requests {
		if r.handle == h {
			return r
		}
	}
	return nil
}

func (f *fakeFetcher) pending() []*fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeRequest
	for _, r := range f.requests {
		if !r.canceled && !r.completed {
			out = append(out, r)
		}
	}
	return out
}

func (f *fakeFetcher) all() []*fakeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeRequest(nil), f.requests...)
}

func (f *fakeFetcher) complete(r *fakeRequest, err error) {
	f.mu.Lock()
	r.completed = true
	if err == nil && f.fail != nil {
		err = f.fail(r.req)
	}
	var res *fetch.Result
	if err == nil {
		res = f.result(r.req)
	}
	f.mu.Unlock()
	r.done(res, err)
}

func (f *fakeFetcher) result(req fetch.Request) *fetch.Result {
	if req.Segment.IsInit {
		tok, ok := f.tokens[req.Representation.ID]
		if !ok {
			tok = media.NewInitToken()
			f.tokens[req.Representation.ID] = tok
		}
		return &fetch.Result{
			Request:   req,
			InitToken: tok,
			InitData:  []byte("init"),
			InitInfo:  &fetch.InitInfo{Timescale: 1000},
		}
	}
	return &fetch.Result{Request: req, Parsed: &fetch.ParsedSegment{Data: []byte("media")}}
}

func segmentList(repID string, start, end, dur float64) []media.Segment {
	var out []media.Segment
	for t := start; t < end-1e-9; t += dur {
		d := math.Min(dur, end-t)
		out = append(out, media.Segment{
			ID:        fmt.Sprintf("%s-%d", repID, int64(math.Round(t*1000))),
			Time:      int64(math.Round(t * 1000)),
			Duration:  int64(math.Round(d * 1000)),
			Timescale: 1000,
			URL:       fmt.Sprintf("https://cdn.test/%s/%d.m4s", repID, int64(math.Round(t*1000))),
		})
	}
	return out
}

func testRep(id string, bitrate int, start, end, dur float64) *media.Representation {
	init := &media.Segment{ID: id + "-init", IsInit: true, URL: "https://cdn.test/" + id + "/init.mp4"}
	return &media.Representation{
		ID:       id,
		Bitrate:  bitrate,
		MimeType: "video/mp4",
		Index:    media.NewListIndex(init, segmentList(id, start, end, dur), true),
	}
}

func testPeriod(id string, start, end float64, adaptations ...*media.Adaptation) *media.Period {
	p := media.NewPeriod(id, start)
	p.End = end
	for _, a := range adaptations {
		p.AddAdaptation(a)
	}
	return p
}

func testAdaptation(id string, t media.Type, reps ...*media.Representation) *media.Adaptation {
	return &media.Adaptation{ID: id, Type: t, Representations: reps}
}

// simplePeriod has one adaptation per type with a single 1 Mbps
// representation of 2s segments.
func simplePeriod(id string, start, end float64, types ...media.Type) *media.Period {
	var adaptations []*media.Adaptation
	for _, t := range types {
		repID := fmt.Sprintf("%s-%s", id, t)
		adaptations = append(adaptations, testAdaptation(repID, t, testRep(repID, 1_000_000, start, end, 2)))
	}
	return testPeriod(id, start, end, adaptations...)
}

type harness struct {
	t       *testing.T
	env     *Env
	fetcher *fakeFetcher
	sinks   map[media.Type]*syncSink
	orch    *Orchestrator

	mu     sync.Mutex
	queue  []Message
	events []Event
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.WantedBufferAhead = 10
	return cfg
}

func newHarness(t *testing.T, m *media.Manifest, cfg Config, types ...media.Type) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		fetcher: newFakeFetcher(),
		sinks:   make(map[media.Type]*syncSink),
	}
	store := sink.NewStore(func(typ media.Type) (sink.Sink, error) {
		s := &syncSink{typ: typ}
		h.sinks[typ] = s
		return s, nil
	}, nil)
	h.env = &Env{
		Manifest: m,
		Store:    store,
		Fetcher:  h.fetcher,
		Post:     h.post,
		Config:   cfg,
	}
	h.orch = NewOrchestrator(h.env, types)
	return h
}

func (h *harness) post(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queue = append(h.queue, m)
}

func (h *harness) record(events []Event) []Event {
	h.events = append(h.events, events...)
	return events
}

// drain delivers posted messages until none is left.
func (h *harness) drain() []Event {
	var out []Event
	for {
		h.mu.Lock()
		if len(h.queue) == 0 {
			h.mu.Unlock()
			return out
		}
		m := h.queue[0]
		h.queue = h.queue[1:]
		h.mu.Unlock()
		out = append(out, h.record(h.orch.Handle(m))...)
	}
}

func (h *harness) start(pos float64) []Event {
	out := h.record(h.orch.Start(pos))
	return append(out, h.drain()...)
}

func (h *harness) handle(in Input) []Event {
	out := h.record(h.orch.Handle(in))
	return append(out, h.drain()...)
}

func (h *harness) tick(pos float64) []Event {
	return h.handle(Tick{Position: pos, ReadyState: 4})
}

// settle completes requests one at a time until none is pending, checking
// that no buffer ever has two requests in flight.
func (h *harness) settle() []Event {
	h.t.Helper()
	out := h.drain()
	for i := 0; i < 10000; i++ {
		pending := h.fetcher.pending()
		if len(pending) == 0 {
			return out
		}
		inFlight := make(map[string]int)
		for _, r := range pending {
			key := string(r.req.MediaType) + "/" + r.req.PeriodID
			inFlight[key]++
			require.LessOrEqual(h.t, inFlight[key], 1, "two requests in flight for %s", key)
		}
		h.fetcher.complete(pending[0], nil)
		out = append(out, h.drain()...)
	}
	h.t.Fatal("requests never settled")
	return nil
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, e := range events {
		out[i] = e.Kind()
	}
	return out
}

func ofKind[T Event](events []Event) []T {
	var out []T
	for _, e := range events {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
