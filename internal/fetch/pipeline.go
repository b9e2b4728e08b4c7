package fetch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// Request describes one segment to fetch.
type Request struct {
	MediaType      media.Type
	PeriodID       string
	AdaptationID   string
	Representation *media.Representation
	Segment        media.Segment

	// InitInfo is the parsed init segment of the representation, needed
	// to decode media segment timing.
	InitInfo *InitInfo
}

// Metrics describes one completed download.
type Metrics struct {
	MediaType        media.Type
	RepresentationID string
	Size             int64
	Duration         time.Duration
	SegmentDuration  float64
}

// Result is a fetched and parsed segment.
type Result struct {
	Request Request

	// Set for init segments. InitToken identifies InitData; a cached
	// init segment comes back with the token of its first load.
	InitToken media.InitToken
	InitData  []byte
	InitInfo  *InitInfo
	Cached    bool

	// Set for media segments.
	Parsed *ParsedSegment

	Metrics Metrics
}

const (
	handlePending int32 = iota
	handleDone
	handleCanceled
)

// Handle is an in-flight request.
type Handle struct {
	ID      uuid.UUID
	Request Request

	priority atomic.Int32
	state    atomic.Int32
	task     *Task
}

// Priority returns the current priority.
func (h *Handle) Priority() int {
	return int(h.priority.Load())
}

// Pending reports whether the request has neither completed nor been
// canceled.
func (h *Handle) Pending() bool {
	return h.state.Load() == handlePending
}

func (h *Handle) settle(to int32) bool {
	return h.state.CompareAndSwap(handlePending, to)
}

// Config configures a Pipeline.
type Config struct {
	// Retry applies to critical media types. Best-effort types are never
	// retried.
	Retry         httpclient.RetryPolicy
	MaxConcurrent int
}

type initEntry struct {
	token media.InitToken
	data  []byte
	info  *InitInfo
}

// Pipeline schedules, downloads and parses segment requests.
type Pipeline struct {
	loader Loader
	prio   *Prioritizer
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	inits     map[string]*initEntry
	onMetrics func(Metrics)
}

// NewPipeline creates a pipeline.
func NewPipeline(loader Loader, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		loader: loader,
		prio:   NewPrioritizer(cfg.MaxConcurrent),
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		inits:  make(map[string]*initEntry),
	}
}

// OnMetrics registers the callback receiving download metrics.
func (p *Pipeline) OnMetrics(fn func(Metrics)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onMetrics = fn
}

// CreateRequest schedules a request. done is called exactly once unless the
// request is canceled first, in which case it is never called.
func (p *Pipeline) CreateRequest(req Request, priority int, done func(*Result, error)) *Handle {
	h := &Handle{ID: uuid.New(), Request: req}
	h.priority.Store(int32(priority))

	if req.Segment.IsInit {
		if entry := p.cachedInit(req); entry != nil {
			res := &Result{
				Request:   req,
				InitToken: entry.token,
				InitData:  entry.data,
				InitInfo:  entry.info,
				Cached:    true,
			}
			go func() {
				if h.settle(handleDone) {
					done(res, nil)
				}
			}()
			return h
		}
	}

	h.task = p.prio.Submit(p.ctx, priority, func(ctx context.Context) {
		res, err := p.execute(ctx, req)
		if !h.settle(handleDone) {
			return
		}
		done(res, err)
	})
	return h
}

// UpdatePriority re-prioritizes a request without canceling it.
func (p *Pipeline) UpdatePriority(h *Handle, priority int) {
	if h == nil || !h.Pending() {
		return
	}
	h.priority.Store(int32(priority))
	if h.task != nil {
		p.prio.Update(h.task, priority)
	}
}

// Cancel aborts a request. Its callback will not be called.
func (p *Pipeline) Cancel(h *Handle) {
	if h == nil || !h.settle(handleCanceled) {
		return
	}
	if h.task != nil {
		p.prio.Cancel(h.task)
	}
}

// ForgetInit drops cached init segments of a representation.
func (p *Pipeline) ForgetInit(representationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key := range p.inits {
		if strings.HasPrefix(key, representationID+"|") {
			delete(p.inits, key)
		}
	}
}

// Stats returns the number of running and waiting requests.
func (p *Pipeline) Stats() (running, waiting int) {
	return p.prio.Stats()
}

// Close cancels every request.
func (p *Pipeline) Close() {
	p.cancel()
}

func initKey(req Request) string {
	key := req.Segment.URL
	if req.Representation != nil {
		key = req.Representation.ID + "|" + key
	}
	if req.Segment.Range != nil {
		key += "|" + req.Segment.Range.Header()
	}
	return key
}

func (p *Pipeline) cachedInit(req Request) *initEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inits[initKey(req)]
}

func (p *Pipeline) execute(ctx context.Context, req Request) (*Result, error) {
	seg := req.Segment
	policy := p.cfg.Retry
	if !req.MediaType.IsCritical() {
		policy = httpclient.NoRetry()
	}

	loaded, err := p.loader.Load(ctx, seg, policy)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, ErrCanceled
		}
		return nil, newLoadError(req.MediaType, seg.URL, err)
	}

	mime := ""
	repID := ""
	if req.Representation != nil {
		mime = req.Representation.MimeType
		repID = req.Representation.ID
	}
	metrics := Metrics{
		MediaType:        req.MediaType,
		RepresentationID: repID,
		Size:             loaded.Size,
		Duration:         loaded.Duration,
		SegmentDuration:  seg.Seconds(),
	}
	parser := ParserFor(mime)

	if seg.IsInit {
		info, err := parser.ParseInit(loaded.Data)
		if err != nil {
			return nil, newParseError(req.MediaType, seg.URL, err)
		}
		entry := &initEntry{token: media.NewInitToken(), data: loaded.Data, info: info}
		p.mu.Lock()
		p.inits[initKey(req)] = entry
		p.mu.Unlock()
		return &Result{
			Request:   req,
			InitToken: entry.token,
			InitData:  entry.data,
			InitInfo:  info,
			Metrics:   metrics,
		}, nil
	}

	parsed, err := parser.ParseMedia(loaded.Data, seg, req.InitInfo)
	if err != nil {
		return nil, newParseError(req.MediaType, seg.URL, err)
	}

	p.mu.Lock()
	onMetrics := p.onMetrics
	p.mu.Unlock()
	if onMetrics != nil && req.MediaType.IsNative() {
		onMetrics(metrics)
	}

	return &Result{Request: req, Parsed: parsed, Metrics: metrics}, nil
}
