// Package session runs playback sessions: it loads a manifest, drives a
// buffer orchestrator from a simulated playback clock and reacts to the
// events it emits, journaling them along the way.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jmylchreest/playcore/internal/abr"
	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/clock"
	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/manifest"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/observability"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/sink"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// Common errors.
var (
	// ErrSessionClosed is returned when commanding a finished session.
	ErrSessionClosed = errors.New("session closed")
	// ErrNotReady is returned when commanding a session still loading its
	// manifest.
	ErrNotReady = errors.New("session is still loading")
	// ErrPositionOutOfRange is returned when seeking outside the manifest.
	ErrPositionOutOfRange = errors.New("position outside the seekable range")
	// ErrUnknownTrack is returned when selecting a track absent from the
	// current period.
	ErrUnknownTrack = errors.New("unknown track")
	// ErrNoPlayableMedia is returned when the manifest has no audio or
	// video to buffer.
	ErrNoPlayableMedia = errors.New("manifest has no playable audio or video")
)

const (
	// defaultLiveDelay is the distance to the live edge a live session
	// starts at.
	defaultLiveDelay    = 10.0
	lowLatencyLiveDelay = 3.5

	// recordFlushTicks is how many ticks pass between two session row
	// updates while playing.
	recordFlushTicks = 25
)

// Options configures a Session.
type Options struct {
	// ID identifies the session. A new one is generated when zero.
	ID          models.ULID
	ManifestURL string

	// StartAt is the requested start position. Nil starts at the beginning
	// of static content and near the live edge of live content.
	StartAt *float64

	// Autoplay starts the clock once the manifest is loaded. Otherwise the
	// session buffers until Play is called.
	Autoplay bool

	// Rate is the playback rate of the simulated clock. Zero plays at 1.
	Rate float64

	Config *config.Config
	Client *httpclient.Client

	// Sessions and Events receive the journal. Journaling is skipped when
	// they are nil or journal.enabled is false.
	Sessions repository.SessionRepository
	Events   repository.EventRepository

	Logger *slog.Logger

	// Now replaces the wall clock of the simulated playback clock.
	Now func() time.Time

	// OnDone is called once the session finished and its journal is
	// flushed.
	OnDone func(*Session)
}

type envelope struct {
	generation uint64
	msg        buffer.Message
}

// mailbox is an unbounded queue of messages posted by fetch and sink
// callbacks. Posting never blocks, so callbacks may run on the session
// goroutine itself.
type mailbox struct {
	mu     sync.Mutex
	items  []envelope
	notify chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

func (m *mailbox) post(e envelope) {
	m.mu.Lock()
	m.items = append(m.items, e)
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *mailbox) drain() []envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

type loadResult struct {
	manifest *media.Manifest
	format   manifest.Format
	err      error
}

// Session is one playback session. Every field below the loop-owned marker
// is only touched by the session goroutine; other goroutines talk to it
// through commands.
type Session struct {
	id       models.ULID
	opts     Options
	cfg      *config.Config
	bufCfg   buffer.Config
	logger   *slog.Logger
	broker   *Broker
	loader   *manifest.Loader
	pipeline *fetch.Pipeline
	chooser  *abr.Chooser
	journal  *journal

	box       *mailbox
	commands  chan func()
	refreshed chan loadResult
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	stats Stats
	err   error

	// loop-owned
	manifest     *media.Manifest
	clock        *clock.Simulated
	store        *sink.Store
	orch         *buffer.Orchestrator
	generation   uint64
	types        []media.Type
	tracks       map[media.Type]string
	bitrates     map[media.Type]int
	record       models.PlaybackSession
	pending      []*models.SessionEvent
	seq          int64
	ticks        int
	bytesBase    int64
	lastTick     buffer.Tick
	reloads      int
	stalled      bool
	refreshing   bool
	refreshTimer *time.Timer
	finished     bool
}

// New creates a session. Start begins playback.
func New(opts Options) (*Session, error) {
	if opts.ManifestURL == "" {
		return nil, models.ErrManifestURLRequired
	}
	if opts.Config == nil {
		return nil, errors.New("session config is required")
	}
	if opts.ID.IsZero() {
		opts.ID = models.NewULID()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	cfg := opts.Config
	logger := observability.WithSession(opts.Logger, opts.ID.String())

	client := opts.Client
	if client == nil {
		client = httpclient.New(ClientConfig(cfg, logger))
	}

	s := &Session{
		id:     opts.ID,
		opts:   opts,
		cfg:    cfg,
		bufCfg: BufferConfig(cfg),
		logger: logger,
		broker: NewBroker(logger),
		loader: manifest.NewLoader(client,
			manifest.WithRetryPolicy(RetryPolicy(cfg.Network, cfg.Network.ManifestRetry)),
			manifest.WithTimeout(cfg.Network.ManifestTimeout),
			manifest.WithLogger(logger),
			manifest.WithClock(opts.Now)),
		pipeline:  fetch.NewPipeline(fetch.NewHTTPLoader(client), FetchConfig(cfg), logger),
		chooser:   abr.New(ABROptions(cfg, logger)),
		box:       newMailbox(),
		commands:  make(chan func()),
		refreshed: make(chan loadResult, 1),
		done:      make(chan struct{}),
		tracks:    make(map[media.Type]string),
		bitrates:  make(map[media.Type]int),
	}
	s.pipeline.OnMetrics(s.chooser.Observe)

	s.record = models.PlaybackSession{
		ManifestURL: opts.ManifestURL,
		State:       models.SessionStateLoading,
	}
	s.record.ID = s.id
	if opts.StartAt != nil {
		s.record.StartPosition = *opts.StartAt
	}
	if cfg.Journal.Enabled && (opts.Sessions != nil || opts.Events != nil) {
		s.journal = newJournal(opts.Sessions, opts.Events, cfg.Playback.EventQueueSize, logger)
	}
	s.stats = Stats{ID: s.id.String(), ManifestURL: opts.ManifestURL, State: models.SessionStateLoading}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() models.ULID { return s.id }

// Start records the session and launches its goroutine. The session stops
// when ctx is canceled or Stop is called.
func (s *Session) Start(ctx context.Context) error {
	if s.journal != nil && s.opts.Sessions != nil {
		if err := s.opts.Sessions.Create(ctx, &s.record); err != nil {
			s.journal.close(journalOp{})
			return fmt.Errorf("recording session: %w", err)
		}
	}
	s.startedAt = time.Now()
	s.mu.Lock()
	s.stats.StartedAt = s.startedAt
	s.mu.Unlock()

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting playback session", slog.String("manifest_url", s.opts.ManifestURL))
	go s.run()
	return nil
}

// Stop ends the session and waits until its journal is flushed.
func (s *Session) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return ErrSessionClosed
	}
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until the session finished. It returns the fatal error of a
// failed session.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed once the session finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the fatal error of a failed session.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Stats returns the last published snapshot.
func (s *Session) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats.clone()
}

// Subscribe returns a subscriber receiving the session's records live.
func (s *Session) Subscribe() *Subscriber { return s.broker.Subscribe() }

// Unsubscribe removes a subscriber.
func (s *Session) Unsubscribe(id string) { s.broker.Unsubscribe(id) }

// Seek moves the playhead.
func (s *Session) Seek(ctx context.Context, position float64) error {
	return s.do(ctx, func() error {
		minPos, maxPos := s.manifest.MinimumPosition(), s.manifest.MaximumPosition()
		if position < minPos || (maxPos > minPos && position > maxPos) {
			return fmt.Errorf("%w: %.3f not in [%.3f, %.3f]", ErrPositionOutOfRange, position, minPos, maxPos)
		}
		s.logger.Debug("seeking", slog.Float64("position", position))
		s.clock.Seek(position)
		s.tick()
		return nil
	})
}

// Play starts or resumes the playback clock.
func (s *Session) Play(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.clock.Play()
		return nil
	})
}

// Pause stops the playback clock. Buffering continues.
func (s *Session) Pause(ctx context.Context) error {
	return s.do(ctx, func() error {
		s.clock.Pause()
		return nil
	})
}

// SetBufferGoal changes the buffer goals. Negative values are left
// unchanged.
func (s *Session) SetBufferGoal(ctx context.Context, goal buffer.SetBufferGoal) error {
	return s.do(ctx, func() error {
		s.dispatch(s.orch.Handle(goal))
		return nil
	})
}

// SetTrack selects the adaptation of a media type.
func (s *Session) SetTrack(ctx context.Context, t media.Type, adaptationID string) error {
	return s.do(ctx, func() error {
		if !s.hasAdaptation(t, adaptationID) {
			return fmt.Errorf("%w: %s track %q", ErrUnknownTrack, t, adaptationID)
		}
		s.tracks[t] = adaptationID
		s.dispatch(s.orch.Handle(buffer.SetTrack{Type: t, AdaptationID: adaptationID}))
		return nil
	})
}

// SetBitrate fixes the bitrate of a media type. Zero returns to adaptive
// selection.
func (s *Session) SetBitrate(ctx context.Context, t media.Type, bitrate int) error {
	return s.do(ctx, func() error {
		if bitrate > 0 {
			s.bitrates[t] = bitrate
		} else {
			delete(s.bitrates, t)
		}
		s.dispatch(s.orch.Handle(buffer.SetBitrate{Type: t, Bitrate: bitrate}))
		return nil
	})
}

// SetDecipherable reports a change of decryptability for representations.
func (s *Session) SetDecipherable(ctx context.Context, representationIDs []string, decipherable bool) error {
	return s.do(ctx, func() error {
		s.dispatch(s.orch.Handle(buffer.DecipherabilityUpdate{
			RepresentationIDs: representationIDs,
			Decipherable:      decipherable,
		}))
		return nil
	})
}

// Tracks lists the tracks of the period at the playhead.
func (s *Session) Tracks(ctx context.Context) ([]Track, error) {
	var out []Track
	err := s.do(ctx, func() error {
		out = s.listTracks()
		return nil
	})
	return out, err
}

// do runs fn on the session goroutine once the manifest is loaded.
func (s *Session) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	cmd := func() {
		if s.finished {
			errc <- ErrSessionClosed
			return
		}
		if s.orch == nil {
			errc <- ErrNotReady
			return
		}
		err := fn()
		// callers read Stats right after the command returns
		s.publish()
		errc <- err
	}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) run() {
	defer s.cleanup()

	loaded := make(chan loadResult, 1)
	go func() {
		loaded <- s.loadManifest("load_manifest")
	}()

	ticker := time.NewTicker(s.cfg.Playback.TickInterval)
	defer ticker.Stop()

	for !s.finished {
		select {
		case <-s.ctx.Done():
			s.finish(models.SessionStateStopped, nil)
		case res := <-loaded:
			s.onLoaded(res)
		case cmd := <-s.commands:
			cmd()
		case <-s.box.notify:
			s.handleMessages()
		case <-ticker.C:
			if s.orch != nil {
				s.tick()
			}
		case res := <-s.refreshed:
			s.onRefreshed(res)
		case <-s.refreshC():
			s.refreshTimer = nil
			s.startRefresh()
		}
	}
}

func (s *Session) onLoaded(res loadResult) {
	if res.err != nil {
		if s.ctx.Err() != nil {
			s.finish(models.SessionStateStopped, nil)
			return
		}
		s.finish(models.SessionStateFailed, fmt.Errorf("loading manifest: %w", res.err))
		return
	}
	m := res.manifest
	s.manifest = m
	s.record.Format = string(res.format)
	s.record.Live = m.IsLive()

	s.types = availableTypes(m, EnabledTypes(s.cfg))
	if !hasNative(s.types) {
		s.finish(models.SessionStateFailed, ErrNoPlayableMedia)
		return
	}

	start := startPosition(m, s.opts.StartAt, s.bufCfg.LowLatency)
	s.record.StartPosition = start
	s.clock = clock.NewSimulated(start, s.nativeBuffered,
		clock.WithNow(s.opts.Now), clock.WithRate(s.opts.Rate))
	if !m.IsLive() {
		s.clock.SetDuration(m.MaximumPosition())
	}

	s.logger.Info("manifest loaded",
		slog.String("format", string(res.format)),
		slog.Bool("live", m.IsLive()),
		slog.Int("periods", len(m.Periods)),
		slog.Float64("start", start))

	s.dispatch(s.build(start))
	s.record.State = models.SessionStatePlaying
	s.persistRecord()
	s.scheduleRefresh()
	if s.opts.Autoplay {
		s.clock.Play()
	}
	s.publish()
}

// build creates a fresh store and orchestrator positioned at start and
// replays the track and bitrate selections made so far.
func (s *Session) build(start float64) []buffer.Event {
	s.generation++
	gen := s.generation
	s.store = sink.NewStore(sink.DefaultFactory(SinkConfig(s.cfg)), s.logger)

	env := &buffer.Env{
		Manifest: s.manifest,
		Store:    s.store,
		Fetcher:  s.pipeline,
		Chooser:  s.chooser,
		Post: func(m buffer.Message) {
			s.box.post(envelope{generation: gen, msg: m})
		},
		Logger: s.logger,
		Config: s.bufCfg,
	}
	s.orch = buffer.NewOrchestrator(env, s.types)
	events := s.orch.Start(start)
	for t, id := range s.tracks {
		events = append(events, s.orch.Handle(buffer.SetTrack{Type: t, AdaptationID: id})...)
	}
	for t, bitrate := range s.bitrates {
		events = append(events, s.orch.Handle(buffer.SetBitrate{Type: t, Bitrate: bitrate})...)
	}
	return events
}

func (s *Session) handleMessages() {
	for _, e := range s.box.drain() {
		if s.finished {
			return
		}
		// addressed to an orchestrator replaced by a reload
		if e.generation != s.generation {
			continue
		}
		s.dispatch(s.orch.Handle(e.msg))
	}
}

func (s *Session) tick() {
	tick := s.clock.Tick()
	if tick.Stalled && !s.stalled {
		s.record.Rebuffers++
		s.logger.Debug("playback stalled", slog.Float64("position", tick.Position))
	}
	s.stalled = tick.Stalled
	s.lastTick = tick
	s.dispatch(s.orch.Handle(tick))

	if !s.finished && s.clock.Ended() {
		s.finish(models.SessionStateEnded, nil)
		return
	}
	if s.finished {
		return
	}
	s.ticks++
	s.flushEvents(s.ticks%recordFlushTicks == 0)
	s.publish()
}

// dispatch journals events and applies the ones addressed to the session.
// Events following a reload were emitted by the replaced orchestrator and
// are only journaled.
func (s *Session) dispatch(events []buffer.Event) {
	gen := s.generation
	for _, ev := range events {
		s.journalEvent(ev)
		if s.finished || gen != s.generation {
			continue
		}
		switch e := ev.(type) {
		case buffer.AddedSegment:
			if !e.Segment.IsInit {
				s.record.SegmentsLoaded++
			}
			if e.Type.IsNative() {
				s.clock.SetMetadata(true)
			}
		case buffer.DiscontinuityEncountered:
			s.logger.Info("seeking over discontinuity",
				slog.String("media_type", string(e.Type)),
				slog.Float64("to", e.SeekTo))
			s.clock.Seek(e.SeekTo)
		case buffer.NeedsManifestRefresh:
			s.startRefresh()
		case buffer.NeedsMediaSourceReload:
			s.reload(e.Position)
		case buffer.NeedsBufferFlush:
			// a flush is a seek to the current position
			s.clock.Seek(s.clock.Position())
		case buffer.EndOfStream:
			if !s.manifest.IsLive() {
				s.clock.SetDuration(s.manifest.MaximumPosition())
			}
		case buffer.ResumeStream:
			s.clock.SetDuration(0)
		case buffer.Warning:
			s.logger.Warn("buffer warning",
				slog.String("media_type", string(e.Type)),
				slog.String("error", errString(e.Err)))
		case buffer.Error:
			if e.Fatal {
				s.finish(models.SessionStateFailed, e.Err)
				continue
			}
			s.logger.Error("media type disabled after error",
				slog.String("media_type", string(e.Type)),
				slog.String("error", errString(e.Err)))
		}
	}
}

// reload recreates every sink and the orchestrator at position.
func (s *Session) reload(position float64) {
	s.logger.Info("reloading media sinks", slog.Float64("position", position))
	s.reloads++

	s.orch.Stop()
	s.bytesBase += s.bytesAppended()
	var types []media.Type
	for _, t := range s.types {
		if !s.store.IsDisabled(t) {
			types = append(types, t)
		}
	}
	s.types = types
	s.store.DisposeAll()

	s.clock.Seek(position)
	s.clock.SetMetadata(false)
	s.dispatch(s.build(position))
}

func (s *Session) startRefresh() {
	if s.refreshing || s.finished {
		return
	}
	s.refreshing = true
	go func() {
		res := s.loadManifest("refresh_manifest")
		select {
		case s.refreshed <- res:
		case <-s.ctx.Done():
		}
	}()
}

// loadManifest fetches and parses the session manifest. It runs off the loop.
func (s *Session) loadManifest(operation string) loadResult {
	var res loadResult
	done := observability.TimedOperationWithError(s.ctx, s.logger, operation, &res.err)
	defer done()
	res.manifest, res.format, res.err = s.loader.LoadFormat(s.ctx, s.opts.ManifestURL)
	return res
}

func (s *Session) onRefreshed(res loadResult) {
	s.refreshing = false
	if res.err != nil {
		observability.WithError(s.logger, res.err).Warn("manifest refresh failed")
		s.scheduleRefresh()
		return
	}
	s.manifest = res.manifest
	s.record.Live = res.manifest.IsLive()
	if !res.manifest.IsLive() {
		s.clock.SetDuration(res.manifest.MaximumPosition())
	}
	s.logger.Debug("manifest refreshed", slog.Int("periods", len(res.manifest.Periods)))
	s.dispatch(s.orch.Handle(buffer.ManifestUpdated{Manifest: res.manifest}))
	s.scheduleRefresh()
	s.publish()
}

func (s *Session) scheduleRefresh() {
	if s.manifest == nil || !s.manifest.IsLive() || s.manifest.RefreshInterval <= 0 {
		return
	}
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}
	s.refreshTimer = time.NewTimer(s.manifest.RefreshInterval)
}

func (s *Session) refreshC() <-chan time.Time {
	if s.refreshTimer == nil {
		return nil
	}
	return s.refreshTimer.C
}

// finish moves the session to a terminal state and releases its
// resources. The journal is flushed by cleanup.
func (s *Session) finish(state models.SessionState, err error) {
	if s.finished {
		return
	}
	s.finished = true

	if s.orch != nil {
		for _, ev := range s.orch.Stop() {
			s.journalEvent(ev)
		}
	}
	s.pipeline.Close()
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
	}

	ended := time.Now()
	s.record.State = state
	s.record.EndedAt = &ended
	if s.clock != nil {
		s.record.LastPosition = s.clock.Position()
	}
	s.record.BytesLoaded = s.bytesBase + s.bytesAppended()
	if s.store != nil {
		s.store.DisposeAll()
	}
	if err != nil {
		s.record.Error = err.Error()
	}

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.publish()

	attrs := []any{
		slog.String("state", string(state)),
		slog.Float64("position", s.record.LastPosition),
		slog.Int("segments", s.record.SegmentsLoaded),
	}
	if err != nil {
		s.logger.Error("playback session failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	s.logger.Info("playback session finished", attrs...)
}

func (s *Session) cleanup() {
	if s.journal != nil {
		op := journalOp{events: s.pending}
		if s.opts.Sessions != nil {
			rec := s.record
			op.session = &rec
		}
		s.pending = nil
		s.journal.close(op)
	}
	s.broker.Close()
	s.cancel()
	close(s.done)
	if s.opts.OnDone != nil {
		s.opts.OnDone(s)
	}
}

func (s *Session) journalEvent(ev buffer.Event) {
	s.seq++
	position := 0.0
	if s.clock != nil {
		position = s.clock.Position()
	}
	rec := newRecord(s.seq, position, time.Now(), ev)
	s.broker.Publish(rec)

	if s.journal == nil || s.opts.Events == nil {
		return
	}
	if ev.Kind() == buffer.KindAddedSegment && !s.cfg.Journal.RecordSegments {
		return
	}
	s.pending = append(s.pending, rec.model(s.id))
}

// flushEvents hands pending events, and the session row when withRecord
// is set, to the journal.
func (s *Session) flushEvents(withRecord bool) {
	if s.journal == nil {
		return
	}
	op := journalOp{events: s.pending}
	if withRecord && s.opts.Sessions != nil {
		s.syncRecord()
		rec := s.record
		op.session = &rec
	}
	if len(op.events) == 0 && op.session == nil {
		return
	}
	s.pending = nil
	s.journal.submit(op)
}

func (s *Session) persistRecord() {
	s.flushEvents(true)
}

func (s *Session) syncRecord() {
	if s.clock != nil {
		s.record.LastPosition = s.clock.Position()
	}
	s.record.BytesLoaded = s.bytesBase + s.bytesAppended()
}

func (s *Session) bytesAppended() int64 {
	if s.store == nil {
		return 0
	}
	var total int64
	for _, t := range s.store.Types() {
		if e, ok := s.store.Get(t); ok {
			total += e.Writer.Stats().BytesAppended
		}
	}
	return total
}

// nativeBuffered returns what can play at once: the intersection of the
// buffered ranges of every enabled native type.
func (s *Session) nativeBuffered() media.TimeRanges {
	if s.store == nil {
		return nil
	}
	var out media.TimeRanges
	first := true
	for _, t := range s.types {
		if !t.IsNative() || s.store.IsDisabled(t) {
			continue
		}
		e, ok := s.store.Get(t)
		if !ok {
			return nil
		}
		if first {
			out = e.Writer.Buffered().Clone()
			first = false
			continue
		}
		out = out.Intersect(e.Writer.Buffered())
	}
	return out
}

func (s *Session) currentPeriod() *media.Period {
	if p := s.orch.ActivePeriod(); p != nil {
		return p
	}
	if p := s.manifest.PeriodForTime(s.clock.Position()); p != nil {
		return p
	}
	if len(s.manifest.Periods) > 0 {
		return s.manifest.Periods[0]
	}
	return nil
}

func (s *Session) hasAdaptation(t media.Type, id string) bool {
	p := s.currentPeriod()
	return p != nil && p.AdaptationByID(t, id) != nil
}

func availableTypes(m *media.Manifest, enabled []media.Type) []media.Type {
	var out []media.Type
	for _, t := range enabled {
		for _, p := range m.Periods {
			if len(p.AdaptationsFor(t)) > 0 {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func hasNative(types []media.Type) bool {
	for _, t := range types {
		if t.IsNative() {
			return true
		}
	}
	return false
}

// startPosition resolves the initial playhead.
func startPosition(m *media.Manifest, at *float64, lowLatency bool) float64 {
	minPos, maxPos := m.MinimumPosition(), m.MaximumPosition()
	if at != nil {
		pos := math.Max(*at, minPos)
		if maxPos > minPos {
			pos = math.Min(pos, maxPos)
		}
		return pos
	}
	if m.IsLive() {
		delay := defaultLiveDelay
		if lowLatency {
			delay = lowLatencyLiveDelay
		}
		return math.Max(minPos, maxPos-delay)
	}
	return minPos
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
