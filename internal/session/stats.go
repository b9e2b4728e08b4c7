package session

import (
	"math"
	"time"

	"github.com/jmylchreest/playcore/internal/abr"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/sink"
)

// Stats is a snapshot of a session.
type Stats struct {
	ID          string              `json:"id"`
	ManifestURL string              `json:"manifest_url"`
	Format      string              `json:"format,omitempty"`
	Live        bool                `json:"live"`
	State       models.SessionState `json:"state"`
	Error       string              `json:"error,omitempty"`
	StartedAt   time.Time           `json:"started_at"`

	Position    float64 `json:"position"`
	MinPosition float64 `json:"min_position"`
	MaxPosition float64 `json:"max_position"`
	// Duration is zero while unknown.
	Duration     float64 `json:"duration,omitempty"`
	ReadyState   int     `json:"ready_state"`
	Paused       bool    `json:"paused"`
	Stalled      bool    `json:"stalled"`
	Rebuffers    int     `json:"rebuffers"`
	ActivePeriod string  `json:"active_period,omitempty"`
	EndOfStream  bool    `json:"end_of_stream"`

	SegmentsLoaded int   `json:"segments_loaded"`
	BytesLoaded    int64 `json:"bytes_loaded"`

	Buffers   []TypeStats   `json:"buffers,omitempty"`
	Bandwidth abr.Stats     `json:"bandwidth"`
	Requests  RequestStats  `json:"requests"`
	Reloads   int           `json:"reloads"`
	Uptime    time.Duration `json:"uptime"`
}

// TypeStats describes the buffer of one media type.
type TypeStats struct {
	Type           media.Type             `json:"type"`
	Buffered       media.TimeRanges       `json:"buffered"`
	BufferedAhead  float64                `json:"buffered_ahead"`
	Complete       bool                   `json:"complete"`
	Disabled       bool                   `json:"disabled"`
	Adaptation     string                 `json:"adaptation,omitempty"`
	Representation string                 `json:"representation,omitempty"`
	Bitrate        int                    `json:"bitrate,omitempty"`
	Writer         sink.QueuedWriterStats `json:"writer"`
	// Cues is the number of text cues held, for text buffers.
	Cues int `json:"cues,omitempty"`
	// Thumbnail is the thumbnail at the playhead, for image buffers.
	Thumbnail *media.Thumbnail `json:"thumbnail,omitempty"`
}

// RequestStats counts segment requests.
type RequestStats struct {
	Running int `json:"running"`
	Waiting int `json:"waiting"`
}

// Track describes one adaptation of the current period.
type Track struct {
	Type            media.Type            `json:"type"`
	ID              string                `json:"id"`
	Language        string                `json:"language,omitempty"`
	Active          bool                  `json:"active"`
	Representations []TrackRepresentation `json:"representations"`
}

// TrackRepresentation describes one quality of a track.
type TrackRepresentation struct {
	ID           string `json:"id"`
	Bitrate      int    `json:"bitrate"`
	Codecs       string `json:"codecs,omitempty"`
	MimeType     string `json:"mime_type,omitempty"`
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Decipherable bool   `json:"decipherable"`
}

func (st Stats) clone() Stats {
	out := st
	out.Buffers = make([]TypeStats, len(st.Buffers))
	for i, b := range st.Buffers {
		b.Buffered = b.Buffered.Clone()
		out.Buffers[i] = b
	}
	out.Bandwidth.History = append([]float64(nil), st.Bandwidth.History...)
	return out
}

// publish refreshes the snapshot returned by Stats.
func (s *Session) publish() {
	st := Stats{
		ID:             s.id.String(),
		ManifestURL:    s.opts.ManifestURL,
		Format:         s.record.Format,
		Live:           s.record.Live,
		State:          s.record.State,
		Error:          s.record.Error,
		StartedAt:      s.startedAt,
		Rebuffers:      s.record.Rebuffers,
		SegmentsLoaded: s.record.SegmentsLoaded,
		BytesLoaded:    s.record.BytesLoaded,
		Bandwidth:      s.chooser.Stats(),
		Reloads:        s.reloads,
		Uptime:         time.Since(s.startedAt),
	}
	if !s.finished {
		st.BytesLoaded = s.bytesBase + s.bytesAppended()
	}
	st.Requests.Running, st.Requests.Waiting = s.pipeline.Stats()

	if s.manifest != nil {
		st.MinPosition = s.manifest.MinimumPosition()
		st.MaxPosition = s.manifest.MaximumPosition()
	}
	if s.clock != nil {
		st.Position = s.clock.Position()
		st.ReadyState = s.lastTick.ReadyState
		st.Stalled = s.lastTick.Stalled
		st.Paused = s.clock.Paused()
		if d := s.clock.Duration(); !math.IsInf(d, 1) {
			st.Duration = d
		}
	}
	if s.orch != nil && !s.finished {
		st.EndOfStream = s.orch.EndOfStream()
		if p := s.orch.ActivePeriod(); p != nil {
			st.ActivePeriod = p.ID
		}
		for _, t := range s.types {
			st.Buffers = append(st.Buffers, s.typeStats(t, st.Position))
		}
	}

	s.mu.Lock()
	s.stats = st
	s.mu.Unlock()
}

func (s *Session) typeStats(t media.Type, position float64) TypeStats {
	ts := TypeStats{
		Type:     t,
		Complete: s.orch.Complete(t),
		Disabled: s.store.IsDisabled(t),
	}
	for _, pb := range s.orch.PeriodBuffers(t) {
		if !pb.Period().Contains(position) && ts.Adaptation != "" {
			continue
		}
		if a := pb.Adaptation(); a != nil {
			ts.Adaptation = a.ID
		}
		if rb := pb.Representation(); rb != nil && rb.Representation() != nil {
			ts.Representation = rb.Representation().ID
			ts.Bitrate = rb.Representation().Bitrate
		}
	}
	e, ok := s.store.Get(t)
	if !ok {
		return ts
	}
	ts.Buffered = e.Writer.Buffered()
	ts.BufferedAhead = ts.Buffered.BufferedAhead(position)
	ts.Writer = e.Writer.Stats()
	switch snk := e.Sink.(type) {
	case *sink.CueSink:
		ts.Cues = snk.CueCount()
	case *sink.ThumbnailSink:
		if th, ok := snk.ThumbnailAt(position); ok {
			ts.Thumbnail = &th
		}
	}
	return ts
}

func (s *Session) listTracks() []Track {
	p := s.currentPeriod()
	if p == nil {
		return nil
	}
	var out []Track
	for _, t := range media.AllTypes {
		active := ""
		for _, pb := range s.orch.PeriodBuffers(t) {
			if pb.Period().ID == p.ID && pb.Adaptation() != nil {
				active = pb.Adaptation().ID
			}
		}
		for _, a := range p.AdaptationsFor(t) {
			track := Track{Type: t, ID: a.ID, Language: a.Language, Active: a.ID == active}
			for _, r := range a.Representations {
				track.Representations = append(track.Representations, TrackRepresentation{
					ID:           r.ID,
					Bitrate:      r.Bitrate,
					Codecs:       r.Codecs,
					MimeType:     r.MimeType,
					Width:        r.Width,
					Height:       r.Height,
					Decipherable: r.Playable(),
				})
			}
			out = append(out, track)
		}
	}
	return out
}
