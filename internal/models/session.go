package models

import (
	"errors"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of a playback session.
type SessionState string

const (
	// SessionStateLoading indicates the manifest is being loaded.
	SessionStateLoading SessionState = "loading"
	// SessionStatePlaying indicates the orchestrator is running.
	SessionStatePlaying SessionState = "playing"
	// SessionStateEnded indicates the content played to its end.
	SessionStateEnded SessionState = "ended"
	// SessionStateStopped indicates the session was stopped on request.
	SessionStateStopped SessionState = "stopped"
	// SessionStateFailed indicates a fatal error terminated the session.
	SessionStateFailed SessionState = "failed"
)

// IsTerminal reports whether no further events will be recorded.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateEnded || s == SessionStateStopped || s == SessionStateFailed
}

// ErrManifestURLRequired indicates a session without a manifest URL.
var ErrManifestURLRequired = errors.New("manifest url is required")

// PlaybackSession is the journal record of one playback session.
type PlaybackSession struct {
	BaseModel

	// ManifestURL is the manifest the session was started with. Credentials
	// in the query string are kept, the API redacts them on output.
	ManifestURL string `gorm:"not null;size:2048" json:"manifest_url"`

	// Format is the detected manifest format (hls, dash).
	Format string `gorm:"size:10" json:"format"`

	// Live is true for dynamic manifests.
	Live bool `json:"live"`

	State SessionState `gorm:"not null;default:'loading';size:20;index" json:"state"`

	// StartPosition is the requested start in presentation seconds.
	StartPosition float64 `json:"start_position"`

	// LastPosition is the playhead at the last journal flush.
	LastPosition float64 `json:"last_position"`

	// BytesLoaded and SegmentsLoaded count appended media segments.
	BytesLoaded    int64 `json:"bytes_loaded"`
	SegmentsLoaded int   `json:"segments_loaded"`

	// Rebuffers counts transitions into a stalled state.
	Rebuffers int `json:"rebuffers"`

	EndedAt *time.Time `gorm:"index" json:"ended_at,omitempty"`

	// Error holds the fatal error of a failed session.
	Error string `gorm:"size:1024" json:"error,omitempty"`
}

// TableName returns the table name for playback sessions.
func (PlaybackSession) TableName() string {
	return "playback_sessions"
}

// Validate checks the session before it is persisted.
func (s *PlaybackSession) Validate() error {
	if strings.TrimSpace(s.ManifestURL) == "" {
		return ErrManifestURLRequired
	}
	return nil
}

// SessionEvent is one journaled orchestrator event.
type SessionEvent struct {
	BaseModel

	SessionID ULID `gorm:"type:varchar(26);not null;index:idx_session_events_seq,priority:1" json:"session_id"`

	// Seq orders events within a session.
	Seq int64 `gorm:"not null;index:idx_session_events_seq,priority:2" json:"seq"`

	// Kind is the event name, e.g. "added_segment".
	Kind string `gorm:"not null;size:50;index" json:"kind"`

	MediaType string `gorm:"size:10" json:"media_type,omitempty"`
	PeriodID  string `gorm:"size:255" json:"period_id,omitempty"`

	// Position is the playhead when the event was emitted.
	Position float64 `json:"position"`

	// Detail is a JSON document with the event specific fields.
	Detail string `gorm:"type:text" json:"detail,omitempty"`
}

// TableName returns the table name for session events.
func (SessionEvent) TableName() string {
	return "session_events"
}
