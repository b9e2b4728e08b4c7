package session

import (
	"encoding/json"
	"strings"
	"time"
	"unicode"

	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/models"
)

// Record is the serializable form of an orchestrator event.
type Record struct {
	Seq       int64          `json:"seq"`
	Kind      string         `json:"kind"`
	MediaType string         `json:"media_type,omitempty"`
	PeriodID  string         `json:"period_id,omitempty"`
	Position  float64        `json:"position"`
	Time      time.Time      `json:"time"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// KindName returns the journal name of an event kind: addedSegment becomes
// added_segment.
func KindName(k buffer.EventKind) string {
	name := k.String()
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// newRecord describes ev. Detail only carries what identifies the event,
// never payloads.
func newRecord(seq int64, position float64, at time.Time, ev buffer.Event) Record {
	rec := Record{
		Seq:      seq,
		Kind:     KindName(ev.Kind()),
		Position: position,
		Time:     at,
	}
	detail := map[string]any{}

	switch e := ev.(type) {
	case buffer.PeriodBufferReady:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		if e.Adaptation != nil {
			detail["adaptation"] = e.Adaptation.ID
		}
	case buffer.PeriodBufferCleared:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
	case buffer.AdaptationChange:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		if e.Adaptation != nil {
			detail["adaptation"] = e.Adaptation.ID
			if e.Adaptation.Language != "" {
				detail["language"] = e.Adaptation.Language
			}
		}
	case buffer.RepresentationChange:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		if e.Representation != nil {
			detail["representation"] = e.Representation.ID
			detail["bitrate"] = e.Representation.Bitrate
		}
	case buffer.AddedSegment:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		if e.Representation != nil {
			detail["representation"] = e.Representation.ID
		}
		detail["start"] = e.Start
		detail["end"] = e.End
		detail["init"] = e.Segment.IsInit
		detail["buffered"] = e.Buffered.String()
	case buffer.BufferStatus:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		detail["status"] = e.Status.String()
	case buffer.DiscontinuityEncountered:
		rec.MediaType, rec.PeriodID = string(e.Type), periodID(e.Period)
		detail["seek_to"] = e.SeekTo
	case buffer.NeedsManifestRefresh:
		rec.MediaType = string(e.Type)
	case buffer.NeedsMediaSourceReload:
		rec.MediaType = string(e.Type)
		detail["position"] = e.Position
	case buffer.NeedsBufferFlush:
		rec.MediaType = string(e.Type)
	case buffer.BufferComplete:
		rec.MediaType = string(e.Type)
	case buffer.ActivePeriodChanged:
		rec.PeriodID = periodID(e.Period)
	case buffer.RepresentationTerminated:
		rec.MediaType, rec.PeriodID = string(e.Address.Type), e.Address.PeriodID
		detail["buffer"] = e.Address.BufferID
	case buffer.Warning:
		rec.MediaType = string(e.Type)
		if e.Err != nil {
			detail["error"] = e.Err.Error()
		}
	case buffer.Error:
		rec.MediaType = string(e.Type)
		detail["fatal"] = e.Fatal
		if e.Err != nil {
			detail["error"] = e.Err.Error()
		}
	}
	if len(detail) > 0 {
		rec.Detail = detail
	}
	return rec
}

func periodID(p *media.Period) string {
	if p == nil {
		return ""
	}
	return p.ID
}

// model converts the record to its journal row.
func (r Record) model(sessionID models.ULID) *models.SessionEvent {
	ev := &models.SessionEvent{
		SessionID: sessionID,
		Seq:       r.Seq,
		Kind:      r.Kind,
		MediaType: r.MediaType,
		PeriodID:  r.PeriodID,
		Position:  r.Position,
	}
	ev.CreatedAt = r.Time
	if r.Detail != nil {
		if data, err := json.Marshal(r.Detail); err == nil {
			ev.Detail = string(data)
		}
	}
	return ev
}

// RecordFromModel converts a journal row back to a record.
func RecordFromModel(ev *models.SessionEvent) Record {
	rec := Record{
		Seq:       ev.Seq,
		Kind:      ev.Kind,
		MediaType: ev.MediaType,
		PeriodID:  ev.PeriodID,
		Position:  ev.Position,
		Time:      ev.CreatedAt,
	}
	if ev.Detail != "" {
		_ = json.Unmarshal([]byte(ev.Detail), &rec.Detail)
	}
	return rec
}
