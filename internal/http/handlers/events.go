package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/observability"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/session"
)

// EventHandler serves the session journal and the live event streams.
type EventHandler struct {
	manager  *session.Manager
	sessions repository.SessionRepository
	events   repository.EventRepository

	heartbeatInterval time.Duration
	statsInterval     time.Duration
}

// NewEventHandler creates an event handler. The repositories may be nil
// when the journal is disabled.
func NewEventHandler(manager *session.Manager, sessions repository.SessionRepository, events repository.EventRepository) *EventHandler {
	return &EventHandler{
		manager:           manager,
		sessions:          sessions,
		events:            events,
		heartbeatInterval: 30 * time.Second,
		statsInterval:     time.Second,
	}
}

// SetHeartbeatInterval sets the SSE heartbeat interval (for testing).
func (h *EventHandler) SetHeartbeatInterval(interval time.Duration) {
	h.heartbeatInterval = interval
}

// SetStatsInterval sets how often streams carry a stats snapshot.
func (h *EventHandler) SetStatsInterval(interval time.Duration) {
	h.statsInterval = interval
}

// ListEventsInput is the input for reading the journal of a session.
type ListEventsInput struct {
	ID    string `path:"id" doc:"Session ID (ULID)"`
	After int64  `query:"after" minimum:"0" doc:"Only return events with a greater sequence number"`
	Kind  string `query:"kind" doc:"Filter by event kind, e.g. added_segment"`
	Limit int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
}

// ListEventsOutput is the output for reading the journal of a session.
type ListEventsOutput struct {
	Body struct {
		Events []session.Record `json:"events"`
		// Next is the sequence number to pass as after for the next page.
		Next int64 `json:"next"`
	}
}

// ListJournalInput is the input for listing journaled sessions.
type ListJournalInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"1000"`
}

// ListJournalOutput is the output for listing journaled sessions.
type ListJournalOutput struct {
	Body struct {
		Sessions []JournalSessionResponse `json:"sessions"`
	}
}

// Register registers the journal routes with the API.
func (h *EventHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessionEvents",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}/events",
		Summary:     "Read session journal",
		Description: "Returns journaled orchestrator events of a session in sequence order",
		Tags:        []string{"Journal"},
	}, h.ListEvents)

	huma.Register(api, huma.Operation{
		OperationID: "listJournal",
		Method:      "GET",
		Path:        "/api/v1/journal/sessions",
		Summary:     "List journaled sessions",
		Description: "Returns the most recent sessions, running or finished",
		Tags:        []string{"Journal"},
	}, h.ListJournal)
}

// RegisterSSE registers the event stream on a chi router. Huma does not
// stream, so the route is registered on the router directly.
func (h *EventHandler) RegisterSSE(router chi.Router) {
	router.Get("/api/v1/sessions/{id}/stream", h.handleStream)
}

// ListEvents returns the journal of a session.
func (h *EventHandler) ListEvents(ctx context.Context, input *ListEventsInput) (*ListEventsOutput, error) {
	if h.events == nil {
		return nil, huma.Error503ServiceUnavailable("session journal is disabled")
	}
	id, err := parseSessionID(input.ID)
	if err != nil {
		return nil, err
	}
	rows, err := h.events.ListBySession(ctx, id, input.After, input.Kind, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("reading session journal", err)
	}

	out := &ListEventsOutput{}
	out.Body.Events = make([]session.Record, 0, len(rows))
	out.Body.Next = input.After
	for _, row := range rows {
		out.Body.Events = append(out.Body.Events, session.RecordFromModel(row))
		out.Body.Next = row.Seq
	}
	return out, nil
}

// ListJournal returns the most recent journaled sessions.
func (h *EventHandler) ListJournal(ctx context.Context, input *ListJournalInput) (*ListJournalOutput, error) {
	if h.sessions == nil {
		return nil, huma.Error503ServiceUnavailable("session journal is disabled")
	}
	rows, err := h.sessions.List(ctx, input.Limit)
	if err != nil {
		return nil, huma.Error500InternalServerError("listing session journal", err)
	}
	out := &ListJournalOutput{}
	out.Body.Sessions = make([]JournalSessionResponse, 0, len(rows))
	for _, row := range rows {
		out.Body.Sessions = append(out.Body.Sessions, JournalSessionFromModel(row))
	}
	return out, nil
}

// handleStream streams the records of a running session as server-sent
// events, interleaved with stats snapshots. The stream ends with an "end"
// event once the session finished.
func (h *EventHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	logger := observability.LoggerFromContext(r.Context())

	id, err := models.ParseULID(chi.URLParam(r, "id"))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "invalid session id")
		return
	}
	s, err := h.manager.Get(id)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "session not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	sub := s.Subscribe()
	defer s.Unsubscribe(sub.ID)

	rc := http.NewResponseController(w)
	// streams outlive server.write_timeout
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("clearing write deadline", slog.String("error", err.Error()))
	}

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()
	statsTicker := time.NewTicker(h.statsInterval)
	defer statsTicker.Stop()

	fmt.Fprintf(w, ":connected\n\n")
	if err := writeSSE(w, "stats", "", SessionFromStats(s.Stats())); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logger.Error("failed to flush initial SSE event", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ":heartbeat %d\n\n", time.Now().Unix())
		case <-statsTicker.C:
			if err := writeSSE(w, "stats", "", SessionFromStats(s.Stats())); err != nil {
				return
			}
		case rec, ok := <-sub.Events:
			if !ok {
				<-s.Done()
				_ = writeSSE(w, "stats", "", SessionFromStats(s.Stats()))
				_ = writeSSE(w, "end", "", map[string]string{"state": string(s.Stats().State)})
				_ = rc.Flush()
				return
			}
			if err := writeSSE(w, rec.Kind, fmt.Sprint(rec.Seq), rec); err != nil {
				logger.Error("failed to write SSE event",
					slog.String("kind", rec.Kind),
					slog.String("error", err.Error()))
				return
			}
		}
		if err := rc.Flush(); err != nil {
			logger.Debug("event flush failed, client likely disconnected", slog.String("error", err.Error()))
			return
		}
	}
}

// writeSSE writes one event in a single write.
func writeSSE(w http.ResponseWriter, event, id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	msg := "event: " + event + "\n"
	if id != "" {
		msg += "id: " + id + "\n"
	}
	msg += "data: " + string(data) + "\n\n"

	n, err := w.Write([]byte(msg))
	if err != nil {
		return err
	}
	if n < len(msg) {
		return fmt.Errorf("short write: wrote %d of %d bytes", n, len(msg))
	}
	return nil
}

func writeProblem(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}
