package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/observability"
	"github.com/jmylchreest/playcore/internal/repository"
	"github.com/jmylchreest/playcore/internal/session"
)

// SessionHandler handles the playback session API.
type SessionHandler struct {
	manager  *session.Manager
	sessions repository.SessionRepository
}

// NewSessionHandler creates a session handler. sessions may be nil when
// the journal is disabled; finished sessions are then unknown.
func NewSessionHandler(manager *session.Manager, sessions repository.SessionRepository) *SessionHandler {
	return &SessionHandler{manager: manager, sessions: sessions}
}

// SessionIDInput addresses one session.
type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID (ULID)"`
}

// SessionOutput is the output of operations returning one session.
type SessionOutput struct {
	Body SessionResponse
}

// CreateSessionInput is the input for starting a session.
type CreateSessionInput struct {
	Body struct {
		ManifestURL string   `json:"manifest_url" minLength:"1" doc:"HLS or DASH manifest URL, or a local path"`
		StartAt     *float64 `json:"start_at,omitempty" doc:"Start position in seconds. Defaults to the start of static content and near the live edge of live content"`
		Autoplay    *bool    `json:"autoplay,omitempty" doc:"Start the playback clock once loaded. Defaults to playback.autoplay"`
	}
}

// ListSessionsInput is the input for listing running sessions.
type ListSessionsInput struct{}

// ListSessionsOutput is the output for listing running sessions.
type ListSessionsOutput struct {
	Body struct {
		Sessions []SessionResponse `json:"sessions"`
	}
}

// DeleteSessionOutput is the output for stopping a session.
type DeleteSessionOutput struct{}

// SeekInput is the input for moving the playhead.
type SeekInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Position float64 `json:"position" doc:"Target position in seconds"`
	}
}

// BufferGoalInput is the input for changing the buffer goals.
type BufferGoalInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		WantedAhead *float64 `json:"wanted_ahead,omitempty" minimum:"0" doc:"Seconds to buffer ahead of the playhead"`
		MaxAhead    *float64 `json:"max_ahead,omitempty" minimum:"0" doc:"Seconds ahead kept before garbage collection, 0 for unlimited"`
		MaxBehind   *float64 `json:"max_behind,omitempty" minimum:"0" doc:"Seconds behind kept before garbage collection, 0 for unlimited"`
	}
}

// TracksOutput is the output for listing tracks.
type TracksOutput struct {
	Body struct {
		Tracks []session.Track `json:"tracks"`
	}
}

// SetTrackInput is the input for selecting a track.
type SetTrackInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Type         string `json:"type" enum:"video,audio,text,image" doc:"Media type"`
		AdaptationID string `json:"id" minLength:"1" doc:"Adaptation ID from the tracks listing"`
	}
}

// SetBitrateInput is the input for fixing a bitrate.
type SetBitrateInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		Type    string `json:"type" enum:"video,audio,text,image" doc:"Media type"`
		Bitrate int    `json:"bitrate" minimum:"0" doc:"Bitrate in bits per second, 0 for adaptive selection"`
	}
}

// DecipherabilityInput is the input for reporting key status changes.
type DecipherabilityInput struct {
	ID   string `path:"id" doc:"Session ID (ULID)"`
	Body struct {
		RepresentationIDs []string `json:"representation_ids" minItems:"1"`
		Decipherable      bool     `json:"decipherable"`
	}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "createSession",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Start a session",
		Description:   "Loads a manifest and starts buffering it",
		Tags:          []string{"Sessions"},
		DefaultStatus: 201,
	}, h.Create)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List running sessions",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session",
		Description: "Returns the live snapshot of a running session, or its journal record once finished",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteSession",
		Method:        "DELETE",
		Path:          "/api/v1/sessions/{id}",
		Summary:       "Stop session",
		Tags:          []string{"Sessions"},
		DefaultStatus: 204,
	}, h.Delete)

	huma.Register(api, huma.Operation{
		OperationID: "seekSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{id}/seek",
		Summary:     "Seek",
		Tags:        []string{"Sessions"},
	}, h.Seek)

	huma.Register(api, huma.Operation{
		OperationID: "playSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{id}/play",
		Summary:     "Resume the playback clock",
		Tags:        []string{"Sessions"},
	}, h.Play)

	huma.Register(api, huma.Operation{
		OperationID: "pauseSession",
		Method:      "POST",
		Path:        "/api/v1/sessions/{id}/pause",
		Summary:     "Pause the playback clock",
		Description: "Buffering continues while paused",
		Tags:        []string{"Sessions"},
	}, h.Pause)

	huma.Register(api, huma.Operation{
		OperationID: "setBufferGoal",
		Method:      "PUT",
		Path:        "/api/v1/sessions/{id}/buffer-goal",
		Summary:     "Change buffer goals",
		Description: "Omitted goals are left unchanged",
		Tags:        []string{"Sessions"},
	}, h.SetBufferGoal)

	huma.Register(api, huma.Operation{
		OperationID: "listTracks",
		Method:      "GET",
		Path:        "/api/v1/sessions/{id}/tracks",
		Summary:     "List tracks",
		Description: "Returns the adaptations of the period at the playhead",
		Tags:        []string{"Sessions"},
	}, h.Tracks)

	huma.Register(api, huma.Operation{
		OperationID: "setTrack",
		Method:      "PUT",
		Path:        "/api/v1/sessions/{id}/tracks",
		Summary:     "Select track",
		Tags:        []string{"Sessions"},
	}, h.SetTrack)

	huma.Register(api, huma.Operation{
		OperationID: "setBitrate",
		Method:      "PUT",
		Path:        "/api/v1/sessions/{id}/bitrate",
		Summary:     "Fix bitrate",
		Tags:        []string{"Sessions"},
	}, h.SetBitrate)

	huma.Register(api, huma.Operation{
		OperationID: "setDecipherability",
		Method:      "PUT",
		Path:        "/api/v1/sessions/{id}/decipherability",
		Summary:     "Report decipherability",
		Description: "Marks representations as decipherable or not, as a key system would",
		Tags:        []string{"Sessions"},
	}, h.SetDecipherability)
}

// Create starts a session.
func (h *SessionHandler) Create(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	s, err := h.manager.Create(ctx, session.CreateRequest{
		ManifestURL: input.Body.ManifestURL,
		StartAt:     input.Body.StartAt,
		Autoplay:    input.Body.Autoplay,
	})
	if err != nil {
		return nil, sessionError(err)
	}
	observability.LoggerFromContext(ctx).Info("session created",
		"session_id", s.ID().String(),
		"manifest_url", observability.RedactURL(input.Body.ManifestURL))
	return &SessionOutput{Body: SessionFromStats(s.Stats())}, nil
}

// List returns the running sessions.
func (h *SessionHandler) List(ctx context.Context, input *ListSessionsInput) (*ListSessionsOutput, error) {
	out := &ListSessionsOutput{}
	out.Body.Sessions = []SessionResponse{}
	for _, s := range h.manager.List() {
		out.Body.Sessions = append(out.Body.Sessions, SessionFromStats(s.Stats()))
	}
	return out, nil
}

// Get returns a running session or its journal record.
func (h *SessionHandler) Get(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	id, err := parseSessionID(input.ID)
	if err != nil {
		return nil, err
	}
	if s, err := h.manager.Get(id); err == nil {
		return &SessionOutput{Body: SessionFromStats(s.Stats())}, nil
	}
	if h.sessions != nil {
		row, err := h.sessions.GetByID(ctx, id)
		if err != nil {
			return nil, huma.Error500InternalServerError("reading session journal", err)
		}
		if row != nil {
			return &SessionOutput{Body: SessionFromModel(row)}, nil
		}
	}
	return nil, huma.Error404NotFound("session not found")
}

// Delete stops a running session.
func (h *SessionHandler) Delete(ctx context.Context, input *SessionIDInput) (*DeleteSessionOutput, error) {
	id, err := parseSessionID(input.ID)
	if err != nil {
		return nil, err
	}
	if err := h.manager.Stop(ctx, id); err != nil {
		return nil, sessionError(err)
	}
	return &DeleteSessionOutput{}, nil
}

// Seek moves the playhead.
func (h *SessionHandler) Seek(ctx context.Context, input *SeekInput) (*SessionOutput, error) {
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.Seek(ctx, input.Body.Position)
	})
}

// Play resumes the playback clock.
func (h *SessionHandler) Play(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.Play(ctx)
	})
}

// Pause pauses the playback clock.
func (h *SessionHandler) Pause(ctx context.Context, input *SessionIDInput) (*SessionOutput, error) {
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.Pause(ctx)
	})
}

// SetBufferGoal changes the buffer goals.
func (h *SessionHandler) SetBufferGoal(ctx context.Context, input *BufferGoalInput) (*SessionOutput, error) {
	goal := buffer.SetBufferGoal{
		WantedAhead: orUnchanged(input.Body.WantedAhead),
		MaxAhead:    orUnchanged(input.Body.MaxAhead),
		MaxBehind:   orUnchanged(input.Body.MaxBehind),
	}
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.SetBufferGoal(ctx, goal)
	})
}

// Tracks lists the tracks of the period at the playhead.
func (h *SessionHandler) Tracks(ctx context.Context, input *SessionIDInput) (*TracksOutput, error) {
	s, err := h.running(input.ID)
	if err != nil {
		return nil, err
	}
	tracks, err := s.Tracks(ctx)
	if err != nil {
		return nil, sessionError(err)
	}
	out := &TracksOutput{}
	out.Body.Tracks = tracks
	if out.Body.Tracks == nil {
		out.Body.Tracks = []session.Track{}
	}
	return out, nil
}

// SetTrack selects an adaptation.
func (h *SessionHandler) SetTrack(ctx context.Context, input *SetTrackInput) (*SessionOutput, error) {
	t, err := media.ParseType(input.Body.Type)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.SetTrack(ctx, t, input.Body.AdaptationID)
	})
}

// SetBitrate fixes the bitrate of a media type.
func (h *SessionHandler) SetBitrate(ctx context.Context, input *SetBitrateInput) (*SessionOutput, error) {
	t, err := media.ParseType(input.Body.Type)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.SetBitrate(ctx, t, input.Body.Bitrate)
	})
}

// SetDecipherability reports a change of decryptability.
func (h *SessionHandler) SetDecipherability(ctx context.Context, input *DecipherabilityInput) (*SessionOutput, error) {
	return h.command(ctx, input.ID, func(s *session.Session) error {
		return s.SetDecipherable(ctx, input.Body.RepresentationIDs, input.Body.Decipherable)
	})
}

// command runs fn against a running session and returns its new snapshot.
func (h *SessionHandler) command(ctx context.Context, rawID string, fn func(*session.Session) error) (*SessionOutput, error) {
	s, err := h.running(rawID)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: SessionFromStats(s.Stats())}, nil
}

func (h *SessionHandler) running(rawID string) (*session.Session, error) {
	id, err := parseSessionID(rawID)
	if err != nil {
		return nil, err
	}
	s, err := h.manager.Get(id)
	if err != nil {
		return nil, sessionError(err)
	}
	return s, nil
}

func parseSessionID(raw string) (models.ULID, error) {
	id, err := models.ParseULID(raw)
	if err != nil {
		return models.ULID{}, huma.Error400BadRequest("invalid session id", err)
	}
	return id, nil
}

func orUnchanged(v *float64) float64 {
	if v == nil {
		return -1
	}
	return *v
}

// sessionError maps session errors to API errors.
func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, session.ErrTooManySessions):
		return huma.Error429TooManyRequests(err.Error())
	case errors.Is(err, session.ErrManagerClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.Is(err, session.ErrNotReady), errors.Is(err, session.ErrSessionClosed):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, session.ErrPositionOutOfRange),
		errors.Is(err, session.ErrUnknownTrack),
		errors.Is(err, models.ErrManifestURLRequired):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError("session command failed", err)
}
