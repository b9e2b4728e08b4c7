package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/internal/sysstats"
)

// SystemHandler reports host and process resource usage next to the
// session manager counters.
type SystemHandler struct {
	collector *sysstats.SystemCollector
	manager   *session.Manager
}

// NewSystemHandler creates a system handler.
func NewSystemHandler(manager *session.Manager) *SystemHandler {
	return &SystemHandler{
		collector: sysstats.NewSystemCollector(),
		manager:   manager,
	}
}

// SystemStatsInput is the input for the system stats endpoint.
type SystemStatsInput struct {
	IncludeSessions bool `query:"include_sessions" doc:"Include a snapshot of every running session"`
}

// SystemStatsOutput is the output for the system stats endpoint.
type SystemStatsOutput struct {
	Body SystemStatsResponse
}

// Register registers the system routes with the API.
func (h *SystemHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getSystemStats",
		Method:      "GET",
		Path:        "/api/v1/system/stats",
		Summary:     "System statistics",
		Description: "Returns host, process and session manager statistics",
		Tags:        []string{"System"},
	}, h.GetStats)
}

// GetStats returns the current statistics.
func (h *SystemHandler) GetStats(ctx context.Context, input *SystemStatsInput) (*SystemStatsOutput, error) {
	out := &SystemStatsOutput{}
	out.Body.System = h.collector.Collect(ctx)
	out.Body.Sessions = h.manager.Stats(ctx)
	if !input.IncludeSessions {
		out.Body.Sessions.Sessions = nil
		return out, nil
	}
	for i, st := range out.Body.Sessions.Sessions {
		out.Body.Sessions.Sessions[i] = SessionFromStats(st).Stats
	}
	return out, nil
}
