package handlers

import (
	"time"

	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/observability"
	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/internal/sysstats"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// Health types

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status        string            `json:"status" doc:"healthy or degraded"`
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	Uptime        string            `json:"uptime"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	CPUInfo       CPUInfo           `json:"cpu_info"`
	Memory        MemoryInfo        `json:"memory"`
	Components    HealthComponents  `json:"components"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// CPUInfo holds load averages.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo holds system and process memory in megabytes.
type MemoryInfo struct {
	TotalMemoryMB     float64           `json:"total_memory_mb"`
	UsedMemoryMB      float64           `json:"used_memory_mb"`
	FreeMemoryMB      float64           `json:"free_memory_mb"`
	AvailableMemoryMB float64           `json:"available_memory_mb"`
	SwapTotalMB       float64           `json:"swap_total_mb"`
	SwapUsedMB        float64           `json:"swap_used_mb"`
	ProcessMemory     ProcessMemoryInfo `json:"process_memory"`
}

// ProcessMemoryInfo holds the resident memory of the daemon.
type ProcessMemoryInfo struct {
	MainProcessMB      float64 `json:"main_process_mb"`
	PercentageOfSystem float64 `json:"percentage_of_system"`
	Threads            int32   `json:"threads"`
}

// HealthComponents reports the state of each dependency.
type HealthComponents struct {
	Database        DatabaseHealth                    `json:"database"`
	Scheduler       SchedulerHealth                   `json:"scheduler"`
	Sessions        SessionsHealth                    `json:"sessions"`
	CircuitBreakers []httpclient.CircuitBreakerStatus `json:"circuit_breakers"`
}

// DatabaseHealth reports the journal database.
type DatabaseHealth struct {
	Status                 string  `json:"status" doc:"ok, error or not_configured"`
	ConnectionPoolSize     int     `json:"connection_pool_size"`
	ActiveConnections      int     `json:"active_connections"`
	IdleConnections        int     `json:"idle_connections"`
	PoolUtilizationPercent float64 `json:"pool_utilization_percent"`
	ResponseTimeMS         float64 `json:"response_time_ms"`
	ResponseTimeStatus     string  `json:"response_time_status"`
}

// SchedulerHealth reports the scheduled tasks.
type SchedulerHealth struct {
	Status string       `json:"status"`
	Tasks  []TaskHealth `json:"tasks,omitempty"`
}

// TaskHealth reports one scheduled task.
type TaskHealth struct {
	Name      string     `json:"name"`
	Schedule  string     `json:"schedule"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
	Runs      int        `json:"runs"`
}

// SessionsHealth reports the session manager.
type SessionsHealth struct {
	Status      string `json:"status" doc:"accepting, full or closed"`
	Active      int    `json:"active"`
	MaxSessions int    `json:"max_sessions"`
}

// StatusCheckResponse is the body of liveness and readiness checks.
type StatusCheckResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

// Session types

// SessionResponse describes a running or journaled session.
type SessionResponse struct {
	session.Stats
	// Running is false for sessions only known from the journal.
	Running bool `json:"running"`
}

// SessionFromStats converts a running session snapshot.
func SessionFromStats(st session.Stats) SessionResponse {
	st.ManifestURL = observability.RedactURL(st.ManifestURL)
	return SessionResponse{Stats: st, Running: true}
}

// SessionFromModel converts a journal row.
func SessionFromModel(s *models.PlaybackSession) SessionResponse {
	st := session.Stats{
		ID:             s.ID.String(),
		ManifestURL:    observability.RedactURL(s.ManifestURL),
		Format:         s.Format,
		Live:           s.Live,
		State:          s.State,
		Error:          s.Error,
		StartedAt:      s.CreatedAt,
		Position:       s.LastPosition,
		Rebuffers:      s.Rebuffers,
		SegmentsLoaded: s.SegmentsLoaded,
		BytesLoaded:    s.BytesLoaded,
	}
	if s.EndedAt != nil {
		st.Uptime = s.EndedAt.Sub(s.CreatedAt)
	}
	return SessionResponse{Stats: st}
}

// JournalSessionResponse is a journal row as returned by the history API.
type JournalSessionResponse struct {
	ID             models.ULID         `json:"id"`
	ManifestURL    string              `json:"manifest_url"`
	Format         string              `json:"format,omitempty"`
	Live           bool                `json:"live"`
	State          models.SessionState `json:"state"`
	StartPosition  float64             `json:"start_position"`
	LastPosition   float64             `json:"last_position"`
	BytesLoaded    int64               `json:"bytes_loaded"`
	SegmentsLoaded int                 `json:"segments_loaded"`
	Rebuffers      int                 `json:"rebuffers"`
	Error          string              `json:"error,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	EndedAt        *time.Time          `json:"ended_at,omitempty"`
}

// JournalSessionFromModel converts a journal row.
func JournalSessionFromModel(s *models.PlaybackSession) JournalSessionResponse {
	return JournalSessionResponse{
		ID:             s.ID,
		ManifestURL:    observability.RedactURL(s.ManifestURL),
		Format:         s.Format,
		Live:           s.Live,
		State:          s.State,
		StartPosition:  s.StartPosition,
		LastPosition:   s.LastPosition,
		BytesLoaded:    s.BytesLoaded,
		SegmentsLoaded: s.SegmentsLoaded,
		Rebuffers:      s.Rebuffers,
		Error:          s.Error,
		CreatedAt:      s.CreatedAt,
		EndedAt:        s.EndedAt,
	}
}

// System types

// SystemStatsResponse combines host, process and session manager figures.
type SystemStatsResponse struct {
	System   sysstats.SystemStats `json:"system"`
	Sessions session.ManagerStats `json:"sessions"`
}
