// Package handlers provides the HTTP API handlers of the playcore daemon.
package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"gorm.io/gorm"

	"github.com/jmylchreest/playcore/internal/scheduler"
	"github.com/jmylchreest/playcore/internal/session"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// slowPingThreshold marks a database ping as slow.
const slowPingThreshold = 100 * time.Millisecond

// SchedulerStatus reports the scheduled tasks.
type SchedulerStatus interface {
	Status() []scheduler.TaskStatus
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	registry  *httpclient.Registry
	db        *gorm.DB
	scheduler SchedulerStatus
	manager   *session.Manager
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithRegistry sets the HTTP client registry whose circuit breakers are
// reported.
func (h *HealthHandler) WithRegistry(registry *httpclient.Registry) *HealthHandler {
	h.registry = registry
	return h
}

// WithDB sets the journal database.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithScheduler sets the task scheduler.
func (h *HealthHandler) WithScheduler(s SchedulerStatus) *HealthHandler {
	h.scheduler = s
	return h
}

// WithManager sets the session manager.
func (h *HealthHandler) WithManager(m *session.Manager) *HealthHandler {
	h.manager = m
	return h
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness check.
type LivezInput struct{}

// ReadyzInput is the input for the readiness check.
type ReadyzInput struct{}

// StatusCheckOutput is the output of the liveness and readiness checks.
type StatusCheckOutput struct {
	Status int
	Body   StatusCheckResponse
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness check",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness check",
		Description: "Ready while the session manager accepts sessions and the journal database answers",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	memInfo := h.getMemoryInfo(ctx)
	dbHealth := h.getDatabaseHealth(ctx)
	sessions := h.getSessionsHealth()

	breakers := []httpclient.CircuitBreakerStatus{}
	if h.registry != nil {
		breakers = h.registry.CircuitBreakerStatuses()
	}

	status := "healthy"
	if dbHealth.Status == "error" || sessions.Status == "closed" {
		status = "degraded"
	}
	for _, b := range breakers {
		if b.State == httpclient.CircuitOpen.String() {
			status = "degraded"
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPUInfo:       h.getCPUInfo(ctx),
			Memory:        memInfo,
			Components: HealthComponents{
				Database:        dbHealth,
				Scheduler:       h.getSchedulerHealth(),
				Sessions:        sessions,
				CircuitBreakers: breakers,
			},
			Checks: map[string]string{
				"database": dbHealth.Status,
				"sessions": sessions.Status,
			},
		},
	}, nil
}

// GetLivez reports that the process serves requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*StatusCheckOutput, error) {
	return &StatusCheckOutput{Status: 200, Body: StatusCheckResponse{Status: "ok"}}, nil
}

// GetReadyz reports whether new sessions can be served.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*StatusCheckOutput, error) {
	db := h.getDatabaseHealth(ctx).Status
	sessions := h.getSessionsHealth().Status

	out := &StatusCheckOutput{
		Status: 200,
		Body: StatusCheckResponse{
			Status: "ready",
			Components: map[string]string{
				"database":  db,
				"sessions":  sessions,
				"scheduler": h.getSchedulerHealth().Status,
			},
		},
	}
	if db == "error" || sessions != "accepting" {
		out.Status = 503
		out.Body.Status = "not_ready"
	}
	return out, nil
}

func (h *HealthHandler) getCPUInfo(ctx context.Context) CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}

	loadAvg, err := load.AvgWithContext(ctx)
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if info.Cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(info.Cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo(ctx context.Context) MemoryInfo {
	info := MemoryInfo{}

	vmStat, err := mem.VirtualMemoryWithContext(ctx)
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.FreeMemoryMB = float64(vmStat.Free) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}

	swapStat, err := mem.SwapMemoryWithContext(ctx)
	if err == nil && swapStat != nil {
		info.SwapTotalMB = float64(swapStat.Total) / 1024 / 1024
		info.SwapUsedMB = float64(swapStat.Used) / 1024 / 1024
	}

	info.ProcessMemory = h.getProcessMemoryInfo(ctx, info.TotalMemoryMB)
	return info
}

func (h *HealthHandler) getProcessMemoryInfo(ctx context.Context, totalSystemMB float64) ProcessMemoryInfo {
	info := ProcessMemoryInfo{}

	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return info
	}
	if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		info.MainProcessMB = float64(memInfo.RSS) / 1024 / 1024
		if totalSystemMB > 0 {
			info.PercentageOfSystem = (info.MainProcessMB / totalSystemMB) * 100
		}
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		info.Threads = threads
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	health := DatabaseHealth{
		Status:             "ok",
		ResponseTimeStatus: "healthy",
	}
	if h.db == nil {
		health.Status = "not_configured"
		health.ResponseTimeStatus = ""
		return health
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		health.Status = "error"
		return health
	}

	stats := sqlDB.Stats()
	health.ConnectionPoolSize = stats.MaxOpenConnections
	health.ActiveConnections = stats.InUse
	health.IdleConnections = stats.Idle
	if stats.MaxOpenConnections > 0 {
		health.PoolUtilizationPercent = float64(stats.InUse) / float64(stats.MaxOpenConnections) * 100
	}

	start := time.Now()
	err = sqlDB.PingContext(ctx)
	elapsed := time.Since(start)
	health.ResponseTimeMS = float64(elapsed.Microseconds()) / 1000

	switch {
	case err != nil:
		health.Status = "error"
		health.ResponseTimeStatus = "error"
	case elapsed > slowPingThreshold:
		health.ResponseTimeStatus = "slow"
	}
	return health
}

func (h *HealthHandler) getSchedulerHealth() SchedulerHealth {
	if h.scheduler == nil {
		return SchedulerHealth{Status: "not_configured"}
	}
	health := SchedulerHealth{Status: "ok"}
	for _, t := range h.scheduler.Status() {
		task := TaskHealth{
			Name:      t.Name,
			Schedule:  t.Schedule,
			LastError: t.LastError,
			Runs:      t.Runs,
		}
		if !t.LastRun.IsZero() {
			lastRun := t.LastRun
			task.LastRun = &lastRun
		}
		if !t.NextRun.IsZero() {
			nextRun := t.NextRun
			task.NextRun = &nextRun
		}
		if t.LastError != "" {
			health.Status = "error"
		}
		health.Tasks = append(health.Tasks, task)
	}
	return health
}

func (h *HealthHandler) getSessionsHealth() SessionsHealth {
	if h.manager == nil {
		return SessionsHealth{Status: "closed"}
	}
	health := SessionsHealth{
		Status:      "accepting",
		Active:      len(h.manager.List()),
		MaxSessions: h.manager.MaxSessions(),
	}
	if !h.manager.Accepting() {
		health.Status = "full"
		if h.manager.Closed() {
			health.Status = "closed"
		}
	}
	return health
}
