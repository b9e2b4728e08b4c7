// Package sysstats collects host and process resource usage for the
// daemon's stats endpoints.
package sysstats

import (
	"context"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
	"github.com/shirou/gopsutil/v4/process"
)

// PressureStats is one Linux Pressure Stall Information line.
type PressureStats struct {
	Avg10   float64 `json:"avg10"`
	Avg60   float64 `json:"avg60"`
	Avg300  float64 `json:"avg300"`
	TotalUs uint64  `json:"total_us"`
}

// SystemStats describes the host.
type SystemStats struct {
	Hostname      string        `json:"hostname"`
	OS            string        `json:"os"`
	Arch          string        `json:"arch"`
	Uptime        time.Duration `json:"uptime"`
	CPUCores      int           `json:"cpu_cores"`
	CPUPercent    float64       `json:"cpu_percent"`
	LoadAvg1m     float64       `json:"load_avg_1m"`
	LoadAvg5m     float64       `json:"load_avg_5m"`
	LoadAvg15m    float64       `json:"load_avg_15m"`
	MemoryTotal   uint64        `json:"memory_total"`
	MemoryUsed    uint64        `json:"memory_used"`
	MemoryPercent float64       `json:"memory_percent"`
	SwapTotal     uint64        `json:"swap_total"`
	SwapUsed      uint64        `json:"swap_used"`
	DiskTotal     uint64        `json:"disk_total"`
	DiskUsed      uint64        `json:"disk_used"`
	DiskPercent   float64       `json:"disk_percent"`

	NetworkBytesSent uint64  `json:"network_bytes_sent"`
	NetworkBytesRecv uint64  `json:"network_bytes_recv"`
	NetworkSendRate  float64 `json:"network_send_rate"`
	NetworkRecvRate  float64 `json:"network_recv_rate"`

	CPUPressure    *PressureStats `json:"cpu_pressure,omitempty"`
	MemoryPressure *PressureStats `json:"memory_pressure,omitempty"`
	IOPressure     *PressureStats `json:"io_pressure,omitempty"`
}

// SystemCollector collects host statistics. Network rates are computed
// between two calls.
type SystemCollector struct {
	hostname string
	workDir  string

	mu           sync.Mutex
	lastNetStats *net.IOCountersStat
	lastNetTime  time.Time
}

// NewSystemCollector creates a collector reporting disk usage of the
// working directory.
func NewSystemCollector() *SystemCollector {
	hostname, _ := os.Hostname()
	workDir, _ := os.Getwd()
	return &SystemCollector{hostname: hostname, workDir: workDir}
}

// Collect gathers current host statistics. Unavailable metrics are left
// zero.
func (c *SystemCollector) Collect(ctx context.Context) SystemStats {
	stats := SystemStats{
		Hostname: c.hostname,
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
	}

	if uptime, err := host.UptimeWithContext(ctx); err == nil {
		stats.Uptime = time.Duration(uptime) * time.Second
	}
	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		stats.CPUCores = cores
	}
	if percents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		stats.LoadAvg1m = avg.Load1
		stats.LoadAvg5m = avg.Load5
		stats.LoadAvg15m = avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryTotal = vm.Total
		stats.MemoryUsed = vm.Used
		stats.MemoryPercent = vm.UsedPercent
	}
	if swap, err := mem.SwapMemoryWithContext(ctx); err == nil {
		stats.SwapTotal = swap.Total
		stats.SwapUsed = swap.Used
	}
	if c.workDir != "" {
		if usage, err := disk.UsageWithContext(ctx, c.workDir); err == nil {
			stats.DiskTotal = usage.Total
			stats.DiskUsed = usage.Used
			stats.DiskPercent = usage.UsedPercent
		}
	}

	if counters, err := net.IOCountersWithContext(ctx, false); err == nil && len(counters) > 0 {
		cur := counters[0]
		stats.NetworkBytesSent = cur.BytesSent
		stats.NetworkBytesRecv = cur.BytesRecv

		c.mu.Lock()
		if c.lastNetStats != nil {
			if elapsed := time.Since(c.lastNetTime).Seconds(); elapsed > 0 {
				stats.NetworkSendRate = float64(cur.BytesSent-c.lastNetStats.BytesSent) / elapsed
				stats.NetworkRecvRate = float64(cur.BytesRecv-c.lastNetStats.BytesRecv) / elapsed
			}
		}
		c.lastNetStats = &cur
		c.lastNetTime = time.Now()
		c.mu.Unlock()
	}

	if runtime.GOOS == "linux" {
		stats.CPUPressure = readPSI("/proc/pressure/cpu")
		stats.MemoryPressure = readPSI("/proc/pressure/memory")
		stats.IOPressure = readPSI("/proc/pressure/io")
	}
	return stats
}

// readPSI parses the "some" line of a PSI file, or returns nil.
func readPSI(path string) *PressureStats {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return parsePSI(string(data))
}

func parsePSI(data string) *PressureStats {
	for _, line := range strings.Split(data, "\n") {
		if !strings.HasPrefix(line, "some") {
			continue
		}
		// some avg10=0.00 avg60=0.00 avg300=0.00 total=0
		stats := &PressureStats{}
		for _, part := range strings.Fields(line)[1:] {
			key, value, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			v, _ := strconv.ParseFloat(value, 64)
			switch key {
			case "avg10":
				stats.Avg10 = v
			case "avg60":
				stats.Avg60 = v
			case "avg300":
				stats.Avg300 = v
			case "total":
				stats.TotalUs = uint64(v)
			}
		}
		return stats
	}
	return nil
}

// ProcessStats describes the running process.
type ProcessStats struct {
	PID        int32         `json:"pid"`
	RSSBytes   uint64        `json:"rss_bytes"`
	VMSBytes   uint64        `json:"vms_bytes"`
	CPUPercent float64       `json:"cpu_percent"`
	Threads    int32         `json:"threads"`
	Goroutines int           `json:"goroutines"`
	HeapAlloc  uint64        `json:"heap_alloc"`
	Uptime     time.Duration `json:"uptime"`
}

// ProcessCollector collects the resource usage of the current process.
type ProcessCollector struct {
	proc  *process.Process
	start time.Time
}

// NewProcessCollector creates a collector for the current process.
func NewProcessCollector() *ProcessCollector {
	c := &ProcessCollector{start: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		c.proc = p
	}
	return c
}

// Collect gathers current process statistics.
func (c *ProcessCollector) Collect(ctx context.Context) ProcessStats {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	stats := ProcessStats{
		PID:        int32(os.Getpid()),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  ms.HeapAlloc,
		Uptime:     time.Since(c.start),
	}
	if c.proc == nil {
		return stats
	}
	if info, err := c.proc.MemoryInfoWithContext(ctx); err == nil && info != nil {
		stats.RSSBytes = info.RSS
		stats.VMSBytes = info.VMS
	}
	if pct, err := c.proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = pct
	}
	if n, err := c.proc.NumThreadsWithContext(ctx); err == nil {
		stats.Threads = n
	}
	return stats
}
