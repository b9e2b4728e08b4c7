// Package abr estimates the download bandwidth from segment metrics and
// picks the representation to buffer.
package abr

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/media"
)

const (
	// DefaultSafetyFactor is applied to the estimate before comparing it to
	// representation bitrates.
	DefaultSafetyFactor = 0.8

	// DefaultHistorySize is the number of samples kept for History.
	DefaultHistorySize = 30

	fastHalfLife = 2.0
	slowHalfLife = 5.0

	// Downloads smaller than this are dominated by latency and say little
	// about throughput.
	minSampleBytes = 16 * 1024
)

// ewma is an exponentially weighted moving average whose weights are
// download durations in seconds.
type ewma struct {
	halfLife    float64
	estimate    float64
	totalWeight float64
}

func (e *ewma) sample(weight, value float64) {
	alpha := math.Pow(0.5, weight/e.halfLife)
	e.estimate = value*(1-alpha) + alpha*e.estimate
	e.totalWeight += weight
}

// value corrects the bias toward the zero initial estimate.
func (e *ewma) value() float64 {
	if e.totalWeight == 0 {
		return 0
	}
	zeroFactor := 1 - math.Pow(0.5, e.totalWeight/e.halfLife)
	return e.estimate / zeroFactor
}

// Options configures a Chooser.
type Options struct {
	SafetyFactor float64
	// InitialBandwidth in bits per second is used until a sample arrives.
	// Zero starts from the lowest representation.
	InitialBandwidth float64
	HistorySize      int
	Logger           *slog.Logger
}

// Chooser keeps a bandwidth estimate and chooses the highest representation
// it can sustain. Observe may be called from any goroutine.
type Chooser struct {
	opts Options

	totalBytes atomic.Int64

	mu      sync.RWMutex
	fast    ewma
	slow    ewma
	samples int
	history []float64
	chosen  map[media.Type]string
}

// New creates a chooser.
func New(opts Options) *Chooser {
	if opts.SafetyFactor <= 0 || opts.SafetyFactor > 1 {
		opts.SafetyFactor = DefaultSafetyFactor
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Chooser{
		opts:    opts,
		fast:    ewma{halfLife: fastHalfLife},
		slow:    ewma{halfLife: slowHalfLife},
		history: make([]float64, 0, opts.HistorySize),
		chosen:  make(map[media.Type]string),
	}
}

// Observe feeds the metrics of one download.
func (c *Chooser) Observe(m fetch.Metrics) {
	c.totalBytes.Add(m.Size)
	secs := m.Duration.Seconds()
	if m.Size < minSampleBytes || secs <= 0 {
		return
	}
	bps := float64(m.Size) * 8 / secs

	c.mu.Lock()
	defer c.mu.Unlock()
	c.fast.sample(secs, bps)
	c.slow.sample(secs, bps)
	c.samples++
	c.history = append(c.history, bps)
	if len(c.history) > c.opts.HistorySize {
		c.history = c.history[len(c.history)-c.opts.HistorySize:]
	}
}

// Estimate returns the bandwidth estimate in bits per second. The lower of
// the fast and slow averages is used so drops are followed quickly and
// rises slowly.
func (c *Chooser) Estimate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.estimateLocked()
}

func (c *Chooser) estimateLocked() float64 {
	if c.samples == 0 {
		return c.opts.InitialBandwidth
	}
	return math.Min(c.fast.value(), c.slow.value())
}

// Choose implements buffer.Chooser. reps are sorted by ascending bitrate.
func (c *Chooser) Choose(t media.Type, reps []*media.Representation) *media.Representation {
	if len(reps) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := c.estimateLocked() * c.opts.SafetyFactor
	chosen := reps[0]
	for _, r := range reps[1:] {
		if float64(r.Bitrate) > budget {
			break
		}
		chosen = r
	}
	if prev := c.chosen[t]; prev != chosen.ID {
		c.opts.Logger.Debug("representation chosen",
			slog.String("media_type", string(t)),
			slog.String("representation_id", chosen.ID),
			slog.Int("bitrate", chosen.Bitrate),
			slog.Float64("estimate_bps", budget/c.opts.SafetyFactor))
		c.chosen[t] = chosen.ID
	}
	return chosen
}

// Stats describes the estimator state.
type Stats struct {
	TotalBytes  int64     `json:"total_bytes"`
	EstimateBps float64   `json:"estimate_bps"`
	Samples     int       `json:"samples"`
	History     []float64 `json:"history,omitempty"`
}

// Stats returns a snapshot of the estimator.
func (c *Chooser) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		TotalBytes:  c.totalBytes.Load(),
		EstimateBps: c.estimateLocked(),
		Samples:     c.samples,
		History:     append([]float64(nil), c.history...),
	}
}
