package session

import (
	"log/slog"

	"github.com/jmylchreest/playcore/internal/abr"
	"github.com/jmylchreest/playcore/internal/buffer"
	"github.com/jmylchreest/playcore/internal/config"
	"github.com/jmylchreest/playcore/internal/fetch"
	"github.com/jmylchreest/playcore/internal/media"
	"github.com/jmylchreest/playcore/internal/sink"
	"github.com/jmylchreest/playcore/pkg/httpclient"
)

// BufferConfig maps the buffer and playback sections onto the buffering
// settings of an orchestrator.
func BufferConfig(cfg *config.Config) buffer.Config {
	mode := buffer.SwitchSeamless
	if cfg.Playback.ManualBitrateSwitchingMode == string(buffer.SwitchDirect) {
		mode = buffer.SwitchDirect
	}
	return buffer.Config{
		WantedBufferAhead:      cfg.Buffer.WantedBufferAhead.Seconds(),
		MaxBufferAhead:         cfg.Buffer.MaxBufferAhead.Seconds(),
		MaxBufferBehind:        cfg.Buffer.MaxBufferBehind.Seconds(),
		WantedBehind:           cfg.Buffer.WantedBehind.Seconds(),
		RebufferingRatio:       cfg.Buffer.RebufferingRatio,
		MinSegmentDuration:     cfg.Buffer.MinSegmentDuration.Seconds(),
		DiscontinuityThreshold: cfg.Buffer.DiscontinuityThreshold.Seconds(),
		LowLatency:             cfg.Buffer.LowLatency,
		SwitchingMode:          mode,
		ReloadOnVideoSwitch:    cfg.Playback.ReloadOnVideoSwitch,
		PreferredAudioLanguage: cfg.Playback.PreferredAudioLanguage,
		PreferredTextLanguage:  cfg.Playback.PreferredTextLanguage,
	}
}

// RetryPolicy builds a retry policy with the given generic retry budget
// and the network section's offline budget and backoff.
func RetryPolicy(net config.NetworkConfig, retries int) httpclient.RetryPolicy {
	return httpclient.RetryPolicy{
		MaxRetries:        retries,
		MaxOfflineRetries: net.OfflineRetry,
		BaseDelay:         net.RetryBaseDelay,
		MaxDelay:          net.RetryMaxDelay,
		Multiplier:        httpclient.DefaultBackoffMultiplier,
	}
}

// FetchConfig maps the network section onto the segment pipeline settings.
func FetchConfig(cfg *config.Config) fetch.Config {
	return fetch.Config{
		Retry:         RetryPolicy(cfg.Network, cfg.Network.SegmentRetry),
		MaxConcurrent: cfg.Network.MaxConcurrentRequests,
	}
}

// ClientConfig maps the network section onto the HTTP client settings.
// Retries are configured per call, so the client default never retries.
func ClientConfig(cfg *config.Config, logger *slog.Logger) httpclient.Config {
	c := httpclient.DefaultConfig()
	c.Timeout = cfg.Network.SegmentTimeout
	c.Retry = httpclient.NoRetry()
	c.CircuitThreshold = cfg.Network.CircuitThreshold
	c.CircuitTimeout = cfg.Network.CircuitTimeout
	c.MaxResponseSize = cfg.Network.MaxResponseSize.Bytes()
	if cfg.Network.UserAgent != "" {
		c.UserAgent = cfg.Network.UserAgent
	}
	if logger != nil {
		c.Logger = logger
	}
	return c
}

// SinkConfig maps the sink section onto the memory sink settings.
func SinkConfig(cfg *config.Config) sink.MemorySinkConfig {
	return sink.MemorySinkConfig{
		Latency:  cfg.Sink.Latency,
		Capacity: cfg.Sink.Capacity.Seconds(),
		MaxBytes: cfg.Sink.MaxBytes.Bytes(),
	}
}

// ABROptions maps the abr section onto the chooser settings.
func ABROptions(cfg *config.Config, logger *slog.Logger) abr.Options {
	return abr.Options{
		SafetyFactor:     cfg.ABR.SafetyFactor,
		InitialBandwidth: float64(cfg.ABR.InitialBandwidth),
		Logger:           logger,
	}
}

// EnabledTypes returns the media types a session buffers.
func EnabledTypes(cfg *config.Config) []media.Type {
	types := []media.Type{media.TypeVideo, media.TypeAudio}
	if cfg.Playback.EnableText {
		types = append(types, media.TypeText)
	}
	if cfg.Playback.EnableImage {
		types = append(types, media.TypeImage)
	}
	return types
}
