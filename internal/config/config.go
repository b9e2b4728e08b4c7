// Package config provides configuration management for playcore using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "PLAYCORE"

// Default configuration values.
const (
	defaultServerPort        = 8080
	defaultGRPCPort          = 9090
	defaultServerTimeout     = 30 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultMaxOpenConns      = 25
	defaultMaxIdleConns      = 10
	defaultConnMaxIdleTime   = 30 * time.Minute
	defaultWantedAhead       = 30 * time.Second
	defaultRebufferingRatio  = 1.5
	defaultMinSegment        = 5 * time.Millisecond
	defaultDiscontinuity     = 100 * time.Millisecond
	defaultSegmentTimeout    = 30 * time.Second
	defaultManifestTimeout   = 10 * time.Second
	defaultRetryAttempts     = 4
	defaultOfflineRetries    = -1
	defaultRetryBaseDelay    = 200 * time.Millisecond
	defaultRetryMaxDelay     = 3 * time.Second
	defaultMaxConcurrent     = 4
	defaultTickInterval      = 200 * time.Millisecond
	defaultSafetyFactor      = 0.8
	defaultInitialBandwidth  = 1_000_000
	defaultMaxSessions       = 16
	defaultJournalRetention  = Duration(7 * 24 * time.Hour)
	defaultJournalPruneCron  = "0 3 * * *"
	defaultCircuitThreshold  = 10
	defaultCircuitTimeout    = 15 * time.Second
	defaultUserAgent         = "playcore/1.0"
	defaultSessionEventQueue = 256
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GRPC     GRPCConfig     `mapstructure:"grpc"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Network  NetworkConfig  `mapstructure:"network"`
	Playback PlaybackConfig `mapstructure:"playback"`
	ABR      ABRConfig      `mapstructure:"abr"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Journal  JournalConfig  `mapstructure:"journal"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	MaxSessions     int           `mapstructure:"max_sessions"`
}

// GRPCConfig holds the gRPC health endpoint configuration.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// BufferConfig holds the buffering goals of a playback session.
type BufferConfig struct {
	WantedBufferAhead Duration `mapstructure:"wanted_buffer_ahead"`
	// MaxBufferAhead and MaxBufferBehind bound what is kept in sinks. Zero
	// disables the bound.
	MaxBufferAhead         Duration `mapstructure:"max_buffer_ahead"`
	MaxBufferBehind        Duration `mapstructure:"max_buffer_behind"`
	WantedBehind           Duration `mapstructure:"wanted_behind"`
	RebufferingRatio       float64  `mapstructure:"rebuffering_ratio"`
	MinSegmentDuration     Duration `mapstructure:"min_segment_duration"`
	DiscontinuityThreshold Duration `mapstructure:"discontinuity_threshold"`
	LowLatency             bool     `mapstructure:"low_latency"`
}

// NetworkConfig holds segment and manifest transport settings.
type NetworkConfig struct {
	SegmentTimeout  time.Duration `mapstructure:"segment_timeout"`
	ManifestTimeout time.Duration `mapstructure:"manifest_timeout"`
	SegmentRetry    int           `mapstructure:"segment_retry"`
	ManifestRetry   int           `mapstructure:"manifest_retry"`
	// OfflineRetry is the retry budget for connectivity failures. -1 retries
	// until the request is canceled.
	OfflineRetry          int           `mapstructure:"offline_retry"`
	RetryBaseDelay        time.Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay         time.Duration `mapstructure:"retry_max_delay"`
	MaxConcurrentRequests int           `mapstructure:"max_concurrent_requests"`
	UserAgent             string        `mapstructure:"user_agent"`
	CircuitThreshold      int           `mapstructure:"circuit_threshold"`
	CircuitTimeout        time.Duration `mapstructure:"circuit_timeout"`
	MaxResponseSize       ByteSize      `mapstructure:"max_response_size"`
}

// PlaybackConfig holds session behavior settings.
type PlaybackConfig struct {
	ManualBitrateSwitchingMode string        `mapstructure:"manual_bitrate_switching_mode"` // seamless, direct
	ReloadOnVideoSwitch        bool          `mapstructure:"reload_on_video_switch"`
	TickInterval               time.Duration `mapstructure:"tick_interval"`
	PreferredAudioLanguage     string        `mapstructure:"preferred_audio_language"`
	PreferredTextLanguage      string        `mapstructure:"preferred_text_language"`
	EnableText                 bool          `mapstructure:"enable_text"`
	EnableImage                bool          `mapstructure:"enable_image"`
	Autoplay                   bool          `mapstructure:"autoplay"`
	EventQueueSize             int           `mapstructure:"event_queue_size"`
}

// ABRConfig holds bandwidth estimation settings.
type ABRConfig struct {
	SafetyFactor     float64 `mapstructure:"safety_factor"`
	InitialBandwidth int     `mapstructure:"initial_bandwidth"` // bits per second
}

// SinkConfig holds the simulated decoder buffer settings.
type SinkConfig struct {
	Latency time.Duration `mapstructure:"latency"`
	// Capacity is the buffered duration kept before the earliest content is
	// evicted. Zero disables eviction.
	Capacity Duration `mapstructure:"capacity"`
	MaxBytes ByteSize `mapstructure:"max_bytes"`
}

// JournalConfig holds session journal settings.
type JournalConfig struct {
	Enabled   bool     `mapstructure:"enabled"`
	Retention Duration `mapstructure:"retention"`
	PruneCron string   `mapstructure:"prune_cron"` // 5-field cron expression
	// RecordSegments also journals every appended segment.
	RecordSegments bool `mapstructure:"record_segments"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with PLAYCORE_ and use underscores for nesting.
// Example: PLAYCORE_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/playcore")
		v.AddConfigPath("$HOME/.playcore")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	return FromViper(v)
}

// FromViper unmarshals and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// decodeHook lets Duration and ByteSize values be written in human-readable
// form in files and environment variables.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_sessions", defaultMaxSessions)

	// gRPC defaults
	v.SetDefault("grpc.enabled", false)
	v.SetDefault("grpc.port", defaultGRPCPort)

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "playcore.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Buffer defaults
	v.SetDefault("buffer.wanted_buffer_ahead", defaultWantedAhead)
	v.SetDefault("buffer.max_buffer_ahead", 0)
	v.SetDefault("buffer.max_buffer_behind", 0)
	v.SetDefault("buffer.wanted_behind", 0)
	v.SetDefault("buffer.rebuffering_ratio", defaultRebufferingRatio)
	v.SetDefault("buffer.min_segment_duration", defaultMinSegment)
	v.SetDefault("buffer.discontinuity_threshold", defaultDiscontinuity)
	v.SetDefault("buffer.low_latency", false)

	// Network defaults
	v.SetDefault("network.segment_timeout", defaultSegmentTimeout)
	v.SetDefault("network.manifest_timeout", defaultManifestTimeout)
	v.SetDefault("network.segment_retry", defaultRetryAttempts)
	v.SetDefault("network.manifest_retry", defaultRetryAttempts)
	v.SetDefault("network.offline_retry", defaultOfflineRetries)
	v.SetDefault("network.retry_base_delay", defaultRetryBaseDelay)
	v.SetDefault("network.retry_max_delay", defaultRetryMaxDelay)
	v.SetDefault("network.max_concurrent_requests", defaultMaxConcurrent)
	v.SetDefault("network.user_agent", defaultUserAgent)
	v.SetDefault("network.circuit_threshold", defaultCircuitThreshold)
	v.SetDefault("network.circuit_timeout", defaultCircuitTimeout)
	v.SetDefault("network.max_response_size", 0)

	// Playback defaults
	v.SetDefault("playback.manual_bitrate_switching_mode", "seamless")
	v.SetDefault("playback.reload_on_video_switch", true)
	v.SetDefault("playback.tick_interval", defaultTickInterval)
	v.SetDefault("playback.preferred_audio_language", "")
	v.SetDefault("playback.preferred_text_language", "")
	v.SetDefault("playback.enable_text", true)
	v.SetDefault("playback.enable_image", false)
	v.SetDefault("playback.autoplay", true)
	v.SetDefault("playback.event_queue_size", defaultSessionEventQueue)

	// ABR defaults
	v.SetDefault("abr.safety_factor", defaultSafetyFactor)
	v.SetDefault("abr.initial_bandwidth", defaultInitialBandwidth)

	// Sink defaults
	v.SetDefault("sink.latency", 0)
	v.SetDefault("sink.capacity", 0)
	v.SetDefault("sink.max_bytes", 0)

	// Journal defaults
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.retention", defaultJournalRetention.Duration())
	v.SetDefault("journal.prune_cron", defaultJournalPruneCron)
	v.SetDefault("journal.record_segments", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.GRPC.Enabled && (c.GRPC.Port < 1 || c.GRPC.Port > maxPort) {
		return fmt.Errorf("grpc.port must be between 1 and %d", maxPort)
	}
	if c.Server.MaxSessions < 1 {
		return fmt.Errorf("server.max_sessions must be at least 1")
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Buffer.WantedBufferAhead <= 0 {
		return fmt.Errorf("buffer.wanted_buffer_ahead must be positive")
	}
	if c.Buffer.MaxBufferAhead < 0 || c.Buffer.MaxBufferBehind < 0 || c.Buffer.WantedBehind < 0 {
		return fmt.Errorf("buffer bounds must not be negative")
	}
	if c.Buffer.RebufferingRatio < 1 {
		return fmt.Errorf("buffer.rebuffering_ratio must be at least 1")
	}

	if c.Network.SegmentRetry < 0 || c.Network.ManifestRetry < 0 {
		return fmt.Errorf("network retry budgets must not be negative")
	}
	if c.Network.MaxConcurrentRequests < 1 {
		return fmt.Errorf("network.max_concurrent_requests must be at least 1")
	}

	switch c.Playback.ManualBitrateSwitchingMode {
	case "seamless", "direct":
	default:
		return fmt.Errorf("playback.manual_bitrate_switching_mode must be one of: seamless, direct")
	}
	if c.Playback.TickInterval <= 0 {
		return fmt.Errorf("playback.tick_interval must be positive")
	}

	if c.ABR.SafetyFactor <= 0 || c.ABR.SafetyFactor > 1 {
		return fmt.Errorf("abr.safety_factor must be in (0, 1]")
	}

	if c.Journal.Enabled && c.Journal.PruneCron == "" {
		return fmt.Errorf("journal.prune_cron is required when the journal is enabled")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Address returns the gRPC listen address.
func (c *GRPCConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}
