// Package config provides the configuration structure for the
// narration-service. Every tunable has a safe default and is clamped to a
// sane band, so a bad TOML file cannot produce pathological chunk sizes,
// retry storms, or unbounded concurrency.
package config

import (
	"fmt"
	"os"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Concurrency modes for chunk synthesis.
const (
	ModeSequential = "sequential"
	ModeParallel   = "parallel"
)

// Defaults applied to unset fields.
const (
	defaultMaxChunkChars      = 280
	defaultConcurrency        = 2
	defaultInterChunkDelayMS  = 500
	defaultMaxAttempts        = 5
	defaultRetryBackoffMS     = 1000
	defaultRateLimitBackoffMS = 10000
	defaultJobTimeoutSeconds  = 240
	defaultEngineTimeoutSecs  = 240
	defaultExaggeration       = 0.5
	defaultMP3BitrateKbps     = 128
	defaultFFmpegPath         = "ffmpeg"
	defaultListenAddr         = ":8085"
	defaultSubject            = "narration.requested"
	defaultBucket             = "NARRATION_AUDIO"
)

// Clamping bounds. Chunk bounds keep provider calls well-formed regardless
// of configuration.
const (
	minChunkChars        = 120
	maxChunkChars        = 300
	minConcurrency       = 1
	maxConcurrency       = 8
	minInterChunkDelayMS = 50
	maxInterChunkDelayMS = 10000
	minAttempts          = 1
	maxAttempts          = 10
	minRetryBackoffMS    = 100
	maxRetryBackoffMS    = 30000
	minRateLimitMS       = 1000
	maxRateLimitMS       = 60000
	minJobTimeoutSecs    = 30
	maxJobTimeoutSecs    = 900
	minEngineTimeoutSecs = 5
	maxEngineTimeoutSecs = 600
	minBitrateKbps       = 64
	maxBitrateKbps       = 320
)

// NATSConfig holds the configuration for the NATS surface. An empty URL
// disables the worker and the object store.
type NATSConfig struct {
	URL                       string `toml:"url"`
	NarrationRequestedSubject string `toml:"narration_requested_subject"`
	ObjectStoreBucket         string `toml:"object_store_bucket"`
}

// HTTPConfig holds the configuration for the HTTP surface.
type HTTPConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// TTSEngineConfig holds the connection settings for the Chatterbox-compatible
// speech engine. The API key is not configured here; it is resolved from the
// environment by the credential source.
type TTSEngineConfig struct {
	BaseURL        string  `toml:"base_url"`
	Voice          string  `toml:"voice"`
	Exaggeration   float64 `toml:"exaggeration"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// SynthesisConfig holds the chunking, scheduling and retry settings.
type SynthesisConfig struct {
	MaxChunkChars      int    `toml:"max_chunk_chars"`
	Mode               string `toml:"mode"`
	Concurrency        int    `toml:"concurrency"`
	InterChunkDelayMS  int    `toml:"inter_chunk_delay_ms"`
	MaxAttempts        int    `toml:"max_attempts"`
	RetryBackoffMS     int    `toml:"retry_backoff_ms"`
	RateLimitBackoffMS int    `toml:"rate_limit_backoff_ms"`
	JobTimeoutSeconds  int    `toml:"job_timeout_seconds"`
}

// AudioConfig holds the assembly and transcoding settings.
type AudioConfig struct {
	FFmpegPath     string `toml:"ffmpeg_path"`
	MP3BitrateKbps int    `toml:"mp3_bitrate_kbps"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// SentryConfig holds the error-monitoring settings. An empty DSN disables
// reporting.
type SentryConfig struct {
	DSN string `toml:"dsn"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig      `toml:"nats"`
	HTTP      HTTPConfig      `toml:"http"`
	TTSEngine TTSEngineConfig `toml:"tts_engine"`
	Synthesis SynthesisConfig `toml:"synthesis"`
	Audio     AudioConfig     `toml:"audio"`
	Paths     PathsConfig     `toml:"paths"`
	Sentry    SentryConfig    `toml:"sentry"`
}

// Load loads the configuration for the narration-service, then applies
// defaults and clamping.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.Clamp(log)

	return &cfg, nil
}

// ApplyDefaults fills every unset field with its safe default. A zero value
// counts as unset.
func (c *Config) ApplyDefaults() {
	if c.NATS.NarrationRequestedSubject == "" {
		c.NATS.NarrationRequestedSubject = defaultSubject
	}

	if c.NATS.ObjectStoreBucket == "" {
		c.NATS.ObjectStoreBucket = defaultBucket
	}

	if c.HTTP.ListenAddr == "" {
		c.HTTP.ListenAddr = defaultListenAddr
	}

	if c.TTSEngine.TimeoutSeconds == 0 {
		c.TTSEngine.TimeoutSeconds = defaultEngineTimeoutSecs
	}

	if c.TTSEngine.Exaggeration == 0 {
		c.TTSEngine.Exaggeration = defaultExaggeration
	}

	if c.Synthesis.MaxChunkChars == 0 {
		c.Synthesis.MaxChunkChars = defaultMaxChunkChars
	}

	if c.Synthesis.Mode == "" {
		c.Synthesis.Mode = ModeSequential
	}

	if c.Synthesis.Concurrency == 0 {
		c.Synthesis.Concurrency = defaultConcurrency
	}

	if c.Synthesis.InterChunkDelayMS == 0 {
		c.Synthesis.InterChunkDelayMS = defaultInterChunkDelayMS
	}

	if c.Synthesis.MaxAttempts == 0 {
		c.Synthesis.MaxAttempts = defaultMaxAttempts
	}

	if c.Synthesis.RetryBackoffMS == 0 {
		c.Synthesis.RetryBackoffMS = defaultRetryBackoffMS
	}

	if c.Synthesis.RateLimitBackoffMS == 0 {
		c.Synthesis.RateLimitBackoffMS = defaultRateLimitBackoffMS
	}

	if c.Synthesis.JobTimeoutSeconds == 0 {
		c.Synthesis.JobTimeoutSeconds = defaultJobTimeoutSeconds
	}

	if c.Audio.FFmpegPath == "" {
		c.Audio.FFmpegPath = defaultFFmpegPath
	}

	if c.Audio.MP3BitrateKbps == 0 {
		c.Audio.MP3BitrateKbps = defaultMP3BitrateKbps
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}
}

// Clamp forces every numeric field into its safe band and resets an unknown
// synthesis mode. Out-of-band values are logged, not rejected.
func (c *Config) Clamp(log *logger.Logger) {
	c.Synthesis.MaxChunkChars = clampInt(log,
		"synthesis.max_chunk_chars", c.Synthesis.MaxChunkChars, minChunkChars, maxChunkChars)
	c.Synthesis.Concurrency = clampInt(log,
		"synthesis.concurrency", c.Synthesis.Concurrency, minConcurrency, maxConcurrency)
	c.Synthesis.InterChunkDelayMS = clampInt(log,
		"synthesis.inter_chunk_delay_ms", c.Synthesis.InterChunkDelayMS, minInterChunkDelayMS, maxInterChunkDelayMS)
	c.Synthesis.MaxAttempts = clampInt(log,
		"synthesis.max_attempts", c.Synthesis.MaxAttempts, minAttempts, maxAttempts)
	c.Synthesis.RetryBackoffMS = clampInt(log,
		"synthesis.retry_backoff_ms", c.Synthesis.RetryBackoffMS, minRetryBackoffMS, maxRetryBackoffMS)
	c.Synthesis.RateLimitBackoffMS = clampInt(log,
		"synthesis.rate_limit_backoff_ms", c.Synthesis.RateLimitBackoffMS, minRateLimitMS, maxRateLimitMS)
	c.Synthesis.JobTimeoutSeconds = clampInt(log,
		"synthesis.job_timeout_seconds", c.Synthesis.JobTimeoutSeconds, minJobTimeoutSecs, maxJobTimeoutSecs)
	c.TTSEngine.TimeoutSeconds = clampInt(log,
		"tts_engine.timeout_seconds", c.TTSEngine.TimeoutSeconds, minEngineTimeoutSecs, maxEngineTimeoutSecs)
	c.TTSEngine.Exaggeration = clampFloat(log,
		"tts_engine.exaggeration", c.TTSEngine.Exaggeration, 0, 1)
	c.Audio.MP3BitrateKbps = clampInt(log,
		"audio.mp3_bitrate_kbps", c.Audio.MP3BitrateKbps, minBitrateKbps, maxBitrateKbps)

	if c.Synthesis.Mode != ModeSequential && c.Synthesis.Mode != ModeParallel {
		log.Warn("synthesis.mode %q is not recognized, using %q", c.Synthesis.Mode, ModeSequential)
		c.Synthesis.Mode = ModeSequential
	}
}

func clampInt(log *logger.Logger, name string, value, low, high int) int {
	if value < low {
		log.Warn("%s %d is below the minimum, clamped to %d", name, value, low)

		return low
	}

	if value > high {
		log.Warn("%s %d is above the maximum, clamped to %d", name, value, high)

		return high
	}

	return value
}

func clampFloat(log *logger.Logger, name string, value, low, high float64) float64 {
	if value < low {
		log.Warn("%s %.2f is below the minimum, clamped to %.2f", name, value, low)

		return low
	}

	if value > high {
		log.Warn("%s %.2f is above the maximum, clamped to %.2f", name, value, high)

		return high
	}

	return value
}
