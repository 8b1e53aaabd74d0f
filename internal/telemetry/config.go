package telemetry

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/teemow/toolmeter/internal/events"
)

const (
	// DefaultEndpoint is the hosted ingestion endpoint.
	DefaultEndpoint = "https://ingest.toolmeter.dev/v1/events"

	// DefaultBatchSize is the number of queued events that triggers a flush.
	DefaultBatchSize = 20

	// DefaultFlushInterval is the period of the automatic flush timer.
	DefaultFlushInterval = 30 * time.Second

	// DefaultEnvironment tags events when TOOLMETER_ENVIRONMENT is unset.
	DefaultEnvironment = "production"
)

// Config holds the configuration for the event delivery client.
type Config struct {
	// APIKey authenticates ingestion requests. When empty, tools are
	// registered without instrumentation.
	APIKey string

	// Endpoint is the ingestion URL (default: DefaultEndpoint)
	Endpoint string

	// BatchSize is the queue length that triggers a flush (default: 20).
	// Values above events.MaxBatchSize are clamped to it; values below 1
	// fall back to the default.
	BatchSize int

	// FlushInterval is the automatic flush period (default: 30s).
	// Zero disables the timer; batch-triggered flushes still apply.
	FlushInterval time.Duration

	// TrackResults controls whether sanitized tool results are attached to
	// success events (default: true)
	TrackResults bool

	// Environment is copied into every event (default: production)
	Environment string
}

// DefaultConfig returns a Config populated from environment variables.
func DefaultConfig() Config {
	return Config{
		APIKey:        os.Getenv("TOOLMETER_API_KEY"),
		Endpoint:      getEnvOrDefault("TOOLMETER_ENDPOINT", DefaultEndpoint),
		BatchSize:     getEnvIntOrDefault("TOOLMETER_BATCH_SIZE", DefaultBatchSize),
		FlushInterval: time.Duration(getEnvIntOrDefault("TOOLMETER_FLUSH_INTERVAL_MS", int(DefaultFlushInterval/time.Millisecond))) * time.Millisecond,
		TrackResults:  getEnvBoolOrDefault("TOOLMETER_TRACK_RESULTS", true),
		Environment:   getEnvOrDefault("TOOLMETER_ENVIRONMENT", DefaultEnvironment),
	}
}

// Enabled reports whether an API key is configured.
func (c *Config) Enabled() bool {
	return c.APIKey != ""
}

// EffectiveBatchSize returns BatchSize after defaulting and clamping.
func (c *Config) EffectiveBatchSize() int {
	switch {
	case c.BatchSize < 1:
		return DefaultBatchSize
	case c.BatchSize > events.MaxBatchSize:
		return events.MaxBatchSize
	default:
		return c.BatchSize
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("telemetry endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid telemetry endpoint %q: %w", c.Endpoint, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("telemetry endpoint must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("telemetry endpoint %q has no host", c.Endpoint)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("flush interval must not be negative, got %s", c.FlushInterval)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}
