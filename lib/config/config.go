// Package config loads zocker's runtime configuration from the environment,
// following the teacher's env-var-with-defaults convention.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds the zocker store's runtime configuration.
type Config struct {
	// StorePrefix is the root directory holding containers/, layers/,
	// images/ and cache/ (ZOCKER_PREFIX, default /tmp/zocker).
	StorePrefix string

	// LogLevel is the default log level (debug, info, warn, error).
	LogLevel string

	// PullEnabled turns on the OCI-registry enrichment fallback in the
	// External Base Resolver.
	PullEnabled bool

	// PullTimeoutSeconds is read from ZOCKER_PULL_TIMEOUT and checked by
	// Validate. The registry pull does not apply it: pulls run without a
	// deadline.
	PullTimeoutSeconds int

	// FetchTimeoutSeconds is read from ZOCKER_FETCH_TIMEOUT and checked by
	// Validate. ADD <url> downloads do not apply it: they use http.Get with
	// no timeout.
	FetchTimeoutSeconds int

	// OtelEnabled turns on the OTLP metrics exporter for engine counters.
	OtelEnabled bool
	// OtelEndpoint is the OTLP/gRPC collector endpoint.
	OtelEndpoint string
	// OtelInsecure disables TLS for the OTLP connection.
	OtelInsecure bool
	// OtelServiceInstanceID distinguishes concurrent builds in exported metrics.
	OtelServiceInstanceID string
}

// Load builds a Config from the environment, loading a .env file first if
// one is present (failures there are silent, matching the teacher).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		StorePrefix:         getEnv("ZOCKER_PREFIX", "/tmp/zocker"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		PullEnabled:         getEnvBool("ZOCKER_PULL_ENABLED", true),
		PullTimeoutSeconds:  getEnvInt("ZOCKER_PULL_TIMEOUT", 120),
		FetchTimeoutSeconds: getEnvInt("ZOCKER_FETCH_TIMEOUT", 60),

		OtelEnabled:           getEnvBool("OTEL_ENABLED", false),
		OtelEndpoint:          getEnv("OTEL_ENDPOINT", "127.0.0.1:4317"),
		OtelInsecure:          getEnvBool("OTEL_INSECURE", true),
		OtelServiceInstanceID: getEnv("OTEL_SERVICE_INSTANCE_ID", ""),
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.StorePrefix == "" {
		return fmt.Errorf("ZOCKER_PREFIX must not be empty")
	}
	if c.PullTimeoutSeconds <= 0 {
		return fmt.Errorf("ZOCKER_PULL_TIMEOUT must be positive, got %v", c.PullTimeoutSeconds)
	}
	if c.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("ZOCKER_FETCH_TIMEOUT must be positive, got %v", c.FetchTimeoutSeconds)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
