// Package logger provides structured logging with subsystem-specific levels,
// adapted from the teacher's per-subsystem slog configuration.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names for per-subsystem logging configuration.
const (
	SubsystemBuild    = "BUILD"
	SubsystemLayers   = "LAYERS"
	SubsystemImages   = "IMAGES"
	SubsystemMount    = "MOUNT"
	SubsystemCache    = "CACHE"
	SubsystemPrune    = "PRUNE"
	SubsystemExternal = "EXTERNAL"
)

// Config holds logging configuration.
type Config struct {
	// DefaultLevel is the default log level for all subsystems.
	DefaultLevel slog.Level
	// SubsystemLevels maps subsystem names to their specific log levels.
	// If a subsystem is not in this map, DefaultLevel is used.
	SubsystemLevels map[string]slog.Level
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewConfig creates a Config from environment variables.
// Reads LOG_LEVEL for the default level and LOG_LEVEL_<SUBSYSTEM> for
// per-subsystem overrides.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
		AddSource:       false,
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		cfg.DefaultLevel = parseLevel(levelStr)
	}

	subsystems := []string{
		SubsystemBuild, SubsystemLayers, SubsystemImages,
		SubsystemMount, SubsystemCache, SubsystemPrune, SubsystemExternal,
	}
	for _, subsystem := range subsystems {
		envKey := "LOG_LEVEL_" + subsystem
		if levelStr := os.Getenv(envKey); levelStr != "" {
			cfg.SubsystemLevels[subsystem] = parseLevel(levelStr)
		}
	}

	if os.Getenv("LOG_ADD_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFor returns the configured log level for the given subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// New creates a *slog.Logger with JSON output at the config's default level.
func New(cfg Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     cfg.DefaultLevel,
		AddSource: cfg.AddSource,
	}))
}

// NewSubsystemLogger creates a logger for subsystem, bound to its configured
// level and tagged with a "subsystem" attribute.
func NewSubsystemLogger(subsystem string, cfg Config) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level:     cfg.LevelFor(subsystem),
		AddSource: cfg.AddSource,
	})
	return slog.New(handler).With(slog.String("subsystem", subsystem))
}

// AddToContext binds logger to ctx.
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the bound logger, or slog.Default() if none is set.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithBuild binds build_id and stage attributes for the duration of a build.
func WithBuild(logger *slog.Logger, buildID, stage string) *slog.Logger {
	return logger.With(slog.String("build_id", buildID), slog.String("stage", stage))
}

// WithLayer binds a layer_id attribute.
func WithLayer(logger *slog.Logger, layerID string) *slog.Logger {
	return logger.With(slog.String("layer_id", layerID))
}
