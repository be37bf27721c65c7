package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"

	"mi-sensor-bridge/internal/config"
)

// New builds the process logger on stdout.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	return NewWithWriter(os.Stdout, cfg, version, appName)
}

// NewWithWriter writes colored text for dev builds and JSON for released
// ones, tagged with version and env. Source locations appear at debug level.
func NewWithWriter(w io.Writer, cfg config.Config, version string, appName string) *slog.Logger {
	debug := cfg.LogLevel <= slog.LevelDebug

	if version == "dev" {
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  debug,
			TimeFormat: time.Kitchen,
		})).With("app", appName)
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: debug,
	})).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
	)
}
