package logging

import (
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"

	"nredpi-gateway/internal/config"
)

// New returns a colourised console logger for dev builds and a JSON logger
// otherwise. Every record carries a run_id so restarts can be told apart.
func New(cfg config.Config, version string, appName string) *slog.Logger {
	runID := uuid.NewString()

	if version == "dev" {
		h := tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.LogLevel,
			AddSource:  true,
			TimeFormat: time.Kitchen,
		})
		return slog.New(h).With("app", appName, "run_id", runID)
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})
	return slog.New(h).With(
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"run_id", runID,
	)
}
