package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"nredpi-gateway/internal/app"
	"nredpi-gateway/internal/config"
	"nredpi-gateway/internal/logging"
	"nredpi-gateway/internal/registry"
)

var version = "dev"
var appName = "nredpi-gateway"

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg, version, appName)
	slog.SetDefault(logger)

	slog.Info("starting",
		"app", appName,
		"version", version,
		"env", cfg.AppEnv,
		"log_level", cfg.LogLevel.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		var dup *registry.DuplicateDeviceError
		if errors.As(err, &dup) {
			slog.Error("device names must be unique", "device", dup.Name, "err", err)
		} else {
			slog.Error("run failed", "err", err)
		}
		stop()
		os.Exit(1)
	}

	slog.Info("shutting down")
}
