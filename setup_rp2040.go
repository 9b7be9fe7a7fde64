//go:build rp2040

package main

import (
	"context"
	"log/slog"
	"time"

	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/config"
)

// The handheld has no filesystem for configuration; it runs the defaults.
func setup() (config.Config, *slog.Logger) {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)

	cfg := config.Default()
	cfg.Platform.Board = "pico"
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Writer: platform.Console(),
	})
	if err != nil {
		logger = logging.NewNop()
	}
	return cfg, logger
}

func runContext() (context.Context, context.CancelFunc) {
	return context.WithCancel(context.Background())
}

// halt parks the CPU; exiting would only reset the board into the same fault.
func halt() {
	select {}
}
