//go:build !rp2040

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gadgetcore/internal/logging"
	"gadgetcore/services/config"
)

const configEnv = "GADGET_CONFIG"

// setup reads the file named by $GADGET_CONFIG, falling back to defaults.
func setup() (config.Config, *slog.Logger) {
	cfg, _, err := config.Load(os.Getenv(configEnv))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return cfg, logger
}

func runContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func halt() {}
