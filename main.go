package main

import (
	"log/slog"
	"os"

	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/gadget"
)

func main() {
	cfg, logger := setup()
	logger.Info("boot", logging.String("board", cfg.Platform.Board))

	board, err := platform.Open(platform.Options{
		Board:        cfg.Platform.Board,
		SerialPort:   cfg.Platform.SerialPort,
		SerialBaud:   cfg.Platform.SerialBaud,
		DetectDevice: cfg.Platform.DetectDevice,
		LinkPort:     cfg.Platform.LinkPort,
	}, logger)
	if err != nil {
		fatal(logger, "open board", err)
	}
	defer board.Close()

	g, err := gadget.New(cfg, board, logger)
	if err != nil {
		fatal(logger, "assemble runtime", err)
	}

	ctx, stop := runContext()
	defer stop()
	if err := g.Run(ctx); err != nil && ctx.Err() == nil {
		fatal(logger, "run", err)
	}
}

func fatal(logger *slog.Logger, what string, err error) {
	logger.Error(what, logging.Error(err))
	halt()
	os.Exit(1)
}
