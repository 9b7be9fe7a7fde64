package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"gadgetcore/internal/logging"
	"gadgetcore/internal/platform"
	"gadgetcore/services/gadget"
)

func defaultLockPath() string { return filepath.Join(os.TempDir(), "gadgetsim.lock") }

func newRunCommand(ctx *commandContext) *cobra.Command {
	var lockPath string
	var boardFlag string
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the gadget until interrupted",
		Long: "Run the gadget runtime on the configured board. The first interrupt " +
			"powers the gadget down cleanly; the run is abandoned if that takes longer than --grace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if b := strings.TrimSpace(boardFlag); b != "" {
				cfg.Platform.Board = strings.ToLower(b)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			lock := flock.New(lockPath)
			ok, err := lock.TryLock()
			if err != nil {
				return fmt.Errorf("acquire lock: %w", err)
			}
			if !ok {
				return fmt.Errorf("another gadgetsim holds %s", lockPath)
			}
			defer func() { _ = lock.Unlock() }()

			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			board, err := platform.Open(platform.Options{
				Board:        cfg.Platform.Board,
				SerialPort:   cfg.Platform.SerialPort,
				SerialBaud:   cfg.Platform.SerialBaud,
				DetectDevice: cfg.Platform.DetectDevice,
				LinkPort:     cfg.Platform.LinkPort,
			}, logger)
			if err != nil {
				return err
			}
			defer board.Close()

			g, err := gadget.New(cfg, board, logger)
			if err != nil {
				return err
			}

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			runCtx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			go func() {
				select {
				case <-runCtx.Done():
					return
				case <-sigCtx.Done():
				}
				logger.Info("interrupt, powering down", logging.Duration("grace", grace))
				g.PowerOff()
				select {
				case <-runCtx.Done():
				case <-time.After(grace):
					logger.Warn("power-down overran grace period")
					cancel()
				}
			}()

			err = g.Run(runCtx)
			out := cmd.OutOrStdout()
			renderReport(out, collectReport(board.Name, g), time.Now(), shouldColorize(out))
			return err
		},
	}

	cmd.Flags().StringVar(&lockPath, "lock", defaultLockPath(), "Single-instance lock file")
	cmd.Flags().StringVar(&boardFlag, "board", "", "Override platform.board (sim, linux)")
	cmd.Flags().DurationVar(&grace, "grace", 5*time.Second, "Longest wait for a clean power-down after an interrupt")
	return cmd
}
