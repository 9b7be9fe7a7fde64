//go:build !rp2040

package platform

import "log/slog"

func openPico(Options, *slog.Logger) (*Board, error) { return nil, unsupported("pico") }
