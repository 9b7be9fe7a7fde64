//go:build !linux && !rp2040

package platform

import "log/slog"

func openLinux(Options, *slog.Logger) (*Board, error) { return nil, unsupported("linux") }
