//go:build rp2040

package platform

import "log/slog"

func openSim(Options, *slog.Logger) (*Board, error)   { return nil, unsupported("sim") }
func openLinux(Options, *slog.Logger) (*Board, error) { return nil, unsupported("linux") }
