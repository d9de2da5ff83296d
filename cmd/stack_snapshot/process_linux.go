//go:build linux

package main

import (
	"stacksnap/config"
	"stacksnap/process"
	"stacksnap/process_linux"
)

func newBackend(cfg config.Config, limit process.Address) (process.Backend, error) {
	return process_linux.New(
		process_linux.WithScanWindow(cfg.ScanWindow),
		process_linux.WithUserModeLimit(limit),
	), nil
}
