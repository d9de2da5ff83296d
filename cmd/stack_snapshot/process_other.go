//go:build !linux

package main

import (
	"errors"
	"runtime"

	"stacksnap/config"
	"stacksnap/process"
)

func newBackend(config.Config, process.Address) (process.Backend, error) {
	return nil, errors.New("no process backend for " + runtime.GOOS)
}
