//go:build linux

// Package process_linux reads processes, threads and stacks from procfs.
package process_linux

import (
	"strings"
	"sync"

	"stacksnap/coloransi"
	"stacksnap/process"

	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sys/unix"
)

// DefaultScanWindow is the number of stack words scanned for return
// addresses when a thread has no usable frame pointer chain
const DefaultScanWindow = 2048

// Backend implements process.Backend on top of procfs
type Backend struct {
	log           *logger.Logger
	scanWindow    int
	userModeLimit process.Address
	hostMachine   process.Machine

	kernelOnce sync.Once
	kernel     *kernelSymbols

	machines sync.Map // process.ProcessID -> process.Machine
}

// Option configures a Backend
type Option func(*Backend)

// WithScanWindow sets the number of stack words scanned per thread
func WithScanWindow(words int) Option {
	return func(b *Backend) {
		if words > 0 {
			b.scanWindow = words
		}
	}
}

// WithLogger replaces the backend logger
func WithLogger(log *logger.Logger) Option {
	return func(b *Backend) {
		b.log = log
	}
}

// WithUserModeLimit sets the highest user mode address
func WithUserModeLimit(limit process.Address) Option {
	return func(b *Backend) {
		b.userModeLimit = limit
	}
}

// New creates a procfs backend
func New(options ...Option) *Backend {
	b := &Backend{
		log:           logger.NewLogger(coloransi.Color(coloransi.ColorLimeGreen, coloransi.ColorOrange, "procfs")),
		scanWindow:    DefaultScanWindow,
		userModeLimit: process.DefaultUserModeLimit,
		hostMachine:   hostMachine(),
	}

	for _, option := range options {
		option(b)
	}

	return b
}

// UserModeLimit returns the highest user mode address
func (b *Backend) UserModeLimit() process.Address {
	return b.userModeLimit
}

// kernelSymbols loads /proc/kallsyms once. A failed load leaves kernel
// frames resolved by the names in the task stack listing.
func (b *Backend) kernelSymbols() *kernelSymbols {
	b.kernelOnce.Do(func() {
		k, err := loadKallsyms()
		if err != nil {
			b.log.Warn("kallsyms unavailable:", err)
			return
		}
		if k.Len() == 0 {
			b.log.Debugln("kallsyms addresses are hidden")
		}
		b.kernel = k
	})
	return b.kernel
}

// hostMachine is the architecture kernel frames are reported with
func hostMachine() process.Machine {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return process.MachineUnknown
	}
	return machineFromUname(unix.ByteSliceToString(uts.Machine[:]))
}

func machineFromUname(machine string) process.Machine {
	switch {
	case machine == "x86_64":
		return process.MachineAMD64
	case machine == "aarch64" || machine == "arm64":
		return process.MachineARM64
	case strings.HasPrefix(machine, "armv"):
		return process.MachineARM
	case len(machine) == 4 && machine[0] == 'i' && strings.HasSuffix(machine, "86"):
		return process.MachineI386
	default:
		return process.MachineUnknown
	}
}

var _ process.Backend = (*Backend)(nil)
