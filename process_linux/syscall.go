//go:build linux

package process_linux

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"stacksnap/process"
)

// errThreadRunning is returned when registers are unavailable because the
// thread is on a CPU
var errThreadRunning = errors.New("thread is running")

// userRegisters is the stack and program counter of a blocked thread
type userRegisters struct {
	Syscall int // Syscall number, -1 when blocked outside a syscall
	SP      process.Address
	PC      process.Address
}

// parseSyscall parses /proc/<pid>/task/<tid>/syscall:
//
//	running
//	-1 0x7ffd2a1b0e28 0x7f3a1c2d3e4f
//	7 0x5 0x1 0xffffffff 0x0 0x0 0x0 0x7ffd2a1b0e28 0x7f3a1c2d3e4f
func parseSyscall(line string) (userRegisters, error) {
	fields := strings.Fields(line)
	if len(fields) == 1 && fields[0] == "running" {
		return userRegisters{}, errThreadRunning
	}
	if len(fields) != 3 && len(fields) != 9 {
		return userRegisters{}, fmt.Errorf("unexpected syscall line %q", line)
	}

	nr, err := strconv.Atoi(fields[0])
	if err != nil {
		return userRegisters{}, fmt.Errorf("syscall number %q: %w", fields[0], err)
	}

	sp, err := parseHex(fields[len(fields)-2])
	if err != nil {
		return userRegisters{}, err
	}
	pc, err := parseHex(fields[len(fields)-1])
	if err != nil {
		return userRegisters{}, err
	}

	return userRegisters{Syscall: nr, SP: sp, PC: pc}, nil
}

func parseHex(s string) (process.Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex value %q: %w", s, err)
	}
	return process.Address(v), nil
}

// kernelFrame is one line of /proc/<pid>/task/<tid>/stack
type kernelFrame struct {
	Address  process.Address // Zero when the kernel hides addresses
	Function string
	Offset   process.Address
	Size     process.Address
	Module   string // Empty for the core kernel image
}

// Symbol returns the display name in module!function+0xoffset form
func (f kernelFrame) Symbol() string {
	module := f.Module
	if module == "" {
		module = kernelModuleName
	}
	return fmt.Sprintf("%s!%s+0x%x", module, f.Function, uint64(f.Offset))
}

// parseKernelStack parses lines such as
//
//	[<0>] do_sys_poll+0x3d4/0x5a0
//	[<ffffffffc0a01234>] nfs_wait_bit_killable+0x1d/0x80 [nfs]
func parseKernelStack(r io.Reader) ([]kernelFrame, error) {
	var frames []kernelFrame

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var f kernelFrame
		if strings.HasPrefix(line, "[<") {
			end := strings.Index(line, ">]")
			if end < 0 {
				continue
			}
			if addr, err := parseHex(line[2:end]); err == nil {
				f.Address = addr
			}
			line = strings.TrimSpace(line[end+2:])
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) > 1 {
			f.Module = strings.Trim(fields[1], "[]")
		}

		symbol := fields[0]
		if plus := strings.LastIndexByte(symbol, '+'); plus >= 0 {
			offsets := strings.SplitN(symbol[plus+1:], "/", 2)
			if off, err := parseHex(offsets[0]); err == nil {
				f.Offset = off
			}
			if len(offsets) == 2 {
				if size, err := parseHex(offsets[1]); err == nil {
					f.Size = size
				}
			}
			symbol = symbol[:plus]
		}
		f.Function = symbol

		frames = append(frames, f)
	}

	return frames, scanner.Err()
}
