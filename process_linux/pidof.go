//go:build linux

package process_linux

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// procRoot is the procfs mount point; tests point it at a fixture tree
var procRoot = "/proc"

func procPath(parts ...string) string {
	return filepath.Join(append([]string{procRoot}, parts...)...)
}

func pidDir(pid int) string {
	return strconv.Itoa(pid)
}

// taskPath returns the path of a file below /proc/<pid>/task/<tid>
func taskPath(pid, tid int, name string) string {
	return procPath(pidDir(pid), "task", strconv.Itoa(tid), name)
}

// readComm returns the comm of a process or task directory
func readComm(dir string) (string, error) {
	comm, err := os.ReadFile(filepath.Join(dir, "comm"))
	if err != nil {
		return "", err
	}
	return string(bytesTrimNL(comm)), nil
}

func procExists(pid int) bool {
	// Fast path: stat /proc/<pid>
	_, err := os.Stat(procPath(pidDir(pid)))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	// For transient errors (permission, EIO): fall back to kill 0
	return syscall.Kill(pid, 0) == nil
}

func bytesTrimNL(b []byte) []byte {
	// Trim trailing '\n' if present (comm has a newline).
	for len(b) > 0 {
		switch b[len(b)-1] {
		case '\n', '\r', ' ', '\t':
			b = b[:len(b)-1]
		default:
			return b
		}
	}
	return b
}
