//go:build linux

package process_linux

import (
	"debug/elf"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"stacksnap/process"
)

// linuxThread is an opened task. Access rights are checked when the handle
// is opened; procfs re-checks them on every read.
type linuxThread struct {
	pid    process.ProcessID
	tid    process.ThreadID
	access process.AccessLevel

	mu     sync.Mutex
	closed bool
}

func (t *linuxThread) TID() process.ThreadID { return t.tid }
func (t *linuxThread) Access() process.AccessLevel { return t.access }

func (t *linuxThread) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// StartAddress returns the image entry point for the main thread. Linux
// does not record the start routine of other threads.
func (t *linuxThread) StartAddress() (process.Address, error) {
	if t.isClosed() {
		return 0, process.ErrHandleClosed
	}
	if int(t.tid) != int(t.pid) {
		return 0, nil
	}

	auxv, err := os.ReadFile(procPath(pidDir(int(t.pid)), "auxv"))
	if err != nil {
		return 0, err
	}
	return auxvEntry(auxv), nil
}

// Name returns the task comm when it differs from the process comm
func (t *linuxThread) Name() (string, error) {
	if t.isClosed() {
		return "", process.ErrHandleClosed
	}
	if int(t.tid) == int(t.pid) {
		return "", nil
	}

	name, err := readComm(procPath(pidDir(int(t.pid)), "task", pidDir(int(t.tid))))
	if err != nil {
		return "", err
	}
	if leader, err := readComm(procPath(pidDir(int(t.pid)))); err == nil && leader == name {
		return "", nil
	}
	return name, nil
}

func (t *linuxThread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return process.ErrHandleClosed
	}
	t.closed = true
	return nil
}

const atEntry = 9

// auxvEntry returns AT_ENTRY from a 64-bit auxiliary vector
func auxvEntry(auxv []byte) process.Address {
	words := decodeWords(auxv)
	for i := 0; i+1 < len(words); i += 2 {
		if words[i] == 0 {
			break
		}
		if words[i] == atEntry {
			return words[i+1]
		}
	}
	return 0
}

// accessProbe lists the task files that must be readable for each level
var accessProbe = map[process.AccessLevel][]string{
	process.AccessFull:         {"syscall", "stack"},
	process.AccessQuery:        {"syscall"},
	process.AccessQueryLimited: {"comm"},
}

// OpenThread checks that the requested task files can be read
func (b *Backend) OpenThread(pid process.ProcessID, tid process.ThreadID, access process.AccessLevel) (process.ThreadHandle, error) {
	if !procExists(int(pid)) {
		return nil, fmt.Errorf("process with PID %d does not exist: %w", pid, process.ErrProcessNotOpen)
	}

	files, ok := accessProbe[access]
	if !ok {
		return nil, fmt.Errorf("unknown access level %d", access)
	}

	for _, name := range files {
		f, err := os.Open(taskPath(int(pid), int(tid), name))
		if err != nil {
			if errors.Is(err, fs.ErrPermission) {
				return nil, fmt.Errorf("open thread %d as %s: %w", tid, access, process.ErrAccessDenied)
			}
			return nil, fmt.Errorf("open thread %d as %s: %w", tid, access, err)
		}
		f.Close()
	}

	return &linuxThread{pid: pid, tid: tid, access: access}, nil
}

// DescribeProcess reads the executable path and its ELF machine
func (b *Backend) DescribeProcess(pid process.ProcessID) (process.ImageInfo, error) {
	exe := procPath(pidDir(int(pid)), "exe")

	path, err := os.Readlink(exe)
	if err != nil {
		// Kernel threads have no executable
		return process.ImageInfo{}, fmt.Errorf("describe %d: %w", pid, err)
	}

	info := process.ImageInfo{Path: path}

	f, err := elf.Open(exe)
	if err != nil {
		return info, fmt.Errorf("describe %d: %w", pid, err)
	}
	defer f.Close()

	info.Machine = elfMachine(f.Machine)
	if info.Machine != process.MachineUnknown {
		b.machines.Store(pid, info.Machine)
	}
	return info, nil
}

// processMachine returns the cached image architecture of pid, assuming the
// host architecture when the image cannot be read
func (b *Backend) processMachine(pid process.ProcessID) process.Machine {
	if m, ok := b.machines.Load(pid); ok {
		return m.(process.Machine)
	}

	machine := b.hostMachine
	if info, err := b.DescribeProcess(pid); err == nil && info.Machine != process.MachineUnknown {
		machine = info.Machine
	}
	b.machines.Store(pid, machine)
	return machine
}

func elfMachine(m elf.Machine) process.Machine {
	switch m {
	case elf.EM_386:
		return process.MachineI386
	case elf.EM_X86_64:
		return process.MachineAMD64
	case elf.EM_ARM:
		return process.MachineARM
	case elf.EM_AARCH64:
		return process.MachineARM64
	default:
		return process.MachineUnknown
	}
}
