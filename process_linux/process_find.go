//go:build linux

package process_linux

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"stacksnap/process"
)

// EnumerateProcesses lists every process in /proc with its tasks
func (b *Backend) EnumerateProcesses(ctx context.Context) ([]process.ProcessInfo, error) {
	// List all directories in /proc that are numbers (PIDs)
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", procRoot, err)
	}

	var results []process.ProcessInfo

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Check if the entry is a directory and its name is a number (PID)
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			// Not a PID directory
			continue
		}

		info, err := getProcessInfo(process.ProcessID(pid))
		if err != nil {
			// Process may have terminated while we were reading
			b.log.Debugln("Skipping process", pid, err)
			continue
		}

		results = append(results, *info)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].PID < results[j].PID
	})

	return results, nil
}

// Helper function to get process information
func getProcessInfo(pid process.ProcessID) (*process.ProcessInfo, error) {
	dir := procPath(pidDir(int(pid)))

	name, err := readComm(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read process name: %w", err)
	}

	info := &process.ProcessInfo{PID: pid, Name: name}

	// Get the parent from /proc/<pid>/status
	statusBytes, err := os.ReadFile(dir + "/status")
	if err == nil {
		status := parseStatus(string(statusBytes))
		info.PPID = status.ppid
		if status.name != "" {
			info.Name = status.name
		}
	}

	threads, err := readTasks(int(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	info.Threads = threads

	return info, nil
}

type procStatus struct {
	name  string
	ppid  process.ProcessID
	state process.ThreadState
}

// parseStatus extracts the fields of /proc/<pid>/status the backend needs
func parseStatus(status string) procStatus {
	var st procStatus

	for _, line := range strings.Split(status, "\n") {
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "Name":
			st.name = value
		case "PPid":
			if ppidVal, err := strconv.Atoi(value); err == nil {
				st.ppid = process.ProcessID(ppidVal)
			}
		case "State":
			if len(value) > 0 {
				st.state = process.ThreadState(value[0:1]) // First character is the state code
			}
		}
	}

	return st
}

// readTasks lists the threads of pid in ascending TID order
func readTasks(pid int) ([]process.ThreadInfo, error) {
	entries, err := os.ReadDir(procPath(pidDir(pid), "task"))
	if err != nil {
		return nil, err
	}

	var threads []process.ThreadInfo
	for _, entry := range entries {
		tid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		thread := process.ThreadInfo{TID: process.ThreadID(tid)}
		if stat, err := os.ReadFile(taskPath(pid, tid, "stat")); err == nil {
			thread.State = parseStatState(string(stat))
		}
		threads = append(threads, thread)
	}

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].TID < threads[j].TID
	})

	return threads, nil
}

// parseStatState returns the state field of a stat line. The comm field may
// contain spaces and parentheses, so parsing starts after the last ')'.
func parseStatState(stat string) process.ThreadState {
	i := strings.LastIndexByte(stat, ')')
	if i < 0 {
		return ""
	}
	fields := strings.Fields(stat[i+1:])
	if len(fields) == 0 {
		return ""
	}
	return process.ThreadState(fields[0])
}
