package process

// ProcessID represents a unique identifier for a process
type ProcessID int

// ThreadID represents a unique identifier for a thread
type ThreadID int

// IdleProcessID is the pseudo process some platforms report for idle CPU time
const IdleProcessID ProcessID = 0

// IdleProcessName is the display name used for IdleProcessID
const IdleProcessName = "System Idle Process"

// ThreadInfo contains what enumeration knows about a thread without opening it
type ThreadInfo struct {
	TID          ThreadID    // Thread ID
	StartAddress Address     // Start address reported by enumeration, zero if unknown
	State        ThreadState // Scheduler state (R, S, D, Z, etc.)
}

// ProcessInfo contains basic information about a process and its threads
type ProcessInfo struct {
	PID     ProcessID    // Process ID
	PPID    ProcessID    // Parent Process ID
	Name    string       // Image name
	Threads []ThreadInfo // Threads in enumeration order
}

// ImageInfo describes the main image of an opened process
type ImageInfo struct {
	Path    string  // Path to the executable
	Machine Machine // Architecture of the process
}
