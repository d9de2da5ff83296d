package process

import (
	"context"
)

// AccessLevel is a set of rights requested when opening a thread.
// Lower values ask for more.
type AccessLevel int

const (
	// AccessFull allows reading registers and both stacks
	AccessFull AccessLevel = iota
	// AccessQuery allows reading registers but not suspending the thread
	AccessQuery
	// AccessQueryLimited allows reading identity information only
	AccessQueryLimited
)

// ThreadAccessLevels lists the access levels tried, in order, when opening a thread
var ThreadAccessLevels = []AccessLevel{AccessFull, AccessQuery, AccessQueryLimited}

func (a AccessLevel) String() string {
	switch a {
	case AccessFull:
		return "full"
	case AccessQuery:
		return "query"
	case AccessQueryLimited:
		return "query-limited"
	default:
		return "unknown"
	}
}

// ThreadHandle is an opened thread
type ThreadHandle interface {
	// TID returns the thread ID
	TID() ThreadID

	// Access returns the access level the handle was opened with
	Access() AccessLevel

	// StartAddress returns the thread start address, zero if unknown
	StartAddress() (Address, error)

	// Name returns the thread description, empty if it has none
	Name() (string, error)

	// Close releases the handle
	Close() error
}

// Enumerator lists every process and thread on the machine
type Enumerator interface {
	// EnumerateProcesses returns all processes with their threads
	EnumerateProcesses(ctx context.Context) ([]ProcessInfo, error)
}

// Describer reads image information of a process
type Describer interface {
	// DescribeProcess returns the image path and architecture of pid
	DescribeProcess(pid ProcessID) (ImageInfo, error)
}

// ThreadOpener opens threads for stack walking
type ThreadOpener interface {
	// OpenThread opens tid of pid with the requested access level
	OpenThread(pid ProcessID, tid ThreadID, access AccessLevel) (ThreadHandle, error)
}

// StackWalker unwinds the stack of one thread
type StackWalker interface {
	// WalkStack calls onFrame synchronously for every unwound frame, innermost
	// first. Returning false from onFrame stops the walk early.
	WalkStack(ctx context.Context, thread ThreadHandle, symbols SymbolContext, onFrame func(StackFrame) bool) error
}

// Symbol is the result of resolving an address
type Symbol struct {
	Name        string  // Display name, usually "module!function+0xoffset"
	FileName    string  // Module file the address belongs to
	LineFile    string  // Source file, empty without line information
	Line        uint32  // Source line, zero without line information
	BaseAddress Address // Base address of the module
}

// HasLine reports whether source line information is present
func (s Symbol) HasLine() bool {
	return s.LineFile != "" && s.Line != 0
}

// SymbolContext resolves addresses of one process
type SymbolContext interface {
	// LoadModules loads symbol modules of the process
	LoadModules(ctx context.Context) error

	// ResolveAddress resolves a plain address
	ResolveAddress(addr Address) (Symbol, error)

	// ResolveInline resolves a frame using its inline context
	ResolveInline(frame StackFrame) (Symbol, error)

	// InlineSupported reports whether inline contexts can be resolved
	InlineSupported() bool

	// Close releases the context
	Close() error
}

// SymbolProvider creates per-process symbol contexts
type SymbolProvider interface {
	// NewSymbolContext creates a context for pid. report receives progress
	// messages while modules load; it may be nil.
	NewSymbolContext(pid ProcessID, report func(message string)) SymbolContext
}

// Backend is everything the snapshot engine needs from the operating system
type Backend interface {
	Enumerator
	Describer
	ThreadOpener
	StackWalker
	SymbolProvider
}
