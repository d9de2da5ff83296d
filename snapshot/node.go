// Package snapshot holds the process, thread and frame tree of one
// snapshot generation.
package snapshot

import (
	"errors"
	"fmt"

	"stacksnap/process"
)

var (
	// ErrFramesComplete is returned when a frame is appended to a completed thread
	ErrFramesComplete = errors.New("thread frames already complete")

	// ErrSealed is returned when a thread is added to a process after enumeration
	ErrSealed = errors.New("process thread list is sealed")
)

// Kind identifies the concrete type of a Node
type Kind int

const (
	KindProcess Kind = iota
	KindThread
	KindFrame
)

func (k Kind) String() string {
	switch k {
	case KindProcess:
		return "process"
	case KindThread:
		return "thread"
	case KindFrame:
		return "frame"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// NoID fills the unused parts of a Key
const NoID = -1

// Key identifies a node within one Store
type Key struct {
	PID   process.ProcessID
	TID   process.ThreadID
	Frame int
}

func (k Key) String() string {
	switch {
	case k.TID == NoID:
		return fmt.Sprintf("%d", k.PID)
	case k.Frame == NoID:
		return fmt.Sprintf("%d/%d", k.PID, k.TID)
	default:
		return fmt.Sprintf("%d/%d/%d", k.PID, k.TID, k.Frame)
	}
}

// Highlight is the highlight class of a frame
type Highlight int

const (
	HighlightNone Highlight = iota
	HighlightSystem
	HighlightUser
	HighlightInline
)

func (h Highlight) String() string {
	switch h {
	case HighlightSystem:
		return "system"
	case HighlightUser:
		return "user"
	case HighlightInline:
		return "inline"
	default:
		return "none"
	}
}

// ViewState is presentation state written only by the consumer
type ViewState struct {
	Visible   bool
	Expanded  bool
	Highlight Highlight
}

// Node is a process, thread or frame. The set of implementations is closed:
// *ProcessNode, *ThreadNode and *FrameNode.
type Node interface {
	Kind() Kind
	Key() Key
	Symbol() string
	View() *ViewState

	sealed()
}

// ProcessNode is the root of one process subtree
type ProcessNode struct {
	PID          process.ProcessID
	Name         string
	ImagePath    string
	Architecture string

	// Symbols is owned by the node until ReleaseSymbols
	Symbols process.SymbolContext

	threads []*ThreadNode
	locked  bool
	view    ViewState
}

// NewProcessNode creates a process node for an enumerated process
func NewProcessNode(info process.ProcessInfo) *ProcessNode {
	name := info.Name
	if info.PID == process.IdleProcessID && name == "" {
		name = process.IdleProcessName
	}
	return &ProcessNode{PID: info.PID, Name: name}
}

func (p *ProcessNode) Kind() Kind { return KindProcess }
func (p *ProcessNode) Key() Key { return Key{PID: p.PID, TID: NoID, Frame: NoID} }
func (p *ProcessNode) Symbol() string { return p.Name }
func (p *ProcessNode) View() *ViewState { return &p.view }
func (p *ProcessNode) sealed() {}

// AddThread appends t to the thread list
func (p *ProcessNode) AddThread(t *ThreadNode) error {
	if p.locked {
		return fmt.Errorf("add thread %d to %d: %w", t.TID, p.PID, ErrSealed)
	}
	p.threads = append(p.threads, t)
	return nil
}

// Seal fixes the thread list
func (p *ProcessNode) Seal() {
	p.locked = true
}

// Threads returns the thread list. Callers must not modify it.
func (p *ProcessNode) Threads() []*ThreadNode {
	return p.threads
}

// HasOpenThread reports whether any thread holds a handle
func (p *ProcessNode) HasOpenThread() bool {
	for _, t := range p.threads {
		if t.Handle() != nil {
			return true
		}
	}
	return false
}

// ReleaseSymbols closes the symbol context, if still held
func (p *ProcessNode) ReleaseSymbols() error {
	if p.Symbols == nil {
		return nil
	}
	err := p.Symbols.Close()
	p.Symbols = nil
	return err
}
