package snapshot

import (
	"fmt"
	"sync"

	"stacksnap/frame"
	"stacksnap/process"
)

// ThreadNode is one thread of a ProcessNode. Its frame list grows while the
// producer walks the stack; readers may observe any prefix of it.
type ThreadNode struct {
	TID          process.ThreadID
	Process      *ProcessNode
	StartAddress process.Address
	Name         string // Thread description, empty when the thread has none

	mu          sync.RWMutex
	handle      process.ThreadHandle
	symbol      string
	startSymbol string
	fileName    string
	frames      []*FrameNode
	complete    bool
	view        ViewState
}

// NewThreadNode creates a thread node. handle may be nil when the thread
// could not be opened.
func NewThreadNode(parent *ProcessNode, tid process.ThreadID, start process.Address, name string, handle process.ThreadHandle) *ThreadNode {
	t := &ThreadNode{
		TID:          tid,
		Process:      parent,
		StartAddress: start,
		Name:         name,
		handle:       handle,
	}
	if name != "" {
		t.symbol = name
	} else {
		t.symbol = start.String()
	}
	return t
}

func (t *ThreadNode) Kind() Kind { return KindThread }
func (t *ThreadNode) Key() Key { return Key{PID: t.Process.PID, TID: t.TID, Frame: NoID} }
func (t *ThreadNode) View() *ViewState { return &t.view }
func (t *ThreadNode) sealed() {}

// Symbol returns the thread name, else the start address symbol, else the
// start address.
func (t *ThreadNode) Symbol() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.symbol
}

// SetStartSymbol records the resolved start address symbol and its module
// file. The display symbol switches to it unless the thread has a name.
func (t *ThreadNode) SetStartSymbol(symbol, fileName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.startSymbol = symbol
	t.fileName = fileName
	if t.Name == "" && symbol != "" {
		t.symbol = symbol
	}
}

// StartSymbol returns the resolved start address symbol
func (t *ThreadNode) StartSymbol() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.startSymbol
}

// FileName returns the module file of the start address
func (t *ThreadNode) FileName() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.fileName
}

// Handle returns the thread handle, nil if never opened or already closed
func (t *ThreadNode) Handle() process.ThreadHandle {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handle
}

// CloseHandle closes and forgets the thread handle
func (t *ThreadNode) CloseHandle() error {
	t.mu.Lock()
	h := t.handle
	t.handle = nil
	t.mu.Unlock()

	if h == nil {
		return nil
	}
	return h.Close()
}

// AppendFrame adds the next frame. It fails with ErrFramesComplete once the
// thread has been marked complete.
func (t *ThreadNode) AppendFrame(raw process.StackFrame, resolved frame.Resolved) (*FrameNode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.complete {
		return nil, fmt.Errorf("append frame to thread %d: %w", t.TID, ErrFramesComplete)
	}

	f := &FrameNode{
		Thread:   t,
		Index:    len(t.frames),
		Raw:      raw,
		Resolved: resolved,
	}
	t.frames = append(t.frames, f)
	return f, nil
}

// MarkComplete marks the frame list final. It returns true only for the
// call that performed the transition.
func (t *ThreadNode) MarkComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.complete {
		return false
	}
	t.complete = true
	return true
}

// FramesComplete reports whether the frame list is final
func (t *ThreadNode) FramesComplete() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.complete
}

// Frames returns a copy of the frames appended so far
func (t *ThreadNode) Frames() []*FrameNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]*FrameNode(nil), t.frames...)
}

// FrameCount returns the number of frames appended so far
func (t *ThreadNode) FrameCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.frames)
}

// LastFrame returns the most recently appended frame, nil if there is none
func (t *ThreadNode) LastFrame() *FrameNode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.frames) == 0 {
		return nil
	}
	return t.frames[len(t.frames)-1]
}

// FrameNode is one resolved stack frame. It is immutable apart from its
// ViewState.
type FrameNode struct {
	Thread   *ThreadNode
	Index    int
	Raw      process.StackFrame
	Resolved frame.Resolved

	view ViewState
}

func (f *FrameNode) Kind() Kind { return KindFrame }
func (f *FrameNode) Key() Key { return Key{PID: f.Thread.Process.PID, TID: f.Thread.TID, Frame: f.Index} }
func (f *FrameNode) Symbol() string { return f.Resolved.Symbol }
func (f *FrameNode) View() *ViewState { return &f.view }
func (f *FrameNode) sealed() {}
