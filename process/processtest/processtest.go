// Package processtest provides a scripted in-memory process.Backend.
package processtest

import (
	"context"
	"fmt"
	"sync"

	"stacksnap/process"
)

// Thread scripts one thread of a Process
type Thread struct {
	TID          process.ThreadID
	StartAddress process.Address
	Name         string
	Frames       []process.StackFrame

	// BestAccess is the highest access level OpenThread grants; requests
	// above it fail with process.ErrAccessDenied.
	BestAccess process.AccessLevel
	// NoAccess makes every OpenThread call fail
	NoAccess bool
	// WalkErr is returned by WalkStack after all frames were delivered
	WalkErr error
}

// Process scripts one process of a Backend
type Process struct {
	PID         process.ProcessID
	PPID        process.ProcessID
	Name        string
	Image       process.ImageInfo
	DescribeErr error
	Threads     []Thread
}

type inlineKey struct {
	pc  process.Address
	ctx process.InlineContext
}

// Backend is a process.Backend answering from scripted data. The exported
// fields must be set before the backend is used.
type Backend struct {
	Processes    []Process
	EnumerateErr error

	// Symbols maps a program counter to its symbol
	Symbols map[process.Address]process.Symbol
	// Inline enables inline context resolution
	Inline bool
	// LoadErr is returned by every SymbolContext.LoadModules
	LoadErr error

	// BeforeFrame, when set, runs before each frame is delivered to the
	// walker callback. Tests use it to block or cancel mid-walk.
	BeforeFrame func(pid process.ProcessID, tid process.ThreadID, index int)
	// BeforeResolve, when set, runs at the start of every ResolveAddress
	BeforeResolve func(addr process.Address)

	mu            sync.Mutex
	inline        map[inlineKey]process.Symbol
	attempts      map[process.ThreadID][]process.AccessLevel
	openHandles   int
	openContexts  int
	loadedModules int
}

var _ process.Backend = (*Backend)(nil)

// AddInlineSymbol registers the symbol returned for pc in inline context ctx
func (b *Backend) AddInlineSymbol(pc process.Address, ctx process.InlineContext, sym process.Symbol) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inline == nil {
		b.inline = make(map[inlineKey]process.Symbol)
	}
	b.inline[inlineKey{pc, ctx}] = sym
}

// OpenHandles returns the number of thread handles not yet closed
func (b *Backend) OpenHandles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openHandles
}

// OpenContexts returns the number of symbol contexts not yet closed
func (b *Backend) OpenContexts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openContexts
}

// LoadedModules returns how many times LoadModules was called
func (b *Backend) LoadedModules() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loadedModules
}

// AccessAttempts returns the access levels requested for tid, in order
func (b *Backend) AccessAttempts(tid process.ThreadID) []process.AccessLevel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]process.AccessLevel(nil), b.attempts[tid]...)
}

func (b *Backend) findProcess(pid process.ProcessID) *Process {
	for i := range b.Processes {
		if b.Processes[i].PID == pid {
			return &b.Processes[i]
		}
	}
	return nil
}

func (b *Backend) findThread(pid process.ProcessID, tid process.ThreadID) *Thread {
	p := b.findProcess(pid)
	if p == nil {
		return nil
	}
	for i := range p.Threads {
		if p.Threads[i].TID == tid {
			return &p.Threads[i]
		}
	}
	return nil
}

// EnumerateProcesses returns the scripted processes
func (b *Backend) EnumerateProcesses(ctx context.Context) ([]process.ProcessInfo, error) {
	if b.EnumerateErr != nil {
		return nil, b.EnumerateErr
	}

	infos := make([]process.ProcessInfo, 0, len(b.Processes))
	for _, p := range b.Processes {
		info := process.ProcessInfo{PID: p.PID, PPID: p.PPID, Name: p.Name}
		for _, t := range p.Threads {
			info.Threads = append(info.Threads, process.ThreadInfo{
				TID:          t.TID,
				StartAddress: t.StartAddress,
				State:        process.ThreadSleeping,
			})
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func (b *Backend) DescribeProcess(pid process.ProcessID) (process.ImageInfo, error) {
	p := b.findProcess(pid)
	if p == nil {
		return process.ImageInfo{}, fmt.Errorf("describe %d: %w", pid, process.ErrProcessNotOpen)
	}
	if p.DescribeErr != nil {
		return process.ImageInfo{}, p.DescribeErr
	}
	return p.Image, nil
}

func (b *Backend) OpenThread(pid process.ProcessID, tid process.ThreadID, access process.AccessLevel) (process.ThreadHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts == nil {
		b.attempts = make(map[process.ThreadID][]process.AccessLevel)
	}
	b.attempts[tid] = append(b.attempts[tid], access)

	t := b.findThread(pid, tid)
	if t == nil {
		return nil, fmt.Errorf("open thread %d: %w", tid, process.ErrProcessNotOpen)
	}
	if t.NoAccess || access < t.BestAccess {
		return nil, fmt.Errorf("open thread %d as %s: %w", tid, access, process.ErrAccessDenied)
	}

	b.openHandles++
	return &handle{backend: b, pid: pid, thread: t, access: access}, nil
}

// WalkStack delivers the scripted frames of the thread
func (b *Backend) WalkStack(ctx context.Context, thread process.ThreadHandle, symbols process.SymbolContext, onFrame func(process.StackFrame) bool) error {
	h, ok := thread.(*handle)
	if !ok {
		return fmt.Errorf("foreign thread handle %T", thread)
	}
	if h.isClosed() {
		return process.ErrHandleClosed
	}
	if h.access == process.AccessQueryLimited {
		return process.ErrNoThreadAccess
	}

	for i, f := range h.thread.Frames {
		if b.BeforeFrame != nil {
			b.BeforeFrame(h.pid, h.thread.TID, i)
		}
		if !onFrame(f) {
			return nil
		}
	}
	return h.thread.WalkErr
}

func (b *Backend) NewSymbolContext(pid process.ProcessID, report func(message string)) process.SymbolContext {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.openContexts++
	name := ""
	if p := b.findProcess(pid); p != nil {
		name = p.Name
	}
	return &symbolContext{backend: b, name: name, report: report}
}

type handle struct {
	backend *Backend
	pid     process.ProcessID
	thread  *Thread
	access  process.AccessLevel
	closed  bool
}

func (h *handle) TID() process.ThreadID { return h.thread.TID }
func (h *handle) Access() process.AccessLevel { return h.access }

func (h *handle) StartAddress() (process.Address, error) {
	if h.isClosed() {
		return 0, process.ErrHandleClosed
	}
	return h.thread.StartAddress, nil
}

func (h *handle) Name() (string, error) {
	if h.isClosed() {
		return "", process.ErrHandleClosed
	}
	return h.thread.Name, nil
}

func (h *handle) isClosed() bool {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()
	return h.closed
}

func (h *handle) Close() error {
	h.backend.mu.Lock()
	defer h.backend.mu.Unlock()

	if h.closed {
		return process.ErrHandleClosed
	}
	h.closed = true
	h.backend.openHandles--
	return nil
}

type symbolContext struct {
	backend *Backend
	name    string
	report  func(string)
	closed  bool
}

func (s *symbolContext) LoadModules(ctx context.Context) error {
	s.backend.mu.Lock()
	s.backend.loadedModules++
	s.backend.mu.Unlock()

	if s.report != nil {
		s.report(fmt.Sprintf("Loading symbols for %s...", s.name))
		s.report("")
	}
	return s.backend.LoadErr
}

func (s *symbolContext) ResolveAddress(addr process.Address) (process.Symbol, error) {
	if s.backend.BeforeResolve != nil {
		s.backend.BeforeResolve(addr)
	}
	if sym, ok := s.backend.Symbols[addr]; ok {
		return sym, nil
	}
	return process.Symbol{}, fmt.Errorf("resolve %s: %w", addr, process.ErrNoSymbol)
}

func (s *symbolContext) ResolveInline(frame process.StackFrame) (process.Symbol, error) {
	s.backend.mu.Lock()
	sym, ok := s.backend.inline[inlineKey{frame.PC, frame.InlineContext}]
	s.backend.mu.Unlock()
	if ok {
		return sym, nil
	}
	return s.ResolveAddress(frame.PC)
}

func (s *symbolContext) InlineSupported() bool {
	return s.backend.Inline
}

func (s *symbolContext) Close() error {
	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	if s.closed {
		return process.ErrHandleClosed
	}
	s.closed = true
	s.backend.openContexts--
	return nil
}
