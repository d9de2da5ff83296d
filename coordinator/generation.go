package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"

	"stacksnap/frame"
	"stacksnap/metrics"
	"stacksnap/process"
	"stacksnap/publish"
	"stacksnap/snapshot"
)

// Generation is one run of the collection pipeline
type Generation struct {
	id     uuid.UUID
	coord  *Coordinator
	ch     *publish.Channel
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
	stop   atomic.Bool
	done   chan struct{}
	err    error
	store  *snapshot.Store

	mu       sync.Mutex
	progress Progress
}

// ID returns the generation id carried by every published event
func (g *Generation) ID() uuid.UUID {
	return g.id
}

// Cancel requests the generation to stop. Already published nodes stay
// valid; the walk is truncated at the next check.
func (g *Generation) Cancel() {
	if g.stop.CompareAndSwap(false, true) {
		g.log.Infoln("Stop requested")
	}
	g.cancel()
}

// Stopped reports whether Cancel was called
func (g *Generation) Stopped() bool {
	return g.stop.Load()
}

// Done is closed when the generation has finished
func (g *Generation) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the generation finishes. It returns an error wrapping
// ErrEnumeration when processes could not be listed; cancellation is not
// an error.
func (g *Generation) Wait() error {
	<-g.done
	return g.err
}

// Store returns the producer side tree. It is only safe to use after Done.
func (g *Generation) Store() *snapshot.Store {
	return g.store
}

// Progress returns the current status
func (g *Generation) Progress() Progress {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress
}

func (g *Generation) message(format string, args ...any) {
	if g.Stopped() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress.Message = fmt.Sprintf(format, args...)
	g.progress.Serial++
}

func (g *Generation) symbolMessage(text string) {
	if g.Stopped() {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.progress.SymbolMessage = text
	g.progress.Serial++
}

func (g *Generation) countThread(walked bool) (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if walked {
		g.progress.WalkedThreads++
	} else {
		g.progress.TotalThreads++
	}
	return g.progress.WalkedThreads, g.progress.TotalThreads
}

func (g *Generation) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.progress.WalkedThreads, g.progress.TotalThreads
}

// publish hands n to the consumer. Every node inserted into the producer
// store is published, even after stop, so both sides hold the same tree.
func (g *Generation) publish(n snapshot.Node) {
	g.ch.Publish(publish.Event{Generation: g.id, Node: n})
}

func (g *Generation) restructure() {
	g.ch.Publish(publish.Event{Generation: g.id, Restructure: true})
}

func (g *Generation) run() {
	started := time.Now()
	defer close(g.done)
	defer g.cancel()

	if err := g.phase1(); err != nil {
		g.err = fmt.Errorf("%w: %w", ErrEnumeration, err)
		g.log.Warn("Enumeration failed: ", err)
		g.restructure()
	} else {
		g.phase2()
	}

	g.message("")

	if err := g.store.Close(); err != nil {
		g.log.Debugln("Releasing resources:", err)
	}

	walked, total := g.counts()
	g.log.Infoln("Generation finished in", time.Since(started).Round(time.Millisecond), "-", walked, "of", total, "threads walked")

	if g.coord.metrics {
		outcome := metrics.OutcomeCompleted
		switch {
		case g.err != nil:
			outcome = metrics.OutcomeFailed
		case g.Stopped():
			outcome = metrics.OutcomeStopped
		}
		metrics.ObserveGeneration(outcome, started)
	}
}

// phase1 builds the process and thread skeleton
func (g *Generation) phase1() error {
	backend := g.coord.backend

	g.message("Enumerating processes...")

	infos, err := backend.EnumerateProcesses(g.ctx)
	if err != nil {
		return err
	}

	for _, info := range infos {
		if g.Stopped() {
			break
		}
		g.createProcess(info)
	}

	g.log.Infoln("Enumerated", len(g.store.Roots()), "processes")
	g.restructure()
	return nil
}

func (g *Generation) createProcess(info process.ProcessInfo) {
	backend := g.coord.backend

	p := snapshot.NewProcessNode(info)
	p.Symbols = backend.NewSymbolContext(info.PID, g.symbolMessage)

	if image, err := backend.DescribeProcess(info.PID); err != nil {
		g.log.Debugln("Describe process", info.PID, "failed:", err)
	} else {
		p.ImagePath = image.Path
		p.Architecture = image.Machine.String()
	}

	for _, ti := range info.Threads {
		t := g.createThread(p, ti)
		if err := p.AddThread(t); err != nil {
			g.log.Debugln(err)
			continue
		}
		g.store.Insert(t)
		g.countThread(false)
		g.publish(t)
	}

	p.Seal()
	g.store.Insert(p)
	g.publish(p)
}

func (g *Generation) createThread(p *snapshot.ProcessNode, ti process.ThreadInfo) *snapshot.ThreadNode {
	backend := g.coord.backend

	var handle process.ThreadHandle
	for _, access := range process.ThreadAccessLevels {
		h, err := backend.OpenThread(p.PID, ti.TID, access)
		if err == nil {
			handle = h
			break
		}
		g.log.Debugln("Open thread", ti.TID, "as", access, "failed:", err)
	}

	var (
		start process.Address
		name  string
	)
	if handle != nil {
		if addr, err := handle.StartAddress(); err == nil {
			start = addr
		}
		if n, err := handle.Name(); err == nil {
			name = n
		}
	}
	if start == 0 {
		start = ti.StartAddress
	}

	return snapshot.NewThreadNode(p, ti.TID, start, name, handle)
}

// phase2 walks every thread and resolves its frames
func (g *Generation) phase2() {
	for _, p := range g.store.Roots() {
		if g.Stopped() {
			break
		}

		walked, total := g.counts()
		g.message("Walking stacks... %d%% - %s (%d)", percent(walked, total), p.Name, p.PID)

		if p.Symbols != nil && p.HasOpenThread() {
			if err := p.Symbols.LoadModules(g.ctx); err != nil {
				g.log.Warn("Loading symbols for ", p.Name, " failed: ", err)
			}
		}

		g.walkProcess(p)

		if err := p.ReleaseSymbols(); err != nil {
			g.log.Debugln("Releasing symbols of", p.PID, "failed:", err)
		}
	}
}

func (g *Generation) walkProcess(p *snapshot.ProcessNode) {
	threads := p.Threads()
	for i, t := range threads {
		if g.Stopped() {
			break
		}

		walked, total := g.counts()
		g.message("Walking stacks... %d%% - %s (%d) %d%%", percent(walked, total), p.Name, p.PID, percent(i+1, len(threads)))

		if p.Symbols != nil && t.StartAddress != 0 {
			if sym, err := p.Symbols.ResolveAddress(t.StartAddress); err == nil {
				t.SetStartSymbol(sym.Name, sym.FileName)
			}
		}

		g.walkThread(p, t)

		if err := t.CloseHandle(); err != nil {
			g.log.Debugln("Closing thread", t.TID, "failed:", err)
		}
		if t.MarkComplete() {
			g.countThread(true)
			if g.coord.metrics {
				metrics.ThreadsWalked.Inc()
			}
		}
		g.restructure()
	}
}

func (g *Generation) walkThread(p *snapshot.ProcessNode, t *snapshot.ThreadNode) {
	handle := t.Handle()
	if handle == nil {
		return
	}

	resolver := frame.Resolver{Symbols: p.Symbols, UserModeLimit: g.coord.userModeLimit}
	maxFrames := g.coord.maxFrames

	var prev *process.StackFrame
	err := g.coord.backend.WalkStack(g.ctx, handle, p.Symbols, func(raw process.StackFrame) bool {
		if g.Stopped() {
			return false
		}

		display := resolver.Resolve(raw, prev)
		// Resolving may block; a frame resolved after stop is dropped
		// before it joins the thread.
		if g.Stopped() {
			return false
		}

		f, err := t.AppendFrame(raw, display)
		if err != nil {
			g.log.Debugln(err)
			return false
		}
		prev = &f.Raw

		g.store.Insert(f)
		g.publish(f)
		if g.coord.metrics {
			metrics.FramesPublished.Inc()
		}

		return maxFrames == 0 || f.Index+1 < maxFrames
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		g.log.Debugln("Walking thread", t.TID, "of", p.PID, "failed:", err)
		if g.coord.metrics {
			metrics.WalkFailures.Inc()
		}
	}
}
