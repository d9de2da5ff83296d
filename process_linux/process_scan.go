//go:build linux

package process_linux

import (
	"context"
	"errors"
	"fmt"
	"os"

	"stacksnap/process"
	"stacksnap/process/memory_map"
)

// readMaps reads and sorts /proc/<pid>/maps
func readMaps(pid process.ProcessID) ([]memory_map.MemoryMapItem, error) {
	file, err := os.Open(procPath(pidDir(int(pid)), "maps"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mm, err := memory_map.ParseMemoryMap(file)
	if err != nil {
		return nil, err
	}
	memory_map.Sort(mm)
	return mm, nil
}

// codeFilter reports whether an address lies in executable module memory
func codeFilter(mm []memory_map.MemoryMapItem) func(process.Address) bool {
	return func(addr process.Address) bool {
		if addr == 0 {
			return false
		}
		region := memory_map.Find(uint64(addr), mm)
		if region == nil || !region.IsExecutable() {
			return false
		}
		return region.IsFileBacked() || region.Path == "[vdso]"
	}
}

// WalkStack reports the kernel stack of the thread, if readable, followed by
// its user stack.
func (b *Backend) WalkStack(ctx context.Context, thread process.ThreadHandle, symbols process.SymbolContext, onFrame func(process.StackFrame) bool) error {
	t, ok := thread.(*linuxThread)
	if !ok {
		return fmt.Errorf("walk stack: foreign thread handle %T", thread)
	}
	if t.isClosed() {
		return process.ErrHandleClosed
	}
	if t.access == process.AccessQueryLimited {
		return process.ErrNoThreadAccess
	}

	if t.access == process.AccessFull {
		more, err := b.walkKernel(ctx, t, onFrame)
		if err != nil {
			b.log.Debugln("Kernel stack of", t.tid, "unavailable:", err)
		}
		if !more {
			return nil
		}
	}

	return b.walkUser(ctx, t, onFrame)
}

// walkKernel reports the frames of the task stack listing. The returned
// bool is false when onFrame asked to stop.
func (b *Backend) walkKernel(ctx context.Context, t *linuxThread, onFrame func(process.StackFrame) bool) (bool, error) {
	file, err := os.Open(taskPath(int(t.pid), int(t.tid), "stack"))
	if err != nil {
		return true, err
	}
	defer file.Close()

	listing, err := parseKernelStack(file)
	if err != nil {
		return true, err
	}

	kernel := b.kernelSymbols()
	for _, kf := range listing {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		pc := kf.Address
		if pc == 0 {
			if base, ok := kernel.Address(kf.Function); ok {
				pc = base + kf.Offset
			}
		}

		frame := process.StackFrame{
			PC:      pc,
			Machine: b.hostMachine,
			Flags:   process.FrameKernel,
			Hint:    kf.Symbol(),
		}
		if !onFrame(frame) {
			return false, nil
		}
	}

	return true, nil
}

// walkUser reports the user frames of a blocked thread. Running threads and
// kernel threads have no user registers to start from and report nothing.
func (b *Backend) walkUser(ctx context.Context, t *linuxThread, onFrame func(process.StackFrame) bool) error {
	line, err := os.ReadFile(taskPath(int(t.pid), int(t.tid), "syscall"))
	if err != nil {
		return fmt.Errorf("read registers of %d: %w", t.tid, err)
	}

	regs, err := parseSyscall(string(bytesTrimNL(line)))
	if errors.Is(err, errThreadRunning) {
		b.log.Debugln("Thread", t.tid, "is running")
		return nil
	}
	if err != nil {
		return err
	}
	if regs.SP == 0 || regs.PC == 0 {
		return nil
	}

	machine := b.processMachine(t.pid)
	top := process.StackFrame{PC: regs.PC, Stack: regs.SP, Machine: machine}

	// Stack words are decoded as 64-bit; 32-bit images report the
	// innermost frame only
	if machine == process.MachineI386 || machine == process.MachineARM {
		onFrame(top)
		return nil
	}

	mm, err := readMaps(t.pid)
	if err != nil {
		onFrame(top)
		return fmt.Errorf("read maps of %d: %w", t.pid, err)
	}

	window, err := b.readStack(t.pid, regs.SP, mm)
	if err != nil {
		onFrame(top)
		return fmt.Errorf("read stack of %d: %w", t.tid, err)
	}

	for _, frame := range unwind(window, top, codeFilter(mm)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !onFrame(frame) {
			return nil
		}
	}
	return nil
}

// readStack copies up to scanWindow words from sp to the end of its region
func (b *Backend) readStack(pid process.ProcessID, sp process.Address, mm []memory_map.MemoryMapItem) (stackWindow, error) {
	region := memory_map.Find(uint64(sp), mm)
	if region == nil {
		return stackWindow{}, fmt.Errorf("stack pointer %s: %w", sp, process.ErrAddressNotMapped)
	}

	count := int((process.Address(region.End()) - sp) / wordSize)
	if count > b.scanWindow {
		count = b.scanWindow
	}

	words, err := readWords(pid, sp, count)
	if err != nil {
		return stackWindow{}, err
	}
	return stackWindow{Base: sp, Words: words}, nil
}

// unwind turns a stack copy into frames, innermost first. A frame pointer
// chain is used when one is found; otherwise every code address on the
// stack becomes a frame without unwind information.
func unwind(w stackWindow, top process.StackFrame, isCode func(process.Address) bool) []process.StackFrame {
	top.Params = w.Params(w.Base - wordSize)
	frames := []process.StackFrame{top}

	if links := findChain(w, isCode, 0); len(links) > 0 {
		frames[0].Frame = links[0].Frame
		frames[0].Return = links[0].Return

		for i, link := range links {
			frame := process.StackFrame{
				PC:      link.Return,
				Stack:   link.Frame + 2*wordSize,
				Params:  w.Params(link.Frame + wordSize),
				Machine: top.Machine,
			}
			if i+1 < len(links) {
				frame.Frame = links[i+1].Frame
				frame.Return = links[i+1].Return
			}
			frames = append(frames, frame)
		}
		return frames
	}

	slots := scanReturnAddresses(w, isCode, 0)
	if len(slots) > 0 {
		frames[0].Return, _ = w.At(slots[0])
	}
	for i, slot := range slots {
		pc, _ := w.At(slot)
		frame := process.StackFrame{
			PC:      pc,
			Stack:   slot + wordSize,
			Params:  w.Params(slot),
			Machine: top.Machine,
			Flags:   process.FrameNoUnwindInfo,
		}
		if i+1 < len(slots) {
			frame.Return, _ = w.At(slots[i+1])
		}
		frames = append(frames, frame)
	}
	return frames
}
