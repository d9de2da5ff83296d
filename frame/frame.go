// Package frame turns raw unwinder frames into display records.
package frame

import (
	"fmt"

	"stacksnap/process"
)

const (
	NoUnwindInfoSuffix = " (No unwind info)"
	InlineSuffix       = " (Inline Function)"
)

// Resolved is the resolver output for one frame
type Resolved struct {
	Symbol   string // Symbol text including diagnostic suffixes
	FileName string // Module file name
	LineText string // "<file> @ <line>" or empty

	Distance    process.Address // Stack distance to the previous frame
	HasDistance bool

	Architecture string // "x86", "x64", "ARM", "ARM64", "ARM64EC", "CHPE" or empty
	Inline       bool   // Frame is an inlined call site shown with zeroed addresses
	HasParams    bool   // Params are meaningful (user mode frame)

	// Display is the record shown to the user. For inline frames its
	// addresses are zero; the raw record is kept unchanged by the caller.
	Display process.StackFrame
}

// IsSystem reports whether the displayed program counter is above limit.
// Frames taken from a kernel stack listing count as system frames even
// when the kernel hides their addresses.
func (r Resolved) IsSystem(limit process.Address) bool {
	if r.Display.Flags.Has(process.FrameKernel) {
		return true
	}
	return process.IsKernelAddress(r.Display.PC, process.UserModeLimitOrDefault(limit))
}

// IsUser reports whether the frame is not a system frame
func (r Resolved) IsUser(limit process.Address) bool {
	return !r.IsSystem(limit)
}

// IsInline reports whether the frame is shown as an inline call site. A raw
// inline context is ignored when the symbol provider cannot resolve it.
func (r Resolved) IsInline() bool {
	return r.Inline
}

// Resolver resolves frames of one process
type Resolver struct {
	Symbols       process.SymbolContext // May be nil
	UserModeLimit process.Address       // Zero means process.DefaultUserModeLimit
}

func (r Resolver) inlineSupported() bool {
	return r.Symbols != nil && r.Symbols.InlineSupported()
}

func (r Resolver) lookup(raw process.StackFrame) (process.Symbol, bool) {
	if r.Symbols == nil {
		return process.Symbol{}, false
	}

	var (
		sym process.Symbol
		err error
	)
	if r.inlineSupported() {
		sym, err = r.Symbols.ResolveInline(raw)
	} else {
		sym, err = r.Symbols.ResolveAddress(raw.PC)
	}
	if err != nil {
		return process.Symbol{}, false
	}
	return sym, true
}

// Resolve builds the display record of raw. prev is the raw record of the
// frame before it in the same thread, nil for frame zero.
func (r Resolver) Resolve(raw process.StackFrame, prev *process.StackFrame) Resolved {
	res := Resolved{
		Architecture: raw.Machine.String(),
		Display:      raw,
	}

	if sym, ok := r.lookup(raw); ok {
		res.Symbol = sym.Name
		res.FileName = sym.FileName
		if sym.HasLine() {
			res.LineText = fmt.Sprintf("%s @ %d", sym.LineFile, sym.Line)
		}
	}
	if res.Symbol == "" && raw.Hint != "" {
		res.Symbol = raw.Hint
	}

	if res.Symbol != "" && raw.Machine.NeedsUnwindInfo() && raw.Flags.Has(process.FrameNoUnwindInfo) {
		res.Symbol += NoUnwindInfoSuffix
	}

	if r.inlineSupported() && raw.IsInline() {
		if res.Symbol != "" {
			res.Symbol += InlineSuffix
		}
		res.Inline = true
		res.Display.PC = 0
		res.Display.Return = 0
		res.Display.Frame = 0
		res.Display.Stack = 0
		res.Display.Params = [4]process.Address{}
	}

	if prev != nil && raw.Stack != 0 && prev.Stack != 0 {
		res.Distance = raw.Stack - prev.Stack
		res.HasDistance = true
	}

	res.HasParams = !raw.Flags.Has(process.FrameKernel) && raw.PC <= process.UserModeLimitOrDefault(r.UserModeLimit)

	return res
}
