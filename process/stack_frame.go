package process

// FrameFlags carries unwinder diagnostics for a single frame
type FrameFlags uint32

const (
	// FrameNoUnwindInfo marks a frame recovered without unwind metadata
	FrameNoUnwindInfo FrameFlags = 1 << iota
	// FrameInline marks a synthetic frame for a call the compiler inlined
	FrameInline
	// FrameKernel marks a frame taken from the kernel stack
	FrameKernel
)

// Has reports whether all bits of flag are set
func (f FrameFlags) Has(flag FrameFlags) bool {
	return f&flag == flag
}

// InlineContext is the debug-info inline context of a frame, zero when the
// frame is a physical one.
type InlineContext uint32

// InlineContextTypeInline is the type bit that marks an inline context
const InlineContextTypeInline InlineContext = 0x80000000

// IsInline reports whether the context denotes an inlined call site
func (c InlineContext) IsInline() bool {
	return c&InlineContextTypeInline != 0
}

// StackFrame is one raw frame as produced by a StackWalker
type StackFrame struct {
	PC            Address    // Program counter (control address)
	Return        Address    // Return address
	Frame         Address    // Frame pointer
	Stack         Address    // Stack pointer
	Params        [4]Address // First four call-site words
	Machine       Machine
	Flags         FrameFlags
	InlineContext InlineContext
	// Hint is a symbol the unwinder already knows (e.g. from a kernel stack
	// listing); used when the symbol provider cannot resolve PC.
	Hint string
}

// IsInline reports whether the unwinder produced this frame for an inlined call
func (f StackFrame) IsInline() bool {
	return f.Flags.Has(FrameInline) || f.InlineContext.IsInline()
}
