package frame

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"stacksnap/process"
	"stacksnap/process/processtest"
)

func newSymbols(inline bool) process.SymbolContext {
	b := &processtest.Backend{
		Inline: inline,
		Symbols: map[process.Address]process.Symbol{
			0x1000: {Name: "app!main+0x10", FileName: "/bin/app", LineFile: "main.c", Line: 12},
			0x2000: {Name: "app!helper", FileName: "/bin/app"},
		},
	}
	b.AddInlineSymbol(0x1000, process.InlineContextTypeInline|1, process.Symbol{Name: "app!inlined", FileName: "/bin/app"})
	return b.NewSymbolContext(1, nil)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name   string
		inline bool
		raw    process.StackFrame
		prev   *process.StackFrame
		want   Resolved
	}{
		{
			name: "line info",
			raw:  process.StackFrame{PC: 0x1000, Stack: 0x500, Machine: process.MachineAMD64},
			want: Resolved{
				Symbol:       "app!main+0x10",
				FileName:     "/bin/app",
				LineText:     "main.c @ 12",
				Architecture: "x64",
				HasParams:    true,
				Display:      process.StackFrame{PC: 0x1000, Stack: 0x500, Machine: process.MachineAMD64},
			},
		},
		{
			name: "unresolved keeps empty fields",
			raw:  process.StackFrame{PC: 0x3000, Machine: process.MachineARM64},
			want: Resolved{
				Architecture: "ARM64",
				HasParams:    true,
				Display:      process.StackFrame{PC: 0x3000, Machine: process.MachineARM64},
			},
		},
		{
			name: "hint used when lookup fails",
			raw:  process.StackFrame{PC: 0xFFFF800000001000, Hint: "vmlinux!schedule+0x4", Flags: process.FrameKernel},
			want: Resolved{
				Symbol:  "vmlinux!schedule+0x4",
				Display: process.StackFrame{PC: 0xFFFF800000001000, Hint: "vmlinux!schedule+0x4", Flags: process.FrameKernel},
			},
		},
		{
			name: "no unwind info on x86",
			raw:  process.StackFrame{PC: 0x2000, Machine: process.MachineI386, Flags: process.FrameNoUnwindInfo},
			want: Resolved{
				Symbol:       "app!helper" + NoUnwindInfoSuffix,
				FileName:     "/bin/app",
				Architecture: "x86",
				HasParams:    true,
				Display:      process.StackFrame{PC: 0x2000, Machine: process.MachineI386, Flags: process.FrameNoUnwindInfo},
			},
		},
		{
			name: "no unwind info ignored on ARM64",
			raw:  process.StackFrame{PC: 0x2000, Machine: process.MachineARM64, Flags: process.FrameNoUnwindInfo},
			want: Resolved{
				Symbol:       "app!helper",
				FileName:     "/bin/app",
				Architecture: "ARM64",
				HasParams:    true,
				Display:      process.StackFrame{PC: 0x2000, Machine: process.MachineARM64, Flags: process.FrameNoUnwindInfo},
			},
		},
		{
			name:   "inline frame zeroes display",
			inline: true,
			raw: process.StackFrame{
				PC: 0x1000, Return: 0x2000, Frame: 0x600, Stack: 0x580,
				Params:        [4]process.Address{1, 2, 3, 4},
				Machine:       process.MachineAMD64,
				InlineContext: process.InlineContextTypeInline | 1,
			},
			prev: &process.StackFrame{Stack: 0x500},
			want: Resolved{
				Symbol:       "app!inlined" + InlineSuffix,
				FileName:     "/bin/app",
				Architecture: "x64",
				Inline:       true,
				HasParams:    true,
				Distance:     0x80,
				HasDistance:  true,
				Display: process.StackFrame{
					Machine:       process.MachineAMD64,
					InlineContext: process.InlineContextTypeInline | 1,
				},
			},
		},
		{
			name: "inline context without provider support",
			raw: process.StackFrame{
				PC: 0x2000, Stack: 0x580, Machine: process.MachineAMD64,
				InlineContext: process.InlineContextTypeInline | 1,
			},
			want: Resolved{
				Symbol:       "app!helper",
				FileName:     "/bin/app",
				Architecture: "x64",
				HasParams:    true,
				Display: process.StackFrame{
					PC: 0x2000, Stack: 0x580, Machine: process.MachineAMD64,
					InlineContext: process.InlineContextTypeInline | 1,
				},
			},
		},
		{
			name: "distance needs both stack addresses",
			raw:  process.StackFrame{PC: 0x3000, Stack: 0x700},
			prev: &process.StackFrame{Stack: 0},
			want: Resolved{
				HasParams: true,
				Display:   process.StackFrame{PC: 0x3000, Stack: 0x700},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resolver{Symbols: newSymbols(tt.inline)}
			got := r.Resolve(tt.raw, tt.prev)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Resolve mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveLeavesRawUntouched(t *testing.T) {
	raw := process.StackFrame{
		PC: 0x1000, Stack: 0x580, Params: [4]process.Address{9, 9, 9, 9},
		InlineContext: process.InlineContextTypeInline | 1,
	}
	before := raw

	Resolver{Symbols: newSymbols(true)}.Resolve(raw, nil)

	if diff := cmp.Diff(before, raw); diff != "" {
		t.Errorf("raw frame changed (-before +after):\n%s", diff)
	}
}

func TestResolveNilSymbols(t *testing.T) {
	got := Resolver{}.Resolve(process.StackFrame{PC: 0x1000, Machine: process.MachineARM}, nil)
	if got.Symbol != "" || got.FileName != "" || got.LineText != "" {
		t.Errorf("expected empty symbol fields, got %+v", got)
	}
	if got.Architecture != "ARM" {
		t.Errorf("Architecture = %q, want ARM", got.Architecture)
	}
}

func TestParamsOnlyForUserFrames(t *testing.T) {
	r := Resolver{UserModeLimit: 0x7FFF}

	if !r.Resolve(process.StackFrame{PC: 0x7FFF}, nil).HasParams {
		t.Error("frame at the user mode limit must expose params")
	}
	if r.Resolve(process.StackFrame{PC: 0x8000}, nil).HasParams {
		t.Error("kernel frame must not expose params")
	}
}

func TestClassification(t *testing.T) {
	const limit = process.Address(0x7FFF)
	r := Resolver{UserModeLimit: limit}

	kernel := r.Resolve(process.StackFrame{PC: 0x8000}, nil)
	if !kernel.IsSystem(limit) || kernel.IsUser(limit) {
		t.Error("frame above the limit should be a system frame")
	}

	user := r.Resolve(process.StackFrame{PC: 0x10}, nil)
	if user.IsSystem(limit) || !user.IsUser(limit) {
		t.Error("frame below the limit should be a user frame")
	}

	hidden := r.Resolve(process.StackFrame{Flags: process.FrameKernel, Hint: "vmlinux!schedule+0x4"}, nil)
	if !hidden.IsSystem(limit) || hidden.HasParams {
		t.Error("kernel listing frame with a hidden address should be a system frame without params")
	}

	unsupported := r.Resolve(process.StackFrame{PC: 0x10, Flags: process.FrameInline}, nil)
	if unsupported.IsInline() {
		t.Error("frame flagged inline classified as inline without inline support")
	}

	r.Symbols = newSymbols(true)
	inline := r.Resolve(process.StackFrame{PC: 0x10, Flags: process.FrameInline}, nil)
	if !inline.IsInline() {
		t.Error("frame flagged inline should classify as inline")
	}
}
