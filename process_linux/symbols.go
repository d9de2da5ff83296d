//go:build linux

package process_linux

import (
	"context"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"stacksnap/process"
	"stacksnap/process/memory_map"
)

// elfFunction is a sized function symbol in file address space
type elfFunction struct {
	Name  string
	Value uint64
	Size  uint64
}

// lineEntry maps the start of an instruction range to a source line
type lineEntry struct {
	Address uint64
	File    string
	Line    int
	End     bool
}

// elfModule is one mapped image with its symbol and line tables
type elfModule struct {
	path      string
	file      *elf.File
	bias      uint64 // first PT_LOAD vaddr minus its file offset
	functions []elfFunction

	linesOnce sync.Once
	lines     []lineEntry
}

func openModule(pid process.ProcessID, path string) (*elfModule, error) {
	// Through the process root so images inside other mount namespaces resolve
	f, err := elf.Open(procPath(pidDir(int(pid)), "root", path))
	if err != nil {
		if f, err = elf.Open(path); err != nil {
			return nil, err
		}
	}

	m := &elfModule{path: path, file: f}
	for _, prog := range f.Progs {
		if prog.Type == elf.PT_LOAD {
			m.bias = prog.Vaddr - prog.Off
			break
		}
	}

	m.functions = append(m.functions, elfFunctions(f.Symbols)...)
	m.functions = append(m.functions, elfFunctions(f.DynamicSymbols)...)
	sort.Slice(m.functions, func(i, j int) bool {
		return m.functions[i].Value < m.functions[j].Value
	})

	return m, nil
}

func elfFunctions(read func() ([]elf.Symbol, error)) []elfFunction {
	symbols, err := read()
	if err != nil {
		return nil
	}

	var functions []elfFunction
	for _, s := range symbols {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
			continue
		}
		functions = append(functions, elfFunction{Name: s.Name, Value: s.Value, Size: s.Size})
	}
	return functions
}

// function returns the function containing the file address
func (m *elfModule) function(addr uint64) (elfFunction, bool) {
	i := sort.Search(len(m.functions), func(i int) bool {
		return m.functions[i].Value > addr
	})
	if i == 0 {
		return elfFunction{}, false
	}

	fn := m.functions[i-1]
	if fn.Size != 0 && addr >= fn.Value+fn.Size {
		return elfFunction{}, false
	}
	return fn, true
}

// line returns the source position of the file address. The DWARF line
// table is read on first use.
func (m *elfModule) line(addr uint64) (string, int, bool) {
	m.linesOnce.Do(func() {
		m.lines = readLines(m.file)
	})

	i := sort.Search(len(m.lines), func(i int) bool {
		return m.lines[i].Address > addr
	})
	if i == 0 {
		return "", 0, false
	}

	entry := m.lines[i-1]
	if entry.End || entry.Line == 0 {
		return "", 0, false
	}
	return entry.File, entry.Line, true
}

func readLines(f *elf.File) []lineEntry {
	data, err := f.DWARF()
	if err != nil {
		return nil
	}

	var lines []lineEntry
	reader := data.Reader()
	for {
		cu, err := reader.Next()
		if err != nil || cu == nil {
			break
		}
		if cu.Tag != dwarf.TagCompileUnit {
			reader.SkipChildren()
			continue
		}

		lr, err := data.LineReader(cu)
		if err == nil && lr != nil {
			var entry dwarf.LineEntry
			for {
				// io.EOF ends the table; a corrupt table keeps what was read
				if err := lr.Next(&entry); err != nil {
					break
				}
				le := lineEntry{Address: entry.Address, Line: entry.Line, End: entry.EndSequence}
				if entry.File != nil {
					le.File = entry.File.Name
				}
				lines = append(lines, le)
			}
		}
		reader.SkipChildren()
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].Address < lines[j].Address
	})
	return lines
}

// symbolContext resolves addresses of one process from its mapped ELF images
type symbolContext struct {
	backend *Backend
	pid     process.ProcessID
	report  func(string)

	mu      sync.Mutex
	maps    []memory_map.MemoryMapItem
	modules map[string]*elfModule
	failed  map[string]bool
}

// NewSymbolContext creates a symbol context for pid
func (b *Backend) NewSymbolContext(pid process.ProcessID, report func(message string)) process.SymbolContext {
	if report == nil {
		report = func(string) {}
	}
	return &symbolContext{
		backend: b,
		pid:     pid,
		report:  report,
		modules: make(map[string]*elfModule),
		failed:  make(map[string]bool),
	}
}

// LoadModules opens every executable image mapped into the process
func (s *symbolContext) LoadModules(ctx context.Context) error {
	defer s.report("")

	mm, err := readMaps(s.pid)
	if err != nil {
		return fmt.Errorf("load modules of %d: %w", s.pid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.maps = mm

	for _, region := range mm {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !region.IsExecutable() || !region.IsFileBacked() || strings.HasPrefix(region.Path, "[") {
			continue
		}
		if _, ok := s.modules[region.Path]; ok || s.failed[region.Path] {
			continue
		}

		s.report(fmt.Sprintf("Loading symbols for %s...", filepath.Base(region.Path)))

		m, err := openModule(s.pid, region.Path)
		if err != nil {
			s.backend.log.Debugln("Open module", region.Path, "failed:", err)
			s.failed[region.Path] = true
			continue
		}
		s.modules[region.Path] = m
	}

	return nil
}

// ResolveAddress resolves kernel addresses through kallsyms and user
// addresses through the module mapped at addr
func (s *symbolContext) ResolveAddress(addr process.Address) (process.Symbol, error) {
	if process.IsKernelAddress(addr, s.backend.userModeLimit) {
		return s.backend.kernelSymbols().Lookup(addr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	region := memory_map.Find(uint64(addr), s.maps)
	if region == nil {
		return process.Symbol{}, fmt.Errorf("%s: %w", addr, process.ErrNoSymbol)
	}

	m, ok := s.modules[region.Path]
	if !ok {
		return process.Symbol{}, fmt.Errorf("%s in %s: %w", addr, region.Path, process.ErrNoSymbol)
	}

	base := memory_map.ModuleBase(region, s.maps)
	fileAddr := uint64(addr) - base + m.bias
	name := filepath.Base(m.path)

	sym := process.Symbol{
		Name:        fmt.Sprintf("%s+0x%x", name, uint64(addr)-base),
		FileName:    m.path,
		BaseAddress: process.Address(base),
	}
	if fn, ok := m.function(fileAddr); ok {
		sym.Name = fmt.Sprintf("%s!%s+0x%x", name, fn.Name, fileAddr-fn.Value)
	}
	if file, line, ok := m.line(fileAddr); ok {
		sym.LineFile = file
		sym.Line = uint32(line)
	}

	return sym, nil
}

// ResolveInline resolves the frame PC; inline contexts are not produced on Linux
func (s *symbolContext) ResolveInline(frame process.StackFrame) (process.Symbol, error) {
	return s.ResolveAddress(frame.PC)
}

func (s *symbolContext) InlineSupported() bool {
	return false
}

// Close closes every opened image
func (s *symbolContext) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for path, m := range s.modules {
		if err := m.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", path, err))
		}
	}
	s.modules = make(map[string]*elfModule)
	s.maps = nil

	return errors.Join(errs...)
}
