//go:build linux

package process_linux

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"stacksnap/process"
)

const kernelModuleName = "vmlinux"

type kernelSymbol struct {
	Address process.Address
	Name    string
	Module  string
}

// kernelSymbols is the text symbol table of /proc/kallsyms
type kernelSymbols struct {
	byAddr []kernelSymbol
	byName map[string]process.Address
}

func loadKallsyms() (*kernelSymbols, error) {
	file, err := os.Open(procPath("kallsyms"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseKallsyms(file)
}

// parseKallsyms reads lines of the form
//
//	ffffffff81000000 T _stext
//	ffffffffc0a01000 t nfs_wait_bit_killable	[nfs]
//
// keeping text symbols only. Without privilege every address reads as zero;
// such symbols are dropped.
func parseKallsyms(r io.Reader) (*kernelSymbols, error) {
	k := &kernelSymbols{byName: make(map[string]process.Address)}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		if t := fields[1]; t != "t" && t != "T" {
			continue
		}

		addr, err := strconv.ParseUint(fields[0], 16, 64)
		if err != nil || addr == 0 {
			continue
		}

		sym := kernelSymbol{Address: process.Address(addr), Name: fields[2]}
		if len(fields) > 3 {
			sym.Module = strings.Trim(fields[3], "[]")
		}
		k.byAddr = append(k.byAddr, sym)
		if _, ok := k.byName[sym.Name]; !ok {
			k.byName[sym.Name] = sym.Address
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	sort.Slice(k.byAddr, func(i, j int) bool {
		return k.byAddr[i].Address < k.byAddr[j].Address
	})

	return k, nil
}

// Len returns the number of usable symbols
func (k *kernelSymbols) Len() int {
	if k == nil {
		return 0
	}
	return len(k.byAddr)
}

// Address returns the address of the named function
func (k *kernelSymbols) Address(name string) (process.Address, bool) {
	if k == nil {
		return 0, false
	}
	addr, ok := k.byName[name]
	return addr, ok
}

// Lookup resolves addr to the closest preceding symbol
func (k *kernelSymbols) Lookup(addr process.Address) (process.Symbol, error) {
	if k.Len() == 0 {
		return process.Symbol{}, fmt.Errorf("kernel %s: %w", addr, process.ErrNoSymbol)
	}

	i := sort.Search(len(k.byAddr), func(i int) bool {
		return k.byAddr[i].Address > addr
	})
	if i == 0 {
		return process.Symbol{}, fmt.Errorf("kernel %s: %w", addr, process.ErrNoSymbol)
	}

	sym := k.byAddr[i-1]
	module := sym.Module
	if module == "" {
		module = kernelModuleName
	}

	return process.Symbol{
		Name:        fmt.Sprintf("%s!%s+0x%x", module, sym.Name, uint64(addr-sym.Address)),
		FileName:    module,
		BaseAddress: sym.Address,
	}, nil
}
