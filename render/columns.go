// Package render prints a snapshot tree as text.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"stacksnap/process"
	"stacksnap/snapshot"
)

// Column is one cell of a snapshot row
type Column int

const (
	ColumnSymbol Column = iota
	ColumnPID
	ColumnTID
	ColumnFrame
	ColumnStackAddress
	ColumnFrameAddress
	ColumnParam1
	ColumnParam2
	ColumnParam3
	ColumnParam4
	ColumnControlAddress
	ColumnReturnAddress
	ColumnFileName
	ColumnLineText
	ColumnArchitecture
	ColumnFrameDistance
	ColumnStartAddress
	ColumnStartSymbol
	ColumnProcessName
	ColumnThreadName
	columnCount
)

var columnInfo = [columnCount]struct {
	key    string
	header string
}{
	ColumnSymbol:         {"symbol", "Symbol"},
	ColumnPID:            {"pid", "PID"},
	ColumnTID:            {"tid", "TID"},
	ColumnFrame:          {"frame", "Frame"},
	ColumnStackAddress:   {"stack", "Stack address"},
	ColumnFrameAddress:   {"frameaddr", "Frame address"},
	ColumnParam1:         {"param1", "Stack parameter #1"},
	ColumnParam2:         {"param2", "Stack parameter #2"},
	ColumnParam3:         {"param3", "Stack parameter #3"},
	ColumnParam4:         {"param4", "Stack parameter #4"},
	ColumnControlAddress: {"pc", "Control address"},
	ColumnReturnAddress:  {"return", "Return address"},
	ColumnFileName:       {"file", "File name"},
	ColumnLineText:       {"line", "Line number"},
	ColumnArchitecture:   {"arch", "Architecture"},
	ColumnFrameDistance:  {"distance", "Frame distance"},
	ColumnStartAddress:   {"start", "Start address"},
	ColumnStartSymbol:    {"startsym", "Start address (symbolic)"},
	ColumnProcessName:    {"process", "Process name"},
	ColumnThreadName:     {"thread", "Thread name"},
}

// DefaultColumns are the columns shown when none are configured
var DefaultColumns = []Column{ColumnSymbol, ColumnPID, ColumnTID, ColumnFrame, ColumnArchitecture}

// AllColumns returns every column in display order
func AllColumns() []Column {
	columns := make([]Column, columnCount)
	for i := range columns {
		columns[i] = Column(i)
	}
	return columns
}

func (c Column) String() string {
	if c < 0 || c >= columnCount {
		return "unknown"
	}
	return columnInfo[c].key
}

// Header returns the column title
func (c Column) Header() string {
	if c < 0 || c >= columnCount {
		return ""
	}
	return columnInfo[c].header
}

// ParseColumns parses a comma separated list of column keys
func ParseColumns(list string) ([]Column, error) {
	var columns []Column

	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if name == "all" {
			return AllColumns(), nil
		}

		found := false
		for i, info := range columnInfo {
			if info.key == name {
				columns = append(columns, Column(i))
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown column %q", name)
		}
	}

	if len(columns) == 0 {
		return DefaultColumns, nil
	}
	return columns, nil
}

func pointer(addr process.Address) string {
	if addr == 0 {
		return ""
	}
	return addr.String()
}

// formatSize prints a byte count the way the frame distance column shows it
func formatSize(n process.Address) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", uint64(n))
	}

	value := float64(n)
	suffixes := []string{"kB", "MB", "GB", "TB"}
	i := -1
	for value >= unit && i+1 < len(suffixes) {
		value /= unit
		i++
	}
	return strconv.FormatFloat(value, 'f', 2, 64) + " " + suffixes[i]
}

// CellText returns the text of column c for node n. Cells that do not apply
// to the node kind are empty.
func CellText(n snapshot.Node, c Column) string {
	switch node := n.(type) {
	case *snapshot.ProcessNode:
		return processCell(node, c)
	case *snapshot.ThreadNode:
		return threadCell(node, c)
	case *snapshot.FrameNode:
		return frameCell(node, c)
	default:
		return ""
	}
}

func processCell(p *snapshot.ProcessNode, c Column) string {
	switch c {
	case ColumnSymbol, ColumnProcessName:
		return p.Name
	case ColumnPID:
		return strconv.Itoa(int(p.PID))
	case ColumnFileName:
		return p.ImagePath
	case ColumnArchitecture:
		return p.Architecture
	default:
		return ""
	}
}

func threadCell(t *snapshot.ThreadNode, c Column) string {
	switch c {
	case ColumnSymbol:
		return t.Symbol()
	case ColumnPID:
		return strconv.Itoa(int(t.Process.PID))
	case ColumnTID:
		return strconv.Itoa(int(t.TID))
	case ColumnFileName:
		return t.FileName()
	case ColumnStartAddress:
		return pointer(t.StartAddress)
	case ColumnStartSymbol:
		return t.StartSymbol()
	case ColumnProcessName:
		return t.Process.Name
	case ColumnThreadName:
		return t.Name
	default:
		return ""
	}
}

func frameCell(f *snapshot.FrameNode, c Column) string {
	r := f.Resolved
	d := r.Display

	param := func(i int) string {
		if !r.HasParams {
			return ""
		}
		return d.Params[i].String()
	}

	switch c {
	case ColumnSymbol:
		return r.Symbol
	case ColumnFrame:
		return strconv.Itoa(f.Index)
	case ColumnStackAddress:
		return pointer(d.Stack)
	case ColumnFrameAddress:
		return pointer(d.Frame)
	case ColumnParam1:
		return param(0)
	case ColumnParam2:
		return param(1)
	case ColumnParam3:
		return param(2)
	case ColumnParam4:
		return param(3)
	case ColumnControlAddress:
		return pointer(d.PC)
	case ColumnReturnAddress:
		return pointer(d.Return)
	case ColumnFileName:
		return r.FileName
	case ColumnLineText:
		return r.LineText
	case ColumnArchitecture:
		return r.Architecture
	case ColumnFrameDistance:
		if !r.HasDistance {
			return ""
		}
		return formatSize(r.Distance)
	default:
		// PID, TID and the thread columns come from the owning thread
		return threadCell(f.Thread, c)
	}
}
