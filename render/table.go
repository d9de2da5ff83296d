package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// FormatFunc colors a cell value
type FormatFunc func(value string) string

// ColumnSpec defines a column's properties
type ColumnSpec struct {
	Header     string
	BlankValue string // Value to show for empty cells (default: "-")
	MinWidth   int    // Minimum column width
}

type tableRow struct {
	cells  []string
	format FormatFunc
}

// Table is a plain text table with per row coloring
type Table struct {
	columns []ColumnSpec
	rows    []tableRow
	widths  []int
}

// NewTable creates a new table with the given column specifications
func NewTable(cols ...ColumnSpec) *Table {
	t := &Table{
		columns: cols,
		widths:  make([]int, len(cols)),
	}

	for i, col := range cols {
		t.widths[i] = max(col.MinWidth, lipgloss.Width(col.Header))
		if t.columns[i].BlankValue == "" {
			t.columns[i].BlankValue = "-"
		}
	}

	return t
}

// AddRow adds a row; format, when set, is applied to every cell
func (t *Table) AddRow(format FormatFunc, data ...string) {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(data) && data[i] != "" {
			row[i] = data[i]
		} else {
			row[i] = t.columns[i].BlankValue
		}

		if w := lipgloss.Width(row[i]); w > t.widths[i] {
			t.widths[i] = w
		}
	}

	t.rows = append(t.rows, tableRow{cells: row, format: format})
}

// Len returns the number of rows
func (t *Table) Len() int {
	return len(t.rows)
}

// Render writes the table to the given writer
func (t *Table) Render(w io.Writer) error {
	headers := make([]string, len(t.columns))
	sep := make([]string, len(t.columns))
	for i, col := range t.columns {
		headers[i] = t.pad(col.Header, t.widths[i])
		sep[i] = strings.Repeat("-", t.widths[i])
	}
	if _, err := fmt.Fprintln(w, strings.TrimRight(strings.Join(headers, " "), " ")); err != nil {
		return err
	}
	if _, err := fmt.Fprintln(w, strings.Join(sep, " ")); err != nil {
		return err
	}

	for _, row := range t.rows {
		formatted := make([]string, len(row.cells))
		for i, val := range row.cells {
			// Pad before coloring so escape codes do not count
			formatted[i] = t.pad(val, t.widths[i])
			if row.format != nil {
				formatted[i] = row.format(formatted[i])
			}
		}
		line := strings.Join(formatted, " ")
		if row.format == nil {
			line = strings.TrimRight(line, " ")
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}

// pad pads a string to the given visible width
func (t *Table) pad(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}
