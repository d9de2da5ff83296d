package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/tree"

	"stacksnap/coloransi"
	"stacksnap/snapshot"
)

// Output selects how a tree is printed
type Output string

const (
	OutputTree  Output = "tree"
	OutputTable Output = "table"
	OutputText  Output = "text"
)

// Write prints the visible nodes of store in the given output form
func Write(w io.Writer, store *snapshot.Store, out Output, opts Options) error {
	switch out {
	case OutputTree, "":
		return Tree(w, store, opts)
	case OutputTable:
		return TableView(w, store, opts)
	case OutputText:
		return Text(w, store, opts.Columns)
	default:
		return fmt.Errorf("unknown output %q", out)
	}
}

// Highlight colors
var (
	ColorSystemFrame = coloransi.CreateRGB(255, 150, 150)
	ColorUserFrame   = coloransi.CreateRGB(150, 200, 255)
	ColorInlineFrame = coloransi.CreateRGB(170, 255, 170)
)

// Options select what is printed
type Options struct {
	Columns []Column // Defaults to DefaultColumns
	Color   bool     // Apply highlight colors
}

func (o Options) columns() []Column {
	if len(o.Columns) == 0 {
		return DefaultColumns
	}
	return o.Columns
}

// highlighter returns the coloring of a highlighted row, nil for none
func (o Options) highlighter(n snapshot.Node) FormatFunc {
	if !o.Color {
		return nil
	}

	var color coloransi.ColorCode
	switch n.View().Highlight {
	case snapshot.HighlightSystem:
		color = ColorSystemFrame
	case snapshot.HighlightUser:
		color = ColorUserFrame
	case snapshot.HighlightInline:
		color = ColorInlineFrame
	default:
		return nil
	}

	return func(s string) string {
		return coloransi.Foreground(color, s)
	}
}

// Row is a visible node with its depth in the tree
type Row struct {
	Node  snapshot.Node
	Depth int
}

// VisibleRows lists the visible nodes of store in tree order. Children of
// collapsed nodes are left out, and only frames the consumer has received
// are listed.
func VisibleRows(store *snapshot.Store) []Row {
	var rows []Row

	for _, p := range store.Roots() {
		if !p.View().Visible {
			continue
		}
		rows = append(rows, Row{Node: p})
		if !p.View().Expanded {
			continue
		}

		for _, t := range p.Threads() {
			if !store.Contains(t.Key()) || !t.View().Visible {
				continue
			}
			rows = append(rows, Row{Node: t, Depth: 1})
			if !t.View().Expanded {
				continue
			}

			for _, f := range store.Frames(t) {
				if f.View().Visible {
					rows = append(rows, Row{Node: f, Depth: 2})
				}
			}
		}
	}

	return rows
}

func label(n snapshot.Node, columns []Column) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		if text := CellText(n, c); text != "" {
			if c == ColumnSymbol {
				parts = append(parts, text)
			} else {
				parts = append(parts, c.Header()+": "+text)
			}
		}
	}
	if len(parts) == 0 {
		return n.Key().String()
	}
	return strings.Join(parts, "  ")
}

// Tree writes the visible nodes as a tree
func Tree(w io.Writer, store *snapshot.Store, opts Options) error {
	columns := opts.columns()

	root := tree.Root(fmt.Sprintf("Snapshot %s", store.ID())).
		Enumerator(tree.RoundedEnumerator)
	if opts.Color {
		root = root.EnumeratorStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8")).MarginRight(1))
	}

	var process, thread *tree.Tree
	for _, row := range VisibleRows(store) {
		text := label(row.Node, columns)
		if format := opts.highlighter(row.Node); format != nil {
			text = format(text)
		}

		switch row.Depth {
		case 0:
			process = tree.Root(text)
			root.Child(process)
		case 1:
			thread = tree.Root(text)
			process.Child(thread)
		default:
			thread.Child(text)
		}
	}

	_, err := fmt.Fprintln(w, root.String())
	return err
}

// TableView writes the visible nodes as a column table with the symbol
// column indented by depth
func TableView(w io.Writer, store *snapshot.Store, opts Options) error {
	columns := opts.columns()

	specs := make([]ColumnSpec, len(columns))
	for i, c := range columns {
		specs[i] = ColumnSpec{Header: c.Header()}
	}
	table := NewTable(specs...)

	for _, row := range VisibleRows(store) {
		table.AddRow(opts.highlighter(row.Node), cells(row, columns)...)
	}

	return table.Render(w)
}

func cells(row Row, columns []Column) []string {
	data := make([]string, len(columns))
	for i, c := range columns {
		data[i] = CellText(row.Node, c)
		if c == ColumnSymbol {
			data[i] = strings.Repeat("  ", row.Depth) + data[i]
		}
	}
	return data
}

// Text writes the visible nodes as tab separated lines, the form used when
// copying or saving the tree as text
func Text(w io.Writer, store *snapshot.Store, columns []Column) error {
	if len(columns) == 0 {
		columns = DefaultColumns
	}

	headers := make([]string, len(columns))
	for i, c := range columns {
		headers[i] = c.Header()
	}
	if _, err := fmt.Fprintln(w, strings.Join(headers, "\t")); err != nil {
		return err
	}

	for _, row := range VisibleRows(store) {
		if _, err := fmt.Fprintln(w, strings.Join(cells(row, columns), "\t")); err != nil {
			return err
		}
	}
	return nil
}
