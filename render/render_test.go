package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"stacksnap/frame"
	"stacksnap/process"
	"stacksnap/snapshot"
)

func show(n snapshot.Node, expanded bool) {
	n.View().Visible = true
	n.View().Expanded = expanded
}

// sampleStore builds a store with one visible process, a hidden process,
// an expanded thread with a hidden frame and a collapsed thread.
func sampleStore(t *testing.T) *snapshot.Store {
	t.Helper()
	store := snapshot.NewStore(uuid.MustParse("11111111-2222-3333-4444-555555555555"))

	app := snapshot.NewProcessNode(process.ProcessInfo{PID: 100, Name: "app"})
	app.ImagePath = "/usr/bin/app"
	app.Architecture = "x64"

	leader := snapshot.NewThreadNode(app, 101, 0x401000, "", nil)
	worker := snapshot.NewThreadNode(app, 102, 0x402000, "worker", nil)
	worker.SetStartSymbol("app!worker_main", "/usr/bin/app")

	frames := []struct {
		thread *snapshot.ThreadNode
		raw    process.StackFrame
		res    frame.Resolved
	}{
		{leader, process.StackFrame{PC: 0x401010, Stack: 0x7000}, frame.Resolved{
			Symbol: "app!main+0x10", Architecture: "x64", LineText: "main.c @ 3", HasParams: true,
			Display: process.StackFrame{PC: 0x401010, Stack: 0x7000, Params: [4]process.Address{1, 2, 3, 4}},
		}},
		{leader, process.StackFrame{PC: 0x401500, Stack: 0x7100}, frame.Resolved{
			Symbol: "app!start+0x5", Distance: 0x100, HasDistance: true,
			Display: process.StackFrame{PC: 0x401500, Stack: 0x7100},
		}},
		{worker, process.StackFrame{PC: 0x402100}, frame.Resolved{Symbol: "app!worker_main+0x100"}},
	}

	for _, th := range []*snapshot.ThreadNode{leader, worker} {
		if err := app.AddThread(th); err != nil {
			t.Fatal(err)
		}
		store.Insert(th)
	}
	app.Seal()
	store.Insert(app)

	for _, f := range frames {
		node, err := f.thread.AppendFrame(f.raw, f.res)
		if err != nil {
			t.Fatal(err)
		}
		store.Insert(node)
		show(node, true)
	}

	show(app, true)
	show(leader, true)
	show(worker, false)

	hidden := snapshot.NewProcessNode(process.ProcessInfo{PID: 200, Name: "hidden"})
	hidden.Seal()
	store.Insert(hidden)

	// Second frame of main is filtered out
	leader.Frames()[1].View().Visible = false
	leader.Frames()[0].View().Highlight = snapshot.HighlightUser

	return store
}

func TestVisibleRows(t *testing.T) {
	var got []string
	for _, row := range VisibleRows(sampleStore(t)) {
		got = append(got, strings.Repeat(".", row.Depth)+row.Node.Key().String())
	}

	want := []string{
		snapshot.Key{PID: 100, TID: snapshot.NoID, Frame: snapshot.NoID}.String(),
		"." + snapshot.Key{PID: 100, TID: 101, Frame: snapshot.NoID}.String(),
		".." + snapshot.Key{PID: 100, TID: 101, Frame: 0}.String(),
		"." + snapshot.Key{PID: 100, TID: 102, Frame: snapshot.NoID}.String(),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestText(t *testing.T) {
	var buf bytes.Buffer
	if err := Text(&buf, sampleStore(t), []Column{ColumnSymbol, ColumnPID, ColumnTID, ColumnFrame}); err != nil {
		t.Fatalf("Text: %v", err)
	}

	want := "Symbol\tPID\tTID\tFrame\n" +
		"app\t100\t\t\n" +
		"  0x401000\t100\t101\t\n" +
		"    app!main+0x10\t100\t101\t0\n" +
		"  worker\t100\t102\t\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("Text mismatch (-want +got):\n%s", diff)
	}
}

func TestCellText(t *testing.T) {
	store := sampleStore(t)
	n, _ := store.Lookup(snapshot.Key{PID: 100, TID: 101, Frame: 0})
	second, _ := store.Lookup(snapshot.Key{PID: 100, TID: 101, Frame: 1})
	worker, _ := store.Lookup(snapshot.Key{PID: 100, TID: 102, Frame: snapshot.NoID})
	app := store.Roots()[0]

	tests := []struct {
		node snapshot.Node
		col  Column
		want string
	}{
		{n, ColumnControlAddress, "0x401010"},
		{n, ColumnParam3, "0x3"},
		{n, ColumnReturnAddress, ""},
		{n, ColumnLineText, "main.c @ 3"},
		{n, ColumnStartAddress, "0x401000"},
		{n, ColumnProcessName, "app"},
		{second, ColumnParam1, ""},
		{second, ColumnFrameDistance, "256 B"},
		{worker, ColumnStartSymbol, "app!worker_main"},
		{worker, ColumnThreadName, "worker"},
		{worker, ColumnFileName, "/usr/bin/app"},
		{worker, ColumnFrame, ""},
		{app, ColumnFileName, "/usr/bin/app"},
		{app, ColumnArchitecture, "x64"},
		{app, ColumnTID, ""},
	}

	for _, tt := range tests {
		if got := CellText(tt.node, tt.col); got != tt.want {
			t.Errorf("CellText(%s, %s) = %q, want %q", tt.node.Key(), tt.col, got, tt.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := map[process.Address]string{
		0:       "0 B",
		1023:    "1023 B",
		1024:    "1.00 kB",
		1536:    "1.50 kB",
		3 << 20: "3.00 MB",
	}
	for n, want := range tests {
		if got := formatSize(n); got != want {
			t.Errorf("formatSize(%d) = %q, want %q", n, got, want)
		}
	}
}

func TestParseColumns(t *testing.T) {
	got, err := ParseColumns("symbol, PID ,pc")
	if err != nil {
		t.Fatalf("ParseColumns: %v", err)
	}
	if diff := cmp.Diff([]Column{ColumnSymbol, ColumnPID, ColumnControlAddress}, got); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}

	if got, _ := ParseColumns(""); len(got) != len(DefaultColumns) {
		t.Errorf("empty list = %v, want defaults", got)
	}
	if got, _ := ParseColumns("all"); len(got) != int(columnCount) {
		t.Errorf("all = %d columns", len(got))
	}
	if _, err := ParseColumns("bogus"); err == nil {
		t.Error("unknown column accepted")
	}
}

func TestTableView(t *testing.T) {
	var buf bytes.Buffer
	opts := Options{Columns: []Column{ColumnSymbol, ColumnTID}}
	if err := TableView(&buf, sampleStore(t), opts); err != nil {
		t.Fatalf("TableView: %v", err)
	}

	want := "Symbol            TID\n" +
		"----------------- ---\n" +
		"app               -\n" +
		"  0x401000        101\n" +
		"    app!main+0x10 101\n" +
		"  worker          102\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("TableView mismatch (-want +got):\n%s", diff)
	}
}

func TestHighlightColors(t *testing.T) {
	var plain, colored bytes.Buffer
	store := sampleStore(t)

	if err := TableView(&plain, store, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := TableView(&colored, store, Options{Color: true}); err != nil {
		t.Fatal(err)
	}

	if strings.Contains(plain.String(), "\033[") {
		t.Error("plain output contains escape codes")
	}
	if !strings.Contains(colored.String(), "\033[38;2;150;200;255m") {
		t.Error("user frame not colored")
	}
}

func TestTree(t *testing.T) {
	var buf bytes.Buffer
	if err := Tree(&buf, sampleStore(t), Options{Columns: []Column{ColumnSymbol}}); err != nil {
		t.Fatalf("Tree: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Snapshot 11111111-2222-3333-4444-555555555555", "app", "0x401000", "app!main+0x10", "worker"} {
		if !strings.Contains(out, want) {
			t.Errorf("tree output missing %q:\n%s", want, out)
		}
	}
	for _, hidden := range []string{"app!start+0x5", "app!worker_main+0x100", "hidden"} {
		if strings.Contains(out, hidden) {
			t.Errorf("tree output contains hidden %q:\n%s", hidden, out)
		}
	}
}

func TestWrite(t *testing.T) {
	store := sampleStore(t)

	for _, out := range []Output{OutputTree, OutputTable, OutputText, ""} {
		var buf bytes.Buffer
		if err := Write(&buf, store, out, Options{}); err != nil || buf.Len() == 0 {
			t.Errorf("Write(%q) = %v, %d bytes", out, err, buf.Len())
		}
	}

	if err := Write(&bytes.Buffer{}, store, "html", Options{}); err == nil {
		t.Error("unknown output accepted")
	}
}
