package export

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"stacksnap/frame"
	"stacksnap/process"
	"stacksnap/snapshot"
)

var taken = time.Date(2026, 10, 18, 12, 30, 0, 0, time.UTC)

func sampleStore(t *testing.T) *snapshot.Store {
	t.Helper()
	store := snapshot.NewStore(uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"))

	app := snapshot.NewProcessNode(process.ProcessInfo{PID: 100, Name: "app"})
	app.ImagePath = "/usr/bin/app"
	app.Architecture = "x64"

	walked := snapshot.NewThreadNode(app, 101, 0x401000, "", nil)
	walked.SetStartSymbol("app!main", "/usr/bin/app")
	pending := snapshot.NewThreadNode(app, 102, 0, "worker", nil)

	for _, th := range []*snapshot.ThreadNode{walked, pending} {
		if err := app.AddThread(th); err != nil {
			t.Fatal(err)
		}
		store.Insert(th)
	}
	app.Seal()
	store.Insert(app)

	raw := []process.StackFrame{
		{PC: 0xFFFFF80000001000, Machine: process.MachineAMD64, Flags: process.FrameKernel, Hint: "vmlinux!schedule+0x10"},
		{PC: 0x401200, Return: 0x401100, Stack: 0x7FFE0000, Frame: 0x7FFE0040, Params: [4]process.Address{1, 2, 3, 4}, Machine: process.MachineAMD64},
		{PC: 0x401100, Stack: 0x7FFE0080, Machine: process.MachineAMD64, Flags: process.FrameNoUnwindInfo, InlineContext: process.InlineContextTypeInline | 2},
	}
	resolver := frame.Resolver{}
	for i, r := range raw {
		var prev *process.StackFrame
		if i > 0 {
			prev = &raw[i-1]
		}
		f, err := walked.AppendFrame(r, resolver.Resolve(r, prev))
		if err != nil {
			t.Fatal(err)
		}
		store.Insert(f)
	}
	walked.MarkComplete()

	return store
}

func TestRoundTrip(t *testing.T) {
	want := FromStore(sampleStore(t), taken)

	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			var buf bytes.Buffer
			if err := Encode(&buf, want, format); err != nil {
				t.Fatalf("Encode: %v", err)
			}

			doc, err := Decode(&buf, format)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			store, err := ToStore(doc)
			if err != nil {
				t.Fatalf("ToStore: %v", err)
			}

			got := FromStore(store, taken)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestToStoreShape(t *testing.T) {
	store, err := ToStore(FromStore(sampleStore(t), taken))
	if err != nil {
		t.Fatalf("ToStore: %v", err)
	}

	if store.ID().String() != "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" {
		t.Errorf("ID() = %s", store.ID())
	}
	if store.Len() != 6 {
		t.Errorf("Len() = %d, want 6", store.Len())
	}

	n, ok := store.Lookup(snapshot.Key{PID: 100, TID: 101, Frame: snapshot.NoID})
	if !ok {
		t.Fatal("thread 101 missing")
	}
	th := n.(*snapshot.ThreadNode)
	if !th.FramesComplete() || th.FrameCount() != 3 {
		t.Errorf("thread 101 complete=%v frames=%d", th.FramesComplete(), th.FrameCount())
	}
	if th.Symbol() != "app!main" {
		t.Errorf("thread symbol = %q", th.Symbol())
	}

	var symbols []string
	for _, f := range th.Frames() {
		symbols = append(symbols, f.Resolved.Symbol)
	}
	if diff := cmp.Diff([]string{"vmlinux!schedule+0x10", "", ""}, symbols); diff != "" {
		t.Errorf("frame order (-want +got):\n%s", diff)
	}

	n, _ = store.Lookup(snapshot.Key{PID: 100, TID: 102, Frame: snapshot.NoID})
	if pending := n.(*snapshot.ThreadNode); pending.FramesComplete() || pending.Symbol() != "worker" {
		t.Errorf("thread 102 complete=%v symbol=%q", pending.FramesComplete(), pending.Symbol())
	}

	for _, node := range store.Nodes() {
		if node.View().Visible {
			t.Errorf("%s loaded visible", node.Key())
		}
	}
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := sampleStore(t)

	for _, name := range []string{"snap.json", "snap.yaml"} {
		path := filepath.Join(dir, name)
		if err := Save(path, store, taken); err != nil {
			t.Fatalf("Save(%s): %v", name, err)
		}

		loaded, doc, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if loaded.Len() != store.Len() {
			t.Errorf("%s: %d nodes, want %d", name, loaded.Len(), store.Len())
		}
		if !doc.Taken.Equal(taken) {
			t.Errorf("%s: taken = %s", name, doc.Taken)
		}
	}

	if _, _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load of a missing file succeeded")
	}
}

func TestDocumentErrors(t *testing.T) {
	if _, err := ToStore(Document{Version: Version + 1}); !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("newer version error = %v", err)
	}
	if _, err := ToStore(Document{Version: Version, Generation: "nope"}); err == nil {
		t.Error("bad generation accepted")
	}

	dup := Document{Version: Version, Processes: []Process{{PID: 1}, {PID: 1}}}
	if _, err := ToStore(dup); err == nil {
		t.Error("duplicate process accepted")
	}

	if err := Encode(&bytes.Buffer{}, Document{}, "xml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Encode xml error = %v", err)
	}
	if _, err := Decode(strings.NewReader("{"), FormatJSON); err == nil {
		t.Error("truncated json accepted")
	}
}

func TestFormat(t *testing.T) {
	if FormatFromPath("a/b.YML") != FormatYAML || FormatFromPath("x.json") != FormatJSON || FormatFromPath("x") != FormatJSON {
		t.Error("FormatFromPath picked the wrong format")
	}
	if _, err := ParseFormat("toml"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("ParseFormat(toml) error = %v", err)
	}

	var h Hex
	if err := h.UnmarshalText([]byte("0x7ffe0000")); err != nil || h != 0x7ffe0000 {
		t.Errorf("UnmarshalText = %x, %v", uint64(h), err)
	}
	if text, _ := Hex(0x401000).MarshalText(); string(text) != "0x401000" {
		t.Errorf("MarshalText = %s", text)
	}
}
