// Package export saves snapshot trees as JSON or YAML documents and loads
// them back.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"stacksnap/frame"
	"stacksnap/process"
	"stacksnap/snapshot"
)

// Version is the document version written by this package
const Version = 1

var (
	// ErrUnsupportedVersion is returned for documents written by a newer version
	ErrUnsupportedVersion = errors.New("unsupported document version")

	// ErrUnknownFormat is returned for formats other than json and yaml
	ErrUnknownFormat = errors.New("unknown document format")
)

// Format is a document encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts "json", "yaml" and "yml"
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%q: %w", s, ErrUnknownFormat)
	}
}

// FormatFromPath picks the format from the file extension, JSON by default
func FormatFromPath(path string) Format {
	if f, err := ParseFormat(strings.TrimPrefix(filepath.Ext(path), ".")); err == nil {
		return f
	}
	return FormatJSON
}

// Hex is an address written as a 0x prefixed hex string
type Hex uint64

func (h Hex) MarshalText() ([]byte, error) {
	return []byte("0x" + strconv.FormatUint(uint64(h), 16)), nil
}

func (h *Hex) UnmarshalText(text []byte) error {
	v, err := strconv.ParseUint(strings.TrimPrefix(string(text), "0x"), 16, 64)
	if err != nil {
		return fmt.Errorf("address %q: %w", text, err)
	}
	*h = Hex(v)
	return nil
}

// Document is a saved snapshot
type Document struct {
	Version    int       `json:"version" yaml:"version"`
	Generation string    `json:"generation" yaml:"generation"`
	Taken      time.Time `json:"taken" yaml:"taken"`
	Processes  []Process `json:"processes" yaml:"processes"`
}

type Process struct {
	PID          int      `json:"pid" yaml:"pid"`
	Name         string   `json:"name" yaml:"name"`
	ImagePath    string   `json:"image_path,omitempty" yaml:"image_path,omitempty"`
	Architecture string   `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Threads      []Thread `json:"threads,omitempty" yaml:"threads,omitempty"`
}

type Thread struct {
	TID          int     `json:"tid" yaml:"tid"`
	StartAddress Hex     `json:"start_address" yaml:"start_address"`
	Name         string  `json:"name,omitempty" yaml:"name,omitempty"`
	StartSymbol  string  `json:"start_symbol,omitempty" yaml:"start_symbol,omitempty"`
	FileName     string  `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	Complete     bool    `json:"complete" yaml:"complete"`
	Frames       []Frame `json:"frames,omitempty" yaml:"frames,omitempty"`
}

// Frame keeps both the raw unwinder record and the resolved display fields
type Frame struct {
	Symbol       string `json:"symbol,omitempty" yaml:"symbol,omitempty"`
	FileName     string `json:"file_name,omitempty" yaml:"file_name,omitempty"`
	LineText     string `json:"line_text,omitempty" yaml:"line_text,omitempty"`
	Architecture string `json:"architecture,omitempty" yaml:"architecture,omitempty"`
	Distance     *Hex   `json:"distance,omitempty" yaml:"distance,omitempty"`
	Inline       bool   `json:"inline,omitempty" yaml:"inline,omitempty"`
	HasParams    bool   `json:"has_params,omitempty" yaml:"has_params,omitempty"`
	Raw          Record `json:"raw" yaml:"raw"`
	Display      Record `json:"display" yaml:"display"`
}

// Record mirrors process.StackFrame
type Record struct {
	PC            Hex    `json:"pc" yaml:"pc"`
	Return        Hex    `json:"return" yaml:"return"`
	Frame         Hex    `json:"frame" yaml:"frame"`
	Stack         Hex    `json:"stack" yaml:"stack"`
	Params        [4]Hex `json:"params" yaml:"params,flow"`
	Machine       uint16 `json:"machine" yaml:"machine"`
	Flags         uint32 `json:"flags,omitempty" yaml:"flags,omitempty"`
	InlineContext uint32 `json:"inline_context,omitempty" yaml:"inline_context,omitempty"`
	Hint          string `json:"hint,omitempty" yaml:"hint,omitempty"`
}

func toRecord(f process.StackFrame) Record {
	r := Record{
		PC:            Hex(f.PC),
		Return:        Hex(f.Return),
		Frame:         Hex(f.Frame),
		Stack:         Hex(f.Stack),
		Machine:       uint16(f.Machine),
		Flags:         uint32(f.Flags),
		InlineContext: uint32(f.InlineContext),
		Hint:          f.Hint,
	}
	for i, p := range f.Params {
		r.Params[i] = Hex(p)
	}
	return r
}

func (r Record) stackFrame() process.StackFrame {
	f := process.StackFrame{
		PC:            process.Address(r.PC),
		Return:        process.Address(r.Return),
		Frame:         process.Address(r.Frame),
		Stack:         process.Address(r.Stack),
		Machine:       process.Machine(r.Machine),
		Flags:         process.FrameFlags(r.Flags),
		InlineContext: process.InlineContext(r.InlineContext),
		Hint:          r.Hint,
	}
	for i, p := range r.Params {
		f.Params[i] = process.Address(p)
	}
	return f
}

// FromStore copies the received nodes of store into a document
func FromStore(store *snapshot.Store, taken time.Time) Document {
	doc := Document{
		Version:    Version,
		Generation: store.ID().String(),
		Taken:      taken.UTC(),
	}

	for _, p := range store.Roots() {
		dp := Process{
			PID:          int(p.PID),
			Name:         p.Name,
			ImagePath:    p.ImagePath,
			Architecture: p.Architecture,
		}

		for _, t := range p.Threads() {
			if !store.Contains(t.Key()) {
				continue
			}

			frames := store.Frames(t)
			dt := Thread{
				TID:          int(t.TID),
				StartAddress: Hex(t.StartAddress),
				Name:         t.Name,
				StartSymbol:  t.StartSymbol(),
				FileName:     t.FileName(),
				Complete:     t.FramesComplete() && len(frames) == t.FrameCount(),
			}

			for _, f := range frames {
				r := f.Resolved
				df := Frame{
					Symbol:       r.Symbol,
					FileName:     r.FileName,
					LineText:     r.LineText,
					Architecture: r.Architecture,
					Inline:       r.Inline,
					HasParams:    r.HasParams,
					Raw:          toRecord(f.Raw),
					Display:      toRecord(r.Display),
				}
				if r.HasDistance {
					d := Hex(r.Distance)
					df.Distance = &d
				}
				dt.Frames = append(dt.Frames, df)
			}

			dp.Threads = append(dp.Threads, dt)
		}

		doc.Processes = append(doc.Processes, dp)
	}

	return doc
}

// ToStore rebuilds a store from a document. All nodes start hidden; callers
// apply their filter afterwards.
func ToStore(doc Document) (*snapshot.Store, error) {
	if doc.Version > Version {
		return nil, fmt.Errorf("version %d: %w", doc.Version, ErrUnsupportedVersion)
	}

	id := uuid.Nil
	if doc.Generation != "" {
		var err error
		if id, err = uuid.Parse(doc.Generation); err != nil {
			return nil, fmt.Errorf("generation %q: %w", doc.Generation, err)
		}
	}

	store := snapshot.NewStore(id)
	for _, dp := range doc.Processes {
		p := snapshot.NewProcessNode(process.ProcessInfo{PID: process.ProcessID(dp.PID), Name: dp.Name})
		p.ImagePath = dp.ImagePath
		p.Architecture = dp.Architecture

		var nodes []snapshot.Node
		for _, dt := range dp.Threads {
			t := snapshot.NewThreadNode(p, process.ThreadID(dt.TID), process.Address(dt.StartAddress), dt.Name, nil)
			t.SetStartSymbol(dt.StartSymbol, dt.FileName)
			if err := p.AddThread(t); err != nil {
				return nil, err
			}
			nodes = append(nodes, t)

			for _, df := range dt.Frames {
				res := frame.Resolved{
					Symbol:       df.Symbol,
					FileName:     df.FileName,
					LineText:     df.LineText,
					Architecture: df.Architecture,
					Inline:       df.Inline,
					HasParams:    df.HasParams,
					Display:      df.Display.stackFrame(),
				}
				if df.Distance != nil {
					res.Distance = process.Address(*df.Distance)
					res.HasDistance = true
				}

				f, err := t.AppendFrame(df.Raw.stackFrame(), res)
				if err != nil {
					return nil, err
				}
				nodes = append(nodes, f)
			}
			if dt.Complete {
				t.MarkComplete()
			}
		}
		p.Seal()

		if !store.Insert(p) {
			return nil, fmt.Errorf("duplicate process %d", dp.PID)
		}
		for _, n := range nodes {
			if !store.Insert(n) {
				return nil, fmt.Errorf("duplicate node %s", n.Key())
			}
		}
	}

	return store, nil
}

// Encode writes doc in format
func Encode(w io.Writer, doc Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := gojson.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}
}

// Decode reads a document in format
func Decode(r io.Reader, format Format) (Document, error) {
	var doc Document

	switch format {
	case FormatJSON:
		if err := gojson.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode json: %w", err)
		}
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
			return Document{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		return Document{}, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
	}

	return doc, nil
}

// Save writes store to path, choosing the format from the extension
func Save(path string, store *snapshot.Store, taken time.Time) error {
	var buf bytes.Buffer
	if err := Encode(&buf, FromStore(store, taken), FormatFromPath(path)); err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Load reads a document saved by Save and rebuilds its store
func Load(path string) (*snapshot.Store, Document, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Document{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	doc, err := Decode(file, FormatFromPath(path))
	if err != nil {
		return nil, Document{}, fmt.Errorf("load %s: %w", path, err)
	}

	store, err := ToStore(doc)
	if err != nil {
		return nil, Document{}, fmt.Errorf("load %s: %w", path, err)
	}
	return store, doc, nil
}
