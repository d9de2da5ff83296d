package snapshot

import (
	"errors"

	"github.com/google/uuid"
)

// Store indexes the nodes of one generation. It is not safe for concurrent
// use; a single goroutine owns it.
type Store struct {
	id    uuid.UUID
	nodes []Node
	roots []*ProcessNode
	index map[Key]Node
}

// NewStore creates an empty store for generation id
func NewStore(id uuid.UUID) *Store {
	return &Store{
		id:    id,
		index: make(map[Key]Node),
	}
}

// ID returns the generation id
func (s *Store) ID() uuid.UUID {
	return s.id
}

// Insert adds n. It returns false when a node with the same key is already
// present.
func (s *Store) Insert(n Node) bool {
	key := n.Key()
	if _, ok := s.index[key]; ok {
		return false
	}

	s.index[key] = n
	s.nodes = append(s.nodes, n)
	if p, ok := n.(*ProcessNode); ok {
		s.roots = append(s.roots, p)
	}
	return true
}

// Contains reports whether a node with key is present
func (s *Store) Contains(key Key) bool {
	_, ok := s.index[key]
	return ok
}

// Lookup returns the node stored under key
func (s *Store) Lookup(key Key) (Node, bool) {
	n, ok := s.index[key]
	return n, ok
}

// Nodes returns every node in insertion order. Callers must not modify it.
func (s *Store) Nodes() []Node {
	return s.nodes
}

// Roots returns the process nodes in insertion order. Callers must not modify it.
func (s *Store) Roots() []*ProcessNode {
	return s.roots
}

// Len returns the number of nodes
func (s *Store) Len() int {
	return len(s.nodes)
}

// Close releases every thread handle and symbol context still held by the
// store's process nodes.
func (s *Store) Close() error {
	var errs []error
	for _, n := range s.nodes {
		switch n := n.(type) {
		case *ProcessNode:
			if err := n.ReleaseSymbols(); err != nil {
				errs = append(errs, err)
			}
		case *ThreadNode:
			if err := n.CloseHandle(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Frames returns the frames of t present in the store. Frames are inserted
// in index order, so the result is a prefix of t.Frames().
func (s *Store) Frames(t *ThreadNode) []*FrameNode {
	frames := t.Frames()
	for i, f := range frames {
		if !s.Contains(f.Key()) {
			return frames[:i]
		}
	}
	return frames
}
