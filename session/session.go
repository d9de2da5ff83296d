// Package session is the consumer side of snapshot generations: it owns the
// visible tree and applies published nodes, hide rules and searches.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/Moonlight-Companies/gologger/logger"
	"github.com/google/uuid"

	"stacksnap/coloransi"
	"stacksnap/coordinator"
	"stacksnap/filter"
	"stacksnap/publish"
	"stacksnap/search"
	"stacksnap/snapshot"
)

// ErrNoSnapshot is returned by Wait before the first StartSnapshot
var ErrNoSnapshot = errors.New("no snapshot started")

// Listener receives tree change notifications. Either field may be nil.
type Listener struct {
	NodePublished func(n snapshot.Node)
	Restructured  func()
}

// Option is a function that configures a Session
type Option func(*Session)

// WithHideRules sets the initial hide rules
func WithHideRules(rules filter.Rule) Option {
	return func(s *Session) {
		s.hide = rules
	}
}

// WithHighlightRules sets the initial highlight rules
func WithHighlightRules(rules filter.Rule) Option {
	return func(s *Session) {
		s.highlight = rules
	}
}

// WithSearchOptions sets the options used for every search text
func WithSearchOptions(options ...search.Option) Option {
	return func(s *Session) {
		s.searchOptions = options
	}
}

// Session is not safe for concurrent use; one goroutine owns it.
type Session struct {
	coord *coordinator.Coordinator
	ch    *publish.Channel
	log   *logger.Logger

	gen        *coordinator.Generation
	store      *snapshot.Store
	lastSerial uint64

	hide          filter.Rule
	highlight     filter.Rule
	matcher       *search.Matcher
	searchOptions []search.Option
	expanded      bool

	listeners []Listener
}

// New creates a session starting generations with coord
func New(coord *coordinator.Coordinator, options ...Option) *Session {
	s := &Session{
		coord:    coord,
		ch:       publish.New(),
		log:      logger.NewLogger(coloransi.Color(coloransi.ColorIndigo, coloransi.ColorOrange, "session")),
		store:    snapshot.NewStore(uuid.Nil),
		expanded: true,
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Subscribe registers l for tree change notifications
func (s *Session) Subscribe(l Listener) {
	s.listeners = append(s.listeners, l)
}

func (s *Session) notifyPublished(n snapshot.Node) {
	for _, l := range s.listeners {
		if l.NodePublished != nil {
			l.NodePublished(n)
		}
	}
}

func (s *Session) notifyRestructured() {
	for _, l := range s.listeners {
		if l.Restructured != nil {
			l.Restructured()
		}
	}
}

func (s *Session) filter() filter.Filter {
	return filter.Filter{
		Rules:         s.hide,
		Matcher:       s.matcher,
		UserModeLimit: s.coord.UserModeLimit(),
	}
}

func (s *Session) restructure() {
	s.filter().Apply(s.store)
	s.notifyRestructured()
}

// HideRules returns the active hide rules
func (s *Session) HideRules() filter.Rule {
	return s.hide
}

// SetHideRule turns one hide rule on or off and recomputes visibility
func (s *Session) SetHideRule(rule filter.Rule, enabled bool) {
	s.hide = s.hide.Set(rule, enabled)
	s.restructure()
}

// SearchText returns the active search text
func (s *Session) SearchText() string {
	return s.matcher.String()
}

// SetSearchText replaces the search and recomputes visibility. An empty
// text clears the search.
func (s *Session) SetSearchText(text string) error {
	m, err := search.New(text, s.searchOptions...)
	if err != nil {
		return err
	}
	s.matcher = m
	s.restructure()
	return nil
}

// HighlightRules returns the active highlight rules
func (s *Session) HighlightRules() filter.Rule {
	return s.highlight
}

// SetHighlight turns one highlight rule on or off
func (s *Session) SetHighlight(rule filter.Rule, enabled bool) {
	s.highlight = s.highlight.Set(rule, enabled)
	filter.ApplyHighlight(s.store, s.highlight, s.coord.UserModeLimit())
	s.notifyRestructured()
}

// ExpandAll expands or collapses every node
func (s *Session) ExpandAll(expand bool) {
	s.expanded = expand
	for _, n := range s.store.Nodes() {
		n.View().Expanded = expand
	}
	s.notifyRestructured()
}

// StartSnapshot cancels the running generation, if any, and starts a new one
// with an empty tree.
func (s *Session) StartSnapshot(ctx context.Context) *coordinator.Generation {
	if s.gen != nil {
		s.gen.Cancel()
	}

	s.gen = s.coord.Start(ctx, s.ch)
	s.store = snapshot.NewStore(s.gen.ID())
	s.lastSerial = 0
	s.log.Infoln("Snapshot started", s.gen.ID())

	s.notifyRestructured()
	return s.gen
}

// CancelSnapshot stops the running generation. Nodes received so far stay.
func (s *Session) CancelSnapshot() {
	if s.gen == nil {
		return
	}
	s.gen.Cancel()
	s.Pump()
	s.restructure()
}

// Generation returns the current generation, nil before the first snapshot
func (s *Session) Generation() *coordinator.Generation {
	return s.gen
}

// Store returns the consumer tree
func (s *Session) Store() *snapshot.Store {
	return s.store
}

// Roots returns the process nodes received so far
func (s *Session) Roots() []*snapshot.ProcessNode {
	return s.store.Roots()
}

func (s *Session) apply(ev publish.Event) bool {
	if s.gen == nil || ev.Generation != s.gen.ID() {
		return false
	}

	if n := ev.Node; n != nil {
		if !s.store.Insert(n) {
			s.log.Debugln("Duplicate node", n.Kind(), n.Key())
			return false
		}

		view := n.View()
		view.Expanded = s.expanded
		s.filter().ApplyNode(n)
		if f, ok := n.(*snapshot.FrameNode); ok {
			view.Highlight = filter.Highlight(f, s.highlight, s.coord.UserModeLimit())
		}
		s.notifyPublished(n)
	}

	if ev.Restructure {
		s.restructure()
	}
	return true
}

// Pump applies every queued event and returns how many belonged to the
// current generation.
func (s *Session) Pump() int {
	applied := 0
	for _, ev := range s.ch.Drain() {
		if s.apply(ev) {
			applied++
		}
	}
	return applied
}

// Run applies events as they arrive until ctx is done
func (s *Session) Run(ctx context.Context) error {
	for {
		s.Pump()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.ch.Notify():
		}
	}
}

// Wait applies events until the current generation has finished and every
// event it published has been applied. It returns the generation error.
func (s *Session) Wait(ctx context.Context) error {
	if s.gen == nil {
		return ErrNoSnapshot
	}

	for {
		s.Pump()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.gen.Done():
			s.Pump()
			return s.gen.Wait()
		case <-s.ch.Notify():
		}
	}
}

// Follow is Wait for interactive callers: it also polls the progress text
// every interval and reports changes to onMessage. When ctx is done the
// generation is cancelled, the nodes received so far are kept and ctx's
// error is returned.
func (s *Session) Follow(ctx context.Context, interval time.Duration, onMessage func(string)) error {
	if s.gen == nil {
		return ErrNoSnapshot
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	poll := func() {
		if text, ok := s.PollMessage(); ok && onMessage != nil {
			onMessage(text)
		}
	}

	for {
		s.Pump()
		select {
		case <-ctx.Done():
			s.CancelSnapshot()
			<-s.gen.Done()
			s.Pump()
			poll()
			return ctx.Err()
		case <-s.gen.Done():
			s.Pump()
			poll()
			return s.gen.Wait()
		case <-s.ch.Notify():
		case <-ticker.C:
			poll()
		}
	}
}

// PollMessage returns the progress text when it changed since the last poll
func (s *Session) PollMessage() (string, bool) {
	if s.gen == nil {
		return "", false
	}

	p := s.gen.Progress()
	if p.Serial == s.lastSerial {
		return "", false
	}
	s.lastSerial = p.Serial
	return p.Text(), true
}
