// Package filter computes node visibility from hide rules and a search.
package filter

import (
	"fmt"
	"strings"

	"stacksnap/process"
	"stacksnap/search"
	"stacksnap/snapshot"
)

// Rule is a set of frame classes. It is used both for hiding and for
// highlighting.
type Rule uint8

const (
	SystemFrames Rule = 1 << iota
	UserFrames
	InlineFrames
)

const (
	HideSystemFrames = SystemFrames
	HideUserFrames   = UserFrames
	HideInlineFrames = InlineFrames
)

// Has reports whether every bit of r2 is set
func (r Rule) Has(r2 Rule) bool {
	return r&r2 == r2
}

// Set returns r with rule turned on or off
func (r Rule) Set(rule Rule, enabled bool) Rule {
	if enabled {
		return r | rule
	}
	return r &^ rule
}

var ruleNames = []struct {
	name string
	rule Rule
}{
	{"system", SystemFrames},
	{"user", UserFrames},
	{"inline", InlineFrames},
}

// ParseRule parses a comma separated list of "system", "user" and "inline"
func ParseRule(list string) (Rule, error) {
	var r Rule

	for _, name := range strings.Split(list, ",") {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == "none" {
			continue
		}

		found := false
		for _, rn := range ruleNames {
			if rn.name == name {
				r |= rn.rule
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown frame class %q", name)
		}
	}

	return r, nil
}

func (r Rule) String() string {
	var names []string
	for _, rn := range ruleNames {
		if r.Has(rn.rule) {
			names = append(names, rn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Filter recomputes visibility of a Store
type Filter struct {
	Rules         Rule
	Matcher       *search.Matcher // nil when not searching
	UserModeLimit process.Address
}

// FrameVisible applies the hide rules to f. matched is the visibility the
// frame has when no rule hides it.
func (flt Filter) FrameVisible(f *snapshot.FrameNode, matched bool) bool {
	limit := process.UserModeLimitOrDefault(flt.UserModeLimit)
	r := f.Resolved

	if flt.Rules.Has(HideSystemFrames) && r.IsSystem(limit) {
		return false
	}
	if flt.Rules.Has(HideUserFrames) && r.IsUser(limit) {
		return false
	}
	if flt.Rules.Has(HideInlineFrames) && r.IsInline() {
		return false
	}
	return matched
}

// ApplyNode sets the Visible flag of a single node as it arrives. Without a
// search this equals what Apply computes; with a search the node waits hidden
// until its thread is complete and Apply runs again.
func (flt Filter) ApplyNode(n snapshot.Node) {
	if flt.Matcher != nil {
		n.View().Visible = false
		return
	}
	if f, ok := n.(*snapshot.FrameNode); ok {
		n.View().Visible = flt.FrameVisible(f, true)
		return
	}
	n.View().Visible = true
}

// Apply recomputes the Visible flag of every node in store. Running it
// twice yields the same flags.
func (flt Filter) Apply(store *snapshot.Store) {
	if flt.Matcher == nil {
		for _, n := range store.Nodes() {
			switch n := n.(type) {
			case *snapshot.FrameNode:
				n.View().Visible = flt.FrameVisible(n, true)
			default:
				n.View().Visible = true
			}
		}
		return
	}

	// Only frame symbols are searched; a matching frame reveals its thread
	// and process.
	for _, p := range store.Roots() {
		p.View().Visible = false

		for _, t := range p.Threads() {
			if !store.Contains(t.Key()) {
				continue
			}
			t.View().Visible = false

			// Frames still queued for the consumer count as an incomplete walk
			complete := t.FramesComplete()
			frames := store.Frames(t)
			if len(frames) != t.FrameCount() {
				complete = false
			}
			if !complete {
				for _, f := range frames {
					f.View().Visible = false
				}
				continue
			}

			match := false
			for k, f := range frames {
				f.View().Visible = flt.FrameVisible(f, match)

				if match || !flt.Matcher.Match(f.Symbol()) {
					continue
				}

				match = true
				t.View().Visible = true
				p.View().Visible = true

				for _, prev := range frames[:k+1] {
					prev.View().Visible = flt.FrameVisible(prev, true)
				}
			}
		}
	}
}

// Highlight returns the highlight class of f under rules. Inline takes
// precedence over system, system over user.
func Highlight(f *snapshot.FrameNode, rules Rule, userModeLimit process.Address) snapshot.Highlight {
	limit := process.UserModeLimitOrDefault(userModeLimit)
	r := f.Resolved

	switch {
	case rules.Has(InlineFrames) && r.IsInline():
		return snapshot.HighlightInline
	case rules.Has(SystemFrames) && r.IsSystem(limit):
		return snapshot.HighlightSystem
	case rules.Has(UserFrames) && r.IsUser(limit):
		return snapshot.HighlightUser
	default:
		return snapshot.HighlightNone
	}
}

// ApplyHighlight recomputes the highlight class of every frame in store
func ApplyHighlight(store *snapshot.Store, rules Rule, userModeLimit process.Address) {
	for _, n := range store.Nodes() {
		if f, ok := n.(*snapshot.FrameNode); ok {
			f.View().Highlight = Highlight(f, rules, userModeLimit)
		}
	}
}
