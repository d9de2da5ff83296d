// Package search matches symbol text against a user supplied query.
package search

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher holds configuration for the search
type Matcher struct {
	Text          string
	CaseSensitive bool
	Regex         bool

	folded string
	re     *regexp.Regexp
}

// Option is a function that configures a Matcher
type Option func(*Matcher)

// WithCaseSensitive makes substring matching case sensitive
func WithCaseSensitive() Option {
	return func(m *Matcher) {
		m.CaseSensitive = true
	}
}

// WithRegex treats the text as a regular expression
func WithRegex() Option {
	return func(m *Matcher) {
		m.Regex = true
	}
}

// New creates a matcher for text. An empty text means "no search" and
// yields a nil matcher.
func New(text string, options ...Option) (*Matcher, error) {
	if text == "" {
		return nil, nil
	}

	m := &Matcher{Text: text}
	for _, opt := range options {
		opt(m)
	}

	switch {
	case m.Regex:
		re, err := regexp.Compile(text)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", text, err)
		}
		m.re = re
	case !m.CaseSensitive:
		m.folded = strings.ToLower(text)
	}

	return m, nil
}

// Match reports whether s matches. A nil matcher matches nothing.
func (m *Matcher) Match(s string) bool {
	if m == nil || s == "" {
		return false
	}

	switch {
	case m.re != nil:
		return m.re.MatchString(s)
	case m.CaseSensitive:
		return strings.Contains(s, m.Text)
	default:
		return strings.Contains(strings.ToLower(s), m.folded)
	}
}

func (m *Matcher) String() string {
	if m == nil {
		return ""
	}
	return m.Text
}
