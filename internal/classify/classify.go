// Package classify assigns audio streams to the configured target groups.
package classify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/config"
)

// Match is a stream that belongs to a group.
type Match struct {
	Group  string
	Stream audio.Stream
}

type matcher func(text string) bool

type group struct {
	name     string
	matchers []matcher
}

// Classifier holds the enabled groups in priority order. It is immutable
// once built and safe for concurrent use.
type Classifier struct {
	groups        []group
	includeCorked bool
}

// New compiles the enabled targets. Patterns are case-insensitive
// substrings unless prefixed with "re:".
func New(targets []config.Target, includeCorked bool) (*Classifier, error) {
	c := &Classifier{includeCorked: includeCorked}

	for _, t := range targets {
		if !t.IsEnabled() {
			continue
		}

		g := group{name: t.Name}
		for _, p := range t.Patterns {
			m, err := compile(p)
			if err != nil {
				return nil, fmt.Errorf("target '%s': %w", t.Name, err)
			}
			g.matchers = append(g.matchers, m)
		}
		c.groups = append(c.groups, g)
	}

	return c, nil
}

func compile(pattern string) (matcher, error) {
	if expr, ok := strings.CutPrefix(pattern, config.RegexPrefix); ok {
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return re.MatchString, nil
	}

	needle := strings.ToLower(pattern)
	return func(text string) bool {
		return strings.Contains(strings.ToLower(text), needle)
	}, nil
}

// Groups returns the enabled group names in priority order.
func (c *Classifier) Groups() []string {
	names := make([]string, len(c.groups))
	for i, g := range c.groups {
		names[i] = g.name
	}
	return names
}

// Classify returns the highest priority group with a pattern matching the
// stream. ok is false when no enabled group matches.
func (c *Classifier) Classify(s audio.Stream) (string, bool) {
	fields := append(s.MatchFields(), s.Description())

	for _, g := range c.groups {
		for _, m := range g.matchers {
			for _, f := range fields {
				if m(f) {
					return g.name, true
				}
			}
		}
	}
	return "", false
}

// MatchAll classifies every eligible stream, keeping the stream order.
// Corked streams are skipped unless the classifier was built to include them.
func (c *Classifier) MatchAll(streams []audio.Stream) []Match {
	var matches []Match
	for _, s := range streams {
		if s.Corked && !c.includeCorked {
			continue
		}
		if name, ok := c.Classify(s); ok {
			matches = append(matches, Match{Group: name, Stream: s})
		}
	}
	return matches
}
