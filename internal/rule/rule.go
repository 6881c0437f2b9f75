// Package rule defines the immutable rule table the dispatcher evaluates
// against changed paths. A rule group bundles a path predicate, environment
// overrides, output redirection, and an ordered command list. The table is
// compiled once from config at startup and never mutated afterwards.
package rule

import (
	"fmt"
	"strings"
	"time"
)

// Sink describes where a group's command output goes.
type Sink string

const (
	// SinkInherit passes the stream through to the watcher's own terminal.
	SinkInherit Sink = "inherit"
	// SinkDiscard sends the stream to the null device.
	SinkDiscard Sink = "discard"
)

// IsFile reports whether the sink is a file path rather than a builtin target.
func (s Sink) IsFile() bool {
	return s != "" && s != SinkInherit && s != SinkDiscard
}

// Command is one named shell line inside a group.
type Command struct {
	Name string
	Run  string
}

// Group is one rule: predicate plus the work triggered when it matches.
type Group struct {
	Name     string
	When     Predicate
	Env      map[string]string
	Stdout   Sink
	Stderr   Sink
	FailFast bool
	Timeout  time.Duration
	Commands []Command
}

// Matches evaluates the group's predicate against a path. A group with no
// predicate matches every path.
func (g *Group) Matches(path string) bool {
	if g.When == nil {
		return true
	}
	return g.When.Matches(path)
}

// Set is an ordered, immutable collection of groups.
type Set struct {
	groups []Group
}

// NewSet builds a set, validating group names are unique and non-empty.
func NewSet(groups []Group) (*Set, error) {
	seen := make(map[string]bool, len(groups))
	for i, g := range groups {
		if g.Name == "" {
			return nil, fmt.Errorf("rule %d: name is empty", i)
		}
		if seen[g.Name] {
			return nil, fmt.Errorf("rule %q: duplicate name", g.Name)
		}
		seen[g.Name] = true
		for j, c := range g.Commands {
			if strings.TrimSpace(c.Run) == "" {
				return nil, fmt.Errorf("rule %q: command %d has an empty run line", g.Name, j)
			}
		}
	}
	return &Set{groups: groups}, nil
}

// Groups returns the groups in declaration order.
func (s *Set) Groups() []Group {
	return s.groups
}

// Len returns the number of groups.
func (s *Set) Len() int {
	return len(s.groups)
}

// Matching returns the groups whose predicates accept path, in declaration order.
func (s *Set) Matching(path string) []Group {
	var out []Group
	for _, g := range s.groups {
		if g.Matches(path) {
			out = append(out, g)
		}
	}
	return out
}
