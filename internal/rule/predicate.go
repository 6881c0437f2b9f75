package rule

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Predicate decides whether a group applies to a changed path. Implementations
// are pure: same path in, same answer out.
type Predicate interface {
	Matches(path string) bool
	// Describe returns a short human-readable summary for listings and logs.
	Describe() string
}

// Spec is the declarative predicate form found in config. All set clauses must
// hold for the predicate to match (composite-and).
type Spec struct {
	Extensions  []string `yaml:"extensions,omitempty"`
	Contains    []string `yaml:"contains,omitempty"`
	NotContains []string `yaml:"not_contains,omitempty"`
	Glob        string   `yaml:"glob,omitempty"`
}

// Compile turns a spec into a predicate. An empty spec compiles to match-all.
// Errors are load-time only; compiled predicates cannot fail at evaluation.
func Compile(spec Spec) (Predicate, error) {
	var parts []Predicate

	if len(spec.Extensions) > 0 {
		exts := make(map[string]bool, len(spec.Extensions))
		for _, e := range spec.Extensions {
			if e == "" {
				return nil, fmt.Errorf("extensions: empty entry")
			}
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			exts[strings.ToLower(e)] = true
		}
		parts = append(parts, extensionIn{exts: exts, raw: spec.Extensions})
	}

	for _, s := range spec.Contains {
		if s == "" {
			return nil, fmt.Errorf("contains: empty entry")
		}
		parts = append(parts, substring{needle: s, negate: false})
	}

	for _, s := range spec.NotContains {
		if s == "" {
			return nil, fmt.Errorf("not_contains: empty entry")
		}
		parts = append(parts, substring{needle: s, negate: true})
	}

	if spec.Glob != "" {
		// Validate the pattern eagerly; filepath.Match only errors on bad patterns.
		if _, err := filepath.Match(spec.Glob, "probe"); err != nil {
			return nil, fmt.Errorf("glob %q: %w", spec.Glob, err)
		}
		parts = append(parts, glob{pattern: spec.Glob})
	}

	switch len(parts) {
	case 0:
		return matchAll{}, nil
	case 1:
		return parts[0], nil
	default:
		return and{parts: parts}, nil
	}
}

type matchAll struct{}

func (matchAll) Matches(string) bool { return true }
func (matchAll) Describe() string    { return "any path" }

type extensionIn struct {
	exts map[string]bool
	raw  []string
}

func (p extensionIn) Matches(path string) bool {
	return p.exts[strings.ToLower(filepath.Ext(path))]
}

func (p extensionIn) Describe() string {
	return "ext in {" + strings.Join(p.raw, ", ") + "}"
}

type substring struct {
	needle string
	negate bool
}

func (p substring) Matches(path string) bool {
	has := strings.Contains(path, p.needle)
	if p.negate {
		return !has
	}
	return has
}

func (p substring) Describe() string {
	if p.negate {
		return fmt.Sprintf("not contains %q", p.needle)
	}
	return fmt.Sprintf("contains %q", p.needle)
}

type glob struct {
	pattern string
}

func (p glob) Matches(path string) bool {
	ok, _ := filepath.Match(p.pattern, filepath.Base(path))
	return ok
}

func (p glob) Describe() string {
	return fmt.Sprintf("glob %q", p.pattern)
}

type and struct {
	parts []Predicate
}

func (p and) Matches(path string) bool {
	for _, part := range p.parts {
		if !part.Matches(path) {
			return false
		}
	}
	return true
}

func (p and) Describe() string {
	descs := make([]string, len(p.parts))
	for i, part := range p.parts {
		descs[i] = part.Describe()
	}
	return strings.Join(descs, " and ")
}
