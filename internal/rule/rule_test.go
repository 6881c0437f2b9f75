package rule

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustCompile(t *testing.T, spec Spec) Predicate {
	t.Helper()
	p, err := Compile(spec)
	require.NoError(t, err)
	return p
}

func TestNewSetRejectsDuplicateNames(t *testing.T) {
	_, err := NewSet([]Group{
		{Name: "a"},
		{Name: "a"},
	})
	assert.Error(t, err)
}

func TestNewSetRejectsEmptyName(t *testing.T) {
	_, err := NewSet([]Group{{Name: ""}})
	assert.Error(t, err)
}

func TestNewSetRejectsEmptyRunLine(t *testing.T) {
	_, err := NewSet([]Group{
		{Name: "a", Commands: []Command{{Name: "noop", Run: "  "}}},
	})
	assert.Error(t, err)
}

func TestMatchingPreservesDeclarationOrder(t *testing.T) {
	set, err := NewSet([]Group{
		{Name: "first", When: mustCompile(t, Spec{Extensions: []string{".rs"}})},
		{Name: "never", When: mustCompile(t, Spec{Extensions: []string{".md"}})},
		{Name: "second", When: mustCompile(t, Spec{Contains: []string{"src"}})},
	})
	require.NoError(t, err)

	matched := set.Matching("src/main.rs")
	require.Len(t, matched, 2)
	assert.Equal(t, "first", matched[0].Name)
	assert.Equal(t, "second", matched[1].Name)

	assert.Empty(t, set.Matching("README.txt"))
}

func TestGroupWithoutPredicateMatchesAll(t *testing.T) {
	g := Group{Name: "all"}
	assert.True(t, g.Matches("whatever"))
}

func TestSinkIsFile(t *testing.T) {
	assert.False(t, SinkInherit.IsFile())
	assert.False(t, SinkDiscard.IsFile())
	assert.False(t, Sink("").IsFile())
	assert.True(t, Sink("/tmp/out.log").IsFile())
}
