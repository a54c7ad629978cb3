package cache

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dl/incsearch/internal/matcher"
)

func text(p string) matcher.Query {
	return matcher.Query{Pattern: p, Params: matcher.Params{Mode: matcher.ModeText, MatchCase: true}}
}

// scan is a full rescan used as the reference for refinement.
func scan(t *testing.T, q matcher.Query, file, src string) matcher.Result {
	t.Helper()
	m, err := matcher.New(q)
	require.NoError(t, err)
	defer m.Close()
	lt := matcher.NewLineTable(src)
	res := matcher.Result{File: file, Source: src}
	for _, s := range m.FindAll([]byte(src)) {
		res.Matches = append(res.Matches, matcher.Locate(lt, s))
	}
	return res
}

// runAll plays the role of the orchestrator: scan what the cache asks for.
func runAll(t *testing.T, c *Cache, q matcher.Query, files map[string]string) (scanned []string) {
	t.Helper()
	c.Create(q)
	for name, src := range files {
		if !c.ShouldProcess(name) {
			continue
		}
		scanned = append(scanned, name)
		c.AddResult(scan(t, q, name, src))
	}
	c.MarkCurrentComplete()
	require.NoError(t, c.validate())
	return scanned
}

func matched(n *Node) []string {
	var out []string
	for f := range n.Results {
		out = append(out, f)
	}
	return out
}

func TestCache_FooThenFoob(t *testing.T) {
	files := map[string]string{"A": "foo bar foo", "B": "nothing here"}
	c := New(Options{})

	scanned := runAll(t, c, text("foo"), files)
	assert.ElementsMatch(t, []string{"A", "B"}, scanned)
	foo := c.Current()
	assert.Equal(t, []string{"A"}, matched(foo))
	assert.Contains(t, foo.Excluded, "B")

	scanned = runAll(t, c, text("foob"), files)
	assert.Empty(t, scanned, "refinement must not rescan any file")
	foob := c.Current()
	assert.Equal(t, foo.ID, foob.Parent)
	assert.Empty(t, foob.Results)
	assert.Contains(t, foob.Excluded, "A")
	assert.Contains(t, foob.Excluded, "B")
}

func TestCache_RefineKeepsAndExtendsSpans(t *testing.T) {
	src := "foofoof\nxx foof"
	files := map[string]string{"f": src}
	c := New(Options{})

	runAll(t, c, text("foo"), files)
	runAll(t, c, text("foof"), files)

	got := c.Current().Results["f"]
	want := scan(t, text("foof"), "f", src)
	assert.Equal(t, want.Matches, got.Matches)
	for _, m := range got.Matches {
		assert.Equal(t, "foof", m.Text(src))
	}
}

func TestCache_PrefixReuseIsSubset(t *testing.T) {
	files := map[string]string{
		"a": "handler handle hand",
		"b": "handshake",
		"c": "nothing",
		"d": "HANDLE",
	}
	for _, q1 := range []string{"h", "ha", "han", "hand"} {
		for _, q2 := range []string{"hand", "handl", "handle", "handler", "hands"} {
			if !strings.HasPrefix(q2, q1) {
				continue
			}
			t.Run(q1+"->"+q2, func(t *testing.T) {
				c := New(Options{})
				runAll(t, c, text(q1), files)
				parent := matched(c.Current())
				runAll(t, c, text(q2), files)
				child := c.Current()

				assert.Subset(t, parent, matched(child))
				for name, src := range files {
					want := scan(t, text(q2), name, src)
					assert.Equal(t, want.Matches, child.Results[name].Matches, name)
				}
			})
		}
	}
}

func TestCache_CaseInsensitiveRefinement(t *testing.T) {
	q := func(p string) matcher.Query {
		return matcher.Query{Pattern: p, Params: matcher.Params{Mode: matcher.ModeText}}
	}
	files := map[string]string{"a": "Hello HELLO help", "b": "hell"}
	c := New(Options{})
	runAll(t, c, q("hel"), files)
	scanned := runAll(t, c, q("hello"), files)

	assert.Empty(t, scanned)
	assert.Len(t, c.Current().Results["a"].Matches, 2)
	assert.Contains(t, c.Current().Excluded, "b")
}

func TestCache_NonRefinableParamsRescan(t *testing.T) {
	for name, params := range map[string]matcher.Params{
		"regex":      {Mode: matcher.ModeRegex, MatchCase: true},
		"whole word": {Mode: matcher.ModeText, MatchCase: true, WholeWord: true},
	} {
		t.Run(name, func(t *testing.T) {
			files := map[string]string{"a": "foo", "b": "foob"}
			c := New(Options{})
			runAll(t, c, matcher.Query{Pattern: "foo", Params: params}, files)
			scanned := runAll(t, c, matcher.Query{Pattern: "foob", Params: params}, files)
			assert.ElementsMatch(t, []string{"a", "b"}, scanned)
		})
	}
}

func TestCache_IncompleteParentDoesNotSeed(t *testing.T) {
	c := New(Options{})
	c.Create(text("foo"))
	c.AddResult(matcher.Result{File: "A", Source: "foo", Matches: []matcher.Match{{Start: 0, End: 3}}})

	c.Create(text("foob"))
	assert.True(t, c.ShouldProcess("A"))
	assert.Empty(t, c.Current().Results)
}

func TestCache_ReusesExactNode(t *testing.T) {
	c := New(Options{})
	first := c.Create(text("foo"))
	c.AddResult(matcher.Result{File: "A", Source: "foo", Matches: []matcher.Match{{Start: 0, End: 3}}})
	c.Create(text("bar"))

	again := c.Create(text("foo"))
	assert.Equal(t, first.ID, again.ID)
	assert.False(t, c.ShouldProcess("A"))
	r, ok := c.Result("A")
	assert.True(t, ok)
	assert.Equal(t, "foo", r.Source)
	assert.Equal(t, 2, c.Len())
}

func TestCache_FindSuitableLongest(t *testing.T) {
	c := New(Options{})
	c.Create(text("f"))
	c.Create(text("fo"))
	c.Create(text("foo"))
	c.Create(text("bar"))

	// current is "bar": falls back to breadth-first search
	n := c.FindSuitable(text("fooz"))
	require.NotNil(t, n)
	assert.Equal(t, "foo", n.Query)

	// from the current node the walk descends to the deepest cover
	c.Create(text("f"))
	n = c.FindSuitable(text("foox"))
	require.NotNil(t, n)
	assert.Equal(t, "foo", n.Query)

	assert.Nil(t, c.FindSuitable(text("zzz")))
	assert.Nil(t, c.FindSuitable(matcher.Query{Pattern: "foo", Params: matcher.Params{Mode: matcher.ModeText}}))
	require.NoError(t, c.validate())
}

func TestCache_ShouldProcessAndAddResult(t *testing.T) {
	c := New(Options{})
	assert.True(t, c.ShouldProcess("x"), "no current node")

	c.Create(text("foo"))
	assert.True(t, c.ShouldProcess("x"))
	c.AddResult(matcher.Result{File: "x", Source: "nope"})
	assert.False(t, c.ShouldProcess("x"))
	assert.Contains(t, c.Current().Excluded, "x")

	c.AddResult(matcher.Result{File: "x", Source: "foo", Matches: []matcher.Match{{Start: 0, End: 3}}})
	assert.NotContains(t, c.Current().Excluded, "x")
	assert.Contains(t, c.Current().Results, "x")
}

func TestCache_FailedFileIsRescanned(t *testing.T) {
	c := New(Options{})
	c.Create(text("foo"))
	c.AddResult(matcher.Result{File: "x", Err: errors.New("busy")})
	assert.True(t, c.ShouldProcess("x"))
	assert.NotContains(t, c.Current().Excluded, "x")
	assert.NotContains(t, c.Current().Processed, "x")
	c.MarkCurrentComplete()
	require.NoError(t, c.validate())

	// a refinement of the complete node does not inherit the failure
	c.Create(text("foob"))
	assert.True(t, c.ShouldProcess("x"))

	c.AddResult(matcher.Result{File: "x", Source: "foob", Matches: []matcher.Match{{Start: 0, End: 4}}})
	c.AddResult(matcher.Result{File: "x", Err: errors.New("gone")})
	assert.NotContains(t, c.Current().Results, "x")
	assert.True(t, c.ShouldProcess("x"))
}

func TestCache_ClearFile(t *testing.T) {
	files := map[string]string{"A": "foo", "B": "bar"}
	c := New(Options{})
	runAll(t, c, text("fo"), files)
	runAll(t, c, text("foo"), files)

	c.ClearFile("A")
	assert.True(t, c.ShouldProcess("A"))
	assert.False(t, c.ShouldProcess("B"))
	for _, id := range c.Roots() {
		assert.NotContains(t, c.Node(id).Results, "A")
	}

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.Nil(t, c.Current())
}

func TestCache_EvictionBound(t *testing.T) {
	c := New(Options{})
	for i := range 30 {
		// a chain of refinements plus unrelated roots
		c.Create(text("q" + strings.Repeat("x", i%7) + fmt.Sprintf("-%c", 'a'+i)))
		c.Create(text(fmt.Sprintf("root%c", 'a'+i)))
		assert.LessOrEqual(t, c.Len(), DefaultMaxNodes)
		require.NoError(t, c.validate())
	}
	assert.NotNil(t, c.Current())
}

func TestCache_EvictionKeepsCurrentChain(t *testing.T) {
	c := New(Options{MaxNodes: 3})
	c.Create(text("a"))
	c.Create(text("ab"))
	c.Create(text("abc"))
	c.Create(text("abcd"))

	assert.Equal(t, 3, c.Len())
	require.NoError(t, c.validate())
	cur := c.Current()
	assert.Equal(t, "abcd", cur.Query)
	// every ancestor of the current node is still there
	for id := cur.Parent; id != 0; id = c.Node(id).Parent {
		require.NotNil(t, c.Node(id))
	}
}

func TestCache_AddResultWithoutCurrentPanics(t *testing.T) {
	assert.Panics(t, func() { New(Options{}).AddResult(matcher.Result{File: "x"}) })
}
