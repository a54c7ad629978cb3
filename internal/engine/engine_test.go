package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dl/incsearch/internal/matcher"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// memReader serves sources from a map and counts reads.
type memReader struct {
	mu    sync.Mutex
	files map[string]string
	reads map[string]int
}

func newMemReader(files map[string]string) *memReader {
	return &memReader{files: files, reads: make(map[string]int)}
}

func (r *memReader) Read(_ context.Context, path string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads[path]++
	src, ok := r.files[path]
	if !ok {
		return "", fmt.Errorf("no such file")
	}
	return src, nil
}

type collected struct {
	results  map[string]matcher.Result
	progress [][2]int
}

func collect() (*collected, Handler) {
	c := &collected{results: make(map[string]matcher.Result)}
	return c, Handler{
		OnResult:   func(r matcher.Result) { c.results[r.File] = r },
		OnProgress: func(done, total int) { c.progress = append(c.progress, [2]int{done, total}) },
	}
}

func textQuery(p string) matcher.Query {
	return matcher.Query{Pattern: p, Params: matcher.Params{Mode: matcher.ModeText, MatchCase: true}}
}

func spans(ms []matcher.Match) [][2]int {
	out := make([][2]int, len(ms))
	for i, m := range ms {
		out[i] = [2]int{m.Start, m.End}
	}
	return out
}

func TestSearch_FooScenario(t *testing.T) {
	r := newMemReader(map[string]string{"A": "foo bar foo", "B": "nothing here"})
	c, h := collect()

	found, err := New(Options{}).Search(context.Background(), textQuery("foo"), []string{"A", "B"}, r, h)
	require.NoError(t, err)

	assert.Equal(t, map[string]struct{}{"A": {}}, found)
	require.Len(t, c.results, 2)
	assert.Equal(t, [][2]int{{0, 3}, {8, 11}}, spans(c.results["A"].Matches))
	assert.Empty(t, c.results["B"].Matches)
	assert.NoError(t, c.results["B"].Err)
	assert.Equal(t, [2]int{2, 2}, c.progress[len(c.progress)-1])
}

func TestSearch_CaptureGroupSpan(t *testing.T) {
	r := newMemReader(map[string]string{"f": "go go stop"})
	c, h := collect()
	q := matcher.Query{Pattern: `(\w+)\s+\1$1`, Params: matcher.Params{Mode: matcher.ModeRegex, MatchCase: true}}

	_, err := New(Options{}).Search(context.Background(), q, []string{"f"}, r, h)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 2}}, spans(c.results["f"].Matches))
}

func TestSearch_ReadErrorIsPerFile(t *testing.T) {
	r := newMemReader(map[string]string{"ok": "foo"})
	c, h := collect()

	found, err := New(Options{}).Search(context.Background(), textQuery("foo"), []string{"missing", "ok"}, r, h)
	require.NoError(t, err)

	assert.Contains(t, found, "ok")
	var fe *FileError
	require.ErrorAs(t, c.results["missing"].Err, &fe)
	assert.Equal(t, "read", fe.Op)
	assert.Empty(t, c.results["missing"].Matches)
}

func TestSearch_InvalidPattern(t *testing.T) {
	q := matcher.Query{Pattern: `(unclosed`, Params: matcher.Params{Mode: matcher.ModeRegex}}
	_, err := New(Options{}).Search(context.Background(), q, []string{"a"}, newMemReader(nil), Handler{})
	assert.Error(t, err)
}

func TestSearch_ChunkBoundary(t *testing.T) {
	opts := DefaultOptions()
	boundary := opts.ChunkSize

	// just above the chunk threshold, one match straddling the first window
	// boundary and one lying entirely inside the overlap region
	buf := []byte(strings.Repeat("x", opts.ChunkThreshold+16))
	copy(buf[boundary-3:], "needle")
	copy(buf[boundary+100:], "needle")
	r := newMemReader(map[string]string{"big": string(buf)})
	c, h := collect()

	found, err := New(opts).Search(context.Background(), textQuery("needle"), []string{"big"}, r, h)
	require.NoError(t, err)
	assert.Contains(t, found, "big")
	assert.Equal(t, [][2]int{{boundary - 3, boundary + 3}, {boundary + 100, boundary + 106}}, spans(c.results["big"].Matches))
}

func searchSpans(t *testing.T, opts Options, q matcher.Query, src string) [][2]int {
	t.Helper()
	r := newMemReader(map[string]string{"f": src})
	c, h := collect()
	_, err := New(opts).Search(context.Background(), q, []string{"f"}, r, h)
	require.NoError(t, err)
	return spans(c.results["f"].Matches)
}

func TestSearch_ChunkEdgesKeepContext(t *testing.T) {
	words := []string{"foo", "xfoo", "foox", "bar", "\nfoo", "foo\n", "xx"}
	var b strings.Builder
	for i := range 3000 {
		b.WriteString(words[(i*7+i/3)%len(words)])
		if i%5 == 0 {
			b.WriteByte('\n')
		} else {
			b.WriteByte(' ')
		}
	}
	src := b.String()

	whole := Options{ChunkThreshold: 1 << 30}
	chunked := Options{ChunkThreshold: 64, ChunkSize: 64, ChunkOverlap: 8}
	regex := func(p string) matcher.Query {
		return matcher.Query{Pattern: p, Params: matcher.Params{Mode: matcher.ModeRegex, MatchCase: true}}
	}

	for name, q := range map[string]matcher.Query{
		"whole word": {Pattern: "foo", Params: matcher.Params{Mode: matcher.ModeText, MatchCase: true, WholeWord: true}},
		"line start": regex(`^foo`),
		"line end":   regex(`foo$`),
		"lookbehind": regex(`(?<=x)foo`),
		"lookahead":  regex(`foo(?=x)`),
		"literal":    textQuery("foo"),
	} {
		t.Run(name, func(t *testing.T) {
			want := searchSpans(t, whole, q, src)
			require.NotEmpty(t, want)
			assert.Equal(t, want, searchSpans(t, chunked, q, src))
		})
	}
}

func TestSearch_ChunkStartInsideWord(t *testing.T) {
	opts := DefaultOptions()
	buf := []byte(strings.Repeat(" ", opts.ChunkThreshold+16))
	copy(buf[opts.ChunkSize-1:], "xfoo")
	src := string(buf)

	word := matcher.Query{Pattern: "foo", Params: matcher.Params{Mode: matcher.ModeText, MatchCase: true, WholeWord: true}}
	anchored := matcher.Query{Pattern: `^foo`, Params: matcher.Params{Mode: matcher.ModeRegex, MatchCase: true}}

	assert.Empty(t, searchSpans(t, opts, word, src))
	assert.Empty(t, searchSpans(t, opts, anchored, src))
	assert.Equal(t, [][2]int{{opts.ChunkSize, opts.ChunkSize + 3}}, searchSpans(t, opts, textQuery("foo"), src))
}

func TestScanWhole_PollsCancellation(t *testing.T) {
	e := New(Options{YieldEvery: 10})
	m, err := matcher.New(textQuery("a"))
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.scanWhole(ctx, m, strings.Repeat("a ", 100))
	assert.ErrorIs(t, err, context.Canceled)

	ms, err := e.scanWhole(context.Background(), m, strings.Repeat("a ", 100))
	require.NoError(t, err)
	assert.Len(t, ms, 100)
}

func TestSearch_RoundTripBothAlgorithms(t *testing.T) {
	var b strings.Builder
	want := 0
	for i := range 4000 {
		fmt.Fprintf(&b, "line %d has Alpha and beta%d\n", i, i%7)
		if i%7 <= 3 {
			want++
		}
	}
	src := b.String()

	for name, opts := range map[string]Options{
		"whole":   {},
		"chunked": {ChunkThreshold: 1024, ChunkSize: 4096, ChunkOverlap: 64},
	} {
		t.Run(name, func(t *testing.T) {
			r := newMemReader(map[string]string{"f": src})
			c, h := collect()
			q := matcher.Query{Pattern: `beta[0-3]`, Params: matcher.Params{Mode: matcher.ModeRegex, MatchCase: true}}

			_, err := New(opts).Search(context.Background(), q, []string{"f"}, r, h)
			require.NoError(t, err)

			res := c.results["f"]
			assert.Len(t, res.Matches, want)
			lt := matcher.NewLineTable(src)
			for _, m := range res.Matches {
				require.True(t, 0 <= m.Start && m.Start < m.End && m.End <= len(src))
				text := m.Text(src)
				assert.Regexp(t, `^beta[0-3]$`, text)
				line, col := lt.Position(m.Start)
				assert.Equal(t, line, m.LineStart)
				assert.Equal(t, col, m.ColStart)
			}
		})
	}
}

func TestSearch_Idempotent(t *testing.T) {
	files := make(map[string]string)
	var names []string
	for i := range 130 {
		name := fmt.Sprintf("f%03d", i)
		names = append(names, name)
		files[name] = strings.Repeat(fmt.Sprintf("token%d ", i%5), 10)
	}
	r := newMemReader(files)
	e := New(Options{})

	c1, h1 := collect()
	found1, err := e.Search(context.Background(), textQuery("token3"), names, r, h1)
	require.NoError(t, err)
	c2, h2 := collect()
	found2, err := e.Search(context.Background(), textQuery("token3"), names, r, h2)
	require.NoError(t, err)

	assert.Equal(t, found1, found2)
	assert.Len(t, found1, 26)
	for name, r1 := range c1.results {
		assert.Equal(t, r1.Matches, c2.results[name].Matches, name)
	}
}

// blockingReader blocks every read until its context is cancelled.
type blockingReader struct {
	started chan struct{}
	once    sync.Once
}

func (r *blockingReader) Read(ctx context.Context, path string) (string, error) {
	if path == "fast" {
		return "foo", nil
	}
	r.once.Do(func() { close(r.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func TestSearch_CancelReturnsPartial(t *testing.T) {
	r := &blockingReader{started: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	c, h := collect()
	fastDone := make(chan struct{})
	onResult := h.OnResult
	h.OnResult = func(res matcher.Result) {
		onResult(res)
		if res.File == "fast" {
			close(fastDone)
		}
	}

	done := make(chan map[string]struct{})
	go func() {
		found, err := New(Options{GroupSize: 1}).Search(ctx, textQuery("foo"), []string{"fast", "slow1", "slow2"}, r, h)
		assert.NoError(t, err)
		done <- found
	}()

	<-r.started
	<-fastDone
	cancel()

	select {
	case found := <-done:
		assert.Contains(t, found, "fast")
		assert.NotContains(t, c.results, "slow1")
		assert.NotContains(t, c.results, "slow2")
	case <-time.After(5 * time.Second):
		t.Fatal("search did not stop after cancel")
	}
}

func TestPartition(t *testing.T) {
	files := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprint(i)
		}
		return out
	}

	assert.Nil(t, Partition(nil, 4, 50))
	assert.Len(t, Partition(files(10), 4, 50), 1)
	assert.Len(t, Partition(files(120), 4, 50), 3)
	assert.Len(t, Partition(files(1000), 4, 50), 4)

	groups := Partition(files(7), 3, 1)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"0", "3", "6"}, groups[0])
	assert.Equal(t, []string{"1", "4"}, groups[1])

	total := 0
	for _, g := range Partition(files(1001), 4, 50) {
		total += len(g)
	}
	assert.Equal(t, 1001, total)
}

func TestFileError(t *testing.T) {
	inner := errors.New("boom")
	err := &FileError{Path: "a.txt", Op: "read", Err: inner}
	assert.Equal(t, "read a.txt: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
