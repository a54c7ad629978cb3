package output

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dl/incsearch/internal/matcher"
)

func resultEvent() Event {
	src := "alpha\nfoo bar foo\nomega"
	return Event{
		Type:   EventResult,
		File:   "a.txt",
		Source: src,
		Matches: []matcher.Match{
			{Start: 6, End: 9, LineStart: 1, ColStart: 0, LineEnd: 1, ColEnd: 3},
			{Start: 14, End: 17, LineStart: 1, ColStart: 8, LineEnd: 1, ColEnd: 11},
		},
	}
}

func TestTextFormatter_Result(t *testing.T) {
	f := NewTextFormatter(NoStyles(), false)
	got := string(f.Format(nil, resultEvent()))
	want := "a.txt:2:1:foo bar foo\na.txt:2:9:foo bar foo\n"
	assert.Equal(t, want, got)
}

func TestTextFormatter_Replacement(t *testing.T) {
	f := NewTextFormatter(NoStyles(), false)
	ev := resultEvent()
	ev.Matches = ev.Matches[:1]
	ev.Replacements = []string{"baz"}

	got := string(f.Format(nil, ev))
	assert.Equal(t, "a.txt:2:1:foo bar foo\n  -> baz bar foo\n", got)
}

func TestTextFormatter_LastLineWithoutNewline(t *testing.T) {
	f := NewTextFormatter(NoStyles(), false)
	ev := Event{Type: EventResult, File: "b", Source: "x\nend", Matches: []matcher.Match{
		{Start: 2, End: 5, LineStart: 1, LineEnd: 1, ColEnd: 3},
	}}
	assert.Equal(t, "b:2:1:end\n", string(f.Format(nil, ev)))
}

func TestTextFormatter_Lifecycle(t *testing.T) {
	quiet := NewTextFormatter(NoStyles(), false)
	loud := NewTextFormatter(NoStyles(), true)

	for _, typ := range []EventType{EventStart, EventProgress, EventDone, EventStop} {
		assert.Empty(t, quiet.Format(nil, Event{Type: typ}), typ.String())
	}
	assert.Equal(t, "-- done: 2 files matched\n", string(loud.Format(nil, Event{Type: EventDone, Matched: 2})))
	assert.Equal(t, "-- stopped\n", string(loud.Format(nil, Event{Type: EventStop})))
	assert.Equal(t, "error: boom\n", string(quiet.Format(nil, Event{Type: EventError, Err: errors.New("boom")})))
	assert.Equal(t, "c: denied\n", string(quiet.Format(nil, Event{Type: EventResult, File: "c", Err: errors.New("denied")})))
}

func TestTextFormatter_ColorHighlightsMatch(t *testing.T) {
	var buf bytes.Buffer
	f := NewTextFormatter(NewStyles(&buf, true), false)
	got := string(f.Format(nil, resultEvent()))
	assert.Contains(t, got, "\x1b[")
	assert.Contains(t, got, "foo")
}

func TestLineBounds(t *testing.T) {
	src := "ab\ncd\n\nef"
	tests := []struct {
		off    int
		lo, hi int
	}{
		{0, 0, 2},
		{1, 0, 2},
		{3, 3, 5},
		{6, 6, 6},
		{7, 7, 9},
		{9, 7, 9},
	}
	for _, tt := range tests {
		lo, hi := lineBounds(src, tt.off)
		assert.Equal(t, [2]int{tt.lo, tt.hi}, [2]int{lo, hi}, "offset %d", tt.off)
	}
}

func TestStreamSink_BatchesUntilLifecycle(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSink(&buf, NewTextFormatter(NoStyles(), true))

	s.Emit(resultEvent())
	assert.Zero(t, buf.Len(), "results are buffered")
	assert.True(t, s.Matched())

	s.Emit(Event{Type: EventDone, Matched: 1})
	assert.Contains(t, buf.String(), "a.txt:2:1:")
	assert.Contains(t, buf.String(), "-- done: 1 files matched")
	require.NoError(t, s.Flush())
}

func TestStreamSink_NoMatchResult(t *testing.T) {
	var buf bytes.Buffer
	s := NewStreamSink(&buf, NewTextFormatter(NoStyles(), false))
	s.Emit(Event{Type: EventResult, File: "x"})
	require.NoError(t, s.Flush())
	assert.False(t, s.Matched())
	assert.Empty(t, buf.String())
}

func TestWriter_WriteBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := NewWriter(f)
	require.NoError(t, w.WriteBatch([][]byte{[]byte("one\n"), nil, []byte("two\n")}))
	n, err := w.Write([]byte("three\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	s := NewStreamSink(w, NewTextFormatter(NoStyles(), false))
	s.Emit(resultEvent())
	require.NoError(t, s.Flush())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\na.txt:2:1:foo bar foo\na.txt:2:9:foo bar foo\n", string(data))
}

func TestEventType_String(t *testing.T) {
	assert.Equal(t, "result", EventResult.String())
	assert.Equal(t, "EventType(42)", EventType(42).String())
}
