package output

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, data []byte) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	return m
}

func TestJSONFormatter_Result(t *testing.T) {
	ev := resultEvent()
	ev.Gen = 7
	ev.Replacements = []string{"x", "y"}
	ev.Preview = "alpha\nx bar y\nomega"

	got := decode(t, NewJSONFormatter(false).Format(nil, ev))
	assert.Equal(t, "result", got["type"])
	assert.Equal(t, float64(7), got["gen"])
	assert.Equal(t, "a.txt", got["file"])
	assert.NotContains(t, got, "preview")

	matches := got["matches"].([]any)
	require.Len(t, matches, 2)
	second := matches[1].(map[string]any)
	assert.Equal(t, float64(14), second["start"])
	assert.Equal(t, float64(17), second["end"])
	assert.Equal(t, float64(2), second["line"])
	assert.Equal(t, float64(9), second["column"])
	assert.Equal(t, "foo", second["text"])
	assert.Equal(t, "y", second["replacement"])

	withPreview := decode(t, NewJSONFormatter(true).Format(nil, ev))
	assert.Equal(t, ev.Preview, withPreview["preview"])
}

func TestJSONFormatter_Lifecycle(t *testing.T) {
	f := NewJSONFormatter(false)

	got := decode(t, f.Format(nil, Event{Type: EventProgress, Completed: 3, Total: 9}))
	assert.Equal(t, "progress", got["type"])
	assert.Equal(t, float64(3), got["completed"])
	assert.Equal(t, float64(9), got["total"])

	got = decode(t, f.Format(nil, Event{Type: EventError, Err: errors.New("bad script")}))
	assert.Equal(t, "error", got["type"])
	assert.Equal(t, "bad script", got["error"])
	assert.NotContains(t, got, "matches")
}

func TestJSONFormatter_AppendsToBuffer(t *testing.T) {
	f := NewJSONFormatter(false)
	buf := f.Format([]byte("prefix\n"), Event{Type: EventStart})
	assert.True(t, strings.HasPrefix(string(buf), "prefix\n{"))
	assert.True(t, strings.HasSuffix(string(buf), "}\n"))
}
