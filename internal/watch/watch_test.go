package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newWatcher(t *testing.T, opts Options) *Watcher {
	t.Helper()
	w, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// await returns the first event for path with the given type, skipping
// others, or fails after a timeout.
func await(t *testing.T, w *Watcher, path string, typ EventType) Event {
	t.Helper()
	timer := time.NewTimer(3 * time.Second)
	defer timer.Stop()
	for {
		select {
		case ev, ok := <-w.Events():
			require.True(t, ok, "events closed")
			require.NoError(t, ev.Err)
			if ev.Path == path && ev.Type == typ {
				return ev
			}
		case <-timer.C:
			t.Fatalf("timed out waiting for %s %s", typ, path)
		}
	}
}

// quiet fails if an event for path arrives within d.
func quiet(t *testing.T, w *Watcher, path string, d time.Duration) {
	t.Helper()
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case ev := <-w.Events():
			assert.NotEqual(t, path, ev.Path, "unexpected %s event", ev.Type)
		case <-timer.C:
			return
		}
	}
}

func TestWatcher_CreateAndClose(t *testing.T) {
	w, err := New(Options{Roots: []string{t.TempDir()}})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	_, ok := <-w.Events()
	assert.False(t, ok)
}

func TestWatcher_MissingRoot(t *testing.T) {
	_, err := New(Options{Roots: []string{filepath.Join(t.TempDir(), "nope")}})
	assert.Error(t, err)
}

func TestWatcher_DetectModify(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	require.NoError(t, os.WriteFile(path, []byte("initial\n"), 0o644))

	w := newWatcher(t, Options{Roots: []string{dir}})

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("new line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	await(t, w, path, EventModified)
}

func TestWatcher_CreateAndDelete(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, Options{Roots: []string{dir}})

	path := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	await(t, w, path, EventCreated)

	require.NoError(t, os.Remove(path))
	await(t, w, path, EventDeleted)
}

func TestWatcher_Recursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	w := newWatcher(t, Options{Roots: []string{dir}})

	path := filepath.Join(sub, "deep.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	await(t, w, path, EventCreated)
}

func TestWatcher_NewDirectoryFollowed(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, Options{Roots: []string{dir}})

	sub := filepath.Join(dir, "later")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// the file may land before or after the watch on sub is added; both
	// paths report it as created
	path := filepath.Join(sub, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	await(t, w, path, EventCreated)
}

func TestWatcher_SkipsHiddenAndVCS(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".cache"), 0o755))
	w := newWatcher(t, Options{Roots: []string{dir}})

	hidden := filepath.Join(dir, ".cache", "x.txt")
	require.NoError(t, os.WriteFile(hidden, []byte("x"), 0o644))
	git := filepath.Join(dir, ".git", "HEAD")
	require.NoError(t, os.WriteFile(git, []byte("x"), 0o644))
	dot := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(dot, []byte("x"), 0o644))

	visible := filepath.Join(dir, "seen.txt")
	require.NoError(t, os.WriteFile(visible, []byte("x"), 0o644))
	await(t, w, visible, EventCreated)
	quiet(t, w, dot, 100*time.Millisecond)
}

func TestWatcher_FileRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.txt")
	other := filepath.Join(dir, "other.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	w := newWatcher(t, Options{Roots: []string{path}})

	require.NoError(t, os.WriteFile(other, []byte("y"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte("xx"), 0o644))
	await(t, w, path, EventModified)
	quiet(t, w, other, 100*time.Millisecond)
}

func TestWatcher_RelativeRootSpelling(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	w := newWatcher(t, Options{})

	require.NoError(t, os.WriteFile("a.txt", []byte("x"), 0o644))
	await(t, w, "./a.txt", EventCreated)
}

func TestEventTypeString(t *testing.T) {
	assert.Equal(t, "modified", EventModified.String())
	assert.Equal(t, "created", EventCreated.String())
	assert.Equal(t, "deleted", EventDeleted.String())
	assert.Equal(t, "EventType(9)", EventType(9).String())
}
