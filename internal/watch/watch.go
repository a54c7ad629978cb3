// Package watch reports changes to the files under a set of roots. It
// watches every directory recursively, follows directories created after
// the watch started, and applies the same hidden and VCS skipping rules as
// the file enumerator. Paths are reported in the form the enumerator
// produces them for the same roots.
package watch

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/dl/incsearch/internal/walker"
)

// Event represents a file change event. Err is set, and Path empty, for
// errors reported by the underlying watch.
type Event struct {
	Path string
	Type EventType
	Err  error
}

// EventType identifies the kind of file change.
type EventType int

const (
	EventModified EventType = iota
	EventCreated
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventModified:
		return "modified"
	case EventCreated:
		return "created"
	case EventDeleted:
		return "deleted"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Options configures a Watcher.
type Options struct {
	Roots  []string
	Hidden bool // report hidden files and descend into hidden directories
	Buffer int  // event channel capacity, default 256
	Logger *log.Logger
}

// Watcher watches files and directories for changes.
type Watcher struct {
	fsw    *fsnotify.Watcher
	opts   Options
	logger *log.Logger
	events chan Event
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	mu    sync.Mutex
	dirs  map[string]string   // cleaned dir -> dir as the enumerator spells it
	files map[string]string   // cleaned file root -> file root as given
	roots map[string]struct{} // cleaned parents of file roots
}

// New starts watching the roots. With no roots it watches the current
// directory.
func New(opts Options) (*Watcher, error) {
	if len(opts.Roots) == 0 {
		opts.Roots = []string{"."}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		fsw:    fsw,
		opts:   opts,
		logger: opts.Logger,
		events: make(chan Event, opts.Buffer),
		done:   make(chan struct{}),
		dirs:   make(map[string]string),
		files:  make(map[string]string),
		roots:  make(map[string]struct{}),
	}

	for _, root := range opts.Roots {
		info, err := os.Stat(root)
		if err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watch %s: %w", root, err)
		}
		if !info.IsDir() {
			err = w.addFile(root)
		} else {
			err = w.addTree(root, nil)
		}
		if err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Events returns the event channel. It is closed by Close.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fsw.Close()
		w.wg.Wait()
		close(w.events)
	})
	return err
}

// addFile watches a single file through its parent directory, since
// editors replace files by renaming over them.
func (w *Watcher) addFile(path string) error {
	parent := filepath.Dir(path)
	if err := w.fsw.Add(parent); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.mu.Lock()
	w.files[filepath.Clean(path)] = path
	w.roots[filepath.Clean(parent)] = struct{}{}
	w.mu.Unlock()
	return nil
}

// addTree watches dir and every directory below it that is not skipped.
// Files found under directories created after the watch started are
// passed to found, since their creation may predate the watch.
func (w *Watcher) addTree(dir string, found func(path string)) error {
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.mu.Lock()
	w.dirs[filepath.Clean(dir)] = dir
	w.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Debug("reading directory", "path", dir, "err", err)
		return nil
	}
	for _, e := range entries {
		path := join(dir, e.Name())
		switch {
		case e.IsDir():
			if walker.SkipDir(e.Name(), w.opts.Hidden) {
				continue
			}
			if err := w.addTree(path, found); err != nil {
				w.logger.Debug("skipping directory", "path", path, "err", err)
			}
		case found != nil && e.Type().IsRegular():
			if !walker.SkipFile(e.Name(), w.opts.Hidden) {
				found(path)
			}
		}
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.logger.Warn("watch queue overflowed, changes may be missed")
			}
			w.send(Event{Err: err})
		}
	}
}

// handle translates one fsnotify event. Chmod-only events are dropped.
func (w *Watcher) handle(ev fsnotify.Event) {
	path, ok := w.resolve(ev.Name)
	if !ok {
		return
	}
	name := filepath.Base(ev.Name)

	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err != nil {
			return // gone already
		}
		if info.IsDir() {
			if walker.SkipDir(name, w.opts.Hidden) {
				return
			}
			if err := w.addTree(path, func(p string) { w.send(Event{Path: p, Type: EventCreated}) }); err != nil {
				w.logger.Debug("watching new directory", "path", path, "err", err)
			}
			return
		}
		if !walker.SkipFile(name, w.opts.Hidden) {
			w.send(Event{Path: path, Type: EventCreated})
		}
	case ev.Has(fsnotify.Write):
		if !walker.SkipFile(name, w.opts.Hidden) {
			w.send(Event{Path: path, Type: EventModified})
		}
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		w.mu.Lock()
		_, wasDir := w.dirs[filepath.Clean(ev.Name)]
		w.forgetTree(filepath.Clean(ev.Name))
		w.mu.Unlock()
		if !wasDir && !walker.SkipFile(name, w.opts.Hidden) {
			w.send(Event{Path: path, Type: EventDeleted})
		}
	}
}

// resolve maps an fsnotify name back to the enumerator's spelling and
// reports whether the path is being watched at all.
func (w *Watcher) resolve(name string) (string, bool) {
	parent := filepath.Dir(name)
	w.mu.Lock()
	defer w.mu.Unlock()
	if dir, ok := w.dirs[parent]; ok {
		return join(dir, filepath.Base(name)), true
	}
	if _, ok := w.roots[parent]; ok {
		if path, ok := w.files[filepath.Clean(name)]; ok {
			return path, true
		}
	}
	return "", false
}

// forgetTree drops dir and its descendants; fsnotify removes the watches
// of deleted directories by itself.
func (w *Watcher) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
		}
	}
}

func (w *Watcher) send(ev Event) {
	select {
	case w.events <- ev:
	case <-w.done:
	}
}

func join(dir, name string) string {
	if strings.HasSuffix(dir, "/") {
		return dir + name
	}
	return dir + "/" + name
}
