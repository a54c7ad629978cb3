// Package walker enumerates the candidate files of a search: a parallel
// getdents64 traversal of the roots that honors layered .gitignore files,
// skips VCS and hidden entries and binary formats, and applies include and
// exclude globs.
package walker

import (
	"context"
	"io"
	"runtime"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"
)

// Options configures an Enumerator.
type Options struct {
	Roots    []string
	Hidden   bool // include hidden files and directories
	NoIgnore bool // skip .gitignore processing
	Workers  int  // default NumCPU
	Logger   *log.Logger
}

// Enumerator lists files under a fixed set of roots.
type Enumerator struct {
	opts   Options
	logger *log.Logger
}

// New creates an Enumerator. With no roots it walks the current directory.
func New(opts Options) *Enumerator {
	if len(opts.Roots) == 0 {
		opts.Roots = []string{"."}
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Enumerator{opts: opts, logger: opts.Logger}
}

// Roots returns the roots being enumerated.
func (e *Enumerator) Roots() []string {
	return append([]string(nil), e.opts.Roots...)
}

// Find walks the roots and returns the sorted paths of regular files that
// pass the include and exclude globs, matched against the path relative
// to its root. Unreadable directories below a root are logged and
// skipped; an unreadable root is an error.
func (e *Enumerator) Find(ctx context.Context, include, exclude string) ([]string, error) {
	filter, err := NewGlobFilter(include, exclude)
	if err != nil {
		return nil, err
	}

	var (
		mu    sync.Mutex
		files []string
	)
	err = e.Walk(ctx, func(root, path string) {
		if !filter.Match(relTo(root, path)) {
			return
		}
		mu.Lock()
		files = append(files, path)
		mu.Unlock()
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	e.logger.Debug("files enumerated", "roots", len(e.opts.Roots), "files", len(files), "include", include, "exclude", exclude)
	return files, nil
}

// Walk calls visit for every candidate file under the roots. visit is
// called concurrently from several goroutines.
func (e *Enumerator) Walk(ctx context.Context, visit func(root, path string)) error {
	pw := &parallelWalker{
		ctx:    ctx,
		visit:  visit,
		hidden: e.opts.Hidden,
		logger: e.logger,
	}
	pw.cond = sync.NewCond(&pw.mu)

	for _, root := range e.opts.Roots {
		var stat unix.Stat_t
		if err := unix.Stat(root, &stat); err != nil {
			return &WalkError{Path: root, Err: err}
		}
		switch stat.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			// an explicitly named file is always a candidate
			visit(parentOf(root), root)
		case unix.S_IFDIR:
			var layers []ignoreLayer
			if !e.opts.NoIgnore {
				layers = []ignoreLayer{loadIgnoreLayer(root)}
			}
			pw.enqueue(walkItem{root: root, path: root, ignores: layers})
		}
	}

	if pw.pending == 0 {
		return ctx.Err()
	}

	stop := context.AfterFunc(ctx, pw.abort)
	defer stop()

	var wg sync.WaitGroup
	for range e.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pw.worker()
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// walkItem is a directory waiting to be read.
type walkItem struct {
	root    string
	path    string
	ignores []ignoreLayer // nil when ignore rules are off
}

// parallelWalker coordinates a breadth-first traversal shared by workers.
type parallelWalker struct {
	ctx    context.Context
	visit  func(root, path string)
	hidden bool
	logger *log.Logger

	mu      sync.Mutex
	queue   []walkItem
	pending int // directories enqueued but not yet fully processed
	cond    *sync.Cond
	done    bool
}

func (pw *parallelWalker) enqueue(item walkItem) {
	pw.mu.Lock()
	pw.queue = append(pw.queue, item)
	pw.pending++
	pw.mu.Unlock()
	pw.cond.Signal()
}

// dequeue blocks until a directory is available. It returns false once
// the walk is complete or aborted.
func (pw *parallelWalker) dequeue() (walkItem, bool) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	for len(pw.queue) == 0 && !pw.done {
		pw.cond.Wait()
	}
	if pw.done {
		return walkItem{}, false
	}
	item := pw.queue[0]
	pw.queue = pw.queue[1:]
	return item, true
}

func (pw *parallelWalker) finish() {
	pw.mu.Lock()
	pw.pending--
	if pw.pending == 0 && len(pw.queue) == 0 {
		pw.done = true
		pw.cond.Broadcast()
	}
	pw.mu.Unlock()
}

func (pw *parallelWalker) abort() {
	pw.mu.Lock()
	pw.done = true
	pw.queue = nil
	pw.mu.Unlock()
	pw.cond.Broadcast()
}

func (pw *parallelWalker) worker() {
	buf := make([]byte, 32*1024) // per-worker getdents buffer
	var dirents []Dirent
	for {
		item, ok := pw.dequeue()
		if !ok {
			return
		}
		dirents = pw.processDir(item, buf, dirents)
		pw.finish()
	}
}

// processDir reads one directory and dispatches its entries. The
// directory fd is closed before subdirectories are enqueued.
func (pw *parallelWalker) processDir(item walkItem, buf []byte, dirents []Dirent) []Dirent {
	fd, err := unix.Open(item.path, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_NOATIME, 0)
	if err != nil {
		fd, err = unix.Open(item.path, unix.O_RDONLY|unix.O_DIRECTORY, 0)
		if err != nil {
			pw.logger.Debug("skipping directory", "path", item.path, "err", err)
			return dirents
		}
	}

	var subdirs []walkItem
	for pw.ctx.Err() == nil {
		n, err := unix.Getdents(fd, buf)
		if err != nil {
			pw.logger.Debug("reading directory", "path", item.path, "err", err)
			break
		}
		if n == 0 {
			break
		}
		dirents = ParseDirents(buf, n, dirents)
		for _, entry := range dirents {
			if sub, ok := pw.dispatch(item, entry); ok {
				subdirs = append(subdirs, sub)
			}
		}
	}
	unix.Close(fd)

	for _, sub := range subdirs {
		pw.enqueue(sub)
	}
	return dirents
}

// dispatch visits a file entry or returns the work item for a directory
// entry. Symlinks and unknown types are resolved with stat; broken links
// are skipped.
func (pw *parallelWalker) dispatch(item walkItem, entry Dirent) (walkItem, bool) {
	fullPath := joinPath(item.path, entry.Name)

	typ := entry.Type
	if typ == DT_LNK || typ == DT_UNKNOWN {
		var stat unix.Stat_t
		if err := unix.Stat(fullPath, &stat); err != nil {
			return walkItem{}, false
		}
		switch stat.Mode & unix.S_IFMT {
		case unix.S_IFREG:
			typ = DT_REG
		case unix.S_IFDIR:
			typ = DT_DIR
		default:
			return walkItem{}, false
		}
	}

	switch typ {
	case DT_DIR:
		if SkipDir(entry.Name, pw.hidden) || isIgnoredByLayers(item.ignores, fullPath, true) {
			return walkItem{}, false
		}
		return walkItem{root: item.root, path: fullPath, ignores: childLayers(item.ignores, fullPath)}, true
	case DT_REG:
		if SkipFile(entry.Name, pw.hidden) || isIgnoredByLayers(item.ignores, fullPath, false) {
			return walkItem{}, false
		}
		pw.visit(item.root, fullPath)
	}
	return walkItem{}, false
}

// joinPath concatenates a directory and entry name with a single
// separator, in one allocation.
func joinPath(dirPath, name string) string {
	needsSep := len(dirPath) == 0 || dirPath[len(dirPath)-1] != '/'
	n := len(dirPath) + len(name)
	if needsSep {
		n++
	}
	buf := make([]byte, n)
	copy(buf, dirPath)
	i := len(dirPath)
	if needsSep {
		buf[i] = '/'
		i++
	}
	copy(buf[i:], name)
	return unsafe.String(&buf[0], len(buf))
}

// relTo returns path relative to root, with slashes.
func relTo(root, path string) string {
	rel := strings.TrimPrefix(path, root)
	return strings.TrimPrefix(rel, "/")
}

func parentOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}

// WalkError reports a root that could not be walked.
type WalkError struct {
	Path string
	Err  error
}

func (e *WalkError) Error() string {
	return "walk " + e.Path + ": " + e.Err.Error()
}

func (e *WalkError) Unwrap() error {
	return e.Err
}
