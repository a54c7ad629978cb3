// Package engine scans files for a query concurrently, streaming one
// matcher.Result per file as soon as it is available.
package engine

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dl/incsearch/internal/matcher"
)

// Reader reads the full source text of a file.
type Reader interface {
	Read(ctx context.Context, path string) (string, error)
}

// Handler receives streamed results. Calls are serialized by the engine,
// so implementations need no locking of their own.
type Handler struct {
	OnResult   func(matcher.Result)
	OnProgress func(completed, total int)
}

// Options tunes partitioning and scanning.
type Options struct {
	MaxWorkers      int // upper bound on the number of groups
	GroupSize       int // target files per group when few files remain
	FileConcurrency int // concurrent file tasks inside one group
	ChunkThreshold  int // sources at least this large are scanned in chunks
	ChunkSize       int
	ChunkOverlap    int // must cover the longest expected match
	YieldEvery      int // matches between cancellation checks
	ProgressEvery   int // files between progress events
	Logger          *log.Logger
}

// DefaultOptions returns the stock tuning.
func DefaultOptions() Options {
	return Options{
		MaxWorkers:      4,
		GroupSize:       50,
		FileConcurrency: 64,
		ChunkThreshold:  1 << 20,
		ChunkSize:       512 << 10,
		ChunkOverlap:    1 << 10,
		YieldEvery:      100,
		ProgressEvery:   25,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = d.MaxWorkers
	}
	if o.GroupSize <= 0 {
		o.GroupSize = d.GroupSize
	}
	if o.FileConcurrency <= 0 {
		o.FileConcurrency = d.FileConcurrency
	}
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = d.ChunkThreshold
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = d.ChunkOverlap
	}
	if o.YieldEvery <= 0 {
		o.YieldEvery = d.YieldEvery
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = d.ProgressEvery
	}
	if o.Logger == nil {
		o.Logger = log.New(io.Discard)
	}
	return o
}

// Engine runs searches. It holds no per-search state and may be shared.
type Engine struct {
	opts   Options
	logger *log.Logger
}

// New creates an Engine. Zero fields in opts take their defaults.
func New(opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{opts: opts, logger: opts.Logger}
}

// Options returns the effective options.
func (e *Engine) Options() Options {
	return e.opts
}

// Workers returns the group count used for large file sets:
// min(NumCPU-1, MaxWorkers), at least 1.
func (e *Engine) Workers() int {
	return max(1, min(runtime.NumCPU()-1, e.opts.MaxWorkers))
}

// Search scans files for q and returns the set of files with at least one
// match. Every scanned file yields exactly one OnResult call, including
// files with no matches or a read error. When ctx is cancelled the files
// found so far are returned with a nil error; a non-nil error means the
// search could not run at all.
func (e *Engine) Search(ctx context.Context, q matcher.Query, files []string, r Reader, h Handler) (found map[string]struct{}, err error) {
	m, err := matcher.New(q)
	if err != nil {
		return nil, fmt.Errorf("compile query %q: %w", q.Pattern, err)
	}
	defer m.Close()

	found = make(map[string]struct{})
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("search aborted: %v", p)
		}
	}()

	total := len(files)
	groups := Partition(files, e.Workers(), e.opts.GroupSize)
	e.logger.Debug("search started", "pattern", q.Pattern, "files", total, "groups", len(groups))

	var mu sync.Mutex // guards found, completed and handler calls
	completed := 0

	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}

		var g errgroup.Group
		g.SetLimit(e.opts.FileConcurrency)
		for _, file := range group {
			g.Go(func() error {
				res, ok := e.scanFile(ctx, m, file, r)

				mu.Lock()
				defer mu.Unlock()
				completed++
				if !ok {
					return nil
				}
				if res.HasMatch() {
					found[file] = struct{}{}
				}
				if h.OnResult != nil {
					h.OnResult(res)
				}
				if h.OnProgress != nil && completed%e.opts.ProgressEvery == 0 {
					h.OnProgress(completed, total)
				}
				return nil
			})
		}
		_ = g.Wait()

		if h.OnProgress != nil && ctx.Err() == nil {
			h.OnProgress(completed, total)
		}
	}

	e.logger.Debug("search finished", "pattern", q.Pattern, "matched", len(found), "cancelled", ctx.Err() != nil)
	return found, nil
}

// Partition splits files round-robin into groups. It uses `workers`
// groups, except when fewer than workers*groupSize files are given, in
// which case it uses ceil(len(files)/groupSize) groups.
func Partition(files []string, workers, groupSize int) [][]string {
	if len(files) == 0 {
		return nil
	}
	workers = max(workers, 1)
	groupSize = max(groupSize, 1)

	count := workers
	if len(files) < workers*groupSize {
		count = (len(files) + groupSize - 1) / groupSize
	}

	groups := make([][]string, count)
	for i, f := range files {
		groups[i%count] = append(groups[i%count], f)
	}
	return groups
}
