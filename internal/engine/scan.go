package engine

import (
	"context"
	"fmt"
	"runtime"

	"github.com/dl/incsearch/internal/matcher"
)

// FileError describes a failure to read or scan a single file.
type FileError struct {
	Path string
	Op   string
	Err  error
}

func (e *FileError) Error() string {
	return e.Op + " " + e.Path + ": " + e.Err.Error()
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// scanFile reads and scans one file. ok is false when ctx was cancelled
// before the file finished; such partial work is discarded.
func (e *Engine) scanFile(ctx context.Context, m matcher.Matcher, file string, r Reader) (res matcher.Result, ok bool) {
	res.File = file
	if ctx.Err() != nil {
		return res, false
	}

	defer func() {
		if p := recover(); p != nil {
			res = matcher.Result{File: file, Err: &FileError{Path: file, Op: "scan", Err: fmt.Errorf("panic: %v", p)}}
			ok = true
		}
	}()

	src, err := r.Read(ctx, file)
	if ctx.Err() != nil {
		return res, false
	}
	if err != nil {
		e.logger.Debug("read failed", "path", file, "err", err)
		res.Err = &FileError{Path: file, Op: "read", Err: err}
		return res, true
	}
	res.Source = src

	var matches []matcher.Match
	if len(src) >= e.opts.ChunkThreshold {
		matches, err = e.scanChunked(ctx, m, src)
	} else {
		matches, err = e.scanWhole(ctx, m, src)
	}
	if err != nil {
		return res, false
	}
	res.Matches = matches
	return res, true
}

// scanWhole scans a small source in one pass and resolves positions with a
// line table built once for the file. The matcher itself runs to
// completion; cancellation is polled while positions are resolved.
func (e *Engine) scanWhole(ctx context.Context, m matcher.Matcher, src string) ([]matcher.Match, error) {
	spans := m.FindAll(matcher.Bytes(src))
	if len(spans) == 0 {
		return nil, nil
	}

	lt := matcher.NewLineTable(src)
	out := make([]matcher.Match, 0, len(spans))
	for i, s := range spans {
		if i > 0 && i%e.opts.YieldEvery == 0 {
			if err := yield(ctx); err != nil {
				return nil, err
			}
		}
		out = append(out, matcher.Locate(lt, s))
	}
	return out, nil
}

// scanChunked scans a large source in windows of ChunkSize bytes. A window
// owns the matches starting inside it, and is searched together with
// ChunkOverlap bytes of leading context and twice that of trailing context
// so that word boundaries, anchors and lookarounds see the real
// neighbouring text. A span ending at a cut trailing edge is dropped: the
// edge may have produced it. Positions come from a sparse checkpoint cache.
func (e *Engine) scanChunked(ctx context.Context, m matcher.Matcher, src string) ([]matcher.Match, error) {
	data := matcher.Bytes(src)
	cp := matcher.NewCheckpoints(src)
	seen := make(map[matcher.Span]struct{})
	size, overlap := e.opts.ChunkSize, e.opts.ChunkOverlap
	var out []matcher.Match

	for pos := 0; pos < len(data); pos += size {
		owned := min(pos+size, len(data))
		lo := max(pos-overlap, 0)
		hi := min(owned+2*overlap, len(data))

		spans := m.FindAll(data[lo:hi])
		for i, s := range spans {
			if i > 0 && i%e.opts.YieldEvery == 0 {
				if err := yield(ctx); err != nil {
					return nil, err
				}
			}
			abs := matcher.Span{s[0] + lo, s[1] + lo}
			if abs[0] < pos || abs[0] >= owned {
				continue
			}
			if abs[1] == hi && hi < len(data) {
				continue
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}
			out = append(out, matcher.Locate(cp, abs))
		}

		if err := yield(ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// yield lets other goroutines run and reports cancellation.
func yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}
