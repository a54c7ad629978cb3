// Package input reads file contents for searching. Open documents held by
// the host take precedence over disk; disk reads choose between pread and
// mmap by size. Every disk read records a content fingerprint so that
// change notifications can be checked against what was last seen.
package input

import (
	"context"
	"io"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Options configures a FileReader.
type Options struct {
	MmapThreshold    int64 // files at least this large are memory-mapped
	DocumentCache    int   // open documents kept in the overlay
	FingerprintCache int   // paths whose fingerprint is remembered
	Logger           *log.Logger
}

// DefaultOptions returns the stock sizes.
func DefaultOptions() Options {
	return Options{
		MmapThreshold:    4 << 20,
		DocumentCache:    256,
		FingerprintCache: 4096,
	}
}

// FileReader serves file contents from the document overlay or disk.
// It is safe for concurrent use.
type FileReader struct {
	opts   Options
	logger *log.Logger
	docs   *lru.Cache[string, string]
	prints *lru.Cache[string, uint64]
}

// New creates a FileReader.
func New(opts Options) (*FileReader, error) {
	d := DefaultOptions()
	if opts.MmapThreshold <= 0 {
		opts.MmapThreshold = d.MmapThreshold
	}
	if opts.DocumentCache <= 0 {
		opts.DocumentCache = d.DocumentCache
	}
	if opts.FingerprintCache <= 0 {
		opts.FingerprintCache = d.FingerprintCache
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	docs, err := lru.New[string, string](opts.DocumentCache)
	if err != nil {
		return nil, err
	}
	prints, err := lru.New[string, uint64](opts.FingerprintCache)
	if err != nil {
		return nil, err
	}
	return &FileReader{opts: opts, logger: opts.Logger, docs: docs, prints: prints}, nil
}

// Read returns the source text of path. Binary files read as "".
func (r *FileReader) Read(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if text, ok := r.docs.Get(path); ok {
		return text, nil
	}

	s, err := readDisk(path, r.opts.MmapThreshold)
	if err != nil {
		r.prints.Remove(path)
		return "", err
	}
	r.prints.Add(path, s.sum)
	if s.binary {
		r.logger.Debug("binary file skipped", "path", path)
	}
	return s.text, nil
}

// SetDocument makes text the content of path until CloseDocument.
func (r *FileReader) SetDocument(path, text string) {
	r.docs.Add(path, text)
}

// CloseDocument drops the overlay for path; reads go to disk again.
func (r *FileReader) CloseDocument(path string) {
	r.docs.Remove(path)
}

// Changed reports whether the content of path on disk differs from what
// was last read, and remembers the new fingerprint. A path never read
// before counts as changed, as does one that can no longer be read after
// having been read.
func (r *FileReader) Changed(path string) (bool, error) {
	old, known := r.prints.Peek(path)
	s, err := readDisk(path, r.opts.MmapThreshold)
	if err != nil {
		r.prints.Remove(path)
		return known, err
	}
	r.prints.Add(path, s.sum)
	return !known || old != s.sum, nil
}

// Forget drops the remembered fingerprint of path.
func (r *FileReader) Forget(path string) {
	r.prints.Remove(path)
}
