// Package transform runs user scripts over files. A job's find script
// reports the ranges to act on and its optional replace script computes
// the text to put in their place; results stream back per file.
package transform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dop251/goja"

	"github.com/dl/incsearch/internal/matcher"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("transform pool closed")

// Reader reads the full source text of a file.
type Reader interface {
	Read(ctx context.Context, path string) (string, error)
}

// Job is one transform request.
//
// Find is a JavaScript function expression called as find(source, path).
// It returns an array of ranges, each either [start, end] or
// {start, end}, as string indices into source. Replace, when set, is a
// function expression called as replace(text, source, path) for every
// range and returns the replacement text. Config is visible to both
// scripts as the global `config`.
type Job struct {
	Find    string
	Replace string
	Files   []string
	Config  map[string]any
}

// FileResult is the outcome for one file of a job.
type FileResult struct {
	File         string
	Source       string
	Matches      []matcher.Match
	Replacements []string // parallel to Matches when the job has Replace
	Transformed  string   // Source with Replacements applied
	Err          error
}

// ScriptError reports a script that failed to compile or to run.
type ScriptError struct {
	Script string // "find" or "replace"
	File   string // empty for compile errors
	Err    error
}

func (e *ScriptError) Error() string {
	if e.File == "" {
		return e.Script + " script: " + e.Err.Error()
	}
	return e.Script + " script on " + e.File + ": " + e.Err.Error()
}

func (e *ScriptError) Unwrap() error {
	return e.Err
}

// Options configures a Pool.
type Options struct {
	Workers int           // default 2
	Timeout time.Duration // per script call, default 5s
	Logger  *log.Logger
}

// Pool is a fixed set of workers, each owning one JavaScript runtime.
type Pool struct {
	reader Reader
	opts   Options
	logger *log.Logger

	tasks chan task
	quit  chan struct{}
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
	jobs   uint64
}

type compiledJob struct {
	id      uint64
	find    *goja.Program
	replace *goja.Program // nil without Replace
	config  map[string]any
}

type task struct {
	ctx  context.Context
	job  *compiledJob
	file string
	out  chan<- FileResult
	done func()
}

// New starts a Pool reading files through r.
func New(r Reader, opts Options) (*Pool, error) {
	if r == nil {
		return nil, errors.New("transform: nil reader")
	}
	if opts.Workers <= 0 {
		opts.Workers = min(2, runtime.NumCPU())
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}

	p := &Pool{
		reader: r,
		opts:   opts,
		logger: opts.Logger,
		tasks:  make(chan task),
		quit:   make(chan struct{}),
	}
	for range opts.Workers {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w := &worker{pool: p}
			for {
				select {
				case t := <-p.tasks:
					w.handle(t)
				case <-p.quit:
					return
				}
			}
		}()
	}
	return p, nil
}

// Run compiles job and streams one FileResult per file. The channel is
// closed when every file is done, ctx ends or the pool is closed; the
// caller must drain it. Compile failures are returned as *ScriptError
// before any file is read.
func (p *Pool) Run(ctx context.Context, job Job) (<-chan FileResult, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.jobs++
	id := p.jobs
	p.wg.Add(1)
	p.mu.Unlock()

	cj, err := compile(id, job)
	if err != nil {
		p.wg.Done()
		return nil, err
	}

	out := make(chan FileResult, p.opts.Workers)
	go func() {
		defer p.wg.Done()
		defer close(out)

		var pending sync.WaitGroup
	dispatch:
		for _, file := range job.Files {
			pending.Add(1)
			t := task{ctx: ctx, job: cj, file: file, out: out, done: pending.Done}
			select {
			case p.tasks <- t:
			case <-ctx.Done():
				pending.Done()
				break dispatch
			case <-p.quit:
				pending.Done()
				break dispatch
			}
		}
		pending.Wait()
		p.logger.Debug("transform job finished", "job", id, "files", len(job.Files), "cancelled", ctx.Err() != nil)
	}()
	return out, nil
}

// Close stops the workers and waits for in-flight jobs to wind down.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.quit)
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

// compile checks that both scripts parse and evaluate to functions.
func compile(id uint64, job Job) (*compiledJob, error) {
	cj := &compiledJob{id: id, config: job.Config}

	var err error
	if cj.find, err = compileFunc("find", job.Find); err != nil {
		return nil, err
	}
	if job.Replace != "" {
		if cj.replace, err = compileFunc("replace", job.Replace); err != nil {
			return nil, err
		}
	}
	return cj, nil
}

func compileFunc(name, src string) (*goja.Program, error) {
	if src == "" {
		return nil, &ScriptError{Script: name, Err: matcher.ErrEmptyPattern}
	}
	prog, err := goja.Compile(name, "("+src+")", false)
	if err != nil {
		return nil, &ScriptError{Script: name, Err: err}
	}

	vm := goja.New()
	_ = vm.Set("config", map[string]any{})
	v, err := vm.RunProgram(prog)
	if err != nil {
		return nil, &ScriptError{Script: name, Err: err}
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return nil, &ScriptError{Script: name, Err: fmt.Errorf("expression is not a function")}
	}
	return prog, nil
}
