// Package orchestrator owns the search parameters and turns parameter
// changes into debounced, cancellable search runs over a stack of levels.
//
// Every run gets a generation number. Results, progress and completion
// of a run are applied to the cache and emitted to the sink only while
// holding the orchestrator lock and only if the run's generation is still
// the current one, so a superseded run can never touch state again.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dl/incsearch/internal/cache"
	"github.com/dl/incsearch/internal/engine"
	"github.com/dl/incsearch/internal/matcher"
	"github.com/dl/incsearch/internal/output"
	"github.com/dl/incsearch/internal/transform"
)

var (
	// ErrNoResults is returned when pushing a level on top of a level
	// that has no completed run to restrict to.
	ErrNoResults = errors.New("no completed results to search in")
	// ErrRootLevel is returned when popping the root level.
	ErrRootLevel = errors.New("already at the root level")
	// ErrClosed is returned by operations on a closed Orchestrator.
	ErrClosed = errors.New("orchestrator closed")
)

// Enumerator lists the candidate files of a root-level search.
type Enumerator interface {
	Find(ctx context.Context, include, exclude string) ([]string, error)
}

// EnumeratorFunc adapts a function to the Enumerator interface.
type EnumeratorFunc func(ctx context.Context, include, exclude string) ([]string, error)

func (f EnumeratorFunc) Find(ctx context.Context, include, exclude string) ([]string, error) {
	return f(ctx, include, exclude)
}

// Transformer runs transform-mode jobs. *transform.Pool implements it.
type Transformer interface {
	Run(ctx context.Context, job transform.Job) (<-chan transform.FileResult, error)
	Close() error
}

// TransformerFactory builds a Transformer on first use.
type TransformerFactory func() (Transformer, error)

// State is the lifecycle state of the most recent run.
type State int

const (
	Idle State = iota
	Running
	Done
	Aborted
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Done:
		return "done"
	case Aborted:
		return "aborted"
	case Error:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Params is the full parameter surface.
type Params struct {
	Find      string
	Replace   string
	Replacing bool // Replace is set, possibly to ""
	MatchCase bool
	WholeWord bool
	Include   string
	Exclude   string
	Mode      matcher.Mode
	Level     int // search-in-results depth
	Paused    bool
}

// Query returns the search query described by p.
func (p Params) Query() matcher.Query {
	return matcher.Query{
		Pattern: p.Find,
		Params: matcher.Params{
			Mode:      p.Mode,
			MatchCase: p.MatchCase,
			WholeWord: p.WholeWord,
			Include:   p.Include,
			Exclude:   p.Exclude,
		},
	}
}

// sameSearch reports whether p and o describe the same run.
func (p Params) sameSearch(o Params) bool {
	p.Level, o.Level = 0, 0
	p.Paused, o.Paused = false, false
	return p == o
}

// Options configures an Orchestrator.
type Options struct {
	RunDebounce     time.Duration
	RestartDebounce time.Duration
	CacheSize       int // nodes per level
	Engine          engine.Options
	TransformConfig map[string]any
	NewTransformer  TransformerFactory
	Logger          *log.Logger
}

// DefaultOptions returns the stock timings.
func DefaultOptions() Options {
	return Options{
		RunDebounce:     100 * time.Millisecond,
		RestartDebounce: 50 * time.Millisecond,
		CacheSize:       cache.DefaultMaxNodes,
		Engine:          engine.DefaultOptions(),
	}
}

// Orchestrator schedules and runs searches. All methods are safe for
// concurrent use. Events are emitted to the sink while the orchestrator
// lock is held; the sink must not call back into the Orchestrator.
type Orchestrator struct {
	mu     sync.Mutex
	opts   Options
	logger *log.Logger

	enum   Enumerator
	reader engine.Reader
	sink   output.Sink
	engine *engine.Engine

	params Params
	levels []*level
	state  State

	gen    uint64
	cancel context.CancelFunc
	base   context.Context
	stop   context.CancelFunc

	pending bool // a run was requested while paused
	closed  bool

	runDeb     *debouncer
	restartDeb *debouncer
	newTr      TransformerFactory
	tr         Transformer

	busy int // scheduled or executing runs
	idle chan struct{}
}

// New creates an Orchestrator. Nothing runs until parameters are set.
func New(enum Enumerator, reader engine.Reader, sink output.Sink, opts Options) *Orchestrator {
	d := DefaultOptions()
	if opts.RunDebounce <= 0 {
		opts.RunDebounce = d.RunDebounce
	}
	if opts.RestartDebounce <= 0 {
		opts.RestartDebounce = d.RestartDebounce
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = d.CacheSize
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Engine.Logger == nil {
		opts.Engine.Logger = opts.Logger
	}
	if sink == nil {
		sink = output.Discard
	}

	base, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		opts:   opts,
		logger: opts.Logger,
		enum:   enum,
		reader: reader,
		sink:   sink,
		engine: engine.New(opts.Engine),
		base:   base,
		stop:   stop,
		newTr:  opts.NewTransformer,
		idle:   make(chan struct{}),
	}
	close(o.idle)
	o.levels = []*level{o.newLevel(Params{})}
	o.runDeb = newDebouncer(opts.RunDebounce, o.fireRun)
	o.restartDeb = newDebouncer(opts.RestartDebounce, o.fireRestart)
	return o
}

// Params returns the current parameters.
func (o *Orchestrator) Params() Params {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.params
}

// State returns the state of the most recent run.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Generation returns the current run generation.
func (o *Orchestrator) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.gen
}

// Depth returns the index of the top level.
func (o *Orchestrator) Depth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.levels) - 1
}

// SetParams applies a new parameter set. Level changes push or pop
// levels; a changed search schedules a run (or marks one pending while
// paused); unpausing flushes a pending run.
func (o *Orchestrator) SetParams(p Params) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if p.Level < 0 {
		return fmt.Errorf("invalid level %d", p.Level)
	}
	if p.Level > len(o.levels) {
		// a freshly pushed level has no results to push onto
		return ErrNoResults
	}

	pushed := false
	for len(o.levels)-1 < p.Level {
		if err := o.pushLocked(); err != nil {
			return err
		}
		pushed = true
	}
	for len(o.levels)-1 > p.Level {
		if err := o.popLocked(); err != nil {
			return err
		}
	}

	changed := pushed || o.pending || !o.params.sameSearch(p)
	o.params = p
	o.top().params = p
	if !changed {
		return nil
	}
	if p.Paused {
		o.pending = true
		return nil
	}
	o.pending = false
	o.runSoonLocked()
	return nil
}

// Pause sets the paused flag.
func (o *Orchestrator) Pause() error {
	p := o.Params()
	p.Paused = true
	return o.SetParams(p)
}

// Resume clears the paused flag, running if a change arrived meanwhile.
func (o *Orchestrator) Resume() error {
	p := o.Params()
	p.Paused = false
	return o.SetParams(p)
}

// RunSoon schedules a debounced run of the current parameters.
func (o *Orchestrator) RunSoon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runSoonLocked()
}

func (o *Orchestrator) runSoonLocked() {
	if o.closed {
		return
	}
	if o.params.Paused {
		o.pending = true
		return
	}
	if o.runDeb.trigger() {
		o.addBusy(1)
	}
}

// RestartSoon schedules a debounced restart: the in-flight run is
// cancelled, the transform engine is released, and a run follows.
func (o *Orchestrator) RestartSoon() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.restartDeb.trigger() {
		o.addBusy(1)
	}
}

// SetTransformerFactory swaps the transform engine and schedules a restart.
func (o *Orchestrator) SetTransformerFactory(f TransformerFactory) {
	o.mu.Lock()
	o.newTr = f
	o.mu.Unlock()
	o.RestartSoon()
}

// RunNow runs the current parameters synchronously, superseding any
// scheduled or in-flight run, and returns the resulting state. While
// paused it only marks a run pending.
func (o *Orchestrator) RunNow() State {
	o.mu.Lock()
	if o.runDeb.cancel() {
		o.addBusy(-1)
	}
	o.mu.Unlock()

	o.run(false)

	return o.State()
}

// Stop cancels the in-flight run and any scheduled one, and emits stop.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if o.runDeb.cancel() {
		o.addBusy(-1)
	}
	gen := o.gen
	if o.cancelLocked() {
		o.state = Aborted
	}
	o.logger.Debug("run stopped", "gen", gen)
	o.sink.Emit(output.Event{Type: output.EventStop, Gen: gen, Level: len(o.levels) - 1})
}

// Wait blocks until no run is scheduled or executing, or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context) error {
	for {
		o.mu.Lock()
		if o.busy == 0 {
			o.mu.Unlock()
			return nil
		}
		idle := o.idle
		o.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// InvalidateFile forgets everything known about path, in every level's
// cache and in the reader, and schedules a run.
func (o *Orchestrator) InvalidateFile(path string) {
	if f, ok := o.reader.(interface{ Forget(string) }); ok {
		f.Forget(path)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, l := range o.levels {
		l.forget(path)
	}
	o.logger.Debug("file invalidated", "path", path)
	o.runSoonLocked()
}

// Close cancels all work, waits for runs to return and releases the
// transform engine.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	if o.runDeb.cancel() {
		o.addBusy(-1)
	}
	if o.restartDeb.cancel() {
		o.addBusy(-1)
	}
	o.cancelLocked()
	o.stop()
	tr := o.tr
	o.tr = nil
	o.mu.Unlock()

	_ = o.Wait(context.Background())
	if tr != nil {
		return tr.Close()
	}
	return nil
}

// cancelLocked supersedes the current generation. It reports whether a
// run was in flight.
func (o *Orchestrator) cancelLocked() bool {
	o.gen++
	if o.cancel == nil {
		return false
	}
	o.cancel()
	o.cancel = nil
	return true
}

func (o *Orchestrator) addBusy(n int) {
	if o.busy == 0 && n > 0 {
		o.idle = make(chan struct{})
	}
	o.busy += n
	if o.busy < 0 {
		panic("orchestrator: negative busy count")
	}
	if o.busy == 0 && n < 0 {
		close(o.idle)
	}
}

func (o *Orchestrator) fireRun() {
	o.run(true)
}

func (o *Orchestrator) fireRestart() {
	o.mu.Lock()
	o.cancelLocked()
	tr := o.tr
	o.tr = nil
	o.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			o.logger.Warn("closing transform engine", "err", err)
		}
	}
	o.logger.Debug("restarted")
	o.run(true)
}
