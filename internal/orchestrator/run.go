package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/dl/incsearch/internal/engine"
	"github.com/dl/incsearch/internal/matcher"
	"github.com/dl/incsearch/internal/output"
	"github.com/dl/incsearch/internal/transform"
	"github.com/dl/incsearch/internal/walker"
)

// run is one generation's view of the world, captured when it starts.
type run struct {
	gen    uint64
	ctx    context.Context
	params Params
	lvl    *level
	depth  int
	scope  map[string]struct{} // nil at the root level

	// written under o.mu by result callbacks
	matched map[string]struct{}
	results []output.Event
}

// run starts a new generation for the current parameters and executes it
// on the calling goroutine. A scheduled run inherits the busy count taken
// when it was scheduled.
func (o *Orchestrator) run(scheduled bool) {
	r, cancel, ok := o.begin(scheduled)
	if !ok {
		return
	}
	defer func() {
		cancel()
		o.mu.Lock()
		o.addBusy(-1)
		o.mu.Unlock()
	}()
	o.execute(r)
}

func (o *Orchestrator) begin(scheduled bool) (*run, context.CancelFunc, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !scheduled {
		o.addBusy(1)
	}
	if o.closed {
		o.addBusy(-1)
		return nil, nil, false
	}
	if o.params.Paused {
		o.pending = true
		o.addBusy(-1)
		return nil, nil, false
	}

	o.cancelLocked()
	ctx, cancel := context.WithCancel(o.base)
	o.cancel = cancel
	depth := len(o.levels) - 1
	r := &run{
		gen:     o.gen,
		ctx:     ctx,
		params:  o.params,
		lvl:     o.top(),
		depth:   depth,
		scope:   o.scopeOf(depth),
		matched: make(map[string]struct{}),
	}
	o.state = Running
	o.logger.Debug("run started", "gen", r.gen, "find", r.params.Find, "mode", r.params.Mode, "level", depth)
	o.emitLocked(r, output.Event{Type: output.EventStart})
	return r, cancel, true
}

func (o *Orchestrator) currentLocked(r *run) bool {
	if o.gen != r.gen {
		o.logger.Debug("stale generation dropped", "gen", r.gen, "current", o.gen)
		return false
	}
	return true
}

func (o *Orchestrator) emitLocked(r *run, ev output.Event) {
	ev.Gen = r.gen
	ev.Level = r.depth
	o.sink.Emit(ev)
}

func (o *Orchestrator) execute(r *run) {
	defer func() {
		if p := recover(); p != nil {
			o.fail(r, fmt.Errorf("search aborted: %v", p))
		}
	}()

	if r.params.Find == "" {
		o.mu.Lock()
		if o.currentLocked(r) {
			o.finishLocked(r)
		}
		o.mu.Unlock()
		return
	}

	files, err := o.resolve(r)
	if err != nil {
		if r.ctx.Err() == nil {
			o.fail(r, err)
		}
		return
	}

	if r.params.Mode == matcher.ModeTransform {
		o.executeTransform(r, files)
		return
	}
	o.executeSearch(r, files)
}

// resolve returns the files in scope: the enumerated files at the root
// level, otherwise the lower level's matched files narrowed by the
// include and exclude globs.
func (o *Orchestrator) resolve(r *run) ([]string, error) {
	if r.scope == nil {
		files, err := o.enum.Find(r.ctx, r.params.Include, r.params.Exclude)
		if err != nil {
			return nil, fmt.Errorf("enumerate files: %w", err)
		}
		return files, nil
	}

	filter, err := walker.NewGlobFilter(r.params.Include, r.params.Exclude)
	if err != nil {
		return nil, err
	}
	files := make([]string, 0, len(r.scope))
	for f := range r.scope {
		if filter.Match(f) {
			files = append(files, f)
		}
	}
	sort.Strings(files)
	return files, nil
}

func (o *Orchestrator) executeSearch(r *run, files []string) {
	q := r.params.Query()
	total := len(files)

	scan, cached, ok := o.prepare(r, q, files)
	if !ok {
		return
	}

	h := engine.Handler{
		OnResult: func(res matcher.Result) {
			o.mu.Lock()
			defer o.mu.Unlock()
			if !o.currentLocked(r) {
				return
			}
			r.lvl.cache.AddResult(res)
			o.resultLocked(r, res)
		},
		OnProgress: func(completed, _ int) {
			o.mu.Lock()
			defer o.mu.Unlock()
			if o.currentLocked(r) {
				o.emitLocked(r, output.Event{Type: output.EventProgress, Completed: cached + completed, Total: total})
			}
		},
	}
	if _, err := o.engine.Search(r.ctx, q, scan, o.reader, h); err != nil {
		o.fail(r, err)
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r.ctx.Err() != nil || !o.currentLocked(r) {
		return
	}
	r.lvl.cache.MarkCurrentComplete()
	o.finishLocked(r)
}

// prepare finds or creates the cache node for q, replays what the cache
// already knows and returns the files that still need scanning.
func (o *Orchestrator) prepare(r *run, q matcher.Query, files []string) (scan []string, cached int, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(r) {
		return nil, 0, false
	}

	node := r.lvl.cache.Create(q)
	for _, f := range files {
		if r.lvl.cache.ShouldProcess(f) {
			scan = append(scan, f)
			continue
		}
		cached++
		if res, ok := r.lvl.cache.Result(f); ok {
			o.resultLocked(r, res)
		}
	}
	o.logger.Debug("run resolved", "gen", r.gen, "node", node.ID, "files", len(files), "cached", cached, "scan", len(scan))
	return scan, cached, true
}

// resultLocked records and emits one file's result. Results with neither
// a match nor an error are bookkeeping only and are not emitted.
func (o *Orchestrator) resultLocked(r *run, res matcher.Result) {
	if res.Err == nil && len(res.Matches) == 0 {
		return
	}
	ev := output.Event{
		Type:    output.EventResult,
		File:    res.File,
		Source:  res.Source,
		Matches: res.Matches,
		Err:     res.Err,
	}
	if r.params.Replacing && len(res.Matches) > 0 {
		repl := r.params.Replace
		ev.Replacements = make([]string, len(res.Matches))
		for i := range ev.Replacements {
			ev.Replacements[i] = repl
		}
		ev.Preview = matcher.Splice(res.Source, res.Matches, func(int, string) string { return repl })
	}
	o.record(r, ev)
}

func (o *Orchestrator) record(r *run, ev output.Event) {
	if ev.Err == nil && len(ev.Matches) > 0 {
		r.matched[ev.File] = struct{}{}
		r.results = append(r.results, ev)
	}
	o.emitLocked(r, ev)
}

func (o *Orchestrator) executeTransform(r *run, files []string) {
	tr, err := o.transformer(r)
	if err != nil {
		o.fail(r, err)
		return
	}
	if tr == nil {
		return // superseded while starting
	}

	job := transform.Job{Find: r.params.Find, Files: files, Config: o.opts.TransformConfig}
	if r.params.Replacing {
		job.Replace = r.params.Replace
	}
	results, err := tr.Run(r.ctx, job)
	if err != nil {
		o.fail(r, err)
		return
	}

	completed := 0
	every := o.engine.Options().ProgressEvery
	for fr := range results {
		completed++
		o.mu.Lock()
		if o.currentLocked(r) {
			if fr.Err != nil || len(fr.Matches) > 0 {
				o.record(r, output.Event{
					Type:         output.EventResult,
					File:         fr.File,
					Source:       fr.Source,
					Matches:      fr.Matches,
					Replacements: fr.Replacements,
					Preview:      fr.Transformed,
					Err:          fr.Err,
				})
			}
			if completed%every == 0 || completed == len(files) {
				o.emitLocked(r, output.Event{Type: output.EventProgress, Completed: completed, Total: len(files)})
			}
		}
		o.mu.Unlock()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if r.ctx.Err() != nil || !o.currentLocked(r) {
		return
	}
	o.finishLocked(r)
}

// transformer returns the live transform engine, building it with the
// factory on first use. It returns nil, nil when r was superseded.
func (o *Orchestrator) transformer(r *run) (Transformer, error) {
	o.mu.Lock()
	tr, factory := o.tr, o.newTr
	o.mu.Unlock()
	if tr != nil {
		return tr, nil
	}
	if factory == nil {
		return nil, fmt.Errorf("transform mode: no transform engine configured")
	}

	tr, err := factory()
	if err != nil {
		return nil, fmt.Errorf("start transform engine: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(r) || o.closed {
		tr.Close()
		return nil, nil
	}
	if o.tr != nil {
		tr.Close()
		return o.tr, nil
	}
	o.tr = tr
	return tr, nil
}

func (o *Orchestrator) finishLocked(r *run) {
	r.lvl.matched = r.matched
	r.lvl.results = r.results
	r.lvl.params = r.params
	o.state = Done
	o.cancel = nil
	o.logger.Debug("run done", "gen", r.gen, "matched", len(r.matched))
	o.emitLocked(r, output.Event{Type: output.EventDone, Matched: len(r.matched)})
}

// fail reports a run-level error followed by done, so that consumers
// waiting for completion are released.
func (o *Orchestrator) fail(r *run, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.currentLocked(r) {
		return
	}
	o.logger.Error("run failed", "gen", r.gen, "err", err)
	o.state = Error
	o.cancel = nil
	o.emitLocked(r, output.Event{Type: output.EventError, Err: err})
	o.emitLocked(r, output.Event{Type: output.EventDone, Matched: len(r.matched)})
}
