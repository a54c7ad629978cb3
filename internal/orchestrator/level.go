package orchestrator

import (
	"github.com/dl/incsearch/internal/cache"
	"github.com/dl/incsearch/internal/output"
)

// level is one entry of the search-in-results stack. Level 0 searches the
// enumerated files; level k searches the files level k-1 matched.
type level struct {
	params Params
	cache  *cache.Cache

	// outcome of the last completed run; matched is nil until one completes
	matched map[string]struct{}
	results []output.Event
}

func (o *Orchestrator) newLevel(p Params) *level {
	return &level{
		params: p,
		cache:  cache.New(cache.Options{MaxNodes: o.opts.CacheSize, Logger: o.logger}),
	}
}

func (o *Orchestrator) top() *level {
	return o.levels[len(o.levels)-1]
}

// scopeOf returns a copy of the files matched by the level below depth,
// or nil for the root level.
func (o *Orchestrator) scopeOf(depth int) map[string]struct{} {
	if depth == 0 {
		return nil
	}
	below := o.levels[depth-1].matched
	scope := make(map[string]struct{}, len(below))
	for f := range below {
		scope[f] = struct{}{}
	}
	return scope
}

// forget drops path from the level's cache and stored results. The file
// stays in the matched set so that levels above keep it in scope and
// rescan it.
func (l *level) forget(path string) {
	l.cache.ClearFile(path)
	kept := l.results[:0]
	for _, ev := range l.results {
		if ev.File != path {
			kept = append(kept, ev)
		}
	}
	l.results = kept
}

// PushLevel starts searching within the files the current level matched.
func (o *Orchestrator) PushLevel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if err := o.pushLocked(); err != nil {
		return err
	}
	o.runSoonLocked()
	return nil
}

func (o *Orchestrator) pushLocked() error {
	if o.top().matched == nil {
		return ErrNoResults
	}
	o.cancelLocked()
	o.levels = append(o.levels, o.newLevel(o.params))
	o.params.Level = len(o.levels) - 1
	o.top().params = o.params
	o.logger.Debug("level pushed", "depth", o.params.Level, "scope", len(o.levels[o.params.Level-1].matched))
	return nil
}

// PopLevel discards the top level and restores the previous one's
// parameters and results without searching again.
func (o *Orchestrator) PopLevel() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	return o.popLocked()
}

func (o *Orchestrator) popLocked() error {
	if len(o.levels) == 1 {
		return ErrRootLevel
	}
	if o.runDeb.cancel() {
		o.addBusy(-1)
	}
	o.cancelLocked()
	o.pending = false
	o.levels[len(o.levels)-1] = nil
	o.levels = o.levels[:len(o.levels)-1]

	l := o.top()
	o.params = l.params
	o.params.Level = len(o.levels) - 1
	o.logger.Debug("level popped", "depth", o.params.Level)
	o.replayLocked(l)
	return nil
}

// replayLocked re-emits a level's stored outcome under a fresh generation.
func (o *Orchestrator) replayLocked(l *level) {
	depth := len(o.levels) - 1
	gen := o.gen
	o.sink.Emit(output.Event{Type: output.EventStart, Gen: gen, Level: depth})
	for _, ev := range l.results {
		ev.Gen = gen
		ev.Level = depth
		o.sink.Emit(ev)
	}
	o.state = Done
	if l.matched == nil {
		o.state = Idle
	}
	o.sink.Emit(output.Event{Type: output.EventDone, Gen: gen, Level: depth, Matched: len(l.matched)})
}
