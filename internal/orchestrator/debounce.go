package orchestrator

import (
	"sync"
	"time"
)

// debouncer coalesces bursts of trigger calls into one call of fn, made
// delay after the last trigger. Only the most recently armed timer may
// call fn; timers superseded while already firing do nothing.
type debouncer struct {
	mu      sync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	seq     uint64
	pending bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// trigger (re)arms the timer. It reports whether no call was pending
// before, i.e. whether this trigger opened a new burst.
func (d *debouncer) trigger() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	fresh := !d.pending
	if d.timer != nil {
		d.timer.Stop()
	}
	d.seq++
	seq := d.seq
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.seq != seq || !d.pending {
			d.mu.Unlock()
			return
		}
		d.pending = false
		d.mu.Unlock()
		d.fn()
	})
	return fresh
}

// cancel drops a pending call. It reports whether one was pending.
func (d *debouncer) cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.pending {
		return false
	}
	d.pending = false
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
	return true
}
