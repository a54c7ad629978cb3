// Package output defines the event stream a search emits and the sinks
// that render it.
package output

import (
	"fmt"

	"github.com/dl/incsearch/internal/matcher"
)

// EventType classifies an Event.
type EventType int

const (
	EventStart EventType = iota
	EventProgress
	EventResult
	EventDone
	EventStop
	EventError
)

var eventNames = [...]string{"start", "progress", "result", "done", "stop", "error"}

func (t EventType) String() string {
	if int(t) < len(eventNames) {
		return eventNames[t]
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is one lifecycle or result notification. Gen is the run
// generation that produced it; Level is the level stack depth.
type Event struct {
	Type  EventType
	Gen   uint64
	Level int

	// result
	File         string
	Source       string
	Matches      []matcher.Match
	Replacements []string // parallel to Matches when a replacement is set
	Preview      string   // Source with every replacement applied
	Err          error    // per-file error on result, run error on error

	// progress
	Completed int
	Total     int

	// done: files with at least one match
	Matched int
}

// Sink consumes events. Emit is never called concurrently by a single
// orchestrator, but it is called while the orchestrator holds its lock,
// so it must not call back into the orchestrator.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})
