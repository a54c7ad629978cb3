package matcher

import (
	"errors"
	"fmt"
	"strings"
)

// Mode selects how a query pattern is interpreted.
type Mode int

const (
	ModeText      Mode = iota // literal text
	ModeRegex                 // PCRE pattern, optional trailing $N capture marker
	ModeTransform             // opaque script handed to the transform engine
)

func (m Mode) String() string {
	switch m {
	case ModeText:
		return "text"
	case ModeRegex:
		return "regex"
	case ModeTransform:
		return "transform"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a mode name ("text", "regex", "transform") into a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return ModeText, nil
	case "regex", "regexp":
		return ModeRegex, nil
	case "transform", "ast":
		return ModeTransform, nil
	}
	return ModeText, fmt.Errorf("unknown search mode %q", s)
}

// ErrEmptyPattern is returned when a matcher is requested for an empty pattern.
var ErrEmptyPattern = errors.New("empty pattern")

// Params holds everything about a query except its text. Two queries whose
// Params are Compatible may share cache nodes.
type Params struct {
	Mode      Mode
	MatchCase bool
	WholeWord bool
	Include   string
	Exclude   string
}

// Compatible reports whether results for p can be reused for o.
// Transform queries are never compatible with anything.
func (p Params) Compatible(o Params) bool {
	if p.Mode == ModeTransform || o.Mode == ModeTransform {
		return false
	}
	return p == o
}

// Query is a complete search request.
type Query struct {
	Pattern string
	Params
}

// Cacheable reports whether results for q can live in the search cache.
func (q Query) Cacheable() bool {
	return q.Mode == ModeText || q.Mode == ModeRegex
}
