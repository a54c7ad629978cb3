package matcher

import (
	"fmt"
	"sync"

	"go.elara.ws/pcre"
)

// PCREMatcher matches using PCRE2-compatible regexes via the pure Go pcre package.
// Supports lookahead, lookbehind, backreferences, atomic groups, and all PCRE2 features.
// When group > 0 the reported span is that of the capture group, not the whole match.
type PCREMatcher struct {
	mu    sync.Mutex // serializes use of the compiled handle
	re    *pcre.Regexp
	group int
}

// NewPCREMatcher creates a PCREMatcher from a PCRE2 pattern string.
func NewPCREMatcher(pattern string, ignoreCase bool, wholeWord bool, group int) (*PCREMatcher, error) {
	var opts pcre.CompileOption
	if ignoreCase {
		opts |= pcre.Caseless
	}
	if wholeWord {
		pattern = `\b(?:` + pattern + `)\b`
	}

	re, err := pcre.CompileOpts("(?m)"+pattern, opts)
	if err != nil {
		return nil, err
	}
	if group > re.NumSubexp() {
		re.Close()
		return nil, fmt.Errorf("capture group $%d out of range: pattern has %d groups", group, re.NumSubexp())
	}

	return &PCREMatcher{re: re, group: group}, nil
}

// Group returns the capture group whose span is reported (0 = whole match).
func (m *PCREMatcher) Group() int {
	return m.group
}

func (m *PCREMatcher) MatchExists(data []byte) bool {
	return len(m.FindAll(data)) > 0
}

func (m *PCREMatcher) FindAll(data []byte) []Span {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.group == 0 {
		locs := m.re.FindAllIndex(data, -1)
		spans := make([]Span, 0, len(locs))
		for _, loc := range locs {
			spans = append(spans, Span{loc[0], loc[1]})
		}
		return dropEmpty(spans)
	}

	locs := m.re.FindAllSubmatchIndex(data, -1)
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		start, end := loc[2*m.group], loc[2*m.group+1]
		if start < 0 {
			continue // group did not participate
		}
		spans = append(spans, Span{start, end})
	}
	return dropEmpty(spans)
}

// Close releases the compiled PCRE regex resources.
func (m *PCREMatcher) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.re != nil {
		m.re.Close()
		m.re = nil
	}
}
