package matcher

import (
	"bytes"
)

// FixedMatcher does case-sensitive literal matching using bytes.Index.
type FixedMatcher struct {
	pattern []byte
}

// NewFixedMatcher creates a FixedMatcher for a single fixed pattern.
func NewFixedMatcher(pattern string) *FixedMatcher {
	return &FixedMatcher{pattern: []byte(pattern)}
}

func (m *FixedMatcher) MatchExists(data []byte) bool {
	return len(m.pattern) > 0 && bytes.Contains(data, m.pattern)
}

func (m *FixedMatcher) FindAll(data []byte) []Span {
	if len(m.pattern) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	for start <= len(data)-len(m.pattern) {
		idx := bytes.Index(data[start:], m.pattern)
		if idx < 0 {
			break
		}
		pos := start + idx
		spans = append(spans, Span{pos, pos + len(m.pattern)})
		start = pos + len(m.pattern)
	}
	return spans
}

func (m *FixedMatcher) Close() {}
