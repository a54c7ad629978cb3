package matcher

import (
	"regexp"
)

// RegexMatcher uses Go's RE2 regexp engine.
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher creates a RegexMatcher for the given pattern.
func NewRegexMatcher(pattern string, ignoreCase bool, wholeWord bool) (*RegexMatcher, error) {
	if wholeWord {
		pattern = `\b(?:` + pattern + `)\b`
	}
	pattern = "(?m)" + pattern
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

func (m *RegexMatcher) MatchExists(data []byte) bool {
	for _, loc := range m.re.FindAllIndex(data, -1) {
		if loc[1] > loc[0] {
			return true
		}
	}
	return false
}

func (m *RegexMatcher) FindAll(data []byte) []Span {
	locs := m.re.FindAllIndex(data, -1)
	if len(locs) == 0 {
		return nil
	}
	spans := make([]Span, 0, len(locs))
	for _, loc := range locs {
		spans = append(spans, Span{loc[0], loc[1]})
	}
	return dropEmpty(spans)
}

func (m *RegexMatcher) Close() {}
