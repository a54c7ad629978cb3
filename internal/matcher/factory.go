package matcher

import (
	"fmt"
	"regexp"
	"strconv"
	"unsafe"
)

// New creates the appropriate Matcher for q.
// Selection logic:
//   - Text, case-sensitive, not whole-word -> FixedMatcher (bytes.Index)
//   - Text otherwise -> RegexMatcher over the quoted literal (RE2)
//   - Regex -> PCREMatcher, honoring a trailing $N capture marker
func New(q Query) (Matcher, error) {
	if q.Pattern == "" {
		return nil, ErrEmptyPattern
	}

	switch q.Mode {
	case ModeText:
		if q.MatchCase && !q.WholeWord {
			return NewFixedMatcher(q.Pattern), nil
		}
		return NewRegexMatcher(regexp.QuoteMeta(q.Pattern), !q.MatchCase, q.WholeWord)

	case ModeRegex:
		pattern, group := SplitCaptureMarker(q.Pattern)
		if pattern == "" {
			return nil, ErrEmptyPattern
		}
		return NewPCREMatcher(pattern, !q.MatchCase, q.WholeWord, group)
	}

	return nil, fmt.Errorf("mode %s has no matcher", q.Mode)
}

// SplitCaptureMarker strips a trailing, unescaped "$N" from a regex pattern
// and returns the remaining pattern and N. When there is no marker the
// pattern is returned unchanged with group 0 (the whole match).
func SplitCaptureMarker(pattern string) (string, int) {
	i := len(pattern)
	for i > 0 && pattern[i-1] >= '0' && pattern[i-1] <= '9' {
		i--
	}
	if i == len(pattern) || i == 0 || pattern[i-1] != '$' {
		return pattern, 0
	}

	dollar := i - 1
	backslashes := 0
	for j := dollar - 1; j >= 0 && pattern[j] == '\\'; j-- {
		backslashes++
	}
	if backslashes%2 == 1 {
		return pattern, 0 // escaped: a literal "$N"
	}

	n, err := strconv.Atoi(pattern[i:])
	if err != nil || n == 0 {
		return pattern, 0
	}
	return pattern[:dollar], n
}

// Bytes exposes the bytes of s without copying. The result must not be modified.
func Bytes(s string) []byte {
	if s == "" {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// dropEmpty removes zero-width spans in place.
func dropEmpty(spans []Span) []Span {
	out := spans[:0]
	for _, s := range spans {
		if s[1] > s[0] {
			out = append(out, s)
		}
	}
	return out
}
