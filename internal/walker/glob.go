package walker

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// GlobFilter applies comma-separated include and exclude glob lists to
// slash-separated paths. A pattern without a '/' also matches the
// basename, so "*.go" selects Go files at any depth.
type GlobFilter struct {
	include []string
	exclude []string
}

// NewGlobFilter compiles include and exclude lists. An empty include list
// admits every path.
func NewGlobFilter(include, exclude string) (*GlobFilter, error) {
	f := &GlobFilter{}
	var err error
	if f.include, err = splitGlobs(include); err != nil {
		return nil, fmt.Errorf("include: %w", err)
	}
	if f.exclude, err = splitGlobs(exclude); err != nil {
		return nil, fmt.Errorf("exclude: %w", err)
	}
	return f, nil
}

func splitGlobs(list string) ([]string, error) {
	var out []string
	for _, p := range strings.Split(list, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		p = strings.TrimPrefix(p, "./")
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// Match reports whether rel passes the filter.
func (f *GlobFilter) Match(rel string) bool {
	if f == nil {
		return true
	}
	rel = strings.TrimPrefix(rel, "./")
	if matchAny(f.exclude, rel) {
		return false
	}
	return len(f.include) == 0 || matchAny(f.include, rel)
}

// Empty reports whether the filter admits everything.
func (f *GlobFilter) Empty() bool {
	return f == nil || len(f.include) == 0 && len(f.exclude) == 0
}

func matchAny(patterns []string, rel string) bool {
	base := path.Base(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}
