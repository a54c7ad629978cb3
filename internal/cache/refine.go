package cache

import (
	"github.com/dl/incsearch/internal/matcher"
)

// Refinable reports whether a child node with params p may be seeded from
// its parent's results. Only plain text queries qualify: every occurrence
// of a longer literal starts at an occurrence of its prefix. Whole-word
// and regex queries have no such property and are rescanned instead.
func Refinable(p matcher.Params) bool {
	return p.Mode == matcher.ModeText && !p.WholeWord
}

// seed fills child from a complete parent and returns how many files it
// settled. Files the parent excluded stay excluded; files the parent
// matched are re-tested with Refine.
func (c *Cache) seed(child, parent *Node) int {
	if !Refinable(child.Params) {
		return 0
	}
	m, err := matcher.New(matcher.Query{Pattern: child.Query, Params: child.Params})
	if err != nil {
		return 0
	}
	defer m.Close()

	for file := range parent.Excluded {
		child.Excluded[file] = struct{}{}
		child.Processed[file] = struct{}{}
	}
	for file, res := range parent.Results {
		child.Processed[file] = struct{}{}
		kept := Refine(m, res, len(child.Query))
		if len(kept) == 0 {
			child.Excluded[file] = struct{}{}
			continue
		}
		child.Results[file] = matcher.Result{File: file, Source: res.Source, Matches: kept}
	}
	return len(parent.Excluded) + len(parent.Results)
}

// Refine re-tests the matches of a parent result against a longer query
// without rescanning the source. Each parent match's window is widened by
// delta = newLen - len(match) bytes on both sides (clamped to the source)
// and searched with m; the match survives if m finds a span starting at
// the same offset, and takes that span's end.
//
// This is a heuristic. It equals a full rescan for literal queries except
// when the shorter pattern overlaps itself in the source and the parent's
// non-overlapping scan skipped an occurrence the longer pattern needs.
func Refine(m matcher.Matcher, res matcher.Result, newLen int) []matcher.Match {
	src := res.Source
	data := matcher.Bytes(src)

	var kept []matcher.Match
	var pos *matcher.Checkpoints
	prevEnd := 0
	for _, old := range res.Matches {
		if old.Start < prevEnd {
			continue
		}
		delta := max(newLen-(old.End-old.Start), 0)
		lo := max(old.Start-delta, 0)
		hi := min(old.End+delta, len(data))

		for _, s := range m.FindAll(data[lo:hi]) {
			if s[0]+lo != old.Start {
				continue
			}
			if pos == nil {
				pos = matcher.NewCheckpoints(src)
			}
			kept = append(kept, matcher.Locate(pos, matcher.Span{old.Start, s[1] + lo}))
			prevEnd = s[1] + lo
			break
		}
	}
	return kept
}
