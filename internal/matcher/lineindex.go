package matcher

import (
	"sort"
	"strings"
)

// Positioner maps a byte offset in a source to a 0-based (line, column).
type Positioner interface {
	Position(off int) (line, col int)
}

// Locate converts a raw span into a Match using p for line/column lookup.
func Locate(p Positioner, s Span) Match {
	m := Match{Start: s[0], End: s[1]}
	m.LineStart, m.ColStart = p.Position(s[0])
	m.LineEnd, m.ColEnd = p.Position(s[1])
	return m
}

// LineTable holds the start offset of every line of a source. It is built
// once per file and answers lookups with a binary search.
type LineTable struct {
	starts []int
}

// NewLineTable splits src into lines.
func NewLineTable(src string) *LineTable {
	starts := make([]int, 1, strings.Count(src, "\n")+1)
	for i := 0; i < len(src); {
		j := strings.IndexByte(src[i:], '\n')
		if j < 0 {
			break
		}
		i += j + 1
		starts = append(starts, i)
	}
	return &LineTable{starts: starts}
}

// Lines returns the number of lines.
func (t *LineTable) Lines() int {
	return len(t.starts)
}

func (t *LineTable) Position(off int) (int, int) {
	line := sort.SearchInts(t.starts, off+1) - 1
	return line, off - t.starts[line]
}

// Checkpoints computes line/column positions incrementally for large
// sources. Each lookup starts from the nearest recorded checkpoint at or
// before the offset, walks forward over the unprocessed span only, and
// records the result as a new checkpoint. Offsets usually arrive in
// ascending order, so total work stays close to linear in source size.
type Checkpoints struct {
	src   string
	offs  []int // sorted
	lines []int
	cols  []int
}

// NewCheckpoints creates a checkpoint cache seeded with offset 0.
func NewCheckpoints(src string) *Checkpoints {
	return &Checkpoints{
		src:   src,
		offs:  []int{0},
		lines: []int{0},
		cols:  []int{0},
	}
}

// Len returns the number of recorded checkpoints.
func (c *Checkpoints) Len() int {
	return len(c.offs)
}

func (c *Checkpoints) Position(off int) (int, int) {
	i := sort.SearchInts(c.offs, off+1) - 1
	base := c.offs[i]
	line, col := c.lines[i], c.cols[i]
	if base == off {
		return line, col
	}

	gap := c.src[base:off]
	if nl := strings.Count(gap, "\n"); nl > 0 {
		line += nl
		col = len(gap) - strings.LastIndexByte(gap, '\n') - 1
	} else {
		col += len(gap)
	}

	c.record(i+1, off, line, col)
	return line, col
}

// record inserts a checkpoint at index i, keeping offs sorted.
func (c *Checkpoints) record(i, off, line, col int) {
	if i == len(c.offs) {
		c.offs = append(c.offs, off)
		c.lines = append(c.lines, line)
		c.cols = append(c.cols, col)
		return
	}
	c.offs = append(c.offs[:i+1], c.offs[i:]...)
	c.offs[i] = off
	c.lines = append(c.lines[:i+1], c.lines[i:]...)
	c.lines[i] = line
	c.cols = append(c.cols[:i+1], c.cols[i:]...)
	c.cols[i] = col
}
