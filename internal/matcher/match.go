package matcher

// Match is one matched span inside a file's source. Offsets are byte
// offsets into Result.Source; lines and columns are 0-based, columns in bytes.
type Match struct {
	Start     int
	End       int
	LineStart int
	ColStart  int
	LineEnd   int
	ColEnd    int
}

// Text returns the matched slice of source.
func (m Match) Text(source string) string {
	return source[m.Start:m.End]
}

// Result is the outcome of scanning one file. A result with no matches is
// still meaningful: it records that the file was processed and excluded.
type Result struct {
	File    string
	Source  string
	Matches []Match
	Err     error
}

// HasMatch returns true if this result has at least one match.
func (r *Result) HasMatch() bool {
	return r.Err == nil && len(r.Matches) > 0
}

// Span is a raw [start, end) byte range reported by a Matcher.
type Span [2]int

// Matcher finds spans of a compiled query in a byte buffer.
// Implementations are safe for concurrent use.
type Matcher interface {
	// FindAll returns every non-empty, non-overlapping span in data in scan
	// order. For regex queries carrying a capture marker, spans are those of
	// the selected group.
	FindAll(data []byte) []Span

	// MatchExists returns true if there is at least one span in data.
	MatchExists(data []byte) bool

	// Close releases compiled pattern resources.
	Close()
}
