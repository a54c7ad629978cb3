package matcher

import "strings"

// Splice returns source with every match replaced by repl(i, text), where
// text is the matched slice. Matches must be non-overlapping; they are
// applied in ascending Start order regardless of their order in ms.
func Splice(source string, ms []Match, repl func(i int, text string) string) string {
	if len(ms) == 0 {
		return source
	}

	order := make([]int, len(ms))
	for i := range order {
		order[i] = i
	}
	sortByStart(order, ms)

	var b strings.Builder
	b.Grow(len(source))
	prev := 0
	for _, i := range order {
		m := ms[i]
		if m.Start < prev {
			continue // overlapping span
		}
		b.WriteString(source[prev:m.Start])
		b.WriteString(repl(i, source[m.Start:m.End]))
		prev = m.End
	}
	b.WriteString(source[prev:])
	return b.String()
}

func sortByStart(order []int, ms []Match) {
	// insertion sort: match lists are almost always already ordered
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && ms[order[j]].Start < ms[order[j-1]].Start; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}
