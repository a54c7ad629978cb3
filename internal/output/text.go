package output

import (
	"strconv"
	"strings"

	"github.com/dl/incsearch/internal/matcher"
)

// TextFormatter renders events as grep-style lines:
//
//	path:line:col:text of the line
//
// Lines and columns are printed 1-based.
type TextFormatter struct {
	styles  Styles
	verbose bool // also print lifecycle lines
}

// NewTextFormatter creates a TextFormatter.
func NewTextFormatter(styles Styles, verbose bool) *TextFormatter {
	return &TextFormatter{styles: styles, verbose: verbose}
}

func (f *TextFormatter) Format(buf []byte, ev Event) []byte {
	s := f.styles
	switch ev.Type {
	case EventResult:
		if ev.Err != nil {
			buf = append(buf, s.File.Render(ev.File)...)
			buf = append(buf, s.Separator.Render(":")...)
			buf = append(buf, ' ')
			buf = append(buf, s.Error.Render(ev.Err.Error())...)
			return append(buf, '\n')
		}
		for i, m := range ev.Matches {
			buf = f.formatMatch(buf, ev.File, ev.Source, m)
			if i < len(ev.Replacements) {
				buf = f.formatReplacement(buf, ev.Source, m, ev.Replacements[i])
			}
		}
	case EventError:
		buf = append(buf, s.Error.Render("error: "+errText(ev.Err))...)
		buf = append(buf, '\n')
	case EventDone:
		if f.verbose {
			buf = f.status(buf, "done: "+strconv.Itoa(ev.Matched)+" files matched")
		}
	case EventStop:
		if f.verbose {
			buf = f.status(buf, "stopped")
		}
	case EventStart:
		if f.verbose {
			buf = f.status(buf, "searching (level "+strconv.Itoa(ev.Level)+")")
		}
	}
	return buf
}

func (f *TextFormatter) status(buf []byte, msg string) []byte {
	buf = append(buf, f.styles.Status.Render("-- "+msg)...)
	return append(buf, '\n')
}

func (f *TextFormatter) formatMatch(buf []byte, file, src string, m matcher.Match) []byte {
	s := f.styles
	sep := s.Separator.Render(":")

	buf = append(buf, s.File.Render(file)...)
	buf = append(buf, sep...)
	buf = append(buf, s.LineNum.Render(strconv.Itoa(m.LineStart+1))...)
	buf = append(buf, sep...)
	buf = strconv.AppendInt(buf, int64(m.ColStart+1), 10)
	buf = append(buf, sep...)

	lo, hi := lineBounds(src, m.Start)
	end := min(m.End, hi)
	buf = append(buf, src[lo:m.Start]...)
	buf = append(buf, s.Match.Render(src[m.Start:end])...)
	buf = append(buf, src[end:hi]...)
	return append(buf, '\n')
}

// formatReplacement prints the match's line with the replacement applied.
func (f *TextFormatter) formatReplacement(buf []byte, src string, m matcher.Match, repl string) []byte {
	lo, _ := lineBounds(src, m.Start)
	_, hi := lineBounds(src, m.End)
	if m.End > hi {
		hi = m.End
	}
	buf = append(buf, f.styles.Separator.Render("  -> ")...)
	buf = append(buf, src[lo:m.Start]...)
	buf = append(buf, f.styles.Replacement.Render(repl)...)
	buf = append(buf, src[m.End:hi]...)
	return append(buf, '\n')
}

// lineBounds returns the [lo, hi) byte range of the line containing off,
// without its newline.
func lineBounds(src string, off int) (int, int) {
	off = min(off, len(src))
	lo := strings.LastIndexByte(src[:off], '\n') + 1
	hi := strings.IndexByte(src[off:], '\n')
	if hi < 0 {
		return lo, len(src)
	}
	return lo, off + hi
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
