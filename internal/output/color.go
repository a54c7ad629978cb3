package output

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sys/unix"
)

// Styles holds the lipgloss styles for text output.
type Styles struct {
	File        lipgloss.Style
	LineNum     lipgloss.Style
	Separator   lipgloss.Style
	Match       lipgloss.Style
	Replacement lipgloss.Style
	Status      lipgloss.Style
	Error       lipgloss.Style
}

// NewStyles creates the default color styles rendered for w.
func NewStyles(w io.Writer, force bool) Styles {
	r := lipgloss.NewRenderer(w)
	if force {
		r.SetColorProfile(termenv.ANSI)
	}
	return Styles{
		File:        r.NewStyle().Foreground(lipgloss.Color("5")),
		LineNum:     r.NewStyle().Foreground(lipgloss.Color("2")),
		Separator:   r.NewStyle().Foreground(lipgloss.Color("6")),
		Match:       r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		Replacement: r.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		Status:      r.NewStyle().Faint(true),
		Error:       r.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// NoStyles returns styles with no coloring.
func NoStyles() Styles {
	plain := lipgloss.NewStyle()
	return Styles{
		File:        plain,
		LineNum:     plain,
		Separator:   plain,
		Match:       plain,
		Replacement: plain,
		Status:      plain,
		Error:       plain,
	}
}

// StylesFor resolves a color setting ("auto", "always" or "never") for
// output written to f.
func StylesFor(f *os.File, mode string) Styles {
	switch mode {
	case "always":
		return NewStyles(f, true)
	case "never":
		return NoStyles()
	}
	if !IsTerminal(f.Fd()) {
		return NoStyles()
	}
	return NewStyles(f, false)
}

// IsTerminal checks if the given file descriptor is a terminal using ioctl.
func IsTerminal(fd uintptr) bool {
	_, err := unix.IoctlGetTermios(int(fd), unix.TCGETS)
	return err == nil
}
