package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil {
			return false
		}
		return (stat.Mode() & os.ModeCharDevice) != 0
	}
	return false
}

func (r *Root) printInfo(msg string) {
	if isTerminal(r.out) {
		fmt.Fprintf(r.out, "%s %s\n", infoStyle.Render("ℹ"), msg)
	} else {
		fmt.Fprintln(r.out, msg)
	}
}

func (r *Root) printSuccess(msg string) {
	if isTerminal(r.out) {
		fmt.Fprintf(r.out, "%s %s\n", successStyle.Render("✓"), msg)
	} else {
		fmt.Fprintln(r.out, msg)
	}
}

func (r *Root) printError(msg string) {
	if isTerminal(r.errOut) {
		fmt.Fprintf(r.errOut, "%s %s\n", errorStyle.Render("✗"), msg)
	} else {
		fmt.Fprintf(r.errOut, "%s\n", msg)
	}
}

func (r *Root) printWarning(msg string) {
	if isTerminal(r.errOut) {
		fmt.Fprintf(r.errOut, "%s %s\n", warningStyle.Render("⚠"), msg)
	} else {
		fmt.Fprintf(r.errOut, "WARNING: %s\n", msg)
	}
}

func (r *Root) printHeader(msg string) {
	if isTerminal(r.out) {
		fmt.Fprintln(r.out, headerStyle.Render(msg))
	} else {
		fmt.Fprintln(r.out, msg)
	}
}

func (r *Root) printProgress(pct float64) {
	line := fmt.Sprintf("%3.0f%%", pct)
	if isTerminal(r.out) {
		fmt.Fprintln(r.out, dimStyle.Render(line))
	} else {
		fmt.Fprintln(r.out, line)
	}
}
