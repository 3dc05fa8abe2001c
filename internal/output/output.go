// Package output renders user-facing CLI output.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"golang.org/x/term"
)

const defaultWidth = 80

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer

	// Width overrides terminal width detection when positive.
	Width int
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

// IsTTY reports whether Out is a terminal.
func (u *UI) IsTTY() bool {
	f, ok := u.Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// TermWidth returns the width to wrap output at.
func (u *UI) TermWidth() int {
	if u.Width > 0 {
		return u.Width
	}
	if f, ok := u.Out.(*os.File); ok {
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			return w
		}
	}
	return defaultWidth
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("\u2713")
	warningPrefix = color.New(color.FgHiYellow).Sprint("\u26a0")
	errorPrefix   = color.New(color.FgHiRed).Sprint("\u2717")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  \u2192")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// SuccessLabel renders a session outcome.
func SuccessLabel(success bool) string {
	if success {
		return green("success")
	}
	return red("failed")
}

// SeverityColor returns the string colored by comment severity.
func SeverityColor(severity string) string {
	switch strings.ToLower(severity) {
	case "info":
		return cyan(severity)
	case "warning":
		return yellow(severity)
	case "error":
		return red(severity)
	default:
		return severity
	}
}

// ScoreColor formats a 0..1 score colored by value.
func ScoreColor(score float64) string {
	s := fmt.Sprintf("%.2f", score)
	switch {
	case score >= 0.8:
		return green(s)
	case score >= 0.5:
		return yellow(s)
	default:
		return red(s)
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().Bold(true)
)

// Panel prints body in a bordered box headed by title.
func (u *UI) Panel(title, body string) {
	content := strings.TrimRight(body, "\n")
	if title != "" {
		content = panelTitleStyle.Render(title) + "\n\n" + content
	}
	width := min(u.TermWidth(), 100) - 2
	fmt.Fprintln(u.Out, panelStyle.Width(width).Render(content))
}

// Markdown renders md for the terminal. Non-terminal output uses the plain
// style so files and pipes get no escape codes.
func (u *UI) Markdown(md string) error {
	style := "notty"
	if u.IsTTY() {
		style = "dark"
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath(style),
		glamour.WithWordWrap(max(u.TermWidth()-4, 20)),
	)
	if err != nil {
		return err
	}
	rendered, err := r.Render(md)
	if err != nil {
		return err
	}
	fmt.Fprint(u.Out, rendered)
	return nil
}
