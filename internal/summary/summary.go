// Package summary renders compi's two static terminal tables: the
// --dry-run plan table and the end-of-run result summary.
//
// Adapted from theRebelliousNerd-codenerd's cmd/nerd/ui.SimpleTable and
// Styles (column-width measurement via lipgloss.Width, then fixed-width
// cell rendering with a separator rule) — collapsed here to a single
// style set, since compi is a one-shot CLI with no interactive theme
// to switch between, unlike the teacher's chat UI.
package summary

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"compi/internal/scheduler"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	bodyStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	runStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#2ecc71")).Bold(true)
	skipStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#e74c3c")).Bold(true)

	plainStyle = lipgloss.NewStyle()
)

var colorEnabled = isatty.IsTerminal(os.Stdout.Fd())

// SetColorMode resolves compi.toml's [config].color tri-state
// ("auto"/"always"/"never") into whether rendered tables use ANSI
// styling. "auto" keeps the TTY-detected default from package init.
func SetColorMode(mode string) {
	switch mode {
	case "always":
		colorEnabled = true
	case "never":
		colorEnabled = false
	default:
		colorEnabled = isatty.IsTerminal(os.Stdout.Fd())
	}
}

func style(s lipgloss.Style) lipgloss.Style {
	if colorEnabled {
		return s
	}
	return plainStyle.Copy().Inherit(s).UnsetForeground().UnsetBold()
}

// table is the shared fixed-width rendering routine both public
// functions below build on.
func table(title string, headers []string, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := lipgloss.Width(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}
	for i := range widths {
		widths[i] += 2
	}

	var b strings.Builder
	if title != "" {
		b.WriteString(style(headerStyle).Render(title))
		b.WriteString("\n")
	}

	for i, h := range headers {
		b.WriteString(style(headerStyle).Width(widths[i]).Render(h))
		if i < len(headers)-1 {
			b.WriteString(style(mutedStyle).Render("|"))
		}
	}
	b.WriteString("\n")

	total := len(headers) - 1
	for _, w := range widths {
		total += w
	}
	b.WriteString(style(mutedStyle).Render(strings.Repeat("-", total)))
	b.WriteString("\n")

	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				b.WriteString(style(bodyStyle).Width(widths[i]).Render(cell))
				if i < len(row)-1 {
					b.WriteString(style(mutedStyle).Render("|"))
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Plan renders the --dry-run plan table: one row per task in
// dependency order, with its RUN/SKIP decision and the reason.
func Plan(results []scheduler.TaskResult) string {
	rows := make([][]string, len(results))
	for i, r := range results {
		decision := style(runStyle).Render("RUN")
		if r.Skipped {
			decision = style(skipStyle).Render("SKIP")
		}
		rows[i] = []string{r.ID, decision, r.Reason}
	}
	return table("compi plan", []string{"TASK", "DECISION", "REASON"}, rows)
}

// Report renders the end-of-run summary: one row per task with its
// outcome and duration.
func Report(results []scheduler.TaskResult) string {
	rows := make([][]string, len(results))
	for i, r := range results {
		status := style(runStyle).Render("OK")
		reason := r.Reason
		switch {
		case r.Failed:
			status = style(failStyle).Render("FAILED")
			if r.Err != nil {
				reason = r.Err.Error()
			}
		case r.Skipped:
			status = style(skipStyle).Render("SKIP")
		}
		rows[i] = []string{r.ID, status, reason, fmtDuration(r.Duration)}
	}
	return table("compi summary", []string{"TASK", "STATUS", "REASON", "TIME"}, rows)
}

func fmtDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
