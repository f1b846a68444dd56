// Package ui renders terminal output for the studysync CLI.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	ColorAccent = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#8B5CF6"}
	ColorPass   = lipgloss.AdaptiveColor{Light: "#15803D", Dark: "#22C55E"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F97316"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#BE123C", Dark: "#F43F5E"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#64748B", Dark: "#94A3B8"}
)

var renderer = newRenderer()

var (
	accentStyle = renderer.NewStyle().Foreground(ColorAccent).Bold(true)
	passStyle   = renderer.NewStyle().Foreground(ColorPass).Bold(true)
	warnStyle   = renderer.NewStyle().Foreground(ColorWarn).Bold(true)
	failStyle   = renderer.NewStyle().Foreground(ColorFail).Bold(true)
	mutedStyle  = renderer.NewStyle().Foreground(ColorMuted)
	headerStyle = renderer.NewStyle().Bold(true).Underline(true)
)

// newRenderer disables colour when stdout is not a terminal or NO_COLOR is set.
func newRenderer() *lipgloss.Renderer {
	r := lipgloss.NewRenderer(os.Stdout)
	if !IsTerminal() || os.Getenv("NO_COLOR") != "" {
		r.SetColorProfile(termenv.Ascii)
	}
	return r
}

// IsTerminal reports whether stdout is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width, or 80 when it cannot be determined.
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// Table renders rows under a header, padding columns to their widest cell.
func Table(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}

	var b strings.Builder
	line := func(cells []string, style *lipgloss.Style) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			padded := cell + strings.Repeat(" ", max(0, widths[i]-lipgloss.Width(cell)))
			if style != nil {
				padded = style.Render(padded)
			}
			parts[i] = padded
		}
		b.WriteString(strings.TrimRight(strings.Join(parts, "  "), " "))
		b.WriteByte('\n')
	}
	line(header, &headerStyle)
	for _, row := range rows {
		line(row, nil)
	}
	return b.String()
}

// ProgressBar renders p in [0, 1] as a bar of the given width.
func ProgressBar(p float64, width int) string {
	p = min(max(p, 0), 1)
	filled := int(p * float64(width))
	return passStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", width-filled))
}
