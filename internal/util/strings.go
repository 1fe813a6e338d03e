// Package util provides text helpers shared by the committee pipeline and
// the terminal views.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Truncate shortens s to at most n runes, marking the cut with "...".
// A non-positive n leaves s unchanged. Used for rationale summaries, so it
// does not account for ANSI escape codes; use TruncateANSI for styled output.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// TruncateANSI truncates a styled line to maxWidth visual columns, adding
// "..." if truncated. A non-positive maxWidth leaves s unchanged.
func TruncateANSI(s string, maxWidth int) string {
	if maxWidth <= 0 || lipgloss.Width(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return ansi.Truncate(s, maxWidth, "")
	}
	// ansi.Truncate includes the tail in the final width calculation
	return ansi.Truncate(s, maxWidth, "...")
}
