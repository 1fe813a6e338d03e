package tui

import "github.com/charmbracelet/lipgloss"

var (
	PrimaryColor   = lipgloss.Color("#A78BFA") // Purple
	SecondaryColor = lipgloss.Color("#10B981") // Green
	WarningColor   = lipgloss.Color("#F59E0B") // Amber
	ErrorColor     = lipgloss.Color("#F87171") // Red
	MutedColor     = lipgloss.Color("#9CA3AF") // Gray
	BorderColor    = lipgloss.Color("#6B7280")
	BlueColor      = lipgloss.Color("#60A5FA")

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(PrimaryColor).
		MarginBottom(1)

	Muted   = lipgloss.NewStyle().Foreground(MutedColor)
	Success = lipgloss.NewStyle().Foreground(SecondaryColor).Bold(true)
	Warning = lipgloss.NewStyle().Foreground(WarningColor)
	Failure = lipgloss.NewStyle().Foreground(ErrorColor).Bold(true)

	Agent = lipgloss.NewStyle().Foreground(BlueColor).Bold(true)

	// Badge is the fixed-width message type column.
	Badge = lipgloss.NewStyle().Width(11).Foreground(MutedColor)

	ResultBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)
)

// phaseStyle colors a phase name.
func phaseStyle(phase string) lipgloss.Style {
	switch phase {
	case "proposing":
		return lipgloss.NewStyle().Foreground(BlueColor)
	case "discussion":
		return lipgloss.NewStyle().Foreground(WarningColor)
	case "consensus":
		return lipgloss.NewStyle().Foreground(PrimaryColor)
	default:
		return lipgloss.NewStyle().Foreground(SecondaryColor)
	}
}
