package ui

import "github.com/charmbracelet/lipgloss"

// Control-room palette on a dark background.
var (
	Primary   = lipgloss.Color("#FF6B35")
	Secondary = lipgloss.Color("#1E88E5")
	Success   = lipgloss.Color("#4CAF50")
	Warning   = lipgloss.Color("#FFB74D")
	Error     = lipgloss.Color("#F44336")

	Text       = lipgloss.Color("#E0E0E0")
	TextBright = lipgloss.Color("#FFFFFF")
	Muted      = lipgloss.Color("#90A4AE")

	PanelBg    = lipgloss.Color("#161B26")
	HeaderBg   = lipgloss.Color("#1C2128")
	BorderDark = lipgloss.Color("#30363D")

	OnAir   = lipgloss.Color("#FF1744")
	Standby = lipgloss.Color("#FFC107")
	Offline = lipgloss.Color("#424242")
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Background(HeaderBg).
			Padding(0, 2).
			Bold(true).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Primary)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderDark).
			Foreground(Text).
			Padding(0, 1).
			Width(38)

	PanelTitleStyle = lipgloss.NewStyle().
			Foreground(Primary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(Muted).
			Width(12)

	ValueStyle = lipgloss.NewStyle().
			Foreground(TextBright).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning).
			Bold(true)

	MutedStyle = lipgloss.NewStyle().
			Foreground(Muted)

	LiveStyle = lipgloss.NewStyle().
			Foreground(OnAir).
			Bold(true)

	ArchiveStyle = lipgloss.NewStyle().
			Foreground(Secondary).
			Bold(true)

	StandbyStyle = lipgloss.NewStyle().
			Foreground(Standby).
			Bold(true)

	OfflineStyle = lipgloss.NewStyle().
			Foreground(Offline).
			Bold(true)

	ReadyStyle = lipgloss.NewStyle().
			Foreground(Success).
			Bold(true)
)

// ModeBadge renders the live/archive indicator.
func ModeBadge(mode string) string {
	if mode == "live" {
		return LiveStyle.Render("● LIVE")
	}
	return ArchiveStyle.Render("◆ ARCHIVE")
}

// StatusBadge renders a session status.
func StatusBadge(status string) string {
	switch status {
	case "ready":
		return ReadyStyle.Render("READY")
	case "loading":
		return StandbyStyle.Render("LOADING")
	case "failed":
		return ErrorStyle.Render("FAILED")
	default:
		return OfflineStyle.Render("IDLE")
	}
}
