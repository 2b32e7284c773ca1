package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/storekeeper/scanbridge/internal/tui/client"
	"github.com/storekeeper/scanbridge/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	Station   string
	Ports     []string
	Mode      client.Mode
	Quantity  int
	Paused    bool
	Pending   int
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{Mode: client.ModeAuto, Quantity: 1}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Connecting...")
	}

	station := m.Station
	if station == "" {
		station = "unknown station"
	}

	var portsStr string
	switch len(m.Ports) {
	case 0:
		portsStr = theme.StyleDimmed.Render("no serial readers")
	case 1:
		portsStr = lipgloss.NewStyle().Foreground(theme.ColorSourceSerial).Render(m.Ports[0])
	default:
		portsStr = lipgloss.NewStyle().Foreground(theme.ColorSourceSerial).Render(fmt.Sprintf("%d serial readers", len(m.Ports)))
	}

	modeStr := lipgloss.NewStyle().Bold(true).Foreground(theme.ModeColor(string(m.Mode))).
		Render(fmt.Sprintf("%s ×%d", m.Mode, m.Quantity))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + station + sep + portsStr + sep + modeStr
	if m.Pending > 0 {
		content += sep + lipgloss.NewStyle().Foreground(theme.ColorWarning).Render(fmt.Sprintf("%d pending", m.Pending))
	}
	if m.Paused {
		content += sep + theme.StyleError.Render("PAUSED")
	}

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}
