// Package theme provides the Lip Gloss color palette and reusable styles
// for the scanbridge TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Mode colors.
var (
	ColorAuto   = lipgloss.Color("#a855f7")
	ColorInput  = lipgloss.Color("#3b82f6")
	ColorOutput = lipgloss.Color("#d97706")
)

// Source badge colors.
var (
	ColorSourceKeyboard = lipgloss.Color("#06b6d4")
	ColorSourceSerial   = lipgloss.Color("#10b981")
	ColorSourceManual   = lipgloss.Color("#9ca3af")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorDefault = lipgloss.Color("#9ca3af")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// ModeColor returns the color for a scan mode or change type.
func ModeColor(mode string) lipgloss.Color {
	switch mode {
	case "auto":
		return ColorAuto
	case "input":
		return ColorInput
	case "output":
		return ColorOutput
	default:
		return ColorDefault
	}
}

// SourceBadge returns a colored badge string for a capture source.
func SourceBadge(source string) string {
	switch source {
	case "keyboard":
		return lipgloss.NewStyle().Foreground(ColorSourceKeyboard).Render("[K]")
	case "serial":
		return lipgloss.NewStyle().Foreground(ColorSourceSerial).Render("[S]")
	case "manual":
		return lipgloss.NewStyle().Foreground(ColorSourceManual).Render("[M]")
	default:
		return lipgloss.NewStyle().Foreground(ColorDefault).Render("[?]")
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSuccess = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorHealthy)

	StyleError = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorDanger)
)
