// Package history renders the recent inventory updates as a table with a
// totals row above it.
package history

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/storekeeper/scanbridge/internal/tui/client"
	"github.com/storekeeper/scanbridge/internal/tui/theme"
)

// MaxRows caps how many results the view keeps.
const MaxRows = 20

// Model holds the history table state.
type Model struct {
	Width   int
	results []client.ScanResult
}

// New creates an empty history model.
func New() Model {
	return Model{}
}

// Set replaces the results with a snapshot, newest first.
func (m *Model) Set(results []client.ScanResult) {
	m.results = append([]client.ScanResult(nil), results...)
	if len(m.results) > MaxRows {
		m.results = m.results[:MaxRows]
	}
}

// Add prepends a result, dropping any earlier entry for the same scan id.
func (m *Model) Add(r client.ScanResult) {
	out := make([]client.ScanResult, 0, len(m.results)+1)
	out = append(out, r)
	for _, existing := range m.results {
		if r.ScanID != "" && existing.ScanID == r.ScanID {
			continue
		}
		out = append(out, existing)
	}
	if len(out) > MaxRows {
		out = out[:MaxRows]
	}
	m.results = out
}

// Results returns the rows, newest first.
func (m Model) Results() []client.ScanResult {
	return m.results
}

// View renders the totals row and the table.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderTotals(width), m.renderTable(width))
}

func (m Model) renderTotals(width int) string {
	var in, out int
	for _, r := range m.results {
		if r.Mode == string(client.ModeOutput) {
			out += -r.Change
		} else {
			in += r.Change
		}
	}

	statStyle := lipgloss.NewStyle().Padding(0, 1)
	stats := []string{
		statStyle.Foreground(theme.ColorBright).Render(fmt.Sprintf("Scans: %d", len(m.results))),
		statStyle.Foreground(theme.ColorInput).Render(fmt.Sprintf("In: +%d", in)),
		statStyle.Foreground(theme.ColorOutput).Render(fmt.Sprintf("Out: -%d", out)),
	}
	content := strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | "))

	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderTable(width int) string {
	header := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBright).Render("  Recent scans")
	if len(m.results) == 0 {
		return lipgloss.JoinVertical(lipgloss.Left, header, theme.StyleDimmed.Render("  No scans yet"))
	}

	colTime := 9
	colSrc := 4
	colBarcode := 16
	colItem := 24
	colChange := 7
	colStock := 13

	dimStyle := lipgloss.NewStyle().Foreground(theme.ColorDimmed)

	tableHeader := fmt.Sprintf("  %-*s %-*s %-*s %-*s %*s %*s",
		colTime, "Time",
		colSrc, "Src",
		colBarcode, "Barcode",
		colItem, "Item",
		colChange, "Change",
		colStock, "Stock",
	)
	lines := []string{
		header,
		dimStyle.Render(tableHeader),
		dimStyle.Render("  " + strings.Repeat("─", min(width-4, colTime+colSrc+colBarcode+colItem+colChange+colStock+5))),
	}

	for _, r := range m.results {
		timeStr := dimStyle.Width(colTime).Render(r.At.Local().Format("15:04:05"))
		srcStr := lipgloss.NewStyle().Width(colSrc).Render(theme.SourceBadge(r.Source))
		barcodeStr := lipgloss.NewStyle().Width(colBarcode).Render(truncate(r.Barcode, colBarcode))
		itemStr := lipgloss.NewStyle().Foreground(theme.ColorBright).Width(colItem).Render(truncate(r.Item, colItem))
		changeStr := lipgloss.NewStyle().Foreground(theme.ModeColor(r.Mode)).Width(colChange).Align(lipgloss.Right).
			Render(fmt.Sprintf("%+d", r.Change))
		stockStr := dimStyle.Width(colStock).Align(lipgloss.Right).
			Render(fmt.Sprintf("%d→%d %s", r.Before, r.After, r.Unit))

		lines = append(lines, fmt.Sprintf("  %s %s %s %s %s %s", timeStr, srcStr, barcodeStr, itemStr, changeStr, stockStr))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n-1 {
		return s
	}
	return string(r[:n-2]) + "…"
}
