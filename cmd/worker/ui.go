package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	tableTitleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#2196F3"))
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	tableCellStyle   = lipgloss.NewStyle().Padding(0, 1)
	tableMutedStyle  = lipgloss.NewStyle().Faint(true)
)

// table renders a small fixed dataset as aligned terminal output.
type table struct {
	title   string
	headers []string
	rows    [][]string
}

func newTable(title string, headers ...string) *table {
	return &table{title: title, headers: headers}
}

func (t *table) addRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render() string {
	if len(t.rows) == 0 {
		return tableMutedStyle.Render(t.title + ": nothing to show")
	}

	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}
	// Widths include the cell padding.
	for i := range widths {
		widths[i] += 2
	}

	var sb strings.Builder
	if t.title != "" {
		sb.WriteString(tableTitleStyle.Render(t.title))
		sb.WriteString("\n")
	}

	for i, h := range t.headers {
		sb.WriteString(tableHeaderStyle.Width(widths[i]).Render(h))
	}
	sb.WriteString("\n")

	total := 0
	for _, w := range widths {
		total += w
	}
	sb.WriteString(tableMutedStyle.Render(strings.Repeat("-", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				sb.WriteString(tableCellStyle.Width(widths[i]).Render(cell))
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
