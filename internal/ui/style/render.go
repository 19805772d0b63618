package style

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var palette = DefaultPalette()

var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(palette.Primary).
			Bold(true).
			MarginBottom(1)

	LabelStyle = lipgloss.NewStyle().
			Foreground(palette.TextMuted).
			PaddingRight(2)

	ValueStyle = lipgloss.NewStyle().
			Foreground(palette.Text)

	PanelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(palette.Primary).
			Padding(0, 1)

	SuccessStyle = lipgloss.NewStyle().Foreground(palette.Success).Bold(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(palette.Error).Bold(true)
	WarningStyle = lipgloss.NewStyle().Foreground(palette.Warning)
)

// Field is one labelled value in a panel.
type Field struct {
	Label string
	Value string
}

// Panel renders a titled, bordered block of aligned label/value lines.
func Panel(title string, fields []Field) string {
	width := 0
	for _, f := range fields {
		if w := lipgloss.Width(f.Label); w > width {
			width = w
		}
	}

	lines := make([]string, 0, len(fields))
	for _, f := range fields {
		lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Top,
			LabelStyle.Width(width+2).Render(f.Label),
			ValueStyle.Render(f.Value),
		))
	}

	body := lipgloss.JoinVertical(lipgloss.Left,
		TitleStyle.Render(title),
		strings.Join(lines, "\n"),
	)
	return PanelStyle.Render(body)
}

// Table renders rows under headers. Cells in the column named "side" are
// colored by trade direction and cells in the column named "status" by
// outcome.
func Table(headers []string, rows [][]string) string {
	sideCol, statusCol := -1, -1
	for i, h := range headers {
		switch strings.ToLower(h) {
		case "side", "operation":
			sideCol = i
		case "status":
			statusCol = i
		}
	}

	headerStyle := lipgloss.NewStyle().Foreground(palette.Secondary).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Foreground(palette.Text).Padding(0, 1)

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(palette.TextMuted)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if row < 0 || row >= len(rows) || col >= len(rows[row]) {
				return cellStyle
			}
			cell := rows[row][col]
			switch col {
			case sideCol:
				return cellStyle.Foreground(SideColor(cell))
			case statusCol:
				if strings.HasPrefix(cell, "ok") {
					return cellStyle.Foreground(palette.Success)
				}
				return cellStyle.Foreground(palette.Error)
			}
			return cellStyle
		})

	return t.Render()
}

// SideColor maps a trade side or operation name to its color.
func SideColor(side string) lipgloss.Color {
	switch {
	case strings.Contains(side, "buy"):
		return palette.Buy
	case strings.Contains(side, "sell"):
		return palette.Sell
	default:
		return palette.Info
	}
}

func Success(msg string) string { return SuccessStyle.Render("✓ " + msg) }

func Error(msg string) string { return ErrorStyle.Render("✗ " + msg) }

func Warning(msg string) string { return WarningStyle.Render(msg) }

// ShortAddress abbreviates a base58 address for table cells.
func ShortAddress(addr string) string {
	if len(addr) > 12 {
		return addr[:4] + "…" + addr[len(addr)-4:]
	}
	return addr
}
