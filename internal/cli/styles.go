// Package cli provides styled terminal output using lipgloss.
package cli

import (
	"fmt"
	"strings"

	"github.com/Veraticus/tripwire/internal/model"
	"github.com/charmbracelet/lipgloss"
)

var (
	// PrimaryColor is the main theme color.
	PrimaryColor = lipgloss.Color("#7AA2F7")
	// SuccessColor indicates successful operations.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor indicates warnings or caution messages.
	WarningColor = lipgloss.Color("#FFE66D")
	// ErrorColor indicates errors or failure messages.
	ErrorColor = lipgloss.Color("#FF6B6B")
	// InfoColor indicates informational messages.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor indicates less prominent UI elements.
	SubtleColor = lipgloss.Color("#666666")

	// Risk level colors, lowest to highest.
	LowRiskColor      = lipgloss.Color("#4ECDC4")
	MediumRiskColor   = lipgloss.Color("#FFE66D")
	HighRiskColor     = lipgloss.Color("#FF9F43")
	CriticalRiskColor = lipgloss.Color("#FF4757")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor).
			MarginBottom(1)

	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)

	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)

	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(ErrorColor)

	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)

	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoxStyle is used for bordered content boxes.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(lipgloss.Color("#333"))

	// TableCellStyle formats table cells with appropriate padding.
	TableCellStyle = lipgloss.NewStyle().PaddingRight(2)

	// PromptStyle is used for user prompts.
	PromptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryColor)

	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	ShieldIcon  = "🛡️"
	FlagIcon    = "🚩"
	ChartIcon   = "📊"
)

// RiskColor returns the color for a risk level.
func RiskColor(level model.RiskLevel) lipgloss.Color {
	switch level {
	case model.RiskLevelCritical:
		return CriticalRiskColor
	case model.RiskLevelHigh:
		return HighRiskColor
	case model.RiskLevelMedium:
		return MediumRiskColor
	default:
		return LowRiskColor
	}
}

// SeverityColor returns the color for a category or violation severity.
func SeverityColor(s model.Severity) lipgloss.Color {
	switch s {
	case model.SeverityCritical:
		return CriticalRiskColor
	case model.SeverityHigh:
		return HighRiskColor
	case model.SeverityMedium:
		return MediumRiskColor
	default:
		return LowRiskColor
	}
}

// FormatRiskLevel renders a risk level as a colored badge.
func FormatRiskLevel(level model.RiskLevel) string {
	return badgeStyle.Foreground(RiskColor(level)).Render(string(level))
}

// FormatSeverity renders a severity in its color.
func FormatSeverity(s model.Severity) string {
	return lipgloss.NewStyle().Foreground(SeverityColor(s)).Render(string(s))
}

// FormatScore renders a 0-100 score colored by the level it falls in.
func FormatScore(score int) string {
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(RiskColor(model.LevelForScore(score))).
		Render(fmt.Sprintf("%3d", score))
}

// FormatStatus renders a violation status.
func FormatStatus(s model.ViolationStatus) string {
	switch s {
	case model.StatusActive:
		return ErrorStyle.Render(string(s))
	case model.StatusInvestigating:
		return WarningStyle.Render(string(s))
	default:
		return SubtleStyle.Render(string(s))
	}
}

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the shield icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(ShieldIcon + " " + title)
}

// FormatPrompt formats a prompt message.
func FormatPrompt(prompt string) string {
	return PromptStyle.Render(prompt + " → ")
}

// RenderBox renders content in a styled box.
func RenderBox(title, content string) string {
	boxTitle := TitleStyle.UnsetMargins().Render(title)
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, boxTitle, content))
}

// RenderTable lays rows out in columns sized to their widest cell. Cells may
// already carry styling; widths are measured on the visible text.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i := 0; i < len(row) && i < len(widths); i++ {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	renderRow := func(cells []string, style lipgloss.Style) string {
		parts := make([]string, len(widths))
		for i := range widths {
			var cell string
			if i < len(cells) {
				cell = cells[i]
			}
			parts[i] = style.Width(widths[i] + 2).Render(cell)
		}
		return strings.TrimRight(lipgloss.JoinHorizontal(lipgloss.Top, parts...), " ")
	}

	var b strings.Builder
	b.WriteString(renderRow(headers, TableHeaderStyle.BorderBottom(false)))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(renderRow(row, TableCellStyle))
		b.WriteString("\n")
	}
	return b.String()
}
