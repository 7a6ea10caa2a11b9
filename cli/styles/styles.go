// Package styles provides consistent styling for the chronicle CLI.
package styles

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Color palette
var (
	// Primary colors
	Primary      = lipgloss.Color("#0EA5E9") // Sky blue
	PrimaryLight = lipgloss.Color("#7DD3FC") // Light sky
	PrimaryDark  = lipgloss.Color("#0369A1") // Deep sky
	Secondary    = lipgloss.Color("#F97316") // Orange

	// Status colors
	Success = lipgloss.Color("#22C55E") // Green
	Warning = lipgloss.Color("#EAB308") // Yellow
	Error   = lipgloss.Color("#EF4444") // Red
	Info    = lipgloss.Color("#3B82F6") // Blue

	// Neutral colors
	Text      = lipgloss.Color("#F9FAFB") // Almost white
	TextMuted = lipgloss.Color("#9CA3AF") // Gray
	TextDim   = lipgloss.Color("#6B7280") // Darker gray
	Surface   = lipgloss.Color("#1F2937") // Panel background
	Border    = lipgloss.Color("#374151") // Border gray
)

// Text styles
var (
	// Bold text
	Bold = lipgloss.NewStyle().
		Bold(true)

	// Title style for headers
	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(Primary).
		MarginBottom(1)

	// Subtitle for secondary headers
	Subtitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(PrimaryLight)

	// Normal text
	Normal = lipgloss.NewStyle().
		Foreground(Text)

	// Muted text for less important info
	Muted = lipgloss.NewStyle().
		Foreground(TextMuted)

	// Dim text for very subtle info
	Dim = lipgloss.NewStyle().
		Foreground(TextDim)

	// Highlight for important text
	Highlight = lipgloss.NewStyle().
			Bold(true).
			Foreground(Secondary)

	// Code style for inline code
	Code = lipgloss.NewStyle().
		Foreground(PrimaryLight).
		Background(Surface).
		Padding(0, 1)
)

// Status styles
var (
	// SuccessStyle for success messages
	SuccessStyle = lipgloss.NewStyle().
			Foreground(Success)

	// WarningStyle for warning messages
	WarningStyle = lipgloss.NewStyle().
			Foreground(Warning)

	// ErrorStyle for error messages
	ErrorStyle = lipgloss.NewStyle().
			Foreground(Error)

	// InfoStyle for informational messages
	InfoStyle = lipgloss.NewStyle().
			Foreground(Info)
)

// Icons
const (
	IconSuccess   = "✓"
	IconError     = "✗"
	IconWarning   = "⚠"
	IconInfo      = "ℹ"
	IconArrow     = "→"
	IconDot       = "•"
	IconPending   = "◌"
	IconStream    = "⇶"
	IconList      = "☰"
	IconHealth    = "♥"
	IconChronicle = "📜"
)

// newRoundedBox creates a box style with rounded border and the given border color.
func newRoundedBox(borderColor lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Padding(1, 2)
}

// Box styles for containers
var (
	Box          = newRoundedBox(Border)
	BoxHighlight = newRoundedBox(Primary)
	BoxSuccess   = newRoundedBox(Success)
	BoxError     = newRoundedBox(Error)
)

// Layout helpers
var (
	// Indent for indented text
	Indent = lipgloss.NewStyle().
		PaddingLeft(2)

	// ListItem for list items
	ListItem = lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(Text)

	// ListItemBullet for list item bullets
	ListItemBullet = lipgloss.NewStyle().
			Foreground(Primary).
			PaddingRight(1)
)

// FormatSuccess formats a success message with icon
func FormatSuccess(msg string) string {
	return SuccessStyle.Render(IconSuccess) + " " + Normal.Render(msg)
}

// FormatError formats an error message with icon
func FormatError(msg string) string {
	return ErrorStyle.Render(IconError) + " " + Normal.Render(msg)
}

// FormatWarning formats a warning message with icon
func FormatWarning(msg string) string {
	return WarningStyle.Render(IconWarning) + " " + Normal.Render(msg)
}

// FormatInfo formats an info message with icon
func FormatInfo(msg string) string {
	return InfoStyle.Render(IconInfo) + " " + Normal.Render(msg)
}

// FormatKeyValue formats a key-value pair
func FormatKeyValue(key, value string) string {
	keyStyle := lipgloss.NewStyle().
		Foreground(TextMuted).
		Width(20)
	return keyStyle.Render(key+":") + " " + Highlight.Render(value)
}

// FormatCount formats a labelled count, e.g. "events: 1204"
func FormatCount(label string, n uint64) string {
	return Muted.Render(label+":") + " " + Normal.Render(fmt.Sprintf("%d", n))
}

// DisableColors disables all colors for terminals that don't support them
func DisableColors() {
	Primary = lipgloss.Color("")
	PrimaryLight = lipgloss.Color("")
	PrimaryDark = lipgloss.Color("")
	Secondary = lipgloss.Color("")
	Success = lipgloss.Color("")
	Warning = lipgloss.Color("")
	Error = lipgloss.Color("")
	Info = lipgloss.Color("")
	Text = lipgloss.Color("")
	TextMuted = lipgloss.Color("")
	TextDim = lipgloss.Color("")
	Surface = lipgloss.Color("")
	Border = lipgloss.Color("")
}
