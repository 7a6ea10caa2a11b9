// Package ui provides reusable terminal UI components for the chronicle CLI.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/chronicle-es/go-chronicle/cli/styles"
)

// SpinnerModel is a spinner component with a message
type SpinnerModel struct {
	spinner  spinner.Model
	message  string
	quitting bool
	done     bool
	result   string
	err      error
}

// NewSpinner creates a new spinner with the given message
func NewSpinner(message string) SpinnerModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(styles.Primary)

	return SpinnerModel{
		spinner: s,
		message: message,
	}
}

func (m SpinnerModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m SpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case SpinnerDoneMsg:
		m.done = true
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m SpinnerModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(m.result) + "\n"
		}
		return styles.FormatSuccess(m.result) + "\n"
	}

	if m.quitting {
		return styles.FormatWarning("Cancelled") + "\n"
	}

	return m.spinner.View() + " " + styles.Normal.Render(m.message) + "\n"
}

// SpinnerDoneMsg signals that the spinner operation is complete
type SpinnerDoneMsg struct {
	Result string
	Err    error
}

// RebuildModel renders a progress bar for a projection rebuild. It is
// driven by RebuildProgressMsg values posted from a rebuild goroutine.
type RebuildModel struct {
	progress   progress.Model
	projection string
	percent    float64
	processed  uint64
	total      uint64
	rate       float64
	remaining  time.Duration
	done       bool
	err        error
}

// NewRebuildModel creates a progress bar for the named projection
func NewRebuildModel(projection string) RebuildModel {
	p := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(40),
		progress.WithoutPercentage(),
	)

	return RebuildModel{
		progress:   p,
		projection: projection,
	}
}

func (m RebuildModel) Init() tea.Cmd {
	return nil
}

func (m RebuildModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}

	case RebuildProgressMsg:
		m.processed = msg.Processed
		m.total = msg.Total
		m.rate = msg.EventsPerSecond
		m.remaining = msg.EstimatedRemaining
		if m.total > 0 {
			m.percent = float64(m.processed) / float64(m.total)
		}
		if msg.Done {
			m.done = true
			m.err = msg.Err
			return m, tea.Quit
		}
		return m, nil

	case progress.FrameMsg:
		progressModel, cmd := m.progress.Update(msg)
		m.progress = progressModel.(progress.Model)
		return m, cmd
	}

	return m, nil
}

func (m RebuildModel) View() string {
	if m.done {
		if m.err != nil {
			return styles.FormatError(fmt.Sprintf("Rebuild of '%s' failed: %v", m.projection, m.err)) + "\n"
		}
		return styles.FormatSuccess(fmt.Sprintf("Rebuilt '%s' (%d events)", m.projection, m.processed)) + "\n"
	}

	status := fmt.Sprintf("%d/%d events", m.processed, m.total)
	if m.rate > 0 {
		status += fmt.Sprintf("  %.0f ev/s", m.rate)
	}
	if m.remaining > 0 {
		status += "  " + m.remaining.Round(time.Second).String() + " left"
	}

	return m.progress.ViewAs(m.percent) + " " + styles.Muted.Render(status) + "\n"
}

// RebuildProgressMsg updates the rebuild progress bar
type RebuildProgressMsg struct {
	Processed          uint64
	Total              uint64
	EventsPerSecond    float64
	EstimatedRemaining time.Duration
	Done               bool
	Err                error
}

// Table renders a bordered table
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

// NewTable creates a new table with headers
func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{
		headers: headers,
		widths:  widths,
	}
}

// AddRow adds a row to the table
func (t *Table) AddRow(values ...string) {
	row := make([]string, len(t.headers))
	for i := 0; i < len(t.headers); i++ {
		if i < len(values) {
			row[i] = values[i]
			if len(values[i]) > t.widths[i] {
				t.widths[i] = len(values[i])
			}
		}
	}
	t.rows = append(t.rows, row)
}

// Render returns the formatted table string
func (t *Table) Render() string {
	if len(t.headers) == 0 {
		return ""
	}

	var sb strings.Builder

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Padding(0, 1)

	cellStyle := lipgloss.NewStyle().
		Foreground(styles.Text).
		Padding(0, 1)

	borderStyle := lipgloss.NewStyle().
		Foreground(styles.Border)

	rule := func(left, mid, right string) {
		sb.WriteString(borderStyle.Render(left))
		for i, w := range t.widths {
			sb.WriteString(borderStyle.Render(strings.Repeat("─", w+2)))
			if i < len(t.widths)-1 {
				sb.WriteString(borderStyle.Render(mid))
			}
		}
		sb.WriteString(borderStyle.Render(right))
		sb.WriteString("\n")
	}

	rule("┌", "┬", "┐")

	sb.WriteString(borderStyle.Render("│"))
	for i, h := range t.headers {
		sb.WriteString(headerStyle.Width(t.widths[i]).Render(h))
		sb.WriteString(borderStyle.Render("│"))
	}
	sb.WriteString("\n")

	rule("├", "┼", "┤")

	for _, row := range t.rows {
		sb.WriteString(borderStyle.Render("│"))
		for i, cell := range row {
			sb.WriteString(cellStyle.Width(t.widths[i]).Render(cell))
			sb.WriteString(borderStyle.Render("│"))
		}
		sb.WriteString("\n")
	}

	rule("└", "┴", "┘")

	return strings.TrimSuffix(sb.String(), "\n")
}

// StatusBadge returns a styled status badge
func StatusBadge(status string) string {
	switch strings.ToLower(status) {
	case "running", "catching_up", "healthy", "ok", "idle":
		return lipgloss.NewStyle().
			Background(styles.Success).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "stopped", "pending":
		return lipgloss.NewStyle().
			Background(styles.Warning).
			Foreground(lipgloss.Color("#000000")).
			Padding(0, 1).
			Render(status)
	case "faulted", "error", "failed":
		return lipgloss.NewStyle().
			Background(styles.Error).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Render(status)
	default:
		return lipgloss.NewStyle().
			Background(styles.Surface).
			Foreground(styles.Text).
			Padding(0, 1).
			Render(status)
	}
}

// Banner renders the chronicle ASCII art banner
func Banner() string {
	banner := `
   ██████╗██╗  ██╗██████╗  ██████╗ ███╗   ██╗██╗ ██████╗██╗     ███████╗
  ██╔════╝██║  ██║██╔══██╗██╔═══██╗████╗  ██║██║██╔════╝██║     ██╔════╝
  ██║     ███████║██████╔╝██║   ██║██╔██╗ ██║██║██║     ██║     █████╗
  ██║     ██╔══██║██╔══██╗██║   ██║██║╚██╗██║██║██║     ██║     ██╔══╝
  ╚██████╗██║  ██║██║  ██║╚██████╔╝██║ ╚████║██║╚██████╗███████╗███████╗
   ╚═════╝╚═╝  ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═╝  ╚═══╝╚═╝ ╚═════╝╚══════╝╚══════╝

                    Event-Sourced Persistence for Go
`
	return lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Render(banner)
}

// SimpleBanner returns a smaller, simpler banner
func SimpleBanner() string {
	return styles.IconChronicle + " " + lipgloss.NewStyle().
		Bold(true).
		Foreground(styles.Primary).
		Render("chronicle") +
		" " +
		styles.Muted.Render("- Event-Sourced Persistence for Go")
}

// Divider returns a horizontal divider line
func Divider(width int) string {
	return styles.Dim.Render(strings.Repeat("─", width))
}

// ListItems formats a list of items with bullets
func ListItems(items []string) string {
	var sb strings.Builder
	for _, item := range items {
		sb.WriteString(styles.ListItemBullet.Render(styles.IconDot))
		sb.WriteString(styles.ListItem.Render(item))
		sb.WriteString("\n")
	}
	return sb.String()
}
