package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
)

func TestNewSpinner(t *testing.T) {
	s := NewSpinner("Loading streams...")
	assert.Equal(t, "Loading streams...", s.message)
	assert.False(t, s.quitting)
	assert.False(t, s.done)
}

func TestSpinnerInit(t *testing.T) {
	s := NewSpinner("Loading...")
	cmd := s.Init()
	assert.NotNil(t, cmd)
}

func TestSpinnerUpdate(t *testing.T) {
	t.Run("quit with q", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
		sm := model.(SpinnerModel)
		assert.True(t, sm.quitting)
		assert.NotNil(t, cmd)
	})

	t.Run("quit with esc", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(tea.KeyMsg{Type: tea.KeyEsc})
		sm := model.(SpinnerModel)
		assert.True(t, sm.quitting)
		assert.NotNil(t, cmd)
	})

	t.Run("quit with ctrl+c", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
		sm := model.(SpinnerModel)
		assert.True(t, sm.quitting)
		assert.NotNil(t, cmd)
	})

	t.Run("done success", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(SpinnerDoneMsg{Result: "Schema initialized", Err: nil})
		sm := model.(SpinnerModel)
		assert.True(t, sm.done)
		assert.Equal(t, "Schema initialized", sm.result)
		assert.Nil(t, sm.err)
		assert.NotNil(t, cmd)
	})

	t.Run("done error", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(SpinnerDoneMsg{Result: "Connection failed", Err: assert.AnError})
		sm := model.(SpinnerModel)
		assert.True(t, sm.done)
		assert.Equal(t, assert.AnError, sm.err)
		assert.NotNil(t, cmd)
	})

	t.Run("tick", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(spinner.TickMsg{Time: time.Now()})
		_ = model.(SpinnerModel)
		assert.NotNil(t, cmd)
	})

	t.Run("unhandled message", func(t *testing.T) {
		s := NewSpinner("Loading...")
		model, cmd := s.Update(tea.WindowSizeMsg{})
		_ = model.(SpinnerModel)
		assert.Nil(t, cmd)
	})
}

func TestSpinnerView(t *testing.T) {
	t.Run("normal view", func(t *testing.T) {
		s := NewSpinner("Loading...")
		assert.Contains(t, s.View(), "Loading...")
	})

	t.Run("done view success", func(t *testing.T) {
		s := NewSpinner("Loading...")
		s.done = true
		s.result = "Schema initialized"
		assert.Contains(t, s.View(), "Schema initialized")
	})

	t.Run("done view error", func(t *testing.T) {
		s := NewSpinner("Loading...")
		s.done = true
		s.result = "Connection failed"
		s.err = assert.AnError
		assert.Contains(t, s.View(), "Connection failed")
	})

	t.Run("quitting view", func(t *testing.T) {
		s := NewSpinner("Loading...")
		s.quitting = true
		assert.Contains(t, s.View(), "Cancelled")
	})
}

func TestNewRebuildModel(t *testing.T) {
	m := NewRebuildModel("transcripts")
	assert.Equal(t, "transcripts", m.projection)
	assert.Equal(t, float64(0), m.percent)
	assert.False(t, m.done)
}

func TestRebuildModelInit(t *testing.T) {
	m := NewRebuildModel("transcripts")
	assert.Nil(t, m.Init())
}

func TestRebuildModelUpdate(t *testing.T) {
	t.Run("quit with q", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
		_ = model.(RebuildModel)
		assert.NotNil(t, cmd)
	})

	t.Run("progress message", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, cmd := m.Update(RebuildProgressMsg{
			Processed:          50,
			Total:              100,
			EventsPerSecond:    2500,
			EstimatedRemaining: 20 * time.Millisecond,
		})
		rm := model.(RebuildModel)
		assert.Equal(t, uint64(50), rm.processed)
		assert.Equal(t, uint64(100), rm.total)
		assert.Equal(t, 0.5, rm.percent)
		assert.False(t, rm.done)
		assert.Nil(t, cmd)
	})

	t.Run("progress complete", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, cmd := m.Update(RebuildProgressMsg{Processed: 100, Total: 100, Done: true})
		rm := model.(RebuildModel)
		assert.True(t, rm.done)
		assert.Nil(t, rm.err)
		assert.NotNil(t, cmd)
	})

	t.Run("progress failed", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, cmd := m.Update(RebuildProgressMsg{Processed: 10, Total: 100, Done: true, Err: assert.AnError})
		rm := model.(RebuildModel)
		assert.True(t, rm.done)
		assert.Equal(t, assert.AnError, rm.err)
		assert.NotNil(t, cmd)
	})

	t.Run("zero total leaves percent unchanged", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, _ := m.Update(RebuildProgressMsg{Processed: 5, Total: 0})
		rm := model.(RebuildModel)
		assert.Equal(t, float64(0), rm.percent)
	})

	t.Run("frame message", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, _ := m.Update(progress.FrameMsg{})
		_ = model.(RebuildModel)
	})

	t.Run("unhandled message", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		model, cmd := m.Update(tea.WindowSizeMsg{})
		_ = model.(RebuildModel)
		assert.Nil(t, cmd)
	})
}

func TestRebuildModelView(t *testing.T) {
	t.Run("in progress", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		m.processed = 50
		m.total = 100
		m.rate = 2500
		m.remaining = 3 * time.Second
		view := m.View()
		assert.Contains(t, view, "50/100 events")
		assert.Contains(t, view, "2500 ev/s")
		assert.Contains(t, view, "3s left")
	})

	t.Run("done", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		m.done = true
		m.processed = 1204
		view := m.View()
		assert.Contains(t, view, "Rebuilt 'transcripts'")
		assert.Contains(t, view, "1204 events")
	})

	t.Run("failed", func(t *testing.T) {
		m := NewRebuildModel("transcripts")
		m.done = true
		m.err = assert.AnError
		view := m.View()
		assert.Contains(t, view, "Rebuild of 'transcripts' failed")
	})
}

func TestNewTable(t *testing.T) {
	table := NewTable("Stream", "Version", "Status")
	assert.Equal(t, []string{"Stream", "Version", "Status"}, table.headers)
	assert.Empty(t, table.rows)
	assert.Equal(t, 3, len(table.widths))
}

func TestTable_AddRow(t *testing.T) {
	table := NewTable("Stream", "Version")
	table.AddRow("student-1", "4")
	table.AddRow("student-with-long-id", "12")

	assert.Len(t, table.rows, 2)
	assert.Equal(t, []string{"student-1", "4"}, table.rows[0])
	assert.Equal(t, []string{"student-with-long-id", "12"}, table.rows[1])

	// Width follows the longest value in the column
	assert.GreaterOrEqual(t, table.widths[0], len("student-with-long-id"))
}

func TestTable_AddRow_FewerColumns(t *testing.T) {
	table := NewTable("Stream", "Version", "Status")
	table.AddRow("only", "two")

	assert.Len(t, table.rows, 1)
	assert.Equal(t, []string{"only", "two", ""}, table.rows[0])
}

func TestTable_AddRow_ExtraColumns(t *testing.T) {
	table := NewTable("Stream")
	table.AddRow("student-1", "dropped")

	assert.Equal(t, []string{"student-1"}, table.rows[0])
}

func TestTable_Render(t *testing.T) {
	table := NewTable("Projection", "Status")
	table.AddRow("transcripts", "running")
	table.AddRow("rosters", "faulted")

	rendered := table.Render()

	assert.Contains(t, rendered, "┌")
	assert.Contains(t, rendered, "┐")
	assert.Contains(t, rendered, "└")
	assert.Contains(t, rendered, "┘")
	assert.Contains(t, rendered, "┼")

	assert.Contains(t, rendered, "Projection")
	assert.Contains(t, rendered, "transcripts")
	assert.Contains(t, rendered, "faulted")
	assert.False(t, strings.HasSuffix(rendered, "\n"))
}

func TestTable_RenderEmpty(t *testing.T) {
	table := &Table{}
	assert.Empty(t, table.Render())
}

func TestStatusBadge(t *testing.T) {
	statuses := []string{
		"running",
		"catching_up",
		"healthy",
		"ok",
		"idle",
		"stopped",
		"pending",
		"faulted",
		"error",
		"failed",
		"unknown",
		"RUNNING", // case insensitive match, original casing preserved
	}

	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			badge := StatusBadge(status)
			assert.Contains(t, badge, status)
		})
	}
}

func TestBanner(t *testing.T) {
	banner := Banner()
	assert.NotEmpty(t, banner)
	assert.Contains(t, banner, "Event-Sourced Persistence")
}

func TestSimpleBanner(t *testing.T) {
	banner := SimpleBanner()
	assert.Contains(t, banner, "chronicle")
	assert.Contains(t, banner, "Event-Sourced Persistence")
}

func TestDivider(t *testing.T) {
	divider := Divider(20)
	assert.True(t, strings.Contains(divider, "─"))
}

func TestListItems(t *testing.T) {
	items := []string{"transcripts", "rosters", "attendance"}
	list := ListItems(items)

	assert.Contains(t, list, "transcripts")
	assert.Contains(t, list, "rosters")
	assert.Contains(t, list, "attendance")
}

func TestListItemsEmpty(t *testing.T) {
	assert.Empty(t, ListItems(nil))
}
