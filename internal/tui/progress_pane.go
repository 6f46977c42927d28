package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

// TaskRow is the dashboard's view of one task.
type TaskRow struct {
	ID     string
	Title  string
	Status model.Status
	Phase  string
}

// ProgressPaneModel shows task statuses, workflow phases and overall progress.
type ProgressPaneModel struct {
	tasks    map[string]*TaskRow
	order    []string
	trackAll bool // follow tasks that were not seeded
	width    int
	height   int
	focused  bool
}

// NewProgressPaneModel creates a progress pane for the given tasks.
// With no seed tasks every task seen on the bus is tracked.
func NewProgressPaneModel(tasks []*model.Task) ProgressPaneModel {
	m := ProgressPaneModel{tasks: make(map[string]*TaskRow), trackAll: len(tasks) == 0}
	for _, t := range tasks {
		m.tasks[t.ID] = &TaskRow{ID: t.ID, Title: t.Title, Status: t.Status}
		m.order = append(m.order, t.ID)
	}
	return m
}

func (m *ProgressPaneModel) row(id string) (*TaskRow, bool) {
	r, ok := m.tasks[id]
	if !ok && m.trackAll && id != "" {
		r = &TaskRow{ID: id, Title: shortID(id), Status: model.StatusCreated}
		m.tasks[id] = r
		m.order = append(m.order, id)
		ok = true
	}
	return r, ok
}

// Update handles messages for the progress pane.
func (m ProgressPaneModel) Update(msg tea.Msg) (ProgressPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case events.TaskStatusEvent:
		if r, ok := m.row(msg.ID); ok {
			r.Status = model.Status(msg.To)
		}
	case events.WorkflowPhaseEvent:
		if r, ok := m.row(msg.ID); ok {
			r.Phase = msg.Phase
		}
	}
	return m, nil
}

// Counts groups the tracked tasks: settled (review or done), running
// (assigned or in progress), failed, and everything else as pending.
func (m ProgressPaneModel) Counts() (settled, running, failed, pending int) {
	for _, r := range m.tasks {
		switch {
		case model.IsSettled(r.Status):
			settled++
		case r.Status == model.StatusAssigned || r.Status == model.StatusInProgress:
			running++
		case r.Status == model.StatusFailed:
			failed++
		default:
			pending++
		}
	}
	return settled, running, failed, pending
}

// Row returns the tracked row for a task.
func (m ProgressPaneModel) Row(id string) (*TaskRow, bool) {
	r, ok := m.tasks[id]
	return r, ok
}

// View renders the progress pane.
func (m ProgressPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	settled, running, failed, pending := m.Counts()
	total := len(m.tasks)
	b.WriteString(fmt.Sprintf("Total:   %d\n", total))
	b.WriteString(fmt.Sprintf("Settled: %s\n", StyleStatusComplete.Render(fmt.Sprintf("%d", settled))))
	b.WriteString(fmt.Sprintf("Running: %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", running))))
	b.WriteString(fmt.Sprintf("Failed:  %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", failed))))
	b.WriteString(fmt.Sprintf("Pending: %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", pending))))
	b.WriteString("\n")

	if total > 0 {
		barWidth := min(m.width-4, 40)
		settledWidth := (settled * barWidth) / total
		failedWidth := (failed * barWidth) / total
		runningWidth := (running * barWidth) / total
		pendingWidth := barWidth - settledWidth - failedWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, settledWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n\n", bar, settled, total))
	}

	for _, id := range m.order {
		r := m.tasks[id]
		line := fmt.Sprintf("%s %-24s %s", statusIcon(r.Status), truncate(r.Title, 24), r.Status)
		if r.Phase != "" {
			line += " · " + r.Phase
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func statusIcon(s model.Status) string {
	switch {
	case model.IsSettled(s):
		return StyleStatusComplete.Render("✓")
	case s == model.StatusFailed:
		return StyleStatusFailed.Render("✗")
	case s == model.StatusAssigned || s == model.StatusInProgress:
		return StyleStatusRunning.Render("●")
	}
	return StyleStatusPending.Render("○")
}

// SetSize updates the pane dimensions.
func (m *ProgressPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *ProgressPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
