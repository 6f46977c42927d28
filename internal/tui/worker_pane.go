package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

// maxLogLines bounds each worker's retained output.
const maxLogLines = 500

// WorkerState is the dashboard's view of one worker.
type WorkerState struct {
	ID     string
	Name   string
	Role   model.Role
	Status string // events.AgentBusy or events.AgentIdle
	TaskID string
	Queued map[string]bool
	Output []string
}

// WorkerPaneModel lists workers and shows the selected worker's output.
type WorkerPaneModel struct {
	workers     map[string]*WorkerState
	order       []string
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewWorkerPaneModel creates a worker pane seeded with the known workers.
func NewWorkerPaneModel(workers []*model.Worker) WorkerPaneModel {
	m := WorkerPaneModel{
		workers:  make(map[string]*WorkerState),
		viewport: viewport.New(0, 0),
	}
	for _, w := range workers {
		ws := m.ensure(w.ID)
		ws.Name = w.Name
		ws.Role = w.Role
	}
	m.updateViewportContent()
	return m
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

func (m *WorkerPaneModel) ensure(id string) *WorkerState {
	w, ok := m.workers[id]
	if !ok {
		w = &WorkerState{ID: id, Name: id, Status: events.AgentIdle, Queued: make(map[string]bool)}
		m.workers[id] = w
		m.order = append(m.order, id)
	}
	return w
}

func (w *WorkerState) log(line string) {
	w.Output = append(w.Output, line)
	if len(w.Output) > maxLogLines {
		w.Output = w.Output[len(w.Output)-maxLogLines:]
	}
}

// Update handles messages for the worker pane.
func (m WorkerPaneModel) Update(msg tea.Msg) (WorkerPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch {
		case key.Matches(msg, keys.Down):
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case key.Matches(msg, keys.Up):
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.AgentStatusEvent:
		w := m.ensure(msg.WorkerID)
		w.Status = msg.Status
		w.TaskID = msg.Task
		if msg.Status == events.AgentBusy {
			delete(w.Queued, msg.Task)
			w.log(fmt.Sprintf("[%s] started task %s", clock(msg.Timestamp), shortID(msg.Task)))
		}
		m.refreshIfSelected(msg.WorkerID)

	case events.TaskQueuedEvent:
		w := m.ensure(msg.WorkerID)
		w.Queued[msg.ID] = true
		w.log(fmt.Sprintf("[%s] queued task %s at position %d", clock(msg.Timestamp), shortID(msg.ID), msg.Position))
		m.refreshIfSelected(msg.WorkerID)

	case events.TaskStatusEvent:
		if msg.To != string(model.StatusAssigned) {
			for _, w := range m.workers {
				delete(w.Queued, msg.ID)
			}
		}

	case events.AgentNotificationEvent:
		if msg.WorkerID == "" {
			break
		}
		w := m.ensure(msg.WorkerID)
		w.log(levelStyle(msg.Level).Render(fmt.Sprintf("[%s] %s", msg.Level, msg.Message)))
		m.refreshIfSelected(msg.WorkerID)

	case events.TaskOutputEvent:
		w := m.ensure(msg.WorkerID)
		w.log(msg.Line)
		if m.selectedID() == msg.WorkerID {
			m.updateTag++
			tag := m.updateTag
			return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
				return tickMsg{tag: tag}
			})
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (m *WorkerPaneModel) refreshIfSelected(workerID string) {
	if m.selectedID() == workerID {
		m.updateViewportContent()
	}
}

// View renders the worker pane.
func (m WorkerPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderWorkerList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m WorkerPaneModel) renderWorkerList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Workers")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No workers"))
	}
	for i, id := range m.order {
		w := m.workers[id]
		label := truncate(w.Name, width-10)
		if n := len(w.Queued); n > 0 {
			label = fmt.Sprintf("%s (+%d)", label, n)
		}
		line := fmt.Sprintf("%s %s", m.StatusIcon(w.Status), label)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled busy/idle indicator.
func (m WorkerPaneModel) StatusIcon(status string) string {
	if status == events.AgentBusy {
		return StyleStatusRunning.Render("●")
	}
	return StyleStatusPending.Render("○")
}

// Worker returns the state for a worker ID.
func (m WorkerPaneModel) Worker(id string) (*WorkerState, bool) {
	w, ok := m.workers[id]
	return w, ok
}

// BusyCount returns the number of busy workers.
func (m WorkerPaneModel) BusyCount() int {
	n := 0
	for _, w := range m.workers {
		if w.Status == events.AgentBusy {
			n++
		}
	}
	return n
}

func (m WorkerPaneModel) selectedID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

func (m *WorkerPaneModel) updateViewportContent() {
	w, ok := m.workers[m.selectedID()]
	if !ok {
		m.viewport.SetContent("Waiting for workers...")
		return
	}

	header := fmt.Sprintf("%s (%s)", w.Name, w.Role)
	if w.Status == events.AgentBusy {
		header += " - working on " + shortID(w.TaskID)
	}
	m.viewport.SetContent(StyleTitle.Render(header) + "\n\n" + strings.Join(w.Output, "\n"))
	m.viewport.GotoBottom()
}

func (m *WorkerPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-28-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *WorkerPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *WorkerPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if n < 4 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func clock(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.Format("15:04:05")
}
