// Package tui is the live Bubble Tea dashboard: workers with their output,
// task statuses with workflow phases, and a settings form.
package tui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforce/internal/config"
	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneWorkers PaneID = iota
	PaneTasks
	paneCount
)

// DoneMsg tells the dashboard that every tracked task has come to rest.
type DoneMsg struct{}

// Options seeds the dashboard.
type Options struct {
	Workers     []*model.Worker
	Tasks       []*model.Task // Tasks to track; empty tracks everything on the bus
	Config      *config.OrchestratorConfig
	GlobalPath  string
	ProjectPath string
}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	workerPane   WorkerPaneModel
	progressPane ProgressPaneModel
	settingsPane SettingsPaneModel
	hasSettings  bool
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	done         bool
	showSettings bool
}

// New creates a new TUI model subscribed to every topic on the bus.
func New(bus *events.EventBus, opts Options) Model {
	m := Model{
		workerPane:   NewWorkerPaneModel(opts.Workers),
		progressPane: NewProgressPaneModel(opts.Tasks),
		focusedPane:  PaneWorkers,
		eventSub:     bus.SubscribeAll(256),
	}
	if opts.Config != nil {
		m.settingsPane = NewSettingsPaneModel(opts.Config, opts.GlobalPath, opts.ProjectPath)
		m.hasSettings = true
	}
	m.updateFocusStates()
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, cmd
		}

		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit

		case key.Matches(msg, keys.Settings):
			if m.hasSettings {
				m.showSettings = true
				m.settingsPane.SetVisible(true)
				cmds = append(cmds, m.settingsPane.Init())
			}

		case key.Matches(msg, keys.NextPane):
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.PrevPane):
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case key.Matches(msg, keys.Workers):
			m.focusedPane = PaneWorkers
			m.updateFocusStates()

		case key.Matches(msg, keys.Tasks):
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneWorkers {
				var cmd tea.Cmd
				m.workerPane, cmd = m.workerPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		if m.hasSettings {
			m.settingsPane.SetSize(msg.Width, msg.Height)
		}

	case DoneMsg:
		m.done = true

	case tickMsg:
		var cmd tea.Cmd
		m.workerPane, cmd = m.workerPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.Event:
		var cmd tea.Cmd
		m.workerPane, cmd = m.workerPane.Update(msg)
		cmds = append(cmds, cmd)
		m.progressPane, _ = m.progressPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	default:
		// Form internals (cursor blinks and the like)
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showSettings {
		return m.settingsPane.View()
	}

	settled, running, failed, pending := m.progressPane.Counts()
	status := fmt.Sprintf("%d busy workers | %d settled, %d running, %d failed, %d pending",
		m.workerPane.BusyCount(), settled, running, failed, pending)
	if m.done {
		status = StyleBanner.Render("All tasks at rest. Press q to exit.") + "  " + status
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.workerPane.View(), m.progressPane.View())
	return lipgloss.JoinVertical(lipgloss.Left, StyleHelp.Render(status), main, HelpView())
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 60) / 100
	availableHeight := m.height - 2 // status line and help bar

	m.workerPane.SetSize(leftWidth, availableHeight)
	m.progressPane.SetSize(m.width-leftWidth, availableHeight)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.workerPane.SetFocused(m.focusedPane == PaneWorkers)
	m.progressPane.SetFocused(m.focusedPane == PaneTasks)
}

// Done reports whether the dashboard was told every task is at rest.
func (m Model) Done() bool { return m.done }
