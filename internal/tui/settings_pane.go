package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskforce/internal/config"
)

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.OrchestratorConfig
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh)
	saveTarget    string
	claudeCommand string
	claudeModel   string
	maxRetries    string
	retryDelay    string
	taskTimeout   string
	maxQARounds   string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.OrchestratorConfig, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
	}
	m.loadFields()
	m.buildForm()
	return m
}

// loadFields copies the current config into the form bindings.
func (m *SettingsPaneModel) loadFields() {
	m.saveTarget = "project"
	m.claudeCommand = m.config.Providers["claude"].Command
	m.claudeModel = m.config.Providers["claude"].Model
	m.maxRetries = strconv.Itoa(m.config.Scheduler.MaxRetries)
	m.retryDelay = m.config.Scheduler.RetryDelay.String()
	m.taskTimeout = m.config.Scheduler.TaskTimeout.String()
	m.maxQARounds = strconv.Itoa(m.config.Scheduler.MaxQARounds)
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("enter a non-negative number")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fmt.Errorf("enter a duration such as 2s or 30m")
	}
	return nil
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Project ("+m.projectPath+")", "project"),
					huh.NewOption("Global ("+m.globalPath+")", "global"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("claudeCommand").
				Title("Claude Command").
				Value(&m.claudeCommand).
				Placeholder("claude"),

			huh.NewInput().
				Key("claudeModel").
				Title("Default Model").
				Value(&m.claudeModel).
				Placeholder("sonnet"),
		).Title("Provider Settings"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxRetries").
				Title("Retries After Failure").
				Value(&m.maxRetries).
				Validate(validateCount),

			huh.NewInput().
				Key("retryDelay").
				Title("Retry Delay").
				Value(&m.retryDelay).
				Validate(validateDuration),

			huh.NewInput().
				Key("taskTimeout").
				Title("Task Timeout").
				Value(&m.taskTimeout).
				Validate(validateDuration),

			huh.NewInput().
				Key("maxQARounds").
				Title("QA Rounds Before Escalation").
				Value(&m.maxQARounds).
				Validate(validateCount),
		).Title("Scheduler Settings"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		if err := m.applyFormToConfig(); err != nil {
			m.err = err
			return m, cmd
		}

		targetPath := m.projectPath
		if m.saveTarget == "global" {
			targetPath = m.globalPath
		}
		if err := config.Save(m.config, targetPath); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyFormToConfig copies form field values back to the config struct.
func (m *SettingsPaneModel) applyFormToConfig() error {
	retries, err := strconv.Atoi(m.maxRetries)
	if err != nil {
		return fmt.Errorf("retries: %w", err)
	}
	rounds, err := strconv.Atoi(m.maxQARounds)
	if err != nil {
		return fmt.Errorf("QA rounds: %w", err)
	}
	delay, err := time.ParseDuration(m.retryDelay)
	if err != nil {
		return fmt.Errorf("retry delay: %w", err)
	}
	timeout, err := time.ParseDuration(m.taskTimeout)
	if err != nil {
		return fmt.Errorf("task timeout: %w", err)
	}

	claude := m.config.Providers["claude"]
	claude.Type = "claude"
	claude.Command = m.claudeCommand
	claude.Model = m.claudeModel
	m.config.Providers["claude"] = claude

	m.config.Scheduler.MaxRetries = retries
	m.config.Scheduler.MaxQARounds = rounds
	m.config.Scheduler.RetryDelay = config.Duration(delay)
	m.config.Scheduler.TaskTimeout = config.Duration(timeout)
	return nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true).
			Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it resets the form.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil
	if v {
		m.loadFields()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last form submission was written to disk.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
