package tui

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforce/internal/config"
	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

func newTestModel(t *testing.T, opts Options) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)
	m := New(bus, opts)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	return next.(Model)
}

func update(t *testing.T, m Model, msgs ...tea.Msg) Model {
	t.Helper()
	for _, msg := range msgs {
		next, _ := m.Update(msg)
		m = next.(Model)
	}
	return m
}

func press(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWorkerEvents(t *testing.T) {
	m := newTestModel(t, Options{
		Workers: []*model.Worker{
			{ID: "w1", Name: "Backend", Role: model.RoleBackendDev},
			{ID: "w2", Name: "QA", Role: model.RoleQA},
		},
	})

	m = update(t, m,
		events.AgentStatusEvent{WorkerID: "w1", Status: events.AgentBusy, Task: "task-1"},
		events.TaskQueuedEvent{ID: "task-2", WorkerID: "w1", Position: 1},
		events.TaskOutputEvent{ID: "task-1", WorkerID: "w1", Line: "Edit main.go"},
		events.AgentNotificationEvent{WorkerID: "w1", Task: "task-1", Level: events.LevelWarning, Message: "Execution failed: boom"},
	)

	w, ok := m.workerPane.Worker("w1")
	require.True(t, ok)
	assert.Equal(t, events.AgentBusy, w.Status)
	assert.Equal(t, "task-1", w.TaskID)
	assert.True(t, w.Queued["task-2"])
	assert.Equal(t, 1, m.workerPane.BusyCount())

	joined := strings.Join(w.Output, "\n")
	assert.Contains(t, joined, "Edit main.go")
	assert.Contains(t, joined, "Execution failed: boom")

	// The queued task starting clears it from the queue
	m = update(t, m,
		events.AgentStatusEvent{WorkerID: "w1", Status: events.AgentIdle},
		events.AgentStatusEvent{WorkerID: "w1", Status: events.AgentBusy, Task: "task-2"},
	)
	w, _ = m.workerPane.Worker("w1")
	assert.Empty(t, w.Queued)

	// Unknown workers are added on first sight
	m = update(t, m, events.TaskOutputEvent{ID: "task-9", WorkerID: "w9", Line: "hi"})
	_, ok = m.workerPane.Worker("w9")
	assert.True(t, ok)
}

func TestWorkerOutputIsBounded(t *testing.T) {
	m := newTestModel(t, Options{Workers: []*model.Worker{{ID: "w1", Name: "Dev"}}})
	for i := 0; i < maxLogLines+50; i++ {
		m = update(t, m, events.TaskOutputEvent{ID: "t", WorkerID: "w1", Line: "line"})
	}
	w, _ := m.workerPane.Worker("w1")
	assert.Len(t, w.Output, maxLogLines)
}

func TestProgressTracksSeededTasks(t *testing.T) {
	m := newTestModel(t, Options{
		Tasks: []*model.Task{
			{ID: "t1", Title: "Login", Status: model.StatusCreated},
			{ID: "t2", Title: "Logout", Status: model.StatusCreated},
		},
	})

	m = update(t, m,
		events.TaskStatusEvent{ID: "t1", From: "created", To: "in_progress"},
		events.WorkflowPhaseEvent{ID: "t1", Phase: "qa_review"},
		events.TaskStatusEvent{ID: "t2", From: "created", To: "failed"},
		events.TaskStatusEvent{ID: "other", From: "created", To: "done"},
	)

	settled, running, failed, pending := m.progressPane.Counts()
	assert.Equal(t, []int{0, 1, 1, 0}, []int{settled, running, failed, pending})
	r, ok := m.progressPane.Row("t1")
	require.True(t, ok)
	assert.Equal(t, "qa_review", r.Phase)
	_, ok = m.progressPane.Row("other")
	assert.False(t, ok, "unseeded tasks are ignored")

	m = update(t, m, events.TaskStatusEvent{ID: "t1", From: "in_progress", To: "review"})
	settled, _, _, _ = m.progressPane.Counts()
	assert.Equal(t, 1, settled)
}

func TestProgressTracksEverythingWithoutSeed(t *testing.T) {
	m := newTestModel(t, Options{})
	m = update(t, m, events.TaskStatusEvent{ID: "t1", To: "done"})

	r, ok := m.progressPane.Row("t1")
	require.True(t, ok)
	assert.Equal(t, model.StatusDone, r.Status)
}

func TestFocusAndQuit(t *testing.T) {
	m := newTestModel(t, Options{})
	assert.Equal(t, PaneWorkers, m.focusedPane)

	m = update(t, m, press("tab"))
	assert.Equal(t, PaneTasks, m.focusedPane)
	m = update(t, m, press("tab"))
	assert.Equal(t, PaneWorkers, m.focusedPane)
	m = update(t, m, press("2"))
	assert.Equal(t, PaneTasks, m.focusedPane)

	next, cmd := m.Update(press("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, "Goodbye!\n", next.(Model).View())
}

func TestDoneBanner(t *testing.T) {
	m := newTestModel(t, Options{})
	assert.NotContains(t, m.View(), "All tasks at rest")

	m = update(t, m, DoneMsg{})
	assert.True(t, m.Done())
	assert.Contains(t, m.View(), "All tasks at rest")
}

func TestSettingsToggle(t *testing.T) {
	dir := t.TempDir()
	m := newTestModel(t, Options{
		Config:      config.DefaultConfig(),
		GlobalPath:  filepath.Join(dir, "global", "config.json"),
		ProjectPath: filepath.Join(dir, "project", "config.json"),
	})

	m = update(t, m, press("s"))
	assert.True(t, m.showSettings)
	assert.Contains(t, m.View(), "Settings")

	m = update(t, m, press("esc"))
	assert.False(t, m.showSettings)

	// Without a config the settings key does nothing
	bare := newTestModel(t, Options{})
	bare = update(t, bare, press("s"))
	assert.False(t, bare.showSettings)
}

func TestSettingsApply(t *testing.T) {
	cfg := config.DefaultConfig()
	s := NewSettingsPaneModel(cfg, "g.json", "p.json")
	s.maxRetries = "3"
	s.retryDelay = "5s"
	s.taskTimeout = "1h"
	s.maxQARounds = "2"
	s.claudeModel = "opus"

	require.NoError(t, s.applyFormToConfig())
	assert.Equal(t, 3, cfg.Scheduler.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RetryDelay.Std())
	assert.Equal(t, time.Hour, cfg.Scheduler.TaskTimeout.Std())
	assert.Equal(t, 2, cfg.Scheduler.MaxQARounds)
	assert.Equal(t, "opus", cfg.Providers["claude"].Model)

	s.taskTimeout = "whenever"
	assert.Error(t, s.applyFormToConfig())

	assert.Error(t, validateCount("-1"))
	assert.NoError(t, validateCount("0"))
	assert.Error(t, validateDuration("0s"))
	assert.NoError(t, validateDuration("90s"))
}
