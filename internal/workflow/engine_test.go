package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/persistence"
	"github.com/aristath/taskforce/internal/routing"
	"github.com/aristath/taskforce/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAssigner records assignments and starts the task like the scheduler would.
type fakeAssigner struct {
	mu       sync.Mutex
	tracker  *status.Tracker
	calls    []assignment
	busy     map[string]bool
	failWith error
	onLookup func() // runs whenever a worker's availability is checked
}

type assignment struct {
	taskID   string
	workerID string
}

func (a *fakeAssigner) AssignTask(ctx context.Context, taskID, workerID string) error {
	a.mu.Lock()
	a.calls = append(a.calls, assignment{taskID, workerID})
	err := a.failWith
	a.mu.Unlock()
	if err != nil {
		return err
	}
	a.tracker.Transition(ctx, taskID, model.StatusInProgress, workerID, "")
	return nil
}

func (a *fakeAssigner) IsWorkerBusy(workerID string) bool {
	a.mu.Lock()
	hook := a.onLookup
	busy := a.busy[workerID]
	a.mu.Unlock()
	if hook != nil {
		hook()
	}
	return busy
}

func (a *fakeAssigner) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAssigner) last() assignment {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.calls) == 0 {
		return assignment{}
	}
	return a.calls[len(a.calls)-1]
}

type harness struct {
	store    *persistence.SQLiteStore
	tracker  *status.Tracker
	assigner *fakeAssigner
	bus      *events.EventBus
	engine   *Engine
	project  *model.Project
}

func newHarness(t *testing.T, roles ...model.Role) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := persistence.NewMemoryStore(ctx)
	require.NoError(t, err)
	bus := events.NewEventBus()
	t.Cleanup(func() {
		bus.Close()
		store.Close()
	})

	p := &model.Project{Name: "demo", Path: t.TempDir()}
	require.NoError(t, store.CreateProject(ctx, p))

	for _, r := range roles {
		w := &model.Worker{ID: string(r), Name: string(r), Role: r, Active: true}
		require.NoError(t, store.SaveWorker(ctx, w))
	}

	tracker := status.NewTracker(store, bus, nil)
	assigner := &fakeAssigner{tracker: tracker, busy: map[string]bool{}}
	engine := New(store, tracker, assigner, routing.NewTable(routing.Config{}), bus, Config{MaxQARounds: 2}, nil)

	return &harness{store: store, tracker: tracker, assigner: assigner, bus: bus, engine: engine, project: p}
}

func allRoles() []model.Role {
	return []model.Role{model.RoleTechLead, model.RoleArchitect, model.RoleFrontendDev, model.RoleBackendDev, model.RoleQA}
}

func (h *harness) newTask(t *testing.T) *model.Task {
	t.Helper()
	task := &model.Task{ProjectID: h.project.ID, Title: "Fix checkout", Description: "Checkout fails"}
	require.NoError(t, h.store.CreateTask(context.Background(), task))
	return task
}

// complete simulates the scheduler handing a finished execution to the workflow.
func (h *harness) complete(t *testing.T, taskID, output string) bool {
	t.Helper()
	ctx := context.Background()
	task, err := h.store.GetTask(ctx, taskID)
	require.NoError(t, err)
	worker, err := h.store.GetWorker(ctx, h.assigner.last().workerID)
	require.NoError(t, err)
	return h.engine.Advance(ctx, task, worker, output)
}

func (h *harness) phase(t *testing.T, taskID string) Phase {
	t.Helper()
	p, ok := h.engine.Phase(taskID)
	if !ok {
		return ""
	}
	return p
}

func (h *harness) task(t *testing.T, id string) *model.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func TestStart_AssignsTechLead(t *testing.T) {
	h := newHarness(t, allRoles()...)
	sub := h.bus.Subscribe(10, events.TopicWorkflowPhase)
	task := h.newTask(t)

	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	assert.Equal(t, PhaseTechLeadTriage, h.phase(t, task.ID))
	assert.Equal(t, assignment{task.ID, "tech_lead"}, h.assigner.last())
	assert.Equal(t, model.StatusInProgress, h.task(t, task.ID).Status)

	select {
	case e := <-sub:
		assert.Equal(t, string(PhaseTechLeadTriage), e.(events.WorkflowPhaseEvent).Phase)
	case <-time.After(time.Second):
		t.Fatal("no phase event")
	}

	assert.Error(t, h.engine.Start(context.Background(), task.ID), "second start must be rejected")
}

func TestStart_NoTechLead(t *testing.T) {
	h := newHarness(t, model.RoleFrontendDev)
	task := h.newTask(t)

	err := h.engine.Start(context.Background(), task.ID)
	require.ErrorIs(t, err, ErrNoTechLead)
	assert.False(t, h.engine.Active(task.ID))
	assert.Equal(t, model.StatusCreated, h.task(t, task.ID).Status)
}

func TestHappyPath_SimpleTask(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	require.True(t, h.complete(t, task.ID, "Add a REST endpoint that queries the database.\nSIMPLE_TASK"))
	assert.Equal(t, PhaseDevExecution, h.phase(t, task.ID))
	assert.Equal(t, "backend_dev", h.assigner.last().workerID)

	got := h.task(t, task.ID)
	assert.Equal(t, "Add a REST endpoint that queries the database.", got.ParsedSpec)
	assert.Contains(t, got.Description, "## Implementation Plan")

	require.True(t, h.complete(t, task.ID, "Implemented."))
	assert.Equal(t, PhaseQAReview, h.phase(t, task.ID))
	assert.Equal(t, "qa", h.assigner.last().workerID)

	require.True(t, h.complete(t, task.ID, "Looks good\nQA_APPROVED"))
	assert.False(t, h.engine.Active(task.ID), "approved workflow is deleted")
	assert.Equal(t, model.StatusReview, h.task(t, task.ID).Status)
}

func TestTriage_NeedsArchitect(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	require.True(t, h.complete(t, task.ID, "Cross-cutting change.\nNEEDS_ARCHITECT"))
	assert.Equal(t, PhaseArchitectPlanning, h.phase(t, task.ID))
	assert.Equal(t, "architect", h.assigner.last().workerID)
	assert.Contains(t, h.task(t, task.ID).Description, "## Tech Lead Analysis\n\nCross-cutting change.")

	require.True(t, h.complete(t, task.ID, "Build a React component with a modal."))
	assert.Equal(t, PhaseDevExecution, h.phase(t, task.ID))
	assert.Equal(t, "frontend_dev", h.assigner.last().workerID)
	assert.Equal(t, "Build a React component with a modal.", h.task(t, task.ID).ParsedSpec)
}

func TestTriage_DefaultsToArchitect(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	require.True(t, h.complete(t, task.ID, "Hmm."))
	assert.Equal(t, PhaseArchitectPlanning, h.phase(t, task.ID))
}

func TestTriage_NoArchitectFailsTask(t *testing.T) {
	h := newHarness(t, model.RoleTechLead, model.RoleFrontendDev, model.RoleQA)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	require.True(t, h.complete(t, task.ID, "NEEDS_ARCHITECT"))
	assert.False(t, h.engine.Active(task.ID))
	assert.Equal(t, model.StatusFailed, h.task(t, task.ID).Status)

	logs, err := h.store.ListLogs(context.Background(), task.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.Equal(t, model.StatusFailed, last.ToStatus)
	assert.Contains(t, last.Detail, "no active architect")
}

func TestNoQA_CompletesWorkflow(t *testing.T) {
	h := newHarness(t, model.RoleTechLead, model.RoleFrontendDev)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "done"))

	assert.False(t, h.engine.Active(task.ID))
	assert.Equal(t, model.StatusReview, h.task(t, task.ID).Status)
}

func TestQARejection_LoopsToDeveloper(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	require.True(t, h.complete(t, task.ID, "Update the API handler\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "Done"))

	require.True(t, h.complete(t, task.ID, "QA_REJECTED: 500 on empty cart"))
	assert.Equal(t, PhaseDevFix, h.phase(t, task.ID))
	assert.Equal(t, "backend_dev", h.assigner.last().workerID, "same developer fixes")
	assert.Contains(t, h.task(t, task.ID).Description, "500 on empty cart")
	assert.Equal(t, model.StatusInProgress, h.task(t, task.ID).Status)

	require.True(t, h.complete(t, task.ID, "Fixed"))
	assert.Equal(t, PhaseQAReview, h.phase(t, task.ID))

	states := h.engine.States()
	require.Len(t, states, 1)
	assert.Equal(t, 1, states[0].QARetries)
}

func TestDevFix_NeedsHelpEscalatesToTechLead(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "Done"))
	require.True(t, h.complete(t, task.ID, "QA_REJECTED: broken"))

	require.True(t, h.complete(t, task.ID, "I cannot reproduce this.\nDEV_NEEDS_HELP"))
	assert.Equal(t, PhaseTechLeadFixPlan, h.phase(t, task.ID))
	assert.Equal(t, "tech_lead", h.assigner.last().workerID)
	assert.Contains(t, h.task(t, task.ID).Description, "## Developer Escalation")

	require.True(t, h.complete(t, task.ID, "Step 1: check the cart service"))
	assert.Equal(t, PhaseDevFixWithPlan, h.phase(t, task.ID))
	assert.Equal(t, "Step 1: check the cart service", h.task(t, task.ID).ParsedSpec)
}

func TestEscalationChain_ToArchitectAndBack(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "Done"))
	require.True(t, h.complete(t, task.ID, "QA_REJECTED: broken"))
	require.True(t, h.complete(t, task.ID, "DEV_NEEDS_HELP"))

	// Tech lead cannot plan the fix either
	require.True(t, h.complete(t, task.ID, "Too deep for me\nNEEDS_ARCHITECT"))
	assert.Equal(t, PhaseArchitectFixPlan, h.phase(t, task.ID))
	assert.Equal(t, "architect", h.assigner.last().workerID)

	require.True(t, h.complete(t, task.ID, "Rewrite the cart totals"))
	assert.Equal(t, PhaseTechLeadRelayPlan, h.phase(t, task.ID))
	assert.Equal(t, "tech_lead", h.assigner.last().workerID)

	require.True(t, h.complete(t, task.ID, "Dev: rewrite totals in cart.go"))
	assert.Equal(t, PhaseDevFixWithPlan, h.phase(t, task.ID))

	// The architect already planned; asking again fails the task
	require.True(t, h.complete(t, task.ID, "DEV_NEEDS_HELP"))
	assert.False(t, h.engine.Active(task.ID))
	assert.Equal(t, model.StatusFailed, h.task(t, task.ID).Status)
}

func TestQARoundCapEscalates(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "Done"))

	// MaxQARounds is 2: two rejections loop to dev_fix, the third escalates
	for i := 0; i < 2; i++ {
		require.True(t, h.complete(t, task.ID, "QA_REJECTED: still broken"))
		require.Equal(t, PhaseDevFix, h.phase(t, task.ID))
		require.True(t, h.complete(t, task.ID, "Fixed"))
	}
	require.True(t, h.complete(t, task.ID, "QA_REJECTED: still broken"))
	assert.Equal(t, PhaseTechLeadFixPlan, h.phase(t, task.ID))
	assert.Zero(t, h.engine.States()[0].QARetries)
}

func TestEscalate_FromDevFix(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Start(ctx, task.ID))
	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	require.True(t, h.complete(t, task.ID, "Done"))
	require.True(t, h.complete(t, task.ID, "QA_REJECTED: broken"))

	require.True(t, h.engine.Escalate(ctx, task.ID))
	assert.Equal(t, PhaseTechLeadFixPlan, h.phase(t, task.ID))
	assert.Equal(t, "tech_lead", h.assigner.last().workerID)
}

func TestEscalate_OtherPhaseDropsState(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	ctx := context.Background()
	require.NoError(t, h.engine.Start(ctx, task.ID))

	assert.False(t, h.engine.Escalate(ctx, task.ID))
	assert.False(t, h.engine.Active(task.ID))
	assert.False(t, h.engine.Escalate(ctx, "unknown"))
}

func TestAdvance_UnknownTaskNotClaimed(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	w := &model.Worker{ID: "qa"}
	assert.False(t, h.engine.Advance(context.Background(), task, w, "QA_APPROVED"))
}

func TestAssignFailureFailsTask(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))

	h.assigner.mu.Lock()
	h.assigner.failWith = errors.New("worker inactive")
	h.assigner.mu.Unlock()

	require.True(t, h.complete(t, task.ID, "plan\nSIMPLE_TASK"))
	assert.False(t, h.engine.Active(task.ID))
	assert.Equal(t, model.StatusFailed, h.task(t, task.ID).Status)
}

func TestFindWorkerPrefersIdle(t *testing.T) {
	h := newHarness(t, model.RoleTechLead)
	ctx := context.Background()
	require.NoError(t, h.store.SaveWorker(ctx, &model.Worker{ID: "qa-1", Name: "a", Role: model.RoleQA, Active: true}))
	require.NoError(t, h.store.SaveWorker(ctx, &model.Worker{ID: "qa-2", Name: "b", Role: model.RoleQA, Active: true}))
	h.assigner.busy["qa-1"] = true

	w := h.engine.findWorker(ctx, model.RoleQA)
	require.NotNil(t, w)
	assert.Equal(t, "qa-2", w.ID)

	h.assigner.busy["qa-2"] = true
	w = h.engine.findWorker(ctx, model.RoleQA)
	require.NotNil(t, w)
	assert.Equal(t, "qa-1", w.ID, "falls back to a busy worker")
}

func TestCanAdvance(t *testing.T) {
	assert.True(t, CanAdvance(PhaseTechLeadTriage, PhaseArchitectPlanning))
	assert.True(t, CanAdvance(PhaseQAReview, PhaseApproved))
	assert.True(t, CanAdvance(PhaseArchitectFixPlan, PhaseFailed))
	assert.False(t, CanAdvance(PhaseArchitectPlanning, PhaseQAReview))
	assert.False(t, CanAdvance(PhaseApproved, PhaseFailed))
	assert.True(t, PhaseCompleted.IsTerminal())
	assert.False(t, PhaseDevFix.IsTerminal())
}

func TestInstructionsAndAbandon(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)

	assert.Empty(t, h.engine.Instructions(task.ID))

	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	assert.Contains(t, h.engine.Instructions(task.ID), MarkerSimpleTask)
	assert.Contains(t, h.engine.Instructions(task.ID), MarkerNeedsArchitect)

	assert.True(t, h.engine.Abandon(task.ID))
	assert.False(t, h.engine.Active(task.ID))
	assert.False(t, h.engine.Abandon(task.ID))
	assert.Equal(t, model.StatusInProgress, h.task(t, task.ID).Status, "abandon leaves status alone")
}

func TestAdvance_AbandonDuringStepIsNotUndone(t *testing.T) {
	h := newHarness(t, allRoles()...)
	task := h.newTask(t)
	require.NoError(t, h.engine.Start(context.Background(), task.ID))
	require.Equal(t, 1, h.assigner.count())

	// The task is abandoned while triage picks a developer
	h.assigner.mu.Lock()
	h.assigner.onLookup = func() { h.engine.Abandon(task.ID) }
	h.assigner.mu.Unlock()

	assert.True(t, h.complete(t, task.ID, "Add a REST endpoint.\nSIMPLE_TASK"))
	assert.False(t, h.engine.Active(task.ID), "abandoned state must stay gone")
	assert.Equal(t, 1, h.assigner.count(), "no developer is assigned")

	got := h.task(t, task.ID)
	assert.Equal(t, model.StatusInProgress, got.Status)
	assert.NotContains(t, got.Description, "## Implementation Plan")
}

func TestEveryActivePhaseHasInstructions(t *testing.T) {
	for p := range phaseTransitions {
		assert.NotEmpty(t, p.Instructions(), "phase %s", p)
	}
	assert.Empty(t, PhaseApproved.Instructions())
}
