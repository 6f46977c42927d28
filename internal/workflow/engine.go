// Package workflow drives tasks through the multi-role pipeline:
// tech-lead triage, architect planning, developer execution, QA review, and the
// fix and escalation loops that follow a rejection. Phase changes are triggered
// by decision markers parsed from each worker's output.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

// ErrNoTechLead is returned by Start when no active tech lead exists.
var ErrNoTechLead = errors.New("no active tech lead")

// maxEscalations bounds how often one task can be handed back to the tech lead.
const maxEscalations = 2

// Store is the persistence subset the workflow needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	ListWorkers(ctx context.Context, activeOnly bool) ([]*model.Worker, error)
	AppendDescription(ctx context.Context, id, header, body string, refreshSpec bool) error
	AppendLog(ctx context.Context, e *model.AuditEntry) error
}

// Tracker applies guarded status transitions.
type Tracker interface {
	Transition(ctx context.Context, taskID string, to model.Status, actorID, note string) bool
}

// Assigner re-enters the scheduler for the next phase.
type Assigner interface {
	AssignTask(ctx context.Context, taskID, workerID string) error
	IsWorkerBusy(workerID string) bool
}

// Router picks the developer role a plan targets.
type Router interface {
	DetectDevFromPlan(plan string) model.Role
}

// Config holds the workflow's tunables.
type Config struct {
	MaxQARounds int // QA rejections handled by dev_fix before escalating; 0 disables the cap
}

// Engine is the workflow state machine.
type Engine struct {
	store    Store
	tracker  Tracker
	assigner Assigner
	router   Router
	bus      events.Publisher
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time

	mu     sync.Mutex
	states map[string]*State
	seq    uint64

	handlers map[Phase]handler
}

// New creates a workflow engine. bus may be nil.
func New(store Store, tracker Tracker, assigner Assigner, router Router, bus events.Publisher, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:    store,
		tracker:  tracker,
		assigner: assigner,
		router:   router,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		states:   make(map[string]*State),
	}
	e.handlers = map[Phase]handler{
		PhaseTechLeadTriage:    e.onTriage,
		PhaseArchitectPlanning: e.onArchitectPlanning,
		PhaseDevExecution:      e.onDevExecution,
		PhaseQAReview:          e.onQAReview,
		PhaseDevFix:            e.onDevFix,
		PhaseTechLeadFixPlan:   e.onTechLeadFixPlan,
		PhaseDevFixWithPlan:    e.onDevFixWithPlan,
		PhaseArchitectFixPlan:  e.onArchitectFixPlan,
		PhaseTechLeadRelayPlan: e.onTechLeadRelayPlan,
	}
	return e
}

// Start launches the pipeline for a task at tech-lead triage.
func (e *Engine) Start(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}

	e.mu.Lock()
	_, running := e.states[taskID]
	e.mu.Unlock()
	if running {
		return fmt.Errorf("workflow already running for task %s", taskID)
	}

	lead := e.findWorker(ctx, model.RoleTechLead)
	if lead == nil {
		e.logger.Error("Cannot start workflow", "task_id", taskID, "error", ErrNoTechLead)
		return fmt.Errorf("start workflow for %s: %w", taskID, ErrNoTechLead)
	}

	st := &State{TaskID: task.ID, Phase: PhaseTechLeadTriage, TechLeadID: lead.ID, UpdatedAt: e.now()}
	e.mu.Lock()
	e.seq++
	st.version = e.seq
	e.states[task.ID] = st
	e.mu.Unlock()

	e.publishPhase(task.ID, st.Phase, lead.ID, fmt.Sprintf("Tech lead %s is triaging", lead.Name))
	e.audit(ctx, task.ID, lead.ID, model.ActionWorkflow, "Workflow started: "+string(st.Phase))

	if err := e.assigner.AssignTask(ctx, task.ID, lead.ID); err != nil {
		e.drop(task.ID)
		return fmt.Errorf("assign triage for %s: %w", task.ID, err)
	}
	return nil
}

// Advance consumes a successful execution's output. It returns false when the
// task is not in the pipeline, leaving the caller to handle completion.
func (e *Engine) Advance(ctx context.Context, task *model.Task, worker *model.Worker, output string) bool {
	st, ok := e.snapshot(task.ID)
	if !ok {
		return false
	}

	h, ok := e.handlers[st.Phase]
	if !ok {
		return false
	}

	s := h(ctx, &st, task, output)
	e.apply(ctx, &st, task, worker.ID, s)
	return true
}

// Escalate handles a fix phase whose execution failed past the retry ceiling.
// It returns true when the workflow claimed the failure. Other phases are
// dropped from the pipeline and left to the caller.
func (e *Engine) Escalate(ctx context.Context, taskID string) bool {
	st, ok := e.snapshot(taskID)
	if !ok {
		return false
	}

	var s step
	switch st.Phase {
	case PhaseDevFix:
		s = e.escalateToTechLead(ctx, &st, "Developer Escalation",
			"The developer's fix attempts failed repeatedly. A fix plan is needed.")
	case PhaseDevFixWithPlan:
		s = e.escalateToArchitect(ctx, &st, "Developer Escalation",
			"The developer could not apply the fix plan. A deeper fix plan is needed.")
	default:
		e.drop(taskID)
		return false
	}

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.logger.Warn("Escalation aborted: task not found", "task_id", taskID, "error", err)
		e.drop(taskID)
		return false
	}

	e.audit(ctx, taskID, "", model.ActionEscalated, fmt.Sprintf("%s -> %s", st.Phase, s.next))
	e.apply(ctx, &st, task, "", s)
	return true
}

// Phase returns the task's current phase.
func (e *Engine) Phase(taskID string) (Phase, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[taskID]
	if !ok {
		return "", false
	}
	return st.Phase, true
}

// Instructions returns the marker instructions for the task's current phase.
// Tasks outside the pipeline get "".
func (e *Engine) Instructions(taskID string) string {
	p, ok := e.Phase(taskID)
	if !ok {
		return ""
	}
	return p.Instructions()
}

// Abandon removes the task from the pipeline without touching its status.
// Used when the task was cancelled or timed out.
func (e *Engine) Abandon(taskID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.states[taskID]; !ok {
		return false
	}
	delete(e.states, taskID)
	e.logger.Info("Workflow abandoned", "task_id", taskID)
	return true
}

// Active reports whether the task is inside the pipeline.
func (e *Engine) Active(taskID string) bool {
	_, ok := e.Phase(taskID)
	return ok
}

// States returns a copy of every workflow state, ordered by task ID.
func (e *Engine) States() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]State, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}

func (e *Engine) snapshot(taskID string) (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[taskID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

// commit writes st back, or removes the entry when keep is false. It does
// nothing and returns false if the entry was replaced or abandoned since st
// was copied out.
func (e *Engine) commit(st *State, keep bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.currentLocked(st) {
		return false
	}
	if !keep {
		delete(e.states, st.TaskID)
		return true
	}
	e.seq++
	cp := *st
	cp.version = e.seq
	e.states[st.TaskID] = &cp
	return true
}

func (e *Engine) current(st *State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentLocked(st)
}

func (e *Engine) currentLocked(st *State) bool {
	cur, ok := e.states[st.TaskID]
	return ok && cur.version == st.version
}

func (e *Engine) drop(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, taskID)
}

// apply performs a phase transition: record the text, park the task in a
// re-assignable status, hand it to the next worker, and announce the phase.
func (e *Engine) apply(ctx context.Context, st *State, task *model.Task, actorID string, s step) {
	if !e.current(st) {
		e.logger.Info("Workflow step discarded, task left the pipeline", "task_id", task.ID, "phase", st.Phase)
		return
	}
	if s.header != "" {
		if err := e.store.AppendDescription(ctx, task.ID, s.header, s.body, s.refreshSpec); err != nil {
			e.logger.Warn("Failed to append workflow section", "task_id", task.ID, "header", s.header, "error", err)
		}
	}

	if s.next != PhaseFailed && !CanAdvance(st.Phase, s.next) {
		s = fail(fmt.Sprintf("Workflow bug: %s cannot advance to %s", st.Phase, s.next))
	}

	from := st.Phase
	switch {
	case s.next == PhaseFailed:
		if !e.commit(st, false) {
			e.logger.Info("Workflow step discarded, task left the pipeline", "task_id", task.ID, "phase", from)
			return
		}
		e.logger.Error("Workflow failed", "task_id", task.ID, "phase", from, "reason", s.failReason)
		e.tracker.Transition(ctx, task.ID, model.StatusFailed, actorID, s.failReason)
		e.publishPhase(task.ID, PhaseFailed, "", s.failReason)
		e.notify(task.ID, actorID, events.LevelError, s.failReason)

	case s.next.IsTerminal():
		if !e.commit(st, false) {
			e.logger.Info("Workflow step discarded, task left the pipeline", "task_id", task.ID, "phase", from)
			return
		}
		e.logger.Info("Workflow finished", "task_id", task.ID, "phase", s.next)
		e.tracker.Transition(ctx, task.ID, model.StatusReview, actorID, s.detail)
		e.publishPhase(task.ID, s.next, "", s.detail)
		e.notify(task.ID, actorID, events.LevelInfo, s.detail)

	default:
		st.Phase = s.next
		st.UpdatedAt = e.now()
		if !e.commit(st, true) {
			e.logger.Info("Workflow step discarded, task left the pipeline", "task_id", task.ID, "phase", from)
			return
		}

		e.tracker.Transition(ctx, task.ID, model.StatusAssigned, actorID, fmt.Sprintf("Workflow: %s -> %s", from, s.next))
		e.audit(ctx, task.ID, s.assignee, model.ActionWorkflow, fmt.Sprintf("%s -> %s: %s", from, s.next, s.detail))
		e.publishPhase(task.ID, s.next, s.assignee, s.detail)
		e.logger.Info("Workflow advanced", "task_id", task.ID, "from", from, "phase", s.next, "worker_id", s.assignee)

		if err := e.assigner.AssignTask(ctx, task.ID, s.assignee); err != nil {
			reason := fmt.Sprintf("Could not assign %s to worker %s: %v", s.next, s.assignee, err)
			e.drop(task.ID)
			e.logger.Error("Workflow failed", "task_id", task.ID, "phase", s.next, "reason", reason)
			e.tracker.Transition(ctx, task.ID, model.StatusFailed, "", reason)
			e.publishPhase(task.ID, PhaseFailed, "", reason)
		}
	}
}

// findWorker returns an active worker with the role, preferring idle ones.
func (e *Engine) findWorker(ctx context.Context, role model.Role) *model.Worker {
	return pickWorker(ctx, e.store, e.assigner, e.logger, role)
}

func pickWorker(ctx context.Context, store Store, assigner Assigner, logger *slog.Logger, role model.Role) *model.Worker {
	workers, err := store.ListWorkers(ctx, true)
	if err != nil {
		logger.Warn("Failed to list workers", "role", role, "error", err)
		return nil
	}
	var busy *model.Worker
	for _, w := range workers {
		if w.Role != role {
			continue
		}
		if !assigner.IsWorkerBusy(w.ID) {
			return w
		}
		if busy == nil {
			busy = w
		}
	}
	return busy
}

// activeWorker loads a worker and checks it is still active.
func (e *Engine) activeWorker(ctx context.Context, id string) *model.Worker {
	if id == "" {
		return nil
	}
	w, err := e.store.GetWorker(ctx, id)
	if err != nil || !w.Active {
		return nil
	}
	return w
}

// selectDeveloper picks a developer for the plan, falling back to the other developer role.
func (e *Engine) selectDeveloper(ctx context.Context, plan string) *model.Worker {
	want := e.router.DetectDevFromPlan(plan)
	if w := e.findWorker(ctx, want); w != nil {
		return w
	}
	other := model.RoleBackendDev
	if want == model.RoleBackendDev {
		other = model.RoleFrontendDev
	}
	return e.findWorker(ctx, other)
}

// developer returns the task's developer, re-selecting if the stored one is gone.
func (e *Engine) developer(ctx context.Context, st *State) *model.Worker {
	if w := e.activeWorker(ctx, st.DeveloperID); w != nil {
		return w
	}
	w := e.selectDeveloper(ctx, st.Plan)
	if w != nil {
		st.DeveloperID = w.ID
	}
	return w
}

func (e *Engine) techLead(ctx context.Context, st *State) *model.Worker {
	if w := e.activeWorker(ctx, st.TechLeadID); w != nil {
		return w
	}
	w := e.findWorker(ctx, model.RoleTechLead)
	if w != nil {
		st.TechLeadID = w.ID
	}
	return w
}

func (e *Engine) architect(ctx context.Context, st *State) *model.Worker {
	if w := e.activeWorker(ctx, st.ArchitectID); w != nil {
		return w
	}
	w := e.findWorker(ctx, model.RoleArchitect)
	if w != nil {
		st.ArchitectID = w.ID
	}
	return w
}

func (e *Engine) publishPhase(taskID string, phase Phase, workerID, detail string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicWorkflowPhase, events.WorkflowPhaseEvent{
		ID:        taskID,
		Phase:     string(phase),
		WorkerID:  workerID,
		Detail:    detail,
		Timestamp: e.now(),
	})
}

func (e *Engine) notify(taskID, workerID, level, message string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.TopicAgentNotification, events.AgentNotificationEvent{
		WorkerID:  workerID,
		Task:      taskID,
		Level:     level,
		Message:   message,
		Timestamp: e.now(),
	})
}

func (e *Engine) audit(ctx context.Context, taskID, workerID, action, detail string) {
	entry := &model.AuditEntry{TaskID: taskID, WorkerID: workerID, Action: action, Detail: detail, CreatedAt: e.now()}
	if err := e.store.AppendLog(ctx, entry); err != nil {
		e.logger.Warn("Failed to write audit entry", "task_id", taskID, "error", err)
	}
}
