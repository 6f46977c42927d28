// Package scheduler assigns tasks to workers, serializes each worker's work
// through a priority queue, runs executions detached from callers, and applies
// the retry and escalation policy when they finish.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aristath/taskforce/internal/backend"
	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrWorkerNotFound    = errors.New("worker not found")
	ErrWorkerInactive    = errors.New("worker is inactive")
	ErrProjectNotFound   = errors.New("project not found")
	ErrNoWorkers         = errors.New("no active workers")
	ErrTaskActive        = errors.New("task already has an active session")
	ErrIllegalTransition = errors.New("illegal status transition")
	ErrClosed            = errors.New("scheduler closed")
)

// Store is the persistence subset the manager needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	GetWorker(ctx context.Context, id string) (*model.Worker, error)
	ListWorkers(ctx context.Context, activeOnly bool) ([]*model.Worker, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListTasksByStatus(ctx context.Context, status model.Status) ([]*model.Task, error)
	SetTaskAssignment(ctx context.Context, id, workerID string) error
	UpdateTaskResult(ctx context.Context, id, result string, costDelta float64) error
	AppendLog(ctx context.Context, e *model.AuditEntry) error
}

// Tracker applies guarded status transitions.
type Tracker interface {
	Transition(ctx context.Context, taskID string, to model.Status, actorID, note string) bool
}

// Router resolves a task category to preferred worker roles.
type Router interface {
	PreferredRoles(category string) []model.Role
}

// Advancer is the workflow state machine as seen by the scheduler.
type Advancer interface {
	Advance(ctx context.Context, task *model.Task, worker *model.Worker, output string) bool
	Escalate(ctx context.Context, taskID string) bool
	Instructions(taskID string) string
	Abandon(taskID string) bool
}

// CustomWorkflows completes tasks owned by an externally defined workflow.
type CustomWorkflows interface {
	Complete(ctx context.Context, task *model.Task, worker *model.Worker, output string) bool
}

// Workspace performs best-effort version-control side effects around an execution.
type Workspace interface {
	Prepare(ctx context.Context, project *model.Project, task *model.Task) (string, error)
	Finalize(ctx context.Context, project *model.Project, task *model.Task, summary string) error
}

// EngineFactory returns the execution engine for a worker.
type EngineFactory func(w *model.Worker) (backend.Engine, error)

// Config holds the manager's tunables.
type Config struct {
	MaxRetries int           // Re-attempts after a failed execution (default 1)
	RetryDelay time.Duration // Delay before a re-attempt (default 2s)
}

// DefaultConfig returns the default retry policy: one retry after 2 seconds.
func DefaultConfig() Config {
	return Config{MaxRetries: 1, RetryDelay: 2 * time.Second}
}

// session is an in-flight execution of one task on one worker.
type session struct {
	taskID    string
	workerID  string
	projectID string
	startedAt time.Time
	cancel    context.CancelFunc
}

// SessionInfo is a read-only view of an active session.
type SessionInfo struct {
	TaskID    string
	WorkerID  string
	ProjectID string
	StartedAt time.Time
}

// Manager owns all in-memory scheduling state: active sessions, the
// worker→task index, per-worker queues and retry counters.
type Manager struct {
	store   Store
	tracker Tracker
	router  Router
	engines EngineFactory
	bus     events.Publisher
	logger  *slog.Logger
	cfg     Config
	now     func() time.Time

	advancer  Advancer
	custom    CustomWorkflows
	workspace Workspace

	mu       sync.Mutex
	sessions map[string]*session     // task ID → session
	byWorker map[string]string       // worker ID → task ID
	queues   map[string]*workerQueue // worker ID → pending entries
	retries  map[string]int          // task ID → failed attempts pending retry
	timers   map[string]*time.Timer  // task ID → scheduled retry
	settling map[string]struct{}     // task IDs whose outcome is being applied
	seq      uint64
	closed   bool

	inflight atomic.Int64 // executions whose outcome is not fully handled yet
	wg       sync.WaitGroup
}

// NewManager creates a scheduler. bus may be nil.
func NewManager(store Store, tracker Tracker, router Router, engines EngineFactory, bus events.Publisher, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	return &Manager{
		store:    store,
		tracker:  tracker,
		router:   router,
		engines:  engines,
		bus:      bus,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*session),
		byWorker: make(map[string]string),
		queues:   make(map[string]*workerQueue),
		retries:  make(map[string]int),
		timers:   make(map[string]*time.Timer),
		settling: make(map[string]struct{}),
	}
}

// SetAdvancer wires the workflow state machine. The workflow itself assigns
// through the manager, so it is attached after construction.
func (m *Manager) SetAdvancer(a Advancer) { m.advancer = a }

// SetCustomWorkflows wires the handler for tasks with a WorkflowID.
func (m *Manager) SetCustomWorkflows(c CustomWorkflows) { m.custom = c }

// SetWorkspace wires version-control side effects.
func (m *Manager) SetWorkspace(w Workspace) { m.workspace = w }

// AssignTask runs a task on a worker. A busy worker gets the task queued instead.
// Precondition failures are logged and returned; nothing is mutated.
// The execution itself runs detached; AssignTask returns once it has started.
func (m *Manager) AssignTask(ctx context.Context, taskID, workerID string) error {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s: %v", ErrTaskNotFound, taskID, err))
	}
	worker, err := m.store.GetWorker(ctx, workerID)
	if err != nil {
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s: %v", ErrWorkerNotFound, workerID, err))
	}
	if !worker.Active {
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s", ErrWorkerInactive, workerID))
	}
	project, err := m.store.GetProject(ctx, task.ProjectID)
	if err != nil {
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s: %v", ErrProjectNotFound, task.ProjectID, err))
	}

	canStart := task.Status == model.StatusInProgress || model.CanTransition(task.Status, model.StatusInProgress)
	canQueue := task.Status == model.StatusAssigned || model.CanTransition(task.Status, model.StatusAssigned)
	if !canStart && !canQueue {
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s cannot be assigned from %s", ErrIllegalTransition, task.ID, task.Status))
	}

	execCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &session{taskID: task.ID, workerID: worker.ID, projectID: project.ID, startedAt: m.now(), cancel: cancel}

	// Reserve the worker before any further I/O so concurrent assignments cannot both start.
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if _, active := m.sessions[task.ID]; active {
		m.mu.Unlock()
		cancel()
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s", ErrTaskActive, taskID))
	}
	if _, busy := m.byWorker[worker.ID]; busy {
		if !canQueue {
			m.mu.Unlock()
			cancel()
			return m.reject(taskID, workerID, fmt.Errorf("%w: %s cannot be queued from %s", ErrIllegalTransition, task.ID, task.Status))
		}
		position, dup := m.enqueueLocked(worker.ID, task)
		m.mu.Unlock()
		cancel()
		if err := m.queued(ctx, task, worker.ID, position, dup); err != nil {
			return m.reject(taskID, workerID, err)
		}
		return nil
	}
	if !canStart {
		m.mu.Unlock()
		cancel()
		return m.reject(taskID, workerID, fmt.Errorf("%w: %s cannot start from %s", ErrIllegalTransition, task.ID, task.Status))
	}
	m.removeQueuedLocked(task.ID)
	m.sessions[task.ID] = s
	m.byWorker[worker.ID] = task.ID
	m.mu.Unlock()

	// The status may have moved since it was read; nothing is recorded until the edge is taken.
	if task.Status != model.StatusInProgress &&
		!m.tracker.Transition(ctx, task.ID, model.StatusInProgress, worker.ID, "Assigned to "+worker.Name) {
		m.release(s)
		cancel()
		err := fmt.Errorf("%w: %s cannot start from %s", ErrIllegalTransition, task.ID, task.Status)
		m.drain(ctx, worker.ID)
		return m.reject(taskID, workerID, err)
	}
	if err := m.store.SetTaskAssignment(ctx, task.ID, worker.ID); err != nil {
		m.logger.Warn("Failed to record assignment", "task_id", task.ID, "worker_id", worker.ID, "error", err)
	}

	workDir := project.Path
	if m.workspace != nil {
		dir, err := m.workspace.Prepare(ctx, project, task)
		if err != nil {
			m.logger.Warn("Workspace preparation failed, running in project directory",
				"task_id", task.ID, "project_id", project.ID, "error", err)
		}
		if dir != "" {
			workDir = dir
		}
	}

	// A cancel that landed during setup wins
	if execCtx.Err() != nil {
		m.logger.Info("Assignment cancelled before start", "task_id", task.ID, "worker_id", worker.ID)
		m.tracker.Transition(ctx, task.ID, model.StatusCreated, worker.ID, "Cancelled")
		return nil
	}

	instructions := ""
	if m.advancer != nil {
		instructions = m.advancer.Instructions(task.ID)
	}
	prompt := buildPrompt(task, project, worker, instructions)

	m.audit(ctx, task.ID, worker.ID, model.ActionAssigned, fmt.Sprintf("Assigned to %s (%s)", worker.Name, worker.Role))
	m.publishAgent(worker.ID, events.AgentBusy, task.ID)
	m.logger.Info("Task assigned", "task_id", task.ID, "worker_id", worker.ID, "work_dir", workDir)

	m.inflight.Add(1)
	m.wg.Add(1)
	go m.run(execCtx, s, task, worker, project, backend.Request{
		Prompt:       prompt,
		WorkDir:      workDir,
		Model:        worker.Config.Model,
		SystemPrompt: worker.Config.SystemPrompt,
		Tools:        worker.Config.Tools,
		OnProgress: func(p backend.Progress) {
			m.publish(events.TopicTaskOutput, events.TaskOutputEvent{
				ID: task.ID, WorkerID: worker.ID, Kind: p.Kind, Line: p.Text, Timestamp: m.now(),
			})
		},
	})
	return nil
}

// reject logs a precondition failure and returns it.
func (m *Manager) reject(taskID, workerID string, err error) error {
	m.logger.Warn("Assignment rejected", "task_id", taskID, "worker_id", workerID, "error", err)
	return err
}

// AutoAssignTask picks a worker from the task's category preferences:
// an idle preferred worker, then any idle worker, then a busy preferred worker
// (the task queues), then the first active worker.
func (m *Manager) AutoAssignTask(ctx context.Context, taskID string) error {
	task, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return m.reject(taskID, "", fmt.Errorf("%w: %s: %v", ErrTaskNotFound, taskID, err))
	}
	workers, err := m.store.ListWorkers(ctx, true)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}
	if len(workers) == 0 {
		return m.reject(taskID, "", ErrNoWorkers)
	}

	var preferred []model.Role
	if m.router != nil {
		preferred = m.router.PreferredRoles(task.Category)
	}

	w := m.selectWorker(workers, preferred)
	m.logger.Debug("Auto-assign selected worker", "task_id", taskID, "category", task.Category, "worker_id", w.ID, "role", w.Role)
	return m.AssignTask(ctx, taskID, w.ID)
}

func (m *Manager) selectWorker(workers []*model.Worker, preferred []model.Role) *model.Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	idle := func(w *model.Worker) bool {
		_, busy := m.byWorker[w.ID]
		return !busy
	}
	for _, role := range preferred {
		for _, w := range workers {
			if w.Role == role && idle(w) {
				return w
			}
		}
	}
	for _, w := range workers {
		if idle(w) {
			return w
		}
	}
	for _, role := range preferred {
		for _, w := range workers {
			if w.Role == role {
				return w
			}
		}
	}
	return workers[0]
}

// CancelTask stops a running task and returns it to created.
// Returns false when the task has no active session.
func (m *Manager) CancelTask(ctx context.Context, taskID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[taskID]
	if ok {
		m.releaseLocked(s)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	if m.advancer != nil {
		m.advancer.Abandon(taskID)
	}
	m.tracker.Transition(ctx, taskID, model.StatusCreated, s.workerID, "Cancelled")
	m.audit(ctx, taskID, s.workerID, model.ActionCancelled, "Execution cancelled")
	m.publishAgent(s.workerID, events.AgentIdle, "")
	m.logger.Info("Task cancelled", "task_id", taskID, "worker_id", s.workerID)

	m.drain(ctx, s.workerID)
	return true
}

// Evict drops a task's session and cancels its execution without touching the
// task status. The timeout monitor calls it after failing the task.
func (m *Manager) Evict(taskID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[taskID]
	if ok {
		m.releaseLocked(s)
	}
	delete(m.retries, taskID)
	if t, pending := m.timers[taskID]; pending {
		t.Stop()
		delete(m.timers, taskID)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	s.cancel()
	if m.advancer != nil {
		m.advancer.Abandon(taskID)
	}
	m.publishAgent(s.workerID, events.AgentIdle, "")
	m.logger.Warn("Session evicted", "task_id", taskID, "worker_id", s.workerID)

	m.drain(context.Background(), s.workerID)
	return true
}

// IsWorkerBusy reports whether the worker has an active session.
func (m *Manager) IsWorkerBusy(workerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, busy := m.byWorker[workerID]
	return busy
}

// ActiveTaskFor returns the task the worker is running.
func (m *Manager) ActiveTaskFor(workerID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byWorker[workerID]
	return id, ok
}

// Queue returns a copy of the worker's pending entries in run order.
func (m *Manager) Queue(workerID string) []QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[workerID]
	if !ok {
		return nil
	}
	return q.snapshot()
}

// Queues returns a copy of every non-empty queue keyed by worker ID.
func (m *Manager) Queues() map[string][]QueueEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]QueueEntry, len(m.queues))
	for id, q := range m.queues {
		out[id] = q.snapshot()
	}
	return out
}

// Sessions returns the active sessions ordered by start time.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, SessionInfo{TaskID: s.taskID, WorkerID: s.workerID, ProjectID: s.projectID, StartedAt: s.startedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// RetryCount returns the failed attempts recorded for a task pending retry.
func (m *Manager) RetryCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[taskID]
}

// Idle reports whether nothing is running, queued, waiting to retry, or
// still handling a finished execution.
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions) == 0 && len(m.queues) == 0 && len(m.timers) == 0 && m.inflight.Load() == 0
}

// Close stops pending retries, cancels running executions and waits for their
// goroutines. Tasks stay in their persisted status for Reconcile to pick up.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.timers {
		t.Stop()
		delete(m.timers, id)
	}
	running := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		running = append(running, s)
		m.releaseLocked(s)
	}
	m.mu.Unlock()

	for _, s := range running {
		s.cancel()
	}
	m.wg.Wait()
}

// run executes one session and hands the outcome to complete.
func (m *Manager) run(ctx context.Context, s *session, task *model.Task, worker *model.Worker, project *model.Project, req backend.Request) {
	defer m.wg.Done()
	defer m.inflight.Add(-1)

	var (
		res backend.Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("execution panicked: %v", r)
			}
		}()
		engine, engErr := m.engines(worker)
		if engErr != nil {
			err = fmt.Errorf("no engine for worker %s: %w", worker.ID, engErr)
			return
		}
		res, err = engine.Execute(ctx, req)
	}()

	m.complete(context.WithoutCancel(ctx), s, task, worker, project, res, err)
}

// complete releases the session, applies the outcome, and drains the worker's queue
// unless a retry is pending. Sessions already released by cancel or eviction are ignored.
func (m *Manager) complete(ctx context.Context, s *session, task *model.Task, worker *model.Worker, project *model.Project, res backend.Result, err error) {
	m.mu.Lock()
	released := m.releaseLocked(s)
	if released {
		m.settling[s.taskID] = struct{}{}
	}
	m.mu.Unlock()
	if !released {
		m.logger.Debug("Execution finished after its session was released", "task_id", s.taskID, "worker_id", s.workerID)
		return
	}
	s.cancel()

	if m.stillRunning(ctx, task.ID, worker.ID) {
		if err != nil || res.IsError {
			m.onFailure(ctx, task, worker, failureDetail(res, err))
		} else {
			m.onSuccess(ctx, task, worker, project, res)
		}
	}
	m.mu.Lock()
	delete(m.settling, s.taskID)
	m.mu.Unlock()

	m.publishAgent(worker.ID, events.AgentIdle, "")
	if m.RetryCount(task.ID) == 0 {
		m.drain(ctx, worker.ID)
	}
}

// stillRunning reports whether the task is still in progress. A task moved
// elsewhere while it ran keeps that status and the outcome is dropped.
func (m *Manager) stillRunning(ctx context.Context, taskID, workerID string) bool {
	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		m.logger.Warn("Failed to reload task after execution", "task_id", taskID, "error", err)
		return false
	}
	if t.Status != model.StatusInProgress {
		m.logger.Info("Execution outcome dropped, task left in_progress", "task_id", taskID, "worker_id", workerID, "status", t.Status)
		return false
	}
	return true
}

// Completing reports whether the task's execution has finished and its
// outcome is still being applied.
func (m *Manager) Completing(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.settling[taskID]
	return ok
}

func (m *Manager) onSuccess(ctx context.Context, task *model.Task, worker *model.Worker, project *model.Project, res backend.Result) {
	if fresh, err := m.store.GetTask(ctx, task.ID); err == nil {
		task = fresh
	}

	if m.workspace != nil {
		if err := m.workspace.Finalize(ctx, project, task, res.Text); err != nil {
			m.logger.Warn("Post-success side effects failed", "task_id", task.ID, "error", err)
		}
	}

	if err := m.store.UpdateTaskResult(ctx, task.ID, res.Text, res.Cost); err != nil {
		m.logger.Warn("Failed to persist result", "task_id", task.ID, "error", err)
	}

	m.mu.Lock()
	delete(m.retries, task.ID)
	m.mu.Unlock()

	m.audit(ctx, task.ID, worker.ID, model.ActionCompleted, fmt.Sprintf("Execution completed (cost $%.4f)", res.Cost))
	m.logger.Info("Execution completed", "task_id", task.ID, "worker_id", worker.ID, "cost", res.Cost)

	if task.WorkflowID != "" && m.custom != nil && m.custom.Complete(ctx, task, worker, res.Text) {
		return
	}
	if m.advancer != nil && m.advancer.Advance(ctx, task, worker, res.Text) {
		return
	}
	m.tracker.Transition(ctx, task.ID, model.StatusReview, worker.ID, "Execution completed")
}

func (m *Manager) onFailure(ctx context.Context, task *model.Task, worker *model.Worker, detail string) {
	m.audit(ctx, task.ID, worker.ID, model.ActionAgentError, detail)
	m.notify(task.ID, worker.ID, events.LevelWarning, "Execution failed: "+detail)

	m.mu.Lock()
	m.retries[task.ID]++
	attempt := m.retries[task.ID]
	retry := attempt <= m.cfg.MaxRetries && !m.closed
	if !retry {
		delete(m.retries, task.ID)
	}
	m.mu.Unlock()

	if retry {
		m.logger.Warn("Execution failed, retrying", "task_id", task.ID, "worker_id", worker.ID, "attempt", attempt, "error", detail)
		m.tracker.Transition(ctx, task.ID, model.StatusAssigned, worker.ID, fmt.Sprintf("Retry %d/%d after failure", attempt, m.cfg.MaxRetries))
		m.audit(ctx, task.ID, worker.ID, model.ActionRetry, fmt.Sprintf("Retry %d/%d scheduled", attempt, m.cfg.MaxRetries))
		m.scheduleRetry(task.ID, worker.ID)
		return
	}

	if m.advancer != nil && m.advancer.Escalate(ctx, task.ID) {
		m.logger.Warn("Execution failed past retry ceiling, escalated", "task_id", task.ID, "worker_id", worker.ID)
		return
	}

	m.logger.Error("Execution failed permanently", "task_id", task.ID, "worker_id", worker.ID, "attempts", attempt, "error", detail)
	m.tracker.Transition(ctx, task.ID, model.StatusFailed, worker.ID, fmt.Sprintf("Failed after %d attempts: %s", attempt, detail))
	m.notify(task.ID, worker.ID, events.LevelError, "Task failed: "+detail)
}

// scheduleRetry re-assigns the task to the same worker after the retry delay.
func (m *Manager) scheduleRetry(taskID, workerID string) {
	b := backoff.NewConstantBackOff(m.cfg.RetryDelay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(b.NextBackOff(), func() {
		m.mu.Lock()
		pending := m.timers[taskID] == timer
		closed := m.closed
		m.mu.Unlock()
		if !pending || closed {
			return
		}

		// The timer entry stays until the re-assignment is done so Idle never
		// sees a gap between the retry firing and the new session.
		ctx := context.Background()
		err := m.AssignTask(ctx, taskID, workerID)

		m.mu.Lock()
		if m.timers[taskID] == timer {
			delete(m.timers, taskID)
		}
		if err != nil {
			delete(m.retries, taskID)
		}
		m.mu.Unlock()

		if err != nil && !errors.Is(err, ErrClosed) {
			m.tracker.Transition(ctx, taskID, model.StatusFailed, workerID, "Retry could not be assigned: "+err.Error())
			m.drain(ctx, workerID)
		}
	})
	m.timers[taskID] = timer
}

// drain starts the head of an idle worker's queue. Entries that can no longer
// be assigned are skipped.
func (m *Manager) drain(ctx context.Context, workerID string) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return
		}
		if _, busy := m.byWorker[workerID]; busy {
			m.mu.Unlock()
			return
		}
		q, ok := m.queues[workerID]
		if !ok {
			m.mu.Unlock()
			return
		}
		next, _ := q.pop()
		if q.len() == 0 {
			delete(m.queues, workerID)
		}
		m.mu.Unlock()

		m.logger.Info("Draining queue", "worker_id", workerID, "task_id", next.TaskID)
		if err := m.AssignTask(ctx, next.TaskID, workerID); err == nil {
			return
		}
	}
}

// enqueueLocked queues a task for a busy worker. dup is true when it was already queued there.
func (m *Manager) enqueueLocked(workerID string, task *model.Task) (position int, dup bool) {
	q, ok := m.queues[workerID]
	if !ok {
		q = &workerQueue{}
		m.queues[workerID] = q
	}
	if pos := q.position(task.ID); pos > 0 {
		return pos, true
	}
	m.removeQueuedLocked(task.ID)
	m.seq++
	return q.push(QueueEntry{
		TaskID:     task.ID,
		ProjectID:  task.ProjectID,
		Priority:   task.Priority,
		EnqueuedAt: m.now(),
		seq:        m.seq,
	}), false
}

// removeQueuedLocked drops a task from whatever queue holds it.
func (m *Manager) removeQueuedLocked(taskID string) {
	for id, q := range m.queues {
		if q.remove(taskID) && q.len() == 0 {
			delete(m.queues, id)
		}
	}
}

// queued records a queued assignment. A status that can no longer move to
// assigned takes the task back out of the queue.
func (m *Manager) queued(ctx context.Context, task *model.Task, workerID string, position int, dup bool) error {
	if dup {
		m.logger.Debug("Task already queued", "task_id", task.ID, "worker_id", workerID, "position", position)
		return nil
	}
	if task.Status != model.StatusAssigned &&
		!m.tracker.Transition(ctx, task.ID, model.StatusAssigned, workerID, "Queued") {
		m.mu.Lock()
		m.removeQueuedLocked(task.ID)
		m.mu.Unlock()
		return fmt.Errorf("%w: %s cannot be queued from %s", ErrIllegalTransition, task.ID, task.Status)
	}
	if err := m.store.SetTaskAssignment(ctx, task.ID, workerID); err != nil {
		m.logger.Warn("Failed to record assignment", "task_id", task.ID, "worker_id", workerID, "error", err)
	}
	m.audit(ctx, task.ID, workerID, model.ActionQueued, fmt.Sprintf("Queued at position %d", position))
	m.publish(events.TopicTaskQueued, events.TaskQueuedEvent{ID: task.ID, WorkerID: workerID, Position: position, Timestamp: m.now()})
	m.logger.Info("Worker busy, task queued", "task_id", task.ID, "worker_id", workerID, "position", position)
	return nil
}

// release removes the session if the maps still hold it. Safe to call twice.
func (m *Manager) release(s *session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseLocked(s)
}

func (m *Manager) releaseLocked(s *session) bool {
	if m.sessions[s.taskID] != s {
		return false
	}
	delete(m.sessions, s.taskID)
	if m.byWorker[s.workerID] == s.taskID {
		delete(m.byWorker, s.workerID)
	}
	return true
}

func failureDetail(res backend.Result, err error) string {
	if err != nil {
		return err.Error()
	}
	if len(res.Errors) > 0 {
		return strings.Join(res.Errors, "; ")
	}
	return "engine reported an error"
}

func (m *Manager) publish(topic string, e events.Event) {
	if m.bus != nil {
		m.bus.Publish(topic, e)
	}
}

func (m *Manager) publishAgent(workerID, state, taskID string) {
	m.publish(events.TopicAgentStatus, events.AgentStatusEvent{WorkerID: workerID, Status: state, Task: taskID, Timestamp: m.now()})
}

func (m *Manager) notify(taskID, workerID, level, message string) {
	m.publish(events.TopicAgentNotification, events.AgentNotificationEvent{
		WorkerID: workerID, Task: taskID, Level: level, Message: message, Timestamp: m.now(),
	})
}

func (m *Manager) audit(ctx context.Context, taskID, workerID, action, detail string) {
	entry := &model.AuditEntry{TaskID: taskID, WorkerID: workerID, Action: action, Detail: detail, CreatedAt: m.now()}
	if err := m.store.AppendLog(ctx, entry); err != nil {
		m.logger.Warn("Failed to write audit entry", "task_id", taskID, "action", action, "error", err)
	}
}
