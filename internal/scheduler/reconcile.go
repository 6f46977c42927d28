package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforce/internal/model"
)

// Reconcile repairs tasks left behind by a previous process. In-progress and
// assigned tasks with no session here are re-assigned to their recorded worker
// when it is still active. Tasks without a usable worker are failed; assigned
// tasks that never had one go back to created.
func (m *Manager) Reconcile(ctx context.Context) error {
	var orphans []*model.Task
	for _, st := range []model.Status{model.StatusInProgress, model.StatusAssigned} {
		tasks, err := m.store.ListTasksByStatus(ctx, st)
		if err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
		for _, t := range tasks {
			if !m.tracked(t.ID) {
				orphans = append(orphans, t)
			}
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	m.logger.Info("Reconciling orphaned tasks", "count", len(orphans))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, t := range orphans {
		g.Go(func() error {
			m.reconcileTask(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

// tracked reports whether the task has a session or a queue entry.
func (m *Manager) tracked(taskID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[taskID]; ok {
		return true
	}
	for _, q := range m.queues {
		if q.position(taskID) > 0 {
			return true
		}
	}
	_, retrying := m.timers[taskID]
	return retrying
}

func (m *Manager) reconcileTask(ctx context.Context, t *model.Task) {
	if t.AssignedWorkerID == "" {
		if t.Status == model.StatusAssigned {
			m.tracker.Transition(ctx, t.ID, model.StatusCreated, "", "Reset after restart: no worker recorded")
			return
		}
		m.tracker.Transition(ctx, t.ID, model.StatusFailed, "", "Orphaned after restart: no worker recorded")
		return
	}

	w, err := m.store.GetWorker(ctx, t.AssignedWorkerID)
	if err != nil || !w.Active {
		m.tracker.Transition(ctx, t.ID, model.StatusFailed, t.AssignedWorkerID, "Orphaned after restart: worker unavailable")
		return
	}

	if err := m.AssignTask(ctx, t.ID, w.ID); err != nil {
		m.tracker.Transition(ctx, t.ID, model.StatusFailed, w.ID, "Orphaned after restart: "+err.Error())
		return
	}
	m.logger.Info("Reassigned orphaned task", "task_id", t.ID, "worker_id", w.ID)
}

// IntakeStore is the persistence subset intake polling needs.
type IntakeStore interface {
	ListTasksByStatus(ctx context.Context, status model.Status) ([]*model.Task, error)
}

// Intake polls for created tasks with no worker and hands them to an assign function.
type Intake struct {
	store    IntakeStore
	assign   func(ctx context.Context, taskID string) error
	interval time.Duration
	logger   *slog.Logger
}

// NewIntake creates an intake poller. assign is typically Manager.AutoAssignTask
// or the workflow's Start.
func NewIntake(store IntakeStore, assign func(ctx context.Context, taskID string) error, interval time.Duration, logger *slog.Logger) *Intake {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Intake{store: store, assign: assign, interval: interval, logger: logger}
}

// Run polls until ctx is cancelled.
func (in *Intake) Run(ctx context.Context) {
	ticker := time.NewTicker(in.interval)
	defer ticker.Stop()

	in.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.Poll(ctx)
		}
	}
}

// Poll assigns every unclaimed created task once, subtasks before their parents.
// Returns how many were handed off successfully.
func (in *Intake) Poll(ctx context.Context) int {
	tasks, err := in.store.ListTasksByStatus(ctx, model.StatusCreated)
	if err != nil {
		in.logger.Error("Failed to list created tasks", "error", err)
		return 0
	}

	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	order, err := model.OrderHierarchy(tasks)
	if err != nil {
		in.logger.Warn("Task hierarchy is inconsistent, using list order", "error", err)
		order = make([]string, 0, len(tasks))
		for _, t := range tasks {
			order = append(order, t.ID)
		}
	}

	started := 0
	for _, id := range order {
		if byID[id].AssignedWorkerID != "" {
			continue
		}
		if err := in.assign(ctx, id); err != nil {
			in.logger.Warn("Intake could not assign task", "task_id", id, "error", err)
			continue
		}
		started++
	}
	if started > 0 {
		in.logger.Info("Intake assigned tasks", "count", started)
	}
	return started
}
