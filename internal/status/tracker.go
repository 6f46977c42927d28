// Package status guards task status changes. Every transition goes through
// Tracker.Transition, which checks the edge against the status table, persists
// the change, writes the audit log, notifies listeners, and rolls completed
// subtasks up into their parent.
package status

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/model"
)

// Store is the persistence subset the tracker needs.
type Store interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status model.Status, completedAt *time.Time) error
	AppendLog(ctx context.Context, e *model.AuditEntry) error
	ListSubtasks(ctx context.Context, parentID string) ([]*model.Task, error)
}

// Tracker applies status transitions.
type Tracker struct {
	store  Store
	bus    events.Publisher
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time

	// Aggregation runs detached from the caller; wg lets tests and shutdown wait for it.
	wg sync.WaitGroup
}

// NewTracker creates a tracker. bus may be nil.
func NewTracker(store Store, bus events.Publisher, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:  store,
		bus:    bus,
		logger: logger,
		locks:  newKeyedMutex(),
		now:    time.Now,
	}
}

// Transition moves a task to a new status.
// It returns false without mutating anything if the task does not exist,
// the edge is illegal, or the status could not be persisted.
func (t *Tracker) Transition(ctx context.Context, taskID string, to model.Status, actorID, note string) bool {
	return t.transition(ctx, taskID, "", to, actorID, note)
}

// TransitionFrom is Transition that only applies while the task is still in
// the expected status.
func (t *Tracker) TransitionFrom(ctx context.Context, taskID string, from, to model.Status, actorID, note string) bool {
	return t.transition(ctx, taskID, from, to, actorID, note)
}

func (t *Tracker) transition(ctx context.Context, taskID string, expect, to model.Status, actorID, note string) bool {
	t.locks.Lock(taskID)
	task, from, ok := t.apply(ctx, taskID, expect, to, actorID, note)
	t.locks.Unlock(taskID)

	if !ok {
		return false
	}

	if t.bus != nil {
		t.bus.Publish(events.TopicTaskStatus, events.TaskStatusEvent{
			ID:        taskID,
			From:      string(from),
			To:        string(to),
			WorkerID:  actorID,
			Note:      note,
			Timestamp: t.now(),
		})
	}

	if task.ParentID != "" && model.IsSettled(to) {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.aggregate(context.WithoutCancel(ctx), task.ParentID)
		}()
	}

	return true
}

// apply performs the locked read-check-write part of a transition.
func (t *Tracker) apply(ctx context.Context, taskID string, expect, to model.Status, actorID, note string) (*model.Task, model.Status, bool) {
	task, err := t.store.GetTask(ctx, taskID)
	if err != nil {
		t.logger.Warn("Transition rejected: task not found", "task_id", taskID, "to", to, "error", err)
		return nil, "", false
	}

	from := task.Status
	if expect != "" && from != expect {
		t.logger.Debug("Transition skipped: status moved", "task_id", taskID, "expected", expect, "from", from, "to", to)
		return nil, "", false
	}
	if !model.CanTransition(from, to) {
		t.logger.Warn("Transition rejected: illegal edge", "task_id", taskID, "from", from, "to", to)
		return nil, "", false
	}

	now := t.now()
	var completedAt *time.Time
	if model.IsTerminalSuccess(to) {
		completedAt = &now
	}

	if err := t.store.UpdateTaskStatus(ctx, taskID, to, completedAt); err != nil {
		t.logger.Error("Failed to persist status", "task_id", taskID, "to", to, "error", err)
		return nil, "", false
	}

	entry := &model.AuditEntry{
		TaskID:     taskID,
		WorkerID:   actorID,
		Action:     model.ActionStatusChange,
		FromStatus: from,
		ToStatus:   to,
		Detail:     note,
		CreatedAt:  now,
	}
	if err := t.store.AppendLog(ctx, entry); err != nil {
		// The status change already happened; a missing audit row is not worth reverting it
		t.logger.Warn("Failed to write audit entry", "task_id", taskID, "error", err)
	}

	t.logger.Debug("Task status changed", "task_id", taskID, "from", from, "to", to, "worker_id", actorID)
	return task, from, true
}

// aggregate moves a parent from in_progress to review once every subtask is settled.
func (t *Tracker) aggregate(ctx context.Context, parentID string) {
	subs, err := t.store.ListSubtasks(ctx, parentID)
	if err != nil {
		t.logger.Warn("Failed to list subtasks", "task_id", parentID, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}
	for _, s := range subs {
		if !model.IsSettled(s.Status) {
			return
		}
	}

	parent, err := t.store.GetTask(ctx, parentID)
	if err != nil {
		t.logger.Warn("Failed to load parent task", "task_id", parentID, "error", err)
		return
	}
	if parent.Status != model.StatusInProgress {
		return
	}

	if t.Transition(ctx, parentID, model.StatusReview, "", "All subtasks completed") {
		t.logger.Info("Parent task moved to review", "task_id", parentID, "subtasks", len(subs))
	}
}

// Wait blocks until in-flight parent aggregation finishes.
func (t *Tracker) Wait() {
	t.wg.Wait()
}
