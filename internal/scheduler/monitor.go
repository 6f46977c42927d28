package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforce/internal/model"
)

// MonitorStore is the persistence subset the timeout monitor needs.
type MonitorStore interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasksByStatus(ctx context.Context, status model.Status) ([]*model.Task, error)
	AppendLog(ctx context.Context, e *model.AuditEntry) error
}

// Evictor drops a task's session and cancels its execution. Completing
// reports a task whose execution has returned and whose outcome is still
// being applied.
type Evictor interface {
	Evict(taskID string) bool
	Completing(taskID string) bool
}

// StatusGuard applies a status change only from an expected status.
type StatusGuard interface {
	TransitionFrom(ctx context.Context, taskID string, from, to model.Status, actorID, note string) bool
}

// MonitorConfig tunes the timeout sweep.
type MonitorConfig struct {
	Interval time.Duration // Time between sweeps (default 60s)
	Timeout  time.Duration // Max time in progress without an update (default 30m)
}

// Monitor periodically fails tasks stuck in progress past the timeout.
type Monitor struct {
	store   MonitorStore
	tracker StatusGuard
	evictor Evictor
	cfg     MonitorConfig
	logger  *slog.Logger
	now     func() time.Time

	sweeps   atomic.Int64
	timeouts atomic.Int64
}

// NewMonitor creates a timeout monitor. evictor may be nil.
func NewMonitor(store MonitorStore, tracker StatusGuard, evictor Evictor, cfg MonitorConfig, logger *slog.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{store: store, tracker: tracker, evictor: evictor, cfg: cfg, logger: logger, now: time.Now}
}

// Start runs the sweep loop in the background until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	// Run immediately on start
	m.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep fails every in-progress task whose last update is older than the timeout,
// then evicts its session. Returns the number of tasks failed.
func (m *Monitor) Sweep(ctx context.Context) int {
	m.sweeps.Add(1)

	tasks, err := m.store.ListTasksByStatus(ctx, model.StatusInProgress)
	if err != nil {
		m.logger.Error("Failed to list in-progress tasks", "error", err)
		return 0
	}

	now := m.now()
	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, t := range tasks {
		age := now.Sub(t.UpdatedAt)
		if age <= m.cfg.Timeout {
			continue
		}
		g.Go(func() error {
			if m.expire(gctx, t, age) {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(failed.Load())
	m.timeouts.Add(int64(n))
	m.logger.Debug("Timeout sweep finished", "in_progress", len(tasks), "timed_out", n)
	return n
}

// expire fails a stale task. The session is claimed before the status moves so
// a completion racing the sweep cannot act on a task that has already failed.
func (m *Monitor) expire(ctx context.Context, t *model.Task, age time.Duration) bool {
	fresh, err := m.store.GetTask(ctx, t.ID)
	if err != nil || fresh.Status != model.StatusInProgress || !fresh.UpdatedAt.Equal(t.UpdatedAt) {
		return false
	}
	if m.evictor != nil {
		m.evictor.Evict(t.ID)
		if m.evictor.Completing(t.ID) {
			m.logger.Debug("Timeout skipped, execution already finished", "task_id", t.ID)
			return false
		}
	}

	note := fmt.Sprintf("Timed out after %s in progress (limit %s)", age.Round(time.Second), m.cfg.Timeout)
	if !m.tracker.TransitionFrom(ctx, t.ID, model.StatusInProgress, model.StatusFailed, t.AssignedWorkerID, note) {
		return false
	}
	m.logger.Warn("Task timed out", "task_id", t.ID, "worker_id", t.AssignedWorkerID, "age", age)

	entry := &model.AuditEntry{TaskID: t.ID, WorkerID: t.AssignedWorkerID, Action: model.ActionTimeout, Detail: note, CreatedAt: m.now()}
	if err := m.store.AppendLog(ctx, entry); err != nil {
		m.logger.Warn("Failed to write audit entry", "task_id", t.ID, "error", err)
	}
	return true
}

// Stats returns the number of sweeps run and tasks timed out so far.
func (m *Monitor) Stats() (sweeps, timeouts int64) {
	return m.sweeps.Load(), m.timeouts.Load()
}
