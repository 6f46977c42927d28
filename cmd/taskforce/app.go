package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskforce/internal/backend"
	"github.com/aristath/taskforce/internal/config"
	"github.com/aristath/taskforce/internal/events"
	"github.com/aristath/taskforce/internal/metrics"
	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/persistence"
	"github.com/aristath/taskforce/internal/routing"
	"github.com/aristath/taskforce/internal/scheduler"
	"github.com/aristath/taskforce/internal/status"
	"github.com/aristath/taskforce/internal/vcs"
	"github.com/aristath/taskforce/internal/workflow"
)

// app is the fully wired scheduler: store, bus, tracker, engines,
// workflow state machine, custom pipelines and workspace automation.
type app struct {
	env       *env
	logger    *slog.Logger
	store     *persistence.SQLiteStore
	bus       *events.EventBus
	tracker   *status.Tracker
	table     *routing.Table
	procs     *backend.ProcessManager
	breakers  *backend.Breakers
	mgr       *scheduler.Manager
	flow      *workflow.Engine
	pipelines *workflow.Pipelines
	git       *vcs.Git
	workspace *vcs.Workspace
}

// openStore opens the project database.
func (e *env) openStore(ctx context.Context) (*persistence.SQLiteStore, error) {
	if err := e.requireProject(); err != nil {
		return nil, err
	}
	store, err := persistence.NewSQLiteStore(ctx, e.dbPath())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return store, nil
}

// openApp wires every component from the loaded configuration.
func (e *env) openApp(ctx context.Context) (*app, error) {
	store, err := e.openStore(ctx)
	if err != nil {
		return nil, err
	}

	cfg := e.cfg
	rt := &app{
		env:    e,
		logger: e.logger,
		store:  store,
		bus:    events.NewEventBus(),
		table:  routing.NewTable(cfg.Routing),
		procs:  backend.NewProcessManager(),
		breakers: backend.NewBreakers(backend.BreakerSettings{
			MaxFailures: cfg.Breaker.MaxFailures,
			OpenTimeout: cfg.Breaker.OpenTimeout.Std(),
			MaxProbes:   cfg.Breaker.MaxProbes,
		}, e.logger),
	}
	rt.tracker = status.NewTracker(store, rt.bus, e.logger)

	rt.mgr = scheduler.NewManager(store, rt.tracker, rt.table, rt.engineFor, rt.bus, scheduler.Config{
		MaxRetries: cfg.Scheduler.MaxRetries,
		RetryDelay: cfg.Scheduler.RetryDelay.Std(),
	}, e.logger)

	rt.flow = workflow.New(store, rt.tracker, rt.mgr, rt.table, rt.bus, workflow.Config{
		MaxQARounds: cfg.Scheduler.MaxQARounds,
	}, e.logger)
	rt.mgr.SetAdvancer(rt.flow)

	rt.pipelines = workflow.NewPipelines(cfg.Workflows, store, rt.tracker, rt.mgr, e.logger)
	rt.mgr.SetCustomWorkflows(rt.pipelines)

	rt.git = vcs.NewGit(cfg.VCS, e.logger)
	rt.workspace = vcs.NewWorkspace(rt.git, store, e.logger)
	rt.mgr.SetWorkspace(rt.workspace)

	return rt, nil
}

// engineFor resolves a worker's provider to an execution engine guarded by
// that provider's circuit breaker.
func (rt *app) engineFor(w *model.Worker) (backend.Engine, error) {
	provider := w.Config.Provider
	if provider == "" {
		provider = "claude"
	}
	pc, ok := rt.env.cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("worker %s: unknown provider %q", w.ID, provider)
	}
	if w.Config.Model != "" {
		pc.Model = w.Config.Model
	}
	eng, err := backend.New(pc, rt.procs)
	if err != nil {
		return nil, fmt.Errorf("worker %s: %w", w.ID, err)
	}
	return rt.breakers.Wrap(provider, eng), nil
}

// startTask hands a task to whatever owns it: its custom pipeline when it names
// one, the auto-assigner when auto is set, otherwise the workflow state machine.
// Without a tech lead the workflow cannot triage, so the task is auto-assigned.
func (rt *app) startTask(ctx context.Context, taskID string, auto bool) error {
	task, err := rt.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	switch {
	case task.WorkflowID != "":
		return rt.pipelines.Start(ctx, taskID)
	case auto:
		return rt.mgr.AutoAssignTask(ctx, taskID)
	}

	err = rt.flow.Start(ctx, taskID)
	if errors.Is(err, workflow.ErrNoTechLead) {
		rt.logger.Warn("No tech lead available, assigning directly", "task_id", taskID)
		return rt.mgr.AutoAssignTask(ctx, taskID)
	}
	return err
}

// startSideChannels launches the optional NATS forwarder and metrics endpoint.
// Both stop when ctx is cancelled; the returned function releases the NATS connection.
func (rt *app) startSideChannels(ctx context.Context, metricsAddr string) (func(), error) {
	cleanup := func() {}
	cfg := rt.env.cfg

	if cfg.NATS.URL != "" {
		fwd, closeConn, err := events.ConnectNATS(cfg.NATS.URL, cfg.NATS.SubjectPrefix, rt.logger)
		if err != nil {
			return cleanup, err
		}
		cleanup = closeConn
		go fwd.Run(ctx, rt.bus.SubscribeAll(1024))
		rt.logger.Info("Forwarding events to NATS", "url", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}
	if metricsAddr != "" {
		collector := metrics.NewCollector()
		go collector.Consume(ctx, rt.bus.SubscribeAll(1024))
		go func() {
			if err := collector.Serve(ctx, metricsAddr); err != nil {
				rt.logger.Error("Metrics endpoint stopped", "addr", metricsAddr, "error", err)
			}
		}()
		rt.logger.Info("Serving metrics", "addr", metricsAddr)
	}
	return cleanup, nil
}

// applyConfig swaps the hot-reloadable parts of a new configuration in.
func (rt *app) applyConfig(cfg *config.OrchestratorConfig) {
	rt.table.Replace(cfg.Routing)
	rt.pipelines.Replace(cfg.Workflows)
	rt.logger.Info("Configuration reloaded", "workflows", len(cfg.Workflows))
}

// waitForRest blocks until the manager has nothing running, queued or
// pending retry for two consecutive polls, or ctx is cancelled.
func (rt *app) waitForRest(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	idlePolls := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if !rt.mgr.Idle() {
				idlePolls = 0
				continue
			}
			idlePolls++
			if idlePolls >= 2 {
				rt.tracker.Wait()
				return nil
			}
		}
	}
}

// Close shuts the app down. Tasks still running keep their status so the
// next `serve` can reconcile them.
func (rt *app) Close() {
	rt.mgr.Close()
	if err := rt.procs.KillAll(); err != nil {
		rt.logger.Warn("Failed to kill agent processes", "error", err)
	}
	rt.tracker.Wait()
	rt.bus.Close()
	if err := rt.store.Close(); err != nil {
		rt.logger.Warn("Failed to close database", "error", err)
	}
}
