package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/taskforce/internal/config"
	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/scheduler"
	"github.com/aristath/taskforce/internal/tui"
)

const restPoll = 200 * time.Millisecond

func runCmd(e *env) *cobra.Command {
	var (
		auto        bool
		withTUI     bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run <task-id>...",
		Short: "Execute tasks until they come to rest",
		Long: `Execute the given tasks and wait until nothing is running, queued or
waiting to retry.

By default each task enters the team workflow: the tech lead triages it,
developers implement it and QA reviews it. Tasks created with --workflow follow
that configured pipeline instead. With --auto the workflow is skipped and each
task goes straight to the best matching worker for its category.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := e.openApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			cleanup, err := rt.startSideChannels(ctx, metricsAddr)
			if err != nil {
				return err
			}
			defer cleanup()

			var tracked []*model.Task
			for _, id := range args {
				t, err := rt.store.GetTask(ctx, id)
				if err != nil {
					return err
				}
				tracked = append(tracked, t)
			}

			if withTUI {
				return rt.runWithTUI(ctx, stop, tracked, auto)
			}

			started := rt.startAll(ctx, tracked, auto)
			if started == 0 {
				return errors.New("no task could be started")
			}
			if err := rt.waitForRest(ctx, restPoll); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted; running tasks will be reconciled by the next `taskforce serve`")
				return nil
			}
			return rt.printSummary(ctx, cmd.OutOrStdout(), args)
		},
	}

	cmd.Flags().BoolVar(&auto, "auto", false, "Skip the workflow and assign each task to the best matching worker")
	cmd.Flags().BoolVar(&withTUI, "tui", false, "Show the live dashboard")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

// startAll starts every task and returns how many were handed off.
func (rt *app) startAll(ctx context.Context, tasks []*model.Task, auto bool) int {
	started := 0
	for _, t := range tasks {
		if err := rt.startTask(ctx, t.ID, auto); err != nil {
			rt.logger.Error("Failed to start task", "task_id", t.ID, "error", err)
			continue
		}
		started++
	}
	return started
}

// runWithTUI starts the tasks under the dashboard. The dashboard is told when
// everything has come to rest and stays open until the user quits.
func (rt *app) runWithTUI(ctx context.Context, stop context.CancelFunc, tasks []*model.Task, auto bool) error {
	workers, err := rt.store.ListWorkers(ctx, true)
	if err != nil {
		return err
	}
	m := tui.New(rt.bus, tui.Options{
		Workers:     workers,
		Tasks:       tasks,
		Config:      rt.env.cfg,
		GlobalPath:  rt.env.globalPath,
		ProjectPath: rt.env.projectPath,
	})
	p := tea.NewProgram(m, tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	go func() {
		if rt.startAll(ctx, tasks, auto) == 0 {
			p.Send(tui.DoneMsg{})
			return
		}
		if rt.waitForRest(ctx, restPoll) == nil {
			p.Send(tui.DoneMsg{})
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		// Restore default signal handling so a second Ctrl+C force-exits
		stop()
		rt.logger.Info("Shutdown signal received, cleaning up")
		p.Quit()

		select {
		case err := <-errChan:
			return err
		case <-time.After(10 * time.Second):
			rt.logger.Warn("Shutdown timeout exceeded, forcing exit")
			return nil
		}
	}
}

func (rt *app) printSummary(ctx context.Context, out io.Writer, ids []string) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tWORKER\tTITLE")
	for _, id := range ids {
		t, err := rt.store.GetTask(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Status, dash(t.AssignedWorkerID), t.Title)
	}
	return tw.Flush()
}

func serveCmd(e *env) *cobra.Command {
	var (
		intake      bool
		auto        bool
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler until interrupted",
		Long: `Run the scheduler until interrupted.

On start, tasks left assigned or in progress by a previous process are
reconciled. A monitor fails tasks that stay in progress past the configured
timeout. With --intake, newly created tasks are picked up and started
automatically. Routing rules and custom workflows are reloaded whenever the
config files change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := e.openApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			cleanup, err := rt.startSideChannels(ctx, metricsAddr)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := rt.mgr.Reconcile(ctx); err != nil {
				return err
			}

			sched := e.cfg.Scheduler
			monitor := scheduler.NewMonitor(rt.store, rt.tracker, rt.mgr, scheduler.MonitorConfig{
				Interval: sched.SweepInterval.Std(),
				Timeout:  sched.TaskTimeout.Std(),
			}, rt.logger)
			monitor.Start(ctx)

			if intake {
				in := scheduler.NewIntake(rt.store, func(ctx context.Context, id string) error {
					return rt.startTask(ctx, id, auto)
				}, sched.IntakeInterval.Std(), rt.logger)
				go in.Run(ctx)
			}

			watcher, err := config.NewWatcher(e.globalPath, e.projectPath, rt.applyConfig, rt.logger)
			if err != nil {
				rt.logger.Warn("Config hot reload disabled", "error", err)
			} else {
				go watcher.Run(ctx)
			}

			rt.logger.Info("Scheduler running", "dir", e.dir, "intake", intake)
			<-ctx.Done()

			sweeps, timeouts := monitor.Stats()
			rt.logger.Info("Shutting down", "sweeps", sweeps, "timeouts", timeouts)
			return nil
		},
	}

	cmd.Flags().BoolVar(&intake, "intake", false, "Start newly created tasks automatically")
	cmd.Flags().BoolVar(&auto, "auto", false, "With --intake, assign directly instead of entering the workflow")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func worktreeCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage task worktrees",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Remove worktrees of finished tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := e.openApp(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			projects, err := rt.store.ListProjects(ctx)
			if err != nil {
				return err
			}
			removed := 0
			for _, p := range projects {
				if !rt.git.IsRepo(ctx, p.Path) {
					continue
				}
				tasks, err := rt.store.ListTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				for _, t := range tasks {
					if t.Status != model.StatusDone && t.Status != model.StatusFailed {
						continue
					}
					if err := rt.workspace.Cleanup(ctx, p, t); err != nil {
						rt.logger.Warn("Failed to remove worktree", "task_id", t.ID, "error", err)
						continue
					}
					removed++
				}
				if err := rt.git.Prune(ctx, p.Path); err != nil {
					rt.logger.Warn("Failed to prune worktrees", "project", p.Name, "error", err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d finished tasks\n", removed)
			return nil
		},
	})
	return cmd
}
