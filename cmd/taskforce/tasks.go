package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/status"
)

func taskCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, inspect and move tasks",
	}
	cmd.AddCommand(
		taskAddCmd(e),
		taskListCmd(e),
		taskShowCmd(e),
		taskMoveCmd(e),
		taskParentCmd(e),
	)
	return cmd
}

func taskAddCmd(e *env) *cobra.Command {
	var (
		projectID   string
		description string
		priority    string
		category    string
		parentID    string
		workflowID  string
	)

	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			p := model.Priority(strings.ToLower(priority))
			switch p {
			case model.PriorityLow, model.PriorityMedium, model.PriorityHigh:
			default:
				return fmt.Errorf("unknown priority %q (low, medium, high)", priority)
			}
			if workflowID != "" {
				if _, ok := e.cfg.Workflows[workflowID]; !ok {
					return fmt.Errorf("unknown workflow %q", workflowID)
				}
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			pid, err := resolveProject(ctx, store, projectID)
			if err != nil {
				return err
			}
			if parentID != "" {
				parent, err := store.GetTask(ctx, parentID)
				if err != nil {
					return err
				}
				if parent.ProjectID != pid {
					return fmt.Errorf("parent %s belongs to another project", parentID)
				}
			}

			t := &model.Task{
				ProjectID:   pid,
				Title:       args[0],
				Description: description,
				Priority:    p,
				Category:    category,
				ParentID:    parentID,
				WorkflowID:  workflowID,
			}
			if err := store.CreateTask(ctx, t); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID (default: the only project)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Task description")
	cmd.Flags().StringVar(&priority, "priority", string(model.PriorityMedium), "Priority: low, medium or high")
	cmd.Flags().StringVarP(&category, "category", "c", "", "Category used to route the task to a role")
	cmd.Flags().StringVar(&parentID, "parent", "", "Parent task ID")
	cmd.Flags().StringVarP(&workflowID, "workflow", "w", "", "Custom workflow from the config that owns this task")
	return cmd
}

func taskListCmd(e *env) *cobra.Command {
	var (
		projectID string
		statusArg string
		tree      bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			var tasks []*model.Task
			if statusArg != "" {
				st := model.Status(statusArg)
				if !model.IsValidStatus(st) {
					return fmt.Errorf("unknown status %q", statusArg)
				}
				tasks, err = store.ListTasksByStatus(ctx, st)
			} else {
				pid, perr := resolveProject(ctx, store, projectID)
				if perr != nil {
					return perr
				}
				tasks, err = store.ListTasks(ctx, pid)
			}
			if err != nil {
				return err
			}

			if tree {
				printTree(cmd.OutOrStdout(), tasks)
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tWORKER\tTITLE")
			for _, t := range tasks {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, dash(t.AssignedWorkerID), t.Title)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVarP(&projectID, "project", "p", "", "Project ID (default: the only project)")
	cmd.Flags().StringVarP(&statusArg, "status", "s", "", "Only tasks in this status (all projects)")
	cmd.Flags().BoolVarP(&tree, "tree", "t", false, "Show subtasks indented under their parents")
	return cmd
}

// printTree prints tasks parent-first with subtasks indented. Tasks whose
// parent is not in the list are printed as roots.
func printTree(w io.Writer, tasks []*model.Task) {
	byID := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = true
	}
	children := make(map[string][]*model.Task)
	var roots []*model.Task
	for _, t := range tasks {
		if t.ParentID != "" && byID[t.ParentID] {
			children[t.ParentID] = append(children[t.ParentID], t)
			continue
		}
		roots = append(roots, t)
	}

	seen := make(map[string]bool, len(tasks))
	var walk func(t *model.Task, depth int)
	walk = func(t *model.Task, depth int) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		fmt.Fprintf(w, "%s%s [%s] %s\n", strings.Repeat("  ", depth), t.ID, t.Status, t.Title)
		kids := children[t.ID]
		sort.SliceStable(kids, func(i, j int) bool { return kids[i].CreatedAt.Before(kids[j].CreatedAt) })
		for _, c := range kids {
			walk(c, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

func taskShowCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task with its audit log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			logs, err := store.ListLogs(ctx, t.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:        %s\n", t.ID)
			fmt.Fprintf(out, "Title:     %s\n", t.Title)
			fmt.Fprintf(out, "Status:    %s\n", t.Status)
			fmt.Fprintf(out, "Priority:  %s\n", t.Priority)
			fmt.Fprintf(out, "Category:  %s\n", dash(t.Category))
			fmt.Fprintf(out, "Worker:    %s\n", dash(t.AssignedWorkerID))
			fmt.Fprintf(out, "Parent:    %s\n", dash(t.ParentID))
			fmt.Fprintf(out, "Workflow:  %s\n", dash(t.WorkflowID))
			fmt.Fprintf(out, "Branch:    %s\n", dash(t.Branch))
			fmt.Fprintf(out, "Cost:      $%.4f\n", t.Cost)
			if d := strings.TrimSpace(t.Description); d != "" {
				fmt.Fprintf(out, "\n%s\n", d)
			}
			if r := strings.TrimSpace(t.Result); r != "" {
				fmt.Fprintf(out, "\nResult:\n%s\n", r)
			}

			if len(logs) > 0 {
				fmt.Fprintln(out, "\nLog:")
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				for _, l := range logs {
					change := ""
					if l.FromStatus != "" || l.ToStatus != "" {
						change = fmt.Sprintf("%s -> %s", l.FromStatus, l.ToStatus)
					}
					fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n",
						l.CreatedAt.Format("2006-01-02 15:04:05"), l.Action, dash(l.WorkerID), change, firstLine(l.Detail))
				}
				return tw.Flush()
			}
			return nil
		},
	}
}

func taskMoveCmd(e *env) *cobra.Command {
	var note string

	cmd := &cobra.Command{
		Use:   "move <task-id> <status>",
		Short: "Move a task to another status",
		Long: `Move a task to another status. Only legal transitions are applied,
for example review -> done to accept a change or review -> changes_requested
to send it back.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			to := model.Status(args[1])
			if !model.IsValidStatus(to) {
				return fmt.Errorf("unknown status %q", args[1])
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			tracker := status.NewTracker(store, nil, e.logger)
			ok := tracker.Transition(ctx, t.ID, to, "", note)
			tracker.Wait()
			if !ok {
				return fmt.Errorf("cannot move %s from %s to %s", t.ID, t.Status, to)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s -> %s\n", t.ID, t.Status, to)
			return nil
		},
	}

	cmd.Flags().StringVarP(&note, "note", "m", "", "Note recorded in the audit log")
	return cmd
}

func taskParentCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "parent <task-id> <parent-id>",
		Short: "Make a task a subtask of another",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			t, err := store.GetTask(ctx, args[0])
			if err != nil {
				return err
			}
			siblings, err := store.ListTasks(ctx, t.ProjectID)
			if err != nil {
				return err
			}
			if err := model.CheckReparent(siblings, t.ID, args[1]); err != nil {
				return err
			}
			if err := store.SetTaskParent(ctx, t.ID, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now a subtask of %s\n", t.ID, args[1])
			return nil
		},
	}
}

func statusCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show task counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			statuses := []model.Status{
				model.StatusCreated, model.StatusAssigned, model.StatusInProgress, model.StatusBlocked,
				model.StatusReview, model.StatusChangesRequested, model.StatusDone, model.StatusFailed,
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			total := 0
			for _, st := range statuses {
				tasks, err := store.ListTasksByStatus(ctx, st)
				if err != nil {
					return err
				}
				total += len(tasks)
				fmt.Fprintf(tw, "%s\t%d\n", st, len(tasks))
			}
			fmt.Fprintf(tw, "total\t%d\n", total)
			return tw.Flush()
		},
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
