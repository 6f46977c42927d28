package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforce/internal/config"
	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/persistence"
)

func initCmd(e *env) *cobra.Command {
	var (
		format  string
		noTeam  bool
		project string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize taskforce in the current project",
		Long: `Initialize taskforce in the current project.

Creates a .taskforce directory holding the project configuration and the
SQLite database, registers the directory as a project and seeds one worker
per configured team member. Running init again keeps existing data and only
adds what is missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			tfDir := filepath.Join(e.dir, config.DirName)
			if err := os.MkdirAll(tfDir, 0755); err != nil {
				return fmt.Errorf("creating %s directory: %w", config.DirName, err)
			}

			cfgPath := config.FindFile(tfDir)
			if _, err := os.Stat(cfgPath); errors.Is(err, os.ErrNotExist) {
				cfgPath = filepath.Join(tfDir, "config."+format)
				if err := config.Save(e.cfg, cfgPath); err != nil {
					return fmt.Errorf("writing config: %w", err)
				}
				fmt.Fprintf(out, "Wrote %s\n", cfgPath)
			}

			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if project == "" {
				project = filepath.Base(e.dir)
			}
			p, err := ensureProject(ctx, store, project, e.dir)
			if err != nil {
				return err
			}

			seeded := 0
			if !noTeam {
				if seeded, err = seedTeam(ctx, store, e.cfg.Team); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "Initialized taskforce in %s\n", tfDir)
			fmt.Fprintf(out, "Project: %s (%s)\n", p.Name, p.ID)
			fmt.Fprintf(out, "Workers seeded: %d\n", seeded)
			fmt.Fprintln(out, "\nNext steps:")
			fmt.Fprintln(out, `  taskforce task add "My first task"`)
			fmt.Fprintln(out, "  taskforce run <task-id>")
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Config file format (json or yaml)")
	cmd.Flags().BoolVar(&noTeam, "no-team", false, "Do not seed workers from the configured team")
	cmd.Flags().StringVar(&project, "name", "", "Project name (default: directory name)")
	return cmd
}

// ensureProject returns the project rooted at path, creating it when missing.
func ensureProject(ctx context.Context, store persistence.Store, name, path string) (*model.Project, error) {
	projects, err := store.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if p.Path == path {
			return p, nil
		}
	}
	p := &model.Project{Name: name, Path: path}
	if err := store.CreateProject(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// seedTeam saves one worker per team member that is not already registered.
// The member key becomes the worker ID.
func seedTeam(ctx context.Context, store persistence.Store, team map[string]config.MemberConfig) (int, error) {
	keys := make([]string, 0, len(team))
	for k := range team {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seeded := 0
	for _, key := range keys {
		if _, err := store.GetWorker(ctx, key); err == nil {
			continue
		} else if !errors.Is(err, persistence.ErrNotFound) {
			return seeded, err
		}

		m := team[key]
		w := &model.Worker{
			ID:     key,
			Name:   m.Name,
			Role:   model.ParseRole(m.Role),
			Active: true,
			Config: model.WorkerConfig{
				Provider:     m.Provider,
				Model:        m.Model,
				SystemPrompt: m.SystemPrompt,
				Tools:        m.Tools,
			},
		}
		if w.Name == "" {
			w.Name = key
		}
		if err := store.SaveWorker(ctx, w); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}

func projectCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
	}
	cmd.AddCommand(projectAddCmd(e), projectListCmd(e), projectGitCmd(e))
	return cmd
}

func projectAddCmd(e *env) *cobra.Command {
	var (
		path       string
		baseBranch string
	)

	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Register a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if path == "" {
				path = e.dir
			}
			abs, err := filepath.Abs(path)
			if err != nil {
				return err
			}
			p := &model.Project{Name: args[0], Path: abs, BaseBranch: baseBranch}
			if err := store.CreateProject(ctx, p); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "Repository path (default: project directory)")
	cmd.Flags().StringVar(&baseBranch, "base-branch", "main", "Branch task branches start from")
	return cmd
}

func projectListCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := store.ListProjects(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBASE\tPATH")
			for _, p := range projects {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.BaseBranch, p.Path)
			}
			return tw.Flush()
		},
	}
}

func projectGitCmd(e *env) *cobra.Command {
	var (
		disable  bool
		autoPush bool
		autoPR   bool
		base     string
	)

	cmd := &cobra.Command{
		Use:   "git <project-id>",
		Short: "Configure branch, push and pull request automation for a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := e.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			if _, err := store.GetProject(ctx, args[0]); err != nil {
				return err
			}
			in := &model.Integration{
				ProjectID: args[0],
				Type:      model.IntegrationGit,
				Enabled:   !disable,
				Settings: map[string]string{
					"auto_push": strconv.FormatBool(autoPush),
					"auto_pr":   strconv.FormatBool(autoPR),
				},
			}
			if base != "" {
				in.Settings["base_branch"] = base
			}
			if err := store.SaveIntegration(ctx, in); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Git integration for %s: enabled=%t auto_push=%t auto_pr=%t\n",
				args[0], in.Enabled, autoPush, autoPR)
			return nil
		},
	}

	cmd.Flags().BoolVar(&disable, "disable", false, "Turn the integration off")
	cmd.Flags().BoolVar(&autoPush, "auto-push", false, "Push the task branch after each commit")
	cmd.Flags().BoolVar(&autoPR, "auto-pr", false, "Open a pull request when a task reaches review")
	cmd.Flags().StringVar(&base, "base-branch", "", "Override the project's base branch for task branches and pull requests")
	return cmd
}

// resolveProject returns the given project ID, or the only project when id is empty.
func resolveProject(ctx context.Context, store persistence.Store, id string) (string, error) {
	if id != "" {
		if _, err := store.GetProject(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	}
	projects, err := store.ListProjects(ctx)
	if err != nil {
		return "", err
	}
	switch len(projects) {
	case 0:
		return "", fmt.Errorf("no projects registered (run `taskforce init`)")
	case 1:
		return projects[0].ID, nil
	}
	return "", fmt.Errorf("%d projects registered, pick one with --project", len(projects))
}
