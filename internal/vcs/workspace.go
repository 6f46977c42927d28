package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/persistence"
)

// Store is the persistence subset the workspace needs.
type Store interface {
	GetIntegration(ctx context.Context, projectID, typ string) (*model.Integration, error)
	SetTaskBranch(ctx context.Context, id, branch string) error
}

// Workspace gives each task its own worktree and branch when the project's git
// integration is enabled, and commits, pushes and opens pull requests after success.
type Workspace struct {
	git    *Git
	store  Store
	logger *slog.Logger
}

// NewWorkspace creates a workspace backed by git.
func NewWorkspace(git *Git, store Store, logger *slog.Logger) *Workspace {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workspace{git: git, store: store, logger: logger}
}

// integration returns the enabled git integration of a project, or nil.
func (w *Workspace) integration(ctx context.Context, projectID string) (*model.Integration, error) {
	in, err := w.store.GetIntegration(ctx, projectID, model.IntegrationGit)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load git integration: %w", err)
	}
	if !in.Enabled {
		return nil, nil
	}
	return in, nil
}

// Prepare returns the directory the task should execute in. Without an enabled git
// integration, or outside a repository, that is the project path. Otherwise the task's
// worktree is created (or reused) and its branch recorded on the task.
// On error the project path is still returned so callers can carry on without the branch.
func (w *Workspace) Prepare(ctx context.Context, project *model.Project, task *model.Task) (string, error) {
	in, err := w.integration(ctx, project.ID)
	if err != nil || in == nil {
		return project.Path, err
	}
	if !w.git.IsRepo(ctx, project.Path) {
		w.logger.Debug("Project is not a git repository", "project_id", project.ID, "path", project.Path)
		return project.Path, nil
	}

	branch := task.Branch
	if branch == "" {
		branch = BranchName(task.ID, task.Title)
	}
	base := in.Setting("base_branch", project.BaseBranch)

	wt, err := w.git.EnsureWorktree(ctx, project.Path, base, task.ID, branch)
	if err != nil {
		return project.Path, err
	}
	if task.Branch != branch {
		if err := w.store.SetTaskBranch(ctx, task.ID, branch); err != nil {
			return wt.Path, fmt.Errorf("failed to record branch: %w", err)
		}
		task.Branch = branch
	}
	return wt.Path, nil
}

// Finalize commits the task's worktree and, per integration settings, pushes the
// branch and opens a pull request against the base branch.
func (w *Workspace) Finalize(ctx context.Context, project *model.Project, task *model.Task, summary string) error {
	in, err := w.integration(ctx, project.ID)
	if err != nil || in == nil || task.Branch == "" {
		return err
	}
	dir := w.git.WorktreePath(project.Path, task.ID)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}

	committed, err := w.git.CommitAll(ctx, dir, fmt.Sprintf("%s\n\nTask: %s", task.Title, task.ID))
	if err != nil {
		return err
	}
	if !committed {
		w.logger.Debug("Nothing to commit", "task_id", task.ID)
	}

	if !in.Flag("auto_push") {
		return nil
	}
	if err := w.git.Push(ctx, dir, task.Branch); err != nil {
		return err
	}
	if !in.Flag("auto_pr") {
		return nil
	}

	base := in.Setting("base_branch", project.BaseBranch)
	url, err := w.git.OpenPullRequest(ctx, dir, base, task.Branch, task.Title, prBody(task, summary))
	if err != nil {
		return err
	}
	w.logger.Info("Pull request opened", "task_id", task.ID, "url", url)
	return nil
}

// Cleanup removes the task's worktree. The branch is kept.
func (w *Workspace) Cleanup(ctx context.Context, project *model.Project, task *model.Task) error {
	dir := w.git.WorktreePath(project.Path, task.ID)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	return w.git.RemoveWorktree(ctx, project.Path, dir, task.Branch, false)
}

func prBody(task *model.Task, summary string) string {
	const limit = 4000
	if len(summary) > limit {
		summary = summary[:limit] + "\n..."
	}
	return fmt.Sprintf("Task `%s`\n\n%s", task.ID, summary)
}
