package vcs

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aristath/taskforce/internal/model"
	"github.com/aristath/taskforce/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gitCmd(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s failed (output: %s)", strings.Join(args, " "), string(output))
	return strings.TrimSpace(string(output))
}

// setupTestRepo creates a temporary git repository on branch main with one commit.
func setupTestRepo(t *testing.T) string {
	t.Helper()
	repoPath := t.TempDir()

	gitCmd(t, repoPath, "init")
	gitCmd(t, repoPath, "config", "user.name", "Test User")
	gitCmd(t, repoPath, "config", "user.email", "test@example.com")
	gitCmd(t, repoPath, "checkout", "-b", "main")
	require.NoError(t, os.WriteFile(filepath.Join(repoPath, "README.md"), []byte("# Test Repo\n"), 0644))
	gitCmd(t, repoPath, "add", ".")
	gitCmd(t, repoPath, "commit", "-m", "initial commit")

	return repoPath
}

// addRemote attaches a bare repository as origin and returns its path.
func addRemote(t *testing.T, repoPath string) string {
	t.Helper()
	remote := t.TempDir()
	gitCmd(t, remote, "init", "--bare")
	gitCmd(t, repoPath, "remote", "add", "origin", remote)
	return remote
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		id, title, want string
	}{
		{"1234567890ab", "Fix login bug", "task/12345678-fix-login-bug"},
		{"abc", "  Add: OAuth2 (GitHub) support!! ", "task/abc-add-oauth2-github-support"},
		{"abc", "???", "task/abc"},
		{"abc", "", "task/abc"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, BranchName(tt.id, tt.title))
	}

	long := BranchName("abc", strings.Repeat("word ", 30))
	assert.LessOrEqual(t, len(long), len("task/abc-")+40)
	assert.False(t, strings.HasSuffix(long, "-"))
}

func TestEnsureWorktree(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit(Config{}, nil)
	ctx := context.Background()

	assert.True(t, g.IsRepo(ctx, repo))
	assert.False(t, g.IsRepo(ctx, t.TempDir()))

	wt, err := g.EnsureWorktree(ctx, repo, "main", "t1", "task/t1-demo")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".worktrees", "t1"), wt.Path)
	assert.Equal(t, "task/t1-demo", wt.Branch)
	assert.NotEmpty(t, wt.Head)

	stat, err := os.Stat(filepath.Join(wt.Path, ".git"))
	require.NoError(t, err)
	assert.False(t, stat.IsDir(), "worktrees use a gitfile")

	// Second call reuses the existing worktree
	again, err := g.EnsureWorktree(ctx, repo, "main", "t1", "task/t1-demo")
	require.NoError(t, err)
	assert.Equal(t, wt.Path, again.Path)

	// Removing the worktree keeps the branch; recreating checks it out again
	require.NoError(t, g.RemoveWorktree(ctx, repo, wt.Path, wt.Branch, false))
	_, err = os.Stat(wt.Path)
	assert.True(t, os.IsNotExist(err))

	wt, err = g.EnsureWorktree(ctx, repo, "main", "t1", "task/t1-demo")
	require.NoError(t, err)
	assert.Equal(t, "task/t1-demo", gitCmd(t, wt.Path, "rev-parse", "--abbrev-ref", "HEAD"))

	list, err := g.List(ctx, repo)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Branch)
	assert.Equal(t, "task/t1-demo", list[1].Branch)
}

func TestEnsureWorktree_BadBase(t *testing.T) {
	repo := setupTestRepo(t)
	g := NewGit(Config{}, nil)

	_, err := g.EnsureWorktree(context.Background(), repo, "no-such-branch", "t2", "task/t2")
	assert.ErrorContains(t, err, "failed to create worktree")
}

func TestCommitAllAndPush(t *testing.T) {
	repo := setupTestRepo(t)
	remote := addRemote(t, repo)
	g := NewGit(Config{}, nil)
	ctx := context.Background()

	wt, err := g.EnsureWorktree(ctx, repo, "main", "t3", "task/t3")
	require.NoError(t, err)

	committed, err := g.CommitAll(ctx, wt.Path, "nothing")
	require.NoError(t, err)
	assert.False(t, committed)

	require.NoError(t, os.WriteFile(filepath.Join(wt.Path, "feature.txt"), []byte("new feature\n"), 0644))
	committed, err = g.CommitAll(ctx, wt.Path, "add feature")
	require.NoError(t, err)
	assert.True(t, committed)
	assert.Equal(t, "add feature", gitCmd(t, wt.Path, "log", "-1", "--format=%s"))

	require.NoError(t, g.Push(ctx, wt.Path, "task/t3"))
	assert.NotEmpty(t, gitCmd(t, remote, "rev-parse", "--verify", "refs/heads/task/t3"))
}

func TestParseWorktreeList(t *testing.T) {
	out := "worktree /repo\nHEAD abc\nbranch refs/heads/main\n\nworktree /repo/.worktrees/x\nHEAD def\ndetached\n"
	got := parseWorktreeList(out)
	assert.Equal(t, []Worktree{
		{Path: "/repo", Head: "abc", Branch: "main"},
		{Path: "/repo/.worktrees/x", Head: "def"},
	}, got)
}

type workspaceFixture struct {
	store   *persistence.SQLiteStore
	project *model.Project
	task    *model.Task
	ws      *Workspace
}

func newWorkspaceFixture(t *testing.T, repo string, cfg Config) *workspaceFixture {
	t.Helper()
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	project := &model.Project{Name: "demo", Path: repo}
	require.NoError(t, store.CreateProject(ctx, project))
	task := &model.Task{ProjectID: project.ID, Title: "Add feature"}
	require.NoError(t, store.CreateTask(ctx, task))

	return &workspaceFixture{
		store:   store,
		project: project,
		task:    task,
		ws:      NewWorkspace(NewGit(cfg, nil), store, nil),
	}
}

func TestWorkspace_PrepareWithoutIntegration(t *testing.T) {
	repo := setupTestRepo(t)
	f := newWorkspaceFixture(t, repo, Config{})

	dir, err := f.ws.Prepare(context.Background(), f.project, f.task)
	require.NoError(t, err)
	assert.Equal(t, repo, dir)
	assert.Empty(t, f.task.Branch)

	require.NoError(t, f.ws.Finalize(context.Background(), f.project, f.task, "done"))
}

func TestWorkspace_PrepareNotARepo(t *testing.T) {
	f := newWorkspaceFixture(t, t.TempDir(), Config{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveIntegration(ctx, &model.Integration{ProjectID: f.project.ID, Type: model.IntegrationGit, Enabled: true}))

	dir, err := f.ws.Prepare(ctx, f.project, f.task)
	require.NoError(t, err)
	assert.Equal(t, f.project.Path, dir)
}

func TestWorkspace_FullCycle(t *testing.T) {
	repo := setupTestRepo(t)
	addRemote(t, repo)

	// Fake gh that prints a URL after a progress line
	ghDir := t.TempDir()
	gh := filepath.Join(ghDir, "gh")
	require.NoError(t, os.WriteFile(gh, []byte("#!/bin/sh\necho 'Creating pull request'\necho https://example.test/pr/1\n"), 0755))

	f := newWorkspaceFixture(t, repo, Config{GHBinary: gh})
	ctx := context.Background()
	require.NoError(t, f.store.SaveIntegration(ctx, &model.Integration{
		ProjectID: f.project.ID,
		Type:      model.IntegrationGit,
		Enabled:   true,
		Settings:  map[string]string{"auto_push": "true", "auto_pr": "true"},
	}))

	dir, err := f.ws.Prepare(ctx, f.project, f.task)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(repo, ".worktrees", f.task.ID), dir)
	assert.Equal(t, BranchName(f.task.ID, "Add feature"), f.task.Branch)

	stored, err := f.store.GetTask(ctx, f.task.ID)
	require.NoError(t, err)
	assert.Equal(t, f.task.Branch, stored.Branch)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("x\n"), 0644))
	require.NoError(t, f.ws.Finalize(ctx, f.project, f.task, "Implemented"))
	assert.Contains(t, gitCmd(t, dir, "log", "-1", "--format=%B"), "Task: "+f.task.ID)
	assert.Contains(t, gitCmd(t, repo, "ls-remote", "origin"), "refs/heads/"+f.task.Branch)

	require.NoError(t, f.ws.Cleanup(ctx, f.project, f.task))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}

func TestWorkspace_PushFailureSurfaces(t *testing.T) {
	repo := setupTestRepo(t) // no remote configured
	f := newWorkspaceFixture(t, repo, Config{})
	ctx := context.Background()
	require.NoError(t, f.store.SaveIntegration(ctx, &model.Integration{
		ProjectID: f.project.ID,
		Type:      model.IntegrationGit,
		Enabled:   true,
		Settings:  map[string]string{"auto_push": "yes"},
	}))

	dir, err := f.ws.Prepare(ctx, f.project, f.task)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("x\n"), 0644))

	err = f.ws.Finalize(ctx, f.project, f.task, "")
	assert.ErrorContains(t, err, "failed to push")
}
