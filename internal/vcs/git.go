package vcs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Config selects the binaries and layout used for version-control side effects.
type Config struct {
	GitBinary   string `json:"git_binary,omitempty" yaml:"git_binary,omitempty"`
	GHBinary    string `json:"gh_binary,omitempty" yaml:"gh_binary,omitempty"`
	WorktreeDir string `json:"worktree_dir,omitempty" yaml:"worktree_dir,omitempty"` // Relative to the repository root
	Remote      string `json:"remote,omitempty" yaml:"remote,omitempty"`
}

// Worktree describes one checked-out working tree.
type Worktree struct {
	Path   string
	Branch string
	Head   string
}

// Git shells out to git and gh for branch, commit, push and pull request automation.
type Git struct {
	git         string
	gh          string
	worktreeDir string
	remote      string
	logger      *slog.Logger
	mu          sync.Mutex // Serializes worktree add/remove to avoid git lock conflicts
}

// NewGit creates a Git runner. Empty config fields fall back to git, gh, .worktrees and origin.
func NewGit(cfg Config, logger *slog.Logger) *Git {
	if cfg.GitBinary == "" {
		cfg.GitBinary = "git"
	}
	if cfg.GHBinary == "" {
		cfg.GHBinary = "gh"
	}
	if cfg.WorktreeDir == "" {
		cfg.WorktreeDir = ".worktrees"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Git{
		git:         cfg.GitBinary,
		gh:          cfg.GHBinary,
		worktreeDir: cfg.WorktreeDir,
		remote:      cfg.Remote,
		logger:      logger,
	}
}

// run executes a command in dir and returns its trimmed combined output.
func (g *Git) run(ctx context.Context, dir, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	out := strings.TrimSpace(string(output))
	if err != nil {
		return out, fmt.Errorf("%w (output: %s)", err, out)
	}
	return out, nil
}

// IsRepo reports whether path is inside a git working tree.
func (g *Git) IsRepo(ctx context.Context, path string) bool {
	out, err := g.run(ctx, path, g.git, "rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// BranchName returns the branch used for a task: task/<short id>-<title slug>.
func BranchName(taskID, title string) string {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	if s := slugify(title); s != "" {
		return "task/" + short + "-" + s
	}
	return "task/" + short
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 40 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}

// WorktreePath returns where the worktree for taskID lives inside repo.
func (g *Git) WorktreePath(repo, taskID string) string {
	return filepath.Join(repo, g.worktreeDir, taskID)
}

// EnsureWorktree returns the task's worktree, creating it (and its branch from base) when missing.
// An existing branch is checked out as is, so re-assigned tasks keep their previous work.
func (g *Git) EnsureWorktree(ctx context.Context, repo, base, taskID, branch string) (*Worktree, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	wtPath := g.WorktreePath(repo, taskID)
	if _, err := os.Stat(filepath.Join(wtPath, ".git")); err == nil {
		return g.describe(ctx, wtPath, branch)
	}

	args := []string{"worktree", "add", wtPath, branch}
	if !g.branchExists(ctx, repo, branch) {
		args = []string{"worktree", "add", "-b", branch, wtPath, base}
	}
	if _, err := g.run(ctx, repo, g.git, args...); err != nil {
		return nil, fmt.Errorf("failed to create worktree: %w", err)
	}
	return g.describe(ctx, wtPath, branch)
}

func (g *Git) branchExists(ctx context.Context, repo, branch string) bool {
	_, err := g.run(ctx, repo, g.git, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

func (g *Git) describe(ctx context.Context, wtPath, branch string) (*Worktree, error) {
	head, err := g.run(ctx, wtPath, g.git, "rev-parse", "HEAD")
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD commit: %w", err)
	}
	return &Worktree{Path: wtPath, Branch: branch, Head: head}, nil
}

// CommitAll stages every change in dir and commits it.
// Returns false without error when there is nothing to commit.
func (g *Git) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if _, err := g.run(ctx, dir, g.git, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}
	status, err := g.run(ctx, dir, g.git, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}
	if status == "" {
		return false, nil
	}
	if _, err := g.run(ctx, dir, g.git, "commit", "-m", message); err != nil {
		return false, fmt.Errorf("failed to commit: %w", err)
	}
	return true, nil
}

// Push pushes branch to the configured remote and sets upstream.
func (g *Git) Push(ctx context.Context, dir, branch string) error {
	if _, err := g.run(ctx, dir, g.git, "push", "-u", g.remote, branch); err != nil {
		return fmt.Errorf("failed to push %s: %w", branch, err)
	}
	return nil
}

// OpenPullRequest opens a pull request with the gh CLI and returns its URL.
func (g *Git) OpenPullRequest(ctx context.Context, dir, base, branch, title, body string) (string, error) {
	out, err := g.run(ctx, dir, g.gh, "pr", "create",
		"--base", base, "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return "", fmt.Errorf("failed to open pull request: %w", err)
	}
	// gh prints progress lines before the URL
	lines := strings.Split(out, "\n")
	return strings.TrimSpace(lines[len(lines)-1]), nil
}

// RemoveWorktree removes a worktree, retrying with --force, and optionally deletes its branch.
func (g *Git) RemoveWorktree(ctx context.Context, repo, wtPath, branch string, deleteBranch bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	if _, err := g.run(ctx, repo, g.git, "worktree", "remove", wtPath); err != nil {
		if _, forceErr := g.run(ctx, repo, g.git, "worktree", "remove", "--force", wtPath); forceErr != nil {
			errs = append(errs, fmt.Errorf("worktree remove failed: %w", forceErr))
		}
	}
	if deleteBranch && branch != "" {
		if _, err := g.run(ctx, repo, g.git, "branch", "-D", branch); err != nil {
			errs = append(errs, fmt.Errorf("branch delete failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// List returns all worktrees of the repository.
func (g *Git) List(ctx context.Context, repo string) ([]Worktree, error) {
	out, err := g.run(ctx, repo, g.git, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []Worktree {
	var (
		worktrees []Worktree
		current   Worktree
	)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.Path != "" {
				worktrees = append(worktrees, current)
				current = Worktree{}
			}
		case strings.HasPrefix(line, "worktree "):
			current.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			current.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}
	return worktrees
}

// Prune cleans up stale worktree metadata.
func (g *Git) Prune(ctx context.Context, repo string) error {
	if _, err := g.run(ctx, repo, g.git, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}
