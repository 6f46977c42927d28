// Package main is the entry point for the taskforce CLI
package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforce/internal/config"
)

// env is the state every command shares once the root command has resolved
// the project directory and loaded the configuration.
type env struct {
	dir         string // Project root (the directory holding .taskforce)
	globalPath  string
	projectPath string
	cfg         *config.OrchestratorConfig
	logger      *slog.Logger
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	e := &env{}
	var dirFlag string

	rootCmd := &cobra.Command{
		Use:   "taskforce",
		Short: "Run a team of AI agents through tasks and a review workflow",
		Long: `Taskforce schedules development tasks onto a team of AI workers
(tech lead, architect, developers and QA), tracks every status change in a
SQLite database and drives each task through triage, planning, development,
QA review and fixes.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load(cmd, dirFlag)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "Project directory (default: nearest directory with .taskforce, else the working directory)")

	rootCmd.AddCommand(
		initCmd(e),
		projectCmd(e),
		workerCmd(e),
		taskCmd(e),
		statusCmd(e),
		runCmd(e),
		serveCmd(e),
		worktreeCmd(e),
	)
	return rootCmd
}

// load resolves the project directory, reads global and project configuration
// and builds the logger.
func (e *env) load(cmd *cobra.Command, dirFlag string) error {
	dir := dirFlag
	if dir == "" {
		found, err := findProjectDir()
		if err != nil {
			if dir, err = os.Getwd(); err != nil {
				return err
			}
		} else {
			dir = found
		}
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving project directory: %w", err)
	}
	e.dir = abs

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("getting home directory: %w", err)
	}
	e.globalPath = config.FindFile(filepath.Join(homeDir, config.DirName))
	e.projectPath = config.FindFile(filepath.Join(e.dir, config.DirName))

	cfg, err := config.Load(e.globalPath, e.projectPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	e.cfg = cfg
	e.logger = cfg.Log.Logger(cmd.ErrOrStderr())
	return nil
}

// dbPath returns the database location; relative paths are anchored at the project root.
func (e *env) dbPath() string {
	if filepath.IsAbs(e.cfg.Database) {
		return e.cfg.Database
	}
	return filepath.Join(e.dir, e.cfg.Database)
}

// requireProject fails unless the project directory has been initialized.
func (e *env) requireProject() error {
	if _, err := os.Stat(filepath.Join(e.dir, config.DirName)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("not a taskforce project: %s (run `taskforce init`)", e.dir)
		}
		return err
	}
	return nil
}

// findProjectDir locates the taskforce project root by searching upward.
// The home directory is skipped since its .taskforce holds the global config.
func findProjectDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	home, _ := os.UserHomeDir()

	for {
		if dir != home {
			if _, err := os.Stat(filepath.Join(dir, config.DirName)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a taskforce project (or any parent up to root)")
		}
		dir = parent
	}
}
