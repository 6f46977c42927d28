package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/taskforce/internal/model"
)

// DirName is the per-user and per-project configuration directory.
const DirName = ".taskforce"

// fileNames are tried in order when looking for a config file in a directory.
var fileNames = []string{"config.json", "config.yaml", "config.yml"}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Maps merge per key; scalars and slices present in a file override.
// Missing files are not errors; malformed files return an error.
func Load(globalPath, projectPath string) (*OrchestratorConfig, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPaths returns the conventional global and project config files.
// Global: ~/.taskforce/config.{json,yaml,yml}
// Project: .taskforce/config.{json,yaml,yml} (relative to cwd)
func DefaultPaths() (global, project string, err error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("getting home directory: %w", err)
	}
	return FindFile(filepath.Join(homeDir, DirName)), FindFile(DirName), nil
}

// LoadDefault loads configuration from the conventional paths.
func LoadDefault() (*OrchestratorConfig, error) {
	global, project, err := DefaultPaths()
	if err != nil {
		return nil, err
	}
	return Load(global, project)
}

// FindFile returns the first existing config file in dir, or dir/config.json when none exists.
func FindFile(dir string) string {
	for _, name := range fileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, fileNames[0])
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// mergeConfigFile decodes a config file on top of base.
// Missing files are silently skipped.
func mergeConfigFile(base *OrchestratorConfig, path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, base)
	} else {
		err = json.Unmarshal(data, base)
	}
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate reports every inconsistency in the configuration.
func (c *OrchestratorConfig) Validate() error {
	var errs []error

	for name, p := range c.Providers {
		switch p.Type {
		case "claude":
		case "command":
			if p.Command == "" {
				errs = append(errs, fmt.Errorf("provider %q: command engine requires a command", name))
			}
		default:
			errs = append(errs, fmt.Errorf("provider %q: unknown type %q", name, p.Type))
		}
	}

	for key, m := range c.Team {
		if _, ok := c.Providers[m.Provider]; !ok {
			errs = append(errs, fmt.Errorf("team member %q: unknown provider %q", key, m.Provider))
		}
		if !knownRole(m.Role) {
			errs = append(errs, fmt.Errorf("team member %q: unknown role %q", key, m.Role))
		}
	}

	for name, wf := range c.Workflows {
		if len(wf.Steps) == 0 {
			errs = append(errs, fmt.Errorf("workflow %q: no steps", name))
		}
		for i, step := range wf.Steps {
			if !knownRole(step.Role) {
				errs = append(errs, fmt.Errorf("workflow %q step %d: unknown role %q", name, i+1, step.Role))
			}
		}
	}

	s := c.Scheduler
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("scheduler: max_retries must not be negative"))
	}
	if s.MaxQARounds < 0 {
		errs = append(errs, fmt.Errorf("scheduler: max_qa_rounds must not be negative"))
	}
	for name, d := range map[string]Duration{
		"retry_delay": s.RetryDelay, "sweep_interval": s.SweepInterval,
		"task_timeout": s.TaskTimeout, "intake_interval": s.IntakeInterval,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("scheduler: %s must not be negative", name))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %w", errors.Join(errs...))
}

func knownRole(s string) bool {
	r := model.ParseRole(s)
	return r != model.RoleOther || strings.EqualFold(strings.TrimSpace(s), string(model.RoleOther))
}
