package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/taskforce/internal/backend"
	"github.com/aristath/taskforce/internal/workflow"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	writeFile(t, path, string(data))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		global        map[string]any
		project       map[string]any
		expectMembers int
		checkMember   string
		expectModel   string
		expectRetries int
	}{
		{
			name:          "No config files - returns defaults",
			expectMembers: 5,
			expectRetries: 1,
		},
		{
			name: "Global only - adds new member",
			global: map[string]any{
				"team": map[string]any{
					"css": map[string]any{"name": "CSS", "role": "frontend_dev", "provider": "claude", "model": "haiku"},
				},
			},
			expectMembers: 6,
			checkMember:   "css",
			expectModel:   "haiku",
			expectRetries: 1,
		},
		{
			name: "Project only - overrides member and scalar",
			project: map[string]any{
				"team": map[string]any{
					"qa": map[string]any{"name": "QA", "role": "qa", "provider": "claude", "model": "opus"},
				},
				"scheduler": map[string]any{"max_retries": 3},
			},
			expectMembers: 5,
			checkMember:   "qa",
			expectModel:   "opus",
			expectRetries: 3,
		},
		{
			name: "Both - project wins over global",
			global: map[string]any{
				"team": map[string]any{
					"qa": map[string]any{"name": "QA", "role": "qa", "provider": "claude", "model": "sonnet"},
				},
				"scheduler": map[string]any{"max_retries": 2},
			},
			project: map[string]any{
				"team": map[string]any{
					"qa": map[string]any{"name": "QA", "role": "qa", "provider": "claude", "model": "opus"},
				},
				"scheduler": map[string]any{"max_retries": 0},
			},
			expectMembers: 5,
			checkMember:   "qa",
			expectModel:   "opus",
			expectRetries: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			globalPath := filepath.Join(dir, "global", "config.json")
			projectPath := filepath.Join(dir, "project", "config.json")
			if tt.global != nil {
				writeJSON(t, globalPath, tt.global)
			}
			if tt.project != nil {
				writeJSON(t, projectPath, tt.project)
			}

			cfg, err := Load(globalPath, projectPath)
			require.NoError(t, err)

			assert.Len(t, cfg.Team, tt.expectMembers)
			assert.Equal(t, tt.expectRetries, cfg.Scheduler.MaxRetries)
			if tt.checkMember != "" {
				assert.Equal(t, tt.expectModel, cfg.Team[tt.checkMember].Model)
			}
			// Untouched sections keep their defaults
			assert.Equal(t, 30*time.Minute, cfg.Scheduler.TaskTimeout.Std())
			assert.Contains(t, cfg.Workflows, "standard")
		})
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	projectPath := filepath.Join(dir, ".taskforce", "config.yaml")
	writeFile(t, projectPath, `
database: data/tasks.db
providers:
  local:
    type: command
    command: ./agent.sh
    args: ["--fast"]
workflows:
  docs:
    steps:
      - role: tech_lead
scheduler:
  retry_delay: 5s
  task_timeout: 1h
routing:
  categories:
    docs: [tech_lead, qa]
vcs:
  remote: upstream
nats:
  url: nats://localhost:4222
metrics:
  addr: ":9090"
`)

	cfg, err := Load("", projectPath)
	require.NoError(t, err)

	assert.Equal(t, "data/tasks.db", cfg.Database)
	assert.Equal(t, backend.Config{Type: "command", Command: "./agent.sh", Args: []string{"--fast"}}, cfg.Providers["local"])
	assert.Contains(t, cfg.Providers, "claude")
	assert.Equal(t, []workflow.PipelineStep{{Role: "tech_lead"}}, cfg.Workflows["docs"].Steps)
	assert.Contains(t, cfg.Workflows, "standard")
	assert.Equal(t, 5*time.Second, cfg.Scheduler.RetryDelay.Std())
	assert.Equal(t, time.Hour, cfg.Scheduler.TaskTimeout.Std())
	assert.Equal(t, 60*time.Second, cfg.Scheduler.SweepInterval.Std())
	assert.Equal(t, []string{"tech_lead", "qa"}, cfg.Routing.Categories["docs"])
	assert.Equal(t, "upstream", cfg.VCS.Remote)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "taskforce", cfg.NATS.SubjectPrefix)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"malformed JSON", "config.json", `{"team": `, "parsing"},
		{"malformed YAML", "config.yaml", "team: [", "parsing"},
		{"bad duration", "config.json", `{"scheduler": {"retry_delay": "soon"}}`, "invalid duration"},
		{"unknown provider type", "config.json", `{"providers": {"x": {"type": "telepathy"}}}`, `unknown type "telepathy"`},
		{"command without binary", "config.json", `{"providers": {"x": {"type": "command"}}}`, "requires a command"},
		{"member with unknown provider", "config.json",
			`{"team": {"x": {"name": "X", "role": "qa", "provider": "nope"}}}`, `unknown provider "nope"`},
		{"workflow with unknown role", "config.yaml", "workflows:\n  bad:\n    steps:\n      - role: wizard\n", `unknown role "wizard"`},
		{"empty workflow", "config.json", `{"workflows": {"empty": {"steps": []}}}`, "no steps"},
		{"negative retries", "config.json", `{"scheduler": {"max_retries": -1}}`, "max_retries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			_, err := Load("", path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSkipsMissingAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "config.json")
	writeFile(t, empty, "  \n")

	cfg, err := Load(filepath.Join(dir, "missing", "config.json"), empty)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestFindFile(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, "config.json"), FindFile(dir))

	writeFile(t, filepath.Join(dir, "config.yml"), "log:\n  level: debug\n")
	assert.Equal(t, filepath.Join(dir, "config.yml"), FindFile(dir))

	writeFile(t, filepath.Join(dir, "config.json"), "{}")
	assert.Equal(t, filepath.Join(dir, "config.json"), FindFile(dir))
}

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestDurationJSON(t *testing.T) {
	var s SchedulerConfig
	require.NoError(t, json.Unmarshal([]byte(`{"retry_delay": "1m30s", "task_timeout": 1000000000}`), &s))
	assert.Equal(t, 90*time.Second, s.RetryDelay.Std())
	assert.Equal(t, time.Second, s.TaskTimeout.Std())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"retry_delay":"1m30s"`)

	assert.Error(t, json.Unmarshal([]byte(`{"retry_delay": true}`), &s))
}

func TestLogConfigLogger(t *testing.T) {
	var buf jsonBuffer
	logger := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "task_id", "t1")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.data, &line))
	assert.Equal(t, "shown", line["msg"])
	assert.Equal(t, "t1", line["task_id"])
}

type jsonBuffer struct{ data []byte }

func (b *jsonBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
