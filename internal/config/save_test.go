package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.json")
	cfg := DefaultConfig()
	cfg.Metrics.Addr = ":9100"

	require.NoError(t, Save(cfg, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw), "file must contain valid JSON")
	assert.Equal(t, "2s", raw["scheduler"].(map[string]any)["retry_delay"])
}

func TestSaveRoundTrip(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			cfg := DefaultConfig()
			cfg.Scheduler.TaskTimeout = Duration(45 * time.Minute)
			cfg.Team["docs"] = MemberConfig{Name: "Docs", Role: "tech_lead", Provider: "claude"}

			require.NoError(t, Save(cfg, path))
			loaded, err := Load("", path)
			require.NoError(t, err)

			assert.Equal(t, 45*time.Minute, loaded.Scheduler.TaskTimeout.Std())
			assert.Equal(t, "Docs", loaded.Team["docs"].Name)
			assert.Equal(t, cfg.Workflows, loaded.Workflows)
		})
	}
}

func TestSaveYAMLFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, Save(DefaultConfig(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))
	assert.Equal(t, "30m0s", raw["scheduler"].(map[string]any)["task_timeout"])
}
