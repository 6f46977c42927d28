package config

import (
	"github.com/aristath/taskforce/internal/backend"
	"github.com/aristath/taskforce/internal/routing"
	"github.com/aristath/taskforce/internal/vcs"
	"github.com/aristath/taskforce/internal/workflow"
)

// MemberConfig describes a worker that `taskforce init` seeds into the database.
// Members are separate from providers -- several members can share one provider.
type MemberConfig struct {
	Name         string   `json:"name" yaml:"name"`
	Role         string   `json:"role" yaml:"role"`                                       // architect, tech_lead, frontend_dev, backend_dev, qa
	Provider     string   `json:"provider" yaml:"provider"`                               // Key into Providers map
	Model        string   `json:"model,omitempty" yaml:"model,omitempty"`                 // Model override
	SystemPrompt string   `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Role-specific system prompt
	Tools        []string `json:"tools,omitempty" yaml:"tools,omitempty"`                 // Allowed tools for this member
}

// SchedulerConfig tunes retries, timeouts and intake.
type SchedulerConfig struct {
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
	RetryDelay     Duration `json:"retry_delay" yaml:"retry_delay"`
	SweepInterval  Duration `json:"sweep_interval" yaml:"sweep_interval"`
	TaskTimeout    Duration `json:"task_timeout" yaml:"task_timeout"`
	MaxQARounds    int      `json:"max_qa_rounds" yaml:"max_qa_rounds"`
	IntakeInterval Duration `json:"intake_interval" yaml:"intake_interval"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	MaxFailures uint32   `json:"max_failures" yaml:"max_failures"`
	OpenTimeout Duration `json:"open_timeout" yaml:"open_timeout"`
	MaxProbes   uint32   `json:"max_probes" yaml:"max_probes"`
}

// NATSConfig enables forwarding bus events to NATS. An empty URL disables it.
type NATSConfig struct {
	URL           string `json:"url,omitempty" yaml:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty" yaml:"subject_prefix,omitempty"`
}

// MetricsConfig enables the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// OrchestratorConfig is the top-level configuration.
type OrchestratorConfig struct {
	Database  string                             `json:"database" yaml:"database"`
	Providers map[string]backend.Config          `json:"providers" yaml:"providers"`
	Team      map[string]MemberConfig            `json:"team" yaml:"team"`
	Workflows map[string]workflow.PipelineConfig `json:"workflows" yaml:"workflows"`
	Scheduler SchedulerConfig                    `json:"scheduler" yaml:"scheduler"`
	Breaker   BreakerConfig                      `json:"breaker" yaml:"breaker"`
	Routing   routing.Config                     `json:"routing" yaml:"routing"`
	VCS       vcs.Config                         `json:"vcs" yaml:"vcs"`
	NATS      NATSConfig                         `json:"nats" yaml:"nats"`
	Metrics   MetricsConfig                      `json:"metrics" yaml:"metrics"`
	Log       LogConfig                          `json:"log" yaml:"log"`
}
