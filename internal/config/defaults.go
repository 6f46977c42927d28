package config

import (
	"time"

	"github.com/aristath/taskforce/internal/backend"
	"github.com/aristath/taskforce/internal/workflow"
)

// DefaultConfig returns the default configuration with built-in providers, team and pipelines.
func DefaultConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		Database: ".taskforce/taskforce.db",
		Providers: map[string]backend.Config{
			"claude": {
				Type:    "claude",
				Command: "claude",
			},
		},
		Team: map[string]MemberConfig{
			"architect": {
				Name:         "Architect",
				Role:         "architect",
				Provider:     "claude",
				SystemPrompt: "You design system structure and write fix plans for hard problems.",
			},
			"tech-lead": {
				Name:         "Tech Lead",
				Role:         "tech_lead",
				Provider:     "claude",
				SystemPrompt: "You triage incoming work, plan it, and break large tasks into subtasks.",
			},
			"frontend": {
				Name:         "Frontend Developer",
				Role:         "frontend_dev",
				Provider:     "claude",
				SystemPrompt: "You implement user interfaces and client-side code.",
			},
			"backend": {
				Name:         "Backend Developer",
				Role:         "backend_dev",
				Provider:     "claude",
				SystemPrompt: "You implement services, APIs and data access code.",
			},
			"qa": {
				Name:         "QA Engineer",
				Role:         "qa",
				Provider:     "claude",
				SystemPrompt: "You review changes, run tests and report defects.",
			},
		},
		Workflows: map[string]workflow.PipelineConfig{
			"standard": {
				Steps: []workflow.PipelineStep{
					{Role: "backend_dev"},
					{Role: "qa"},
				},
			},
			"frontend": {
				Steps: []workflow.PipelineStep{
					{Role: "frontend_dev"},
					{Role: "qa"},
				},
			},
		},
		Scheduler: SchedulerConfig{
			MaxRetries:     1,
			RetryDelay:     Duration(2 * time.Second),
			SweepInterval:  Duration(60 * time.Second),
			TaskTimeout:    Duration(30 * time.Minute),
			MaxQARounds:    3,
			IntakeInterval: Duration(5 * time.Second),
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenTimeout: Duration(30 * time.Second),
			MaxProbes:   3,
		},
		NATS: NATSConfig{SubjectPrefix: "taskforce"},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}
