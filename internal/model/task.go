package model

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusCreated          Status = "created"
	StatusAssigned         Status = "assigned" // Bound to a worker, waiting to run (or queued)
	StatusInProgress       Status = "in_progress"
	StatusReview           Status = "review" // Waiting for human review
	StatusDone             Status = "done"
	StatusFailed           Status = "failed"
	StatusChangesRequested Status = "changes_requested"
	StatusBlocked          Status = "blocked"
)

// Priority orders queued work. Higher rank runs first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns the ordinal of the priority. Unknown values rank as medium.
func (p Priority) Rank() int {
	switch Priority(strings.ToLower(string(p))) {
	case PriorityLow:
		return 1
	case PriorityHigh:
		return 3
	default:
		return 2
	}
}

// Task is a unit of work moving through statuses and, optionally, workflow phases.
type Task struct {
	ID               string
	ProjectID        string
	Title            string
	Description      string // Append-only narrative; workflow sections are added over time
	ParsedSpec       string // Latest actionable plan
	Status           Status
	Priority         Priority
	Category         string
	AssignedWorkerID string
	ParentID         string
	Branch           string
	WorkflowID       string // Set when an external custom workflow owns completion
	Result           string
	Cost             float64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CompletedAt      *time.Time
}

// Project groups tasks and points at the working directory agents operate in.
type Project struct {
	ID         string
	Name       string
	Path       string
	BaseBranch string
	CreatedAt  time.Time
}

// AuditEntry is one immutable row of a task's history.
type AuditEntry struct {
	ID         string
	TaskID     string
	WorkerID   string
	Action     string
	FromStatus Status
	ToStatus   Status
	Detail     string
	CreatedAt  time.Time
}

// Audit actions.
const (
	ActionStatusChange = "status_change"
	ActionAssigned     = "assigned"
	ActionQueued       = "queued"
	ActionAgentError   = "agent_error"
	ActionCompleted    = "completed"
	ActionCancelled    = "cancelled"
	ActionRetry        = "retry"
	ActionEscalated    = "escalated"
	ActionTimeout      = "timeout"
	ActionWorkflow     = "workflow"
)

// Integration holds per-project settings for an external side-effect provider.
type Integration struct {
	ProjectID string
	Type      string
	Enabled   bool
	Settings  map[string]string
}

// IntegrationGit is the integration type consulted for version-control side effects.
const IntegrationGit = "git"

// Setting returns a settings value or def when unset.
func (i *Integration) Setting(key, def string) string {
	if i == nil || i.Settings == nil {
		return def
	}
	if v, ok := i.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// Flag reports whether a boolean setting is enabled.
func (i *Integration) Flag(key string) bool {
	switch strings.ToLower(i.Setting(key, "")) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
