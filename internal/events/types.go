package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants. Subscribers key on these; payloads are the typed events below.
const (
	TopicTaskStatus        = "task:status"
	TopicTaskQueued        = "task:queued"
	TopicTaskOutput        = "task:output"
	TopicWorkflowPhase     = "workflow:phase"
	TopicAgentStatus       = "agent:status"
	TopicAgentNotification = "agent:notification"
)

// Event type constants
const (
	EventTypeTaskStatus        = "task.status"
	EventTypeTaskQueued        = "task.queued"
	EventTypeTaskOutput        = "task.output"
	EventTypeWorkflowPhase     = "workflow.phase"
	EventTypeAgentStatus       = "agent.status"
	EventTypeAgentNotification = "agent.notification"
)

// Agent states carried by AgentStatusEvent.
const (
	AgentBusy = "busy"
	AgentIdle = "idle"
)

// Notification levels carried by AgentNotificationEvent.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// TaskStatusEvent is published after a task status transition is persisted.
type TaskStatusEvent struct {
	ID        string    `json:"task_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Note      string    `json:"note,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskStatusEvent) EventType() string { return EventTypeTaskStatus }
func (e TaskStatusEvent) TaskID() string    { return e.ID }

// TaskQueuedEvent is published when an assignment targets a busy worker.
type TaskQueuedEvent struct {
	ID        string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	Position  int       `json:"position"` // 1-based
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskOutputEvent carries execution progress (tool use, partial text).
type TaskOutputEvent struct {
	ID        string    `json:"task_id"`
	WorkerID  string    `json:"worker_id"`
	Kind      string    `json:"kind"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskID() string    { return e.ID }

// WorkflowPhaseEvent is published when a task enters a new workflow phase.
type WorkflowPhaseEvent struct {
	ID        string    `json:"task_id"`
	Phase     string    `json:"phase"`
	WorkerID  string    `json:"worker_id,omitempty"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

func (e WorkflowPhaseEvent) EventType() string { return EventTypeWorkflowPhase }
func (e WorkflowPhaseEvent) TaskID() string    { return e.ID }

// AgentStatusEvent is published when a worker becomes busy or idle.
type AgentStatusEvent struct {
	WorkerID  string    `json:"worker_id"`
	Status    string    `json:"status"`
	Task      string    `json:"task_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e AgentStatusEvent) EventType() string { return EventTypeAgentStatus }
func (e AgentStatusEvent) TaskID() string    { return e.Task }

// AgentNotificationEvent is a human-readable notice about a worker's task.
type AgentNotificationEvent struct {
	WorkerID  string    `json:"worker_id,omitempty"`
	Task      string    `json:"task_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

func (e AgentNotificationEvent) EventType() string { return EventTypeAgentNotification }
func (e AgentNotificationEvent) TaskID() string    { return e.Task }
