package backend

import (
	"context"
	"fmt"
)

// Engine turns a prompt into a textual result. Implementations must honor ctx
// cancellation; the scheduler cancels ctx to stop a running task.
type Engine interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Progress is a streaming update emitted while an execution runs.
type Progress struct {
	Kind string // "tool_use", "text", or "stderr"
	Text string
}

// Request is one execution.
type Request struct {
	Prompt       string
	WorkDir      string
	Model        string
	SystemPrompt string
	Tools        []string
	OnProgress   func(Progress) // Optional
}

// Result is the final outcome of an execution.
// IsError is set when the engine ran but reported failure.
type Result struct {
	Text      string
	Cost      float64
	IsError   bool
	Errors    []string
	SessionID string
}

// Config defines the configuration for an engine provider.
type Config struct {
	Type    string   `json:"type" yaml:"type"`                           // "claude" or "command"
	Command string   `json:"command,omitempty" yaml:"command,omitempty"` // Binary; defaults per type
	Args    []string `json:"args,omitempty" yaml:"args,omitempty"`       // Extra arguments for "command"
	Model   string   `json:"model,omitempty" yaml:"model,omitempty"`     // Default model when the worker sets none
}

// FuncEngine adapts a function to the Engine interface.
type FuncEngine func(ctx context.Context, req Request) (Result, error)

// Execute calls f.
func (f FuncEngine) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// New creates an engine based on the provided configuration.
// This factory function switches on cfg.Type and returns the appropriate adapter.
func New(cfg Config, pm *ProcessManager) (Engine, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeEngine(cfg, pm), nil
	case "command":
		if cfg.Command == "" {
			return nil, fmt.Errorf("command engine requires a command")
		}
		return NewCommandEngine(cfg, pm), nil
	default:
		return nil, fmt.Errorf("unknown engine type: %s", cfg.Type)
	}
}

func report(req Request, kind, text string) {
	if req.OnProgress != nil && text != "" {
		req.OnProgress(Progress{Kind: kind, Text: text})
	}
}
