package backend

import (
	"context"
	"fmt"
	"strings"
)

// CommandEngine runs any CLI that reads a prompt from its last argument and
// prints the result on stdout. A non-zero exit status is an engine error.
// It covers agent CLIs without a structured output mode and scripted test workers.
type CommandEngine struct {
	binary  string
	args    []string
	procMgr *ProcessManager
}

// NewCommandEngine creates a command engine.
func NewCommandEngine(cfg Config, procMgr *ProcessManager) *CommandEngine {
	return &CommandEngine{binary: cfg.Command, args: cfg.Args, procMgr: procMgr}
}

// Execute runs the command once and returns its stdout as the result text.
func (e *CommandEngine) Execute(ctx context.Context, req Request) (Result, error) {
	args := append(append([]string(nil), e.args...), req.Prompt)
	cmd := newCommand(ctx, e.binary, args...)
	cmd.Dir = req.WorkDir
	if req.Model != "" {
		cmd.Env = append(cmd.Environ(), "TASKFORCE_MODEL="+req.Model)
	}

	var out strings.Builder
	_, err := streamCommand(ctx, cmd, e.procMgr, func(line string) {
		report(req, "text", line)
		out.WriteString(line)
		out.WriteByte('\n')
	})
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("%s cancelled: %w", e.binary, ctx.Err())
	}
	if err != nil {
		return Result{Text: out.String(), IsError: true, Errors: []string{err.Error()}}, nil
	}
	return Result{Text: strings.TrimRight(out.String(), "\n")}, nil
}
