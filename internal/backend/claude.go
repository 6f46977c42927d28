package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ClaudeEngine runs tasks through the Claude Code CLI in stream-json mode.
// Each execution is a fresh subprocess.
type ClaudeEngine struct {
	binary  string
	model   string
	procMgr *ProcessManager
}

// streamLine is the subset of stream-json events the engine reads.
type streamLine struct {
	Type      string  `json:"type"`
	Subtype   string  `json:"subtype"`
	IsError   bool    `json:"is_error"`
	Result    string  `json:"result"`
	TotalCost float64 `json:"total_cost_usd"`
	SessionID string  `json:"session_id"`
	Message   struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

// NewClaudeEngine creates a Claude Code engine.
// The ProcessManager is optional - if nil, subprocesses won't be tracked.
func NewClaudeEngine(cfg Config, procMgr *ProcessManager) *ClaudeEngine {
	binary := cfg.Command
	if binary == "" {
		binary = "claude"
	}
	return &ClaudeEngine{binary: binary, model: cfg.Model, procMgr: procMgr}
}

// Execute runs one prompt and returns the final result line.
func (e *ClaudeEngine) Execute(ctx context.Context, req Request) (Result, error) {
	cmd := newCommand(ctx, e.binary, e.buildArgs(req)...)
	cmd.Dir = req.WorkDir

	var (
		res      Result
		gotFinal bool
		lastText string
	)
	stderr, err := streamCommand(ctx, cmd, e.procMgr, func(line string) {
		final, ok := parseStreamLine(line, req)
		if !ok {
			return
		}
		if final != nil {
			res = *final
			gotFinal = true
			return
		}
		if t := assistantText(line); t != "" {
			lastText = t
		}
	})
	if err != nil {
		return Result{IsError: true, Errors: []string{err.Error()}}, fmt.Errorf("claude execution failed: %w", err)
	}

	if !gotFinal {
		msg := "claude exited without a result event"
		if s := strings.TrimSpace(string(stderr)); s != "" {
			msg += ": " + s
		}
		return Result{Text: lastText, IsError: true, Errors: []string{msg}}, nil
	}
	return res, nil
}

// buildArgs constructs the command-line arguments for the claude CLI.
func (e *ClaudeEngine) buildArgs(req Request) []string {
	args := []string{"-p", req.Prompt, "--output-format", "stream-json", "--verbose"}

	model := req.Model
	if model == "" {
		model = e.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}

	if len(req.Tools) > 0 {
		args = append(args, "--allowedTools", strings.Join(req.Tools, ","))
	}

	return args
}

// parseStreamLine decodes one stream-json line. It reports tool use through
// req.OnProgress and returns the final result when the line is the result event.
// ok is false for lines that are not JSON.
func parseStreamLine(line string, req Request) (final *Result, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] != '{' {
		return nil, false
	}

	var sl streamLine
	if err := json.Unmarshal([]byte(line), &sl); err != nil {
		return nil, false
	}

	switch sl.Type {
	case "assistant":
		for _, c := range sl.Message.Content {
			switch c.Type {
			case "tool_use":
				report(req, "tool_use", toolSummary(c.Name, c.Input))
			case "text":
				report(req, "text", c.Text)
			}
		}
	case "result":
		r := &Result{
			Text:      sl.Result,
			Cost:      sl.TotalCost,
			IsError:   sl.IsError || (sl.Subtype != "" && sl.Subtype != "success"),
			SessionID: sl.SessionID,
		}
		if r.IsError {
			reason := sl.Subtype
			if sl.Result != "" {
				reason = sl.Result
			}
			r.Errors = []string{reason}
		}
		return r, true
	}
	return nil, true
}

// assistantText extracts the text blocks of an assistant event.
func assistantText(line string) string {
	var sl streamLine
	if err := json.Unmarshal([]byte(line), &sl); err != nil || sl.Type != "assistant" {
		return ""
	}
	var b strings.Builder
	for _, c := range sl.Message.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

// toolSummary renders a one-line description of a tool call.
func toolSummary(name string, input json.RawMessage) string {
	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil {
		return name
	}
	for _, key := range []string{"file_path", "command", "pattern", "path", "url"} {
		if v, ok := fields[key].(string); ok && v != "" {
			if len(v) > 80 {
				v = v[:77] + "..."
			}
			return fmt.Sprintf("%s %s", name, v)
		}
	}
	return name
}
