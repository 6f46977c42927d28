package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/aristath/taskforce/internal/model"
)

// PipelineStep is one role in a custom pipeline.
type PipelineStep struct {
	Role string `json:"role" yaml:"role"`
}

// PipelineConfig is a fixed sequence of roles a task passes through
// (e.g. backend dev -> qa). Each step's output is appended to the task.
type PipelineConfig struct {
	Steps []PipelineStep `json:"steps" yaml:"steps"`
}

// Pipelines runs tasks whose WorkflowID names a configured pipeline.
// Completion of one step assigns the next step's role; the last step sends the task to review.
type Pipelines struct {
	store    Store
	tracker  Tracker
	assigner Assigner
	logger   *slog.Logger

	mu   sync.Mutex
	defs map[string]PipelineConfig
	pos  map[string]int // task ID -> index of the step running now
}

// NewPipelines creates a pipeline runner over the given definitions.
func NewPipelines(defs map[string]PipelineConfig, store Store, tracker Tracker, assigner Assigner, logger *slog.Logger) *Pipelines {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipelines{
		store:    store,
		tracker:  tracker,
		assigner: assigner,
		logger:   logger,
		pos:      make(map[string]int),
	}
	p.Replace(defs)
	return p
}

// Replace swaps the pipeline definitions. Running tasks keep their step index.
func (p *Pipelines) Replace(defs map[string]PipelineConfig) {
	cp := make(map[string]PipelineConfig, len(defs))
	for k, v := range defs {
		cp[k] = v
	}
	p.mu.Lock()
	p.defs = cp
	p.mu.Unlock()
}

// Names returns the configured pipeline names, sorted.
func (p *Pipelines) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.defs))
	for k := range p.defs {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func (p *Pipelines) lookup(name string) (PipelineConfig, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	def, ok := p.defs[name]
	return def, ok && len(def.Steps) > 0
}

// Start assigns the first step of the task's pipeline.
func (p *Pipelines) Start(ctx context.Context, taskID string) error {
	task, err := p.store.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	def, ok := p.lookup(task.WorkflowID)
	if !ok {
		return fmt.Errorf("task %s: unknown pipeline %q", taskID, task.WorkflowID)
	}
	return p.assignStep(ctx, task, def, 0)
}

// Complete handles a finished step. It returns false when the task's pipeline is
// unknown, so the caller falls back to the default completion path.
func (p *Pipelines) Complete(ctx context.Context, task *model.Task, worker *model.Worker, output string) bool {
	def, ok := p.lookup(task.WorkflowID)
	if !ok {
		p.logger.Warn("Task references an unknown pipeline", "task_id", task.ID, "workflow_id", task.WorkflowID)
		return false
	}

	idx := p.currentStep(task.ID, def, worker.Role)
	header := fmt.Sprintf("%s Report (step %d/%d)", worker.Role, idx+1, len(def.Steps))
	if err := p.store.AppendDescription(ctx, task.ID, header, output, false); err != nil {
		p.logger.Warn("Failed to append pipeline section", "task_id", task.ID, "error", err)
	}

	next := idx + 1
	if next >= len(def.Steps) {
		p.mu.Lock()
		delete(p.pos, task.ID)
		p.mu.Unlock()
		p.tracker.Transition(ctx, task.ID, model.StatusReview, worker.ID, fmt.Sprintf("Pipeline %s finished", task.WorkflowID))
		return true
	}

	p.tracker.Transition(ctx, task.ID, model.StatusAssigned, worker.ID, fmt.Sprintf("Pipeline %s: step %d/%d", task.WorkflowID, next+1, len(def.Steps)))
	if err := p.assignStep(ctx, task, def, next); err != nil {
		p.logger.Error("Pipeline failed", "task_id", task.ID, "error", err)
		p.tracker.Transition(ctx, task.ID, model.StatusFailed, worker.ID, err.Error())
	}
	return true
}

// currentStep returns the index of the step that just ran. After a restart the
// index is recovered from the worker's role.
func (p *Pipelines) currentStep(taskID string, def PipelineConfig, role model.Role) int {
	p.mu.Lock()
	idx, ok := p.pos[taskID]
	p.mu.Unlock()
	if ok {
		return idx
	}
	for i, s := range def.Steps {
		if model.ParseRole(s.Role) == role {
			return i
		}
	}
	return 0
}

func (p *Pipelines) assignStep(ctx context.Context, task *model.Task, def PipelineConfig, idx int) error {
	role := model.ParseRole(def.Steps[idx].Role)
	w := pickWorker(ctx, p.store, p.assigner, p.logger, role)
	if w == nil {
		p.mu.Lock()
		delete(p.pos, task.ID)
		p.mu.Unlock()
		return fmt.Errorf("no active %s worker for pipeline %s step %d", role, task.WorkflowID, idx+1)
	}

	p.mu.Lock()
	p.pos[task.ID] = idx
	p.mu.Unlock()

	if err := p.assigner.AssignTask(ctx, task.ID, w.ID); err != nil {
		p.mu.Lock()
		delete(p.pos, task.ID)
		p.mu.Unlock()
		return fmt.Errorf("assign pipeline step %d: %w", idx+1, err)
	}
	return nil
}
