package workflow

import (
	"time"
)

// Phase is a position in the multi-role pipeline. Several phases share a task status.
type Phase string

const (
	PhaseTechLeadTriage    Phase = "tech_lead_triage"
	PhaseArchitectPlanning Phase = "architect_planning"
	PhaseDevExecution      Phase = "dev_execution"
	PhaseQAReview          Phase = "qa_review"
	PhaseDevFix            Phase = "dev_fix"
	PhaseTechLeadFixPlan   Phase = "tech_lead_fix_plan"
	PhaseDevFixWithPlan    Phase = "dev_fix_with_plan"
	PhaseArchitectFixPlan  Phase = "architect_fix_plan"
	PhaseTechLeadRelayPlan Phase = "tech_lead_relay_plan"

	// Terminal phases
	PhaseApproved  Phase = "approved"  // QA approved the work
	PhaseCompleted Phase = "completed" // No QA worker configured
	PhaseFailed    Phase = "failed"    // Dead end; the task was marked failed
)

// phaseTransitions is the pipeline's edge table. Handlers may only return a
// next phase listed here; PhaseFailed is reachable from every phase.
var phaseTransitions = map[Phase][]Phase{
	PhaseTechLeadTriage:    {PhaseArchitectPlanning, PhaseDevExecution},
	PhaseArchitectPlanning: {PhaseDevExecution},
	PhaseDevExecution:      {PhaseQAReview, PhaseCompleted},
	PhaseQAReview:          {PhaseApproved, PhaseDevFix, PhaseTechLeadFixPlan},
	PhaseDevFix:            {PhaseQAReview, PhaseTechLeadFixPlan, PhaseCompleted},
	PhaseTechLeadFixPlan:   {PhaseDevFixWithPlan, PhaseArchitectFixPlan},
	PhaseDevFixWithPlan:    {PhaseQAReview, PhaseArchitectFixPlan, PhaseCompleted},
	PhaseArchitectFixPlan:  {PhaseTechLeadRelayPlan},
	PhaseTechLeadRelayPlan: {PhaseDevFixWithPlan},
}

// IsTerminal reports whether the phase ends the workflow.
func (p Phase) IsTerminal() bool {
	return p == PhaseApproved || p == PhaseCompleted || p == PhaseFailed
}

// CanAdvance reports whether the pipeline allows moving from one phase to another.
func CanAdvance(from, to Phase) bool {
	if to == PhaseFailed {
		_, known := phaseTransitions[from]
		return known
	}
	for _, p := range phaseTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

// State is the per-task workflow record. It exists only while the task is in the pipeline.
type State struct {
	TaskID      string
	Phase       Phase
	TechLeadID  string
	ArchitectID string
	Plan        string // Latest actionable plan
	DeveloperID string
	QARetries   int
	Escalations int  // Times the task was handed back to the tech lead
	FixPlanned  bool // The architect already produced a fix plan
	UpdatedAt   time.Time

	version uint64
}

// phaseInstructions tell the worker running a phase which decision marker to end with.
var phaseInstructions = map[Phase]string{
	PhaseTechLeadTriage: "Triage this task. If a developer can implement it directly, write the " +
		"implementation plan and end your answer with a line containing only " + MarkerSimpleTask + ". " +
		"If it needs an architect, write your analysis and end with a line containing only " + MarkerNeedsArchitect + ".",
	PhaseArchitectPlanning: "Produce a detailed implementation plan a developer can follow. " +
		"Name the developer role it targets (frontend dev or backend dev).",
	PhaseDevExecution: "Implement the plan in the task description. Summarise what you changed.",
	PhaseQAReview: "Review the implementation against the task description. End your answer with a line " +
		"containing " + MarkerQAApproved + " or " + MarkerQARejected + ": <reason>.",
	PhaseDevFix: "Address the latest QA feedback in the task description and summarise the fix. " +
		"If you cannot resolve it, end your answer with a line containing " + MarkerDevNeedsHelp + ".",
	PhaseTechLeadFixPlan: "The developer could not resolve QA feedback. Write a concrete fix plan. " +
		"If the problem needs architectural changes, end your answer with a line containing " + MarkerNeedsArchitect + ".",
	PhaseDevFixWithPlan: "Apply the latest fix plan in the task description and summarise the fix. " +
		"If you cannot apply it, end your answer with a line containing " + MarkerDevNeedsHelp + ".",
	PhaseArchitectFixPlan:  "Fix attempts have failed. Design a fix plan that resolves the root cause.",
	PhaseTechLeadRelayPlan: "Translate the architect's fix plan into concrete steps for the developer.",
}

// Instructions returns the marker instructions for a phase, or "" for unknown phases.
func (p Phase) Instructions() string {
	return phaseInstructions[p]
}
