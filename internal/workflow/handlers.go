package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/taskforce/internal/model"
)

// step is what a phase handler decides: the next phase, who runs it, and the
// text to append to the task.
type step struct {
	next        Phase
	assignee    string
	header      string
	body        string
	refreshSpec bool
	detail      string
	failReason  string
}

type handler func(ctx context.Context, st *State, task *model.Task, output string) step

func fail(reason string) step {
	return step{next: PhaseFailed, failReason: reason}
}

func (e *Engine) onTriage(ctx context.Context, st *State, task *model.Task, output string) step {
	d := ParseTriageDecision(output)
	if d.Defaulted {
		e.logger.Warn("Triage output has no decision marker, escalating to architect", "task_id", task.ID)
	}

	if d.NeedsArchitect {
		arch := e.architect(ctx, st)
		if arch == nil {
			return fail("Tech lead requested an architect, but no active architect is configured")
		}
		return step{
			next:     PhaseArchitectPlanning,
			assignee: arch.ID,
			header:   "Tech Lead Analysis",
			body:     nonEmpty(d.Analysis, output),
			detail:   fmt.Sprintf("Complex task, architect %s is planning", arch.Name),
		}
	}

	plan := nonEmpty(d.Plan, output)
	st.Plan = plan
	dev := e.selectDeveloper(ctx, plan)
	if dev == nil {
		return fail("No active developer available to implement the plan")
	}
	st.DeveloperID = dev.ID
	return step{
		next:        PhaseDevExecution,
		assignee:    dev.ID,
		header:      "Implementation Plan",
		body:        plan,
		refreshSpec: true,
		detail:      fmt.Sprintf("Simple task, %s is implementing", dev.Name),
	}
}

func (e *Engine) onArchitectPlanning(ctx context.Context, st *State, task *model.Task, output string) step {
	plan := strings.TrimSpace(output)
	st.Plan = plan
	dev := e.selectDeveloper(ctx, plan)
	if dev == nil {
		return fail("No active developer available to implement the architect's plan")
	}
	st.DeveloperID = dev.ID
	return step{
		next:        PhaseDevExecution,
		assignee:    dev.ID,
		header:      "Architect Plan",
		body:        plan,
		refreshSpec: true,
		detail:      fmt.Sprintf("Plan ready, %s is implementing", dev.Name),
	}
}

func (e *Engine) onDevExecution(ctx context.Context, st *State, task *model.Task, output string) step {
	return e.toQA(ctx, "Implementation Report", output)
}

func (e *Engine) onQAReview(ctx context.Context, st *State, task *model.Task, output string) step {
	v := ParseQAVerdict(output)
	if v.Defaulted {
		e.logger.Warn("QA output has no verdict marker, treating as approved", "task_id", task.ID)
	}

	if v.Approved {
		return step{
			next:   PhaseApproved,
			header: "QA Approval",
			body:   nonEmpty(v.Reason, "Approved"),
			detail: "QA approved, ready for human review",
		}
	}

	st.QARetries++
	if e.cfg.MaxQARounds > 0 && st.QARetries > e.cfg.MaxQARounds {
		return e.escalateToTechLead(ctx, st, "QA Feedback",
			fmt.Sprintf("Rejected %d times. Latest feedback:\n\n%s", st.QARetries, v.Reason))
	}

	dev := e.developer(ctx, st)
	if dev == nil {
		return fail("QA rejected the work, but no active developer is available to fix it")
	}
	return step{
		next:     PhaseDevFix,
		assignee: dev.ID,
		header:   fmt.Sprintf("QA Feedback (round %d)", st.QARetries),
		body:     v.Reason,
		detail:   fmt.Sprintf("QA rejected, %s is fixing", dev.Name),
	}
}

func (e *Engine) onDevFix(ctx context.Context, st *State, task *model.Task, output string) step {
	if ParseDevNeedsHelp(output) {
		return e.escalateToTechLead(ctx, st, "Developer Escalation", output)
	}
	return e.toQA(ctx, "Fix Report", output)
}

func (e *Engine) onTechLeadFixPlan(ctx context.Context, st *State, task *model.Task, output string) step {
	if HasMarker(output, MarkerNeedsArchitect) {
		return e.escalateToArchitect(ctx, st, "Tech Lead Escalation", output)
	}

	st.Plan = strings.TrimSpace(output)
	dev := e.developer(ctx, st)
	if dev == nil {
		return fail("No active developer available to apply the fix plan")
	}
	return step{
		next:        PhaseDevFixWithPlan,
		assignee:    dev.ID,
		header:      "Tech Lead Fix Plan",
		body:        st.Plan,
		refreshSpec: true,
		detail:      fmt.Sprintf("Fix plan ready, %s is applying it", dev.Name),
	}
}

func (e *Engine) onDevFixWithPlan(ctx context.Context, st *State, task *model.Task, output string) step {
	if ParseDevNeedsHelp(output) {
		if st.FixPlanned {
			return fail("Developer still needs help after the architect's fix plan")
		}
		return e.escalateToArchitect(ctx, st, "Developer Escalation", output)
	}
	return e.toQA(ctx, "Fix Report", output)
}

func (e *Engine) onArchitectFixPlan(ctx context.Context, st *State, task *model.Task, output string) step {
	st.Plan = strings.TrimSpace(output)
	st.FixPlanned = true
	lead := e.techLead(ctx, st)
	if lead == nil {
		return fail("No active tech lead available to relay the architect's fix plan")
	}
	return step{
		next:        PhaseTechLeadRelayPlan,
		assignee:    lead.ID,
		header:      "Architect Fix Plan",
		body:        st.Plan,
		refreshSpec: true,
		detail:      fmt.Sprintf("Architect fix plan ready, %s is relaying it", lead.Name),
	}
}

func (e *Engine) onTechLeadRelayPlan(ctx context.Context, st *State, task *model.Task, output string) step {
	st.Plan = strings.TrimSpace(output)
	dev := e.developer(ctx, st)
	if dev == nil {
		return fail("No active developer available to apply the relayed fix plan")
	}
	return step{
		next:        PhaseDevFixWithPlan,
		assignee:    dev.ID,
		header:      "Relayed Fix Plan",
		body:        st.Plan,
		refreshSpec: true,
		detail:      fmt.Sprintf("Relayed plan ready, %s is applying it", dev.Name),
	}
}

// toQA sends finished developer work to QA, or completes the workflow when no QA exists.
func (e *Engine) toQA(ctx context.Context, header, output string) step {
	qa := e.findWorker(ctx, model.RoleQA)
	if qa == nil {
		return step{
			next:   PhaseCompleted,
			header: header,
			body:   output,
			detail: "No QA worker configured, ready for human review",
		}
	}
	return step{
		next:     PhaseQAReview,
		assignee: qa.ID,
		header:   header,
		body:     output,
		detail:   fmt.Sprintf("%s is reviewing", qa.Name),
	}
}

// escalateToTechLead hands a stuck fix back to the tech lead for a fix plan.
func (e *Engine) escalateToTechLead(ctx context.Context, st *State, header, body string) step {
	if st.Escalations >= maxEscalations {
		return fail(fmt.Sprintf("Escalation limit reached after %d tech lead fix plans", st.Escalations))
	}
	lead := e.techLead(ctx, st)
	if lead == nil {
		return fail("Developer needs help, but no active tech lead is available")
	}
	st.Escalations++
	st.QARetries = 0
	return step{
		next:     PhaseTechLeadFixPlan,
		assignee: lead.ID,
		header:   header,
		body:     body,
		detail:   fmt.Sprintf("Escalated to tech lead %s for a fix plan", lead.Name),
	}
}

// escalateToArchitect asks the architect for a fix plan, once per task.
func (e *Engine) escalateToArchitect(ctx context.Context, st *State, header, body string) step {
	if st.FixPlanned {
		return fail("Escalation exhausted: the architect already produced a fix plan")
	}
	arch := e.architect(ctx, st)
	if arch == nil {
		return fail("Escalation requires an architect, but no active architect is configured")
	}
	return step{
		next:     PhaseArchitectFixPlan,
		assignee: arch.ID,
		header:   header,
		body:     body,
		detail:   fmt.Sprintf("Escalated to architect %s for a fix plan", arch.Name),
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) != "" {
		return s
	}
	return strings.TrimSpace(fallback)
}
