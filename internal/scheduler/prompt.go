package scheduler

import (
	"fmt"
	"strings"

	"github.com/aristath/taskforce/internal/model"
)

// buildPrompt renders the execution prompt from the task record.
// instructions carry phase-specific guidance such as which decision marker to emit.
func buildPrompt(task *model.Task, project *model.Project, worker *model.Worker, instructions string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task: %s\n\n", task.Title)
	fmt.Fprintf(&b, "You are the %s on a software team working on project %q.\n", roleLabel(worker.Role), project.Name)
	fmt.Fprintf(&b, "Task ID: %s\nPriority: %s\n", task.ID, task.Priority)
	if task.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", task.Category)
	}
	if task.Branch != "" {
		fmt.Fprintf(&b, "Branch: %s\n", task.Branch)
	}

	if d := strings.TrimSpace(task.Description); d != "" {
		b.WriteString("\n## Description\n\n")
		b.WriteString(d)
		b.WriteString("\n")
	}
	if s := strings.TrimSpace(task.ParsedSpec); s != "" {
		b.WriteString("\n## Current Plan\n\n")
		b.WriteString(s)
		b.WriteString("\n")
	}
	if instructions != "" {
		b.WriteString("\n## Instructions\n\n")
		b.WriteString(instructions)
		b.WriteString("\n")
	}
	return b.String()
}

func roleLabel(r model.Role) string {
	switch r {
	case model.RoleTechLead:
		return "tech lead"
	case model.RoleFrontendDev:
		return "frontend developer"
	case model.RoleBackendDev:
		return "backend developer"
	case model.RoleQA:
		return "QA engineer"
	case model.RoleArchitect:
		return "architect"
	}
	return "engineer"
}
