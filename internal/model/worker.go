package model

import "strings"

// Role identifies what kind of work a worker does.
type Role string

const (
	RoleArchitect   Role = "architect"
	RoleTechLead    Role = "tech_lead"
	RoleFrontendDev Role = "frontend_dev"
	RoleBackendDev  Role = "backend_dev"
	RoleQA          Role = "qa"
	RoleOther       Role = "other"
)

// ParseRole normalizes user input ("tech-lead", "Frontend Dev") into a Role.
func ParseRole(s string) Role {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "_", " ", "_").Replace(norm)
	switch Role(norm) {
	case RoleArchitect, RoleTechLead, RoleFrontendDev, RoleBackendDev, RoleQA:
		return Role(norm)
	case "techlead", "lead":
		return RoleTechLead
	case "frontend", "frontend_developer":
		return RoleFrontendDev
	case "backend", "backend_developer":
		return RoleBackendDev
	case "tester", "quality_assurance":
		return RoleQA
	}
	return RoleOther
}

// IsDeveloper reports whether the role writes code.
func (r Role) IsDeveloper() bool {
	return r == RoleFrontendDev || r == RoleBackendDev
}

// WorkerConfig is the execution configuration handed to the engine.
// The scheduler never interprets it.
type WorkerConfig struct {
	Provider     string   `json:"provider"`
	Model        string   `json:"model,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Tools        []string `json:"tools,omitempty"`
}

// Worker is an execution identity bound to a role.
type Worker struct {
	ID     string
	Name   string
	Role   Role
	Active bool
	Config WorkerConfig
}
