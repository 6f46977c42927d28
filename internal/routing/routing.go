// Package routing maps task categories and plan text to preferred worker roles.
package routing

import (
	"strings"
	"sync"
	"unicode"

	"github.com/aristath/taskforce/internal/model"
)

// DefaultCategories is the built-in category → preferred roles table.
var DefaultCategories = map[string][]model.Role{
	"bug":            {model.RoleQA, model.RoleBackendDev, model.RoleFrontendDev},
	"feature":        {model.RoleFrontendDev, model.RoleBackendDev},
	"frontend":       {model.RoleFrontendDev},
	"ui":             {model.RoleFrontendDev},
	"backend":        {model.RoleBackendDev},
	"api":            {model.RoleBackendDev},
	"architecture":   {model.RoleArchitect},
	"design":         {model.RoleArchitect},
	"planning":       {model.RoleTechLead, model.RoleArchitect},
	"test":           {model.RoleQA},
	"testing":        {model.RoleQA},
	"refactor":       {model.RoleBackendDev, model.RoleFrontendDev},
	"docs":           {model.RoleTechLead},
	"security":       {model.RoleBackendDev, model.RoleArchitect},
	"devops":         {model.RoleBackendDev},
	"infrastructure": {model.RoleBackendDev},
}

// DefaultFrontendKeywords signal that a plan is mostly frontend work.
var DefaultFrontendKeywords = []string{
	"react", "vue", "svelte", "angular", "component", "components", "css", "scss", "tailwind",
	"html", "jsx", "tsx", "ui", "ux", "layout", "style", "styles", "styling", "button", "form",
	"modal", "page", "frontend", "browser", "dom", "responsive", "animation",
}

// DefaultBackendKeywords signal that a plan is mostly backend work.
var DefaultBackendKeywords = []string{
	"api", "endpoint", "endpoints", "database", "sql", "query", "migration", "schema", "server",
	"handler", "middleware", "auth", "authentication", "cache", "queue", "worker", "service",
	"backend", "rest", "graphql", "grpc", "model", "repository", "cron",
}

// Config overrides the built-in tables. Empty fields keep the defaults.
type Config struct {
	Categories       map[string][]string `json:"categories,omitempty" yaml:"categories,omitempty"`
	FrontendKeywords []string            `json:"frontend_keywords,omitempty" yaml:"frontend_keywords,omitempty"`
	BackendKeywords  []string            `json:"backend_keywords,omitempty" yaml:"backend_keywords,omitempty"`
}

// Table holds the routing tables. Safe for concurrent use; Replace swaps them atomically.
type Table struct {
	mu         sync.RWMutex
	categories map[string][]model.Role
	frontend   map[string]bool
	backend    map[string]bool
}

// NewTable returns a table built from the defaults plus any overrides in cfg.
func NewTable(cfg Config) *Table {
	t := &Table{}
	t.Replace(cfg)
	return t
}

// Replace rebuilds the table from the defaults plus cfg.
func (t *Table) Replace(cfg Config) {
	categories := make(map[string][]model.Role, len(DefaultCategories)+len(cfg.Categories))
	for k, v := range DefaultCategories {
		categories[k] = v
	}
	for k, names := range cfg.Categories {
		roles := make([]model.Role, 0, len(names))
		for _, n := range names {
			roles = append(roles, model.ParseRole(n))
		}
		categories[strings.ToLower(strings.TrimSpace(k))] = roles
	}

	frontend := DefaultFrontendKeywords
	if len(cfg.FrontendKeywords) > 0 {
		frontend = cfg.FrontendKeywords
	}
	backend := DefaultBackendKeywords
	if len(cfg.BackendKeywords) > 0 {
		backend = cfg.BackendKeywords
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.categories = categories
	t.frontend = wordSet(frontend)
	t.backend = wordSet(backend)
}

// PreferredRoles returns the roles that should handle a category, most preferred first.
// Unknown or empty categories return nil.
func (t *Table) PreferredRoles(category string) []model.Role {
	t.mu.RLock()
	defer t.mu.RUnlock()
	roles := t.categories[strings.ToLower(strings.TrimSpace(category))]
	return append([]model.Role(nil), roles...)
}

// DetectDevFromPlan picks the developer role a plan is aimed at.
// Explicit mentions of a developer role win: the role named more often, or
// named first on a tie. Otherwise the vocabulary with more hits wins. Ties and
// zero matches favor frontend.
func (t *Table) DetectDevFromPlan(plan string) model.Role {
	lower := strings.ToLower(plan)

	feN, feAt := roleMentions(lower, "frontend")
	beN, beAt := roleMentions(lower, "backend")
	switch {
	case feN > beN:
		return model.RoleFrontendDev
	case beN > feN:
		return model.RoleBackendDev
	case feN > 0:
		if beAt < feAt {
			return model.RoleBackendDev
		}
		return model.RoleFrontendDev
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var fe, be int
	for _, tok := range tokenize(lower) {
		if t.frontend[tok] {
			fe++
		}
		if t.backend[tok] {
			be++
		}
	}
	if be > fe {
		return model.RoleBackendDev
	}
	return model.RoleFrontendDev
}

// roleMentions counts mentions like "frontend dev", "frontend-developer" or
// "frontend_dev" and returns the offset of the first one (-1 when absent).
func roleMentions(lower, side string) (count, first int) {
	first = -1
	for at := 0; at < len(lower); {
		i := strings.Index(lower[at:], side)
		if i < 0 {
			break
		}
		i += at
		at = i + len(side)
		if !roleSuffix(lower[at:]) {
			continue
		}
		if first < 0 {
			first = i
		}
		count++
	}
	return count, first
}

func roleSuffix(s string) bool {
	if s != "" && strings.IndexByte(" -_", s[0]) >= 0 {
		s = s[1:]
	}
	for _, suffix := range []string{"dev", "engineer"} {
		if strings.HasPrefix(s, suffix) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func wordSet(words []string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[strings.ToLower(strings.TrimSpace(w))] = true
	}
	return set
}
