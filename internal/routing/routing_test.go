package routing

import (
	"testing"

	"github.com/aristath/taskforce/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestPreferredRoles(t *testing.T) {
	table := NewTable(Config{})

	assert.Equal(t, []model.Role{model.RoleQA, model.RoleBackendDev, model.RoleFrontendDev}, table.PreferredRoles("bug"))
	assert.Equal(t, []model.Role{model.RoleArchitect}, table.PreferredRoles(" Architecture "))
	assert.Nil(t, table.PreferredRoles(""))
	assert.Nil(t, table.PreferredRoles("gardening"))

	// Callers may not mutate the table through the returned slice
	roles := table.PreferredRoles("bug")
	roles[0] = model.RoleOther
	assert.Equal(t, model.RoleQA, table.PreferredRoles("bug")[0])
}

func TestReplaceOverridesCategories(t *testing.T) {
	table := NewTable(Config{})
	table.Replace(Config{Categories: map[string][]string{
		"Bug":      {"backend-dev"},
		"research": {"architect", "tech lead"},
	}})

	assert.Equal(t, []model.Role{model.RoleBackendDev}, table.PreferredRoles("bug"))
	assert.Equal(t, []model.Role{model.RoleArchitect, model.RoleTechLead}, table.PreferredRoles("research"))
	// Untouched defaults survive
	assert.Equal(t, []model.Role{model.RoleQA}, table.PreferredRoles("testing"))
}

func TestDetectDevFromPlan(t *testing.T) {
	table := NewTable(Config{})

	tests := []struct {
		name string
		plan string
		want model.Role
	}{
		{"empty defaults to frontend", "", model.RoleFrontendDev},
		{"no keywords defaults to frontend", "Make it better.", model.RoleFrontendDev},
		{"backend keywords", "Add a REST endpoint and a database migration for the orders schema", model.RoleBackendDev},
		{"frontend keywords", "Build a React component with a modal form and Tailwind styles", model.RoleFrontendDev},
		{"tie favors frontend", "Update the API and the CSS", model.RoleFrontendDev},
		{"explicit backend role wins over keywords", "Assign to the backend developer. React component, CSS, modal, layout.", model.RoleBackendDev},
		{"explicit frontend role wins", "frontend-dev: add an endpoint call to the database service", model.RoleFrontendDev},
		{"substring does not count", "The apiary uses caching", model.RoleFrontendDev},
		{"both roles named, first one leads", "The backend developer must coordinate with the frontend dev on the payload", model.RoleBackendDev},
		{"both roles named, frontend first", "Frontend dev builds the page; the backend engineer only reviews it", model.RoleFrontendDev},
		{"role named more often wins", "Frontend dev support only. Backend developer adds the table, backend-dev writes the migration", model.RoleBackendDev},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.DetectDevFromPlan(tt.plan))
		})
	}
}

func TestDetectDevFromPlan_CustomVocabulary(t *testing.T) {
	table := NewTable(Config{BackendKeywords: []string{"kafka"}})
	assert.Equal(t, model.RoleBackendDev, table.DetectDevFromPlan("wire up kafka consumers"))
	// The default backend vocabulary was replaced
	assert.Equal(t, model.RoleFrontendDev, table.DetectDevFromPlan("add a database"))
}
