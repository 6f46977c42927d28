package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusCreated, StatusAssigned, true},
		{StatusCreated, StatusInProgress, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusInProgress, StatusReview, true},
		{StatusReview, StatusDone, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusCreated, true},
		{StatusReview, StatusChangesRequested, true},
		{StatusCreated, StatusDone, false},
		{StatusCreated, StatusReview, false},
		{StatusDone, StatusInProgress, false},
		{StatusDone, StatusFailed, false},
		{StatusInProgress, StatusInProgress, false},
		{Status("bogus"), StatusCreated, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestEveryStatusHasAnEntry(t *testing.T) {
	for from, targets := range statusTransitions {
		for _, to := range targets {
			assert.True(t, IsValidStatus(to), "%s -> %s targets unknown status", from, to)
		}
	}
	assert.Empty(t, ValidNextStatuses(StatusDone))
}

func TestPriorityRank(t *testing.T) {
	assert.Equal(t, 3, PriorityHigh.Rank())
	assert.Equal(t, 2, PriorityMedium.Rank())
	assert.Equal(t, 1, PriorityLow.Rank())
	assert.Equal(t, 3, Priority("HIGH").Rank())
	assert.Equal(t, 2, Priority("").Rank())
	assert.Equal(t, 2, Priority("urgent").Rank())
}

func TestParseRole(t *testing.T) {
	tests := map[string]Role{
		"architect":    RoleArchitect,
		"tech-lead":    RoleTechLead,
		"Tech Lead":    RoleTechLead,
		"frontend-dev": RoleFrontendDev,
		"backend_dev":  RoleBackendDev,
		"QA":           RoleQA,
		"tester":       RoleQA,
		"designer":     RoleOther,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseRole(in), in)
	}
	assert.True(t, RoleBackendDev.IsDeveloper())
	assert.False(t, RoleQA.IsDeveloper())
}

func TestIntegrationSettings(t *testing.T) {
	var nilIntegration *Integration
	assert.Equal(t, "main", nilIntegration.Setting("base_branch", "main"))
	assert.False(t, nilIntegration.Flag("auto_push"))

	in := &Integration{Settings: map[string]string{"auto_push": "true", "base_branch": "develop"}}
	assert.True(t, in.Flag("auto_push"))
	assert.False(t, in.Flag("auto_pr"))
	assert.Equal(t, "develop", in.Setting("base_branch", "main"))
}

func TestOrderHierarchy(t *testing.T) {
	tasks := []*Task{
		{ID: "parent"},
		{ID: "child-a", ParentID: "parent"},
		{ID: "child-b", ParentID: "parent"},
		{ID: "grandchild", ParentID: "child-a"},
		{ID: "orphan", ParentID: "missing"},
	}

	order, err := OrderHierarchy(tasks)
	require.NoError(t, err)
	require.Len(t, order, len(tasks))

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["grandchild"], pos["child-a"])
	assert.Less(t, pos["child-a"], pos["parent"])
	assert.Less(t, pos["child-b"], pos["parent"])
	assert.Contains(t, pos, "orphan")
}

func TestOrderHierarchy_Cycle(t *testing.T) {
	tasks := []*Task{
		{ID: "a", ParentID: "b"},
		{ID: "b", ParentID: "a"},
	}
	_, err := OrderHierarchy(tasks)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestCheckReparent(t *testing.T) {
	tasks := []*Task{
		{ID: "root"},
		{ID: "mid", ParentID: "root"},
		{ID: "leaf", ParentID: "mid"},
	}

	assert.NoError(t, CheckReparent(tasks, "leaf", "root"))
	assert.Error(t, CheckReparent(tasks, "root", "leaf"))
	assert.Error(t, CheckReparent(tasks, "mid", "mid"))
	// The input must not be mutated
	assert.Equal(t, "", tasks[0].ParentID)
}
