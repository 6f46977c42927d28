package model

import (
	"fmt"
	"strings"

	"github.com/gammazero/toposort"
)

// OrderHierarchy sorts tasks so every subtask comes before its parent.
// Returns an error if parent links form a cycle. Parents outside the given
// set are ignored.
func OrderHierarchy(tasks []*Task) ([]string, error) {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if t.ParentID == "" || !known[t.ParentID] {
			// Root (or detached) task - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		// Child must come before its parent
		edges = append(edges, toposort.Edge{t.ID, t.ParentID})
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("task hierarchy contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, id := range sorted {
		if id == nil {
			continue
		}
		s := id.(string)
		if !seen[s] {
			seen[s] = true
			order = append(order, s)
		}
	}

	// Tasks that only appear inside a cycle never reach the sorted output
	if len(order) != len(tasks) {
		var missing []string
		for _, t := range tasks {
			if !seen[t.ID] {
				missing = append(missing, t.ID)
			}
		}
		return nil, fmt.Errorf("task hierarchy contains cycle: %s", strings.Join(missing, ", "))
	}

	return order, nil
}

// CheckReparent reports an error if making parentID the parent of taskID
// would create a cycle in the hierarchy formed by tasks.
func CheckReparent(tasks []*Task, taskID, parentID string) error {
	if taskID == parentID {
		return fmt.Errorf("task %q cannot be its own parent", taskID)
	}

	candidate := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		cp := *t
		if cp.ID == taskID {
			cp.ParentID = parentID
		}
		candidate = append(candidate, &cp)
	}

	if _, err := OrderHierarchy(candidate); err != nil {
		return fmt.Errorf("re-parenting %q under %q: %w", taskID, parentID, err)
	}
	return nil
}
