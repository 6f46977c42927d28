package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/taskforce/internal/model"
	"github.com/google/uuid"
)

const taskColumns = `id, project_id, title, description, parsed_spec, status, priority, category,
	assigned_worker_id, parent_id, branch, workflow_id, result, cost, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var (
		t                                      model.Task
		status, priority                       string
		category, worker, parent, branch, wfID sql.NullString
		created, updated                       string
		completed                              sql.NullString
	)
	err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &t.ParsedSpec, &status, &priority,
		&category, &worker, &parent, &branch, &wfID, &t.Result, &t.Cost, &created, &updated, &completed)
	if err != nil {
		return nil, err
	}

	t.Status = model.Status(status)
	t.Priority = model.Priority(priority)
	t.Category = category.String
	t.AssignedWorkerID = worker.String
	t.ParentID = parent.String
	t.Branch = branch.String
	t.WorkflowID = wfID.String

	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if completed.Valid {
		ct, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		t.CompletedAt = &ct
	}
	return &t, nil
}

// CreateTask inserts a new task. Missing ID, status, and priority are filled in.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = model.StatusCreated
	}
	if t.Priority == "" {
		t.Priority = model.PriorityMedium
	}
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
	`, t.ID, t.ProjectID, t.Title, t.Description, t.ParsedSpec, string(t.Status), string(t.Priority),
		nullString(t.Category), nullString(t.AssignedWorkerID), nullString(t.ParentID), nullString(t.Branch),
		nullString(t.WorkflowID), t.Result, t.Cost, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("failed to insert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks returns tasks ordered by creation time. An empty projectID lists every project.
func (s *SQLiteStore) ListTasks(ctx context.Context, projectID string) ([]*model.Task, error) {
	if projectID == "" {
		return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY created_at, id`, projectID)
}

// ListTasksByStatus returns every task currently in the given status.
func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, status model.Status) ([]*model.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, string(status))
}

// ListSubtasks returns the direct children of a task.
func (s *SQLiteStore) ListSubtasks(ctx context.Context, parentID string) ([]*model.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE parent_id = ? ORDER BY created_at, id`, parentID)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus sets the status and, when non-nil, the completion timestamp.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status model.Status, completedAt *time.Time) error {
	var completed sql.NullString
	if completedAt != nil {
		completed = sql.NullString{String: formatTime(*completedAt), Valid: true}
	}
	return s.execOne(ctx, "update status of task", id, `
		UPDATE tasks SET status = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE id = ?
	`, string(status), completed, formatTime(s.now()), id)
}

// SetTaskAssignment records the worker a task is bound to.
func (s *SQLiteStore) SetTaskAssignment(ctx context.Context, id, workerID string) error {
	return s.execOne(ctx, "assign task", id,
		`UPDATE tasks SET assigned_worker_id = ?, updated_at = ? WHERE id = ?`,
		nullString(workerID), formatTime(s.now()), id)
}

// SetTaskBranch records the version-control branch created for a task.
func (s *SQLiteStore) SetTaskBranch(ctx context.Context, id, branch string) error {
	return s.execOne(ctx, "set branch of task", id,
		`UPDATE tasks SET branch = ?, updated_at = ? WHERE id = ?`,
		nullString(branch), formatTime(s.now()), id)
}

// SetTaskParent moves a task under a new parent. An empty parentID detaches it.
func (s *SQLiteStore) SetTaskParent(ctx context.Context, id, parentID string) error {
	return s.execOne(ctx, "set parent of task", id,
		`UPDATE tasks SET parent_id = ?, updated_at = ? WHERE id = ?`,
		nullString(parentID), formatTime(s.now()), id)
}

// UpdateTaskResult stores the latest result text and adds to the accumulated cost.
func (s *SQLiteStore) UpdateTaskResult(ctx context.Context, id, result string, costDelta float64) error {
	return s.execOne(ctx, "store result of task", id,
		`UPDATE tasks SET result = ?, cost = cost + ?, updated_at = ? WHERE id = ?`,
		result, costDelta, formatTime(s.now()), id)
}

// AppendDescription adds a headed section to the task narrative.
// With refreshSpec the body also becomes the task's parsed specification.
func (s *SQLiteStore) AppendDescription(ctx context.Context, id, header, body string, refreshSpec bool) error {
	section := fmt.Sprintf("\n\n## %s\n\n%s", header, strings.TrimSpace(body))

	if refreshSpec {
		return s.execOne(ctx, "append to task", id, `
			UPDATE tasks SET description = description || ?, parsed_spec = ?, updated_at = ?
			WHERE id = ?
		`, section, strings.TrimSpace(body), formatTime(s.now()), id)
	}
	return s.execOne(ctx, "append to task", id,
		`UPDATE tasks SET description = description || ?, updated_at = ? WHERE id = ?`,
		section, formatTime(s.now()), id)
}
