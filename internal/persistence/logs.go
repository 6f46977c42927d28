package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/taskforce/internal/model"
	"github.com/google/uuid"
)

// AppendLog writes an immutable audit entry. ID and timestamp are filled in when empty.
func (s *SQLiteStore) AppendLog(ctx context.Context, e *model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_logs (id, task_id, worker_id, action, from_status, to_status, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.TaskID, nullString(e.WorkerID), e.Action, nullString(string(e.FromStatus)),
		nullString(string(e.ToStatus)), e.Detail, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append log for task %s: %w", e.TaskID, err)
	}
	return nil
}

// ListLogs returns a task's audit entries in chronological order.
func (s *SQLiteStore) ListLogs(ctx context.Context, taskID string) ([]*model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, worker_id, action, from_status, to_status, detail, created_at
		FROM task_logs
		WHERE task_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var entries []*model.AuditEntry
	for rows.Next() {
		var (
			e                model.AuditEntry
			worker, from, to sql.NullString
			created          string
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &worker, &e.Action, &from, &to, &e.Detail, &created); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		e.WorkerID = worker.String
		e.FromStatus = model.Status(from.String)
		e.ToStatus = model.Status(to.String)
		if e.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}
	return entries, nil
}

// GetIntegration returns a project's integration config of the given type.
func (s *SQLiteStore) GetIntegration(ctx context.Context, projectID, typ string) (*model.Integration, error) {
	var (
		in       = model.Integration{ProjectID: projectID, Type: typ}
		settings string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT enabled, settings FROM integrations WHERE project_id = ? AND type = ?`,
		projectID, typ).Scan(&in.Enabled, &settings)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("integration %s/%s: %w", projectID, typ, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get integration %s/%s: %w", projectID, typ, err)
	}
	if err := json.Unmarshal([]byte(settings), &in.Settings); err != nil {
		return nil, fmt.Errorf("decode integration %s/%s: %w", projectID, typ, err)
	}
	return &in, nil
}

// SaveIntegration inserts or replaces a project's integration config.
func (s *SQLiteStore) SaveIntegration(ctx context.Context, in *model.Integration) error {
	settings := in.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode integration settings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integrations (project_id, type, enabled, settings)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(project_id, type) DO UPDATE SET
			enabled = excluded.enabled,
			settings = excluded.settings
	`, in.ProjectID, in.Type, in.Enabled, string(data))
	if err != nil {
		return fmt.Errorf("failed to save integration %s/%s: %w", in.ProjectID, in.Type, err)
	}
	return nil
}
