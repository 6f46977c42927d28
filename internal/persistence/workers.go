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

// CreateProject inserts a project. A missing ID is generated.
func (s *SQLiteStore) CreateProject(ctx context.Context, p *model.Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.BaseBranch == "" {
		p.BaseBranch = "main"
	}
	p.CreatedAt = s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, path, base_branch, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Path, p.BaseBranch, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert project %s: %w", p.ID, err)
	}
	return nil
}

func scanProject(row rowScanner) (*model.Project, error) {
	var (
		p       model.Project
		created string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Path, &p.BaseBranch, &created); err != nil {
		return nil, err
	}
	ct, err := parseTime(created)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = ct
	return &p, nil
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, path, base_branch, created_at FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", id, err)
	}
	return p, nil
}

// ListProjects returns all projects ordered by creation time.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*model.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, path, base_branch, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []*model.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SaveWorker inserts or updates a worker.
// Uses ON CONFLICT to make saves idempotent.
func (s *SQLiteStore) SaveWorker(ctx context.Context, w *model.Worker) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	cfg, err := json.Marshal(w.Config)
	if err != nil {
		return fmt.Errorf("failed to encode config of worker %s: %w", w.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workers (id, name, role, active, config)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			active = excluded.active,
			config = excluded.config
	`, w.ID, w.Name, string(w.Role), w.Active, string(cfg))
	if err != nil {
		return fmt.Errorf("failed to upsert worker %s: %w", w.ID, err)
	}
	return nil
}

func scanWorker(row rowScanner) (*model.Worker, error) {
	var (
		w         model.Worker
		role, cfg string
	)
	if err := row.Scan(&w.ID, &w.Name, &role, &w.Active, &cfg); err != nil {
		return nil, err
	}
	w.Role = model.Role(role)
	if err := json.Unmarshal([]byte(cfg), &w.Config); err != nil {
		return nil, fmt.Errorf("decode config of worker %s: %w", w.ID, err)
	}
	return &w, nil
}

// GetWorker retrieves a worker by ID.
func (s *SQLiteStore) GetWorker(ctx context.Context, id string) (*model.Worker, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, role, active, config FROM workers WHERE id = ?`, id)
	w, err := scanWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("worker %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker %s: %w", id, err)
	}
	return w, nil
}

// ListWorkers returns workers ordered by name, optionally only the active ones.
func (s *SQLiteStore) ListWorkers(ctx context.Context, activeOnly bool) ([]*model.Worker, error) {
	query := `SELECT id, name, role, active, config FROM workers`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query workers: %w", err)
	}
	defer rows.Close()

	var workers []*model.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan worker: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}
