package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
)

// CreateDeployment inserts a pending deployment audit row.
func (r *Repository) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	const query = `INSERT INTO deployments
		(id, project_name, environment, slot, version, image, deployed_by, status, steps, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err = r.pool.Exec(ctx, query,
		d.ID, d.ProjectName, string(d.Environment), string(d.Slot),
		d.Version, d.Image, d.DeployedBy, d.Status, steps, d.StartedAt, d.DurationMS)
	return err
}

// FinalizeDeployment writes the terminal status, step log, duration and
// the image that was actually pulled. Rows already finalized are never
// rewritten.
func (r *Repository) FinalizeDeployment(ctx context.Context, d *domain.Deployment) error {
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	const query = `UPDATE deployments
		SET status = $2, steps = $3, completed_at = $4, duration_ms = $5, image = $6
		WHERE id = $1 AND status = $7`
	tag, err := r.pool.Exec(ctx, query, d.ID, d.Status, steps, d.CompletedAt, d.DurationMS, d.Image, domain.DeploymentPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// GetDeploymentByID fetches one deployment audit row.
func (r *Repository) GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error) {
	const query = `SELECT id, project_name, environment, slot, version, image, deployed_by, status, steps, started_at, completed_at, duration_ms
		FROM deployments WHERE id = $1`
	return scanDeployment(r.pool.QueryRow(ctx, query, id))
}

// ListDeploymentsByProject returns recent deployments, newest first.
func (r *Repository) ListDeploymentsByProject(ctx context.Context, project string, env domain.Environment, limit int) ([]domain.Deployment, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_name, environment, slot, version, image, deployed_by, status, steps, started_at, completed_at, duration_ms
		FROM deployments WHERE project_name = $1 AND environment = $2
		ORDER BY started_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, project, string(env), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deployments []domain.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row rowScanner) (*domain.Deployment, error) {
	var (
		d       domain.Deployment
		envRaw  string
		slotRaw string
		steps   []byte
	)
	if err := row.Scan(&d.ID, &d.ProjectName, &envRaw, &slotRaw, &d.Version, &d.Image,
		&d.DeployedBy, &d.Status, &steps, &d.StartedAt, &d.CompletedAt, &d.DurationMS); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	d.Environment = domain.Environment(envRaw)
	d.Slot = domain.SlotName(slotRaw)
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &d.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
	}
	return &d, nil
}
