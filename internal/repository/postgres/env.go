package postgres

import (
	"context"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

// GetEnvVars returns the encrypted variable map for a project environment.
func (r *Repository) GetEnvVars(ctx context.Context, project string, env domain.Environment) (map[string][]byte, error) {
	const query = `SELECT key, value FROM env_vars WHERE project_name = $1 AND environment = $2`
	rows, err := r.pool.Query(ctx, query, project, string(env))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	vars := make(map[string][]byte)
	for rows.Next() {
		var (
			key   string
			value []byte
		)
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		vars[key] = value
	}
	return vars, rows.Err()
}

// UpsertEnvVar writes a single encrypted key without touching siblings.
func (r *Repository) UpsertEnvVar(ctx context.Context, project string, env domain.Environment, key string, value []byte) error {
	const query = `INSERT INTO env_vars (project_name, environment, key, value, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_name, environment, key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = EXCLUDED.updated_at`
	_, err := r.pool.Exec(ctx, query, project, string(env), key, value, time.Now().UTC())
	return err
}

// ReplaceEnvVars swaps the full variable set in one transaction.
func (r *Repository) ReplaceEnvVars(ctx context.Context, project string, env domain.Environment, vars map[string][]byte) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM env_vars WHERE project_name = $1 AND environment = $2`, project, string(env)); err != nil {
		return err
	}
	now := time.Now().UTC()
	for key, value := range vars {
		const insert = `INSERT INTO env_vars (project_name, environment, key, value, updated_at)
			VALUES ($1, $2, $3, $4, $5)`
		if _, err := tx.Exec(ctx, insert, project, string(env), key, value, now); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// InsertEnvBackup appends one snapshot to the backup history.
func (r *Repository) InsertEnvBackup(ctx context.Context, backup *domain.EnvBackup) error {
	const query = `INSERT INTO env_backups (id, project_name, environment, payload, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if backup.CreatedAt.IsZero() {
		backup.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx, query,
		backup.ID, backup.ProjectName, string(backup.Environment),
		backup.Payload, backup.Source, backup.CreatedAt)
	return err
}

// ListEnvBackups returns the ordered backup history, newest first.
func (r *Repository) ListEnvBackups(ctx context.Context, project string, env domain.Environment, limit int) ([]domain.EnvBackup, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, project_name, environment, payload, source, created_at
		FROM env_backups WHERE project_name = $1 AND environment = $2
		ORDER BY created_at DESC LIMIT $3`
	rows, err := r.pool.Query(ctx, query, project, string(env), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var backups []domain.EnvBackup
	for rows.Next() {
		var (
			b      domain.EnvBackup
			envRaw string
		)
		if err := rows.Scan(&b.ID, &b.ProjectName, &envRaw, &b.Payload, &b.Source, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.Environment = domain.Environment(envRaw)
		backups = append(backups, b)
	}
	return backups, rows.Err()
}
