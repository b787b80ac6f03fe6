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

// GetDomain fetches a domain configuration by name.
func (r *Repository) GetDomain(ctx context.Context, name string) (*domain.DomainConfig, error) {
	const query = `SELECT domain, type, project_name, environment, ssl, records, status, created_at, verified_at
		FROM domains WHERE domain = $1`
	return scanDomain(r.pool.QueryRow(ctx, query, name))
}

// UpsertDomain inserts or replaces a domain configuration.
func (r *Repository) UpsertDomain(ctx context.Context, cfg *domain.DomainConfig) error {
	records, err := json.Marshal(cfg.Records)
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	const query = `INSERT INTO domains (domain, type, project_name, environment, ssl, records, status, created_at, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (domain) DO UPDATE SET
			type = EXCLUDED.type,
			project_name = EXCLUDED.project_name,
			environment = EXCLUDED.environment,
			ssl = EXCLUDED.ssl,
			records = EXCLUDED.records,
			status = EXCLUDED.status,
			verified_at = EXCLUDED.verified_at`
	_, err = r.pool.Exec(ctx, query,
		cfg.Domain, cfg.Type, cfg.ProjectName, string(cfg.Environment),
		cfg.SSL, records, cfg.Status, cfg.CreatedAt, cfg.VerifiedAt)
	return err
}

// DeleteDomain removes a domain configuration.
func (r *Repository) DeleteDomain(ctx context.Context, name string) error {
	const query = `DELETE FROM domains WHERE domain = $1`
	tag, err := r.pool.Exec(ctx, query, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListDomainsByTarget returns all domains pointing at a project environment.
func (r *Repository) ListDomainsByTarget(ctx context.Context, project string, env domain.Environment) ([]domain.DomainConfig, error) {
	const query = `SELECT domain, type, project_name, environment, ssl, records, status, created_at, verified_at
		FROM domains WHERE project_name = $1 AND environment = $2 ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, project, string(env))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []domain.DomainConfig
	for rows.Next() {
		cfg, err := scanDomain(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, *cfg)
	}
	return configs, rows.Err()
}

func scanDomain(row rowScanner) (*domain.DomainConfig, error) {
	var (
		cfg     domain.DomainConfig
		envRaw  string
		records []byte
	)
	if err := row.Scan(&cfg.Domain, &cfg.Type, &cfg.ProjectName, &envRaw,
		&cfg.SSL, &records, &cfg.Status, &cfg.CreatedAt, &cfg.VerifiedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	cfg.Environment = domain.Environment(envRaw)
	if len(records) > 0 {
		if err := json.Unmarshal(records, &cfg.Records); err != nil {
			return nil, fmt.Errorf("decode records: %w", err)
		}
	}
	return &cfg, nil
}
