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

// GetRegistry loads the slot registry for a project environment.
func (r *Repository) GetRegistry(ctx context.Context, project string, env domain.Environment) (*domain.SlotRegistry, error) {
	const query = `SELECT project_name, team_id, environment, active_slot, blue, green, last_updated
		FROM slot_registries WHERE project_name = $1 AND environment = $2`
	row := r.pool.QueryRow(ctx, query, project, string(env))
	return scanRegistry(row)
}

// SaveRegistry upserts the full registry document.
func (r *Repository) SaveRegistry(ctx context.Context, registry *domain.SlotRegistry) error {
	blue, err := json.Marshal(registry.Blue)
	if err != nil {
		return fmt.Errorf("encode blue slot: %w", err)
	}
	green, err := json.Marshal(registry.Green)
	if err != nil {
		return fmt.Errorf("encode green slot: %w", err)
	}
	const query = `INSERT INTO slot_registries (project_name, team_id, environment, active_slot, blue, green, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_name, environment) DO UPDATE SET
			team_id = EXCLUDED.team_id,
			active_slot = EXCLUDED.active_slot,
			blue = EXCLUDED.blue,
			green = EXCLUDED.green,
			last_updated = EXCLUDED.last_updated`
	_, err = r.pool.Exec(ctx, query,
		registry.ProjectName, registry.TeamID, string(registry.Environment),
		string(registry.ActiveSlot), blue, green, registry.LastUpdated)
	return err
}

// ListRegistriesByEnvironment returns every registry in one environment.
func (r *Repository) ListRegistriesByEnvironment(ctx context.Context, env domain.Environment) ([]domain.SlotRegistry, error) {
	const query = `SELECT project_name, team_id, environment, active_slot, blue, green, last_updated
		FROM slot_registries WHERE environment = $1 ORDER BY project_name`
	rows, err := r.pool.Query(ctx, query, string(env))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var registries []domain.SlotRegistry
	for rows.Next() {
		reg, err := scanRegistry(rows)
		if err != nil {
			return nil, err
		}
		registries = append(registries, *reg)
	}
	return registries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRegistry(row rowScanner) (*domain.SlotRegistry, error) {
	var (
		reg         domain.SlotRegistry
		envRaw      string
		activeRaw   string
		blue, green []byte
	)
	if err := row.Scan(&reg.ProjectName, &reg.TeamID, &envRaw, &activeRaw, &blue, &green, &reg.LastUpdated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	reg.Environment = domain.Environment(envRaw)
	reg.ActiveSlot = domain.SlotName(activeRaw)
	if err := json.Unmarshal(blue, &reg.Blue); err != nil {
		return nil, fmt.Errorf("decode blue slot: %w", err)
	}
	if err := json.Unmarshal(green, &reg.Green); err != nil {
		return nil, fmt.Errorf("decode green slot: %w", err)
	}
	return &reg, nil
}
