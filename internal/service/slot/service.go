// Package slot owns every write to the slot registries. The primary
// copy lives in postgres, a secondary file mirror is kept best-effort;
// reads prefer primary and repair it from the mirror on a miss.
package slot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
)

// ErrRegistryNotFound means neither the primary store nor the mirror
// has the registry; callers must initialize slots first. It wraps
// repository.ErrNotFound so transport layers classify it as not-found.
var ErrRegistryNotFound = fmt.Errorf("%w: registry missing, initialize slots first", repository.ErrNotFound)

// ErrPortRangeExhausted means the environment has no free port pair left.
var ErrPortRangeExhausted = errors.New("slot: port range exhausted")

// ErrInvalidBasePort means a caller-supplied base port is odd or falls
// outside the environment's reserved range.
var ErrInvalidBasePort = errors.New("slot: base port must be even-aligned inside the environment's reserved range")

// Service mediates all registry reads and writes.
type Service struct {
	registries  repository.RegistryRepository
	mirror      *Mirror
	logger      *slog.Logger
	graceWindow time.Duration
}

// New constructs the slot service.
func New(registries repository.RegistryRepository, mirror *Mirror, logger *slog.Logger, graceWindow time.Duration) *Service {
	if graceWindow <= 0 {
		graceWindow = 48 * time.Hour
	}
	return &Service{registries: registries, mirror: mirror, logger: logger, graceWindow: graceWindow}
}

// GetRegistry reads from the primary store, falling back to the file
// mirror on a miss and repairing the primary from it.
func (s *Service) GetRegistry(ctx context.Context, project string, env domain.Environment) (*domain.SlotRegistry, error) {
	reg, err := s.registries.GetRegistry(ctx, project, env)
	if err == nil {
		return reg, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	mirrored, mirrorErr := s.mirror.Read(project, env)
	if mirrorErr != nil {
		if errors.Is(mirrorErr, repository.ErrNotFound) {
			return nil, ErrRegistryNotFound
		}
		return nil, mirrorErr
	}
	if repairErr := s.registries.SaveRegistry(ctx, mirrored); repairErr != nil {
		s.logger.Warn("registry read-repair failed", "project", project, "environment", env, "error", repairErr)
	} else {
		s.logger.Info("registry restored from file mirror", "project", project, "environment", env)
	}
	return mirrored, nil
}

// UpdateRegistry stamps lastUpdated and writes primary-then-mirror. A
// primary failure is fatal; a mirror failure is logged only.
func (s *Service) UpdateRegistry(ctx context.Context, registry *domain.SlotRegistry) error {
	registry.LastUpdated = time.Now().UTC()
	if err := s.registries.SaveRegistry(ctx, registry); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := s.mirror.Write(registry); err != nil {
		s.logger.Warn("registry mirror write failed", "project", registry.ProjectName, "environment", registry.Environment, "error", err)
	}
	return nil
}

// InitializeSlots creates a fresh registry with both slots empty, blue
// active, and ports basePort / basePort+1. The pair must sit
// even-aligned inside the environment's reserved range.
func (s *Service) InitializeSlots(ctx context.Context, project string, env domain.Environment, basePort int, teamID string) (*domain.SlotRegistry, error) {
	low, high := env.PortRange()
	if basePort%2 != 0 || basePort < low || basePort+1 > high {
		return nil, fmt.Errorf("%w: got %d for %s", ErrInvalidBasePort, basePort, env)
	}
	registry := &domain.SlotRegistry{
		ProjectName: project,
		TeamID:      teamID,
		Environment: env,
		ActiveSlot:  domain.SlotBlue,
		Blue:        domain.Slot{Name: domain.SlotBlue, State: domain.SlotEmpty, Port: basePort},
		Green:       domain.Slot{Name: domain.SlotGreen, State: domain.SlotEmpty, Port: basePort + 1},
	}
	if err := s.UpdateRegistry(ctx, registry); err != nil {
		return nil, err
	}
	s.logger.Info("slots initialized", "project", project, "environment", env, "base_port", basePort)
	return registry, nil
}

// GetAvailablePort returns the lowest free even-aligned port pair in
// the environment's reserved range.
func (s *Service) GetAvailablePort(ctx context.Context, env domain.Environment) (int, error) {
	registries, err := s.registries.ListRegistriesByEnvironment(ctx, env)
	if err != nil {
		return 0, fmt.Errorf("list registries: %w", err)
	}
	used := make(map[int]struct{}, len(registries)*2)
	for _, reg := range registries {
		used[reg.Blue.Port] = struct{}{}
		used[reg.Green.Port] = struct{}{}
	}
	low, high := env.PortRange()
	for base := low; base+1 <= high; base += 2 {
		if _, takenA := used[base]; takenA {
			continue
		}
		if _, takenB := used[base+1]; takenB {
			continue
		}
		return base, nil
	}
	return 0, ErrPortRangeExhausted
}

// Patch describes a partial slot update. Nil fields are left untouched.
type Patch struct {
	State          *domain.SlotState
	Version        *string
	Image          *string
	DeployedAt     *time.Time
	DeployedBy     *string
	PromotedAt     *time.Time
	PromotedBy     *string
	RolledBackAt   *time.Time
	RolledBackBy   *string
	HealthStatus   *string
	GraceExpiresAt *time.Time
	ClearGrace     bool
	Reset          bool
}

// UpdateSlotState applies a partial update to one slot. Transitioning
// into grace computes graceExpiresAt unless explicitly supplied.
func (s *Service) UpdateSlotState(ctx context.Context, project string, env domain.Environment, name domain.SlotName, patch Patch) (*domain.SlotRegistry, error) {
	registry, err := s.GetRegistry(ctx, project, env)
	if err != nil {
		return nil, err
	}
	target := registry.Slot(name)

	if patch.Reset {
		*target = domain.Slot{Name: name, State: domain.SlotEmpty, Port: target.Port}
	}
	if patch.State != nil {
		if !patch.State.Valid() {
			return nil, fmt.Errorf("invalid slot state %q", *patch.State)
		}
		target.State = *patch.State
		if *patch.State == domain.SlotGrace && patch.GraceExpiresAt == nil {
			expires := time.Now().UTC().Add(s.graceWindow)
			target.GraceExpiresAt = &expires
		}
	}
	if patch.Version != nil {
		target.Version = *patch.Version
	}
	if patch.Image != nil {
		target.Image = *patch.Image
	}
	if patch.DeployedAt != nil {
		target.DeployedAt = patch.DeployedAt
	}
	if patch.DeployedBy != nil {
		target.DeployedBy = *patch.DeployedBy
	}
	if patch.PromotedAt != nil {
		target.PromotedAt = patch.PromotedAt
	}
	if patch.PromotedBy != nil {
		target.PromotedBy = *patch.PromotedBy
	}
	if patch.RolledBackAt != nil {
		target.RolledBackAt = patch.RolledBackAt
	}
	if patch.RolledBackBy != nil {
		target.RolledBackBy = *patch.RolledBackBy
	}
	if patch.HealthStatus != nil {
		target.HealthStatus = *patch.HealthStatus
	}
	if patch.GraceExpiresAt != nil {
		target.GraceExpiresAt = patch.GraceExpiresAt
	}
	if patch.ClearGrace {
		target.GraceExpiresAt = nil
	}

	if err := s.UpdateRegistry(ctx, registry); err != nil {
		return nil, err
	}
	return registry, nil
}
