package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/lock"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
)

// RollbackResult reports a completed traffic revert.
type RollbackResult struct {
	Success         bool            `json:"success"`
	RestoredSlot    domain.SlotName `json:"restored_slot,omitempty"`
	DisplacedSlot   domain.SlotName `json:"displaced_slot,omitempty"`
	PreviousVersion string          `json:"previous_version,omitempty"`
	NewVersion      string          `json:"new_version,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Rollback restores traffic to the slot held in its grace window. The
// grace slot is health-checked first since it may have decayed; the
// displaced slot drops back to deployed so it can be fixed and promoted
// again rather than destroyed.
func (s *Service) Rollback(ctx context.Context, project string, env domain.Environment, actor, reason string) RollbackResult {
	res := RollbackResult{}
	release, err := s.locker.Acquire(ctx, pairKey(project, env), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			res.Error = "another pipeline is already running for this project environment"
		} else {
			res.Error = err.Error()
		}
		return res
	}
	defer release()

	registry, err := s.slots.GetRegistry(ctx, project, env)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	grace := registry.GraceSlot()
	if grace == nil {
		res.Error = ErrNoGraceSlot.Error()
		return res
	}
	current := registry.Active()

	if err := s.probeSlot(ctx, grace.Port); err != nil {
		res.Error = fmt.Sprintf("rollback aborted, grace slot unhealthy: %v", err)
		return res
	}

	doc := ingress.RoutingDoc{
		Project:     project,
		Environment: env,
		Domains:     s.routingDomains(ctx, project, env),
		ActivePort:  grace.Port,
		BackupPort:  current.Port,
		Version:     grace.Version,
		ActiveSlot:  grace.Name,
		HealthPath:  s.cfg.HealthPath,
	}
	if err := s.ingress.Apply(ctx, doc); err != nil {
		res.Error = fmt.Sprintf("routing switch failed: %v", err)
		return res
	}

	now := time.Now().UTC()
	res.RestoredSlot = grace.Name
	res.DisplacedSlot = current.Name
	res.PreviousVersion = current.Version
	res.NewVersion = grace.Version

	grace.State = domain.SlotActive
	grace.GraceExpiresAt = nil
	grace.RolledBackAt = &now
	grace.RolledBackBy = actor
	current.State = domain.SlotDeployed
	registry.ActiveSlot = grace.Name

	if err := s.slots.UpdateRegistry(ctx, registry); err != nil {
		res.Error = err.Error()
		return res
	}

	event := domain.RollbackEvent{
		ProjectName: project,
		Environment: env,
		FromSlot:    res.DisplacedSlot,
		ToSlot:      res.RestoredSlot,
		FromVersion: res.PreviousVersion,
		ToVersion:   res.NewVersion,
		Actor:       actor,
		Reason:      reason,
		OccurredAt:  now,
	}
	if err := s.audit.Append(event); err != nil {
		s.logger.Warn("rollback audit append failed", "project", project, "environment", env, "error", err)
	}

	res.Success = true
	s.logger.Info("slot rolled back",
		"project", project, "environment", env,
		"restored_slot", grace.Name, "version", grace.Version,
		"displaced_slot", current.Name, "actor", actor, "reason", reason)
	return res
}
