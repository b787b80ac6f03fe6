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

// PromoteResult reports a completed traffic switch.
type PromoteResult struct {
	Success         bool            `json:"success"`
	PreviousSlot    domain.SlotName `json:"previous_slot,omitempty"`
	NewSlot         domain.SlotName `json:"new_slot,omitempty"`
	PreviousVersion string          `json:"previous_version,omitempty"`
	NewVersion      string          `json:"new_version,omitempty"`
	URL             string          `json:"url,omitempty"`
	Error           string          `json:"error,omitempty"`
}

// Promote switches production traffic from the active slot to the
// deployed standby slot. The standby must be in deployed state and pass
// one final independent health probe; only then is routing regenerated,
// the proxy reloaded, and the registry flipped atomically.
func (s *Service) Promote(ctx context.Context, project string, env domain.Environment, actor string) PromoteResult {
	res := PromoteResult{}
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
	standby := registry.Standby()
	active := registry.Active()
	if standby.State != domain.SlotDeployed {
		res.Error = fmt.Sprintf("%v (slot %s is %s)", ErrSlotNotDeployed, standby.Name, standby.State)
		return res
	}

	// Final gate before any traffic moves.
	if err := s.probeSlot(ctx, standby.Port); err != nil {
		res.Error = fmt.Sprintf("promote aborted, standby unhealthy: %v", err)
		return res
	}

	// Point routing at the new slot, keeping the outgoing slot as a
	// failover target during the transition.
	doc := ingress.RoutingDoc{
		Project:     project,
		Environment: env,
		Domains:     s.routingDomains(ctx, project, env),
		ActivePort:  standby.Port,
		BackupPort:  active.Port,
		Version:     standby.Version,
		ActiveSlot:  standby.Name,
		HealthPath:  s.cfg.HealthPath,
	}
	if err := s.ingress.Apply(ctx, doc); err != nil {
		res.Error = fmt.Sprintf("routing switch failed: %v", err)
		return res
	}

	now := time.Now().UTC()
	res.PreviousSlot = active.Name
	res.PreviousVersion = active.Version
	res.NewSlot = standby.Name
	res.NewVersion = standby.Version

	standby.State = domain.SlotActive
	standby.PromotedAt = &now
	standby.PromotedBy = actor
	standby.GraceExpiresAt = nil
	if active.Version != "" {
		expires := now.Add(s.cfg.GraceWindow)
		active.State = domain.SlotGrace
		active.GraceExpiresAt = &expires
	} else {
		// Nothing ever ran here; there is no build to hold in grace.
		active.State = domain.SlotEmpty
	}
	registry.ActiveSlot = standby.Name

	if err := s.slots.UpdateRegistry(ctx, registry); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.URL = "https://" + PrimaryDomain(project, env, s.cfg.BaseDomain)
	s.logger.Info("slot promoted",
		"project", project, "environment", env,
		"slot", standby.Name, "version", standby.Version,
		"previous_slot", res.PreviousSlot, "previous_version", res.PreviousVersion,
		"actor", actor)
	return res
}
