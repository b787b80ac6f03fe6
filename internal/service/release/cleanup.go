package release

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/lock"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/remote"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
)

// CleanupResult reports a slot reclamation.
type CleanupResult struct {
	Success   bool            `json:"success"`
	Reclaimed bool            `json:"reclaimed"`
	Slot      domain.SlotName `json:"slot,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// Cleanup reclaims a grace slot whose expiry has passed (or is force
// overridden): the container is removed and the slot reset to empty.
// Nothing in grace, or a grace window still open, is a successful no-op.
func (s *Service) Cleanup(ctx context.Context, project string, env domain.Environment, force bool) CleanupResult {
	res := CleanupResult{}
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
		res.Success = true
		res.Message = "no slot in grace state"
		return res
	}
	if !force && grace.GraceExpiresAt != nil && grace.GraceExpiresAt.After(time.Now().UTC()) {
		res.Success = true
		res.Slot = grace.Name
		res.Message = fmt.Sprintf("grace window open until %s", grace.GraceExpiresAt.Format(time.RFC3339))
		return res
	}

	containerName := registry.ContainerName(grace.Name)
	cmd := fmt.Sprintf("docker rm -f %s", remote.Quote(containerName))
	out, err := s.executor.Run(ctx, cmd, s.cfg.RemoteTimeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if out.ExitCode != 0 && !strings.Contains(out.Stderr, "No such container") {
		res.Error = fmt.Sprintf("remove container %s: %s", containerName, strings.TrimSpace(out.Stderr))
		return res
	}

	if _, err := s.slots.UpdateSlotState(ctx, project, env, grace.Name, slot.Patch{Reset: true}); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Reclaimed = true
	res.Slot = grace.Name
	res.Message = fmt.Sprintf("slot %s reclaimed", grace.Name)
	s.logger.Info("grace slot reclaimed", "project", project, "environment", env, "slot", grace.Name, "forced", force)
	return res
}
