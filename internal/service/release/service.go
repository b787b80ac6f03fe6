// Package release handles the traffic-switch protocol: promoting a
// deployed standby slot, rolling back to a grace slot, and reclaiming
// expired grace slots.
package release

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/lock"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/remote"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/config"
)

var (
	// ErrSlotNotDeployed means the standby slot holds nothing promotable.
	ErrSlotNotDeployed = errors.New("release: standby slot is not in deployed state, run a deploy first")
	// ErrNoGraceSlot means there is nothing to revert to.
	ErrNoGraceSlot = errors.New("release: no slot is holding a grace window, nothing to roll back to")
)

// Service performs promote, rollback and cleanup operations.
type Service struct {
	slots    *slot.Service
	domains  repository.DomainRepository
	ingress  *ingress.Service
	executor remote.Executor
	locker   lock.Locker
	audit    *AuditLog
	logger   *slog.Logger
	cfg      config.ServerConfig
}

// New constructs the release service.
func New(slots *slot.Service, domains repository.DomainRepository, ingressSvc *ingress.Service, executor remote.Executor, locker lock.Locker, audit *AuditLog, logger *slog.Logger, cfg config.ServerConfig) *Service {
	return &Service{
		slots:    slots,
		domains:  domains,
		ingress:  ingressSvc,
		executor: executor,
		locker:   locker,
		audit:    audit,
		logger:   logger,
		cfg:      cfg,
	}
}

// PrimaryDomain derives the canonical primary domain for a project
// environment. Production omits the environment suffix.
func PrimaryDomain(project string, env domain.Environment, baseDomain string) string {
	if env == domain.EnvProduction {
		return fmt.Sprintf("%s.%s", project, baseDomain)
	}
	return fmt.Sprintf("%s-%s.%s", project, env, baseDomain)
}

// RoutingDomains collects the server_name set for the unified routing
// rule: the primary domain plus attached domains that have reached
// active status. Pending domains stay out until verified so every
// caller regenerates the same document.
func RoutingDomains(ctx context.Context, repo repository.DomainRepository, project string, env domain.Environment, baseDomain string) ([]string, error) {
	names := []string{PrimaryDomain(project, env, baseDomain)}
	attached, err := repo.ListDomainsByTarget(ctx, project, env)
	if err != nil {
		return names, err
	}
	for _, cfg := range attached {
		if cfg.Domain == names[0] || cfg.Status != domain.DomainActive {
			continue
		}
		names = append(names, cfg.Domain)
	}
	return names, nil
}

func (s *Service) routingDomains(ctx context.Context, project string, env domain.Environment) []string {
	names, err := RoutingDomains(ctx, s.domains, project, env, s.cfg.BaseDomain)
	if err != nil {
		s.logger.Warn("list attached domains failed", "project", project, "environment", env, "error", err)
	}
	return names
}

// probeSlot runs one independent health probe against a slot's
// externally reachable port.
func (s *Service) probeSlot(ctx context.Context, port int) error {
	cmd := fmt.Sprintf("curl -fsS -m %d -o /dev/null http://127.0.0.1:%d%s",
		int(s.cfg.PromoteProbeTimeout.Seconds()), port, s.cfg.HealthPath)
	out, err := s.executor.Run(ctx, cmd, s.cfg.RemoteTimeout)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		detail := strings.TrimSpace(out.Stderr)
		if detail == "" {
			detail = "probe returned no output"
		}
		return fmt.Errorf("health probe on port %d failed: %s", port, detail)
	}
	return nil
}

func pairKey(project string, env domain.Environment) string {
	return project + "/" + string(env)
}
