// Package domains manages DNS records and the routing-rule documents
// that make a project's slots reachable under human domain names.
// Certificate issuance is delegated to the proxy; this service only
// reports believed status.
package domains

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/dns"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/release"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/config"
)

var domainExpr = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)+$`)

// ErrPrimaryDomainProtected forbids deleting the canonical primary
// domain; the project must be reconfigured instead.
var ErrPrimaryDomainProtected = errors.New("domains: the canonical primary domain cannot be deleted")

// Resolver abstracts DNS resolution for verification.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
}

// Service coordinates domain setup, deletion and verification.
type Service struct {
	domains  repository.DomainRepository
	dns      *dns.Client
	ingress  *ingress.Service
	slots    *slot.Service
	resolver Resolver
	logger   *slog.Logger
	cfg      config.ServerConfig
}

// New constructs the domain service.
func New(domainRepo repository.DomainRepository, dnsClient *dns.Client, ingressSvc *ingress.Service, slots *slot.Service, resolver Resolver, logger *slog.Logger, cfg config.ServerConfig) *Service {
	return &Service{
		domains:  domainRepo,
		dns:      dnsClient,
		ingress:  ingressSvc,
		slots:    slots,
		resolver: resolver,
		logger:   logger,
		cfg:      cfg,
	}
}

// SetupResult reports a domain attachment.
type SetupResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain,omitempty"`
	Type    string `json:"type,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Setup validates and attaches a domain to a project environment. A
// subdomain of the managed base zone gets an A record immediately; an
// external custom domain stays pending until verified.
func (s *Service) Setup(ctx context.Context, name, project string, env domain.Environment) SetupResult {
	res := SetupResult{}
	name = strings.ToLower(strings.TrimSpace(name))
	if !domainExpr.MatchString(name) {
		res.Error = fmt.Sprintf("invalid domain name %q", name)
		return res
	}
	res.Domain = name

	registry, err := s.slots.GetRegistry(ctx, project, env)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	cfg := &domain.DomainConfig{
		Domain:      name,
		ProjectName: project,
		Environment: env,
		SSL:         true,
		CreatedAt:   time.Now().UTC(),
	}
	if strings.HasSuffix(name, "."+s.cfg.BaseDomain) {
		cfg.Type = domain.DomainTypeSubdomain
		zoneID, err := s.dns.ZoneID(ctx, s.cfg.BaseDomain)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		record, err := s.dns.EnsureRecord(ctx, zoneID, domain.DNSRecord{
			Type:    "A",
			Name:    name,
			Content: s.cfg.FleetAddress,
			TTL:     300,
		})
		if err != nil {
			res.Error = fmt.Sprintf("create dns record: %v", err)
			return res
		}
		now := time.Now().UTC()
		cfg.Records = []domain.DNSRecord{record}
		cfg.Status = domain.DomainActive
		cfg.VerifiedAt = &now
	} else {
		cfg.Type = domain.DomainTypeCustom
		cfg.Status = domain.DomainPending
	}

	if err := s.domains.UpsertDomain(ctx, cfg); err != nil {
		res.Error = err.Error()
		return res
	}
	if err := s.applyRouting(ctx, project, env, registry); err != nil {
		res.Error = err.Error()
		return res
	}

	res.Success = true
	res.Type = cfg.Type
	res.Status = cfg.Status
	s.logger.Info("domain attached", "domain", name, "project", project, "environment", env, "type", cfg.Type, "status", cfg.Status)
	return res
}

// DeleteResult reports a domain removal.
type DeleteResult struct {
	Success bool   `json:"success"`
	Domain  string `json:"domain,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Delete detaches a domain, removes it from the routing document,
// reloads the proxy, and deletes the DNS record for managed subdomains.
func (s *Service) Delete(ctx context.Context, name string) DeleteResult {
	res := DeleteResult{Domain: name}
	name = strings.ToLower(strings.TrimSpace(name))

	cfg, err := s.domains.GetDomain(ctx, name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			res.Error = fmt.Sprintf("domain %s not found", name)
		} else {
			res.Error = err.Error()
		}
		return res
	}
	if name == release.PrimaryDomain(cfg.ProjectName, cfg.Environment, s.cfg.BaseDomain) {
		res.Error = ErrPrimaryDomainProtected.Error()
		return res
	}

	if err := s.domains.DeleteDomain(ctx, name); err != nil {
		res.Error = err.Error()
		return res
	}

	registry, err := s.slots.GetRegistry(ctx, cfg.ProjectName, cfg.Environment)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if err := s.applyRouting(ctx, cfg.ProjectName, cfg.Environment, registry); err != nil {
		res.Error = err.Error()
		return res
	}

	if cfg.Type == domain.DomainTypeSubdomain {
		zoneID, err := s.dns.ZoneID(ctx, s.cfg.BaseDomain)
		if err != nil {
			s.logger.Warn("zone lookup failed during domain delete", "domain", name, "error", err)
		} else {
			for _, record := range cfg.Records {
				if record.ID == "" {
					continue
				}
				if err := s.dns.DeleteRecord(ctx, zoneID, record.ID); err != nil {
					s.logger.Warn("dns record delete failed", "domain", name, "record", record.ID, "error", err)
				}
			}
		}
	}

	res.Success = true
	s.logger.Info("domain detached", "domain", name, "project", cfg.ProjectName, "environment", cfg.Environment)
	return res
}

// applyRouting regenerates the unified routing document for a project
// environment: the shared server_name set, active slot first with the
// standby as failover.
func (s *Service) applyRouting(ctx context.Context, project string, env domain.Environment, registry *domain.SlotRegistry) error {
	names, err := release.RoutingDomains(ctx, s.domains, project, env, s.cfg.BaseDomain)
	if err != nil {
		return err
	}
	active := registry.Active()
	standby := registry.Standby()
	doc := ingress.RoutingDoc{
		Project:     project,
		Environment: env,
		Domains:     names,
		ActivePort:  active.Port,
		BackupPort:  standby.Port,
		Version:     active.Version,
		ActiveSlot:  active.Name,
		HealthPath:  s.cfg.HealthPath,
	}
	return s.ingress.Apply(ctx, doc)
}
