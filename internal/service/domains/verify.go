package domains

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
)

// RecordCheck reports the verification outcome for one record type.
type RecordCheck struct {
	Type     string   `json:"type"`
	Passed   bool     `json:"passed"`
	Expected string   `json:"expected,omitempty"`
	Found    []string `json:"found,omitempty"`
}

// VerifyResult reports a domain verification attempt.
type VerifyResult struct {
	Success bool          `json:"success"`
	Domain  string        `json:"domain,omitempty"`
	Status  string        `json:"status,omitempty"`
	Checks  []RecordCheck `json:"checks,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Verify resolves the domain's address records, falling back to alias
// records, and reports pass/fail per record type. A passing custom
// domain transitions from pending to active.
func (s *Service) Verify(ctx context.Context, name string) VerifyResult {
	res := VerifyResult{Domain: name}
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

	passed := false
	addrs, err := s.resolver.LookupHost(ctx, name)
	check := RecordCheck{Type: "A", Expected: s.cfg.FleetAddress, Found: addrs}
	if err == nil {
		for _, addr := range addrs {
			if addr == s.cfg.FleetAddress {
				check.Passed = true
				passed = true
				break
			}
		}
	}
	res.Checks = append(res.Checks, check)

	if !passed {
		cname, err := s.resolver.LookupCNAME(ctx, name)
		aliasCheck := RecordCheck{Type: "CNAME"}
		if err == nil && cname != "" {
			aliasCheck.Found = []string{cname}
			target := strings.TrimSuffix(cname, ".")
			if strings.HasSuffix(target, s.cfg.BaseDomain) {
				aliasCheck.Passed = true
				passed = true
			}
			aliasCheck.Expected = "*." + s.cfg.BaseDomain
		}
		res.Checks = append(res.Checks, aliasCheck)
	}

	activated := false
	if passed {
		activated = cfg.Status != domain.DomainActive
		now := time.Now().UTC()
		cfg.Status = domain.DomainActive
		cfg.VerifiedAt = &now
	} else if cfg.Status != domain.DomainActive {
		cfg.Status = domain.DomainPending
	}
	if err := s.domains.UpsertDomain(ctx, cfg); err != nil {
		res.Error = err.Error()
		return res
	}

	// A newly active domain joins the routing document immediately.
	if activated {
		registry, err := s.slots.GetRegistry(ctx, cfg.ProjectName, cfg.Environment)
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if err := s.applyRouting(ctx, cfg.ProjectName, cfg.Environment, registry); err != nil {
			res.Error = err.Error()
			return res
		}
	}

	res.Success = passed
	res.Status = cfg.Status
	s.logger.Info("domain verification", "domain", name, "passed", passed, "status", cfg.Status)
	return res
}

// CertInfo is the believed certificate state for one domain.
type CertInfo struct {
	Domain  string `json:"domain"`
	SSL     bool   `json:"ssl"`
	Status  string `json:"status"`
	Managed bool   `json:"managed"`
}

// CertStatus reports believed certificate status for every domain
// attached to a project environment. Issuance and renewal are the
// proxy's own automatic behavior.
func (s *Service) CertStatus(ctx context.Context, project string, env domain.Environment) ([]CertInfo, error) {
	attached, err := s.domains.ListDomainsByTarget(ctx, project, env)
	if err != nil {
		return nil, err
	}
	infos := make([]CertInfo, 0, len(attached))
	for _, cfg := range attached {
		infos = append(infos, CertInfo{
			Domain:  cfg.Domain,
			SSL:     cfg.SSL,
			Status:  cfg.Status,
			Managed: cfg.Type == domain.DomainTypeSubdomain,
		})
	}
	return infos, nil
}
