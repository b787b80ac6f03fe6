package deploy

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
)

var hexVersionExpr = regexp.MustCompile(`^[0-9a-f]{7,}$`)

// previewID derives a short identifier from the version string. Content
// hashes keep their prefix so retried deploys of the same version reuse
// the same preview URL; other version schemes get a random id.
func previewID(version string) (string, error) {
	if hexVersionExpr.MatchString(version) {
		return version[:7], nil
	}
	buf := make([]byte, 3)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// setupPreview writes an isolated routing rule exposing only the new
// slot's port, with caching disabled, so reviewers reach exactly the
// new build.
func (s *Service) setupPreview(ctx context.Context, project, version string, port int) (string, error) {
	id, err := previewID(version)
	if err != nil {
		return "", err
	}
	host := fmt.Sprintf("%s-%s.%s", project, id, s.cfg.PreviewDomain)
	doc := ingress.RoutingDoc{
		File:         ingress.PreviewFileName(project, id),
		Project:      project,
		Domains:      []string{host},
		ActivePort:   port,
		Version:      version,
		HealthPath:   s.cfg.HealthPath,
		DisableCache: true,
	}
	if err := s.ingress.Apply(ctx, doc); err != nil {
		return "", err
	}
	return "https://" + host, nil
}
