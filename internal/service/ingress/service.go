// Package ingress generates the per project+environment routing-rule
// documents for the fleet's nginx proxy and triggers reloads. A
// regenerated document always fully replaces the previous file.
package ingress

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/remote"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/config"
)

// Reloader asks the proxy to re-read its configuration without
// severing open connections.
type Reloader interface {
	Reload(ctx context.Context) error
	Close() error
}

// RoutingDoc describes one routing-rule document.
type RoutingDoc struct {
	File         string
	Project      string
	Environment  domain.Environment
	Domains      []string
	ActivePort   int
	BackupPort   int
	Version      string
	ActiveSlot   domain.SlotName
	HealthPath   string
	DisableCache bool
}

// Service writes routing documents through the remote executor.
type Service struct {
	executor remote.Executor
	reloader Reloader
	logger   *slog.Logger
	cfg      config.ServerConfig
}

// New constructs the ingress service. When a proxy container name is
// configured the reload is a docker SIGHUP, otherwise the configured
// reload command runs through the executor.
func New(executor remote.Executor, logger *slog.Logger, cfg config.ServerConfig) (*Service, error) {
	var reloader Reloader
	if name := strings.TrimSpace(cfg.NginxContainerName); name != "" {
		dr, err := newDockerReloader(name)
		if err != nil {
			return nil, err
		}
		reloader = dr
	} else {
		reloader = &remoteReloader{executor: executor, command: cfg.NginxReloadCommand, timeout: cfg.RemoteTimeout}
	}
	return &Service{executor: executor, reloader: reloader, logger: logger, cfg: cfg}, nil
}

// Apply writes the document to the proxy's conf directory and reloads.
func (s *Service) Apply(ctx context.Context, doc RoutingDoc) error {
	body := Render(doc)
	target := path.Join(s.cfg.NginxConfDir, FileName(doc))
	if err := s.writeFile(ctx, target, body); err != nil {
		return fmt.Errorf("write routing rule: %w", err)
	}
	if err := s.reloader.Reload(ctx); err != nil {
		return fmt.Errorf("reload proxy: %w", err)
	}
	s.logger.Info("routing rule applied", "project", doc.Project, "environment", doc.Environment, "file", target, "domains", strings.Join(doc.Domains, ","))
	return nil
}

// Remove deletes a routing document and reloads. A missing file is fine.
func (s *Service) Remove(ctx context.Context, fileName string) error {
	target := path.Join(s.cfg.NginxConfDir, fileName)
	cmd := fmt.Sprintf("rm -f %s", remote.Quote(target))
	if _, err := remote.RunChecked(ctx, s.executor, cmd, s.cfg.RemoteTimeout); err != nil {
		return fmt.Errorf("remove routing rule: %w", err)
	}
	return s.reloader.Reload(ctx)
}

// Close releases reloader resources.
func (s *Service) Close() error {
	if s.reloader == nil {
		return nil
	}
	return s.reloader.Close()
}

// FileName returns the conf file name for a document.
func FileName(doc RoutingDoc) string {
	if doc.File != "" {
		return doc.File
	}
	return fmt.Sprintf("%s-%s.conf", doc.Project, doc.Environment)
}

// PreviewFileName names the isolated rule for one preview id.
func PreviewFileName(project, previewID string) string {
	return fmt.Sprintf("%s-preview-%s.conf", project, previewID)
}

func (s *Service) writeFile(ctx context.Context, target, body string) error {
	encoded := base64.StdEncoding.EncodeToString([]byte(body))
	cmd := fmt.Sprintf("echo %s | base64 -d > %s", remote.Quote(encoded), remote.Quote(target))
	_, err := remote.RunChecked(ctx, s.executor, cmd, s.cfg.RemoteTimeout)
	return err
}

// remoteReloader runs the configured reload command on the fleet host.
type remoteReloader struct {
	executor remote.Executor
	command  string
	timeout  time.Duration
}

func (r *remoteReloader) Reload(ctx context.Context) error {
	_, err := remote.RunChecked(ctx, r.executor, r.command, r.timeout)
	return err
}

func (r *remoteReloader) Close() error { return nil }
