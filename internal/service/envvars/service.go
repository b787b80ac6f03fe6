// Package envvars is the authoritative store for per-environment
// configuration. Values are AES-GCM encrypted at rest and masked in
// every operator-facing output.
package envvars

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"log/slog"

	"github.com/google/uuid"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/crypto"
)

var sensitiveKeyExpr = regexp.MustCompile(`(?i)(secret|password|passwd|key|token|credential|private)`)

// Service mediates environment variable access.
type Service struct {
	envs   repository.EnvRepository
	logger *slog.Logger
	secret string
}

// New constructs the service with the encryption secret.
func New(envs repository.EnvRepository, logger *slog.Logger, secret string) *Service {
	return &Service{envs: envs, logger: logger, secret: secret}
}

// Get returns the authoritative snapshot with sensitive values masked.
func (s *Service) Get(ctx context.Context, project string, env domain.Environment) (map[string]string, error) {
	vars, err := s.GetRaw(ctx, project, env)
	if err != nil {
		return nil, err
	}
	masked := make(map[string]string, len(vars))
	for key, value := range vars {
		if IsSensitiveKey(key) {
			masked[key] = MaskValue(value)
		} else {
			masked[key] = value
		}
	}
	return masked, nil
}

// GetRaw returns the decrypted snapshot. For internal pipeline use only.
func (s *Service) GetRaw(ctx context.Context, project string, env domain.Environment) (map[string]string, error) {
	encrypted, err := s.envs.GetEnvVars(ctx, project, env)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}
	vars := make(map[string]string, len(encrypted))
	for key, payload := range encrypted {
		plain, err := crypto.DecryptToString(s.secret, payload)
		if err != nil {
			return nil, fmt.Errorf("decrypt %s: %w", key, err)
		}
		vars[key] = plain
	}
	return vars, nil
}

// Set writes a single key without clobbering siblings, and records a
// backup snapshot of the resulting state.
func (s *Service) Set(ctx context.Context, project string, env domain.Environment, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: variable key required", repository.ErrInvalidArgument)
	}
	encrypted, err := crypto.EncryptString(s.secret, value)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", key, err)
	}
	if err := s.envs.UpsertEnvVar(ctx, project, env, key, encrypted); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	vars, err := s.GetRaw(ctx, project, env)
	if err != nil {
		s.logger.Warn("env backup snapshot skipped", "project", project, "environment", env, "error", err)
		return nil
	}
	if err := s.Backup(ctx, project, env, vars, "set"); err != nil {
		s.logger.Warn("env backup failed", "project", project, "environment", env, "error", err)
	}
	return nil
}

// Replace swaps the entire variable set and records a backup.
func (s *Service) Replace(ctx context.Context, project string, env domain.Environment, vars map[string]string, source string) error {
	encrypted := make(map[string][]byte, len(vars))
	for key, value := range vars {
		payload, err := crypto.EncryptString(s.secret, value)
		if err != nil {
			return fmt.Errorf("encrypt %s: %w", key, err)
		}
		encrypted[key] = payload
	}
	if err := s.envs.ReplaceEnvVars(ctx, project, env, encrypted); err != nil {
		return fmt.Errorf("replace env vars: %w", err)
	}
	if err := s.Backup(ctx, project, env, vars, source); err != nil {
		s.logger.Warn("env backup failed", "project", project, "environment", env, "error", err)
	}
	return nil
}

// Backup appends one encrypted snapshot to the ordered history.
func (s *Service) Backup(ctx context.Context, project string, env domain.Environment, vars map[string]string, source string) error {
	blob, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	payload, err := crypto.EncryptString(s.secret, string(blob))
	if err != nil {
		return err
	}
	return s.envs.InsertEnvBackup(ctx, &domain.EnvBackup{
		ID:          uuid.NewString(),
		ProjectName: project,
		Environment: env,
		Payload:     payload,
		Source:      source,
	})
}

// Scan diffs a caller-supplied local snapshot against the authoritative
// one. Every key present in either snapshot appears exactly once, with
// all values masked.
func (s *Service) Scan(ctx context.Context, project string, env domain.Environment, local map[string]string) ([]domain.EnvDiffEntry, error) {
	server, err := s.GetRaw(ctx, project, env)
	if err != nil {
		return nil, err
	}

	keys := make(map[string]struct{}, len(local)+len(server))
	for key := range local {
		keys[key] = struct{}{}
	}
	for key := range server {
		keys[key] = struct{}{}
	}
	ordered := make([]string, 0, len(keys))
	for key := range keys {
		ordered = append(ordered, key)
	}
	sort.Strings(ordered)

	entries := make([]domain.EnvDiffEntry, 0, len(ordered))
	for _, key := range ordered {
		localValue, inLocal := local[key]
		serverValue, inServer := server[key]
		entry := domain.EnvDiffEntry{Key: key}
		switch {
		case inLocal && !inServer:
			entry.Change = domain.EnvDiffAdded
			entry.LocalValue = MaskValue(localValue)
		case !inLocal && inServer:
			entry.Change = domain.EnvDiffRemoved
			entry.ServerValue = MaskValue(serverValue)
		case localValue != serverValue:
			entry.Change = domain.EnvDiffChanged
			entry.LocalValue = MaskValue(localValue)
			entry.ServerValue = MaskValue(serverValue)
		default:
			entry.Change = domain.EnvDiffSame
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// IsSensitiveKey reports whether a key name looks like a credential.
func IsSensitiveKey(key string) bool {
	return sensitiveKeyExpr.MatchString(key)
}

// MaskValue hides the middle of a value, keeping short context at the
// edges. Short values are fully masked.
func MaskValue(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:3] + "****" + value[len(value)-3:]
}

// RenderEnvFile serializes a snapshot as KEY=VALUE lines sorted by key.
func RenderEnvFile(vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(vars[key])
		b.WriteByte('\n')
	}
	return b.String()
}

// ParseEnvFile reads KEY=VALUE lines, skipping comments and blanks.
func ParseEnvFile(content string) map[string]string {
	vars := make(map[string]string)
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		vars[key] = value
	}
	return vars
}
