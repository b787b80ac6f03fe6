package slot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
)

// Mirror is the secondary, file-backed copy of the slot registries.
// One JSON file per (project, environment), written atomically.
type Mirror struct {
	dir string
}

// NewMirror returns a mirror rooted at dir.
func NewMirror(dir string) *Mirror {
	return &Mirror{dir: dir}
}

func (m *Mirror) path(project string, env domain.Environment) string {
	return filepath.Join(m.dir, fmt.Sprintf("%s-%s.json", project, env))
}

// Read loads a mirrored registry. Missing files map to ErrNotFound.
func (m *Mirror) Read(project string, env domain.Environment) (*domain.SlotRegistry, error) {
	data, err := os.ReadFile(m.path(project, env))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("read registry mirror: %w", err)
	}
	var reg domain.SlotRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry mirror: %w", err)
	}
	return &reg, nil
}

// Write encodes the registry and replaces the mirror file atomically.
func (m *Mirror) Write(registry *domain.SlotRegistry) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	data, err := json.MarshalIndent(registry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	target := m.path(registry.ProjectName, registry.Environment)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write registry mirror: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("replace registry mirror: %w", err)
	}
	return nil
}
