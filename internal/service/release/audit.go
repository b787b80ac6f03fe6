package release

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

// AuditLog is the append-only rollback journal: one JSON line per
// event, never rewritten, so rollback provenance survives any later
// registry overwrite.
type AuditLog struct {
	mu   sync.Mutex
	path string
}

// NewAuditLog returns a journal writing to path.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Append writes one event line.
func (a *AuditLog) Append(event domain.RollbackEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode rollback event: %w", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
