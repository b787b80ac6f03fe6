package domain

import "time"

// EnvBackup is a timestamped snapshot of an environment's variables,
// stored as an encrypted JSON blob.
type EnvBackup struct {
	ID          string
	ProjectName string
	Environment Environment
	Payload     []byte
	Source      string
	CreatedAt   time.Time
}

// Env diff classifications produced by scan.
const (
	EnvDiffAdded   = "added"
	EnvDiffRemoved = "removed"
	EnvDiffChanged = "changed"
	EnvDiffSame    = "same"
)

// EnvDiffEntry classifies one key across a local and server snapshot.
// Values are always masked before leaving the service.
type EnvDiffEntry struct {
	Key         string `json:"key"`
	Change      string `json:"change"`
	LocalValue  string `json:"local_value,omitempty"`
	ServerValue string `json:"server_value,omitempty"`
}
