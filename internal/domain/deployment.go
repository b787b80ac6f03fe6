package domain

import "time"

// Deployment status values.
const (
	DeploymentPending = "pending"
	DeploymentSuccess = "success"
	DeploymentFailed  = "failed"
)

// Step status values.
const (
	StepPending = "pending"
	StepRunning = "running"
	StepSuccess = "success"
	StepFailed  = "failed"
	StepSkipped = "skipped"
)

// StepResult records the outcome of one pipeline step.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Deployment is the append-only audit row for one deploy attempt. It is
// created pending before any remote mutation and finalized exactly once.
type Deployment struct {
	ID          string
	ProjectName string
	Environment Environment
	Slot        SlotName
	Version     string
	Image       string
	DeployedBy  string
	Status      string
	Steps       []StepResult
	StartedAt   time.Time
	CompletedAt *time.Time
	DurationMS  int64
}

// RollbackEvent is one immutable audit line describing a traffic revert.
type RollbackEvent struct {
	ProjectName string      `json:"project"`
	Environment Environment `json:"environment"`
	FromSlot    SlotName    `json:"from_slot"`
	ToSlot      SlotName    `json:"to_slot"`
	FromVersion string      `json:"from_version"`
	ToVersion   string      `json:"to_version"`
	Actor       string      `json:"actor"`
	Reason      string      `json:"reason,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}
