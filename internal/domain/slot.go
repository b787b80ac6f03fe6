package domain

import (
	"fmt"
	"strings"
	"time"
)

// SlotName identifies one of the two fixed execution berths.
type SlotName string

const (
	SlotBlue  SlotName = "blue"
	SlotGreen SlotName = "green"
)

// Other returns the sibling slot name.
func (n SlotName) Other() SlotName {
	if n == SlotBlue {
		return SlotGreen
	}
	return SlotBlue
}

// Valid reports whether the name is a known slot.
func (n SlotName) Valid() bool {
	return n == SlotBlue || n == SlotGreen
}

// ParseSlotName validates a raw slot name.
func ParseSlotName(raw string) (SlotName, error) {
	name := SlotName(strings.ToLower(strings.TrimSpace(raw)))
	if !name.Valid() {
		return "", fmt.Errorf("unknown slot %q", raw)
	}
	return name, nil
}

// SlotState models the slot lifecycle.
type SlotState string

const (
	SlotEmpty    SlotState = "empty"
	SlotDeployed SlotState = "deployed"
	SlotActive   SlotState = "active"
	SlotGrace    SlotState = "grace"
)

// Valid reports whether the state is part of the closed lifecycle.
func (s SlotState) Valid() bool {
	switch s {
	case SlotEmpty, SlotDeployed, SlotActive, SlotGrace:
		return true
	}
	return false
}

// Environment is a deployment context with a reserved port range.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvStaging    Environment = "staging"
)

// Valid reports whether the environment is supported.
func (e Environment) Valid() bool {
	return e == EnvProduction || e == EnvStaging
}

// ParseEnvironment validates a raw environment name.
func ParseEnvironment(raw string) (Environment, error) {
	env := Environment(strings.ToLower(strings.TrimSpace(raw)))
	if !env.Valid() {
		return "", fmt.Errorf("unknown environment %q", raw)
	}
	return env, nil
}

// PortRange returns the inclusive bounds of the environment's reserved
// host port range. Slot pairs are allocated even-aligned within it.
func (e Environment) PortRange() (int, int) {
	switch e {
	case EnvStaging:
		return 3100, 3298
	default:
		return 4100, 4298
	}
}

// Slot describes one execution berth and its runtime bookkeeping.
type Slot struct {
	Name           SlotName   `json:"name"`
	State          SlotState  `json:"state"`
	Port           int        `json:"port"`
	Version        string     `json:"version,omitempty"`
	Image          string     `json:"image,omitempty"`
	DeployedAt     *time.Time `json:"deployedAt,omitempty"`
	DeployedBy     string     `json:"deployedBy,omitempty"`
	PromotedAt     *time.Time `json:"promotedAt,omitempty"`
	PromotedBy     string     `json:"promotedBy,omitempty"`
	RolledBackAt   *time.Time `json:"rolledBackAt,omitempty"`
	RolledBackBy   string     `json:"rolledBackBy,omitempty"`
	HealthStatus   string     `json:"healthStatus,omitempty"`
	GraceExpiresAt *time.Time `json:"graceExpiresAt,omitempty"`
}

// SlotRegistry is the per project+environment source of truth for both
// slots and which one serves production traffic.
type SlotRegistry struct {
	ProjectName string      `json:"projectName"`
	TeamID      string      `json:"teamId"`
	Environment Environment `json:"environment"`
	ActiveSlot  SlotName    `json:"activeSlot"`
	Blue        Slot        `json:"blue"`
	Green       Slot        `json:"green"`
	LastUpdated time.Time   `json:"lastUpdated"`
}

// Slot returns a pointer to the named slot record.
func (r *SlotRegistry) Slot(name SlotName) *Slot {
	if name == SlotGreen {
		return &r.Green
	}
	return &r.Blue
}

// Active returns the slot currently designated to serve traffic.
func (r *SlotRegistry) Active() *Slot {
	return r.Slot(r.ActiveSlot)
}

// Standby returns the slot opposite the active one.
func (r *SlotRegistry) Standby() *Slot {
	return r.Slot(r.ActiveSlot.Other())
}

// GraceSlot returns the slot in grace state, or nil when neither is.
func (r *SlotRegistry) GraceSlot() *Slot {
	if r.Blue.State == SlotGrace {
		return &r.Blue
	}
	if r.Green.State == SlotGrace {
		return &r.Green
	}
	return nil
}

// ContainerName is the stable process name a slot binds on the host.
func (r *SlotRegistry) ContainerName(name SlotName) string {
	return fmt.Sprintf("%s-%s-%s", r.ProjectName, r.Environment, name)
}
