package domain

import "time"

// Project describes a deployable unit owned by a team.
type Project struct {
	Name      string
	TeamID    string
	Type      string
	CreatedAt time.Time
}

// TeamMember links a user to a team with a role.
type TeamMember struct {
	TeamID    string
	UserID    string
	Role      string
	CreatedAt time.Time
}

// Roles with elevated access bypass team scoping on deploys.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)
