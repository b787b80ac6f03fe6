package repository

import (
	"context"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
)

// ProjectRepository persists project metadata and team membership.
type ProjectRepository interface {
	GetProjectByName(ctx context.Context, name string) (*domain.Project, error)
	CreateProject(ctx context.Context, project *domain.Project) error
	GetTeamMember(ctx context.Context, teamID, userID string) (*domain.TeamMember, error)
}

// RegistryRepository is the primary store for slot registries.
type RegistryRepository interface {
	GetRegistry(ctx context.Context, project string, env domain.Environment) (*domain.SlotRegistry, error)
	SaveRegistry(ctx context.Context, registry *domain.SlotRegistry) error
	ListRegistriesByEnvironment(ctx context.Context, env domain.Environment) ([]domain.SlotRegistry, error)
}

// DeploymentRepository stores the append-only deployment audit rows.
type DeploymentRepository interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	FinalizeDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeploymentByID(ctx context.Context, id string) (*domain.Deployment, error)
	ListDeploymentsByProject(ctx context.Context, project string, env domain.Environment, limit int) ([]domain.Deployment, error)
}

// DomainRepository persists domain configurations.
type DomainRepository interface {
	GetDomain(ctx context.Context, name string) (*domain.DomainConfig, error)
	UpsertDomain(ctx context.Context, cfg *domain.DomainConfig) error
	DeleteDomain(ctx context.Context, name string) error
	ListDomainsByTarget(ctx context.Context, project string, env domain.Environment) ([]domain.DomainConfig, error)
}

// EnvRepository stores encrypted environment variables and their backups.
type EnvRepository interface {
	GetEnvVars(ctx context.Context, project string, env domain.Environment) (map[string][]byte, error)
	UpsertEnvVar(ctx context.Context, project string, env domain.Environment, key string, value []byte) error
	ReplaceEnvVars(ctx context.Context, project string, env domain.Environment, vars map[string][]byte) error
	InsertEnvBackup(ctx context.Context, backup *domain.EnvBackup) error
	ListEnvBackups(ctx context.Context, project string, env domain.Environment, limit int) ([]domain.EnvBackup, error)
}
