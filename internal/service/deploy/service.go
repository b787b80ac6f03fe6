// Package deploy runs the release pipeline that provisions a new
// version into the inactive slot of a project environment. The pipeline
// never touches the slot currently serving traffic; its output is a
// slot in deployed state, ready for promotion.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/lock"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/remote"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/envvars"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/ingress"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/ws"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/config"
)

// Pipeline step names, in execution order.
const (
	StepVerifyProject    = "verify_project"
	StepGetSlotStatus    = "get_slot_status"
	StepSelectSlot       = "select_slot"
	StepCreateRecord     = "create_deployment_record"
	StepPullImage        = "pull_image"
	StepCleanupContainer = "cleanup_container"
	StepSyncEnv          = "sync_env"
	StepStartContainer   = "start_container"
	StepHealthCheck      = "health_check"
	StepUpdateRegistry   = "update_registry"
	StepSetupPreview     = "setup_preview"
)

// ErrAccessDenied means the caller is outside the project's team scope.
var ErrAccessDenied = errors.New("deploy: access denied")

// Actor identifies the operator running the pipeline.
type Actor struct {
	UserID string
	TeamID string
	Role   string
}

// Elevated reports whether the actor bypasses team scoping.
func (a Actor) Elevated() bool {
	return a.Role == domain.RoleAdmin || a.Role == domain.RoleOperator
}

// Request describes one deploy.
type Request struct {
	ProjectName     string
	Environment     domain.Environment
	Version         string
	Image           string // optional explicit image reference
	SkipHealthCheck bool
	Actor           Actor
}

// Result is the structured outcome returned to callers. The step log is
// always populated so failures are attributable to one named step.
type Result struct {
	Success      bool                `json:"success"`
	DeploymentID string              `json:"deployment_id,omitempty"`
	Slot         domain.SlotName     `json:"slot,omitempty"`
	Port         int                 `json:"port,omitempty"`
	Version      string              `json:"version,omitempty"`
	Image        string              `json:"image,omitempty"`
	PreviewURL   string              `json:"preview_url,omitempty"`
	Steps        []domain.StepResult `json:"steps"`
	Error        string              `json:"error,omitempty"`
}

// Service orchestrates the deploy pipeline.
type Service struct {
	projects    repository.ProjectRepository
	deployments repository.DeploymentRepository
	slots       *slot.Service
	envs        *envvars.Service
	ingress     *ingress.Service
	executor    remote.Executor
	locker      lock.Locker
	hub         *ws.Hub
	logger      *slog.Logger
	cfg         config.ServerConfig
}

// New returns a deploy service.
func New(projects repository.ProjectRepository, deployments repository.DeploymentRepository, slots *slot.Service, envs *envvars.Service, ingressSvc *ingress.Service, executor remote.Executor, locker lock.Locker, hub *ws.Hub, logger *slog.Logger, cfg config.ServerConfig) *Service {
	return &Service{
		projects:    projects,
		deployments: deployments,
		slots:       slots,
		envs:        envs,
		ingress:     ingressSvc,
		executor:    executor,
		locker:      locker,
		hub:         hub,
		logger:      logger,
		cfg:         cfg,
	}
}

// Deploy executes the full pipeline. A failed step halts immediately
// and finalizes the audit record as failed; the step log is returned
// regardless of outcome.
func (s *Service) Deploy(ctx context.Context, req Request) Result {
	res := Result{Version: req.Version}
	if strings.TrimSpace(req.ProjectName) == "" || strings.TrimSpace(req.Version) == "" {
		res.Error = "project name and version are required"
		return res
	}
	if !req.Environment.Valid() {
		res.Error = fmt.Sprintf("unknown environment %q", req.Environment)
		return res
	}

	release, err := s.locker.Acquire(ctx, pairKey(req.ProjectName, req.Environment), s.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrBusy) {
			res.Error = "another pipeline is already running for this project environment"
		} else {
			res.Error = fmt.Sprintf("acquire pipeline lock: %v", err)
		}
		return res
	}
	defer release()

	run := newStepRun(s.hub, req.ProjectName, req.Environment)
	started := time.Now()
	var (
		project    *domain.Project
		registry   *domain.SlotRegistry
		target     *domain.Slot
		deployment *domain.Deployment
	)

	fail := func(err error) Result {
		res.Steps = run.steps
		res.Error = err.Error()
		s.finalize(deployment, run.steps, started, domain.DeploymentFailed)
		s.logger.Error("deploy failed", "project", req.ProjectName, "environment", req.Environment, "version", req.Version, "error", err)
		return res
	}

	// 1. verify_project: fail closed before touching any infrastructure.
	err = run.step(StepVerifyProject, func() (string, error) {
		p, err := s.projects.GetProjectByName(ctx, req.ProjectName)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return "", fmt.Errorf("project %s not found", req.ProjectName)
			}
			return "", err
		}
		if !req.Actor.Elevated() {
			if p.TeamID != req.Actor.TeamID {
				return "", fmt.Errorf("%w: project belongs to another team", ErrAccessDenied)
			}
			if _, err := s.projects.GetTeamMember(ctx, p.TeamID, req.Actor.UserID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return "", fmt.Errorf("%w: not a member of team %s", ErrAccessDenied, p.TeamID)
				}
				return "", err
			}
		}
		project = p
		return fmt.Sprintf("project %s verified (team %s)", p.Name, p.TeamID), nil
	})
	if err != nil {
		return fail(err)
	}

	// 2. get_slot_status: lazily initialize the registry on first deploy.
	err = run.step(StepGetSlotStatus, func() (string, error) {
		reg, err := s.slots.GetRegistry(ctx, req.ProjectName, req.Environment)
		if err != nil {
			if !errors.Is(err, slot.ErrRegistryNotFound) {
				return "", err
			}
			basePort, err := s.slots.GetAvailablePort(ctx, req.Environment)
			if err != nil {
				return "", err
			}
			reg, err = s.slots.InitializeSlots(ctx, req.ProjectName, req.Environment, basePort, project.TeamID)
			if err != nil {
				return "", err
			}
			registry = reg
			return fmt.Sprintf("registry initialized with ports %d/%d", basePort, basePort+1), nil
		}
		registry = reg
		return fmt.Sprintf("active slot is %s", reg.ActiveSlot), nil
	})
	if err != nil {
		return fail(err)
	}

	// 3. select_slot: always the slot opposite the active one.
	err = run.step(StepSelectSlot, func() (string, error) {
		target = registry.Standby()
		if target.State == domain.SlotActive {
			return "", fmt.Errorf("standby slot %s reports active state, registry inconsistent", target.Name)
		}
		res.Slot = target.Name
		res.Port = target.Port
		return fmt.Sprintf("target slot %s on port %d", target.Name, target.Port), nil
	})
	if err != nil {
		return fail(err)
	}

	// 4. create_deployment_record: persisted pending before any mutation.
	image := strings.TrimSpace(req.Image)
	if image == "" {
		image = fmt.Sprintf("%s/%s:%s", s.cfg.RegistryHost, req.ProjectName, req.Version)
	}
	res.Image = image
	err = run.step(StepCreateRecord, func() (string, error) {
		deployment = &domain.Deployment{
			ID:          uuid.NewString(),
			ProjectName: req.ProjectName,
			Environment: req.Environment,
			Slot:        target.Name,
			Version:     req.Version,
			Image:       image,
			DeployedBy:  req.Actor.UserID,
			Status:      domain.DeploymentPending,
			StartedAt:   started.UTC(),
		}
		if err := s.deployments.CreateDeployment(ctx, deployment); err != nil {
			return "", fmt.Errorf("create deployment record: %w", err)
		}
		res.DeploymentID = deployment.ID
		return deployment.ID, nil
	})
	if err != nil {
		return fail(err)
	}

	// 5. pull_image.
	err = run.step(StepPullImage, func() (string, error) {
		out, err := s.pullImage(ctx, image)
		if err != nil && req.Image == "" && s.cfg.FallbackRegistry != "" {
			fallback := fmt.Sprintf("%s/%s:%s", s.cfg.FallbackRegistry, req.ProjectName, req.Version)
			s.logger.Warn("primary registry pull failed, trying fallback", "image", image, "fallback", fallback, "error", err)
			if out2, err2 := s.pullImage(ctx, fallback); err2 == nil {
				image = fallback
				res.Image = fallback
				deployment.Image = fallback
				return out2, nil
			}
			return out, err
		}
		return out, err
	})
	if err != nil {
		return fail(err)
	}

	containerName := registry.ContainerName(target.Name)

	// 6. cleanup_container: absence of a prior container is success.
	err = run.step(StepCleanupContainer, func() (string, error) {
		cmd := fmt.Sprintf("docker rm -f %s", remote.Quote(containerName))
		out, err := s.executor.Run(ctx, cmd, s.cfg.RemoteTimeout)
		if err != nil {
			return "", err
		}
		if out.ExitCode != 0 {
			if strings.Contains(out.Stderr, "No such container") {
				return "no previous container", nil
			}
			return "", &remote.CommandError{Command: cmd, ExitCode: out.ExitCode, Stderr: out.Stderr}
		}
		return fmt.Sprintf("removed stale container %s", containerName), nil
	})
	if err != nil {
		return fail(err)
	}

	// 7. sync_env: authoritative store first, host file as bootstrap
	// fallback; never run with a silently empty environment.
	envFilePath := fmt.Sprintf("%s/%s-%s.env", s.cfg.EnvFileDir, req.ProjectName, req.Environment)
	err = run.step(StepSyncEnv, func() (string, error) {
		vars, err := s.envs.GetRaw(ctx, req.ProjectName, req.Environment)
		if err != nil {
			return "", err
		}
		source := "store"
		if len(vars) == 0 {
			hostVars, err := s.readHostEnvFile(ctx, envFilePath)
			if err != nil {
				return "", err
			}
			if len(hostVars) == 0 {
				return "", fmt.Errorf("no environment configured for %s/%s in store or on host", req.ProjectName, req.Environment)
			}
			if err := s.envs.Replace(ctx, req.ProjectName, req.Environment, hostVars, "host-file"); err != nil {
				return "", fmt.Errorf("back up host env file: %w", err)
			}
			vars = hostVars
			source = "host-file"
		}
		if err := s.writeHostEnvFile(ctx, envFilePath, vars); err != nil {
			return "", err
		}
		return fmt.Sprintf("%d variables materialized from %s", len(vars), source), nil
	})
	if err != nil {
		return fail(err)
	}

	// 8. start_container.
	err = run.step(StepStartContainer, func() (string, error) {
		out, err := remote.RunChecked(ctx, s.executor, s.runCommand(registry, target, image, envFilePath, deployment.ID, req.Version), s.cfg.RemoteTimeout)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(out.Stdout), nil
	})
	if err != nil {
		return fail(err)
	}

	// 9. health_check: on failure the fresh container is torn down
	// before the step is marked failed.
	healthStatus := "unknown"
	if req.SkipHealthCheck {
		run.skip(StepHealthCheck, "explicitly skipped by caller")
	} else {
		err = run.step(StepHealthCheck, func() (string, error) {
			status, err := s.waitHealthy(ctx, containerName, target.Port)
			if err != nil {
				s.teardownContainer(containerName)
				return "", err
			}
			healthStatus = status
			return fmt.Sprintf("container %s after %s probing", status, s.cfg.HealthPath), nil
		})
		if err != nil {
			return fail(err)
		}
	}

	// 10. update_registry: the hand-off point to promote.
	err = run.step(StepUpdateRegistry, func() (string, error) {
		now := time.Now().UTC()
		state := domain.SlotDeployed
		_, err := s.slots.UpdateSlotState(ctx, req.ProjectName, req.Environment, target.Name, slot.Patch{
			State:        &state,
			Version:      &req.Version,
			Image:        &image,
			DeployedAt:   &now,
			DeployedBy:   &req.Actor.UserID,
			HealthStatus: &healthStatus,
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("slot %s marked deployed", target.Name), nil
	})
	if err != nil {
		return fail(err)
	}

	// 11. setup_preview: best-effort, never fails the pipeline.
	if err := run.step(StepSetupPreview, func() (string, error) {
		url, err := s.setupPreview(ctx, req.ProjectName, req.Version, target.Port)
		if err != nil {
			return "", err
		}
		res.PreviewURL = url
		return url, nil
	}); err != nil {
		s.logger.Warn("preview setup failed", "project", req.ProjectName, "version", req.Version, "error", err)
	}

	res.Steps = run.steps
	res.Success = true
	s.finalize(deployment, run.steps, started, domain.DeploymentSuccess)
	s.logger.Info("deploy succeeded", "project", req.ProjectName, "environment", req.Environment, "slot", target.Name, "version", req.Version, "deployment_id", deployment.ID)
	return res
}

// ListByProject returns recent deployment audit rows.
func (s *Service) ListByProject(ctx context.Context, project string, env domain.Environment, limit int) ([]domain.Deployment, error) {
	return s.deployments.ListDeploymentsByProject(ctx, project, env, limit)
}

// GetByID fetches one deployment audit row.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Deployment, error) {
	return s.deployments.GetDeploymentByID(ctx, id)
}

func (s *Service) pullImage(ctx context.Context, image string) (string, error) {
	cmd := fmt.Sprintf("docker pull %s", remote.Quote(image))
	out, err := remote.RunChecked(ctx, s.executor, cmd, s.cfg.RemoteTimeout)
	if err != nil {
		return out.Stdout, err
	}
	return tail(out.Stdout, 3), nil
}

func (s *Service) runCommand(registry *domain.SlotRegistry, target *domain.Slot, image, envFilePath, deploymentID, version string) string {
	name := registry.ContainerName(target.Name)
	healthCmd := fmt.Sprintf("curl -fsS -m %d http://localhost:%d%s || exit 1",
		int(s.cfg.HealthTimeout.Seconds()), s.cfg.ContainerPort, s.cfg.HealthPath)
	return fmt.Sprintf(strings.Join([]string{
		"docker run -d --name %s",
		"--restart unless-stopped",
		"-p %d:%d",
		"--memory %s --cpus %s",
		"--env-file %s",
		"-l codeb.project=%s -l codeb.environment=%s -l codeb.slot=%s -l codeb.version=%s -l codeb.team=%s -l codeb.deployment=%s",
		"--health-cmd %s",
		"--health-interval %ds --health-timeout %ds --health-retries 3 --health-start-period %ds",
		"%s",
	}, " "),
		remote.Quote(name),
		target.Port, s.cfg.ContainerPort,
		s.cfg.MemoryLimit, s.cfg.CPULimit,
		remote.Quote(envFilePath),
		registry.ProjectName, registry.Environment, target.Name, version, registry.TeamID, deploymentID,
		remote.Quote(healthCmd),
		int(s.cfg.HealthInterval.Seconds()), int(s.cfg.HealthTimeout.Seconds()), int(s.cfg.HealthInitialDelay.Seconds()),
		remote.Quote(image),
	)
}

// waitHealthy polls the container's own health state and an HTTP probe
// with a hard attempt ceiling.
func (s *Service) waitHealthy(ctx context.Context, containerName string, port int) (string, error) {
	attempts := s.cfg.HealthMaxAttempts
	if attempts <= 0 {
		attempts = 30
	}
	interval := s.cfg.HealthInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	inspect := fmt.Sprintf("docker inspect --format '{{.State.Health.Status}}' %s", remote.Quote(containerName))
	probe := fmt.Sprintf("curl -fsS -m %d -o /dev/null -w '%%{http_code}' http://127.0.0.1:%d%s",
		int(s.cfg.HealthTimeout.Seconds()), port, s.cfg.HealthPath)

	var lastStatus string
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		out, err := s.executor.Run(ctx, inspect, s.cfg.RemoteTimeout)
		if err != nil {
			return "", err
		}
		lastStatus = strings.TrimSpace(out.Stdout)
		if out.ExitCode == 0 && lastStatus == "healthy" {
			httpOut, err := s.executor.Run(ctx, probe, s.cfg.RemoteTimeout)
			if err != nil {
				return "", err
			}
			if httpOut.ExitCode == 0 {
				return "healthy", nil
			}
			lastStatus = "http probe failed: " + strings.TrimSpace(httpOut.Stdout+" "+httpOut.Stderr)
		}
		if lastStatus == "unhealthy" {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}
	}
	return "", fmt.Errorf("container never became healthy after %d attempts (last: %s)", attempts, lastStatus)
}

func (s *Service) readHostEnvFile(ctx context.Context, path string) (map[string]string, error) {
	cmd := fmt.Sprintf("cat %s 2>/dev/null || true", remote.Quote(path))
	out, err := s.executor.Run(ctx, cmd, s.cfg.RemoteTimeout)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.Stdout) == "" {
		return nil, nil
	}
	return envvars.ParseEnvFile(out.Stdout), nil
}

func (s *Service) writeHostEnvFile(ctx context.Context, path string, vars map[string]string) error {
	body := envvars.RenderEnvFile(vars)
	encoded := base64Encode(body)
	cmd := fmt.Sprintf("mkdir -p %s && echo %s | base64 -d > %s && chmod 600 %s",
		remote.Quote(s.cfg.EnvFileDir), remote.Quote(encoded), remote.Quote(path), remote.Quote(path))
	_, err := remote.RunChecked(ctx, s.executor, cmd, s.cfg.RemoteTimeout)
	if err != nil {
		return fmt.Errorf("materialize env file: %w", err)
	}
	return nil
}

// teardownContainer removes a half-started container after a failed
// health gate. It runs on its own bounded context so a canceled caller
// cannot leave the container occupying the slot.
func (s *Service) teardownContainer(containerName string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RemoteTimeout)
	defer cancel()
	teardown := fmt.Sprintf("docker rm -f %s", remote.Quote(containerName))
	if _, err := s.executor.Run(ctx, teardown, s.cfg.RemoteTimeout); err != nil {
		s.logger.Warn("teardown of unhealthy container failed", "container", containerName, "error", err)
	}
}

func (s *Service) finalize(deployment *domain.Deployment, steps []domain.StepResult, started time.Time, status string) {
	if deployment == nil {
		return
	}
	now := time.Now().UTC()
	deployment.Status = status
	deployment.Steps = steps
	deployment.CompletedAt = &now
	deployment.DurationMS = time.Since(started).Milliseconds()

	// Finalization must not be lost to caller-side cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.deployments.FinalizeDeployment(ctx, deployment); err != nil {
		s.logger.Warn("finalize deployment record failed", "deployment_id", deployment.ID, "error", err)
	}
}

func pairKey(project string, env domain.Environment) string {
	return project + "/" + string(env)
}

func tail(s string, lines int) string {
	parts := strings.Split(strings.TrimSpace(s), "\n")
	if len(parts) <= lines {
		return strings.TrimSpace(s)
	}
	return strings.Join(parts[len(parts)-lines:], "\n")
}
