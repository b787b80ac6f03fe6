package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/deploy"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
)

type deployRequest struct {
	Project         string `json:"project"`
	Environment     string `json:"environment"`
	Version         string `json:"version"`
	Image           string `json:"image,omitempty"`
	SkipHealthCheck bool   `json:"skipHealthCheck,omitempty"`
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body deployRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env, err := domain.ParseEnvironment(body.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, ok := authInfoFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing auth context")
		return
	}
	result := r.deploy.Deploy(req.Context(), deploy.Request{
		ProjectName:     body.Project,
		Environment:     env,
		Version:         body.Version,
		Image:           body.Image,
		SkipHealthCheck: body.SkipHealthCheck,
		Actor: deploy.Actor{
			UserID: auth.UserID,
			TeamID: auth.TeamID,
			Role:   auth.Role,
		},
	})
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Router) handleDeployments(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	project, env, err := parseTarget(req)
	if err != nil || project == "" {
		writeError(w, http.StatusBadRequest, "project and environment query parameters required")
		return
	}
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	items, err := r.deploy.ListByProject(req.Context(), project, env, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list deployments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": items})
}

func (r *Router) handleDeploymentByID(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(req.URL.Path, "/deployments/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "deployment id required")
		return
	}
	deployment, err := r.deploy.GetByID(req.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load deployment")
		return
	}
	writeJSON(w, http.StatusOK, deployment)
}

type targetRequest struct {
	Project     string `json:"project"`
	Environment string `json:"environment"`
	Reason      string `json:"reason,omitempty"`
	Force       bool   `json:"force,omitempty"`
}

func (t targetRequest) parse() (string, domain.Environment, error) {
	env, err := domain.ParseEnvironment(t.Environment)
	if err != nil {
		return "", "", err
	}
	if strings.TrimSpace(t.Project) == "" {
		return "", "", errors.New("project is required")
	}
	return t.Project, env, nil
}

func (r *Router) handlePromote(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body targetRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, env, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, _ := authInfoFromContext(req.Context())
	result := r.releases.Promote(req.Context(), project, env, auth.UserID)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body targetRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, env, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	auth, _ := authInfoFromContext(req.Context())
	result := r.releases.Rollback(req.Context(), project, env, auth.UserID, body.Reason)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Router) handleCleanup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body targetRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	project, env, err := body.parse()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	result := r.releases.Cleanup(req.Context(), project, env, body.Force)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (r *Router) handleRegistry(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	project, env, err := parseTarget(req)
	if err != nil || project == "" {
		writeError(w, http.StatusBadRequest, "project and environment query parameters required")
		return
	}
	registry, err := r.slots.GetRegistry(req.Context(), project, env)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "registry not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load registry")
		return
	}
	writeJSON(w, http.StatusOK, registry)
}

type registryInitRequest struct {
	Project     string `json:"project"`
	Environment string `json:"environment"`
	BasePort    int    `json:"basePort,omitempty"`
}

func (r *Router) handleRegistryInit(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body registryInitRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env, err := domain.ParseEnvironment(body.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(body.Project) == "" {
		writeError(w, http.StatusBadRequest, "project is required")
		return
	}
	basePort := body.BasePort
	if basePort == 0 {
		basePort, err = r.slots.GetAvailablePort(req.Context(), env)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
	}
	auth, _ := authInfoFromContext(req.Context())
	registry, err := r.slots.InitializeSlots(req.Context(), body.Project, env, basePort, auth.TeamID)
	if err != nil {
		if errors.Is(err, slot.ErrInvalidBasePort) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to initialize slots")
		return
	}
	writeJSON(w, http.StatusCreated, registry)
}

type domainRequest struct {
	Domain      string `json:"domain"`
	Project     string `json:"project"`
	Environment string `json:"environment"`
}

func (r *Router) handleDomains(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		var body domainRequest
		if err := decodeJSON(req, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		env, err := domain.ParseEnvironment(body.Environment)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		result := r.domains.Setup(req.Context(), body.Domain, body.Project, env)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, result)
	case http.MethodGet:
		project, env, err := parseTarget(req)
		if err != nil || project == "" {
			writeError(w, http.StatusBadRequest, "project and environment query parameters required")
			return
		}
		certs, err := r.domains.CertStatus(req.Context(), project, env)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list domains")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"domains": certs})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleDomainSubroutes serves /domains/{name} DELETE and
// /domains/{name}/verify POST.
func (r *Router) handleDomainSubroutes(w http.ResponseWriter, req *http.Request) {
	rest := strings.TrimPrefix(req.URL.Path, "/domains/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "domain name required")
		return
	}
	if name, found := strings.CutSuffix(rest, "/verify"); found {
		if req.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		result := r.domains.Verify(req.Context(), name)
		status := http.StatusOK
		if !result.Success {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, result)
		return
	}
	if strings.Contains(rest, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if req.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	result := r.domains.Delete(req.Context(), rest)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

type envSetRequest struct {
	Project     string            `json:"project"`
	Environment string            `json:"environment"`
	Key         string            `json:"key,omitempty"`
	Value       string            `json:"value,omitempty"`
	Vars        map[string]string `json:"vars,omitempty"`
}

func (r *Router) handleEnv(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		project, env, err := parseTarget(req)
		if err != nil || project == "" {
			writeError(w, http.StatusBadRequest, "project and environment query parameters required")
			return
		}
		vars, err := r.envs.Get(req.Context(), project, env)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load environment variables")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"vars": vars})
	case http.MethodPut, http.MethodPost:
		var body envSetRequest
		if err := decodeJSON(req, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		env, err := domain.ParseEnvironment(body.Environment)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if len(body.Vars) > 0 {
			if err := r.envs.Replace(req.Context(), body.Project, env, body.Vars, "api"); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to replace environment variables")
				return
			}
		} else {
			if strings.TrimSpace(body.Key) == "" {
				writeError(w, http.StatusBadRequest, "key or vars required")
				return
			}
			if err := r.envs.Set(req.Context(), body.Project, env, body.Key, body.Value); err != nil {
				writeError(w, http.StatusInternalServerError, "failed to set environment variable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type envScanRequest struct {
	Project     string            `json:"project"`
	Environment string            `json:"environment"`
	Local       map[string]string `json:"local"`
}

func (r *Router) handleEnvScan(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body envScanRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	env, err := domain.ParseEnvironment(body.Environment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := r.envs.Scan(req.Context(), body.Project, env, body.Local)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to scan environment variables")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
