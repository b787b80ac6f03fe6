package httpx

import (
	"context"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/deploy"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/domains"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/envvars"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/release"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/ws"
)

const healthCheckTimeout = 2 * time.Second

// Router wires HTTP endpoints to services.
type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	deploy    *deploy.Service
	releases  *release.Service
	slots     *slot.Service
	domains   *domains.Service
	envs      *envvars.Service
	hub       *ws.Hub
	upgrader  websocket.Upgrader
	jwtSecret string
	dbHealth  func(context.Context) error
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, deploySvc *deploy.Service, releaseSvc *release.Service, slotSvc *slot.Service, domainSvc *domains.Service, envSvc *envvars.Service, hub *ws.Hub, jwtSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		deploy:   deploySvc,
		releases: releaseSvc,
		slots:    slotSvc,
		domains:  domainSvc,
		envs:     envSvc,
		hub:      hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		jwtSecret: jwtSecret,
		dbHealth:  dbHealth,
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.handleHealthz)
	r.mux.HandleFunc("/deploy", r.requireAuth(r.handleDeploy))
	r.mux.HandleFunc("/deployments", r.requireAuth(r.handleDeployments))
	r.mux.HandleFunc("/deployments/", r.requireAuth(r.handleDeploymentByID))
	r.mux.HandleFunc("/promote", r.requireAuth(r.handlePromote))
	r.mux.HandleFunc("/rollback", r.requireAuth(r.handleRollback))
	r.mux.HandleFunc("/cleanup", r.requireAuth(r.handleCleanup))
	r.mux.HandleFunc("/registry", r.requireAuth(r.handleRegistry))
	r.mux.HandleFunc("/registry/init", r.requireAuth(r.handleRegistryInit))
	r.mux.HandleFunc("/domains", r.requireAuth(r.handleDomains))
	r.mux.HandleFunc("/domains/", r.requireAuth(r.handleDomainSubroutes))
	r.mux.HandleFunc("/env", r.requireAuth(r.handleEnv))
	r.mux.HandleFunc("/env/scan", r.requireAuth(r.handleEnvScan))
	r.mux.HandleFunc("/ws/deployments", r.requireAuth(r.handleDeployWS))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if err := r.dbHealth(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func parseTarget(req *http.Request) (string, domain.Environment, error) {
	project := strings.TrimSpace(req.URL.Query().Get("project"))
	env, err := domain.ParseEnvironment(req.URL.Query().Get("environment"))
	if err != nil {
		return "", "", err
	}
	return project, env, nil
}

// wsClientStream registers a websocket client on the hub for one
// project environment stream until the connection drops.
func (r *Router) handleDeployWS(w http.ResponseWriter, req *http.Request) {
	project, env, err := parseTarget(req)
	if err != nil || project == "" {
		writeError(w, http.StatusBadRequest, "project and environment query parameters required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	stream := project + "/" + string(env)
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(stream, client)
	defer r.hub.Unregister(stream, client)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
