package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/service/slot"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/ws"
	"github.com/codeblabdev-max/codeb-server-sub015/pkg/jwt"
)

type fakeRegistryRepo struct {
	registries map[string]*domain.SlotRegistry
}

func (f *fakeRegistryRepo) GetRegistry(_ context.Context, project string, env domain.Environment) (*domain.SlotRegistry, error) {
	reg, ok := f.registries[project+"/"+string(env)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *reg
	return &clone, nil
}

func (f *fakeRegistryRepo) SaveRegistry(_ context.Context, registry *domain.SlotRegistry) error {
	clone := *registry
	f.registries[registry.ProjectName+"/"+string(registry.Environment)] = &clone
	return nil
}

func (f *fakeRegistryRepo) ListRegistriesByEnvironment(_ context.Context, _ domain.Environment) ([]domain.SlotRegistry, error) {
	return nil, nil
}

func newTestRouter(t *testing.T, dbHealth func(context.Context) error) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if dbHealth == nil {
		dbHealth = func(context.Context) error { return nil }
	}
	return NewRouter(logger, nil, nil, nil, nil, nil, ws.NewHub(), "test-secret", dbHealth)
}

func newTestRouterWithSlots(t *testing.T) *Router {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	regs := &fakeRegistryRepo{registries: map[string]*domain.SlotRegistry{}}
	slots := slot.New(regs, slot.NewMirror(t.TempDir()), logger, 48*time.Hour)
	return NewRouter(logger, nil, nil, slots, nil, nil, ws.NewHub(), "test-secret", func(context.Context) error { return nil })
}

func validToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.GenerateToken("user-1", "team-1", "member", "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func TestHealthzOK(t *testing.T) {
	router := newTestRouter(t, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestHealthzDegradedOnDatabaseFailure(t *testing.T) {
	router := newTestRouter(t, func(context.Context) error { return errors.New("connection refused") })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, nil)
	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/deploy"},
		{http.MethodPost, "/promote"},
		{http.MethodPost, "/rollback"},
		{http.MethodPost, "/cleanup"},
		{http.MethodGet, "/registry?project=app1&environment=production"},
		{http.MethodGet, "/env?project=app1&environment=production"},
	}
	for _, tc := range paths {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, header := range []string{"Bearer", "Basic abc", "Bearer not-a-jwt"} {
		req := httptest.NewRequest(http.MethodPost, "/promote", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}

	wrongSecret, err := jwt.GenerateToken("user-1", "team-1", "member", "other-secret", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/promote", nil)
	req.Header.Set("Authorization", "Bearer "+wrongSecret)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong secret, got %d", rec.Code)
	}
}

func TestPromoteValidatesBody(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/promote", strings.NewReader(`{"project":"app1"}`))
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing environment, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/promote", strings.NewReader(`{"project":"app1","environment":"qa"}`))
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown environment, got %d", rec.Code)
	}
}

func TestDeployRejectsUnknownFields(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/deploy", strings.NewReader(`{"project":"app1","environment":"production","version":"v1","bogus":true}`))
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestRegistryMissingReturnsNotFound(t *testing.T) {
	router := newTestRouterWithSlots(t)

	req := httptest.NewRequest(http.MethodGet, "/registry?project=app1&environment=production", nil)
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a missing registry, got %d", rec.Code)
	}
}

func TestRegistryInitValidatesBasePort(t *testing.T) {
	router := newTestRouterWithSlots(t)

	for _, port := range []int{4101, 9000, 3100} {
		body := strings.NewReader(`{"project":"app1","environment":"production","basePort":` + strconv.Itoa(port) + `}`)
		req := httptest.NewRequest(http.MethodPost, "/registry/init", body)
		req.Header.Set("Authorization", "Bearer "+validToken(t))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("basePort %d: expected 400, got %d", port, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/registry/init", strings.NewReader(`{"project":"app1","environment":"production","basePort":4200}`))
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for an aligned in-range port, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t, nil)

	req := httptest.NewRequest(http.MethodDelete, "/deploy", nil)
	req.Header.Set("Authorization", "Bearer "+validToken(t))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
