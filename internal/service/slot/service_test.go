package slot

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"log/slog"

	"github.com/codeblabdev-max/codeb-server-sub015/internal/domain"
	"github.com/codeblabdev-max/codeb-server-sub015/internal/repository"
)

type fakeRegistryRepo struct {
	registries map[string]*domain.SlotRegistry
	getErr     error
	saveErr    error
	saveCalls  int
}

func newFakeRegistryRepo() *fakeRegistryRepo {
	return &fakeRegistryRepo{registries: map[string]*domain.SlotRegistry{}}
}

func (f *fakeRegistryRepo) key(project string, env domain.Environment) string {
	return project + "/" + string(env)
}

func (f *fakeRegistryRepo) GetRegistry(_ context.Context, project string, env domain.Environment) (*domain.SlotRegistry, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	reg, ok := f.registries[f.key(project, env)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *reg
	return &clone, nil
}

func (f *fakeRegistryRepo) SaveRegistry(_ context.Context, registry *domain.SlotRegistry) error {
	f.saveCalls++
	if f.saveErr != nil {
		return f.saveErr
	}
	clone := *registry
	f.registries[f.key(registry.ProjectName, registry.Environment)] = &clone
	return nil
}

func (f *fakeRegistryRepo) ListRegistriesByEnvironment(_ context.Context, env domain.Environment) ([]domain.SlotRegistry, error) {
	var out []domain.SlotRegistry
	for _, reg := range f.registries {
		if reg.Environment == env {
			out = append(out, *reg)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, repo repository.RegistryRepository) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(repo, NewMirror(t.TempDir()), logger, 48*time.Hour)
}

func TestInitializeSlotsStartsBlueActiveBothEmpty(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)

	registry, err := svc.InitializeSlots(context.Background(), "app1", domain.EnvProduction, 4100, "team-1")
	if err != nil {
		t.Fatalf("InitializeSlots: %v", err)
	}
	if registry.ActiveSlot != domain.SlotBlue {
		t.Fatalf("expected blue active, got %s", registry.ActiveSlot)
	}
	if registry.Blue.State != domain.SlotEmpty || registry.Green.State != domain.SlotEmpty {
		t.Fatalf("expected both slots empty, got %s/%s", registry.Blue.State, registry.Green.State)
	}
	if registry.Blue.Port != 4100 || registry.Green.Port != 4101 {
		t.Fatalf("expected ports 4100/4101, got %d/%d", registry.Blue.Port, registry.Green.Port)
	}
	if registry.LastUpdated.IsZero() {
		t.Fatal("expected lastUpdated to be stamped")
	}
}

func TestGetRegistryFallsBackToMirrorAndRepairsPrimary(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)

	seed := &domain.SlotRegistry{
		ProjectName: "app1",
		Environment: domain.EnvProduction,
		ActiveSlot:  domain.SlotBlue,
		Blue:        domain.Slot{Name: domain.SlotBlue, State: domain.SlotActive, Port: 4100, Version: "abc1234"},
		Green:       domain.Slot{Name: domain.SlotGreen, State: domain.SlotEmpty, Port: 4101},
	}
	if err := svc.mirror.Write(seed); err != nil {
		t.Fatalf("seed mirror: %v", err)
	}

	got, err := svc.GetRegistry(context.Background(), "app1", domain.EnvProduction)
	if err != nil {
		t.Fatalf("GetRegistry: %v", err)
	}
	if got.Blue.Version != "abc1234" {
		t.Fatalf("expected mirrored registry, got %+v", got)
	}
	if _, ok := repo.registries["app1/production"]; !ok {
		t.Fatal("expected primary store to be repaired from mirror")
	}
}

func TestGetRegistryMissingEverywhere(t *testing.T) {
	svc := newTestService(t, newFakeRegistryRepo())

	_, err := svc.GetRegistry(context.Background(), "ghost", domain.EnvStaging)
	if !errors.Is(err, ErrRegistryNotFound) {
		t.Fatalf("expected ErrRegistryNotFound, got %v", err)
	}
	// Transport layers rely on the not-found classification.
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrRegistryNotFound to wrap repository.ErrNotFound, got %v", err)
	}
}

func TestInitializeSlotsRejectsInvalidBasePort(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)

	for _, port := range []int{4101, 4098, 4298, 3100, 9000} {
		_, err := svc.InitializeSlots(context.Background(), "app1", domain.EnvProduction, port, "t1")
		if !errors.Is(err, ErrInvalidBasePort) {
			t.Errorf("basePort %d: expected ErrInvalidBasePort, got %v", port, err)
		}
	}
	if len(repo.registries) != 0 {
		t.Fatal("expected no registry written for rejected ports")
	}

	if _, err := svc.InitializeSlots(context.Background(), "app1", domain.EnvStaging, 3100, "t1"); err != nil {
		t.Fatalf("expected staging base inside its own range to pass, got %v", err)
	}
}

func TestUpdateRegistrySurvivesMirrorFailure(t *testing.T) {
	repo := newFakeRegistryRepo()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// Point the mirror at a path that cannot be a directory.
	svc := New(repo, NewMirror("/dev/null/registries"), logger, time.Hour)

	registry := &domain.SlotRegistry{
		ProjectName: "app1",
		Environment: domain.EnvStaging,
		ActiveSlot:  domain.SlotBlue,
		Blue:        domain.Slot{Name: domain.SlotBlue, State: domain.SlotEmpty, Port: 3100},
		Green:       domain.Slot{Name: domain.SlotGreen, State: domain.SlotEmpty, Port: 3101},
	}
	if err := svc.UpdateRegistry(context.Background(), registry); err != nil {
		t.Fatalf("expected mirror failure to be non-fatal, got %v", err)
	}
	if repo.saveCalls != 1 {
		t.Fatalf("expected one primary write, got %d", repo.saveCalls)
	}
}

func TestGetAvailablePortSkipsUsedPairs(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	if _, err := svc.InitializeSlots(ctx, "app1", domain.EnvProduction, 4100, "t1"); err != nil {
		t.Fatalf("init app1: %v", err)
	}
	if _, err := svc.InitializeSlots(ctx, "app2", domain.EnvProduction, 4102, "t1"); err != nil {
		t.Fatalf("init app2: %v", err)
	}

	port, err := svc.GetAvailablePort(ctx, domain.EnvProduction)
	if err != nil {
		t.Fatalf("GetAvailablePort: %v", err)
	}
	if port != 4104 {
		t.Fatalf("expected 4104, got %d", port)
	}

	// Staging has its own range, untouched by production allocations.
	stagingPort, err := svc.GetAvailablePort(ctx, domain.EnvStaging)
	if err != nil {
		t.Fatalf("GetAvailablePort staging: %v", err)
	}
	if stagingPort != 3100 {
		t.Fatalf("expected 3100, got %d", stagingPort)
	}
}

func TestUpdateSlotStateGraceComputesExpiry(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	if _, err := svc.InitializeSlots(ctx, "app1", domain.EnvProduction, 4100, "t1"); err != nil {
		t.Fatalf("init: %v", err)
	}

	grace := domain.SlotGrace
	before := time.Now().UTC()
	registry, err := svc.UpdateSlotState(ctx, "app1", domain.EnvProduction, domain.SlotBlue, Patch{State: &grace})
	if err != nil {
		t.Fatalf("UpdateSlotState: %v", err)
	}
	expires := registry.Blue.GraceExpiresAt
	if expires == nil {
		t.Fatal("expected graceExpiresAt to be set")
	}
	if expires.Before(before.Add(47*time.Hour)) || expires.After(before.Add(49*time.Hour)) {
		t.Fatalf("expected expiry about 48h out, got %v", expires)
	}
}

func TestUpdateSlotStateResetKeepsPort(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	if _, err := svc.InitializeSlots(ctx, "app1", domain.EnvProduction, 4100, "t1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	deployed := domain.SlotDeployed
	version := "abc1234"
	if _, err := svc.UpdateSlotState(ctx, "app1", domain.EnvProduction, domain.SlotGreen, Patch{State: &deployed, Version: &version}); err != nil {
		t.Fatalf("deploy green: %v", err)
	}

	registry, err := svc.UpdateSlotState(ctx, "app1", domain.EnvProduction, domain.SlotGreen, Patch{Reset: true})
	if err != nil {
		t.Fatalf("reset green: %v", err)
	}
	green := registry.Green
	if green.State != domain.SlotEmpty || green.Version != "" {
		t.Fatalf("expected empty reset slot, got %+v", green)
	}
	if green.Port != 4101 {
		t.Fatalf("expected port preserved on reset, got %d", green.Port)
	}
}

func TestUpdateSlotStateRejectsInvalidState(t *testing.T) {
	repo := newFakeRegistryRepo()
	svc := newTestService(t, repo)
	ctx := context.Background()

	if _, err := svc.InitializeSlots(ctx, "app1", domain.EnvProduction, 4100, "t1"); err != nil {
		t.Fatalf("init: %v", err)
	}
	bogus := domain.SlotState("purple")
	if _, err := svc.UpdateSlotState(ctx, "app1", domain.EnvProduction, domain.SlotBlue, Patch{State: &bogus}); err == nil {
		t.Fatal("expected invalid state to be rejected")
	}
}
