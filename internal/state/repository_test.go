package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/hallamshaw/lumen-core/internal/bus"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/database"
	_ "github.com/hallamshaw/lumen-core/migrations"
)

// openTestRepo opens a fresh SQLite database in a temp dir, applies the
// embedded migrations and returns a repository backed by it.
func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "state.db"),
		WALMode:     false,
		BusyTimeout: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

func testRoute(id string) bus.Route {
	return bus.Route{
		ID:     id,
		Source: "sensor.motion",
		Target: "lighting.hall",
		Event:  "triggered",
		Conditions: []bus.Condition{
			{Field: "payload.zone", Operator: bus.OpEquals, Value: "entrance"},
		},
		Merge:   map[string]any{"brightness": float64(80)},
		Enabled: true,
	}
}

func TestSQLiteRepository_SaveAndGetRoute(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	want := testRoute("motion-to-hall")
	if err := repo.SaveRoute(ctx, want); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}

	got, err := repo.GetRoute(ctx, "motion-to-hall")
	if err != nil {
		t.Fatalf("GetRoute() error = %v", err)
	}

	if got.ID != want.ID || got.Source != want.Source || got.Target != want.Target || got.Event != want.Event {
		t.Errorf("GetRoute() = %+v, want %+v", got, want)
	}
	if !got.Enabled {
		t.Error("GetRoute() Enabled = false, want true")
	}
	if len(got.Conditions) != 1 || got.Conditions[0].Field != "payload.zone" {
		t.Errorf("conditions not round-tripped: %+v", got.Conditions)
	}
	if got.Merge["brightness"] != float64(80) {
		t.Errorf("merge overlay not round-tripped: %+v", got.Merge)
	}
}

func TestSQLiteRepository_SaveRouteUpsert(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	route := testRoute("r1")
	if err := repo.SaveRoute(ctx, route); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}

	route.Target = "audio.ambient"
	route.Enabled = false
	if err := repo.SaveRoute(ctx, route); err != nil {
		t.Fatalf("SaveRoute() upsert error = %v", err)
	}

	got, err := repo.GetRoute(ctx, "r1")
	if err != nil {
		t.Fatalf("GetRoute() error = %v", err)
	}
	if got.Target != "audio.ambient" {
		t.Errorf("Target = %q, want audio.ambient", got.Target)
	}
	if got.Enabled {
		t.Error("Enabled = true, want false after upsert")
	}

	routes, err := repo.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() error = %v", err)
	}
	if len(routes) != 1 {
		t.Errorf("ListRoutes() returned %d routes, want 1", len(routes))
	}
}

func TestSQLiteRepository_GetRouteNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetRoute(context.Background(), "ghost")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("GetRoute() error = %v, want ErrRouteNotFound", err)
	}
}

func TestSQLiteRepository_DeleteRoute(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveRoute(ctx, testRoute("r1")); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}
	if err := repo.DeleteRoute(ctx, "r1"); err != nil {
		t.Fatalf("DeleteRoute() error = %v", err)
	}
	if _, err := repo.GetRoute(ctx, "r1"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("GetRoute() after delete error = %v, want ErrRouteNotFound", err)
	}

	if err := repo.DeleteRoute(ctx, "r1"); !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("DeleteRoute() twice error = %v, want ErrRouteNotFound", err)
	}
}

func TestSQLiteRepository_ListRoutesOrdered(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"charlie", "alpha", "bravo"} {
		if err := repo.SaveRoute(ctx, testRoute(id)); err != nil {
			t.Fatalf("SaveRoute(%q) error = %v", id, err)
		}
	}

	routes, err := repo.ListRoutes(ctx)
	if err != nil {
		t.Fatalf("ListRoutes() error = %v", err)
	}

	want := []string{"alpha", "bravo", "charlie"}
	if len(routes) != len(want) {
		t.Fatalf("ListRoutes() returned %d routes, want %d", len(routes), len(want))
	}
	for i, id := range want {
		if routes[i].ID != id {
			t.Errorf("routes[%d].ID = %q, want %q", i, routes[i].ID, id)
		}
	}
}

func TestSQLiteRepository_ModuleState(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	state := map[string]any{"ticks": float64(42), "phase": "running"}
	if err := repo.SaveModuleState(ctx, "pulse", state); err != nil {
		t.Fatalf("SaveModuleState() error = %v", err)
	}

	got, err := repo.GetModuleState(ctx, "pulse")
	if err != nil {
		t.Fatalf("GetModuleState() error = %v", err)
	}
	if got["ticks"] != float64(42) || got["phase"] != "running" {
		t.Errorf("GetModuleState() = %+v", got)
	}

	// Upsert replaces the whole blob.
	if err := repo.SaveModuleState(ctx, "pulse", map[string]any{"ticks": float64(43)}); err != nil {
		t.Fatalf("SaveModuleState() upsert error = %v", err)
	}
	got, err = repo.GetModuleState(ctx, "pulse")
	if err != nil {
		t.Fatalf("GetModuleState() after upsert error = %v", err)
	}
	if got["ticks"] != float64(43) {
		t.Errorf("ticks = %v, want 43", got["ticks"])
	}
	if _, exists := got["phase"]; exists {
		t.Error("stale key survived upsert")
	}
}

func TestSQLiteRepository_ModuleStateNotFound(t *testing.T) {
	repo := openTestRepo(t)

	_, err := repo.GetModuleState(context.Background(), "ghost")
	if !errors.Is(err, ErrModuleStateNotFound) {
		t.Errorf("GetModuleState() error = %v, want ErrModuleStateNotFound", err)
	}
}

func TestLoadRoutesInto(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2"} {
		if err := repo.SaveRoute(ctx, testRoute(id)); err != nil {
			t.Fatalf("SaveRoute(%q) error = %v", id, err)
		}
	}

	b := bus.New(bus.Config{})
	count, err := LoadRoutesInto(ctx, repo, b)
	if err != nil {
		t.Fatalf("LoadRoutesInto() error = %v", err)
	}
	if count != 2 {
		t.Errorf("LoadRoutesInto() count = %d, want 2", count)
	}
	if got := len(b.ListRoutes()); got != 2 {
		t.Errorf("bus has %d routes after replay, want 2", got)
	}
}

func TestLoadRoutesInto_InvalidRoute(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	// Persist a route that no longer passes validation (unknown operator)
	// to simulate a schema that drifted underneath the store.
	bad := testRoute("drifted")
	bad.Conditions[0].Operator = "approximately"
	if err := repo.SaveRoute(ctx, bad); err != nil {
		t.Fatalf("SaveRoute() error = %v", err)
	}

	b := bus.New(bus.Config{})
	if _, err := LoadRoutesInto(ctx, repo, b); err == nil {
		t.Error("LoadRoutesInto() expected error for invalid persisted route, got nil")
	}
}
