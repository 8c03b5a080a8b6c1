package state

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// mockRepository records SaveModuleState calls and can be told to fail.
type mockRepository struct {
	mu     sync.Mutex
	saves  map[string][]map[string]any
	failOn map[string]error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		saves:  make(map[string][]map[string]any),
		failOn: make(map[string]error),
	}
}

func (m *mockRepository) SaveModuleState(_ context.Context, moduleID string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[moduleID]; err != nil {
		return err
	}
	m.saves[moduleID] = append(m.saves[moduleID], state)
	return nil
}

func (m *mockRepository) saveCount(moduleID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves[moduleID])
}

func (m *mockRepository) lastSave(moduleID string) map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	saves := m.saves[moduleID]
	if len(saves) == 0 {
		return nil
	}
	return saves[len(saves)-1]
}

func (m *mockRepository) setFailure(moduleID string, err error) {
	m.mu.Lock()
	m.failOn[moduleID] = err
	m.mu.Unlock()
}

// Unused Repository methods.
func (m *mockRepository) SaveRoute(context.Context, bus.Route) error   { return nil }
func (m *mockRepository) DeleteRoute(context.Context, string) error    { return nil }
func (m *mockRepository) GetRoute(context.Context, string) (bus.Route, error) {
	return bus.Route{}, ErrRouteNotFound
}
func (m *mockRepository) ListRoutes(context.Context) ([]bus.Route, error) { return nil, nil }
func (m *mockRepository) GetModuleState(context.Context, string) (map[string]any, error) {
	return nil, ErrModuleStateNotFound
}

func TestAutosaver_FlushWritesDirtyState(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, time.Hour)

	a.Update("pulse", map[string]any{"ticks": 1})
	a.Update("fader", map[string]any{"level": 0.5})
	a.Flush(context.Background())

	if repo.saveCount("pulse") != 1 || repo.saveCount("fader") != 1 {
		t.Errorf("expected one save per module, got pulse=%d fader=%d",
			repo.saveCount("pulse"), repo.saveCount("fader"))
	}
}

func TestAutosaver_LatestUpdateWins(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, time.Hour)

	a.Update("pulse", map[string]any{"ticks": 1})
	a.Update("pulse", map[string]any{"ticks": 9})
	a.Flush(context.Background())

	if got := repo.saveCount("pulse"); got != 1 {
		t.Fatalf("save count = %d, want 1 (updates coalesce between flushes)", got)
	}
	if got := repo.lastSave("pulse"); got["ticks"] != 9 {
		t.Errorf("saved ticks = %v, want 9", got["ticks"])
	}
}

func TestAutosaver_FlushIsIdempotentWhenClean(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, time.Hour)

	a.Update("pulse", map[string]any{"ticks": 1})
	a.Flush(context.Background())
	a.Flush(context.Background())

	if got := repo.saveCount("pulse"); got != 1 {
		t.Errorf("save count = %d, want 1 (second flush had nothing dirty)", got)
	}
}

func TestAutosaver_RetainsEntryOnSaveFailure(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, time.Hour)

	repo.setFailure("pulse", errors.New("disk full"))
	a.Update("pulse", map[string]any{"ticks": 1})
	a.Flush(context.Background())

	if got := repo.saveCount("pulse"); got != 0 {
		t.Fatalf("save count = %d, want 0 while failing", got)
	}

	// Entry stays dirty; the next flush retries and succeeds.
	repo.setFailure("pulse", nil)
	a.Flush(context.Background())

	if got := repo.saveCount("pulse"); got != 1 {
		t.Errorf("save count after retry = %d, want 1", got)
	}
}

func TestAutosaver_RunFinalFlushOnCancel(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, time.Hour) // long interval: only the final flush fires

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Update("pulse", map[string]any{"ticks": 7})
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if got := repo.saveCount("pulse"); got != 1 {
		t.Errorf("save count = %d, want 1 from final flush", got)
	}
}

func TestAutosaver_RunPeriodicFlush(t *testing.T) {
	repo := newMockRepository()
	a := NewAutosaver(repo, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()

	a.Update("pulse", map[string]any{"ticks": 1})

	deadline := time.After(2 * time.Second)
	for repo.saveCount("pulse") == 0 {
		select {
		case <-deadline:
			t.Fatal("periodic flush never fired")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	<-done
}

func TestNewAutosaver_DefaultInterval(t *testing.T) {
	a := NewAutosaver(newMockRepository(), 0)
	if a.interval != defaultAutosaveInterval {
		t.Errorf("interval = %v, want %v", a.interval, defaultAutosaveInterval)
	}
}
