package module

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// fakeModule records lifecycle calls and handled messages.
type fakeModule struct {
	id   string
	kind string

	mu       sync.Mutex
	started  bool
	stopped  bool
	env      Environment
	handled  []bus.Message
	startErr error
}

func (f *fakeModule) ID() string   { return f.id }
func (f *fakeModule) Kind() string { return f.kind }

func (f *fakeModule) Start(_ context.Context, env Environment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	f.env = env
	return nil
}

func (f *fakeModule) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeModule) Handle(msg bus.Message) error {
	f.mu.Lock()
	f.handled = append(f.handled, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeModule) handledCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handled)
}

// fakeFactory returns the given module and remembers it for assertions.
func fakeFactory(kind string) (Factory, *sync.Map) {
	built := &sync.Map{}
	return func(id string, _ map[string]any) (Module, error) {
		m := &fakeModule{id: id, kind: kind}
		built.Store(id, m)
		return m, nil
	}, built
}

func builtModule(t *testing.T, built *sync.Map, id string) *fakeModule {
	t.Helper()
	v, ok := built.Load(id)
	if !ok {
		t.Fatalf("module %q was never built", id)
	}
	return v.(*fakeModule)
}

// memoryStore implements StateStore and StateLoader in memory.
type memoryStore struct {
	mu     sync.Mutex
	states map[string]map[string]any
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]map[string]any)}
}

func (s *memoryStore) Update(moduleID string, state map[string]any) {
	s.mu.Lock()
	s.states[moduleID] = state
	s.mu.Unlock()
}

func (s *memoryStore) GetModuleState(_ context.Context, moduleID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[moduleID]
	if !ok {
		return nil, errors.New("not found")
	}
	return state, nil
}

func newTestManager(t *testing.T) (*Manager, *bus.Bus, *sync.Map) {
	t.Helper()
	b := bus.New(bus.Config{})
	m := NewManager(b, nil, nil)
	factory, built := fakeFactory("fake")
	if err := m.RegisterFactory("fake", factory); err != nil {
		t.Fatalf("RegisterFactory() error = %v", err)
	}
	return m, b, built
}

func TestManager_RegisterFactoryDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.RegisterFactory("fake", func(string, map[string]any) (Module, error) { return nil, nil })
	if !errors.Is(err, ErrDuplicateKind) {
		t.Errorf("RegisterFactory() error = %v, want ErrDuplicateKind", err)
	}
}

func TestManager_StartUnknownKind(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.Start(context.Background(), Spec{ID: "x", Kind: "ghost", Enabled: true})
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("Start() error = %v, want ErrUnknownKind", err)
	}
}

func TestManager_StartStopLifecycle(t *testing.T) {
	m, _, built := newTestManager(t)
	ctx := context.Background()

	if err := m.Start(ctx, Spec{ID: "m1", Kind: "fake", Enabled: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mod := builtModule(t, built, "m1")
	if !mod.started {
		t.Error("module Start() was not called")
	}

	if err := m.Start(ctx, Spec{ID: "m1", Kind: "fake", Enabled: true}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Start() error = %v, want ErrAlreadyRunning", err)
	}

	if err := m.Stop(ctx, "m1"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !mod.stopped {
		t.Error("module Stop() was not called")
	}

	if err := m.Stop(ctx, "m1"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Stop() error = %v, want ErrNotRunning", err)
	}
}

func TestManager_RouteDeliveryReachesModule(t *testing.T) {
	m, b, built := newTestManager(t)
	ctx := context.Background()

	if err := m.Start(ctx, Spec{ID: "lights", Kind: "fake", Enabled: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := b.AddRoute(bus.Route{
		ID:      "motion-to-lights",
		Source:  "sensor.motion",
		Target:  "lights",
		Event:   "triggered",
		Enabled: true,
	}); err != nil {
		t.Fatalf("AddRoute() error = %v", err)
	}

	if err := b.RouteMessage(bus.NewMessage("sensor.motion", "triggered", map[string]any{"zone": "foyer"})); err != nil {
		t.Fatalf("RouteMessage() error = %v", err)
	}

	mod := builtModule(t, built, "lights")
	if got := mod.handledCount(); got != 1 {
		t.Fatalf("module handled %d messages, want 1", got)
	}

	// After stop the subscription is gone.
	if err := m.Stop(ctx, "lights"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := b.RouteMessage(bus.NewMessage("sensor.motion", "triggered", nil)); err != nil {
		t.Fatalf("RouteMessage() error = %v", err)
	}
	if got := mod.handledCount(); got != 1 {
		t.Errorf("stopped module handled %d messages, want 1", got)
	}
}

func TestManager_StateRestoreAndSave(t *testing.T) {
	b := bus.New(bus.Config{})
	store := newMemoryStore()
	store.Update("m1", map[string]any{"ticks": float64(5)})

	m := NewManager(b, store, store)
	factory, built := fakeFactory("fake")
	if err := m.RegisterFactory("fake", factory); err != nil {
		t.Fatalf("RegisterFactory() error = %v", err)
	}

	if err := m.Start(context.Background(), Spec{ID: "m1", Kind: "fake", Enabled: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	mod := builtModule(t, built, "m1")
	if mod.env.Restored["ticks"] != float64(5) {
		t.Errorf("Restored = %+v, want ticks=5", mod.env.Restored)
	}

	mod.env.SaveState(map[string]any{"ticks": float64(6)})
	saved, err := store.GetModuleState(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetModuleState() error = %v", err)
	}
	if saved["ticks"] != float64(6) {
		t.Errorf("saved ticks = %v, want 6", saved["ticks"])
	}
}

func TestManager_StartAllSkipsDisabled(t *testing.T) {
	m, _, built := newTestManager(t)

	specs := []Spec{
		{ID: "on", Kind: "fake", Enabled: true},
		{ID: "off", Kind: "fake", Enabled: false},
	}
	if err := m.StartAll(context.Background(), specs); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}

	if _, ok := built.Load("off"); ok {
		t.Error("disabled module was built")
	}
	infos := m.List()
	if len(infos) != 1 || infos[0].ID != "on" {
		t.Errorf("List() = %+v, want [on]", infos)
	}
}

func TestManager_StartAllCollectsErrors(t *testing.T) {
	m, _, _ := newTestManager(t)

	specs := []Spec{
		{ID: "bad", Kind: "ghost", Enabled: true},
		{ID: "good", Kind: "fake", Enabled: true},
	}
	err := m.StartAll(context.Background(), specs)
	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("StartAll() error = %v, want ErrUnknownKind", err)
	}
	// The failure didn't block the good module.
	if infos := m.List(); len(infos) != 1 || infos[0].ID != "good" {
		t.Errorf("List() = %+v, want [good]", infos)
	}
}

func TestManager_Reload(t *testing.T) {
	m, _, built := newTestManager(t)
	ctx := context.Background()

	initial := []Spec{
		{ID: "keep", Kind: "fake", Enabled: true},
		{ID: "drop", Kind: "fake", Enabled: true},
		{ID: "change", Kind: "fake", Enabled: true, Settings: map[string]any{"v": 1}},
	}
	if err := m.StartAll(ctx, initial); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	keepBefore := builtModule(t, built, "keep")

	next := []Spec{
		{ID: "keep", Kind: "fake", Enabled: true},
		{ID: "change", Kind: "fake", Enabled: true, Settings: map[string]any{"v": 2}},
		{ID: "new", Kind: "fake", Enabled: true},
	}
	if err := m.Reload(ctx, next); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}

	infos := m.List()
	wantIDs := []string{"change", "keep", "new"}
	if len(infos) != len(wantIDs) {
		t.Fatalf("List() = %+v, want IDs %v", infos, wantIDs)
	}
	for i, id := range wantIDs {
		if infos[i].ID != id {
			t.Errorf("List()[%d].ID = %q, want %q", i, infos[i].ID, id)
		}
	}

	if builtModule(t, built, "drop").stopped != true {
		t.Error("removed module was not stopped")
	}
	if builtModule(t, built, "change").stopped != true {
		t.Error("changed module was not restarted")
	}
	if keepBefore.stopped {
		t.Error("unchanged module was restarted")
	}
}

func TestManager_RegisterBuiltins(t *testing.T) {
	b := bus.New(bus.Config{})
	m := NewManager(b, nil, nil)
	m.RegisterBuiltins()

	ctx := context.Background()
	specs := []Spec{
		{ID: "pulse", Kind: KindTimer, Enabled: true, Settings: map[string]any{"interval_ms": 50}},
		{ID: "echo", Kind: KindLoopback, Enabled: true},
	}
	if err := m.StartAll(ctx, specs); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	defer m.StopAll(ctx) //nolint:errcheck // Teardown

	if got := len(m.List()); got != 2 {
		t.Errorf("List() returned %d modules, want 2", got)
	}
}
