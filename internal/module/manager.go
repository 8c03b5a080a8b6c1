package module

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// StateStore receives module state updates for deferred persistence.
// *state.Autosaver satisfies it.
type StateStore interface {
	Update(moduleID string, state map[string]any)
}

// StateLoader retrieves the last persisted state for a module. An
// error is treated as "no saved state"; the module starts fresh.
type StateLoader interface {
	GetModuleState(ctx context.Context, moduleID string) (map[string]any, error)
}

// instance tracks one running module and its teardown handles.
type instance struct {
	module Module
	spec   Spec
	sub    *bus.Subscription
	cancel context.CancelFunc
}

// Manager owns module lifecycle: instantiation from registered
// factories, wiring to the bus, state restore/save, and runtime
// reload when the declared module set changes.
//
// All public methods are thread-safe.
type Manager struct {
	bus    *bus.Bus
	store  StateStore
	loader StateLoader
	logger Logger

	mu        sync.Mutex
	factories map[string]Factory
	running   map[string]*instance
}

// NewManager creates a module manager. store and loader may be nil, in
// which case module state is neither saved nor restored.
func NewManager(b *bus.Bus, store StateStore, loader StateLoader) *Manager {
	return &Manager{
		bus:       b,
		store:     store,
		loader:    loader,
		logger:    noopLogger{},
		factories: make(map[string]Factory),
		running:   make(map[string]*instance),
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// RegisterFactory registers a constructor for a module kind.
func (m *Manager) RegisterFactory(kind string, factory Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.factories[kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, kind)
	}
	m.factories[kind] = factory
	return nil
}

// RegisterBuiltins registers the module kinds shipped with Lumen.
func (m *Manager) RegisterBuiltins() {
	// Registration of fresh kinds on a fresh manager cannot collide.
	_ = m.RegisterFactory(KindTimer, NewTimer)
	_ = m.RegisterFactory(KindLoopback, NewLoopback)
}

// Start instantiates and starts one module from its spec. The module
// is subscribed to route deliveries for its ID before Start runs, so a
// module can receive messages from its first tick onwards.
func (m *Manager) Start(ctx context.Context, spec Spec) error {
	m.mu.Lock()
	if _, exists := m.running[spec.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, spec.ID)
	}
	factory, ok := m.factories[spec.Kind]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKind, spec.Kind)
	}

	mod, err := factory(spec.ID, spec.Settings)
	if err != nil {
		return fmt.Errorf("building module %q: %w", spec.ID, err)
	}

	var restored map[string]any
	if m.loader != nil {
		restored, err = m.loader.GetModuleState(ctx, spec.ID)
		if err != nil {
			m.logger.Debug("no saved state for module", "module_id", spec.ID)
			restored = nil
		}
	}

	saveState := func(map[string]any) {}
	if m.store != nil {
		saveState = func(state map[string]any) { m.store.Update(spec.ID, state) }
	}

	modCtx, cancel := context.WithCancel(ctx)
	env := Environment{
		// RouteMessage keeps the module's own source on the message;
		// validation rejections surface through the observation sink.
		Publish:   func(msg bus.Message) { _ = m.bus.RouteMessage(msg) },
		SaveState: saveState,
		Restored:  restored,
		Logger:    m.logger,
	}

	sub, err := m.bus.Subscribe(bus.RouteTopic(spec.ID), mod.Handle)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing module %q: %w", spec.ID, err)
	}

	if err := mod.Start(modCtx, env); err != nil {
		m.bus.Unsubscribe(sub)
		cancel()
		return fmt.Errorf("starting module %q: %w", spec.ID, err)
	}

	m.mu.Lock()
	m.running[spec.ID] = &instance{module: mod, spec: spec, sub: sub, cancel: cancel}
	m.mu.Unlock()

	m.logger.Info("module started", "module_id", spec.ID, "kind", spec.Kind)
	return nil
}

// Stop tears down one running module: route subscription removed,
// start context cancelled, then the module's own Stop.
func (m *Manager) Stop(ctx context.Context, id string) error {
	m.mu.Lock()
	inst, exists := m.running[id]
	if exists {
		delete(m.running, id)
	}
	m.mu.Unlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}

	m.bus.Unsubscribe(inst.sub)
	inst.cancel()
	if err := inst.module.Stop(ctx); err != nil {
		return fmt.Errorf("stopping module %q: %w", id, err)
	}

	m.logger.Info("module stopped", "module_id", id)
	return nil
}

// StartAll starts every enabled spec. Failures don't halt the
// remaining starts; all errors are joined.
func (m *Manager) StartAll(ctx context.Context, specs []Spec) error {
	var errs []error
	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		if err := m.Start(ctx, spec); err != nil {
			m.logger.Error("module failed to start", "module_id", spec.ID, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every running module.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := m.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload reconciles the running set against a new declaration: modules
// that disappeared or changed spec are stopped, new or changed enabled
// ones are started. Unchanged running modules are left alone.
func (m *Manager) Reload(ctx context.Context, specs []Spec) error {
	declared := make(map[string]Spec, len(specs))
	for _, spec := range specs {
		declared[spec.ID] = spec
	}

	m.mu.Lock()
	var toStop []string
	for id, inst := range m.running {
		spec, stillDeclared := declared[id]
		if !stillDeclared || !spec.Enabled || !reflect.DeepEqual(spec, inst.spec) {
			toStop = append(toStop, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(toStop)

	var errs []error
	for _, id := range toStop {
		if err := m.Stop(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}

	for _, spec := range specs {
		if !spec.Enabled {
			continue
		}
		m.mu.Lock()
		_, alreadyRunning := m.running[spec.ID]
		m.mu.Unlock()
		if alreadyRunning {
			continue
		}
		if err := m.Start(ctx, spec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List returns the running module instances, ordered by ID.
func (m *Manager) List() []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.running))
	for _, inst := range m.running {
		infos = append(infos, Info{ID: inst.module.ID(), Kind: inst.module.Kind()})
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
