package state

import (
	"context"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Autosaver.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// defaultAutosaveInterval is used when the configured interval is
// missing or invalid.
const defaultAutosaveInterval = 30 * time.Second

// Autosaver collects module state updates in memory and flushes dirty
// entries to the repository on a fixed interval, plus a final flush on
// shutdown. Modules report state far more often than it is worth
// writing to disk; at most one interval of state is lost on a crash.
//
// All methods are safe for concurrent use.
type Autosaver struct {
	repo     Repository
	interval time.Duration
	logger   Logger

	mu    sync.Mutex
	dirty map[string]map[string]any
}

// NewAutosaver creates an autosaver flushing at the given interval.
func NewAutosaver(repo Repository, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = defaultAutosaveInterval
	}
	return &Autosaver{
		repo:     repo,
		interval: interval,
		logger:   noopLogger{},
		dirty:    make(map[string]map[string]any),
	}
}

// SetLogger sets the logger for the autosaver.
func (a *Autosaver) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// Update records new state for a module. The state is written on the
// next autosave sweep; later updates for the same module overwrite
// earlier ones in between sweeps.
func (a *Autosaver) Update(moduleID string, state map[string]any) {
	a.mu.Lock()
	a.dirty[moduleID] = state
	a.mu.Unlock()
}

// Run flushes dirty state on every interval tick until the context is
// cancelled, then performs a final flush. It blocks; run it in its own
// goroutine.
func (a *Autosaver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.flush(ctx)
		case <-ctx.Done():
			// Final flush with a fresh context; the loop context is
			// already cancelled.
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.flush(flushCtx)
			cancel()
			return
		}
	}
}

// Flush writes all dirty state immediately. Exposed for tests and for
// explicit save points (e.g. before a module reload).
func (a *Autosaver) Flush(ctx context.Context) {
	a.flush(ctx)
}

func (a *Autosaver) flush(ctx context.Context) {
	a.mu.Lock()
	if len(a.dirty) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.dirty
	a.dirty = make(map[string]map[string]any)
	a.mu.Unlock()

	saved := 0
	for moduleID, state := range pending {
		if err := a.repo.SaveModuleState(ctx, moduleID, state); err != nil {
			a.logger.Error("autosave failed", "module_id", moduleID, "error", err)
			// Put the entry back so the next sweep retries, unless a
			// newer update has already replaced it.
			a.mu.Lock()
			if _, exists := a.dirty[moduleID]; !exists {
				a.dirty[moduleID] = state
			}
			a.mu.Unlock()
			continue
		}
		saved++
	}

	if saved > 0 {
		a.logger.Debug("autosave complete", "modules", saved)
	}
}
