package module

import (
	"context"
	"errors"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// Logger defines the logging interface used by this package.
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

// Domain errors for the module package.
var (
	// ErrUnknownKind is returned when no factory is registered for a
	// module kind.
	ErrUnknownKind = errors.New("module: unknown module kind")

	// ErrDuplicateKind is returned when a factory is registered twice
	// for the same kind.
	ErrDuplicateKind = errors.New("module: kind already registered")

	// ErrAlreadyRunning is returned when starting a module whose ID is
	// already running.
	ErrAlreadyRunning = errors.New("module: module already running")

	// ErrNotRunning is returned when stopping a module that isn't
	// running.
	ErrNotRunning = errors.New("module: module not running")
)

// Environment carries the services the manager provides to a running
// module instance.
type Environment struct {
	// Publish enqueues a message on the bus.
	Publish func(msg bus.Message)

	// SaveState records the module's current state for the autosave
	// loop. May be a no-op when persistence is disabled.
	SaveState func(state map[string]any)

	// Restored is the last persisted state for this instance, or nil on
	// first run.
	Restored map[string]any

	// Logger is scoped to this module instance.
	Logger Logger
}

// Module is a runtime unit managed by the Manager.
//
// Start must not block; long-running work belongs in goroutines bound
// to the start context, which the manager cancels at stop. Handle
// receives messages delivered by routes targeting this module's ID and
// runs on the bus dispatch goroutine, so it must return promptly.
type Module interface {
	ID() string
	Kind() string
	Start(ctx context.Context, env Environment) error
	Stop(ctx context.Context) error
	Handle(msg bus.Message) error
}

// Factory builds a module instance from its declared settings.
type Factory func(id string, settings map[string]any) (Module, error)

// Spec declares one module instance, mirroring the modules section of
// config.yaml.
type Spec struct {
	ID       string
	Kind     string
	Enabled  bool
	Settings map[string]any
}

// Info describes a running module instance.
type Info struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// settingString reads a string setting, falling back to def when the
// key is absent or not a string.
func settingString(settings map[string]any, key, def string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

// settingInt reads a numeric setting. YAML decodes integers as int and
// JSON as float64; both are accepted.
func settingInt(settings map[string]any, key string, def int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
