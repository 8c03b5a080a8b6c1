package module

import (
	"context"
	"sync"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// KindLoopback is the registered kind for echo modules.
const KindLoopback = "loopback"

// Loopback re-publishes every message routed to it under its own source
// and a fixed event. It exists to exercise routing chains during
// commissioning: point a route at a loopback and subscribe to its echo
// to see exactly what the route delivered.
//
// Settings:
//
//	event  event name for echoed messages (default "<id>.echo")
type Loopback struct {
	id    string
	event string

	mu      sync.Mutex
	echoed  int64
	publish func(bus.Message)
	save    func(map[string]any)
}

// NewLoopback builds a loopback instance from its settings. It is a
// Factory.
func NewLoopback(id string, settings map[string]any) (Module, error) {
	return &Loopback{
		id:    id,
		event: settingString(settings, "event", id+".echo"),
	}, nil
}

func (l *Loopback) ID() string   { return l.id }
func (l *Loopback) Kind() string { return KindLoopback }

func (l *Loopback) Start(_ context.Context, env Environment) error {
	l.mu.Lock()
	l.publish = env.Publish
	l.save = env.SaveState
	if v, ok := env.Restored["echoed"].(float64); ok {
		l.echoed = int64(v)
	}
	l.mu.Unlock()
	return nil
}

func (l *Loopback) Stop(context.Context) error {
	l.mu.Lock()
	l.save(map[string]any{"echoed": l.echoed})
	l.mu.Unlock()
	return nil
}

// Handle echoes the delivered payload with provenance attached. The
// bus is reentrancy-safe, so publishing from inside a handler is fine;
// the echo is queued behind the in-flight message.
func (l *Loopback) Handle(msg bus.Message) error {
	l.mu.Lock()
	l.echoed++
	echoed := l.echoed
	publish := l.publish
	save := l.save
	l.mu.Unlock()

	payload := make(map[string]any, len(msg.Payload)+2)
	for k, v := range msg.Payload {
		payload[k] = v
	}
	payload["echoed_from"] = msg.Source
	payload["echo_count"] = echoed

	publish(bus.NewMessage(l.id, l.event, payload))
	save(map[string]any{"echoed": echoed})
	return nil
}
