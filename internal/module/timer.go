package module

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

// KindTimer is the registered kind for periodic tick publishers.
const KindTimer = "timer"

const (
	defaultTickInterval = time.Second
	minTickInterval     = 10 * time.Millisecond
)

// Timer publishes a tick message at a fixed interval. Installations use
// it to drive scheduled cues: a route from the timer's tick event to a
// lighting or audio module turns the pulse into an action.
//
// Settings:
//
//	interval_ms  tick period in milliseconds (default 1000, min 10)
//	event        event name for published ticks (default "<id>.tick")
//
// The tick counter persists across restarts via the module state store.
// A "reset" command delivered by route zeroes it; "pause" and "resume"
// gate publishing without stopping the clock.
type Timer struct {
	id       string
	event    string
	interval time.Duration

	mu     sync.Mutex
	ticks  int64
	paused bool
	env    Environment
}

// NewTimer builds a timer instance from its settings. It is a Factory.
func NewTimer(id string, settings map[string]any) (Module, error) {
	interval := time.Duration(settingInt(settings, "interval_ms", int(defaultTickInterval/time.Millisecond))) * time.Millisecond
	if interval < minTickInterval {
		return nil, fmt.Errorf("module %q: interval %v below minimum %v", id, interval, minTickInterval)
	}
	return &Timer{
		id:       id,
		event:    settingString(settings, "event", id+".tick"),
		interval: interval,
	}, nil
}

func (t *Timer) ID() string   { return t.id }
func (t *Timer) Kind() string { return KindTimer }

// Start restores the tick counter and launches the tick loop.
func (t *Timer) Start(ctx context.Context, env Environment) error {
	t.mu.Lock()
	t.env = env
	if v, ok := env.Restored["ticks"]; ok {
		switch n := v.(type) {
		case float64:
			t.ticks = int64(n)
		case int64:
			t.ticks = n
		case int:
			t.ticks = int64(n)
		}
	}
	t.mu.Unlock()

	go t.run(ctx)
	return nil
}

// Stop saves the final counter. The tick loop exits via the cancelled
// start context.
func (t *Timer) Stop(context.Context) error {
	t.mu.Lock()
	t.env.SaveState(map[string]any{"ticks": t.ticks})
	t.mu.Unlock()
	return nil
}

// Handle processes commands delivered by routes targeting this timer.
func (t *Timer) Handle(msg bus.Message) error {
	command, _ := msg.Payload["command"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()

	switch command {
	case "reset":
		t.ticks = 0
		t.env.SaveState(map[string]any{"ticks": t.ticks})
	case "pause":
		t.paused = true
	case "resume":
		t.paused = false
	default:
		return fmt.Errorf("timer %q: unknown command %q", t.id, command)
	}
	return nil
}

func (t *Timer) run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Timer) tick() {
	t.mu.Lock()
	if t.paused {
		t.mu.Unlock()
		return
	}
	t.ticks++
	ticks := t.ticks
	env := t.env
	t.mu.Unlock()

	env.Publish(bus.NewMessage(t.id, t.event, map[string]any{
		"ticks":       ticks,
		"interval_ms": t.interval.Milliseconds(),
	}))
	env.SaveState(map[string]any{"ticks": ticks})
}
