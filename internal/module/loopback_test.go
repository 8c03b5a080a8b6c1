package module

import (
	"context"
	"testing"

	"github.com/hallamshaw/lumen-core/internal/bus"
)

func TestLoopback_EchoesWithProvenance(t *testing.T) {
	mod, err := NewLoopback("echo", nil)
	if err != nil {
		t.Fatalf("NewLoopback() error = %v", err)
	}

	env, log := collectEnv(nil)
	if err := mod.Start(context.Background(), env); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	in := bus.NewMessage("sensor.motion", "triggered", map[string]any{"zone": "foyer"})
	if err := mod.Handle(in); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := log.publishedCount(); got != 1 {
		t.Fatalf("published %d messages, want 1", got)
	}
	out := log.lastPublished()
	if out.Source != "echo" || out.Event != "echo.echo" {
		t.Errorf("echo = %s/%s, want echo/echo.echo", out.Source, out.Event)
	}
	if out.Payload["zone"] != "foyer" {
		t.Errorf("original payload lost: %+v", out.Payload)
	}
	if out.Payload["echoed_from"] != "sensor.motion" {
		t.Errorf("echoed_from = %v, want sensor.motion", out.Payload["echoed_from"])
	}
	if out.Payload["echo_count"] != int64(1) {
		t.Errorf("echo_count = %v, want 1", out.Payload["echo_count"])
	}

	// Input payload untouched.
	if _, exists := in.Payload["echoed_from"]; exists {
		t.Error("Handle() mutated the input payload")
	}
}

func TestLoopback_CustomEventAndRestore(t *testing.T) {
	mod, err := NewLoopback("echo", map[string]any{"event": "mirror"})
	if err != nil {
		t.Fatalf("NewLoopback() error = %v", err)
	}

	env, log := collectEnv(map[string]any{"echoed": float64(9)})
	if err := mod.Start(context.Background(), env); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := mod.Handle(bus.NewMessage("x", "y", nil)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	out := log.lastPublished()
	if out.Event != "mirror" {
		t.Errorf("Event = %q, want mirror", out.Event)
	}
	if out.Payload["echo_count"] != int64(10) {
		t.Errorf("echo_count = %v, want 10 after restore", out.Payload["echo_count"])
	}
}

// End-to-end: a route feeds a loopback through the bus and the echo is
// observable on a direct subscription.
func TestLoopback_ThroughBusRoute(t *testing.T) {
	b := bus.New(bus.Config{})
	m := NewManager(b, nil, nil)
	m.RegisterBuiltins()
	ctx := context.Background()

	if err := m.Start(ctx, Spec{ID: "echo", Kind: KindLoopback, Enabled: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.StopAll(ctx) //nolint:errcheck // Teardown

	if err := b.AddRoute(bus.Route{
		ID: "to-echo", Source: "sensor", Target: "echo", Event: "ping", Enabled: true,
	}); err != nil {
		t.Fatalf("AddRoute() error = %v", err)
	}

	var echoes []bus.Message
	if _, err := b.Subscribe("echo.echo", func(msg bus.Message) error {
		echoes = append(echoes, msg)
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	if err := b.RouteMessage(bus.NewMessage("sensor", "ping", map[string]any{"n": 1})); err != nil {
		t.Fatalf("RouteMessage() error = %v", err)
	}

	if len(echoes) != 1 {
		t.Fatalf("received %d echoes, want 1", len(echoes))
	}
	if echoes[0].Payload["echoed_from"] != "sensor" {
		t.Errorf("echoed_from = %v, want sensor", echoes[0].Payload["echoed_from"])
	}
}
