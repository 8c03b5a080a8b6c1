package bus

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// defaultQueueCapacity bounds the single-flight FIFO queue. When the
// bus is saturated, the oldest pending message is evicted to admit a
// new one - accepted lossy backpressure, not a fault.
const defaultQueueCapacity = 1000

// routeTopicPrefix scopes forwarded messages to their target module.
// A route with target "audio" delivers to subscribers of "route:audio".
const routeTopicPrefix = "route:"

// RouteTopic returns the delivery topic for a route target, the
// hand-off point between the bus and whatever listener owns that
// module ID.
func RouteTopic(target string) string {
	return routeTopicPrefix + target
}

// Logger defines the logging interface used by the bus. It matches the
// slog call shape so a *logging.Logger can be passed directly.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ValidationResult is the outcome of validating a message.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Validator checks an event's payload shape before dispatch. The bus
// itself never inspects payload structure; per-event schemas live
// behind this boundary.
type Validator interface {
	Validate(event string, payload map[string]any) ValidationResult
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(event string, payload map[string]any) ValidationResult

// Validate calls f(event, payload).
func (f ValidatorFunc) Validate(event string, payload map[string]any) ValidationResult {
	return f(event, payload)
}

// Config contains bus tuning parameters. The zero value selects the
// defaults (queue capacity 1000, 60s rate window, 1000 latency samples).
type Config struct {
	// QueueCapacity bounds the pending-message FIFO queue.
	QueueCapacity int

	// RateWindow is the trailing window for event/error rates.
	RateWindow time.Duration

	// LatencyHistory caps the latency samples kept for averaging.
	LatencyHistory int
}

// Bus is the dispatch core. It orchestrates, per message:
//
//	validate -> middleware -> direct subscribers -> pattern subscribers -> routes -> metrics
//
// At most one message is mid-pipeline at any instant. A publish that
// arrives while another message is processing - including a publish
// made by a handler from inside the dispatch itself - is appended to a
// bounded FIFO queue and processed in order once the current pass
// completes. Side effects therefore have a strict global order even
// under concurrent producers.
//
// Construct with New and share by reference; do not copy.
type Bus struct {
	subs     *subscriptionRegistry
	routes   *routeTable
	pipeline *pipeline
	monitor  *Monitor

	mu       sync.Mutex // guards queue and busy
	queue    []pending
	capacity int
	busy     bool

	// hookMu guards the injectable hooks below. They can be swapped
	// while producers are publishing (the boot sequence installs the
	// sink once the WebSocket hub exists), so reads on the dispatch
	// path must not race the swap.
	hookMu    sync.RWMutex
	validator Validator
	sink      Sink
	logger    Logger
}

// pending is a queued message with its admission time, so latency
// includes time spent waiting in the queue.
type pending struct {
	msg     Message
	arrived time.Time
}

// New creates a bus with the given configuration.
func New(cfg Config) *Bus {
	capacity := cfg.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	return &Bus{
		subs:     newSubscriptionRegistry(),
		routes:   newRouteTable(),
		pipeline: newPipeline(),
		monitor:  NewMonitor(cfg.RateWindow, cfg.LatencyHistory),
		capacity: capacity,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger used for internal diagnostics.
func (b *Bus) SetLogger(logger Logger) {
	if logger == nil {
		return
	}
	b.hookMu.Lock()
	b.logger = logger
	b.hookMu.Unlock()
}

// SetValidator installs the pluggable message validator. A nil
// validator admits everything.
func (b *Bus) SetValidator(v Validator) {
	b.hookMu.Lock()
	b.validator = v
	b.hookMu.Unlock()
}

// SetSink installs the observation sink. A nil sink discards
// observations.
func (b *Bus) SetSink(s Sink) {
	b.hookMu.Lock()
	b.sink = s
	b.hookMu.Unlock()
}

// log returns the current logger.
func (b *Bus) log() Logger {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.logger
}

// getSink returns the current observation sink (may be nil).
func (b *Bus) getSink() Sink {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.sink
}

// getValidator returns the current validator (may be nil).
func (b *Bus) getValidator() Validator {
	b.hookMu.RLock()
	defer b.hookMu.RUnlock()
	return b.validator
}

// Subscribe registers a handler for an exact topic and returns the
// handle used to remove it. Fan-out order among handlers of one topic
// is not guaranteed.
func (b *Bus) Subscribe(topic string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return b.subs.subscribe(topic, h), nil
}

// SubscribePattern registers a handler for a dot-segmented wildcard
// pattern, matched at fixed arity (see MatchTopic). The options
// parameter is reserved; no options are defined today.
func (b *Bus) SubscribePattern(pattern string, h Handler, opts ...PatternOption) (*Subscription, error) {
	if h == nil {
		return nil, ErrNilHandler
	}
	return b.subs.subscribePattern(pattern, h, opts...), nil
}

// Unsubscribe removes a subscription (direct or pattern). Removing the
// last handler of a topic prunes the topic entry immediately. Nil or
// already-removed subscriptions are ignored.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.subs.unsubscribe(sub)
}

// AddRoute registers a routing rule, replacing any existing route with
// the same ID. The route is rejected if ID, source, target, or event is
// empty, or a condition carries an unknown operator.
func (b *Bus) AddRoute(r Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	b.routes.add(r)
	b.observe(Observation{Kind: ObservationRouteAdded, Route: &r})
	b.log().Debug("route added", "route_id", r.ID, "source", r.Source, "target", r.Target, "event", r.Event)
	return nil
}

// RemoveRoute deletes a route by ID and reports whether it existed.
func (b *Bus) RemoveRoute(id string) bool {
	r, ok := b.routes.remove(id)
	if ok {
		b.observe(Observation{Kind: ObservationRouteRemoved, Route: &r})
		b.log().Debug("route removed", "route_id", id)
	}
	return ok
}

// GetRoute returns the route with the given ID.
func (b *Bus) GetRoute(id string) (Route, bool) {
	return b.routes.get(id)
}

// ListRoutes returns a copy of all routes, sorted by ID.
func (b *Bus) ListRoutes() []Route {
	return b.routes.snapshot()
}

// Use registers a middleware. The pipeline re-sorts descending by
// priority; equal priorities keep registration order.
func (b *Bus) Use(mw Middleware) {
	b.pipeline.use(mw)
}

// GetMetrics returns a snapshot of the bus metrics.
func (b *Bus) GetMetrics() Metrics {
	return b.monitor.Snapshot()
}

// ResetMetrics zeroes all counters and histories. Subscriptions,
// routes, and middleware are untouched.
func (b *Bus) ResetMetrics() {
	b.monitor.Reset()
}

// Publish builds a message with the system source and dispatches it.
// Fire and forget: Publish never returns an error. Validation and
// delivery failures are reported through the observation sink only.
func (b *Bus) Publish(topic string, payload map[string]any) {
	msg := NewMessage(SystemSource, topic, payload)
	if err := b.validate(msg); err != nil {
		b.reportValidation(msg, err)
		return
	}
	b.admit(msg)
}

// RouteMessage dispatches a caller-constructed message. Unlike Publish
// it can reject the caller, but only with a validation error; every
// other failure is reported out-of-band and RouteMessage returns nil.
func (b *Bus) RouteMessage(msg Message) error {
	if err := b.validate(msg); err != nil {
		b.reportValidation(msg, err)
		return err
	}
	b.admit(msg)
	return nil
}

// validate runs the pluggable validator. Validation happens at
// admission for both entry paths so RouteMessage can reject
// synchronously even when the message would be queued; the relative
// order (validation before middleware) is unchanged.
func (b *Bus) validate(msg Message) error {
	v := b.getValidator()
	if v == nil {
		return nil
	}
	result := v.Validate(msg.Event, msg.Payload)
	if result.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(result.Errors, "; "))
}

func (b *Bus) reportValidation(msg Message, err error) {
	b.monitor.RecordError()
	b.observe(Observation{Kind: ObservationMessageError, Message: &msg, Err: err})
	b.log().Debug("message rejected by validator", "event", msg.Event, "error", err)
}

// admit either processes the message now or, if another message is
// mid-pipeline, appends it to the bounded FIFO queue. On overflow the
// oldest pending message is evicted silently.
func (b *Bus) admit(msg Message) {
	entry := pending{msg: msg, arrived: time.Now()}

	b.mu.Lock()
	if b.busy {
		if len(b.queue) >= b.capacity {
			dropped := b.queue[0]
			b.queue = b.queue[1:]
			b.log().Debug("queue overflow, oldest message dropped",
				"dropped_id", dropped.msg.ID,
				"dropped_event", dropped.msg.Event,
				"capacity", b.capacity,
			)
		}
		b.queue = append(b.queue, entry)
		b.mu.Unlock()
		return
	}
	b.busy = true
	b.mu.Unlock()

	b.process(entry)
	b.drain()
}

// drain processes queued messages one at a time in FIFO order, then
// marks the bus idle.
func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.busy = false
			b.mu.Unlock()
			return
		}
		entry := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()

		b.process(entry)
	}
}

// process runs one full pass of the dispatch sequence for a message.
// Every collection it walks is a snapshot taken at the start of the
// corresponding step, so a handler mutating subscriptions, routes, or
// middleware mid-flight affects subsequent messages only.
func (b *Bus) process(entry pending) {
	msg := entry.msg

	delivered, err := b.pipeline.run(msg)
	if err != nil {
		b.observe(Observation{Kind: ObservationMiddlewareError, Message: &msg, Err: err})
		b.monitor.RecordError()
		b.observe(Observation{Kind: ObservationMessageError, Message: &msg, Err: err})
		return
	}
	if !delivered {
		// Vetoed by middleware: the pass completed without error but
		// nothing downstream sees the message.
		b.monitor.RecordEvent(time.Since(entry.arrived))
		b.observe(Observation{Kind: ObservationMessageRouted, Message: &msg})
		return
	}

	for _, sub := range b.subs.handlersFor(msg.Event) {
		b.invoke(sub, msg, nil)
	}

	for _, sub := range b.subs.patternHandlersFor(msg.Event) {
		b.invoke(sub, msg, nil)
	}

	for _, r := range b.routes.snapshot() {
		if !r.matches(msg) {
			continue
		}
		forwarded := r // capture for observation pointers
		out := msg.forward(r)
		for _, sub := range b.subs.handlersFor(RouteTopic(r.Target)) {
			b.invoke(sub, out, &forwarded)
		}
	}

	b.monitor.RecordEvent(time.Since(entry.arrived))
	b.observe(Observation{Kind: ObservationMessageRouted, Message: &msg})
}

// invoke runs one handler with panic recovery. A failing handler never
// blocks sibling handlers or other subscriptions; the error is reported
// as a handlerError observation (with the route attached for route
// deliveries) and dispatch continues.
func (b *Bus) invoke(sub *Subscription, msg Message, route *Route) {
	err := safeHandle(sub.handler, msg)
	if err == nil {
		return
	}
	b.observe(Observation{Kind: ObservationHandlerError, Message: &msg, Route: route, Err: err})
	b.log().Warn("handler failed", "topic", sub.topic, "event", msg.Event, "error", err)
}

func safeHandle(h Handler, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(msg)
}

// observe forwards an observation to the sink, stamping the time and
// recovering a panicking sink so it cannot take down the dispatch loop.
func (b *Bus) observe(o Observation) {
	sink := b.getSink()
	if sink == nil {
		return
	}
	o.Time = time.Now().UTC()
	defer func() {
		if r := recover(); r != nil {
			b.log().Error("observation sink panicked", "kind", string(o.Kind), "panic", r)
		}
	}()
	sink.Observe(o)
}
