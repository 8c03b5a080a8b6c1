package bus

import "time"

// ObservationKind identifies an out-of-band bus observation.
type ObservationKind string

// Observation kinds consumed by collaborators (WebSocket broadcaster,
// HTTP layer, orchestration).
const (
	ObservationRouteAdded      ObservationKind = "routeAdded"
	ObservationRouteRemoved    ObservationKind = "routeRemoved"
	ObservationMessageRouted   ObservationKind = "messageRouted"
	ObservationMessageError    ObservationKind = "messageError"
	ObservationHandlerError    ObservationKind = "handlerError"
	ObservationMiddlewareError ObservationKind = "middlewareError"
)

// Observation is a single out-of-band report from the bus. Errors are
// surfaced here instead of being thrown at the publisher: publish fails
// closed and silently from the caller's perspective, loudly through the
// sink.
type Observation struct {
	// Kind identifies what happened.
	Kind ObservationKind `json:"kind"`

	// Message is the message involved, when there is one.
	Message *Message `json:"message,omitempty"`

	// Route is the route involved for routeAdded/routeRemoved and for
	// route-delivery handler errors.
	Route *Route `json:"route,omitempty"`

	// Err carries the failure for the error kinds.
	Err error `json:"-"`

	// Time is when the observation was produced.
	Time time.Time `json:"time"`
}

// Sink receives observations. Implementations must not block; the bus
// calls Observe synchronously from the dispatch path. A sink must never
// panic the dispatch loop - Observe is invoked with recovery.
type Sink interface {
	Observe(o Observation)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(o Observation)

// Observe calls f(o).
func (f SinkFunc) Observe(o Observation) { f(o) }

// MultiSink fans an observation out to several sinks.
type MultiSink []Sink

// Observe forwards the observation to every sink in order.
func (s MultiSink) Observe(o Observation) {
	for _, sink := range s {
		if sink != nil {
			sink.Observe(o)
		}
	}
}

// LogSink returns a sink that writes observations to a structured
// logger: error kinds at warn level, lifecycle kinds at debug.
func LogSink(logger Logger) Sink {
	return SinkFunc(func(o Observation) {
		args := []any{"kind", string(o.Kind)}
		if o.Message != nil {
			args = append(args, "message_id", o.Message.ID, "event", o.Message.Event, "source", o.Message.Source)
		}
		if o.Route != nil {
			args = append(args, "route_id", o.Route.ID)
		}
		if o.Err != nil {
			args = append(args, "error", o.Err)
		}

		switch o.Kind {
		case ObservationMessageError, ObservationHandlerError, ObservationMiddlewareError:
			logger.Warn("bus observation", args...)
		default:
			logger.Debug("bus observation", args...)
		}
	})
}
