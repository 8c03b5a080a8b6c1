package bus

import "errors"

// Domain errors for the bus package.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, bus.ErrValidation) {
//	    // message rejected by the validator
//	}
var (
	// ErrInvalidRoute is returned when a route is registered with an
	// empty id, source, target, or event.
	ErrInvalidRoute = errors.New("bus: invalid route")

	// ErrInvalidOperator is returned when a route condition carries an
	// unknown operator.
	ErrInvalidOperator = errors.New("bus: invalid condition operator")

	// ErrValidation is returned by RouteMessage when the injected
	// validator rejects the message. It is the only error category that
	// surfaces to a caller; everything else is reported through the
	// observation sink.
	ErrValidation = errors.New("bus: validation failed")

	// ErrNilHandler is returned when subscribing with a nil handler.
	ErrNilHandler = errors.New("bus: nil handler")
)
