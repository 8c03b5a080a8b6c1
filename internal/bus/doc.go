// Package bus implements the message-routing core of Lumen Core.
//
// The bus moves event messages between independently configured I/O
// modules (lighting, audio, sensors, timers). It offers three composable
// delivery mechanisms:
//
//   - Direct subscription: exact topic match
//   - Pattern subscription: dot-segmented wildcard match ("dmx.*")
//   - Routes: declarative rules with field-level conditions and an
//     optional payload transform, forwarding to a target module
//
// layered on a priority-ordered middleware pipeline and a single-flight
// processing queue. At most one message is mid-pipeline at any instant;
// concurrent publishers are serialised through a bounded FIFO queue with
// drop-oldest overflow.
//
// The bus owns no persistence and gives no delivery guarantees: no
// retries, no exactly-once semantics, no cross-process routing. Failures
// in handlers, middleware, or route delivery are isolated per unit of
// work and reported out-of-band through an injectable observation Sink,
// never propagated to the publisher.
//
// Construct one Bus per process and pass it to collaborators explicitly;
// there is no package-level instance.
package bus
