package bus

import (
	"time"

	"github.com/google/uuid"
)

// SystemSource is the source ID stamped on messages built by Publish,
// where the producer has no module identity of its own.
const SystemSource = "system"

// Message is a single event travelling across the bus.
//
// A Message is treated as immutable once created. Forwarding a message
// through a route produces a new Message with a fresh ID and timestamp;
// the original is never mutated.
type Message struct {
	// ID uniquely identifies this message.
	ID string `json:"id"`

	// Source is the ID of the module that produced the message.
	Source string `json:"source"`

	// Target is the intended recipient module, if any. Routes set this
	// on forwarded messages; plain published messages leave it empty.
	Target string `json:"target,omitempty"`

	// Event is the dotted topic the message is published under,
	// e.g. "dmx.output" or "sensor.motion.zone1".
	Event string `json:"event"`

	// Payload carries the structured event data. The bus never inspects
	// payload shape itself; per-event validation is the Validator's job.
	Payload map[string]any `json:"payload,omitempty"`

	// Timestamp records when the message was created.
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage builds a message with a fresh ID and timestamp.
func NewMessage(source, event string, payload map[string]any) Message {
	return Message{
		ID:        uuid.NewString(),
		Source:    source,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// forward builds the message delivered for a fired route: fresh ID and
// timestamp, target set to the route's target, payload passed through
// the route's transform (or carried unchanged).
func (m Message) forward(r Route) Message {
	payload := m.Payload
	if r.Transform != nil {
		payload = r.Transform(payload)
	}
	if r.Merge != nil {
		payload = mergePayload(payload, r.Merge)
	}
	return Message{
		ID:        uuid.NewString(),
		Source:    m.Source,
		Target:    r.Target,
		Event:     m.Event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}
