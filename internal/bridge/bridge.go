package bridge

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hallamshaw/lumen-core/internal/bus"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/config"
	"github.com/hallamshaw/lumen-core/internal/infrastructure/mqtt"
)

// importSourcePrefix marks messages injected from the broker. The
// export path skips these sources so a message imported from MQTT is
// never published back to MQTT.
const importSourcePrefix = "mqtt."

// Logger defines the logging interface used by the bridge.
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

// Broker is the slice of the MQTT client the bridge needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// envelope is the JSON wire format for bus messages crossing the
// broker in either direction.
type envelope struct {
	ID        string         `json:"id,omitempty"`
	Source    string         `json:"source,omitempty"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Bridge mirrors configured bus patterns out to the broker and
// configured broker topics into the bus.
type Bridge struct {
	bus    *bus.Bus
	broker Broker
	cfg    config.MQTTConfig
	logger Logger

	exports []*bus.Subscription
}

// New creates a bridge. Start wires it up.
func New(b *bus.Bus, broker Broker, cfg config.MQTTConfig) *Bridge {
	return &Bridge{
		bus:    b,
		broker: broker,
		cfg:    cfg,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (br *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		br.logger = logger
	}
}

// Start subscribes the export patterns on the bus and the import
// topics on the broker.
func (br *Bridge) Start() error {
	for _, pattern := range br.cfg.ExportPatterns {
		sub, err := br.bus.SubscribePattern(pattern, br.export)
		if err != nil {
			br.Stop()
			return fmt.Errorf("subscribing export pattern %q: %w", pattern, err)
		}
		br.exports = append(br.exports, sub)
	}

	for _, topic := range br.cfg.ImportTopics {
		topic := topic
		err := br.broker.Subscribe(topic, byte(br.cfg.QoS), func(t string, payload []byte) error {
			return br.importMessage(t, payload)
		})
		if err != nil {
			br.Stop()
			return fmt.Errorf("subscribing import topic %q: %w", topic, err)
		}
	}

	br.logger.Info("mqtt bridge started",
		"exports", len(br.cfg.ExportPatterns),
		"imports", len(br.cfg.ImportTopics),
	)
	return nil
}

// Stop removes the bus subscriptions and broker subscriptions.
func (br *Bridge) Stop() {
	for _, sub := range br.exports {
		br.bus.Unsubscribe(sub)
	}
	br.exports = nil

	for _, topic := range br.cfg.ImportTopics {
		if err := br.broker.Unsubscribe(topic); err != nil {
			br.logger.Debug("import unsubscribe failed", "topic", topic, "error", err)
		}
	}
}

// export publishes one bus message to the broker. Runs on the bus
// dispatch goroutine; the broker client has its own timeout so a slow
// broker degrades to dropped exports rather than a stalled bus.
func (br *Bridge) export(msg bus.Message) error {
	if strings.HasPrefix(msg.Source, importSourcePrefix) {
		return nil
	}

	data, err := json.Marshal(envelope{
		ID:        msg.ID,
		Source:    msg.Source,
		Event:     msg.Event,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return fmt.Errorf("marshalling export: %w", err)
	}

	topic := mqtt.Topics{}.Event(msg.Source, msg.Event)
	if err := br.broker.Publish(topic, data, byte(br.cfg.QoS), false); err != nil {
		return fmt.Errorf("exporting to %q: %w", topic, err)
	}
	return nil
}

// importMessage injects one broker message into the bus. The payload
// may be a full envelope or a bare JSON object; a bare object becomes
// the message payload with the event taken from the envelope-less
// topic's last segment.
func (br *Bridge) importMessage(topic string, payload []byte) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("parsing import from %q: %w", topic, err)
	}

	if env.Event == "" {
		var raw map[string]any
		// Already known to be valid JSON; a non-object or an object
		// without an event falls back to topic-derived naming.
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fmt.Errorf("parsing import from %q: %w", topic, err)
		}
		segments := strings.Split(topic, "/")
		env.Event = segments[len(segments)-1]
		env.Payload = raw
	}

	source := importSourcePrefix + flattenTopic(topic)
	msg := bus.NewMessage(source, env.Event, env.Payload)

	if err := br.bus.RouteMessage(msg); err != nil {
		return fmt.Errorf("routing import from %q: %w", topic, err)
	}
	br.logger.Debug("imported message", "topic", topic, "event", env.Event)
	return nil
}

// flattenTopic converts an MQTT topic into a dot-separated bus name.
func flattenTopic(topic string) string {
	return strings.ReplaceAll(topic, "/", ".")
}
