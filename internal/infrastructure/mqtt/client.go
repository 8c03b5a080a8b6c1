package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/hallamshaw/lumen-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	ackTimeout     = 5 * time.Second
	keepAlive      = 60 * time.Second

	// disconnectQuiesce is how long Close waits for in-flight
	// operations, in milliseconds (paho's unit).
	disconnectQuiesce = 1000

	maxQoS = 2

	// maxPayloadSize caps outbound payloads at 1MB, aligned with
	// typical broker limits.
	maxPayloadSize = 1 << 20
)

// Logger is the slice of logging the client needs. Compatible with
// logging.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// MessageHandler is the callback signature for received messages.
// Handlers run on paho's goroutines and should not block; a returned
// error is logged and does not affect acknowledgement.
type MessageHandler func(topic string, payload []byte) error

// trackedSub remembers an active subscription so it can be restored
// after a reconnect.
type trackedSub struct {
	qos     byte
	handler MessageHandler
}

// status is the JSON body published to the system status topic, both
// as the LWT and on connect/shutdown.
type status struct {
	Status    string `json:"status"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func statusJSON(state, clientID, reason string) []byte {
	body, _ := json.Marshal(status{ //nolint:errcheck // fixed shape, cannot fail
		Status:    state,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return body
}

// Client connects the bridge to an MQTT broker: Publish, Subscribe and
// Unsubscribe (the bridge.Broker surface) plus lifecycle management.
// Subscriptions are restored automatically after a reconnect, and the
// broker announces this client's liveness on the system status topic
// (LWT on crash, explicit messages on connect and graceful shutdown).
//
// All methods are safe for concurrent use.
type Client struct {
	paho pahomqtt.Client
	cfg  config.MQTTConfig

	mu        sync.RWMutex // guards subs and connected
	subs      map[string]trackedSub
	connected bool

	cbMu         sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)

	logMu  sync.RWMutex
	logger Logger
}

// Connect dials the broker and returns a ready client. The connection
// carries an LWT on the system status topic and retries automatically
// with backoff between cfg.Reconnect.InitialDelay and MaxDelay seconds.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{
		cfg:  cfg,
		subs: make(map[string]trackedSub),
	}

	opts := pahoOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.brokerConnected() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.brokerLost(err) })

	c.paho = pahomqtt.NewClient(opts)
	token := c.paho.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	// The OnConnect handler runs asynchronously; mark ready here so
	// publishes immediately after Connect are not rejected.
	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return c, nil
}

// pahoOptions translates config into paho connection options,
// including the LWT.
func pahoOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)).
		SetClientID(cfg.Broker.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Delivered by the broker on unexpected disconnect so watchers can
	// tell a crash from a graceful shutdown.
	lwt := statusJSON("offline", cfg.Broker.ClientID, "unexpected_disconnect")
	opts.SetBinaryWill(Topics{}.SystemStatus(), lwt, 1, true)

	return opts
}

// brokerConnected runs on initial connect and every reconnect.
func (c *Client) brokerConnected() {
	c.mu.Lock()
	c.connected = true
	resubs := make(map[string]trackedSub, len(c.subs))
	for topic, sub := range c.subs {
		resubs[topic] = sub
	}
	c.mu.Unlock()

	// Restore subscriptions lost with the previous session. Failures
	// here are retried on the next reconnect.
	for topic, sub := range resubs {
		c.paho.Subscribe(topic, sub.qos, c.recoverHandler(sub.handler))
	}

	online := statusJSON("online", c.cfg.Broker.ClientID, "")
	c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, online)

	c.cbMu.RLock()
	cb := c.onConnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb()
	}
}

// brokerLost runs when the connection drops; paho keeps retrying in
// the background.
func (c *Client) brokerLost(err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.cbMu.RLock()
	cb := c.onDisconnect
	c.cbMu.RUnlock()
	if cb != nil {
		cb(err)
	}
}

// Close announces a graceful shutdown on the status topic and
// disconnects. Safe to call on a client that already lost its
// connection.
func (c *Client) Close() error {
	if c.paho == nil {
		return nil
	}

	if c.ready() {
		offline := statusJSON("offline", c.cfg.Broker.ClientID, "graceful_shutdown")
		token := c.paho.Publish(Topics{}.SystemStatus(), byte(c.cfg.QoS), true, offline)
		token.WaitTimeout(ackTimeout)
	}

	c.paho.Disconnect(disconnectQuiesce)

	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	return nil
}

// HealthCheck reports whether the broker connection is currently up.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.ready() {
		return ErrNotConnected
	}
	return nil
}

// ready reports the last known connection state.
func (c *Client) ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.paho.IsConnected()
}

// SetOnConnect sets a callback invoked on initial connect and every
// reconnect.
func (c *Client) SetOnConnect(cb func()) {
	c.cbMu.Lock()
	c.onConnect = cb
	c.cbMu.Unlock()
}

// SetOnDisconnect sets a callback invoked when the connection drops.
func (c *Client) SetOnDisconnect(cb func(err error)) {
	c.cbMu.Lock()
	c.onDisconnect = cb
	c.cbMu.Unlock()
}

// SetLogger sets a logger for handler errors and panics. Without one
// they are silently dropped.
func (c *Client) SetLogger(logger Logger) {
	c.logMu.Lock()
	c.logger = logger
	c.logMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.logMu.RLock()
	defer c.logMu.RUnlock()
	return c.logger
}

// recoverHandler adapts a MessageHandler to paho's signature with
// panic recovery, so a bad inbound payload cannot kill paho's reader
// goroutine.
func (c *Client) recoverHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := handler(msg.Topic(), msg.Payload()); err != nil {
			if logger := c.getLogger(); logger != nil {
				logger.Warn("mqtt handler failed", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
