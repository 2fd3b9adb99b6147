package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
)

// Client is the bridge's broker session. It announces presence on the
// system status topic, keeps a last will on the gpio health topic and
// replays subscriptions after paho reconnects. Safe for concurrent use.
type Client struct {
	client   pahomqtt.Client
	options  *pahomqtt.ClientOptions
	cfg      config.MQTTConfig
	clientID string

	up atomic.Bool

	subMu         sync.RWMutex
	subscriptions map[string]subscription

	hookMu       sync.RWMutex
	onConnect    func()
	onDisconnect func(err error)
	logger       Logger
}

// Logger is the subset of *slog.Logger the client logs through.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one inbound message. A non-nil error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker and blocks until the first CONNACK or the
// connect timeout. Later drops are recovered by paho in the background.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := newClient(cfg)

	c.options.
		SetOnConnectHandler(func(pahomqtt.Client) { c.connected() }).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.lost(err) }).
		SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt reconnecting", "client_id", c.clientID, "broker", brokerURL(cfg.Broker))
			}
		})

	c.client = pahomqtt.NewClient(c.options)
	if err := wait(c.client.Connect(), ErrConnectionFailed); err != nil {
		return nil, fmt.Errorf("%w (broker %s)", err, brokerURL(cfg.Broker))
	}

	// The on-connect hook runs on its own goroutine and may not have fired yet.
	c.up.Store(true)
	return c, nil
}

func newClient(cfg config.MQTTConfig) *Client {
	id := uniqueClientID(cfg.Broker.ClientID)
	return &Client{
		cfg:           cfg,
		options:       newOptions(cfg, id),
		clientID:      id,
		subscriptions: make(map[string]subscription),
	}
}

// uniqueClientID suffixes prefix with eight random hex digits so two
// bridges started from the same config do not evict each other.
func uniqueClientID(prefix string) string {
	if prefix == "" {
		prefix = "graylogic-gpio"
	}
	return prefix + "-" + uuid.NewString()[:8]
}

// ClientID returns the identifier presented to the broker.
func (c *Client) ClientID() string {
	return c.clientID
}

func (c *Client) connected() {
	c.up.Store(true)

	c.subMu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	c.subMu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.qos(), true, presencePayload(c.clientID, "online", ""))

	c.hookMu.RLock()
	fn := c.onConnect
	c.hookMu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (c *Client) lost(err error) {
	c.up.Store(false)

	c.hookMu.RLock()
	fn, l := c.onDisconnect, c.logger
	c.hookMu.RUnlock()

	if l != nil {
		l.Warn("mqtt connection lost", "client_id", c.clientID, "error", err)
	}
	if fn != nil {
		fn(err)
	}
}

// Close publishes a retained graceful-offline status, which unlike the
// last will carries reason "graceful_shutdown", then disconnects.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	if c.IsConnected() {
		token := c.client.Publish(Topics{}.SystemStatus(), c.qos(), true,
			presencePayload(c.clientID, "offline", "graceful_shutdown"))
		token.WaitTimeout(ackTimeout)
	}

	c.client.Disconnect(quiesceMillis)
	c.up.Store(false)
	return nil
}

// HealthCheck fails when ctx is done or the broker session is down.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt: health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports the last known session state.
func (c *Client) IsConnected() bool {
	return c.up.Load() && c.client != nil && c.client.IsConnected()
}

// SetOnConnect registers fn to run after the first connect and every
// reconnect, once subscriptions have been replayed.
func (c *Client) SetOnConnect(fn func()) {
	c.hookMu.Lock()
	c.onConnect = fn
	c.hookMu.Unlock()
}

// SetOnDisconnect registers fn to run when the session drops.
func (c *Client) SetOnDisconnect(fn func(err error)) {
	c.hookMu.Lock()
	c.onDisconnect = fn
	c.hookMu.Unlock()
}

// SetLogger sets where handler errors and recovered panics are logged.
// With no logger they are dropped.
func (c *Client) SetLogger(l Logger) {
	c.hookMu.Lock()
	c.logger = l
	c.hookMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.hookMu.RLock()
	defer c.hookMu.RUnlock()
	return c.logger
}

// wrapHandler adapts a MessageHandler to paho, logging returned errors and
// recovering panics so one bad payload cannot kill the delivery goroutine.
func (c *Client) wrapHandler(h MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if l := c.getLogger(); l != nil {
					l.Error("mqtt handler panicked", "topic", msg.Topic(), "panic", r)
				}
			}
		}()

		if err := h(msg.Topic(), msg.Payload()); err != nil {
			if l := c.getLogger(); l != nil {
				l.Warn("mqtt message rejected", "topic", msg.Topic(), "error", err)
			}
		}
	}
}
