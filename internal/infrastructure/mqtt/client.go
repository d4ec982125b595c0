package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/simpit-core/internal/infrastructure/config"
)

// Client is a paho connection that tracks its own link state, announces the
// panel on the status topic and replays subscriptions after a reconnect.
//
// All methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig

	// mu guards subscriptions, onConnect and logger.
	mu            sync.RWMutex
	subscriptions map[string]subscription
	onConnect     func()
	logger        Logger

	up        atomic.Bool
	published atomic.Uint64
}

// Logger receives handler failures and link loss.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// MessageHandler handles one received message. Handlers run on paho's
// goroutines and must not block. A returned error is logged.
type MessageHandler func(topic string, payload []byte) error

// Connect dials the broker described by cfg. It returns ErrConnectionFailed
// if the broker has not accepted the session within the connect timeout.
func Connect(cfg config.MQTTConfig) (*Client, error) {
	c := &Client{cfg: cfg, subscriptions: make(map[string]subscription)}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { c.onLinkUp() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) { c.onLinkDown(err) })
	c.client = pahomqtt.NewClient(opts)

	if err := await(c.client.Connect(), defaultConnectTimeout, ErrConnectionFailed); err != nil {
		// ConnectRetry keeps dialling in the background until told to stop.
		c.client.Disconnect(0)
		return nil, err
	}
	// paho fires the connect handler on its own goroutine; don't wait for it.
	c.up.Store(true)
	return c, nil
}

// await blocks on token for at most d and wraps any failure in sentinel.
func await(token pahomqtt.Token, d time.Duration, sentinel error) error {
	if !token.WaitTimeout(d) {
		return fmt.Errorf("%w: no reply within %v", sentinel, d)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return nil
}

func (c *Client) onLinkUp() {
	c.up.Store(true)

	c.mu.RLock()
	for topic, sub := range c.subscriptions {
		c.client.Subscribe(topic, sub.qos, c.wrapHandler(sub.handler))
	}
	callback := c.onConnect
	c.mu.RUnlock()

	c.client.Publish(Topics{}.SystemStatus(), c.QoS(), true,
		buildStatusPayload(c.cfg.Broker.ClientID, "online", ""))

	if callback != nil {
		callback()
	}
}

func (c *Client) onLinkDown(err error) {
	c.up.Store(false)
	if l := c.getLogger(); l != nil {
		l.Warn("MQTT connection lost", "error", err)
	}
}

// Close announces a graceful shutdown on the status topic and disconnects.
// Closing a client that never connected is a no-op.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	if c.IsConnected() {
		bye := buildStatusPayload(c.cfg.Broker.ClientID, "offline", "graceful_shutdown")
		c.client.Publish(Topics{}.SystemStatus(), c.QoS(), true, bye).WaitTimeout(defaultPublishTimeout)
	}
	c.client.Disconnect(defaultDisconnectQuiesce)
	c.up.Store(false)
	return nil
}

// HealthCheck reports ErrNotConnected while the broker is unreachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("mqtt health check: %w", err)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected reports whether both this client and paho consider the link up.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.up.Load() && c.client.IsConnected()
}

// QoS returns the configured default QoS.
func (c *Client) QoS() byte { return byte(c.cfg.QoS) }

// Published returns the number of messages the broker accepted.
func (c *Client) Published() uint64 { return c.published.Load() }

// SetOnConnect installs a callback that runs after every (re)connect.
func (c *Client) SetOnConnect(callback func()) {
	c.mu.Lock()
	c.onConnect = callback
	c.mu.Unlock()
}

// SetLogger installs the logger for handler errors and link loss.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.logger
}

// wrapHandler turns a MessageHandler into a paho callback that logs
// returned errors and survives panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		topic := msg.Topic()
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if l := c.getLogger(); l != nil {
				l.Error("MQTT handler panicked", "topic", topic, "panic", r)
			}
		}()

		err := handler(topic, msg.Payload())
		if err == nil {
			return
		}
		if l := c.getLogger(); l != nil {
			l.Warn("MQTT handler failed", "topic", topic, "error", err)
		}
	}
}
