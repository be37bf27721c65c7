package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const notificationBuffer = 64

// ErrNotConnected is returned by Publish while the broker connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

type NotificationKind string

const (
	NoteConnected      NotificationKind = "connected"
	NoteConnectionLost NotificationKind = "connection_lost"
	NoteReconnecting   NotificationKind = "reconnecting"
	NotePublished      NotificationKind = "published"
	NoteMessage        NotificationKind = "message"
	NoteDisconnected   NotificationKind = "disconnected"
)

// Notification is a low level connection event, surfaced for diagnostics only.
type Notification struct {
	Kind   NotificationKind
	Detail string
	At     time.Time
}

type Client struct {
	client    mqtt.Client
	opts      Options
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool

	notes chan Notification

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(o Options, logger *slog.Logger) (*Client, error) {
	if o.Broker == "" {
		return nil, errors.New("mqtt: broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		opts:   o,
		logger: logger,
		notes:  make(chan Notification, notificationBuffer),
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	// Session settings
	opts.SetCleanSession(o.CleanSession)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(o.KeepAlive)
	opts.SetPingTimeout(10 * time.Second)

	// Callbacks keep internal state accurate
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", o.Broker, "client_id", o.ClientID)
		c.notify(NoteConnected, o.Broker)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
		c.notify(NoteConnectionLost, err.Error())
	})

	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		c.notify(NoteReconnecting, o.Broker)
	})

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		c.notify(NoteMessage, msg.Topic())
	})

	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect establishes connection to the MQTT broker.
// This function waits for the initial connection, and respects ctx and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-c.stopCh:
		return fmt.Errorf("client stopped")
	default:
	}

	// Fast path.
	if c.IsConnected() {
		return nil
	}

	// Start connect attempt. With ConnectRetry(true), it may keep retrying internally.
	token := c.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				return fmt.Errorf("mqtt connect: %w", err)
			}
			// OnConnectHandler runs on its own goroutine and may not have fired yet.
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			return ctx.Err()
		case <-c.stopCh:
			return fmt.Errorf("client stopped")
		default:
		}
	}
}

// Publish sends payload at QoS 0 without the retained flag and waits until
// paho has handed it to the network.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, 0, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		c.logger.Error("failed to publish reading", "topic", topic, "error", err)
		return fmt.Errorf("mqtt publish: %w", err)
	}

	c.notify(NotePublished, topic)
	return nil
}

// Notifications delivers connection events. The channel is never closed;
// when nobody drains it the oldest entries are dropped.
func (c *Client) Notifications() <-chan Notification {
	return c.notes
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent and safe to call multiple times.
// After Disconnect, Connect() will return "client stopped".
func (c *Client) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	c.stopOnce.Do(func() { close(c.stopCh) })

	// Paho Disconnect quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.notify(NoteDisconnected, c.opts.Broker)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// notify never blocks paho's callback goroutines.
func (c *Client) notify(kind NotificationKind, detail string) {
	n := Notification{Kind: kind, Detail: detail, At: time.Now()}
	for {
		select {
		case c.notes <- n:
			return
		default:
		}
		select {
		case <-c.notes:
		default:
		}
	}
}
