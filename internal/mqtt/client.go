package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nredpi-gateway/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const opTimeout = 5 * time.Second

// MessageHandler receives every message arriving on a subscribed topic.
// It runs on a paho goroutine.
type MessageHandler func(topic string, payload []byte)

type Client struct {
	client mqtt.Client
	cfg    config.Config
	logger *slog.Logger

	mu               sync.RWMutex
	connected        bool
	failedConnection bool
	topics           []string
	handler          MessageHandler

	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewClient(cfg config.Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg))
	opts.SetClientID(cfg.MQTTClientID)
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}

	// Session settings
	opts.SetCleanSession(true)

	// A refused first connect (bad credentials) must surface as a failure
	// instead of being retried forever. Once up, paho reconnects on its own.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(cfg.MQTTConnectTimeout)

	// Subscriptions are (re)made on every connect, the clean session drops them.
	opts.SetOnConnectHandler(func(pc mqtt.Client) {
		c.setConnected(true)
		logger.Info("mqtt connected", "broker", cfg.MQTTBroker, "port", cfg.MQTTPort)
		c.subscribeAll(pc)
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.setConnected(false)
		logger.Warn("mqtt connection lost", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

func brokerURL(cfg config.Config) string {
	return fmt.Sprintf("tcp://%s:%d", cfg.MQTTBroker, cfg.MQTTPort)
}

// SetSubscriptions registers the topic filters to subscribe to on connect and
// the handler for their messages. Call before Connect.
func (c *Client) SetSubscriptions(topics []string, handler MessageHandler) {
	c.mu.Lock()
	c.topics = append([]string(nil), topics...)
	c.handler = handler
	c.mu.Unlock()
}

// Connect establishes the connection to the broker and waits for the result.
// It respects ctx, the configured connect timeout and Disconnect().
func (c *Client) Connect(ctx context.Context) error {
	// Fail fast if already stopped.
	select {
	case <-c.stopCh:
		return ErrStopped
	default:
	}

	// Fast path.
	if c.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.MQTTConnectTimeout)
	defer cancel()

	c.logger.Info("connecting", "broker", brokerURL(c.cfg), "client_id", c.cfg.MQTTClientID)
	token := c.client.Connect()

	// Wait in a ctx/stop-aware loop.
	const poll = 200 * time.Millisecond
	for {
		if token.WaitTimeout(poll) {
			if err := token.Error(); err != nil {
				c.setFailed()
				return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
			}
			// OnConnectHandler may run after the token completes.
			c.setConnected(true)
			return nil
		}

		select {
		case <-ctx.Done():
			c.client.Disconnect(0)
			if ctx.Err() == context.DeadlineExceeded {
				c.setFailed()
				return fmt.Errorf("%w: no answer from %s within %v", ErrConnectionFailed, brokerURL(c.cfg), c.cfg.MQTTConnectTimeout)
			}
			return ctx.Err()
		case <-c.stopCh:
			c.client.Disconnect(0)
			return ErrStopped
		default:
			c.logger.Debug("waiting for broker")
		}
	}
}

func (c *Client) subscribeAll(pc mqtt.Client) {
	c.mu.RLock()
	topics := c.topics
	handler := c.handler
	c.mu.RUnlock()

	qos := c.cfg.MQTTQoS
	for _, topic := range topics {
		token := pc.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
			c.logger.Debug("received", "topic", msg.Topic(), "size", len(msg.Payload()))
			if handler != nil {
				handler(msg.Topic(), msg.Payload())
			}
		})
		if !token.WaitTimeout(opTimeout) {
			c.logger.Error("subscribe timeout", "topic", topic)
			continue
		}
		if err := token.Error(); err != nil {
			c.logger.Error("subscribe failed", "topic", topic, "error", err)
			continue
		}
		c.logger.Info("subscribed", "topic", topic, "qos", qos)
	}
}

// Publish sends payload to topic and waits for the broker acknowledgement
// (or the local write at QoS 0).
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.cfg.MQTTQoS, false, payload)
	if !token.WaitTimeout(opTimeout) {
		return fmt.Errorf("%w: publish to %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	return connected && c.client.IsConnected()
}

// FailedConnection reports whether the last Connect attempt failed.
func (c *Client) FailedConnection() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failedConnection
}

// Disconnect stops the client and closes the MQTT connection.
// Idempotent and safe to call multiple times.
// After Disconnect, Connect() returns ErrStopped.
func (c *Client) Disconnect() {
	// Signal shutdown once (unblocks any Connect loops).
	c.stopOnce.Do(func() { close(c.stopCh) })

	// Paho Disconnect quiesces in-flight work for the given ms.
	if c.client != nil {
		c.client.Disconnect(250)
	}

	c.setConnected(false)
	c.logger.Info("mqtt disconnected")
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	if v {
		c.failedConnection = false
	}
	c.mu.Unlock()
}

func (c *Client) setFailed() {
	c.mu.Lock()
	c.failedConnection = true
	c.connected = false
	c.mu.Unlock()
}
