// Package mqtt is the broker transport shared by telemetry ingestion and relay
// actuation.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/powerdash/backend/internal/config"
	"github.com/powerdash/backend/internal/utils"
)

var ErrNotConnected = errors.New("mqtt client not connected")

const defaultPublishTimeout = 2 * time.Second

// Handler receives one inbound message.
type Handler func(topic string, payload []byte)

// Client wraps a paho client. Subscriptions are remembered and restored after
// every reconnect.
type Client struct {
	client         paho.Client
	qos            byte
	connectTimeout time.Duration
	publishTimeout time.Duration
	logger         *utils.Logger

	mu   sync.Mutex
	subs map[string]Handler
}

// NewClient configures a paho client for the broker in cfg. The client ID gets
// a random suffix since several dashboards may share a public broker.
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger) *Client {
	c := &Client{
		qos:            cfg.QoS,
		connectTimeout: cfg.ConnectTimeout,
		publishTimeout: defaultPublishTimeout,
		logger:         logger.Named("mqtt"),
		subs:           make(map[string]Handler),
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(fmt.Sprintf("%s-%s", cfg.ClientID, uuid.NewString()[:8])).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(30 * time.Second).
		// handlers may publish relay commands, so they must not block the router
		SetOrderMatters(false).
		SetOnConnectHandler(func(paho.Client) { c.onConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("Lost connection to MQTT broker", utils.Error(err))
		})
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// newClientWith wraps an existing paho client.
func newClientWith(client paho.Client, qos byte, logger *utils.Logger) *Client {
	return &Client{
		client:         client,
		qos:            qos,
		connectTimeout: time.Second,
		publishTimeout: defaultPublishTimeout,
		logger:         logger.Named("mqtt"),
		subs:           make(map[string]Handler),
	}
}

// Connect starts connecting. When the broker is not reachable within the
// connect timeout the client keeps retrying in the background and Connect
// returns nil; callers observe the state through IsConnected.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	timeout := c.connectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to connect to mqtt broker: %w", err)
		}
		return nil
	case <-timer.C:
		c.logger.Warn("MQTT broker not reachable yet, retrying in background")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) onConnect() {
	c.logger.Info("Connected to MQTT broker")

	c.mu.Lock()
	subs := make(map[string]Handler, len(c.subs))
	for t, h := range c.subs {
		subs[t] = h
	}
	c.mu.Unlock()

	for topic, h := range subs {
		if err := c.subscribe(topic, h); err != nil {
			c.logger.Error("Failed to restore subscription", utils.String("topic", topic), utils.Error(err))
		}
	}
}

// Subscribe registers handler for every topic. Topics are subscribed right
// away when connected, otherwise on the next connect.
func (c *Client) Subscribe(topics []string, handler func(topic string, payload []byte)) error {
	c.mu.Lock()
	for _, t := range topics {
		c.subs[t] = handler
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() {
		return nil
	}
	for _, t := range topics {
		if err := c.subscribe(t, handler); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) subscribe(topic string, handler Handler) error {
	token := c.client.Subscribe(topic, c.qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("timed out subscribing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	c.logger.Debug("Subscribed", utils.String("topic", topic))
	return nil
}

// Unsubscribe forgets topics and unsubscribes them when connected.
func (c *Client) Unsubscribe(topics ...string) error {
	c.mu.Lock()
	for _, t := range topics {
		delete(c.subs, t)
	}
	c.mu.Unlock()

	if !c.client.IsConnectionOpen() || len(topics) == 0 {
		return nil
	}
	token := c.client.Unsubscribe(topics...)
	if !token.WaitTimeout(c.publishTimeout) {
		return errors.New("timed out unsubscribing")
	}
	return token.Error()
}

// Publish sends payload and waits for the client to hand it off. It fails
// fast when the connection is down instead of queueing.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(c.publishTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the connection to the broker is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnectionOpen()
}

// Disconnect closes the connection after letting in-flight work drain.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}
