// Package mqtt publishes engine events to an MQTT broker
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/sitegate/sitegate/pkg"
	"github.com/sitegate/sitegate/pkg/logx"
)

// Client publishes pkg.Event values as JSON to <prefix>/<event type>
type Client struct {
	client    MQTT.Client
	logger    *logx.Logger
	config    *Config
	connected atomic.Bool

	mu          sync.Mutex
	lastPublish time.Time
}

// Config holds MQTT configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "sitegate",
		TopicPrefix: "sitegate",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logx.Nop()
	}
	return &Client{
		logger: logger.WithComponent("mqtt"),
		config: config,
	}
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker, "port", c.config.Port)
	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() error {
	if c.client != nil && c.connected.Load() {
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", "error", err)
}

// Topic returns the topic an event type is published to
func (c *Client) Topic(eventType string) string {
	return fmt.Sprintf("%s/%s", c.config.TopicPrefix, eventType)
}

// Publish implements pkg.EventSink. Events are dropped while disabled or disconnected.
func (c *Client) Publish(ctx context.Context, event pkg.Event) error {
	if !c.config.Enabled || !c.connected.Load() || c.client == nil {
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	topic := c.Topic(event.Type)
	token := c.client.Publish(topic, byte(c.config.QoS), c.config.Retain, data)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()

	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}
