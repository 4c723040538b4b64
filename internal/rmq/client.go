// Package rmq bridges the message bus to in-process handlers: it binds
// named queues to routing-key patterns, delivers each message to every
// matching handler and acknowledges only when all of them succeed. Routing
// keys are hierarchical MQTT topics ('/'-separated, '+' and '#' wildcards).
package rmq

import (
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/astrosat/safers-dashboard-api/internal/config"
)

// Client wraps the MQTT connection. Auto-ack is disabled so the router can
// leave failed deliveries unacknowledged for the broker to redeliver.
type Client struct {
	client mqtt.Client
	config *config.MQTTConfig
	logger *zap.Logger
}

// NewClient connects to the broker. A persistent session (clean session
// off) keeps undelivered QoS1 messages across reconnects.
func NewClient(cfg *config.MQTTConfig, logger *zap.Logger) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetCleanSession(false)
	opts.SetAutoAckDisabled(true)
	opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)

	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Client{
		client: client,
		config: cfg,
		logger: logger,
	}, nil
}

// Subscribe registers a raw delivery callback for a topic filter.
func (c *Client) Subscribe(filter string, callback mqtt.MessageHandler) error {
	if token := c.client.Subscribe(filter, c.config.QoS, callback); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", filter, token.Error())
	}
	return nil
}

// Publish sends a payload to a routing key.
func (c *Client) Publish(routingKey string, payload []byte) error {
	token := c.client.Publish(routingKey, c.config.QoS, false, payload)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", routingKey, token.Error())
	}
	return nil
}

// Unsubscribe removes subscriptions for the given topic filters.
func (c *Client) Unsubscribe(filters ...string) error {
	token := c.client.Unsubscribe(filters...)
	token.Wait()

	if token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe: %w", token.Error())
	}
	return nil
}

// Disconnect closes the connection, allowing 250ms for in-flight work.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state, for health signaling.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
