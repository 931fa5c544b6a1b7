// Package mqtt wraps the broker connection. It stays thin: authentication,
// subscription and reconnect handling live here, everything about payload
// semantics belongs to the ingestion pipeline.
package mqtt

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/jkaflik/mqtt2hass/internal/metrics"
)

const (
	connectTimeout       = 10 * time.Second
	connectRetryInterval = 10 * time.Second
	subscribeQoS         = 1
)

// Config describes the broker connection.
type Config struct {
	BrokerURL string
	Username  string
	Password  string
	Topic     string
}

// Handler receives each inbound publish.
type Handler func(topic string, payload []byte)

// Client is a subscribing MQTT client. It resubscribes after every
// reconnect, so a broker restart does not silently stop ingestion.
type Client struct {
	conf    Config
	handler Handler
	client  paho.Client
}

func NewClient(conf Config, handler Handler) *Client {
	c := &Client{conf: conf, handler: handler}

	opts := paho.NewClientOptions().
		AddBroker(conf.BrokerURL).
		SetClientID(clientID()).
		SetConnectTimeout(connectTimeout).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetAutoReconnect(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if conf.Username != "" {
		opts.SetUsername(conf.Username)
		opts.SetPassword(conf.Password)
	}

	c.client = paho.NewClient(opts)
	return c
}

// Connect establishes the broker connection and the subscription. Blocks
// until connected or ctx is done; the paho client keeps retrying underneath.
func (c *Client) Connect(ctx context.Context) error {
	token := c.client.Connect()

	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
	}

	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight deliveries to finish.
func (c *Client) Close() {
	log.Info().Msg("Disconnecting from MQTT broker")
	c.client.Disconnect(uint(connectTimeout.Milliseconds()))
}

func (c *Client) onConnect(client paho.Client) {
	metrics.MQTTConnectionStatus.Set(1)
	log.Info().Str("broker", c.conf.BrokerURL).Msg("Connected to MQTT broker")

	token := client.Subscribe(c.conf.Topic, subscribeQoS, func(_ paho.Client, msg paho.Message) {
		c.handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", c.conf.Topic).Msg("Failed to subscribe")
		return
	}

	log.Info().Str("topic", c.conf.Topic).Msg("Subscribed")
}

func (c *Client) onConnectionLost(_ paho.Client, err error) {
	metrics.MQTTConnectionStatus.Set(0)
	metrics.MQTTReconnectTotal.Inc()
	log.Warn().Err(err).Msg("Lost connection to MQTT broker")
}

func clientID() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "mqtt2hass-" + hex.EncodeToString(b[:])
}
