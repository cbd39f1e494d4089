// Package mqttclient is a thin paho wrapper used to mirror session events
// to a broker and to receive control messages from it.
package mqttclient

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// MessageHandler receives one message from a subscribed filter.
type MessageHandler func(topic string, payload []byte)

const (
	statusOnline  = "online"
	statusOffline = "offline"
)

type Options struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	QoS       byte

	// Subscriptions maps topic filters to their handlers. They are
	// (re)subscribed on every connect, so they survive broker restarts.
	Subscriptions map[string]MessageHandler

	// StatusTopic, when set, carries a retained "online" while connected and
	// "offline" as the last will.
	StatusTopic string

	PublishTimeout time.Duration
	Log            zerolog.Logger
}

// Client publishes with bounded waits and tracks connection state for /health.
type Client struct {
	conn      mqtt.Client
	opts      Options
	connected atomic.Bool
	log       zerolog.Logger
}

func Connect(opts Options) (*Client, error) {
	if opts.BrokerURL == "" {
		return nil, errors.New("mqtt: broker URL is empty")
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	c := &Client{opts: opts, log: opts.Log}

	co := mqtt.NewClientOptions().
		AddBroker(opts.BrokerURL).
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetKeepAlive(30 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.connected.Store(false)
			c.log.Warn().Err(err).Msg("mqtt connection lost, reconnecting")
		})
	if opts.StatusTopic != "" {
		co.SetWill(opts.StatusTopic, statusOffline, opts.QoS, true)
	}

	c.conn = mqtt.NewClient(co)
	if tok := c.conn.Connect(); tok.Wait() && tok.Error() != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", opts.BrokerURL, tok.Error())
	}
	return c, nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	for filter, h := range c.opts.Subscriptions {
		tok := client.Subscribe(filter, c.opts.QoS, func(_ mqtt.Client, m mqtt.Message) {
			h(m.Topic(), m.Payload())
		})
		if tok.Wait() && tok.Error() != nil {
			c.log.Error().Err(tok.Error()).Str("filter", filter).Msg("mqtt subscribe failed")
		}
	}
	if c.opts.StatusTopic != "" {
		client.Publish(c.opts.StatusTopic, c.opts.QoS, true, statusOnline)
	}
	c.log.Info().Int("subscriptions", len(c.opts.Subscriptions)).Msg("mqtt connected")
}

// Publish waits at most PublishTimeout for the broker to accept payload.
func (c *Client) Publish(topic string, payload []byte) error {
	tok := c.conn.Publish(topic, c.opts.QoS, false, payload)
	if !tok.WaitTimeout(c.opts.PublishTimeout) {
		return fmt.Errorf("mqtt publish %s: timed out after %s", topic, c.opts.PublishTimeout)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Close marks the engine offline and disconnects, allowing a second for
// in-flight publishes.
func (c *Client) Close() {
	if c.opts.StatusTopic != "" && c.conn.IsConnected() {
		c.conn.Publish(c.opts.StatusTopic, c.opts.QoS, true, statusOffline).WaitTimeout(time.Second)
	}
	c.conn.Disconnect(1000)
	c.log.Info().Msg("mqtt disconnected")
}

// SessionFromTopic extracts the session segment from a topic of the form
// "{prefix}/{session}/{suffix}". It returns false when topic does not match.
func SessionFromTopic(prefix, topic, suffix string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, strings.TrimRight(prefix, "/")+"/")
	if !ok {
		return "", false
	}
	session, ok := strings.CutSuffix(rest, "/"+suffix)
	if !ok || session == "" || strings.Contains(session, "/") {
		return "", false
	}
	return session, true
}
