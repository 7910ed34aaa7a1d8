package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	StreamName = "SPACECRAFT"

	TopicTelemetry = "spacecraft-telemetry"
	TopicAlerts    = "spacecraft-alerts"

	// HeaderKey carries the message key alongside the subject token
	HeaderKey = "Msg-Key"
)

// ErrInvalidKey is returned for keys that cannot be used as a subject token
var ErrInvalidKey = errors.New("invalid message key")

// Handler receives the key and raw body of a bus message
type Handler func(key string, body []byte)

// Client represents a NATS JetStream client for keyed topics
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
	subs []*nats.Subscription
}

// New connects and makes sure the SPACECRAFT stream exists
func New(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("orbit-tracker"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{TopicTelemetry + ".*", TopicAlerts + ".*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && !strings.Contains(err.Error(), "stream name already in use") {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Client{
		conn: nc,
		js:   js,
	}, nil
}

// Subject returns the subject a keyed message is published on
func Subject(topic, key string) string {
	return topic + "." + key
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, ".*> \t\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// keyOf prefers the key header and falls back to the last subject token
func keyOf(msg *nats.Msg) string {
	if k := msg.Header.Get(HeaderKey); k != "" {
		return k
	}
	if i := strings.LastIndexByte(msg.Subject, '.'); i >= 0 {
		return msg.Subject[i+1:]
	}
	return ""
}

// Publish sends body on topic under key
func (c *Client) Publish(ctx context.Context, topic, key string, body []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}

	msg := nats.NewMsg(Subject(topic, key))
	msg.Header.Set(HeaderKey, key)
	msg.Data = body

	if _, err := c.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

// Subscribe delivers new messages of every key on topic to handler
func (c *Client) Subscribe(topic string, handler Handler) error {
	sub, err := c.js.Subscribe(topic+".*", func(msg *nats.Msg) {
		handler(keyOf(msg), msg.Data)
	}, nats.DeliverNew())
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	return nil
}

// Connected reports whether the connection is currently usable
func (c *Client) Connected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Close drops subscriptions and closes the NATS connection
func (c *Client) Close() {
	c.mu.Lock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
}
