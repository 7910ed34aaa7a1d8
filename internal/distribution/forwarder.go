package distribution

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/saviobatista/orbit-tracker/internal/nats"
	"github.com/saviobatista/orbit-tracker/internal/stats"
)

// ErrMalformedMessage is returned for bus messages that cannot be routed
var ErrMalformedMessage = errors.New("malformed bus message")

// Sender delivers a raw payload to every live session of an operator
type Sender interface {
	SendToOperator(operatorID uuid.UUID, payload []byte) int
}

// Subscriber registers a handler on a keyed topic
type Subscriber interface {
	Subscribe(topic string, handler nats.Handler) error
}

// Forwarder relays bus messages to the delivery transport
type Forwarder struct {
	sender Sender
	stats  *stats.Stats
	logger *slog.Logger
}

// NewForwarder creates a forwarder
func NewForwarder(sender Sender, st *stats.Stats, logger *slog.Logger) *Forwarder {
	return &Forwarder{
		sender: sender,
		stats:  st,
		logger: logger.With("component", "forwarder"),
	}
}

// Start subscribes to the telemetry and alert topics
func (f *Forwarder) Start(sub Subscriber) error {
	for _, topic := range []string{nats.TopicTelemetry, nats.TopicAlerts} {
		if err := sub.Subscribe(topic, func(key string, body []byte) {
			f.Handle(topic, key, body)
		}); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
		}
	}
	return nil
}

// Handle routes one message; malformed messages are dropped
func (f *Forwarder) Handle(topic, key string, body []byte) {
	operatorID, err := decode(key, body)
	if err != nil {
		f.stats.IncrementDropped()
		f.logger.Warn("dropping bus message", "topic", topic, "key", key, "error", err)
		return
	}

	n := f.sender.SendToOperator(operatorID, body)
	f.stats.IncrementForwarded()
	f.logger.Debug("forwarded bus message", "topic", topic, "operator_id", operatorID, "sessions", n)
}

func decode(key string, body []byte) (uuid.UUID, error) {
	operatorID, err := uuid.Parse(key)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: key %q: %v", ErrMalformedMessage, key, err)
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return uuid.Nil, fmt.Errorf("%w: body is not a JSON object", ErrMalformedMessage)
	}
	return operatorID, nil
}
