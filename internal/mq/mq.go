package mq

import (
	"context"
	"fmt"

	"github.com/jjudge-oj/mediastore/config"
)

const (
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// Message represents a broker-agnostic payload delivered to subscribers.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes a message. Return an error to signal a retry/nack.
type Handler func(ctx context.Context, msg Message) error

// Backend defines the broker-agnostic operations used by the app.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Close() error
}

// MQ binds a backend to the channel media events travel on.
type MQ struct {
	backend Backend
	channel string
}

// New constructs an MQ wrapper publishing to channel on backend.
func New(backend Backend, channel string) *MQ {
	return &MQ{backend: backend, channel: channel}
}

// Open connects the backend named by cfg.Backend. It returns nil, nil when
// no backend is configured.
func Open(ctx context.Context, cfg config.MQConfig) (*MQ, error) {
	var (
		backend Backend
		err     error
	)
	switch cfg.Backend {
	case "":
		return nil, nil
	case BackendRabbitMQ:
		backend, err = NewRabbitMQClient(cfg.RabbitMQ)
	case BackendPubSub:
		backend, err = NewPubSubClient(ctx, cfg.PubSub)
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Backend, err)
	}
	return New(backend, cfg.Channel), nil
}

// Channel returns the channel events are published to.
func (m *MQ) Channel() string {
	return m.channel
}

// Publish sends a raw message to the bound channel.
func (m *MQ) Publish(ctx context.Context, data []byte, attrs map[string]string) (string, error) {
	return m.backend.Publish(ctx, m.channel, data, attrs)
}

// Subscribe consumes raw messages from the bound channel until ctx ends.
func (m *MQ) Subscribe(ctx context.Context, handler Handler) error {
	return m.backend.Subscribe(ctx, m.channel, handler)
}

// Close closes the underlying backend.
func (m *MQ) Close() error {
	return m.backend.Close()
}
