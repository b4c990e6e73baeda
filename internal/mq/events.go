package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jjudge-oj/mediastore/internal/logging"
)

const (
	EventMediaStored  = "media.stored"
	EventMediaRemoved = "media.removed"

	attrType        = "type"
	attrContentType = "content_type"
)

// ErrMalformedEvent is returned when a message does not carry a media event.
var ErrMalformedEvent = errors.New("malformed media event")

// MediaEvent announces a change to a stored file.
type MediaEvent struct {
	Type   string    `json:"type"`
	ID     int64     `json:"id,omitempty"`
	Name   string    `json:"name,omitempty"`
	Path   string    `json:"path"`
	Size   int64     `json:"size,omitempty"`
	Bucket string    `json:"bucket"`
	At     time.Time `json:"at"`
}

// PublishEvent encodes event as JSON and publishes it with its type as an
// attribute, so subscribers can filter without decoding.
func (m *MQ) PublishEvent(ctx context.Context, event MediaEvent) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = m.Publish(ctx, data, map[string]string{
		attrType:        event.Type,
		attrContentType: "application/json",
	})
	return err
}

// SubscribeEvents decodes each message into a MediaEvent before handing it to
// handler. Malformed messages are acknowledged and dropped.
func (m *MQ) SubscribeEvents(ctx context.Context, handler func(context.Context, MediaEvent) error) error {
	return m.Subscribe(ctx, func(ctx context.Context, msg Message) error {
		event, err := DecodeEvent(msg)
		if err != nil {
			logging.L().Warn("dropping media event", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		return handler(ctx, event)
	})
}

// DecodeEvent parses a MediaEvent from msg.
func DecodeEvent(msg Message) (MediaEvent, error) {
	var event MediaEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return MediaEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Type == "" {
		event.Type = msg.Attributes[attrType]
	}
	if event.Type == "" || event.Path == "" {
		return MediaEvent{}, ErrMalformedEvent
	}
	return event, nil
}
