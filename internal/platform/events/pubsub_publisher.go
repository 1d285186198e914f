package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/oklog/ulid/v2"
)

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// PubSubPublisher publishes storefront events such as order.created to a Pub/Sub topic.
type PubSubPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	newID   func() string
	now     func() time.Time
}

// NewPubSubPublisher constructs a publisher for topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	return &PubSubPublisher{
		topic:   topic,
		marshal: json.Marshal,
		newID:   func() string { return ulid.Make().String() },
		now:     time.Now,
	}, nil
}

// Publish sends the event and waits for the server-assigned message id.
func (p *PubSubPublisher) Publish(ctx context.Context, eventType, subject string, data any) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub publisher: not initialised")
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return "", errors.New("pubsub publisher: event type is required")
	}

	envelope := Envelope{
		ID:         p.newID(),
		Type:       eventType,
		Subject:    strings.TrimSpace(subject),
		OccurredAt: p.now().UTC(),
		Data:       data,
	}
	body, err := p.marshal(envelope)
	if err != nil {
		return "", fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	attrs := map[string]string{
		"eventId":   envelope.ID,
		"eventType": envelope.Type,
	}
	if envelope.Subject != "" {
		attrs["subject"] = envelope.Subject
	}

	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: body, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s event: %w", eventType, err)
	}
	return id, nil
}

// NopPublisher drops events; used when Pub/Sub is disabled.
type NopPublisher struct{}

// Publish implements the publisher contract without side effects.
func (NopPublisher) Publish(context.Context, string, string, any) (string, error) {
	return "", nil
}
