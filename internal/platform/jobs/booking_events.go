package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/lumen-studio/booking/internal/services"
)

// PubSubBookingEventPublisher publishes contract lifecycle events to a Pub/Sub topic.
type PubSubBookingEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.BookingEventPublisher = (*PubSubBookingEventPublisher)(nil)

// NewPubSubBookingEventPublisher constructs a Pub/Sub backed booking event publisher.
func NewPubSubBookingEventPublisher(topic *pubsub.Topic) (*PubSubBookingEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub booking publisher: topic is required")
	}
	return &PubSubBookingEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishBookingEvent sends the event and waits for the server id. Messages
// for one contract share an ordering key when the topic enables ordering.
func (p *PubSubBookingEventPublisher) PublishBookingEvent(ctx context.Context, event services.BookingEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub booking publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal booking event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "contractId", event.ContractID)
	setAttr(attrs, "sessionId", event.SessionID)
	setAttr(attrs, "orderId", event.OrderID)

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.ContractID)
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish booking event: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages.
func (p *PubSubBookingEventPublisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
