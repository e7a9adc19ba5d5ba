package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/MosquitoCurtains/new-sub007/internal/services"
)

// EventCatalogInvalidate tags invalidation messages in the "event" attribute.
const EventCatalogInvalidate = "catalog.invalidate"

// InvalidationMessage is the payload broadcast when catalog or rule data changed.
type InvalidationMessage struct {
	Reason      string    `json:"reason"`
	Source      string    `json:"source,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// PubSubInvalidationPublisher broadcasts cache invalidations on a topic every API instance
// subscribes to.
type PubSubInvalidationPublisher struct {
	topic  *pubsub.Topic
	source string
	now    func() time.Time
}

var _ services.InvalidationPublisher = (*PubSubInvalidationPublisher)(nil)

// NewPubSubInvalidationPublisher constructs the publisher. source identifies the sender in logs.
func NewPubSubInvalidationPublisher(topic *pubsub.Topic, source string) (*PubSubInvalidationPublisher, error) {
	if topic == nil {
		return nil, errors.New("invalidation publisher: topic is required")
	}
	return &PubSubInvalidationPublisher{
		topic:  topic,
		source: strings.TrimSpace(source),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// PublishInvalidation publishes one message and waits for the server ID.
func (p *PubSubInvalidationPublisher) PublishInvalidation(ctx context.Context, reason string) (string, error) {
	message := InvalidationMessage{
		Reason:      strings.TrimSpace(reason),
		Source:      p.source,
		RequestedAt: p.now(),
	}
	data, err := json.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal invalidation: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: messageAttributes(
			"event", EventCatalogInvalidate,
			"source", message.Source,
			"reason", message.Reason,
		),
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish invalidation: %w", err)
	}
	return id, nil
}

// messageAttributes builds Pub/Sub attributes from key/value pairs, omitting empty values so
// subscribers can filter on attribute presence.
func messageAttributes(pairs ...string) map[string]string {
	attrs := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		if value := strings.TrimSpace(pairs[i+1]); value != "" {
			attrs[pairs[i]] = value
		}
	}
	return attrs
}

// InvalidationListener applies broadcast invalidations to this instance's caches.
type InvalidationListener struct {
	subscription *pubsub.Subscription
	invalidator  services.CacheInvalidator
	logger       func(context.Context, string, map[string]any)
}

// NewInvalidationListener constructs the listener.
func NewInvalidationListener(subscription *pubsub.Subscription, invalidator services.CacheInvalidator, logger func(context.Context, string, map[string]any)) (*InvalidationListener, error) {
	if subscription == nil {
		return nil, errors.New("invalidation listener: subscription is required")
	}
	if invalidator == nil {
		return nil, errors.New("invalidation listener: invalidator is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &InvalidationListener{subscription: subscription, invalidator: invalidator, logger: logger}, nil
}

// Run receives until ctx is cancelled. Messages are always acked: an undecodable message would
// never decode on redelivery, and a failed refresh still leaves the caches invalidated.
func (l *InvalidationListener) Run(ctx context.Context) error {
	return l.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		defer msg.Ack()
		if event := msg.Attributes["event"]; event != "" && event != EventCatalogInvalidate {
			l.logger(ctx, "invalidation.ignored", map[string]any{"messageId": msg.ID, "event": event})
			return
		}
		var payload InvalidationMessage
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			l.logger(ctx, "invalidation.malformed", map[string]any{"messageId": msg.ID, "error": err.Error()})
			return
		}
		reason := payload.Reason
		if reason == "" {
			reason = "broadcast"
		}
		if err := l.invalidator.InvalidateCaches(ctx, reason); err != nil {
			l.logger(ctx, "invalidation.refresh_failed", map[string]any{
				"messageId": msg.ID,
				"source":    payload.Source,
				"error":     err.Error(),
			})
			return
		}
		l.logger(ctx, "invalidation.applied", map[string]any{"messageId": msg.ID, "source": payload.Source, "reason": reason})
	})
}
