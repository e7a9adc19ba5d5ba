package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(context.Background(), "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestPublishInvalidation(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)
	topic, err := client.CreateTopic(ctx, "catalog-invalidations")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()

	publisher, err := NewPubSubInvalidationPublisher(topic, " api-1 ")
	if err != nil {
		t.Fatalf("NewPubSubInvalidationPublisher: %v", err)
	}
	requestedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	publisher.now = func() time.Time { return requestedAt }

	if _, err := publisher.PublishInvalidation(ctx, " catalog published "); err != nil {
		t.Fatalf("PublishInvalidation: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload InvalidationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload.Reason != "catalog published" || payload.Source != "api-1" || !payload.RequestedAt.Equal(requestedAt) {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if attrs := messages[0].Attributes; attrs["event"] != EventCatalogInvalidate || attrs["source"] != "api-1" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
}

type recordingInvalidator struct {
	mu      sync.Mutex
	reasons []string
	err     error
	done    chan struct{}
}

func (r *recordingInvalidator) InvalidateCaches(_ context.Context, reason string) error {
	r.mu.Lock()
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	r.done <- struct{}{}
	return r.err
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) log(_ context.Context, event string, _ map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) has(event string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e == event {
			return true
		}
	}
	return false
}

func TestInvalidationListenerAppliesBroadcast(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, _ := newTestClient(t)

	topic, err := client.CreateTopic(ctx, "catalog-invalidations")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	defer topic.Stop()
	sub, err := client.CreateSubscription(ctx, "api-1", pubsub.SubscriptionConfig{Topic: topic})
	if err != nil {
		t.Fatalf("CreateSubscription: %v", err)
	}

	invalidator := &recordingInvalidator{done: make(chan struct{}, 4), err: errors.New("catalog source down")}
	logs := &eventLog{}
	listener, err := NewInvalidationListener(sub, invalidator, logs.log)
	if err != nil {
		t.Fatalf("NewInvalidationListener: %v", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	runErr := make(chan error, 1)
	go func() { runErr <- listener.Run(runCtx) }()

	publisher, _ := NewPubSubInvalidationPublisher(topic, "admin")
	if _, err := publisher.PublishInvalidation(ctx, "rules edited"); err != nil {
		t.Fatalf("PublishInvalidation: %v", err)
	}

	select {
	case <-invalidator.done:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for invalidation")
	}
	stop()
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	invalidator.mu.Lock()
	defer invalidator.mu.Unlock()
	if len(invalidator.reasons) != 1 || invalidator.reasons[0] != "rules edited" {
		t.Fatalf("unexpected reasons %v", invalidator.reasons)
	}
	if !logs.has("invalidation.refresh_failed") {
		t.Fatalf("expected refresh failure to be logged, got %v", logs.events)
	}
}

func TestNewInvalidationListenerValidates(t *testing.T) {
	if _, err := NewInvalidationListener(nil, &recordingInvalidator{}, nil); err == nil {
		t.Fatalf("expected error for nil subscription")
	}
	if _, err := NewPubSubInvalidationPublisher(nil, "x"); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}

func TestMessageAttributesSkipsEmptyValues(t *testing.T) {
	attrs := messageAttributes("event", EventCatalogInvalidate, "source", " ", "reason", "price sheet")
	if len(attrs) != 2 || attrs["reason"] != "price sheet" {
		t.Fatalf("unexpected attributes %v", attrs)
	}
	if _, ok := attrs["source"]; ok {
		t.Fatalf("empty source should be omitted")
	}
}
