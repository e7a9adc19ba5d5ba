package handlers

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/auth"
)

type stubPublisher struct {
	reasons []string
	id      string
	err     error
}

func (p *stubPublisher) PublishInvalidation(_ context.Context, reason string) (string, error) {
	p.reasons = append(p.reasons, reason)
	return p.id, p.err
}

type stubInvalidator struct {
	reasons []string
	err     error
}

func (i *stubInvalidator) InvalidateCaches(_ context.Context, reason string) error {
	i.reasons = append(i.reasons, reason)
	return i.err
}

func postInvalidate(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/catalog/invalidate", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestInvalidateCatalogBroadcasts(t *testing.T) {
	publisher := &stubPublisher{id: "msg-1"}
	local := &stubInvalidator{}
	internal := NewInternalHandlers(WithInvalidationPublisher(publisher), WithLocalInvalidator(local))
	router := NewRouter(WithInternalRoutes(internal.Routes))

	rr := postInvalidate(router, `{"reason":"price update"}`)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp invalidateResponse
	decodeBody(t, rr, &resp)
	if !resp.Broadcast || resp.MessageID != "msg-1" || resp.Reason != "price update" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(local.reasons) != 0 {
		t.Fatalf("local caches are refreshed by the listener, not the handler")
	}
}

func TestInvalidateCatalogDefaultsReason(t *testing.T) {
	publisher := &stubPublisher{id: "msg-2"}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(WithInvalidationPublisher(publisher)).Routes))

	rr := postInvalidate(router, "")
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(publisher.reasons) != 1 || publisher.reasons[0] != "manual" {
		t.Fatalf("expected default reason, got %v", publisher.reasons)
	}
}

func TestInvalidateCatalogFailures(t *testing.T) {
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }

	publisher := &stubPublisher{err: errors.New("topic not found")}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(WithInvalidationPublisher(publisher), WithInternalLogger(logger)).Routes))
	if rr := postInvalidate(router, `{}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 on publish failure, got %d", rr.Code)
	}
	if len(events) != 1 || events[0] != "invalidation.publish_failed" {
		t.Fatalf("unexpected events %v", events)
	}

	unconfigured := NewRouter(WithInternalRoutes(NewInternalHandlers().Routes))
	if rr := postInvalidate(unconfigured, `{}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without publisher or invalidator, got %d", rr.Code)
	}

	if rr := postInvalidate(router, `{"reason":"`+string(bytes.Repeat([]byte("x"), maxReasonLength+1))+`"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long reason, got %d", rr.Code)
	}
}

func TestInvalidateCatalogLocalFallback(t *testing.T) {
	local := &stubInvalidator{}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(WithLocalInvalidator(local)).Routes))

	rr := postInvalidate(router, `{"reason":"rules edited"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(local.reasons) != 1 || local.reasons[0] != "rules edited" {
		t.Fatalf("expected local invalidation, got %v", local.reasons)
	}

	local.err = errors.New("source down")
	if rr := postInvalidate(router, `{}`); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when reload fails, got %d", rr.Code)
	}
}

func TestInvalidateCatalogRequiresSignature(t *testing.T) {
	secret := "ops-shared-secret"
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := auth.NewVerifier(map[string]string{"ops": secret}, auth.NewMemoryNonceStore(), auth.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	publisher := &stubPublisher{id: "msg-3"}
	router := NewRouter(
		WithInternalRoutes(NewInternalHandlers(WithInvalidationPublisher(publisher)).Routes),
		WithInternalMiddlewares(verifier.Require),
	)

	if rr := postInvalidate(router, `{}`); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected unsigned request to be rejected, got %d", rr.Code)
	}

	body := []byte(`{"reason":"signed"}`)
	path := "/api/v1/internal/catalog/invalidate"
	timestamp := strconv.FormatInt(now.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(auth.DefaultSignatureHeader, auth.Sign([]byte(secret), http.MethodPost, path, body, timestamp, "nonce-1"))
	req.Header.Set(auth.DefaultTimestampHeader, timestamp)
	req.Header.Set(auth.DefaultNonceHeader, "nonce-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected signed request to pass, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(publisher.reasons) != 1 || publisher.reasons[0] != "signed" {
		t.Fatalf("expected publish after verification, got %v", publisher.reasons)
	}
}
