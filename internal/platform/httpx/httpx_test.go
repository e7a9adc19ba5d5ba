package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rec := httptest.NewRecorder()
	WriteError(ctx, rec, NewError("unable_to_price", "pricing: product_unpriced\n(mesh)", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"code": "product_unpriced"}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["error"] != "unable_to_price" || payload["trace_id"] != "abc123" || payload["code"] != "product_unpriced" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if strings.Contains(payload["message"].(string), "\n") {
		t.Fatalf("message should be single line: %q", payload["message"])
	}
}

func TestDecodeJSON(t *testing.T) {
	type body struct {
		Quantity int `json:"quantity"`
	}

	var ok body
	req := httptest.NewRequest(http.MethodPatch, "/", strings.NewReader(`{"quantity":3}`))
	if err := DecodeJSON(req, 1024, &ok); err != nil || ok.Quantity != 3 {
		t.Fatalf("expected decode to succeed, got %v %+v", err, ok)
	}

	cases := map[string]struct {
		body  string
		limit int64
		want  error
	}{
		"empty":     {body: "  ", limit: 1024, want: ErrEmptyBody},
		"too large": {body: `{"quantity":12345}`, limit: 4, want: ErrBodyTooLarge},
	}
	for name, tc := range cases {
		var dst body
		err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body)), tc.limit, &dst)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", name, tc.want, err)
		}
	}

	var dst body
	if err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"qty":1}`)), 1024, &dst); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
	if err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{} {}`)), 1024, &dst); err == nil {
		t.Fatalf("expected trailing data to be rejected")
	}
}

func TestWriteErrorRetryAfterAndReservedKeys(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(context.Background(), rec, NewError("rate_limited", "slow down", http.StatusTooManyRequests).
		WithRetryAfter(1500*time.Millisecond).
		WithDetails(map[string]any{"status": 200, "limit": 120}))

	if rec.Header().Get("Retry-After") != "2" {
		t.Fatalf("expected Retry-After rounded up to 2, got %q", rec.Header().Get("Retry-After"))
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != float64(http.StatusTooManyRequests) || payload["limit"] != float64(120) {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, ok := payload["trace_id"]; ok {
		t.Fatalf("trace_id should be omitted without trace context")
	}
}
