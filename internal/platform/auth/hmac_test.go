package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedRequest(t *testing.T, secret, path, body, nonce string, ts time.Time) *http.Request {
	t.Helper()
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set(DefaultTimestampHeader, timestamp)
	req.Header.Set(DefaultNonceHeader, nonce)
	req.Header.Set(DefaultSignatureHeader, Sign([]byte(secret), http.MethodPost, path, []byte(body), timestamp, nonce))
	return req
}

func newTestVerifier(t *testing.T, nonces NonceStore) *Verifier {
	t.Helper()
	v, err := NewVerifier(map[string]string{"Admin": "admin-secret", "cli": "cli-secret", "": "ignored"}, nonces,
		WithClock(func() time.Time { return fixedNow }),
	)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return v
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := payload["error"].(string)
	return code
}

func TestVerifierAcceptsSignedRequest(t *testing.T) {
	v := newTestVerifier(t, NewMemoryNonceStore())

	var gotCaller, gotBody string
	handler := v.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCaller, _ = CallerFromContext(r.Context())
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		gotBody = buf.String()
		w.WriteHeader(http.StatusAccepted)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, signedRequest(t, "cli-secret", "/internal/cache/invalidate", `{"reason":"import"}`, "n-1", fixedNow))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if gotCaller != "cli" {
		t.Fatalf("expected caller cli, got %q", gotCaller)
	}
	if gotBody != `{"reason":"import"}` {
		t.Fatalf("body was not restored: %q", gotBody)
	}
}

func TestVerifierRejections(t *testing.T) {
	cases := []struct {
		name   string
		build  func(t *testing.T) *http.Request
		status int
		code   string
	}{
		{
			name: "missing signature",
			build: func(t *testing.T) *http.Request {
				return httptest.NewRequest(http.MethodPost, "/internal/cache/invalidate", nil)
			},
			status: http.StatusUnauthorized,
			code:   "signature_missing",
		},
		{
			name: "stale timestamp",
			build: func(t *testing.T) *http.Request {
				return signedRequest(t, "admin-secret", "/x", "{}", "n-2", fixedNow.Add(-10*time.Minute))
			},
			status: http.StatusUnauthorized,
			code:   "timestamp_skew",
		},
		{
			name: "unknown secret",
			build: func(t *testing.T) *http.Request {
				return signedRequest(t, "other-secret", "/x", "{}", "n-3", fixedNow)
			},
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "tampered body",
			build: func(t *testing.T) *http.Request {
				req := signedRequest(t, "admin-secret", "/x", "{}", "n-4", fixedNow)
				req.Body = http.NoBody
				return req
			},
			status: http.StatusUnauthorized,
			code:   "signature_mismatch",
		},
		{
			name: "missing nonce",
			build: func(t *testing.T) *http.Request {
				req := signedRequest(t, "admin-secret", "/x", "{}", "n-5", fixedNow)
				req.Header.Del(DefaultNonceHeader)
				return req
			},
			status: http.StatusUnauthorized,
			code:   "nonce_missing",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(t, NewMemoryNonceStore())
			called := false
			handler := v.Require(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tc.build(t))
			if called {
				t.Fatalf("handler should not run")
			}
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			if code := errorCode(t, rec); code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
		})
	}
}

func TestVerifierRejectsReplay(t *testing.T) {
	v := newTestVerifier(t, NewMemoryNonceStore())
	handler := v.Require(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, signedRequest(t, "admin-secret", "/x", "{}", "dup", fixedNow))
	if first.Code != http.StatusNoContent {
		t.Fatalf("expected first request to pass, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, signedRequest(t, "admin-secret", "/x", "{}", "dup", fixedNow))
	if second.Code != http.StatusUnauthorized || errorCode(t, second) != "nonce_replay" {
		t.Fatalf("expected replay rejection, got %d %s", second.Code, second.Body.String())
	}

	// Nonces are scoped per caller.
	third := httptest.NewRecorder()
	handler.ServeHTTP(third, signedRequest(t, "cli-secret", "/x", "{}", "dup", fixedNow))
	if third.Code != http.StatusNoContent {
		t.Fatalf("expected other caller to pass, got %d", third.Code)
	}
}

type failingNonceStore struct{}

func (failingNonceStore) UseNonce(context.Context, string, string, time.Time) (bool, error) {
	return false, errors.New("redis down")
}

func TestVerifierNonceStoreFailure(t *testing.T) {
	var events []string
	v, err := NewVerifier(map[string]string{"admin": "admin-secret"}, failingNonceStore{},
		WithClock(func() time.Time { return fixedNow }),
		WithLogger(func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }),
	)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	rec := httptest.NewRecorder()
	v.Require(http.NotFoundHandler()).ServeHTTP(rec, signedRequest(t, "admin-secret", "/x", "{}", "n", fixedNow))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if len(events) != 2 || events[0] != "auth.nonce_store_failed" || events[1] != "auth.hmac_rejected" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestNewVerifierValidates(t *testing.T) {
	if _, err := NewVerifier(map[string]string{"a": "b"}, nil); err == nil {
		t.Fatalf("expected error for nil nonce store")
	}
	if _, err := NewVerifier(map[string]string{" ": "b", "a": ""}, NewMemoryNonceStore()); err == nil {
		t.Fatalf("expected error when no usable secret is configured")
	}
}

func TestMemoryNonceStoreExpires(t *testing.T) {
	store := NewMemoryNonceStore()
	now := fixedNow
	store.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := store.UseNonce(ctx, "admin", "n", now.Add(time.Minute)); !ok {
		t.Fatalf("expected first use to succeed")
	}
	if ok, _ := store.UseNonce(ctx, "admin", "n", now.Add(time.Minute)); ok {
		t.Fatalf("expected replay to fail")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := store.UseNonce(ctx, "admin", "n", now.Add(time.Minute)); !ok {
		t.Fatalf("expected expired nonce to be reusable")
	}
}

func TestCanonicalRequestDefaultsPath(t *testing.T) {
	got := string(CanonicalRequest("post", "", nil, "1", "n"))
	want := "POST\n/\n1\nn\ne3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got != want {
		t.Fatalf("unexpected canonical request %q", got)
	}
}
