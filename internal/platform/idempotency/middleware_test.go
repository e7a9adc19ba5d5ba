package idempotency

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

	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func post(handler http.Handler, session, key, body string) *httptest.ResponseRecorder {
	return send(handler, http.MethodPost, "/api/v1/cart/configurations", session, key, body)
}

func send(handler http.Handler, method, path, session, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	req = req.WithContext(requestctx.WithSessionID(req.Context(), session))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func countingHandler(calls *int, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"call":` + strconv.Itoa(*calls) + `}`))
	})
}

func assertErrorCode(t *testing.T, body []byte, want string) {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] != want {
		t.Fatalf("expected error %q, got %v", want, payload["error"])
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls, http.StatusCreated))

	first := post(handler, "sess-1", "add-1", `{"productKey":"mesh_panel"}`)
	second := post(handler, "sess-1", "add-1", `{"productKey":"mesh_panel"}`)

	if calls != 1 {
		t.Fatalf("expected handler to run once, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %q, got %d %q", first.Body.String(), second.Code, second.Body.String())
	}
	if second.Header().Get(replayHeaderName) != "true" || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected replay headers %v", second.Header())
	}
}

func TestMiddlewareScopesKeysBySession(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	post(handler, "sess-1", "add-1", `{}`)
	post(handler, "sess-2", "add-1", `{}`)
	if calls != 2 {
		t.Fatalf("expected both sessions to run the handler, got %d", calls)
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))
	post(handler, "sess-1", "", `{}`)
	post(handler, "sess-1", "", `{}`)
	if calls != 2 {
		t.Fatalf("expected requests without a key to run every time, got %d", calls)
	}
}

func TestMiddlewareReplaysPatchAndDelete(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusOK))

	send(handler, http.MethodPatch, "/api/v1/cart/items/line-1", "sess-1", "qty-1", `{"quantity":3}`)
	send(handler, http.MethodPatch, "/api/v1/cart/items/line-1", "sess-1", "qty-1", `{"quantity":3}`)
	send(handler, http.MethodDelete, "/api/v1/cart/items/line-1", "sess-1", "rm-1", "")
	replayed := send(handler, http.MethodDelete, "/api/v1/cart/items/line-1", "sess-1", "rm-1", "")
	if calls != 2 {
		t.Fatalf("expected one call per key, got %d", calls)
	}
	if replayed.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected DELETE replay, got headers %v", replayed.Header())
	}

	send(handler, http.MethodGet, "/api/v1/cart", "sess-1", "get-1", "")
	send(handler, http.MethodGet, "/api/v1/cart", "sess-1", "get-1", "")
	if calls != 4 {
		t.Fatalf("expected GET requests to bypass replay, got %d calls", calls)
	}
}

func TestMiddlewareRejectsReusedKeyForDifferentBody(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusCreated))

	post(handler, "sess-1", "add-1", `{"quantity":1}`)
	rec := post(handler, "sess-1", "add-1", `{"quantity":2}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorCode(t, rec.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewareReportsPendingReservation(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run while the key is pending")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/configurations", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	scoped := HashKey("sess-1|add-1")
	if _, err := store.Reserve(context.Background(), scoped, requestFingerprint(req, []byte(`{}`)), fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	rec := post(handler, "sess-1", "add-1", `{}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	assertErrorCode(t, rec.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareReleasesKeyAfterServerError(t *testing.T) {
	var calls int
	handler := Middleware(NewMemoryStore())(countingHandler(&calls, http.StatusServiceUnavailable))

	post(handler, "sess-1", "add-1", `{}`)
	post(handler, "sess-1", "add-1", `{}`)
	if calls != 2 {
		t.Fatalf("expected retry after server error to run again, got %d", calls)
	}
}

type failingStore struct{}

func (failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{}, errors.New("redis unavailable")
}

func (failingStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return nil
}

func (failingStore) Release(context.Context, string) error { return nil }

func TestMiddlewareFailsOpenWhenStoreIsDown(t *testing.T) {
	var calls int
	var events []string
	logger := func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }
	handler := Middleware(failingStore{}, WithLogger(logger))(countingHandler(&calls, http.StatusCreated))

	rec := post(handler, "sess-1", "add-1", `{}`)
	if rec.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("expected request to proceed, got %d after %d calls", rec.Code, calls)
	}
	if len(events) != 1 || events[0] != "idempotency.reserve_failed" {
		t.Fatalf("unexpected events %v", events)
	}
}

func TestMemoryStoreExpiresReservations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.SaveResponse(ctx, "k", "fp", Response{Status: http.StatusCreated}, fixedTime, time.Minute); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err := store.Reserve(ctx, "k", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired record to be replaced, got %+v %v", res, err)
	}
}
