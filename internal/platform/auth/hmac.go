package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/httpx"
)

const (
	DefaultSignatureHeader = "X-Signature"
	DefaultTimestampHeader = "X-Signature-Timestamp"
	DefaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
	maxSignedBody    = 1 << 20
)

// NonceStore tracks used nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce within scope until expiry. It returns false when the nonce was
	// already recorded.
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// MemoryNonceStore is a process-local NonceStore for development and tests. Replays are only
// caught on the instance that saw the first request.
type MemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
	now    func() time.Time
}

// NewMemoryNonceStore constructs the store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{nonces: make(map[string]time.Time), now: time.Now}
}

// UseNonce implements NonceStore.
func (s *MemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, exp := range s.nonces {
		if !exp.After(now) {
			delete(s.nonces, key)
		}
	}
	key := scope + "::" + nonce
	if _, seen := s.nonces[key]; seen {
		return false, nil
	}
	s.nonces[key] = expiry
	return true, nil
}

// Verifier authenticates internal requests signed with a shared HMAC-SHA256 secret. Each configured
// caller has its own secret; the caller whose secret matches is recorded on the request context.
type Verifier struct {
	secrets []namedSecret
	nonces  NonceStore
	now     func() time.Time
	logger  func(context.Context, string, map[string]any)

	signatureHeader string
	timestampHeader string
	nonceHeader     string
	clockSkew       time.Duration
	nonceTTL        time.Duration
}

type namedSecret struct {
	caller string
	key    []byte
}

// VerifierOption customises the verifier.
type VerifierOption func(*Verifier)

// WithHeaders overrides the header names. Empty values keep the defaults.
func WithHeaders(signature, timestamp, nonce string) VerifierOption {
	return func(v *Verifier) {
		if s := strings.TrimSpace(signature); s != "" {
			v.signatureHeader = s
		}
		if s := strings.TrimSpace(timestamp); s != "" {
			v.timestampHeader = s
		}
		if s := strings.TrimSpace(nonce); s != "" {
			v.nonceHeader = s
		}
	}
}

// WithClockSkew sets the accepted distance between the signed timestamp and now.
func WithClockSkew(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL sets how long nonces are remembered.
func WithNonceTTL(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger receives rejected-request events.
func WithLogger(logger func(context.Context, string, map[string]any)) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// NewVerifier builds a verifier from caller name to secret.
func NewVerifier(secrets map[string]string, nonces NonceStore, opts ...VerifierOption) (*Verifier, error) {
	if nonces == nil {
		return nil, errors.New("auth: nonce store is required")
	}
	v := &Verifier{
		nonces:          nonces,
		now:             time.Now,
		logger:          func(context.Context, string, map[string]any) {},
		signatureHeader: DefaultSignatureHeader,
		timestampHeader: DefaultTimestampHeader,
		nonceHeader:     DefaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}
	for caller, secret := range secrets {
		caller = strings.ToLower(strings.TrimSpace(caller))
		if caller == "" || secret == "" {
			continue
		}
		v.secrets = append(v.secrets, namedSecret{caller: caller, key: []byte(secret)})
	}
	if len(v.secrets) == 0 {
		return nil, errors.New("auth: at least one hmac secret is required")
	}
	sort.Slice(v.secrets, func(i, j int) bool { return v.secrets[i].caller < v.secrets[j].caller })
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

type callerContextKey struct{}

// CallerFromContext returns the caller name recorded by Require.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(string)
	return caller, ok && caller != ""
}

type rejection struct {
	status  int
	code    string
	message string
}

// Require rejects requests that are unsigned, stale, replayed or signed with an unknown secret.
func (v *Verifier) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		caller, rej := v.verify(r)
		if rej != nil {
			v.logger(ctx, "auth.hmac_rejected", map[string]any{"reason": rej.code, "path": r.URL.Path})
			httpx.WriteError(ctx, w, httpx.NewError(rej.code, rej.message, rej.status))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, callerContextKey{}, caller)))
	})
}

func (v *Verifier) verify(r *http.Request) (string, *rejection) {
	ctx := r.Context()
	signatureValue := strings.TrimSpace(r.Header.Get(v.signatureHeader))
	if signatureValue == "" {
		return "", &rejection{http.StatusUnauthorized, "signature_missing", "signature header missing"}
	}
	timestampValue := strings.TrimSpace(r.Header.Get(v.timestampHeader))
	timestamp, err := parseSignatureTimestamp(timestampValue)
	if err != nil {
		return "", &rejection{http.StatusUnauthorized, "timestamp_invalid", "signature timestamp missing or invalid"}
	}
	now := v.now()
	if skew := now.Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return "", &rejection{http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window"}
	}
	nonce := strings.TrimSpace(r.Header.Get(v.nonceHeader))
	if nonce == "" {
		return "", &rejection{http.StatusUnauthorized, "nonce_missing", "signature nonce missing"}
	}
	signature, err := decodeSignature(signatureValue)
	if err != nil {
		return "", &rejection{http.StatusUnauthorized, "signature_invalid", "signature encoding invalid"}
	}
	body, err := readAndRestoreBody(r)
	if err != nil {
		return "", &rejection{http.StatusBadRequest, "invalid_body", "unable to read body for signature verification"}
	}

	message := CanonicalRequest(r.Method, r.URL.EscapedPath(), body, timestampValue, nonce)
	caller := ""
	for _, secret := range v.secrets {
		if hmac.Equal(signature, computeHMAC(secret.key, message)) {
			caller = secret.caller
			break
		}
	}
	if caller == "" {
		return "", &rejection{http.StatusUnauthorized, "signature_mismatch", "signature verification failed"}
	}

	expiry := timestamp.Add(v.nonceTTL)
	if expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}
	stored, err := v.nonces.UseNonce(ctx, caller, nonce, expiry)
	if err != nil {
		v.logger(ctx, "auth.nonce_store_failed", map[string]any{"error": err.Error()})
		return "", &rejection{http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error"}
	}
	if !stored {
		return "", &rejection{http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce"}
	}
	return caller, nil
}

// Sign returns the base64 signature for a request, for clients such as panelctl.
func Sign(secret []byte, method, path string, body []byte, timestamp, nonce string) string {
	return base64.StdEncoding.EncodeToString(computeHMAC(secret, CanonicalRequest(method, path, body, timestamp, nonce)))
}

// CanonicalRequest is the signed message: method, escaped path, timestamp, nonce and the hex
// SHA-256 of the body, joined by newlines.
func CanonicalRequest(method, path string, body []byte, timestamp, nonce string) []byte {
	if path == "" {
		path = "/"
	}
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		strings.ToUpper(method),
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	buf, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
	if err != nil {
		return nil, err
	}
	if len(buf) > maxSignedBody {
		return nil, errors.New("auth: signed body too large")
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
