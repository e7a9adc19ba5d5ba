// Package session identifies anonymous shoppers with a signed cookie carrying a ULID session ID.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/MosquitoCurtains/new-sub007/internal/platform/observability"
	"github.com/MosquitoCurtains/new-sub007/internal/platform/requestctx"
)

const minSecretLength = 16

var (
	errSecretTooShort = errors.New("session: secret must be at least 16 bytes")
	errInvalidCookie  = errors.New("session: invalid cookie")
)

// Options configures the cookie written to shoppers.
type Options struct {
	CookieName string
	Secret     string
	MaxAge     time.Duration
	Secure     bool
}

// Manager issues and verifies session cookies.
type Manager struct {
	name   string
	secret []byte
	maxAge time.Duration
	secure bool
	newID  func() string
}

// NewManager validates the options and returns a Manager.
func NewManager(opts Options) (*Manager, error) {
	if len(opts.Secret) < minSecretLength {
		return nil, errSecretTooShort
	}
	name := strings.TrimSpace(opts.CookieName)
	if name == "" {
		return nil, errors.New("session: cookie name is required")
	}
	if opts.MaxAge <= 0 {
		return nil, errors.New("session: max age must be positive")
	}
	return &Manager{
		name:   name,
		secret: []byte(opts.Secret),
		maxAge: opts.MaxAge,
		secure: opts.Secure,
		newID:  func() string { return ulid.Make().String() },
	}, nil
}

// Middleware attaches the shopper's session ID to the request context, issuing a fresh session when
// the cookie is absent or fails verification. The cookie is re-sent on every response so the expiry
// slides with activity.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sessionID := ""
		if cookie, err := r.Cookie(m.name); err == nil {
			if id, err := m.verify(cookie.Value); err == nil {
				sessionID = id
			} else {
				requestctx.Logger(ctx).Debug("session cookie rejected", zap.Error(err))
			}
		}
		if sessionID == "" {
			sessionID = m.newID()
		}
		http.SetCookie(w, m.cookie(sessionID))

		logger := requestctx.Logger(ctx).With(zap.String("session_id", observability.SanitizeSessionID(sessionID)))
		ctx = requestctx.WithLogger(requestctx.WithSessionID(ctx, sessionID), logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Manager) cookie(sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     m.name,
		Value:    m.sign(sessionID),
		Path:     "/",
		MaxAge:   int(m.maxAge / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (m *Manager) sign(sessionID string) string {
	return sessionID + "." + base64.RawURLEncoding.EncodeToString(m.mac(sessionID))
}

func (m *Manager) verify(value string) (string, error) {
	id, signature, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", errInvalidCookie
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return "", errInvalidCookie
	}
	decoded, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil || !hmac.Equal(decoded, m.mac(id)) {
		return "", errInvalidCookie
	}
	return id, nil
}

func (m *Manager) mac(sessionID string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	_, _ = mac.Write([]byte(sessionID))
	return mac.Sum(nil)
}
