package authn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/users"
)

// Authenticator verifies an access token and resolves its live session.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (session.Session, tokens.Claims, error)
	Touch(ctx context.Context, sessionID string)
}

// UserLookup resolves the session owner.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (users.User, error)
}

// Observer is told about every rejection in Required mode.
type Observer interface {
	AuthRejected(code string)
}

// Middleware authenticates requests.
type Middleware struct {
	auth  Authenticator
	codec *tokens.Codec
	users UserLookup
	log   *slog.Logger
	obs   Observer
}

// Option configures a Middleware.
type Option func(*Middleware)

// WithLogger sets the middleware logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Middleware) {
		if log != nil {
			m.log = log
		}
	}
}

// WithObserver attaches a rejection observer.
func WithObserver(obs Observer) Option {
	return func(m *Middleware) {
		if obs != nil {
			m.obs = obs
		}
	}
}

// New builds a Middleware.
func New(auth Authenticator, codec *tokens.Codec, lookup UserLookup, opts ...Option) *Middleware {
	m := &Middleware{
		auth:  auth,
		codec: codec,
		users: lookup,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Required rejects requests that do not resolve to an identity.
func (m *Middleware) Required(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := m.Resolve(r)
		if err != nil {
			code := Code(err)
			if code == CodeInternal || code == CodeSessionStoreUnavailable {
				m.log.Error("auth.middleware.fail", "code", code, "path", r.URL.Path, "err", err)
			} else {
				m.log.Debug("auth.middleware.reject", "code", code, "path", r.URL.Path)
			}
			if m.obs != nil {
				m.obs.AuthRejected(code)
			}
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

// Optional attaches an identity when one resolves and otherwise serves the
// request anonymously. It never writes an error.
func (m *Middleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := m.Resolve(r); err == nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// Resolve runs the full resolution for r: bearer extraction, unverified
// expiry pre-check, signature verification, session lookup, user lookup and
// a background touch.
func (m *Middleware) Resolve(r *http.Request) (Identity, error) {
	tok := BearerToken(r)
	if tok == "" {
		return Identity{}, ErrTokenRequired
	}

	// Cheap pre-check so an expired token reports TOKEN_EXPIRED even before
	// the signature is looked at. It never grants access on its own.
	if claims, ok := m.codec.DecodeUnverified(tok); ok && claims.Expired(m.codec.Now(), m.codec.Leeway()) {
		return Identity{}, tokens.ErrTokenExpired
	}

	ctx := r.Context()
	sess, _, err := m.auth.Authenticate(ctx, tok)
	if err != nil {
		return Identity{}, err
	}

	u, err := m.users.GetByID(ctx, sess.UserID)
	if err != nil {
		if users.IsNotFound(err) {
			return Identity{}, fmt.Errorf("%w: owner missing", session.ErrSessionNotFound)
		}
		return Identity{}, session.OpError{Op: "authn.Resolve", Kind: session.ErrSessionStoreUnavailable, Err: err}
	}

	m.auth.Touch(ctx, sess.ID)

	return Identity{
		UserID:        u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Avatar:        u.AvatarURL,
		EmailVerified: u.EmailVerified,
		SessionID:     sess.ID,
		Session:       sess,
	}, nil
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// ErrorBody is the JSON error envelope shared with the HTTP API.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable code and a human-readable message.
type ErrorDetail struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RequiresRefresh bool   `json:"requires_refresh,omitempty"`
}

// WriteError writes err as an ErrorBody with its mapped status.
func WriteError(w http.ResponseWriter, err error) {
	status := Status(err)
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="learnhub"`)
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: ErrorDetail{
		Code:            Code(err),
		Message:         Message(err),
		RequiresRefresh: RequiresRefresh(err),
	}})
}
