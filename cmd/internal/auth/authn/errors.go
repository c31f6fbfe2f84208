package authn

import (
	"errors"
	"net/http"

	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/users"
)

// ErrTokenRequired is returned when a request carries no bearer token.
var ErrTokenRequired = errors.New("token required")

// Stable wire codes.
const (
	CodeTokenRequired           = "TOKEN_REQUIRED"
	CodeTokenExpired            = "TOKEN_EXPIRED"
	CodeRefreshExpired          = "REFRESH_EXPIRED"
	CodeTokenInvalid            = "TOKEN_INVALID"
	CodeSessionNotFound         = "SESSION_NOT_FOUND"
	CodeSessionStoreUnavailable = "SESSION_STORE_UNAVAILABLE"
	CodeInternal                = "INTERNAL_ERROR"
)

// Code maps an authentication error to its wire code.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTokenRequired):
		return CodeTokenRequired
	case errors.Is(err, tokens.ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, tokens.ErrRefreshExpired):
		return CodeRefreshExpired
	case errors.Is(err, tokens.ErrTokenInvalid):
		return CodeTokenInvalid
	// Store outage wins over not-found: an OpError may carry both.
	case errors.Is(err, session.ErrSessionStoreUnavailable):
		return CodeSessionStoreUnavailable
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, users.ErrNotFound):
		return CodeSessionNotFound
	default:
		return CodeInternal
	}
}

// Status maps an authentication error to its HTTP status.
func Status(err error) int {
	switch Code(err) {
	case CodeSessionStoreUnavailable:
		return http.StatusServiceUnavailable
	case CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}

// Message returns a client-safe message for err.
func Message(err error) string {
	switch Code(err) {
	case CodeTokenRequired:
		return "access token required"
	case CodeTokenExpired:
		return "access token expired"
	case CodeRefreshExpired:
		return "refresh token expired, please log in again"
	case CodeTokenInvalid:
		return "invalid token"
	case CodeSessionNotFound:
		return "session ended or not found, please log in again"
	case CodeSessionStoreUnavailable:
		return "session store unavailable, please retry later"
	default:
		return "internal error"
	}
}

// RequiresRefresh reports whether the client should call /auth/refresh.
func RequiresRefresh(err error) bool { return Code(err) == CodeTokenExpired }
