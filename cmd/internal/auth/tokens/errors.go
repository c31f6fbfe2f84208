package tokens

import "errors"

var (
	// ErrTokenExpired is returned when an authentic access token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrRefreshExpired is returned when an authentic refresh token is past its expiry.
	// Clients must log in again; retrying cannot help.
	ErrRefreshExpired = errors.New("refresh token expired")

	// ErrTokenInvalid covers every other verification failure: bad signature,
	// malformed input, wrong token class, issuer or audience.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrSigningKey is returned when a token class has no signing secret configured.
	ErrSigningKey = errors.New("signing key not configured")

	// ErrConfig is returned for invalid codec configuration.
	ErrConfig = errors.New("invalid token config")
)
