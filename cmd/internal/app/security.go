package app

import (
	"errors"
	"fmt"
	"strings"

	"learnhub/cmd/security/token"
)

const minSecretBytes = 32

// Prefixes of sample values shipped in example env files.
var placeholderPrefixes = []string{"your_", "your-", "changeme", "change-me", "change_me", "example", "secret"}

// ValidateSecurityConfig enforces the startup security policy and returns
// the token hasher it implies.
//
// Production requires both JWT secrets to be real (not placeholders, at least
// 32 bytes, distinct) and an HMAC key for stored token digests. Outside
// production a missing refresh secret only disables refresh tokens.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return token.Hasher{}, errors.New("security policy: LEARNHUB_JWT_SECRET is required")
	}

	prod := cfg.IsProduction()
	if prod {
		if err := checkSecret("LEARNHUB_JWT_SECRET", cfg.JWTSecret); err != nil {
			return token.Hasher{}, err
		}
		if err := checkSecret("LEARNHUB_JWT_REFRESH_SECRET", cfg.JWTRefreshSecret); err != nil {
			return token.Hasher{}, err
		}
		if strings.TrimSpace(cfg.JWTSecret) == strings.TrimSpace(cfg.JWTRefreshSecret) {
			return token.Hasher{}, errors.New("security policy: LEARNHUB_JWT_SECRET and LEARNHUB_JWT_REFRESH_SECRET must differ")
		}
	}

	if !prod && !cfg.RequireTokenHMAC {
		return token.NewHasher(cfg.TokenHMACKey), nil
	}

	// The key is used as raw bytes, so its length is measured in bytes.
	h, err := token.NewRequiredHasher(cfg.TokenHMACKey, minSecretBytes)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return token.Hasher{}, errors.New("security policy: LEARNHUB_TOKEN_HMAC_KEY is required")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return token.Hasher{}, fmt.Errorf("security policy: LEARNHUB_TOKEN_HMAC_KEY is too short (min %d bytes)", minSecretBytes)
		default:
			return token.Hasher{}, err
		}
	}
	if !h.HMACEnabled() {
		return token.Hasher{}, errors.New("security policy: token hasher is not in HMAC mode")
	}
	return h, nil
}

func checkSecret(name, v string) error {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return fmt.Errorf("security policy: %s is required in production", name)
	case len(v) < minSecretBytes:
		return fmt.Errorf("security policy: %s is too short (min %d bytes)", name, minSecretBytes)
	}
	lower := strings.ToLower(v)
	for _, p := range placeholderPrefixes {
		if strings.HasPrefix(lower, p) {
			return fmt.Errorf("security policy: %s looks like a placeholder", name)
		}
	}
	return nil
}
