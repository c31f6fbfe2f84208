package api

import (
	"net/http"
	"strings"
)

// Config controls auth API behavior and cookie transport.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	RefreshCookieName string
	CookiePath        string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite
}

// DefaultConfig returns safe defaults: a Strict, HttpOnly refresh cookie
// scoped to the refresh endpoint.
func DefaultConfig() Config {
	return Config{
		TrustProxy:        false,
		MaxBodyBytes:      1 << 20, // 1 MiB
		RefreshCookieName: "refresh_token",
		CookiePath:        "/auth/refresh",
		CookieSecure:      true,
		CookieSameSite:    http.SameSiteStrictMode,
	}
}

// normalized fills zero fields from DefaultConfig.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if strings.TrimSpace(c.RefreshCookieName) == "" {
		c.RefreshCookieName = def.RefreshCookieName
	}
	if strings.TrimSpace(c.CookiePath) == "" {
		c.CookiePath = def.CookiePath
	}
	if c.CookieSameSite == 0 {
		c.CookieSameSite = def.CookieSameSite
	}
	return c
}

// ParseSameSite maps "strict", "lax" or "none" to http.SameSite.
// Anything else yields Strict.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteStrictMode
	}
}
