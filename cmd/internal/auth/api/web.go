package api

import (
	"net/http"
	"strings"
	"time"
)

// refreshTokenFromCookie returns the refresh token carried by the
// remember-me cookie, if any.
func (h *Handler) refreshTokenFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cfg.RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

// refreshCookie is scoped to the refresh endpoint so the browser never sends
// the refresh token anywhere else.
func (h *Handler) refreshCookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     h.cfg.RefreshCookieName,
		Value:    value,
		Path:     h.cfg.CookiePath,
		Domain:   h.cfg.CookieDomain,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: h.cfg.CookieSameSite,
	}
}

// setRefreshCookie stores the refresh token until exp. An empty token (an
// access-only session) sets nothing.
func (h *Handler) setRefreshCookie(w http.ResponseWriter, value string, exp time.Time) {
	if value == "" {
		return
	}
	c := h.refreshCookie(value)
	if !exp.IsZero() {
		c.Expires = exp.UTC()
		if maxAge := int(time.Until(exp).Seconds()); maxAge > 0 {
			c.MaxAge = maxAge
		}
	}
	http.SetCookie(w, c)
}

func (h *Handler) expireRefreshCookie(w http.ResponseWriter) {
	c := h.refreshCookie("")
	c.Expires = time.Unix(0, 0).UTC()
	c.MaxAge = -1
	http.SetCookie(w, c)
}
