package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/users"
)

const unknownDevice = "Unknown Device"

func toUserResponse(u users.User) userResponse {
	return userResponse{
		ID:            u.ID,
		Email:         u.Email,
		Name:          u.Name,
		Avatar:        u.AvatarURL,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
	}
}

func toSessionListing(l session.Listed) sessionListing {
	name := l.Device.DeviceName
	if name == "" {
		name = unknownDevice
	}
	return sessionListing{
		ID:               l.ID,
		DeviceName:       name,
		DeviceType:       l.Device.DeviceType,
		Browser:          l.Device.Browser,
		OS:               l.Device.OS,
		IPAddress:        l.IPAddress,
		CreatedAt:        l.CreatedAt,
		LastUsedAt:       l.LastUsedAt,
		ExpiresAt:        l.ExpiresAt,
		RefreshExpiresAt: l.RefreshExpiresAt,
		IsCurrent:        l.IsCurrent,
		IsSingleDevice:   l.SingleDevice,
		LoginTime:        l.Device.LoginTime,
		Degraded:         l.Degraded,
	}
}

func loginMessage(singleDevice bool, ended int) string {
	switch {
	case !singleDevice || ended <= 0:
		return "logged in"
	case ended == 1:
		return "logged in; 1 session on another device was ended"
	default:
		return fmt.Sprintf("logged in; %d sessions on other devices were ended", ended)
	}
}

// refreshExpiry is nil for access-only pairs.
func refreshExpiry(p tokens.Pair) *time.Time {
	if !p.HasRefresh() {
		return nil
	}
	t := p.RefreshExpiresAt
	return &t
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
