package session

import (
	"strings"
	"time"
)

const unknown = "unknown"

// DeviceInput is the raw client context seen by the HTTP layer.
type DeviceInput struct {
	IPAddress    string
	UserAgent    string
	DeviceType   string
	DeviceName   string
	RememberMe   bool
	SingleDevice bool
}

// NewDeviceInfo classifies in into DeviceInfo stamped with the login time.
func NewDeviceInfo(in DeviceInput, now time.Time) DeviceInfo {
	deviceType := strings.ToLower(strings.TrimSpace(in.DeviceType))
	if deviceType == "" {
		deviceType = "web"
	}
	ua := strings.TrimSpace(in.UserAgent)

	return DeviceInfo{
		IPAddress:    strings.TrimSpace(in.IPAddress),
		UserAgent:    ua,
		DeviceType:   deviceType,
		DeviceName:   strings.TrimSpace(in.DeviceName),
		Browser:      BrowserFromUserAgent(ua),
		OS:           OSFromUserAgent(ua),
		RememberMe:   in.RememberMe,
		SingleDevice: in.SingleDevice,
		LoginTime:    now.UTC(),
	}
}

// BrowserFromUserAgent returns a coarse browser family.
// Order matters: Edge and Opera also advertise Chrome, Chrome also advertises Safari.
func BrowserFromUserAgent(ua string) string {
	switch {
	case ua == "":
		return unknown
	case strings.Contains(ua, "Edg"):
		return "Edge"
	case strings.Contains(ua, "OPR") || strings.Contains(ua, "Opera"):
		return "Opera"
	case strings.Contains(ua, "Firefox"):
		return "Firefox"
	case strings.Contains(ua, "Chrome") || strings.Contains(ua, "CriOS"):
		return "Chrome"
	case strings.Contains(ua, "Safari"):
		return "Safari"
	default:
		return unknown
	}
}

// OSFromUserAgent returns a coarse operating system family.
func OSFromUserAgent(ua string) string {
	switch {
	case ua == "":
		return unknown
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "iPhone") || strings.Contains(ua, "iPad"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	case strings.Contains(ua, "Mac"):
		return "macOS"
	case strings.Contains(ua, "Linux"):
		return "Linux"
	default:
		return unknown
	}
}
