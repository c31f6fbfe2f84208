package session

import (
	"time"

	"learnhub/cmd/internal/auth/tokens"
)

// Revocation reasons recorded on the row.
const (
	ReasonLogout         = "logout"
	ReasonLogoutAll      = "logout_all"
	ReasonSingleDevice   = "single_device"
	ReasonRevokedByOwner = "revoked_by_owner"
)

// DeviceInfo is the client metadata captured at login. It is written once;
// only RefreshTime changes afterwards.
type DeviceInfo struct {
	IPAddress    string     `json:"ip_address"`
	UserAgent    string     `json:"user_agent"`
	DeviceType   string     `json:"device_type"`
	DeviceName   string     `json:"device_name,omitempty"`
	Browser      string     `json:"browser"`
	OS           string     `json:"os"`
	RememberMe   bool       `json:"remember_me"`
	SingleDevice bool       `json:"single_device"`
	LoginTime    time.Time  `json:"login_time"`
	RefreshTime  *time.Time `json:"refresh_time,omitempty"`
}

// Session mirrors one learnhub.sessions row.
//
// Token values are never stored; only their keyed hashes are.
// RefreshTokenHash and RefreshExpiresAt are nil for access-only sessions.
type Session struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	AccessTokenHash  string     `json:"access_token_hash"`
	RefreshTokenHash *string    `json:"refresh_token_hash,omitempty"`
	Device           DeviceInfo `json:"device_info"`
	IPAddress        string     `json:"ip_address"`
	UserAgent        string     `json:"user_agent"`
	SingleDevice     bool       `json:"is_single_device"`
	Active           bool       `json:"is_active"`
	Degraded         bool       `json:"degraded"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason *string    `json:"revocation_reason,omitempty"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
}

// HasRefresh reports whether the session can be refreshed at all.
func (s Session) HasRefresh() bool { return s.RefreshTokenHash != nil }

// AccessUsable reports whether the access token class is usable at now.
func (s Session) AccessUsable(now time.Time) bool {
	return s.Active && now.Before(s.ExpiresAt)
}

// RefreshUsable reports whether the refresh token class is usable at now.
func (s Session) RefreshUsable(now time.Time) bool {
	return s.Active && s.RefreshExpiresAt != nil && now.Before(*s.RefreshExpiresAt)
}

// Listable reports whether either horizon is still open.
func (s Session) Listable(now time.Time) bool {
	return s.AccessUsable(now) || s.RefreshUsable(now)
}

// Created is the outcome of Registry.Create.
type Created struct {
	Session      Session
	Pair         tokens.Pair
	RevokedCount int
}

// Listed is a session as shown in the active-devices listing.
type Listed struct {
	Session
	IsCurrent bool `json:"is_current"`
}

// RevokeOptions narrows RevokeForUser.
type RevokeOptions struct {
	// ExceptSessionID spares one session.
	ExceptSessionID string
	// SingleDeviceOnly restricts the sweep to sessions created with the
	// single-device flag.
	SingleDeviceOnly bool
	Reason           string
	Now              time.Time
}

// RotateInput describes an atomic rotate-if-still-current update.
type RotateInput struct {
	SessionID      string
	OldRefreshHash string

	NewAccessHash    string
	NewRefreshHash   *string
	ExpiresAt        time.Time
	RefreshExpiresAt *time.Time

	Now time.Time
}
