package api

import "time"

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	RememberMe   bool   `json:"remember_me"`
	SingleDevice *bool  `json:"single_device"`
	DeviceName   string `json:"device_name"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token"`
	Reason       string `json:"reason"`
}

type userResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Avatar        *string   `json:"avatar"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

type sessionInfo struct {
	ID                    string `json:"id"`
	SingleDevice          bool   `json:"single_device"`
	PreviousSessionsEnded int    `json:"previous_sessions_ended"`
	DeviceName            string `json:"device_name"`
	IPAddress             string `json:"ip_address"`
	Degraded              bool   `json:"degraded"`
}

type loginResponse struct {
	AccessToken      string       `json:"access_token"`
	RefreshToken     string       `json:"refresh_token,omitempty"`
	RefreshExpiresAt *time.Time   `json:"refresh_expires_at,omitempty"`
	TokenType        string       `json:"token_type"`
	ExpiresIn        int64        `json:"expires_in"`
	ExpiresAt        time.Time    `json:"expires_at"`
	SessionInfo      sessionInfo  `json:"session_info"`
	User             userResponse `json:"user"`
	Message          string       `json:"message"`
}

type refreshResponse struct {
	AccessToken      string        `json:"access_token"`
	RefreshToken     string        `json:"refresh_token"`
	TokenType        string        `json:"token_type"`
	ExpiresIn        int64         `json:"expires_in"`
	ExpiresAt        time.Time     `json:"expires_at"`
	RefreshExpiresAt *time.Time    `json:"refresh_expires_at,omitempty"`
	User             *userResponse `json:"user,omitempty"`
}

type endedResponse struct {
	EndedSessionsCount int `json:"ended_sessions_count"`
}

type sessionListing struct {
	ID               string     `json:"id"`
	DeviceName       string     `json:"device_name"`
	DeviceType       string     `json:"device_type"`
	Browser          string     `json:"browser"`
	OS               string     `json:"os"`
	IPAddress        string     `json:"ip_address"`
	CreatedAt        time.Time  `json:"created_at"`
	LastUsedAt       time.Time  `json:"last_used_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	IsCurrent        bool       `json:"is_current"`
	IsSingleDevice   bool       `json:"is_single_device"`
	LoginTime        time.Time  `json:"login_time"`
	Degraded         bool       `json:"degraded"`
}

type sessionsResponse struct {
	Sessions           []sessionListing `json:"sessions"`
	TotalSessions      int              `json:"total_sessions"`
	SingleDevicePolicy bool             `json:"single_device_policy"`
}

type revokeResponse struct {
	Revoked bool `json:"revoked"`
}

type meSession struct {
	ID                  string     `json:"id"`
	ExpiresAt           time.Time  `json:"expires_at"`
	RefreshExpiresAt    *time.Time `json:"refresh_expires_at,omitempty"`
	LastUsedAt          time.Time  `json:"last_used_at"`
	IsSingleDevice      bool       `json:"is_single_device"`
	ActiveSessionsCount int        `json:"active_sessions_count"`
}

type meResponse struct {
	User    userResponse `json:"user"`
	Session meSession    `json:"session"`
}

type registerResponse struct {
	User userResponse `json:"user"`
}

type sessionUser struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Name          string  `json:"name"`
	Avatar        *string `json:"avatar"`
	EmailVerified bool    `json:"email_verified"`
}

type sessionStatus struct {
	ID               string     `json:"id"`
	ExpiresAt        time.Time  `json:"expires_at"`
	RefreshExpiresAt *time.Time `json:"refresh_expires_at,omitempty"`
	IsSingleDevice   bool       `json:"is_single_device"`
}

type sessionStatusResponse struct {
	Authenticated bool           `json:"authenticated"`
	User          *sessionUser   `json:"user,omitempty"`
	Session       *sessionStatus `json:"session,omitempty"`
}
