package tokens

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token classes carried in the typ claim.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// TokenTypeBearer is the token_type reported to clients.
const TokenTypeBearer = "Bearer"

// Payload is the application data embedded in every token.
type Payload struct {
	UserID    string
	SessionID string
}

// Claims is the JWT body: the payload plus registered claims.
type Claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid,omitempty"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

// Expired reports whether the claims' exp is at or before now, allowing leeway.
// Claims without exp are never considered expired here; full verification rejects them.
func (c Claims) Expired(now time.Time, leeway time.Duration) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Add(leeway))
}

// Pair is the result of minting a session's tokens.
//
// RefreshToken is empty for access-only (degraded) sessions; RefreshExpiresAt is zero then.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	TokenType        string
	ExpiresIn        int64
}

// HasRefresh reports whether the pair carries a refresh token.
func (p Pair) HasRefresh() bool { return p.RefreshToken != "" }
