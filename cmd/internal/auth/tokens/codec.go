package tokens

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Config configures a Codec.
type Config struct {
	AccessSecret  string
	RefreshSecret string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// LegacyTTL is the lifetime of access tokens minted for access-only sessions.
	LegacyTTL time.Duration

	Issuer   string
	Audience string

	// Leeway tolerates clock skew when checking exp.
	Leeway time.Duration
}

// DefaultConfig returns the reference policy: 24h access, 7d refresh.
// Secrets are left empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  24 * time.Hour,
		RefreshTTL: 7 * 24 * time.Hour,
		LegacyTTL:  24 * time.Hour,
		Issuer:     "learnhub",
		Audience:   "learnhub-users",
	}
}

// Codec mints and verifies access and refresh tokens.
type Codec struct {
	cfg        Config
	accessKey  []byte
	refreshKey []byte
	now        func() time.Time
	newID      func() string
}

// Option configures a Codec.
type Option func(*Codec)

// WithClock overrides the codec's time source.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCodec validates cfg and returns a Codec.
//
// An empty RefreshSecret is accepted: refresh minting then fails with
// ErrSigningKey, which session creation treats as a degraded, access-only login.
func NewCodec(cfg Config, opts ...Option) (*Codec, error) {
	cfg.AccessSecret = strings.TrimSpace(cfg.AccessSecret)
	cfg.RefreshSecret = strings.TrimSpace(cfg.RefreshSecret)

	switch {
	case cfg.AccessSecret == "":
		return nil, fmt.Errorf("%w: access secret is required", ErrConfig)
	case cfg.RefreshSecret != "" && cfg.RefreshSecret == cfg.AccessSecret:
		return nil, fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	case cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0:
		return nil, fmt.Errorf("%w: token lifetimes must be positive", ErrConfig)
	case cfg.RefreshTTL < cfg.AccessTTL:
		return nil, fmt.Errorf("%w: refresh lifetime %s is shorter than access lifetime %s", ErrConfig, cfg.RefreshTTL, cfg.AccessTTL)
	case cfg.Leeway < 0:
		return nil, fmt.Errorf("%w: negative leeway", ErrConfig)
	}
	if cfg.LegacyTTL <= 0 {
		cfg.LegacyTTL = 24 * time.Hour
	}

	c := &Codec{
		cfg:       cfg,
		accessKey: []byte(cfg.AccessSecret),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	if cfg.RefreshSecret != "" {
		c.refreshKey = []byte(cfg.RefreshSecret)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Leeway returns the clock skew tolerance applied to exp.
func (c *Codec) Leeway() time.Duration { return c.cfg.Leeway }

// RefreshEnabled reports whether refresh tokens can be minted.
func (c *Codec) RefreshEnabled() bool { return len(c.refreshKey) > 0 }

// Now returns the codec's current time.
func (c *Codec) Now() time.Time { return c.now() }

// IssueAccessToken mints an access token expiring AccessTTL from now.
func (c *Codec) IssueAccessToken(p Payload) (string, time.Time, error) {
	return c.issue(p, TypeAccess, c.accessKey, c.cfg.AccessTTL)
}

// IssueRefreshToken mints a refresh token expiring RefreshTTL from now.
func (c *Codec) IssueRefreshToken(p Payload) (string, time.Time, error) {
	return c.issue(p, TypeRefresh, c.refreshKey, c.cfg.RefreshTTL)
}

// IssueTokenPair mints an access and a refresh token for the same payload.
// It is the only entry point for full sessions.
func (c *Codec) IssueTokenPair(p Payload) (Pair, error) {
	access, accessExp, err := c.IssueAccessToken(p)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := c.IssueRefreshToken(p)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		TokenType:        TokenTypeBearer,
		ExpiresIn:        int64(c.cfg.AccessTTL / time.Second),
	}, nil
}

// IssueAccessOnly mints a lone access token with the legacy lifetime.
func (c *Codec) IssueAccessOnly(p Payload) (Pair, error) {
	access, accessExp, err := c.issue(p, TypeAccess, c.accessKey, c.cfg.LegacyTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:     access,
		AccessExpiresAt: accessExp,
		TokenType:       TokenTypeBearer,
		ExpiresIn:       int64(c.cfg.LegacyTTL / time.Second),
	}, nil
}

// VerifyAccessToken checks signature, expiry, issuer, audience and token class.
func (c *Codec) VerifyAccessToken(raw string) (Claims, error) {
	return c.verify(raw, TypeAccess, c.accessKey, ErrTokenExpired)
}

// VerifyRefreshToken is VerifyAccessToken for refresh tokens; expiry yields ErrRefreshExpired.
func (c *Codec) VerifyRefreshToken(raw string) (Claims, error) {
	return c.verify(raw, TypeRefresh, c.refreshKey, ErrRefreshExpired)
}

// DecodeUnverified parses claims without checking the signature.
// It must only feed cheap pre-checks, never authorization.
func (c *Codec) DecodeUnverified(raw string) (Claims, bool) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(raw), &claims); err != nil {
		return Claims{}, false
	}
	return claims, true
}

// SelfCheck mints and verifies a throwaway token of each enabled class.
func (c *Codec) SelfCheck() error {
	p := Payload{UserID: "selfcheck", SessionID: "selfcheck"}

	access, _, err := c.IssueAccessToken(p)
	if err != nil {
		return fmt.Errorf("tokens: self-check issue access: %w", err)
	}
	if _, err := c.VerifyAccessToken(access); err != nil {
		return fmt.Errorf("tokens: self-check verify access: %w", err)
	}
	if !c.RefreshEnabled() {
		return nil
	}

	refresh, _, err := c.IssueRefreshToken(p)
	if err != nil {
		return fmt.Errorf("tokens: self-check issue refresh: %w", err)
	}
	if _, err := c.VerifyRefreshToken(refresh); err != nil {
		return fmt.Errorf("tokens: self-check verify refresh: %w", err)
	}
	return nil
}

func (c *Codec) issue(p Payload, typ string, key []byte, ttl time.Duration) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, fmt.Errorf("tokens: %s: %w", typ, ErrSigningKey)
	}
	if strings.TrimSpace(p.UserID) == "" {
		return "", time.Time{}, errors.New("tokens: empty user id")
	}

	now := c.now()
	exp := now.Add(ttl)

	claims := Claims{
		UserID:    p.UserID,
		SessionID: p.SessionID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        c.newID(),
			Subject:   p.UserID,
			Issuer:    c.cfg.Issuer,
			Audience:  jwt.ClaimStrings{c.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("tokens: sign %s: %w", typ, err)
	}
	return signed, exp, nil
}

func (c *Codec) verify(raw, typ string, key []byte, expired error) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(key) == 0 {
		return Claims{}, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.cfg.Leeway),
	}
	if c.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.cfg.Issuer))
	}
	if c.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(c.cfg.Audience))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, expired
		}
		return Claims{}, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	if claims.Type != typ || claims.UserID == "" {
		return Claims{}, ErrTokenInvalid
	}
	return claims, nil
}
