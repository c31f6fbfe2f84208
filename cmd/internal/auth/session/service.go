package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"learnhub/cmd/internal/auth/tokens"
)

// Service implements the user-facing session flows on top of Registry.
type Service struct {
	reg   *Registry
	codec *tokens.Codec
	log   *slog.Logger
}

// NewService constructs a Service.
func NewService(reg *Registry, codec *tokens.Codec, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{reg: reg, codec: codec, log: log}
}

// Registry exposes the underlying registry.
func (s *Service) Registry() *Registry { return s.reg }

// LoginInput describes a login whose credentials were already verified.
type LoginInput struct {
	UserID       string
	Device       DeviceInfo
	SingleDevice bool
}

// Result is returned by Login and Refresh.
type Result struct {
	Session               Session
	Pair                  tokens.Pair
	PreviousSessionsEnded int
	Degraded              bool
}

// Login opens a session for an authenticated user.
func (s *Service) Login(ctx context.Context, in LoginInput) (Result, error) {
	created, err := s.reg.Create(ctx, in.UserID, in.Device, in.SingleDevice)
	if err != nil {
		return Result{}, err
	}

	s.log.Info("auth.login.ok",
		"user_id", in.UserID,
		"session_id", created.Session.ID,
		"single_device", in.SingleDevice,
		"previous_sessions_ended", created.RevokedCount,
		"degraded", created.Session.Degraded,
	)

	return Result{
		Session:               created.Session,
		Pair:                  created.Pair,
		PreviousSessionsEnded: created.RevokedCount,
		Degraded:              created.Session.Degraded,
	}, nil
}

// Refresh rotates the pair of the session holding refreshToken.
//
// An expired refresh token fails with tokens.ErrRefreshExpired; a valid token
// with no live session (revoked, superseded or already rotated) fails with
// ErrSessionNotFound.
func (s *Service) Refresh(ctx context.Context, refreshToken string, dev DeviceInfo) (Result, error) {
	refreshToken = strings.TrimSpace(refreshToken)

	claims, err := s.codec.VerifyRefreshToken(refreshToken)
	if err != nil {
		return Result{}, err
	}

	sess, err := s.reg.FindByRefreshToken(ctx, refreshToken)
	if err != nil {
		return Result{}, err
	}
	if sess.UserID != claims.UserID || (claims.SessionID != "" && claims.SessionID != sess.ID) {
		return Result{}, ErrSessionNotFound
	}

	rotated, pair, err := s.reg.Rotate(ctx, sess, refreshToken)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			s.log.Warn("auth.refresh.lost_race", "session_id", sess.ID, "user_id", sess.UserID)
		}
		return Result{}, err
	}

	s.log.Info("auth.refresh.ok", "session_id", rotated.ID, "user_id", rotated.UserID, "ip", dev.IPAddress)
	return Result{Session: rotated, Pair: pair, Degraded: rotated.Degraded}, nil
}

// Logout revokes the sessions behind whichever of tokenValues are present
// (access or refresh, blanks skipped) and returns how many sessions it ended.
func (s *Service) Logout(ctx context.Context, tokenValues ...string) (int, error) {
	var (
		ended    int
		firstErr error
		seen     = make(map[string]struct{}, len(tokenValues))
	)
	for _, tok := range tokenValues {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}

		ok, err := s.reg.Revoke(ctx, tok, ReasonLogout)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			ended++
		}
	}
	return ended, firstErr
}

// LogoutAllDevices revokes every active session of userID.
func (s *Service) LogoutAllDevices(ctx context.Context, userID string) (int, error) {
	n, err := s.reg.RevokeAllForUser(ctx, userID, "", ReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	s.log.Info("auth.logout_all", "user_id", userID, "ended_sessions", n)
	return n, nil
}

// RevokeSessionByID revokes sessionID when ownerUserID owns it.
func (s *Service) RevokeSessionByID(ctx context.Context, sessionID, ownerUserID string) (bool, error) {
	return s.reg.RevokeByID(ctx, sessionID, ownerUserID)
}

// Authenticate verifies an access token and resolves its live session.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Session, tokens.Claims, error) {
	claims, err := s.codec.VerifyAccessToken(accessToken)
	if err != nil {
		return Session{}, tokens.Claims{}, err
	}

	sess, err := s.reg.FindByAccessToken(ctx, accessToken)
	if err != nil {
		return Session{}, tokens.Claims{}, err
	}
	if sess.UserID != claims.UserID || (claims.SessionID != "" && claims.SessionID != sess.ID) {
		return Session{}, tokens.Claims{}, fmt.Errorf("%w: token and session disagree", ErrSessionNotFound)
	}
	return sess, claims, nil
}

// Touch records activity on sessionID in the background.
func (s *Service) Touch(ctx context.Context, sessionID string) { s.reg.Touch(ctx, sessionID) }

// ListSessions lists the user's active sessions, flagging the current one.
func (s *Service) ListSessions(ctx context.Context, userID, currentSessionID string) ([]Listed, error) {
	return s.reg.ListActiveForUser(ctx, userID, currentSessionID)
}

// CountActive counts the user's active sessions.
func (s *Service) CountActive(ctx context.Context, userID string) (int, error) {
	return s.reg.CountActiveForUser(ctx, userID)
}
