package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/ids"
	"learnhub/cmd/security/token"
)

// Registry is the sole reader and writer of session persistence.
//
// It hashes bearer tokens before they reach the Store, mints tokens through
// the configured strategy, and applies the single-device policy.
type Registry struct {
	store    Store
	codec    *tokens.Codec
	strategy tokens.Strategy
	hasher   token.Hasher
	cfg      Config

	log   *slog.Logger
	rec   Recorder
	now   func() time.Time
	newID func(time.Time) (string, error)

	touches sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if log != nil {
			r.log = log
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) {
		if rec != nil {
			r.rec = rec
		}
	}
}

// WithClock overrides the time source. By default the codec's clock is used
// so token expiries and row expiries agree.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides session id allocation.
func WithIDGenerator(gen func(time.Time) (string, error)) RegistryOption {
	return func(r *Registry) {
		if gen != nil {
			r.newID = gen
		}
	}
}

// NewRegistry wires a Registry.
func NewRegistry(store Store, codec *tokens.Codec, strategy tokens.Strategy, hasher token.Hasher, cfg Config, opts ...RegistryOption) (*Registry, error) {
	if store == nil || codec == nil || strategy == nil {
		return nil, fmt.Errorf("%w: registry needs a store, a codec and a strategy", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Registry{
		store:    store,
		codec:    codec,
		strategy: strategy,
		hasher:   hasher,
		cfg:      cfg,
		log:      slog.Default(),
		rec:      nopRecorder{},
		now:      codec.Now,
		newID:    ids.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Now returns the registry's current time.
func (r *Registry) Now() time.Time { return r.now() }

// Create opens a session for userID.
//
// Prior sessions are revoked first: all of them when singleDevice is set,
// otherwise only those that were themselves opened as single-device. That
// sweep is best-effort and never blocks the login. A token minting failure
// falls back to an access-only session flagged Degraded.
func (r *Registry) Create(ctx context.Context, userID string, dev DeviceInfo, singleDevice bool) (Created, error) {
	const op = "session.Create"

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Created{}, errors.New("session: create: empty user id")
	}
	now := r.now()

	revokedCount, err := r.store.RevokeForUser(ctx, userID, RevokeOptions{
		SingleDeviceOnly: !singleDevice,
		Reason:           ReasonSingleDevice,
		Now:              now,
	})
	if err != nil {
		r.log.Warn("session.single_device.revoke_fail", "user_id", userID, "err", err)
		revokedCount = 0
	}
	if revokedCount > 0 {
		r.rec.SessionsRevoked(ReasonSingleDevice, revokedCount)
	}

	id, err := r.newID(now)
	if err != nil {
		return Created{}, fmt.Errorf("session: allocate id: %w", err)
	}
	payload := tokens.Payload{UserID: userID, SessionID: id}

	degraded := r.strategy.Name() == tokens.StrategyAccessOnly
	pair, err := r.strategy.Mint(payload)
	if err != nil {
		r.log.Error("session.mint.fail", "user_id", userID, "strategy", r.strategy.Name(), "fallback", tokens.StrategyAccessOnly, "err", err)
		pair, err = r.codec.IssueAccessOnly(payload)
		if err != nil {
			return Created{}, fmt.Errorf("session: mint access-only token: %w", err)
		}
		degraded = true
	}

	if dev.LoginTime.IsZero() {
		dev.LoginTime = now.UTC()
	}
	dev.SingleDevice = singleDevice

	row := Session{
		ID:              id,
		UserID:          userID,
		AccessTokenHash: r.hasher.Hash(pair.AccessToken),
		Device:          dev,
		IPAddress:       dev.IPAddress,
		UserAgent:       dev.UserAgent,
		SingleDevice:    singleDevice,
		Active:          true,
		Degraded:        degraded,
		ExpiresAt:       pair.AccessExpiresAt,
		CreatedAt:       now,
		LastUsedAt:      now,
	}
	if pair.HasRefresh() {
		h := r.hasher.Hash(pair.RefreshToken)
		exp := pair.RefreshExpiresAt
		row.RefreshTokenHash = &h
		row.RefreshExpiresAt = &exp
	}

	if err := r.store.Insert(ctx, row); err != nil {
		return Created{}, OpError{Op: op, Kind: ErrSessionStoreUnavailable, Err: err}
	}
	r.rec.SessionCreated(degraded)

	return Created{Session: row, Pair: pair, RevokedCount: revokedCount}, nil
}

// FindByAccessToken resolves an access token to its active, unexpired session.
func (r *Registry) FindByAccessToken(ctx context.Context, accessToken string) (Session, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return Session{}, ErrSessionNotFound
	}
	row, err := r.store.FindActiveByAccessHash(ctx, r.hasher.Hash(accessToken), r.now())
	if err != nil {
		return Session{}, storeErr("session.FindByAccessToken", err)
	}
	return row, nil
}

// FindByRefreshToken resolves a refresh token to its active session with an
// open refresh horizon.
func (r *Registry) FindByRefreshToken(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, ErrSessionNotFound
	}
	row, err := r.store.FindActiveByRefreshHash(ctx, r.hasher.Hash(refreshToken), r.now())
	if err != nil {
		return Session{}, storeErr("session.FindByRefreshToken", err)
	}
	return row, nil
}

// Revoke deactivates the session holding tokenValue as either token.
// It reports true only for the call that changed the row.
func (r *Registry) Revoke(ctx context.Context, tokenValue, reason string) (bool, error) {
	tokenValue = strings.TrimSpace(tokenValue)
	if tokenValue == "" {
		return false, nil
	}
	if reason == "" {
		reason = ReasonLogout
	}
	_, ok, err := r.store.RevokeByTokenHash(ctx, r.hasher.Hash(tokenValue), r.now(), reason)
	if err != nil {
		return false, storeErr("session.Revoke", err)
	}
	if ok {
		r.rec.SessionsRevoked(reason, 1)
	}
	return ok, nil
}

// RevokeAllForUser deactivates every active session of userID except
// exceptSessionID, and returns how many were deactivated.
func (r *Registry) RevokeAllForUser(ctx context.Context, userID, exceptSessionID, reason string) (int, error) {
	if reason == "" {
		reason = ReasonLogoutAll
	}
	n, err := r.store.RevokeForUser(ctx, userID, RevokeOptions{
		ExceptSessionID: exceptSessionID,
		Reason:          reason,
		Now:             r.now(),
	})
	if err != nil {
		return 0, storeErr("session.RevokeAllForUser", err)
	}
	r.rec.SessionsRevoked(reason, n)
	return n, nil
}

// RevokeByID deactivates sessionID if, and only if, ownerUserID owns it.
func (r *Registry) RevokeByID(ctx context.Context, sessionID, ownerUserID string) (bool, error) {
	if sessionID == "" || ownerUserID == "" {
		return false, nil
	}
	ok, err := r.store.RevokeByIDForOwner(ctx, sessionID, ownerUserID, r.now(), ReasonRevokedByOwner)
	if err != nil {
		return false, storeErr("session.RevokeByID", err)
	}
	if ok {
		r.rec.SessionsRevoked(ReasonRevokedByOwner, 1)
	}
	return ok, nil
}

// Rotate mints a fresh pair for s and swaps it in, provided s still holds
// oldRefreshToken. A lost race yields ErrSessionNotFound.
func (r *Registry) Rotate(ctx context.Context, s Session, oldRefreshToken string) (Session, tokens.Pair, error) {
	pair, err := r.codec.IssueTokenPair(tokens.Payload{UserID: s.UserID, SessionID: s.ID})
	if err != nil {
		return Session{}, tokens.Pair{}, fmt.Errorf("session: mint rotated pair: %w", err)
	}

	newRefresh := r.hasher.Hash(pair.RefreshToken)
	refreshExp := pair.RefreshExpiresAt

	rotated, err := r.store.Rotate(ctx, RotateInput{
		SessionID:        s.ID,
		OldRefreshHash:   r.hasher.Hash(oldRefreshToken),
		NewAccessHash:    r.hasher.Hash(pair.AccessToken),
		NewRefreshHash:   &newRefresh,
		ExpiresAt:        pair.AccessExpiresAt,
		RefreshExpiresAt: &refreshExp,
		Now:              r.now(),
	})
	r.rec.RefreshRotated(err == nil)
	if err != nil {
		return Session{}, tokens.Pair{}, storeErr("session.Rotate", err)
	}
	return rotated, pair, nil
}

// Touch records activity on sessionID without blocking the caller.
// The update runs detached from ctx's cancellation and is bounded by
// TouchTimeout; failures are only logged.
func (r *Registry) Touch(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	now := r.now()

	r.touches.Add(1)
	go func() {
		defer r.touches.Done()

		tctx, cancel := context.WithTimeout(detached, r.cfg.TouchTimeout)
		defer cancel()

		if err := r.store.Touch(tctx, sessionID, now); err != nil {
			r.log.Debug("session.touch.fail", "session_id", sessionID, "err", err)
		}
	}()
}

// WaitTouches blocks until in-flight Touch updates finish.
func (r *Registry) WaitTouches() { r.touches.Wait() }

// ListActiveForUser returns the user's listable sessions, newest first.
//
// When currentSessionID is known the flag is an exact match. Otherwise the
// most recently used session is flagged if it was used within CurrentWindow.
func (r *Registry) ListActiveForUser(ctx context.Context, userID, currentSessionID string) ([]Listed, error) {
	now := r.now()
	rows, err := r.store.ListActiveForUser(ctx, userID, now)
	if err != nil {
		return nil, storeErr("session.ListActiveForUser", err)
	}

	out := make([]Listed, 0, len(rows))
	for i, row := range rows {
		current := false
		if currentSessionID != "" {
			current = row.ID == currentSessionID
		} else {
			current = i == 0 && now.Sub(row.LastUsedAt) < r.cfg.CurrentWindow
		}
		out = append(out, Listed{Session: row, IsCurrent: current})
	}
	return out, nil
}

// CountActiveForUser counts the user's listable sessions.
func (r *Registry) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	n, err := r.store.CountActiveForUser(ctx, userID, r.now())
	if err != nil {
		return 0, storeErr("session.CountActiveForUser", err)
	}
	return n, nil
}
