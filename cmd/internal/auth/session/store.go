package session

import (
	"context"
	"time"
)

// Store abstracts persistence for session rows.
//
// Lookups return ErrSessionNotFound when no row matches. Mutations that match
// nothing report it through their bool/int result, not an error.
type Store interface {
	// Insert persists a new session row.
	Insert(ctx context.Context, s Session) error

	// FindActiveByAccessHash loads an active row whose access horizon is open at now.
	FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (Session, error)

	// FindActiveByRefreshHash loads an active row whose refresh horizon is open at now.
	FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error)

	// RevokeByTokenHash deactivates the active row whose access or refresh hash
	// equals hash. It returns the revoked row and true on the first call, false afterwards.
	RevokeByTokenHash(ctx context.Context, hash string, now time.Time, reason string) (Session, bool, error)

	// RevokeForUser deactivates the user's active rows per opts and returns how many changed.
	RevokeForUser(ctx context.Context, userID string, opts RevokeOptions) (int, error)

	// RevokeByIDForOwner deactivates row id only if it is active and owned by ownerID.
	RevokeByIDForOwner(ctx context.Context, id, ownerID string, now time.Time, reason string) (bool, error)

	// Rotate overwrites the token hashes and expiries of a row, but only if it is
	// still active, still holds OldRefreshHash and its refresh horizon is open.
	// Zero matching rows yields ErrSessionNotFound.
	Rotate(ctx context.Context, in RotateInput) (Session, error)

	// Touch sets last_used_at.
	Touch(ctx context.Context, id string, now time.Time) error

	// ListActiveForUser returns listable rows ordered by last_used_at, newest first.
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error)

	// CountActiveForUser counts listable rows.
	CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error)
}
