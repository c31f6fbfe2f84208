package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs single-node development runs
// and tests; data is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[string]Session
	// byHash indexes both token hashes to a session id.
	byHash map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]Session),
		byHash: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Insert(ctx context.Context, s Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(s.ID) == "" || strings.TrimSpace(s.UserID) == "" {
		return errors.New("session: memory insert: missing id or user id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.rows[s.ID]; exists {
		return errors.New("session: memory insert: duplicate id")
	}
	m.rows[s.ID] = s
	m.indexLocked(s)
	return nil
}

func (m *MemoryStore) FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return m.find(ctx, hash, func(s Session) bool {
		return s.AccessTokenHash == hash && s.AccessUsable(now)
	})
}

func (m *MemoryStore) FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return m.find(ctx, hash, func(s Session) bool {
		return s.RefreshTokenHash != nil && *s.RefreshTokenHash == hash && s.RefreshUsable(now)
	})
}

// row returns the stored row for id regardless of state.
func (m *MemoryStore) row(id string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.rows[id]
	return s, ok
}

func (m *MemoryStore) RevokeByTokenHash(ctx context.Context, hash string, now time.Time, reason string) (Session, bool, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byHash[hash]
	if !ok {
		return Session{}, false, nil
	}
	s := m.rows[id]
	if !s.Active {
		return Session{}, false, nil
	}
	s = revoked(s, now, reason)
	m.rows[id] = s
	return s, true, nil
}

func (m *MemoryStore) RevokeForUser(ctx context.Context, userID string, opts RevokeOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.rows {
		if s.UserID != userID || !s.Active || id == opts.ExceptSessionID {
			continue
		}
		if opts.SingleDeviceOnly && !s.SingleDevice {
			continue
		}
		m.rows[id] = revoked(s, opts.Now, opts.Reason)
		n++
	}
	return n, nil
}

func (m *MemoryStore) RevokeByIDForOwner(ctx context.Context, id, ownerID string, now time.Time, reason string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok || s.UserID != ownerID || !s.Active {
		return false, nil
	}
	m.rows[id] = revoked(s, now, reason)
	return true, nil
}

func (m *MemoryStore) Rotate(ctx context.Context, in RotateInput) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[in.SessionID]
	if !ok || s.RefreshTokenHash == nil || *s.RefreshTokenHash != in.OldRefreshHash || !s.RefreshUsable(in.Now) {
		return Session{}, ErrSessionNotFound
	}

	delete(m.byHash, s.AccessTokenHash)
	delete(m.byHash, *s.RefreshTokenHash)

	refreshTime := in.Now
	s.AccessTokenHash = in.NewAccessHash
	s.RefreshTokenHash = in.NewRefreshHash
	s.ExpiresAt = in.ExpiresAt
	s.RefreshExpiresAt = in.RefreshExpiresAt
	s.LastUsedAt = in.Now
	s.Device.RefreshTime = &refreshTime

	m.rows[s.ID] = s
	m.indexLocked(s)
	return s, nil
}

func (m *MemoryStore) Touch(ctx context.Context, id string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.rows[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.LastUsedAt = now
	m.rows[id] = s
	return nil
}

func (m *MemoryStore) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	out := make([]Session, 0, 4)
	for _, s := range m.rows {
		if s.UserID == userID && s.Listable(now) {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastUsedAt.Equal(out[j].LastUsedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

func (m *MemoryStore) CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	rows, err := m.ListActiveForUser(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (m *MemoryStore) find(ctx context.Context, hash string, match func(Session) bool) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	s := m.rows[id]
	if !match(s) {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) indexLocked(s Session) {
	if s.AccessTokenHash != "" {
		m.byHash[s.AccessTokenHash] = s.ID
	}
	if s.RefreshTokenHash != nil && *s.RefreshTokenHash != "" {
		m.byHash[*s.RefreshTokenHash] = s.ID
	}
}

func revoked(s Session, now time.Time, reason string) Session {
	at := now
	s.Active = false
	s.RevokedAt = &at
	if reason != "" {
		r := reason
		s.RevocationReason = &r
	}
	return s
}
