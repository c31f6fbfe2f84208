package users

import (
	"context"
	"strings"
	"sync"
	"time"

	"learnhub/cmd/internal/ids"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Create(ctx context.Context, in CreateInput) (User, error) {
	const op = "users.Create"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	email, name, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.New(now)
	if err != nil {
		return User{}, err
	}

	norm := NormalizeEmail(email)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.byEmail[norm]; taken {
		return User{}, ConflictError{Op: op, Field: "email"}
	}

	u := User{
		ID:           id,
		Email:        email,
		Name:         name,
		AvatarURL:    in.AvatarURL,
		PasswordHash: in.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.byID[id] = u
	m.byEmail[norm] = id
	return u, nil
}

func (m *MemoryStore) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "users.FindByEmail"

	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	norm := NormalizeEmail(email)
	if norm == "" || !strings.Contains(norm, "@") {
		return User{}, notFound(op)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byEmail[norm]
	if !ok {
		return User{}, notFound(op)
	}
	return m.byID[id], nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byID[id]
	if !ok {
		return User{}, notFound("users.GetByID")
	}
	return u, nil
}

// MarkEmailVerified flips the verified flag; used by fixtures.
func (m *MemoryStore) MarkEmailVerified(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.byID[id]; ok {
		u.EmailVerified = true
		m.byID[id] = u
	}
}
