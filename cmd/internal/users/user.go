package users

import (
	"context"
	"net/mail"
	"strings"
	"time"
)

// User is a directory entry.
type User struct {
	ID            string
	Email         string
	Name          string
	AvatarURL     *string
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CreateInput describes a registration. PasswordHash is an encoded hash.
type CreateInput struct {
	Email        string
	Name         string
	AvatarURL    *string
	PasswordHash string
	Now          time.Time
}

// Store is the user directory boundary.
type Store interface {
	Create(ctx context.Context, in CreateInput) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id string) (User, error)
}

const maxEmailLen = 254

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateCreate checks in and returns the trimmed email and name.
func validateCreate(op string, in CreateInput) (email, name string, err error) {
	email = strings.TrimSpace(in.Email)
	name = strings.TrimSpace(in.Name)

	if email == "" {
		return "", "", invalid(op, "email is required")
	}
	if len(email) > maxEmailLen {
		return "", "", invalid(op, "email is too long")
	}
	addr, perr := mail.ParseAddress(email)
	if perr != nil || addr.Address != email {
		return "", "", invalid(op, "email is malformed")
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return "", "", invalid(op, "password hash is required")
	}
	if len(name) > 200 {
		return "", "", invalid(op, "name is too long")
	}
	return email, name, nil
}
