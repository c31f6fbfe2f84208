package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcrypt only looks at the first 72 bytes of input.
const bcryptMaxBytes = 72

// Bcrypt hashes passwords with bcrypt.
type Bcrypt struct {
	Cost   int
	Policy Policy
}

// Hash returns a bcrypt hash of password at the configured cost.
func (b Bcrypt) Hash(password string) (string, error) {
	if err := b.Policy.Validate(password); err != nil {
		return "", err
	}
	if len(password) > bcryptMaxBytes {
		return "", ErrPasswordTooLong
	}
	out, err := bcrypt.GenerateFromPassword([]byte(password), b.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify checks password against a bcrypt hash.
func (b Bcrypt) Verify(encodedHash, password string) (bool, error) {
	if !isBcryptHash(encodedHash) {
		return false, ErrInvalidHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, ErrInvalidHash
	}
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
