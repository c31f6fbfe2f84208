package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// MinHMACKeyBytes is the minimum key size accepted in enforced mode.
const MinHMACKeyBytes = 32

// HashSHA256Hex returns a SHA-256 hex digest of s.
func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashHMACSHA256Hex returns an HMAC-SHA256 hex digest of s using key.
func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// Hasher digests tokens for storage and lookup.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed by key. A blank key selects SHA-256 mode.
func NewHasher(key string) Hasher {
	key = strings.TrimSpace(key)
	if key == "" {
		return Hasher{}
	}
	return Hasher{key: []byte(key)}
}

// NewRequiredHasher is NewHasher for enforced HMAC mode: the key must be present
// and at least minBytes long.
func NewRequiredHasher(key string, minBytes int) (Hasher, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Hasher{}, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(key) < minBytes {
		return Hasher{}, ErrHMACKeyTooShort
	}
	return Hasher{key: []byte(key)}, nil
}

// HMACEnabled reports whether the hasher is keyed.
func (h Hasher) HMACEnabled() bool { return len(h.key) > 0 }

// Hash returns the storage digest of tok.
func (h Hasher) Hash(tok string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(tok)
	}
	return HashHMACSHA256Hex(tok, h.key)
}
