package password

import (
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Algorithm names a password hashing scheme.
type Algorithm string

const (
	AlgorithmArgon2id Algorithm = "argon2id"
	AlgorithmBcrypt   Algorithm = "bcrypt"
)

// Hasher hashes new passwords and verifies stored hashes.
//
// Verify returns (true, nil) for a match, (false, nil) for a mismatch,
// and (false, ErrInvalidHash) for malformed or unsupported hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm  Algorithm
	Argon2id   Argon2idParams
	BcryptCost int
	Policy     Policy
}

// DefaultConfig returns Argon2id with interactive-login parameters.
func DefaultConfig() Config {
	// Clamp to [1..4] to keep resource usage predictable in containers.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm: AlgorithmArgon2id,
		Argon2id: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above.
			SaltLength:  16,
			KeyLength:   32,
		},
		BcryptCost: bcrypt.DefaultCost,
		Policy: Policy{
			MinLength: 6,
			MaxLength: 256,
		},
	}
}

// New returns a Hasher that hashes with cfg.Algorithm and verifies either encoding.
func New(cfg Config) (Hasher, error) {
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return nil, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)", cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.BcryptCost < bcrypt.MinCost || cfg.BcryptCost > bcrypt.MaxCost {
		return nil, fmt.Errorf("password: bcrypt cost %d out of range [%d..%d]", cfg.BcryptCost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	h := dispatchHasher{
		argon:  Argon2id{Params: cfg.Argon2id, Policy: cfg.Policy},
		bcrypt: Bcrypt{Cost: cfg.BcryptCost, Policy: cfg.Policy},
	}

	switch Algorithm(strings.ToLower(strings.TrimSpace(string(cfg.Algorithm)))) {
	case AlgorithmArgon2id, "":
		h.primary = h.argon
	case AlgorithmBcrypt:
		h.primary = h.bcrypt
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}
	return h, nil
}

type dispatchHasher struct {
	primary Hasher
	argon   Argon2id
	bcrypt  Bcrypt
}

func (h dispatchHasher) Hash(password string) (string, error) {
	return h.primary.Hash(password)
}

func (h dispatchHasher) Verify(encodedHash, password string) (bool, error) {
	switch {
	case strings.HasPrefix(encodedHash, "$argon2id$"):
		return h.argon.Verify(encodedHash, password)
	case isBcryptHash(encodedHash):
		return h.bcrypt.Verify(encodedHash, password)
	default:
		return false, ErrInvalidHash
	}
}
