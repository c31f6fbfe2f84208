package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const argon2Version = 19 // argon2.Version is 0x13

// Argon2id hashes passwords with Argon2id.
type Argon2id struct {
	Params Argon2idParams
	Policy Policy
}

// Hash returns $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>.
func (a Argon2id) Hash(password string) (string, error) {
	if err := a.Policy.Validate(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, a.Params.Iterations, a.Params.MemoryKiB, a.Params.Parallelism, a.Params.KeyLength)

	b64 := base64.RawStdEncoding
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Version,
		a.Params.MemoryKiB,
		a.Params.Iterations,
		a.Params.Parallelism,
		b64.EncodeToString(salt),
		b64.EncodeToString(key),
	), nil
}

// Verify checks password against an Argon2id encoded hash.
func (a Argon2id) Verify(encodedHash, password string) (bool, error) {
	params, salt, expected, err := decodeArgon2id(encodedHash)
	if err != nil {
		return false, err
	}

	// Refuse attacker-controlled parameters far beyond what we hash with.
	if !withinReasonableBounds(params, a.Params) {
		return false, ErrInvalidHash
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		params.Iterations,
		params.MemoryKiB,
		params.Parallelism,
		uint32(len(expected)), // #nosec G115 -- bounded by decodeArgon2id.
	)

	return subtle.ConstantTimeCompare(key, expected) == 1, nil
}

func withinReasonableBounds(got Argon2idParams, limits Argon2idParams) bool {
	if got.MemoryKiB > limits.MemoryKiB*2 {
		return false
	}
	if got.Iterations > limits.Iterations*2 {
		return false
	}
	if got.Parallelism > limits.Parallelism*2 {
		return false
	}
	if got.SaltLength < 8 || got.SaltLength > 64 {
		return false
	}
	if got.KeyLength < 16 || got.KeyLength > 128 {
		return false
	}
	return true
}

func decodeArgon2id(encoded string) (Argon2idParams, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if parts[2] != "v=19" {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	var mem, it, par uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &it, &par); err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	if mem == 0 || it == 0 || par == 0 || par > 255 {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	b64 := base64.RawStdEncoding
	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}
	hash, err := b64.DecodeString(parts[5])
	if err != nil {
		return Argon2idParams{}, nil, nil, ErrInvalidHash
	}

	return Argon2idParams{
		MemoryKiB:   mem,
		Iterations:  it,
		Parallelism: uint8(par),        // #nosec G115 -- checked <= 255 above.
		SaltLength:  uint32(len(salt)), // #nosec G115
		KeyLength:   uint32(len(hash)), // #nosec G115
	}, salt, hash, nil
}
