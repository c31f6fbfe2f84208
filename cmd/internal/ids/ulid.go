// Package ids allocates the ULIDs used as user and session identifiers.
package ids

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a ULID string (26 chars) stamped with now.
// ULIDs sort by creation time, which keeps the sessions index append-mostly.
func New(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Valid reports whether s is a canonical ULID string.
func Valid(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}
