package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a verified token has no matching live
	// session: revoked, superseded, rotated away or expired.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionStoreUnavailable is returned when persistence fails during an
	// operation that must not silently authenticate.
	ErrSessionStoreUnavailable = errors.New("session store unavailable")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid session config")
)

// OpError is a typed operation error with a stable Op + Kind contract.
// Kind is one of the sentinel errors above; Err is the underlying cause.
// Both are reachable through errors.Is.
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// storeErr classifies a persistence error for op. Not-found passes through
// unchanged; anything else becomes ErrSessionStoreUnavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSessionNotFound) {
		return err
	}
	return OpError{Op: op, Kind: ErrSessionStoreUnavailable, Err: err}
}
