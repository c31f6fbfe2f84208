// Package session owns the lifecycle of login sessions.
//
// A session is one row per authenticated device. It carries keyed hashes of
// the access and refresh tokens minted for it, device metadata, expiry
// horizons for both token classes, and the single-device policy flag.
//
// Registry is the only reader and writer of session persistence. Service
// builds the user-facing flows (login, refresh, logout, logout everywhere,
// revoke by id) on top of it. Persistence sits behind Store, implemented by
// PostgresStore, MemoryStore and the RedisCache decorator.
//
// Expiry is checked lazily on lookup; nothing sweeps expired rows.
package session
