package session

import (
	"fmt"
	"time"
)

// Config tunes the session subsystem.
type Config struct {
	// TouchTimeout bounds the detached last_used_at update.
	TouchTimeout time.Duration

	// CurrentWindow is the recency window used to flag the "current" session
	// in listings when the caller's own session id is unknown.
	CurrentWindow time.Duration

	// CacheTTL bounds how long RedisCache may serve a row. Zero disables the cache.
	CacheTTL time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		TouchTimeout:  2 * time.Second,
		CurrentWindow: time.Hour,
		CacheTTL:      30 * time.Second,
	}
}

// Validate reports configuration errors as ErrConfig.
func (c Config) Validate() error {
	if c.TouchTimeout <= 0 {
		return fmt.Errorf("%w: touch timeout must be positive", ErrConfig)
	}
	if c.CurrentWindow <= 0 {
		return fmt.Errorf("%w: current window must be positive", ErrConfig)
	}
	if c.CacheTTL < 0 {
		return fmt.Errorf("%w: negative cache ttl", ErrConfig)
	}
	return nil
}
