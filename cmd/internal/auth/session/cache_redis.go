package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache decorates a Store with a read-through cache for access-token
// lookups, the hottest path (one per authenticated request).
//
// Every cached entry is registered in a per-user index so that any mutation
// touching a user drops all of that user's entries. Fills are fenced by a
// cache-wide epoch: a fill only lands if no invalidation ran since it started
// reading the store, so a revoked row is never written back. Redis failures
// degrade to the wrapped store.
type RedisCache struct {
	next   Store
	rdb    redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    *slog.Logger
}

// CacheOption configures a RedisCache.
type CacheOption func(*RedisCache)

// WithCachePrefix overrides the key prefix (default "learnhub:session:").
func WithCachePrefix(prefix string) CacheOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithCacheLogger sets the logger for degraded-cache events.
func WithCacheLogger(log *slog.Logger) CacheOption {
	return func(c *RedisCache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewRedisCache wraps next. ttl bounds how long a cached row may be served.
func NewRedisCache(next Store, rdb redis.UniversalClient, ttl time.Duration, opts ...CacheOption) (*RedisCache, error) {
	if next == nil || rdb == nil {
		return nil, fmt.Errorf("%w: redis cache needs a store and a client", ErrConfig)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: non-positive cache ttl", ErrConfig)
	}
	c := &RedisCache{
		next:   next,
		rdb:    rdb,
		ttl:    ttl,
		prefix: "learnhub:session:",
		log:    slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

var _ Store = (*RedisCache)(nil)

func (c *RedisCache) accessKey(hash string) string { return c.prefix + "access:" + hash }
func (c *RedisCache) userKey(userID string) string { return c.prefix + "user:" + userID }
func (c *RedisCache) epochKey() string             { return c.prefix + "epoch" }

// errStaleFill aborts a fill that raced an invalidation.
var errStaleFill = errors.New("session cache: stale fill")

// epoch reads the invalidation counter. ok is false when Redis is unusable,
// in which case the caller must not fill.
func (c *RedisCache) epoch(ctx context.Context) (int64, bool) {
	v, err := c.rdb.Get(ctx, c.epochKey()).Int64()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return 0, true
	default:
		c.log.Warn("session.cache.epoch_fail", "err", err)
		return 0, false
	}
}

func (c *RedisCache) FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	key := c.accessKey(hash)

	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var row Session
		if jerr := json.Unmarshal(data, &row); jerr == nil && row.AccessTokenHash == hash {
			if !row.AccessUsable(now) {
				return Session{}, ErrSessionNotFound
			}
			return row, nil
		}
		c.log.Warn("session.cache.decode_fail", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("session.cache.get_fail", "err", err)
	}

	// The epoch must be read before the store so that a revocation landing
	// between the two is seen by the fill.
	epoch, fill := c.epoch(ctx)

	row, err := c.next.FindActiveByAccessHash(ctx, hash, now)
	if err != nil {
		return Session{}, err
	}
	if fill {
		c.fill(ctx, key, row, now, epoch)
	}
	return row, nil
}

// fill caches row under key unless the epoch moved past epoch.
func (c *RedisCache) fill(ctx context.Context, key string, row Session, now time.Time, epoch int64) {
	ttl := c.ttl
	if left := row.ExpiresAt.Sub(now); left < ttl {
		ttl = left
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(row)
	if err != nil {
		return
	}

	userKey := c.userKey(row.UserID)
	epochKey := c.epochKey()
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, epochKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != epoch {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, ttl)
			p.SAdd(ctx, userKey, key)
			p.Expire(ctx, userKey, c.ttl)
			return nil
		})
		return err
	}, epochKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		c.log.Debug("session.cache.fill_skipped", "user_id", row.UserID)
	default:
		c.log.Warn("session.cache.set_fail", "err", err)
	}
}

// invalidate drops every cached entry of userID. The epoch is bumped first:
// a fill that committed before the bump is removed by the delete below, and
// one that commits after it fails its epoch check.
func (c *RedisCache) invalidate(ctx context.Context, userID string) {
	if userID == "" {
		return
	}
	if err := c.rdb.Incr(ctx, c.epochKey()).Err(); err != nil {
		c.log.Error("session.cache.epoch_bump_fail", "user_id", userID, "err", err)
	}
	userKey := c.userKey(userID)

	keys, err := c.rdb.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.log.Error("session.cache.invalidate_fail", "user_id", userID, "err", err)
		return
	}
	keys = append(keys, userKey)
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Error("session.cache.invalidate_fail", "user_id", userID, "err", err)
	}
}

func (c *RedisCache) Insert(ctx context.Context, s Session) error {
	return c.next.Insert(ctx, s)
}

func (c *RedisCache) FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return c.next.FindActiveByRefreshHash(ctx, hash, now)
}

func (c *RedisCache) RevokeByTokenHash(ctx context.Context, hash string, now time.Time, reason string) (Session, bool, error) {
	row, ok, err := c.next.RevokeByTokenHash(ctx, hash, now, reason)
	if ok {
		c.invalidate(ctx, row.UserID)
	}
	return row, ok, err
}

func (c *RedisCache) RevokeForUser(ctx context.Context, userID string, opts RevokeOptions) (int, error) {
	n, err := c.next.RevokeForUser(ctx, userID, opts)
	if n > 0 {
		c.invalidate(ctx, userID)
	}
	return n, err
}

func (c *RedisCache) RevokeByIDForOwner(ctx context.Context, id, ownerID string, now time.Time, reason string) (bool, error) {
	ok, err := c.next.RevokeByIDForOwner(ctx, id, ownerID, now, reason)
	if ok {
		c.invalidate(ctx, ownerID)
	}
	return ok, err
}

func (c *RedisCache) Rotate(ctx context.Context, in RotateInput) (Session, error) {
	row, err := c.next.Rotate(ctx, in)
	if err == nil {
		c.invalidate(ctx, row.UserID)
	}
	return row, err
}

func (c *RedisCache) Touch(ctx context.Context, id string, now time.Time) error {
	return c.next.Touch(ctx, id, now)
}

func (c *RedisCache) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	return c.next.ListActiveForUser(ctx, userID, now)
}

func (c *RedisCache) CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	return c.next.CountActiveForUser(ctx, userID, now)
}
