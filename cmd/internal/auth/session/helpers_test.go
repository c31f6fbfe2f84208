package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/security/token"

	"github.com/stretchr/testify/require"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	clock *testClock
	store *MemoryStore
	codec *tokens.Codec
	reg   *Registry
	svc   *Service
}

type envOptions struct {
	refreshSecret string
	strategy      string
	store         Store
}

func newTestEnv(t *testing.T, opts ...func(*envOptions)) *testEnv {
	t.Helper()

	o := envOptions{
		refreshSecret: "refresh-secret-for-tests-0123456789abcdef",
		strategy:      tokens.StrategyPair,
	}
	for _, fn := range opts {
		fn(&o)
	}

	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	cfg := tokens.DefaultConfig()
	cfg.AccessSecret = "access-secret-for-tests-0123456789abcdef"
	cfg.RefreshSecret = o.refreshSecret
	codec, err := tokens.NewCodec(cfg, tokens.WithClock(clock.Now))
	require.NoError(t, err)

	strategy, err := tokens.NewStrategy(o.strategy, codec)
	require.NoError(t, err)

	mem := NewMemoryStore()
	var store Store = mem
	if o.store != nil {
		store = o.store
	}

	hasher := token.NewHasher("hmac-key-for-tests-0123456789abcdef012")
	reg, err := NewRegistry(store, codec, strategy, hasher, DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(reg.WaitTouches)

	return &testEnv{
		clock: clock,
		store: mem,
		codec: codec,
		reg:   reg,
		svc:   NewService(reg, codec, nil),
	}
}

func (e *testEnv) login(t *testing.T, userID string, singleDevice bool) Result {
	t.Helper()

	res, err := e.svc.Login(context.Background(), LoginInput{
		UserID:       userID,
		Device:       NewDeviceInfo(DeviceInput{IPAddress: "203.0.113.7", UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"}, e.clock.Now()),
		SingleDevice: singleDevice,
	})
	require.NoError(t, err)
	return res
}

var errStoreDown = errors.New("connection refused")

// flakyStore fails selected operations.
type flakyStore struct {
	Store
	failRevokeForUser bool
	failInsert        bool
	failFind          bool
}

func (f *flakyStore) RevokeForUser(ctx context.Context, userID string, opts RevokeOptions) (int, error) {
	if f.failRevokeForUser {
		return 0, errStoreDown
	}
	return f.Store.RevokeForUser(ctx, userID, opts)
}

func (f *flakyStore) Insert(ctx context.Context, s Session) error {
	if f.failInsert {
		return errStoreDown
	}
	return f.Store.Insert(ctx, s)
}

func (f *flakyStore) FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	if f.failFind {
		return Session{}, errStoreDown
	}
	return f.Store.FindActiveByAccessHash(ctx, hash, now)
}
