package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"learnhub/cmd/internal/auth/tokens"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogin_AccessTokenValidUntilExpiry(t *testing.T) {
	env := newTestEnv(t)
	res := env.login(t, "user-a", false)

	assert.False(t, res.Degraded)
	assert.True(t, res.Pair.HasRefresh())
	assert.False(t, res.Pair.RefreshExpiresAt.Before(res.Pair.AccessExpiresAt))

	_, err := env.codec.VerifyAccessToken(res.Pair.AccessToken)
	require.NoError(t, err)

	env.clock.Advance(24*time.Hour + time.Second)
	_, err = env.codec.VerifyAccessToken(res.Pair.AccessToken)
	assert.ErrorIs(t, err, tokens.ErrTokenExpired)
}

func TestLogin_SingleDeviceSupersedesPriorSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.login(t, "user-a", true)
	second := env.login(t, "user-a", true)
	assert.Equal(t, 1, second.PreviousSessionsEnded)

	_, _, err := env.svc.Authenticate(ctx, first.Pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = env.reg.FindByRefreshToken(ctx, first.Pair.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sess, _, err := env.svc.Authenticate(ctx, second.Pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, second.Session.ID, sess.ID)

	row, ok := env.store.row(first.Session.ID)
	require.True(t, ok)
	require.NotNil(t, row.RevocationReason)
	assert.Equal(t, ReasonSingleDevice, *row.RevocationReason)
}

func TestLogin_MultiDeviceKeepsNonExclusiveSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.login(t, "user-a", false)
	second := env.login(t, "user-a", false)
	assert.Equal(t, 0, second.PreviousSessionsEnded)

	for _, tok := range []string{first.Pair.AccessToken, second.Pair.AccessToken} {
		_, _, err := env.svc.Authenticate(ctx, tok)
		assert.NoError(t, err)
	}
}

func TestLogin_MultiDeviceStillEndsSingleDeviceSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	exclusive := env.login(t, "user-a", true)
	shared := env.login(t, "user-a", false)
	assert.Equal(t, 1, shared.PreviousSessionsEnded)

	_, _, err := env.svc.Authenticate(ctx, exclusive.Pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLogin_OtherUsersUnaffected(t *testing.T) {
	env := newTestEnv(t)

	other := env.login(t, "user-b", true)
	env.login(t, "user-a", true)

	_, _, err := env.svc.Authenticate(context.Background(), other.Pair.AccessToken)
	assert.NoError(t, err)
}

func TestLogin_RevokeFailureDoesNotBlockLogin(t *testing.T) {
	flaky := &flakyStore{Store: NewMemoryStore(), failRevokeForUser: true}
	env := newTestEnv(t, func(o *envOptions) { o.store = flaky })

	res := env.login(t, "user-a", true)
	assert.Equal(t, 0, res.PreviousSessionsEnded)
	assert.NotEmpty(t, res.Pair.AccessToken)
}

func TestLogin_InsertFailureIsStoreUnavailable(t *testing.T) {
	flaky := &flakyStore{Store: NewMemoryStore(), failInsert: true}
	env := newTestEnv(t, func(o *envOptions) { o.store = flaky })

	_, err := env.svc.Login(context.Background(), LoginInput{UserID: "user-a"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionStoreUnavailable)
	assert.ErrorIs(t, err, errStoreDown)
}

func TestLogin_DegradesToAccessOnlyWhenRefreshCannotBeMinted(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) { o.refreshSecret = "" })

	res := env.login(t, "user-a", false)
	assert.True(t, res.Degraded)
	assert.True(t, res.Session.Degraded)
	assert.False(t, res.Pair.HasRefresh())
	assert.Nil(t, res.Session.RefreshTokenHash)

	_, _, err := env.svc.Authenticate(context.Background(), res.Pair.AccessToken)
	assert.NoError(t, err)
}

func TestLogin_AccessOnlyStrategy(t *testing.T) {
	env := newTestEnv(t, func(o *envOptions) { o.strategy = tokens.StrategyAccessOnly })

	res := env.login(t, "user-a", false)
	assert.True(t, res.Degraded)
	assert.False(t, res.Pair.HasRefresh())
	assert.Equal(t, env.clock.Now().Add(24*time.Hour), res.Session.ExpiresAt)
}

func TestRefresh_RotationIsSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)
	env.clock.Advance(time.Minute)

	r2, err := env.svc.Refresh(ctx, r1.Pair.RefreshToken, DeviceInfo{})
	require.NoError(t, err)
	assert.Equal(t, r1.Session.ID, r2.Session.ID)
	assert.NotEqual(t, r1.Pair.RefreshToken, r2.Pair.RefreshToken)
	assert.NotEqual(t, r1.Pair.AccessToken, r2.Pair.AccessToken)
	require.NotNil(t, r2.Session.Device.RefreshTime)

	_, err = env.svc.Refresh(ctx, r1.Pair.RefreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = env.svc.Authenticate(ctx, r1.Pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, _, err = env.svc.Authenticate(ctx, r2.Pair.AccessToken)
	assert.NoError(t, err)
}

func TestRefresh_AfterAccessExpiry(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)
	env.clock.Advance(25 * time.Hour)

	_, _, err := env.svc.Authenticate(ctx, r1.Pair.AccessToken)
	assert.ErrorIs(t, err, tokens.ErrTokenExpired)

	r2, err := env.svc.Refresh(ctx, r1.Pair.RefreshToken, DeviceInfo{})
	require.NoError(t, err)

	_, _, err = env.svc.Authenticate(ctx, r2.Pair.AccessToken)
	assert.NoError(t, err)
}

func TestRefresh_ExpiredRefreshToken(t *testing.T) {
	env := newTestEnv(t)

	r1 := env.login(t, "user-a", false)
	env.clock.Advance(8 * 24 * time.Hour)

	_, err := env.svc.Refresh(context.Background(), r1.Pair.RefreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, tokens.ErrRefreshExpired)
}

func TestRefresh_RejectsAccessTokenAndGarbage(t *testing.T) {
	env := newTestEnv(t)

	r1 := env.login(t, "user-a", false)

	_, err := env.svc.Refresh(context.Background(), r1.Pair.AccessToken, DeviceInfo{})
	assert.ErrorIs(t, err, tokens.ErrTokenInvalid)

	_, err = env.svc.Refresh(context.Background(), "not-a-jwt", DeviceInfo{})
	assert.ErrorIs(t, err, tokens.ErrTokenInvalid)
}

func TestRefresh_ConcurrentCallsOnlyOneWins(t *testing.T) {
	env := newTestEnv(t)

	r1 := env.login(t, "user-a", false)

	const n = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.svc.Refresh(context.Background(), r1.Pair.RefreshToken, DeviceInfo{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)

	n, err := env.svc.Logout(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = env.svc.Logout(ctx, r1.Pair.AccessToken, r1.Pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = env.svc.Authenticate(ctx, r1.Pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = env.svc.Refresh(ctx, r1.Pair.RefreshToken, DeviceInfo{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevoke_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)

	ok, err := env.reg.Revoke(ctx, r1.Pair.AccessToken, ReasonLogout)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.reg.Revoke(ctx, r1.Pair.AccessToken, ReasonLogout)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.reg.Revoke(ctx, r1.Pair.RefreshToken, ReasonLogout)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLogoutAllDevices_ReturnsCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var all []Result
	for i := 0; i < 3; i++ {
		all = append(all, env.login(t, "user-a", false))
	}
	other := env.login(t, "user-b", false)

	n, err := env.svc.LogoutAllDevices(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, r := range all {
		_, _, err := env.svc.Authenticate(ctx, r.Pair.AccessToken)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	}

	_, _, err = env.svc.Authenticate(ctx, other.Pair.AccessToken)
	assert.NoError(t, err)

	n, err = env.svc.LogoutAllDevices(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRevokeAllForUser_SparesException(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	keep := env.login(t, "user-a", false)
	env.login(t, "user-a", false)

	n, err := env.reg.RevokeAllForUser(ctx, "user-a", keep.Session.ID, ReasonLogoutAll)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, _, err = env.svc.Authenticate(ctx, keep.Pair.AccessToken)
	assert.NoError(t, err)
}

func TestRevokeSessionByID_ChecksOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)

	ok, err := env.svc.RevokeSessionByID(ctx, r1.Session.ID, "user-b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.svc.RevokeSessionByID(ctx, r1.Session.ID, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.svc.RevokeSessionByID(ctx, r1.Session.ID, "user-a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthenticate_StoreFailureIsUnavailable(t *testing.T) {
	flaky := &flakyStore{Store: NewMemoryStore()}
	env := newTestEnv(t, func(o *envOptions) { o.store = flaky })

	r1 := env.login(t, "user-a", false)
	flaky.failFind = true

	_, _, err := env.svc.Authenticate(context.Background(), r1.Pair.AccessToken)
	assert.ErrorIs(t, err, ErrSessionStoreUnavailable)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessions_CurrentFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	older := env.login(t, "user-a", false)
	env.clock.Advance(time.Minute)
	newer := env.login(t, "user-a", false)

	listed, err := env.svc.ListSessions(ctx, "user-a", older.Session.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, newer.Session.ID, listed[0].ID)
	assert.False(t, listed[0].IsCurrent)
	assert.True(t, listed[1].IsCurrent)

	listed, err = env.svc.ListSessions(ctx, "user-a", "")
	require.NoError(t, err)
	assert.True(t, listed[0].IsCurrent)
	assert.False(t, listed[1].IsCurrent)

	env.clock.Advance(2 * time.Hour)
	listed, err = env.svc.ListSessions(ctx, "user-a", "")
	require.NoError(t, err)
	assert.False(t, listed[0].IsCurrent)

	n, err := env.svc.CountActive(ctx, "user-a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTouch_UpdatesLastUsed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r1 := env.login(t, "user-a", false)
	env.clock.Advance(5 * time.Minute)

	cctx, cancel := context.WithCancel(ctx)
	env.svc.Touch(cctx, r1.Session.ID)
	cancel()
	env.reg.WaitTouches()

	row, ok := env.store.row(r1.Session.ID)
	require.True(t, ok)
	assert.Equal(t, env.clock.Now(), row.LastUsedAt)
}
