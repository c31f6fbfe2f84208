package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"learnhub/cmd/internal/auth/authn"
	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/auth/tokens"
	"learnhub/cmd/internal/users"
	"learnhub/cmd/security/password"
	"learnhub/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse-battery"

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

type apiEnv struct {
	t      *testing.T
	ts     *httptest.Server
	clock  *testClock
	store  *session.MemoryStore
	reg    *session.Registry
	audits *recordingAuditor
}

type recordingAuditor struct{ actions []string }

func (a *recordingAuditor) Record(_ context.Context, ev AuditEvent) {
	a.actions = append(a.actions, ev.Action)
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	clock := &testClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}

	tcfg := tokens.DefaultConfig()
	tcfg.AccessSecret = "api-test-access-secret-0123456789abcdefgh"
	tcfg.RefreshSecret = "api-test-refresh-secret-0123456789abcdefg"
	codec, err := tokens.NewCodec(tcfg, tokens.WithClock(clock.Now))
	require.NoError(t, err)

	strategy, err := tokens.NewStrategy(tokens.StrategyPair, codec)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	reg, err := session.NewRegistry(store, codec, strategy, token.NewHasher("api-test-hmac-key"), session.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(reg.WaitTouches)

	svc := session.NewService(reg, codec, nil)
	dir := users.NewMemoryStore()

	pcfg := password.DefaultConfig()
	pcfg.Algorithm = password.AlgorithmBcrypt
	pcfg.BcryptCost = 4
	hasher, err := password.New(pcfg)
	require.NoError(t, err)

	audits := &recordingAuditor{}
	cfg := DefaultConfig()
	cfg.CookieSecure = false

	h, err := NewHandler(nil, cfg, svc, dir, hasher, authn.New(svc, codec, dir), WithAuditor(audits))
	require.NoError(t, err)

	mux := http.NewServeMux()
	h.Register(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &apiEnv{t: t, ts: ts, clock: clock, store: store, reg: reg, audits: audits}
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	cookies []*http.Cookie
}

type reply struct {
	status  int
	body    []byte
	cookies []*http.Cookie
}

func (e *apiEnv) do(c call) reply {
	e.t.Helper()

	var rd io.Reader
	if c.body != nil {
		b, err := json.Marshal(c.body)
		require.NoError(e.t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(c.method, e.ts.URL+c.path, rd)
	require.NoError(e.t, err)
	if c.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0) Chrome/126.0 Safari/537.36")
	for _, ck := range c.cookies {
		req.AddCookie(ck)
	}

	res, err := e.ts.Client().Do(req)
	require.NoError(e.t, err)
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(res.Body)
	require.NoError(e.t, err)

	// Touches run in the background; settle them so the next call sees
	// consistent rows.
	e.reg.WaitTouches()
	return reply{status: res.StatusCode, body: body, cookies: res.Cookies()}
}

func decodeInto[T any](t *testing.T, r reply) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.body, &v), "body=%s", r.body)
	return v
}

func errCode(t *testing.T, r reply) string {
	t.Helper()
	return decodeInto[authn.ErrorBody](t, r).Error.Code
}

func (e *apiEnv) register(email string) userResponse {
	e.t.Helper()
	r := e.do(call{method: http.MethodPost, path: "/auth/register", body: registerRequest{
		Email: email, Password: testPassword, Name: "Learner",
	}})
	require.Equal(e.t, http.StatusCreated, r.status, "body=%s", r.body)
	return decodeInto[registerResponse](e.t, r).User
}

func (e *apiEnv) login(req loginRequest) (loginResponse, reply) {
	e.t.Helper()
	if req.Password == "" {
		req.Password = testPassword
	}
	r := e.do(call{method: http.MethodPost, path: "/auth/login", body: req})
	require.Equal(e.t, http.StatusOK, r.status, "body=%s", r.body)
	return decodeInto[loginResponse](e.t, r), r
}

func boolPtr(b bool) *bool { return &b }

func refreshCookie(r reply) *http.Cookie {
	for _, c := range r.cookies {
		if c.Name == "refresh_token" {
			return c
		}
	}
	return nil
}

func TestRegister(t *testing.T) {
	e := newAPIEnv(t)

	u := e.register("ada@example.com")
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "ada@example.com", u.Email)

	dup := e.do(call{method: http.MethodPost, path: "/auth/register", body: registerRequest{
		Email: "ADA@example.com", Password: testPassword,
	}})
	assert.Equal(t, http.StatusConflict, dup.status)
	assert.Equal(t, codeDuplicate, errCode(t, dup))

	short := e.do(call{method: http.MethodPost, path: "/auth/register", body: registerRequest{
		Email: "bob@example.com", Password: "abc",
	}})
	assert.Equal(t, http.StatusBadRequest, short.status)
	assert.Equal(t, codeValidation, errCode(t, short))

	unknownField := e.do(call{method: http.MethodPost, path: "/auth/register", body: map[string]string{
		"email": "carol@example.com", "password": testPassword, "role": "admin",
	}})
	assert.Equal(t, http.StatusBadRequest, unknownField.status)
}

func TestLogin_InvalidCredentialsAreUniform(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")

	missing := e.do(call{method: http.MethodPost, path: "/auth/login", body: loginRequest{
		Email: "nobody@example.com", Password: testPassword,
	}})
	wrong := e.do(call{method: http.MethodPost, path: "/auth/login", body: loginRequest{
		Email: "ada@example.com", Password: "not-the-password",
	}})

	assert.Equal(t, http.StatusUnauthorized, missing.status)
	assert.Equal(t, http.StatusUnauthorized, wrong.status)
	assert.Equal(t, codeInvalidCredentials, errCode(t, missing))
	assert.Equal(t, codeInvalidCredentials, errCode(t, wrong))
	assert.Equal(t, []string{"auth.register", "auth.login.failed", "auth.login.failed"}, e.audits.actions)
}

func TestLogin_IssuesPairAndDeviceInfo(t *testing.T) {
	e := newAPIEnv(t)
	u := e.register("ada@example.com")

	res, r := e.login(loginRequest{Email: "ada@example.com", DeviceName: "Laptop"})

	assert.NotEmpty(t, res.AccessToken)
	assert.NotEmpty(t, res.RefreshToken)
	require.NotNil(t, res.RefreshExpiresAt)
	assert.Equal(t, tokens.TokenTypeBearer, res.TokenType)
	assert.Equal(t, int64(24*60*60), res.ExpiresIn)
	assert.Equal(t, u.ID, res.User.ID)
	assert.True(t, res.SessionInfo.SingleDevice)
	assert.Equal(t, "Laptop", res.SessionInfo.DeviceName)
	assert.Equal(t, "127.0.0.1", res.SessionInfo.IPAddress)
	assert.False(t, res.SessionInfo.Degraded)
	assert.Nil(t, refreshCookie(r), "no cookie without remember_me")
}

func TestLogin_RememberMeSetsStrictCookie(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")

	res, r := e.login(loginRequest{Email: "ada@example.com", RememberMe: true})

	c := refreshCookie(r)
	require.NotNil(t, c)
	assert.Equal(t, res.RefreshToken, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, "/auth/refresh", c.Path)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
}

func TestLogin_SingleDeviceEndsPreviousSessions(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")

	first, _ := e.login(loginRequest{Email: "ada@example.com"})
	e.clock.t = e.clock.t.Add(time.Minute)
	second, _ := e.login(loginRequest{Email: "ada@example.com"})

	assert.Equal(t, 1, second.SessionInfo.PreviousSessionsEnded)
	assert.Contains(t, second.Message, "1 session")

	stale := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: first.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, stale.status)
	assert.Equal(t, authn.CodeSessionNotFound, errCode(t, stale))

	fresh := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: second.AccessToken})
	assert.Equal(t, http.StatusOK, fresh.status)
}

func TestLogin_MultiDeviceKeepsSessions(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")

	a, _ := e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(false), DeviceName: "Phone"})
	e.clock.t = e.clock.t.Add(time.Minute)
	b, _ := e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(false), DeviceName: "Laptop"})
	assert.Zero(t, b.SessionInfo.PreviousSessionsEnded)

	r := e.do(call{method: http.MethodGet, path: "/auth/sessions", bearer: a.AccessToken})
	require.Equal(t, http.StatusOK, r.status)
	list := decodeInto[sessionsResponse](t, r)

	require.Equal(t, 2, list.TotalSessions)
	assert.False(t, list.SingleDevicePolicy)
	var current []string
	for _, s := range list.Sessions {
		if s.IsCurrent {
			current = append(current, s.ID)
		}
		assert.Equal(t, "Chrome", s.Browser)
		assert.Equal(t, "Windows", s.OS)
	}
	assert.Equal(t, []string{a.SessionInfo.ID}, current)

	me := decodeInto[meResponse](t, e.do(call{method: http.MethodGet, path: "/auth/me", bearer: b.AccessToken}))
	assert.Equal(t, b.SessionInfo.ID, me.Session.ID)
	assert.Equal(t, 2, me.Session.ActiveSessionsCount)
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	first, _ := e.login(loginRequest{Email: "ada@example.com"})

	e.clock.t = e.clock.t.Add(time.Hour)
	r := e.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: first.RefreshToken}})
	require.Equal(t, http.StatusOK, r.status, "body=%s", r.body)
	rotated := decodeInto[refreshResponse](t, r)

	assert.NotEqual(t, first.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, first.RefreshToken, rotated.RefreshToken)
	require.NotNil(t, rotated.User)
	assert.Equal(t, "ada@example.com", rotated.User.Email)

	reuse := e.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: first.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, reuse.status)
	assert.Equal(t, authn.CodeSessionNotFound, errCode(t, reuse))

	old := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: first.AccessToken})
	assert.Equal(t, authn.CodeSessionNotFound, errCode(t, old))

	ok := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: rotated.AccessToken})
	assert.Equal(t, http.StatusOK, ok.status)
}

func TestRefresh_FromCookieReissuesCookie(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	_, lr := e.login(loginRequest{Email: "ada@example.com", RememberMe: true})
	c := refreshCookie(lr)
	require.NotNil(t, c)

	r := e.do(call{method: http.MethodPost, path: "/auth/refresh", cookies: []*http.Cookie{{Name: c.Name, Value: c.Value}}})
	require.Equal(t, http.StatusOK, r.status, "body=%s", r.body)

	rotated := decodeInto[refreshResponse](t, r)
	next := refreshCookie(r)
	require.NotNil(t, next)
	assert.Equal(t, rotated.RefreshToken, next.Value)
}

func TestRefresh_Errors(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	res, _ := e.login(loginRequest{Email: "ada@example.com"})

	missing := e.do(call{method: http.MethodPost, path: "/auth/refresh"})
	assert.Equal(t, http.StatusUnauthorized, missing.status)
	assert.Equal(t, authn.CodeTokenRequired, errCode(t, missing))

	wrongClass := e.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: res.AccessToken}})
	assert.Equal(t, authn.CodeTokenInvalid, errCode(t, wrongClass))

	e.clock.t = e.clock.t.Add(8 * 24 * time.Hour)
	expired := e.do(call{method: http.MethodPost, path: "/auth/refresh", body: refreshRequest{RefreshToken: res.RefreshToken}})
	assert.Equal(t, http.StatusUnauthorized, expired.status)
	assert.Equal(t, authn.CodeRefreshExpired, errCode(t, expired))
}

func TestMe_ExpiredAccessAsksForRefresh(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	res, _ := e.login(loginRequest{Email: "ada@example.com"})

	e.clock.t = res.ExpiresAt.Add(time.Second)
	r := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: res.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, r.status)

	body := decodeInto[authn.ErrorBody](t, r)
	assert.Equal(t, authn.CodeTokenExpired, body.Error.Code)
	assert.True(t, body.Error.RequiresRefresh)
}

func TestLogout(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	res, lr := e.login(loginRequest{Email: "ada@example.com", RememberMe: true})
	c := refreshCookie(lr)
	require.NotNil(t, c)

	r := e.do(call{
		method:  http.MethodPost,
		path:    "/auth/logout",
		bearer:  res.AccessToken,
		body:    logoutRequest{RefreshToken: res.RefreshToken, Reason: "user_logout"},
		cookies: []*http.Cookie{{Name: c.Name, Value: c.Value}},
	})
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, 1, decodeInto[endedResponse](t, r).EndedSessionsCount)

	cleared := refreshCookie(r)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	again := e.do(call{method: http.MethodPost, path: "/auth/logout", bearer: res.AccessToken})
	assert.Equal(t, http.StatusOK, again.status)
	assert.Equal(t, 0, decodeInto[endedResponse](t, again).EndedSessionsCount)

	anonymous := e.do(call{method: http.MethodPost, path: "/auth/logout"})
	assert.Equal(t, http.StatusOK, anonymous.status)
}

func TestLogoutAll(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	var last loginResponse
	for i := 0; i < 3; i++ {
		last, _ = e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(false)})
		e.clock.t = e.clock.t.Add(time.Second)
	}

	r := e.do(call{method: http.MethodPost, path: "/auth/logout-all", bearer: last.AccessToken})
	require.Equal(t, http.StatusOK, r.status)
	assert.Equal(t, 3, decodeInto[endedResponse](t, r).EndedSessionsCount)

	after := e.do(call{method: http.MethodPost, path: "/auth/logout-all", bearer: last.AccessToken})
	assert.Equal(t, http.StatusUnauthorized, after.status)

	noToken := e.do(call{method: http.MethodPost, path: "/auth/logout-all"})
	assert.Equal(t, authn.CodeTokenRequired, errCode(t, noToken))
}

func TestRevokeSessionByID(t *testing.T) {
	e := newAPIEnv(t)
	e.register("ada@example.com")
	e.register("bob@example.com")

	phone, _ := e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(false)})
	laptop, _ := e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(false)})
	bob, _ := e.login(loginRequest{Email: "bob@example.com"})

	notULID := e.do(call{method: http.MethodDelete, path: "/auth/sessions/not-an-id", bearer: laptop.AccessToken})
	assert.Equal(t, http.StatusNotFound, notULID.status)

	foreign := e.do(call{method: http.MethodDelete, path: "/auth/sessions/" + bob.SessionInfo.ID, bearer: laptop.AccessToken})
	assert.Equal(t, http.StatusNotFound, foreign.status)
	assert.Equal(t, codeNotFound, errCode(t, foreign))

	own := e.do(call{method: http.MethodDelete, path: "/auth/sessions/" + phone.SessionInfo.ID, bearer: laptop.AccessToken})
	require.Equal(t, http.StatusOK, own.status)
	assert.True(t, decodeInto[revokeResponse](t, own).Revoked)

	gone := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: phone.AccessToken})
	assert.Equal(t, authn.CodeSessionNotFound, errCode(t, gone))

	twice := e.do(call{method: http.MethodDelete, path: "/auth/sessions/" + phone.SessionInfo.ID, bearer: laptop.AccessToken})
	assert.Equal(t, http.StatusNotFound, twice.status)

	stillBob := e.do(call{method: http.MethodGet, path: "/auth/me", bearer: bob.AccessToken})
	assert.Equal(t, http.StatusOK, stillBob.status)
}

func TestSessionStatus_NeverRejects(t *testing.T) {
	e := newAPIEnv(t)
	ada := e.register("ada@example.com")
	res, _ := e.login(loginRequest{Email: "ada@example.com"})

	anonymous := e.do(call{method: http.MethodGet, path: "/auth/session"})
	require.Equal(t, http.StatusOK, anonymous.status)
	assert.False(t, decodeInto[sessionStatusResponse](t, anonymous).Authenticated)

	garbage := e.do(call{method: http.MethodGet, path: "/auth/session", bearer: "not-a-jwt"})
	require.Equal(t, http.StatusOK, garbage.status)
	assert.False(t, decodeInto[sessionStatusResponse](t, garbage).Authenticated)

	signedIn := e.do(call{method: http.MethodGet, path: "/auth/session", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, signedIn.status)
	status := decodeInto[sessionStatusResponse](t, signedIn)
	assert.True(t, status.Authenticated)
	require.NotNil(t, status.User)
	assert.Equal(t, ada.ID, status.User.ID)
	assert.Equal(t, "ada@example.com", status.User.Email)
	require.NotNil(t, status.Session)
	assert.Equal(t, res.SessionInfo.ID, status.Session.ID)
	assert.True(t, status.Session.IsSingleDevice)

	e.clock.t = res.ExpiresAt.Add(time.Second)
	expired := e.do(call{method: http.MethodGet, path: "/auth/session", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, expired.status)
	assert.False(t, decodeInto[sessionStatusResponse](t, expired).Authenticated)
}

func TestSessions_PolicyFollowsCallerSession(t *testing.T) {
	e := newAPIEnv(t)
	ada := e.register("ada@example.com")
	res, _ := e.login(loginRequest{Email: "ada@example.com", SingleDevice: boolPtr(true)})

	// A sibling left behind by a concurrent login, used more recently than
	// the caller's own session.
	now := e.clock.Now()
	require.NoError(t, e.store.Insert(context.Background(), session.Session{
		ID:              "01JSIBL1NG0000000000000000",
		UserID:          ada.ID,
		AccessTokenHash: "sibling-access-hash",
		Active:          true,
		SingleDevice:    false,
		ExpiresAt:       now.Add(time.Hour),
		CreatedAt:       now.Add(time.Minute),
		LastUsedAt:      now.Add(time.Minute),
	}))

	r := e.do(call{method: http.MethodGet, path: "/auth/sessions", bearer: res.AccessToken})
	require.Equal(t, http.StatusOK, r.status, "body=%s", r.body)
	list := decodeInto[sessionsResponse](t, r)
	require.Equal(t, 2, list.TotalSessions)
	assert.Equal(t, "01JSIBL1NG0000000000000000", list.Sessions[0].ID)
	assert.True(t, list.SingleDevicePolicy)
}

func TestRoutes_MethodNotAllowed(t *testing.T) {
	e := newAPIEnv(t)
	r := e.do(call{method: http.MethodGet, path: "/auth/login"})
	assert.Equal(t, http.StatusMethodNotAllowed, r.status)
}
