package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"learnhub/cmd/internal/ids"
	"learnhub/cmd/internal/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when LEARNHUB_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_InsertFindRotate(t *testing.T) {
	ctx := context.Background()
	pool := mustIntegrationPool(ctx, t)

	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateUser(ctx, t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	row := newIntegrationRow(t, userID, now, "a1", "r1", false)
	if err := store.Insert(ctx, row); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := store.FindActiveByAccessHash(ctx, "a1-"+row.ID, now)
	if err != nil {
		t.Fatalf("FindActiveByAccessHash: %v", err)
	}
	if got.ID != row.ID || got.Device.Browser != "Firefox" || got.IPAddress != "203.0.113.7" {
		t.Fatalf("unexpected row: %+v", got)
	}

	if _, err := store.FindActiveByAccessHash(ctx, "a1-"+row.ID, now.Add(25*time.Hour)); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound past access expiry, got %v", err)
	}

	newRefresh := "r2-" + row.ID
	refreshExp := now.Add(7 * 24 * time.Hour)
	rotated, err := store.Rotate(ctx, RotateInput{
		SessionID:        row.ID,
		OldRefreshHash:   "r1-" + row.ID,
		NewAccessHash:    "a2-" + row.ID,
		NewRefreshHash:   &newRefresh,
		ExpiresAt:        now.Add(24 * time.Hour),
		RefreshExpiresAt: &refreshExp,
		Now:              now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Rotate: %v", err)
	}
	if rotated.AccessTokenHash != "a2-"+row.ID || rotated.Device.RefreshTime == nil {
		t.Fatalf("unexpected rotated row: %+v", rotated)
	}

	_, err = store.Rotate(ctx, RotateInput{
		SessionID:        row.ID,
		OldRefreshHash:   "r1-" + row.ID,
		NewAccessHash:    "a3-" + row.ID,
		NewRefreshHash:   &newRefresh,
		ExpiresAt:        now.Add(24 * time.Hour),
		RefreshExpiresAt: &refreshExp,
		Now:              now.Add(2 * time.Minute),
	})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected replayed rotation to fail with ErrSessionNotFound, got %v", err)
	}

	if _, err := store.FindActiveByRefreshHash(ctx, "r1-"+row.ID, now); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected old refresh hash to be gone, got %v", err)
	}
}

func TestPostgresStore_RevokeVariants(t *testing.T) {
	ctx := context.Background()
	pool := mustIntegrationPool(ctx, t)

	store, err := NewPostgresStore(pool)
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	userID := mustCreateUser(ctx, t, pool)
	otherID := mustCreateUser(ctx, t, pool)
	now := time.Now().UTC()

	exclusive := newIntegrationRow(t, userID, now, "a", "r", true)
	shared := newIntegrationRow(t, userID, now.Add(time.Second), "a", "r", false)
	third := newIntegrationRow(t, userID, now.Add(2*time.Second), "a", "r", false)
	for _, r := range []Session{exclusive, shared, third} {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	n, err := store.RevokeForUser(ctx, userID, RevokeOptions{SingleDeviceOnly: true, Reason: ReasonSingleDevice, Now: now})
	if err != nil || n != 1 {
		t.Fatalf("RevokeForUser(single only): n=%d err=%v", n, err)
	}

	listed, err := store.ListActiveForUser(ctx, userID, now)
	if err != nil {
		t.Fatalf("ListActiveForUser: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != third.ID {
		t.Fatalf("unexpected listing: %+v", listed)
	}

	ok, err := store.RevokeByIDForOwner(ctx, shared.ID, otherID, now, ReasonRevokedByOwner)
	if err != nil || ok {
		t.Fatalf("RevokeByIDForOwner(wrong owner): ok=%v err=%v", ok, err)
	}

	_, ok, err = store.RevokeByTokenHash(ctx, "r-"+shared.ID, now, ReasonLogout)
	if err != nil || !ok {
		t.Fatalf("RevokeByTokenHash: ok=%v err=%v", ok, err)
	}
	_, ok, err = store.RevokeByTokenHash(ctx, "a-"+shared.ID, now, ReasonLogout)
	if err != nil || ok {
		t.Fatalf("RevokeByTokenHash(repeat): ok=%v err=%v", ok, err)
	}

	n, err = store.RevokeForUser(ctx, userID, RevokeOptions{ExceptSessionID: third.ID, Reason: ReasonLogoutAll, Now: now})
	if err != nil || n != 0 {
		t.Fatalf("RevokeForUser(except): n=%d err=%v", n, err)
	}

	count, err := store.CountActiveForUser(ctx, userID, now)
	if err != nil || count != 1 {
		t.Fatalf("CountActiveForUser: n=%d err=%v", count, err)
	}

	later := now.Add(10 * time.Minute)
	if err := store.Touch(ctx, third.ID, later); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	listed, err = store.ListActiveForUser(ctx, userID, now)
	if err != nil || len(listed) != 1 || listed[0].ID != third.ID {
		t.Fatalf("ListActiveForUser: %+v err=%v", listed, err)
	}
	if got := listed[0]; !got.LastUsedAt.Equal(later.Truncate(time.Microsecond)) {
		t.Fatalf("expected last_used_at=%v, got %v", later, got.LastUsedAt)
	}
}

func newIntegrationRow(t *testing.T, userID string, now time.Time, accessPrefix, refreshPrefix string, single bool) Session {
	t.Helper()

	id, err := ids.New(now)
	if err != nil {
		t.Fatalf("ids.New: %v", err)
	}
	refresh := refreshPrefix + "-" + id
	refreshExp := now.Add(7 * 24 * time.Hour)
	dev := NewDeviceInfo(DeviceInput{
		IPAddress: "203.0.113.7",
		UserAgent: "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0",
	}, now)

	return Session{
		ID:               id,
		UserID:           userID,
		AccessTokenHash:  accessPrefix + "-" + id,
		RefreshTokenHash: &refresh,
		Device:           dev,
		IPAddress:        dev.IPAddress,
		UserAgent:        dev.UserAgent,
		SingleDevice:     single,
		Active:           true,
		ExpiresAt:        now.Add(24 * time.Hour),
		RefreshExpiresAt: &refreshExp,
		CreatedAt:        now,
		LastUsedAt:       now,
	}
}

func mustIntegrationPool(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("LEARNHUB_DATABASE_URL")
	if dbURL == "" {
		t.Skip("LEARNHUB_DATABASE_URL is not set; skipping Postgres integration test")
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		t.Fatalf("pgxpool.ParseConfig: %v", err)
	}
	cfg.MaxConns = 4
	cfg.MinConns = 0
	cfg.MaxConnLifetime = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pgxpool.NewWithConfig: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (LEARNHUB_DATABASE_URL set): %v", err)
		}
		t.Fatalf("pool.Ping: %v", err)
	}

	if err := migrations.Run(dbURL, migrations.Up); err != nil {
		t.Fatalf("migrations.Run: %v", err)
	}
	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}

func mustCreateUser(ctx context.Context, t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := ids.New(time.Now())
	if err != nil {
		t.Fatalf("ids.New: %v", err)
	}
	email := strings.ToLower(id) + "@example.test"

	_, err = pool.Exec(ctx, `
		INSERT INTO learnhub.users (id, email, email_norm, name, password_hash)
		VALUES ($1, $2, $2, 'Integration', 'x')
	`, id, email)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}

	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM learnhub.sessions WHERE user_id = $1`, id)
		_, _ = pool.Exec(context.Background(), `DELETE FROM learnhub.users WHERE id = $1`, id)
	})
	return id
}
