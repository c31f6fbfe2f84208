package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (learnhub.sessions).
//
// The pgx pool is owned by the caller; the store never closes it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the sessions table (default "learnhub").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("%w: invalid schema identifier %q", ErrConfig, schema)
		}
		s.table = pgx.Identifier{schema, "sessions"}.Sanitize()
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrConfig)
	}
	st := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{"learnhub", "sessions"}.Sanitize(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

var _ Store = (*PostgresStore)(nil)

const sessionColumns = `
	id, user_id, access_token_hash, refresh_token_hash,
	device_info, ip_address, user_agent,
	is_single_device, is_active, degraded, revoked_at, revocation_reason,
	expires_at, refresh_expires_at, created_at, last_used_at`

func (s *PostgresStore) Insert(ctx context.Context, row Session) error {
	device, err := json.Marshal(row.Device)
	if err != nil {
		return fmt.Errorf("session: encode device info: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO `+s.table+` (`+sessionColumns+`
		) VALUES (
			$1, $2, $3, $4,
			$5::jsonb, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16
		)
	`,
		row.ID, row.UserID, row.AccessTokenHash, row.RefreshTokenHash,
		string(device), nullIfEmpty(row.IPAddress), nullIfEmpty(row.UserAgent),
		row.SingleDevice, row.Active, row.Degraded, row.RevokedAt, row.RevocationReason,
		row.ExpiresAt, row.RefreshExpiresAt, row.CreatedAt, row.LastUsedAt,
	)
	return err
}

func (s *PostgresStore) FindActiveByAccessHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return s.queryOne(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table+`
		WHERE access_token_hash = $1
		  AND is_active
		  AND expires_at > $2
	`, hash, now)
}

func (s *PostgresStore) FindActiveByRefreshHash(ctx context.Context, hash string, now time.Time) (Session, error) {
	return s.queryOne(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table+`
		WHERE refresh_token_hash = $1
		  AND is_active
		  AND refresh_expires_at > $2
	`, hash, now)
}

func (s *PostgresStore) RevokeByTokenHash(ctx context.Context, hash string, now time.Time, reason string) (Session, bool, error) {
	row, err := s.queryOne(ctx, `
		UPDATE `+s.table+`
		SET is_active = false,
		    revoked_at = $2,
		    revocation_reason = $3
		WHERE is_active
		  AND (access_token_hash = $1 OR refresh_token_hash = $1)
		RETURNING `+sessionColumns,
		hash, now, nullIfEmpty(reason))
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return row, true, nil
}

func (s *PostgresStore) RevokeForUser(ctx context.Context, userID string, opts RevokeOptions) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET is_active = false,
		    revoked_at = $2,
		    revocation_reason = $3
		WHERE user_id = $1
		  AND is_active
		  AND ($4 = '' OR id <> $4)
		  AND (NOT $5 OR is_single_device)
	`, userID, opts.Now, nullIfEmpty(opts.Reason), opts.ExceptSessionID, opts.SingleDeviceOnly)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) RevokeByIDForOwner(ctx context.Context, id, ownerID string, now time.Time, reason string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET is_active = false,
		    revoked_at = $3,
		    revocation_reason = $4
		WHERE id = $1
		  AND user_id = $2
		  AND is_active
	`, id, ownerID, now, nullIfEmpty(reason))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Rotate is a single conditional UPDATE: a concurrent refresh holding the same
// old token matches zero rows once the first one commits.
func (s *PostgresStore) Rotate(ctx context.Context, in RotateInput) (Session, error) {
	return s.queryOne(ctx, `
		UPDATE `+s.table+`
		SET access_token_hash = $3,
		    refresh_token_hash = $4,
		    expires_at = $5,
		    refresh_expires_at = $6,
		    last_used_at = $7,
		    device_info = jsonb_set(device_info, '{refresh_time}', to_jsonb($7::timestamptz))
		WHERE id = $1
		  AND refresh_token_hash = $2
		  AND is_active
		  AND refresh_expires_at > $7
		RETURNING `+sessionColumns,
		in.SessionID, in.OldRefreshHash,
		in.NewAccessHash, in.NewRefreshHash, in.ExpiresAt, in.RefreshExpiresAt, in.Now)
}

func (s *PostgresStore) Touch(ctx context.Context, id string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE `+s.table+`
		SET last_used_at = GREATEST(last_used_at, $2)
		WHERE id = $1
	`, id, now)
	return err
}

func (s *PostgresStore) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table+`
		WHERE user_id = $1
		  AND is_active
		  AND (expires_at > $2 OR refresh_expires_at > $2)
		ORDER BY last_used_at DESC, id DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0, 4)
	for rows.Next() {
		row, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) CountActiveForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+s.table+`
		WHERE user_id = $1
		  AND is_active
		  AND (expires_at > $2 OR refresh_expires_at > $2)
	`, userID, now).Scan(&n)
	return n, err
}

func (s *PostgresStore) queryOne(ctx context.Context, sql string, args ...any) (Session, error) {
	row, err := scanSession(s.pool.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	return row, err
}

func scanSession(r pgx.Row) (Session, error) {
	var (
		row       Session
		device    []byte
		ip, agent *string
	)
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.AccessTokenHash,
		&row.RefreshTokenHash,
		&device,
		&ip,
		&agent,
		&row.SingleDevice,
		&row.Active,
		&row.Degraded,
		&row.RevokedAt,
		&row.RevocationReason,
		&row.ExpiresAt,
		&row.RefreshExpiresAt,
		&row.CreatedAt,
		&row.LastUsedAt,
	)
	if err != nil {
		return Session{}, err
	}
	if len(device) > 0 {
		if err := json.Unmarshal(device, &row.Device); err != nil {
			return Session{}, fmt.Errorf("session: decode device info for %s: %w", row.ID, err)
		}
	}
	if ip != nil {
		row.IPAddress = *ip
	}
	if agent != nil {
		row.UserAgent = *agent
	}
	return row, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
