package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"learnhub/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL (learnhub.users).
//
// The pgx pool is owned by the caller; this store must not close it.
type PostgresStore struct {
	pool  *pgxpool.Pool
	table string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the users table (default "learnhub").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("users: invalid schema identifier %q", schema)
		}
		s.table = pgx.Identifier{schema, "users"}.Sanitize()
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("users: nil pool")
	}
	st := &PostgresStore{
		pool:  pool,
		table: pgx.Identifier{"learnhub", "users"}.Sanitize(),
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

const userColumns = `id, email, name, avatar_url, email_verified, password_hash, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, in CreateInput) (User, error) {
	const op = "users.Create"

	email, name, err := validateCreate(op, in)
	if err != nil {
		return User{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	id, err := ids.New(now)
	if err != nil {
		return User{}, err
	}

	u, err := scanUser(s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table+` (
			id, email, email_norm, name, avatar_url, email_verified, password_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, false, $6, $7, $7)
		RETURNING `+userColumns,
		id, email, NormalizeEmail(email), name, in.AvatarURL, in.PasswordHash, now))
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return User{}, ConflictError{Op: op, Field: field}
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (User, error) {
	const op = "users.FindByEmail"

	norm := NormalizeEmail(email)
	if norm == "" {
		return User{}, notFound(op)
	}
	u, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM `+s.table+`
		WHERE email_norm = $1
	`, norm))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound(op)
	}
	return u, err
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM `+s.table+`
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, notFound("users.GetByID")
	}
	return u, err
}

func scanUser(r pgx.Row) (User, error) {
	var u User
	err := r.Scan(
		&u.ID,
		&u.Email,
		&u.Name,
		&u.AvatarURL,
		&u.EmailVerified,
		&u.PasswordHash,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	return u, err
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return "email", true
	default:
		return "unique", true
	}
}
