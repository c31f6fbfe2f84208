package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"learnhub/cmd/internal/ids"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditEvent is one security-relevant action.
type AuditEvent struct {
	Action    string
	UserID    *string
	SessionID *string
	IP        net.IP
	UserAgent string
	Meta      map[string]any
}

// Auditor records audit events. Implementations must not fail the request:
// errors are logged and dropped.
type Auditor interface {
	Record(ctx context.Context, ev AuditEvent)
}

// LogAuditor writes audit events to a structured logger.
type LogAuditor struct {
	Log *slog.Logger
}

// Record implements Auditor.
func (a LogAuditor) Record(_ context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"action", ev.Action, "ip", ipString(ev.IP), "user_agent", ev.UserAgent}
	if ev.UserID != nil {
		attrs = append(attrs, "user_id", *ev.UserID)
	}
	if ev.SessionID != nil {
		attrs = append(attrs, "session_id", *ev.SessionID)
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}
	log.Info("auth.audit", attrs...)
}

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresAuditor appends events to the audit_log table.
type PostgresAuditor struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
	now   func() time.Time
}

// PostgresAuditorOption configures a PostgresAuditor.
type PostgresAuditorOption func(*PostgresAuditor) error

// WithAuditSchema sets the schema holding audit_log. Default: learnhub.
func WithAuditSchema(schema string) PostgresAuditorOption {
	return func(a *PostgresAuditor) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("audit: invalid schema %q", schema)
		}
		a.table = pgx.Identifier{schema, "audit_log"}.Sanitize()
		return nil
	}
}

// WithAuditLogger sets the logger for insert failures.
func WithAuditLogger(log *slog.Logger) PostgresAuditorOption {
	return func(a *PostgresAuditor) error {
		if log != nil {
			a.log = log
		}
		return nil
	}
}

// NewPostgresAuditor constructs a PostgresAuditor.
func NewPostgresAuditor(pool *pgxpool.Pool, opts ...PostgresAuditorOption) (*PostgresAuditor, error) {
	if pool == nil {
		return nil, errors.New("audit: nil pool")
	}
	a := &PostgresAuditor{
		pool:  pool,
		table: pgx.Identifier{"learnhub", "audit_log"}.Sanitize(),
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Record implements Auditor.
func (a *PostgresAuditor) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || a.pool == nil {
		return
	}

	action := strings.TrimSpace(ev.Action)
	if action == "" {
		return
	}

	now := a.now().UTC()
	id, err := ids.New(now)
	if err != nil {
		a.log.Error("auth.audit.id.fail", "err", err, "action", action)
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	_, err = a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			id, user_id, session_id, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8::jsonb, '{}'::jsonb))
	`, id, ev.UserID, ev.SessionID, action, now, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("auth.audit.insert.fail", "err", err, "action", action)
	}
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}

func (h *Handler) audit(ctx context.Context, action string, userID, sessionID *string, ip net.IP, ua string, meta map[string]any) {
	if h == nil || h.audits == nil {
		return
	}
	h.audits.Record(ctx, AuditEvent{
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ip,
		UserAgent: ua,
		Meta:      meta,
	})
}

func (h *Handler) auditLoginFailed(ctx context.Context, userID *string, ip net.IP, ua, email, reason string) {
	h.audit(ctx, "auth.login.failed", userID, nil, ip, ua, map[string]any{
		"email":  email,
		"reason": reason,
	})
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string, singleDevice bool, ended int) {
	h.audit(ctx, "auth.login.success", &userID, &sessionID, ip, ua, map[string]any{
		"single_device":           singleDevice,
		"previous_sessions_ended": ended,
	})
}

func (h *Handler) auditRefreshSuccess(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.refresh.success", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRefreshFailed(ctx context.Context, ip net.IP, ua, code string) {
	h.audit(ctx, "auth.refresh.failed", nil, nil, ip, ua, map[string]any{"code": code})
}

func (h *Handler) auditLogout(ctx context.Context, ip net.IP, ua, reason string, ended int) {
	h.audit(ctx, "auth.logout", nil, nil, ip, ua, map[string]any{
		"reason":         reason,
		"ended_sessions": ended,
	})
}

func (h *Handler) auditLogoutAll(ctx context.Context, userID string, ip net.IP, ua string, ended int) {
	h.audit(ctx, "auth.logout_all", &userID, nil, ip, ua, map[string]any{"ended_sessions": ended})
}

func (h *Handler) auditSessionRevoked(ctx context.Context, userID, sessionID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.session.revoked", &userID, &sessionID, ip, ua, nil)
}

func (h *Handler) auditRegister(ctx context.Context, userID string, ip net.IP, ua string) {
	h.audit(ctx, "auth.register", &userID, nil, ip, ua, nil)
}
