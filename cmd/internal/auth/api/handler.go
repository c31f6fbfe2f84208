package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"learnhub/cmd/internal/auth/authn"
	"learnhub/cmd/internal/auth/session"
	"learnhub/cmd/internal/ids"
	"learnhub/cmd/internal/users"
	"learnhub/cmd/security/password"
)

// Handler wires HTTP auth endpoints to the session and user services.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions  *session.Service
	users     users.Store
	passwords password.Hasher
	auth      *authn.Middleware
	audits    Auditor

	dummyHash string
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithAuditor overrides the default log-only auditor.
func WithAuditor(a Auditor) HandlerOption {
	return func(h *Handler) {
		if h == nil || a == nil {
			return
		}
		h.audits = a
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, sessions *session.Service, dir users.Store, passwords password.Hasher, mw *authn.Middleware, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	switch {
	case sessions == nil:
		return nil, errors.New("auth: nil session service")
	case dir == nil:
		return nil, errors.New("auth: nil user store")
	case passwords == nil:
		return nil, errors.New("auth: nil password hasher")
	case mw == nil:
		return nil, errors.New("auth: nil middleware")
	}

	h := &Handler{
		log:       log,
		cfg:       cfg.normalized(),
		sessions:  sessions,
		users:     dir,
		passwords: passwords,
		auth:      mw,
		audits:    LogAuditor{Log: log},
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}

	// Dummy hash for timing-resistant login checks.
	if hash, err := passwords.Hash("dummy-password-for-timing-only"); err == nil {
		h.dummyHash = hash
	}

	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.Handle("GET /auth/session", h.auth.Optional(http.HandlerFunc(h.handleSessionStatus)))
	mux.Handle("POST /auth/logout-all", h.auth.Required(http.HandlerFunc(h.handleLogoutAll)))
	mux.Handle("GET /auth/me", h.auth.Required(http.HandlerFunc(h.handleMe)))
	mux.Handle("GET /auth/sessions", h.auth.Required(http.HandlerFunc(h.handleSessions)))
	mux.Handle("DELETE /auth/sessions/{id}", h.auth.Required(http.HandlerFunc(h.handleRevokeSession)))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}

	hash, err := h.passwords.Hash(req.Password)
	if err != nil {
		switch {
		case errors.Is(err, password.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, codeValidation, "password is too short")
		case errors.Is(err, password.ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, codeValidation, "password is too long")
		case errors.Is(err, password.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, codeValidation, "password is too weak")
		default:
			h.log.Error("auth.register.hash.fail", "err", err)
			writeInternal(w)
		}
		return
	}

	ctx := r.Context()
	u, err := h.users.Create(ctx, users.CreateInput{
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Now:          h.sessions.Registry().Now(),
	})
	if err != nil {
		switch {
		case users.IsConflict(err):
			writeError(w, http.StatusConflict, codeDuplicate, "email is already registered")
		case users.IsInvalidInput(err):
			writeError(w, http.StatusBadRequest, codeValidation, invalidMessage(err))
		default:
			h.log.Error("auth.register.fail", "err", err)
			writeInternal(w)
		}
		return
	}

	h.auditRegister(ctx, u.ID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	h.log.Info("auth.register.ok", "user_id", u.ID)
	writeJSON(w, http.StatusCreated, registerResponse{User: toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "email and password are required")
		return
	}
	singleDevice := true
	if req.SingleDevice != nil {
		singleDevice = *req.SingleDevice
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	u, err := h.users.FindByEmail(ctx, email)
	if err != nil {
		if !users.IsNotFound(err) {
			h.log.Error("auth.login.lookup.fail", "err", err)
			writeInternal(w)
			return
		}
		// Timing resistance: perform a dummy verify when user is missing.
		if h.dummyHash != "" {
			_, _ = h.passwords.Verify(h.dummyHash, req.Password)
		}
		h.auditLoginFailed(ctx, nil, ip, ua, email, "not_found")
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
		return
	}

	okPw, err := h.passwords.Verify(u.PasswordHash, req.Password)
	if err != nil || !okPw {
		h.auditLoginFailed(ctx, &u.ID, ip, ua, email, "bad_password")
		writeError(w, http.StatusUnauthorized, codeInvalidCredentials, "invalid email or password")
		return
	}

	deviceName := strings.TrimSpace(req.DeviceName)
	if deviceName == "" {
		deviceName = unknownDevice
	}
	dev := session.NewDeviceInfo(session.DeviceInput{
		IPAddress:    ipString(ip),
		UserAgent:    ua,
		DeviceType:   r.Header.Get("X-Device-Type"),
		DeviceName:   deviceName,
		RememberMe:   req.RememberMe,
		SingleDevice: singleDevice,
	}, h.sessions.Registry().Now())

	res, err := h.sessions.Login(ctx, session.LoginInput{
		UserID:       u.ID,
		Device:       dev,
		SingleDevice: singleDevice,
	})
	if err != nil {
		h.log.Error("auth.login.session.fail", "user_id", u.ID, "err", err)
		authn.WriteError(w, err)
		return
	}

	h.auditLoginSuccess(ctx, u.ID, res.Session.ID, ip, ua, singleDevice, res.PreviousSessionsEnded)

	if req.RememberMe && res.Pair.HasRefresh() {
		h.setRefreshCookie(w, res.Pair.RefreshToken, res.Pair.RefreshExpiresAt)
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:      res.Pair.AccessToken,
		RefreshToken:     res.Pair.RefreshToken,
		RefreshExpiresAt: refreshExpiry(res.Pair),
		TokenType:        res.Pair.TokenType,
		ExpiresIn:        res.Pair.ExpiresIn,
		ExpiresAt:        res.Pair.AccessExpiresAt,
		SessionInfo: sessionInfo{
			ID:                    res.Session.ID,
			SingleDevice:          singleDevice,
			PreviousSessionsEnded: res.PreviousSessionsEnded,
			DeviceName:            deviceName,
			IPAddress:             dev.IPAddress,
			Degraded:              res.Degraded,
		},
		User:    toUserResponse(u),
		Message: loginMessage(singleDevice, res.PreviousSessionsEnded),
	})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid request body")
			return
		}
	}

	refreshToken := strings.TrimSpace(req.RefreshToken)
	cookieToken, hasCookie := h.refreshTokenFromCookie(r)
	if refreshToken == "" && hasCookie {
		refreshToken = cookieToken
	}
	if refreshToken == "" {
		authn.WriteError(w, authn.ErrTokenRequired)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())

	dev := session.NewDeviceInfo(session.DeviceInput{
		IPAddress:  ipString(ip),
		UserAgent:  ua,
		DeviceType: r.Header.Get("X-Device-Type"),
	}, h.sessions.Registry().Now())

	res, err := h.sessions.Refresh(ctx, refreshToken, dev)
	if err != nil {
		code := authn.Code(err)
		if code == authn.CodeInternal || code == authn.CodeSessionStoreUnavailable {
			h.log.Error("auth.refresh.fail", "err", err)
		}
		h.auditRefreshFailed(ctx, ip, ua, code)
		if hasCookie {
			h.expireRefreshCookie(w)
		}
		authn.WriteError(w, err)
		return
	}

	h.auditRefreshSuccess(ctx, res.Session.UserID, res.Session.ID, ip, ua)

	if hasCookie && res.Pair.HasRefresh() {
		h.setRefreshCookie(w, res.Pair.RefreshToken, res.Pair.RefreshExpiresAt)
	}

	resp := refreshResponse{
		AccessToken:      res.Pair.AccessToken,
		RefreshToken:     res.Pair.RefreshToken,
		TokenType:        res.Pair.TokenType,
		ExpiresIn:        res.Pair.ExpiresIn,
		ExpiresAt:        res.Pair.AccessExpiresAt,
		RefreshExpiresAt: refreshExpiry(res.Pair),
	}
	if u, err := h.users.GetByID(ctx, res.Session.UserID); err == nil {
		ur := toUserResponse(u)
		resp.User = &ur
	} else {
		h.log.Warn("auth.refresh.user_lookup.fail", "user_id", res.Session.UserID, "err", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
			h.log.Debug("auth.logout.body_ignored", "err", err)
		}
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = session.ReasonLogout
	}

	cookieToken, _ := h.refreshTokenFromCookie(r)

	ctx := r.Context()
	ended, err := h.sessions.Logout(ctx, authn.BearerToken(r), req.RefreshToken, cookieToken)
	if err != nil {
		h.log.Error("auth.logout.fail", "err", err, "ended_sessions", ended)
	}

	h.auditLogout(ctx, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), reason, ended)
	h.log.Info("auth.logout", "reason", reason, "ended_sessions", ended)
	h.expireRefreshCookie(w)
	writeJSON(w, http.StatusOK, endedResponse{EndedSessionsCount: ended})
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.IdentityFrom(r.Context())
	if !ok {
		authn.WriteError(w, authn.ErrTokenRequired)
		return
	}

	ctx := r.Context()
	ended, err := h.sessions.LogoutAllDevices(ctx, id.UserID)
	if err != nil {
		h.log.Error("auth.logout_all.fail", "user_id", id.UserID, "err", err)
		authn.WriteError(w, err)
		return
	}

	h.auditLogoutAll(ctx, id.UserID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()), ended)
	h.expireRefreshCookie(w)
	writeJSON(w, http.StatusOK, endedResponse{EndedSessionsCount: ended})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.IdentityFrom(r.Context())
	if !ok {
		authn.WriteError(w, authn.ErrTokenRequired)
		return
	}

	ctx := r.Context()
	u, err := h.users.GetByID(ctx, id.UserID)
	if err != nil {
		if users.IsNotFound(err) {
			writeError(w, http.StatusNotFound, codeNotFound, "user not found")
			return
		}
		h.log.Error("auth.me.fail", "err", err)
		writeInternal(w)
		return
	}

	count, err := h.sessions.CountActive(ctx, id.UserID)
	if err != nil {
		h.log.Error("auth.me.count.fail", "user_id", id.UserID, "err", err)
		authn.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		User: toUserResponse(u),
		Session: meSession{
			ID:                  id.Session.ID,
			ExpiresAt:           id.Session.ExpiresAt,
			RefreshExpiresAt:    id.Session.RefreshExpiresAt,
			LastUsedAt:          id.Session.LastUsedAt,
			IsSingleDevice:      id.Session.SingleDevice,
			ActiveSessionsCount: count,
		},
	})
}

// handleSessionStatus never rejects: a missing, expired or revoked token is
// reported as an anonymous caller.
func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.IdentityFrom(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, sessionStatusResponse{})
		return
	}
	writeJSON(w, http.StatusOK, sessionStatusResponse{
		Authenticated: true,
		User: &sessionUser{
			ID:            id.UserID,
			Email:         id.Email,
			Name:          id.Name,
			Avatar:        id.Avatar,
			EmailVerified: id.EmailVerified,
		},
		Session: &sessionStatus{
			ID:               id.Session.ID,
			ExpiresAt:        id.Session.ExpiresAt,
			RefreshExpiresAt: id.Session.RefreshExpiresAt,
			IsSingleDevice:   id.Session.SingleDevice,
		},
	})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.IdentityFrom(r.Context())
	if !ok {
		authn.WriteError(w, authn.ErrTokenRequired)
		return
	}

	listed, err := h.sessions.ListSessions(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		h.log.Error("auth.sessions.list.fail", "user_id", id.UserID, "err", err)
		authn.WriteError(w, err)
		return
	}

	out := make([]sessionListing, 0, len(listed))
	for _, l := range listed {
		out = append(out, toSessionListing(l))
	}
	writeJSON(w, http.StatusOK, sessionsResponse{
		Sessions:           out,
		TotalSessions:      len(out),
		SingleDevicePolicy: id.Session.SingleDevice,
	})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, ok := authn.IdentityFrom(r.Context())
	if !ok {
		authn.WriteError(w, authn.ErrTokenRequired)
		return
	}

	sessionID := strings.TrimSpace(r.PathValue("id"))
	if !ids.Valid(sessionID) {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}

	ctx := r.Context()
	revoked, err := h.sessions.RevokeSessionByID(ctx, sessionID, id.UserID)
	if err != nil {
		h.log.Error("auth.sessions.revoke.fail", "session_id", sessionID, "err", err)
		authn.WriteError(w, err)
		return
	}
	if !revoked {
		writeError(w, http.StatusNotFound, codeNotFound, "session not found")
		return
	}

	h.auditSessionRevoked(ctx, id.UserID, sessionID, clientIP(r, h.cfg.TrustProxy), strings.TrimSpace(r.UserAgent()))
	writeJSON(w, http.StatusOK, revokeResponse{Revoked: true})
}

func invalidMessage(err error) string {
	var opErr users.OpError
	if errors.As(err, &opErr) && opErr.Msg != "" {
		return opErr.Msg
	}
	return "invalid input"
}
