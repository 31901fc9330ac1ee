package api

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmcleod/arbor/internal/util"
	"github.com/jmcleod/arbor/session"
	"github.com/jmcleod/arbor/users"
)

// minPasswordLen applies to registration only; existing accounts can always
// log in with whatever they were created with.
const minPasswordLen = 8

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	clientIP := a.clientIP(r)
	if ok, retryAfter := a.registerIPs.allow(clientIP); !ok {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited", slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[CredentialsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		a.mapError(w, r, fmt.Errorf("%w: identifier and password are required", ErrClientInput))
		return
	}
	if len([]rune(req.Password)) < minPasswordLen {
		a.mapError(w, r, fmt.Errorf("%w: password must be at least %d characters", ErrClientInput, minPasswordLen))
		return
	}

	rec, err := a.users.Create(r.Context(), req.Identifier, req.Password, users.WithProfile(req.Profile))
	if err != nil {
		a.mapError(w, r, err)
		return
	}

	if _, err := a.sessions.Create(w, session.Identity{UserID: rec.ID}); err != nil {
		a.writeInternalError(w, r, "failed to create session", err)
		return
	}
	a.writeCSRFCookie(w, r)
	a.audit.logEvent(AuditRegister, r, rec.ID)
	writeJSON(w, http.StatusCreated, a.userView(r, rec))
}

// Login handles POST /auth/login.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	clientIP := a.clientIP(r)
	if ok, retryAfter := a.loginIPs.allow(clientIP); !ok {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited", slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter)
		return
	}

	req, ok := decodeJSON[CredentialsRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if req.Identifier == "" || req.Password == "" {
		a.mapError(w, r, fmt.Errorf("%w: identifier and password are required", ErrClientInput))
		return
	}

	accountKey := accountKeyFor(req.Identifier)
	if blocked, retryAfter := a.accounts.check(accountKey); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account locked", slog.String("account_key", accountKey))
		writeRateLimited(w, retryAfter)
		return
	}

	rec, err := a.users.ValidateLogin(r.Context(), req.Identifier, req.Password)
	if err != nil {
		a.writeInternalError(w, r, "failed to validate credentials", err)
		return
	}
	if rec == nil {
		a.accounts.recordFailure(accountKey)
		a.audit.logFailure(AuditLoginFailure, r, "invalid credentials", slog.String("account_key", accountKey))
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	a.accounts.recordSuccess(accountKey)

	if _, err := a.sessions.Create(w, session.Identity{UserID: rec.ID}); err != nil {
		a.writeInternalError(w, r, "failed to create session", err)
		return
	}
	a.writeCSRFCookie(w, r)
	a.audit.logEvent(AuditLoginSuccess, r, rec.ID)
	writeJSON(w, http.StatusOK, a.userView(r, rec))
}

// Logout handles POST /auth/logout. It always succeeds.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	id, _ := a.sessions.Get(r)
	a.sessions.Clear(w)
	a.clearCSRFCookie(w, r)
	a.audit.logEvent(AuditLogout, r, id.UserID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// Session handles GET /auth/session. Anonymous callers get {"user": null}
// with status 200.
func (a *API) Session(w http.ResponseWriter, r *http.Request) {
	id, ok := a.sessions.Get(r)
	if !ok {
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}
	rec, err := a.users.Get(r.Context(), id.UserID)
	if errors.Is(err, users.ErrNotFound) {
		writeJSON(w, http.StatusOK, SessionResponse{})
		return
	}
	if err != nil {
		a.writeInternalError(w, r, "failed to load session user", err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{User: a.userView(r, rec)})
}

// UpdateSettings handles PUT /auth/settings.
func (a *API) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	req, ok := decodeJSON[UpdateSettingsRequest](w, r, maxSettingsBodySize)
	if !ok {
		return
	}

	rec, err := a.users.Get(r.Context(), id.UserID)
	if errors.Is(err, users.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, ErrAuthentication.Error())
		return
	}
	if err != nil {
		a.writeInternalError(w, r, "failed to load account", err)
		return
	}

	if req.GitSettings != nil && req.GitSettings.SecretToken != nil {
		if token := *req.GitSettings.SecretToken; token == "" {
			rec.GitSettings = nil
		} else {
			ct, err := a.cipher.Encrypt(token)
			if err != nil {
				a.writeInternalError(w, r, "failed to store settings", err)
				return
			}
			rec.GitSettings = &users.GitSettings{SecretToken: ct}
		}
	}
	if req.Profile != nil {
		rec.Profile = req.Profile
	}

	updated, err := a.users.Update(r.Context(), rec)
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	a.audit.logEvent(AuditSettingsUpdated, r, updated.ID)
	writeJSON(w, http.StatusOK, a.userView(r, updated))
}

// accountKeyFor hashes an identifier for rate limiting and logs.
func accountKeyFor(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return util.HexEncode(sum[:8])
}
