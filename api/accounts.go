package api

import (
	"log/slog"
	"maps"
	"net/http"

	"github.com/jmcleod/arbor/users"
)

// userView converts a stored record into its client form for the record's
// owner. The password hash and salt are always dropped. The git token is
// decrypted when possible and omitted when not.
func (a *API) userView(r *http.Request, rec *users.Record) *UserResponse {
	view := &UserResponse{
		ID:         rec.ID,
		Identifier: rec.Identifier,
		IsAdmin:    rec.IsAdmin,
		Profile:    maps.Clone(rec.Profile),
		CreatedAt:  rec.CreatedAt,
		UpdatedAt:  rec.UpdatedAt,
	}
	if rec.GitSettings == nil || rec.GitSettings.SecretToken == "" {
		return view
	}

	revealed := a.cipher.Reveal(rec.GitSettings.SecretToken)
	if !revealed.OK {
		a.logger.LogAttrs(r.Context(), slog.LevelWarn, "stripping undecryptable git token",
			slog.String("user_id", rec.ID))
		a.audit.logEvent(AuditSecretDecryptFailed, r, rec.ID)
		return view
	}
	view.GitSettings = &GitSettingsView{SecretToken: revealed.Plaintext}
	return view
}

// ListUsers handles GET /admin/users?limit=&offset=.
func (a *API) ListUsers(w http.ResponseWriter, r *http.Request) {
	records, err := a.users.List(r.Context())
	if err != nil {
		a.writeInternalError(w, r, "failed to list users", err)
		return
	}
	limit, offset := parsePagination(r)
	start, end, info := page(len(records), limit, offset)
	resp := ListUsersResponse{Users: make([]AdminUserSummary, 0, end-start), Page: info}
	for _, rec := range records[start:end] {
		resp.Users = append(resp.Users, AdminUserSummary{
			ID:          rec.ID,
			Identifier:  rec.Identifier,
			IsAdmin:     rec.IsAdmin,
			HasGitToken: rec.GitSettings != nil && rec.GitSettings.SecretToken != "",
			CreatedAt:   rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
