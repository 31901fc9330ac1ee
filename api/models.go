package api

import "time"

// CredentialsRequest is the JSON body for POST /auth/login and
// POST /auth/register.
type CredentialsRequest struct {
	Identifier string            `json:"identifier"`
	Password   string            `json:"password"`
	Profile    map[string]string `json:"profile,omitempty"`
}

// GitSettingsView is the client-facing form of users.GitSettings. The token
// is plaintext here and only ever sent to its owner.
type GitSettingsView struct {
	SecretToken string `json:"secretToken,omitempty"`
}

// UserResponse is the client-facing user record. Password hash and salt are
// never included.
type UserResponse struct {
	ID          string            `json:"id"`
	Identifier  string            `json:"identifier"`
	IsAdmin     bool              `json:"isAdmin"`
	GitSettings *GitSettingsView  `json:"gitSettings,omitempty"`
	Profile     map[string]string `json:"profile,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// SessionResponse is returned from GET /auth/session. User is null when the
// request carries no valid session.
type SessionResponse struct {
	User *UserResponse `json:"user"`
}

// UpdateSettingsRequest is the JSON body for PUT /auth/settings. Nil fields
// are left unchanged; an empty secretToken removes the stored token.
type UpdateSettingsRequest struct {
	GitSettings *struct {
		SecretToken *string `json:"secretToken"`
	} `json:"gitSettings,omitempty"`
	Profile map[string]string `json:"profile,omitempty"`
}

// AdminUserSummary is one entry of GET /admin/users. Secrets are never
// revealed to administrators.
type AdminUserSummary struct {
	ID          string    `json:"id"`
	Identifier  string    `json:"identifier"`
	IsAdmin     bool      `json:"isAdmin"`
	HasGitToken bool      `json:"hasGitToken"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ListUsersResponse is returned from GET /admin/users.
type ListUsersResponse struct {
	Users []AdminUserSummary `json:"users"`
	Page  PageInfo           `json:"page"`
}

// UploadResponse is returned from POST /files.
type UploadResponse struct {
	OwnerID      string `json:"ownerId"`
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
	URL          string `json:"url"`
}

// ErrorResponse is returned for all error cases.
type ErrorResponse struct {
	Error string `json:"error"`
}
