package users

import (
	"maps"
	"time"

	"github.com/jmcleod/arbor/internal/util"
)

// GitSettings holds a user's git integration settings. SecretToken is always
// stored as ciphertext produced by the secret package.
type GitSettings struct {
	SecretToken string `json:"secretToken,omitempty"`
}

// Record is a stored user account.
type Record struct {
	ID           string              `json:"id"`
	Identifier   string              `json:"identifier"`
	PasswordHash []byte              `json:"passwordHash"`
	PasswordSalt []byte              `json:"passwordSalt"`
	KDF          util.Argon2idParams `json:"kdf"`
	IsAdmin      bool                `json:"isAdmin"`
	GitSettings  *GitSettings        `json:"gitSettings,omitempty"`
	Profile      map[string]string   `json:"profile,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`

	// Version is the storage CAS version the record was read at.
	Version uint64 `json:"-"`
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.PasswordHash = util.CopyBytes(r.PasswordHash)
	cp.PasswordSalt = util.CopyBytes(r.PasswordSalt)
	if r.GitSettings != nil {
		gs := *r.GitSettings
		cp.GitSettings = &gs
	}
	cp.Profile = maps.Clone(r.Profile)
	return &cp
}
