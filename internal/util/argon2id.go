package util

import (
	"crypto/subtle"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// KDFProfile names a preset Argon2id cost level.
type KDFProfile string

const (
	// KDFProfileInteractive is used for login password hashes.
	KDFProfileInteractive KDFProfile = "interactive"
	// KDFProfileTest is deliberately cheap and must only be used in tests.
	KDFProfileTest KDFProfile = "test"
)

const (
	argon2idKeyLen  = 32
	argon2idSaltLen = 16
)

type Argon2idParams struct {
	Time        uint32 `json:"time"`
	MemoryKiB   uint32 `json:"memory"`
	Parallelism uint8  `json:"parallelism"`
	KeyLen      uint32 `json:"key_len"`
}

// DefaultArgon2idParams follows the OWASP recommendation for Argon2id
// (m=64MiB, t=1..3, p=4).
func DefaultArgon2idParams() Argon2idParams {
	return Argon2idParams{
		Time:        2,
		MemoryKiB:   64 * 1024,
		Parallelism: 4,
		KeyLen:      argon2idKeyLen,
	}
}

// Argon2idProfile returns the parameters for a named profile.
func Argon2idProfile(p KDFProfile) (Argon2idParams, error) {
	switch p {
	case KDFProfileInteractive:
		return DefaultArgon2idParams(), nil
	case KDFProfileTest:
		return Argon2idParams{Time: 1, MemoryKiB: 1024, Parallelism: 1, KeyLen: argon2idKeyLen}, nil
	default:
		return Argon2idParams{}, fmt.Errorf("unknown kdf profile %q", p)
	}
}

// ValidateArgon2idParams rejects parameter sets that cannot produce a
// 32-byte key or that are zero-cost.
func ValidateArgon2idParams(params Argon2idParams) error {
	if params.KeyLen != argon2idKeyLen {
		return fmt.Errorf("argon2id key length must be %d bytes", argon2idKeyLen)
	}
	if params.Time == 0 {
		return fmt.Errorf("argon2id time must be positive")
	}
	if params.MemoryKiB < 8*uint32(params.Parallelism) || params.Parallelism == 0 {
		return fmt.Errorf("argon2id memory/parallelism out of range")
	}
	return nil
}

// NewArgon2idSalt returns a fresh random salt.
func NewArgon2idSalt() ([]byte, error) {
	return RandomBytes(argon2idSaltLen)
}

// DeriveArgon2idKey hashes the passphrase bytes exactly as given. No Unicode
// normalization is applied, so distinct strings never share a key.
func DeriveArgon2idKey(passphrase string, salt []byte, params Argon2idParams) ([]byte, error) {
	if err := ValidateArgon2idParams(params); err != nil {
		return nil, err
	}
	key := argon2.IDKey([]byte(passphrase), salt, params.Time, params.MemoryKiB, params.Parallelism, params.KeyLen)
	return key, nil
}

func CompareArgon2idKey(passphrase string, salt []byte, params Argon2idParams, expectedKey []byte) (bool, error) {
	key, err := DeriveArgon2idKey(passphrase, salt, params)
	if err != nil {
		return false, err
	}
	defer WipeBytes(key)
	return subtle.ConstantTimeCompare(key, expectedKey) == 1, nil
}
