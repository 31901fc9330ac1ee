// Package secret encrypts sensitive user fields (such as git access tokens)
// before they are written to the credential store.
//
// Ciphertexts are versioned strings of the form
//
//	v1.<base64url(nonce || ciphertext)>
//
// sealed with AES-256-GCM. The version prefix is bound into the AEAD as
// additional data so a ciphertext relabelled with another version fails to
// open. The encryption key is derived from the operator secret with HKDF and
// held in a memguard Enclave for the life of the process.
package secret

import (
	"errors"
	"fmt"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/arbor/internal/util"
)

// MinSecretLength is the minimum length in bytes of the operator secret.
const MinSecretLength = 32

const (
	versionV1 = "v1"
	fieldInfo = "arbor:secret-field:v1"
)

var (
	// ErrDecryption is returned for any ciphertext that cannot be opened:
	// malformed, truncated, tampered with, or sealed under another key.
	ErrDecryption = errors.New("secret: decryption failed")
	// ErrSecretTooShort is returned by New when the operator secret is shorter
	// than MinSecretLength.
	ErrSecretTooShort = fmt.Errorf("secret: operator secret must be at least %d bytes", MinSecretLength)
)

// Cipher encrypts and decrypts secret fields with a single server-held key.
// It is safe for concurrent use.
type Cipher struct {
	key *memguard.Enclave
}

// Revealed is the outcome of Reveal. OK is false when the ciphertext could
// not be decrypted, in which case Plaintext is empty and the field should be
// treated as unavailable.
type Revealed struct {
	Plaintext string
	OK        bool
}

// New derives the field encryption key from the operator secret.
func New(operatorSecret []byte) (*Cipher, error) {
	if len(operatorSecret) < MinSecretLength {
		return nil, ErrSecretTooShort
	}
	key, err := util.HKDF(operatorSecret, nil, []byte(fieldInfo))
	if err != nil {
		return nil, fmt.Errorf("deriving field key: %w", err)
	}
	// NewEnclave wipes key.
	return &Cipher{key: memguard.NewEnclave(key)}, nil
}

// Encrypt seals plaintext and returns the versioned ciphertext string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening field key enclave: %w", err)
	}
	defer buf.Destroy()

	sealed, err := util.EncryptAESWithAAD([]byte(plaintext), buf.Bytes(), []byte(versionV1))
	if err != nil {
		return "", fmt.Errorf("encrypting field: %w", err)
	}
	return versionV1 + "." + util.Base64URLEncode(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Every failure is reported
// as ErrDecryption.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	version, body, ok := strings.Cut(ciphertext, ".")
	if !ok || version != versionV1 || body == "" {
		return "", ErrDecryption
	}
	sealed, err := util.Base64URLDecode(body)
	if err != nil {
		return "", ErrDecryption
	}

	buf, err := c.key.Open()
	if err != nil {
		return "", fmt.Errorf("opening field key enclave: %w", err)
	}
	defer buf.Destroy()

	plain, err := util.DecryptAESWithAAD(sealed, buf.Bytes(), []byte(version))
	if err != nil {
		return "", ErrDecryption
	}
	return string(plain), nil
}

// Reveal decrypts ciphertext and reports the outcome as a tagged value.
func (c *Cipher) Reveal(ciphertext string) Revealed {
	plain, err := c.Decrypt(ciphertext)
	if err != nil {
		return Revealed{}
	}
	return Revealed{Plaintext: plain, OK: true}
}
