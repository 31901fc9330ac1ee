// Package users is the credential store: it persists user accounts with
// Argon2id password hashes and validates login attempts against them.
package users

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmcleod/arbor/internal/util"
	"github.com/jmcleod/arbor/internal/uuid"
	"github.com/jmcleod/arbor/storage"
)

const (
	bucket          = "__users"
	recordTypeUser  = "USER"
	recordTypeIdent = "IDENT"
)

// Store persists user records in a storage.Repository.
//
// Each user occupies two entries in the same bucket: the record itself keyed
// by id, and an identifier index entry keyed by the SHA-256 of the identifier
// whose value is the id. Both are written in one batch so the identifier
// uniqueness check and the insert are atomic.
type Store struct {
	repo      storage.Repository
	kdf       util.Argon2idParams
	now       func() time.Time
	dummySalt []byte
}

// Option configures a Store.
type Option func(*Store)

// WithKDFParams sets the Argon2id parameters used for new password hashes.
// Existing records keep the parameters they were hashed with.
func WithKDFParams(params util.Argon2idParams) Option {
	return func(s *Store) {
		s.kdf = params
	}
}

// WithClock replaces the time source for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore returns a Store backed by repo.
func NewStore(repo storage.Repository, opts ...Option) (*Store, error) {
	s := &Store{
		repo: repo,
		kdf:  util.DefaultArgon2idParams(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := util.ValidateArgon2idParams(s.kdf); err != nil {
		return nil, fmt.Errorf("invalid kdf params: %w", err)
	}
	salt, err := util.NewArgon2idSalt()
	if err != nil {
		return nil, err
	}
	s.dummySalt = salt
	return s, nil
}

// CreateOption customizes a new user record.
type CreateOption func(*Record)

// AsAdmin marks the new user as an administrator.
func AsAdmin() CreateOption {
	return func(r *Record) {
		r.IsAdmin = true
	}
}

// WithProfile sets the initial profile fields.
func WithProfile(profile map[string]string) CreateOption {
	return func(r *Record) {
		for k, v := range profile {
			if r.Profile == nil {
				r.Profile = make(map[string]string, len(profile))
			}
			r.Profile[k] = v
		}
	}
}

// Create registers a new user. It returns ErrIdentifierTaken if the
// identifier is already registered.
func (s *Store) Create(ctx context.Context, identifier, password string, opts ...CreateOption) (*Record, error) {
	if err := validateCredentials(identifier, password); err != nil {
		return nil, err
	}

	salt, err := util.NewArgon2idSalt()
	if err != nil {
		return nil, err
	}
	hash, err := util.DeriveArgon2idKey(password, salt, s.kdf)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := s.now().UTC()
	rec := &Record{
		ID:           uuid.New(),
		Identifier:   identifier,
		PasswordHash: hash,
		PasswordSalt: salt,
		KDF:          s.kdf,
		CreatedAt:    now,
		UpdatedAt:    now,
		Version:      1,
	}
	for _, opt := range opts {
		opt(rec)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encoding user record: %w", err)
	}

	err = s.repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(recordTypeIdent, identifierKey(identifier), 0, &storage.Item{Data: []byte(rec.ID), Version: 1}); err != nil {
			if errors.Is(err, storage.ErrCASFailed) {
				return ErrIdentifierTaken
			}
			return err
		}
		return tx.PutCAS(recordTypeUser, rec.ID, 0, &storage.Item{Data: data, Version: rec.Version})
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the user with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	item, err := s.repo.Get(ctx, bucket, recordTypeUser, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return decodeRecord(item)
}

// FindByIdentifier returns the user registered under identifier. Matching is
// exact and case-sensitive.
func (s *Store) FindByIdentifier(ctx context.Context, identifier string) (*Record, error) {
	if identifier == "" {
		return nil, ErrNotFound
	}
	item, err := s.repo.Get(ctx, bucket, recordTypeIdent, identifierKey(identifier))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading identifier index: %w", err)
	}
	rec, err := s.Get(ctx, string(item.Data))
	if err != nil {
		return nil, err
	}
	if rec.Identifier != identifier {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Update writes rec back to the store. It fails with ErrConflict if the
// stored record has changed since rec was read. The identifier and password
// cannot be changed through Update.
func (s *Store) Update(ctx context.Context, rec *Record) (*Record, error) {
	current, err := s.Get(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	if current.Version != rec.Version {
		return nil, ErrConflict
	}

	next := rec.Clone()
	next.Identifier = current.Identifier
	next.PasswordHash = current.PasswordHash
	next.PasswordSalt = current.PasswordSalt
	next.KDF = current.KDF
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = s.now().UTC()
	next.Version = rec.Version + 1

	data, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encoding user record: %w", err)
	}
	err = s.repo.PutCAS(ctx, bucket, recordTypeUser, next.ID, rec.Version, &storage.Item{Data: data, Version: next.Version})
	if err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return next, nil
}

// Delete removes the user and its identifier index entry.
func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
		if err := tx.Delete(recordTypeIdent, identifierKey(rec.Identifier)); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return tx.Delete(recordTypeUser, id)
	})
}

// List returns every user ordered by identifier.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	ids, err := s.repo.List(ctx, bucket, recordTypeUser)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}

// ValidateLogin returns the user matching identifier and password, or
// (nil, nil) if either is wrong. An error is returned only when the store
// itself fails. Unknown identifiers still pay for a key derivation.
func (s *Store) ValidateLogin(ctx context.Context, identifier, password string) (*Record, error) {
	rec, err := s.FindByIdentifier(ctx, identifier)
	if errors.Is(err, ErrNotFound) {
		s.burnDerivation(password)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ok, err := util.CompareArgon2idKey(password, rec.PasswordSalt, rec.KDF, rec.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return rec, nil
}

func (s *Store) burnDerivation(password string) {
	key, err := util.DeriveArgon2idKey(password, s.dummySalt, s.kdf)
	if err == nil {
		util.WipeBytes(key)
	}
}

func validateCredentials(identifier, password string) error {
	if strings.TrimSpace(identifier) == "" {
		return fmt.Errorf("%w: identifier is required", ErrInvalidInput)
	}
	if password == "" {
		return fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	return nil
}

func identifierKey(identifier string) string {
	sum := sha256.Sum256([]byte(identifier))
	return util.HexEncode(sum[:])
}

func decodeRecord(item *storage.Item) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("decoding user record: %w", err)
	}
	rec.Version = item.Version
	return &rec, nil
}
