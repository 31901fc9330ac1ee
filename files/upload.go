package files

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/jmcleod/arbor/internal/util"
	"github.com/jmcleod/arbor/internal/uuid"
)

const maxExtLen = 10

// Save writes the contents of r into ownerID's directory under a
// content-addressed name (sha256 hex plus the lowercased extension of
// originalName). Uploads larger than maxBytes fail with ErrTooLarge and leave
// nothing behind.
func (s *Store) Save(ctx context.Context, ownerID, originalName string, r io.Reader, maxBytes int64) (AttachmentRef, error) {
	if !uuid.Valid(ownerID) {
		return AttachmentRef{}, ErrInvalidSlug
	}
	if err := ctx.Err(); err != nil {
		return AttachmentRef{}, err
	}

	ownerRoot := s.OwnerRoot(ownerID)
	if err := os.MkdirAll(ownerRoot, 0o700); err != nil {
		return AttachmentRef{}, fmt.Errorf("creating owner dir: %w", err)
	}

	tmp, err := os.CreateTemp(ownerRoot, ".upload-*")
	if err != nil {
		return AttachmentRef{}, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), io.LimitReader(r, maxBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return AttachmentRef{}, fmt.Errorf("writing upload: %w", err)
	}
	if n > maxBytes {
		return AttachmentRef{}, ErrTooLarge
	}

	stored := util.HexEncode(h.Sum(nil)) + safeExt(originalName)
	if err := os.Rename(tmpName, filepath.Join(ownerRoot, stored)); err != nil {
		return AttachmentRef{}, fmt.Errorf("committing upload: %w", err)
	}
	committed = true

	return AttachmentRef{
		OwnerID:      ownerID,
		StoredName:   stored,
		OriginalName: displayName(originalName),
		ContentType:  ContentTypeFor(stored),
		Size:         n,
	}, nil
}

// safeExt returns the lowercased extension of name if it is short and
// alphanumeric, or "" otherwise.
func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > maxExtLen+1 {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}

// displayName strips any client-supplied directory from an upload name and
// composes it to NFC, since some clients send decomposed file names.
func displayName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" {
		return ""
	}
	return norm.NFC.String(base)
}
