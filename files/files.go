// Package files stores user attachments on local disk and resolves requests
// for them without letting a request escape its owner's directory.
//
// Every owner has a private directory <dataDir>/attachments/<ownerID>.
// Request slugs have the form ownerID/.../storedName. Resolution rejects
// traversal segments up front, then evaluates symlinks on both the owner
// root and the target and requires the target to sit strictly inside the
// root.
package files

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DirName is the directory under the data dir that holds owner roots.
const DirName = "attachments"

var (
	// ErrEmptySlug indicates a request with no path after the route prefix.
	ErrEmptySlug = errors.New("files: empty path")
	// ErrTraversal indicates a slug segment containing "..".
	ErrTraversal = errors.New("files: path traversal rejected")
	// ErrInvalidSlug indicates a slug that is not ownerID/.../name.
	ErrInvalidSlug = errors.New("files: invalid path")
	// ErrEscapesRoot indicates the resolved path lies outside the owner root.
	ErrEscapesRoot = errors.New("files: path escapes owner directory")
	// ErrNotFound indicates no regular file exists at the resolved path.
	ErrNotFound = errors.New("files: not found")
	// ErrTooLarge indicates an upload over the configured size limit.
	ErrTooLarge = errors.New("files: upload too large")
)

// AttachmentRef identifies a stored attachment.
type AttachmentRef struct {
	OwnerID      string `json:"ownerId"`
	StoredName   string `json:"storedName"`
	OriginalName string `json:"originalName"`
	ContentType  string `json:"contentType"`
	Size         int64  `json:"size"`
}

// Path returns the slug under which the attachment is served.
func (a AttachmentRef) Path() string {
	return a.OwnerID + "/" + a.StoredName
}

// Slug is a validated request path split into segments. The first segment is
// the owner id.
type Slug []string

// Owner returns the owner id segment.
func (s Slug) Owner() string {
	return s[0]
}

// Name returns the final segment.
func (s Slug) Name() string {
	return s[len(s)-1]
}

// ParseSlug splits and validates a request path of the form
// ownerID/.../storedName.
func ParseSlug(raw string) (Slug, error) {
	raw = strings.TrimPrefix(raw, "/")
	if raw == "" {
		return nil, ErrEmptySlug
	}
	segments := strings.Split(raw, "/")
	for _, seg := range segments {
		if strings.Contains(seg, "..") {
			return nil, ErrTraversal
		}
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return nil, ErrInvalidSlug
		}
	}
	if len(segments) < 2 {
		return nil, ErrInvalidSlug
	}
	return Slug(segments), nil
}

func validSegment(seg string) bool {
	if seg == "" || seg == "." {
		return false
	}
	return !strings.ContainsAny(seg, "\\\x00")
}

// Store reads and writes attachments beneath <dataDir>/attachments.
type Store struct {
	root string
}

// NewStore creates the attachments directory under dataDir if needed.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, errors.New("files: data dir is required")
	}
	root, err := filepath.Abs(filepath.Join(dataDir, DirName))
	if err != nil {
		return nil, fmt.Errorf("resolving attachments dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating attachments dir: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the absolute attachments directory.
func (s *Store) Root() string {
	return s.root
}

// OwnerRoot returns the private directory of ownerID.
func (s *Store) OwnerRoot(ownerID string) string {
	return filepath.Join(s.root, ownerID)
}

// Resolve maps slug to an absolute, symlink-free path inside the owner's
// directory. The file itself must exist.
func (s *Store) Resolve(slug Slug) (string, error) {
	if len(slug) < 2 {
		return "", ErrInvalidSlug
	}
	ownerRoot := s.OwnerRoot(slug.Owner())
	target := filepath.Join(append([]string{ownerRoot}, slug[1:]...)...)
	if !within(ownerRoot, target) {
		return "", ErrEscapesRoot
	}

	realBase, err := filepath.EvalSymlinks(s.root)
	if err != nil {
		return "", fmt.Errorf("resolving attachments dir: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(ownerRoot)
	if err != nil {
		return "", notFoundOr(err)
	}
	if !within(realBase, realRoot) {
		return "", ErrEscapesRoot
	}
	realTarget, err := filepath.EvalSymlinks(target)
	if err != nil {
		return "", notFoundOr(err)
	}
	if !within(realRoot, realTarget) {
		return "", ErrEscapesRoot
	}
	return realTarget, nil
}

// Open resolves slug and opens the regular file it names. The caller must
// close the returned file.
func (s *Store) Open(ctx context.Context, slug Slug) (*os.File, fs.FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	path, err := s.Resolve(slug)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, notFoundOr(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat attachment: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, ErrNotFound
	}
	return f, info, nil
}

// within reports whether target lies strictly inside root.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func notFoundOr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return fmt.Errorf("resolving attachment: %w", err)
}
