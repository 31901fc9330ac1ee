package files

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/arbor/internal/uuid"
)

func newTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewStore(dir)
	require.NoError(t, err)
	return s, dir
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestParseSlug(t *testing.T) {
	tests := []struct {
		raw  string
		want Slug
		err  error
	}{
		{"", nil, ErrEmptySlug},
		{"/", nil, ErrEmptySlug},
		{"alice/x../evil", nil, ErrTraversal},
		{"alice/../bob/f.png", nil, ErrTraversal},
		{"../etc/passwd", nil, ErrTraversal},
		{"alice/..", nil, ErrTraversal},
		{"alice", nil, ErrInvalidSlug},
		{"alice//f.png", nil, ErrInvalidSlug},
		{"alice/./f.png", nil, ErrInvalidSlug},
		{"alice/f.png/", nil, ErrInvalidSlug},
		{"alice/a\\b", nil, ErrInvalidSlug},
		{"alice/f.png", Slug{"alice", "f.png"}, nil},
		{"/alice/sub/f.png", Slug{"alice", "sub", "f.png"}, nil},
		{"alice/.hidden", Slug{"alice", ".hidden"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSlug(tt.raw)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want[0], got.Owner())
			assert.Equal(t, tt.want[len(tt.want)-1], got.Name())
		})
	}
}

func TestOpen_ServesOwnerFile(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, filepath.Join(s.OwnerRoot("alice"), "sub", "pic.png"), []byte("png-bytes"))

	f, info, err := s.Open(context.Background(), Slug{"alice", "sub", "pic.png"})
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, int64(9), info.Size())
}

func TestOpen_Missing(t *testing.T) {
	s, _ := newTestStore(t)

	_, _, err := s.Open(context.Background(), Slug{"alice", "nope.png"})
	assert.ErrorIs(t, err, ErrNotFound)

	writeFile(t, filepath.Join(s.OwnerRoot("alice"), "other.png"), []byte("x"))
	_, _, err = s.Open(context.Background(), Slug{"alice", "nope.png"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_DirectoryIsNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.OwnerRoot("alice"), "dir"), 0o700))

	_, _, err := s.Open(context.Background(), Slug{"alice", "dir"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_SymlinkEscape(t *testing.T) {
	s, dir := newTestStore(t)
	outside := filepath.Join(dir, "secret.txt")
	writeFile(t, outside, []byte("top secret"))
	require.NoError(t, os.MkdirAll(s.OwnerRoot("alice"), 0o700))
	require.NoError(t, os.Symlink(outside, filepath.Join(s.OwnerRoot("alice"), "link.txt")))

	_, _, err := s.Open(context.Background(), Slug{"alice", "link.txt"})
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestOpen_SymlinkIntoOtherOwner(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, filepath.Join(s.OwnerRoot("bob"), "b.png"), []byte("bob"))
	require.NoError(t, os.MkdirAll(s.OwnerRoot("alice"), 0o700))
	require.NoError(t, os.Symlink(filepath.Join(s.OwnerRoot("bob"), "b.png"), filepath.Join(s.OwnerRoot("alice"), "b.png")))

	_, _, err := s.Open(context.Background(), Slug{"alice", "b.png"})
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestOpen_SymlinkedOwnerRoot(t *testing.T) {
	s, dir := newTestStore(t)
	elsewhere := filepath.Join(dir, "elsewhere")
	writeFile(t, filepath.Join(elsewhere, "f.png"), []byte("x"))
	require.NoError(t, os.Symlink(elsewhere, s.OwnerRoot("alice")))

	_, _, err := s.Open(context.Background(), Slug{"alice", "f.png"})
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestOpen_SymlinkWithinRootAllowed(t *testing.T) {
	s, _ := newTestStore(t)
	writeFile(t, filepath.Join(s.OwnerRoot("alice"), "real.png"), []byte("x"))
	require.NoError(t, os.Symlink("real.png", filepath.Join(s.OwnerRoot("alice"), "alias.png")))

	f, _, err := s.Open(context.Background(), Slug{"alice", "alias.png"})
	require.NoError(t, err)
	f.Close()
}

func TestOpen_CanceledContext(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := s.Open(ctx, Slug{"alice", "f.png"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSave(t *testing.T) {
	s, _ := newTestStore(t)
	owner := uuid.New()
	data := []byte("\x89PNG\r\n\x1a\nrest")

	ref, err := s.Save(context.Background(), owner, `C:\Users\me\Photo.PNG`, bytes.NewReader(data), 1024)
	require.NoError(t, err)
	assert.Equal(t, owner, ref.OwnerID)
	assert.True(t, strings.HasSuffix(ref.StoredName, ".png"))
	assert.Len(t, ref.StoredName, 64+len(".png"))
	assert.Equal(t, "Photo.PNG", ref.OriginalName)
	assert.Equal(t, "image/png", ref.ContentType)
	assert.Equal(t, int64(len(data)), ref.Size)
	assert.Equal(t, owner+"/"+ref.StoredName, ref.Path())

	slug, err := ParseSlug(ref.Path())
	require.NoError(t, err)
	f, _, err := s.Open(context.Background(), slug)
	require.NoError(t, err)
	f.Close()

	again, err := s.Save(context.Background(), owner, "copy.png", bytes.NewReader(data), 1024)
	require.NoError(t, err)
	assert.Equal(t, ref.StoredName, again.StoredName)
}

func TestSave_TooLarge(t *testing.T) {
	s, _ := newTestStore(t)
	owner := uuid.New()

	_, err := s.Save(context.Background(), owner, "big.bin", bytes.NewReader(make([]byte, 11)), 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	entries, err := os.ReadDir(s.OwnerRoot(owner))
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be removed")

	_, err = s.Save(context.Background(), owner, "ok.bin", bytes.NewReader(make([]byte, 10)), 10)
	assert.NoError(t, err)
}

func TestSave_RejectsBadOwner(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Save(context.Background(), "../evil", "f.png", bytes.NewReader(nil), 10)
	assert.ErrorIs(t, err, ErrInvalidSlug)
}

func TestSafeExt(t *testing.T) {
	assert.Equal(t, ".png", safeExt("a.PNG"))
	assert.Equal(t, "", safeExt("noext"))
	assert.Equal(t, "", safeExt("a."))
	assert.Equal(t, "", safeExt("a.p-g"))
	assert.Equal(t, "", safeExt("a.verylongextension"))
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "image/png", ContentTypeFor("x.png"))
	assert.Equal(t, "image/png", ContentTypeFor("x.PNG"))
	assert.Equal(t, DefaultContentType, ContentTypeFor("x"))
	assert.Equal(t, DefaultContentType, ContentTypeFor("x.unknownext"))
}

func TestDisposition(t *testing.T) {
	assert.Equal(t, "inline", Disposition("image/png", ""))
	assert.Equal(t, `inline; filename=cat.png`, Disposition("image/png", "cat.png"))
	assert.Equal(t, "attachment", Disposition("application/pdf", ""))
	assert.Equal(t, `attachment; filename="my report.pdf"`, Disposition("application/pdf", "my report.pdf"))
	assert.Contains(t, Disposition("text/plain", "résumé.txt"), "filename*=utf-8''")
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "", displayName(""))
	assert.Equal(t, "a.txt", displayName("dir/a.txt"))
	assert.Equal(t, "a.txt", displayName(`dir\a.txt`))
	assert.Equal(t, "", displayName("/"))
	assert.Equal(t, "caf\u00e9.png", displayName("cafe\u0301.png"))
}
