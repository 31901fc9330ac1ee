package files

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultContentType is served when the extension is unknown.
const DefaultContentType = "application/octet-stream"

// CacheControl is sent with every successful download. Stored names are
// content addressed, so a given URL never changes content.
const CacheControl = "private, max-age=31536000, immutable"

// ContentTypeFor derives a MIME type from the extension of name.
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return DefaultContentType
}

// Disposition builds a Content-Disposition value: inline for images,
// attachment otherwise. displayName is cosmetic and never touches the
// filesystem.
func Disposition(contentType, displayName string) string {
	kind := "attachment"
	if strings.HasPrefix(contentType, "image/") {
		kind = "inline"
	}
	if displayName == "" {
		return kind
	}
	if v := mime.FormatMediaType(kind, map[string]string{"filename": displayName}); v != "" {
		return v
	}
	return kind
}
