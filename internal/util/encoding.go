package util

import (
	"encoding/base64"
	"encoding/hex"
)

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func Base64URLEncode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Base64URLDecode uses strict decoding so that non-canonical encodings of
// the same bytes are rejected.
func Base64URLDecode(s string) ([]byte, error) {
	return base64.RawURLEncoding.Strict().DecodeString(s)
}
