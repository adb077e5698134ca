package record

import (
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/encoding/unicode"

	"github.com/meigma/ggpk/internal/packtype"
)

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeName returns the NUL-terminated UTF-16LE form of name.
func EncodeName(name string) ([]byte, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return nil, packtype.Formatf(0, "", "name %q contains NUL", name)
	}
	b, err := utf16le.NewEncoder().Bytes([]byte(name + "\x00"))
	if err != nil {
		return nil, packtype.Formatf(0, "", "encode name %q: %v", name, err)
	}
	return b, nil
}

// NameSize returns the encoded size of name in bytes, terminator included.
func NameSize(name string) (int64, error) {
	b, err := EncodeName(name)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}

// decodeName decodes a NUL-terminated UTF-16LE name.
func decodeName(b []byte) (string, bool) {
	if len(b) < 2 || len(b)%2 != 0 {
		return "", false
	}
	if b[len(b)-2] != 0 || b[len(b)-1] != 0 {
		return "", false
	}
	s, err := utf16le.NewDecoder().Bytes(b[:len(b)-2])
	if err != nil {
		return "", false
	}
	return string(s), true
}

// NameHash returns the hash stored in directory entries for a child name.
// Names compare case-insensitively.
func NameHash(name string) uint32 {
	return uint32(xxhash.Sum64String(strings.ToLower(name))) //nolint:gosec // truncation is the hash definition
}
