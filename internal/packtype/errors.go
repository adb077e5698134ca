package packtype

import (
	"errors"
	"fmt"
)

// Sentinel errors for pack operations.
var (
	// ErrFormat is returned when a record is malformed or unsupported.
	ErrFormat = errors.New("ggpk: malformed pack")

	// ErrReadOnly is returned when the pack cannot be opened for writing,
	// either because of permissions or because another process holds it.
	ErrReadOnly = errors.New("ggpk: pack is read-only")

	// ErrShortRead is returned when fewer bytes than declared are available.
	ErrShortRead = errors.New("ggpk: short read")

	// ErrLookup is returned when the tree and its names disagree.
	ErrLookup = errors.New("ggpk: lookup failed")

	// ErrHashMismatch is returned when file content does not match its hash.
	ErrHashMismatch = errors.New("ggpk: hash verification failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("ggpk: size overflow")

	// ErrVersionMismatch is returned when a patch archive targets a different pack version.
	ErrVersionMismatch = errors.New("ggpk: patch version mismatch")

	// ErrNotFile is returned when a file operation is given a directory.
	ErrNotFile = errors.New("ggpk: not a file")

	// ErrNotDir is returned when a directory operation is given a file.
	ErrNotDir = errors.New("ggpk: not a directory")
)

// FormatError describes a malformed record found at Offset.
type FormatError struct {
	Offset int64
	Tag    string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Tag == "" {
		return fmt.Sprintf("ggpk: malformed record at 0x%X: %s", e.Offset, e.Reason)
	}
	return fmt.Sprintf("ggpk: malformed %s record at 0x%X: %s", e.Tag, e.Offset, e.Reason)
}

// Unwrap allows errors.Is(err, ErrFormat).
func (e *FormatError) Unwrap() error {
	return ErrFormat
}

// Formatf builds a FormatError.
func Formatf(offset int64, tag, format string, args ...any) *FormatError {
	return &FormatError{Offset: offset, Tag: tag, Reason: fmt.Sprintf(format, args...)}
}

// LookupError reports a tree/name consistency failure for Path.
type LookupError struct {
	Path   string
	Reason string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("ggpk: lookup %s: %s", e.Path, e.Reason)
}

// Unwrap allows errors.Is(err, ErrLookup).
func (e *LookupError) Unwrap() error {
	return ErrLookup
}
