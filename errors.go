package ggpk

import "github.com/meigma/ggpk/internal/packtype"

// Sentinel errors re-exported from internal/packtype.
var (
	// ErrFormat is returned when the pack is structurally malformed.
	ErrFormat = packtype.ErrFormat

	// ErrReadOnly is returned when the pack cannot be opened for writing,
	// including when another process holds it locked.
	ErrReadOnly = packtype.ErrReadOnly

	// ErrShortRead is returned when fewer bytes than required are available.
	ErrShortRead = packtype.ErrShortRead

	// ErrLookup is returned when a directory entry for a file cannot be found.
	ErrLookup = packtype.ErrLookup

	// ErrHashMismatch is returned when file content does not match its hash.
	ErrHashMismatch = packtype.ErrHashMismatch

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = packtype.ErrSizeOverflow

	// ErrVersionMismatch is returned when a patch archive targets another pack version.
	ErrVersionMismatch = packtype.ErrVersionMismatch

	// ErrNotFile is returned when a file operation is given a directory.
	ErrNotFile = packtype.ErrNotFile

	// ErrNotDir is returned when a directory operation is given a file.
	ErrNotDir = packtype.ErrNotDir
)

// Error types re-exported from internal/packtype.
type (
	// FormatError describes a malformed record.
	FormatError = packtype.FormatError

	// LookupError describes a failed parent entry lookup.
	LookupError = packtype.LookupError
)
