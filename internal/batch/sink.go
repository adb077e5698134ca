package batch

import (
	"io"

	"github.com/meigma/ggpk/internal/record"
)

// Entry is one file to copy out of the pack.
type Entry struct {
	// Path is the slash-separated destination path relative to the sink root.
	Path string

	// DataOffset and DataLength locate the content in the pack.
	DataOffset int64
	DataLength int64

	// Hash is the SHA-256 of the content as stored in the FILE record.
	Hash record.Hash
}

// Sink receives verified file content during batch processing.
type Sink interface {
	// ShouldProcess returns false if this entry should be skipped,
	// for example because the destination already exists.
	ShouldProcess(entry *Entry) bool

	// Writer returns a writer for the entry's content. The processor calls
	// Commit after the content is written and verified, or Discard on any
	// error.
	Writer(entry *Entry) (Committer, error)
}

// Committer is a writer that can be committed or discarded.
type Committer interface {
	io.Writer

	// Commit finalizes the write, making content available.
	Commit() error

	// Discard aborts the write and cleans up temporary resources.
	Discard() error
}
