// Package file implements fs.File and fs.FileInfo for pack content.
package file

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/sizing"
)

// Entry locates file content in a pack.
type Entry struct {
	Path       string
	DataOffset int64
	DataLength int64
	Hash       record.Hash
}

// File implements fs.File for streaming reads with hash verification.
//
// The hash is checked when Read reaches the end of the content; ReadAt
// serves random access without verification.
type File struct {
	entry  Entry
	verify bool
	closer io.Closer

	sr        *io.SectionReader
	hasher    hash.Hash
	remaining int64

	verified  bool
	verifyErr error
	closed    bool
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
)

// Option configures a File.
type Option func(*File)

// WithVerify controls whether Read checks content against the stored hash.
func WithVerify(verify bool) Option {
	return func(f *File) {
		f.verify = verify
	}
}

// WithCloser sets a closer released by Close, typically the pack handle
// the file reads from.
func WithCloser(c io.Closer) Option {
	return func(f *File) {
		f.closer = c
	}
}

// Open returns a File reading entry from source, a pack of size bytes.
// Content extending past the end of the pack is ErrShortRead.
func Open(source io.ReaderAt, size int64, entry Entry, opts ...Option) (*File, error) {
	if !sizing.WithinBounds(entry.DataOffset, entry.DataLength, size) {
		return nil, fmt.Errorf("open %s: %w: data 0x%X+%d exceeds pack size %d",
			entry.Path, packtype.ErrShortRead, entry.DataOffset, entry.DataLength, size)
	}
	f := &File{
		entry:     entry,
		verify:    true,
		sr:        io.NewSectionReader(source, entry.DataOffset, entry.DataLength),
		hasher:    sha256.New(),
		remaining: entry.DataLength,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Read implements io.Reader with incremental hash verification.
func (f *File) Read(p []byte) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if f.verifyErr != nil {
		return 0, f.verifyErr
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.remaining == 0 {
		return 0, f.finish()
	}
	if int64(len(p)) > f.remaining {
		p = p[:f.remaining]
	}

	n, err := f.sr.Read(p)
	if n > 0 {
		_, _ = f.hasher.Write(p[:n]) //nolint:errcheck // hash writes never fail
		f.remaining -= int64(n)
	}
	if err == io.EOF {
		if f.remaining != 0 {
			return n, fmt.Errorf("read %s: %w", f.entry.Path, packtype.ErrShortRead)
		}
		return n, f.finish()
	}
	if err != nil {
		return n, err
	}
	if f.remaining == 0 {
		if verr := f.finish(); verr != io.EOF {
			return n, verr
		}
	}
	return n, nil
}

// finish verifies the hash once all content has been read. It returns
// io.EOF on success.
func (f *File) finish() error {
	if !f.verified {
		f.verified = true
		if f.verify && record.Hash(f.hasher.Sum(nil)) != f.entry.Hash {
			f.verifyErr = fmt.Errorf("read %s: %w", f.entry.Path, packtype.ErrHashMismatch)
		}
	}
	if f.verifyErr != nil {
		return f.verifyErr
	}
	return io.EOF
}

// ReadAt implements io.ReaderAt. Content read this way is not verified.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, fs.ErrClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	return f.sr.ReadAt(p, off)
}

// Stat returns file info.
func (f *File) Stat() (fs.FileInfo, error) {
	return NewInfo(path.Base(f.entry.Path), f.entry.DataLength), nil
}

// Close releases the underlying handle, if any.
func (f *File) Close() error {
	if f.closed {
		return fs.ErrClosed
	}
	f.closed = true
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// Info implements fs.FileInfo for pack files.
type Info struct {
	name string
	size int64
}

// NewInfo creates an Info for a file of size bytes.
func NewInfo(name string, size int64) *Info {
	return &Info{name: name, size: size}
}

func (fi *Info) Name() string       { return fi.name }
func (fi *Info) Size() int64        { return fi.size }
func (fi *Info) Mode() fs.FileMode  { return 0o444 }
func (fi *Info) ModTime() time.Time { return time.Time{} }
func (fi *Info) IsDir() bool        { return false }
func (fi *Info) Sys() any           { return nil }

// DirInfo implements fs.FileInfo for pack directories.
type DirInfo struct {
	name string
}

// NewDirInfo creates a DirInfo with the given name.
func NewDirInfo(name string) *DirInfo {
	return &DirInfo{name: name}
}

func (di *DirInfo) Name() string       { return di.name }
func (di *DirInfo) Size() int64        { return 0 }
func (di *DirInfo) Mode() fs.FileMode  { return fs.ModeDir | 0o555 }
func (di *DirInfo) ModTime() time.Time { return time.Time{} }
func (di *DirInfo) IsDir() bool        { return true }
func (di *DirInfo) Sys() any           { return nil }

// DirEntry implements fs.DirEntry by wrapping fs.FileInfo.
type DirEntry struct {
	info fs.FileInfo
}

// NewDirEntry creates a DirEntry wrapping the given FileInfo.
func NewDirEntry(info fs.FileInfo) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }
