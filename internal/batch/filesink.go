package batch

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrUnsafePath is returned for entry paths that would escape the sink root.
var ErrUnsafePath = errors.New("batch: unsafe path")

// tempPrefix names staging files next to their destination.
const tempPrefix = ".ggpk-"

// FileSink writes entries below a directory with atomic writes.
//
// Files are written to a temporary file in the same directory,
// then renamed to the final path on Commit. Partially written files
// are never visible at the final path. All writes go through an os.Root
// opened at the destination, so symlinks inside it cannot redirect them.
type FileSink struct {
	destDir   string
	overwrite bool
}

// FileSinkOption configures a FileSink.
type FileSinkOption func(*FileSink)

// WithOverwrite allows overwriting existing files.
// By default, existing files are skipped.
func WithOverwrite(overwrite bool) FileSinkOption {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// NewFileSink creates a FileSink that writes to destDir.
// destDir and parent directories are created as needed.
func NewFileSink(destDir string, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		destDir: destDir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ShouldProcess returns false if the file already exists and overwrite is disabled.
func (s *FileSink) ShouldProcess(entry *Entry) bool {
	if s.overwrite {
		return true
	}
	rel, err := relPath(entry)
	if err != nil {
		// Let Writer report the error.
		return true
	}
	_, err = os.Stat(filepath.Join(s.destDir, rel))
	return os.IsNotExist(err)
}

// Writer returns a Committer that writes to a temp file and renames on Commit.
func (s *FileSink) Writer(entry *Entry) (Committer, error) {
	rel, err := relPath(entry)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", s.destDir, err)
	}
	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	if err := root.MkdirAll(filepath.Dir(rel), 0o750); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory %s: %w", filepath.Dir(rel), err)
	}
	return newFileCommitter(root, rel, filepath.Join(s.destDir, rel))
}

func relPath(entry *Entry) (string, error) {
	rel := filepath.FromSlash(entry.Path)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, entry.Path)
	}
	return rel, nil
}

// CreateAtomic creates parent directories of destPath and returns a
// Committer that stages content in a temp file beside it.
func CreateAtomic(destPath string) (Committer, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", dir, err)
	}
	return newFileCommitter(root, filepath.Base(destPath), destPath)
}

func newFileCommitter(root *os.Root, destRel, destPath string) (*fileCommitter, error) {
	tempFile, tempRel, err := createTempFile(root, filepath.Dir(destRel))
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		destPath: destPath,
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     root,
	}, nil
}

// fileCommitter writes to a temp file and renames on Commit.
type fileCommitter struct {
	destPath string
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file and renames it to the final path.
func (c *fileCommitter) Commit() error {
	if err := c.tempFile.Close(); err != nil {
		c.cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		c.cleanup()
		return fmt.Errorf("rename to %s: %w", c.destPath, err)
	}
	return c.root.Close()
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	if err := c.root.Remove(c.tempRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

func (c *fileCommitter) cleanup() {
	_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
}

func createTempFile(root *os.Root, dir string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, tempPrefix+hex.EncodeToString(b[:]))
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}
