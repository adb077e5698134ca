// Package platform opens pack files for writing, detecting packs that are
// read-only or held by another process.
package platform

import (
	"errors"
	"fmt"
	"os"

	"github.com/meigma/ggpk/internal/packtype"
)

// OpenWritable opens path for reading and writing and holds an exclusive
// advisory lock on it until Unlock or Close.
//
// A pack that cannot be opened for writing, or whose lock is held by
// another process, is reported as an error wrapping packtype.ErrReadOnly.
func OpenWritable(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if readOnlyOpenErr(err) {
			return nil, fmt.Errorf("%w: %w", packtype.ErrReadOnly, err)
		}
		return nil, err
	}
	if err := lock(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s is locked by another process: %w", packtype.ErrReadOnly, path, err)
	}
	return f, nil
}

// Unlock releases the lock taken by OpenWritable and closes f.
func Unlock(f *os.File) error {
	unlockErr := unlock(f)
	return errors.Join(unlockErr, f.Close())
}

// Writable reports whether path can currently be opened by OpenWritable.
// Errors other than read-only conditions are returned as is.
func Writable(path string) (bool, error) {
	f, err := OpenWritable(path)
	if err != nil {
		if errors.Is(err, packtype.ErrReadOnly) {
			return false, nil
		}
		return false, err
	}
	return true, Unlock(f)
}
