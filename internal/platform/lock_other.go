//go:build !unix

package platform

import (
	"errors"
	"os"
)

// No advisory locking outside unix; sharing violations surface as
// permission errors from the open itself.
func lock(*os.File) error { return nil }

func unlock(*os.File) error { return nil }

func readOnlyOpenErr(err error) bool {
	return errors.Is(err, os.ErrPermission)
}
