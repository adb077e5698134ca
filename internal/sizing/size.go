// Package sizing provides safe size arithmetic and conversions to prevent overflow.
package sizing

import "math"

// ToInt converts an int64 to int, returning overflowErr if it doesn't fit.
func ToInt(size int64, overflowErr error) (int, error) {
	if size < 0 || size > int64(math.MaxInt) {
		return 0, overflowErr
	}
	return int(size), nil
}

// ToUint32 converts an int64 to uint32, returning overflowErr if it doesn't fit.
// Record lengths on disk are 32 bits wide.
func ToUint32(size int64, overflowErr error) (uint32, error) {
	if size < 0 || size > math.MaxUint32 {
		return 0, overflowErr
	}
	return uint32(size), nil
}

// ToInt64 converts a uint64 to int64, returning overflowErr if it doesn't fit.
func ToInt64(size uint64, overflowErr error) (int64, error) {
	if size > uint64(math.MaxInt64) {
		return 0, overflowErr
	}
	return int64(size), nil
}

// AddInt64 adds two non-negative int64 values, returning (result, false) on overflow.
func AddInt64(a, b int64) (int64, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

// WithinBounds reports whether [off, off+length) lies inside [0, size).
func WithinBounds(off, length, size int64) bool {
	end, ok := AddInt64(off, length)
	return ok && end <= size
}
