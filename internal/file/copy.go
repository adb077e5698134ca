package file

import (
	"context"
	"fmt"
	"io"

	"github.com/meigma/ggpk/internal/packtype"
)

// copyBufferSize caps the buffer CopyExact reads through.
const copyBufferSize = 256 << 10

// CopyExact copies exactly n bytes from src to dst, checking ctx between
// reads. A source that ends early fails with ErrShortRead and one with
// bytes left over fails with ErrSizeOverflow. dst keeps whatever was
// copied before a failure.
func CopyExact(ctx context.Context, dst io.Writer, src io.Reader, n int64) error {
	buf := make([]byte, min(n, copyBufferSize))
	var done int64
	for done < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk := buf[:min(int64(len(buf)), n-done)]
		nr, er := src.Read(chunk)
		if nr > 0 {
			nw, ew := dst.Write(chunk[:nr])
			done += int64(nw)
			if ew != nil {
				return ew
			}
			if nw != nr {
				return io.ErrShortWrite
			}
		}
		if er == io.EOF {
			break
		}
		if er != nil {
			return er
		}
	}
	if done < n {
		return fmt.Errorf("%w: content ended after %d of %d bytes", packtype.ErrShortRead, done, n)
	}
	var extra [1]byte
	if m, _ := io.ReadFull(src, extra[:]); m > 0 {
		return fmt.Errorf("%w: content is longer than %d bytes", packtype.ErrSizeOverflow, n)
	}
	return nil
}
