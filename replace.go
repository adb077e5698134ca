package ggpk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/meigma/ggpk/internal/alloc"
	"github.com/meigma/ggpk/internal/file"
	"github.com/meigma/ggpk/internal/index"
	"github.com/meigma/ggpk/internal/record"
)

// stageMemoryLimit is the largest in-place replacement staged in memory;
// larger content is staged in a temp file.
const stageMemoryLimit = 32 << 20

// Replace writes data as the new content of f and returns its handle.
//
// Content that fits the existing record is overwritten in place. Otherwise
// the record moves to a free region, or to the end of the pack when none
// fits; the parent directory entry is patched to the new offset and the
// old record is added to the free list.
//
// Replace fails with ErrReadOnly when the pack is browse-only or locked by
// another process, and with a *LookupError when the parent entry for f
// cannot be found.
func (p *Pack) Replace(f File, data []byte) (File, error) {
	return p.ReplaceFrom(f, bytes.NewReader(data), int64(len(data)))
}

// ReplaceFrom is like Replace but streams size bytes from r. A reader that
// ends early fails with ErrShortRead; one with more than size bytes fails
// with ErrSizeOverflow. Either way f keeps its old content.
func (p *Pack) ReplaceFrom(f File, r io.Reader, size int64) (File, error) {
	id, err := p.fileID(f, "replace")
	if err != nil {
		return File{}, err
	}
	w, err := p.openWritable("replace", p.tree.Path(id))
	if err != nil {
		return File{}, err
	}

	rep := p.reporter()
	defer rep.close()
	err = p.replace(context.Background(), w, id, r, size)
	if closeErr := w.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("replace %s: close: %w", p.tree.Path(id), closeErr)
	}
	if err != nil {
		return File{}, err
	}
	rep.report(ProgressEvent{
		Stage:      StageReplacing,
		Path:       p.tree.Path(id),
		BytesDone:  uint64(size), //nolint:gosec // size is non-negative after a successful write
		BytesTotal: uint64(size), //nolint:gosec // size is non-negative after a successful write
		FilesDone:  1,
		FilesTotal: 1,
	})
	return File{Node{p: p, id: id}}, nil
}

// openWritable opens the pack for a mutating operation.
func (p *Pack) openWritable(op, path string) (writeHandle, error) {
	if p.readOnly {
		return nil, fmt.Errorf("%s %s: %w", op, path, ErrReadOnly)
	}
	w, err := p.openRW()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", op, path, err)
	}
	return w, nil
}

// replace runs the replace protocol for one file over an open handle.
// Cancelling ctx interrupts staging or a relocating copy; either way the
// file keeps its old content.
func (p *Pack) replace(ctx context.Context, w writeHandle, id index.NodeID, r io.Reader, size int64) error {
	n := p.tree.Node(id)
	path := p.tree.Path(id)
	need, err := record.FileLength(n.Name, size)
	if err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	old := alloc.Region{Offset: n.Offset, Length: n.Length}

	if need <= old.Length && old.Length-need < record.MinFreeSize {
		// The old content is gone once writing starts, so the source is
		// staged and length-checked first and the overwrite always runs to
		// completion.
		staged, cleanup, err := stage(ctx, r, size)
		if err != nil {
			return fmt.Errorf("replace %s: %w", path, err)
		}
		defer cleanup()
		loc, err := p.writeFile(context.WithoutCancel(ctx), w, old, n.Name, staged, size)
		if err != nil {
			return fmt.Errorf("replace %s: %w", path, err)
		}
		if err := p.tree.Relocate(id, loc); err != nil {
			return err
		}
		p.log().Debug("replaced file in place", "path", path, "offset", old.Offset, "size", size)
		return p.sync(w, path)
	}

	// Locate the parent entry before touching the pack.
	field, err := p.tree.EntryField(id)
	if err != nil {
		return err
	}

	slot, ok, err := p.free.Allocate(w, need)
	if err != nil {
		return fmt.Errorf("replace %s: allocate: %w", path, err)
	}
	appended := !ok
	if appended {
		slot = alloc.Region{Offset: p.size, Length: need}
	}

	loc, err := p.writeFile(ctx, w, slot, n.Name, r, size)
	if err == nil {
		err = writeFullAt(w, record.EncodeOffset(slot.Offset), field)
	}
	if err != nil {
		p.release(w, slot, appended)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if appended {
		p.size = slot.End()
	}
	if err := p.tree.Relocate(id, loc); err != nil {
		return err
	}
	if err := p.free.Free(w, old); err != nil {
		return fmt.Errorf("replace %s: free old record: %w", path, err)
	}

	p.log().Debug("relocated file",
		"path", path,
		"from", old.Offset,
		"to", slot.Offset,
		"length", slot.Length,
		"appended", appended)
	return p.sync(w, path)
}

// writeFile writes a complete FILE record filling slot, hashing the content
// as it streams. The hash field is written last.
func (p *Pack) writeFile(ctx context.Context, w io.WriterAt, slot alloc.Region, name string, r io.Reader, size int64) (index.Location, error) {
	need, err := record.FileLength(name, size)
	if err != nil {
		return index.Location{}, err
	}
	pad := slot.Length - need
	hdr, err := record.EncodeFileHeader(name, size, record.Hash{}, pad)
	if err != nil {
		return index.Location{}, err
	}
	if err := writeFullAt(w, hdr, slot.Offset); err != nil {
		return index.Location{}, err
	}

	dataOffset := slot.Offset + int64(len(hdr))
	h := sha256.New()
	dst := io.MultiWriter(io.NewOffsetWriter(w, dataOffset), h)
	if err := file.CopyExact(ctx, dst, r, size); err != nil {
		return index.Location{}, err
	}
	if pad > 0 {
		if err := writeFullAt(w, make([]byte, pad), dataOffset+size); err != nil {
			return index.Location{}, err
		}
	}

	var sum record.Hash
	copy(sum[:], h.Sum(nil))
	if err := writeFullAt(w, sum[:], record.FileHashField(slot.Offset)); err != nil {
		return index.Location{}, err
	}
	return index.Location{
		Offset:     slot.Offset,
		Length:     slot.Length,
		DataOffset: dataOffset,
		DataLength: size,
		Hash:       sum,
	}, nil
}

// stage buffers exactly size bytes of r so a bad source fails before the
// pack is touched. The returned cleanup removes any temp file.
func stage(ctx context.Context, r io.Reader, size int64) (io.Reader, func(), error) {
	noop := func() {}
	if br, ok := r.(*bytes.Reader); ok && br.Size() == size && br.Len() == int(size) {
		return br, noop, nil
	}

	var (
		dst     io.Writer
		tmp     *os.File
		buf     bytes.Buffer
		cleanup = noop
	)
	if size <= stageMemoryLimit {
		buf.Grow(int(size))
		dst = &buf
	} else {
		var err error
		tmp, err = os.CreateTemp("", ".ggpk-stage-*")
		if err != nil {
			return nil, noop, fmt.Errorf("stage content: %w", err)
		}
		cleanup = func() {
			_ = tmp.Close()           //nolint:errcheck // best-effort cleanup
			_ = os.Remove(tmp.Name()) //nolint:errcheck // best-effort cleanup
		}
		dst = tmp
	}

	if err := file.CopyExact(ctx, dst, r, size); err != nil {
		cleanup()
		return nil, noop, err
	}

	if tmp == nil {
		return &buf, noop, nil
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("stage content: %w", err)
	}
	return tmp, cleanup, nil
}

// release gives back a slot after a failed write. Appended bytes are cut
// off; a slot taken from the free list is freed again.
func (p *Pack) release(w writeHandle, slot alloc.Region, appended bool) {
	var err error
	if appended {
		err = w.Truncate(p.size)
	} else {
		err = p.free.Free(w, slot)
	}
	if err != nil {
		p.log().Warn("could not release slot after failed write",
			"offset", slot.Offset,
			"length", slot.Length,
			"error", err)
	}
}

func (p *Pack) sync(w writeHandle, path string) error {
	if err := w.Sync(); err != nil {
		return fmt.Errorf("replace %s: sync: %w", path, err)
	}
	return nil
}

func writeFullAt(w io.WriterAt, b []byte, off int64) error {
	n, err := w.WriteAt(b, off)
	if err != nil {
		return err
	}
	if n != len(b) {
		return io.ErrShortWrite
	}
	return nil
}
