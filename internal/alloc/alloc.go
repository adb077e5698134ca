// Package alloc manages the free list threaded through a pack file.
//
// The list is persisted on disk as a chain of FREE records whose next
// pointers link them together, rooted at the head field of the GGPK record.
// In memory the chain is an ordered slice of regions; every mutation writes
// the affected pointers to disk before the slice is updated.
package alloc

import (
	"cmp"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/sizing"
)

// Region is a byte range in the pack covered by one FREE record.
type Region struct {
	Offset int64
	Length int64
}

// End returns the offset just past the region.
func (r Region) End() int64 {
	return r.Offset + r.Length
}

// FreeList is the in-memory view of the on-disk free list.
//
// FreeList is not safe for concurrent use.
type FreeList struct {
	regions   []Region // list order, head first
	headField int64
	logger    *slog.Logger
}

// Option configures a FreeList.
type Option func(*FreeList)

// WithLogger sets the logger for allocator decisions.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(l *FreeList) {
		l.logger = logger
	}
}

// log returns the logger, falling back to a discard logger if nil.
func (l *FreeList) log() *slog.Logger {
	if l.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.logger
}

// Load rebuilds the list by following next pointers from head over the
// scanned FREE records. headField is the pack position that stores the head.
//
// FREE records that are not reachable from head are returned as orphans;
// they are never handed out.
func Load(head, headField int64, free []*record.Free, opts ...Option) (l *FreeList, orphans []Region, err error) {
	l = &FreeList{headField: headField}
	for _, opt := range opts {
		opt(l)
	}

	byOffset := make(map[int64]*record.Free, len(free))
	for _, f := range free {
		byOffset[f.Offset] = f
	}

	seen := make(map[int64]bool, len(free))
	prev := int64(-1)
	for off := head; off != record.EndOfList; {
		f, ok := byOffset[off]
		if !ok {
			return nil, nil, packtype.Formatf(off, record.TagFree.String(),
				"free list link from 0x%X does not address a FREE record", prev)
		}
		if seen[off] {
			return nil, nil, packtype.Formatf(off, record.TagFree.String(), "free list cycle")
		}
		seen[off] = true
		l.regions = append(l.regions, Region{Offset: off, Length: int64(f.Length)})
		prev = off
		off = f.Next
	}

	for _, f := range free {
		if !seen[f.Offset] {
			orphans = append(orphans, Region{Offset: f.Offset, Length: int64(f.Length)})
		}
	}
	slices.SortFunc(orphans, func(a, b Region) int { return cmp.Compare(a.Offset, b.Offset) })
	return l, orphans, nil
}

// Head returns the offset of the first free region, or record.EndOfList.
func (l *FreeList) Head() int64 {
	if len(l.regions) == 0 {
		return record.EndOfList
	}
	return l.regions[0].Offset
}

// Len returns the number of free regions.
func (l *FreeList) Len() int {
	return len(l.regions)
}

// TotalBytes returns the sum of all free region lengths.
func (l *FreeList) TotalBytes() int64 {
	var n int64
	for _, r := range l.regions {
		n += r.Length
	}
	return n
}

// Regions returns a copy of the regions in list order.
func (l *FreeList) Regions() []Region {
	return slices.Clone(l.regions)
}

// Allocate reserves n bytes using first fit.
//
// The first region with Length >= n is used. When the remainder is too small
// to hold a FREE record the whole region is consumed and returned, so the
// caller must fill it completely (FILE records absorb the slack as padding).
// Otherwise the region is split: a reduced FREE record is written at the
// tail and the head n bytes are returned.
//
// ok is false when no region fits; the caller should append at end of file.
func (l *FreeList) Allocate(w io.WriterAt, n int64) (slot Region, ok bool, err error) {
	if n < record.MinFreeSize {
		return Region{}, false, fmt.Errorf("alloc: request of %d bytes is below %d", n, record.MinFreeSize)
	}
	for i, r := range l.regions {
		if r.Length < n {
			continue
		}
		rest := r.Length - n
		if rest < record.MinFreeSize {
			if err := l.link(w, i-1, l.nextOf(i)); err != nil {
				return Region{}, false, err
			}
			l.regions = slices.Delete(l.regions, i, i+1)
			l.log().Debug("allocated whole free region", "offset", r.Offset, "length", r.Length, "requested", n)
			return r, true, nil
		}

		tail := Region{Offset: r.Offset + n, Length: rest}
		hdr, err := record.EncodeFreeHeader(tail.Length, l.nextOf(i))
		if err != nil {
			return Region{}, false, err
		}
		if err := writeFullAt(w, hdr, tail.Offset); err != nil {
			return Region{}, false, err
		}
		if err := l.link(w, i-1, tail.Offset); err != nil {
			return Region{}, false, err
		}
		l.regions[i] = tail
		l.log().Debug("split free region", "offset", r.Offset, "length", r.Length, "requested", n, "tail", tail.Offset)
		return Region{Offset: r.Offset, Length: n}, true, nil
	}
	l.log().Debug("no free region fits", "requested", n, "regions", len(l.regions))
	return Region{}, false, nil
}

// Free turns the record at r into a FREE record and pushes it on the list head.
func (l *FreeList) Free(w io.WriterAt, r Region) error {
	if r.Offset <= record.EndOfList {
		return fmt.Errorf("alloc: cannot free offset %d", r.Offset)
	}
	hdr, err := record.EncodeFreeHeader(r.Length, l.Head())
	if err != nil {
		return err
	}
	if err := writeFullAt(w, hdr, r.Offset); err != nil {
		return err
	}
	if err := writeFullAt(w, record.EncodeOffset(r.Offset), l.headField); err != nil {
		return err
	}
	l.regions = slices.Insert(l.regions, 0, r)
	l.log().Debug("freed region", "offset", r.Offset, "length", r.Length)
	return nil
}

// Validate checks that regions are pairwise disjoint, at least MinFreeSize
// long and inside a pack of the given size.
func (l *FreeList) Validate(size int64) error {
	sorted := slices.Clone(l.regions)
	slices.SortFunc(sorted, func(a, b Region) int { return cmp.Compare(a.Offset, b.Offset) })
	for i, r := range sorted {
		if r.Offset <= record.EndOfList || r.Length < record.MinFreeSize {
			return packtype.Formatf(r.Offset, record.TagFree.String(), "invalid free region length %d", r.Length)
		}
		if !sizing.WithinBounds(r.Offset, r.Length, size) {
			return packtype.Formatf(r.Offset, record.TagFree.String(), "free region exceeds pack bounds")
		}
		if i > 0 && sorted[i-1].End() > r.Offset {
			return packtype.Formatf(r.Offset, record.TagFree.String(), "free region overlaps region at 0x%X", sorted[i-1].Offset)
		}
	}
	return nil
}

// nextOf returns the successor offset of region i.
func (l *FreeList) nextOf(i int) int64 {
	if i+1 < len(l.regions) {
		return l.regions[i+1].Offset
	}
	return record.EndOfList
}

// link points the predecessor at index prev (or the head when prev < 0) at target.
func (l *FreeList) link(w io.WriterAt, prev int, target int64) error {
	field := l.headField
	if prev >= 0 {
		field = record.FreeNextField(l.regions[prev].Offset)
	}
	return writeFullAt(w, record.EncodeOffset(target), field)
}

func writeFullAt(w io.WriterAt, p []byte, off int64) error {
	n, err := w.WriteAt(p, off)
	if err != nil {
		return fmt.Errorf("alloc: write at 0x%X: %w", off, err)
	}
	if n != len(p) {
		return fmt.Errorf("alloc: write at 0x%X: %w", off, io.ErrShortWrite)
	}
	return nil
}
