package ggpk

import (
	"context"
	"fmt"
	"slices"

	"github.com/meigma/ggpk/internal/alloc"
	"github.com/meigma/ggpk/internal/index"
	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
)

// CheckReport summarizes a successful Check.
type CheckReport struct {
	Records       int
	Files         int
	Dirs          int
	FreeRegions   int
	FreeBytes     int64
	OrphanRegions int
	Unreachable   int
	Opaque        int
	// Verified is the number of files whose content matched its hash.
	Verified int
}

// Check rescans the pack from disk and compares it with the in-memory state.
//
// It verifies that records tile the file, that the free list is well formed
// and matches the allocator, that every directory entry resolves to a live
// record with a matching name, and that the tree matches the one held in
// memory. Unless verification is disabled, every file's content is also
// checked against its hash; ctx is checked between files.
//
// Inconsistencies are reported as a *FormatError.
func (p *Pack) Check(ctx context.Context) (CheckReport, error) {
	h, err := p.openRO()
	if err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}
	defer h.Close()
	info, err := h.Stat()
	if err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}
	size := info.Size()
	if size != p.size {
		return CheckReport{}, packtype.Formatf(0, "", "pack is %d bytes on disk, %d in memory", size, p.size)
	}

	rep := p.reporter()
	defer rep.close()
	scan, err := index.Build(h, size, index.WithLogger(p.log()), index.WithProgress(rep.report))
	if err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}
	free, orphans, err := alloc.Load(scan.Root.FreeHead, record.RootFreeHeadField(scan.Root.Offset), scan.Free)
	if err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}
	if err := free.Validate(size); err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}
	if !slices.Equal(free.Regions(), p.free.Regions()) {
		return CheckReport{}, packtype.Formatf(free.Head(), record.TagFree.String(),
			"free list on disk has %d regions, allocator has %d", free.Len(), p.free.Len())
	}
	if err := p.compareTree(scan.Tree); err != nil {
		return CheckReport{}, fmt.Errorf("check: %w", err)
	}

	report := CheckReport{
		Records:       scan.Records,
		FreeRegions:   free.Len(),
		FreeBytes:     free.TotalBytes(),
		OrphanRegions: len(orphans),
		Unreachable:   len(scan.Unreachable),
		Opaque:        len(scan.Opaque),
	}
	var files []index.NodeID
	for id := range p.tree.Walk(p.tree.Root(), index.Preorder) {
		if p.tree.Node(id).IsDir() {
			report.Dirs++
		} else {
			report.Files++
			files = append(files, id)
		}
	}

	if p.verify {
		for i, id := range files {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			if _, err := p.readNode(h, id); err != nil {
				return report, fmt.Errorf("check: %w", err)
			}
			report.Verified++
			rep.report(ProgressEvent{
				Stage:      StageChecking,
				Path:       p.tree.Path(id),
				FilesDone:  i + 1,
				FilesTotal: len(files),
			})
		}
	}

	p.log().Info("pack check passed",
		"records", report.Records,
		"files", report.Files,
		"dirs", report.Dirs,
		"free_regions", report.FreeRegions,
		"verified", report.Verified)
	return report, nil
}

// compareTree checks that a freshly scanned tree matches p.tree.
func (p *Pack) compareTree(scanned *index.Tree) error {
	if scanned.Len() != p.tree.Len() {
		return packtype.Formatf(0, "", "tree on disk has %d nodes, %d in memory", scanned.Len(), p.tree.Len())
	}
	for id := range p.tree.Walk(p.tree.Root(), index.Preorder) {
		want := p.tree.Node(id)
		path := p.tree.Path(id)
		sid, ok := scanned.Resolve(path)
		if !ok {
			return packtype.Formatf(want.Offset, "", "%q is missing on disk", path)
		}
		got := scanned.Node(sid)
		if got.Kind != want.Kind || got.Offset != want.Offset || got.Length != want.Length {
			return packtype.Formatf(got.Offset, "",
				"%q is a %s of %d bytes at 0x%X on disk, a %s of %d bytes at 0x%X in memory",
				path, got.Kind, got.Length, got.Offset, want.Kind, want.Length, want.Offset)
		}
		if !want.IsDir() && (got.DataLength != want.DataLength || got.Hash != want.Hash) {
			return packtype.Formatf(got.Offset, record.TagFile.String(), "%q content differs from memory", path)
		}
	}
	return nil
}
