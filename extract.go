package ggpk

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/meigma/ggpk/internal/batch"
	"github.com/meigma/ggpk/internal/file"
	"github.com/meigma/ggpk/internal/index"
)

// ExtractStats summarizes an ExtractDir call.
type ExtractStats struct {
	// Extracted is the number of files written.
	Extracted int
	// Skipped is the number of files left alone because they already existed.
	Skipped int
	// Bytes is the total content size written.
	Bytes int64
}

// ExtractFile writes the content of f to destPath, creating parent
// directories as needed.
//
// The content is staged in a temporary file next to destPath and renamed
// into place once it has been read and verified, so destPath never holds
// partial content.
func (p *Pack) ExtractFile(f File, destPath string) error {
	id, err := p.fileID(f, "extract")
	if err != nil {
		return err
	}
	src := p.tree.Path(id)
	h, err := p.openRO()
	if err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}
	defer h.Close()

	r, err := file.Open(h, p.size, p.entry(id), file.WithVerify(p.verify))
	if err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}
	w, err := batch.CreateAtomic(destPath)
	if err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Discard() //nolint:errcheck // best-effort cleanup
		return fmt.Errorf("extract %s: %w", src, err)
	}
	if err := w.Commit(); err != nil {
		return fmt.Errorf("extract %s: %w", src, err)
	}
	p.log().Debug("extracted file", "path", src, "dest", destPath, "size", f.Size())
	return nil
}

// ExtractDir writes every file under d below destDir, keeping the directory
// structure. Paths include d's own name, so extracting "Art" creates
// destDir/Art; extracting the root writes the whole tree.
//
// Nearby files are read together and written by parallel workers. ctx is
// checked between groups of files.
func (p *Pack) ExtractDir(ctx context.Context, d Dir, destDir string, opts ...ExtractOption) (ExtractStats, error) {
	cfg := &extractConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	var prefix string
	if parent, ok := d.Parent(); ok && parent.Path() != "" {
		prefix = parent.Path() + "/"
	}
	var entries []*batch.Entry
	for id := range p.tree.Files(d.id, index.Preorder) {
		e := p.entry(id)
		entries = append(entries, &batch.Entry{
			Path:       strings.TrimPrefix(e.Path, prefix),
			DataOffset: e.DataOffset,
			DataLength: e.DataLength,
			Hash:       e.Hash,
		})
	}

	h, err := p.openRO()
	if err != nil {
		return ExtractStats{}, fmt.Errorf("extract %s: %w", d.Path(), err)
	}
	defer h.Close()

	rep := p.reporter()
	defer rep.close()
	proc := batch.NewProcessor(h, p.size,
		batch.WithWorkers(cfg.workers),
		batch.WithVerify(p.verify),
		batch.WithProgress(rep.report),
		batch.WithProcessorLogger(p.log()))
	sink := batch.NewFileSink(destDir, batch.WithOverwrite(cfg.overwrite))

	ps, err := proc.Process(ctx, entries, sink)
	stats := ExtractStats{Extracted: ps.Processed, Skipped: ps.Skipped, Bytes: ps.TotalBytes}
	if err != nil {
		return stats, fmt.Errorf("extract %s: %w", d.Path(), err)
	}
	p.log().Info("extracted directory",
		"path", d.Path(),
		"dest", destDir,
		"files", stats.Extracted,
		"skipped", stats.Skipped,
		"bytes", stats.Bytes)
	return stats, nil
}
