package ggpk

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"

	"github.com/meigma/ggpk/internal/index"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/sizing"
)

const (
	// versionFile is the patch archive member holding the version marker.
	versionFile = "version.txt"

	// markerFile is the pack file whose hash identifies the pack version.
	markerFile = "patch_notes.rtf"
)

// ImportStats summarizes an ImportDir or ImportZip call.
type ImportStats struct {
	// Replaced is the number of pack files whose content was replaced.
	Replaced int
	// Bytes is the total content size written.
	Bytes int64
	// Skipped lists source paths with no matching file in the pack.
	Skipped []string
}

// importItem is one source file matched to a pack file.
type importItem struct {
	id   index.NodeID
	name string
	size int64
	open func() (io.ReadCloser, error)
}

// ImportDir replaces pack files with the regular files found under dir.
//
// Each file's path, starting with dir's own name, is matched
// case-insensitively against the pack; see ImportWithBaseName. Files with no
// match are skipped and listed in the returned stats. ctx is checked
// between files; work already done stays done.
func (p *Pack) ImportDir(ctx context.Context, dir string, opts ...ImportOption) (ImportStats, error) {
	cfg := &importConfig{baseName: true}
	for _, opt := range opts {
		opt(cfg)
	}
	var prefix string
	if cfg.baseName {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return ImportStats{}, fmt.Errorf("import %s: %w", dir, err)
		}
		prefix = filepath.Base(abs) + "/"
	}
	paths := p.tree.PathIndex()

	var stats ImportStats
	var items []importItem
	err := filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = prefix + filepath.ToSlash(rel)
		id, ok := p.matchFile(paths, rel)
		if !ok {
			stats.Skipped = append(stats.Skipped, rel)
			p.log().Warn("no matching file in pack", "path", rel)
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}
		items = append(items, importItem{
			id:   id,
			name: rel,
			size: info.Size(),
			open: func() (io.ReadCloser, error) { return os.Open(path) },
		})
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("import %s: %w", dir, err)
	}
	return p.importItems(ctx, dir, items, stats)
}

// ImportZip replaces pack files with the members of a patch archive.
//
// Members are stored or compressed with deflate or zstd. If the archive
// holds version.txt and the pack holds patch_notes.rtf, the version text
// must start with that file's version marker or the import fails with
// ErrVersionMismatch before anything is written. version.txt itself is
// never imported; directory members are ignored.
func (p *Pack) ImportZip(ctx context.Context, zipPath string) (ImportStats, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return ImportStats{}, fmt.Errorf("import %s: %w", zipPath, err)
	}
	defer zr.Close()
	zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())

	paths := p.tree.PathIndex()
	var stats ImportStats
	var items []importItem
	for _, zf := range zr.File {
		name := NormalizePath(zf.Name)
		if zf.FileInfo().IsDir() || name == "." {
			continue
		}
		if strings.EqualFold(name, versionFile) {
			if err := p.checkVersion(zf); err != nil {
				return stats, fmt.Errorf("import %s: %w", zipPath, err)
			}
			continue
		}
		id, ok := p.matchFile(paths, name)
		if !ok {
			stats.Skipped = append(stats.Skipped, name)
			p.log().Warn("no matching file in pack", "path", name)
			continue
		}
		size, err := sizing.ToInt64(zf.UncompressedSize64, ErrSizeOverflow)
		if err != nil {
			return stats, fmt.Errorf("import %s: %s: %w", zipPath, name, err)
		}
		items = append(items, importItem{id: id, name: name, size: size, open: zf.Open})
	}
	return p.importItems(ctx, zipPath, items, stats)
}

// matchFile looks up a slash-separated source path among the pack's files.
func (p *Pack) matchFile(paths map[string]index.NodeID, name string) (index.NodeID, bool) {
	id, ok := paths[strings.ToLower(name)]
	if !ok || p.tree.Node(id).IsDir() {
		return index.NoNode, false
	}
	return id, true
}

// checkVersion compares an archive's version text with the pack's marker.
// Packs without a marker file accept any archive.
func (p *Pack) checkVersion(zf *zip.File) error {
	id, ok := p.tree.Resolve(markerFile)
	if !ok || p.tree.Node(id).IsDir() {
		p.log().Warn("pack has no version marker file, skipping version check", "file", markerFile)
		return nil
	}
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%s: %w", versionFile, err)
	}
	defer rc.Close()
	text, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("%s: %w", versionFile, err)
	}
	want := versionMarker(p.tree.Node(id).Hash)
	if !strings.HasPrefix(string(text), want) {
		return fmt.Errorf("%w: archive targets %.16q, pack is %s", ErrVersionMismatch, string(text), want)
	}
	return nil
}

// versionMarker formats a hash as upper-case hex bytes joined by "-".
func versionMarker(h record.Hash) string {
	const digits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(h)*3 - 1)
	for i, c := range h {
		if i > 0 {
			b.WriteByte('-')
		}
		b.WriteByte(digits[c>>4])
		b.WriteByte(digits[c&0x0F])
	}
	return b.String()
}

// importItems replaces each item over one write handle.
func (p *Pack) importItems(ctx context.Context, source string, items []importItem, stats ImportStats) (ImportStats, error) {
	if len(items) == 0 {
		p.log().Info("nothing to import", "source", source, "skipped", len(stats.Skipped))
		return stats, nil
	}
	w, err := p.openWritable("import", source)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := w.Close(); cerr != nil {
			p.log().Warn("closing pack after import", "error", cerr)
		}
	}()

	rep := p.reporter()
	defer rep.close()
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := p.importOne(ctx, w, it); err != nil {
			return stats, fmt.Errorf("import %s: %w", source, err)
		}
		stats.Replaced++
		stats.Bytes += it.size
		rep.report(ProgressEvent{
			Stage:      StageImporting,
			Path:       it.name,
			BytesDone:  uint64(stats.Bytes), //nolint:gosec // sizes are non-negative
			FilesDone:  i + 1,
			FilesTotal: len(items),
		})
	}
	p.log().Info("import complete",
		"source", source,
		"replaced", stats.Replaced,
		"skipped", len(stats.Skipped),
		"bytes", stats.Bytes)
	return stats, nil
}

func (p *Pack) importOne(ctx context.Context, w writeHandle, it importItem) error {
	rc, err := it.open()
	if err != nil {
		return err
	}
	defer rc.Close()
	return p.replace(ctx, w, it.id, rc, it.size)
}
