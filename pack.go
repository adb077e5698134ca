package ggpk

import (
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"

	"github.com/meigma/ggpk/internal/alloc"
	"github.com/meigma/ggpk/internal/index"
	"github.com/meigma/ggpk/internal/platform"
	"github.com/meigma/ggpk/internal/record"
)

// Pack is an open GGPK pack file.
//
// Pack holds the directory tree and free list in memory and opens the file
// anew for every operation. Reads may run concurrently; mutating methods
// (Replace, ReplaceFrom, ImportDir, ImportZip) must not run concurrently
// with each other or with reads.
type Pack struct {
	path     string
	version  uint32
	size     int64
	tree     *index.Tree
	free     *alloc.FreeList
	orphans  []alloc.Region
	opaque   int
	readOnly bool

	verify   bool
	logger   *slog.Logger
	progress ProgressFunc

	openRO func() (readHandle, error)
	openRW func() (writeHandle, error)
}

// readHandle is a shared-read handle on the pack file.
type readHandle interface {
	io.ReaderAt
	io.Closer
	Stat() (os.FileInfo, error)
}

// writeHandle is an exclusive handle used by mutating operations.
type writeHandle interface {
	io.ReaderAt
	io.WriterAt
	io.Closer
	Sync() error
	Truncate(size int64) error
}

// lockedFile releases the advisory lock on Close.
type lockedFile struct {
	*os.File
}

func (f lockedFile) Close() error {
	return platform.Unlock(f.File)
}

// FreeRegion is a reusable byte range in the pack.
type FreeRegion struct {
	Offset int64
	Length int64
}

// Open scans the pack at path and builds its directory tree.
//
// A pack that cannot be opened for writing, or that another process holds
// locked, still opens: ReadOnly reports true and mutating methods return
// ErrReadOnly. Malformed packs fail with a *FormatError.
func Open(path string, opts ...Option) (*Pack, error) {
	p := &Pack{path: path, verify: true}
	for _, opt := range opts {
		opt(p)
	}
	p.openRO = func() (readHandle, error) {
		return os.Open(path)
	}
	p.openRW = func() (writeHandle, error) {
		f, err := platform.OpenWritable(path)
		if err != nil {
			return nil, err
		}
		return lockedFile{f}, nil
	}

	h, err := p.openRO()
	if err != nil {
		return nil, fmt.Errorf("open pack: %w", err)
	}
	defer h.Close()
	info, err := h.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat pack: %w", err)
	}
	if err := p.load(h, info.Size()); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	writable, err := platform.Writable(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !writable {
		p.readOnly = true
		p.log().Warn("pack is not writable, opening read-only", "path", path)
	}

	p.log().Info("pack opened",
		"path", path,
		"version", p.version,
		"size", p.size,
		"nodes", p.tree.Len(),
		"free_regions", p.free.Len(),
		"free_bytes", p.free.TotalBytes(),
		"read_only", p.readOnly)
	return p, nil
}

// load scans size bytes of r and replaces the in-memory state.
func (p *Pack) load(r io.ReaderAt, size int64) error {
	rep := p.reporter()
	defer rep.close()

	scan, err := index.Build(r, size,
		index.WithLogger(p.log()),
		index.WithProgress(rep.report))
	if err != nil {
		return err
	}
	free, orphans, err := alloc.Load(scan.Root.FreeHead, record.RootFreeHeadField(scan.Root.Offset), scan.Free,
		alloc.WithLogger(p.log()))
	if err != nil {
		return err
	}
	if len(orphans) > 0 {
		p.log().Warn("free records are not linked into the free list", "count", len(orphans))
	}

	p.version = scan.Root.Version
	p.size = size
	p.tree = scan.Tree
	p.free = free
	p.orphans = orphans
	p.opaque = len(scan.Opaque)
	return nil
}

// log returns the logger, falling back to a discard logger if nil.
func (p *Pack) log() *slog.Logger {
	if p.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.logger
}

// reporter starts a progress reporter for one operation.
func (p *Pack) reporter() *progressReporter {
	return newProgressReporter(p.progress)
}

// Path returns the pack's file path.
func (p *Pack) Path() string {
	return p.path
}

// Version returns the format version stored in the GGPK record.
func (p *Pack) Version() uint32 {
	return p.version
}

// Size returns the pack size in bytes.
func (p *Pack) Size() int64 {
	return p.size
}

// ReadOnly reports whether the pack was opened browse-only.
func (p *Pack) ReadOnly() bool {
	return p.readOnly
}

// Len returns the number of files and directories, root included.
func (p *Pack) Len() int {
	return p.tree.Len()
}

// Root returns the root directory.
func (p *Pack) Root() Dir {
	return Dir{Node{p: p, id: p.tree.Root()}}
}

// List returns the children of d sorted by name.
func (p *Pack) List(d Dir) []Node {
	children := p.tree.Children(d.id)
	nodes := make([]Node, len(children))
	for i, c := range children {
		nodes[i] = Node{p: p, id: c}
	}
	return nodes
}

// Lookup resolves a slash- or backslash-separated path. Names are matched
// case-insensitively.
func (p *Pack) Lookup(name string) (Node, error) {
	tp, err := validPath("lookup", NormalizePath(name))
	if err != nil {
		return Node{}, err
	}
	id, ok := p.tree.Resolve(tp)
	if !ok {
		return Node{}, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrNotExist}
	}
	return Node{p: p, id: id}, nil
}

// LookupFile resolves name and requires it to be a file.
func (p *Pack) LookupFile(name string) (File, error) {
	n, err := p.Lookup(name)
	if err != nil {
		return File{}, err
	}
	f, ok := n.File()
	if !ok {
		return File{}, &fs.PathError{Op: "lookup", Path: name, Err: ErrNotFile}
	}
	return f, nil
}

// LookupDir resolves name and requires it to be a directory.
func (p *Pack) LookupDir(name string) (Dir, error) {
	n, err := p.Lookup(name)
	if err != nil {
		return Dir{}, err
	}
	d, ok := n.Dir()
	if !ok {
		return Dir{}, &fs.PathError{Op: "lookup", Path: name, Err: ErrNotDir}
	}
	return d, nil
}

// Files returns the files under d in preorder.
func (p *Pack) Files(d Dir) iter.Seq[File] {
	return func(yield func(File) bool) {
		for id := range p.tree.Files(d.id, index.Preorder) {
			if !yield(File{Node{p: p, id: id}}) {
				return
			}
		}
	}
}

// FreeRegions returns the free list in list order, head first.
func (p *Pack) FreeRegions() []FreeRegion {
	return toFreeRegions(p.free.Regions())
}

// FreeBytes returns the total size of all free regions.
func (p *Pack) FreeBytes() int64 {
	return p.free.TotalBytes()
}

// OrphanRegions returns FREE records that are not linked into the free
// list. They are never reused.
func (p *Pack) OrphanRegions() []FreeRegion {
	return toFreeRegions(p.orphans)
}

func toFreeRegions(rs []alloc.Region) []FreeRegion {
	out := make([]FreeRegion, len(rs))
	for i, r := range rs {
		out[i] = FreeRegion{Offset: r.Offset, Length: r.Length}
	}
	return out
}
