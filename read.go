package ggpk

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"

	"github.com/meigma/ggpk/internal/file"
	"github.com/meigma/ggpk/internal/index"
	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/sizing"
)

// Interface compliance.
var (
	_ fs.FS         = (*Pack)(nil)
	_ fs.StatFS     = (*Pack)(nil)
	_ fs.ReadFileFS = (*Pack)(nil)
	_ fs.ReadDirFS  = (*Pack)(nil)
)

// Read returns the content of f.
//
// Exactly Size bytes are read from a fresh handle; a pack that ends early
// yields ErrShortRead. Content is checked against the stored hash unless
// verification is disabled with WithVerify(false).
func (p *Pack) Read(f File) ([]byte, error) {
	id, err := p.fileID(f, "read")
	if err != nil {
		return nil, err
	}
	h, err := p.openRO()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.tree.Path(id), err)
	}
	defer h.Close()
	return p.readNode(h, id)
}

// readNode reads and verifies a file's content from r.
func (p *Pack) readNode(r io.ReaderAt, id index.NodeID) ([]byte, error) {
	n := p.tree.Node(id)
	size, err := sizing.ToInt(n.DataLength, packtype.ErrSizeOverflow)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", p.tree.Path(id), err)
	}
	data := make([]byte, size)
	if err := record.ReadFullAt(r, data, n.DataOffset); err != nil {
		return nil, fmt.Errorf("read %s: %w", p.tree.Path(id), err)
	}
	if p.verify && record.Hash(sha256.Sum256(data)) != n.Hash {
		return nil, fmt.Errorf("read %s: %w", p.tree.Path(id), ErrHashMismatch)
	}
	return data, nil
}

// fileID checks that f is a file handle of p.
func (p *Pack) fileID(f File, op string) (index.NodeID, error) {
	if f.p != p || !p.tree.Valid(f.id) {
		return index.NoNode, &fs.PathError{Op: op, Path: "", Err: fs.ErrInvalid}
	}
	if p.tree.Node(f.id).IsDir() {
		return index.NoNode, &fs.PathError{Op: op, Path: p.tree.Path(f.id), Err: ErrNotFile}
	}
	return f.id, nil
}

// entry describes a file's content for the file and batch packages.
func (p *Pack) entry(id index.NodeID) file.Entry {
	n := p.tree.Node(id)
	return file.Entry{
		Path:       p.tree.Path(id),
		DataOffset: n.DataOffset,
		DataLength: n.DataLength,
		Hash:       n.Hash,
	}
}

// validPath rejects names that are not fs.ValidPath and returns the
// index form of name.
func validPath(op, name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return treePath(name), nil
}

// Open implements fs.FS.
//
// Files are streamed from their own handle and verified against the stored
// hash when read to the end. Names are matched case-insensitively.
func (p *Pack) Open(name string) (fs.File, error) {
	tp, err := validPath("open", name)
	if err != nil {
		return nil, err
	}
	id, ok := p.tree.Resolve(tp)
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	if p.tree.Node(id).IsDir() {
		return &openDir{p: p, id: id, name: name}, nil
	}

	h, err := p.openRO()
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	f, err := file.Open(h, p.size, p.entry(id), file.WithVerify(p.verify), file.WithCloser(h))
	if err != nil {
		h.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

// Stat implements fs.StatFS.
func (p *Pack) Stat(name string) (fs.FileInfo, error) {
	tp, err := validPath("stat", name)
	if err != nil {
		return nil, err
	}
	id, ok := p.tree.Resolve(tp)
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return p.info(id, name), nil
}

// info returns file info for id; name is used for the root directory.
func (p *Pack) info(id index.NodeID, name string) fs.FileInfo {
	n := p.tree.Node(id)
	if n.IsDir() {
		if n.Parent == index.NoNode {
			return file.NewDirInfo(name)
		}
		return file.NewDirInfo(n.Name)
	}
	return file.NewInfo(n.Name, n.DataLength)
}

// ReadFile implements fs.ReadFileFS.
//
// ReadFile reads and returns the entire contents of the named file,
// verified like Read.
func (p *Pack) ReadFile(name string) ([]byte, error) {
	tp, err := validPath("readfile", name)
	if err != nil {
		return nil, err
	}
	id, ok := p.tree.Resolve(tp)
	if !ok {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: fs.ErrNotExist}
	}
	return p.Read(File{Node{p: p, id: id}})
}

// ReadDir implements fs.ReadDirFS.
//
// ReadDir returns the entries of the named directory sorted by name.
func (p *Pack) ReadDir(name string) ([]fs.DirEntry, error) {
	tp, err := validPath("readdir", name)
	if err != nil {
		return nil, err
	}
	id, ok := p.tree.Resolve(tp)
	if !ok {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	if !p.tree.Node(id).IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDir}
	}
	return p.dirEntries(id), nil
}

func (p *Pack) dirEntries(id index.NodeID) []fs.DirEntry {
	children := p.tree.Children(id)
	entries := make([]fs.DirEntry, len(children))
	for i, c := range children {
		entries[i] = file.NewDirEntry(p.info(c, ""))
	}
	return entries
}

// openDir implements fs.File and fs.ReadDirFile for pack directories.
type openDir struct {
	p      *Pack
	id     index.NodeID
	name   string
	offset int
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: fs.ErrInvalid}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return d.p.info(d.id, d.name), nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	all := d.p.dirEntries(d.id)
	rest := all[min(d.offset, len(all)):]
	if n <= 0 {
		d.offset = len(all)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	rest = rest[:min(n, len(rest))]
	d.offset += len(rest)
	return rest, nil
}
