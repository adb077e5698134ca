package ggpk

import (
	"crypto/sha256"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/ggpk/internal/index"
)

// Node is a handle to a file or directory in a Pack.
//
// Handles stay valid across Replace: they always report the node's current
// location and hash. The zero Node is not valid.
type Node struct {
	p  *Pack
	id index.NodeID
}

// File is a handle to a file.
type File struct {
	Node
}

// Dir is a handle to a directory.
type Dir struct {
	Node
}

func (n Node) node() *index.Node {
	return n.p.tree.Node(n.id)
}

// Valid reports whether n refers to a node.
func (n Node) Valid() bool {
	return n.p != nil && n.p.tree.Valid(n.id)
}

// Name returns the node's name. The root directory's name is empty.
func (n Node) Name() string {
	return n.node().Name
}

// Path returns the slash-separated path from the root.
func (n Node) Path() string {
	return n.p.tree.Path(n.id)
}

// IsDir reports whether n is a directory.
func (n Node) IsDir() bool {
	return n.node().IsDir()
}

// Offset returns where the node's record starts in the pack.
func (n Node) Offset() int64 {
	return n.node().Offset
}

// Length returns the record length in bytes, header and padding included.
func (n Node) Length() int64 {
	return n.node().Length
}

// Parent returns the directory containing n. The root has no parent.
func (n Node) Parent() (Dir, bool) {
	parent := n.node().Parent
	if parent == index.NoNode {
		return Dir{}, false
	}
	return Dir{Node{p: n.p, id: parent}}, true
}

// File returns n as a File if it is one.
func (n Node) File() (File, bool) {
	if n.IsDir() {
		return File{}, false
	}
	return File{n}, true
}

// Dir returns n as a Dir if it is one.
func (n Node) Dir() (Dir, bool) {
	if !n.IsDir() {
		return Dir{}, false
	}
	return Dir{n}, true
}

// Size returns the content length in bytes.
func (f File) Size() int64 {
	return f.node().DataLength
}

// DataOffset returns where the content starts in the pack.
func (f File) DataOffset() int64 {
	return f.node().DataOffset
}

// Hash returns the SHA-256 content hash stored in the record.
func (f File) Hash() [sha256.Size]byte {
	return f.node().Hash
}

// Digest returns the content hash as an OCI-style digest.
func (f File) Digest() digest.Digest {
	h := f.Hash()
	return digest.NewDigestFromBytes(digest.SHA256, h[:])
}

// Children returns the directory's children sorted by name.
func (d Dir) Children() []Node {
	return d.p.List(d)
}
