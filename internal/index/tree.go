// Package index holds the in-memory directory tree of a pack.
//
// Nodes live in an arena addressed by NodeID and record their parent as an
// index. The tree is built by a single forward scan of the pack (see Build)
// and afterwards only changes through Relocate.
package index

import (
	"fmt"
	"iter"
	"strings"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
)

// NodeID addresses a node in a Tree.
type NodeID int32

// NoNode is the parent of the root directory.
const NoNode NodeID = -1

// Kind distinguishes directories from files.
type Kind uint8

const (
	KindDir Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	default:
		return "unknown"
	}
}

// Order selects the traversal order of Walk and Files.
type Order uint8

const (
	// Preorder yields a directory before its children.
	Preorder Order = iota
	// Postorder yields a directory after its children.
	Postorder
)

// Node is a file or directory in the tree.
type Node struct {
	Kind   Kind
	Name   string
	Parent NodeID

	// Offset and Length locate the node's record in the pack.
	Offset int64
	Length int64

	// Hash is the content hash stored in the record.
	Hash record.Hash

	// DataOffset and DataLength locate file content. Zero for directories.
	DataOffset int64
	DataLength int64

	// Children are sorted by name. Nil for files.
	Children []NodeID

	// Entries mirrors the directory's on-disk entry table; EntriesOffset is
	// where the table starts in the pack.
	Entries       []record.Entry
	EntriesOffset int64
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Kind == KindDir }

// Location is where a file record lives after a write.
type Location struct {
	Offset     int64
	Length     int64
	DataOffset int64
	DataLength int64
	Hash       record.Hash
}

// Tree is the directory tree of a pack.
//
// Tree is not safe for concurrent mutation.
type Tree struct {
	nodes    []Node
	byOffset map[int64]NodeID
}

// Root returns the root directory.
func (t *Tree) Root() NodeID {
	return 0
}

// Len returns the number of nodes, root included.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Node returns the node for id. The returned value must not be modified.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Valid reports whether id addresses a node.
func (t *Tree) Valid(id NodeID) bool {
	return id >= 0 && int(id) < len(t.nodes)
}

// Children returns the children of a directory in name order.
func (t *Tree) Children(id NodeID) []NodeID {
	return t.nodes[id].Children
}

// AtOffset returns the live node whose record starts at off.
func (t *Tree) AtOffset(off int64) (NodeID, bool) {
	id, ok := t.byOffset[off]
	return id, ok
}

// Child returns the child of dir named name, compared case-insensitively.
func (t *Tree) Child(dir NodeID, name string) (NodeID, bool) {
	for _, c := range t.nodes[dir].Children {
		if strings.EqualFold(t.nodes[c].Name, name) {
			return c, true
		}
	}
	return NoNode, false
}

// Resolve looks up a slash-separated path relative to the root.
// The empty path resolves to the root.
func (t *Tree) Resolve(path string) (NodeID, bool) {
	id := t.Root()
	if path == "" {
		return id, true
	}
	for part := range strings.SplitSeq(path, "/") {
		if t.nodes[id].Kind != KindDir {
			return NoNode, false
		}
		next, ok := t.Child(id, part)
		if !ok {
			return NoNode, false
		}
		id = next
	}
	return id, true
}

// Path returns the slash-separated path of id relative to the root.
func (t *Tree) Path(id NodeID) string {
	var parts []string
	for cur := id; cur != NoNode && t.nodes[cur].Parent != NoNode; cur = t.nodes[cur].Parent {
		parts = append(parts, t.nodes[cur].Name)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "/")
}

// Walk returns an iterator over id and all its descendants.
func (t *Tree) Walk(id NodeID, order Order) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		t.walk(id, order, yield)
	}
}

func (t *Tree) walk(id NodeID, order Order, yield func(NodeID) bool) bool {
	if order == Preorder && !yield(id) {
		return false
	}
	for _, c := range t.nodes[id].Children {
		if !t.walk(c, order, yield) {
			return false
		}
	}
	if order == Postorder && !yield(id) {
		return false
	}
	return true
}

// Files returns an iterator over the file leaves under id.
func (t *Tree) Files(id NodeID, order Order) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		for n := range t.Walk(id, order) {
			if t.nodes[n].Kind == KindFile && !yield(n) {
				return
			}
		}
	}
}

// PathIndex maps every node's path to its id, using the lower-cased path
// as the key so lookups are case-insensitive.
func (t *Tree) PathIndex() map[string]NodeID {
	m := make(map[string]NodeID, len(t.nodes))
	for id := range t.Walk(t.Root(), Postorder) {
		m[strings.ToLower(t.Path(id))] = id
	}
	return m
}

// EntryIndex finds the entry in id's parent that references id, matching by
// name hash and current offset.
func (t *Tree) EntryIndex(id NodeID) (int, error) {
	n := &t.nodes[id]
	if n.Parent == NoNode {
		return 0, &packtype.LookupError{Path: t.Path(id), Reason: "root has no parent entry"}
	}
	want := record.NameHash(n.Name)
	for i, e := range t.nodes[n.Parent].Entries {
		if e.NameHash == want && e.Offset == n.Offset {
			return i, nil
		}
	}
	return 0, &packtype.LookupError{
		Path:   t.Path(id),
		Reason: fmt.Sprintf("no entry in parent at 0x%X references offset 0x%X", t.nodes[n.Parent].Offset, n.Offset),
	}
}

// EntryField returns the pack position of the offset field in the parent
// entry that references id.
func (t *Tree) EntryField(id NodeID) (int64, error) {
	i, err := t.EntryIndex(id)
	if err != nil {
		return 0, err
	}
	return record.EntryOffsetAt(t.nodes[t.nodes[id].Parent].EntriesOffset, i), nil
}

// Relocate records that a file now lives at loc. When the offset changes
// the parent's entry and the offset map are updated too.
func (t *Tree) Relocate(id NodeID, loc Location) error {
	n := &t.nodes[id]
	if n.Kind != KindFile {
		return fmt.Errorf("index: relocate %q: %w", t.Path(id), packtype.ErrNotFile)
	}
	if loc.Offset != n.Offset {
		i, err := t.EntryIndex(id)
		if err != nil {
			return err
		}
		t.nodes[n.Parent].Entries[i].Offset = loc.Offset
		delete(t.byOffset, n.Offset)
		t.byOffset[loc.Offset] = id
	}
	n.Offset = loc.Offset
	n.Length = loc.Length
	n.DataOffset = loc.DataOffset
	n.DataLength = loc.DataLength
	n.Hash = loc.Hash
	return nil
}
