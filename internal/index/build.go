package index

import (
	"cmp"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
)

// progressEvery is the number of records between scan progress events.
const progressEvery = 4096

// Scan is the result of reading every record in a pack.
type Scan struct {
	// Root is the GGPK record at offset 0.
	Root *record.Root

	// Tree is the resolved directory tree.
	Tree *Tree

	// Free holds every FREE record in offset order.
	Free []*record.Free

	// Opaque holds records with unknown tags, skipped by length.
	Opaque []record.Header

	// Unreachable holds FILE and PDIR records no directory references.
	Unreachable []record.Header

	// Records is the number of records scanned, GGPK record included.
	Records int

	// Size is the pack size the scan covered.
	Size int64
}

type buildConfig struct {
	logger   *slog.Logger
	progress packtype.ProgressFunc
}

// Option configures Build.
type Option func(*buildConfig)

// WithLogger sets the logger for scan diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *buildConfig) {
		c.logger = logger
	}
}

// WithProgress sets a callback for scan and resolve progress.
func WithProgress(fn packtype.ProgressFunc) Option {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

func (c *buildConfig) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

func (c *buildConfig) emit(ev packtype.ProgressEvent) {
	if c.progress != nil {
		c.progress(ev)
	}
}

// Build scans the size bytes of r from offset 0 and resolves the tree.
//
// Records must tile the pack exactly and the first must be the GGPK record.
// Directory entries may reference records at any offset, so references are
// resolved only after the whole pack has been read. Any structural problem
// is reported as a *packtype.FormatError and no partial tree is returned.
func Build(r io.ReaderAt, size int64, opts ...Option) (*Scan, error) {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	first, err := record.Decode(r, 0, size)
	if err != nil {
		return nil, err
	}
	root, ok := first.(*record.Root)
	if !ok {
		return nil, packtype.Formatf(0, first.Head().Tag.String(), "first record is not a GGPK record")
	}

	s := &Scan{Root: root, Size: size, Records: 1}
	live := make(map[int64]record.Record)
	total := uint64(size) //nolint:gosec // size is non-negative

	for off := root.End(); off < size; {
		rec, err := record.Decode(r, off, size)
		if err != nil {
			return nil, err
		}
		switch v := rec.(type) {
		case *record.File, *record.Directory:
			live[off] = v
		case *record.Free:
			s.Free = append(s.Free, v)
		case *record.Root:
			return nil, packtype.Formatf(off, v.Tag.String(), "unexpected second GGPK record")
		case *record.Opaque:
			s.Opaque = append(s.Opaque, v.Header)
			cfg.log().Debug("skipping unknown record", "offset", off, "tag", v.Tag.String(), "length", v.Length)
		}
		s.Records++
		off = rec.Head().End()
		if s.Records%progressEvery == 0 {
			cfg.emit(packtype.ProgressEvent{
				Stage:      packtype.StageScanning,
				BytesDone:  uint64(off), //nolint:gosec // offsets are non-negative
				BytesTotal: total,
			})
		}
	}
	cfg.emit(packtype.ProgressEvent{
		Stage:      packtype.StageScanning,
		Message:    "scan complete",
		BytesDone:  total,
		BytesTotal: total,
	})

	tree, used, err := resolve(root, live)
	if err != nil {
		return nil, err
	}
	s.Tree = tree

	for off, rec := range live {
		if !used[off] {
			s.Unreachable = append(s.Unreachable, rec.Head())
		}
	}
	slices.SortFunc(s.Unreachable, func(a, b record.Header) int { return cmp.Compare(a.Offset, b.Offset) })
	if len(s.Unreachable) > 0 {
		cfg.log().Warn("pack holds unreachable records", "count", len(s.Unreachable))
	}

	cfg.emit(packtype.ProgressEvent{
		Stage:      packtype.StageResolving,
		Message:    "tree resolved",
		FilesDone:  tree.Len(),
		FilesTotal: tree.Len(),
	})
	cfg.log().Debug("pack scanned",
		"records", s.Records,
		"nodes", tree.Len(),
		"free", len(s.Free),
		"opaque", len(s.Opaque))
	return s, nil
}

// resolve builds the tree from the root directory offset. Every FILE or
// PDIR record may be referenced at most once; a second reference means a
// cycle or a shared child and is rejected.
func resolve(root *record.Root, live map[int64]record.Record) (*Tree, map[int64]bool, error) {
	top, ok := live[root.RootOffset].(*record.Directory)
	if !ok {
		return nil, nil, packtype.Formatf(root.Offset, root.Tag.String(),
			"root offset 0x%X does not address a PDIR record", root.RootOffset)
	}

	t := &Tree{byOffset: make(map[int64]NodeID, len(live))}
	used := make(map[int64]bool, len(live))
	used[top.Offset] = true
	t.add(top, NoNode)

	// Directory ids whose entries are still unresolved.
	pending := []NodeID{0}
	for len(pending) > 0 {
		id := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		dirOff := t.nodes[id].Offset
		for i, e := range t.nodes[id].Entries {
			rec, ok := live[e.Offset]
			if !ok {
				return nil, nil, packtype.Formatf(dirOff, record.TagDir.String(),
					"entry %d references 0x%X, which is not a FILE or PDIR record", i, e.Offset)
			}
			if used[e.Offset] {
				return nil, nil, packtype.Formatf(dirOff, record.TagDir.String(),
					"entry %d references 0x%X, which is already in the tree", i, e.Offset)
			}
			used[e.Offset] = true

			child := t.add(rec, id)
			if record.NameHash(t.nodes[child].Name) != e.NameHash {
				return nil, nil, packtype.Formatf(dirOff, record.TagDir.String(),
					"entry %d name hash 0x%08X does not match %q", i, e.NameHash, t.nodes[child].Name)
			}
			t.nodes[id].Children = append(t.nodes[id].Children, child)
			if t.nodes[child].Kind == KindDir {
				pending = append(pending, child)
			}
		}
	}

	for i := range t.nodes {
		slices.SortFunc(t.nodes[i].Children, func(a, b NodeID) int {
			return strings.Compare(t.nodes[a].Name, t.nodes[b].Name)
		})
	}
	return t, used, nil
}

// add appends a node for rec and returns its id.
func (t *Tree) add(rec record.Record, parent NodeID) NodeID {
	id := NodeID(len(t.nodes)) //nolint:gosec // node count is bounded by the pack size
	var n Node
	switch v := rec.(type) {
	case *record.Directory:
		n = Node{
			Kind:          KindDir,
			Name:          v.Name,
			Offset:        v.Offset,
			Length:        int64(v.Length),
			Hash:          v.Hash,
			Entries:       slices.Clone(v.Entries),
			EntriesOffset: v.EntriesOffset,
		}
	case *record.File:
		n = Node{
			Kind:       KindFile,
			Name:       v.Name,
			Offset:     v.Offset,
			Length:     int64(v.Length),
			Hash:       v.Hash,
			DataOffset: v.DataOffset,
			DataLength: int64(v.DataLength),
		}
	}
	n.Parent = parent
	t.nodes = append(t.nodes, n)
	t.byOffset[n.Offset] = id
	return id
}
