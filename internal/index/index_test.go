package index

import (
	"bytes"
	"cmp"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/testutil"
)

func buildScan(t *testing.T, spec testutil.PackSpec) (*Scan, testutil.Layout) {
	t.Helper()
	img, layout := testutil.BuildPack(t, spec)
	s, err := Build(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	return s, layout
}

func paths(tr *Tree, seq func(func(NodeID) bool)) []string {
	var out []string
	for id := range seq {
		out = append(out, tr.Path(id))
	}
	return out
}

func TestBuildTree(t *testing.T) {
	t.Parallel()
	s, layout := buildScan(t, testutil.PackSpec{
		Files: map[string][]byte{
			"Art/a.dds":      []byte("aaaa"),
			"Art/Sub/b.dds":  []byte("bb"),
			"Data/items.dat": []byte("items"),
			"readme.txt":     []byte("hi"),
		},
		Dirs:   []string{"Empty"},
		Free:   []int64{64},
		Opaque: 2,
	})
	tr := s.Tree

	assert.Equal(t, 9, tr.Len())
	assert.Len(t, s.Free, 1)
	assert.Len(t, s.Opaque, 2)
	assert.Empty(t, s.Unreachable)
	assert.Equal(t, layout.RootDir, tr.Node(tr.Root()).Offset)

	var names []string
	for _, c := range tr.Children(tr.Root()) {
		names = append(names, tr.Node(c).Name)
	}
	assert.Equal(t, []string{"Art", "Data", "Empty", "readme.txt"}, names)

	id, ok := tr.Resolve("Art/Sub/b.dds")
	require.True(t, ok)
	n := tr.Node(id)
	assert.Equal(t, KindFile, n.Kind)
	assert.Equal(t, layout.Files["Art/Sub/b.dds"], n.Offset)
	assert.Equal(t, int64(2), n.DataLength)
	assert.Equal(t, "Art/Sub/b.dds", tr.Path(id))

	parent := tr.Node(n.Parent)
	assert.Equal(t, "Sub", parent.Name)
	assert.Equal(t, "Art/Sub", tr.Path(n.Parent))

	got, ok := tr.AtOffset(layout.Files["readme.txt"])
	require.True(t, ok)
	assert.Equal(t, "readme.txt", tr.Node(got).Name)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	t.Parallel()
	s, _ := buildScan(t, testutil.PackSpec{Files: map[string][]byte{"Art/a.dds": nil}})

	id, ok := s.Tree.Resolve("art/A.DDS")
	require.True(t, ok)
	assert.Equal(t, "Art/a.dds", s.Tree.Path(id))

	_, ok = s.Tree.Resolve("Art/a.dds/x")
	assert.False(t, ok)
	_, ok = s.Tree.Resolve("missing")
	assert.False(t, ok)

	root, ok := s.Tree.Resolve("")
	require.True(t, ok)
	assert.Equal(t, s.Tree.Root(), root)
}

func TestTraversalOrders(t *testing.T) {
	t.Parallel()
	s, _ := buildScan(t, testutil.PackSpec{Files: map[string][]byte{
		"a/x": nil,
		"a/y": nil,
		"b":   nil,
	}})
	tr := s.Tree

	assert.Equal(t, []string{"", "a", "a/x", "a/y", "b"}, paths(tr, tr.Walk(tr.Root(), Preorder)))
	assert.Equal(t, []string{"a/x", "a/y", "a", "b", ""}, paths(tr, tr.Walk(tr.Root(), Postorder)))
	assert.Equal(t, []string{"a/x", "a/y", "b"}, paths(tr, tr.Files(tr.Root(), Preorder)))

	// Iterators are restartable and stop early.
	first := paths(tr, tr.Files(tr.Root(), Postorder))
	again := paths(tr, tr.Files(tr.Root(), Postorder))
	assert.Equal(t, first, again)

	var stopped []NodeID
	for id := range tr.Files(tr.Root(), Preorder) {
		stopped = append(stopped, id)
		break
	}
	assert.Len(t, stopped, 1)
}

func TestPathIndex(t *testing.T) {
	t.Parallel()
	s, _ := buildScan(t, testutil.PackSpec{Files: map[string][]byte{"Art/A.dds": nil, "b": nil}})
	idx := s.Tree.PathIndex()

	assert.Len(t, idx, 4)
	id, ok := idx["art/a.dds"]
	require.True(t, ok)
	assert.Equal(t, "A.dds", s.Tree.Node(id).Name)
	assert.Equal(t, s.Tree.Root(), idx[""])
}

// TestBuildResolvesForwardReferences places the root directory before its
// children, so every entry points forward.
func TestBuildResolvesForwardReferences(t *testing.T) {
	t.Parallel()

	content := []byte("forward")
	fileHdr, err := record.EncodeFileHeader("f.txt", int64(len(content)), record.Hash{}, 0)
	require.NoError(t, err)
	fileRec := append(fileHdr, content...)

	dirLen := int64(record.DirFixedSize + 2 + record.EntrySize) // name "" is one unit
	fileOff := int64(record.RootSize) + dirLen
	dir, err := record.EncodeDirectory("", record.Hash{}, []record.Entry{
		{NameHash: record.NameHash("f.txt"), Offset: fileOff},
	})
	require.NoError(t, err)
	require.Equal(t, dirLen, int64(len(dir)))

	img := record.EncodeRoot(3, record.RootSize, record.EndOfList)
	img = append(img, dir...)
	img = append(img, fileRec...)

	s, err := Build(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	id, ok := s.Tree.Resolve("f.txt")
	require.True(t, ok)
	assert.Equal(t, fileOff, s.Tree.Node(id).Offset)
}

func TestBuildRejectsBrokenPacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(t *testing.T, img []byte, layout testutil.Layout) []byte
	}{
		{
			name: "first record not GGPK",
			mutate: func(_ *testing.T, img []byte, _ testutil.Layout) []byte {
				copy(img[4:8], []byte("FREE"))
				return img
			},
		},
		{
			name: "truncated pack",
			mutate: func(_ *testing.T, img []byte, _ testutil.Layout) []byte {
				return img[:len(img)-3]
			},
		},
		{
			name: "dangling child",
			mutate: func(t *testing.T, img []byte, layout testutil.Layout) []byte {
				t.Helper()
				patchEntry(t, img, layout.RootDir, 0, 5)
				return img
			},
		},
		{
			name: "child addresses a free record",
			mutate: func(t *testing.T, img []byte, layout testutil.Layout) []byte {
				t.Helper()
				patchEntry(t, img, layout.RootDir, 0, layout.Free[0])
				return img
			},
		},
		{
			name: "cycle back to root",
			mutate: func(t *testing.T, img []byte, layout testutil.Layout) []byte {
				t.Helper()
				patchEntry(t, img, layout.Dirs["d"], 0, layout.RootDir)
				return img
			},
		},
		{
			name: "name hash mismatch",
			mutate: func(t *testing.T, img []byte, layout testutil.Layout) []byte {
				t.Helper()
				d := decodeDir(t, img, layout.RootDir)
				img[d.EntriesOffset] ^= 0xFF
				return img
			},
		},
		{
			name: "root offset not a directory",
			mutate: func(_ *testing.T, img []byte, layout testutil.Layout) []byte {
				copy(img[record.RootOffsetField(0):], record.EncodeOffset(layout.Files["d/x"]))
				return img
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			img, layout := testutil.BuildPack(t, testutil.PackSpec{
				Files: map[string][]byte{"a": []byte("a"), "d/x": []byte("x")},
				Free:  []int64{32},
			})
			img = tt.mutate(t, img, layout)
			_, err := Build(bytes.NewReader(img), int64(len(img)))
			require.ErrorIs(t, err, packtype.ErrFormat)
			var fe *packtype.FormatError
			assert.ErrorAs(t, err, &fe)
		})
	}
}

func TestBuildReportsUnreachable(t *testing.T) {
	t.Parallel()
	img, layout := testutil.BuildPack(t, testutil.PackSpec{
		Files: map[string][]byte{"a": []byte("a"), "b": []byte("b")},
	})
	// Point the GGPK record at a copy of the root directory listing only "a".
	d := decodeDir(t, img, layout.RootDir)
	only, err := record.EncodeDirectory("", record.Hash{}, d.Entries[:1])
	require.NoError(t, err)
	newRoot := int64(len(img))
	img = append(img, only...)
	copy(img[record.RootOffsetField(0):], record.EncodeOffset(newRoot))

	s, err := Build(bytes.NewReader(img), int64(len(img)))
	require.NoError(t, err)
	offsets := make([]int64, 0, len(s.Unreachable))
	for _, h := range s.Unreachable {
		offsets = append(offsets, h.Offset)
	}
	assert.ElementsMatch(t, []int64{layout.RootDir, layout.Files["b"]}, offsets)
	assert.True(t, slices.IsSortedFunc(s.Unreachable, func(a, b record.Header) int { return cmp.Compare(a.Offset, b.Offset) }))
}

func TestRelocate(t *testing.T) {
	t.Parallel()
	s, layout := buildScan(t, testutil.PackSpec{Files: map[string][]byte{"Art/a.dds": []byte("abc")}})
	tr := s.Tree
	id, ok := tr.Resolve("Art/a.dds")
	require.True(t, ok)

	field, err := tr.EntryField(id)
	require.NoError(t, err)
	art := tr.Node(tr.Node(id).Parent)
	assert.Equal(t, record.EntryOffsetAt(art.EntriesOffset, 0), field)

	loc := Location{Offset: 4096, Length: 100, DataOffset: 4096 + 60, DataLength: 40, Hash: record.Hash{1}}
	require.NoError(t, tr.Relocate(id, loc))

	n := tr.Node(id)
	assert.Equal(t, int64(4096), n.Offset)
	assert.Equal(t, int64(40), n.DataLength)
	assert.Equal(t, record.Hash{1}, n.Hash)
	assert.Equal(t, int64(4096), art.Entries[0].Offset)

	_, ok = tr.AtOffset(layout.Files["Art/a.dds"])
	assert.False(t, ok)
	got, ok := tr.AtOffset(4096)
	require.True(t, ok)
	assert.Equal(t, id, got)

	// The entry is found again at the new offset.
	_, err = tr.EntryIndex(id)
	require.NoError(t, err)
}

func TestRelocateRejectsDirectories(t *testing.T) {
	t.Parallel()
	s, _ := buildScan(t, testutil.PackSpec{Files: map[string][]byte{"Art/a.dds": nil}})
	id, ok := s.Tree.Resolve("Art")
	require.True(t, ok)
	require.ErrorIs(t, s.Tree.Relocate(id, Location{Offset: 1}), packtype.ErrNotFile)
}

func TestEntryIndexLookupError(t *testing.T) {
	t.Parallel()
	s, _ := buildScan(t, testutil.PackSpec{Files: map[string][]byte{"a": nil}})
	id, ok := s.Tree.Resolve("a")
	require.True(t, ok)

	parent := s.Tree.Node(s.Tree.Node(id).Parent)
	parent.Entries[0].Offset = 12345

	_, err := s.Tree.EntryIndex(id)
	require.ErrorIs(t, err, packtype.ErrLookup)
	var le *packtype.LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "a", le.Path)

	_, err = s.Tree.EntryIndex(s.Tree.Root())
	require.ErrorIs(t, err, packtype.ErrLookup)
}

func TestBuildEmitsProgress(t *testing.T) {
	t.Parallel()
	img, _ := testutil.BuildPack(t, testutil.PackSpec{Files: map[string][]byte{"a": nil}})

	var stages []packtype.ProgressStage
	_, err := Build(bytes.NewReader(img), int64(len(img)), WithProgress(func(ev packtype.ProgressEvent) {
		stages = append(stages, ev.Stage)
	}))
	require.NoError(t, err)
	assert.Equal(t, []packtype.ProgressStage{packtype.StageScanning, packtype.StageResolving}, stages)
}

func patchEntry(t *testing.T, img []byte, dirOff int64, i int, target int64) {
	t.Helper()
	d := decodeDir(t, img, dirOff)
	copy(img[d.EntryOffsetField(i):], record.EncodeOffset(target))
}

func decodeDir(t *testing.T, img []byte, off int64) *record.Directory {
	t.Helper()
	rec, err := record.Decode(bytes.NewReader(img), off, int64(len(img)))
	require.NoError(t, err)
	d, ok := rec.(*record.Directory)
	require.True(t, ok)
	return d
}
