package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/meigma/ggpk/internal/record"
)

// OpaqueTag is the tag written for records the reader does not understand.
const OpaqueTag = 0x4B4E554A // "JUNK"

// PackSpec describes a pack image to build for tests.
type PackSpec struct {
	// Version is stored in the GGPK record. Zero means 3.
	Version uint32

	// Files maps slash-separated paths to content.
	Files map[string][]byte

	// Dirs lists additional (possibly empty) directories.
	Dirs []string

	// Free lists FREE region lengths in free-list order. The regions are
	// laid out right after the GGPK record, before any file.
	Free []int64

	// Opaque is the number of unknown-tag records placed after the free regions.
	Opaque int
}

// Layout reports where BuildPack placed things.
type Layout struct {
	RootDir int64
	Free    []int64
	Files   map[string]int64
	Dirs    map[string]int64
}

type buildDir struct {
	files map[string][]byte
	dirs  map[string]*buildDir
}

func newBuildDir() *buildDir {
	return &buildDir{files: map[string][]byte{}, dirs: map[string]*buildDir{}}
}

func (d *buildDir) dir(parts []string) *buildDir {
	cur := d
	for _, p := range parts {
		next, ok := cur.dirs[p]
		if !ok {
			next = newBuildDir()
			cur.dirs[p] = next
		}
		cur = next
	}
	return cur
}

// BuildPack encodes spec into a pack image.
//
// Children are written before their parents so every directory entry points
// backward; the root directory is the last record in the image.
func BuildPack(tb testing.TB, spec PackSpec) ([]byte, Layout) {
	tb.Helper()

	version := spec.Version
	if version == 0 {
		version = 3
	}

	tree := newBuildDir()
	for _, d := range spec.Dirs {
		tree.dir(splitPath(d))
	}
	for p, content := range spec.Files {
		parts := splitPath(p)
		if len(parts) == 0 {
			tb.Fatalf("testutil: empty file path")
		}
		tree.dir(parts[:len(parts)-1]).files[parts[len(parts)-1]] = content
	}

	layout := Layout{Files: map[string]int64{}, Dirs: map[string]int64{}}
	buf := make([]byte, record.RootSize)

	for _, n := range spec.Free {
		layout.Free = append(layout.Free, int64(len(buf)))
		buf = append(buf, make([]byte, n)...)
	}
	for i, off := range layout.Free {
		next := record.EndOfList
		if i+1 < len(layout.Free) {
			next = layout.Free[i+1]
		}
		hdr, err := record.EncodeFreeHeader(spec.Free[i], next)
		if err != nil {
			tb.Fatalf("testutil: encode free: %v", err)
		}
		copy(buf[off:], hdr)
	}

	for range spec.Opaque {
		rec := make([]byte, 24)
		binary.LittleEndian.PutUint32(rec[0:4], uint32(len(rec)))
		binary.LittleEndian.PutUint32(rec[4:8], OpaqueTag)
		buf = append(buf, rec...)
	}

	layout.RootDir = writeDir(tb, &buf, tree, "", "", &layout)

	head := record.EndOfList
	if len(layout.Free) > 0 {
		head = layout.Free[0]
	}
	copy(buf[0:], record.EncodeRoot(version, layout.RootDir, head))
	return buf, layout
}

// WritePack builds spec and writes it to a temp file, returning its path.
func WritePack(tb testing.TB, spec PackSpec) (string, Layout) {
	tb.Helper()
	buf, layout := BuildPack(tb, spec)
	path := filepath.Join(tb.TempDir(), "Content.ggpk")
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		tb.Fatalf("testutil: write pack: %v", err)
	}
	return path, layout
}

func writeDir(tb testing.TB, buf *[]byte, d *buildDir, name, path string, layout *Layout) int64 {
	tb.Helper()

	var entries []record.Entry
	for _, fname := range sortedKeys(d.files) {
		content := d.files[fname]
		off := int64(len(*buf))
		hdr, err := record.EncodeFileHeader(fname, int64(len(content)), sha256.Sum256(content), 0)
		if err != nil {
			tb.Fatalf("testutil: encode file %q: %v", fname, err)
		}
		*buf = append(*buf, hdr...)
		*buf = append(*buf, content...)
		layout.Files[joinPath(path, fname)] = off
		entries = append(entries, record.Entry{NameHash: record.NameHash(fname), Offset: off})
	}
	for _, dname := range sortedKeys(d.dirs) {
		child := joinPath(path, dname)
		off := writeDir(tb, buf, d.dirs[dname], dname, child, layout)
		entries = append(entries, record.Entry{NameHash: record.NameHash(dname), Offset: off})
	}

	off := int64(len(*buf))
	rec, err := record.EncodeDirectory(name, record.Hash{}, entries)
	if err != nil {
		tb.Fatalf("testutil: encode directory %q: %v", name, err)
	}
	*buf = append(*buf, rec...)
	layout.Dirs[path] = off
	return off
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
