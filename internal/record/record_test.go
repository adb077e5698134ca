package record

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ggpk/internal/packtype"
)

func TestTagString(t *testing.T) {
	assert.Equal(t, "GGPK", TagRoot.String())
	assert.Equal(t, "FREE", TagFree.String())
	assert.Equal(t, "FILE", TagFile.String())
	assert.Equal(t, "PDIR", TagDir.String())
	assert.Equal(t, "0x00000000", Tag(0).String())
	assert.False(t, Tag(0).Known())
}

func TestDecodeFile(t *testing.T) {
	content := []byte("hello world")
	hash := Hash(sha256.Sum256(content))
	hdr, err := EncodeFileHeader("a.dds", int64(len(content)), hash, 3)
	require.NoError(t, err)

	buf := append([]byte{}, hdr...)
	buf = append(buf, content...)
	buf = append(buf, 0, 0, 0)

	rec, err := Decode(bytes.NewReader(buf), 0, int64(len(buf)))
	require.NoError(t, err)
	f, ok := rec.(*File)
	require.True(t, ok)

	assert.Equal(t, "a.dds", f.Name)
	assert.Equal(t, uint32(len(buf)), f.Length)
	assert.Equal(t, uint32(len(content)), f.DataLength)
	assert.Equal(t, hash, f.Hash)
	assert.Equal(t, content, buf[f.DataOffset:f.DataOffset+int64(f.DataLength)])
}

func TestEncodeFileHeaderRecomputesLength(t *testing.T) {
	hdr, err := EncodeFileHeader("x", 10, Hash{}, 0)
	require.NoError(t, err)
	want, err := FileLength("x", 10)
	require.NoError(t, err)
	assert.Equal(t, uint32(want), le.Uint32(hdr[0:4]))
	// "x" plus NUL is two UTF-16 units.
	assert.Equal(t, int64(FileFixedSize+4+10), want)
}

func TestDecodeDirectory(t *testing.T) {
	entries := []Entry{
		{NameHash: NameHash("a.dds"), Offset: 100},
		{NameHash: NameHash("Sub"), Offset: 200},
	}
	buf, err := EncodeDirectory("Art", Hash{}, entries)
	require.NoError(t, err)

	rec, err := Decode(bytes.NewReader(buf), 0, int64(len(buf)))
	require.NoError(t, err)
	d, ok := rec.(*Directory)
	require.True(t, ok)

	assert.Equal(t, "Art", d.Name)
	assert.Equal(t, entries, d.Entries)
	assert.Equal(t, int64(len(buf)-12+4), d.EntryOffsetField(1))
}

func TestDecodeRootAndFree(t *testing.T) {
	buf := EncodeRoot(3, 28, 0)
	free, err := EncodeFreeHeader(32, 28)
	require.NoError(t, err)
	buf = append(buf, free...)
	buf = append(buf, make([]byte, 16)...)
	size := int64(len(buf))

	rec, err := Decode(bytes.NewReader(buf), 0, size)
	require.NoError(t, err)
	root, ok := rec.(*Root)
	require.True(t, ok)
	assert.Equal(t, uint32(3), root.Version)
	assert.Equal(t, int64(28), root.RootOffset)
	assert.Equal(t, EndOfList, root.FreeHead)

	rec, err = Decode(bytes.NewReader(buf), RootSize, size)
	require.NoError(t, err)
	f, ok := rec.(*Free)
	require.True(t, ok)
	assert.Equal(t, uint32(32), f.Length)
	assert.Equal(t, int64(28), f.Next)
}

func TestDecodeOpaque(t *testing.T) {
	buf := make([]byte, 12)
	le.PutUint32(buf[0:4], 12)
	le.PutUint32(buf[4:8], 0)

	rec, err := Decode(bytes.NewReader(buf), 0, 12)
	require.NoError(t, err)
	_, ok := rec.(*Opaque)
	assert.True(t, ok)
	assert.Equal(t, int64(12), rec.Head().End())
}

func TestDecodeRejectsMalformed(t *testing.T) {
	valid, err := EncodeFileHeader("a", 4, Hash{}, 0)
	require.NoError(t, err)
	valid = append(valid, 1, 2, 3, 4)

	tests := []struct {
		name  string
		build func() []byte
	}{
		{"truncated header", func() []byte { return []byte{1, 2, 3} }},
		{"length below header", func() []byte {
			b := make([]byte, 8)
			le.PutUint32(b, 4)
			return b
		}},
		{"length beyond pack", func() []byte {
			b := append([]byte{}, valid...)
			le.PutUint32(b, uint32(len(b)+1))
			return b
		}},
		{"data overruns record", func() []byte {
			b := append([]byte{}, valid...)
			le.PutUint32(b[12:16], 5)
			return b
		}},
		{"file too short", func() []byte {
			b := make([]byte, 20)
			le.PutUint32(b, 20)
			le.PutUint32(b[4:], uint32(TagFile))
			return b
		}},
		{"free too short", func() []byte {
			b := make([]byte, 12)
			le.PutUint32(b, 12)
			le.PutUint32(b[4:], uint32(TagFree))
			return b
		}},
		{"name without terminator", func() []byte {
			b := append([]byte{}, valid...)
			b[FileFixedSize+2] = 'z'
			return b
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.build()
			_, err := Decode(bytes.NewReader(b), 0, int64(len(b)))
			require.ErrorIs(t, err, packtype.ErrFormat)
			var fe *packtype.FormatError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, int64(0), fe.Offset)
		})
	}
}

func TestNameRoundTripUnicode(t *testing.T) {
	b, err := EncodeName("métal_ß.dds")
	require.NoError(t, err)
	name, ok := decodeName(b)
	require.True(t, ok)
	assert.Equal(t, "métal_ß.dds", name)

	_, err = EncodeName("bad\x00name")
	require.ErrorIs(t, err, packtype.ErrFormat)
}

func TestNameHashIsCaseInsensitive(t *testing.T) {
	assert.Equal(t, NameHash("Art"), NameHash("ART"))
	assert.NotEqual(t, NameHash("Art"), NameHash("Arts"))
}

func TestReadFullAtShortRead(t *testing.T) {
	p := make([]byte, 8)
	err := ReadFullAt(bytes.NewReader([]byte{1, 2, 3}), p, 0)
	require.ErrorIs(t, err, packtype.ErrShortRead)
}
