package ggpk

import (
	"bytes"
	"context"
	"crypto/sha256"
	"io"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/ggpk/internal/record"
	"github.com/meigma/ggpk/internal/testutil"
)

// reopen scans the pack from disk again.
func reopen(t *testing.T, p *Pack) *Pack {
	t.Helper()
	q, err := Open(p.Path())
	require.NoError(t, err)
	return q
}

func mustCheck(t *testing.T, p *Pack) CheckReport {
	t.Helper()
	report, err := p.Check(context.Background())
	require.NoError(t, err)
	return report
}

func mustLookup(t *testing.T, p *Pack, name string) File {
	t.Helper()
	f, err := p.LookupFile(name)
	require.NoError(t, err)
	return f
}

func TestReplaceAppendsWhenNothingFits(t *testing.T) {
	t.Parallel()
	p, _, layout := openPack(t, testutil.PackSpec{Files: sampleFiles()})
	f, err := p.LookupFile("Art/a.dds")
	require.NoError(t, err)
	oldOffset, oldLength, oldSize := f.Offset(), f.Length(), p.Size()

	content := bytes.Repeat([]byte{0x42}, 150)
	f, err = p.Replace(f, content)
	require.NoError(t, err)

	assert.Equal(t, oldSize, f.Offset())
	assert.Equal(t, fileLength(t, "a.dds", 150), f.Length())
	assert.Equal(t, oldSize+f.Length(), p.Size())
	assert.Equal(t, []FreeRegion{{oldOffset, oldLength}}, p.FreeRegions())
	assert.Equal(t, layout.Files["Art/a.dds"], oldOffset)

	// The parent entry on disk points at the new record.
	q := reopen(t, p)
	g, err := q.LookupFile("Art/a.dds")
	require.NoError(t, err)
	assert.Equal(t, f.Offset(), g.Offset())
	assert.Equal(t, p.FreeRegions(), q.FreeRegions())
	data, err := q.Read(g)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	mustCheck(t, q)
}

func TestReplaceSameSizeOverwritesInPlace(t *testing.T) {
	t.Parallel()
	p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles(), Free: []int64{512}})
	f, err := p.LookupFile("Data/Mods.dat")
	require.NoError(t, err)
	offset, length := f.Offset(), f.Length()
	free := p.FreeRegions()

	f, err = p.Replace(f, []byte("MODS TABLE"))
	require.NoError(t, err)
	assert.Equal(t, offset, f.Offset())
	assert.Equal(t, length, f.Length())
	assert.Equal(t, free, p.FreeRegions())
	assert.Equal(t, record.Hash(sha256.Sum256([]byte("MODS TABLE"))), record.Hash(f.Hash()))

	data, err := reopen(t, p).ReadFile("data/mods.dat")
	require.NoError(t, err)
	assert.Equal(t, "MODS TABLE", string(data))
	mustCheck(t, p)
}

func TestReplaceShrinkKeepsRecordWhenSlackIsSmall(t *testing.T) {
	t.Parallel()
	p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()})
	f, err := p.LookupFile("Data/Mods.dat")
	require.NoError(t, err)
	offset, length := f.Offset(), f.Length()

	// 10 bytes shorter leaves slack below the smallest FREE record.
	f, err = p.Replace(f, nil)
	require.NoError(t, err)
	assert.Equal(t, offset, f.Offset())
	assert.Equal(t, length, f.Length())
	assert.Zero(t, f.Size())
	assert.Empty(t, p.FreeRegions())

	data, err := reopen(t, p).ReadFile("Data/Mods.dat")
	require.NoError(t, err)
	assert.Empty(t, data)
	mustCheck(t, p)
}

func TestReplaceUsesFirstFit(t *testing.T) {
	t.Parallel()
	// A file named "a" costs 52 bytes of record overhead; the free regions
	// hold 10, 50 and 30 bytes of payload beyond that.
	overhead := fileLength(t, "a", 0)
	p, _, layout := openPack(t, testutil.PackSpec{
		Files: map[string][]byte{"a": {1}},
		Free:  []int64{overhead + 10, overhead + 50, overhead + 30},
	})
	f, err := p.LookupFile("a")
	require.NoError(t, err)
	old := FreeRegion{f.Offset(), f.Length()}

	f, err = p.Replace(f, bytes.Repeat([]byte{2}, 20))
	require.NoError(t, err)
	assert.Equal(t, layout.Free[1], f.Offset())
	assert.Equal(t, overhead+20, f.Length())
	assert.Equal(t, []FreeRegion{
		old,
		{layout.Free[0], overhead + 10},
		{layout.Free[1] + overhead + 20, 30},
		{layout.Free[2], overhead + 30},
	}, p.FreeRegions())
	mustCheck(t, reopen(t, p))
}

func TestReplaceReusesFreedRecord(t *testing.T) {
	t.Parallel()
	p, _, _ := openPack(t, testutil.PackSpec{Files: map[string][]byte{
		"a": bytes.Repeat([]byte{1}, 30),
		"b": {2},
	}})
	a, err := p.LookupFile("a")
	require.NoError(t, err)
	b, err := p.LookupFile("b")
	require.NoError(t, err)
	aOld := FreeRegion{a.Offset(), a.Length()}
	bOld := FreeRegion{b.Offset(), b.Length()}

	_, err = p.Replace(a, bytes.Repeat([]byte{1}, 100))
	require.NoError(t, err)
	require.Equal(t, []FreeRegion{aOld}, p.FreeRegions())
	size := p.Size()

	// b now needs 72 bytes; a's old 82-byte record fits and the 10 byte
	// remainder is absorbed as padding.
	content := bytes.Repeat([]byte{2}, 20)
	b, err = p.Replace(b, content)
	require.NoError(t, err)
	assert.Equal(t, aOld.Offset, b.Offset())
	assert.Equal(t, aOld.Length, b.Length())
	assert.Equal(t, []FreeRegion{bOld}, p.FreeRegions())
	assert.Equal(t, size, p.Size())

	q := reopen(t, p)
	data, err := q.ReadFile("b")
	require.NoError(t, err)
	assert.Equal(t, content, data)
	mustCheck(t, q)
}

func TestReplaceFromStream(t *testing.T) {
	t.Parallel()
	p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()})
	f, err := p.LookupFile("Art/a.dds")
	require.NoError(t, err)

	content := strings.Repeat("stream", 1000)
	f, err = p.ReplaceFrom(f, iotest.HalfReader(strings.NewReader(content)), int64(len(content)))
	require.NoError(t, err)
	data, err := p.Read(f)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestReplaceFromSizeMismatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		size    int64
		wantErr error
	}{
		{name: "short", content: "abc", size: 400, wantErr: ErrShortRead},
		{name: "long", content: strings.Repeat("x", 401), size: 400, wantErr: ErrSizeOverflow},
		{name: "short in place", content: "abc", size: 100, wantErr: ErrShortRead},
		{name: "long in place", content: strings.Repeat("x", 101), size: 100, wantErr: ErrSizeOverflow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()})
			f, err := p.LookupFile("Art/a.dds")
			require.NoError(t, err)
			size, off := p.Size(), f.Offset()

			_, err = p.ReplaceFrom(f, strings.NewReader(tc.content), tc.size)
			require.ErrorIs(t, err, tc.wantErr)

			// Nothing is left behind and the file keeps its old content.
			assert.Equal(t, size, p.Size())
			assert.Equal(t, off, mustLookup(t, p, "Art/a.dds").Offset())
			data, err := p.Read(f)
			require.NoError(t, err)
			assert.Equal(t, bytes.Repeat([]byte{0xDD}, 100), data)
			mustCheck(t, reopen(t, p))
		})
	}
}

// faultyFile fails the write with the given index, counting from zero.
type faultyFile struct {
	*os.File
	mu     sync.Mutex
	writes int
	failAt int
}

func (f *faultyFile) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	n := f.writes
	f.writes++
	f.mu.Unlock()
	if n == f.failAt {
		return 0, testutil.ErrInjected
	}
	return f.File.WriteAt(b, off)
}

func injectWriteFailure(t *testing.T, p *Pack, failAt int) {
	t.Helper()
	p.openRW = func() (writeHandle, error) {
		f, err := os.OpenFile(p.Path(), os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		return &faultyFile{File: f, failAt: failAt}, nil
	}
}

func TestReplaceWriteFailureReturnsSlot(t *testing.T) {
	t.Parallel()
	p, _, layout := openPack(t, testutil.PackSpec{Files: sampleFiles(), Free: []int64{1024}})
	f, err := p.LookupFile("Art/a.dds")
	require.NoError(t, err)
	offset := f.Offset()

	// Writes 0 and 1 split the free region; write 2 is the file header.
	injectWriteFailure(t, p, 2)
	_, err = p.Replace(f, bytes.Repeat([]byte{1}, 300))
	require.ErrorIs(t, err, testutil.ErrInjected)

	assert.Equal(t, offset, f.Offset())
	regions := p.FreeRegions()
	require.Len(t, regions, 2)
	assert.Equal(t, FreeRegion{layout.Free[0], fileLength(t, "a.dds", 300)}, regions[0])

	data, err := p.Read(f)
	require.NoError(t, err)
	assert.Len(t, data, 100)
	mustCheck(t, reopen(t, p))
}

func TestReplaceWriteFailureTruncatesAppend(t *testing.T) {
	t.Parallel()
	p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()})
	f, err := p.LookupFile("Art/a.dds")
	require.NoError(t, err)
	size := p.Size()

	// Write 0 is the header, write 1 the first content chunk.
	injectWriteFailure(t, p, 1)
	_, err = p.Replace(f, bytes.Repeat([]byte{1}, 300))
	require.ErrorIs(t, err, testutil.ErrInjected)

	info, err := os.Stat(p.Path())
	require.NoError(t, err)
	assert.Equal(t, size, info.Size())
	assert.Empty(t, p.FreeRegions())
	mustCheck(t, reopen(t, p))
}

func TestReplaceLookupFailureWritesNothing(t *testing.T) {
	t.Parallel()
	p, path, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()})
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	f, err := p.LookupFile("Art/a.dds")
	require.NoError(t, err)
	parent, _ := f.Parent()
	p.tree.Node(parent.id).Entries[0].NameHash ^= 1
	p.tree.Node(parent.id).Entries[1].NameHash ^= 1

	_, err = p.Replace(f, bytes.Repeat([]byte{1}, 300))
	var le *LookupError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, "Art/a.dds", le.Path)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReplaceRandomSequence(t *testing.T) {
	t.Parallel()
	files := sampleFiles()
	files["Data/Words.txt"] = []byte("words")
	files["Data/Stats.dat"] = bytes.Repeat([]byte{7}, 64)
	p, _, _ := openPack(t, testutil.PackSpec{Files: files, Free: []int64{40, 200, 16}})

	rng := rand.New(rand.NewPCG(1, 2))
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	want := make(map[string][]byte, len(files))
	for name, content := range files {
		want[name] = content
	}

	for range 60 {
		name := names[rng.IntN(len(names))]
		content := make([]byte, rng.IntN(300))
		for i := range content {
			content[i] = byte(rng.Uint32())
		}
		f, err := p.LookupFile(name)
		require.NoError(t, err)
		_, err = p.Replace(f, content)
		require.NoError(t, err)
		want[name] = content

		got, err := p.ReadFile(name)
		require.NoError(t, err)
		require.Equal(t, content, got)
	}

	report := mustCheck(t, p)
	assert.Equal(t, len(files), report.Files)
	assert.Equal(t, len(files), report.Verified)

	q := reopen(t, p)
	for name, content := range want {
		got, err := q.ReadFile(name)
		require.NoError(t, err)
		assert.Equal(t, content, got, name)
	}
	assert.Equal(t, p.FreeRegions(), q.FreeRegions())
}

func TestReplaceEmitsProgress(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		events []ProgressEvent
	)
	p, _, _ := openPack(t, testutil.PackSpec{Files: sampleFiles()}, WithProgress(func(ev ProgressEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))
	f, err := p.LookupFile("Data/Mods.dat")
	require.NoError(t, err)
	_, err = p.ReplaceFrom(f, io.LimitReader(strings.NewReader("0123456789abc"), 13), 13)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	last := events[len(events)-1]
	assert.Equal(t, StageReplacing, last.Stage)
	assert.Equal(t, "Data/Mods.dat", last.Path)
	assert.Equal(t, uint64(13), last.BytesTotal)
}
