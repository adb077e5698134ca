// Package record encodes and decodes the self-describing records of a pack file.
//
// Every record starts with an 8-byte header: a little-endian u32 length that
// covers the whole record (header included) followed by a u32 tag. The tag
// selects the layout of the remaining fields:
//
//	GGPK  version:u32 root:u64 freeHead:u64
//	FREE  next:u64 unused...
//	FILE  nameLen:u32 dataLen:u32 hash[32] name data padding...
//	PDIR  nameLen:u32 count:u32 hash[32] name (nameHash:u32 offset:u64)*count
//
// Names are NUL-terminated UTF-16LE; nameLen counts code units including
// the terminator.
package record

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// Tag identifies a record type. On disk it is four ASCII bytes.
type Tag uint32

// Known record tags.
const (
	TagRoot Tag = 0x4B504747 // "GGPK"
	TagFree Tag = 0x45455246 // "FREE"
	TagFile Tag = 0x454C4946 // "FILE"
	TagDir  Tag = 0x52494450 // "PDIR"
)

// String returns the ASCII form of the tag, or its hex value when unprintable.
func (t Tag) String() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t))
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08X", uint32(t))
		}
	}
	return string(b[:])
}

// Known reports whether the tag is one the codec understands.
func (t Tag) Known() bool {
	switch t {
	case TagRoot, TagFree, TagFile, TagDir:
		return true
	}
	return false
}

// Layout sizes.
const (
	// HeaderSize is the size of the length and tag prefix.
	HeaderSize = 8

	// HashSize is the width of content hashes (SHA-256).
	HashSize = sha256.Size

	// RootSize is the exact size of a GGPK record.
	RootSize = HeaderSize + 4 + 8 + 8

	// MinFreeSize is the smallest encodable FREE record (header plus next pointer).
	MinFreeSize = HeaderSize + 8

	// FileFixedSize is the size of a FILE record before its name.
	FileFixedSize = HeaderSize + 4 + 4 + HashSize

	// DirFixedSize is the size of a PDIR record before its name.
	DirFixedSize = HeaderSize + 4 + 4 + HashSize

	// EntrySize is the size of one directory child entry.
	EntrySize = 4 + 8

	// EndOfList terminates the free list. Offset 0 always holds the root record.
	EndOfList int64 = 0
)

// Hash is a SHA-256 content hash.
type Hash [HashSize]byte

// Header is the common prefix of every record.
type Header struct {
	// Offset is where the record begins in the pack.
	Offset int64
	// Length is the total record length in bytes, header included.
	Length uint32
	// Tag selects the record layout.
	Tag Tag
}

// End returns the offset just past the record.
func (h Header) End() int64 {
	return h.Offset + int64(h.Length)
}

// Record is any decoded record.
type Record interface {
	Head() Header
}

// Root is the GGPK record at offset 0.
type Root struct {
	Header
	Version    uint32
	RootOffset int64
	FreeHead   int64
}

// Free is a reclaimed byte range threaded into the free list.
type Free struct {
	Header
	Next int64
}

// File is a leaf holding inline content.
type File struct {
	Header
	Name       string
	DataLength uint32
	Hash       Hash
	// DataOffset is where the content begins in the pack.
	DataOffset int64
}

// Entry is a directory's reference to a child record.
type Entry struct {
	NameHash uint32
	Offset   int64
}

// Directory lists child records by name hash and offset.
type Directory struct {
	Header
	Name    string
	Hash    Hash
	Entries []Entry
	// EntriesOffset is where the first entry begins in the pack.
	EntriesOffset int64
}

// Opaque is a record with an unknown tag; only its header is decoded.
type Opaque struct {
	Header
}

// Head implements Record.
func (h Header) Head() Header { return h }

// Field offsets used for in-place back-patching.

// RootOffsetField returns the position of the root directory offset in a GGPK record.
func RootOffsetField(rootRecord int64) int64 { return rootRecord + HeaderSize + 4 }

// RootFreeHeadField returns the position of the free-list head in a GGPK record.
func RootFreeHeadField(rootRecord int64) int64 { return rootRecord + HeaderSize + 4 + 8 }

// FreeNextField returns the position of the next pointer in a FREE record.
func FreeNextField(freeRecord int64) int64 { return freeRecord + HeaderSize }

// FileHashField returns the position of the hash in a FILE record.
func FileHashField(fileRecord int64) int64 { return fileRecord + HeaderSize + 8 }

// EntryOffsetField returns the position of entry i's child offset.
func (d *Directory) EntryOffsetField(i int) int64 {
	return EntryOffsetAt(d.EntriesOffset, i)
}

// EntryOffsetAt returns the position of entry i's child offset in an entry
// table starting at entriesOffset.
func EntryOffsetAt(entriesOffset int64, i int) int64 {
	return entriesOffset + int64(i)*EntrySize + 4
}
