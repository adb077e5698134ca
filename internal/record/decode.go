package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/sizing"
)

var le = binary.LittleEndian

// ReadHeader decodes the header at off and checks that the declared length
// fits inside a pack of the given size.
func ReadHeader(r io.ReaderAt, off, size int64) (Header, error) {
	if !sizing.WithinBounds(off, HeaderSize, size) {
		return Header{}, packtype.Formatf(off, "", "truncated header (pack is %d bytes)", size)
	}
	var b [HeaderSize]byte
	if err := ReadFullAt(r, b[:], off); err != nil {
		return Header{}, err
	}
	h := Header{
		Offset: off,
		Length: le.Uint32(b[0:4]),
		Tag:    Tag(le.Uint32(b[4:8])),
	}
	if h.Length < HeaderSize {
		return Header{}, packtype.Formatf(off, h.Tag.String(), "declared length %d is below the header size", h.Length)
	}
	if !sizing.WithinBounds(off, int64(h.Length), size) {
		return Header{}, packtype.Formatf(off, h.Tag.String(), "declared length %d exceeds pack bounds (%d bytes)", h.Length, size)
	}
	return h, nil
}

// Decode decodes the record at off. FILE records are decoded without their
// content; unknown tags decode as *Opaque so callers can skip them.
func Decode(r io.ReaderAt, off, size int64) (Record, error) {
	h, err := ReadHeader(r, off, size)
	if err != nil {
		return nil, err
	}
	switch h.Tag {
	case TagRoot:
		return decodeRoot(r, h)
	case TagFree:
		return decodeFree(r, h)
	case TagFile:
		return decodeFile(r, h)
	case TagDir:
		return decodeDir(r, h)
	default:
		return &Opaque{Header: h}, nil
	}
}

func decodeRoot(r io.ReaderAt, h Header) (*Root, error) {
	if h.Length < RootSize {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(), "length %d is below %d", h.Length, RootSize)
	}
	var b [RootSize - HeaderSize]byte
	if err := ReadFullAt(r, b[:], h.Offset+HeaderSize); err != nil {
		return nil, err
	}
	return &Root{
		Header:     h,
		Version:    le.Uint32(b[0:4]),
		RootOffset: int64(le.Uint64(b[4:12])), //nolint:gosec // validated by the index
		FreeHead:   int64(le.Uint64(b[12:20])), //nolint:gosec // validated by the allocator
	}, nil
}

func decodeFree(r io.ReaderAt, h Header) (*Free, error) {
	if h.Length < MinFreeSize {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(), "length %d is below %d", h.Length, MinFreeSize)
	}
	var b [8]byte
	if err := ReadFullAt(r, b[:], FreeNextField(h.Offset)); err != nil {
		return nil, err
	}
	return &Free{Header: h, Next: int64(le.Uint64(b[:]))}, nil //nolint:gosec // validated by the allocator
}

func decodeFile(r io.ReaderAt, h Header) (*File, error) {
	if h.Length < FileFixedSize {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(), "length %d is below %d", h.Length, FileFixedSize)
	}
	var b [FileFixedSize - HeaderSize]byte
	if err := ReadFullAt(r, b[:], h.Offset+HeaderSize); err != nil {
		return nil, err
	}
	nameLen := int64(le.Uint32(b[0:4]))
	dataLen := le.Uint32(b[4:8])
	nameBytes := nameLen * 2
	if FileFixedSize+nameBytes+int64(dataLen) > int64(h.Length) {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(),
			"name (%d units) and data (%d bytes) overrun length %d", nameLen, dataLen, h.Length)
	}
	name, err := readName(r, h, FileFixedSize, nameBytes)
	if err != nil {
		return nil, err
	}
	f := &File{
		Header:     h,
		Name:       name,
		DataLength: dataLen,
		DataOffset: h.Offset + FileFixedSize + nameBytes,
	}
	copy(f.Hash[:], b[8:8+HashSize])
	return f, nil
}

func decodeDir(r io.ReaderAt, h Header) (*Directory, error) {
	if h.Length < DirFixedSize {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(), "length %d is below %d", h.Length, DirFixedSize)
	}
	body := make([]byte, int64(h.Length)-HeaderSize)
	if err := ReadFullAt(r, body, h.Offset+HeaderSize); err != nil {
		return nil, err
	}
	nameLen := int64(le.Uint32(body[0:4]))
	count := int64(le.Uint32(body[4:8]))
	nameBytes := nameLen * 2
	if DirFixedSize+nameBytes+count*EntrySize > int64(h.Length) {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(),
			"name (%d units) and %d entries overrun length %d", nameLen, count, h.Length)
	}
	nameStart := int64(DirFixedSize - HeaderSize)
	name, ok := decodeName(body[nameStart : nameStart+nameBytes])
	if !ok {
		return nil, packtype.Formatf(h.Offset, h.Tag.String(), "invalid name")
	}
	d := &Directory{
		Header:        h,
		Name:          name,
		Entries:       make([]Entry, count),
		EntriesOffset: h.Offset + DirFixedSize + nameBytes,
	}
	copy(d.Hash[:], body[8:8+HashSize])
	p := body[nameStart+nameBytes:]
	for i := range d.Entries {
		d.Entries[i] = Entry{
			NameHash: le.Uint32(p[0:4]),
			Offset:   int64(le.Uint64(p[4:12])), //nolint:gosec // validated by the index
		}
		p = p[EntrySize:]
	}
	return d, nil
}

func readName(r io.ReaderAt, h Header, at, n int64) (string, error) {
	b := make([]byte, n)
	if err := ReadFullAt(r, b, h.Offset+at); err != nil {
		return "", err
	}
	name, ok := decodeName(b)
	if !ok {
		return "", packtype.Formatf(h.Offset, h.Tag.String(), "invalid name")
	}
	return name, nil
}

// ReadFullAt reads exactly len(p) bytes at off. A short read is ErrShortRead.
func ReadFullAt(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %d of %d bytes at 0x%X", packtype.ErrShortRead, n, len(p), off)
	}
	return err
}
