package record

import (
	"github.com/meigma/ggpk/internal/packtype"
	"github.com/meigma/ggpk/internal/sizing"
)

// EncodeRoot encodes a GGPK record.
func EncodeRoot(version uint32, rootOffset, freeHead int64) []byte {
	b := make([]byte, 0, RootSize)
	b = le.AppendUint32(b, RootSize)
	b = le.AppendUint32(b, uint32(TagRoot))
	b = le.AppendUint32(b, version)
	b = le.AppendUint64(b, uint64(rootOffset)) //nolint:gosec // offsets are non-negative
	b = le.AppendUint64(b, uint64(freeHead))   //nolint:gosec // offsets are non-negative
	return b
}

// EncodeFreeHeader encodes the header and next pointer of a FREE record
// spanning length bytes. The rest of the span is left untouched by callers.
func EncodeFreeHeader(length, next int64) ([]byte, error) {
	if length < MinFreeSize {
		return nil, packtype.Formatf(0, TagFree.String(), "length %d is below %d", length, MinFreeSize)
	}
	n, err := sizing.ToUint32(length, packtype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, MinFreeSize)
	b = le.AppendUint32(b, n)
	b = le.AppendUint32(b, uint32(TagFree))
	b = le.AppendUint64(b, uint64(next)) //nolint:gosec // offsets are non-negative
	return b, nil
}

// EncodeOffset encodes a child or next offset for in-place patching.
func EncodeOffset(off int64) []byte {
	return le.AppendUint64(make([]byte, 0, 8), uint64(off)) //nolint:gosec // offsets are non-negative
}

// FileLength returns the unpadded record length for a file named name
// holding dataLen bytes.
func FileLength(name string, dataLen int64) (int64, error) {
	nameBytes, err := NameSize(name)
	if err != nil {
		return 0, err
	}
	if dataLen < 0 {
		return 0, packtype.ErrSizeOverflow
	}
	n, ok := sizing.AddInt64(FileFixedSize+nameBytes, dataLen)
	if !ok {
		return 0, packtype.ErrSizeOverflow
	}
	if _, err := sizing.ToUint32(n, packtype.ErrSizeOverflow); err != nil {
		return 0, err
	}
	return n, nil
}

// EncodeFileHeader encodes a FILE record up to (not including) its content.
// The record length is computed from the name, dataLen and pad; pad bytes
// follow the content and are not part of the data.
func EncodeFileHeader(name string, dataLen int64, hash Hash, pad int64) ([]byte, error) {
	nameBytes, err := EncodeName(name)
	if err != nil {
		return nil, err
	}
	if pad < 0 {
		return nil, packtype.ErrSizeOverflow
	}
	unpadded, err := FileLength(name, dataLen)
	if err != nil {
		return nil, err
	}
	total, ok := sizing.AddInt64(unpadded, pad)
	if !ok {
		return nil, packtype.ErrSizeOverflow
	}
	length, err := sizing.ToUint32(total, packtype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, FileFixedSize+len(nameBytes))
	b = le.AppendUint32(b, length)
	b = le.AppendUint32(b, uint32(TagFile))
	b = le.AppendUint32(b, uint32(len(nameBytes)/2)) //nolint:gosec // bounded by length check above
	b = le.AppendUint32(b, uint32(dataLen))          //nolint:gosec // bounded by length check above
	b = append(b, hash[:]...)
	b = append(b, nameBytes...)
	return b, nil
}

// EncodeDirectory encodes a complete PDIR record.
func EncodeDirectory(name string, hash Hash, entries []Entry) ([]byte, error) {
	nameBytes, err := EncodeName(name)
	if err != nil {
		return nil, err
	}
	total := int64(DirFixedSize) + int64(len(nameBytes)) + int64(len(entries))*EntrySize
	length, err := sizing.ToUint32(total, packtype.ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	b := make([]byte, 0, total)
	b = le.AppendUint32(b, length)
	b = le.AppendUint32(b, uint32(TagDir))
	b = le.AppendUint32(b, uint32(len(nameBytes)/2)) //nolint:gosec // bounded by length check above
	b = le.AppendUint32(b, uint32(len(entries)))     //nolint:gosec // bounded by length check above
	b = append(b, hash[:]...)
	b = append(b, nameBytes...)
	for _, e := range entries {
		b = le.AppendUint32(b, e.NameHash)
		b = le.AppendUint64(b, uint64(e.Offset)) //nolint:gosec // offsets are non-negative
	}
	return b, nil
}
