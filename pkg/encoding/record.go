// Package encoding holds the on-disk layouts of data-file records and
// dense index entries. All integers are little-endian.
//
// Data record:
//
//	indicator int32 (0 tombstone, 1 live)
//	key_size  int32
//	key       key_size bytes
//	val_size  int32          only when live
//	val       val_size bytes only when live
//	timestamp int64 (µs)
//
// Index entry:
//
//	key_size int32
//	key      key_size bytes
//	offset   int32 (data-file offset of the record)
package encoding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/types"
)

const (
	indicatorTombstone int32 = 0
	indicatorLive      int32 = 1

	lenSize       = 4
	timestampSize = 8
	headerSize    = lenSize + lenSize
)

var errCorrupted = errors.New("corrupted record")

// Record is one key version.
type Record struct {
	Key       string
	Value     []byte
	Timestamp types.Timestamp
	Tombstone bool
}

// EncodedLen is the number of bytes Encode produces for r.
func (r Record) EncodedLen() int {
	n := headerSize + len(r.Key) + timestampSize
	if !r.Tombstone {
		n += lenSize + len(r.Value)
	}
	return n
}

// Encode appends the data-file form of r to dst.
func (r Record) Encode(dst []byte) ([]byte, error) {
	if len(r.Key) > math.MaxInt32 || len(r.Value) > math.MaxInt32 {
		return dst, fmt.Errorf("%w: record for key of %d bytes too large", dberrors.ErrInvalidInput, len(r.Key))
	}
	indicator := indicatorLive
	if r.Tombstone {
		indicator = indicatorTombstone
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(indicator))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Key)))
	dst = append(dst, r.Key...)
	if !r.Tombstone {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(r.Value)))
		dst = append(dst, r.Value...)
	}
	dst = binary.LittleEndian.AppendUint64(dst, uint64(r.Timestamp))
	return dst, nil
}

// ReadRecord decodes the record starting at off.
func ReadRecord(r io.ReaderAt, off int64) (Record, error) {
	var rec Record

	var hdr [headerSize]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return rec, readErr("record header", off, err)
	}
	indicator := int32(binary.LittleEndian.Uint32(hdr[0:4]))
	keyLen := int32(binary.LittleEndian.Uint32(hdr[4:8]))
	if keyLen < 0 || (indicator != indicatorLive && indicator != indicatorTombstone) {
		return rec, fmt.Errorf("%w: %w at offset %d", dberrors.ErrIOFailure, errCorrupted, off)
	}
	off += headerSize

	if keyLen > 0 {
		key := make([]byte, keyLen)
		if _, err := r.ReadAt(key, off); err != nil {
			return rec, readErr("record key", off, err)
		}
		rec.Key = string(key)
	}
	off += int64(keyLen)

	if indicator == indicatorLive {
		var lb [lenSize]byte
		if _, err := r.ReadAt(lb[:], off); err != nil {
			return rec, readErr("value size", off, err)
		}
		valLen := int32(binary.LittleEndian.Uint32(lb[:]))
		if valLen < 0 {
			return rec, fmt.Errorf("%w: %w at offset %d", dberrors.ErrIOFailure, errCorrupted, off)
		}
		off += lenSize
		rec.Value = make([]byte, valLen)
		if valLen > 0 {
			if _, err := r.ReadAt(rec.Value, off); err != nil {
				return rec, readErr("value", off, err)
			}
		}
		off += int64(valLen)
	} else {
		rec.Tombstone = true
	}

	var tb [timestampSize]byte
	if _, err := r.ReadAt(tb[:], off); err != nil {
		return rec, readErr("timestamp", off, err)
	}
	rec.Timestamp = types.Timestamp(binary.LittleEndian.Uint64(tb[:]))

	return rec, nil
}

// IndexEntry maps a key to the data-file offset of its record.
type IndexEntry struct {
	Key        string
	DataOffset int32
}

func (e IndexEntry) EncodedLen() int {
	return lenSize + len(e.Key) + lenSize
}

func (e IndexEntry) Encode(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(e.Key)))
	dst = append(dst, e.Key...)
	return binary.LittleEndian.AppendUint32(dst, uint32(e.DataOffset))
}

// ReadIndexEntry decodes the dense index entry starting at off.
func ReadIndexEntry(r io.ReaderAt, off int64) (IndexEntry, error) {
	var e IndexEntry

	var lb [lenSize]byte
	if _, err := r.ReadAt(lb[:], off); err != nil {
		return e, readErr("index key size", off, err)
	}
	keyLen := int32(binary.LittleEndian.Uint32(lb[:]))
	if keyLen < 0 {
		return e, fmt.Errorf("%w: %w at offset %d", dberrors.ErrIOFailure, errCorrupted, off)
	}
	off += lenSize

	buf := make([]byte, int(keyLen)+lenSize)
	if _, err := r.ReadAt(buf, off); err != nil {
		return e, readErr("index entry", off, err)
	}
	e.Key = string(buf[:keyLen])
	e.DataOffset = int32(binary.LittleEndian.Uint32(buf[keyLen:]))

	return e, nil
}

func readErr(what string, off int64, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read %s at offset %d: %w", dberrors.ErrIOFailure, what, off, err)
}
