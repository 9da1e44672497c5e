package persistence

import (
	"errors"
	"fmt"
	"os"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/types"
)

const beforeFirst = -1

// Iterator walks one generation. It keeps only the current data-file
// offset; every accessor re-reads the record from disk.
type Iterator struct {
	table *SSTable
	data  *os.File
	index *os.File
	cur   int64
	err   error
}

func newIterator(t *SSTable, data, index *os.File) *Iterator {
	return &Iterator{
		table: t,
		data:  data,
		index: index,
		cur:   beforeFirst,
	}
}

// Seek positions the cursor on key using the sparse index to bound a
// linear scan of the dense index file.
func (it *Iterator) Seek(key string) error {
	if it.table.info.Size == 0 {
		return dberrors.ErrNotFound
	}

	lo, hi := it.table.bracket(key)
	if lo < 0 {
		lo = 0
	}
	if hi < 0 {
		hi = it.table.info.LastIndexOffset
	}

	for off := lo; off <= hi; {
		e, err := encoding.ReadIndexEntry(it.index, off)
		if err != nil {
			return fmt.Errorf("seek %q: %w", key, err)
		}
		if e.Key == key {
			it.cur = int64(e.DataOffset)
			return nil
		}
		if e.Key > key {
			break
		}
		off += int64(e.EncodedLen())
	}

	return dberrors.ErrNotFound
}

func (it *Iterator) SeekToFirst() {
	it.cur = beforeFirst
	it.err = nil
}

// Valid reports whether Next would land on a record.
func (it *Iterator) Valid() bool {
	if it.err != nil {
		return false
	}
	if it.cur == beforeFirst {
		return it.table.info.Size > 0
	}
	n, err := it.Length()
	if err != nil {
		it.err = err
		return false
	}
	return it.cur+int64(n) < it.table.info.Size
}

func (it *Iterator) Next() error {
	if it.cur == beforeFirst {
		if it.table.info.Size == 0 {
			return dberrors.ErrNoNext
		}
		it.cur = 0
		return nil
	}

	n, err := it.Length()
	if err != nil {
		it.err = err
		return err
	}
	next := it.cur + int64(n)
	if next >= it.table.info.Size {
		return dberrors.ErrNoNext
	}
	it.cur = next
	return nil
}

// Record reads the whole record under the cursor.
func (it *Iterator) Record() (encoding.Record, error) {
	if it.cur == beforeFirst {
		return encoding.Record{}, dberrors.ErrNoNext
	}
	return encoding.ReadRecord(it.data, it.cur)
}

func (it *Iterator) Key() (string, error) {
	rec, err := it.Record()
	if err != nil {
		return "", err
	}
	return rec.Key, nil
}

func (it *Iterator) Value() ([]byte, error) {
	rec, err := it.Record()
	if err != nil {
		return nil, err
	}
	if rec.Tombstone {
		return nil, dberrors.ErrNotFound
	}
	return rec.Value, nil
}

func (it *Iterator) Tombstone() (bool, error) {
	rec, err := it.Record()
	if err != nil {
		return false, err
	}
	return rec.Tombstone, nil
}

func (it *Iterator) Timestamp() (types.Timestamp, error) {
	rec, err := it.Record()
	if err != nil {
		return 0, err
	}
	return rec.Timestamp, nil
}

// Length is the encoded size of the current record in bytes.
func (it *Iterator) Length() (int, error) {
	rec, err := it.Record()
	if err != nil {
		return 0, err
	}
	return rec.EncodedLen(), nil
}

// Offset is the data-file offset of the current record, -1 before the
// first Next.
func (it *Iterator) Offset() int64 {
	return it.cur
}

func (it *Iterator) Err() error {
	return it.err
}

func (it *Iterator) Close() error {
	return errors.Join(it.data.Close(), it.index.Close())
}
