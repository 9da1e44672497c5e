package memtable

import (
	"slices"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
)

// Encoded field widths of a data-file record.
const (
	indicatorSize = 4
	lenSize       = 4
	timestampSize = 8
)

// Memtable absorbs recent writes for one store. Size tracks, in bytes, the
// data file a flush of the current contents would produce.
//
// Memtable is not safe for concurrent use; the owning store serializes
// access.
type Memtable struct {
	index *Index
	size  int
}

func New() *Memtable {
	return &Memtable{index: NewIndex()}
}

func liveRecordSize(key string, value []byte) int {
	return indicatorSize + lenSize + len(key) + lenSize + len(value) + timestampSize
}

func tombstoneRecordSize(key string) int {
	return indicatorSize + lenSize + len(key) + timestampSize
}

// Set keeps its own copy of value.
func (mt *Memtable) Set(key string, value []byte) error {
	value = slices.Clone(value)
	node, ok := mt.index.GetNode(key)
	switch {
	case ok && !node.Tombstone:
		mt.size += len(value) - len(node.Value)
		mt.index.Update(key, value)
	case ok:
		mt.size += lenSize + len(value)
		mt.index.Update(key, value)
	default:
		mt.index.Insert(key, value)
		mt.size += liveRecordSize(key, value)
	}
	return nil
}

// Remove records a tombstone for key. Removing a key twice is a no-op.
func (mt *Memtable) Remove(key string) error {
	node, ok := mt.index.GetNode(key)
	switch {
	case ok && !node.Tombstone:
		mt.size -= lenSize + len(node.Value)
		mt.index.RemoveMark(key)
	case ok:
	default:
		mt.index.RemoveMark(key)
		mt.size += tombstoneRecordSize(key)
	}
	return nil
}

// Get returns a copy of the live value of key.
func (mt *Memtable) Get(key string) ([]byte, error) {
	node, ok := mt.index.GetNode(key)
	if !ok || node.Tombstone {
		return nil, dberrors.ErrNotFound
	}
	return slices.Clone(node.Value), nil
}

// ContainsKey reports whether key has a live value or a tombstone here.
func (mt *Memtable) ContainsKey(key string) bool {
	return mt.index.Contains(key)
}

// IsRemoved reports whether key is absent or tombstoned.
func (mt *Memtable) IsRemoved(key string) bool {
	return !mt.index.ContainsLive(key)
}

func (mt *Memtable) Size() int {
	return mt.size
}

// Len is the number of keys, tombstones included.
func (mt *Memtable) Len() int {
	return mt.index.Size()
}

// Iterator returns a cursor over every key in ascending order, tombstones
// included.
func (mt *Memtable) Iterator() (iterator.Iterator, error) {
	return NewCursor(mt.index), nil
}

// Clean drops all contents.
func (mt *Memtable) Clean() {
	mt.index = NewIndex()
	mt.size = 0
}
