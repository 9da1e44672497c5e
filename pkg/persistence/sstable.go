package persistence

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/types"
)

// sparseEntry is a checkpoint into the dense index file.
type sparseEntry struct {
	key    string
	offset int64
}

// SSTable is one immutable generation: a data file, a dense index file,
// and the in-memory sparse index and bloom filter over them.
//
// An SSTable holds no open files. Every lookup and every iterator opens
// its own handles, so any number of readers may use it concurrently.
type SSTable struct {
	layout Layout
	info   GenerationInfo
	sparse []sparseEntry
	bloom  *BloomFilter
}

// Open reloads a committed generation, rebuilding the sparse index and the
// bloom filter from its dense index file.
func Open(layout Layout, info GenerationInfo, bloomFPRate float64) (*SSTable, error) {
	st, err := os.Stat(layout.DataPath(info.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: generation %d: %w", dberrors.ErrIOFailure, info.ID, err)
	}
	if st.Size() != info.Size {
		return nil, fmt.Errorf("%w: generation %d: data file is %d bytes, manifest says %d",
			dberrors.ErrIOFailure, info.ID, st.Size(), info.Size)
	}

	raw, err := os.ReadFile(layout.IndexPath(info.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: generation %d: %w", dberrors.ErrIOFailure, info.ID, err)
	}

	t := &SSTable{
		layout: layout,
		info:   info,
		bloom:  NewBloomFilter(info.Records, bloomFPRate),
	}
	r := bytes.NewReader(raw)
	var off int64
	for i := 0; off < int64(len(raw)); i++ {
		e, err := encoding.ReadIndexEntry(r, off)
		if err != nil {
			return nil, fmt.Errorf("generation %d: %w", info.ID, err)
		}
		if info.Stride > 0 && i%info.Stride == 0 {
			t.sparse = append(t.sparse, sparseEntry{key: e.Key, offset: off})
		}
		t.bloom.Add(e.Key)
		off += int64(e.EncodedLen())
	}

	return t, nil
}

func (t *SSTable) ID() types.GenerationID {
	return t.info.ID
}

// Size is the data file size in bytes.
func (t *SSTable) Size() int64 {
	return t.info.Size
}

func (t *SSTable) Records() int {
	return t.info.Records
}

func (t *SSTable) Info() GenerationInfo {
	return t.info
}

// Contains reports whether the generation holds a record for key,
// tombstones included.
func (t *SSTable) Contains(key string) (bool, error) {
	_, err := t.Lookup(key)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, dberrors.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// Lookup returns the record stored for key, which may be a tombstone.
func (t *SSTable) Lookup(key string) (encoding.Record, error) {
	if t.info.Size == 0 || !t.bloom.MayContain(key) {
		return encoding.Record{}, dberrors.ErrNotFound
	}

	it, err := t.Iterator()
	if err != nil {
		return encoding.Record{}, err
	}
	defer it.Close()

	if err := it.Seek(key); err != nil {
		return encoding.Record{}, err
	}
	return it.Record()
}

// Get returns the live value for key.
func (t *SSTable) Get(key string) ([]byte, error) {
	rec, err := t.Lookup(key)
	if err != nil {
		return nil, err
	}
	if rec.Tombstone {
		return nil, dberrors.ErrNotFound
	}
	return rec.Value, nil
}

func (t *SSTable) Timestamp(key string) (types.Timestamp, error) {
	rec, err := t.Lookup(key)
	if err != nil {
		return 0, err
	}
	return rec.Timestamp, nil
}

func (t *SSTable) Set(string, []byte) error {
	return fmt.Errorf("%w: generation %d is immutable", dberrors.ErrActionForbidden, t.info.ID)
}

func (t *SSTable) Remove(string) error {
	return fmt.Errorf("%w: generation %d is immutable", dberrors.ErrActionForbidden, t.info.ID)
}

// Iterator opens a cursor over the generation. The caller must Close it.
func (t *SSTable) Iterator() (*Iterator, error) {
	data, err := os.Open(t.layout.DataPath(t.info.ID))
	if err != nil {
		return nil, fmt.Errorf("%w: open generation %d: %w", dberrors.ErrIOFailure, t.info.ID, err)
	}
	index, err := os.Open(t.layout.IndexPath(t.info.ID))
	if err != nil {
		_ = data.Close()
		return nil, fmt.Errorf("%w: open generation %d index: %w", dberrors.ErrIOFailure, t.info.ID, err)
	}
	return newIterator(t, data, index), nil
}

// Clean deletes both backing files.
func (t *SSTable) Clean() error {
	var errs []error
	for _, path := range []string{t.layout.DataPath(t.info.ID), t.layout.IndexPath(t.info.ID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("%w: %w", dberrors.ErrIOFailure, err))
		}
	}
	return errors.Join(errs...)
}

// bracket finds the tightest dense-index range [lo, hi] that may hold key.
// -1 marks an open end. An exact sparse hit returns lo == hi.
func (t *SSTable) bracket(key string) (lo, hi int64) {
	lo, hi = -1, -1
	i := sort.Search(len(t.sparse), func(i int) bool {
		return t.sparse[i].key >= key
	})
	if i < len(t.sparse) {
		if t.sparse[i].key == key {
			return t.sparse[i].offset, t.sparse[i].offset
		}
		hi = t.sparse[i].offset
	}
	if i > 0 {
		lo = t.sparse[i-1].offset
	}
	return lo, hi
}
