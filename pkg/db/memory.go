package db

import (
	"slices"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/rwlock"
)

// memoryStore keeps no tombstones: Remove deletes the key outright.
type memoryStore struct {
	lock  *rwlock.RWLock
	index *memtable.Index
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		lock:  rwlock.New(),
		index: memtable.NewIndex(),
	}
}

func (m *memoryStore) Set(key string, value []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.index.Insert(key, append(make([]byte, 0, len(value)), value...))
	return nil
}

func (m *memoryStore) Get(key string) ([]byte, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	v, ok := m.index.Get(key)
	if !ok {
		return nil, dberrors.ErrNotFound
	}
	return slices.Clone(v), nil
}

// Remove fails with dberrors.ErrNotFound for absent keys.
func (m *memoryStore) Remove(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.index.RemoveNode(key)
}

// Iterator walks a snapshot taken at call time.
func (m *memoryStore) Iterator() (iterator.Iterator, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	return memtable.NewCursor(m.index.Clone()), nil
}
