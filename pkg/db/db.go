// Package db exposes named key-value stores behind one Store contract,
// backed either by disk (DiskStore) or purely by memory.
package db

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"lsmkv/pkg/config"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/store"
)

// Store is the key-value contract shared by every store flavor.
type Store interface {
	Set(key string, value []byte) error
	// Get fails with dberrors.ErrNotFound for absent or removed keys.
	Get(key string) ([]byte, error)
	Remove(key string) error
	Iterator() (iterator.Iterator, error)
}

var (
	_ Store = (*store.DiskStore)(nil)
	_ Store = (*memtable.Memtable)(nil)
	_ Store = (*memoryStore)(nil)
)

// Engine is a registry of named stores.
type Engine struct {
	stores *xsync.MapOf[string, Store]
	open   func(name string) (Store, error)
	closed atomic.Bool
}

// NewMemoryEngine returns an engine whose stores live only in memory and
// delete keys outright instead of keeping tombstones.
func NewMemoryEngine() *Engine {
	return &Engine{
		stores: xsync.NewMapOf[string, Store](),
		open: func(string) (Store, error) {
			return newMemoryStore(), nil
		},
	}
}

// NewDiskEngine returns an engine of DiskStores under cfg.RootPath. Stores
// already present on disk are opened and registered; other directories
// under the root are left alone.
func NewDiskEngine(cfg config.StorageConfig, opts ...store.Option) (*Engine, error) {
	e := &Engine{
		stores: xsync.NewMapOf[string, Store](),
		open: func(name string) (Store, error) {
			return store.Open(name, cfg, opts...)
		},
	}

	if err := os.MkdirAll(cfg.RootPath, 0o750); err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", dberrors.ErrIOFailure, cfg.RootPath, err)
	}
	entries, err := os.ReadDir(cfg.RootPath)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", dberrors.ErrIOFailure, cfg.RootPath, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || !persistence.NewLayout(cfg.RootPath, entry.Name()).Exists() {
			continue
		}
		if _, err := e.CreateStore(entry.Name()); err != nil {
			return nil, errors.Join(err, e.Close())
		}
	}

	return e, nil
}

// CreateStore opens a new store. It fails with dberrors.ErrInvalidInput if
// name is already registered.
func (e *Engine) CreateStore(name string) (Store, error) {
	if e.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	var (
		created Store
		err     error
	)
	e.stores.Compute(name, func(old Store, loaded bool) (Store, bool) {
		if loaded {
			err = fmt.Errorf("%w: store %q already exists", dberrors.ErrInvalidInput, name)
			return old, false
		}
		created, err = e.open(name)
		if err != nil {
			return nil, true
		}
		return created, false
	})

	return created, err
}

// GetStore fails with dberrors.ErrNotFound for unknown names.
func (e *Engine) GetStore(name string) (Store, error) {
	if e.closed.Load() {
		return nil, dberrors.ErrClosed
	}
	st, ok := e.stores.Load(name)
	if !ok {
		return nil, fmt.Errorf("%w: store %q", dberrors.ErrNotFound, name)
	}
	return st, nil
}

// Stores lists registered store names in ascending order.
func (e *Engine) Stores() []string {
	names := make([]string, 0, e.stores.Size())
	e.stores.Range(func(name string, _ Store) bool {
		names = append(names, name)
		return true
	})
	slices.Sort(names)
	return names
}

// Close closes every store. Further calls fail with dberrors.ErrClosed.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return dberrors.ErrClosed
	}

	var errs []error
	e.stores.Range(func(name string, st Store) bool {
		if c, ok := st.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close store %q: %w", name, err))
			}
		}
		e.stores.Delete(name)
		return true
	})
	return errors.Join(errs...)
}
