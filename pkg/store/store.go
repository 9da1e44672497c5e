package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lsmkv/pkg/clock"
	"lsmkv/pkg/config"
	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/listener"
	"lsmkv/pkg/memtable"
	"lsmkv/pkg/metrics"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/rwlock"
	"lsmkv/pkg/types"
	"lsmkv/pkg/wal"
)

const tracerName = "lsmkv/pkg/store"

type iJournal interface {
	listener.Job

	Append(e wal.Entry) error
	Replay(callback func(wal.Entry) error) error
	Reset() error
	Close() error
}

type iClock interface {
	Next() types.Timestamp
	Set(t types.Timestamp)
}

type Option func(*DiskStore)

// WithClock replaces the timestamp source used to stamp flushed records.
func WithClock(c iClock) Option {
	return func(s *DiskStore) {
		s.clock = c
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(s *DiskStore) {
		s.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *DiskStore) {
		s.logger = l
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *DiskStore) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// DiskStore is one named store: a memtable in front of an ordered list of
// immutable on-disk generations.
type DiskStore struct {
	name   string
	cfg    config.StorageConfig
	layout persistence.Layout
	lock   *rwlock.RWLock

	// guarded by lock
	mt         *memtable.Memtable
	gens       []*persistence.SSTable // oldest first
	nextID     types.GenerationID
	indexRatio float64
	closed     bool

	manifest *persistence.Manifest
	jr       iJournal
	clock    iClock
	metrics  metrics.Collector
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Open opens the store name under cfg.RootPath, creating it if needed.
// Committed generations are reloaded, files left over by an interrupted
// flush are removed, and the WAL, if enabled, is replayed into the memtable.
func Open(name string, cfg config.StorageConfig, opts ...Option) (*DiskStore, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if r := cfg.SSTable.IndexRatio; r <= 0 || r > 1 {
		return nil, fmt.Errorf("%w: index ratio %v", dberrors.ErrInvalidInput, r)
	}

	s := &DiskStore{
		name:       name,
		cfg:        cfg,
		layout:     persistence.NewLayout(cfg.RootPath, name),
		lock:       rwlock.New(),
		mt:         memtable.New(),
		indexRatio: cfg.SSTable.IndexRatio,
		metrics:    metrics.Nop{},
		logger:     slog.Default(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("store", name)

	err := s.layout.Ensure()
	if err != nil {
		return nil, err
	}
	if err := s.loadGenerations(); err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}

	var maxTS types.Timestamp
	for _, g := range s.gens {
		maxTS = max(maxTS, g.Info().MaxTimestamp)
	}
	if s.clock == nil {
		s.clock = clock.NewAtomic(maxTS)
	} else {
		s.clock.Set(maxTS)
	}

	if cfg.WAL.Enabled {
		err = s.openJournal()
	} else {
		err = s.drainJournal()
	}
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", name, err)
	}

	s.metrics.SetGenerations(name, len(s.gens))
	s.metrics.SetMemtableBytes(name, s.mt.Size())
	s.logger.Info("store opened",
		"path", s.layout.Dir(),
		"generations", len(s.gens),
		"next_generation", s.nextID,
		"memtable_bytes", s.mt.Size(),
	)

	return s, nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: store name %q", dberrors.ErrInvalidInput, name)
	}
	return nil
}

func (s *DiskStore) loadGenerations() error {
	s.manifest = persistence.NewManifest(s.layout)
	if err := s.manifest.Load(); err != nil {
		return err
	}
	md := s.manifest.Data()

	s.nextID = md.NextGeneration
	live := make([]types.GenerationID, 0, len(md.Generations))
	for _, info := range md.Generations {
		table, err := persistence.Open(s.layout, info, s.cfg.BloomFilter.FPRate)
		if err != nil {
			return err
		}
		s.gens = append(s.gens, table)
		live = append(live, info.ID)
		s.nextID = max(s.nextID, info.ID+1)
	}

	orphans, err := s.layout.Orphans(live)
	if err != nil {
		return err
	}
	for _, path := range orphans {
		s.logger.Warn("removing file not referenced by manifest", "path", path)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove orphan: %w", dberrors.ErrIOFailure, err)
		}
	}
	return nil
}

func (s *DiskStore) openJournal() error {
	journal, err := wal.New(s.layout.Dir(), s.cfg.WAL.Sync, s.logger)
	if err != nil {
		return err
	}
	if err := s.replay(journal); err != nil {
		_ = journal.Close()
		return err
	}

	journal.Start(context.Background())
	s.jr = journal
	return nil
}

// drainJournal is openJournal for a store opened without a WAL: entries
// left by an earlier run are replayed, flushed into a generation and the
// log is removed.
func (s *DiskStore) drainJournal() error {
	path := wal.Path(s.layout.Dir())
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: stat WAL: %w", dberrors.ErrIOFailure, err)
	}

	if info.Size() > 0 {
		journal, err := wal.New(s.layout.Dir(), s.cfg.WAL.Sync, s.logger)
		if err != nil {
			return err
		}
		if err := s.replay(journal); err != nil {
			_ = journal.Close()
			return err
		}
		if err := journal.Close(); err != nil {
			return err
		}
		if err := s.flush(context.Background()); err != nil {
			return err
		}
	}

	s.logger.Warn("WAL disabled, removing leftover log", "path", path, "bytes", info.Size())
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: remove WAL: %w", dberrors.ErrIOFailure, err)
	}
	return nil
}

func (s *DiskStore) replay(journal *wal.WAL) error {
	replayed := 0
	err := journal.Replay(func(e wal.Entry) error {
		replayed++
		switch e.Op {
		case wal.OpSet:
			return s.mt.Set(e.Key, e.Value)
		case wal.OpRemove:
			return s.mt.Remove(e.Key)
		default:
			return fmt.Errorf("%w: unknown WAL op %d", dberrors.ErrIOFailure, e.Op)
		}
	})
	if err != nil {
		return err
	}
	if replayed > 0 {
		s.logger.Info("replayed WAL", "entries", replayed, "memtable_bytes", s.mt.Size())
	}
	return nil
}

func (s *DiskStore) Name() string {
	return s.name
}

// Set stores value under key, flushing the memtable once it reaches the
// configured threshold.
func (s *DiskStore) Set(key string, value []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	s.metrics.IncOp(s.name, metrics.OpSet)

	if s.jr != nil {
		if err := s.jr.Append(wal.Entry{Op: wal.OpSet, Key: key, Value: value}); err != nil {
			return fmt.Errorf("set %q: %w", key, err)
		}
	}
	if err := s.mt.Set(key, value); err != nil {
		return err
	}

	return s.maybeFlush()
}

// Remove records a tombstone for key. Removing an absent key succeeds.
func (s *DiskStore) Remove(key string) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	s.metrics.IncOp(s.name, metrics.OpRemove)

	if s.jr != nil {
		if err := s.jr.Append(wal.Entry{Op: wal.OpRemove, Key: key}); err != nil {
			return fmt.Errorf("remove %q: %w", key, err)
		}
	}
	if err := s.mt.Remove(key); err != nil {
		return err
	}

	return s.maybeFlush()
}

// Get returns the newest live value of key. The memtable shadows every
// generation; among generations the highest timestamp wins, and the
// newer generation on a tie.
func (s *DiskStore) Get(key string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.closed {
		return nil, dberrors.ErrClosed
	}
	s.metrics.IncOp(s.name, metrics.OpGet)

	if s.mt.ContainsKey(key) {
		return s.mt.Get(key)
	}

	var (
		best  encoding.Record
		found bool
	)
	for _, g := range s.gens {
		rec, err := g.Lookup(key)
		if errors.Is(err, dberrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get %q: %w", key, err)
		}
		if !found || rec.Timestamp >= best.Timestamp {
			best, found = rec, true
		}
	}

	if !found || best.Tombstone {
		return nil, dberrors.ErrNotFound
	}
	return best.Value, nil
}

// Iterator flushes and fully compacts the store, then returns a cursor
// over the merged generation: every live key once, in ascending order.
// The caller must Close it.
func (s *DiskStore) Iterator() (iterator.Iterator, error) {
	it, err := s.Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Scan is Iterator with a context for the flush and compaction spans.
func (s *DiskStore) Scan(ctx context.Context) (*persistence.Iterator, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, dberrors.ErrClosed
	}
	s.metrics.IncOp(s.name, metrics.OpIterator)

	if err := s.compact(ctx); err != nil {
		return nil, err
	}
	return s.gens[0].Iterator()
}

// Flush writes the memtable out as a new generation. An empty memtable is
// left alone.
func (s *DiskStore) Flush(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	return s.flush(ctx)
}

// Compact flushes the memtable and merges every generation into one.
func (s *DiskStore) Compact(ctx context.Context) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	return s.compact(ctx)
}

// SetIndexRatio changes the fraction of records that get a sparse index
// checkpoint in generations written from now on.
func (s *DiskStore) SetIndexRatio(ratio float64) error {
	if ratio <= 0 || ratio > 1 {
		return fmt.Errorf("%w: index ratio must be in (0,1], got %v", dberrors.ErrInvalidInput, ratio)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}
	s.indexRatio = ratio
	return nil
}

// Stats is a point-in-time view of a store.
type Stats struct {
	Name           string
	MemtableBytes  int
	MemtableKeys   int
	Generations    []persistence.GenerationInfo
	NextGeneration types.GenerationID
	IndexRatio     float64
}

func (s *DiskStore) Stats() (Stats, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	if s.closed {
		return Stats{}, dberrors.ErrClosed
	}

	st := Stats{
		Name:           s.name,
		MemtableBytes:  s.mt.Size(),
		MemtableKeys:   s.mt.Len(),
		NextGeneration: s.nextID,
		IndexRatio:     s.indexRatio,
		Generations:    make([]persistence.GenerationInfo, 0, len(s.gens)),
	}
	for _, g := range s.gens {
		st.Generations = append(st.Generations, g.Info())
	}
	return st, nil
}

// Close stops the WAL writer; unflushed writes stay in the WAL for the
// next Open. Without a WAL the memtable is flushed first, and a failed
// flush leaves the store open.
func (s *DiskStore) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return dberrors.ErrClosed
	}

	if s.jr == nil {
		if err := s.flush(context.Background()); err != nil {
			return fmt.Errorf("close store %s: %w", s.name, err)
		}
		s.closed = true
		return nil
	}
	s.closed = true
	if err := s.jr.Close(); err != nil {
		s.logger.Warn("failed to close WAL", "error", err)
		return err
	}
	return nil
}

func (s *DiskStore) generationInfos(gens []*persistence.SSTable) []persistence.GenerationInfo {
	infos := make([]persistence.GenerationInfo, 0, len(gens))
	for _, g := range gens {
		infos = append(infos, g.Info())
	}
	return infos
}

func (s *DiskStore) commit(gens []*persistence.SSTable, next types.GenerationID) error {
	if err := s.manifest.Commit(s.generationInfos(gens), next); err != nil {
		return err
	}
	s.gens = slices.Clip(gens)
	s.nextID = next
	s.metrics.SetGenerations(s.name, len(s.gens))
	return nil
}
