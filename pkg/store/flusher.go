package store

import (
	"context"
	"fmt"
	"time"

	"github.com/zhangyunhao116/skipmap"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"lsmkv/pkg/encoding"
	"lsmkv/pkg/iterator"
	"lsmkv/pkg/persistence"
	"lsmkv/pkg/types"
)

// maybeFlush flushes once the memtable has reached the threshold.
// Called with the write lock held.
func (s *DiskStore) maybeFlush() error {
	s.metrics.SetMemtableBytes(s.name, s.mt.Size())
	if s.mt.Size() < s.cfg.Memtable.FlushThresholdBytes {
		return nil
	}
	return s.flush(context.Background())
}

// flush writes the memtable as a new generation, every record stamped with
// one timestamp. Called with the write lock held.
func (s *DiskStore) flush(ctx context.Context) (err error) {
	if s.mt.Len() == 0 {
		return nil
	}

	id := s.nextID
	_, span := s.tracer.Start(ctx, "store.flush", trace.WithAttributes(
		attribute.String("store", s.name),
		attribute.Int("generation", id),
		attribute.Int("memtable.bytes", s.mt.Size()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	ts := s.clock.Next()

	b, err := persistence.NewBuilder(s.layout, id, persistence.BuildOptions{
		Stride:       persistence.Stride(s.mt.Size(), s.indexRatio),
		ExpectedKeys: s.mt.Len(),
		BloomFPRate:  s.cfg.BloomFilter.FPRate,
	})
	if err != nil {
		return fmt.Errorf("flush generation %d: %w", id, err)
	}

	it, err := s.mt.Iterator()
	if err != nil {
		_ = b.Discard()
		return err
	}
	defer it.Close()

	for it.Valid() {
		if err := it.Next(); err != nil {
			_ = b.Discard()
			return err
		}
		rec, err := memtableRecord(it, ts)
		if err != nil {
			_ = b.Discard()
			return err
		}
		if err := b.Add(rec); err != nil {
			_ = b.Discard()
			return fmt.Errorf("flush generation %d: %w", id, err)
		}
	}

	table, err := b.Finish()
	if err != nil {
		return fmt.Errorf("flush generation %d: %w", id, err)
	}

	gens := append(s.gens[:len(s.gens):len(s.gens)], table)
	if err := s.commit(gens, id+1); err != nil {
		if cerr := table.Clean(); cerr != nil {
			s.logger.Warn("failed to remove uncommitted generation", "generation", id, "error", cerr)
		}
		return fmt.Errorf("flush generation %d: %w", id, err)
	}

	s.mt.Clean()
	s.metrics.SetMemtableBytes(s.name, 0)
	if s.jr != nil {
		if err := s.jr.Reset(); err != nil {
			return fmt.Errorf("flush generation %d: %w", id, err)
		}
	}

	s.metrics.ObserveFlush(s.name, table.Size(), time.Since(start))
	s.logger.Debug("memtable flushed",
		"generation", id,
		"records", table.Records(),
		"bytes", table.Size(),
		"duration", time.Since(start),
	)

	return nil
}

func memtableRecord(it iterator.Iterator, ts types.Timestamp) (encoding.Record, error) {
	key, err := it.Key()
	if err != nil {
		return encoding.Record{}, err
	}
	tomb, err := it.Tombstone()
	if err != nil {
		return encoding.Record{}, err
	}
	rec := encoding.Record{Key: key, Timestamp: ts, Tombstone: tomb}
	if !tomb {
		if rec.Value, err = it.Value(); err != nil {
			return encoding.Record{}, err
		}
	}
	return rec, nil
}

// compact flushes the memtable and merges every generation into one,
// keeping per key the record with the highest timestamp (the newer
// generation on a tie) and dropping tombstones. Called with the write
// lock held.
func (s *DiskStore) compact(ctx context.Context) (err error) {
	if err := s.flush(ctx); err != nil {
		return err
	}

	inputs := s.gens
	id := s.nextID
	_, span := s.tracer.Start(ctx, "store.compact", trace.WithAttributes(
		attribute.String("store", s.name),
		attribute.Int("generation", id),
		attribute.Int("inputs", len(inputs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()

	fold := skipmap.NewFunc[string, encoding.Record](func(a, b string) bool {
		return a < b
	})
	for _, g := range inputs {
		if err := foldGeneration(fold, g); err != nil {
			return fmt.Errorf("compact: %w", err)
		}
	}

	var live, size int
	fold.Range(func(_ string, rec encoding.Record) bool {
		if !rec.Tombstone {
			live++
			size += rec.EncodedLen()
		}
		return true
	})

	b, err := persistence.NewBuilder(s.layout, id, persistence.BuildOptions{
		Stride:       persistence.Stride(size, s.indexRatio),
		ExpectedKeys: live,
		BloomFPRate:  s.cfg.BloomFilter.FPRate,
	})
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	var addErr error
	fold.Range(func(_ string, rec encoding.Record) bool {
		if rec.Tombstone {
			return true
		}
		addErr = b.Add(rec)
		return addErr == nil
	})
	if addErr != nil {
		_ = b.Discard()
		return fmt.Errorf("compact: %w", addErr)
	}

	merged, err := b.Finish()
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	if err := s.commit([]*persistence.SSTable{merged}, id+1); err != nil {
		if cerr := merged.Clean(); cerr != nil {
			s.logger.Warn("failed to remove uncommitted generation", "generation", id, "error", cerr)
		}
		return fmt.Errorf("compact: %w", err)
	}

	for _, g := range inputs {
		if err := g.Clean(); err != nil {
			s.logger.Warn("failed to remove compacted generation", "generation", g.ID(), "error", err)
		}
	}

	s.metrics.ObserveCompaction(s.name, len(inputs), time.Since(start))
	s.logger.Debug("generations compacted",
		"inputs", len(inputs),
		"generation", id,
		"records", merged.Records(),
		"bytes", merged.Size(),
		"duration", time.Since(start),
	)

	return nil
}

func foldGeneration(fold *skipmap.FuncMap[string, encoding.Record], g *persistence.SSTable) error {
	it, err := g.Iterator()
	if err != nil {
		return err
	}
	defer it.Close()

	for it.Valid() {
		if err := it.Next(); err != nil {
			return err
		}
		rec, err := it.Record()
		if err != nil {
			return err
		}
		if held, ok := fold.Load(rec.Key); ok && rec.Timestamp < held.Timestamp {
			continue
		}
		fold.Store(rec.Key, rec)
	}
	return it.Err()
}
