package persistence

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/encoding"
	"lsmkv/pkg/types"
)

// BuildOptions tune one generation write.
type BuildOptions struct {
	// Stride is the number of records between sparse index checkpoints.
	// Zero disables the sparse index.
	Stride int
	// ExpectedKeys sizes the bloom filter.
	ExpectedKeys int
	BloomFPRate  float64
}

// Stride converts an index ratio into a checkpoint interval for a
// memtable of the given byte size.
func Stride(memtableSize int, ratio float64) int {
	if memtableSize == 0 || ratio <= 0 {
		return 0
	}
	return int(math.Round(1 / ratio))
}

// Builder writes one generation from records supplied in ascending key
// order. Files are written under temporary names and only renamed into
// place by Finish.
type Builder struct {
	layout Layout
	id     types.GenerationID
	opts   BuildOptions

	dataFile  *os.File
	indexFile *os.File
	data      *bufio.Writer
	index     *bufio.Writer
	buf       []byte

	dataOffset      int64
	indexOffset     int64
	lastIndexOffset int64
	lastKey         string
	records         int
	maxTimestamp    types.Timestamp

	sparse []sparseEntry
	bloom  *BloomFilter
}

func NewBuilder(layout Layout, id types.GenerationID, opts BuildOptions) (*Builder, error) {
	if err := layout.Ensure(); err != nil {
		return nil, err
	}

	dataFile, err := os.OpenFile(layout.DataPath(id)+tmpExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: create data file: %w", dberrors.ErrIOFailure, err)
	}
	indexFile, err := os.OpenFile(layout.IndexPath(id)+tmpExt, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = dataFile.Close()
		_ = os.Remove(dataFile.Name())
		return nil, fmt.Errorf("%w: create index file: %w", dberrors.ErrIOFailure, err)
	}

	return &Builder{
		layout:    layout,
		id:        id,
		opts:      opts,
		dataFile:  dataFile,
		indexFile: indexFile,
		data:      bufio.NewWriter(dataFile),
		index:     bufio.NewWriter(indexFile),
		bloom:     NewBloomFilter(opts.ExpectedKeys, opts.BloomFPRate),
	}, nil
}

// Add appends rec. Keys must be strictly ascending.
func (b *Builder) Add(rec encoding.Record) error {
	if b.records > 0 && rec.Key <= b.lastKey {
		return fmt.Errorf("%w: key %q added after %q", dberrors.ErrInvalidInput, rec.Key, b.lastKey)
	}
	if b.dataOffset > math.MaxInt32 {
		return fmt.Errorf("%w: generation %d exceeds 32-bit offsets", dberrors.ErrInvalidInput, b.id)
	}

	if b.opts.Stride > 0 && b.records%b.opts.Stride == 0 {
		b.sparse = append(b.sparse, sparseEntry{key: rec.Key, offset: b.indexOffset})
	}

	entry := encoding.IndexEntry{Key: rec.Key, DataOffset: int32(b.dataOffset)}
	b.buf = entry.Encode(b.buf[:0])
	if _, err := b.index.Write(b.buf); err != nil {
		return fmt.Errorf("%w: write index entry: %w", dberrors.ErrIOFailure, err)
	}

	var err error
	b.buf, err = rec.Encode(b.buf[:0])
	if err != nil {
		return err
	}
	if _, err := b.data.Write(b.buf); err != nil {
		return fmt.Errorf("%w: write record: %w", dberrors.ErrIOFailure, err)
	}

	b.bloom.Add(rec.Key)
	b.lastIndexOffset = b.indexOffset
	b.indexOffset += int64(entry.EncodedLen())
	b.dataOffset += int64(rec.EncodedLen())
	b.lastKey = rec.Key
	b.records++
	b.maxTimestamp = max(b.maxTimestamp, rec.Timestamp)

	return nil
}

// Finish makes the generation durable and returns it opened.
func (b *Builder) Finish() (*SSTable, error) {
	if err := b.closeFile(b.data, b.dataFile); err != nil {
		_ = b.indexFile.Close()
		b.removeTmp()
		return nil, err
	}
	if err := b.closeFile(b.index, b.indexFile); err != nil {
		b.removeTmp()
		return nil, err
	}

	renames := [][2]string{
		{b.layout.DataPath(b.id) + tmpExt, b.layout.DataPath(b.id)},
		{b.layout.IndexPath(b.id) + tmpExt, b.layout.IndexPath(b.id)},
	}
	for _, r := range renames {
		if err := os.Rename(r[0], r[1]); err != nil {
			b.removeTmp()
			return nil, fmt.Errorf("%w: rename %s: %w", dberrors.ErrIOFailure, filepath.Base(r[0]), err)
		}
	}
	for _, dir := range []string{b.layout.DataDir(), b.layout.IndexDir()} {
		if err := syncDir(dir); err != nil {
			return nil, err
		}
	}

	return &SSTable{
		layout: b.layout,
		info: GenerationInfo{
			ID:              b.id,
			Size:            b.dataOffset,
			Stride:          b.opts.Stride,
			LastIndexOffset: b.lastIndexOffset,
			Records:         b.records,
			MaxTimestamp:    b.maxTimestamp,
		},
		sparse: b.sparse,
		bloom:  b.bloom,
	}, nil
}

// Discard abandons the write and removes the temporary files.
func (b *Builder) Discard() error {
	dataErr := b.dataFile.Close()
	indexErr := b.indexFile.Close()
	b.removeTmp()
	if dataErr != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, dataErr)
	}
	if indexErr != nil {
		return fmt.Errorf("%w: %w", dberrors.ErrIOFailure, indexErr)
	}
	return nil
}

func (b *Builder) closeFile(w *bufio.Writer, f *os.File) error {
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: flush %s: %w", dberrors.ErrIOFailure, filepath.Base(f.Name()), err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("%w: sync %s: %w", dberrors.ErrIOFailure, filepath.Base(f.Name()), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", dberrors.ErrIOFailure, filepath.Base(f.Name()), err)
	}
	return nil
}

func (b *Builder) removeTmp() {
	_ = os.Remove(b.layout.DataPath(b.id) + tmpExt)
	_ = os.Remove(b.layout.IndexPath(b.id) + tmpExt)
}
