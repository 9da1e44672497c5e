// Package wal journals memtable mutations so that writes acknowledged
// before a crash can be replayed into a fresh memtable on open.
//
// Entry layout, little-endian:
//
//	crc32   uint32 (IEEE, over everything after it)
//	op      uint8
//	key_len uint32
//	key
//	val_len uint32
//	val
package wal

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync"

	"lsmkv/pkg/dberrors"
	"lsmkv/pkg/listener"
)

const fileName = "wal.log"

type Op uint8

const (
	OpSet Op = iota + 1
	OpRemove
)

// Entry is one journaled mutation.
type Entry struct {
	Op    Op
	Key   string
	Value []byte
}

type request struct {
	entry Entry
	ack   chan error
}

// WAL writes entries on a listener goroutine; Append blocks until its
// entry is written (and synced, if enabled).
type WAL struct {
	*listener.Listener[request]

	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	filePath string
	sync     bool
	logger   *slog.Logger

	// guards inputCh against sends after Close
	state   sync.RWMutex
	closed  bool
	started bool
	inputCh chan request
}

// Path returns the location of the log kept in dir.
func Path(dir string) string {
	return filepath.Join(filepath.Clean(dir), fileName)
}

// New opens (creating if needed) the log in dir.
func New(dir string, syncWrites bool, logger *slog.Logger) (*WAL, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: empty WAL dir", dberrors.ErrInvalidInput)
	}
	if logger == nil {
		logger = slog.Default()
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("%w: failed to create WAL directory: %w", dberrors.ErrIOFailure, err)
	}

	filePath := Path(dir)
	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open WAL file: %w", dberrors.ErrIOFailure, err)
	}

	w := &WAL{
		file:     file,
		writer:   bufio.NewWriter(file),
		filePath: filePath,
		sync:     syncWrites,
		logger:   logger,
		inputCh:  make(chan request),
	}
	w.Listener = listener.New(w.inputCh, w.writeFile, w.stop).WithLogger(logger)

	return w, nil
}

// Start launches the writer goroutine.
func (w *WAL) Start(ctx context.Context) {
	w.state.Lock()
	defer w.state.Unlock()
	if w.started || w.closed {
		return
	}
	w.started = true
	w.Listener.Start(ctx)
}

func (w *WAL) Append(entry Entry) error {
	w.state.RLock()
	defer w.state.RUnlock()
	if w.closed {
		return dberrors.ErrClosed
	}
	if !w.started {
		return fmt.Errorf("%w: WAL not started", dberrors.ErrInvalidInput)
	}

	req := request{entry: entry, ack: make(chan error, 1)}
	w.inputCh <- req
	return <-req.ack
}

// will be called async by WAL.listener on input in WAL.inputCh
func (w *WAL) writeFile(req request) error {
	err := w.write(req.entry)
	req.ack <- err
	return err
}

func (w *WAL) write(entry Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("%w: failed to write WAL entry: %w", dberrors.ErrIOFailure, err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush WAL: %w", dberrors.ErrIOFailure, err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: failed to sync WAL: %w", dberrors.ErrIOFailure, err)
		}
	}
	return nil
}

// Replay feeds every intact entry to callback in write order. A torn
// entry at the tail (a crash mid-append) ends the replay without error.
func (w *WAL) Replay(callback func(Entry) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush WAL before replay: %w", dberrors.ErrIOFailure, err)
	}

	file, err := os.Open(w.filePath)
	if err != nil {
		return fmt.Errorf("%w: failed to open WAL for reading: %w", dberrors.ErrIOFailure, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			w.logger.Warn("failed to close WAL read file", "error", cerr)
		}
	}()

	counter := &countingReader{r: file}
	reader := bufio.NewReader(counter)
	var good int64
	for n := 0; ; n++ {
		entry, err := readEntry(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errChecksum) {
				w.logger.Warn("WAL tail is torn, truncating", "entries", n, "offset", good, "error", err)
				if terr := w.file.Truncate(good); terr != nil {
					return fmt.Errorf("%w: failed to truncate torn WAL: %w", dberrors.ErrIOFailure, terr)
				}
				return nil
			}
			return fmt.Errorf("%w: failed to read WAL entry: %w", dberrors.ErrIOFailure, err)
		}

		good = counter.n - int64(reader.Buffered())

		if err := callback(entry); err != nil {
			return fmt.Errorf("WAL replay callback failed: %w", err)
		}
	}
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Reset truncates the log once its entries are durable elsewhere.
func (w *WAL) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("%w: failed to flush WAL: %w", dberrors.ErrIOFailure, err)
	}
	if err := w.file.Truncate(0); err != nil {
		return fmt.Errorf("%w: failed to truncate WAL: %w", dberrors.ErrIOFailure, err)
	}
	if w.sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: failed to sync WAL: %w", dberrors.ErrIOFailure, err)
		}
	}
	w.writer.Reset(w.file)
	return nil
}

func (w *WAL) Close() error {
	w.state.Lock()
	if w.closed {
		w.state.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.state.Unlock()

	if started {
		w.Stop()
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		_ = w.file.Close()
		return fmt.Errorf("%w: failed to flush WAL on close: %w", dberrors.ErrIOFailure, err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("%w: failed to close WAL file: %w", dberrors.ErrIOFailure, err)
	}
	return nil
}

var errChecksum = errors.New("checksum mismatch")

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	if uint64(len(entry.Key)) > math.MaxUint32 || uint64(len(entry.Value)) > math.MaxUint32 {
		return fmt.Errorf("entry too large: key %d, value %d", len(entry.Key), len(entry.Value))
	}

	body := make([]byte, 0, 1+4+len(entry.Key)+4+len(entry.Value))
	body = append(body, byte(entry.Op))
	body = binary.LittleEndian.AppendUint32(body, uint32(len(entry.Key)))
	body = append(body, entry.Key...)
	body = binary.LittleEndian.AppendUint32(body, uint32(len(entry.Value)))
	body = append(body, entry.Value...)

	if err := binary.Write(w.writer, binary.LittleEndian, crc32.ChecksumIEEE(body)); err != nil {
		return err
	}
	_, err := w.writer.Write(body)
	return err
}

// readEntry reads a single entry from the WAL
func readEntry(reader *bufio.Reader) (Entry, error) {
	var entry Entry

	var sum uint32
	if err := binary.Read(reader, binary.LittleEndian, &sum); err != nil {
		return entry, err
	}
	crc := crc32.NewIEEE()
	tee := io.TeeReader(reader, crc)

	var op uint8
	if err := binary.Read(tee, binary.LittleEndian, &op); err != nil {
		return entry, unexpected(err)
	}
	entry.Op = Op(op)

	key, err := readBytes(tee)
	if err != nil {
		return entry, err
	}
	entry.Key = string(key)

	if entry.Value, err = readBytes(tee); err != nil {
		return entry, err
	}
	if crc.Sum32() != sum {
		return entry, errChecksum
	}
	if entry.Op != OpSet && entry.Op != OpRemove {
		return entry, fmt.Errorf("unknown op %d", op)
	}
	if entry.Op == OpRemove {
		entry.Value = nil
	}

	return entry, nil
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, unexpected(err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, unexpected(err)
	}
	return buf, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

func (w *WAL) stop() {
	close(w.inputCh)
}
