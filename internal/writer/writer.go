// Package writer implements the batched columnar writer: per-partition row
// buffering, time/size-triggered flush, and atomic `.tmp` -> final rename so
// readers never observe a partial file.
package writer

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parquet-go/parquet-go"

	"pmsurveil/internal/bucket"
	"pmsurveil/internal/schema"
)

// listEncodingKey/Value is stamped into every Parquet file's key-value
// metadata so the analytics reader can auto-detect the list encoding
// (native list columns, not JSON strings) instead of sniffing column types.
const (
	listEncodingKey   = "list_encoding"
	listEncodingValue = "native"
)

// partition buffers rows for one bucket.Key until a flush trigger fires.
type partition struct {
	rows     []schema.Row
	openedAt time.Time
	seq      int // disambiguating suffix for additional files in the same bucket
}

// Writer accumulates snapshot rows in memory per partition and flushes them
// to atomically-renamed Parquet files under root. One Writer instance is
// used for the order-book snapshot stream; a second, independently
// configured instance serves the optional trades side-channel.
type Writer struct {
	root         string
	flushRows    int
	flushSeconds time.Duration
	bucketMin    int
	pathFn       func(bucket.Key, string) string
	logger       *slog.Logger

	mu         sync.Mutex
	partitions map[bucket.Key]*partition

	rowsDropped atomic.Int64

	maxRetries int
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithTradesLayout switches the writer to the `{root}/trades/...` partition
// path instead of the default `{root}/orderbook_snapshots/...` layout.
func WithTradesLayout() Option {
	return func(w *Writer) {
		w.pathFn = bucket.Key.TradesPath
	}
}

// New creates a columnar writer rooted at root with the given flush
// thresholds and bucket width, all supplied by the caller from config.
func New(root string, flushRows int, flushSeconds time.Duration, bucketMinutes int, logger *slog.Logger, opts ...Option) *Writer {
	w := &Writer{
		root:         root,
		flushRows:    flushRows,
		flushSeconds: flushSeconds,
		bucketMin:    bucketMinutes,
		pathFn:       bucket.Key.SnapshotPath,
		logger:       logger.With("component", "writer"),
		partitions:   make(map[bucket.Key]*partition),
		maxRetries:   3,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write buffers one row, computing its partition from TsRecv, and flushes
// that partition synchronously if the size threshold is exceeded. Below the
// threshold the caller pays only a row append, so the snapshotter is never
// stalled behind file I/O it didn't trigger.
func (w *Writer) Write(venue string, row schema.Row) error {
	key := bucket.Of(venue, row.TsRecv, w.bucketMin)

	w.mu.Lock()
	p, ok := w.partitions[key]
	if !ok {
		p = &partition{openedAt: time.Now()}
		w.partitions[key] = p
	}
	p.rows = append(p.rows, row)
	full := len(p.rows) >= w.flushRows
	w.mu.Unlock()

	if full {
		return w.flushPartition(key)
	}
	return nil
}

// RowsBuffered reports the total number of rows currently held across every
// open partition, for the metrics reporter.
func (w *Writer) RowsBuffered() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	var n int64
	for _, p := range w.partitions {
		n += int64(len(p.rows))
	}
	return n
}

// RowsDropped reports the total number of rows lost to exhausted flush
// retries over the writer's lifetime. Losses are counted, never silently
// absorbed.
func (w *Writer) RowsDropped() int64 {
	return w.rowsDropped.Load()
}

// FlushDue flushes every partition whose buffer has held rows for at least
// flushSeconds. The flusher task calls this on a timer; size-based flush
// happens synchronously inside Write.
func (w *Writer) FlushDue() error {
	now := time.Now()
	w.mu.Lock()
	var due []bucket.Key
	for k, p := range w.partitions {
		if len(p.rows) > 0 && now.Sub(p.openedAt) >= w.flushSeconds {
			due = append(due, k)
		}
	}
	w.mu.Unlock()

	var firstErr error
	for _, k := range due {
		if err := w.flushPartition(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushAll flushes every non-empty partition regardless of age, used on
// graceful shutdown.
func (w *Writer) FlushAll() error {
	w.mu.Lock()
	keys := make([]bucket.Key, 0, len(w.partitions))
	for k, p := range w.partitions {
		if len(p.rows) > 0 {
			keys = append(keys, k)
		}
	}
	w.mu.Unlock()

	var firstErr error
	for _, k := range keys {
		if err := w.flushPartition(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// flushPartition writes the partition's buffered rows to a new Parquet file
// and resets the buffer. Writer errors are retried up to maxRetries; on
// exhaustion the buffer is dropped and the loss counted rather than let
// memory grow without bound.
func (w *Writer) flushPartition(key bucket.Key) error {
	w.mu.Lock()
	p, ok := w.partitions[key]
	if !ok || len(p.rows) == 0 {
		w.mu.Unlock()
		return nil
	}
	rows := p.rows
	p.rows = nil
	p.openedAt = time.Now()
	p.seq++
	seq := p.seq
	w.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= w.maxRetries; attempt++ {
		if err := w.writeFile(key, rows, seq); err != nil {
			lastErr = err
			w.logger.Warn("flush attempt failed", "partition", key.Label, "attempt", attempt, "error", err)
			continue
		}
		return nil
	}

	w.rowsDropped.Add(int64(len(rows)))
	w.logger.Error("dropping partition buffer after exhausted retries", "partition", key.Label, "rows", len(rows), "error", lastErr)
	return fmt.Errorf("flush %s after %d retries: %w", key.Label, w.maxRetries, lastErr)
}

// writeFile writes rows as one Parquet file at {final}.tmp, fsyncs, and
// renames to the final path. A disambiguating suffix is
// appended when the bucket already produced a prior file (seq > 1), so a
// mid-bucket flush never overwrites an earlier one.
func (w *Writer) writeFile(key bucket.Key, rows []schema.Row, seq int) error {
	final := w.pathFn(key, w.root)
	if seq > 1 {
		ext := filepath.Ext(final)
		final = final[:len(final)-len(ext)] + fmt.Sprintf("-%03d", seq) + ext
	}
	tmp := final + ".tmp"

	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("mkdir partition dir: %w", err)
	}

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp file: %w", err)
	}

	pw := parquet.NewGenericWriter[schema.Row](f,
		parquet.KeyValueMetadata(listEncodingKey, listEncodingValue),
	)
	if _, err := pw.Write(rows); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("close parquet writer: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename tmp to final: %w", err)
	}
	return nil
}
