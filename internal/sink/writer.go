package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/lighter-data/internal/metrics"
)

const (
	// DefaultBatchSize flushes the batch once it holds this many rows.
	DefaultBatchSize = 50

	// DefaultFlushInterval flushes whatever accumulated, so a quiet
	// table still lands within a few seconds.
	DefaultFlushInterval = 5 * time.Second

	initialBufferCap = 256
)

// queueFunc adds one row's INSERT to a pgx batch.
type queueFunc[T any] func(batch *pgx.Batch, row T)

// WriterStats counts one table writer's work.
type WriterStats struct {
	Inserts   int64 `json:"inserts"`
	Conflicts int64 `json:"conflicts"`
	Errors    int64 `json:"errors"`
	Flushes   int64 `json:"flushes"`
	Buffered  int   `json:"buffered"`
}

// writer drains one table's buffer into Postgres. Rows batch up and
// flush on size or on the ticker; a failed flush drops the batch after
// counting it, so a database outage never backs up into the connectors.
type writer[T any] struct {
	table  string
	input  *Buffer[T]
	pool   *pgxpool.Pool
	queue  queueFunc[T]
	logger *slog.Logger

	mu    sync.Mutex
	batch []T
	stats WriterStats

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newWriter[T any](table string, pool *pgxpool.Pool, queue queueFunc[T], logger *slog.Logger) *writer[T] {
	return &writer[T]{
		table:  table,
		input:  NewBuffer[T](initialBufferCap),
		pool:   pool,
		queue:  queue,
		logger: logger.With("table", table),
		batch:  make([]T, 0, DefaultBatchSize),
	}
}

func (w *writer[T]) start(ctx context.Context) {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()
}

// stop closes the input, waits for the loops, and flushes the
// remainder.
func (w *writer[T]) stop(ctx context.Context) {
	w.input.Close()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
	}

	for _, row := range w.input.Drain(0) {
		w.append(row)
	}
	w.flush()
}

func (w *writer[T]) push(row T) {
	if !w.input.Push(row) {
		w.logger.Debug("row dropped, writer stopped")
	}
}

func (w *writer[T]) snapshotStats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.stats
	st.Buffered = w.input.Len()
	return st
}

func (w *writer[T]) consumeLoop() {
	defer w.wg.Done()

	for {
		row, ok := w.input.Pop()
		if !ok {
			return
		}
		if w.append(row) {
			w.flush()
		}
	}
}

func (w *writer[T]) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(DefaultFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush()
		}
	}
}

// append adds a row to the batch and reports whether the batch reached
// flushing size.
func (w *writer[T]) append(row T) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batch = append(w.batch, row)
	return len(w.batch) >= DefaultBatchSize
}

func (w *writer[T]) flush() {
	w.mu.Lock()
	if len(w.batch) == 0 {
		w.mu.Unlock()
		return
	}
	rows := w.batch
	w.batch = make([]T, 0, DefaultBatchSize)
	w.mu.Unlock()

	start := time.Now()
	conflicts, err := w.insert(rows)
	if err != nil {
		w.logger.Error("batch insert failed", "count", len(rows), "err", err)
		metrics.SinkErrors.WithLabelValues(w.table).Inc()
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	inserted := len(rows) - conflicts
	metrics.SinkRowsWritten.WithLabelValues(w.table).Add(float64(inserted))

	w.mu.Lock()
	w.stats.Inserts += int64(inserted)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed rows",
		"count", len(rows),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// insert sends the batch in one round trip. Conflicts are rows the
// database declined (duplicate trade identity).
func (w *writer[T]) insert(rows []T) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		w.queue(batch, row)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	results := w.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}
