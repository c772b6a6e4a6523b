package journal

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

const insertEvent = `
	INSERT INTO session_events (session_id, seq, at, kind, state, attempt, close_code, reason)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (session_id, seq) DO NOTHING
`

// Writer batches session events into the session_events table.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input
	input   chan Event
	stopped atomic.Bool

	// Database
	db BatchSender

	// Batching
	batch   []Event
	batchMu sync.Mutex

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	stats   WriterStats
	dropped atomic.Int64
}

// NewWriter creates a new Writer. Zero config fields get defaults.
func NewWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "journal"),
		input:  make(chan Event, cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// Record queues ev without blocking. Returns false if the buffer is full or
// the writer has been stopped.
func (w *Writer) Record(ev Event) bool {
	if w.stopped.Load() {
		return false
	}
	select {
	case w.input <- ev:
		return true
	default:
		if n := w.dropped.Add(1); n == 1 || n%1000 == 0 {
			w.logger.Warn("journal buffer full, dropping events", "dropped", n)
		}
		return false
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.consumeLoop()

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("journal writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop rejects new events, drains what is buffered, and flushes it using ctx.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping journal writer")
	w.stopped.Store(true)

	if w.cancel != nil {
		w.cancel()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("journal writer stop timed out")
		return ctx.Err()
	}

	// Drain anything recorded before stop
drain:
	for {
		select {
		case ev := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, ev)
			w.batchMu.Unlock()
		default:
			break drain
		}
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("journal writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterStats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	stats := w.stats
	stats.Dropped = w.dropped.Load()
	return stats
}

// consumeLoop accumulates events into batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case ev := <-w.input:
			w.handleEvent(ev)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// handleEvent adds an event to the batch.
func (w *Writer) handleEvent(ev Event) {
	w.batchMu.Lock()
	w.batch = append(w.batch, ev)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil && ctx.Err() != nil {
		// Interrupted by shutdown; keep the rows for the final flush
		w.batchMu.Lock()
		w.batch = append(batch, w.batch...)
		w.batchMu.Unlock()
		return
	}
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.stats.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.stats.Inserts += int64(len(batch) - conflicts)
	w.stats.Conflicts += int64(conflicts)
	w.stats.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed session events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		var closeCode *int
		if r.Kind == KindClose {
			code := r.CloseCode
			closeCode = &code
		}
		var reason *string
		if r.Reason != "" {
			s := r.Reason
			reason = &s
		}
		batch.Queue(insertEvent, r.SessionID, r.Seq, r.At, string(r.Kind), r.State, r.Attempt, closeCode, reason)
	}

	results := w.db.SendBatch(ctx, batch)
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
