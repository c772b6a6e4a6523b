package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB records batches and reports a conflict for rows it has already seen.
type fakeDB struct {
	mu      sync.Mutex
	batches [][]*pgx.QueuedQuery
	seen    map[string]bool
	err     error
}

func newFakeDB() *fakeDB {
	return &fakeDB{seen: make(map[string]bool)}
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	defer f.mu.Unlock()

	queries := append([]*pgx.QueuedQuery(nil), b.QueuedQueries...)
	res := &fakeResults{err: f.err}
	if f.err == nil {
		f.batches = append(f.batches, queries)
		for _, q := range queries {
			key := fmt.Sprintf("%v/%v", q.Arguments[0], q.Arguments[1])
			res.conflicts = append(res.conflicts, f.seen[key])
			f.seen[key] = true
		}
	}
	return res
}

func (f *fakeDB) rows() []*pgx.QueuedQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*pgx.QueuedQuery
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func (f *fakeDB) batchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batches)
}

type fakeResults struct {
	conflicts []bool
	i         int
	err       error
}

func (r *fakeResults) Exec() (pgconn.CommandTag, error) {
	if r.err != nil {
		return pgconn.CommandTag{}, r.err
	}
	conflict := r.conflicts[r.i]
	r.i++
	if conflict {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (r *fakeResults) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }
func (r *fakeResults) QueryRow() pgx.Row         { return nil }
func (r *fakeResults) Close() error              { return nil }

func stopWriter(t *testing.T, w *Writer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 1s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testEvent(session uuid.UUID, seq int64, kind Kind) Event {
	return Event{
		SessionID: session,
		Seq:       seq,
		At:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Kind:      kind,
		State:     "connected",
	}
}

func TestNewWriter_Defaults(t *testing.T) {
	w := NewWriter(WriterConfig{}, newFakeDB(), nil)
	def := DefaultWriterConfig()

	if w.cfg.BatchSize != def.BatchSize {
		t.Errorf("BatchSize = %d, want %d", w.cfg.BatchSize, def.BatchSize)
	}
	if w.cfg.FlushInterval != def.FlushInterval {
		t.Errorf("FlushInterval = %v, want %v", w.cfg.FlushInterval, def.FlushInterval)
	}
	if cap(w.input) != def.BufferSize {
		t.Errorf("buffer = %d, want %d", cap(w.input), def.BufferSize)
	}
}

func TestWriter_StopFlushes(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	session := uuid.New()
	for i := int64(1); i <= 3; i++ {
		if !w.Record(testEvent(session, i, KindState)) {
			t.Fatalf("Record(%d) = false", i)
		}
	}

	stopWriter(t, w)

	rows := db.rows()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	for i, q := range rows {
		if q.Arguments[0] != session {
			t.Errorf("row %d session_id = %v, want %v", i, q.Arguments[0], session)
		}
		if q.Arguments[1] != int64(i+1) {
			t.Errorf("row %d seq = %v, want %d", i, q.Arguments[1], i+1)
		}
	}

	stats := w.Stats()
	if stats.Inserts != 3 {
		t.Errorf("Inserts = %d, want 3", stats.Inserts)
	}
	if stats.Flushes != 1 {
		t.Errorf("Flushes = %d, want 1", stats.Flushes)
	}
}

func TestWriter_FlushOnBatchSize(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(WriterConfig{BatchSize: 2, FlushInterval: time.Hour, BufferSize: 10}, db, nil)
	w.Start(context.Background())
	defer stopWriter(t, w)

	session := uuid.New()
	for i := int64(1); i <= 4; i++ {
		w.Record(testEvent(session, i, KindState))
	}

	waitFor(t, func() bool { return db.batchCount() == 2 })
}

func TestWriter_FlushOnInterval(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: 20 * time.Millisecond, BufferSize: 10}, db, nil)
	w.Start(context.Background())
	defer stopWriter(t, w)

	w.Record(testEvent(uuid.New(), 1, KindOpen))

	waitFor(t, func() bool { return len(db.rows()) == 1 })
}

func TestWriter_Conflicts(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	session := uuid.New()
	w.handleEvent(testEvent(session, 1, KindState))
	w.flush(context.Background())
	w.handleEvent(testEvent(session, 1, KindState))
	w.handleEvent(testEvent(session, 2, KindState))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Inserts != 2 {
		t.Errorf("Inserts = %d, want 2", stats.Inserts)
	}
	if stats.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", stats.Conflicts)
	}
	if stats.Flushes != 2 {
		t.Errorf("Flushes = %d, want 2", stats.Flushes)
	}
}

func TestWriter_InsertError(t *testing.T) {
	db := newFakeDB()
	db.err = errors.New("relation \"session_events\" does not exist")
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	w.handleEvent(testEvent(uuid.New(), 1, KindState))
	w.flush(context.Background())

	stats := w.Stats()
	if stats.Errors != 1 {
		t.Errorf("Errors = %d, want 1", stats.Errors)
	}
	if stats.Inserts != 0 {
		t.Errorf("Inserts = %d, want 0", stats.Inserts)
	}
}

func TestWriter_CancelledFlushKeepsRows(t *testing.T) {
	db := newFakeDB()
	db.err = context.Canceled
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w.handleEvent(testEvent(uuid.New(), 1, KindState))
	w.flush(ctx)

	w.batchMu.Lock()
	kept := len(w.batch)
	w.batchMu.Unlock()
	if kept != 1 {
		t.Errorf("batch length = %d, want 1", kept)
	}
	if w.Stats().Errors != 0 {
		t.Errorf("Errors = %d, want 0", w.Stats().Errors)
	}
}

func TestWriter_RecordDropsWhenFull(t *testing.T) {
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 2}, newFakeDB(), nil)

	session := uuid.New()
	if !w.Record(testEvent(session, 1, KindState)) || !w.Record(testEvent(session, 2, KindState)) {
		t.Fatal("Record should accept events while the buffer has room")
	}
	if w.Record(testEvent(session, 3, KindState)) {
		t.Error("Record should drop when the buffer is full")
	}
	if got := w.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestWriter_RecordAfterStop(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(DefaultWriterConfig(), db, nil)
	w.Start(context.Background())
	stopWriter(t, w)

	if w.Record(testEvent(uuid.New(), 1, KindState)) {
		t.Error("Record after Stop should return false")
	}
	if len(db.rows()) != 0 {
		t.Errorf("rows = %d, want 0", len(db.rows()))
	}
}

func TestWriter_NullableColumns(t *testing.T) {
	db := newFakeDB()
	w := NewWriter(WriterConfig{BatchSize: 100, FlushInterval: time.Hour, BufferSize: 10}, db, nil)

	session := uuid.New()
	state := testEvent(session, 1, KindState)
	closed := testEvent(session, 2, KindClose)
	closed.CloseCode = 1006
	closed.Reason = "abnormal"

	w.handleEvent(state)
	w.handleEvent(closed)
	w.flush(context.Background())

	rows := db.rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	if code := rows[0].Arguments[6].(*int); code != nil {
		t.Errorf("state row close_code = %d, want NULL", *code)
	}
	if reason := rows[0].Arguments[7].(*string); reason != nil {
		t.Errorf("state row reason = %q, want NULL", *reason)
	}

	if code := rows[1].Arguments[6].(*int); code == nil || *code != 1006 {
		t.Errorf("close row close_code = %v, want 1006", code)
	}
	if reason := rows[1].Arguments[7].(*string); reason == nil || *reason != "abnormal" {
		t.Errorf("close row reason = %v, want abnormal", reason)
	}
	if kind := rows[1].Arguments[3]; kind != "close" {
		t.Errorf("close row kind = %v, want close", kind)
	}
}
