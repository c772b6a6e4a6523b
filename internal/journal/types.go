package journal

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the type of lifecycle event.
type Kind string

const (
	KindState Kind = "state"
	KindOpen  Kind = "open"
	KindClose Kind = "close"
	KindError Kind = "error"
)

// Event is one journaled lifecycle event of a session.
type Event struct {
	SessionID uuid.UUID
	Seq       int64 // Per-session, starts at 1
	At        time.Time
	Kind      Kind
	State     string // Manager state when the event was recorded
	Attempt   int    // Reconnect attempts since the last open
	CloseCode int    // Close events only
	Reason    string // Close reason or error text
}

// WriterConfig contains configuration for the journal writer.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// BufferSize bounds events waiting to be batched. Record drops when full.
	BufferSize int
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// WriterStats holds counters for a writer.
type WriterStats struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Dropped   int64
}
