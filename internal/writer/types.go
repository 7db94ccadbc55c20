package writer

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// WriterConfig contains configuration for batch writers.
type WriterConfig struct {
	// BatchSize is the number of rows to accumulate before flushing.
	BatchSize int

	// FlushInterval is the maximum time between flushes.
	FlushInterval time.Duration

	// InstanceID tags every row with the agent that received it.
	InstanceID string
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: time.Second,
	}
}

// BatchSender is the subset of *pgxpool.Pool the writer needs.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// updateRow represents a row for the appointment_updates table.
type updateRow struct {
	ID            string // UUID
	InstanceID    string
	AppointmentID string
	Payload       []byte // JSONB: record as received
	ReceivedAt    time.Time
}

// WriterMetrics holds metrics for a writer.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Errors    int64
	Flushes   int64
	Skipped   int64 // Changes with no causing update (refreshes, resets)
}
