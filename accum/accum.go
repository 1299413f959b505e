// Package accum buffers typed rows per worker and hands off full batches to a
// columnar sink. One input record may fan out into several accumulators (one
// owning, several observing) — see Row for the fan-out contract.
package accum

import "github.com/papeline/papeline/cmn/debug"

const (
	// DefaultBatchSize is the row-count flush threshold.
	DefaultBatchSize = 8192
	// UpdateInterval is the number of scanned lines between progress publishes.
	UpdateInterval = 10000
	// LineBufCapacity is the initial capacity of a shard processor's reused line buffer.
	LineBufCapacity = 4096
)

// Batch is a typed column-oriented record with a fixed schema; produced by
// Accumulator.TakeBatch, consumed by a Sink.Write call. It owns nothing beyond
// the moment of write — the caller hands it to the sink and discards it.
type Batch[R any] struct {
	Rows []R
}

// Accumulator is a mutable per-worker buffer of typed rows, parameterized by a
// row type R. Invariant: len(rows) <= batchSize. Created at the start of a
// shard attempt, flushed whenever full, finalized and dropped when the shard
// completes.
type Accumulator[R any] struct {
	rows      []R
	batchSize int
}

// New creates an accumulator with the given flush threshold; batchSize <= 0
// means DefaultBatchSize.
func New[R any](batchSize int) *Accumulator[R] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Accumulator[R]{
		rows:      make([]R, 0, batchSize),
		batchSize: batchSize,
	}
}

// Push appends one row.
func (a *Accumulator[R]) Push(row R) {
	debug.Assert(len(a.rows) < a.batchSize, "accumulator pushed past batch size")
	a.rows = append(a.rows, row)
}

// Len returns the number of currently buffered rows.
func (a *Accumulator[R]) Len() int { return len(a.rows) }

// IsFull reports whether the accumulator has reached its flush threshold.
func (a *Accumulator[R]) IsFull() bool { return len(a.rows) >= a.batchSize }

// TakeBatch moves buffered rows into a Batch, resetting internal state. It
// never fails: schema/encoding errors belong to the sink that consumes the
// batch, not to accumulation itself.
func (a *Accumulator[R]) TakeBatch() Batch[R] {
	rows := a.rows
	a.rows = make([]R, 0, a.batchSize)
	return Batch[R]{Rows: rows}
}
