/*

This file contains the pending-update queue: a strict FIFO of activity records with
two monotonically increasing cursors. Records enter at the tail, leave at the head,
and are never reordered. Storage is reclaimed lazily by Compact once the head
cursor has moved far enough past consumed slots.

*/

package queue

import (
	"sync"

	"github.com/meridian-dex/rpm/internal/logger"
	"github.com/meridian-dex/rpm/internal/types"
)

// UpdateQueue is the FIFO of activity records awaiting batching.
//
// Invariant: head <= tail at all times; length = tail - head. Slots below head
// hold already-drained records until Compact reclaims them, which is why a drain
// can be undone as long as no compaction ran in between.
type UpdateQueue struct {
	mu      sync.Mutex
	records map[uint64]types.ActivityRecord
	head    uint64 // next slot to drain
	tail    uint64 // next insertion slot
}

// NewUpdateQueue creates an empty queue.
func NewUpdateQueue() *UpdateQueue {
	return &UpdateQueue{
		records: make(map[uint64]types.ActivityRecord),
	}
}

var queueLogger = logger.GetForComponent("update_queue")

// Enqueue appends a record at the tail.
func (q *UpdateQueue) Enqueue(record types.ActivityRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.records[q.tail] = record
	q.tail++

	queueLogger.Debug().
		Str("user", string(record.User)).
		Uint64("slot", q.tail-1).
		Uint64("length", q.tail-q.head).
		Msg("Record enqueued")
}

// Len returns the number of records awaiting drain.
func (q *UpdateQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

// Cursors returns the current head and tail cursors. Diagnostic hook.
func (q *UpdateQueue) Cursors() (head, tail uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.head, q.tail
}

// Drain copies up to n records starting at the head, in insertion order, and
// advances the head past them. Drained records stay in backing storage until
// Compact runs, so UndoDrain can restore them.
func (q *UpdateQueue) Drain(n int) []types.ActivityRecord {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 {
		return nil
	}
	available := int(q.tail - q.head)
	if n > available {
		n = available
	}
	if n == 0 {
		return nil
	}

	drained := make([]types.ActivityRecord, 0, n)
	for i := 0; i < n; i++ {
		drained = append(drained, q.records[q.head+uint64(i)])
	}
	q.head += uint64(n)

	queueLogger.Debug().
		Int("drained", n).
		Uint64("head", q.head).
		Uint64("tail", q.tail).
		Msg("Records drained")

	return drained
}

// UndoDrain steps the head cursor back by n, restoring the most recently drained
// records to the front of the queue. Only valid while no Compact ran since the
// drain; the caller (the batch processor) holds the flush lock across both.
func (q *UpdateQueue) UndoDrain(n int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if uint64(n) > q.head {
		n = int(q.head)
	}
	q.head -= uint64(n)

	queueLogger.Warn().
		Int("restored", n).
		Uint64("head", q.head).
		Uint64("tail", q.tail).
		Msg("Drain rolled back")
}

// Compact reclaims consumed slots once the head cursor has grown past twice the
// batch size. Undrained records in [head, tail) are re-keyed to the bottom of the
// storage and the cursors reset, so no pending record is ever lost. This is an
// amortization policy, not a correctness requirement.
func (q *UpdateQueue) Compact(batchSize int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if batchSize <= 0 || q.head <= uint64(2*batchSize) {
		return false
	}

	remaining := q.tail - q.head
	fresh := make(map[uint64]types.ActivityRecord, remaining)
	for i := uint64(0); i < remaining; i++ {
		fresh[i] = q.records[q.head+i]
	}
	q.records = fresh
	q.head = 0
	q.tail = remaining

	queueLogger.Info().
		Uint64("retained", remaining).
		Msg("Queue storage compacted")

	return true
}
