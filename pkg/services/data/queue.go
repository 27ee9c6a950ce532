package data

import (
	"sync"
	"time"
)

// Batch is one upload handed to the connector. Ownership of Payload moves
// to the queue at Push.
type Batch struct {
	Payload []byte

	// ResponseRequired asks the cloud to acknowledge the batch.
	ResponseRequired bool

	// Timeout bounds the wait for the acknowledgement. Zero waits forever.
	Timeout time.Duration

	// UserContext is returned in the Result.
	UserContext any
}

// Queue is a bounded FIFO of batches between producers and the step
// loop. When full, Push drops the oldest batch.
//
// All methods may be called concurrently.
type Queue struct {
	mu      sync.Mutex
	batches []*Batch
	limit   int
	dropped uint64
	notify  chan struct{}
}

// NewQueue creates a queue holding at most limit batches.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	return &Queue{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push appends b and returns the batch dropped to make room, if any.
func (q *Queue) Push(b *Batch) (dropped *Batch) {
	q.mu.Lock()
	if len(q.batches) >= q.limit {
		dropped = q.batches[0]
		q.batches[0] = nil
		q.batches = q.batches[1:]
		q.dropped++
	}
	q.batches = append(q.batches, b)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// Pop removes and returns the oldest batch, or nil if the queue is empty.
// It never blocks.
func (q *Queue) Pop() *Batch {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return nil
	}
	b := q.batches[0]
	q.batches[0] = nil
	q.batches = q.batches[1:]
	return b
}

// Unpop puts b back at the head of the queue, for a batch that could not
// be sent yet. It is dropped if the queue filled up in the meantime.
func (q *Queue) Unpop(b *Batch) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) >= q.limit {
		q.dropped++
		return false
	}
	q.batches = append([]*Batch{b}, q.batches...)
	return true
}

// Len returns the number of queued batches.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.batches)
}

// Dropped returns how many batches were dropped since creation.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify receives a signal after a Push.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}
