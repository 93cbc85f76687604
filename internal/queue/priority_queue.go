// -----------------------------------------------------------------------
// Priority Queue - bounded holding area between acceptance and dispatch
// -----------------------------------------------------------------------

package queue

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/exerceo/internal/models"
)

// ErrClosed is returned by Push after Shutdown.
var ErrClosed = errors.New("queue is shut down")

// entryHeap implements heap.Interface over queue entries. Ordering: higher
// priority first, ties broken by earlier submission (FIFO within priority).
type entryHeap []*models.QueueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].SubmittedAt.Before(h[j].SubmittedAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*models.QueueEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return item
}

// PriorityQueue is a bounded, thread-safe priority queue of job entries.
// The manager pushes, workers block on PopBlocking, and Cancel may remove
// an entry before dispatch. Shutdown releases every blocked consumer.
type PriorityQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	items    entryHeap
	maxDepth int
	closed   bool
	logger   arbor.ILogger
}

// New creates a queue holding at most maxDepth entries.
func New(maxDepth int, logger arbor.ILogger) *PriorityQueue {
	q := &PriorityQueue{
		items:    make(entryHeap, 0, maxDepth),
		maxDepth: maxDepth,
		logger:   logger,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Push adds an entry. Returns models.ErrCapacity when the queue is at
// maxDepth and ErrClosed after Shutdown.
func (q *PriorityQueue) Push(entry models.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if len(q.items) >= q.maxDepth {
		q.logger.Warn().
			Str("job_id", entry.JobID).
			Int("depth", len(q.items)).
			Msg("Queue at capacity, rejecting entry")
		return fmt.Errorf("queue depth %d reached: %w", q.maxDepth, models.ErrCapacity)
	}

	e := entry
	heap.Push(&q.items, &e)
	q.notEmpty.Signal()
	return nil
}

// PopBlocking removes and returns the highest-priority entry, blocking
// until one is available. The second return is false once the queue has
// been shut down; pending entries are discarded at that point.
func (q *PriorityQueue) PopBlocking() (models.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return models.QueueEntry{}, false
	}

	entry := heap.Pop(&q.items).(*models.QueueEntry)
	return *entry, true
}

// Remove deletes the entry for jobID if it is still queued. The linear scan
// is fine at the depths this queue runs at.
func (q *PriorityQueue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, item := range q.items {
		if item.JobID == jobID {
			heap.Remove(&q.items, i)
			return true
		}
	}
	return false
}

// Len returns the current depth.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shutdown discards pending entries and wakes every blocked consumer with
// the closed sentinel. Idempotent.
func (q *PriorityQueue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	dropped := len(q.items)
	q.items = q.items[:0]
	q.notEmpty.Broadcast()

	if dropped > 0 {
		q.logger.Info().Int("dropped", dropped).Msg("Queue shut down with pending entries")
	}
}
