package providers

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/interfaces"
	"github.com/ternarybob/exerceo/internal/models"
)

// FeedbackBuffer is a bounded in-memory queue of feedback items awaiting a
// continuous training pass. Submit never blocks: when the buffer is full the
// oldest item is dropped to make room for the new one.
type FeedbackBuffer struct {
	mu      sync.Mutex
	items   []models.FeedbackItem
	max     int
	dropped uint64
	logger  arbor.ILogger
}

// NewFeedbackBuffer creates a buffer holding at most size items.
func NewFeedbackBuffer(size int, logger arbor.ILogger) *FeedbackBuffer {
	if size <= 0 {
		size = 1024
	}
	return &FeedbackBuffer{
		items:  make([]models.FeedbackItem, 0, size),
		max:    size,
		logger: logger,
	}
}

// Submit appends an item, stamping it with the current time when the caller
// left the timestamp zero.
func (b *FeedbackBuffer) Submit(item models.FeedbackItem) error {
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.items) >= b.max {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
		b.dropped++
		b.logger.Warn().
			Int("capacity", b.max).
			Int64("dropped_total", int64(b.dropped)).
			Msg("Feedback buffer full, dropping oldest item")
	}

	b.items = append(b.items, item)
	return nil
}

// Drain removes and returns up to limit items, oldest first.
func (b *FeedbackBuffer) Drain(limit int) []models.FeedbackItem {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.items)
	if limit > 0 && limit < n {
		n = limit
	}
	if n == 0 {
		return nil
	}

	out := make([]models.FeedbackItem, n)
	copy(out, b.items[:n])
	b.items = b.items[:copy(b.items, b.items[n:])]
	return out
}

// Len returns the number of buffered items.
func (b *FeedbackBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns how many items have been discarded due to overflow.
func (b *FeedbackBuffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

var _ interfaces.FeedbackProvider = (*FeedbackBuffer)(nil)
