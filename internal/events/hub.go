package events

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/exerceo/internal/common"
	"github.com/ternarybob/exerceo/internal/models"
)

// ErrHubClosed is returned by Subscribe after the hub has shut down.
var ErrHubClosed = errors.New("event hub is shut down")

// Hub fans progress events out to subscribers. Publish never blocks: each
// subscriber owns a bounded buffer, and a consumer that cannot keep up
// loses intermediate snapshots first and its subscription last.
type Hub struct {
	mu         sync.Mutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	maxSubs    int
	closed     bool
	logger     arbor.ILogger
}

// NewHub creates an event hub. bufferSize bounds each subscriber's pending
// events, maxSubscribers bounds the number of concurrent subscriptions.
func NewHub(bufferSize, maxSubscribers int, logger arbor.ILogger) *Hub {
	return &Hub{
		subs:       make(map[uint64]*Subscription),
		bufferSize: bufferSize,
		maxSubs:    maxSubscribers,
		logger:     logger,
	}
}

// Subscribe registers a subscriber. filter is a job ID, or empty for all
// jobs. bootstrap events are delivered before any live event; their
// sequence numbers seed the per-job dedupe cursor so a live event already
// reflected in the bootstrap snapshot is not delivered twice.
//
// A subscription with a job filter ends after it delivers that job's
// terminal event. The caller must drain Events until it closes, or call
// Close to abandon the subscription early.
func (h *Hub) Subscribe(filter string, bootstrap []models.ProgressEvent) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	if len(h.subs) >= h.maxSubs {
		h.mu.Unlock()
		return nil, fmt.Errorf("subscriber limit %d reached: %w", h.maxSubs, models.ErrCapacity)
	}

	h.nextID++
	sub := &Subscription{
		id:         h.nextID,
		filter:     filter,
		hub:        h,
		bufferSize: h.bufferSize,
		bootstrap:  append([]models.ProgressEvent(nil), bootstrap...),
		lastSeq:    make(map[string]uint64, len(bootstrap)),
		out:        make(chan models.ProgressEvent),
		done:       make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	for _, ev := range bootstrap {
		sub.lastSeq[ev.JobID] = ev.Seq
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	common.SafeGo(h.logger, "subscriberPump", sub.pump)

	h.logger.Debug().
		Str("filter", filter).
		Int("bootstrap_events", len(bootstrap)).
		Int("subscriber_count", count).
		Msg("Subscriber registered")

	return sub, nil
}

// Publish delivers an event to every matching subscriber. It never blocks
// on a slow consumer.
func (h *Hub) Publish(event models.ProgressEvent) {
	h.mu.Lock()
	matched := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter == "" || sub.filter == event.JobID {
			matched = append(matched, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range matched {
		sub.push(event)
	}
}

// SubscriberCount reports the number of active subscriptions.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close shuts the hub down. All subscriptions end without error; pending
// undelivered events are dropped. Subscribe fails afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[uint64]*Subscription)
	h.mu.Unlock()

	for _, sub := range subs {
		sub.closeWith(nil)
	}

	h.logger.Info().Int("subscribers", len(subs)).Msg("Event hub closed")
}

// remove drops a subscription from the registry. Safe to call for an
// already removed ID.
func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}
