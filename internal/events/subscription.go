package events

import (
	"sync"

	"github.com/ternarybob/exerceo/internal/models"
)

// Subscription is one consumer's view of the event stream. Events arrive
// in per-job sequence order on Events; when the stream ends, Events is
// closed and Err reports why (nil for a normal end).
type Subscription struct {
	id         uint64
	filter     string
	hub        *Hub
	bufferSize int

	mu        sync.Mutex
	cond      *sync.Cond
	bootstrap []models.ProgressEvent
	queue     []models.ProgressEvent
	lastSeq   map[string]uint64
	closed    bool
	err       error

	out  chan models.ProgressEvent
	done chan struct{}
}

// Events returns the stream channel. It closes when the subscription ends.
func (s *Subscription) Events() <-chan models.ProgressEvent {
	return s.out
}

// Err reports why the stream ended. It is nil for a normal end (terminal
// event delivered, consumer Close, or hub shutdown) and
// models.ErrSlowConsumer when the subscriber was dropped for falling
// behind. Only meaningful after Events has closed.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription. Pending events are dropped.
func (s *Subscription) Close() {
	s.hub.remove(s.id)
	s.closeWith(nil)
}

// push enqueues a live event, applying dedupe and overflow policy. Never
// blocks. Called by the hub with no locks held.
func (s *Subscription) push(event models.ProgressEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	// Drop events at or below the last sequence seen for this job. The
	// bootstrap snapshot seeds this cursor, so a snapshot already sent is
	// never replayed by the live stream.
	if last, ok := s.lastSeq[event.JobID]; ok && event.Seq <= last {
		s.mu.Unlock()
		return
	}

	if len(s.queue) >= s.bufferSize {
		// Progress snapshots are cumulative, so the oldest non-terminal
		// event is safe to coalesce away.
		dropped := false
		for i := range s.queue {
			if !s.queue[i].IsTerminal() {
				copy(s.queue[i:], s.queue[i+1:])
				s.queue = s.queue[:len(s.queue)-1]
				dropped = true
				break
			}
		}
		if !dropped {
			// Only terminal events remain. Those must never be silently
			// lost, so the subscriber itself is dropped instead.
			s.closed = true
			s.err = models.ErrSlowConsumer
			s.mu.Unlock()
			close(s.done)
			s.cond.Signal()
			s.hub.remove(s.id)
			s.hub.logger.Warn().
				Str("filter", s.filter).
				Msg("Subscriber dropped: buffer full of terminal events")
			return
		}
	}

	s.lastSeq[event.JobID] = event.Seq
	s.queue = append(s.queue, event)
	s.cond.Signal()
	s.mu.Unlock()
}

// pump moves events from the buffer to the out channel. Runs on its own
// goroutine; the only closer of out.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		for len(s.bootstrap) == 0 && len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}

		var event models.ProgressEvent
		if len(s.bootstrap) > 0 {
			event = s.bootstrap[0]
			s.bootstrap = s.bootstrap[1:]
		} else {
			event = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		select {
		case s.out <- event:
		case <-s.done:
			return
		}

		// A single-job subscription is complete once the job is.
		if s.filter != "" && event.IsTerminal() && event.JobID == s.filter {
			s.hub.remove(s.id)
			s.closeWith(nil)
			return
		}
	}
}

// closeWith ends the subscription with the given error, exactly once.
func (s *Subscription) closeWith(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.err = err
	s.mu.Unlock()

	close(s.done)
	s.cond.Signal()
}
