package queue

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/exerceo/internal/models"
)

func testQueue(t *testing.T, depth int) *PriorityQueue {
	t.Helper()
	return New(depth, arbor.NewLogger())
}

func entry(jobID string, priority int, at time.Time) models.QueueEntry {
	return models.QueueEntry{JobID: jobID, Priority: priority, SubmittedAt: at}
}

func TestPriorityQueue_Ordering(t *testing.T) {
	q := testQueue(t, 16)
	base := time.Now()

	// Submitted J1 prio 1, J2 prio 5, J3 prio 3 - expected pop order J2, J3, J1
	if err := q.Push(entry("J1", 1, base)); err != nil {
		t.Fatalf("push J1: %v", err)
	}
	if err := q.Push(entry("J2", 5, base.Add(time.Millisecond))); err != nil {
		t.Fatalf("push J2: %v", err)
	}
	if err := q.Push(entry("J3", 3, base.Add(2*time.Millisecond))); err != nil {
		t.Fatalf("push J3: %v", err)
	}

	want := []string{"J2", "J3", "J1"}
	for _, id := range want {
		got, ok := q.PopBlocking()
		if !ok {
			t.Fatal("queue unexpectedly closed")
		}
		if got.JobID != id {
			t.Errorf("pop order: got %s, want %s", got.JobID, id)
		}
	}
}

func TestPriorityQueue_FIFOWithinPriority(t *testing.T) {
	q := testQueue(t, 16)
	base := time.Now()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("J%d", i)
		if err := q.Push(entry(id, 3, base.Add(time.Duration(i)*time.Microsecond))); err != nil {
			t.Fatalf("push %s: %v", id, err)
		}
	}
	for i := 0; i < 5; i++ {
		got, _ := q.PopBlocking()
		want := fmt.Sprintf("J%d", i)
		if got.JobID != want {
			t.Errorf("same-priority order: got %s, want %s", got.JobID, want)
		}
	}
}

func TestPriorityQueue_Capacity(t *testing.T) {
	q := testQueue(t, 2)
	base := time.Now()

	if err := q.Push(entry("J1", 3, base)); err != nil {
		t.Fatalf("push J1: %v", err)
	}
	if err := q.Push(entry("J2", 3, base)); err != nil {
		t.Fatalf("push J2: %v", err)
	}

	err := q.Push(entry("J3", 3, base))
	if !errors.Is(err, models.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}

	// removing a queued entry frees exactly one slot
	if !q.Remove("J1") {
		t.Fatal("Remove(J1) should succeed")
	}
	if err := q.Push(entry("J3", 3, base)); err != nil {
		t.Fatalf("push after remove: %v", err)
	}
	if q.Len() != 2 {
		t.Errorf("depth = %d, want 2", q.Len())
	}
}

func TestPriorityQueue_Remove(t *testing.T) {
	q := testQueue(t, 8)
	base := time.Now()
	q.Push(entry("J1", 1, base))
	q.Push(entry("J2", 5, base))
	q.Push(entry("J3", 3, base))

	if !q.Remove("J2") {
		t.Fatal("Remove(J2) should report true")
	}
	if q.Remove("J2") {
		t.Fatal("second Remove(J2) should report false")
	}
	if q.Remove("missing") {
		t.Fatal("Remove of unknown id should report false")
	}

	// heap order intact after middle removal
	got, _ := q.PopBlocking()
	if got.JobID != "J3" {
		t.Errorf("after remove, first pop = %s, want J3", got.JobID)
	}
	got, _ = q.PopBlocking()
	if got.JobID != "J1" {
		t.Errorf("after remove, second pop = %s, want J1", got.JobID)
	}
}

func TestPriorityQueue_PopBlocksUntilPush(t *testing.T) {
	q := testQueue(t, 4)

	type result struct {
		entry models.QueueEntry
		ok    bool
	}
	done := make(chan result, 1)
	go func() {
		e, ok := q.PopBlocking()
		done <- result{e, ok}
	}()

	// consumer should be parked
	select {
	case r := <-done:
		t.Fatalf("PopBlocking returned early: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Push(entry("J1", 3, time.Now())); err != nil {
		t.Fatalf("push: %v", err)
	}

	select {
	case r := <-done:
		if !r.ok || r.entry.JobID != "J1" {
			t.Errorf("unexpected pop result: %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("PopBlocking did not wake after Push")
	}
}

func TestPriorityQueue_ShutdownReleasesConsumers(t *testing.T) {
	q := testQueue(t, 4)
	q.Push(entry("J1", 3, time.Now()))

	const consumers = 3
	var wg sync.WaitGroup
	results := make(chan bool, consumers)
	for i := 0; i < consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.PopBlocking()
			results <- ok
		}()
	}

	// one consumer takes J1, the others park
	time.Sleep(50 * time.Millisecond)
	q.Shutdown()

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("consumers still blocked after Shutdown")
	}

	okCount := 0
	for i := 0; i < consumers; i++ {
		if <-results {
			okCount++
		}
	}
	if okCount != 1 {
		t.Errorf("exactly one consumer should have received an entry, got %d", okCount)
	}

	// push after shutdown fails, pop returns the sentinel immediately
	if err := q.Push(entry("J2", 3, time.Now())); !errors.Is(err, ErrClosed) {
		t.Errorf("push after shutdown: got %v, want ErrClosed", err)
	}
	if _, ok := q.PopBlocking(); ok {
		t.Error("pop after shutdown should report closed")
	}

	t.Logf("✓ shutdown released %d blocked consumers", consumers-1)
}
