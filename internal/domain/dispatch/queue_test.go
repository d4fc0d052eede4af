package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
)

func job(id int64, p Priority) *Job {
	return &Job{Kind: KindNew, Pair: &pairs.Pair{ID: id}, Priority: p}
}

func drainIDs(t *testing.T, q *Queue, n int) []int64 {
	t.Helper()
	ctx := context.Background()
	out := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		j := q.Dequeue(ctx, 50*time.Millisecond)
		if j == nil {
			t.Fatalf("Dequeue() returned nil after %d of %d jobs", i, n)
		}
		out = append(out, j.Pair.ID)
	}
	return out
}

func TestQueuePriorityOrdering(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	q.Enqueue(job(1, PriorityLow))
	q.Enqueue(job(2, PriorityUrgent))
	q.Enqueue(job(3, PriorityNormal))
	q.Enqueue(job(4, PriorityHigh))
	q.Enqueue(job(5, PriorityUrgent))

	got := drainIDs(t, q, 5)
	want := []int64{2, 5, 4, 3, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestQueueFIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	for id := int64(1); id <= 4; id++ {
		q.Enqueue(job(id, PriorityNormal))
	}

	got := drainIDs(t, q, 4)
	for i, id := range []int64{1, 2, 3, 4} {
		if got[i] != id {
			t.Fatalf("dequeue order = %v, want FIFO 1..4", got)
		}
	}
}

func TestQueueDropOldestLowestOnOverflow(t *testing.T) {
	t.Parallel()

	q := NewQueue(3)
	q.Enqueue(job(1, PriorityLow))
	q.Enqueue(job(2, PriorityLow))
	q.Enqueue(job(3, PriorityUrgent))

	// Очередь полна: жертвой становится самый старый low, не urgent.
	evicted := q.Enqueue(job(4, PriorityHigh))
	if evicted == nil || evicted.Pair.ID != 1 {
		t.Fatalf("Enqueue() evicted = %+v, want job 1", evicted)
	}
	if q.Dropped() != 1 {
		t.Fatalf("Dropped() = %d, want 1", q.Dropped())
	}

	got := drainIDs(t, q, 3)
	want := []int64{3, 4, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestQueueEnqueueFront(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	q.Enqueue(job(1, PriorityNormal))
	q.Enqueue(job(2, PriorityNormal))
	q.EnqueueFront(job(3, PriorityNormal))

	got := drainIDs(t, q, 3)
	want := []int64{3, 1, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestQueueDequeueTimeout(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	start := time.Now()
	if j := q.Dequeue(context.Background(), 20*time.Millisecond); j != nil {
		t.Fatalf("Dequeue() = %+v, want nil on empty queue", j)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("Dequeue() returned before the timeout elapsed")
	}
}

func TestQueueDequeueCanceledContext(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if j := q.Dequeue(ctx, time.Minute); j != nil {
		t.Fatalf("Dequeue() = %+v, want nil on canceled context", j)
	}
}

func TestQueueClearAndSnapshot(t *testing.T) {
	t.Parallel()

	q := NewQueue(10)
	q.Enqueue(job(1, PriorityUrgent))
	q.Enqueue(job(2, PriorityHigh))
	q.Enqueue(job(3, PriorityNormal))
	q.Enqueue(job(4, PriorityNormal))
	q.Enqueue(job(5, PriorityLow))

	snap := q.Snapshot()
	if snap.Urgent != 1 || snap.High != 1 || snap.Normal != 2 || snap.Low != 1 {
		t.Fatalf("Snapshot() = %+v, want 1/1/2/1", snap)
	}

	if n := q.Clear(); n != 5 {
		t.Fatalf("Clear() = %d, want 5", n)
	}
	if q.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", q.Len())
	}
}

func TestQueueEnqueueSetsTimestamp(t *testing.T) {
	t.Parallel()

	q := NewQueue(1)
	j := job(1, PriorityNormal)
	q.Enqueue(j)
	if j.EnqueuedAt.IsZero() {
		t.Fatal("Enqueue() left EnqueuedAt zero")
	}
}
