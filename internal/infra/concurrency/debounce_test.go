package concurrency

import (
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestDebounceCollapsesBurst(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(30)
	d.Start(t.Context())
	defer d.Stop()

	var calls, last atomic.Int64
	for i := 1; i <= 5; i++ {
		v := int64(i)
		d.Do(-1001, 7, func() {
			calls.Add(1)
			last.Store(v)
		})
	}

	waitFor(t, func() bool { return calls.Load() == 1 })
	if last.Load() != 5 {
		t.Fatalf("executed callback #%d, want the last one", last.Load())
	}
}

func TestDebounceSeparateKeys(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(20)
	d.Start(t.Context())
	defer d.Stop()

	var calls atomic.Int64
	d.Do(-1001, 1, func() { calls.Add(1) })
	d.Do(-1001, 2, func() { calls.Add(1) })
	d.Do(-1002, 1, func() { calls.Add(1) })

	waitFor(t, func() bool { return calls.Load() == 3 })
}

func TestDebounceStoppedRunsImmediately(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(10_000)
	var ran atomic.Bool
	// Без Start контекста нет, вызов должен выполниться сразу.
	d.Do(-1001, 1, func() { ran.Store(true) })
	if !ran.Load() {
		t.Fatal("callback not executed synchronously without Start")
	}
}

func TestStopFlushesPending(t *testing.T) {
	t.Parallel()

	d := NewDebouncer(10_000)
	d.Start(t.Context())

	var ran atomic.Bool
	d.Do(-1001, 1, func() { ran.Store(true) })
	d.Stop()

	if !ran.Load() {
		t.Fatal("Stop() must drain pending callbacks")
	}
}
