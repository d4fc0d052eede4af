package metrics

import (
	"math"
	"testing"
	"time"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNewRegistryStartsClean(t *testing.T) {
	t.Parallel()

	r := NewRegistry(2)
	for idx := 0; idx < 2; idx++ {
		st, ok := r.Get(idx)
		if !ok {
			t.Fatalf("Get(%d) missing", idx)
		}
		if st.SuccessRate != 1.0 || st.MessagesProcessed != 0 {
			t.Fatalf("bot %d stats = %+v, want clean slate", idx, st)
		}
		if !st.Healthy() {
			t.Fatalf("bot %d unhealthy at start", idx)
		}
	}
}

func TestRecordUpdatesEMA(t *testing.T) {
	t.Parallel()

	r := NewRegistry(1)
	r.Record(0, false, 2*time.Second)

	st, _ := r.Get(0)
	if st.MessagesProcessed != 1 || st.ErrorCount != 1 {
		t.Fatalf("stats = %+v, want 1 processed 1 error", st)
	}
	// EMA от стартовой 1.0 при провале: 0.1*0 + 0.9*1.0.
	if !almostEqual(st.SuccessRate, 0.9) {
		t.Fatalf("SuccessRate = %v, want 0.9", st.SuccessRate)
	}
	if !almostEqual(st.AvgProcessingTime, 0.2) {
		t.Fatalf("AvgProcessingTime = %v, want 0.2", st.AvgProcessingTime)
	}
	if st.LastActivity.IsZero() {
		t.Fatal("LastActivity not set")
	}

	r.Record(0, true, 2*time.Second)
	st, _ = r.Get(0)
	if !almostEqual(st.SuccessRate, 0.91) {
		t.Fatalf("SuccessRate = %v, want 0.91 after success", st.SuccessRate)
	}
	if st.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d, success must not add errors", st.ErrorCount)
	}
}

func TestRecordProbeSeries(t *testing.T) {
	t.Parallel()

	r := NewRegistry(1)
	if n := r.RecordProbe(0, false); n != 1 {
		t.Fatalf("RecordProbe() = %d, want 1", n)
	}
	if n := r.RecordProbe(0, false); n != 2 {
		t.Fatalf("RecordProbe() = %d, want 2", n)
	}
	st, _ := r.Get(0)
	if !st.Healthy() {
		t.Fatal("bot must stay healthy below three failures")
	}

	if n := r.RecordProbe(0, false); n != 3 {
		t.Fatalf("RecordProbe() = %d, want 3", n)
	}
	st, _ = r.Get(0)
	if st.Healthy() {
		t.Fatal("three consecutive failures must mark bot unhealthy")
	}

	if n := r.RecordProbe(0, true); n != 0 {
		t.Fatalf("RecordProbe(ok) = %d, want reset to 0", n)
	}
}

func TestSeedIgnoresUnknownBots(t *testing.T) {
	t.Parallel()

	r := NewRegistry(1)
	r.Seed(map[int]BotStats{
		0: {MessagesProcessed: 42, SuccessRate: 0.5},
		7: {MessagesProcessed: 99}, // пул сократился, индекс 7 уже не существует
	})

	st, _ := r.Get(0)
	if st.MessagesProcessed != 42 || !almostEqual(st.SuccessRate, 0.5) {
		t.Fatalf("seeded stats = %+v, want restored values", st)
	}
	if _, ok := r.Get(7); ok {
		t.Fatal("Seed must not create entries for unknown bots")
	}
}

func TestSetLoadAppliesToAll(t *testing.T) {
	t.Parallel()

	r := NewRegistry(3)
	r.SetLoad(17)
	for idx := 0; idx < 3; idx++ {
		st, _ := r.Get(idx)
		if st.CurrentLoad != 17 {
			t.Fatalf("bot %d CurrentLoad = %d, want 17", idx, st.CurrentLoad)
		}
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	r := NewRegistry(1)
	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() size = %d, want 1", len(snap))
	}

	// Мутация снимка не должна касаться реестра.
	st := snap[0]
	st.MessagesProcessed = 1000
	snap[0] = st

	got, _ := r.Get(0)
	if got.MessagesProcessed != 0 {
		t.Fatalf("registry mutated through snapshot: %+v", got)
	}
}
