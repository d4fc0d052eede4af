package dispatch

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/concurrency"
)

// fakePairStore отдаёт фиксированный список пар. Мутации диспетчер не зовёт.
type fakePairStore struct {
	list []pairs.Pair
}

func (s *fakePairStore) ListPairs(context.Context) ([]pairs.Pair, error) { return s.list, nil }
func (s *fakePairStore) CreatePair(context.Context, pairs.Pair) (int64, error) {
	return 0, nil
}
func (s *fakePairStore) UpdatePair(context.Context, pairs.Pair) error  { return nil }
func (s *fakePairStore) DeletePair(context.Context, int64) error       { return nil }
func (s *fakePairStore) BumpPairStats(context.Context, int64, pairs.Stats) error {
	return nil
}

type dispatcherFixture struct {
	d        *Dispatcher
	queue    *Queue
	mappings *fakeMappings
}

// newDispatcherFixture собирает диспетчер над заданными парами. Debouncer
// не стартует, поэтому правки проходят синхронно и тест не ждёт таймер.
func newDispatcherFixture(t *testing.T, list ...pairs.Pair) *dispatcherFixture {
	t.Helper()

	registry := pairs.NewRegistry(&fakePairStore{list: list})
	if err := registry.Reload(context.Background()); err != nil {
		t.Fatalf("registry reload: %v", err)
	}

	q := NewQueue(64)
	mappings := newFakeMappings()
	d := NewDispatcher(registry, q, mappings, concurrency.NewDeduplicator(60), concurrency.NewDebouncer(5))
	return &dispatcherFixture{d: d, queue: q, mappings: mappings}
}

func dispatchPair(id int64, sourceChat int64, mutate func(*pairs.Pair)) pairs.Pair {
	p := pairs.Pair{
		ID:                id,
		Name:              "p",
		SourceChatID:      sourceChat,
		DestinationChatID: sourceChat - 1000,
		Status:            pairs.StatusActive,
		Filters:           pairs.DefaultFilterConfig(),
	}
	if mutate != nil {
		mutate(&p)
	}
	return p
}

func drainJobs(t *testing.T, q *Queue) []*Job {
	t.Helper()
	var out []*Job
	for {
		job := q.Dequeue(context.Background(), 10*time.Millisecond)
		if job == nil {
			return out
		}
		out = append(out, job)
	}
}

func TestHandleNewFansOutToActivePairs(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t,
		dispatchPair(1, -100, nil),
		dispatchPair(2, -100, func(p *pairs.Pair) { p.Status = pairs.StatusPaused }),
		dispatchPair(3, -200, nil),
	)

	fx.d.HandleNew(&source.Message{ChatID: -100, ID: 10, Text: "hello"})

	jobs := drainJobs(t, fx.queue)
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1 (paused and foreign pairs skipped)", len(jobs))
	}
	job := jobs[0]
	if job.Kind != KindNew || job.Pair.ID != 1 || job.Priority != PriorityNormal {
		t.Fatalf("job = kind %v pair %d prio %v", job.Kind, job.Pair.ID, job.Priority)
	}
}

func TestHandleNewSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, dispatchPair(1, -100, nil))
	msg := &source.Message{ChatID: -100, ID: 10, Text: "hello"}

	fx.d.HandleNew(msg)
	fx.d.HandleNew(msg)

	if got := fx.queue.Len(); got != 1 {
		t.Fatalf("queue depth = %d, want 1 after duplicate update", got)
	}
}

func TestHandleNewPriorities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		msg             *source.Message
		preserveReplies bool
		want            Priority
	}{
		{"plain text", &source.Message{ChatID: -100, ID: 1, Text: "hi"}, true, PriorityNormal},
		{"media", &source.Message{ChatID: -100, ID: 2, Media: &source.Media{Kind: "photo"}}, true, PriorityHigh},
		{"reply preserved", &source.Message{ChatID: -100, ID: 3, Text: "re", ReplyToID: 1}, true, PriorityHigh},
		{"reply ignored", &source.Message{ChatID: -100, ID: 4, Text: "re", ReplyToID: 1}, false, PriorityNormal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newDispatcherFixture(t, dispatchPair(1, -100, func(p *pairs.Pair) {
				p.Filters.PreserveReplies = tt.preserveReplies
			}))
			fx.d.HandleNew(tt.msg)

			jobs := drainJobs(t, fx.queue)
			if len(jobs) != 1 {
				t.Fatalf("queued %d jobs, want 1", len(jobs))
			}
			if jobs[0].Priority != tt.want {
				t.Fatalf("priority = %v, want %v", jobs[0].Priority, tt.want)
			}
		})
	}
}

func TestHandleNewUnknownSourceIsNoop(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, dispatchPair(1, -100, nil))
	fx.d.HandleNew(&source.Message{ChatID: -999, ID: 10, Text: "hi"})

	if got := fx.queue.Len(); got != 0 {
		t.Fatalf("queue depth = %d, want 0 for unwatched chat", got)
	}
}

func TestHandleEditRespectsSyncFlag(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t,
		dispatchPair(1, -100, nil),
		dispatchPair(2, -100, func(p *pairs.Pair) { p.Filters.SyncEdits = false }),
	)

	fx.d.HandleEdit(&source.Message{ChatID: -100, ID: 10, Text: "v2", EditDate: 1700000001})

	jobs := drainJobs(t, fx.queue)
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1 (pair without sync_edits skipped)", len(jobs))
	}
	if jobs[0].Kind != KindEdit || jobs[0].Priority != PriorityHigh || jobs[0].Pair.ID != 1 {
		t.Fatalf("job = kind %v prio %v pair %d", jobs[0].Kind, jobs[0].Priority, jobs[0].Pair.ID)
	}
}

func TestHandleEditDedupByVersion(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, dispatchPair(1, -100, nil))

	// Повтор той же версии глушится, новая версия проходит.
	fx.d.HandleEdit(&source.Message{ChatID: -100, ID: 10, Text: "v2", EditDate: 1700000001})
	fx.d.HandleEdit(&source.Message{ChatID: -100, ID: 10, Text: "v2", EditDate: 1700000001})
	fx.d.HandleEdit(&source.Message{ChatID: -100, ID: 10, Text: "v3", EditDate: 1700000002})

	if got := fx.queue.Len(); got != 2 {
		t.Fatalf("queue depth = %d, want 2 distinct edit versions", got)
	}
}

func TestHandleDeleteWithKnownChat(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t,
		dispatchPair(1, -100, func(p *pairs.Pair) { p.Filters.SyncDeletes = true }),
		dispatchPair(2, -100, nil), // sync_deletes выключен по умолчанию
	)

	fx.d.HandleDelete(context.Background(), -100, []int{50, 51})

	jobs := drainJobs(t, fx.queue)
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Kind != KindDelete || job.Pair.ID != 1 {
		t.Fatalf("job = kind %v pair %d", job.Kind, job.Pair.ID)
	}
	if len(job.DeletedIDs) != 2 || job.DeletedIDs[0] != 50 || job.DeletedIDs[1] != 51 {
		t.Fatalf("deleted ids = %v, want [50 51]", job.DeletedIDs)
	}
}

func TestHandleDeleteWithoutChatResolvesByMappings(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t,
		dispatchPair(1, -100, func(p *pairs.Pair) { p.Filters.SyncDeletes = true }),
		dispatchPair(2, -200, func(p *pairs.Pair) {
			p.Filters.SyncDeletes = true
			p.Status = pairs.StatusPaused
		}),
	)
	ctx := context.Background()

	// Сообщение 50 скопировано обеими парами, но вторая на паузе.
	for _, pairID := range []int64{1, 2} {
		if err := fx.mappings.SaveMapping(ctx, pairs.Mapping{
			SourceMessageID:      50,
			DestinationMessageID: 950,
			PairID:               pairID,
		}); err != nil {
			t.Fatalf("SaveMapping: %v", err)
		}
	}

	fx.d.HandleDelete(ctx, 0, []int{50, 77})

	jobs := drainJobs(t, fx.queue)
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1 (paused pair and unmapped id skipped)", len(jobs))
	}
	job := jobs[0]
	if job.Pair.ID != 1 || len(job.DeletedIDs) != 1 || job.DeletedIDs[0] != 50 {
		t.Fatalf("job = pair %d ids %v, want pair 1 ids [50]", job.Pair.ID, job.DeletedIDs)
	}
}

func TestHandleDeleteCollapsesRepeatedIDs(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, dispatchPair(1, -100, func(p *pairs.Pair) {
		p.Filters.SyncDeletes = true
	}))

	fx.d.HandleDelete(context.Background(), -100, []int{50, 50, 51, 50})

	jobs := drainJobs(t, fx.queue)
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(jobs))
	}
	want := []int{50, 51}
	if !reflect.DeepEqual(jobs[0].DeletedIDs, want) {
		t.Fatalf("deleted ids = %v, want %v", jobs[0].DeletedIDs, want)
	}
}

func TestHandleDeleteEmptyListIsNoop(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, dispatchPair(1, -100, func(p *pairs.Pair) {
		p.Filters.SyncDeletes = true
	}))
	fx.d.HandleDelete(context.Background(), -100, nil)

	if got := fx.queue.Len(); got != 0 {
		t.Fatalf("queue depth = %d, want 0", got)
	}
}
