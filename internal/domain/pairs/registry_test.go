package pairs

import (
	"context"
	"errors"
	"testing"
)

// memPairStore — хранилище пар в памяти для тестов реестра.
type memPairStore struct {
	pairs   map[int64]Pair
	nextID  int64
	bumpErr error
}

func newMemPairStore(list ...Pair) *memPairStore {
	s := &memPairStore{pairs: make(map[int64]Pair), nextID: 100}
	for _, p := range list {
		s.pairs[p.ID] = p
	}
	return s
}

func (s *memPairStore) ListPairs(context.Context) ([]Pair, error) {
	out := make([]Pair, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, p)
	}
	return out, nil
}

func (s *memPairStore) CreatePair(_ context.Context, p Pair) (int64, error) {
	s.nextID++
	p.ID = s.nextID
	s.pairs[p.ID] = p
	return p.ID, nil
}

func (s *memPairStore) UpdatePair(_ context.Context, p Pair) error {
	if _, ok := s.pairs[p.ID]; !ok {
		return errors.New("pair not found")
	}
	s.pairs[p.ID] = p
	return nil
}

func (s *memPairStore) DeletePair(_ context.Context, id int64) error {
	delete(s.pairs, id)
	return nil
}

func (s *memPairStore) BumpPairStats(_ context.Context, id int64, delta Stats) error {
	if s.bumpErr != nil {
		return s.bumpErr
	}
	p, ok := s.pairs[id]
	if !ok {
		return nil
	}
	p.Stats.Merge(delta)
	s.pairs[id] = p
	return nil
}

func reloadedRegistry(t *testing.T, store Store) *Registry {
	t.Helper()
	r := NewRegistry(store)
	if err := r.Reload(context.Background()); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	return r
}

func TestRegistryEmptyBeforeReload(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newMemPairStore())
	if r.Count() != 0 || len(r.BySource(-1001)) != 0 {
		t.Fatal("registry must answer empty before first Reload")
	}
}

func TestRegistryLookups(t *testing.T) {
	t.Parallel()

	r := reloadedRegistry(t, newMemPairStore(
		Pair{ID: 2, Name: "b", SourceChatID: -1001, DestinationChatID: -2001, Status: StatusActive},
		Pair{ID: 1, Name: "a", SourceChatID: -1001, DestinationChatID: -2002, Status: StatusPaused},
		Pair{ID: 3, Name: "c", SourceChatID: -1009, DestinationChatID: -2003, Status: StatusActive},
	))

	if got := len(r.BySource(-1001)); got != 2 {
		t.Fatalf("BySource(-1001) = %d pairs, want 2 (paused included)", got)
	}
	if _, ok := r.ByID(3); !ok {
		t.Fatal("ByID(3) missing")
	}
	if _, ok := r.ByID(99); ok {
		t.Fatal("ByID(99) found nonexistent pair")
	}

	all := r.All()
	if len(all) != 3 || all[0].ID != 1 || all[2].ID != 3 {
		t.Fatalf("All() order = %v, want sorted by id", []int64{all[0].ID, all[1].ID, all[2].ID})
	}
}

func TestRegistryStatsForMergesLiveDeltas(t *testing.T) {
	t.Parallel()

	r := reloadedRegistry(t, newMemPairStore(
		Pair{ID: 1, Name: "a", SourceChatID: -1, DestinationChatID: -2,
			Stats: Stats{MessagesCopied: 10}},
	))
	r.Book().Copied(1)
	r.Book().Copied(1)

	p, _ := r.ByID(1)
	got := r.StatsFor(p)
	if got.MessagesCopied != 12 {
		t.Fatalf("StatsFor() copied = %d, want persisted 10 + live 2", got.MessagesCopied)
	}
	// Снапшот при этом не мутирует.
	if p.Stats.MessagesCopied != 10 {
		t.Fatalf("snapshot mutated: %d", p.Stats.MessagesCopied)
	}
}

func TestFlushStatsPersistsAndReloads(t *testing.T) {
	t.Parallel()

	store := newMemPairStore(Pair{ID: 1, Name: "a", SourceChatID: -1, DestinationChatID: -2})
	r := reloadedRegistry(t, store)
	r.Book().Copied(1)
	r.Book().Filtered(1)

	if err := r.FlushStats(context.Background()); err != nil {
		t.Fatalf("FlushStats() error = %v", err)
	}
	p, _ := r.ByID(1)
	if p.Stats.MessagesCopied != 1 || p.Stats.MessagesFiltered != 1 {
		t.Fatalf("persisted stats = %+v, want flushed deltas", p.Stats)
	}
	if rest := r.Book().Peek(1); !rest.Zero() {
		t.Fatal("book must be empty after flush")
	}
}

func TestFlushStatsRestoresDeltaOnError(t *testing.T) {
	t.Parallel()

	store := newMemPairStore(Pair{ID: 1, Name: "a", SourceChatID: -1, DestinationChatID: -2})
	store.bumpErr = errors.New("db locked")
	r := reloadedRegistry(t, store)
	r.Book().Copied(1)

	if err := r.FlushStats(context.Background()); err == nil {
		t.Fatal("FlushStats() error = nil, want store failure")
	}
	if r.Book().Peek(1).MessagesCopied != 1 {
		t.Fatal("delta lost after failed flush")
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	r := reloadedRegistry(t, newMemPairStore())
	ctx := context.Background()

	if _, err := r.Create(ctx, "", -1, -2, 0); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := r.Create(ctx, "x", 0, -2, 0); err == nil {
		t.Fatal("zero source accepted")
	}
	if _, err := r.Create(ctx, "x", -1, -1, 0); err == nil {
		t.Fatal("identical chats accepted")
	}

	p, err := r.Create(ctx, "news", -1001, -2001, 1)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.ID == 0 || p.Status != StatusActive {
		t.Fatalf("created pair = %+v, want assigned id and active status", p)
	}
	if _, ok := r.ByID(p.ID); !ok {
		t.Fatal("created pair missing from reloaded snapshot")
	}
}

func TestDeleteRemovesFromSnapshot(t *testing.T) {
	t.Parallel()

	store := newMemPairStore(Pair{ID: 1, Name: "a", SourceChatID: -1, DestinationChatID: -2})
	r := reloadedRegistry(t, store)

	if err := r.Delete(context.Background(), 1); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := r.ByID(1); ok {
		t.Fatal("deleted pair still visible")
	}
}
