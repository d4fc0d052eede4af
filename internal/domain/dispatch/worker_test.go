package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/settings"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/domain/transform"
)

// fakeSender записывает вызовы и отдаёт заранее заготовленные ошибки.
type fakeSender struct {
	mu        sync.Mutex
	sent      []TextMessage
	edits     []string
	deletes   []int
	errs      []error // снимаются по одному на каждый вызов транспорта
	nextMsgID int
}

func (f *fakeSender) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeSender) SendText(_ context.Context, _ int, msg TextMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return 0, err
	}
	f.sent = append(f.sent, msg)
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeSender) SendMedia(_ context.Context, _ int, _ int64, _ *media.Plan, _ int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return 0, err
	}
	f.nextMsgID++
	return f.nextMsgID, nil
}

func (f *fakeSender) EditText(_ context.Context, _ int, _ int64, _ int, text string, _ []source.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return err
	}
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeSender) EditCaption(_ context.Context, _ int, _ int64, _ int, caption string, _ []source.Entity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return err
	}
	f.edits = append(f.edits, caption)
	return nil
}

func (f *fakeSender) Delete(_ context.Context, _ int, _ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.nextErr(); err != nil {
		return err
	}
	f.deletes = append(f.deletes, messageID)
	return nil
}

func (f *fakeSender) BotCount() int { return 2 }

// fakeMappings — маппинги в памяти, ключ (pairID, sourceID).
type fakeMappings struct {
	mu   sync.Mutex
	rows map[[2]int64]pairs.Mapping
}

func newFakeMappings() *fakeMappings {
	return &fakeMappings{rows: make(map[[2]int64]pairs.Mapping)}
}

func (f *fakeMappings) SaveMapping(_ context.Context, m pairs.Mapping) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[[2]int64{m.PairID, int64(m.SourceMessageID)}] = m
	return nil
}

func (f *fakeMappings) MappingBySource(_ context.Context, pairID int64, sourceID int) (*pairs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.rows[[2]int64{pairID, int64(sourceID)}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeMappings) MappingsByMessageID(_ context.Context, sourceID int) ([]pairs.Mapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []pairs.Mapping
	for k, m := range f.rows {
		if k[1] == int64(sourceID) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeMappings) DeleteMapping(_ context.Context, pairID int64, sourceID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.rows, [2]int64{pairID, int64(sourceID)})
	return nil
}

func (f *fakeMappings) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeLimiter struct {
	mu        sync.Mutex
	admit     bool
	penalties []time.Duration
}

func (f *fakeLimiter) Admit(int) bool { return f.admit }

func (f *fakeLimiter) Penalize(_ int, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.penalties = append(f.penalties, d)
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []bool
}

func (f *fakeRecorder) Record(_ int, success bool, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, success)
}

type fakeSettingsStore struct {
	values map[string]string
}

func (f *fakeSettingsStore) ListSettings(context.Context) (map[string]string, error) {
	return f.values, nil
}

func (f *fakeSettingsStore) SetSetting(_ context.Context, key, value string) error {
	f.values[key] = value
	return nil
}

type poolFixture struct {
	pool     *Pool
	queue    *Queue
	sender   *fakeSender
	mappings *fakeMappings
	limiter  *fakeLimiter
	recorder *fakeRecorder
	book     *pairs.StatsBook
}

func newFixture(t *testing.T) *poolFixture {
	t.Helper()

	f := &poolFixture{
		queue:    NewQueue(100),
		sender:   &fakeSender{},
		mappings: newFakeMappings(),
		limiter:  &fakeLimiter{admit: true},
		recorder: &fakeRecorder{},
		book:     pairs.NewStatsBook(),
	}
	cache := settings.NewCache(&fakeSettingsStore{values: map[string]string{}})
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("settings reload: %v", err)
	}

	pool, err := NewPool(PoolOptions{
		Queue:       f.queue,
		Sender:      f.sender,
		Mappings:    f.mappings,
		Transformer: transform.NewTransformer(),
		Media:       media.NewPipeline(nil),
		Limiter:     f.limiter,
		Metrics:     f.recorder,
		Book:        f.book,
		Settings:    cache,
		Workers:     1,
		MaxRetries:  3,
	})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	f.pool = pool
	return f
}

func testPair() *pairs.Pair {
	cfg := pairs.DefaultFilterConfig()
	cfg.SyncDeletes = true
	return &pairs.Pair{
		ID:                7,
		Name:              "test",
		SourceChatID:      -1001,
		DestinationChatID: -1002,
		Status:            pairs.StatusActive,
		BotIndex:          0,
		Filters:           cfg,
	}
}

func TestProcessNewSavesMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	j := &Job{
		Kind:     KindNew,
		Pair:     testPair(),
		Msg:      &source.Message{ChatID: -1001, ID: 42, Text: "hello"},
		Priority: PriorityHigh,
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.sent) != 1 {
		t.Fatalf("sender got %d messages, want 1", len(f.sender.sent))
	}
	if f.sender.sent[0].ChatID != -1002 || f.sender.sent[0].Text != "hello" {
		t.Fatalf("sent message = %+v, want chat -1002 text hello", f.sender.sent[0])
	}

	m, err := f.mappings.MappingBySource(context.Background(), 7, 42)
	if err != nil || m == nil {
		t.Fatalf("MappingBySource() = %v, %v; want saved mapping", m, err)
	}
	if m.DestinationMessageID != 1 || m.MessageType != "text" {
		t.Fatalf("mapping = %+v, want dest 1 type text", m)
	}

	if delta := f.book.Peek(7); delta.MessagesCopied != 1 {
		t.Fatalf("MessagesCopied = %d, want 1", delta.MessagesCopied)
	}
	if len(f.recorder.outcomes) != 1 || !f.recorder.outcomes[0] {
		t.Fatalf("recorder outcomes = %v, want one success", f.recorder.outcomes)
	}
}

func TestProcessFilteredMessage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := testPair()
	pair.Filters.BlockedWords = []string{"spam"}
	j := &Job{
		Kind: KindNew,
		Pair: pair,
		Msg:  &source.Message{ChatID: -1001, ID: 43, Text: "pure spam here"},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.sent) != 0 {
		t.Fatalf("sender got %d messages, want 0", len(f.sender.sent))
	}
	if delta := f.book.Peek(7); delta.MessagesFiltered != 1 || delta.MessagesCopied != 0 {
		t.Fatalf("stats delta = %+v, want one filtered", delta)
	}
	// Фильтрация — штатный исход, здоровье бота она не портит.
	if len(f.recorder.outcomes) != 1 || !f.recorder.outcomes[0] {
		t.Fatalf("recorder outcomes = %v, want one success", f.recorder.outcomes)
	}
}

func TestProcessDegradedSendOnBadRequest(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.errs = []error{&SendError{Kind: FailBadRequest}}
	j := &Job{
		Kind: KindNew,
		Pair: testPair(),
		Msg: &source.Message{
			ChatID:   -1001,
			ID:       44,
			Text:     "styled",
			Entities: []source.Entity{{Type: source.EntityBold, Offset: 0, Length: 6}},
		},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.sent) != 1 {
		t.Fatalf("sender got %d delivered messages, want 1 (degraded)", len(f.sender.sent))
	}
	if len(f.sender.sent[0].Entities) != 0 {
		t.Fatalf("degraded send kept entities: %+v", f.sender.sent[0].Entities)
	}
	if delta := f.book.Peek(7); delta.MessagesCopied != 1 {
		t.Fatalf("MessagesCopied = %d, want 1 after degraded send", delta.MessagesCopied)
	}
}

func TestProcessRetryAfterPenalizesAndRequeues(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.errs = []error{&SendError{Kind: FailRetryAfter, Seconds: 9}}
	j := &Job{
		Kind: KindNew,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 45, Text: "x"},
	}

	f.pool.process(context.Background(), j)

	if len(f.limiter.penalties) != 1 || f.limiter.penalties[0] != 9*time.Second {
		t.Fatalf("penalties = %v, want [9s]", f.limiter.penalties)
	}
	if f.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want requeued job", f.queue.Len())
	}
	// Flood wait не считается исходом обработки.
	if len(f.recorder.outcomes) != 0 {
		t.Fatalf("recorder outcomes = %v, want none", f.recorder.outcomes)
	}
	if j.Retries != 0 {
		t.Fatalf("Retries = %d, want 0 after flood wait", j.Retries)
	}
}

func TestProcessRateLimitedRequeuesWithoutMetrics(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.limiter.admit = false
	j := &Job{
		Kind: KindNew,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 46, Text: "x"},
	}

	// Отменённый контекст схлопывает паузу перед возвратом в очередь.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.pool.process(ctx, j)

	if f.queue.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", f.queue.Len())
	}
	if j.Retries != 1 {
		t.Fatalf("Retries = %d, want 1", j.Retries)
	}
	if len(f.sender.sent) != 0 || len(f.recorder.outcomes) != 0 {
		t.Fatal("rate-limited job must not reach transport or metrics")
	}
}

func TestProcessTerminalAfterMaxRetries(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.errs = []error{&SendError{Kind: FailNetwork}}
	j := &Job{
		Kind:    KindNew,
		Pair:    testPair(),
		Msg:     &source.Message{ChatID: -1001, ID: 47, Text: "x"},
		Retries: 3,
	}

	f.pool.process(context.Background(), j)

	if f.queue.Len() != 0 {
		t.Fatalf("queue len = %d, want 0 for buried job", f.queue.Len())
	}
	if delta := f.book.Peek(7); delta.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", delta.Errors)
	}
	if len(f.recorder.outcomes) != 1 || f.recorder.outcomes[0] {
		t.Fatalf("recorder outcomes = %v, want one failure", f.recorder.outcomes)
	}
}

func TestProcessForbiddenIsTerminal(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sender.errs = []error{&SendError{Kind: FailForbidden}}
	j := &Job{
		Kind: KindNew,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 48, Text: "x"},
	}

	f.pool.process(context.Background(), j)

	if f.queue.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", f.queue.Len())
	}
	if delta := f.book.Peek(7); delta.Errors != 1 {
		t.Fatalf("Errors = %d, want 1", delta.Errors)
	}
}

func TestEditWithoutMappingIsNoop(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	j := &Job{
		Kind: KindEdit,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 50, Text: "edited"},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.edits) != 0 {
		t.Fatalf("sender got %d edits, want 0 without mapping", len(f.sender.edits))
	}
	if delta := f.book.Peek(7); delta.EditsSynced != 0 {
		t.Fatalf("EditsSynced = %d, want 0", delta.EditsSynced)
	}
}

func TestEditSyncsExistingCopy(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
		SourceMessageID: 51, DestinationMessageID: 900, PairID: 7,
		SourceChatID: -1001, DestinationChatID: -1002,
	})
	j := &Job{
		Kind: KindEdit,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 51, Text: "new text", EditDate: 123},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.edits) != 1 || f.sender.edits[0] != "new text" {
		t.Fatalf("edits = %v, want [new text]", f.sender.edits)
	}
	if delta := f.book.Peek(7); delta.EditsSynced != 1 {
		t.Fatalf("EditsSynced = %d, want 1", delta.EditsSynced)
	}
}

func TestEditNotModifiedSwallowed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
		SourceMessageID: 52, DestinationMessageID: 901, PairID: 7,
	})
	f.sender.errs = []error{&SendError{Kind: FailNotModified}}
	j := &Job{
		Kind: KindEdit,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 52, Text: "same"},
	}

	f.pool.process(context.Background(), j)

	if delta := f.book.Peek(7); delta.EditsSynced != 1 || delta.Errors != 0 {
		t.Fatalf("stats delta = %+v, want edit counted without error", delta)
	}
	if f.queue.Len() != 0 {
		t.Fatalf("queue len = %d, want 0", f.queue.Len())
	}
}

func TestEditGoneCopyDropsMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
		SourceMessageID: 53, DestinationMessageID: 902, PairID: 7,
	})
	f.sender.errs = []error{&SendError{Kind: FailNotFound}}
	j := &Job{
		Kind: KindEdit,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 53, Text: "any"},
	}

	f.pool.process(context.Background(), j)

	if f.mappings.count() != 0 {
		t.Fatalf("mappings left = %d, want stale mapping dropped", f.mappings.count())
	}
}

func TestDeleteSyncsMappedCopies(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for src, dst := range map[int]int{60: 910, 62: 912} {
		_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
			SourceMessageID: src, DestinationMessageID: dst, PairID: 7,
			DestinationChatID: -1002,
		})
	}
	j := &Job{
		Kind:       KindDelete,
		Pair:       testPair(),
		DeletedIDs: []int{60, 61, 62}, // 61 без маппинга — пропускается
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.deletes) != 2 {
		t.Fatalf("deletes = %v, want 2 calls", f.sender.deletes)
	}
	if f.mappings.count() != 0 {
		t.Fatalf("mappings left = %d, want 0", f.mappings.count())
	}
	if delta := f.book.Peek(7); delta.DeletesSynced != 2 {
		t.Fatalf("DeletesSynced = %d, want 2", delta.DeletesSynced)
	}
}

func TestDeleteDisabledByPairConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := testPair()
	pair.Filters.SyncDeletes = false
	_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
		SourceMessageID: 70, DestinationMessageID: 920, PairID: 7,
	})
	j := &Job{Kind: KindDelete, Pair: pair, DeletedIDs: []int{70}}

	f.pool.process(context.Background(), j)

	if len(f.sender.deletes) != 0 {
		t.Fatalf("deletes = %v, want none when sync_deletes off", f.sender.deletes)
	}
	if f.mappings.count() != 1 {
		t.Fatal("mapping must survive when sync_deletes is off")
	}
}

func TestReplyPreservedThroughMapping(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_ = f.mappings.SaveMapping(context.Background(), pairs.Mapping{
		SourceMessageID: 80, DestinationMessageID: 930, PairID: 7,
	})
	j := &Job{
		Kind: KindNew,
		Pair: testPair(),
		Msg:  &source.Message{ChatID: -1001, ID: 81, Text: "reply", ReplyToID: 80},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.sent) != 1 || f.sender.sent[0].ReplyTo != 930 {
		t.Fatalf("sent = %+v, want ReplyTo 930", f.sender.sent)
	}
	if delta := f.book.Peek(7); delta.RepliesPreserved != 1 {
		t.Fatalf("RepliesPreserved = %d, want 1", delta.RepliesPreserved)
	}
}

func TestBotIndexOutOfRangeFallsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	pair := testPair()
	pair.BotIndex = 99
	j := &Job{
		Kind: KindNew,
		Pair: pair,
		Msg:  &source.Message{ChatID: -1001, ID: 90, Text: "x"},
	}

	f.pool.process(context.Background(), j)

	if len(f.sender.sent) != 1 {
		t.Fatalf("sender got %d messages, want 1 via fallback bot", len(f.sender.sent))
	}
}
