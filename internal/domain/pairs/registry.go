// Реестр пар: read-mostly снапшот поверх персистентного хранилища.
// Горячий путь (диспетчеризация входящих событий) читает снапшот без блокировок
// через atomic.Value; любая мутация идёт в хранилище и завершается Reload с
// атомарной подменой снапшота целиком.

package pairs

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// Store — персистентное хранилище пар. Реализуется sqlite-адаптером.
type Store interface {
	// ListPairs возвращает все пары с их фильтрами и счётчиками.
	ListPairs(ctx context.Context) ([]Pair, error)
	// CreatePair вставляет пару и возвращает присвоенный id.
	CreatePair(ctx context.Context, p Pair) (int64, error)
	// UpdatePair перезаписывает изменяемые поля пары по id.
	UpdatePair(ctx context.Context, p Pair) error
	// DeletePair удаляет пару. Маппинги сообщений при этом сохраняются,
	// чтобы edits/deletes «в полёте» могли разрешиться; чистка — отдельной операцией.
	DeletePair(ctx context.Context, id int64) error
	// BumpPairStats транзакционно прибавляет дельту к счётчикам пары.
	BumpPairStats(ctx context.Context, id int64, delta Stats) error
}

// snapshot — неизменяемое состояние реестра. Подменяется целиком.
type snapshot struct {
	byID     map[int64]*Pair
	bySource map[int64][]*Pair
	ordered  []*Pair // отсортированы по id для стабильных списков
}

func emptySnapshot() *snapshot {
	return &snapshot{
		byID:     map[int64]*Pair{},
		bySource: map[int64][]*Pair{},
	}
}

// Registry — потокобезопасный реестр пар со снапшот-семантикой.
// Возвращаемые указатели на Pair разделяют снапшот и трактуются как read-only.
type Registry struct {
	store Store
	v     atomic.Value // *snapshot
	book  *StatsBook
}

// NewRegistry создаёт пустой реестр поверх хранилища. До первого Reload
// реестр отвечает пустыми выборками.
func NewRegistry(store Store) *Registry {
	r := &Registry{
		store: store,
		book:  NewStatsBook(),
	}
	r.v.Store(emptySnapshot())
	return r
}

// Reload перечитывает пары из хранилища и атомарно подменяет снапшот.
// Вызывается на старте и после каждой мутации control plane.
func (r *Registry) Reload(ctx context.Context) error {
	list, err := r.store.ListPairs(ctx)
	if err != nil {
		return errors.Wrap(err, "list pairs")
	}

	snap := emptySnapshot()
	for i := range list {
		p := &list[i]
		snap.byID[p.ID] = p
		snap.bySource[p.SourceChatID] = append(snap.bySource[p.SourceChatID], p)
		snap.ordered = append(snap.ordered, p)
	}
	sort.Slice(snap.ordered, func(i, j int) bool { return snap.ordered[i].ID < snap.ordered[j].ID })

	r.v.Store(snap)
	logger.Debugf("pair registry reloaded: %d pairs", len(snap.ordered))
	return nil
}

func (r *Registry) current() *snapshot {
	return r.v.Load().(*snapshot)
}

// BySource возвращает пары, наблюдающие чат chatID (включая приостановленные).
func (r *Registry) BySource(chatID int64) []*Pair {
	return r.current().bySource[chatID]
}

// ByID возвращает пару по id.
func (r *Registry) ByID(id int64) (*Pair, bool) {
	p, ok := r.current().byID[id]
	return p, ok
}

// All возвращает все пары, отсортированные по id.
func (r *Registry) All() []*Pair {
	return r.current().ordered
}

// Count возвращает число пар в снапшоте.
func (r *Registry) Count() int {
	return len(r.current().ordered)
}

// Book — книга живых счётчиков. Воркеры пишут приращения сюда, без похода в базу.
func (r *Registry) Book() *StatsBook {
	return r.book
}

// StatsFor возвращает счётчики пары с учётом ещё не сброшенных приращений.
func (r *Registry) StatsFor(p *Pair) Stats {
	merged := p.Stats
	merged.Merge(r.book.Peek(p.ID))
	return merged
}

// FlushStats сбрасывает накопленные приращения в хранилище и перечитывает
// снапшот. Дельты по уже удалённым парам пропускаются молча.
func (r *Registry) FlushStats(ctx context.Context) error {
	deltas := r.book.Drain()
	if len(deltas) == 0 {
		return nil
	}

	var firstErr error
	for id, delta := range deltas {
		if err := r.store.BumpPairStats(ctx, id, delta); err != nil {
			// Возвращаем дельту в книгу, чтобы не потерять счётчики до следующего сброса.
			r.book.Restore(id, delta)
			if firstErr == nil {
				firstErr = errors.Wrapf(err, "flush stats for pair %d", id)
			}
		}
	}
	if firstErr != nil {
		return firstErr
	}
	return r.Reload(ctx)
}

// Create добавляет пару и возвращает её после перечитывания реестра.
// Валидация: непустое имя, различные чаты, неотрицательный bot index.
func (r *Registry) Create(ctx context.Context, name string, sourceChatID, destinationChatID int64, botIndex int) (*Pair, error) {
	if name == "" {
		return nil, errors.New("pair name must not be empty")
	}
	if sourceChatID == 0 || destinationChatID == 0 {
		return nil, errors.New("source and destination chat ids must be set")
	}
	if sourceChatID == destinationChatID {
		return nil, errors.New("source and destination chats must differ")
	}
	if botIndex < 0 {
		return nil, errors.New("bot index must not be negative")
	}

	now := time.Now()
	p := Pair{
		Name:              name,
		SourceChatID:      sourceChatID,
		DestinationChatID: destinationChatID,
		Status:            StatusActive,
		BotIndex:          botIndex,
		Filters:           DefaultFilterConfig(),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	id, err := r.store.CreatePair(ctx, p)
	if err != nil {
		return nil, errors.Wrap(err, "create pair")
	}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}

	created, ok := r.ByID(id)
	if !ok {
		return nil, fmt.Errorf("pair %d vanished after create", id)
	}
	logger.Infof("pair created: id=%d name=%q %d -> %d (bot %d)",
		created.ID, created.Name, created.SourceChatID, created.DestinationChatID, created.BotIndex)
	return created, nil
}

// Delete удаляет пару из хранилища и реестра. Исторические маппинги сообщений
// сохраняются; для полной зачистки есть отдельная операция хранилища.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	if _, ok := r.ByID(id); !ok {
		return fmt.Errorf("pair %d not found", id)
	}
	if err := r.store.DeletePair(ctx, id); err != nil {
		return errors.Wrapf(err, "delete pair %d", id)
	}
	logger.Infof("pair deleted: id=%d", id)
	return r.Reload(ctx)
}

// SetStatus переводит пару в active/paused.
func (r *Registry) SetStatus(ctx context.Context, id int64, st Status) error {
	if st != StatusActive && st != StatusPaused {
		return fmt.Errorf("unknown pair status %q", st)
	}
	return r.update(ctx, id, func(p *Pair) { p.Status = st })
}

// Reassign закрепляет за парой другой бот-индекс. Привязка персистентная и
// переживает перезагрузку реестра.
func (r *Registry) Reassign(ctx context.Context, id int64, botIndex int) error {
	if botIndex < 0 {
		return errors.New("bot index must not be negative")
	}
	return r.update(ctx, id, func(p *Pair) { p.BotIndex = botIndex })
}

// Rename меняет отображаемое имя пары.
func (r *Registry) Rename(ctx context.Context, id int64, name string) error {
	if name == "" {
		return errors.New("pair name must not be empty")
	}
	return r.update(ctx, id, func(p *Pair) { p.Name = name })
}

// UpdateFilters модифицирует конфигурацию фильтров пары через колбэк.
func (r *Registry) UpdateFilters(ctx context.Context, id int64, mutate func(*FilterConfig) error) error {
	snapPair, ok := r.ByID(id)
	if !ok {
		return fmt.Errorf("pair %d not found", id)
	}

	updated := *snapPair
	if err := mutate(&updated.Filters); err != nil {
		return err
	}
	updated.UpdatedAt = time.Now()

	if err := r.store.UpdatePair(ctx, updated); err != nil {
		return errors.Wrapf(err, "update pair %d", id)
	}
	return r.Reload(ctx)
}

// update — общий путь мутации: копия пары из снапшота → правка → запись → Reload.
func (r *Registry) update(ctx context.Context, id int64, mutate func(*Pair)) error {
	snapPair, ok := r.ByID(id)
	if !ok {
		return fmt.Errorf("pair %d not found", id)
	}

	updated := *snapPair
	mutate(&updated)
	updated.UpdatedAt = time.Now()

	if err := r.store.UpdatePair(ctx, updated); err != nil {
		return errors.Wrapf(err, "update pair %d", id)
	}
	return r.Reload(ctx)
}
