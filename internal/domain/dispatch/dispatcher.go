// Диспетчер: превращает события источника в задачи очереди. Здесь же
// отсекаются дубли апдейтов и гасится дребезг правок — Telegram шлёт
// промежуточные версии сообщения, публиковать стоит только последнюю.

package dispatch

import (
	"context"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/concurrency"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/shared"
)

// Dispatcher принимает события от телеграм-адаптера и раскладывает их по
// парам. Пара в задаче — снимок: реестр подменяет снимки целиком, поэтому
// указатель безопасно переживает постановку.
type Dispatcher struct {
	registry *pairs.Registry
	queue    *Queue
	mappings MappingStore
	dedup    *concurrency.Deduplicator
	debounce *concurrency.Debouncer
}

func NewDispatcher(
	registry *pairs.Registry,
	queue *Queue,
	mappings MappingStore,
	dedup *concurrency.Deduplicator,
	debounce *concurrency.Debouncer,
) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		queue:    queue,
		mappings: mappings,
		dedup:    dedup,
		debounce: debounce,
	}
}

// HandleNew ставит копирование нового сообщения для каждой активной пары
// с этим источником. Ответы и медиа идут с повышенным приоритетом.
func (d *Dispatcher) HandleNew(msg *source.Message) {
	if d.dedup.Seen(msg.ChatID, msg.ID, 0) {
		return
	}

	targets := d.registry.BySource(msg.ChatID)
	if len(targets) == 0 {
		return
	}
	for _, pair := range targets {
		if !pair.Active() {
			continue
		}
		prio := PriorityNormal
		if (msg.IsReply() && pair.Filters.PreserveReplies) || msg.HasMedia() {
			prio = PriorityHigh
		}
		d.queue.Enqueue(&Job{Kind: KindNew, Pair: pair, Msg: msg, Priority: prio})
	}
	logger.Debugf("message %d from chat %d dispatched to %d pair(s)", msg.ID, msg.ChatID, len(targets))
}

// HandleEdit ставит синхронизацию правки после окна дребезга: серия быстрых
// правок одного сообщения схлопывается в одну задачу с последней версией.
func (d *Dispatcher) HandleEdit(msg *source.Message) {
	if d.dedup.Seen(msg.ChatID, msg.ID, msg.EditDate) {
		return
	}

	d.debounce.Do(msg.ChatID, msg.ID, func() {
		for _, pair := range d.registry.BySource(msg.ChatID) {
			if !pair.Active() || !pair.Filters.SyncEdits {
				continue
			}
			d.queue.Enqueue(&Job{Kind: KindEdit, Pair: pair, Msg: msg, Priority: PriorityHigh})
		}
	})
}

// HandleDelete ставит синхронизацию удалений. Когда апдейт не называет чат
// (удаления в обычных группах), пары восстанавливаются по маппингам.
func (d *Dispatcher) HandleDelete(ctx context.Context, chatID int64, ids []int) {
	if len(ids) == 0 {
		return
	}
	// Апдейты об удалении могут дублировать id, двойное удаление копии не нужно.
	ids = shared.Unique(ids)

	if chatID != 0 {
		for _, pair := range d.registry.BySource(chatID) {
			if !pair.Active() || !pair.Filters.SyncDeletes {
				continue
			}
			d.queue.Enqueue(&Job{Kind: KindDelete, Pair: pair, DeletedIDs: ids, Priority: PriorityNormal})
		}
		return
	}

	byPair := make(map[int64][]int)
	for _, id := range ids {
		mappings, err := d.mappings.MappingsByMessageID(ctx, id)
		if err != nil {
			logger.Warnf("mapping lookup for deleted message %d failed: %v", id, err)
			continue
		}
		for _, m := range mappings {
			byPair[m.PairID] = append(byPair[m.PairID], id)
		}
	}
	for pairID, list := range byPair {
		pair, ok := d.registry.ByID(pairID)
		if !ok || !pair.Active() || !pair.Filters.SyncDeletes {
			continue
		}
		d.queue.Enqueue(&Job{Kind: KindDelete, Pair: pair, DeletedIDs: list, Priority: PriorityNormal})
	}
}
