// Книга живых счётчиков пар. Воркеры инкрементируют её на каждом событии;
// в базу дельты уезжают пакетно (периодический FlushStats и при остановке).
// Так горячий путь доставки не упирается в запись sqlite.

package pairs

import (
	"sync"
	"time"
)

// StatsBook аккумулирует приращения счётчиков по парам. Потокобезопасна.
type StatsBook struct {
	mu     sync.Mutex
	deltas map[int64]*Stats
	now    func() time.Time // подменяется в тестах
}

// NewStatsBook создаёт пустую книгу.
func NewStatsBook() *StatsBook {
	return &StatsBook{
		deltas: make(map[int64]*Stats),
		now:    time.Now,
	}
}

// bump применяет мутацию к дельте пары и отмечает активность.
func (b *StatsBook) bump(pairID int64, mutate func(*Stats)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.deltas[pairID]
	if !ok {
		d = &Stats{}
		b.deltas[pairID] = d
	}
	mutate(d)
	d.LastActivity = b.now().Unix()
}

// Copied фиксирует успешную репликацию сообщения.
func (b *StatsBook) Copied(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.MessagesCopied++ })
}

// Filtered фиксирует сообщение, отброшенное фильтрами.
func (b *StatsBook) Filtered(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.MessagesFiltered++ })
}

// Failed фиксирует терминальную ошибку доставки.
func (b *StatsBook) Failed(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.Errors++ })
}

// EditSynced фиксирует синхронизированную правку.
func (b *StatsBook) EditSynced(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.EditsSynced++ })
}

// DeleteSynced фиксирует синхронизированное удаление.
func (b *StatsBook) DeleteSynced(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.DeletesSynced++ })
}

// ReplyPreserved фиксирует скопированный ответ с сохранённой привязкой.
func (b *StatsBook) ReplyPreserved(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.RepliesPreserved++ })
}

// ImageBlocked фиксирует вложение, отброшенное как заблокированное изображение.
func (b *StatsBook) ImageBlocked(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.ImagesBlocked++ })
}

// MentionsRemoved фиксирует n вырезанных упоминаний.
func (b *StatsBook) MentionsRemoved(pairID int64, n int) {
	if n <= 0 {
		return
	}
	b.bump(pairID, func(s *Stats) { s.MentionsRemoved += int64(n) })
}

// HeaderRemoved фиксирует срезанную «шапку».
func (b *StatsBook) HeaderRemoved(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.HeadersRemoved++ })
}

// FooterRemoved фиксирует срезанный «подвал».
func (b *StatsBook) FooterRemoved(pairID int64) {
	b.bump(pairID, func(s *Stats) { s.FootersRemoved++ })
}

// Peek возвращает копию текущей дельты пары (нулевая, если приращений нет).
func (b *StatsBook) Peek(pairID int64) Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.deltas[pairID]; ok {
		return *d
	}
	return Stats{}
}

// Drain забирает все накопленные дельты, очищая книгу. Нулевые дельты опускаются.
func (b *StatsBook) Drain() map[int64]Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[int64]Stats, len(b.deltas))
	for id, d := range b.deltas {
		if d.Zero() {
			continue
		}
		out[id] = *d
	}
	b.deltas = make(map[int64]*Stats)
	return out
}

// Restore возвращает дельту обратно в книгу (неудачный сброс в хранилище).
func (b *StatsBook) Restore(pairID int64, delta Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()

	d, ok := b.deltas[pairID]
	if !ok {
		d = &Stats{}
		b.deltas[pairID] = d
	}
	d.Merge(delta)
}
