// Package concurrency — вспомогательная инфраструктура конкурентного исполнения.
// Данный файл содержит Deduplicator — потокобезопасный кэш «недавно видели»,
// который подавляет повторную обработку событий в пределах заданного окна.
// Используется поверх входящих апдейтов Telegram: после reconnect'а или при
// дублирующихся апдейтах одно и то же сообщение не должно реплицироваться дважды.

package concurrency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// Deduplicator хранит сигнатуры недавно обработанных событий и решает,
// считать ли очередное событие повтором в рамках заданного окна.
// Ключ — `<chatID>:<msgID>:<editDate>`; правка сообщения меняет editDate и
// даёт новую сигнатуру, так что каждая версия текста проходит ровно один раз.
type Deduplicator struct {
	mu     sync.Mutex           // защищает seen от параллельных горутин
	seen   map[string]time.Time // key -> expireAt
	window time.Duration        // окно подавления повторов

	runMu  sync.Mutex         // защищает старт/остановку фоновой очистки
	cancel context.CancelFunc // завершает цикл очистки
	wg     sync.WaitGroup     // дожидается фоновой горутины при остановке
}

// NewDeduplicator создаёт кэш подавления повторов с окном windowSec секунд.
// Нулевое окно фактически отключает дедупликацию.
func NewDeduplicator(windowSec int) *Deduplicator {
	return &Deduplicator{
		seen:   make(map[string]time.Time),
		window: time.Duration(windowSec) * time.Second,
	}
}

// Start поднимает фоновую горутину очистки устаревших ключей. Повторные вызовы
// безопасны и игнорируются. Если передан nil-контекст, запуск отменяется.
func (d *Deduplicator) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Go(func() {
		// Раз в минуту вычищаем просроченные записи, чтобы карта не росла бесконечно.
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				d.Cleanup()
			}
		}
	})
}

// Stop корректно завершает фоновую очистку и дожидается её окончания.
func (d *Deduplicator) Stop() {
	d.runMu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.runMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	d.wg.Wait()
}

// Seen сообщает, видели ли уже событие с сигнатурой `<chatID>:<msgID>:<editDate>`
// в пределах окна. Возвращает true, если запись ещё актуальна (повтор), иначе
// регистрирует новую запись с истечением через d.window и возвращает false.
func (d *Deduplicator) Seen(chatID int64, msgID int, editDate int) bool {
	key := fmt.Sprintf("%d:%d:%d", chatID, msgID, editDate)

	// editDate == 0 у первой версии сообщения; правка даёт новое значение и
	// естественным образом снимает подавление для изменённого текста.

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		logger.Debug(fmt.Sprintf("DEDUP SEEN: %v", key))
		return true
	}
	d.seen[key] = now.Add(d.window)
	return false
}

// Cleanup удаляет из карты все записи с истёкшим сроком. Потокобезопасен,
// вызывается как фоново (через Start), так и синхронно по необходимости.
func (d *Deduplicator) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for k, exp := range d.seen {
		if now.After(exp) {
			delete(d.seen, k)
		}
	}
}
