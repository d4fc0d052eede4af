// В этом файле реализован Debouncer — «сглаживание» повторяющихся событий по
// ключу (чат, сообщение). Выполнение откладывается, пока активность по тому же
// ключу не утихнет, и запускается один раз — по последнему колбэку.
//
// Применение: серии правок одного сообщения в исходном чате. Без дебаунса
// каждая промежуточная правка порождала бы отдельную синхронизацию в
// целевые чаты; с ним реплицируется итоговая версия.

package concurrency

import (
	"context"
	"sync"
	"time"
)

// debounceKey идентифицирует сообщение в пределах всех наблюдаемых чатов.
type debounceKey struct {
	chatID int64
	msgID  int
}

// pendingEntry сохраняет таймер и отложенный колбэк, чтобы при остановке их
// можно было выполнить вручную.
type pendingEntry struct {
	timer *time.Timer
	fn    func()
}

// Debouncer группирует повторяющиеся действия по ключу (чат, сообщение) и
// запускает их один раз после паузы. Потокобезопасен; отложенные функции
// исполняются вне критической секции.
type Debouncer struct {
	mu      sync.Mutex
	pending map[debounceKey]pendingEntry
	timeout time.Duration // задержка между последним событием и выполнением fn

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDebouncer создаёт дебаунсер с задержкой timeoutMS миллисекунд между
// последним событием и исполнением. Привязка к жизненному циклу — через Start.
func NewDebouncer(timeoutMS int) *Debouncer {
	return &Debouncer{
		pending: make(map[debounceKey]pendingEntry),
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}
}

// Start привязывает Debouncer к контексту и запускает фоновую горутину,
// которая ждёт отмены и дренирует накопленные вызовы. Повторные вызовы
// безопасно игнорируются; nil-контекст означает «не запускать».
func (d *Debouncer) Start(ctx context.Context) {
	if ctx == nil {
		return
	}
	d.runMu.Lock()
	defer d.runMu.Unlock()

	d.mu.Lock()
	if d.cancel != nil {
		d.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	d.wg.Go(func() {
		<-runCtx.Done()
		d.flushPending()
	})
}

// Stop останавливает дебаунсер: отменяет контекст, дожидается фоновой горутины
// и синхронно выполняет все отложенные функции. После возврата активных
// таймеров не остаётся.
func (d *Debouncer) Stop() {
	d.runMu.Lock()
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.ctx = nil
	d.mu.Unlock()
	d.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	// Отложенные операции выполняем уже после остановки наблюдателя.
	d.flushPending()
}

// Do регистрирует функцию для сообщения msgID чата chatID и откладывает её
// запуск на timeout. Повторные вызовы для того же ключа перезапускают таймер и
// заменяют колбэк. Если дебаунсер остановлен или контекст отменён, функция
// выполняется немедленно.
func (d *Debouncer) Do(chatID int64, msgID int, fn func()) {
	key := debounceKey{chatID: chatID, msgID: msgID}

	d.mu.Lock()

	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		fn()
		return
	}

	if entry, exists := d.pending[key]; exists {
		// Перезапуск окна: старый таймер гасим, колбэк заменяем новым.
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}

	timer := time.AfterFunc(d.timeout, func() {
		d.execute(key)
	})
	d.pending[key] = pendingEntry{
		timer: timer,
		fn:    fn,
	}
	d.mu.Unlock()
}

// execute извлекает и удаляет отложенный вызов под локом, затем выполняет его
// вне критической секции. Отсутствие записи — норма (вызов сброшен Stop()).
func (d *Debouncer) execute(key debounceKey) {
	var fn func()

	d.mu.Lock()
	if entry, ok := d.pending[key]; ok {
		delete(d.pending, key)
		fn = entry.fn
	}
	d.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// flushPending синхронно выполняет все накопленные операции: под локом гасит
// таймеры и снимает снапшот колбэков, исполняет их вне критической секции.
func (d *Debouncer) flushPending() {
	var entries []pendingEntry

	d.mu.Lock()
	for key, entry := range d.pending {
		if entry.timer != nil {
			entry.timer.Stop()
		}
		entries = append(entries, entry)
		delete(d.pending, key)
	}
	d.mu.Unlock()

	for _, entry := range entries {
		entry.fn()
	}
}
