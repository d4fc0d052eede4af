// Вотчдог MTProto-соединения. gotd сам переподключается, но между обрывом и
// восстановлением проходит время; вотчдог ведёт признак «в сети», будит
// ожидателей при восстановлении и подтверждает возврат связи лёгким
// RPC-вызовом. Online() читает веб-интерфейс для отчёта о состоянии.

package telegram

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	// pingInterval — период проверочных RPC-вызовов в офлайне.
	pingInterval = 10 * time.Second
	// pingTimeout — бюджет одного проверочного вызова.
	pingTimeout = 5 * time.Second
)

// Watchdog отслеживает состояние соединения наблюдателя. Потокобезопасен;
// до Bind работает пассивно, только фиксируя переходы состояния.
type Watchdog struct {
	connected atomic.Bool

	mu            sync.Mutex
	ctx           context.Context
	client        *telegram.Client
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

// NewWatchdog создаёт вотчдог в состоянии «в сети»: ожидатели не должны
// блокироваться до первого зафиксированного обрыва.
func NewWatchdog() *Watchdog {
	w := &Watchdog{}
	w.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	w.waitCh = ready
	return w
}

// Bind привязывает клиента и контекст жизненного цикла. До привязки
// MarkDisconnected лишь меняет признак, без цикла восстановления.
func (w *Watchdog) Bind(ctx context.Context, client *telegram.Client) {
	w.mu.Lock()
	w.ctx = ctx
	w.client = client
	w.mu.Unlock()
}

// Online сообщает текущее состояние соединения.
func (w *Watchdog) Online() bool { return w.connected.Load() }

// MarkConnected фиксирует восстановление: гасит монитор и будит ожидателей.
// Идемпотентен.
func (w *Watchdog) MarkConnected() {
	if w.connected.Swap(true) {
		return
	}

	w.mu.Lock()
	if w.monitorCancel != nil {
		w.monitorCancel()
		w.monitorCancel = nil
	}
	ch := w.waitCh
	if ch == nil {
		ch = make(chan struct{})
		w.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	w.mu.Unlock()

	logger.Info("telegram connection restored")
}

// MarkDisconnected фиксирует обрыв: новое поколение канала ожидания и цикл
// проверочных вызовов до восстановления. Идемпотентен.
func (w *Watchdog) MarkDisconnected() {
	if !w.connected.CompareAndSwap(true, false) {
		return
	}

	w.mu.Lock()
	if w.monitorCancel != nil {
		w.monitorCancel()
		w.monitorCancel = nil
	}
	w.waitCh = make(chan struct{})

	baseCtx := w.ctx
	client := w.client
	var monitorCtx context.Context
	if baseCtx != nil && client != nil {
		monitorCtx, w.monitorCancel = context.WithCancel(baseCtx)
	}
	w.mu.Unlock()

	logger.Warnf("telegram connection lost, waiting for restore")
	if monitorCtx != nil {
		go w.monitorLoop(monitorCtx, client)
	}
}

// WaitOnline блокирует до восстановления соединения либо отмены контекста.
func (w *Watchdog) WaitOnline(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	for {
		if w.connected.Load() {
			return
		}
		ch := w.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			// Проснулись по старому каналу — цикл проверит актуальный.
		}
	}
}

// Shutdown будит всех ожидателей и останавливает монитор.
func (w *Watchdog) Shutdown() {
	w.mu.Lock()
	if w.monitorCancel != nil {
		w.monitorCancel()
		w.monitorCancel = nil
	}
	ch := w.waitCh
	w.waitCh = nil
	w.mu.Unlock()

	if ch != nil {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func (w *Watchdog) currentWaitCh() <-chan struct{} {
	w.mu.Lock()
	ch := w.waitCh
	w.mu.Unlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// monitorLoop раз в pingInterval выполняет лёгкий RPC-вызов. Self() требует
// полноценного MTProto-соединения, успех означает реальное восстановление.
func (w *Watchdog) monitorLoop(ctx context.Context, client *telegram.Client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		attempt++
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		err := w.safePing(pingCtx, client)
		cancel()

		if err == nil {
			w.MarkConnected()
			return
		}
		if isNetworkError(err) {
			logger.Debugf("connection probe %d failed: %v", attempt, err)
		} else if !errors.Is(err, context.Canceled) {
			logger.Warnf("connection probe %d failed with non-network error: %v", attempt, err)
		}
	}
}

// safePing защищает проверочный вызов от паник недоинициализированного движка.
func (w *Watchdog) safePing(ctx context.Context, client *telegram.Client) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debugf("connection probe panic recovered: %v", r)
			err = net.ErrClosed
		}
	}()
	_, err = client.Self(ctx)
	return err
}

// isNetworkError распознаёт сетевые обрывы: мёртвый коннект пула, закрытый
// движок, исчерпанные ретраи rpc, дедлайны, EOF и net.Error. Контекстная
// отмена сетевой ошибкой не считается.
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
