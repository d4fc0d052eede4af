// Монитор — три периодических цикла поверх реестра показателей:
// health-пробы ботов, надзор за глубиной очереди и чистка окон ограничителя.
// Сюда же прицеплена периодическая персистенция: снапшот показателей ботов и
// накопленные счётчики пар уезжают в базу одним заходом с надзором за очередью.

package metrics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	// queueWatchInterval — период надзора за глубиной очереди и персистенции.
	queueWatchInterval = 30 * time.Second
	// sweepInterval — период чистки скользящих окон ограничителя.
	sweepInterval = 60 * time.Second
	// probeTimeout — бюджет одной health-пробы.
	probeTimeout = 10 * time.Second
	// queueWarnRatio — порог заполнения очереди, после которого пишется warn.
	queueWarnRatio = 0.8
)

// Prober выполняет лёгкую identity-пробу бота (get_me).
type Prober interface {
	Probe(ctx context.Context, botIndex int) error
	BotCount() int
}

// QueueInfo — источник показателей очереди.
type QueueInfo interface {
	Len() int
	Capacity() int
}

// Sweeper — чистка устаревших записей ограничителя скорости.
type Sweeper interface {
	Sweep()
}

// Persister сохраняет снапшот показателей ботов.
type Persister interface {
	SaveBotMetrics(ctx context.Context, stats map[int]BotStats) error
}

// Monitor владеет фоновыми циклами. Создаётся один на процесс.
type Monitor struct {
	registry *Registry
	prober   Prober
	queue    QueueInfo
	sweeper  Sweeper
	persist  Persister
	// flushStats сбрасывает счётчики пар (книга -> база); может быть nil.
	flushStats func(ctx context.Context) error
	// probeInterval — период health-проб (HEALTH_CHECK_INTERVAL).
	probeInterval time.Duration

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor собирает монитор. probeIntervalSec приходит из конфигурации.
func NewMonitor(
	registry *Registry,
	prober Prober,
	queue QueueInfo,
	sweeper Sweeper,
	persist Persister,
	flushStats func(ctx context.Context) error,
	probeIntervalSec int,
) *Monitor {
	return &Monitor{
		registry:      registry,
		prober:        prober,
		queue:         queue,
		sweeper:       sweeper,
		persist:       persist,
		flushStats:    flushStats,
		probeInterval: time.Duration(probeIntervalSec) * time.Second,
	}
}

// Start запускает циклы монитора. Повторные вызовы игнорируются.
func (m *Monitor) Start(ctx context.Context) {
	if ctx == nil {
		return
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Go(func() { m.healthLoop(runCtx) })
	m.wg.Go(func() { m.queueWatchLoop(runCtx) })
	m.wg.Go(func() { m.sweepLoop(runCtx) })
}

// Stop гасит циклы и дожидается их завершения, после чего делает финальную
// персистенцию показателей, чтобы рестарт продолжил с актуальных значений.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	m.persistAll(flushCtx)
}

// healthLoop раз в probeInterval опрашивает каждого бота identity-вызовом.
func (m *Monitor) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	for idx := 0; idx < m.prober.BotCount(); idx++ {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := m.prober.Probe(probeCtx, idx)
		cancel()

		if ctx.Err() != nil {
			return
		}
		if err != nil {
			failures := m.registry.RecordProbe(idx, false)
			logger.Warn("bot health probe failed",
				zap.Int("bot_index", idx),
				zap.Int("consecutive_failures", failures),
				zap.Error(err))
			continue
		}
		m.registry.RecordProbe(idx, true)
	}
}

// queueWatchLoop следит за глубиной очереди и пишет показатели в базу.
func (m *Monitor) queueWatchLoop(ctx context.Context) {
	ticker := time.NewTicker(queueWatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			depth := m.queue.Len()
			capacity := m.queue.Capacity()
			m.registry.SetLoad(depth)

			if capacity > 0 && float64(depth) > queueWarnRatio*float64(capacity) {
				logger.Warn("message queue is nearly full",
					zap.Int("depth", depth),
					zap.Int("capacity", capacity))
			}

			m.persistAll(ctx)
		}
	}
}

// sweepLoop периодически чистит скользящие окна ограничителя.
func (m *Monitor) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweeper.Sweep()
		}
	}
}

// persistAll сохраняет показатели ботов и счётчики пар. Ошибки не фатальны:
// следующая итерация повторит запись.
func (m *Monitor) persistAll(ctx context.Context) {
	if m.persist != nil {
		if err := m.persist.SaveBotMetrics(ctx, m.registry.Snapshot()); err != nil {
			logger.Warnf("persist bot metrics: %v", err)
		}
	}
	if m.flushStats != nil {
		if err := m.flushStats(ctx); err != nil {
			logger.Warnf("flush pair stats: %v", err)
		}
	}
}
