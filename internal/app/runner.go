// Файл runner.go — оркестрация жизненного цикла. Узлы регистрируются в
// lifecycle-менеджере с явными зависимостями, запускаются в правильном
// порядке и гасятся в обратном. Клиент-наблюдатель работает в фоновой
// горутине своего узла: его падение с невыжившей ошибкой останавливает
// всё приложение через mainCancel.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/infra/concurrency"
	"github.com/sunil55999/Luffy/internal/infra/config"
	"github.com/sunil55999/Luffy/internal/infra/lifecycle"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	webShutdownTimeout  = 10 * time.Second
	storageFlushTimeout = 10 * time.Second
)

// Run запускает все подсистемы и блокируется до отмены основного контекста,
// после чего останавливает узлы в обратном порядке. Вызывается после Init.
func (a *App) Run() error {
	lm := lifecycle.New(a.mainCtx)

	if err := a.registerNodes(lm); err != nil {
		return errors.Wrap(err, "register lifecycle nodes")
	}

	if err := lm.StartAll(); err != nil {
		logger.Errorf("startup failed: %v", err)
		if stopErr := lm.Shutdown(); stopErr != nil {
			logger.Errorf("shutdown after failed startup: %v", stopErr)
		}
		return err
	}

	logger.Info("replication service running")

	// Ограничение времени работы для тестовых прогонов.
	concurrency.StartTimeoutTimer(a.mainCtx, config.Env().RunTimeoutSec, a.mainCancel)

	<-a.mainCtx.Done()
	logger.Debug("shutdown signal received")

	return lm.Shutdown()
}

// registerNodes описывает дерево подсистем. Зависимости отражают порядок
// данных: воркеры пишут в хранилище, монитор опрашивает воркеров и ботов,
// клиент-наблюдатель кормит очередь и поэтому стартует последним из ядра.
func (a *App) registerNodes(lm *lifecycle.Manager) error {
	if err := lm.Register("storage", "", nil, nil, a.stopStorage); err != nil {
		return err
	}

	if err := lm.Register("throttler", "", nil,
		func(ctx context.Context) (context.Context, error) {
			a.throttler.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.throttler.Stop()
			return nil
		}); err != nil {
		return err
	}

	if err := lm.Register("deduplicator", "", nil,
		func(ctx context.Context) (context.Context, error) {
			a.dedup.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.dedup.Stop()
			return nil
		}); err != nil {
		return err
	}

	if err := lm.Register("debouncer", "", nil,
		func(ctx context.Context) (context.Context, error) {
			a.debounce.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.debounce.Stop()
			return nil
		}); err != nil {
		return err
	}

	if err := lm.Register("workers", "", []string{"storage"},
		func(ctx context.Context) (context.Context, error) {
			a.workers.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.workers.Stop()
			return nil
		}); err != nil {
		return err
	}

	if err := lm.Register("monitor", "", []string{"storage", "workers"},
		func(ctx context.Context) (context.Context, error) {
			a.monitor.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.monitor.Stop()
			return nil
		}); err != nil {
		return err
	}

	observerDeps := []string{"storage", "throttler", "deduplicator", "debouncer", "workers"}
	if err := lm.Register("observer", "", observerDeps, a.startObserver, a.stopObserver); err != nil {
		return err
	}

	if err := lm.Register("admin_bot", "", []string{"storage", "workers"},
		func(ctx context.Context) (context.Context, error) {
			a.admin.Start(ctx)
			return nil, nil
		},
		func(context.Context) error {
			a.admin.Stop()
			return nil
		}); err != nil {
		return err
	}

	if a.console != nil {
		if err := lm.Register("cli", "", nil,
			func(ctx context.Context) (context.Context, error) {
				a.console.Start(ctx)
				return nil, nil
			},
			func(context.Context) error {
				a.console.Stop()
				return nil
			}); err != nil {
			return err
		}
	}

	if a.web != nil {
		if err := lm.Register("web_server", "", nil, a.startWeb, a.stopWeb); err != nil {
			return err
		}
	}

	return nil
}

// startObserver запускает MTProto-клиента в фоне. Падение клиента с
// невыжившей ошибкой (после исчерпания реконнектов) гасит всё приложение.
func (a *App) startObserver(ctx context.Context) (context.Context, error) {
	a.clientWG.Go(func() {
		err := a.client.Run(ctx, nil)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("observer stopped: %v", err)
			a.mainCancel()
		}
	})
	return nil, nil
}

func (a *App) stopObserver(context.Context) error {
	a.clientWG.Wait()
	return a.client.Close()
}

func (a *App) startWeb(context.Context) (context.Context, error) {
	go func() {
		if err := a.web.Start(); err != nil {
			logger.Errorf("web server error: %v", err)
			a.mainCancel()
		}
	}()
	return nil, nil
}

func (a *App) stopWeb(context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), webShutdownTimeout)
	defer cancel()
	return a.web.Shutdown(shutdownCtx)
}

// stopStorage сбрасывает накопленную статистику пар и показатели ботов,
// после чего закрывает базу. Узел хранилища гаснет последним из ядра.
func (a *App) stopStorage(context.Context) error {
	flushCtx, cancel := context.WithTimeout(context.Background(), storageFlushTimeout)
	defer cancel()

	if err := a.registry.FlushStats(flushCtx); err != nil {
		logger.Errorf("final pair stats flush failed: %v", err)
	}
	if err := a.store.SaveBotMetrics(flushCtx, a.botStats.Snapshot()); err != nil {
		logger.Errorf("final bot metrics save failed: %v", err)
	}
	return a.store.Close()
}
