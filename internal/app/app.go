// Package app — верхний уровень сборки сервиса репликации. Здесь связываются
// конфигурация, хранилище, доменные реестры, очередь доставки с пулом воркеров,
// клиент-наблюдатель MTProto, пул ботов публикации и интерфейсы управления
// (админ-бот, консоль, веб-панель). Порядком запуска и остановки узлов
// управляет lifecycle-менеджер в runner.go.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/adapters/botapi"
	"github.com/sunil55999/Luffy/internal/adapters/cli"
	"github.com/sunil55999/Luffy/internal/adapters/sqlite"
	"github.com/sunil55999/Luffy/internal/adapters/telegram"
	"github.com/sunil55999/Luffy/internal/adapters/web"
	"github.com/sunil55999/Luffy/internal/domain/commands"
	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/imageblock"
	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/metrics"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/ratelimit"
	"github.com/sunil55999/Luffy/internal/domain/settings"
	"github.com/sunil55999/Luffy/internal/domain/transform"
	"github.com/sunil55999/Luffy/internal/infra/concurrency"
	"github.com/sunil55999/Luffy/internal/infra/config"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/throttle"
)

// downloadRetries — потолок повторов скачивания вложения из исходного чата.
const downloadRetries = 3

// App агрегирует подсистемы репликатора. Поля заполняются в Init и далее
// считаются неизменяемыми; запуском и остановкой занимается Run.
type App struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc

	store     *sqlite.Store
	settings  *settings.Cache
	registry  *pairs.Registry
	blocker   *imageblock.Blocker
	queue     *dispatch.Queue
	limiter   *ratelimit.Limiter
	botStats  *metrics.Registry
	pool      *botapi.Pool
	workers   *dispatch.Pool
	monitor   *metrics.Monitor
	dedup     *concurrency.Deduplicator
	debounce  *concurrency.Debouncer
	throttler *throttle.Throttler
	feed      *telegram.Feed
	watchdog  *telegram.Watchdog
	client    *telegram.Client
	admin     *botapi.Admin
	router    *commands.Router
	console   *cli.Service
	web       *web.Server

	clientWG sync.WaitGroup
}

// NewApp создаёт пустой каркас приложения. Фактическая сборка выполняется в Init.
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{mainCtx: mainCtx, mainCancel: mainCancel}
}

// Init собирает подсистемы по конфигурации окружения: хранилище и реестры,
// конвейер доставки, клиента-наблюдателя и интерфейсы управления.
func (a *App) Init() error {
	env := config.Env()

	store, err := sqlite.Open(env.DatabasePath)
	if err != nil {
		return errors.Wrap(err, "open database")
	}
	a.store = store

	a.settings = settings.NewCache(store)
	if err := a.settings.Reload(a.mainCtx); err != nil {
		return errors.Wrap(err, "load settings")
	}

	a.registry = pairs.NewRegistry(store)
	if err := a.registry.Reload(a.mainCtx); err != nil {
		return errors.Wrap(err, "load pairs")
	}

	a.blocker = imageblock.New(store, env.SimilarityThreshold)
	if err := a.blocker.Reload(a.mainCtx); err != nil {
		return errors.Wrap(err, "load blocked images")
	}

	a.queue = dispatch.NewQueue(env.MessageQueueSize)
	a.limiter = ratelimit.New(env.RateLimitMessages, time.Duration(env.RateLimitWindowSec)*time.Second)

	a.botStats = metrics.NewRegistry(len(env.BotTokens))
	if saved, loadErr := store.LoadBotMetrics(a.mainCtx); loadErr != nil {
		logger.Warnf("bot metrics restore failed: %v", loadErr)
	} else {
		a.botStats.Seed(saved)
	}

	pool, err := botapi.NewPool(env.BotTokens, env.TestDC, env.ThrottleRPS)
	if err != nil {
		return errors.Wrap(err, "init bot pool")
	}
	a.pool = pool

	workers, err := dispatch.NewPool(dispatch.PoolOptions{
		Queue:       a.queue,
		Sender:      pool,
		Mappings:    store,
		Transformer: transform.NewTransformer(),
		Media:       media.NewPipeline(a.blocker),
		Limiter:     a.limiter,
		Metrics:     a.botStats,
		Book:        a.registry.Book(),
		Settings:    a.settings,
		Errors:      store,
		Workers:     env.MaxWorkers,
		MaxRetries:  env.MaxRetries,
	})
	if err != nil {
		return errors.Wrap(err, "init worker pool")
	}
	a.workers = workers

	a.monitor = metrics.NewMonitor(
		a.botStats,
		pool,
		a.queue,
		a.limiter,
		store,
		a.registry.FlushStats,
		env.HealthCheckIntervalSec,
	)

	a.dedup = concurrency.NewDeduplicator(env.DedupWindowSec)
	a.debounce = concurrency.NewDebouncer(env.DebounceEditMS)

	dispatcher := dispatch.NewDispatcher(a.registry, a.queue, store, a.dedup, a.debounce)

	a.throttler = throttle.New(env.ThrottleRPS,
		throttle.WithMaxRetries(downloadRetries),
		throttle.WithWaitExtractors(telegram.FloodWaitExtractor()),
	)
	a.feed = telegram.NewFeed(dispatcher, a.throttler)
	a.watchdog = telegram.NewWatchdog()

	client, err := telegram.NewClient(a.feed, a.watchdog)
	if err != nil {
		return errors.Wrap(err, "init telegram client")
	}
	a.client = client

	// Веб-панель собирается позже исполнителя команд, поэтому ссылка
	// на вход в панель разрешается через замыкание в момент вызова.
	var dashboard func(ctx context.Context) (string, error)
	if env.WebServerEnable {
		dashboard = func(ctx context.Context) (string, error) {
			if a.web == nil {
				return "", errors.New("web interface is not running")
			}
			return a.web.DashboardLink(ctx)
		}
	}

	executor := commands.NewExecutor(commands.ExecutorOptions{
		Registry:  a.registry,
		Queue:     a.queue,
		Settings:  a.settings,
		Metrics:   a.botStats,
		Limiter:   a.limiter,
		Blocker:   a.blocker,
		Maint:     store,
		BotCount:  pool.BotCount(),
		BotName:   pool.BotName,
		Dashboard: dashboard,
		StartedAt: time.Now(),
	})
	a.router = commands.NewRouter(executor, env.AdminUserIDs)
	a.admin = botapi.NewAdmin(pool, a.router)

	if env.CLIEnable {
		a.console = cli.NewService(a.router, a.mainCancel)
	}
	if env.WebServerEnable {
		collector := web.NewCollector(a.queue, a.registry, a.botStats, a.watchdog.Online)
		a.web = web.NewServer(executor, collector, a.watchdog.Online)
	}

	logger.Infof("initialized: %d bot(s), %d pair(s), queue capacity %d, %d worker(s)",
		pool.BotCount(), a.registry.Count(), a.queue.Capacity(), env.MaxWorkers)
	return nil
}
