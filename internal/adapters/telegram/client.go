// Сборка MTProto-клиента наблюдателя: сессия, middleware, менеджер апдейтов
// с персистентным состоянием в bbolt и цикл запуска с авторизацией. Обёртка
// floodwait.Waiter обслуживает серверные паузы на уровне транспорта, поверх
// неё ratelimit выравнивает исходящие RPC-вызовы.

package telegram

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"github.com/sunil55999/Luffy/internal/infra/config"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/storage"
)

// lazyUpdateHandler откладывает установку реального обработчика апдейтов:
// менеджеру апдейтов нужен клиент, а клиенту при создании нужен обработчик.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// Client — клиент-наблюдатель: подключение к MTProto, восстановление пропусков
// через updates.Manager и доставка событий в ленту.
type Client struct {
	client   *telegram.Client
	waiter   *floodwait.Waiter
	updMgr   *tgupdates.Manager
	watchdog *Watchdog
	stateDB  *bbolt.DB
}

// NewClient собирает клиента по конфигурации окружения. Лента получает
// RPC-интерфейс сразу, апдейты пойдут только после Run.
func NewClient(feed *Feed, watchdog *Watchdog) (*Client, error) {
	env := config.Env()

	dispatcher := tg.NewUpdateDispatcher()
	feed.Attach(&dispatcher)

	lazyHandler := &lazyUpdateHandler{}
	waiter := floodwait.NewWaiter()

	options := telegram.Options{
		SessionStorage: &FileStorage{
			Path: env.SessionFile,
			// Успешная запись сессии означает живое соединение.
			OnStore: watchdog.MarkConnected,
		},
		UpdateHandler: lazyHandler,
		Middlewares: []telegram.Middleware{
			waiter,
			ratelimit.New(rate.Limit(env.ThrottleRPS), env.ThrottleRPS*2),
		},
		OnDead: watchdog.MarkDisconnected,
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    "1.0.0",
		},
	}
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(env.APIID, env.APIHash, options)
	feed.BindAPI(client.API())

	if err := storage.EnsureDir(env.StateFile); err != nil {
		return nil, errors.Wrap(err, "ensure state file dir")
	}
	stateDB, err := bbolt.Open(env.StateFile, storage.DefaultFilePerm, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open updates state storage")
	}

	updMgr := tgupdates.New(tgupdates.Config{
		Handler: dispatcher,
		Storage: boltstor.NewStateStorage(stateDB),
	})
	lazyHandler.set(updMgr)

	return &Client{
		client:   client,
		waiter:   waiter,
		updMgr:   updMgr,
		watchdog: watchdog,
		stateDB:  stateDB,
	}, nil
}

// Run подключается, авторизует наблюдателя и запускает менеджер апдейтов.
// onReady вызывается после успешного логина; возврат ошибки из onReady
// прекращает работу. Блокируется до отмены контекста или фатального сбоя.
func (c *Client) Run(ctx context.Context, onReady func(ctx context.Context) error) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.watchdog.Bind(runCtx, c.client)

	return c.waiter.Run(runCtx, func(ctx context.Context) error {
		return c.client.Run(ctx, func(ctx context.Context) error {
			self, err := c.login(ctx)
			if err != nil {
				return err
			}
			c.watchdog.MarkConnected()

			var updatesWG sync.WaitGroup
			updatesCtx, updatesCancel := context.WithCancel(ctx)
			defer func() {
				updatesCancel()
				updatesWG.Wait()
			}()

			updatesWG.Go(func() {
				mgrErr := c.updMgr.Run(updatesCtx, c.client.API(), self.ID, tgupdates.AuthOptions{
					Forget: false,
					OnStart: func(context.Context) {
						logger.Debug("updates manager gap recovery started")
					},
				})
				if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
					logger.Errorf("updates manager stopped: %v", mgrErr)
					cancel()
				}
			})

			if onReady != nil {
				if err := onReady(ctx); err != nil {
					return err
				}
			}

			<-ctx.Done()
			return ctx.Err()
		})
	})
}

// login выполняет интерактивную авторизацию при необходимости.
func (c *Client) login(ctx context.Context) (*tg.User, error) {
	flow := auth.NewFlow(
		TerminalAuthenticator{PhoneNumber: config.Env().PhoneNumber},
		auth.SendCodeOptions{},
	)
	if err := c.client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := c.client.Self(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve self")
	}
	logger.Info("logged in",
		zap.String("first_name", self.FirstName),
		zap.String("username", self.Username),
		zap.Int64("id", self.ID),
	)
	return self, nil
}

// Online сообщает, видит ли вотчдог живое соединение.
func (c *Client) Online() bool { return c.watchdog.Online() }

// Close освобождает ресурсы клиента после завершения Run.
func (c *Client) Close() error {
	c.watchdog.Shutdown()
	if c.stateDB != nil {
		return c.stateDB.Close()
	}
	return nil
}
