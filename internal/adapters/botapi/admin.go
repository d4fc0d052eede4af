// Админ-бот: long polling команд управления на первом боте пула.
// Разбор команд и форматирование ответов — в доменном роутере, здесь только
// транспорт: приём апдейтов, ACL, скачивание фото для блокировки и ответы.

package botapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sunil55999/Luffy/internal/domain/commands"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	// pollTimeoutSec — таймаут long polling, секунды.
	pollTimeoutSec = 30
	// replyLimit — потолок Bot API на длину одного сообщения.
	replyLimit = 4096
	// maxPhotoBytes — потолок скачиваемого образца для /blockimage.
	maxPhotoBytes = 10 << 20
)

// Admin принимает команды операторов через первого бота пула.
type Admin struct {
	pool   *Pool
	router *commands.Router

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdmin создаёт сервис админ-бота поверх пула и роутера команд.
func NewAdmin(pool *Pool, router *commands.Router) *Admin {
	return &Admin{pool: pool, router: router}
}

// Start запускает цикл приёма апдейтов. Повторный вызов без Stop игнорируется.
func (a *Admin) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return
	}

	bot, ok := a.pool.API(0)
	if !ok {
		logger.Errorf("admin bot: pool is empty, command interface disabled")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	updates := bot.GetUpdatesChan(u)

	a.wg.Go(func() { a.loop(runCtx, bot, updates) })
	logger.Infof("admin bot started as @%s", bot.Self.UserName)
}

// Stop прерывает long polling и дожидается завершения цикла.
func (a *Admin) Stop() {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return
	}

	if bot, ok := a.pool.API(0); ok {
		bot.StopReceivingUpdates()
	}
	cancel()
	a.wg.Wait()
	logger.Debugf("admin bot stopped")
}

func (a *Admin) loop(ctx context.Context, bot *tgbotapi.BotAPI, updates tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			if upd.Message == nil || upd.Message.From == nil {
				continue
			}
			a.handle(ctx, bot, upd.Message)
		}
	}
}

// handle обрабатывает одно входящее сообщение оператора.
func (a *Admin) handle(ctx context.Context, bot *tgbotapi.BotAPI, msg *tgbotapi.Message) {
	userID := msg.From.ID
	if !a.router.Authorized(userID) {
		logger.Warnf("admin bot: unauthorized command from user %d ignored", userID)
		return
	}

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}

	req := commands.Request{UserID: userID, Text: text}
	if len(msg.Photo) > 0 {
		photo, err := a.downloadPhoto(ctx, bot, msg.Photo)
		if err != nil {
			logger.Warnf("admin bot: photo download failed: %v", err)
			a.reply(bot, msg.Chat.ID, "Не удалось скачать фото: "+err.Error())
			return
		}
		req.Photo = photo
	}

	a.reply(bot, msg.Chat.ID, a.router.Handle(ctx, req))
}

// downloadPhoto скачивает самый крупный вариант фото из сообщения.
func (a *Admin) downloadPhoto(ctx context.Context, bot *tgbotapi.BotAPI, sizes []tgbotapi.PhotoSize) ([]byte, error) {
	best := sizes[len(sizes)-1]
	url, err := bot.GetFileDirectURL(best.FileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.pool.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
	if err != nil {
		return nil, err
	}
	return data, nil
}

// reply отправляет ответ, разбивая его на части по лимиту Bot API.
func (a *Admin) reply(bot *tgbotapi.BotAPI, chatID int64, text string) {
	if text == "" {
		return
	}
	for len(text) > 0 {
		chunk := text
		if len(chunk) > replyLimit {
			chunk = chunk[:replyLimit]
		}
		text = text[len(chunk):]

		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			logger.Warnf("admin bot: reply failed: %v", err)
			return
		}
	}
}
