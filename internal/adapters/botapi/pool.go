// Package botapi — пул ботов доставки поверх Telegram Bot API.
// Каждая пара закреплена за ботом по индексу в пуле токенов; пул реализует
// транспорт публикации для воркеров и identity-пробы для монитора здоровья.
// Поверх доменного ограничителя окна здесь стоит token bucket на каждого
// бота: он сглаживает всплески, не доводя до серверного flood-лимита.
package botapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/shared"
)

// httpTimeout — таймаут HTTP-клиента. Должен покрывать загрузку файлов
// среднего размера, но не зависать бесконечно.
const httpTimeout = 90 * time.Second

// testEndpoint — шаблон конечной точки тестового окружения Bot API.
const testEndpoint = "https://api.telegram.org/bot%s/test/%s"

// Pool держит авторизованных ботов и по token bucket на каждого.
// Экземпляр потокобезопасен: состояние после создания не мутирует.
type Pool struct {
	bots     []*tgbotapi.BotAPI
	limiters []*rate.Limiter
	client   *http.Client
}

// NewPool авторизует ботов по списку токенов. Каждый токен проверяется
// вызовом get_me; нерабочий токен валит старт, молчаливо терять ботов
// из пула нельзя — индексы закреплены за парами.
func NewPool(tokens []string, testDC bool, rps int) (*Pool, error) {
	if len(tokens) == 0 {
		return nil, fmt.Errorf("bot pool: no tokens configured")
	}
	if rps < 1 {
		rps = 1
	}

	endpoint := tgbotapi.APIEndpoint
	if testDC {
		endpoint = testEndpoint
	}

	client := &http.Client{Timeout: httpTimeout}
	p := &Pool{client: client}
	for i, token := range tokens {
		bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
		if err != nil {
			return nil, fmt.Errorf("authorize bot %d: %w", i, err)
		}
		logger.Infof("bot %d authorized as @%s", i, bot.Self.UserName)
		p.bots = append(p.bots, bot)
		p.limiters = append(p.limiters, rate.NewLimiter(rate.Limit(rps), rps))
	}
	return p, nil
}

// BotCount возвращает размер пула.
func (p *Pool) BotCount() int { return len(p.bots) }

// BotName возвращает username бота, пустая строка — индекс вне пула.
func (p *Pool) BotName(botIndex int) string {
	bot, ok := shared.GetAt(p.bots, botIndex)
	if !ok {
		return ""
	}
	return bot.Self.UserName
}

// API отдаёт сырой клиент бота. Нужен админ-боту для long polling.
func (p *Pool) API(botIndex int) (*tgbotapi.BotAPI, bool) {
	return shared.GetAt(p.bots, botIndex)
}

// Probe выполняет identity-вызов get_me. Мимо token bucket: проба не
// должна конкурировать с доставкой за бюджет запросов.
func (p *Pool) Probe(ctx context.Context, botIndex int) error {
	bot, _, err := p.bot(botIndex)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err = bot.GetMe()
	return err
}

// SendText публикует текстовое сообщение и возвращает id копии.
func (p *Pool) SendText(ctx context.Context, botIndex int, msg dispatch.TextMessage) (int, error) {
	bot, lim, err := p.bot(botIndex)
	if err != nil {
		return 0, err
	}
	if err := lim.Wait(ctx); err != nil {
		return 0, classify(err)
	}

	cfg := tgbotapi.NewMessage(msg.ChatID, msg.Text)
	cfg.Entities = toBotEntities(msg.Entities)
	if msg.ReplyTo != 0 {
		cfg.ReplyToMessageID = msg.ReplyTo
	}

	sent, err := bot.Send(cfg)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// SendMedia публикует вложение с подписью и возвращает id копии.
// Тип запроса выбирается по классу вложения; стикеры и кружки подписи
// не несут, Bot API их не поддерживает.
func (p *Pool) SendMedia(ctx context.Context, botIndex int, chatID int64, plan *media.Plan, replyTo int) (int, error) {
	bot, lim, err := p.bot(botIndex)
	if err != nil {
		return 0, err
	}
	if err := lim.Wait(ctx); err != nil {
		return 0, classify(err)
	}

	file := tgbotapi.FileBytes{Name: planFileName(plan), Bytes: plan.Data}
	caption := plan.Caption
	capEntities := toBotEntities(plan.CaptionEntities)

	var chattable tgbotapi.Chattable
	switch plan.Kind {
	case source.MediaPhoto:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.Duration = plan.Duration
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaAnimation:
		cfg := tgbotapi.NewAnimation(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.Duration = plan.Duration
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.Duration = plan.Duration
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaVoice:
		cfg := tgbotapi.NewVoice(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.Duration = plan.Duration
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaVideoNote:
		cfg := tgbotapi.NewVideoNote(chatID, plan.Width, file)
		cfg.Duration = plan.Duration
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	case source.MediaSticker:
		cfg := tgbotapi.NewSticker(chatID, file)
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	default:
		// Неизвестные классы уходят документом: байты доставляются, пусть
		// и без специализированного отображения.
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption = caption
		cfg.CaptionEntities = capEntities
		cfg.ReplyToMessageID = replyTo
		chattable = cfg
	}

	sent, err := bot.Send(chattable)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

// EditText правит текст копии.
func (p *Pool) EditText(ctx context.Context, botIndex int, chatID int64, messageID int, text string, entities []source.Entity) error {
	bot, lim, err := p.bot(botIndex)
	if err != nil {
		return err
	}
	if err := lim.Wait(ctx); err != nil {
		return classify(err)
	}

	if _, err := bot.Send(editTextConfig(chatID, messageID, text, entities)); err != nil {
		return classify(err)
	}
	return nil
}

// editTextConfig собирает запрос правки текста. Превью при правке гасится:
// правка не должна разворачивать превью, которого не было в копии.
func editTextConfig(chatID int64, messageID int, text string, entities []source.Entity) tgbotapi.EditMessageTextConfig {
	cfg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	cfg.Entities = toBotEntities(entities)
	cfg.DisableWebPagePreview = true
	return cfg
}

// EditCaption правит подпись копии с вложением.
func (p *Pool) EditCaption(ctx context.Context, botIndex int, chatID int64, messageID int, caption string, entities []source.Entity) error {
	bot, lim, err := p.bot(botIndex)
	if err != nil {
		return err
	}
	if err := lim.Wait(ctx); err != nil {
		return classify(err)
	}

	cfg := tgbotapi.NewEditMessageCaption(chatID, messageID, caption)
	cfg.CaptionEntities = toBotEntities(entities)
	if _, err := bot.Send(cfg); err != nil {
		return classify(err)
	}
	return nil
}

// Delete удаляет копию.
func (p *Pool) Delete(ctx context.Context, botIndex int, chatID int64, messageID int) error {
	bot, lim, err := p.bot(botIndex)
	if err != nil {
		return err
	}
	if err := lim.Wait(ctx); err != nil {
		return classify(err)
	}

	if _, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return classify(err)
	}
	return nil
}

func (p *Pool) bot(botIndex int) (*tgbotapi.BotAPI, *rate.Limiter, error) {
	if botIndex < 0 || botIndex >= len(p.bots) {
		return nil, nil, &dispatch.SendError{
			Kind: dispatch.FailUnknown,
			Err:  fmt.Errorf("bot index %d out of pool of %d", botIndex, len(p.bots)),
		}
	}
	return p.bots[botIndex], p.limiters[botIndex], nil
}

// toBotEntities переводит доменные entities в формат Bot API.
// Смещения уже в UTF-16 code units, пересчёт не нужен.
func toBotEntities(entities []source.Entity) []tgbotapi.MessageEntity {
	if len(entities) == 0 {
		return nil
	}
	out := make([]tgbotapi.MessageEntity, 0, len(entities))
	for _, e := range entities {
		// Клиент Bot API не умеет передавать custom_emoji_id, а сущность
		// без id сервер отвергает вместе со всей разметкой. Эмодзи уходит
		// обычным текстом без сущности.
		if e.Type == source.EntityCustomEmoji {
			continue
		}
		be := tgbotapi.MessageEntity{
			Type:     string(e.Type),
			Offset:   e.Offset,
			Length:   e.Length,
			URL:      e.URL,
			Language: e.Language,
		}
		if e.Type == source.EntityTextMention && e.UserID != 0 {
			be.User = &tgbotapi.User{ID: e.UserID}
		}
		out = append(out, be)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// planFileName подбирает имя файла для загрузки: Bot API требует непустое.
func planFileName(plan *media.Plan) string {
	if plan.FileName != "" {
		return plan.FileName
	}
	switch plan.Kind {
	case source.MediaPhoto:
		return "photo.jpg"
	case source.MediaVideo:
		return "video.mp4"
	case source.MediaAnimation:
		return "animation.mp4"
	case source.MediaAudio:
		return "audio.mp3"
	case source.MediaVoice:
		return "voice.ogg"
	case source.MediaVideoNote:
		return "video_note.mp4"
	case source.MediaSticker:
		return "sticker.webp"
	default:
		return "file.bin"
	}
}
