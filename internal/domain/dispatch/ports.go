package dispatch

import (
	"context"

	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
)

// TextMessage — текстовая отправка без медиа.
type TextMessage struct {
	ChatID   int64
	Text     string
	Entities []source.Entity
	ReplyTo  int
}

// Sender — транспорт публикации. Реализация (пул Bot API) обязана
// возвращать ошибки, классифицированные в *SendError, иначе воркер
// посчитает сбой неизвестным и похоронит задачу.
type Sender interface {
	SendText(ctx context.Context, botIndex int, msg TextMessage) (int, error)
	SendMedia(ctx context.Context, botIndex int, chatID int64, plan *media.Plan, replyTo int) (int, error)
	EditText(ctx context.Context, botIndex int, chatID int64, messageID int, text string, entities []source.Entity) error
	EditCaption(ctx context.Context, botIndex int, chatID int64, messageID int, caption string, entities []source.Entity) error
	Delete(ctx context.Context, botIndex int, chatID int64, messageID int) error
	BotCount() int
}

// MappingStore — персистентная связка источник→копия, нужна репликации
// ответов, правок и удалений.
type MappingStore interface {
	SaveMapping(ctx context.Context, m pairs.Mapping) error
	MappingBySource(ctx context.Context, pairID int64, sourceMessageID int) (*pairs.Mapping, error)
	MappingsByMessageID(ctx context.Context, sourceMessageID int) ([]pairs.Mapping, error)
	DeleteMapping(ctx context.Context, pairID int64, sourceMessageID int) error
}

// ErrorSink принимает терминальные сбои для журнала ошибок в базе.
type ErrorSink interface {
	LogError(ctx context.Context, pairID int64, kind, detail string) error
}
