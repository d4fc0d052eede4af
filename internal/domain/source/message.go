// Package source описывает нормализованную модель события из исходного чата.
// MTProto-специфика остаётся в адаптере: сюда сообщение попадает уже в виде
// плоской структуры с текстом, entities в UTF-16 смещениях (как того требует
// Bot API) и описанием вложения с ленивой функцией скачивания. Благодаря этому
// конвейер обработки тестируется без живого клиента Telegram.
package source

import (
	"context"
	"time"
)

// EntityType — тип элемента форматирования в терминах Bot API.
type EntityType string

// Поддерживаемые типы entities. Строковые значения совпадают с полем type
// объекта MessageEntity Bot API и уходят на проволоку как есть.
const (
	EntityBold          EntityType = "bold"
	EntityItalic        EntityType = "italic"
	EntityUnderline     EntityType = "underline"
	EntityStrikethrough EntityType = "strikethrough"
	EntitySpoiler       EntityType = "spoiler"
	EntityCode          EntityType = "code"
	EntityPre           EntityType = "pre"
	EntityURL           EntityType = "url"
	EntityTextLink      EntityType = "text_link"
	EntityMention       EntityType = "mention"
	EntityTextMention   EntityType = "text_mention"
	EntityCustomEmoji   EntityType = "custom_emoji"
	EntityHashtag       EntityType = "hashtag"
	EntityCashtag       EntityType = "cashtag"
	EntityBotCommand    EntityType = "bot_command"
	EntityEmail         EntityType = "email"
	EntityPhoneNumber   EntityType = "phone_number"
)

// Entity — один элемент форматирования текста.
// Offset и Length измеряются в UTF-16 code units: так считает и MTProto,
// и Bot API, поэтому преобразование кодировок на границах не требуется.
type Entity struct {
	Type   EntityType
	Offset int
	Length int
	// URL заполняется для text_link.
	URL string
	// UserID заполняется для text_mention.
	UserID int64
	// Language заполняется для pre (подсветка синтаксиса).
	Language string
	// CustomEmojiID заполняется для custom_emoji (document_id строкой).
	CustomEmojiID string
}

// MediaKind — класс вложения после нормализации.
type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaAnimation MediaKind = "animation"
	MediaDocument  MediaKind = "document"
	MediaAudio     MediaKind = "audio"
	MediaVoice     MediaKind = "voice"
	MediaVideoNote MediaKind = "video_note"
	MediaSticker   MediaKind = "sticker"
	// MediaWebPage — превью ссылки; байтов для скачивания нет, сообщение
	// реплицируется как текст с включённым предпросмотром.
	MediaWebPage MediaKind = "webpage"
)

// WebPage — метаданные превью ссылки (для вложений типа webpage).
type WebPage struct {
	URL         string
	SiteName    string
	Title       string
	Description string
}

// FetchFunc лениво скачивает содержимое вложения. Устанавливается адаптером
// Telegram и замыкает в себе file location; вызывается конвейером доставки
// только когда вложение действительно нужно отправлять.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Media описывает вложение сообщения.
type Media struct {
	Kind     MediaKind
	FileName string
	MimeType string
	FileSize int64
	// Duration в секундах — для видео/аудио/кружков.
	Duration int
	Width    int
	Height   int
	// Emoji — альт-текст стикера.
	Emoji   string
	WebPage *WebPage
	Fetch   FetchFunc
}

// Downloadable сообщает, есть ли у вложения байты для скачивания.
// Превью ссылок передаются без файла.
func (m *Media) Downloadable() bool {
	return m != nil && m.Kind != MediaWebPage && m.Fetch != nil
}

// Message — нормализованное сообщение исходного чата.
// Экземпляр создаётся адаптером один раз и далее считается неизменяемым:
// задания доставки для разных пар разделяют один указатель.
type Message struct {
	// ChatID — каноничный идентификатор исходного чата (для каналов со знаком минус
	// и префиксом -100, как принято в Bot API).
	ChatID int64
	ID     int
	Date   time.Time
	// EditDate — unix-время правки; 0 у первой версии сообщения.
	EditDate int
	// Text — текст сообщения либо подпись к вложению.
	Text     string
	Entities []Entity
	Media    *Media
	// ReplyToID — id сообщения в исходном чате, на которое это отвечает; 0 если не ответ.
	ReplyToID int
	// Forwarded выставляется при наличии заголовка пересылки.
	Forwarded bool
	// GroupedID объединяет элементы альбома; элементы реплицируются по отдельности.
	GroupedID int64
}

// HasMedia сообщает, есть ли у сообщения вложение (включая превью ссылок).
func (m *Message) HasMedia() bool {
	return m.Media != nil
}

// IsReply сообщает, является ли сообщение ответом.
func (m *Message) IsReply() bool {
	return m.ReplyToID != 0
}
