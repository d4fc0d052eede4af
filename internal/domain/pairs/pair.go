// Package pairs — модель правил репликации «исходный чат → целевой чат».
// Пара объединяет адреса чатов, закреплённый бот-индекс, конфигурацию фильтров
// и накопленные счётчики. Сами правила живут в базе; в памяти пакет держит
// read-mostly реестр со снапшот-семантикой (атомарная подмена при Reload) и
// книгу живых счётчиков, периодически сбрасываемую в хранилище.
package pairs

import (
	"time"
)

// Status — состояние пары.
type Status string

const (
	// StatusActive — пара реплицирует сообщения.
	StatusActive Status = "active"
	// StatusPaused — пара видна в реестре, но события по ней пропускаются.
	StatusPaused Status = "paused"
)

// FilterConfig — конфигурация фильтров и трансформаций пары. Хранится в базе
// как JSON; ключи совпадают с полями из tag'ов. Нулевые значения числовых
// порогов означают «ограничение выключено».
type FilterConfig struct {
	// BlockedWords — сообщения с любым из слов (без учёта регистра) не копируются.
	BlockedWords []string `json:"blocked_words"`
	// RemoveMentions включает замену упоминаний на MentionPlaceholder.
	RemoveMentions     bool   `json:"remove_mentions"`
	MentionPlaceholder string `json:"mention_placeholder"`
	// PreserveReplies — воспроизводить ответы через маппинг сообщений.
	PreserveReplies bool `json:"preserve_replies"`
	SyncEdits       bool `json:"sync_edits"`
	SyncDeletes     bool `json:"sync_deletes"`
	// RemoveHeaders/RemoveFooters включают срезание «шапок»/«подвалов» по
	// регуляркам; при пустых списках используются встроенные паттерны.
	RemoveHeaders  bool     `json:"remove_headers"`
	HeaderPatterns []string `json:"header_patterns"`
	RemoveFooters  bool     `json:"remove_footers"`
	FooterPatterns []string `json:"footer_patterns"`
	// MinMessageLength отсекает слишком короткие тексты; MaxMessageLength
	// обрезает длинные с добавлением многоточия. 0 = выключено.
	MinMessageLength int `json:"min_message_length"`
	MaxMessageLength int `json:"max_message_length"`
	// AllowedMediaTypes — белый список классов вложений.
	AllowedMediaTypes []string `json:"allowed_media_types"`
	BlockForwards     bool     `json:"block_forwards"`
	BlockLinks        bool     `json:"block_links"`
	// CustomRegexFilters — дополнительные запрещающие регулярки (IGNORECASE|MULTILINE).
	CustomRegexFilters []string `json:"custom_regex_filters"`
}

// DefaultFilterConfig возвращает конфигурацию фильтров новой пары.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		BlockedWords:       []string{},
		RemoveMentions:     false,
		MentionPlaceholder: "[User]",
		PreserveReplies:    true,
		SyncEdits:          true,
		SyncDeletes:        false,
		RemoveHeaders:      false,
		HeaderPatterns:     []string{},
		RemoveFooters:      false,
		FooterPatterns:     []string{},
		MinMessageLength:   0,
		MaxMessageLength:   0,
		AllowedMediaTypes:  []string{"photo", "video", "document", "audio", "voice"},
		BlockForwards:      false,
		BlockLinks:         false,
		CustomRegexFilters: []string{},
	}
}

// MediaTypeAllowed проверяет класс вложения по белому списку.
func (f *FilterConfig) MediaTypeAllowed(kind string) bool {
	for _, t := range f.AllowedMediaTypes {
		if t == kind {
			return true
		}
	}
	return false
}

// Stats — накопленные счётчики пары. Хранятся в базе как JSON вместе с парой;
// «живые» приращения между сбросами учитывает StatsBook.
type Stats struct {
	MessagesCopied   int64 `json:"messages_copied"`
	MessagesFiltered int64 `json:"messages_filtered"`
	Errors           int64 `json:"errors"`
	RepliesPreserved int64 `json:"replies_preserved"`
	EditsSynced      int64 `json:"edits_synced"`
	DeletesSynced    int64 `json:"deletes_synced"`
	ImagesBlocked    int64 `json:"images_blocked"`
	MentionsRemoved  int64 `json:"mentions_removed"`
	HeadersRemoved   int64 `json:"headers_removed"`
	FootersRemoved   int64 `json:"footers_removed"`
	// LastActivity — unix-время последнего события по паре; 0 = событий не было.
	LastActivity int64 `json:"last_activity"`
}

// Merge прибавляет дельту к счётчикам. LastActivity берётся максимальный.
func (s *Stats) Merge(delta Stats) {
	s.MessagesCopied += delta.MessagesCopied
	s.MessagesFiltered += delta.MessagesFiltered
	s.Errors += delta.Errors
	s.RepliesPreserved += delta.RepliesPreserved
	s.EditsSynced += delta.EditsSynced
	s.DeletesSynced += delta.DeletesSynced
	s.ImagesBlocked += delta.ImagesBlocked
	s.MentionsRemoved += delta.MentionsRemoved
	s.HeadersRemoved += delta.HeadersRemoved
	s.FootersRemoved += delta.FootersRemoved
	if delta.LastActivity > s.LastActivity {
		s.LastActivity = delta.LastActivity
	}
}

// Zero сообщает, пуста ли дельта (нечего сбрасывать в базу).
func (s *Stats) Zero() bool {
	return *s == Stats{}
}

// Pair — правило репликации.
type Pair struct {
	ID                int64
	Name              string
	SourceChatID      int64
	DestinationChatID int64
	Status            Status
	// BotIndex — позиция закреплённого бота в пуле токенов.
	BotIndex  int
	Filters   FilterConfig
	Stats     Stats
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active сообщает, участвует ли пара в репликации.
func (p *Pair) Active() bool {
	return p.Status == StatusActive
}

// Mapping — связь исходного сообщения с его копией в целевом чате.
// Уникальность по (SourceMessageID, PairID); строки не обновляются на месте.
type Mapping struct {
	SourceMessageID      int
	DestinationMessageID int
	PairID               int64
	BotIndex             int
	SourceChatID         int64
	DestinationChatID    int64
	// MessageType — тег типа: "text" либо класс вложения.
	MessageType string
	HasMedia    bool
	IsReply     bool
	// ReplyToSourceID/ReplyToDestinationID заполняются для ответов (0 = нет).
	ReplyToSourceID      int
	ReplyToDestinationID int
	CreatedAt            time.Time
}
