// Package commands предоставляет общий интерфейс команд управления
// репликацией. Команды используются админ-ботом, CLI и веб-интерфейсом.
package commands

import (
	"context"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/imageblock"
	"github.com/sunil55999/Luffy/internal/domain/metrics"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
)

// Executor - интерфейс для выполнения команд управления репликацией.
type Executor interface {
	// Status возвращает сводку состояния системы
	Status(ctx context.Context) (*StatusResult, error)

	// ListPairs возвращает все пары с краткой статистикой
	ListPairs(ctx context.Context) ([]PairSummary, error)

	// PairInfo возвращает пару с полной статистикой
	PairInfo(ctx context.Context, id int64) (*PairDetail, error)

	// AddPair создаёт пару источник→назначение
	AddPair(ctx context.Context, name string, source, dest int64) (*pairs.Pair, error)

	// DeletePair удаляет пару, маппинги сообщений остаются
	DeletePair(ctx context.Context, id int64) error

	// SetPairStatus включает или ставит пару на паузу
	SetPairStatus(ctx context.Context, id int64, active bool) error

	// RenamePair меняет отображаемое имя пары
	RenamePair(ctx context.Context, id int64, name string) error

	// SetSystemPaused останавливает или возобновляет всю публикацию
	SetSystemPaused(ctx context.Context, paused bool) error

	// Rebalance перераспределяет пары по ботам и сохраняет привязки
	Rebalance(ctx context.Context) (*RebalanceResult, error)

	// AssignBot закрепляет пару за ботом
	AssignBot(ctx context.Context, pairID int64, botIndex int) error

	// Filters возвращает конфигурацию фильтров пары
	Filters(ctx context.Context, pairID int64) (*pairs.FilterConfig, error)

	// SetFilter меняет одно поле фильтров пары
	SetFilter(ctx context.Context, pairID int64, key, value string) error

	// BlockWord добавляет блок-слово; pairID == 0 - глобально
	BlockWord(ctx context.Context, pairID int64, word string) error

	// UnblockWord убирает блок-слово; pairID == 0 - глобально
	UnblockWord(ctx context.Context, pairID int64, word string) error

	// BlockImage добавляет образец заблокированной картинки
	BlockImage(ctx context.Context, pairID int64, img []byte, addedBy int64, note string) (int64, error)

	// UnblockImage удаляет образец по идентификатору
	UnblockImage(ctx context.Context, id int64) error

	// BlockedImages возвращает все образцы
	BlockedImages(ctx context.Context) ([]imageblock.BlockedImage, error)

	// QueueInfo возвращает глубины очереди по приоритетам
	QueueInfo(ctx context.Context) (*QueueResult, error)

	// ClearQueue опустошает очередь, возвращает число убранных задач
	ClearQueue(ctx context.Context) (int, error)

	// Bots возвращает здоровье и показатели каждого бота
	Bots(ctx context.Context) ([]BotReport, error)

	// Settings возвращает все системные настройки
	Settings(ctx context.Context) (map[string]string, error)

	// SetSetting записывает системную настройку
	SetSetting(ctx context.Context, key, value string) error

	// PurgeMappings удаляет маппинги пары, возвращает число удалённых
	PurgeMappings(ctx context.Context, pairID int64) (int64, error)

	// Dashboard возвращает разовую ссылку на веб-интерфейс
	Dashboard(ctx context.Context) (string, error)
}

// StatusResult - результат команды Status
type StatusResult struct {
	Uptime      time.Duration // время работы процесса
	Paused      bool          // публикация остановлена оператором
	PairsTotal  int           // всего пар
	PairsActive int           // активных пар
	QueueDepth  int           // задач в очереди
	QueueCap    int           // ёмкость очереди
	Dropped     int64         // вытеснено задач за время работы
	BotsTotal   int           // ботов в пуле
	BotsHealthy int           // ботов без серии сбоев
	TotalCopied int64         // скопировано сообщений суммарно
	TotalFailed int64         // сбоев суммарно
}

// PairSummary - строка списка пар
type PairSummary struct {
	ID       int64  // идентификатор пары
	Name     string // имя
	Source   int64  // чат-источник
	Dest     int64  // чат-назначение
	Active   bool   // активна
	BotIndex int    // закреплённый бот
	Copied   int64  // скопировано сообщений
}

// PairDetail - пара с полной статистикой
type PairDetail struct {
	Pair  *pairs.Pair // снимок пары
	Stats pairs.Stats // статистика с учётом несброшенных дельт
}

// RebalanceResult - результат перераспределения
type RebalanceResult struct {
	Pairs int // сколько пар затронуто
	Bots  int // по скольким ботам распределяли
	Moved int // скольким парам сменился бот
}

// QueueResult - глубины очереди
type QueueResult struct {
	Stats    dispatch.QueueStats // по уровням приоритета
	Capacity int                 // ёмкость
}

// BotReport - здоровье одного бота
type BotReport struct {
	Index       int              // номер в пуле
	Username    string           // username бота
	Stats       metrics.BotStats // показатели
	Quarantined bool             // в карантине flood-лимита
	Until       time.Time        // конец карантина
}
