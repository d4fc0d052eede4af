// Системные настройки: строковый KV поверх базы с кэшем в памяти.
// Флаг паузы воркеры читают на каждой итерации, поэтому он продублирован
// в atomic и не требует ни блокировок, ни похода в базу.

package settings

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// Ключи настроек.
const (
	KeySystemPaused      = "system_paused"
	KeyGlobalBlocks      = "global_blocks"
	KeyMaxMessageSize    = "max_message_size"
	KeyRateLimitEnabled  = "rate_limit_enabled"
	KeyAutoBackupEnabled = "auto_backup_enabled"
	KeyMaintenanceMode   = "maintenance_mode"
)

// Store — персистентность настроек, реализуется sqlite-адаптером.
type Store interface {
	ListSettings(ctx context.Context) (map[string]string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// Cache — сквозной кэш настроек: чтение из памяти, запись через базу.
type Cache struct {
	store Store

	mu     sync.RWMutex
	values map[string]string
	paused atomic.Bool
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, values: make(map[string]string)}
}

// Reload перечитывает настройки из хранилища и обновляет флаг паузы.
func (c *Cache) Reload(ctx context.Context) error {
	values, err := c.store.ListSettings(ctx)
	if err != nil {
		return errors.Wrap(err, "list settings")
	}
	c.mu.Lock()
	c.values = values
	c.mu.Unlock()
	c.paused.Store(truthy(values[KeySystemPaused]))
	return nil
}

// Get возвращает значение ключа, пустая строка — ключа нет.
func (c *Cache) Get(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetBool трактует значение как булево, def — при отсутствии ключа.
func (c *Cache) GetBool(key string, def bool) bool {
	v := c.Get(key)
	if v == "" {
		return def
	}
	return truthy(v)
}

// GetInt трактует значение как число, def — при отсутствии или мусоре.
func (c *Cache) GetInt(key string, def int) int {
	v := c.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logger.Debugf("setting %s holds non-numeric value %q", key, v)
		return def
	}
	return n
}

// Set пишет значение в базу и кэш. Флаг паузы подхватывается сразу.
func (c *Cache) Set(ctx context.Context, key, value string) error {
	if err := c.store.SetSetting(ctx, key, value); err != nil {
		return errors.Wrapf(err, "set setting %s", key)
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
	if key == KeySystemPaused {
		c.paused.Store(truthy(value))
	}
	return nil
}

// Paused — горячий флаг «вся публикация на паузе».
func (c *Cache) Paused() bool { return c.paused.Load() }

// SetPaused переключает паузу, сохраняя её в базе.
func (c *Cache) SetPaused(ctx context.Context, paused bool) error {
	return c.Set(ctx, KeySystemPaused, strconv.FormatBool(paused))
}

// All возвращает копию всех настроек для отчётов.
func (c *Cache) All() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
