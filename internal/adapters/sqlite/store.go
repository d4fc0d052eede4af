// Package sqlite — персистентность сервиса поверх одного файла базы:
// пары, маппинги сообщений, настройки, образцы картинок, показатели ботов
// и журнал ошибок. Одно соединение, WAL, ретраи на BUSY.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/storage"
)

// keepBackups — сколько резервных копий файла базы хранить.
const keepBackups = 5

// Store — хранилище на mattn/go-sqlite3. Экземпляр потокобезопасен:
// database/sql сериализует доступ через единственное соединение.
type Store struct {
	db   *sql.DB
	path string
}

// Open открывает (при необходимости создавая) базу, настраивает PRAGMA,
// применяет схему и делает резервную копию существующего файла.
func Open(path string) (*Store, error) {
	if err := storage.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Копия до любых миграций: если схема не применится, файл цел.
	if _, err := os.Stat(path); err == nil {
		if err := backupFile(path); err != nil {
			logger.Warnf("db backup on open failed: %v", err)
		}
	}

	dsn := fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite3: %w", err)
	}
	// Одно соединение: sqlite не любит конкурирующих писателей.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, path: path}
	ctx := context.Background()
	if err := s.configurePragmas(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Infof("sqlite store ready at %s", path)
	return s, nil
}

// Close делает финальную копию и закрывает соединение.
func (s *Store) Close() error {
	err := s.db.Close()
	if berr := backupFile(s.path); berr != nil {
		logger.Warnf("db backup on close failed: %v", berr)
	}
	return err
}

func (s *Store) configurePragmas(ctx context.Context) error {
	pragma := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
	}
	for _, q := range pragma {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("set pragma %q: %w", q, err)
		}
	}
	return nil
}

// initSchema создаёт таблицы и индексы одной транзакцией. Схема накатывается
// идемпотентно, отдельного реестра миграций нет.
func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	tables := []string{
		`CREATE TABLE IF NOT EXISTS pairs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			source_chat_id INTEGER NOT NULL,
			destination_chat_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'active' CHECK(status IN ('active', 'paused')),
			bot_index INTEGER NOT NULL DEFAULT 0,
			filters TEXT NOT NULL DEFAULT '{}',
			stats TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_chat_id, destination_chat_id)
		);`,
		`CREATE TABLE IF NOT EXISTS message_mapping (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_message_id INTEGER NOT NULL,
			destination_message_id INTEGER NOT NULL,
			pair_id INTEGER NOT NULL,
			bot_index INTEGER NOT NULL DEFAULT 0,
			source_chat_id INTEGER NOT NULL,
			destination_chat_id INTEGER NOT NULL,
			message_type TEXT NOT NULL DEFAULT 'text',
			has_media INTEGER NOT NULL DEFAULT 0,
			is_reply INTEGER NOT NULL DEFAULT 0,
			reply_to_source_id INTEGER NOT NULL DEFAULT 0,
			reply_to_destination_id INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_message_id, pair_id)
		);`,
		`CREATE TABLE IF NOT EXISTS blocked_images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair_id INTEGER NOT NULL DEFAULT 0,
			phash TEXT NOT NULL,
			note TEXT NOT NULL DEFAULT '',
			added_by INTEGER NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS bot_metrics (
			bot_index INTEGER PRIMARY KEY,
			messages_processed INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 1.0,
			avg_processing_time REAL NOT NULL DEFAULT 0,
			current_load INTEGER NOT NULL DEFAULT 0,
			error_count INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_activity DATETIME,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS error_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			pair_id INTEGER NOT NULL DEFAULT 0,
			kind TEXT NOT NULL,
			detail TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
	}
	for _, stmt := range tables {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_pairs_source ON pairs(source_chat_id);`,
		`CREATE INDEX IF NOT EXISTS idx_pairs_status ON pairs(status);`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_pair ON message_mapping(pair_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_source_msg ON message_mapping(source_message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_dest ON message_mapping(destination_chat_id, destination_message_id);`,
		`CREATE INDEX IF NOT EXISTS idx_mapping_created ON message_mapping(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_blocked_images_pair ON blocked_images(pair_id);`,
		`CREATE INDEX IF NOT EXISTS idx_error_logs_pair ON error_logs(pair_id);`,
		`CREATE INDEX IF NOT EXISTS idx_error_logs_created ON error_logs(created_at);`,
	}
	for _, stmt := range indexes {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	// Настройки по умолчанию: только отсутствующие ключи, значения
	// операторов не перетираются.
	defaults := map[string]string{
		"system_paused":       "false",
		"global_blocks":       "{}",
		"max_message_size":    "4096",
		"rate_limit_enabled":  "true",
		"auto_backup_enabled": "true",
		"maintenance_mode":    "false",
	}
	for k, v := range defaults {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?);`, k, v); err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// retryOnBusy повторяет f на SQLITE_BUSY/LOCKED с экспоненциальной паузой
// и джиттером поверх busy_timeout драйвера.
func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 50 * time.Millisecond
	const maxDelay = 500 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil {
			return nil
		}
		if !isSQLiteBusy(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		jitter := time.Duration(rand.IntN(int(delay / 2))) // #nosec G404 -- джиттер пауз, не криптография
		delay = delay - delay/4 + jitter

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// isSQLiteBusy распознаёт BUSY (5) и LOCKED (6) по тексту ошибки, чтобы не
// тянуть типы cgo-драйвера в сигнатуры.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

// backupFile кладёт копию базы в подкаталог backups рядом с файлом
// и подчищает старые копии.
func backupFile(path string) error {
	dir := filepath.Join(filepath.Dir(path), "backups")
	if err := storage.EnsureDir(dir); err != nil {
		return err
	}
	name := fmt.Sprintf("%s.%s.bak", filepath.Base(path), time.Now().Format("20060102-150405"))
	if err := storage.CopyFile(path, filepath.Join(dir, name)); err != nil {
		return err
	}
	pruneBackups(dir, filepath.Base(path))
	return nil
}

// pruneBackups оставляет keepBackups свежих копий. Имена содержат метку
// времени, лексикографический порядок совпадает с хронологическим.
func pruneBackups(dir, base string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), base+".") && strings.HasSuffix(e.Name(), ".bak") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keepBackups {
		return
	}
	sort.Strings(names)
	for _, name := range names[:len(names)-keepBackups] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			logger.Debugf("prune backup %s: %v", name, err)
		}
	}
}

// CleanupOldData удаляет маппинги и записи журнала ошибок старше days дней.
// Возвращает, сколько строк убрано.
func (s *Store) CleanupOldData(ctx context.Context, days int) (int64, error) {
	if days < 1 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)

	var total int64
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin cleanup tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		total = 0
		res, err := tx.ExecContext(ctx,
			`DELETE FROM message_mapping WHERE created_at < ?;`, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup mappings: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}

		res, err = tx.ExecContext(ctx,
			`DELETE FROM error_logs WHERE created_at < ?;`, cutoff)
		if err != nil {
			return fmt.Errorf("cleanup error logs: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}

		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	if total > 0 {
		logger.Infof("cleanup removed %d row(s) older than %d day(s)", total, days)
	}
	return total, nil
}
