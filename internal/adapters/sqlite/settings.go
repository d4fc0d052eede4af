// Системные настройки: строковый KV. Значения по умолчанию сеются при
// инициализации схемы, здесь только чтение и upsert.

package sqlite

import (
	"context"
	"fmt"
	"time"
)

// ListSettings возвращает все настройки.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string)
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings;`)
		if err != nil {
			return fmt.Errorf("query settings: %w", err)
		}
		defer func() { _ = rows.Close() }()

		clear(out)
		for rows.Next() {
			var k, v string
			if err := rows.Scan(&k, &v); err != nil {
				return fmt.Errorf("scan setting: %w", err)
			}
			out[k] = v
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetSetting пишет настройку с перезаписью существующего значения.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
			key, value, time.Now())
		if err != nil {
			return fmt.Errorf("set setting %s: %w", key, err)
		}
		return nil
	})
}
