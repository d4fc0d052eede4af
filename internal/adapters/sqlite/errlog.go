// Журнал терминальных сбоев публикации. Пишут воркеры, читает веб-интерфейс;
// старые записи убирает CleanupOldData.

package sqlite

import (
	"context"
	"fmt"
	"time"
)

// ErrorRecord — строка журнала ошибок.
type ErrorRecord struct {
	ID        int64
	PairID    int64
	Kind      string
	Detail    string
	CreatedAt time.Time
}

// LogError добавляет запись в журнал.
func (s *Store) LogError(ctx context.Context, pairID int64, kind, detail string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO error_logs (pair_id, kind, detail) VALUES (?, ?, ?);`,
			pairID, kind, detail)
		if err != nil {
			return fmt.Errorf("log error for pair %d: %w", pairID, err)
		}
		return nil
	})
}

// RecentErrors возвращает последние limit записей журнала, свежие первыми.
func (s *Store) RecentErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	if limit < 1 {
		limit = 50
	}
	var list []ErrorRecord
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, pair_id, kind, detail, created_at
			 FROM error_logs ORDER BY id DESC LIMIT ?;`, limit)
		if err != nil {
			return fmt.Errorf("query error logs: %w", err)
		}
		defer func() { _ = rows.Close() }()

		list = list[:0]
		for rows.Next() {
			var r ErrorRecord
			if err := rows.Scan(&r.ID, &r.PairID, &r.Kind, &r.Detail, &r.CreatedAt); err != nil {
				return fmt.Errorf("scan error log: %w", err)
			}
			list = append(list, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}
