// Операции над таблицей pairs. Фильтры и счётчики живут в JSON-колонках:
// схема не меняется при добавлении нового поля фильтра, а читается пара
// всегда целиком.

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
)

// ListPairs возвращает все пары, отсортированные по id.
func (s *Store) ListPairs(ctx context.Context) ([]pairs.Pair, error) {
	var list []pairs.Pair
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, name, source_chat_id, destination_chat_id, status,
			        bot_index, filters, stats, created_at, updated_at
			 FROM pairs ORDER BY id;`)
		if err != nil {
			return fmt.Errorf("query pairs: %w", err)
		}
		defer func() { _ = rows.Close() }()

		list = list[:0]
		for rows.Next() {
			p, err := scanPair(rows)
			if err != nil {
				return err
			}
			list = append(list, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// CreatePair вставляет пару и возвращает присвоенный id.
func (s *Store) CreatePair(ctx context.Context, p pairs.Pair) (int64, error) {
	filtersJSON, statsJSON, err := marshalPairBlobs(&p)
	if err != nil {
		return 0, err
	}

	var id int64
	err = retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO pairs (name, source_chat_id, destination_chat_id, status,
			                    bot_index, filters, stats, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			p.Name, p.SourceChatID, p.DestinationChatID, string(p.Status),
			p.BotIndex, filtersJSON, statsJSON, p.CreatedAt, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert pair: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// UpdatePair перезаписывает изменяемые поля пары по id.
func (s *Store) UpdatePair(ctx context.Context, p pairs.Pair) error {
	filtersJSON, statsJSON, err := marshalPairBlobs(&p)
	if err != nil {
		return err
	}

	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE pairs SET name = ?, source_chat_id = ?, destination_chat_id = ?,
			        status = ?, bot_index = ?, filters = ?, stats = ?, updated_at = ?
			 WHERE id = ?;`,
			p.Name, p.SourceChatID, p.DestinationChatID, string(p.Status),
			p.BotIndex, filtersJSON, statsJSON, p.UpdatedAt, p.ID)
		if err != nil {
			return fmt.Errorf("update pair %d: %w", p.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("pair %d not found", p.ID)
		}
		return nil
	})
}

// DeletePair удаляет пару. Маппинги сообщений сознательно не трогаются:
// их чистит PurgeMappings либо CleanupOldData по возрасту.
func (s *Store) DeletePair(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM pairs WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete pair %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("pair %d not found", id)
		}
		return nil
	})
}

// BumpPairStats транзакционно прибавляет дельту к JSON-счётчикам пары:
// читаем текущие, мёржим, пишем обратно. Одно соединение гарантирует,
// что параллельный bump не потеряется.
func (s *Store) BumpPairStats(ctx context.Context, id int64, delta pairs.Stats) error {
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin stats tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var raw string
		err = tx.QueryRowContext(ctx, `SELECT stats FROM pairs WHERE id = ?;`, id).Scan(&raw)
		if err == sql.ErrNoRows {
			// Пара удалена между накоплением дельты и сбросом: дельта сгорает.
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stats for pair %d: %w", id, err)
		}

		var st pairs.Stats
		if raw != "" && raw != "{}" {
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return fmt.Errorf("decode stats for pair %d: %w", id, err)
			}
		}
		st.Merge(delta)

		encoded, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("encode stats for pair %d: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE pairs SET stats = ?, updated_at = ? WHERE id = ?;`,
			string(encoded), time.Now(), id); err != nil {
			return fmt.Errorf("write stats for pair %d: %w", id, err)
		}
		return tx.Commit()
	})
}

// scanPair читает одну строку pairs вместе с JSON-блоками.
func scanPair(rows *sql.Rows) (pairs.Pair, error) {
	var (
		p           pairs.Pair
		status      string
		filtersJSON string
		statsJSON   string
	)
	if err := rows.Scan(&p.ID, &p.Name, &p.SourceChatID, &p.DestinationChatID,
		&status, &p.BotIndex, &filtersJSON, &statsJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return pairs.Pair{}, fmt.Errorf("scan pair: %w", err)
	}
	p.Status = pairs.Status(status)

	// Пустой JSON означает дефолтные фильтры: строка '{}' декодируется в
	// нулевую структуру, а пара без фильтров должна вести себя как новая.
	p.Filters = pairs.DefaultFilterConfig()
	if filtersJSON != "" && filtersJSON != "{}" {
		if err := json.Unmarshal([]byte(filtersJSON), &p.Filters); err != nil {
			return pairs.Pair{}, fmt.Errorf("decode filters for pair %d: %w", p.ID, err)
		}
	}
	if statsJSON != "" && statsJSON != "{}" {
		if err := json.Unmarshal([]byte(statsJSON), &p.Stats); err != nil {
			return pairs.Pair{}, fmt.Errorf("decode stats for pair %d: %w", p.ID, err)
		}
	}
	return p, nil
}

func marshalPairBlobs(p *pairs.Pair) (filtersJSON, statsJSON string, err error) {
	fb, err := json.Marshal(p.Filters)
	if err != nil {
		return "", "", fmt.Errorf("encode filters: %w", err)
	}
	sb, err := json.Marshal(p.Stats)
	if err != nil {
		return "", "", fmt.Errorf("encode stats: %w", err)
	}
	return string(fb), string(sb), nil
}
