// Маппинги сообщений: связь «исходное сообщение → копия в целевом чате».
// UNIQUE(source_message_id, pair_id) с INSERT OR REPLACE делает повторную
// публикацию того же сообщения идемпотентной.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
)

const mappingColumns = `source_message_id, destination_message_id, pair_id, bot_index,
	source_chat_id, destination_chat_id, message_type, has_media, is_reply,
	reply_to_source_id, reply_to_destination_id, created_at`

// SaveMapping записывает связь. Повторная запись той же пары (source, pair)
// замещает строку: сообщение могли переотправить после сбоя.
func (s *Store) SaveMapping(ctx context.Context, m pairs.Mapping) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO message_mapping
			 (source_message_id, destination_message_id, pair_id, bot_index,
			  source_chat_id, destination_chat_id, message_type, has_media, is_reply,
			  reply_to_source_id, reply_to_destination_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			m.SourceMessageID, m.DestinationMessageID, m.PairID, m.BotIndex,
			m.SourceChatID, m.DestinationChatID, m.MessageType,
			boolToInt(m.HasMedia), boolToInt(m.IsReply),
			m.ReplyToSourceID, m.ReplyToDestinationID)
		if err != nil {
			return fmt.Errorf("save mapping (%d, pair %d): %w", m.SourceMessageID, m.PairID, err)
		}
		return nil
	})
}

// MappingBySource возвращает связь по паре и исходному сообщению.
// Отсутствие связи — (nil, nil): для edit/delete это штатная ситуация.
func (s *Store) MappingBySource(ctx context.Context, pairID int64, sourceMessageID int) (*pairs.Mapping, error) {
	var m pairs.Mapping
	err := retryOnBusy(ctx, 5, func() error {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+mappingColumns+` FROM message_mapping
			 WHERE pair_id = ? AND source_message_id = ?;`, pairID, sourceMessageID)
		return scanMapping(row, &m)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load mapping (%d, pair %d): %w", sourceMessageID, pairID, err)
	}
	return &m, nil
}

// MappingsByMessageID возвращает связи исходного сообщения по всем парам.
// Нужен удалениям без chat id в апдейте: пары восстанавливаются по связям.
func (s *Store) MappingsByMessageID(ctx context.Context, sourceMessageID int) ([]pairs.Mapping, error) {
	var list []pairs.Mapping
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+mappingColumns+` FROM message_mapping
			 WHERE source_message_id = ?;`, sourceMessageID)
		if err != nil {
			return fmt.Errorf("query mappings for message %d: %w", sourceMessageID, err)
		}
		defer func() { _ = rows.Close() }()

		list = list[:0]
		for rows.Next() {
			var m pairs.Mapping
			if err := scanMapping(rows, &m); err != nil {
				return err
			}
			list = append(list, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteMapping убирает связь после синхронизированного удаления копии.
func (s *Store) DeleteMapping(ctx context.Context, pairID int64, sourceMessageID int) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM message_mapping WHERE pair_id = ? AND source_message_id = ?;`,
			pairID, sourceMessageID)
		if err != nil {
			return fmt.Errorf("delete mapping (%d, pair %d): %w", sourceMessageID, pairID, err)
		}
		return nil
	})
}

// PurgeMappings удаляет все связи пары. Операция оператора после удаления
// пары, когда история больше не нужна.
func (s *Store) PurgeMappings(ctx context.Context, pairID int64) (int64, error) {
	var removed int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM message_mapping WHERE pair_id = ?;`, pairID)
		if err != nil {
			return fmt.Errorf("purge mappings for pair %d: %w", pairID, err)
		}
		removed, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// rowScanner объединяет *sql.Row и *sql.Rows для общего скана.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner, m *pairs.Mapping) error {
	var hasMedia, isReply int
	if err := row.Scan(&m.SourceMessageID, &m.DestinationMessageID, &m.PairID, &m.BotIndex,
		&m.SourceChatID, &m.DestinationChatID, &m.MessageType, &hasMedia, &isReply,
		&m.ReplyToSourceID, &m.ReplyToDestinationID, &m.CreatedAt); err != nil {
		return err
	}
	m.HasMedia = hasMedia != 0
	m.IsReply = isReply != 0
	return nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
