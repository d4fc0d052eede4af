// Персистенция показателей ботов: монитор периодически сбрасывает снапшот,
// при старте реестр прогревается сохранёнными значениями.

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/metrics"
)

// SaveBotMetrics перезаписывает показатели всех ботов одной транзакцией.
func (s *Store) SaveBotMetrics(ctx context.Context, stats map[int]metrics.BotStats) error {
	if len(stats) == 0 {
		return nil
	}
	return retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin metrics tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		now := time.Now()
		for idx, st := range stats {
			var last any
			if !st.LastActivity.IsZero() {
				last = st.LastActivity
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bot_metrics (bot_index, messages_processed, success_rate,
				        avg_processing_time, current_load, error_count,
				        consecutive_failures, last_activity, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(bot_index) DO UPDATE SET
				        messages_processed = excluded.messages_processed,
				        success_rate = excluded.success_rate,
				        avg_processing_time = excluded.avg_processing_time,
				        current_load = excluded.current_load,
				        error_count = excluded.error_count,
				        consecutive_failures = excluded.consecutive_failures,
				        last_activity = excluded.last_activity,
				        updated_at = excluded.updated_at;`,
				idx, st.MessagesProcessed, st.SuccessRate, st.AvgProcessingTime,
				st.CurrentLoad, st.ErrorCount, st.ConsecutiveFailures, last, now); err != nil {
				return fmt.Errorf("save metrics for bot %d: %w", idx, err)
			}
		}
		return tx.Commit()
	})
}

// LoadBotMetrics читает сохранённые показатели для прогрева реестра.
func (s *Store) LoadBotMetrics(ctx context.Context) (map[int]metrics.BotStats, error) {
	out := make(map[int]metrics.BotStats)
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT bot_index, messages_processed, success_rate, avg_processing_time,
			        current_load, error_count, consecutive_failures, last_activity
			 FROM bot_metrics;`)
		if err != nil {
			return fmt.Errorf("query bot metrics: %w", err)
		}
		defer func() { _ = rows.Close() }()

		clear(out)
		for rows.Next() {
			var (
				idx  int
				st   metrics.BotStats
				last sql.NullTime
			)
			if err := rows.Scan(&idx, &st.MessagesProcessed, &st.SuccessRate,
				&st.AvgProcessingTime, &st.CurrentLoad, &st.ErrorCount,
				&st.ConsecutiveFailures, &last); err != nil {
				return fmt.Errorf("scan bot metrics: %w", err)
			}
			if last.Valid {
				st.LastActivity = last.Time
			}
			out[idx] = st
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
