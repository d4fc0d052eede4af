// Образцы заблокированных картинок. 64-битный pHash хранится hex-строкой:
// SQLite держит INTEGER знаковым, а строка сравнивается и читается без сюрпризов.

package sqlite

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sunil55999/Luffy/internal/domain/imageblock"
)

// ListImageHashes возвращает все образцы, свежие первыми.
func (s *Store) ListImageHashes(ctx context.Context) ([]imageblock.BlockedImage, error) {
	var list []imageblock.BlockedImage
	err := retryOnBusy(ctx, 5, func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, pair_id, phash, note, added_by, usage_count, created_at
			 FROM blocked_images ORDER BY id DESC;`)
		if err != nil {
			return fmt.Errorf("query blocked images: %w", err)
		}
		defer func() { _ = rows.Close() }()

		list = list[:0]
		for rows.Next() {
			var (
				img  imageblock.BlockedImage
				hash string
			)
			if err := rows.Scan(&img.ID, &img.PairID, &hash, &img.Note,
				&img.AddedBy, &img.UsageCount, &img.CreatedAt); err != nil {
				return fmt.Errorf("scan blocked image: %w", err)
			}
			img.Hash, err = strconv.ParseUint(hash, 16, 64)
			if err != nil {
				return fmt.Errorf("decode phash %q for image %d: %w", hash, img.ID, err)
			}
			list = append(list, img)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// AddImageHash сохраняет образец и возвращает его id.
func (s *Store) AddImageHash(ctx context.Context, img imageblock.BlockedImage) (int64, error) {
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO blocked_images (pair_id, phash, note, added_by)
			 VALUES (?, ?, ?, ?);`,
			img.PairID, strconv.FormatUint(img.Hash, 16), img.Note, img.AddedBy)
		if err != nil {
			return fmt.Errorf("insert blocked image: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// DeleteImageHash удаляет образец по id.
func (s *Store) DeleteImageHash(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM blocked_images WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete blocked image %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("blocked image %d not found", id)
		}
		return nil
	})
}

// BumpImageHashUsage увеличивает счётчик срабатываний образца.
func (s *Store) BumpImageHashUsage(ctx context.Context, id int64) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE blocked_images SET usage_count = usage_count + 1 WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("bump usage for blocked image %d: %w", id, err)
		}
		return nil
	})
}
