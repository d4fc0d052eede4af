// Блокировка картинок по перцептивному хэшу. Оператор добавляет образец,
// дальше все входящие фото и gif сверяются с ним по расстоянию Хэмминга:
// перекодирование, ресайз и лёгкие правки картинку уже не спасают.

package imageblock

import (
	"bytes"
	"context"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	"github.com/corona10/goimagehash"
	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// BlockedImage — сохранённый образец. PairID == 0 означает глобальную
// блокировку, действующую для всех пар.
type BlockedImage struct {
	ID         int64
	PairID     int64
	Hash       uint64
	Note       string
	AddedBy    int64
	UsageCount int64
	CreatedAt  time.Time
}

// Store — персистентность образцов, реализуется sqlite-адаптером.
type Store interface {
	ListImageHashes(ctx context.Context) ([]BlockedImage, error)
	AddImageHash(ctx context.Context, img BlockedImage) (int64, error)
	DeleteImageHash(ctx context.Context, id int64) error
	BumpImageHashUsage(ctx context.Context, id int64) error
}

// Blocker держит все образцы в памяти и сверяет входящие картинки без
// похода в базу. Порог — максимальное расстояние Хэмминга, при котором
// картинки считаются совпавшими.
type Blocker struct {
	store     Store
	threshold int

	mu    sync.RWMutex
	cache []BlockedImage
}

func New(store Store, threshold int) *Blocker {
	return &Blocker{store: store, threshold: threshold}
}

// Reload перечитывает образцы из хранилища. Зовётся на старте и после
// каждого изменения набора.
func (b *Blocker) Reload(ctx context.Context) error {
	images, err := b.store.ListImageHashes(ctx)
	if err != nil {
		return errors.Wrap(err, "list image hashes")
	}
	b.mu.Lock()
	b.cache = images
	b.mu.Unlock()
	logger.Debugf("image blocker reloaded, %d samples", len(images))
	return nil
}

// Blocked сверяет картинку с образцами пары и глобальными. При совпадении
// увеличивает usage_count образца. Нераспознанные данные не блокируются.
func (b *Blocker) Blocked(ctx context.Context, pairID int64, img []byte) (bool, error) {
	hash, err := perceptualHash(img)
	if err != nil {
		logger.Debugf("image hash skipped: %v", err)
		return false, nil
	}

	b.mu.RLock()
	samples := b.cache
	b.mu.RUnlock()

	incoming := goimagehash.NewImageHash(hash, goimagehash.PHash)
	for _, s := range samples {
		if s.PairID != 0 && s.PairID != pairID {
			continue
		}
		dist, err := incoming.Distance(goimagehash.NewImageHash(s.Hash, goimagehash.PHash))
		if err != nil {
			continue
		}
		if dist <= b.threshold {
			if err := b.store.BumpImageHashUsage(ctx, s.ID); err != nil {
				logger.Warnf("bump usage for blocked image %d: %v", s.ID, err)
			}
			logger.Debugf("image matched blocked sample %d (distance %d)", s.ID, dist)
			return true, nil
		}
	}
	return false, nil
}

// Block добавляет образец. pairID == 0 — глобальная блокировка.
func (b *Blocker) Block(ctx context.Context, pairID int64, img []byte, addedBy int64, note string) (int64, error) {
	hash, err := perceptualHash(img)
	if err != nil {
		return 0, errors.Wrap(err, "hash image")
	}
	id, err := b.store.AddImageHash(ctx, BlockedImage{
		PairID:  pairID,
		Hash:    hash,
		Note:    note,
		AddedBy: addedBy,
	})
	if err != nil {
		return 0, errors.Wrap(err, "store image hash")
	}
	if err := b.Reload(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// Unblock удаляет образец по идентификатору.
func (b *Blocker) Unblock(ctx context.Context, id int64) error {
	if err := b.store.DeleteImageHash(ctx, id); err != nil {
		return errors.Wrap(err, "delete image hash")
	}
	return b.Reload(ctx)
}

// List возвращает снимок образцов из кэша.
func (b *Blocker) List() []BlockedImage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]BlockedImage, len(b.cache))
	copy(out, b.cache)
	return out
}

// perceptualHash декодирует картинку и считает 64-битный pHash.
func perceptualHash(img []byte) (uint64, error) {
	decoded, _, err := image.Decode(bytes.NewReader(img))
	if err != nil {
		return 0, errors.Wrap(err, "decode image")
	}
	h, err := goimagehash.PerceptionHash(decoded)
	if err != nil {
		return 0, errors.Wrap(err, "perception hash")
	}
	return h.GetHash(), nil
}
