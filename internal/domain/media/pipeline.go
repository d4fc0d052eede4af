// Подготовка медиа к отправке: допуск по типу, проверка похожести картинок,
// скачивание в память и сборка плана отправки. Классификацией занимается
// телеграм-адаптер, сюда медиа приходит уже с проставленным Kind.

package media

import (
	"context"
	"errors"
	"time"

	gferrors "github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/domain/transform"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// CaptionLimit — потолок Bot API на подпись к медиа.
const CaptionLimit = 1024

// downloadAttempts — попыток скачать файл до признания ошибки.
const downloadAttempts = 3

// ErrImageBlocked — картинка совпала с заблокированной. Учитывается
// отдельным счётчиком, а не общим messages_filtered.
var ErrImageBlocked = errors.New("image blocked by similarity filter")

// BlockChecker отвечает на вопрос «заблокирована ли эта картинка» для пары.
// Реализация живёт в пакете imageblock.
type BlockChecker interface {
	Blocked(ctx context.Context, pairID int64, img []byte) (bool, error)
}

// Plan — готовый к отправке набор: что за медиа, байты файла и подпись.
// Для webpage Data пустой: превью собирает сам Bot API по ссылке в тексте.
type Plan struct {
	Kind            source.MediaKind
	Data            []byte
	FileName        string
	MimeType        string
	Caption         string
	CaptionEntities []source.Entity
	Duration        int
	Width           int
	Height          int
}

// Pipeline готовит медиа для воркеров. При nil-проверщике похожести
// картинки пропускаются без сверки.
type Pipeline struct {
	blocks BlockChecker
}

func NewPipeline(blocks BlockChecker) *Pipeline {
	return &Pipeline{blocks: blocks}
}

// Build проводит медиа сообщения через допуск и скачивание.
// Возвращаемые ошибки различаются по смыслу:
//   - *transform.Drop — тип медиа не разрешён для пары (учёт как фильтрация);
//   - ErrImageBlocked — сработала блокировка похожих картинок;
//   - прочее — временная ошибка скачивания, снаружи её можно ретраить.
//
// Текст и entities передаются уже после трансформации, здесь они только
// ужимаются до лимита подписи.
func (p *Pipeline) Build(ctx context.Context, msg *source.Message, pair *pairs.Pair, text string, entities []source.Entity) (*Plan, error) {
	m := msg.Media

	// Webpage — это текст с превью, допуск по типам медиа его не касается.
	if m.Kind != source.MediaWebPage && !pair.Filters.MediaTypeAllowed(string(m.Kind)) {
		return nil, &transform.Drop{Reason: "media type " + string(m.Kind) + " not allowed"}
	}

	caption, capEntities, truncated := transform.Truncate(text, entities, CaptionLimit)
	if truncated {
		logger.Debugf("caption truncated to %d chars for message %d", CaptionLimit, msg.ID)
	}

	plan := &Plan{
		Kind:            m.Kind,
		FileName:        m.FileName,
		MimeType:        m.MimeType,
		Caption:         caption,
		CaptionEntities: transform.Revalidate(capEntities, caption),
		Duration:        m.Duration,
		Width:           m.Width,
		Height:          m.Height,
	}

	if !m.Downloadable() {
		return plan, nil
	}

	data, err := p.download(ctx, msg)
	if err != nil {
		return nil, gferrors.Wrap(err, "download media")
	}
	plan.Data = data

	// Сверка похожести только для статичных картинок и gif-анимаций.
	if p.blocks != nil && (m.Kind == source.MediaPhoto || m.Kind == source.MediaAnimation) {
		blocked, err := p.blocks.Blocked(ctx, pair.ID, data)
		if err != nil {
			logger.Warnf("image block check failed for pair %d: %v", pair.ID, err)
		} else if blocked {
			return nil, ErrImageBlocked
		}
	}

	return plan, nil
}

// download тянет файл в память с ограниченным числом попыток.
func (p *Pipeline) download(ctx context.Context, msg *source.Message) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		data, err := msg.Media.Fetch(ctx)
		if err == nil {
			return data, nil
		}
		lastErr = err
		logger.Debugf("media download attempt %d/%d for message %d failed: %v",
			attempt, downloadAttempts, msg.ID, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return nil, lastErr
}
