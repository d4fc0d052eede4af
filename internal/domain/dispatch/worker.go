// Пул воркеров: снимает задачи с очереди, прогоняет через трансформацию
// и медиа-конвейер, публикует ботом пары и разруливает сбои доставки.
// Показатели ботов и счётчики пар пишутся здесь же.

package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/settings"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/domain/transform"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const (
	// dequeueTimeout — сколько воркер ждёт задачу, прежде чем снова
	// проверить контекст и флаг паузы.
	dequeueTimeout = time.Second
	// pausedSleep — пауза воркера, когда публикация остановлена оператором.
	pausedSleep = 5 * time.Second
)

// RateLimiter — окно отправок и карантин по ботам.
type RateLimiter interface {
	Admit(botIndex int) bool
	Penalize(botIndex int, d time.Duration)
}

// Recorder принимает исход каждой задачи для здоровья ботов.
type Recorder interface {
	Record(botIndex int, success bool, elapsed time.Duration)
}

// PoolOptions — зависимости пула. Errors необязателен, остальное — нет.
type PoolOptions struct {
	Queue       *Queue
	Sender      Sender
	Mappings    MappingStore
	Transformer *transform.Transformer
	Media       *media.Pipeline
	Limiter     RateLimiter
	Metrics     Recorder
	Book        *pairs.StatsBook
	Settings    *settings.Cache
	Errors      ErrorSink
	Workers     int
	MaxRetries  int
}

// Pool — фиксированное число воркеров над общей очередью.
type Pool struct {
	queue       *Queue
	sender      Sender
	mappings    MappingStore
	transformer *transform.Transformer
	media       *media.Pipeline
	limiter     RateLimiter
	metrics     Recorder
	book        *pairs.StatsBook
	settings    *settings.Cache
	errors      ErrorSink
	workers     int
	maxRetries  int

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(opts PoolOptions) (*Pool, error) {
	if opts.Queue == nil {
		return nil, stderrors.New("dispatch pool: queue is nil")
	}
	if opts.Sender == nil {
		return nil, stderrors.New("dispatch pool: sender is nil")
	}
	if opts.Mappings == nil {
		return nil, stderrors.New("dispatch pool: mapping store is nil")
	}
	if opts.Transformer == nil || opts.Media == nil {
		return nil, stderrors.New("dispatch pool: transformer and media pipeline are required")
	}
	if opts.Limiter == nil || opts.Metrics == nil || opts.Book == nil || opts.Settings == nil {
		return nil, stderrors.New("dispatch pool: limiter, metrics, book and settings are required")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 3
	}
	return &Pool{
		queue:       opts.Queue,
		sender:      opts.Sender,
		mappings:    opts.Mappings,
		transformer: opts.Transformer,
		media:       opts.Media,
		limiter:     opts.Limiter,
		metrics:     opts.Metrics,
		book:        opts.Book,
		settings:    opts.Settings,
		errors:      opts.Errors,
		workers:     opts.Workers,
		maxRetries:  opts.MaxRetries,
	}, nil
}

// Start поднимает воркеров. Повторный вызов без Stop игнорируется.
func (p *Pool) Start(ctx context.Context) {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		p.wg.Go(func() { p.workerLoop(ctx, id) })
	}
	logger.Infof("dispatch pool started with %d workers", p.workers)
}

// Stop гасит воркеров и дожидается завершения текущих задач.
func (p *Pool) Stop() {
	p.runMu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	logger.Debugf("dispatch pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, id int) {
	logger.Debugf("worker %d started", id)
	for {
		if ctx.Err() != nil {
			logger.Debugf("worker %d stopped", id)
			return
		}
		job := p.queue.Dequeue(ctx, dequeueTimeout)
		if job == nil {
			continue
		}
		if p.settings.Paused() {
			p.queue.EnqueueFront(job)
			p.sleep(ctx, pausedSleep)
			continue
		}
		p.process(ctx, job)
	}
}

// process выполняет одну задачу целиком, включая маршрутизацию сбоев.
func (p *Pool) process(ctx context.Context, job *Job) {
	start := time.Now()

	botIdx := job.Pair.BotIndex
	if botIdx < 0 || botIdx >= p.sender.BotCount() {
		logger.Warnf("pair %d references bot %d out of range, falling back to bot 0", job.Pair.ID, botIdx)
		botIdx = 0
	}

	// Окно лимитера: отказ — не сбой, задача возвращается в голову очереди
	// после паузы. Счётчик повторов растёт, но терминала не вызывает.
	if !p.limiter.Admit(botIdx) {
		if job.Retries < p.maxRetries {
			job.Retries++
		}
		logger.Debugf("bot %d rate limited, requeueing %s job for pair %d (retry %d)",
			botIdx, job.Kind, job.Pair.ID, job.Retries)
		p.sleep(ctx, backoff(job.Retries))
		p.queue.EnqueueFront(job)
		return
	}

	var err error
	switch job.Kind {
	case KindNew:
		err = p.handleNew(ctx, job, botIdx, start)
	case KindEdit:
		err = p.handleEdit(ctx, job, botIdx, start)
	case KindDelete:
		err = p.handleDelete(ctx, job, botIdx, start)
	default:
		logger.Errorf("worker got job of unknown kind %d", job.Kind)
		return
	}
	if err != nil {
		p.routeFailure(ctx, job, botIdx, start, err)
	}
}

// routeFailure — единая точка обработки ошибок задач.
func (p *Pool) routeFailure(ctx context.Context, job *Job, botIdx int, start time.Time, err error) {
	if d, ok := transform.AsDrop(err); ok {
		p.book.Filtered(job.Pair.ID)
		logger.Debugf("message filtered for pair %d: %s", job.Pair.ID, d.Reason)
		p.metrics.Record(botIdx, true, time.Since(start))
		return
	}
	if stderrors.Is(err, media.ErrImageBlocked) {
		p.book.ImageBlocked(job.Pair.ID)
		logger.Debugf("image blocked for pair %d (message %d)", job.Pair.ID, job.Msg.ID)
		p.metrics.Record(botIdx, true, time.Since(start))
		return
	}

	se, ok := AsSendError(err)
	if !ok {
		// Неклассифицированные ошибки процесса (скачивание, база) считаем
		// временными: транспорт свои сбои всегда заворачивает в SendError.
		se = &SendError{Kind: FailNetwork, Err: err}
	}

	switch {
	case se.Kind == FailRetryAfter:
		p.limiter.Penalize(botIdx, time.Duration(se.Seconds)*time.Second)
		logger.Warnf("bot %d flood-limited for %ds, requeueing %s job for pair %d",
			botIdx, se.Seconds, job.Kind, job.Pair.ID)
		p.queue.EnqueueFront(job)
	case se.retryable():
		if job.Retries >= p.maxRetries {
			p.terminal(ctx, job, botIdx, start, se)
			return
		}
		job.Retries++
		logger.Debugf("%s job for pair %d hit %s, retry %d/%d",
			job.Kind, job.Pair.ID, se.Kind, job.Retries, p.maxRetries)
		p.sleep(ctx, backoff(job.Retries))
		p.queue.EnqueueFront(job)
	case se.Kind == FailNotFound || se.Kind == FailNotModified:
		// Сюда долетает только из необработанных веток, цели уже нет.
		logger.Debugf("%s job for pair %d: %v", job.Kind, job.Pair.ID, se)
		p.metrics.Record(botIdx, true, time.Since(start))
	default:
		p.terminal(ctx, job, botIdx, start, se)
	}
}

// terminal хоронит задачу: счётчик сбоев пары, здоровье бота, журнал ошибок.
func (p *Pool) terminal(ctx context.Context, job *Job, botIdx int, start time.Time, se *SendError) {
	p.book.Failed(job.Pair.ID)
	p.metrics.Record(botIdx, false, time.Since(start))
	logger.Errorf("%s job for pair %d failed permanently: %v", job.Kind, job.Pair.ID, se)
	if p.errors != nil {
		if err := p.errors.LogError(ctx, job.Pair.ID, se.Kind.String(), se.Error()); err != nil {
			logger.Warnf("error log write failed: %v", err)
		}
	}
}

// handleNew копирует новое сообщение в чат назначения.
func (p *Pool) handleNew(ctx context.Context, job *Job, botIdx int, start time.Time) error {
	msg := job.Msg
	pair := job.Pair

	res, err := p.transformer.Apply(msg, &pair.Filters, p.globalBlocks())
	if err != nil {
		return err
	}

	replyTo, replyPreserved := p.resolveReply(ctx, pair, msg)

	// Webpage — текст с превью, медиаконвейер его не касается.
	var plan *media.Plan
	if msg.HasMedia() && msg.Media.Kind != source.MediaWebPage {
		plan, err = p.media.Build(ctx, msg, pair, res.Text, res.Entities)
		if err != nil {
			return err
		}
	}

	var destID int
	var msgType string
	if plan != nil {
		msgType = string(plan.Kind)
		destID, err = p.sendMedia(ctx, botIdx, pair, plan, replyTo)
	} else {
		msgType = "text"
		if msg.HasMedia() {
			msgType = string(source.MediaWebPage)
		}
		destID, err = p.sendText(ctx, botIdx, pair, res.Text, res.Entities, replyTo)
	}
	if err != nil {
		return err
	}

	mapping := pairs.Mapping{
		SourceMessageID:      msg.ID,
		DestinationMessageID: destID,
		PairID:               pair.ID,
		BotIndex:             botIdx,
		SourceChatID:         pair.SourceChatID,
		DestinationChatID:    pair.DestinationChatID,
		MessageType:          msgType,
		HasMedia:             plan != nil,
		IsReply:              msg.IsReply(),
		ReplyToSourceID:      msg.ReplyToID,
		ReplyToDestinationID: replyTo,
	}
	if err := p.mappings.SaveMapping(ctx, mapping); err != nil {
		// Сообщение уже опубликовано, повтор задачи дал бы дубль.
		logger.Errorf("mapping save failed for pair %d message %d: %v", pair.ID, msg.ID, err)
	}

	p.book.Copied(pair.ID)
	if replyPreserved {
		p.book.ReplyPreserved(pair.ID)
	}
	if res.MentionsRemoved > 0 {
		p.book.MentionsRemoved(pair.ID, res.MentionsRemoved)
	}
	if res.HeaderRemoved {
		p.book.HeaderRemoved(pair.ID)
	}
	if res.FooterRemoved {
		p.book.FooterRemoved(pair.ID)
	}
	p.metrics.Record(botIdx, true, time.Since(start))
	logger.Debugf("copied message %d → %d for pair %d via bot %d", msg.ID, destID, pair.ID, botIdx)
	return nil
}

// sendText отправляет текст, при отказе формата повторяя без разметки и ответа.
func (p *Pool) sendText(ctx context.Context, botIdx int, pair *pairs.Pair, text string, entities []source.Entity, replyTo int) (int, error) {
	destID, err := p.sender.SendText(ctx, botIdx, TextMessage{
		ChatID:   pair.DestinationChatID,
		Text:     text,
		Entities: entities,
		ReplyTo:  replyTo,
	})
	if se, ok := AsSendError(err); ok && se.Kind == FailBadRequest && (len(entities) > 0 || replyTo != 0) {
		logger.Warnf("send rejected for pair %d, retrying degraded: %v", pair.ID, err)
		destID, err = p.sender.SendText(ctx, botIdx, TextMessage{
			ChatID: pair.DestinationChatID,
			Text:   text,
		})
	}
	return destID, err
}

// sendMedia отправляет медиа, при отказе формата повторяя без разметки и ответа.
func (p *Pool) sendMedia(ctx context.Context, botIdx int, pair *pairs.Pair, plan *media.Plan, replyTo int) (int, error) {
	destID, err := p.sender.SendMedia(ctx, botIdx, pair.DestinationChatID, plan, replyTo)
	if se, ok := AsSendError(err); ok && se.Kind == FailBadRequest && (len(plan.CaptionEntities) > 0 || replyTo != 0) {
		logger.Warnf("media send rejected for pair %d, retrying degraded: %v", pair.ID, err)
		degraded := *plan
		degraded.CaptionEntities = nil
		destID, err = p.sender.SendMedia(ctx, botIdx, pair.DestinationChatID, &degraded, 0)
	}
	return destID, err
}

// resolveReply ищет копию сообщения, на которое отвечает оригинал.
// Нет маппинга — отправляем без ответа, это не ошибка.
func (p *Pool) resolveReply(ctx context.Context, pair *pairs.Pair, msg *source.Message) (int, bool) {
	if !msg.IsReply() || !pair.Filters.PreserveReplies {
		return 0, false
	}
	m, err := p.mappings.MappingBySource(ctx, pair.ID, msg.ReplyToID)
	if err != nil {
		logger.Debugf("reply lookup failed for pair %d message %d: %v", pair.ID, msg.ReplyToID, err)
		return 0, false
	}
	if m == nil {
		return 0, false
	}
	return m.DestinationMessageID, true
}

// handleEdit переносит правку оригинала в копию.
func (p *Pool) handleEdit(ctx context.Context, job *Job, botIdx int, start time.Time) error {
	msg := job.Msg
	pair := job.Pair
	if !pair.Filters.SyncEdits {
		return nil
	}

	m, err := p.mappings.MappingBySource(ctx, pair.ID, msg.ID)
	if err != nil {
		return errors.Wrap(err, "mapping lookup")
	}
	if m == nil {
		logger.Debugf("no mapping for edited message %d in pair %d", msg.ID, pair.ID)
		return nil
	}

	res, err := p.transformer.Apply(msg, &pair.Filters, p.globalBlocks())
	if err != nil {
		if _, ok := transform.AsDrop(err); ok {
			// Оригинал после правки попал под фильтры: копию не трогаем.
			logger.Debugf("edited message %d now filtered for pair %d, copy left as is", msg.ID, pair.ID)
			return nil
		}
		return err
	}

	if m.HasMedia {
		caption, capEnt, _ := transform.Truncate(res.Text, res.Entities, media.CaptionLimit)
		err = p.sender.EditCaption(ctx, botIdx, m.DestinationChatID, m.DestinationMessageID,
			caption, transform.Revalidate(capEnt, caption))
	} else {
		err = p.sender.EditText(ctx, botIdx, m.DestinationChatID, m.DestinationMessageID,
			res.Text, res.Entities)
	}
	if err != nil {
		if se, ok := AsSendError(err); ok {
			switch se.Kind {
			case FailNotModified:
				// Копия уже в нужном виде.
				p.book.EditSynced(pair.ID)
				p.metrics.Record(botIdx, true, time.Since(start))
				return nil
			case FailNotFound:
				// Копию удалили руками, маппинг протух.
				logger.Debugf("copy of message %d is gone, dropping mapping for pair %d", msg.ID, pair.ID)
				if derr := p.mappings.DeleteMapping(ctx, pair.ID, msg.ID); derr != nil {
					logger.Warnf("stale mapping delete failed: %v", derr)
				}
				p.metrics.Record(botIdx, true, time.Since(start))
				return nil
			}
		}
		return err
	}

	p.book.EditSynced(pair.ID)
	p.metrics.Record(botIdx, true, time.Since(start))
	logger.Debugf("synced edit of message %d for pair %d", msg.ID, pair.ID)
	return nil
}

// handleDelete удаляет копии перечисленных сообщений. При временном сбое
// задача возвращается с остатком списка, уже удалённое не повторяется.
func (p *Pool) handleDelete(ctx context.Context, job *Job, botIdx int, start time.Time) error {
	pair := job.Pair
	if !pair.Filters.SyncDeletes {
		return nil
	}

	for i, id := range job.DeletedIDs {
		m, err := p.mappings.MappingBySource(ctx, pair.ID, id)
		if err != nil {
			job.DeletedIDs = job.DeletedIDs[i:]
			return errors.Wrap(err, "mapping lookup")
		}
		if m == nil {
			continue
		}

		err = p.sender.Delete(ctx, botIdx, m.DestinationChatID, m.DestinationMessageID)
		if err != nil {
			if se, ok := AsSendError(err); ok && se.Kind == FailNotFound {
				// Копии уже нет — цель достигнута.
				if derr := p.mappings.DeleteMapping(ctx, pair.ID, id); derr != nil {
					logger.Warnf("mapping cleanup failed: %v", derr)
				}
				p.book.DeleteSynced(pair.ID)
				continue
			}
			job.DeletedIDs = job.DeletedIDs[i:]
			return err
		}

		if derr := p.mappings.DeleteMapping(ctx, pair.ID, id); derr != nil {
			logger.Warnf("mapping cleanup failed: %v", derr)
		}
		p.book.DeleteSynced(pair.ID)
		logger.Debugf("synced delete of message %d for pair %d", id, pair.ID)
	}

	p.metrics.Record(botIdx, true, time.Since(start))
	return nil
}

func (p *Pool) globalBlocks() transform.GlobalBlocks {
	return transform.ParseGlobalBlocks(p.settings.Get(settings.KeyGlobalBlocks))
}

// backoff — экспоненциальная пауза перед повтором: 2, 4, 8... секунд.
func backoff(retries int) time.Duration {
	return time.Duration(1<<uint(retries)) * time.Second
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
