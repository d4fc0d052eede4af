package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/imageblock"
	"github.com/sunil55999/Luffy/internal/domain/metrics"
	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/ratelimit"
	"github.com/sunil55999/Luffy/internal/domain/settings"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/domain/transform"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// Maintenance - операции обслуживания базы, нужные командам.
type Maintenance interface {
	// PurgeMappings удаляет маппинги пары, возвращает число удалённых строк
	PurgeMappings(ctx context.Context, pairID int64) (int64, error)
}

// ExecutorOptions - зависимости исполнителя команд.
type ExecutorOptions struct {
	Registry  *pairs.Registry
	Queue     *dispatch.Queue
	Settings  *settings.Cache
	Metrics   *metrics.Registry
	Limiter   *ratelimit.Limiter
	Blocker   *imageblock.Blocker
	Maint     Maintenance
	BotCount  int
	BotName   func(botIndex int) string            // username бота по индексу
	Dashboard func(ctx context.Context) (string, error) // nil = веб выключен
	StartedAt time.Time
}

// CommandExecutor - реализация интерфейса Executor
type CommandExecutor struct {
	registry  *pairs.Registry
	queue     *dispatch.Queue
	settings  *settings.Cache
	metrics   *metrics.Registry
	limiter   *ratelimit.Limiter
	blocker   *imageblock.Blocker
	maint     Maintenance
	botCount  int
	botName   func(int) string
	dashboard func(context.Context) (string, error)
	startedAt time.Time
}

var _ Executor = (*CommandExecutor)(nil)

// NewExecutor создает новый экземпляр CommandExecutor
func NewExecutor(opts ExecutorOptions) *CommandExecutor {
	return &CommandExecutor{
		registry:  opts.Registry,
		queue:     opts.Queue,
		settings:  opts.Settings,
		metrics:   opts.Metrics,
		limiter:   opts.Limiter,
		blocker:   opts.Blocker,
		maint:     opts.Maint,
		botCount:  opts.BotCount,
		botName:   opts.BotName,
		dashboard: opts.Dashboard,
		startedAt: opts.StartedAt,
	}
}

// Status собирает сводку: пары, очередь, здоровье ботов, суммарные счётчики.
func (e *CommandExecutor) Status(ctx context.Context) (*StatusResult, error) {
	all := e.registry.All()
	res := &StatusResult{
		Uptime:     time.Since(e.startedAt),
		Paused:     e.settings.Paused(),
		PairsTotal: len(all),
		QueueDepth: e.queue.Len(),
		QueueCap:   e.queue.Capacity(),
		Dropped:    e.queue.Dropped(),
		BotsTotal:  e.botCount,
	}
	for _, p := range all {
		if p.Active() {
			res.PairsActive++
		}
		st := e.registry.StatsFor(p)
		res.TotalCopied += st.MessagesCopied
		res.TotalFailed += st.Errors
	}
	for _, s := range e.metrics.Snapshot() {
		if s.Healthy() {
			res.BotsHealthy++
		}
	}
	return res, nil
}

func (e *CommandExecutor) ListPairs(ctx context.Context) ([]PairSummary, error) {
	all := e.registry.All()
	out := make([]PairSummary, 0, len(all))
	for _, p := range all {
		st := e.registry.StatsFor(p)
		out = append(out, PairSummary{
			ID:       p.ID,
			Name:     p.Name,
			Source:   p.SourceChatID,
			Dest:     p.DestinationChatID,
			Active:   p.Active(),
			BotIndex: p.BotIndex,
			Copied:   st.MessagesCopied,
		})
	}
	return out, nil
}

func (e *CommandExecutor) PairInfo(ctx context.Context, id int64) (*PairDetail, error) {
	p, ok := e.registry.ByID(id)
	if !ok {
		return nil, fmt.Errorf("pair %d not found", id)
	}
	return &PairDetail{Pair: p, Stats: e.registry.StatsFor(p)}, nil
}

// AddPair создаёт пару, закрепляя её за наименее занятым по числу пар ботом.
func (e *CommandExecutor) AddPair(ctx context.Context, name string, sourceID, destID int64) (*pairs.Pair, error) {
	botIndex := 0
	if e.botCount > 0 {
		botIndex = e.registry.Count() % e.botCount
	}
	return e.registry.Create(ctx, name, sourceID, destID, botIndex)
}

func (e *CommandExecutor) DeletePair(ctx context.Context, id int64) error {
	return e.registry.Delete(ctx, id)
}

func (e *CommandExecutor) SetPairStatus(ctx context.Context, id int64, active bool) error {
	st := pairs.StatusPaused
	if active {
		st = pairs.StatusActive
	}
	return e.registry.SetStatus(ctx, id, st)
}

func (e *CommandExecutor) RenamePair(ctx context.Context, id int64, name string) error {
	return e.registry.Rename(ctx, id, strings.TrimSpace(name))
}

func (e *CommandExecutor) SetSystemPaused(ctx context.Context, paused bool) error {
	if err := e.settings.SetPaused(ctx, paused); err != nil {
		return err
	}
	if paused {
		logger.Infof("replication paused by operator")
	} else {
		logger.Infof("replication resumed by operator")
	}
	return nil
}

// Rebalance раскладывает пары по ботам по кругу в порядке идентификаторов.
// Новые привязки сохраняются в базе и переживают перезапуск.
func (e *CommandExecutor) Rebalance(ctx context.Context) (*RebalanceResult, error) {
	if e.botCount == 0 {
		return nil, errors.New("no bots configured")
	}
	all := e.registry.All()
	res := &RebalanceResult{Pairs: len(all), Bots: e.botCount}
	for i, p := range all {
		want := i % e.botCount
		if p.BotIndex == want {
			continue
		}
		if err := e.registry.Reassign(ctx, p.ID, want); err != nil {
			return nil, err
		}
		res.Moved++
	}
	logger.Infof("rebalanced %d pair(s) across %d bot(s), %d moved", res.Pairs, res.Bots, res.Moved)
	return res, nil
}

func (e *CommandExecutor) AssignBot(ctx context.Context, pairID int64, botIndex int) error {
	if botIndex < 0 || botIndex >= e.botCount {
		return fmt.Errorf("bot index must be in 0..%d", e.botCount-1)
	}
	return e.registry.Reassign(ctx, pairID, botIndex)
}

func (e *CommandExecutor) Filters(ctx context.Context, pairID int64) (*pairs.FilterConfig, error) {
	p, ok := e.registry.ByID(pairID)
	if !ok {
		return nil, fmt.Errorf("pair %d not found", pairID)
	}
	cfg := p.Filters
	return &cfg, nil
}

// SetFilter правит одно поле фильтров. Булевы поля принимают on/off/true/false/1/0,
// списковые ключи add_*/del_* добавляют и убирают элемент целиком.
func (e *CommandExecutor) SetFilter(ctx context.Context, pairID int64, key, value string) error {
	return e.registry.UpdateFilters(ctx, pairID, func(f *pairs.FilterConfig) error {
		switch key {
		case "remove_mentions":
			return setBool(&f.RemoveMentions, value)
		case "preserve_replies":
			return setBool(&f.PreserveReplies, value)
		case "sync_edits":
			return setBool(&f.SyncEdits, value)
		case "sync_deletes":
			return setBool(&f.SyncDeletes, value)
		case "remove_headers":
			return setBool(&f.RemoveHeaders, value)
		case "remove_footers":
			return setBool(&f.RemoveFooters, value)
		case "block_forwards":
			return setBool(&f.BlockForwards, value)
		case "block_links":
			return setBool(&f.BlockLinks, value)
		case "mention_placeholder":
			f.MentionPlaceholder = value
			return nil
		case "min_message_length":
			return setCount(&f.MinMessageLength, value)
		case "max_message_length":
			return setCount(&f.MaxMessageLength, value)
		case "allowed_media_types":
			types, err := parseMediaTypes(value)
			if err != nil {
				return err
			}
			f.AllowedMediaTypes = types
			return nil
		case "add_regex":
			if err := checkPattern(value); err != nil {
				return err
			}
			f.CustomRegexFilters = appendOnce(f.CustomRegexFilters, value)
			return nil
		case "del_regex":
			f.CustomRegexFilters = removeAll(f.CustomRegexFilters, value)
			return nil
		case "add_header_pattern":
			if err := checkPattern(value); err != nil {
				return err
			}
			f.HeaderPatterns = appendOnce(f.HeaderPatterns, value)
			return nil
		case "del_header_pattern":
			f.HeaderPatterns = removeAll(f.HeaderPatterns, value)
			return nil
		case "add_footer_pattern":
			if err := checkPattern(value); err != nil {
				return err
			}
			f.FooterPatterns = appendOnce(f.FooterPatterns, value)
			return nil
		case "del_footer_pattern":
			f.FooterPatterns = removeAll(f.FooterPatterns, value)
			return nil
		default:
			return fmt.Errorf("unknown filter key %q", key)
		}
	})
}

// BlockWord добавляет блок-слово паре либо в глобальный список настроек.
func (e *CommandExecutor) BlockWord(ctx context.Context, pairID int64, word string) error {
	word = strings.TrimSpace(word)
	if word == "" {
		return errors.New("word must not be empty")
	}
	if pairID == 0 {
		gb := transform.ParseGlobalBlocks(e.settings.Get(settings.KeyGlobalBlocks))
		if slices.Contains(gb.Words, word) {
			return nil
		}
		gb.Words = append(gb.Words, word)
		return e.saveGlobalBlocks(ctx, gb)
	}
	return e.registry.UpdateFilters(ctx, pairID, func(f *pairs.FilterConfig) error {
		f.BlockedWords = appendOnce(f.BlockedWords, word)
		return nil
	})
}

func (e *CommandExecutor) UnblockWord(ctx context.Context, pairID int64, word string) error {
	word = strings.TrimSpace(word)
	if pairID == 0 {
		gb := transform.ParseGlobalBlocks(e.settings.Get(settings.KeyGlobalBlocks))
		if !slices.Contains(gb.Words, word) {
			return fmt.Errorf("word %q is not blocked globally", word)
		}
		gb.Words = removeAll(gb.Words, word)
		return e.saveGlobalBlocks(ctx, gb)
	}
	return e.registry.UpdateFilters(ctx, pairID, func(f *pairs.FilterConfig) error {
		f.BlockedWords = removeAll(f.BlockedWords, word)
		return nil
	})
}

func (e *CommandExecutor) saveGlobalBlocks(ctx context.Context, gb transform.GlobalBlocks) error {
	raw, err := json.Marshal(gb)
	if err != nil {
		return err
	}
	return e.settings.Set(ctx, settings.KeyGlobalBlocks, string(raw))
}

func (e *CommandExecutor) BlockImage(ctx context.Context, pairID int64, img []byte, addedBy int64, note string) (int64, error) {
	if e.blocker == nil {
		return 0, errors.New("image blocking is not available")
	}
	if pairID != 0 {
		if _, ok := e.registry.ByID(pairID); !ok {
			return 0, fmt.Errorf("pair %d not found", pairID)
		}
	}
	return e.blocker.Block(ctx, pairID, img, addedBy, note)
}

func (e *CommandExecutor) UnblockImage(ctx context.Context, id int64) error {
	if e.blocker == nil {
		return errors.New("image blocking is not available")
	}
	return e.blocker.Unblock(ctx, id)
}

func (e *CommandExecutor) BlockedImages(ctx context.Context) ([]imageblock.BlockedImage, error) {
	if e.blocker == nil {
		return nil, errors.New("image blocking is not available")
	}
	return e.blocker.List(), nil
}

func (e *CommandExecutor) QueueInfo(ctx context.Context) (*QueueResult, error) {
	return &QueueResult{Stats: e.queue.Snapshot(), Capacity: e.queue.Capacity()}, nil
}

func (e *CommandExecutor) ClearQueue(ctx context.Context) (int, error) {
	removed := e.queue.Clear()
	logger.Infof("queue cleared by operator, %d job(s) removed", removed)
	return removed, nil
}

func (e *CommandExecutor) Settings(ctx context.Context) (map[string]string, error) {
	return e.settings.All(), nil
}

func (e *CommandExecutor) SetSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("setting key must not be empty")
	}
	return e.settings.Set(ctx, key, value)
}

func (e *CommandExecutor) Bots(ctx context.Context) ([]BotReport, error) {
	snap := e.metrics.Snapshot()
	windows := e.limiter.Snapshot()

	out := make([]BotReport, 0, e.botCount)
	for i := 0; i < e.botCount; i++ {
		report := BotReport{Index: i, Stats: snap[i]}
		if e.botName != nil {
			report.Username = e.botName(i)
		}
		if w, ok := windows[i]; ok && time.Now().Before(w.Until) {
			report.Quarantined = true
			report.Until = w.Until
		}
		out = append(out, report)
	}
	return out, nil
}

func (e *CommandExecutor) PurgeMappings(ctx context.Context, pairID int64) (int64, error) {
	if e.maint == nil {
		return 0, errors.New("maintenance operations are not available")
	}
	n, err := e.maint.PurgeMappings(ctx, pairID)
	if err != nil {
		return 0, err
	}
	logger.Infof("purged %d mapping(s) for pair %d", n, pairID)
	return n, nil
}

func (e *CommandExecutor) Dashboard(ctx context.Context) (string, error) {
	if e.dashboard == nil {
		return "", errors.New("web interface is disabled")
	}
	return e.dashboard(ctx)
}

func setBool(dst *bool, value string) error {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "true", "1", "yes":
		*dst = true
	case "off", "false", "0", "no":
		*dst = false
	default:
		return fmt.Errorf("expected on/off, got %q", value)
	}
	return nil
}

func setCount(dst *int, value string) error {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fmt.Errorf("expected non-negative number, got %q", value)
	}
	*dst = n
	return nil
}

func parseMediaTypes(value string) ([]string, error) {
	known := []string{
		string(source.MediaPhoto), string(source.MediaVideo), string(source.MediaAnimation),
		string(source.MediaDocument), string(source.MediaAudio), string(source.MediaVoice),
		string(source.MediaVideoNote), string(source.MediaSticker), string(source.MediaWebPage),
	}
	var out []string
	for _, t := range strings.Split(value, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !slices.Contains(known, t) {
			return nil, fmt.Errorf("unknown media type %q", t)
		}
		out = appendOnce(out, t)
	}
	return out, nil
}

func checkPattern(value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.New("pattern must not be empty")
	}
	if _, err := regexp.Compile("(?im)" + value); err != nil {
		return fmt.Errorf("invalid pattern: %v", err)
	}
	return nil
}

func appendOnce(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

// removeAll всегда возвращает новый срез: вход разделяет память со снапшотом
// реестра, править его на месте нельзя.
func removeAll(list []string, v string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
