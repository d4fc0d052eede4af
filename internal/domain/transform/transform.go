// Трансформация текста перед публикацией: фильтры-предикаты, срезание
// шапок/подвалов и упоминаний, ограничения длины. Пакет чистый — ни сети,
// ни хранилища — поэтому вся цепочка проверяется обычными таблицами в тестах.

package transform

import (
	"encoding/json"
	"regexp"
	"strings"
	"sync"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// Паттерны по умолчанию. Пара может заменить их своими через
// header_patterns/footer_patterns, пустой список означает «использовать эти».
var (
	defaultHeaderPatterns = []string{
		`^.*?[:｜：].*?\n`,
		`^.*?[➜👉📢].*?\n`,
	}
	defaultFooterPatterns = []string{
		`\n.*?@\w+.*?$`,
		`\n.*?t\.me/.*?$`,
		`\n.*?[📨📱💌].*?$`,
	}
)

var (
	mentionRe  = regexp.MustCompile(`@\w+`)
	userLinkRe = regexp.MustCompile(`tg://user\?id=\d+`)
	linkRe     = regexp.MustCompile(`(?i)(https?://\S+|www\.\S+|t\.me/\S+)`)
	// Три и более пустых строк подряд после срезаний схлопываются до одной.
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
)

// Drop — решение «не копировать» с причиной для журнала. Причина попадает
// только в debug-лог, наружу сообщение просто не уходит.
type Drop struct {
	Reason string
}

func (d *Drop) Error() string { return "message dropped: " + d.Reason }

// AsDrop распаковывает Drop из ошибки цепочки трансформации.
func AsDrop(err error) (*Drop, bool) {
	d, ok := err.(*Drop)
	return d, ok
}

// GlobalBlocks — глобальные блокировки из настроек: действуют для всех пар
// в дополнение к их собственным фильтрам.
type GlobalBlocks struct {
	Words    []string `json:"words"`
	Patterns []string `json:"patterns"`
}

// ParseGlobalBlocks разбирает JSON-значение настройки global_blocks.
// Пустая строка или битый JSON дают пустой набор, это не ошибка.
func ParseGlobalBlocks(raw string) GlobalBlocks {
	var gb GlobalBlocks
	if raw == "" {
		return gb
	}
	if err := json.Unmarshal([]byte(raw), &gb); err != nil {
		logger.Debugf("global_blocks: malformed JSON ignored: %v", err)
		return GlobalBlocks{}
	}
	return gb
}

// Result — итог трансформации: финальный текст, согласованные с ним entities
// и счётчики срезаний для статистики пары.
type Result struct {
	Text            string
	Entities        []source.Entity
	MentionsRemoved int
	HeaderRemoved   bool
	FooterRemoved   bool
	Truncated       bool
}

// Transformer применяет фильтры пары к тексту. Скомпилированные регулярные
// выражения кэшируются по исходному паттерну; битые паттерны пользователя
// логируются один раз и дальше пропускаются.
type Transformer struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

func NewTransformer() *Transformer {
	return &Transformer{cache: make(map[string]*regexp.Regexp)}
}

// compile возвращает регэксп из кэша, компилируя при первом обращении
// с флагами (?im) — без учёта регистра и в многострочном режиме, как и
// фильтры, которые операторы переносят из других систем. Для невалидного
// паттерна возвращается nil.
func (t *Transformer) compile(pattern string) *regexp.Regexp {
	t.mu.Lock()
	defer t.mu.Unlock()

	re, ok := t.cache[pattern]
	if ok {
		return re
	}
	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		logger.Debugf("skipping invalid filter pattern %q: %v", pattern, err)
		re = nil
	}
	t.cache[pattern] = re
	return re
}

// Apply прогоняет текст сообщения через цепочку пары. Порядок фиксирован:
//
//  1. предикаты (глобальные и парные блок-слова, пользовательские регэкспы,
//     запрет форвардов и ссылок) — любой сработавший возвращает *Drop;
//  2. срезание шапки и подвала по паттернам пары;
//  3. удаление упоминаний с заменой на placeholder;
//  4. минимальная длина (Drop) и максимальная длина (обрезка с «...»).
//
// После всех правок entities перепроверяются против финального текста, так
// что отдельная коррекция смещений после срезаний не нужна.
func (t *Transformer) Apply(msg *source.Message, cfg *pairs.FilterConfig, gb GlobalBlocks) (Result, error) {
	text := msg.Text

	if reason := t.dropReason(msg, text, cfg, gb); reason != "" {
		return Result{}, &Drop{Reason: reason}
	}

	var res Result

	if cfg.RemoveHeaders {
		text, res.HeaderRemoved = t.stripPatterns(text, orDefault(cfg.HeaderPatterns, defaultHeaderPatterns))
	}
	if cfg.RemoveFooters {
		text, res.FooterRemoved = t.stripPatterns(text, orDefault(cfg.FooterPatterns, defaultFooterPatterns))
	}

	if cfg.RemoveMentions {
		text, res.MentionsRemoved = stripMentions(text, cfg.MentionPlaceholder)
	}

	if res.HeaderRemoved || res.FooterRemoved || res.MentionsRemoved > 0 {
		text = tidy(text)
	}

	if cfg.MinMessageLength > 0 && len([]rune(text)) < cfg.MinMessageLength {
		return Result{}, &Drop{Reason: "message shorter than pair minimum"}
	}

	entities := msg.Entities
	if cfg.MaxMessageLength > 0 {
		text, entities, res.Truncated = Truncate(text, entities, cfg.MaxMessageLength)
	}

	res.Text = text
	res.Entities = Revalidate(entities, text)
	return res, nil
}

// dropReason возвращает причину отбрасывания или пустую строку.
// Проверки идут от глобальных к парным, первая сработавшая решает.
func (t *Transformer) dropReason(msg *source.Message, text string, cfg *pairs.FilterConfig, gb GlobalBlocks) string {
	lower := strings.ToLower(text)

	for _, w := range gb.Words {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return "global blocked word"
		}
	}
	for _, p := range gb.Patterns {
		if re := t.compile(p); re != nil && re.MatchString(text) {
			return "global blocked pattern"
		}
	}

	for _, w := range cfg.BlockedWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return "pair blocked word"
		}
	}
	for _, p := range cfg.CustomRegexFilters {
		if re := t.compile(p); re != nil && re.MatchString(text) {
			return "pair blocked pattern"
		}
	}

	if cfg.BlockForwards && msg.Forwarded {
		return "forwarded messages blocked"
	}
	if cfg.BlockLinks && linkRe.MatchString(text) {
		return "links blocked"
	}
	return ""
}

// stripPatterns применяет паттерны по очереди, возвращая текст и признак
// «хоть что-то срезали».
func (t *Transformer) stripPatterns(text string, patterns []string) (string, bool) {
	changed := false
	for _, p := range patterns {
		re := t.compile(p)
		if re == nil {
			continue
		}
		next := re.ReplaceAllString(text, "")
		if next != text {
			changed = true
			text = next
		}
	}
	return text, changed
}

// stripMentions заменяет @username и tg://user-ссылки на placeholder
// и возвращает количество замен. Пустой placeholder просто вырезает.
func stripMentions(text, placeholder string) (string, int) {
	count := 0
	replace := func(re *regexp.Regexp, s string) string {
		return re.ReplaceAllStringFunc(s, func(string) string {
			count++
			return placeholder
		})
	}
	text = replace(mentionRe, text)
	text = replace(userLinkRe, text)
	return text, count
}

// tidy прибирает текст после срезаний: схлопывает лишние пустые строки
// и убирает пробелы по краям.
func tidy(text string) string {
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

func orDefault(patterns, fallback []string) []string {
	if len(patterns) > 0 {
		return patterns
	}
	return fallback
}
