// Текстовый роутер команд. Единственное место, где команды парсятся и
// форматируются ответы: админ-бот и CLI дают одинаковое поведение.

package commands

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/shared"
)

const helpText = `Управление репликацией:
/status - сводка системы, /stats - счётчики, /health - здоровье
/pairs - список пар
/pairinfo <id> - пара со статистикой
/addpair <name> <source_id> <dest_id> - создать пару
/editpair <id> <name> - переименовать пару
/delpair <id> - удалить пару
/pausepair <id> | /resumepair <id> - пауза/запуск пары
/pause | /resume - пауза/запуск всей публикации
/rebalance - перераспределить пары по ботам
/assignbot <pair_id> <bot_index> - закрепить бота за парой
/filters <id> - фильтры пары
/setfilter <id> <key> <value> - изменить поле фильтров
/blockword <pair_id|global> <word> - добавить блок-слово
/unblockword <pair_id|global> <word> - убрать блок-слово
/blockimage [pair_id] - заблокировать картинку (фото с подписью)
/unblockimage <id> - убрать образец
/blockedimages - список образцов
/queue - глубины очереди, /clearqueue - опустошить
/bots - все боты, /botinfo <index> - один бот
/settings - системные настройки, /set <key> <value> - записать
/purgemappings <pair_id> - зачистить маппинги пары
/diagnostics - полная диагностика
/dashboard - ссылка на веб-интерфейс`

// Request - входящая команда.
type Request struct {
	UserID int64  // отправитель
	Text   string // текст команды с аргументами
	Photo  []byte // фото для /blockimage, если приложено
}

// Router разбирает текстовые команды и форматирует ответы.
type Router struct {
	exec   Executor
	admins []int64
}

// NewRouter создаёт роутер. Пустой список админов открывает доступ всем —
// использовать только в разработке.
func NewRouter(exec Executor, admins []int64) *Router {
	return &Router{exec: exec, admins: admins}
}

// Authorized проверяет право отправителя на команды управления.
func (r *Router) Authorized(userID int64) bool {
	if len(r.admins) == 0 {
		return true
	}
	return slices.Contains(r.admins, userID)
}

// Handle выполняет команду и возвращает текст ответа. Ошибки исполнителя
// превращаются в сообщения, наружу ничего не пробрасывается.
func (r *Router) Handle(ctx context.Context, req Request) string {
	fields := strings.Fields(req.Text)
	if len(fields) == 0 {
		return helpText
	}

	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Команды в группах приходят как /status@имябота.
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		cmd = cmd[:at]
	}
	args := fields[1:]

	logger.Debugf("command %q from user %d", cmd, req.UserID)

	switch cmd {
	case "start", "help":
		return helpText
	case "status":
		return r.status(ctx)
	case "stats":
		return r.stats(ctx)
	case "health":
		return r.health(ctx)
	case "pairs":
		return r.pairs(ctx)
	case "pairinfo":
		return r.pairInfo(ctx, args)
	case "addpair":
		return r.addPair(ctx, args)
	case "editpair":
		return r.editPair(ctx, args)
	case "delpair":
		return r.delPair(ctx, args)
	case "pausepair":
		return r.setPairStatus(ctx, args, false)
	case "resumepair":
		return r.setPairStatus(ctx, args, true)
	case "pause", "pauseall":
		return r.setSystemPaused(ctx, true)
	case "resume", "resumeall":
		return r.setSystemPaused(ctx, false)
	case "rebalance":
		return r.rebalance(ctx)
	case "assignbot":
		return r.assignBot(ctx, args)
	case "filters":
		return r.filters(ctx, args)
	case "setfilter":
		return r.setFilter(ctx, req.Text)
	case "blockword":
		return r.blockWord(ctx, args, true)
	case "unblockword":
		return r.blockWord(ctx, args, false)
	case "blockimage":
		return r.blockImage(ctx, req, args)
	case "unblockimage":
		return r.unblockImage(ctx, args)
	case "blockedimages":
		return r.blockedImages(ctx)
	case "queue":
		return r.queue(ctx)
	case "clearqueue":
		return r.clearQueue(ctx)
	case "bots":
		return r.bots(ctx)
	case "botinfo":
		return r.botInfo(ctx, args)
	case "settings":
		return r.settings(ctx)
	case "set":
		return r.setSetting(ctx, req.Text)
	case "purgemappings":
		return r.purgeMappings(ctx, args)
	case "diagnostics":
		return r.status(ctx) + "\n\n" + r.queue(ctx) + "\n\n" + r.bots(ctx)
	case "dashboard":
		return r.dashboard(ctx)
	case "restart", "backup", "cleanup", "logs", "errors":
		return "Команда пока не реализована."
	default:
		return "Неизвестная команда. /help покажет список."
	}
}

// stats — счётчики по всем парам одной таблицей.
func (r *Router) stats(ctx context.Context) string {
	list, err := r.exec.ListPairs(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	st, err := r.exec.Status(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "📈 Всего скопировано %d, сбоев %d\n", st.TotalCopied, st.TotalFailed)
	for _, p := range list {
		fmt.Fprintf(&b, "#%d %s: %d\n", p.ID, p.Name, p.Copied)
	}
	return strings.TrimRight(b.String(), "\n")
}

// health — краткая строка для проверок «живо ли».
func (r *Router) health(ctx context.Context) string {
	st, err := r.exec.Status(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if st.Paused {
		return fmt.Sprintf("⏸ На паузе. Боты %d/%d, очередь %d/%d.",
			st.BotsHealthy, st.BotsTotal, st.QueueDepth, st.QueueCap)
	}
	if st.BotsHealthy < st.BotsTotal {
		return fmt.Sprintf("⚠️ Деградация: здоровых ботов %d из %d, очередь %d/%d.",
			st.BotsHealthy, st.BotsTotal, st.QueueDepth, st.QueueCap)
	}
	return fmt.Sprintf("✅ В порядке. Боты %d/%d, очередь %d/%d.",
		st.BotsHealthy, st.BotsTotal, st.QueueDepth, st.QueueCap)
}

func (r *Router) editPair(ctx context.Context, args []string) string {
	if len(args) < 2 {
		return "Использование: /editpair <id> <новое имя>"
	}
	id, ok := argID(args, 0)
	if !ok {
		return "Идентификатор пары должен быть числом."
	}
	name := strings.Join(args[1:], " ")
	if err := r.exec.RenamePair(ctx, id, name); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Пара #%d переименована в %q", id, name)
}

func (r *Router) clearQueue(ctx context.Context) string {
	n, err := r.exec.ClearQueue(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("🧹 Очередь опустошена, убрано задач: %d", n)
}

func (r *Router) botInfo(ctx context.Context, args []string) string {
	if len(args) != 1 {
		return "Использование: /botinfo <index>"
	}
	idx, err := strconv.Atoi(args[0])
	if err != nil || idx < 0 {
		return "Индекс бота должен быть неотрицательным числом."
	}
	list, lerr := r.exec.Bots(ctx)
	if lerr != nil {
		return "Ошибка: " + lerr.Error()
	}
	if idx >= len(list) {
		return fmt.Sprintf("Бота с индексом %d нет, в пуле %d.", idx, len(list))
	}
	bot := list[idx]
	name := "-"
	if bot.Username != "" {
		name = "@" + bot.Username
	}
	last := "никогда"
	if !bot.Stats.LastActivity.IsZero() {
		last = bot.Stats.LastActivity.Format("2006-01-02 15:04:05")
	}
	out := fmt.Sprintf(`🤖 Бот #%d %s
Обработано: %d, успех %.1f%%
Среднее время: %.2fс, текущая загрузка: %d
Ошибок: %d, подряд: %d
Последняя активность: %s`,
		bot.Index, name,
		bot.Stats.MessagesProcessed, bot.Stats.SuccessRate*100,
		bot.Stats.AvgProcessingTime, bot.Stats.CurrentLoad,
		bot.Stats.ErrorCount, bot.Stats.ConsecutiveFailures,
		last)
	if bot.Quarantined {
		out += "\nВ карантине до " + bot.Until.Format("15:04:05")
	}
	return out
}

func (r *Router) settings(ctx context.Context) string {
	all, err := r.exec.Settings(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if len(all) == 0 {
		return "Настроек нет."
	}
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	b.WriteString("⚙️ Системные настройки\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s = %s\n", k, all[k])
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) setSetting(ctx context.Context, text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 3)
	if len(parts) < 3 {
		return "Использование: /set <key> <value>"
	}
	if err := r.exec.SetSetting(ctx, parts[1], parts[2]); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ %s = %s", parts[1], parts[2])
}

func (r *Router) status(ctx context.Context) string {
	st, err := r.exec.Status(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	state := "работает"
	if st.Paused {
		state = "на паузе"
	}
	return fmt.Sprintf(`📊 Состояние системы
Статус: %s
Аптайм: %s
Пары: %d активных из %d
Очередь: %d/%d (вытеснено %d)
Боты: %d здоровых из %d
Скопировано: %d, сбоев: %d`,
		state, shared.FormatUptime(st.Uptime),
		st.PairsActive, st.PairsTotal,
		st.QueueDepth, st.QueueCap, st.Dropped,
		st.BotsHealthy, st.BotsTotal,
		st.TotalCopied, st.TotalFailed)
}

func (r *Router) pairs(ctx context.Context) string {
	list, err := r.exec.ListPairs(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if len(list) == 0 {
		return "Пар нет. /addpair создаст первую."
	}
	var b strings.Builder
	b.WriteString("🔗 Пары репликации\n")
	for _, p := range list {
		mark := "▶️"
		if !p.Active {
			mark = "⏸"
		}
		fmt.Fprintf(&b, "%s #%d %s: %d → %d (бот %d, скопировано %d)\n",
			mark, p.ID, p.Name, p.Source, p.Dest, p.BotIndex, p.Copied)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) pairInfo(ctx context.Context, args []string) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /pairinfo <id>"
	}
	d, err := r.exec.PairInfo(ctx, id)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	p := d.Pair
	st := d.Stats
	last := "никогда"
	if st.LastActivity > 0 {
		last = time.Unix(st.LastActivity, 0).Format("2006-01-02 15:04:05")
	}
	return fmt.Sprintf(`🔗 Пара #%d %s
Маршрут: %d → %d
Статус: %s, бот %d
Скопировано: %d, отфильтровано: %d, сбоев: %d
Ответы: %d, правки: %d, удаления: %d
Картинок заблокировано: %d
Срезано: упоминаний %d, шапок %d, подвалов %d
Последняя активность: %s`,
		p.ID, p.Name,
		p.SourceChatID, p.DestinationChatID,
		p.Status, p.BotIndex,
		st.MessagesCopied, st.MessagesFiltered, st.Errors,
		st.RepliesPreserved, st.EditsSynced, st.DeletesSynced,
		st.ImagesBlocked,
		st.MentionsRemoved, st.HeadersRemoved, st.FootersRemoved,
		last)
}

func (r *Router) addPair(ctx context.Context, args []string) string {
	if len(args) != 3 {
		return "Использование: /addpair <name> <source_id> <dest_id>"
	}
	src, err1 := strconv.ParseInt(args[1], 10, 64)
	dst, err2 := strconv.ParseInt(args[2], 10, 64)
	if err1 != nil || err2 != nil {
		return "Идентификаторы чатов должны быть числами."
	}
	p, err := r.exec.AddPair(ctx, args[0], src, dst)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Пара #%d %s создана: %d → %d (бот %d)",
		p.ID, p.Name, p.SourceChatID, p.DestinationChatID, p.BotIndex)
}

func (r *Router) delPair(ctx context.Context, args []string) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /delpair <id>"
	}
	if err := r.exec.DeletePair(ctx, id); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Пара #%d удалена. Маппинги сообщений сохранены, /purgemappings зачистит.", id)
}

func (r *Router) setPairStatus(ctx context.Context, args []string, active bool) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /pausepair <id> либо /resumepair <id>"
	}
	if err := r.exec.SetPairStatus(ctx, id, active); err != nil {
		return "Ошибка: " + err.Error()
	}
	if active {
		return fmt.Sprintf("▶️ Пара #%d снова активна", id)
	}
	return fmt.Sprintf("⏸ Пара #%d на паузе", id)
}

func (r *Router) setSystemPaused(ctx context.Context, paused bool) string {
	if err := r.exec.SetSystemPaused(ctx, paused); err != nil {
		return "Ошибка: " + err.Error()
	}
	if paused {
		return "⏸ Публикация остановлена. /resumeall возобновит."
	}
	return "▶️ Публикация возобновлена."
}

func (r *Router) rebalance(ctx context.Context) string {
	res, err := r.exec.Rebalance(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Перераспределено: %d пар по %d ботам, перенесено %d",
		res.Pairs, res.Bots, res.Moved)
}

func (r *Router) assignBot(ctx context.Context, args []string) string {
	if len(args) != 2 {
		return "Использование: /assignbot <pair_id> <bot_index>"
	}
	id, ok := argID(args, 0)
	bot, err := strconv.Atoi(args[1])
	if !ok || err != nil {
		return "Аргументы должны быть числами."
	}
	if err := r.exec.AssignBot(ctx, id, bot); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Пара #%d закреплена за ботом %d", id, bot)
}

func (r *Router) filters(ctx context.Context, args []string) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /filters <id>"
	}
	f, err := r.exec.Filters(ctx, id)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf(`⚙️ Фильтры пары #%d
blocked_words: %s
remove_mentions: %t (placeholder %q)
preserve_replies: %t, sync_edits: %t, sync_deletes: %t
remove_headers: %t (%d паттернов), remove_footers: %t (%d паттернов)
длина: min %d, max %d
allowed_media_types: %s
block_forwards: %t, block_links: %t
custom_regex_filters: %s`,
		id,
		orDash(strings.Join(f.BlockedWords, ", ")),
		f.RemoveMentions, f.MentionPlaceholder,
		f.PreserveReplies, f.SyncEdits, f.SyncDeletes,
		f.RemoveHeaders, len(f.HeaderPatterns), f.RemoveFooters, len(f.FooterPatterns),
		f.MinMessageLength, f.MaxMessageLength,
		orDash(strings.Join(f.AllowedMediaTypes, ", ")),
		f.BlockForwards, f.BlockLinks,
		orDash(strings.Join(f.CustomRegexFilters, " | ")))
}

// setFilter берёт значение как остаток строки: в регулярках бывают пробелы.
func (r *Router) setFilter(ctx context.Context, text string) string {
	parts := strings.SplitN(strings.TrimSpace(text), " ", 4)
	if len(parts) < 4 {
		return "Использование: /setfilter <id> <key> <value>"
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "Идентификатор пары должен быть числом."
	}
	if err := r.exec.SetFilter(ctx, id, parts[2], parts[3]); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Фильтр %s пары #%d обновлён", parts[2], id)
}

func (r *Router) blockWord(ctx context.Context, args []string, block bool) string {
	if len(args) < 2 {
		if block {
			return "Использование: /blockword <pair_id|global> <word>"
		}
		return "Использование: /unblockword <pair_id|global> <word>"
	}
	pairID, ok := scopeArg(args[0])
	if !ok {
		return "Первый аргумент — id пары либо global."
	}
	word := strings.Join(args[1:], " ")

	var err error
	if block {
		err = r.exec.BlockWord(ctx, pairID, word)
	} else {
		err = r.exec.UnblockWord(ctx, pairID, word)
	}
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	scope := "глобально"
	if pairID != 0 {
		scope = fmt.Sprintf("для пары #%d", pairID)
	}
	if block {
		return fmt.Sprintf("✅ Слово %q заблокировано %s", word, scope)
	}
	return fmt.Sprintf("✅ Слово %q разблокировано %s", word, scope)
}

func (r *Router) blockImage(ctx context.Context, req Request, args []string) string {
	if len(req.Photo) == 0 {
		return "Пришлите фото с подписью /blockimage [pair_id]."
	}
	pairID := int64(0)
	if len(args) > 0 {
		id, ok := scopeArg(args[0])
		if !ok {
			return "Аргумент — id пары либо global."
		}
		pairID = id
	}
	id, err := r.exec.BlockImage(ctx, pairID, req.Photo, req.UserID, "")
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	scope := "глобально"
	if pairID != 0 {
		scope = fmt.Sprintf("для пары #%d", pairID)
	}
	return fmt.Sprintf("🚫 Картинка заблокирована %s, образец #%d", scope, id)
}

func (r *Router) unblockImage(ctx context.Context, args []string) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /unblockimage <id>"
	}
	if err := r.exec.UnblockImage(ctx, id); err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("✅ Образец #%d удалён", id)
}

func (r *Router) blockedImages(ctx context.Context) string {
	list, err := r.exec.BlockedImages(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	if len(list) == 0 {
		return "Заблокированных картинок нет."
	}
	var b strings.Builder
	b.WriteString("🚫 Заблокированные картинки\n")
	for _, img := range list {
		scope := "глобально"
		if img.PairID != 0 {
			scope = fmt.Sprintf("пара #%d", img.PairID)
		}
		fmt.Fprintf(&b, "#%d %s, срабатываний %d\n", img.ID, scope, img.UsageCount)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) queue(ctx context.Context) string {
	q, err := r.exec.QueueInfo(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	total := q.Stats.Urgent + q.Stats.High + q.Stats.Normal + q.Stats.Low
	return fmt.Sprintf(`📬 Очередь: %d/%d
urgent: %d, high: %d, normal: %d, low: %d
вытеснено за всё время: %d`,
		total, q.Capacity,
		q.Stats.Urgent, q.Stats.High, q.Stats.Normal, q.Stats.Low,
		q.Stats.Dropped)
}

func (r *Router) bots(ctx context.Context) string {
	list, err := r.exec.Bots(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	var b strings.Builder
	b.WriteString("🤖 Боты\n")
	for _, bot := range list {
		mark := "✅"
		if !bot.Stats.Healthy() {
			mark = "❌"
		}
		name := "-"
		if bot.Username != "" {
			name = "@" + bot.Username
		}
		fmt.Fprintf(&b, "%s #%d %s: обработано %d, успех %.0f%%, сбоев подряд %d\n",
			mark, bot.Index, name, bot.Stats.MessagesProcessed,
			bot.Stats.SuccessRate*100, bot.Stats.ConsecutiveFailures)
		if bot.Quarantined {
			fmt.Fprintf(&b, "   в карантине до %s\n", bot.Until.Format("15:04:05"))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Router) purgeMappings(ctx context.Context, args []string) string {
	id, ok := argID(args, 0)
	if !ok {
		return "Использование: /purgemappings <pair_id>"
	}
	n, err := r.exec.PurgeMappings(ctx, id)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return fmt.Sprintf("🧹 Удалено %d маппингов пары #%d", n, id)
}

func (r *Router) dashboard(ctx context.Context) string {
	url, err := r.exec.Dashboard(ctx)
	if err != nil {
		return "Ошибка: " + err.Error()
	}
	return "🌐 Веб-интерфейс: " + url
}

func argID(args []string, i int) (int64, bool) {
	if len(args) <= i {
		return 0, false
	}
	id, err := strconv.ParseInt(args[i], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// scopeArg разбирает "global" либо положительный id пары.
func scopeArg(arg string) (int64, bool) {
	if strings.EqualFold(arg, "global") {
		return 0, true
	}
	return argID([]string{arg}, 0)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
