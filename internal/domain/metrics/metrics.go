// Package metrics — рантайм-показатели ботов пула доставки.
// На каждого бота ведётся счётчик обработанных сообщений, EMA успешности,
// EMA длительности обработки, наблюдаемая глубина очереди и счётчик подряд
// проваленных health-проб. Показатели живут в памяти; периодический монитор
// сбрасывает их в базу для «холодного» чтения после рестарта.
package metrics

import (
	"sync"
	"time"
)

// emaAlpha — коэффициент сглаживания экспоненциального среднего.
const emaAlpha = 0.1

// BotStats — снимок показателей одного бота.
type BotStats struct {
	MessagesProcessed int64
	// SuccessRate — EMA успешности в [0,1]; новый бот начинает с 1.0.
	SuccessRate float64
	// AvgProcessingTime — EMA длительности обработки, секунды.
	AvgProcessingTime float64
	// CurrentLoad — глубина очереди, наблюдавшаяся последним опросом монитора.
	CurrentLoad int
	ErrorCount  int64
	// ConsecutiveFailures — подряд проваленные health-пробы; сбрасывается успехом.
	ConsecutiveFailures int
	LastActivity        time.Time
}

// Healthy сообщает, отвечает ли бот на пробы (меньше трёх провалов подряд).
func (s BotStats) Healthy() bool {
	return s.ConsecutiveFailures < 3
}

// Registry — потокобезопасный реестр показателей по bot index.
type Registry struct {
	mu   sync.Mutex
	bots map[int]*BotStats
	now  func() time.Time // подменяется в тестах
}

// NewRegistry создаёт реестр с записями для ботов 0..botCount-1.
// Показатели стартуют «чистыми»: EMA успешности 1.0, остальное по нулям.
func NewRegistry(botCount int) *Registry {
	r := &Registry{
		bots: make(map[int]*BotStats, botCount),
		now:  time.Now,
	}
	for i := 0; i < botCount; i++ {
		r.bots[i] = &BotStats{SuccessRate: 1.0}
	}
	return r
}

// Seed подгружает сохранённые показатели (после рестарта). Неизвестные
// bot index игнорируются: пул мог сократиться.
func (r *Registry) Seed(saved map[int]BotStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for idx, st := range saved {
		if _, ok := r.bots[idx]; !ok {
			continue
		}
		cp := st
		r.bots[idx] = &cp
	}
}

func (r *Registry) state(botIndex int) *BotStats {
	st, ok := r.bots[botIndex]
	if !ok {
		st = &BotStats{SuccessRate: 1.0}
		r.bots[botIndex] = st
	}
	return st
}

// Record учитывает завершённую обработку задания ботом: счётчик, EMA
// успешности (1.0/0.0) и EMA длительности. Отказы ограничителя скорости
// сюда не попадают — они не считаются результатом обработки.
func (r *Registry) Record(botIndex int, success bool, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(botIndex)
	st.MessagesProcessed++

	outcome := 0.0
	if success {
		outcome = 1.0
	} else {
		st.ErrorCount++
	}
	st.SuccessRate = emaAlpha*outcome + (1-emaAlpha)*st.SuccessRate
	st.AvgProcessingTime = emaAlpha*elapsed.Seconds() + (1-emaAlpha)*st.AvgProcessingTime
	st.LastActivity = r.now()
}

// RecordProbe учитывает результат health-пробы: успех обнуляет серию провалов,
// неудача наращивает её.
func (r *Registry) RecordProbe(botIndex int, ok bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := r.state(botIndex)
	if ok {
		st.ConsecutiveFailures = 0
	} else {
		st.ConsecutiveFailures++
	}
	return st.ConsecutiveFailures
}

// SetLoad записывает наблюдаемую глубину очереди во все записи.
func (r *Registry) SetLoad(depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, st := range r.bots {
		st.CurrentLoad = depth
	}
}

// Get возвращает снимок показателей одного бота.
func (r *Registry) Get(botIndex int) (BotStats, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.bots[botIndex]
	if !ok {
		return BotStats{}, false
	}
	return *st, true
}

// Snapshot возвращает копию показателей всех ботов.
func (r *Registry) Snapshot() map[int]BotStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int]BotStats, len(r.bots))
	for idx, st := range r.bots {
		out[idx] = *st
	}
	return out
}
