// Package ratelimit — скользящее окно отправок на каждого бота пула.
// Два независимых ограничителя: локальный бюджет (не более limit отправок за
// window) и серверный карантин rate_limit_until, выставляемый при получении
// flood wait от Bot API. Admit неблокирующий: решение «сейчас нельзя»
// возвращается воркеру, который сам решает, когда вернуть задание в очередь.
package ratelimit

import (
	"sync"
	"time"
)

// BotWindow — снимок состояния окна одного бота для диагностики.
type BotWindow struct {
	// InWindow — сколько отправок учтено в текущем окне.
	InWindow int
	// Until — серверный карантин; нулевое время = карантина нет.
	Until time.Time
}

// botState хранит окно отправок и карантин одного бота.
type botState struct {
	// times — времена учтённых отправок, от старых к новым.
	times []time.Time
	// until — до этого момента Admit отвечает отказом (flood wait).
	until time.Time
}

// Limiter — потокобезопасный ограничитель на пул ботов.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	bots   map[int]*botState
	now    func() time.Time // подменяется в тестах
}

// New создаёт ограничитель: не более limit отправок за window на бота.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		bots:   make(map[int]*botState),
		now:    time.Now,
	}
}

func (l *Limiter) state(botIndex int) *botState {
	st, ok := l.bots[botIndex]
	if !ok {
		st = &botState{}
		l.bots[botIndex] = st
	}
	return st
}

// pruneLocked выкидывает из окна отправки старше now-window.
func (st *botState) pruneLocked(cutoff time.Time) {
	idx := 0
	for idx < len(st.times) && st.times[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		st.times = append(st.times[:0], st.times[idx:]...)
	}
}

// Admit решает, можно ли боту отправлять прямо сейчас. При положительном
// решении отправка сразу учитывается в окне. Порядок проверок: карантин,
// затем бюджет окна.
func (l *Limiter) Admit(botIndex int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	st := l.state(botIndex)

	if now.Before(st.until) {
		return false
	}

	st.pruneLocked(now.Add(-l.window))
	if len(st.times) >= l.limit {
		return false
	}

	st.times = append(st.times, now)
	return true
}

// Penalize выставляет боту серверный карантин на d от текущего момента.
// Вызывается при получении flood wait; более ранний карантин продлевается.
func (l *Limiter) Penalize(botIndex int, d time.Duration) {
	if d <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	until := l.now().Add(d)
	st := l.state(botIndex)
	if until.After(st.until) {
		st.until = until
	}
}

// Until возвращает момент окончания карантина бота (нулевое время = нет).
func (l *Limiter) Until(botIndex int) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.bots[botIndex]
	if !ok {
		return time.Time{}
	}
	return st.until
}

// Sweep выкидывает устаревшие записи из окон всех ботов и снимает истёкшие
// карантины. Вызывается периодическим монитором, чтобы окна простаивающих
// ботов не держали память.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	for _, st := range l.bots {
		st.pruneLocked(cutoff)
		if !st.until.IsZero() && !now.Before(st.until) {
			st.until = time.Time{}
		}
	}
}

// Snapshot возвращает состояние окон всех известных ботов.
func (l *Limiter) Snapshot() map[int]BotWindow {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)
	out := make(map[int]BotWindow, len(l.bots))
	for idx, st := range l.bots {
		st.pruneLocked(cutoff)
		w := BotWindow{InWindow: len(st.times)}
		if now.Before(st.until) {
			w.Until = st.until
		}
		out[idx] = w
	}
	return out
}
