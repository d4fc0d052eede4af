// Очередь задач с четырьмя уровнями приоритета. Ёмкость общая на все
// уровни; при переполнении жертвуется самая старая задача наинизшего
// занятого уровня, чтобы срочные не вытеснялись фоновыми.

package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

const laneCount = 4

// QueueStats — снимок глубины очереди для CLI и мониторинга.
type QueueStats struct {
	Urgent  int
	High    int
	Normal  int
	Low     int
	Dropped int64
}

// Queue — потокобезопасная очередь с FIFO внутри уровня.
// Dequeue ждёт задачу не дольше заданного таймаута, поэтому воркеры
// регулярно возвращаются к проверке паузы и контекста.
type Queue struct {
	mu      sync.Mutex
	lanes   [laneCount][]*Job // индекс 0 — низший приоритет
	cap     int
	size    int
	dropped int64

	signal chan struct{}
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{cap: capacity, signal: make(chan struct{}, 1)}
}

func laneIndex(p Priority) int {
	idx := int(p) - 1
	if idx < 0 {
		return 0
	}
	if idx >= laneCount {
		return laneCount - 1
	}
	return idx
}

// Enqueue ставит задачу в хвост её уровня. Если очередь полна, возвращает
// вытесненную задачу (самую старую из наинизшего занятого уровня), иначе nil.
func (q *Queue) Enqueue(job *Job) *Job {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	var evicted *Job
	if q.size >= q.cap {
		evicted = q.dropOldestLocked()
	}
	idx := laneIndex(job.Priority)
	q.lanes[idx] = append(q.lanes[idx], job)
	q.size++
	q.mu.Unlock()

	if evicted != nil {
		logger.Warnf("queue full, dropped %s job for pair %d", evicted.Kind, evicted.Pair.ID)
	}
	q.notify()
	return evicted
}

// EnqueueFront возвращает задачу в голову её уровня: повтор не должен
// пропускать вперёд задачи, вставшие позже него.
func (q *Queue) EnqueueFront(job *Job) {
	q.mu.Lock()
	if q.size >= q.cap {
		if evicted := q.dropOldestLocked(); evicted != nil {
			logger.Warnf("queue full, dropped %s job for pair %d", evicted.Kind, evicted.Pair.ID)
		}
	}
	idx := laneIndex(job.Priority)
	q.lanes[idx] = append([]*Job{job}, q.lanes[idx]...)
	q.size++
	q.mu.Unlock()

	q.notify()
}

// Dequeue возвращает задачу наивысшего занятого уровня или nil, если за
// timeout ничего не появилось либо контекст отменён.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) *Job {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		job := q.popLocked()
		q.mu.Unlock()
		if job != nil {
			return job
		}

		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-q.signal:
		}
	}
}

// popLocked снимает голову наивысшего занятого уровня.
func (q *Queue) popLocked() *Job {
	for i := laneCount - 1; i >= 0; i-- {
		lane := q.lanes[i]
		if len(lane) == 0 {
			continue
		}
		job := lane[0]
		q.lanes[i] = lane[1:]
		q.size--
		return job
	}
	return nil
}

// dropOldestLocked выкидывает голову наинизшего занятого уровня.
func (q *Queue) dropOldestLocked() *Job {
	for i := 0; i < laneCount; i++ {
		lane := q.lanes[i]
		if len(lane) == 0 {
			continue
		}
		job := lane[0]
		q.lanes[i] = lane[1:]
		q.size--
		q.dropped++
		return job
	}
	return nil
}

func (q *Queue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len — текущая суммарная глубина.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity — настроенная ёмкость.
func (q *Queue) Capacity() int { return q.cap }

// Dropped — сколько задач вытеснено за время работы.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Clear опустошает очередь и возвращает число убранных задач.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.size
	for i := range q.lanes {
		q.lanes[i] = nil
	}
	q.size = 0
	return removed
}

// Snapshot — глубины по уровням для отчётов.
func (q *Queue) Snapshot() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Urgent:  len(q.lanes[laneIndex(PriorityUrgent)]),
		High:    len(q.lanes[laneIndex(PriorityHigh)]),
		Normal:  len(q.lanes[laneIndex(PriorityNormal)]),
		Low:     len(q.lanes[laneIndex(PriorityLow)]),
		Dropped: q.dropped,
	}
}
