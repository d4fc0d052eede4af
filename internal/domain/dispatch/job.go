package dispatch

import (
	"time"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
)

// Kind — вид работы для воркера.
type Kind int

const (
	// KindNew — скопировать новое сообщение.
	KindNew Kind = iota
	// KindEdit — синхронизировать правку.
	KindEdit
	// KindDelete — синхронизировать удаление.
	KindDelete
)

func (k Kind) String() string {
	switch k {
	case KindNew:
		return "new"
	case KindEdit:
		return "edit"
	case KindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Priority — приоритет задачи. Большее значение обслуживается раньше,
// внутри одного уровня порядок строго FIFO.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
	PriorityUrgent Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Job — единица работы. Pair — снимок пары на момент постановки: правки
// конфигурации, сделанные позже, на задачу в полёте не влияют.
// DeletedIDs заполняется только для KindDelete, Msg — для остальных видов.
type Job struct {
	Kind       Kind
	Pair       *pairs.Pair
	Msg        *source.Message
	DeletedIDs []int
	Priority   Priority
	EnqueuedAt time.Time
	Retries    int
}
