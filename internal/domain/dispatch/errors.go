// Классификация ошибок доставки. Адаптер Bot API переводит сырые ответы
// в SendError с видом сбоя, воркер по виду решает: ретраить, ждать,
// деградировать или хоронить задачу.

package dispatch

import (
	"errors"
	"fmt"
)

// FailureKind — вид сбоя доставки.
type FailureKind int

const (
	// FailUnknown — не удалось классифицировать, терминальный сбой.
	FailUnknown FailureKind = iota
	// FailRetryAfter — лимитер Telegram, ждать Seconds и повторить.
	FailRetryAfter
	// FailNetwork — сеть или 5xx, ретраится с backoff.
	FailNetwork
	// FailTimeout — превышен дедлайн запроса, ретраится с backoff.
	FailTimeout
	// FailForbidden — бот выгнан или лишён прав, терминальный сбой.
	FailForbidden
	// FailBadRequest — запрос отвергнут, возможна деградированная отправка.
	FailBadRequest
	// FailNotFound — целевого сообщения уже нет, проглатывается.
	FailNotFound
	// FailNotModified — правка ничего не меняет, проглатывается.
	FailNotModified
)

func (k FailureKind) String() string {
	switch k {
	case FailRetryAfter:
		return "retry_after"
	case FailNetwork:
		return "network"
	case FailTimeout:
		return "timeout"
	case FailForbidden:
		return "forbidden"
	case FailBadRequest:
		return "bad_request"
	case FailNotFound:
		return "not_found"
	case FailNotModified:
		return "not_modified"
	default:
		return "unknown"
	}
}

// SendError — классифицированная ошибка доставки. Seconds заполняется
// только для FailRetryAfter.
type SendError struct {
	Kind    FailureKind
	Seconds int
	Err     error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send failed (%s)", e.Kind)
	}
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// AsSendError достаёт SendError из цепочки ошибки.
func AsSendError(err error) (*SendError, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// retryable сообщает, имеет ли смысл повторять доставку с backoff.
func (e *SendError) retryable() bool {
	return e.Kind == FailNetwork || e.Kind == FailTimeout
}
