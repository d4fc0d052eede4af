// Классификация ответов Bot API в доменные виды сбоев. Единственное место,
// где разбираются коды и тексты ошибок транспорта: воркер дальше работает
// только с FailureKind.

package botapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
)

// classify переводит ошибку запроса в *dispatch.SendError.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return classifyAPI(apiErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &dispatch.SendError{Kind: dispatch.FailTimeout, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &dispatch.SendError{Kind: dispatch.FailTimeout, Err: err}
	}

	// Остальное — сетевой транспорт: обрывы, DNS, отмена контекста.
	return &dispatch.SendError{Kind: dispatch.FailNetwork, Err: err}
}

// classifyAPI разбирает ответ Bot API. Тексты описаний стабильны годами,
// по ним различаются 400-е, которые глотаются, деградируются и хоронятся.
func classifyAPI(apiErr *tgbotapi.Error) error {
	if apiErr.RetryAfter > 0 || apiErr.Code == http.StatusTooManyRequests {
		seconds := apiErr.RetryAfter
		if seconds < 1 {
			seconds = 1
		}
		return &dispatch.SendError{Kind: dispatch.FailRetryAfter, Seconds: seconds, Err: apiErr}
	}

	desc := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.Code == http.StatusForbidden:
		return &dispatch.SendError{Kind: dispatch.FailForbidden, Err: apiErr}
	case apiErr.Code == http.StatusBadRequest:
		switch {
		case strings.Contains(desc, "message is not modified"):
			return &dispatch.SendError{Kind: dispatch.FailNotModified, Err: apiErr}
		case strings.Contains(desc, "message to delete not found"),
			strings.Contains(desc, "message to edit not found"),
			strings.Contains(desc, "message not found"),
			strings.Contains(desc, "message_id_invalid"):
			return &dispatch.SendError{Kind: dispatch.FailNotFound, Err: apiErr}
		default:
			return &dispatch.SendError{Kind: dispatch.FailBadRequest, Err: apiErr}
		}
	case apiErr.Code == http.StatusUnauthorized, apiErr.Code == http.StatusNotFound:
		// Токен отозван либо бит: доставка этим ботом невозможна.
		return &dispatch.SendError{Kind: dispatch.FailForbidden, Err: apiErr}
	case apiErr.Code >= http.StatusInternalServerError:
		return &dispatch.SendError{Kind: dispatch.FailNetwork, Err: apiErr}
	default:
		return &dispatch.SendError{Kind: dispatch.FailUnknown, Err: apiErr}
	}
}
