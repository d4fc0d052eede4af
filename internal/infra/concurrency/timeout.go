// В этом файле реализован автоматический таймаут работы приложения.

package concurrency

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// StartTimeoutTimer запускает горутину, которая вызовет cancelFunc через
// timeout секунд. Используется для ограниченных по времени запусков
// (прогон против тестового DC, smoke-проверки деплоя).
//
// Функция завершается немедленно. Если таймаут не положительный или
// cancelFunc == nil, ничего не делает.
func StartTimeoutTimer(ctx context.Context, timeout int, cancelFunc context.CancelFunc) {
	if timeout <= 0 || cancelFunc == nil {
		return
	}

	duration := time.Duration(timeout) * time.Second

	go func() {
		logger.Info("Auto-shutdown timer started", zap.Duration("timeout", duration))

		timer := time.NewTimer(duration)
		defer timer.Stop()

		select {
		case <-timer.C:
			logger.Info("Auto-shutdown timeout reached, initiating graceful shutdown")
			cancelFunc()
		case <-ctx.Done():
			// Контекст уже отменён, таймер больше не нужен.
			logger.Debug("Auto-shutdown timer cancelled due to context cancellation")
		}
	}()
}
