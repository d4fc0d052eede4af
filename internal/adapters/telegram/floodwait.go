// Экстрактор серверных пауз MTProto для троттлера скачивания вложений.
// FLOOD_WAIT и FLOOD_PREMIUM_WAIT переводятся в длительность ожидания;
// небольшой случайный джиттер разносит повторы параллельных воркеров.

package telegram

import (
	rand "math/rand/v2"
	"time"

	"github.com/gotd/td/tgerr"

	"github.com/sunil55999/Luffy/internal/infra/throttle"
)

// floodWaitJitterMax — верхняя граница добавки к обязательной паузе.
const floodWaitJitterMax = 3 * time.Second

// FloodWaitExtractor распознаёт флуд-паузы Telegram и возвращает
// throttle.WaitExtractor: обязательная пауза из ошибки плюс джиттер.
func FloodWaitExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		if err == nil {
			return 0, false
		}
		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return 0, false
		}
		return wait + time.Duration(rand.IntN(int(floodWaitJitterMax/time.Second)))*time.Second, true
	}
}
