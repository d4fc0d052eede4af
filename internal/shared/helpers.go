// Package shared — небольшие общие утилиты без внешних зависимостей.
// Содержит обобщённые функции для работы со слайсами и форматированием
// длительностей. Фокус: безопасные операции без паник, сохранение порядка
// и простая семантика.
package shared

import (
	"fmt"
	"time"
)

// Unique возвращает срез уникальных значений, сохраняя порядок первого появления.
// Работает для любых типов с сравнимостью (comparable). Сложность O(n) по времени
// и O(n) по памяти на карту «виденных» значений. Порядок стабильный.
func Unique[T comparable](in []T) []T {
	seen := make(map[T]struct{}, len(in))
	out := make([]T, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// GetAt безопасно возвращает элемент слайса по индексу i. В случае выхода за
// границы возвращает нулевое значение типа T и false, без паники. Полезно как
// неболезненная альтернатива ручным проверкам длины перед обращением.
func GetAt[T any](s []T, i int) (T, bool) {
	if i < 0 || i >= len(s) {
		var zero T
		return zero, false
	}
	return s[i], true
}

// FormatUptime форматирует длительность работы в человекочитаемый вид:
// "2d 3h 17m" / "3h 17m" / "17m 05s" / "42s". Отрицательные значения
// трактуются как ноль. Используется в /status и на веб-дашборде.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %02ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
