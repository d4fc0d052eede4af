// Работа с entities форматирования. Смещения и длины считаются в UTF-16
// code units — так их отдаёт MTProto и так их ждёт Bot API. Строки Go при
// этом UTF-8, поэтому вся арифметика границ идёт через пересчёт в UTF-16;
// это требование корректности, а не оптимизация.

package transform

import (
	"sort"

	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/logger"
)

// UTF16Len возвращает длину строки в UTF-16 code units.
// Руны за пределами BMP (эмодзи и пр.) занимают суррогатную пару, то есть две единицы.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n++
		if r > 0xFFFF {
			n++
		}
	}
	return n
}

// knownEntity сообщает, относится ли тип к поддерживаемому набору Bot API.
func knownEntity(t source.EntityType) bool {
	switch t {
	case source.EntityBold, source.EntityItalic, source.EntityUnderline,
		source.EntityStrikethrough, source.EntitySpoiler, source.EntityCode,
		source.EntityPre, source.EntityURL, source.EntityTextLink,
		source.EntityMention, source.EntityTextMention, source.EntityCustomEmoji,
		source.EntityHashtag, source.EntityCashtag, source.EntityBotCommand,
		source.EntityEmail, source.EntityPhoneNumber:
		return true
	}
	return false
}

// Revalidate приводит список entities в согласованное с текстом состояние:
//   - выбрасывает записи с offset < 0, length <= 0 или offset за концом текста;
//   - ужимает length, когда запись вылезает за границу;
//   - выбрасывает text_link без URL, text_mention без пользователя,
//     custom_emoji без идентификатора и неизвестные типы (не фатально);
//   - сортирует выживших по offset.
//
// Гарантия на выходе: 0 <= offset и offset+length <= UTF16Len(text) для каждой записи.
func Revalidate(entities []source.Entity, text string) []source.Entity {
	if len(entities) == 0 {
		return nil
	}

	limit := UTF16Len(text)
	out := make([]source.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Offset < 0 || e.Length <= 0 || e.Offset >= limit {
			continue
		}
		if e.Offset+e.Length > limit {
			e.Length = limit - e.Offset
		}

		switch e.Type {
		case source.EntityTextLink:
			if e.URL == "" {
				continue
			}
		case source.EntityTextMention:
			if e.UserID == 0 {
				continue
			}
		case source.EntityCustomEmoji:
			if e.CustomEmojiID == "" {
				continue
			}
		default:
			if !knownEntity(e.Type) {
				logger.Debugf("dropping entity of unknown type %q", e.Type)
				continue
			}
		}

		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Truncate обрезает текст до max рун с добавлением «...» и ужимает entities
// до границы обрезки. Возвращает текст, entities и признак «обрезали».
// При max <= 0 или коротком тексте вход возвращается как есть.
func Truncate(text string, entities []source.Entity, max int) (string, []source.Entity, bool) {
	if max <= 0 {
		return text, entities, false
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text, entities, false
	}

	cut := string(runes[:max])
	cutLimit := UTF16Len(cut)

	clipped := make([]source.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Offset >= cutLimit {
			continue
		}
		if e.Offset+e.Length > cutLimit {
			e.Length = cutLimit - e.Offset
		}
		if e.Length <= 0 {
			continue
		}
		clipped = append(clipped, e)
	}

	return cut + "...", clipped, true
}
