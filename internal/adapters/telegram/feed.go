// Лента апдейтов наблюдателя: конвертация событий MTProto в нормализованные
// сообщения домена. Здесь происходит канонизация идентификаторов чатов под
// формат Bot API, перенос entities и классификация вложений по атрибутам
// документа. Скачивание байтов вложения остаётся ленивым: Fetch замыкает
// file location и ходит в DC через троттлер только при реальной отправке.

package telegram

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/sunil55999/Luffy/internal/domain/dispatch"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/infra/logger"
	"github.com/sunil55999/Luffy/internal/infra/throttle"
)

// superPrefix — префикс идентификаторов каналов и супергрупп в Bot API.
const superPrefix int64 = -1000000000000

// Feed подписывается на апдейты MTProto и передаёт их диспетчеру доставки.
// Дедупликация и дребезг правок — забота диспетчера, лента только конвертирует.
type Feed struct {
	dispatcher *dispatch.Dispatcher
	throttler  *throttle.Throttler

	// api появляется после сборки клиента, лента создаётся раньше.
	api atomic.Pointer[tg.Client]
}

// NewFeed создаёт ленту поверх диспетчера. Троттлер ограничивает скачивание
// вложений: DC охотно раздаёт FLOOD_WAIT на storage.getFile.
func NewFeed(dispatcher *dispatch.Dispatcher, throttler *throttle.Throttler) *Feed {
	return &Feed{dispatcher: dispatcher, throttler: throttler}
}

// BindAPI привязывает RPC-клиента. До привязки Fetch вложений возвращает ошибку.
func (f *Feed) BindAPI(api *tg.Client) {
	f.api.Store(api)
}

// Attach регистрирует обработчики ленты на диспетчере апдейтов gotd.
func (f *Feed) Attach(d *tg.UpdateDispatcher) {
	d.OnNewMessage(func(_ context.Context, _ tg.Entities, u *tg.UpdateNewMessage) error {
		f.onMessage(u.Message, false)
		return nil
	})
	d.OnNewChannelMessage(func(_ context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
		f.onMessage(u.Message, false)
		return nil
	})
	d.OnEditMessage(func(_ context.Context, _ tg.Entities, u *tg.UpdateEditMessage) error {
		f.onMessage(u.Message, true)
		return nil
	})
	d.OnEditChannelMessage(func(_ context.Context, _ tg.Entities, u *tg.UpdateEditChannelMessage) error {
		f.onMessage(u.Message, true)
		return nil
	})
	d.OnDeleteMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteMessages) error {
		// Апдейт не называет чат, диспетчер восстановит пары по маппингам.
		f.dispatcher.HandleDelete(ctx, 0, u.Messages)
		return nil
	})
	d.OnDeleteChannelMessages(func(ctx context.Context, _ tg.Entities, u *tg.UpdateDeleteChannelMessages) error {
		f.dispatcher.HandleDelete(ctx, superPrefix-u.ChannelID, u.Messages)
		return nil
	})
}

func (f *Feed) onMessage(raw tg.MessageClass, edit bool) {
	msg, ok := raw.(*tg.Message)
	if !ok {
		// Сервисные и пустые сообщения не реплицируются.
		return
	}

	converted := f.convert(msg)
	if converted == nil {
		return
	}
	if edit {
		f.dispatcher.HandleEdit(converted)
	} else {
		f.dispatcher.HandleNew(converted)
	}
}

// convert переводит tg.Message в доменное сообщение. Возвращает nil, когда
// реплицировать нечего: ни текста, ни пригодного вложения.
func (f *Feed) convert(msg *tg.Message) *source.Message {
	out := &source.Message{
		ChatID:   canonicalChatID(msg.PeerID),
		ID:       msg.ID,
		Date:     time.Unix(int64(msg.Date), 0),
		EditDate: msg.EditDate,
		Text:     msg.Message,
		Entities: convertEntities(msg.Entities),
	}

	if reply, ok := msg.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			out.ReplyToID = header.ReplyToMsgID
		}
	}
	if _, ok := msg.GetFwdFrom(); ok {
		out.Forwarded = true
	}
	if grouped, ok := msg.GetGroupedID(); ok {
		out.GroupedID = grouped
	}

	if mediaRaw, ok := msg.GetMedia(); ok {
		media := f.convertMedia(mediaRaw)
		if media == nil && out.Text == "" {
			logger.Debugf("message %d in chat %d carries unsupported media, skipped", out.ID, out.ChatID)
			return nil
		}
		out.Media = media
	}

	if out.Text == "" && out.Media == nil {
		return nil
	}
	return out
}

// canonicalChatID приводит peer к идентификатору в соглашениях Bot API:
// пользователи положительные, обычные группы отрицательные, каналы и
// супергруппы с префиксом -100.
func canonicalChatID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return superPrefix - p.ChannelID
	default:
		return 0
	}
}

// convertEntities переносит форматирование MTProto в типы Bot API.
// Смещения у обоих протоколов в UTF-16, пересчёт не нужен.
func convertEntities(in []tg.MessageEntityClass) []source.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]source.Entity, 0, len(in))
	for _, raw := range in {
		e := source.Entity{Offset: raw.GetOffset(), Length: raw.GetLength()}
		switch v := raw.(type) {
		case *tg.MessageEntityBold:
			e.Type = source.EntityBold
		case *tg.MessageEntityItalic:
			e.Type = source.EntityItalic
		case *tg.MessageEntityUnderline:
			e.Type = source.EntityUnderline
		case *tg.MessageEntityStrike:
			e.Type = source.EntityStrikethrough
		case *tg.MessageEntitySpoiler:
			e.Type = source.EntitySpoiler
		case *tg.MessageEntityCode:
			e.Type = source.EntityCode
		case *tg.MessageEntityPre:
			e.Type = source.EntityPre
			e.Language = v.Language
		case *tg.MessageEntityURL:
			e.Type = source.EntityURL
		case *tg.MessageEntityTextURL:
			e.Type = source.EntityTextLink
			e.URL = v.URL
		case *tg.MessageEntityMention:
			e.Type = source.EntityMention
		case *tg.MessageEntityMentionName:
			e.Type = source.EntityTextMention
			e.UserID = v.UserID
		case *tg.MessageEntityCustomEmoji:
			e.Type = source.EntityCustomEmoji
			e.CustomEmojiID = strconv.FormatInt(v.DocumentID, 10)
		case *tg.MessageEntityHashtag:
			e.Type = source.EntityHashtag
		case *tg.MessageEntityCashtag:
			e.Type = source.EntityCashtag
		case *tg.MessageEntityBotCommand:
			e.Type = source.EntityBotCommand
		case *tg.MessageEntityEmail:
			e.Type = source.EntityEmail
		case *tg.MessageEntityPhone:
			e.Type = source.EntityPhoneNumber
		default:
			// blockquote, bank_card и прочая экзотика Bot API не принимает
			// в исходном виде, такие элементы опускаются.
			continue
		}
		out = append(out, e)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// convertMedia классифицирует вложение и подвешивает ленивое скачивание.
func (f *Feed) convertMedia(raw tg.MessageMediaClass) *source.Media {
	switch m := raw.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil
		}
		return f.convertPhoto(photo)
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil
		}
		return f.convertDocument(doc)
	case *tg.MessageMediaWebPage:
		page, ok := m.Webpage.(*tg.WebPage)
		if !ok {
			// Превью ещё строится или уже умерло, остаётся голый текст.
			return nil
		}
		return &source.Media{
			Kind: source.MediaWebPage,
			WebPage: &source.WebPage{
				URL:         page.URL,
				SiteName:    page.SiteName,
				Title:       page.Title,
				Description: page.Description,
			},
		}
	default:
		// Геопозиции, опросы, контакты и инвойсы не реплицируются.
		return nil
	}
}

func (f *Feed) convertPhoto(photo *tg.Photo) *source.Media {
	thumb, width, height, size := largestPhotoSize(photo.Sizes)
	if thumb == "" {
		return nil
	}

	loc := &tg.InputPhotoFileLocation{
		ID:            photo.ID,
		AccessHash:    photo.AccessHash,
		FileReference: photo.FileReference,
		ThumbSize:     thumb,
	}
	return &source.Media{
		Kind:     source.MediaPhoto,
		MimeType: "image/jpeg",
		FileSize: int64(size),
		Width:    width,
		Height:   height,
		Fetch:    f.fetchFunc(loc),
	}
}

func (f *Feed) convertDocument(doc *tg.Document) *source.Media {
	media := &source.Media{
		Kind:     source.MediaDocument,
		MimeType: doc.MimeType,
		FileSize: doc.Size,
	}

	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeFilename:
			media.FileName = a.FileName
		case *tg.DocumentAttributeAnimated:
			media.Kind = source.MediaAnimation
		case *tg.DocumentAttributeVideo:
			if media.Kind == source.MediaDocument {
				if a.RoundMessage {
					media.Kind = source.MediaVideoNote
				} else {
					media.Kind = source.MediaVideo
				}
			}
			media.Duration = int(a.Duration)
			media.Width = a.W
			media.Height = a.H
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				media.Kind = source.MediaVoice
			} else if media.Kind == source.MediaDocument {
				media.Kind = source.MediaAudio
			}
			media.Duration = a.Duration
		case *tg.DocumentAttributeSticker:
			media.Kind = source.MediaSticker
			media.Emoji = a.Alt
		}
	}
	// Документы без профильного атрибута классифицируются по MIME: картинка,
	// присланная файлом, проходит те же фильтры и дедуп, что и обычное фото.
	// Гифки приходят документами image/gif без атрибута Animated.
	if media.Kind == source.MediaDocument {
		switch {
		case doc.MimeType == "image/gif":
			media.Kind = source.MediaAnimation
		case strings.HasPrefix(doc.MimeType, "image/"):
			media.Kind = source.MediaPhoto
		case strings.HasPrefix(doc.MimeType, "video/"):
			media.Kind = source.MediaVideo
		case strings.HasPrefix(doc.MimeType, "audio/"):
			media.Kind = source.MediaAudio
		}
	}

	media.Fetch = f.fetchFunc(&tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	})
	return media
}

// fetchFunc замыкает file location и скачивает байты через троттлер.
// File reference живёт ограниченное время; протухшую ссылку DC вернёт
// ошибкой, и задача доставки уйдёт в ретрай обычным путём.
func (f *Feed) fetchFunc(loc tg.InputFileLocationClass) source.FetchFunc {
	return func(ctx context.Context) ([]byte, error) {
		api := f.api.Load()
		if api == nil {
			return nil, errors.New("telegram client is not connected yet")
		}

		var buf bytes.Buffer
		err := f.throttler.Do(ctx, func() error {
			buf.Reset()
			_, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, &buf)
			return err
		})
		if err != nil {
			return nil, errors.Wrap(err, "download media")
		}
		return buf.Bytes(), nil
	}
}

// largestPhotoSize выбирает самый крупный вариант фото и возвращает его
// тип-литеру, габариты и размер в байтах.
func largestPhotoSize(sizes []tg.PhotoSizeClass) (thumb string, width, height, size int) {
	best := -1
	for _, raw := range sizes {
		switch s := raw.(type) {
		case *tg.PhotoSize:
			if area := s.W * s.H; area > best {
				best = area
				thumb, width, height, size = s.Type, s.W, s.H, s.Size
			}
		case *tg.PhotoSizeProgressive:
			if area := s.W * s.H; area > best {
				best = area
				thumb, width, height = s.Type, s.W, s.H
				size = 0
				if len(s.Sizes) > 0 {
					size = s.Sizes[len(s.Sizes)-1]
				}
			}
		}
	}
	return thumb, width, height, size
}
