package botapi

import (
	"reflect"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/sunil55999/Luffy/internal/domain/media"
	"github.com/sunil55999/Luffy/internal/domain/source"
)

func TestToBotEntitiesDropsCustomEmoji(t *testing.T) {
	t.Parallel()

	got := toBotEntities([]source.Entity{
		{Type: source.EntityBold, Offset: 0, Length: 4},
		{Type: source.EntityCustomEmoji, Offset: 5, Length: 2, CustomEmojiID: "987654321"},
		{Type: source.EntityTextMention, Offset: 8, Length: 5, UserID: 42},
	})

	want := []tgbotapi.MessageEntity{
		{Type: "bold", Offset: 0, Length: 4},
		{Type: "text_mention", Offset: 8, Length: 5, User: &tgbotapi.User{ID: 42}},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("toBotEntities() = %+v, want %+v", got, want)
	}
}

func TestToBotEntitiesEmpty(t *testing.T) {
	t.Parallel()

	if got := toBotEntities(nil); got != nil {
		t.Fatalf("toBotEntities(nil) = %v, want nil", got)
	}
	// Набор из одних кастом-эмодзи схлопывается в nil, а не в пустой срез.
	got := toBotEntities([]source.Entity{
		{Type: source.EntityCustomEmoji, Offset: 0, Length: 2, CustomEmojiID: "1"},
	})
	if got != nil {
		t.Fatalf("toBotEntities(custom emoji only) = %v, want nil", got)
	}
}

func TestEditTextConfigSuppressesPreview(t *testing.T) {
	t.Parallel()

	cfg := editTextConfig(-1002, 7, "hi https://example.com", []source.Entity{
		{Type: source.EntityURL, Offset: 3, Length: 19},
	})

	if !cfg.DisableWebPagePreview {
		t.Fatal("edit must not expand a link preview")
	}
	if cfg.ChatID != -1002 || cfg.MessageID != 7 || cfg.Text != "hi https://example.com" {
		t.Fatalf("config = chat %d msg %d text %q", cfg.ChatID, cfg.MessageID, cfg.Text)
	}
	if len(cfg.Entities) != 1 || cfg.Entities[0].Type != "url" {
		t.Fatalf("entities = %+v, want single url", cfg.Entities)
	}
}

func TestBotLookupOutOfRange(t *testing.T) {
	t.Parallel()

	p := &Pool{bots: []*tgbotapi.BotAPI{
		{Self: tgbotapi.User{UserName: "relay0"}},
	}}

	if got := p.BotName(0); got != "relay0" {
		t.Fatalf("BotName(0) = %q", got)
	}
	if got := p.BotName(1); got != "" {
		t.Fatalf("BotName(1) = %q, want empty for out-of-pool index", got)
	}
	if _, ok := p.API(-1); ok {
		t.Fatal("API(-1) must report false")
	}
	if bot, ok := p.API(0); !ok || bot.Self.UserName != "relay0" {
		t.Fatalf("API(0) = %v, %t", bot, ok)
	}
}

func TestPlanFileNameFallbacks(t *testing.T) {
	t.Parallel()

	if got := planFileName(&media.Plan{FileName: "clip.mp4", Kind: source.MediaVideo}); got != "clip.mp4" {
		t.Fatalf("planFileName(named) = %q", got)
	}
	if got := planFileName(&media.Plan{Kind: source.MediaVoice}); got != "voice.ogg" {
		t.Fatalf("planFileName(voice) = %q", got)
	}
	if got := planFileName(&media.Plan{}); got != "file.bin" {
		t.Fatalf("planFileName(unknown) = %q", got)
	}
}
