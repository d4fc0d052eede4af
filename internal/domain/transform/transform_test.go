package transform

import (
	"reflect"
	"testing"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
)

func msgWith(text string, entities ...source.Entity) *source.Message {
	return &source.Message{ChatID: -1001, ID: 10, Text: text, Entities: entities}
}

func TestApplyDropReasons(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		msg    *source.Message
		cfg    pairs.FilterConfig
		gb     GlobalBlocks
		reason string
	}{
		{
			name:   "pair blocked word case insensitive",
			msg:    msgWith("Get CRYPTO now"),
			cfg:    pairs.FilterConfig{BlockedWords: []string{"crypto"}},
			reason: "pair blocked word",
		},
		{
			name:   "global blocked word wins over pair config",
			msg:    msgWith("spam offer"),
			cfg:    pairs.FilterConfig{BlockedWords: []string{"offer"}},
			gb:     GlobalBlocks{Words: []string{"spam"}},
			reason: "global blocked word",
		},
		{
			name:   "global pattern",
			msg:    msgWith("PROMO CODE inside"),
			gb:     GlobalBlocks{Patterns: []string{`promo\s+code`}},
			reason: "global blocked pattern",
		},
		{
			name:   "custom regex",
			msg:    msgWith("win $100 today"),
			cfg:    pairs.FilterConfig{CustomRegexFilters: []string{`win \$\d+`}},
			reason: "pair blocked pattern",
		},
		{
			name:   "forwarded blocked",
			msg:    &source.Message{Text: "fwd", Forwarded: true},
			cfg:    pairs.FilterConfig{BlockForwards: true},
			reason: "forwarded messages blocked",
		},
		{
			name:   "links blocked",
			msg:    msgWith("join t.me/somewhere now"),
			cfg:    pairs.FilterConfig{BlockLinks: true},
			reason: "links blocked",
		},
		{
			name:   "too short",
			msg:    msgWith("hi"),
			cfg:    pairs.FilterConfig{MinMessageLength: 3},
			reason: "message shorter than pair minimum",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := NewTransformer()
			_, err := tr.Apply(tt.msg, &tt.cfg, tt.gb)
			d, ok := AsDrop(err)
			if !ok {
				t.Fatalf("Apply() err = %v, want *Drop", err)
			}
			if d.Reason != tt.reason {
				t.Fatalf("Drop.Reason = %q, want %q", d.Reason, tt.reason)
			}
		})
	}
}

func TestApplyPassesCleanMessage(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	msg := msgWith("plain text", source.Entity{Type: source.EntityBold, Offset: 0, Length: 5})
	res, err := tr.Apply(msg, &pairs.FilterConfig{}, GlobalBlocks{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Text != "plain text" {
		t.Fatalf("Apply() text = %q, want unchanged", res.Text)
	}
	want := []source.Entity{{Type: source.EntityBold, Offset: 0, Length: 5}}
	if !reflect.DeepEqual(res.Entities, want) {
		t.Fatalf("Apply() entities = %#v, want %#v", res.Entities, want)
	}
}

func TestApplyHeaderFooterStripping(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	cfg := pairs.FilterConfig{RemoveHeaders: true, RemoveFooters: true}
	msg := msgWith("CHANNEL: daily digest\nactual content\nfollow @channel for more")

	res, err := tr.Apply(msg, &cfg, GlobalBlocks{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Text != "actual content" {
		t.Fatalf("Apply() text = %q, want %q", res.Text, "actual content")
	}
	if !res.HeaderRemoved || !res.FooterRemoved {
		t.Fatalf("Apply() header/footer flags = %t/%t, want true/true", res.HeaderRemoved, res.FooterRemoved)
	}
}

func TestApplyCustomHeaderPatterns(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	cfg := pairs.FilterConfig{
		RemoveHeaders:  true,
		HeaderPatterns: []string{`^AD\b.*\n`},
	}
	msg := msgWith("AD buy this\nreal text")

	res, err := tr.Apply(msg, &cfg, GlobalBlocks{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Text != "real text" {
		t.Fatalf("Apply() text = %q, want %q", res.Text, "real text")
	}
}

func TestApplyMentionRemoval(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		text        string
		placeholder string
		want        string
		removed     int
	}{
		{
			name:        "placeholder substitution",
			text:        "ping @alice and @bob",
			placeholder: "[User]",
			want:        "ping [User] and [User]",
			removed:     2,
		},
		{
			name:    "empty placeholder cuts mention",
			text:    "by @someone",
			want:    "by",
			removed: 1,
		},
		{
			name:        "user link",
			text:        "see tg://user?id=42 here",
			placeholder: "[User]",
			want:        "see [User] here",
			removed:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tr := NewTransformer()
			cfg := pairs.FilterConfig{RemoveMentions: true, MentionPlaceholder: tt.placeholder}
			res, err := tr.Apply(msgWith(tt.text), &cfg, GlobalBlocks{})
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if res.Text != tt.want {
				t.Fatalf("Apply() text = %q, want %q", res.Text, tt.want)
			}
			if res.MentionsRemoved != tt.removed {
				t.Fatalf("MentionsRemoved = %d, want %d", res.MentionsRemoved, tt.removed)
			}
		})
	}
}

func TestApplyTruncation(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	cfg := pairs.FilterConfig{MaxMessageLength: 5}
	msg := msgWith("abcdefgh", source.Entity{Type: source.EntityBold, Offset: 0, Length: 8})

	res, err := tr.Apply(msg, &cfg, GlobalBlocks{})
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if res.Text != "abcde..." {
		t.Fatalf("Apply() text = %q, want %q", res.Text, "abcde...")
	}
	if !res.Truncated {
		t.Fatal("Apply() Truncated = false, want true")
	}
	want := []source.Entity{{Type: source.EntityBold, Offset: 0, Length: 5}}
	if !reflect.DeepEqual(res.Entities, want) {
		t.Fatalf("Apply() entities = %#v, want %#v", res.Entities, want)
	}
}

func TestParseGlobalBlocks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want GlobalBlocks
	}{
		{name: "empty", raw: "", want: GlobalBlocks{}},
		{name: "malformed json ignored", raw: "{oops", want: GlobalBlocks{}},
		{
			name: "words and patterns",
			raw:  `{"words":["spam"],"patterns":["buy\\s+now"]}`,
			want: GlobalBlocks{Words: []string{"spam"}, Patterns: []string{`buy\s+now`}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ParseGlobalBlocks(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ParseGlobalBlocks(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestInvalidPatternSkipped(t *testing.T) {
	t.Parallel()

	tr := NewTransformer()
	cfg := pairs.FilterConfig{CustomRegexFilters: []string{"(unbalanced"}}
	res, err := tr.Apply(msgWith("anything"), &cfg, GlobalBlocks{})
	if err != nil {
		t.Fatalf("Apply() error = %v, invalid pattern must be skipped", err)
	}
	if res.Text != "anything" {
		t.Fatalf("Apply() text = %q, want unchanged", res.Text)
	}
}
