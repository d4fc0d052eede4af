package media

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sunil55999/Luffy/internal/domain/pairs"
	"github.com/sunil55999/Luffy/internal/domain/source"
	"github.com/sunil55999/Luffy/internal/domain/transform"
)

type stubChecker struct {
	blocked bool
	err     error
	calls   int
}

func (s *stubChecker) Blocked(context.Context, int64, []byte) (bool, error) {
	s.calls++
	return s.blocked, s.err
}

func mediaMsg(kind source.MediaKind, fetch source.FetchFunc) *source.Message {
	return &source.Message{
		ChatID: -1001,
		ID:     5,
		Media:  &source.Media{Kind: kind, Fetch: fetch},
	}
}

func allowAllPair() *pairs.Pair {
	cfg := pairs.DefaultFilterConfig()
	cfg.AllowedMediaTypes = []string{"photo", "video", "document", "audio", "voice", "animation"}
	return &pairs.Pair{ID: 3, Filters: cfg}
}

func TestBuildDisallowedKindDrops(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil)
	pair := allowAllPair()
	pair.Filters.AllowedMediaTypes = []string{"photo"}

	_, err := p.Build(context.Background(), mediaMsg(source.MediaVideo, nil), pair, "", nil)
	d, ok := transform.AsDrop(err)
	if !ok {
		t.Fatalf("Build() err = %v, want *transform.Drop", err)
	}
	if !strings.Contains(d.Reason, "video") {
		t.Fatalf("Drop.Reason = %q, want media kind named", d.Reason)
	}
}

func TestBuildWebpageBypassesAllowList(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil)
	pair := allowAllPair()
	pair.Filters.AllowedMediaTypes = []string{} // всё запрещено, но webpage не медиа

	plan, err := p.Build(context.Background(), mediaMsg(source.MediaWebPage, nil), pair, "link text", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Kind != source.MediaWebPage || plan.Data != nil {
		t.Fatalf("plan = %+v, want webpage without data", plan)
	}
}

func TestBuildTruncatesCaption(t *testing.T) {
	t.Parallel()

	p := NewPipeline(nil)
	long := strings.Repeat("a", CaptionLimit+100)

	plan, err := p.Build(context.Background(), mediaMsg(source.MediaPhoto, nil), allowAllPair(), long, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	// Truncate режет до лимита и добавляет многоточие.
	if got := len([]rune(plan.Caption)); got != CaptionLimit+3 {
		t.Fatalf("caption length = %d, want %d", got, CaptionLimit+3)
	}
	if !strings.HasSuffix(plan.Caption, "...") {
		t.Fatal("truncated caption must end with ellipsis")
	}
}

func TestBuildDownloadRetries(t *testing.T) {
	t.Parallel()

	attempts := 0
	fetch := func(context.Context) ([]byte, error) {
		attempts++
		if attempts < 2 {
			return nil, errors.New("timeout")
		}
		return []byte("payload"), nil
	}

	p := NewPipeline(nil)
	plan, err := p.Build(context.Background(), mediaMsg(source.MediaDocument, fetch), allowAllPair(), "", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if string(plan.Data) != "payload" {
		t.Fatalf("plan.Data = %q, want payload", plan.Data)
	}
	if attempts != 2 {
		t.Fatalf("fetch attempts = %d, want 2", attempts)
	}
}

func TestBuildDownloadExhaustedReturnsLastError(t *testing.T) {
	t.Parallel()

	fetch := func(context.Context) ([]byte, error) {
		return nil, errors.New("connection reset")
	}

	p := NewPipeline(nil)
	_, err := p.Build(context.Background(), mediaMsg(source.MediaDocument, fetch), allowAllPair(), "", nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("Build() error = %v, want wrapped download failure", err)
	}
}

func TestBuildBlockedImage(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{blocked: true}
	fetch := func(context.Context) ([]byte, error) { return []byte{0x1}, nil }

	p := NewPipeline(checker)
	_, err := p.Build(context.Background(), mediaMsg(source.MediaPhoto, fetch), allowAllPair(), "", nil)
	if !errors.Is(err, ErrImageBlocked) {
		t.Fatalf("Build() error = %v, want ErrImageBlocked", err)
	}
}

func TestBuildCheckerSkippedForNonImages(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{blocked: true}
	fetch := func(context.Context) ([]byte, error) { return []byte{0x1}, nil }

	p := NewPipeline(checker)
	plan, err := p.Build(context.Background(), mediaMsg(source.MediaDocument, fetch), allowAllPair(), "", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if checker.calls != 0 {
		t.Fatalf("checker called %d times for a document, want 0", checker.calls)
	}
	if plan.Data == nil {
		t.Fatal("plan.Data missing")
	}
}

func TestBuildCheckerErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	checker := &stubChecker{err: errors.New("hash backend down")}
	fetch := func(context.Context) ([]byte, error) { return []byte{0x1}, nil }

	p := NewPipeline(checker)
	plan, err := p.Build(context.Background(), mediaMsg(source.MediaPhoto, fetch), allowAllPair(), "", nil)
	if err != nil {
		t.Fatalf("Build() error = %v, checker failure must not block delivery", err)
	}
	if plan == nil || plan.Data == nil {
		t.Fatal("plan missing despite non-fatal checker error")
	}
}

func TestBuildNonDownloadableSkipsFetch(t *testing.T) {
	t.Parallel()

	p := NewPipeline(&stubChecker{blocked: true})
	plan, err := p.Build(context.Background(), mediaMsg(source.MediaPhoto, nil), allowAllPair(), "cap", nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if plan.Data != nil {
		t.Fatalf("plan.Data = %v, want nil without fetch func", plan.Data)
	}
}
