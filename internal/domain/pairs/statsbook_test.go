package pairs

import (
	"reflect"
	"testing"
	"time"
)

func bookAt(ts time.Time) *StatsBook {
	b := NewStatsBook()
	b.now = func() time.Time { return ts }
	return b
}

func TestStatsBookAccumulatesDeltas(t *testing.T) {
	t.Parallel()

	ts := time.Unix(1_700_000_000, 0)
	b := bookAt(ts)

	b.Copied(1)
	b.Copied(1)
	b.Filtered(1)
	b.Failed(1)
	b.EditSynced(1)
	b.DeleteSynced(1)
	b.ReplyPreserved(1)
	b.ImageBlocked(1)
	b.MentionsRemoved(1, 3)
	b.HeaderRemoved(1)
	b.FooterRemoved(1)

	want := Stats{
		MessagesCopied:   2,
		MessagesFiltered: 1,
		Errors:           1,
		EditsSynced:      1,
		DeletesSynced:    1,
		RepliesPreserved: 1,
		ImagesBlocked:    1,
		MentionsRemoved:  3,
		HeadersRemoved:   1,
		FootersRemoved:   1,
		LastActivity:     ts.Unix(),
	}
	if got := b.Peek(1); !reflect.DeepEqual(got, want) {
		t.Fatalf("Peek(1) = %+v, want %+v", got, want)
	}
}

func TestStatsBookMentionsRemovedIgnoresNonPositive(t *testing.T) {
	t.Parallel()

	b := NewStatsBook()
	b.MentionsRemoved(1, 0)
	b.MentionsRemoved(1, -2)

	if got := b.Peek(1); !got.Zero() {
		t.Fatalf("Peek(1) = %+v, want zero delta", got)
	}
}

func TestStatsBookDrainSkipsZeroAndResets(t *testing.T) {
	t.Parallel()

	b := bookAt(time.Unix(100, 0))
	b.Copied(1)
	b.MentionsRemoved(2, 0) // пара 2 остаётся без дельты

	got := b.Drain()
	if len(got) != 1 {
		t.Fatalf("Drain() returned %d deltas, want 1", len(got))
	}
	if got[1].MessagesCopied != 1 {
		t.Fatalf("Drain()[1] = %+v, want one copied", got[1])
	}
	if again := b.Drain(); len(again) != 0 {
		t.Fatalf("second Drain() = %v, want empty", again)
	}
}

func TestStatsBookRestoreMergesBack(t *testing.T) {
	t.Parallel()

	b := bookAt(time.Unix(200, 0))
	b.Copied(5)
	drained := b.Drain()

	// Сброс в базу не удался: дельта возвращается и складывается с новой.
	b.Copied(5)
	b.Restore(5, drained[5])

	got := b.Peek(5)
	if got.MessagesCopied != 2 {
		t.Fatalf("MessagesCopied = %d, want 2 after restore", got.MessagesCopied)
	}
	if got.LastActivity != 200 {
		t.Fatalf("LastActivity = %d, want 200", got.LastActivity)
	}
}

func TestStatsMergeKeepsLatestActivity(t *testing.T) {
	t.Parallel()

	s := Stats{MessagesCopied: 1, LastActivity: 300}
	s.Merge(Stats{MessagesCopied: 2, Errors: 1, LastActivity: 250})

	if s.MessagesCopied != 3 || s.Errors != 1 {
		t.Fatalf("merged stats = %+v, want copied 3 errors 1", s)
	}
	if s.LastActivity != 300 {
		t.Fatalf("LastActivity = %d, want 300 (older delta must not regress)", s.LastActivity)
	}
}
