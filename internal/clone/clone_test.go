package clone

import (
	"context"
	"errors"
	"testing"

	"github.com/gotd/td/tg"
)

var errTransient = errors.New("transient upstream error")

func TestCloneableRequiresMediaOrText(t *testing.T) {
	cases := []struct {
		name string
		m    *tg.Message
		want bool
	}{
		{"nil message", nil, false},
		{"empty text no media", &tg.Message{}, false},
		{"has text", &tg.Message{Message: "hello"}, true},
		{"has media", &tg.Message{Media: &tg.MessageMediaDocument{}}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Cloneable(c.m); got != c.want {
				t.Fatalf("Cloneable(%+v) = %v, want %v", c.m, got, c.want)
			}
		})
	}
}

func TestInTopicRootMessageWithNoReply(t *testing.T) {
	m := &tg.Message{ID: 42}
	if !InTopic(m, 42) {
		t.Fatal("expected root message (no reply_to) to be in its own topic")
	}
	if InTopic(m, 99) {
		t.Fatal("root message should not match a different topic id")
	}
}

func TestInTopicViaReplyToTopID(t *testing.T) {
	m := &tg.Message{
		ID:    100,
		Flags: 1 << 3,
		ReplyTo: &tg.MessageReplyHeader{
			Flags:        1 << 1,
			ReplyToTopID: 42,
		},
	}
	if !InTopic(m, 42) {
		t.Fatal("expected message to match topic via reply_to_top_id")
	}
}

func TestInTopicViaForumTopicRootReply(t *testing.T) {
	m := &tg.Message{
		ID:    101,
		Flags: 1 << 3,
		ReplyTo: &tg.MessageReplyHeader{
			Flags:       (1 << 4) | (1 << 3),
			ForumTopic:  true,
			ReplyToMsgID: 42,
		},
	}
	if !InTopic(m, 42) {
		t.Fatal("expected message to match topic via forum-topic reply_to_msg_id")
	}
}

func TestFilterGroupCollectsOnlyMatchingGroupedID(t *testing.T) {
	window := []*tg.Message{
		{ID: 10, GroupedID: 555, Flags: 1 << 17},
		{ID: 11, Message: "unrelated"},
		{ID: 12, GroupedID: 555, Flags: 1 << 17},
		{ID: 9, GroupedID: 777, Flags: 1 << 17},
	}
	members := filterGroup(window, 555)
	if len(members) != 2 {
		t.Fatalf("expected 2 group members, got %d", len(members))
	}
	if members[0].ID != 10 || members[1].ID != 12 {
		t.Fatalf("expected sorted members [10,12], got %+v", members)
	}
}

func TestSortedByIDOrdersAscending(t *testing.T) {
	msgs := []*tg.Message{{ID: 3}, {ID: 1}, {ID: 2}}
	sorted := sortedByID(msgs)
	for i, want := range []int{1, 2, 3} {
		if sorted[i].ID != want {
			t.Fatalf("position %d: got id %d, want %d", i, sorted[i].ID, want)
		}
	}
}

func TestWithRetriesSucceedsOnLaterAttempt(t *testing.T) {
	attempts := 0
	ok, err := withRetries(2, func() error {
		attempts++
		if attempts < 3 {
			return errTransient
		}
		return nil
	})
	if !ok || err != nil {
		t.Fatalf("expected eventual success within the retry budget, got ok=%v err=%v", ok, err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

// pagedReader replays a fixed sequence of pages regardless of the minID
// argument, so a test can script trailing messages past the last cloned id.
type pagedReader struct {
	pages [][]*tg.Message
	call  int
}

func (p *pagedReader) IterMessages(ctx context.Context, peer tg.InputPeerClass, reverse bool, minID, limit int) ([]*tg.Message, error) {
	if p.call >= len(p.pages) {
		return nil, nil
	}
	page := p.pages[p.call]
	p.call++
	return page, nil
}

func (p *pagedReader) DownloadMedia(ctx context.Context, m *tg.Message, dir string) (string, error) {
	return "", nil
}

// forwardingWriter makes every clone unit succeed via the forward-in-place
// path, so cloneUnit never falls through to the download/reupload fallback.
type forwardingWriter struct{}

func (forwardingWriter) ForwardMessages(ctx context.Context, from, to tg.InputPeerClass, ids []int, dropAuthor bool) error {
	return nil
}

func (forwardingWriter) SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, entities []tg.MessageEntityClass) error {
	return nil
}

func (forwardingWriter) SendFile(ctx context.Context, peer tg.InputPeerClass, localPath, mimeType, caption string, attrs []tg.DocumentAttributeClass) error {
	return nil
}

func (forwardingWriter) SendMediaReference(ctx context.Context, peer tg.InputPeerClass, media tg.MessageMediaClass, caption string, entities []tg.MessageEntityClass) error {
	return nil
}

// TestCloneTopicHistoryCheckpointsPastSkippedTrailingMessages covers spec
// §8's invariant that the returned checkpoint never falls below the highest
// message id the iterator returned, even when the messages above the last
// successfully cloned one belong to a different topic or aren't cloneable.
func TestCloneTopicHistoryCheckpointsPastSkippedTrailingMessages(t *testing.T) {
	topicReply := func(topID int64) *tg.MessageReplyHeader {
		return &tg.MessageReplyHeader{Flags: 1 << 1, ReplyToTopID: int(topID)}
	}
	page := []*tg.Message{
		{ID: 2, Flags: 1 << 3, Message: "hello", ReplyTo: topicReply(1)},
		{ID: 3, Flags: 1 << 3, Message: "world", ReplyTo: topicReply(1)},
		{ID: 4, Flags: 1 << 3, Message: "other topic entirely", ReplyTo: topicReply(99)},
		{ID: 5, Flags: 1 << 3, ReplyTo: topicReply(1)}, // in-topic but not cloneable: no text, no media
	}
	reader := &pagedReader{pages: [][]*tg.Message{page}}
	e := &Engine{Reader: reader, Writer: forwardingWriter{}}

	var checkpoints []int64
	result, err := e.CloneTopicHistory(context.Background(), nil, nil, 1, 0,
		func() bool { return false },
		func(lastClonedMessageID int64) error {
			checkpoints = append(checkpoints, lastClonedMessageID)
			return nil
		},
	)
	if err != nil {
		t.Fatalf("CloneTopicHistory returned error: %v", err)
	}
	if result.Cloned != 2 {
		t.Fatalf("expected 2 cloned messages, got %d", result.Cloned)
	}
	if result.Skipped != 1 {
		t.Fatalf("expected 1 skipped message, got %d", result.Skipped)
	}
	if result.LastClonedMessageID != 5 {
		t.Fatalf("expected checkpoint folded up to the highest scanned id (5), got %d", result.LastClonedMessageID)
	}
	if len(checkpoints) == 0 || checkpoints[len(checkpoints)-1] != 5 {
		t.Fatalf("expected final progressHook call with 5, got %v", checkpoints)
	}
}

func TestWithRetriesExhaustsBudget(t *testing.T) {
	attempts := 0
	ok, err := withRetries(2, func() error {
		attempts++
		return errTransient
	})
	if ok {
		t.Fatal("expected failure once the retry budget is exhausted")
	}
	if err != errTransient {
		t.Fatalf("expected the last error to surface, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
}
