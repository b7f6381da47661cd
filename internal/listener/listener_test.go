package listener

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestTopicIDOfRootMessage(t *testing.T) {
	m := &tg.Message{ID: 7}
	if got := topicIDOf(m); got != 7 {
		t.Fatalf("topicIDOf(root) = %d, want 7", got)
	}
}

func TestTopicIDOfReplyToTopID(t *testing.T) {
	m := &tg.Message{
		ID:    20,
		Flags: 1 << 3,
		ReplyTo: &tg.MessageReplyHeader{
			Flags:        1 << 1,
			ReplyToTopID: 7,
		},
	}
	if got := topicIDOf(m); got != 7 {
		t.Fatalf("topicIDOf(reply_to_top_id) = %d, want 7", got)
	}
}

func TestTopicIDOfForumTopicReply(t *testing.T) {
	m := &tg.Message{
		ID:    21,
		Flags: 1 << 3,
		ReplyTo: &tg.MessageReplyHeader{
			Flags:        (1 << 4) | (1 << 3),
			ForumTopic:   true,
			ReplyToMsgID: 7,
		},
	}
	if got := topicIDOf(m); got != 7 {
		t.Fatalf("topicIDOf(forum topic reply_to_msg_id) = %d, want 7", got)
	}
}
