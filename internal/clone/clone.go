// Package clone implements the anonymised, album-atomic, resumable message
// copy engine shared by the live listener and the recovery worker.
package clone

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/gateway"
)

// readerSession narrows gateway.Session to what the engine needs from the
// reader identity, so CloneTopicHistory's checkpoint bookkeeping is
// testable with a fake page source instead of a live connection.
type readerSession interface {
	IterMessages(ctx context.Context, peer tg.InputPeerClass, reverse bool, minID, limit int) ([]*tg.Message, error)
	DownloadMedia(ctx context.Context, m *tg.Message, dir string) (string, error)
}

// writerSession narrows gateway.Session to what the engine needs from the
// writer identity.
type writerSession interface {
	ForwardMessages(ctx context.Context, from, to tg.InputPeerClass, ids []int, dropAuthor bool) error
	SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, entities []tg.MessageEntityClass) error
	SendFile(ctx context.Context, peer tg.InputPeerClass, localPath, mimeType, caption string, attrs []tg.DocumentAttributeClass) error
	SendMediaReference(ctx context.Context, peer tg.InputPeerClass, media tg.MessageMediaClass, caption string, entities []tg.MessageEntityClass) error
}

var (
	_ readerSession = (*gateway.Session)(nil)
	_ writerSession = (*gateway.Session)(nil)
)

// Engine copies messages from a reader-visible source chat to a
// writer-owned destination, never leaving a forward header or original
// author attribution behind.
type Engine struct {
	Reader readerSession
	Writer writerSession
	TmpDir string
	log    *log.Logger
}

// New builds an Engine. tmpDir holds scoped scratch directories for the
// download-then-reupload copy fallback; it is created on demand and each
// clone unit cleans up after itself.
func New(reader, writer *gateway.Session, tmpDir string, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{Reader: reader, Writer: writer, TmpDir: tmpDir, log: logger}
}

// Cloneable reports whether m carries anything worth copying: no service
// action, not deleted, and either media or non-empty text.
func Cloneable(m *tg.Message) bool {
	if m == nil {
		return false
	}
	return m.Media != nil || m.Message != ""
}

// InTopic reports whether m belongs to the forum topic tid: its reply
// points at tid as the thread root, or it IS tid (the topic's own root
// message, which carries no reply_to).
func InTopic(m *tg.Message, tid int64) bool {
	replyClass, ok := m.GetReplyTo()
	if !ok || replyClass == nil {
		return int64(m.ID) == tid
	}
	reply, ok := replyClass.(*tg.MessageReplyHeader)
	if !ok {
		return false
	}
	if topID, ok := reply.GetReplyToTopID(); ok && int64(topID) == tid {
		return true
	}
	if reply.ForumTopic {
		if msgID, ok := reply.GetReplyToMsgID(); ok && int64(msgID) == tid {
			return true
		}
	}
	return false
}

// groupID returns a message's album id and whether it has one.
func groupID(m *tg.Message) (int64, bool) {
	return m.GetGroupedID()
}

func scratchDir(base string) (string, error) {
	return os.MkdirTemp(base, "clone-*")
}

func sleepUnit(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(30 * time.Millisecond):
	}
}
