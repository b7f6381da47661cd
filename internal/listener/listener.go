// Package listener subscribes to new messages on the reader session and
// routes each one to its bound destination channel.
package listener

import (
	"context"
	"log"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/clone"
	"github.com/local/forumcast/internal/errs"
	"github.com/local/forumcast/internal/gateway"
	"github.com/local/forumcast/internal/store"
)

// Listener owns the reader subscription and the engine/store it routes
// through (spec §4.6).
type Listener struct {
	Reader *gateway.Session
	Writer *gateway.Session
	Clone  *clone.Engine
	Store  *store.Store
	Notify func(ctx context.Context, text string)
	log    *log.Logger
}

// New builds a Listener. notify is typically Gateway.Notify; it is injected
// rather than depending on the gateway package directly so Listener stays
// decoupled from Gateway's lifecycle.
func New(reader, writer *gateway.Session, engine *clone.Engine, st *store.Store, notify func(context.Context, string), logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{Reader: reader, Writer: writer, Clone: engine, Store: st, Notify: notify, log: logger}
}

// Start registers the listener as the reader's update handler. Call once,
// before the reader connects (spec §4.6: "Subscribes once on the reader").
func (l *Listener) Start() {
	l.Reader.SetUpdateHandler(l)
}

// Handle implements telegram.UpdateHandler.
func (l *Listener) Handle(ctx context.Context, u tg.UpdatesClass) error {
	var updates []tg.UpdateClass
	switch v := u.(type) {
	case *tg.Updates:
		updates = v.Updates
	case *tg.UpdatesCombined:
		updates = v.Updates
	default:
		return nil
	}
	for _, uc := range updates {
		msg, ok := extractNewChannelMessage(uc)
		if !ok {
			continue
		}
		l.route(ctx, msg)
	}
	return nil
}

func extractNewChannelMessage(uc tg.UpdateClass) (*tg.Message, bool) {
	switch v := uc.(type) {
	case *tg.UpdateNewChannelMessage:
		m, ok := v.Message.(*tg.Message)
		return m, ok
	case *tg.UpdateNewMessage:
		m, ok := v.Message.(*tg.Message)
		return m, ok
	default:
		return nil, false
	}
}

// route implements the per-event flow from spec §4.6: resolve source group
// and topic, drop if either is unknown or disabled, look up the active
// binding, clone, and on a dead destination channel ban + enqueue + notify.
// Every other failure is logged and swallowed so the subscription survives.
func (l *Listener) route(ctx context.Context, m *tg.Message) {
	peerChannel, ok := m.PeerID.(*tg.PeerChannel)
	if !ok {
		return
	}
	sourceChatID := -1000000000000 - peerChannel.ChannelID

	sg, err := l.Store.SourceGroupByChatID(ctx, sourceChatID)
	if err != nil || !sg.Enabled {
		return
	}

	topicID := topicIDOf(m)
	topic, err := l.Store.TopicByNaturalKey(ctx, sg.ID, topicID)
	if err != nil || !topic.Enabled {
		return
	}

	binding, active, err := l.Store.ActiveBindingByTopic(ctx, sg.ID, topic.TopicID)
	if err != nil {
		l.log.Printf("[listener] binding lookup for topic %d: %v", topic.TopicID, err)
		return
	}
	if !active {
		return
	}

	sourcePeer := &tg.InputPeerChannel{ChannelID: peerChannel.ChannelID}
	destPeer, err := l.Writer.Resolve(ctx, gateway.NormalizedRef{Kind: gateway.RefNumeric, ID: binding.ChannelChatID}, false)
	if err != nil {
		l.handleDestinationFailure(ctx, sg, topic, binding, err)
		return
	}

	ok, cloneErr := l.Clone.CloneOne(ctx, m, sourcePeer, destPeer.Input)
	if ok {
		return
	}
	if cloneErr == nil {
		cloneErr = errs.New(errs.ChannelUnavailable, "route", errUnreachable)
	}
	l.handleDestinationFailure(ctx, sg, topic, binding, cloneErr)
}

func (l *Listener) handleDestinationFailure(ctx context.Context, sg store.SourceGroup, topic store.Topic, binding store.TopicBinding, err error) {
	if !errs.Is(err, errs.ChannelUnavailable) {
		l.log.Printf("[listener] clone failed for topic %d: %v", topic.TopicID, err)
		return
	}
	reason := err.Error()
	if bErr := l.Store.AddOrRefreshBannedChannel(ctx, sg.ID, topic.TopicID, binding.ChannelChatID, reason); bErr != nil {
		l.log.Printf("[listener] record banned channel: %v", bErr)
	}
	if _, jErr := l.Store.Enqueue(ctx, sg.ID, topic.TopicID, binding.ChannelChatID, reason); jErr != nil {
		l.log.Printf("[listener] enqueue recovery: %v", jErr)
	}
	if l.Notify != nil {
		l.Notify(ctx, "destination channel unreachable for topic "+topic.Title+", recovery queued")
	}
}

func topicIDOf(m *tg.Message) int64 {
	replyClass, ok := m.GetReplyTo()
	if !ok || replyClass == nil {
		return int64(m.ID)
	}
	reply, ok := replyClass.(*tg.MessageReplyHeader)
	if !ok {
		return int64(m.ID)
	}
	if topID, ok := reply.GetReplyToTopID(); ok {
		return int64(topID)
	}
	if reply.ForumTopic {
		if msgID, ok := reply.GetReplyToMsgID(); ok {
			return int64(msgID)
		}
	}
	return int64(m.ID)
}

type routeError string

func (e routeError) Error() string { return string(e) }

const errUnreachable = routeError("destination channel unreachable")
