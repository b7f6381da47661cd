package gateway

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/errs"
)

// dialogsAndChats extracts the dialog and chat lists from whichever
// MessagesDialogsClass variant the provider returned, along with whether
// this was the final (non-paginated) page.
func dialogsAndChats(resp tg.MessagesDialogsClass) ([]tg.DialogClass, []tg.ChatClass, bool) {
	switch v := resp.(type) {
	case *tg.MessagesDialogs:
		return v.Dialogs, v.Chats, true
	case *tg.MessagesDialogsSlice:
		return v.Dialogs, v.Chats, false
	default:
		return nil, nil, true
	}
}

// dialogPaginationCursor builds the offset tuple for the next
// messages.getDialogs page from the last dialog of the current page.
func dialogPaginationCursor(last tg.DialogClass, chats []tg.ChatClass) (tg.InputPeerClass, int, int) {
	d, ok := last.(*tg.Dialog)
	if !ok {
		return &tg.InputPeerEmpty{}, 0, 0
	}
	for _, c := range chats {
		if ch, ok := c.(*tg.Channel); ok && peerMatchesChannel(d.Peer, ch.ID) {
			return &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash}, d.TopMessage, 0
		}
	}
	return &tg.InputPeerEmpty{}, d.TopMessage, 0
}

func peerMatchesChannel(peer tg.PeerClass, channelID int64) bool {
	pc, ok := peer.(*tg.PeerChannel)
	return ok && pc.ChannelID == channelID
}

// extractMessages pulls the []*tg.Message slice out of whichever
// MessagesMessagesClass variant messages.getHistory returned.
func extractMessages(resp tg.MessagesMessagesClass) []*tg.Message {
	var raw []tg.MessageClass
	switch v := resp.(type) {
	case *tg.MessagesMessages:
		raw = v.Messages
	case *tg.MessagesMessagesSlice:
		raw = v.Messages
	case *tg.MessagesChannelMessages:
		raw = v.Messages
	}
	out := make([]*tg.Message, 0, len(raw))
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok {
			out = append(out, msg)
		}
	}
	return out
}

// mediaLocation extracts a downloadable file location and a sensible local
// file name from a message's media.
func mediaLocation(media tg.MessageMediaClass) (tg.InputFileLocationClass, string, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, "", errs.New(errs.UpstreamFailure, "mediaLocation", fmt.Errorf("photo unavailable"))
		}
		var biggest tg.PhotoSizeClass
		for _, sz := range photo.Sizes {
			biggest = sz
		}
		psz, ok := biggest.(*tg.PhotoSize)
		if !ok {
			return nil, "", errs.New(errs.UpstreamFailure, "mediaLocation", fmt.Errorf("no photo size available"))
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     psz.Type,
		}, fmt.Sprintf("photo_%d.jpg", photo.ID), nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, "", errs.New(errs.UpstreamFailure, "mediaLocation", fmt.Errorf("document unavailable"))
		}
		name := fmt.Sprintf("doc_%d", doc.ID)
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				name = fn.FileName
			}
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, name, nil
	default:
		return nil, "", errs.New(errs.UpstreamFailure, "mediaLocation", fmt.Errorf("unsupported media type %T", media))
	}
}

// getFullChannelByInternalID forces a fresh channels.getFullChannel
// round-trip for a channel addressed by its internal (non-chat-id-prefixed)
// id, defeating local entity caches (used both by Resolve and by the
// standby pool's access check, spec §4.4).
func (s *Session) getFullChannelByInternalID(ctx context.Context, api *tg.Client, internalID int64) (ResolvedPeer, error) {
	full, err := s.getInputChannel(ctx, api, internalID)
	if err != nil {
		return ResolvedPeer{}, err
	}
	var resp *tg.MessagesChatFull
	err = withFloodWaitRetry(ctx, "getFullChannel", func() error {
		r, err := api.ChannelsGetFullChannel(ctx, full)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return ResolvedPeer{}, err
	}
	title := ""
	broadcast := false
	accessHash := full.AccessHash
	for _, c := range resp.Chats {
		if ch, ok := c.(*tg.Channel); ok && ch.ID == internalID {
			title = ch.Title
			broadcast = ch.Broadcast
			accessHash = ch.AccessHash
			s.rememberAccessHash(ctx, ch.ID, ch.AccessHash)
		}
	}
	return ResolvedPeer{
		Input:              &tg.InputPeerChannel{ChannelID: full.ChannelID, AccessHash: accessHash},
		ChatID:             channelChatID(internalID),
		Title:              title,
		IsBroadcastChannel: broadcast,
	}, nil
}

// getInputChannel resolves the access hash for a channel this session has
// previously seen, needed to address it in any further raw API call: first
// this session's own in-memory cache, then the persisted store (if wired),
// falling back to a zero hash only for a channel genuinely never observed.
func (s *Session) getInputChannel(ctx context.Context, api *tg.Client, internalID int64) (*tg.InputChannel, error) {
	if hash, ok := s.cachedAccessHash(internalID); ok {
		return &tg.InputChannel{ChannelID: internalID, AccessHash: hash}, nil
	}
	if s.hashes != nil {
		if hash, found, err := s.hashes.ChannelAccessHash(ctx, channelChatID(internalID)); err == nil && found {
			s.rememberAccessHash(ctx, internalID, hash)
			return &tg.InputChannel{ChannelID: internalID, AccessHash: hash}, nil
		}
	}
	// Never observed by this session or persisted before: this will fail
	// fast with CHANNEL_INVALID unless gotd/td's own connection-scoped peer
	// cache still happens to know it.
	return &tg.InputChannel{ChannelID: internalID}, nil
}
