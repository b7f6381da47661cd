package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"

	"github.com/local/forumcast/internal/errs"
)

// ResolvedPeer carries whatever downstream code needs to address a chat:
// the raw tg.InputPeerClass plus the chat id the store tracks it under.
type ResolvedPeer struct {
	Input  tg.InputPeerClass
	ChatID int64
	Title  string
	IsBroadcastChannel bool
}

// Resolve converts a normalized reference into an addressable peer using
// the given session's entity cache, warming it with a fresh lookup when the
// ref is a username. A username resolves to the first channel among
// contacts.ResolveUsername's chats; only when none is a channel does
// preferUser allow falling back to a user from its users list.
func (s *Session) Resolve(ctx context.Context, ref NormalizedRef, preferUser bool) (ResolvedPeer, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return ResolvedPeer{}, err
	}

	if ref.Kind == RefNumeric {
		return s.resolveByID(ctx, api, ref.ID)
	}
	return s.resolveByUsername(ctx, api, ref.Username, preferUser)
}

func (s *Session) resolveByUsername(ctx context.Context, api *tg.Client, username string, preferUser bool) (ResolvedPeer, error) {
	uname := username
	if len(uname) > 0 && uname[0] == '@' {
		uname = uname[1:]
	}
	var resolved tg.ContactsResolvedPeer
	err := withFloodWaitRetry(ctx, "Resolve", func() error {
		r, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: uname})
		if err != nil {
			return err
		}
		resolved = *r
		return nil
	})
	if err != nil {
		return ResolvedPeer{}, err
	}

	for _, chat := range resolved.Chats {
		if ch, ok := chat.(*tg.Channel); ok {
			s.rememberAccessHash(ctx, ch.ID, ch.AccessHash)
			return ResolvedPeer{
				Input:              &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
				ChatID:             channelChatID(ch.ID),
				Title:              ch.Title,
				IsBroadcastChannel: ch.Broadcast,
			}, nil
		}
	}
	if !preferUser {
		return ResolvedPeer{}, errs.New(errs.Precondition, "Resolve", fmt.Errorf("no channel found for %s", username))
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok {
			return ResolvedPeer{
				Input:  &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash},
				ChatID: user.ID,
				Title:  user.Username,
			}, nil
		}
	}
	return ResolvedPeer{}, errs.New(errs.Precondition, "Resolve", fmt.Errorf("no peer found for %s", username))
}

func (s *Session) resolveByID(ctx context.Context, api *tg.Client, chatID int64) (ResolvedPeer, error) {
	internal, ok := channelInternalID(chatID)
	if !ok {
		return ResolvedPeer{}, errs.New(errs.InvalidInput, "Resolve", fmt.Errorf("chat id %d is not a channel id", chatID))
	}
	full, err := s.getFullChannelByInternalID(ctx, api, internal)
	if err != nil {
		return ResolvedPeer{}, err
	}
	return full, nil
}

// IterDialogs lists every dialog the session can see, paging through the
// provider's dialog list until exhausted.
func (s *Session) IterDialogs(ctx context.Context) ([]ResolvedPeer, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}

	var out []ResolvedPeer
	offsetDate, offsetID := 0, 0
	var offsetPeer tg.InputPeerClass = &tg.InputPeerEmpty{}
	for {
		var resp tg.MessagesDialogsClass
		err := withFloodWaitRetry(ctx, "IterDialogs", func() error {
			r, err := api.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
				OffsetDate: offsetDate,
				OffsetID:   offsetID,
				OffsetPeer: offsetPeer,
				Limit:      100,
			})
			resp = r
			return err
		})
		if err != nil {
			return nil, err
		}

		dialogs, chats, done := dialogsAndChats(resp)
		for _, c := range chats {
			if ch, ok := c.(*tg.Channel); ok {
				s.rememberAccessHash(ctx, ch.ID, ch.AccessHash)
				out = append(out, ResolvedPeer{
					Input:              &tg.InputPeerChannel{ChannelID: ch.ID, AccessHash: ch.AccessHash},
					ChatID:             channelChatID(ch.ID),
					Title:              ch.Title,
					IsBroadcastChannel: ch.Broadcast,
				})
			}
		}
		if done || len(dialogs) == 0 {
			return out, nil
		}
		last := dialogs[len(dialogs)-1]
		offsetPeer, offsetID, offsetDate = dialogPaginationCursor(last, chats)
	}
}

// IterMessages iterates messages on peer, optionally in reverse from minID,
// up to limit messages per page (exposed to CloneEngine's history scan and
// media-group widening, spec §4.2/§4.3).
func (s *Session) IterMessages(ctx context.Context, peer tg.InputPeerClass, reverse bool, minID, limit int) ([]*tg.Message, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	req := &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	}
	if reverse {
		req.AddOffset = -limit
		req.OffsetID = minID
	} else {
		req.OffsetID = 0
	}

	var resp tg.MessagesMessagesClass
	err = withFloodWaitRetry(ctx, "IterMessages", func() error {
		r, err := api.MessagesGetHistory(ctx, req)
		resp = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return extractMessages(resp), nil
}

// ForwardMessages forwards ids from "from" to "to" on the writer session,
// dropping forward headers when dropAuthor is set (clone-without-reference,
// spec §4.3).
func (s *Session) ForwardMessages(ctx context.Context, from, to tg.InputPeerClass, ids []int, dropAuthor bool) error {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}
	randomIDs := make([]int64, len(ids))
	for i := range randomIDs {
		randomIDs[i] = randomID()
	}
	return withFloodWaitRetry(ctx, "ForwardMessages", func() error {
		_, err := api.MessagesForwardMessages(ctx, &tg.MessagesForwardMessagesRequest{
			FromPeer:   from,
			ToPeer:     to,
			ID:         ids,
			RandomID:   randomIDs,
			DropAuthor: dropAuthor,
		})
		return err
	})
}

// SendMessage posts text to peer on the writer session.
func (s *Session) SendMessage(ctx context.Context, peer tg.InputPeerClass, text string, entities []tg.MessageEntityClass) error {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}
	return withFloodWaitRetry(ctx, "SendMessage", func() error {
		_, err := api.MessagesSendMessage(ctx, &tg.MessagesSendMessageRequest{
			Peer:     peer,
			Message:  text,
			RandomID: randomID(),
			Entities: entities,
		})
		return err
	})
}

// SendFile uploads the file at localPath and posts it as a document to peer,
// carrying over its attributes, mime type, and caption (copy fallback in
// cloneNoRef, spec §4.3).
func (s *Session) SendFile(ctx context.Context, peer tg.InputPeerClass, localPath, mimeType, caption string, attrs []tg.DocumentAttributeClass) error {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}
	if _, err := os.Stat(localPath); err != nil {
		return errs.New(errs.UpstreamFailure, "SendFile", err)
	}

	inputFile, err := uploader.NewUploader(api).FromPath(ctx, localPath)
	if err != nil {
		return classifyUpstreamErr("SendFile", err)
	}

	return withFloodWaitRetry(ctx, "SendFile", func() error {
		_, err := api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			RandomID: randomID(),
			Message:  caption,
			Media: &tg.InputMediaUploadedDocument{
				File:       inputFile,
				MimeType:   mimeType,
				Attributes: attrs,
			},
		})
		return err
	})
}

// SendMediaReference re-posts media the session already has a reference to
// (no download/upload round-trip), the fast path of the copy fallback in
// cloneNoRef (spec §4.3 step 2, "using the media reference directly").
func (s *Session) SendMediaReference(ctx context.Context, peer tg.InputPeerClass, media tg.MessageMediaClass, caption string, entities []tg.MessageEntityClass) error {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}
	inputMedia, err := inputMediaFromReference(media)
	if err != nil {
		return err
	}
	return withFloodWaitRetry(ctx, "SendMediaReference", func() error {
		_, err := api.MessagesSendMedia(ctx, &tg.MessagesSendMediaRequest{
			Peer:     peer,
			RandomID: randomID(),
			Message:  caption,
			Media:    inputMedia,
			Entities: entities,
		})
		return err
	})
}

func inputMediaFromReference(media tg.MessageMediaClass) (tg.InputMediaClass, error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return nil, errs.New(errs.UpstreamFailure, "SendMediaReference", fmt.Errorf("photo unavailable"))
		}
		return &tg.InputMediaPhoto{
			ID: &tg.InputPhoto{ID: photo.ID, AccessHash: photo.AccessHash, FileReference: photo.FileReference},
		}, nil
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return nil, errs.New(errs.UpstreamFailure, "SendMediaReference", fmt.Errorf("document unavailable"))
		}
		return &tg.InputMediaDocument{
			ID: &tg.InputDocument{ID: doc.ID, AccessHash: doc.AccessHash, FileReference: doc.FileReference},
		}, nil
	default:
		return nil, errs.New(errs.UpstreamFailure, "SendMediaReference", fmt.Errorf("unsupported media type %T", media))
	}
}

// DownloadMedia pulls m's media into a file under dir, returning the local
// path, which the caller (CloneEngine) is responsible for removing.
func (s *Session) DownloadMedia(ctx context.Context, m *tg.Message, dir string) (string, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return "", err
	}
	if m.Media == nil {
		return "", errs.New(errs.InvalidInput, "DownloadMedia", fmt.Errorf("message %d has no media", m.ID))
	}
	loc, name, err := mediaLocation(m.Media)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errs.New(errs.UpstreamFailure, "DownloadMedia", err)
	}
	path := filepath.Join(dir, name)
	d := downloader.NewDownloader()
	_, err = d.Download(api, loc).ToPath(ctx, path)
	if err != nil {
		return "", classifyUpstreamErr("DownloadMedia", err)
	}
	return path, nil
}

// EditChannelTitle renames channel to title verbatim; callers own any
// truncation or fallback-title policy (spec §4.7 applies its own 128-char
// limit before calling this).
func (s *Session) EditChannelTitle(ctx context.Context, channel *tg.InputChannel, title string) error {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return err
	}
	return withFloodWaitRetry(ctx, "EditChannelTitle", func() error {
		_, err := api.ChannelsEditTitle(ctx, &tg.ChannelsEditTitleRequest{
			Channel: channel,
			Title:   title,
		})
		return err
	})
}

// InputChannelFor resolves chatID into the *tg.InputChannel raw API calls
// need, for callers (recovery's channel-rename step) that only carry a
// chat id and don't already hold a ResolvedPeer.
func (s *Session) InputChannelFor(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	internalID, ok := channelInternalID(chatID)
	if !ok {
		return nil, errs.New(errs.InvalidInput, "InputChannelFor", fmt.Errorf("chat id %d is not a channel id", chatID))
	}
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return nil, err
	}
	return s.getInputChannel(ctx, api, internalID)
}

func channelChatID(internalID int64) int64 {
	return -1000000000000 - internalID
}

func channelInternalID(chatID int64) (int64, bool) {
	if chatID >= 0 {
		return 0, false
	}
	internal := -1000000000000 - chatID
	if internal <= 0 {
		return 0, false
	}
	return internal, true
}

var randomIDCounter int64

// randomID returns a process-unique id for outgoing message envelopes.
// Upstream only requires uniqueness per sending session.
func randomID() int64 {
	return atomic.AddInt64(&randomIDCounter, 1)
}
