package gateway

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/errs"
)

// SelfID returns the session's own user id, used by the standby pool to
// recognise "my chat member" updates about itself.
func (s *Session) SelfID(ctx context.Context) (int64, error) {
	if _, err := s.ensureConnected(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	self, err := client.Self(ctx)
	if err != nil {
		return 0, classifyUpstreamErr("SelfID", err)
	}
	return self.ID, nil
}

// ChannelSelfIsAdmin reports whether this session holds administrator (or
// creator) rights on the channel addressed by chatID, via a fresh
// channels.getParticipant round-trip (spec §4.4 "checkChannelAccess":
// getEntity, getFullChannel, getPermissions(self)).
func (s *Session) ChannelSelfIsAdmin(ctx context.Context, chatID int64) (bool, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	internal, ok := channelInternalID(chatID)
	if !ok {
		return false, errs.New(errs.InvalidInput, "ChannelSelfIsAdmin", fmt.Errorf("chat id %d is not a channel id", chatID))
	}
	// Forces cache invalidation the way the access check requires: a stale
	// local entity would otherwise certify a channel the writer has since
	// lost access to.
	if _, err := s.getFullChannelByInternalID(ctx, api, internal); err != nil {
		return false, err
	}
	channel, err := s.getInputChannel(ctx, api, internal)
	if err != nil {
		return false, err
	}

	var resp *tg.ChannelsChannelParticipant
	err = withFloodWaitRetry(ctx, "ChannelSelfIsAdmin", func() error {
		r, err := api.ChannelsGetParticipant(ctx, &tg.ChannelsGetParticipantRequest{
			Channel:     channel,
			Participant: &tg.InputPeerSelf{},
		})
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return false, err
	}

	switch resp.Participant.(type) {
	case *tg.ChannelParticipantCreator:
		return true, nil
	case *tg.ChannelParticipantAdmin:
		return true, nil
	default:
		return false, nil
	}
}

// IsBroadcastChannel reports whether chatID addresses a broadcast channel
// (as opposed to a supergroup), the other half of the standby admission
// rule (spec §4.4).
func (s *Session) IsBroadcastChannel(ctx context.Context, chatID int64) (bool, error) {
	api, err := s.ensureConnected(ctx)
	if err != nil {
		return false, err
	}
	internal, ok := channelInternalID(chatID)
	if !ok {
		return false, nil
	}
	peer, err := s.getFullChannelByInternalID(ctx, api, internal)
	if err != nil {
		return false, err
	}
	return peer.IsBroadcastChannel, nil
}
