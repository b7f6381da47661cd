package standby

import (
	"context"

	"github.com/gotd/td/tg"
)

const initializedSettingKey = "standby_event_driven_initialized"

// StartEventDriven registers the pool as the writer's update handler so
// "my chat member" style channel-participant changes admit or evict standby
// channels as they happen (spec §4.4 path 1). On first run it records a
// cursor marker without processing anything already in flight, so historical
// admin changes are never replayed; every later process start resumes
// live from whatever arrives after registration.
func (p *Pool) StartEventDriven(ctx context.Context) error {
	_, seen, err := p.Store.GetSetting(ctx, initializedSettingKey)
	if err != nil {
		return err
	}
	if !seen {
		if err := p.Store.UpsertSetting(ctx, initializedSettingKey, "true"); err != nil {
			return err
		}
	}
	p.Writer.SetUpdateHandler(p)
	return nil
}

// Handle implements telegram.UpdateHandler, dispatching each
// channel-participant change to onParticipantUpdate. Short update forms
// (single-message notifications) never carry a channel-participant change
// and are ignored.
func (p *Pool) Handle(ctx context.Context, u tg.UpdatesClass) error {
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
		cp, ok := uc.(*tg.UpdateChannelParticipant)
		if !ok {
			continue
		}
		if err := p.onParticipantUpdate(ctx, cp); err != nil {
			p.log.Printf("[standby] participant update for channel %d: %v", cp.ChannelID, err)
		}
	}
	return nil
}

func (p *Pool) onParticipantUpdate(ctx context.Context, u *tg.UpdateChannelParticipant) error {
	selfID, err := p.Writer.SelfID(ctx)
	if err != nil {
		return err
	}
	if u.UserID != selfID {
		return nil
	}

	chatID := channelIDToChatID(u.ChannelID)
	bound, err := p.hasActiveBinding(ctx, chatID)
	if err != nil {
		return err
	}

	newStatus, ok := u.GetNewParticipant()
	isAdmin := ok && participantIsAdmin(newStatus)

	if isAdmin {
		if bound {
			return nil
		}
		broadcast, err := p.Writer.IsBroadcastChannel(ctx, chatID)
		if err != nil || !broadcast {
			return err
		}
		_, err = p.Store.UpsertChannel(ctx, chatID, "", true, nil)
		return err
	}

	if bound {
		return nil
	}
	ch, err := p.Store.ChannelByChatID(ctx, chatID)
	if err != nil {
		return nil // not tracked, nothing to remove
	}
	return p.Store.DeleteChannel(ctx, ch.ID)
}

func (p *Pool) hasActiveBinding(ctx context.Context, chatID int64) (bool, error) {
	bound, err := p.Store.ListBoundTopics(ctx)
	if err != nil {
		return false, err
	}
	for _, b := range bound {
		if b.Active && b.ChannelChatID == chatID {
			return true, nil
		}
	}
	return false, nil
}

func participantIsAdmin(p tg.ChannelParticipantClass) bool {
	switch p.(type) {
	case *tg.ChannelParticipantCreator, *tg.ChannelParticipantAdmin:
		return true
	default:
		return false
	}
}

// channelIDToChatID mirrors the gateway's internal "-100"-prefixed chat id
// convention for a channel's bare internal id.
func channelIDToChatID(internalID int64) int64 {
	return -1000000000000 - internalID
}
