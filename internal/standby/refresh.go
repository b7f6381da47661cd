package standby

import "context"

// Refresh re-verifies every currently-standby channel's writer-admin
// status: on loss, the channel is dropped; it deliberately never scans the
// broader channel table, so the pool cannot silently regrow from stale rows
// (spec §4.4 "Refresh (periodic)").
func (p *Pool) Refresh(ctx context.Context) error {
	standby, err := p.Store.ListStandbyChannels(ctx)
	if err != nil {
		return err
	}
	for _, ch := range standby {
		admin, err := p.Writer.ChannelSelfIsAdmin(ctx, ch.ChatID)
		if err != nil || !admin {
			if err != nil {
				p.log.Printf("[standby] refresh: %d lost access: %v", ch.ChatID, err)
			} else {
				p.log.Printf("[standby] refresh: %d no longer admin, dropping", ch.ChatID)
			}
			if delErr := p.Store.DeleteChannel(ctx, ch.ID); delErr != nil {
				return delErr
			}
			continue
		}
		if err := p.Store.MarkChannelLastSeen(ctx, ch.ChatID); err != nil {
			return err
		}
	}
	return nil
}
