package gateway

import (
	"context"
)

// Notify sends text to the configured operator chat on the writer session,
// best-effort: failures are logged but never propagate (spec §4.2
// "Notification contract").
func (g *Gateway) Notify(ctx context.Context, text string) {
	if g.notifyChatID == 0 {
		return
	}
	peer, err := g.Writer.Resolve(ctx, NormalizedRef{Kind: RefNumeric, ID: g.notifyChatID}, true)
	if err != nil {
		g.log.Printf("[gateway] notify: failed to resolve operator chat: %v", err)
		return
	}
	if err := g.Writer.SendMessage(ctx, peer.Input, text, nil); err != nil {
		g.log.Printf("[gateway] notify: failed to send: %v", err)
	}
}
