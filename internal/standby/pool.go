// Package standby discovers, admits, refreshes, and hands out broadcast
// channels the writer identity administers, ready to be bound to a topic
// that needs recovery.
package standby

import (
	"context"
	"log"

	"github.com/local/forumcast/internal/gateway"
	"github.com/local/forumcast/internal/store"
)

// Pool owns the two sessions and the store rows backing the standby
// admission rule: broadcast channel + writer-admin (spec §4.4).
type Pool struct {
	Writer *gateway.Session
	Reader *gateway.Session
	Store  *store.Store
	log    *log.Logger
}

// New builds a Pool.
func New(writer, reader *gateway.Session, st *store.Store, logger *log.Logger) *Pool {
	if logger == nil {
		logger = log.Default()
	}
	return &Pool{Writer: writer, Reader: reader, Store: st, log: logger}
}

// BatchAdmit resolves each operator-supplied ref via the writer, verifies
// the admission rule, and upserts the channel as standby (spec §4.4 path 2).
// A ref that fails admission is skipped and logged, not a hard error for the
// whole batch.
func (p *Pool) BatchAdmit(ctx context.Context, refs []string) ([]store.Channel, error) {
	var admitted []store.Channel
	for _, ref := range refs {
		nref, err := gateway.NormalizeRef(ref)
		if err != nil {
			p.log.Printf("[standby] skip ref %q: %v", ref, err)
			continue
		}
		peer, err := p.Writer.Resolve(ctx, nref, false)
		if err != nil {
			p.log.Printf("[standby] resolve %q: %v", ref, err)
			continue
		}
		if !peer.IsBroadcastChannel {
			p.log.Printf("[standby] %q is not a broadcast channel, skipping", ref)
			continue
		}
		admin, err := p.Writer.ChannelSelfIsAdmin(ctx, peer.ChatID)
		if err != nil {
			p.log.Printf("[standby] admin check %q: %v", ref, err)
			continue
		}
		if !admin {
			p.log.Printf("[standby] writer is not admin on %q, skipping", ref)
			continue
		}
		ch, err := p.Store.UpsertChannel(ctx, peer.ChatID, peer.Title, true, nil)
		if err != nil {
			return admitted, err
		}
		admitted = append(admitted, ch)
	}
	return admitted, nil
}

// Consume hands out the oldest available standby channel, FIFO (spec §4.4
// "consume").
func (p *Pool) Consume(ctx context.Context) (store.Channel, bool, error) {
	return p.Store.ConsumeStandbyChannel(ctx)
}
