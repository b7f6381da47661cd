// Package monitor periodically sweeps active bindings and flags the ones
// whose target channel has gone dead.
package monitor

import (
	"context"
	"log"

	"golang.org/x/time/rate"

	"github.com/local/forumcast/internal/standby"
	"github.com/local/forumcast/internal/store"
)

// sweepCallsPerSecond caps how fast Sweep fires CheckChannelAccess calls at
// the upstream API, so a source group with hundreds of active bindings
// doesn't trigger a FloodWait mid-sweep (spec §7).
const sweepCallsPerSecond = 5

// accessChecker narrows standby.Pool to the one call Sweep needs, the same
// interface-segregation idiom internal/recovery and internal/supervisor
// use, so Sweep is testable without a live Telegram connection.
type accessChecker interface {
	CheckChannelAccess(ctx context.Context, chatID int64) standby.AccessResult
}

// Monitor is given a standby.Pool purely to reuse its CheckChannelAccess
// (spec §4.5 calls the same access check the standby pool uses).
type Monitor struct {
	Store   *store.Store
	Pool    accessChecker
	limiter *rate.Limiter
	log     *log.Logger
}

// New builds a Monitor.
func New(st *store.Store, pool *standby.Pool, logger *log.Logger) *Monitor {
	if logger == nil {
		logger = log.Default()
	}
	return &Monitor{Store: st, Pool: pool, limiter: rate.NewLimiter(rate.Limit(sweepCallsPerSecond), sweepCallsPerSecond), log: logger}
}

var _ accessChecker = (*standby.Pool)(nil)

// Sweep runs one pass: every active binding whose source and topic are both
// enabled gets an access check; a failure records a BannedChannel and
// enqueues a recovery job. Enqueue is itself idempotent against a job
// already in flight for the same topic (spec §4.1), so a binding failing on
// every sweep never produces more than one outstanding job.
func (m *Monitor) Sweep(ctx context.Context) error {
	bindings, err := m.Store.ListActiveBindingsForScan(ctx)
	if err != nil {
		return err
	}
	for _, b := range bindings {
		if !b.SourceEnabled || !b.TopicEnabled {
			continue
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		result := m.Pool.CheckChannelAccess(ctx, b.ChannelChatID)
		if result.OK {
			continue
		}
		m.log.Printf("[monitor] binding %d (source=%d topic=%d channel=%d) failed access check: %s",
			b.ID, b.SourceGroupID, b.TopicID, b.ChannelChatID, result.Reason)
		if err := m.Store.AddOrRefreshBannedChannel(ctx, b.SourceGroupID, b.TopicID, b.ChannelChatID, result.Reason); err != nil {
			return err
		}
		if _, err := m.Store.Enqueue(ctx, b.SourceGroupID, b.TopicID, b.ChannelChatID, result.Reason); err != nil {
			return err
		}
	}
	return nil
}
