package standby

import (
	"context"

	"github.com/local/forumcast/internal/errs"
	"github.com/local/forumcast/internal/gateway"
)

// AccessResult is checkChannelAccess's verdict: either the channel is
// reachable and administered by both sessions, or a user-legible reason why
// not (spec §4.4's error-kind-to-reason mapping).
type AccessResult struct {
	OK     bool
	Reason string
}

// CheckChannelAccess forces a fresh round-trip for chatID through both the
// writer and the reader, requiring admin rights from each, the way spec
// §4.4's checkChannelAccess does (getEntity -> getFullChannel ->
// getPermissions(self), admin required, flood-wait tolerated by the
// gateway's own retry-once policy).
func (p *Pool) CheckChannelAccess(ctx context.Context, chatID int64) AccessResult {
	for _, s := range []*gateway.Session{p.Writer, p.Reader} {
		admin, err := s.ChannelSelfIsAdmin(ctx, chatID)
		if err != nil {
			return AccessResult{OK: false, Reason: errs.ReasonFor(err.Error())}
		}
		if !admin {
			return AccessResult{OK: false, Reason: "not admin"}
		}
	}
	return AccessResult{OK: true}
}
