package clone

import (
	"context"
	"sort"

	"github.com/gotd/td/tg"
)

const (
	groupScanWidth    = 80
	groupScanMaxWidth = 1200
	groupScanStopMiss = 200
)

// collectMediaGroup gathers every message sharing ref's grouped_id from a
// window of ±80 ids around ref, doubling the width up to ±1200 until a
// sibling turns up; inside a window the scan ends once 200 consecutive
// non-members follow the last member found (spec §4.3 "media group collection"). The topic-membership filter
// is deliberately NOT applied here: album siblings may lack reply_to_top_id.
func (e *Engine) collectMediaGroup(ctx context.Context, peer tg.InputPeerClass, ref *tg.Message) ([]*tg.Message, error) {
	gid, ok := groupID(ref)
	if !ok {
		return []*tg.Message{ref}, nil
	}

	width := groupScanWidth
	for {
		window, err := e.scanWindow(ctx, peer, ref.ID, width)
		if err != nil {
			return nil, err
		}
		members := filterGroup(window, gid)
		if len(members) > 1 || width >= groupScanMaxWidth {
			return sortedByID(members), nil
		}
		width *= 2
		if width > groupScanMaxWidth {
			width = groupScanMaxWidth
		}
	}
}

// scanWindow fetches messages in [ref-width, ref+width] by iterating the
// reader's history forward twice: once from ref-width up to ref, once
// from ref upward.
func (e *Engine) scanWindow(ctx context.Context, peer tg.InputPeerClass, refID, width int) ([]*tg.Message, error) {
	lowMinID := refID - width - 1
	if lowMinID < 0 {
		lowMinID = 0
	}
	below, err := e.Reader.IterMessages(ctx, peer, true, lowMinID, refID-lowMinID)
	if err != nil {
		return nil, err
	}
	above, err := e.Reader.IterMessages(ctx, peer, true, refID, width)
	if err != nil {
		return nil, err
	}
	return append(below, above...), nil
}

// filterGroup narrows a scan window down to the messages carrying gid,
// walking it in ascending id order; once the first member is found, the
// walk stops after 200 consecutive non-members (the window itself already
// bounds the scan; this just guards against pathologically sparse albums).
func filterGroup(window []*tg.Message, gid int64) []*tg.Message {
	seen := map[int]bool{}
	var members []*tg.Message
	misses := 0
	for _, m := range sortedByID(window) {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		g, ok := groupID(m)
		if ok && g == gid {
			members = append(members, m)
			misses = 0
			continue
		}
		misses++
		if len(members) > 0 && misses > groupScanStopMiss {
			break
		}
	}
	return members
}

func sortedByID(msgs []*tg.Message) []*tg.Message {
	out := make([]*tg.Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// cloneMediaGroup delivers a whole album as one unit: first a single
// forward of every id, then a per-message fallback (forward, then copy) if
// the group forward fails. The group succeeds only if every cloneable
// member succeeds (spec §4.3 "media group clone").
func (e *Engine) cloneMediaGroup(ctx context.Context, members []*tg.Message, from, to tg.InputPeerClass) bool {
	ids := make([]int, 0, len(members))
	for _, m := range members {
		if Cloneable(m) {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return true
	}
	if e.Writer.ForwardMessages(ctx, from, to, ids, true) == nil {
		return true
	}

	ok := true
	for _, m := range members {
		if !Cloneable(m) {
			continue
		}
		if cloned, _ := e.cloneNoRef(ctx, m, from, to); !cloned {
			ok = false
		}
	}
	return ok
}
