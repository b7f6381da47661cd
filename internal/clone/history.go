package clone

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/errs"
)

// ErrStopped signals a history clone was cancelled cooperatively via
// shouldStop; the caller's checkpoint up to that point remains valid.
var ErrStopped = errs.New(errs.Stopped,"cloneTopicHistory", fmt.Errorf("stopped"))

// HistoryResult summarizes one cloneTopicHistory run (spec §4.3).
type HistoryResult struct {
	Total               int
	Cloned              int
	Skipped             int
	StartedMinID        int64
	LastClonedMessageID int64
}

const (
	historyPageSize = 100
	progressEvery   = 5
)

// CloneTopicHistory streams every topic-member message from source forward
// to target, starting no earlier than the topic's own root message,
// invoking progressHook every progressEvery units and once more at the end.
// shouldStop is polled before every page fetch and before every message;
// a true result raises ErrStopped, preserving the caller's last-persisted
// checkpoint.
func (e *Engine) CloneTopicHistory(
	ctx context.Context,
	source, target tg.InputPeerClass,
	topicID, requestedStartMsgID int64,
	shouldStop func() bool,
	progressHook func(lastClonedMessageID int64) error,
) (HistoryResult, error) {
	effectiveStart := requestedStartMsgID
	if topicID > effectiveStart {
		effectiveStart = topicID
	}

	result := HistoryResult{StartedMinID: effectiveStart, LastClonedMessageID: effectiveStart}
	seenGroups := map[int64]bool{}
	unitsSinceCheckpoint := 0
	minID := int(effectiveStart)

	for {
		if shouldStop() {
			return result, ErrStopped
		}
		page, err := e.Reader.IterMessages(ctx, source, true, minID, historyPageSize)
		if err != nil {
			return result, err
		}
		if len(page) == 0 {
			break
		}

		for _, m := range sortedByID(page) {
			if shouldStop() {
				return result, ErrStopped
			}
			if m.ID > minID {
				minID = m.ID
			}
			if !InTopic(m, topicID) {
				continue
			}
			result.Total++

			ok, highWater := e.cloneUnit(ctx, m, source, target, seenGroups)
			if !ok {
				return result, errs.New(errs.UpstreamFailure, "cloneTopicHistory", fmt.Errorf("clone failed at message %d", m.ID))
			}
			if highWater == 0 {
				result.Skipped++
				continue
			}
			result.Cloned++
			if highWater > result.LastClonedMessageID {
				result.LastClonedMessageID = highWater
			}

			unitsSinceCheckpoint++
			if unitsSinceCheckpoint >= progressEvery {
				if int64(minID) > result.LastClonedMessageID {
					result.LastClonedMessageID = int64(minID)
				}
				if err := progressHook(result.LastClonedMessageID); err != nil {
					return result, err
				}
				unitsSinceCheckpoint = 0
			}
			sleepUnit(ctx)
		}
	}

	if int64(minID) > result.LastClonedMessageID {
		result.LastClonedMessageID = int64(minID)
	}
	if err := progressHook(result.LastClonedMessageID); err != nil {
		return result, err
	}
	return result, nil
}

// cloneUnit clones a single message or, the first time a grouped_id is
// seen, its whole album, returning the highest message id the unit covers
// (0 if the message was skipped as non-cloneable).
func (e *Engine) cloneUnit(ctx context.Context, m *tg.Message, source, target tg.InputPeerClass, seenGroups map[int64]bool) (bool, int64) {
	if !Cloneable(m) {
		return true, 0
	}

	gid, hasGroup := groupID(m)
	if hasGroup {
		if seenGroups[gid] {
			return true, 0
		}
		seenGroups[gid] = true
		members, err := e.collectMediaGroup(ctx, source, m)
		if err != nil {
			return false, 0
		}
		if !e.cloneMediaGroup(ctx, members, source, target) {
			return false, 0
		}
		high := int64(m.ID)
		for _, mm := range members {
			if int64(mm.ID) > high {
				high = int64(mm.ID)
			}
		}
		return true, high
	}

	if ok, _ := e.cloneNoRef(ctx, m, source, target); !ok {
		return false, 0
	}
	return true, int64(m.ID)
}
