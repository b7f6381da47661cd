// Package recovery drives the RecoveryWorker: claim a job, reassign and
// rebind a topic to a fresh channel, and replay its history (spec §4.7).
package recovery

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/clone"
	"github.com/local/forumcast/internal/errs"
	"github.com/local/forumcast/internal/gateway"
	"github.com/local/forumcast/internal/store"
)

const (
	maxChannelTitleLen = 128
	defaultChannelTitle = "未命名话题"
)

// historyCloner is the slice of clone.Engine the worker needs; narrowed to
// an interface so tests can substitute a fake instead of a live gotd/td
// connection.
type historyCloner interface {
	CloneTopicHistory(ctx context.Context, source, target tg.InputPeerClass, topicID, requestedStartMsgID int64,
		shouldStop func() bool, progressHook func(lastClonedMessageID int64) error) (clone.HistoryResult, error)
}

// resolver is the slice of gateway.Session the worker needs to address a
// chat by chat id.
type resolver interface {
	Resolve(ctx context.Context, ref gateway.NormalizedRef, preferUser bool) (gateway.ResolvedPeer, error)
}

// channelRenamer is the slice of gateway.Session (writer identity) the
// worker needs to rename a freshly consumed standby channel.
type channelRenamer interface {
	resolver
	InputChannelFor(ctx context.Context, chatID int64) (*tg.InputChannel, error)
	EditChannelTitle(ctx context.Context, channel *tg.InputChannel, title string) error
}

// channelConsumer is the slice of standby.Pool the worker needs.
type channelConsumer interface {
	Consume(ctx context.Context) (store.Channel, bool, error)
}

// Worker is the RecoveryWorker: it owns the one durable state transition
// from running to a terminal status (spec §4.7, §4.8).
type Worker struct {
	Store    *store.Store
	Clone    historyCloner
	Standby  channelConsumer
	Reader   resolver
	Writer   channelRenamer
	MaxRetry int
	Notify   func(ctx context.Context, text string)
	log      *log.Logger
}

// New builds a Worker from its concrete collaborators.
func New(st *store.Store, engine *clone.Engine, pool channelConsumer, reader resolver, writer channelRenamer, maxRetry int, notify func(context.Context, string), logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{Store: st, Clone: engine, Standby: pool, Reader: reader, Writer: writer, MaxRetry: maxRetry, Notify: notify, log: logger}
}

// RunOnce claims a job — a specific id when jobID is non-nil, otherwise the
// oldest pending one — and drives it to a terminal state. It reports
// whether a job was actually claimed, so the supervisor's recovery loop can
// decide whether to sleep on idle (spec §4.8).
func (w *Worker) RunOnce(ctx context.Context, jobID *int64) (bool, error) {
	job, found, err := w.claim(ctx, jobID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) claim(ctx context.Context, jobID *int64) (store.RecoveryJob, bool, error) {
	if jobID == nil {
		return w.Store.ClaimNext(ctx)
	}
	job, err := w.Store.ClaimByID(ctx, *jobID)
	if errs.Is(err, errs.Precondition) {
		return store.RecoveryJob{}, false, nil
	}
	if err != nil {
		return store.RecoveryJob{}, false, err
	}
	return job, true, nil
}

// process runs one job to completion, handling every exit per spec §4.7
// steps 4-6.
func (w *Worker) process(ctx context.Context, job store.RecoveryJob) {
	traceID := uuid.NewString()[:8]
	w.log.Printf("[recovery %s] processing job %d (source=%d topic=%d)", traceID, job.ID, job.SourceGroupID, job.TopicID)

	sg, topic, channelChatID, err := w.assign(ctx, job)
	if err != nil {
		w.fail(ctx, job, err)
		return
	}

	result, err := w.replay(ctx, job, sg, topic, channelChatID)
	switch {
	case err == nil:
		w.succeed(ctx, job, sg, topic, channelChatID, result)
	case errors.Is(err, clone.ErrStopped):
		w.stop(ctx, job)
	default:
		w.fail(ctx, job, err)
	}
}

// assign resolves the job's source/topic rows (fail-fast if missing), then
// either reuses a pre-assigned channel (manual path) or consumes and
// renames the next standby, before detaching any lingering binding and
// upserting the new one (spec §4.7 steps 1-2).
func (w *Worker) assign(ctx context.Context, job store.RecoveryJob) (store.SourceGroup, store.Topic, int64, error) {
	sg, err := w.Store.SourceGroupByID(ctx, job.SourceGroupID)
	if err != nil {
		return store.SourceGroup{}, store.Topic{}, 0, err
	}
	topic, err := w.Store.TopicByNaturalKey(ctx, job.SourceGroupID, job.TopicID)
	if err != nil {
		return store.SourceGroup{}, store.Topic{}, 0, err
	}

	var channelChatID int64
	if job.NewChannelChatID != nil {
		channelChatID = *job.NewChannelChatID
	} else {
		ch, found, err := w.Standby.Consume(ctx)
		if err != nil {
			return store.SourceGroup{}, store.Topic{}, 0, err
		}
		if !found {
			return store.SourceGroup{}, store.Topic{}, 0, errs.New(errs.Precondition, "assign", errNoStandby)
		}
		channelChatID = ch.ChatID

		input, err := w.Writer.InputChannelFor(ctx, channelChatID)
		if err != nil {
			return store.SourceGroup{}, store.Topic{}, 0, err
		}
		if err := w.Writer.EditChannelTitle(ctx, input, channelTitleFor(topic.Title)); err != nil {
			return store.SourceGroup{}, store.Topic{}, 0, err
		}
		if err := w.Store.MarkAssignedChannel(ctx, job.ID, channelChatID); err != nil {
			return store.SourceGroup{}, store.Topic{}, 0, err
		}
	}

	if _, err := w.Store.DetachAllByChannel(ctx, job.OldChannelChatID); err != nil {
		return store.SourceGroup{}, store.Topic{}, 0, err
	}
	if _, err := w.Store.UpsertBinding(ctx, job.SourceGroupID, job.TopicID, channelChatID); err != nil {
		return store.SourceGroup{}, store.Topic{}, 0, err
	}
	return sg, topic, channelChatID, nil
}

// replay resolves the source and destination peers and streams the topic's
// remaining history, persisting the checkpoint on every progress tick and
// observing cooperative stop requests (spec §4.7 step 3, §5).
func (w *Worker) replay(ctx context.Context, job store.RecoveryJob, sg store.SourceGroup, topic store.Topic, channelChatID int64) (clone.HistoryResult, error) {
	source, err := w.Reader.Resolve(ctx, gateway.NormalizedRef{Kind: gateway.RefNumeric, ID: sg.ChatID}, false)
	if err != nil {
		return clone.HistoryResult{}, err
	}
	target, err := w.Writer.Resolve(ctx, gateway.NormalizedRef{Kind: gateway.RefNumeric, ID: channelChatID}, false)
	if err != nil {
		return clone.HistoryResult{}, err
	}

	shouldStop := func() bool {
		stopped, _ := w.Store.IsStopRequested(ctx, job.ID)
		return stopped
	}
	progressHook := func(lastClonedMessageID int64) error {
		if err := w.Store.UpdateProgress(ctx, job.ID, lastClonedMessageID); err != nil {
			return err
		}
		if shouldStop() {
			return clone.ErrStopped
		}
		return nil
	}

	return w.Clone.CloneTopicHistory(ctx, source.Input, target.Input, topic.TopicID, job.LastClonedMessageID, shouldStop, progressHook)
}

func (w *Worker) succeed(ctx context.Context, job store.RecoveryJob, sg store.SourceGroup, topic store.Topic, channelChatID int64, result clone.HistoryResult) {
	if err := w.Store.MarkDone(ctx, job.ID, channelChatID, result.LastClonedMessageID); err != nil {
		w.log.Printf("[recovery] mark done job %d: %v", job.ID, err)
		return
	}
	if err := w.Store.RemoveBannedChannel(ctx, sg.ID, topic.TopicID, job.OldChannelChatID); err != nil {
		w.log.Printf("[recovery] remove banned channel for job %d: %v", job.ID, err)
	}
	if err := w.Store.DeleteJob(ctx, job.ID); err != nil {
		w.log.Printf("[recovery] delete completed job %d: %v", job.ID, err)
	}
	w.notify(ctx, "recovery done for topic "+topic.Title+": cloned "+strconv.Itoa(result.Cloned)+" message(s)")
}

func (w *Worker) stop(ctx context.Context, job store.RecoveryJob) {
	if err := w.Store.MarkStopped(ctx, job.ID); err != nil {
		w.log.Printf("[recovery] mark stopped job %d: %v", job.ID, err)
	}
	w.notify(ctx, "recovery stopped for job "+strconv.FormatInt(job.ID, 10))
}

func (w *Worker) fail(ctx context.Context, job store.RecoveryJob, cause error) {
	w.log.Printf("[recovery] job %d failed: %v", job.ID, cause)
	if _, err := w.Store.MarkFailed(ctx, job.ID, cause.Error(), w.MaxRetry); err != nil {
		w.log.Printf("[recovery] mark failed job %d: %v", job.ID, err)
	}
}

func (w *Worker) notify(ctx context.Context, text string) {
	if w.Notify != nil {
		w.Notify(ctx, text)
	}
}

// channelTitleFor applies the rename policy from spec §4.7 step 2: the
// topic title truncated to 128 characters, falling back to a placeholder
// when that leaves nothing usable.
func channelTitleFor(topicTitle string) string {
	title := strings.TrimSpace(topicTitle)
	runes := []rune(title)
	if len(runes) > maxChannelTitleLen {
		runes = runes[:maxChannelTitleLen]
	}
	title = strings.TrimSpace(string(runes))
	if title == "" {
		return defaultChannelTitle
	}
	return title
}

type recoveryError string

func (e recoveryError) Error() string { return string(e) }

const errNoStandby = recoveryError("no standby channel available")
