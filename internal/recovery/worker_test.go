package recovery

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/gotd/td/tg"

	"github.com/local/forumcast/internal/clone"
	"github.com/local/forumcast/internal/gateway"
	"github.com/local/forumcast/internal/store"
)

func nopLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeResolver struct{}

func (fakeResolver) Resolve(ctx context.Context, ref gateway.NormalizedRef, preferUser bool) (gateway.ResolvedPeer, error) {
	return gateway.ResolvedPeer{Input: &tg.InputPeerChannel{ChannelID: ref.ID}, ChatID: ref.ID}, nil
}

type fakeWriter struct {
	fakeResolver
	renamedTo string
}

func (f *fakeWriter) InputChannelFor(ctx context.Context, chatID int64) (*tg.InputChannel, error) {
	return &tg.InputChannel{ChannelID: chatID}, nil
}

func (f *fakeWriter) EditChannelTitle(ctx context.Context, channel *tg.InputChannel, title string) error {
	f.renamedTo = title
	return nil
}

type fakeStandby struct {
	channel store.Channel
	found   bool
	err     error
}

func (f fakeStandby) Consume(ctx context.Context) (store.Channel, bool, error) {
	return f.channel, f.found, f.err
}

type fakeCloner struct {
	result clone.HistoryResult
	err    error
	hook   func(func(int64) error) error
}

func (f fakeCloner) CloneTopicHistory(ctx context.Context, source, target tg.InputPeerClass, topicID, requestedStartMsgID int64,
	shouldStop func() bool, progressHook func(int64) error) (clone.HistoryResult, error) {
	if f.hook != nil {
		if err := f.hook(progressHook); err != nil {
			return f.result, err
		}
	}
	return f.result, f.err
}

func setupJob(t *testing.T, st *store.Store) (store.RecoveryJob, store.SourceGroup) {
	t.Helper()
	ctx := context.Background()
	sg, err := st.UpsertSourceGroup(ctx, -1001, "Source")
	if err != nil {
		t.Fatalf("UpsertSourceGroup: %v", err)
	}
	if _, err := st.UpsertTopic(ctx, sg.ID, 10, "General Discussion"); err != nil {
		t.Fatalf("UpsertTopic: %v", err)
	}
	jobID, err := st.Enqueue(ctx, sg.ID, 10, -1002, "channel gone")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	job, err := st.JobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	return job, sg
}

func TestRunOnceConsumesStandbyRenamesAndMarksDone(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	job, sg := setupJob(t, st)

	ch, err := st.UpsertChannel(ctx, -1003, "spare", true, nil)
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	writer := &fakeWriter{}
	w := &Worker{
		Store:    st,
		Clone:    fakeCloner{result: clone.HistoryResult{Cloned: 3, LastClonedMessageID: 42}},
		Standby:  fakeStandby{channel: ch, found: true},
		Reader:   fakeResolver{},
		Writer:   writer,
		MaxRetry: 3,
		log:      nopLogger(),
	}

	id := job.ID
	processed, err := w.RunOnce(ctx, &id)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !processed {
		t.Fatal("expected a job to be processed")
	}
	if writer.renamedTo != "General Discussion" {
		t.Fatalf("renamedTo = %q, want %q", writer.renamedTo, "General Discussion")
	}

	final, err := st.JobByID(ctx, job.ID)
	if err == nil {
		t.Fatalf("expected job %d to be deleted on success, got %+v", job.ID, final)
	}

	binding, active, err := st.ActiveBindingByTopic(ctx, sg.ID, 10)
	if err != nil {
		t.Fatalf("ActiveBindingByTopic: %v", err)
	}
	if !active || binding.ChannelChatID != -1003 {
		t.Fatalf("binding = %+v, active=%v, want channel -1003 active", binding, active)
	}
}

func TestRunOnceNoStandbyFails(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	job, _ := setupJob(t, st)

	w := &Worker{
		Store:    st,
		Clone:    fakeCloner{},
		Standby:  fakeStandby{found: false},
		Reader:   fakeResolver{},
		Writer:   &fakeWriter{},
		MaxRetry: 3,
		log:      nopLogger(),
	}

	id := job.ID
	if _, err := w.RunOnce(ctx, &id); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	final, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if final.Status != store.JobPending {
		t.Fatalf("status = %s, want pending (retried)", final.Status)
	}
	if final.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", final.RetryCount)
	}
}

func TestRunOnceStoppedPreservesCheckpoint(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	job, _ := setupJob(t, st)
	ch, err := st.UpsertChannel(ctx, -1004, "spare", true, nil)
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	w := &Worker{
		Store:   st,
		Clone: fakeCloner{
			err:    clone.ErrStopped,
			result: clone.HistoryResult{LastClonedMessageID: 17},
			hook:   func(progress func(int64) error) error { return progress(17) },
		},
		Standby: fakeStandby{channel: ch, found: true},
		Reader:  fakeResolver{},
		Writer:  &fakeWriter{},
		log:     nopLogger(),
	}

	id := job.ID
	if _, err := w.RunOnce(ctx, &id); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	final, err := st.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if final.Status != store.JobStopped {
		t.Fatalf("status = %s, want stopped", final.Status)
	}
	if final.LastClonedMessageID != 17 {
		t.Fatalf("checkpoint = %d, want 17 preserved", final.LastClonedMessageID)
	}
}

func TestClaimNextWhenNoJobIDReturnsOldestPending(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	job, _ := setupJob(t, st)
	ch, err := st.UpsertChannel(ctx, -1005, "spare", true, nil)
	if err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}

	w := &Worker{
		Store:   st,
		Clone:   fakeCloner{result: clone.HistoryResult{LastClonedMessageID: 1}},
		Standby: fakeStandby{channel: ch, found: true},
		Reader:  fakeResolver{},
		Writer:  &fakeWriter{},
		log:     nopLogger(),
	}

	processed, err := w.RunOnce(ctx, nil)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !processed {
		t.Fatal("expected the oldest pending job to be claimed")
	}
	if _, err := st.JobByID(ctx, job.ID); err == nil {
		t.Fatal("expected the claimed job to be deleted on success")
	}
}

func TestChannelTitleForTruncatesAndFallsBack(t *testing.T) {
	if got := channelTitleFor(""); got != defaultChannelTitle {
		t.Fatalf("empty title = %q, want fallback", got)
	}
	if got := channelTitleFor("   "); got != defaultChannelTitle {
		t.Fatalf("blank title = %q, want fallback", got)
	}
	long := make([]rune, 200)
	for i := range long {
		long[i] = 'a'
	}
	got := channelTitleFor(string(long))
	if len([]rune(got)) != maxChannelTitleLen {
		t.Fatalf("truncated length = %d, want %d", len([]rune(got)), maxChannelTitleLen)
	}
}

func TestErrorsIsMatchesStoppedSentinel(t *testing.T) {
	if !errors.Is(clone.ErrStopped, clone.ErrStopped) {
		t.Fatal("sanity: ErrStopped should match itself")
	}
}
