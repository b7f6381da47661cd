package monitor

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"golang.org/x/time/rate"

	"github.com/local/forumcast/internal/standby"
	"github.com/local/forumcast/internal/store"
)

func noLimit() *rate.Limiter { return rate.NewLimiter(rate.Inf, 1) }

func nopLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type fakeAccessChecker struct {
	results map[int64]standby.AccessResult
	calls   int
}

func (f *fakeAccessChecker) CheckChannelAccess(ctx context.Context, chatID int64) standby.AccessResult {
	f.calls++
	if r, ok := f.results[chatID]; ok {
		return r
	}
	return standby.AccessResult{OK: true}
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func seedBinding(t *testing.T, st *store.Store, chatID, channelChatID int64, sourceEnabled, topicEnabled bool) {
	t.Helper()
	ctx := context.Background()
	sg, err := st.UpsertSourceGroup(ctx, chatID, "group")
	if err != nil {
		t.Fatalf("seed source group: %v", err)
	}
	if err := st.SetSourceGroupEnabled(ctx, sg.ID, sourceEnabled); err != nil {
		t.Fatalf("set source enabled: %v", err)
	}
	topic, err := st.UpsertTopic(ctx, sg.ID, 1, "topic")
	if err != nil {
		t.Fatalf("seed topic: %v", err)
	}
	if err := st.SetTopicEnabled(ctx, topic.ID, topicEnabled); err != nil {
		t.Fatalf("set topic enabled: %v", err)
	}
	if _, err := st.UpsertChannel(ctx, channelChatID, "channel", false, nil); err != nil {
		t.Fatalf("seed channel: %v", err)
	}
	if _, err := st.UpsertBinding(ctx, sg.ID, 1, channelChatID); err != nil {
		t.Fatalf("seed binding: %v", err)
	}
}

func TestSweepSkipsDisabledSourceOrTopic(t *testing.T) {
	st := openTestStore(t)
	seedBinding(t, st, 100, -1001, false, true)

	checker := &fakeAccessChecker{}
	m := &Monitor{Store: st, Pool: checker, limiter: noLimit(), log: nopLogger()}
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if checker.calls != 0 {
		t.Fatalf("access check called %d times for a disabled source, want 0", checker.calls)
	}
}

func TestSweepBansAndEnqueuesOnFailure(t *testing.T) {
	st := openTestStore(t)
	seedBinding(t, st, 200, -1002, true, true)

	checker := &fakeAccessChecker{results: map[int64]standby.AccessResult{
		-1002: {OK: false, Reason: "not admin"},
	}}
	m := &Monitor{Store: st, Pool: checker, limiter: noLimit(), log: nopLogger()}
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if checker.calls != 1 {
		t.Fatalf("access check called %d times, want 1", checker.calls)
	}

	banned, err := st.ListRecentBannedChannels(context.Background())
	if err != nil {
		t.Fatalf("list banned: %v", err)
	}
	if len(banned) != 1 || banned[0].ChannelChatID != -1002 {
		t.Fatalf("unexpected banned channels: %+v", banned)
	}

	job, found, err := st.ClaimNext(context.Background())
	if err != nil || !found || job.OldChannelChatID != -1002 {
		t.Fatalf("expected a recovery job for channel -1002, got %+v found=%v err=%v", job, found, err)
	}
}

func TestSweepSkipsHealthyBindings(t *testing.T) {
	st := openTestStore(t)
	seedBinding(t, st, 300, -1003, true, true)

	checker := &fakeAccessChecker{}
	m := &Monitor{Store: st, Pool: checker, limiter: noLimit(), log: nopLogger()}
	if err := m.Sweep(context.Background()); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if checker.calls != 1 {
		t.Fatalf("access check called %d times, want 1", checker.calls)
	}
	banned, err := st.ListRecentBannedChannels(context.Background())
	if err != nil {
		t.Fatalf("list banned: %v", err)
	}
	if len(banned) != 0 {
		t.Fatalf("unexpected banned channels: %+v", banned)
	}
}
