package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/local/forumcast/internal/errs"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Scenario 1: dedupe enqueue (spec §8).
func TestEnqueueIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, err := s.UpsertSourceGroup(ctx, -1001, "Source")
	if err != nil {
		t.Fatalf("UpsertSourceGroup: %v", err)
	}
	if _, err := s.UpsertTopic(ctx, sg.ID, 10, "Topic"); err != nil {
		t.Fatalf("UpsertTopic: %v", err)
	}

	id1, err := s.Enqueue(ctx, sg.ID, 10, -1002, "x")
	if err != nil {
		t.Fatalf("Enqueue 1: %v", err)
	}
	id2, err := s.Enqueue(ctx, sg.ID, 10, -1002, "y")
	if err != nil {
		t.Fatalf("Enqueue 2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same job id, got %d and %d", id1, id2)
	}
}

// Scenario 2: bind flips channel state (spec §8).
func TestBindFlipsChannelState(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, err := s.UpsertSourceGroup(ctx, -2001, "Source")
	if err != nil {
		t.Fatalf("UpsertSourceGroup: %v", err)
	}
	if _, err := s.UpsertChannel(ctx, -10021, "Standby", true, nil); err != nil {
		t.Fatalf("UpsertChannel: %v", err)
	}
	if _, err := s.UpsertBinding(ctx, sg.ID, 100, -10021); err != nil {
		t.Fatalf("UpsertBinding: %v", err)
	}

	standbys, err := s.ListStandbyChannels(ctx)
	if err != nil {
		t.Fatalf("ListStandbyChannels: %v", err)
	}
	if len(standbys) != 0 {
		t.Fatalf("expected no standby channels after bind, got %d", len(standbys))
	}

	ch, err := s.ChannelByChatID(ctx, -10021)
	if err != nil {
		t.Fatalf("ChannelByChatID: %v", err)
	}
	if ch.IsStandby || !ch.InUse {
		t.Fatalf("expected channel in_use=true, is_standby=false; got %+v", ch)
	}
}

// Scenario 3: claim / retry / park (spec §8).
func TestClaimRetryPark(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -3001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	jobID, err := s.Enqueue(ctx, sg.ID, 10, -3002, "x")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, found, err := s.ClaimNext(ctx)
	if err != nil || !found {
		t.Fatalf("ClaimNext: found=%v err=%v", found, err)
	}
	if job.ID != jobID || job.Status != JobRunning || job.LastClonedMessageID != 0 {
		t.Fatalf("unexpected claimed job: %+v", job)
	}

	job, err = s.MarkFailed(ctx, jobID, "boom", 3)
	if err != nil {
		t.Fatalf("MarkFailed: %v", err)
	}
	if job.Status != JobPending || job.RetryCount != 1 {
		t.Fatalf("expected pending/retry_count=1, got %+v", job)
	}

	job, found, err = s.ClaimNext(ctx)
	if err != nil || !found {
		t.Fatalf("ClaimNext 2: found=%v err=%v", found, err)
	}
	job, err = s.MarkFailed(ctx, jobID, "boom again", 3)
	if err != nil {
		t.Fatalf("MarkFailed 2: %v", err)
	}
	// retry_count was 1, set in the DB to 1; MarkFailed reads current
	// retry_count so the second failure at retry_count=1 produces 2, still
	// below max=3, so expect pending again. Force it to the edge directly.
	if job.Status != JobPending {
		t.Fatalf("expected pending at retry_count=2 (max=3), got %+v", job)
	}

	job, err = s.MarkFailed(ctx, jobID, "final", 3)
	if err != nil {
		t.Fatalf("MarkFailed 3: %v", err)
	}
	if job.Status != JobFailed || job.RetryCount != 3 {
		t.Fatalf("expected failed/retry_count=3, got %+v", job)
	}
}

// Scenario 4: checkpoint and done (spec §8).
func TestCheckpointAndDone(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -4001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	jobID, err := s.Enqueue(ctx, sg.ID, 10, -4002, "x")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, _, err := s.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if err := s.MarkAssignedChannel(ctx, jobID, -4051); err != nil {
		t.Fatalf("MarkAssignedChannel: %v", err)
	}
	if err := s.UpdateProgress(ctx, jobID, 12345); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.MarkDone(ctx, jobID, -4051, 12345); err != nil {
		t.Fatalf("MarkDone: %v", err)
	}

	job, err := s.JobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if job.Status != JobDone || job.NewChannelChatID == nil || *job.NewChannelChatID != -4051 || job.LastClonedMessageID != 12345 {
		t.Fatalf("unexpected final job: %+v", job)
	}
}

func TestUpdateProgressNeverRegresses(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -5001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	jobID, _ := s.Enqueue(ctx, sg.ID, 10, -5002, "x")
	s.ClaimNext(ctx)

	if err := s.UpdateProgress(ctx, jobID, 100); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if err := s.UpdateProgress(ctx, jobID, 50); err != nil {
		t.Fatalf("UpdateProgress lower: %v", err)
	}
	job, err := s.JobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if job.LastClonedMessageID != 100 {
		t.Fatalf("expected checkpoint to stay monotonic at 100, got %d", job.LastClonedMessageID)
	}
}

func TestEnqueueManualRefusesAgainstStopping(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -6001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	jobID, _ := s.Enqueue(ctx, sg.ID, 10, -6002, "x")
	s.ClaimNext(ctx)
	if err := s.Stop(ctx, jobID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	job, err := s.JobByID(ctx, jobID)
	if err != nil || job.Status != JobStopping {
		t.Fatalf("expected stopping, got %+v err=%v", job, err)
	}

	_, err = s.EnqueueManual(ctx, sg.ID, 10, -6003, "manual")
	if !errs.Is(err, errs.Precondition) {
		t.Fatalf("expected PRECONDITION refusal, got %v", err)
	}
}

func TestResetRunningPreservesCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -7001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	jobID, _ := s.Enqueue(ctx, sg.ID, 10, -7002, "x")
	s.ClaimNext(ctx)
	s.UpdateProgress(ctx, jobID, 999)

	n, err := s.ResetRunning(ctx)
	if err != nil || n != 1 {
		t.Fatalf("ResetRunning: n=%d err=%v", n, err)
	}
	job, err := s.JobByID(ctx, jobID)
	if err != nil {
		t.Fatalf("JobByID: %v", err)
	}
	if job.Status != JobPending || job.LastClonedMessageID != 999 {
		t.Fatalf("expected pending with preserved checkpoint, got %+v", job)
	}
}

func TestDeleteSourceGroupBlockedByRunningJob(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -8001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")
	s.Enqueue(ctx, sg.ID, 10, -8002, "x")
	s.ClaimNext(ctx)

	_, err := s.DeleteSourceGroup(ctx, sg.ID)
	if !errs.Is(err, errs.Precondition) {
		t.Fatalf("expected PRECONDITION, got %v", err)
	}
}

func TestBannedChannelCollapsesDupes(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sg, _ := s.UpsertSourceGroup(ctx, -9001, "Source")
	s.UpsertTopic(ctx, sg.ID, 10, "Topic")

	if err := s.AddOrRefreshBannedChannel(ctx, sg.ID, 10, -9002, "first"); err != nil {
		t.Fatalf("AddOrRefreshBannedChannel: %v", err)
	}
	if err := s.AddOrRefreshBannedChannel(ctx, sg.ID, 10, -9002, "second"); err != nil {
		t.Fatalf("AddOrRefreshBannedChannel 2: %v", err)
	}

	rows, err := s.ListRecentBannedChannels(ctx)
	if err != nil {
		t.Fatalf("ListRecentBannedChannels: %v", err)
	}
	if len(rows) != 1 || rows[0].Reason != "second" {
		t.Fatalf("expected 1 collapsed row with latest reason, got %+v", rows)
	}
}
