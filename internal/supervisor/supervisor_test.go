package supervisor

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"
)

type fakeGateway struct {
	reader atomic.Bool
	writer atomic.Bool
}

func (g *fakeGateway) ReaderAuthorized() bool { return g.reader.Load() }
func (g *fakeGateway) WriterAuthorized() bool { return g.writer.Load() }

type fakeSweeper struct{ calls atomic.Int32 }

func (f *fakeSweeper) Sweep(ctx context.Context) error { f.calls.Add(1); return nil }

type fakeRefresher struct{ calls atomic.Int32 }

func (f *fakeRefresher) Refresh(ctx context.Context) error { f.calls.Add(1); return nil }

type fakeRecoveryWorker struct {
	calls   atomic.Int32
	process bool
	panics  bool
}

func (f *fakeRecoveryWorker) RunOnce(ctx context.Context, jobID *int64) (bool, error) {
	f.calls.Add(1)
	if f.panics {
		panic("boom")
	}
	return f.process, nil
}

func nopLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestRecoveryLoopSleepsWhileUnauthorized(t *testing.T) {
	gw := &fakeGateway{}
	worker := &fakeRecoveryWorker{}
	s := New(gw, &fakeSweeper{}, &fakeRefresher{}, worker, time.Hour, time.Hour, nil, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	s.Wait()

	if worker.calls.Load() != 0 {
		t.Fatalf("RunOnce called %d times while unauthorized, want 0", worker.calls.Load())
	}
}

func TestRecoveryLoopDrivesWorkerWhenAuthorized(t *testing.T) {
	gw := &fakeGateway{}
	gw.reader.Store(true)
	gw.writer.Store(true)
	worker := &fakeRecoveryWorker{process: false}
	s := New(gw, &fakeSweeper{}, &fakeRefresher{}, worker, time.Hour, time.Hour, nil, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	s.Wait()

	if worker.calls.Load() == 0 {
		t.Fatal("expected RunOnce to be called at least once while authorized")
	}
}

func TestRecoveryLoopSurvivesWorkerPanic(t *testing.T) {
	gw := &fakeGateway{}
	gw.reader.Store(true)
	gw.writer.Store(true)
	worker := &fakeRecoveryWorker{panics: true}
	s := New(gw, &fakeSweeper{}, &fakeRefresher{}, worker, time.Hour, time.Hour, nil, nopLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)
	s.Wait()

	if worker.calls.Load() == 0 {
		t.Fatal("expected the panicking worker to still be invoked, and the loop to survive it")
	}
}

func TestMonitorTickRunsPurgeThenGatesOnWriterAuth(t *testing.T) {
	gw := &fakeGateway{}
	sweep := &fakeSweeper{}
	purged := 0
	s := New(gw, sweep, &fakeRefresher{}, &fakeRecoveryWorker{}, time.Millisecond, time.Hour, func() { purged++ }, nopLogger())

	s.monitorTick(context.Background())
	if purged != 1 {
		t.Fatalf("purge calls = %d, want 1", purged)
	}
	if sweep.calls.Load() != 0 {
		t.Fatalf("sweep should not run while writer is unauthorized, got %d calls", sweep.calls.Load())
	}

	gw.writer.Store(true)
	s.monitorTick(context.Background())
	if sweep.calls.Load() != 1 {
		t.Fatalf("sweep calls = %d, want 1 once writer authorized", sweep.calls.Load())
	}
}

func TestStandbyTickGatesOnWriterAuth(t *testing.T) {
	gw := &fakeGateway{}
	refresh := &fakeRefresher{}
	s := New(gw, &fakeSweeper{}, refresh, &fakeRecoveryWorker{}, time.Hour, time.Millisecond, nil, nopLogger())

	s.standbyTick(context.Background())
	if refresh.calls.Load() != 0 {
		t.Fatalf("refresh should not run while writer is unauthorized, got %d calls", refresh.calls.Load())
	}

	gw.writer.Store(true)
	s.standbyTick(context.Background())
	if refresh.calls.Load() != 1 {
		t.Fatalf("refresh calls = %d, want 1 once writer authorized", refresh.calls.Load())
	}
}
