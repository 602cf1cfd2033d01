package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/obsarchive/quicklook/internal/db"
	"github.com/obsarchive/quicklook/internal/models"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.ConnectSQLite(filepath.Join(t.TempDir(), "tasks.db") + "?_busy_timeout=5000")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}

func testBroker(t *testing.T) *Broker {
	t.Helper()
	b := NewBroker(testDB(t))
	b.poll = 10 * time.Millisecond
	return b
}

func TestSubmit_CreatesPending(t *testing.T) {
	b := testBroker(t)

	rec, err := b.Submit("run_pipeline", map[string]string{"file": "jw00756001001_02101_00001_nrs1_uncal.fits"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if rec.Status != models.TaskPending {
		t.Errorf("Status = %q, want pending", rec.Status)
	}
	if rec.UUID == "" {
		t.Error("UUID should be assigned")
	}
}

func TestClaim_TransitionsToStarted(t *testing.T) {
	b := testBroker(t)
	sub, err := b.Submit("run_pipeline", nil)
	if err != nil {
		t.Fatal(err)
	}

	claimed, err := b.Claim("worker-1")
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed.UUID != sub.UUID {
		t.Errorf("claimed %s, want %s", claimed.UUID, sub.UUID)
	}
	if claimed.Status != models.TaskStarted || claimed.ClaimedBy != "worker-1" {
		t.Errorf("claimed = %+v", claimed)
	}
}

func TestClaim_Empty(t *testing.T) {
	b := testBroker(t)
	_, err := b.Claim("worker-1")
	if !errors.Is(err, ErrNoPendingTasks) {
		t.Errorf("Claim() error = %v, want ErrNoPendingTasks", err)
	}
}

func TestClaim_OldestFirst(t *testing.T) {
	b := testBroker(t)
	first, _ := b.Submit("a", nil)
	b.Submit("b", nil)

	claimed, err := b.Claim("worker-1")
	if err != nil {
		t.Fatal(err)
	}
	if claimed.UUID != first.UUID {
		t.Errorf("claimed %s (%s), want the oldest submission", claimed.UUID, claimed.Name)
	}
}

func TestClaim_ExactlyOneWorker(t *testing.T) {
	b := testBroker(t)
	if _, err := b.Submit("run_pipeline", nil); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	claims := make([]bool, 4)
	for i := range claims {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.Claim("worker"); err == nil {
				claims[i] = true
			}
		}(i)
	}
	wg.Wait()

	won := 0
	for _, ok := range claims {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("%d workers claimed the task, want exactly 1", won)
	}
}

func TestCompleteAndAwait(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("run_pipeline", nil)
	claimed, _ := b.Claim("worker-1")

	if err := b.Complete(claimed.UUID, map[string]string{"output": "cal.fits"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	final, err := b.Await(ctx, sub.UUID)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if final.Status != models.TaskSuccess {
		t.Errorf("Status = %q, want success", final.Status)
	}
	var result map[string]string
	if err := json.Unmarshal([]byte(final.Result), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["output"] != "cal.fits" {
		t.Errorf("result = %v", result)
	}
}

func TestFail_StructuredError(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("run_pipeline", nil)
	claimed, _ := b.Claim("worker-1")

	if err := b.Fail(claimed.UUID, errors.New("calibration step crashed")); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	final, err := b.Get(sub.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.TaskFailure {
		t.Errorf("Status = %q, want failure", final.Status)
	}
	if final.Error != "calibration step crashed" {
		t.Errorf("Error = %q", final.Error)
	}
}

func TestRevoke_Pending(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("run_pipeline", nil)

	if err := b.Revoke(sub.UUID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}

	revoked, err := b.Revoked(sub.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if !revoked {
		t.Error("task should report revoked")
	}

	// A revoked task is no longer claimable.
	if _, err := b.Claim("worker-1"); !errors.Is(err, ErrNoPendingTasks) {
		t.Errorf("Claim() error = %v, want ErrNoPendingTasks", err)
	}
}

func TestRevoke_Started_LateResultDiscarded(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("run_pipeline", nil)
	claimed, _ := b.Claim("worker-1")

	if err := b.Revoke(sub.UUID); err != nil {
		t.Fatal(err)
	}
	// The worker finishes anyway; its result must not overwrite revoked.
	if err := b.Complete(claimed.UUID, "late"); err != nil {
		t.Fatalf("Complete() after revoke error = %v", err)
	}

	final, err := b.Get(sub.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.TaskRevoked {
		t.Errorf("Status = %q, want revoked", final.Status)
	}
	if final.Result != "" {
		t.Errorf("Result = %q, want discarded", final.Result)
	}
}

func TestPurge_DiscardsAndAwaitSeesGone(t *testing.T) {
	b := testBroker(t)
	pending, _ := b.Submit("a", nil)
	b.Submit("b", nil)
	b.Claim("worker-1") // one started

	n, err := b.Purge()
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Purge() = %d, want 2", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.Await(ctx, pending.UUID)
	if !errors.Is(err, ErrTaskGone) {
		t.Errorf("Await() after purge error = %v, want ErrTaskGone", err)
	}
}

func TestPurge_KeepsFinished(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("a", nil)
	claimed, _ := b.Claim("worker-1")
	b.Complete(claimed.UUID, nil)

	if _, err := b.Purge(); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(sub.UUID); err != nil {
		t.Errorf("finished task should survive purge: %v", err)
	}
}

func TestAwait_CallerTimeout(t *testing.T) {
	b := testBroker(t)
	sub, _ := b.Submit("never-finishes", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.Await(ctx, sub.UUID)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await() error = %v, want context deadline", err)
	}
}

func TestWorker_RunsHandler(t *testing.T) {
	b := testBroker(t)
	w := NewWorker(b, "worker-1", nil)
	w.poll = 10 * time.Millisecond

	w.Register("echo", func(_ context.Context, payload json.RawMessage, _ func() bool) (any, error) {
		var in map[string]string
		if err := json.Unmarshal(payload, &in); err != nil {
			return nil, err
		}
		return in, nil
	})

	sub, err := b.Submit("echo", map[string]string{"k": "v"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer awaitCancel()
	final, err := b.Await(awaitCtx, sub.UUID)
	if err != nil {
		t.Fatalf("Await() error = %v", err)
	}
	if final.Status != models.TaskSuccess {
		t.Errorf("Status = %q (error %q), want success", final.Status, final.Error)
	}
}

func TestWorker_UnregisteredTask_Fails(t *testing.T) {
	b := testBroker(t)
	w := NewWorker(b, "worker-1", nil)
	w.poll = 10 * time.Millisecond

	sub, _ := b.Submit("unknown", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer awaitCancel()
	final, err := b.Await(awaitCtx, sub.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.TaskFailure {
		t.Errorf("Status = %q, want failure", final.Status)
	}
}

func TestWorker_FailureNotifies(t *testing.T) {
	b := testBroker(t)
	rec := &recordingNotifier{}
	w := NewWorker(b, "worker-1", rec)
	w.poll = 10 * time.Millisecond

	w.Register("explode", func(context.Context, json.RawMessage, func() bool) (any, error) {
		return nil, errors.New("boom")
	})

	sub, _ := b.Submit("explode", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer awaitCancel()
	if _, err := b.Await(awaitCtx, sub.UUID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.count() > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("notifier was not called on task failure")
}

func TestWorker_CooperativeCancellation(t *testing.T) {
	b := testBroker(t)
	w := NewWorker(b, "worker-1", nil)
	w.poll = 10 * time.Millisecond

	started := make(chan string, 1)
	w.Register("slow", func(_ context.Context, _ json.RawMessage, cancelled func() bool) (any, error) {
		started <- "running"
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if cancelled() {
				return nil, errors.New("cancelled at safe point")
			}
			time.Sleep(10 * time.Millisecond)
		}
		return "finished", nil
	})

	sub, _ := b.Submit("slow", nil)

	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	defer cancel()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	if err := b.Revoke(sub.UUID); err != nil {
		t.Fatal(err)
	}

	awaitCtx, awaitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer awaitCancel()
	final, err := b.Await(awaitCtx, sub.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.TaskRevoked {
		t.Errorf("Status = %q, want revoked", final.Status)
	}
}

// recordingNotifier counts Notify calls; safe for concurrent use.
type recordingNotifier struct {
	mu sync.Mutex
	n  int
}

func (r *recordingNotifier) Notify(context.Context, string, string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
