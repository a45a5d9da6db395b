package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CodingButter/team-dashboard-sub004/pkg/gate"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

func testGate(t *testing.T) *gate.Gate {
	t.Helper()
	registry, err := gate.NewStaticRegistry(gate.TierTable{
		Tiers: map[string]models.SubscriptionTier{
			"basic": {
				Name:                  "basic",
				MaxAgents:             10,
				MaxBatchOperationSize: 5,
				MaxConcurrentBatches:  10,
			},
			"priority": {
				Name:                  "priority",
				MaxAgents:             10,
				MaxBatchOperationSize: 100,
				MaxConcurrentBatches:  10,
				PriorityQueue:         true,
				PriorityWeight:        10,
			},
			"narrow": {
				Name:                  "narrow",
				MaxAgents:             10,
				MaxBatchOperationSize: 5,
				MaxConcurrentBatches:  1,
			},
		},
		Tenants: map[string]string{
			"t-prio":   "priority",
			"t-narrow": "narrow",
		},
		DefaultTier: "basic",
	})
	if err != nil {
		t.Fatalf("NewStaticRegistry failed: %v", err)
	}
	return gate.New(registry, nil)
}

func items(n int) []models.BatchOperationItem {
	out := make([]models.BatchOperationItem, n)
	for i := range out {
		out[i] = models.BatchOperationItem{
			ID:   fmt.Sprintf("item-%d", i),
			Type: models.BatchCommand,
		}
	}
	return out
}

func newQueue(t *testing.T, executor Executor, config Config) *Queue {
	t.Helper()
	if executor == nil {
		executor = FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
			return nil, nil
		})
	}
	return NewQueue(executor, testGate(t), nil, nil, logging.NewNop(), config)
}

func fastConfig() Config {
	return Config{
		MaxConcurrentBatches: 5,
		TickInterval:         5 * time.Millisecond,
		ItemTimeout:          time.Second,
	}
}

func waitForStatus(t *testing.T, q *Queue, batchID string, want models.BatchStatus) models.BatchOperation {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		op, err := q.Status(batchID)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if op.Status == want {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	op, _ := q.Status(batchID)
	t.Fatalf("Timed out waiting for %s, batch is %s", want, op.Status)
	return models.BatchOperation{}
}

func TestSubmitValidation(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	t.Run("Empty Batch", func(t *testing.T) {
		_, err := q.Submit(ctx, "acme", models.BatchCommand, nil)
		if !errors.Is(err, ErrEmptyBatch) {
			t.Errorf("Expected ErrEmptyBatch, got %v", err)
		}
	})

	t.Run("Oversized Batch", func(t *testing.T) {
		// basic tier caps batches at 5 items
		_, err := q.Submit(ctx, "acme", models.BatchCommand, items(6))
		if !errors.Is(err, gate.ErrQuotaExceeded) {
			t.Errorf("Expected ErrQuotaExceeded, got %v", err)
		}
	})

	t.Run("Accepted", func(t *testing.T) {
		op, err := q.Submit(ctx, "acme", models.BatchCommand, items(3))
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		if op.Status != models.BatchQueued {
			t.Errorf("Expected queued, got %s", op.Status)
		}
		if op.Progress.Total != 3 {
			t.Errorf("Expected total 3, got %d", op.Progress.Total)
		}
	})
}

func TestSubmitConcurrencyQuota(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	// narrow tier allows 1 concurrent batch; the queue is not started,
	// so the first batch never finishes and keeps its reservation.
	if _, err := q.Submit(ctx, "t-narrow", models.BatchCommand, items(1)); err != nil {
		t.Fatalf("First submit failed: %v", err)
	}
	_, err := q.Submit(ctx, "t-narrow", models.BatchCommand, items(1))
	if !errors.Is(err, gate.ErrQuotaExceeded) {
		t.Errorf("Expected concurrent batch quota denial, got %v", err)
	}
}

func TestQueueProcessesBatch(t *testing.T) {
	var mu sync.Mutex
	var executed []string
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		mu.Lock()
		executed = append(executed, item.ID)
		mu.Unlock()
		return map[string]interface{}{"ok": true}, nil
	})

	q := newQueue(t, executor, fastConfig())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(context.Background(), "acme", models.BatchCommand, items(3))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	final := waitForStatus(t, q, op.ID, models.BatchCompleted)
	if final.Progress.Completed != 3 || final.Progress.Failed != 0 {
		t.Errorf("Unexpected progress: %+v", final.Progress)
	}
	if len(final.Results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(final.Results))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(executed) != 3 {
		t.Errorf("Expected 3 executions, got %d", len(executed))
	}
}

func TestItemFailuresAreIndependent(t *testing.T) {
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		if item.ID == "item-1" {
			return nil, fmt.Errorf("boom")
		}
		return nil, nil
	})

	q := newQueue(t, executor, fastConfig())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(context.Background(), "acme", models.BatchCommand, items(3))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// A single failed item makes the whole batch failed, but never
	// stops the remaining items from running.
	final := waitForStatus(t, q, op.ID, models.BatchFailed)
	if final.Progress.Completed != 2 || final.Progress.Failed != 1 {
		t.Errorf("Expected 2 completed and 1 failed, got %+v", final.Progress)
	}
	for _, r := range final.Results {
		if r.ItemID == "item-1" {
			if r.Success || r.Error == "" {
				t.Errorf("Expected recorded failure for item-1, got %+v", r)
			}
		} else if !r.Success {
			t.Errorf("Expected success for %s, got %+v", r.ItemID, r)
		}
	}
}

func TestAllItemsFailedMarksBatchFailed(t *testing.T) {
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})

	q := newQueue(t, executor, fastConfig())
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(context.Background(), "acme", models.BatchCommand, items(2))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStatus(t, q, op.ID, models.BatchFailed)
}

func TestPriorityOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		mu.Lock()
		order = append(order, tenantID)
		mu.Unlock()
		return nil, nil
	})

	config := fastConfig()
	config.MaxConcurrentBatches = 1
	q := newQueue(t, executor, config)

	ctx := context.Background()
	// Submit before starting so the first tick sees all three.
	first, _ := q.Submit(ctx, "basic-1", models.BatchCommand, items(1))
	second, _ := q.Submit(ctx, "basic-2", models.BatchCommand, items(1))
	prio, _ := q.Submit(ctx, "t-prio", models.BatchCommand, items(1))

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	waitForStatus(t, q, first.ID, models.BatchCompleted)
	waitForStatus(t, q, second.ID, models.BatchCompleted)
	waitForStatus(t, q, prio.ID, models.BatchCompleted)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("Expected 3 executions, got %d", len(order))
	}
	// Higher tier weight drains first; equal weights keep submission order.
	if order[0] != "t-prio" {
		t.Errorf("Expected t-prio first, got %v", order)
	}
	if order[1] != "basic-1" || order[2] != "basic-2" {
		t.Errorf("Expected FIFO among equal priorities, got %v", order)
	}
}

func TestConcurrencyBound(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	running := 0
	peak := 0
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		<-release
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	})

	config := fastConfig()
	config.MaxConcurrentBatches = 2
	q := newQueue(t, executor, config)
	ctx := context.Background()

	var ops []models.BatchOperation
	for i := 0; i < 4; i++ {
		op, err := q.Submit(ctx, fmt.Sprintf("tenant-%d", i), models.BatchCommand, items(1))
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		ops = append(ops, op)
	}

	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	// Let the scheduler run a few ticks, then let workers finish.
	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, op := range ops {
		waitForStatus(t, q, op.ID, models.BatchCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 2 {
		t.Errorf("Expected at most 2 concurrent batches, saw %d", peak)
	}
}

func TestCancelQueuedBatch(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	op, err := q.Submit(ctx, "t-narrow", models.BatchCommand, items(1))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := q.Cancel(ctx, "t-narrow", op.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	got, _ := q.Status(op.ID)
	if got.Status != models.BatchCancelled {
		t.Errorf("Expected cancelled, got %s", got.Status)
	}

	// The concurrency reservation is released on cancel.
	if _, err := q.Submit(ctx, "t-narrow", models.BatchCommand, items(1)); err != nil {
		t.Errorf("Expected reservation released, got %v", err)
	}
}

func TestCancelProcessingBatch(t *testing.T) {
	started := make(chan struct{})
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})

	q := newQueue(t, executor, fastConfig())
	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(ctx, "acme", models.BatchCommand, items(3))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	if err := q.Cancel(ctx, "acme", op.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	final := waitForStatus(t, q, op.ID, models.BatchCancelled)
	if final.Progress.Done() {
		t.Error("Cancelled batch should not have processed every item")
	}
}

func TestCancelDuringFinalItem(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	executor := FuncExecutor(func(ctx context.Context, tenantID string, item models.BatchOperationItem) (interface{}, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return map[string]interface{}{"ok": true}, nil
	})

	q := newQueue(t, executor, fastConfig())
	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(ctx, "acme", models.BatchCommand, items(1))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	<-started
	if err := q.Cancel(ctx, "acme", op.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	// The cancel is visible before the in-flight item finishes.
	got, err := q.Status(op.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if got.Status != models.BatchCancelled {
		t.Fatalf("Expected cancelled while item in flight, got %s", got.Status)
	}

	// Let the last item finish; it must not flip the batch back to
	// completed, though its result is still recorded.
	close(release)
	deadline := time.Now().Add(2 * time.Second)
	var final models.BatchOperation
	for time.Now().Before(deadline) {
		final, _ = q.Status(op.ID)
		if final.CompletedAt != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if final.CompletedAt == nil {
		t.Fatal("Timed out waiting for the worker to finish")
	}
	if final.Status != models.BatchCancelled {
		t.Errorf("Expected cancelled after item completion, got %s", final.Status)
	}
	if len(final.Results) != 1 || !final.Results[0].Success {
		t.Errorf("Expected the in-flight item's result recorded, got %+v", final.Results)
	}
	if final.Progress.Completed != 1 {
		t.Errorf("Expected progress to count the finished item, got %+v", final.Progress)
	}
}

func TestCancelErrors(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	if err := q.Cancel(ctx, "acme", "no-such-batch"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Expected ErrBatchNotFound, got %v", err)
	}

	op, _ := q.Submit(ctx, "acme", models.BatchCommand, items(1))

	// Another tenant's cancel reads as not found and has no effect.
	if err := q.Cancel(ctx, "rival", op.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("Expected ErrBatchNotFound for wrong tenant, got %v", err)
	}
	if got, _ := q.Status(op.ID); got.Status != models.BatchQueued {
		t.Errorf("Expected batch untouched by wrong-tenant cancel, got %s", got.Status)
	}

	_ = q.Cancel(ctx, "acme", op.ID)
	if err := q.Cancel(ctx, "acme", op.ID); !errors.Is(err, ErrBatchTerminal) {
		t.Errorf("Expected ErrBatchTerminal, got %v", err)
	}
}

func TestObserverSeesTransitions(t *testing.T) {
	q := newQueue(t, nil, fastConfig())

	var mu sync.Mutex
	var statuses []models.BatchStatus
	q.AddObserver(func(op models.BatchOperation) {
		mu.Lock()
		statuses = append(statuses, op.Status)
		mu.Unlock()
	})

	ctx := context.Background()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer q.Stop()

	op, err := q.Submit(ctx, "acme", models.BatchCommand, items(1))
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitForStatus(t, q, op.ID, models.BatchCompleted)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(statuses)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if statuses[0] != models.BatchQueued {
		t.Errorf("Expected first notification queued, got %s", statuses[0])
	}
	seen := map[models.BatchStatus]bool{}
	for _, s := range statuses {
		seen[s] = true
	}
	for _, want := range []models.BatchStatus{models.BatchQueued, models.BatchProcessing, models.BatchCompleted} {
		if !seen[want] {
			t.Errorf("Expected a %s notification, got %v", want, statuses)
		}
	}
}

func TestStatusReturnsSnapshot(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	op, _ := q.Submit(ctx, "acme", models.BatchCommand, items(2))
	snap, err := q.Status(op.ID)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}

	// Mutating the snapshot must not leak into the queue's copy.
	snap.Items[0].ID = "mutated"
	snap.Status = models.BatchFailed

	fresh, _ := q.Status(op.ID)
	if fresh.Items[0].ID == "mutated" {
		t.Error("Snapshot items alias internal state")
	}
	if fresh.Status != models.BatchQueued {
		t.Errorf("Expected queued, got %s", fresh.Status)
	}
}

func TestListByTenant(t *testing.T) {
	q := newQueue(t, nil, fastConfig())
	ctx := context.Background()

	_, _ = q.Submit(ctx, "acme", models.BatchCommand, items(1))
	_, _ = q.Submit(ctx, "acme", models.BatchCommand, items(1))
	_, _ = q.Submit(ctx, "globex", models.BatchCommand, items(1))

	if got := len(q.ListByTenant("acme")); got != 2 {
		t.Errorf("Expected 2 batches for acme, got %d", got)
	}
	if got := len(q.ListByTenant("globex")); got != 1 {
		t.Errorf("Expected 1 batch for globex, got %d", got)
	}
	if got := len(q.ListByTenant("nobody")); got != 0 {
		t.Errorf("Expected 0 batches for unknown tenant, got %d", got)
	}
}
