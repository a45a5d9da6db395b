// Package batch runs tenant-submitted bulk operations through a
// priority queue with bounded concurrency. Batches from higher-weight
// tiers drain first; equal weights drain in submission order.
package batch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodingButter/team-dashboard-sub004/pkg/audit"
	"github.com/CodingButter/team-dashboard-sub004/pkg/gate"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/metrics"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
)

var (
	// ErrBatchNotFound is returned when no batch exists for an ID
	ErrBatchNotFound = errors.New("batch not found")
	// ErrBatchTerminal is returned when cancelling an already finished batch
	ErrBatchTerminal = errors.New("batch already reached a terminal status")
	// ErrEmptyBatch is returned for submissions with no items
	ErrEmptyBatch = errors.New("batch contains no items")
)

// Observer is notified after every batch status transition. Callbacks
// receive an isolated snapshot and run outside the queue lock.
type Observer func(op models.BatchOperation)

// Config controls queue concurrency and pacing
type Config struct {
	// MaxConcurrentBatches bounds how many batches process simultaneously
	MaxConcurrentBatches int `json:"max_concurrent_batches"`
	// TickInterval is the scheduler cadence
	TickInterval time.Duration `json:"tick_interval"`
	// ItemTimeout bounds each item's execution
	ItemTimeout time.Duration `json:"item_timeout"`
}

// DefaultConfig returns production queue settings
func DefaultConfig() Config {
	return Config{
		MaxConcurrentBatches: 5,
		TickInterval:         time.Second,
		ItemTimeout:          30 * time.Second,
	}
}

type entry struct {
	id       string
	priority int
	seq      uint64
	index    int
}

// priorityQueue orders by priority descending, then submission order
type priorityQueue []*entry

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*pq)
	*pq = append(*pq, e)
}

func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return e
}

// Queue accepts, schedules, and processes batch operations
type Queue struct {
	executor  Executor
	gate      *gate.Gate
	sink      audit.Sink
	collector metrics.Collector
	logger    logging.Logger
	config    Config
	clock     func() time.Time

	mu        sync.Mutex
	pq        priorityQueue
	batches   map[string]*models.BatchOperation
	byTenant  map[string][]string
	cancels   map[string]context.CancelFunc
	observers []Observer
	seq       uint64
	active    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewQueue creates a batch queue
func NewQueue(executor Executor, g *gate.Gate, sink audit.Sink, collector metrics.Collector, logger logging.Logger, config Config) *Queue {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if collector == nil {
		collector = metrics.NopCollector{}
	}
	if config.MaxConcurrentBatches <= 0 {
		config.MaxConcurrentBatches = DefaultConfig().MaxConcurrentBatches
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultConfig().TickInterval
	}
	return &Queue{
		executor:  executor,
		gate:      g,
		sink:      sink,
		collector: collector,
		logger:    logger,
		config:    config,
		clock:     time.Now,
		batches:   make(map[string]*models.BatchOperation),
		byTenant:  make(map[string][]string),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// Start launches the scheduler loop
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return nil
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.running = true
	q.wg.Add(1)
	go q.schedulerLoop()
	return nil
}

// Stop halts scheduling, cancels in-flight batches, and waits for
// their workers to wind down.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

// AddObserver registers a status-transition callback
func (q *Queue) AddObserver(observer Observer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.observers = append(q.observers, observer)
}

// Submit validates a batch against tenant quotas and enqueues it.
// Size and concurrency admission happen inside the gate's critical
// section, so two racing submissions cannot both slip under the limit.
func (q *Queue) Submit(ctx context.Context, tenantID string, opType models.BatchOperationType, items []models.BatchOperationItem) (models.BatchOperation, error) {
	if len(items) == 0 {
		return models.BatchOperation{}, ErrEmptyBatch
	}
	if tenantID == "" {
		return models.BatchOperation{}, &models.ValidationError{Field: "tenant_id", Message: "batch requires a tenant"}
	}

	sizeDecision := q.gate.CheckQuota(ctx, tenantID, models.ResourceBatchSize, len(items))
	if !sizeDecision.Allowed {
		q.collector.IncrementCounter(metrics.QuotaDenials.Name, metrics.Labels("resource", string(models.ResourceBatchSize)))
		return models.BatchOperation{}, fmt.Errorf("%w: %s", gate.ErrQuotaExceeded, sizeDecision.Reason)
	}
	if err := q.gate.Reserve(ctx, tenantID, models.ResourceBatches, 1); err != nil {
		q.collector.IncrementCounter(metrics.QuotaDenials.Name, metrics.Labels("resource", string(models.ResourceBatches)))
		return models.BatchOperation{}, err
	}

	op := &models.BatchOperation{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Type:      opType,
		Items:     append([]models.BatchOperationItem(nil), items...),
		Status:    models.BatchQueued,
		Priority:  q.gate.PriorityOf(tenantID),
		Progress:  models.BatchProgress{Total: len(items)},
		CreatedAt: q.clock(),
	}

	q.mu.Lock()
	q.seq++
	q.batches[op.ID] = op
	q.byTenant[tenantID] = append(q.byTenant[tenantID], op.ID)
	heap.Push(&q.pq, &entry{id: op.ID, priority: op.Priority, seq: q.seq})
	depth := q.pq.Len()
	q.mu.Unlock()

	q.collector.IncrementCounter(metrics.BatchesSubmitted.Name, metrics.Labels("type", string(opType)))
	q.collector.SetGauge(metrics.BatchQueueDepth.Name, float64(depth), nil)
	q.sink.Record(ctx, audit.EventBatchSubmitted, "submit", tenantID, audit.OutcomeSuccess, map[string]interface{}{
		"batch_id": op.ID,
		"type":     string(opType),
		"items":    len(items),
		"priority": op.Priority,
	})
	q.logger.Info("batch submitted",
		logging.String("batch_id", op.ID),
		logging.String("tenant_id", tenantID),
		logging.Int("items", len(items)),
		logging.Int("priority", op.Priority))

	q.notify(snapshot(op))
	return snapshot(op), nil
}

// Cancel stops a batch on behalf of its owning tenant. Queued batches
// are cancelled immediately. Processing batches are marked cancelled at
// once and stop cooperatively: the in-flight item runs to completion
// and its result is recorded, but the terminal status stays cancelled.
// A batch owned by another tenant reads as not found.
func (q *Queue) Cancel(ctx context.Context, tenantID, batchID string) error {
	q.mu.Lock()
	op, ok := q.batches[batchID]
	if !ok || op.TenantID != tenantID {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	if op.Status.IsTerminal() {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrBatchTerminal, batchID, op.Status)
	}

	if op.Status == models.BatchQueued {
		q.finishLocked(op, models.BatchCancelled)
		snap := snapshot(op)
		q.mu.Unlock()

		q.sink.Record(ctx, audit.EventBatchCancelled, "cancel", op.TenantID, audit.OutcomeSuccess, map[string]interface{}{"batch_id": batchID})
		q.notify(snap)
		return nil
	}

	// Processing: mark cancelled now so the status is visible
	// immediately, then signal the worker. The worker records the
	// in-flight item's result and finishes the transition.
	op.Status = models.BatchCancelled
	if cancel, ok := q.cancels[batchID]; ok {
		cancel()
	}
	snap := snapshot(op)
	q.mu.Unlock()

	q.sink.Record(ctx, audit.EventBatchCancelled, "cancel", op.TenantID, audit.OutcomeSuccess, map[string]interface{}{"batch_id": batchID})
	q.notify(snap)
	return nil
}

// Status returns an isolated snapshot of one batch
func (q *Queue) Status(batchID string) (models.BatchOperation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.batches[batchID]
	if !ok {
		return models.BatchOperation{}, fmt.Errorf("%w: %s", ErrBatchNotFound, batchID)
	}
	return snapshot(op), nil
}

// ListByTenant returns snapshots of every batch a tenant has submitted
func (q *Queue) ListByTenant(tenantID string) []models.BatchOperation {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := q.byTenant[tenantID]
	ops := make([]models.BatchOperation, 0, len(ids))
	for _, id := range ids {
		if op, ok := q.batches[id]; ok {
			ops = append(ops, snapshot(op))
		}
	}
	return ops
}

// Depth returns the number of batches waiting to start
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pq.Len()
}

func (q *Queue) schedulerLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.dispatch()
		}
	}
}

// dispatch starts as many queued batches as the concurrency bound allows
func (q *Queue) dispatch() {
	var started []models.BatchOperation

	q.mu.Lock()
	for q.active < q.config.MaxConcurrentBatches && q.pq.Len() > 0 {
		e := heap.Pop(&q.pq).(*entry)
		op, ok := q.batches[e.id]
		if !ok || op.Status != models.BatchQueued {
			continue
		}

		now := q.clock()
		op.Status = models.BatchProcessing
		op.StartedAt = &now
		q.active++

		workerCtx, cancel := context.WithCancel(q.ctx)
		q.cancels[op.ID] = cancel

		q.collector.IncrementGauge(metrics.ActiveBatches.Name, nil)
		q.collector.SetGauge(metrics.BatchQueueDepth.Name, float64(q.pq.Len()), nil)

		started = append(started, snapshot(op))
		q.wg.Add(1)
		go q.process(workerCtx, op.ID)
	}
	q.mu.Unlock()

	for _, snap := range started {
		q.notify(snap)
	}
}

// process runs every item of one batch, honoring cooperative
// cancellation between items. Item failures are recorded and never
// stop the rest of the batch.
func (q *Queue) process(ctx context.Context, batchID string) {
	defer q.wg.Done()

	q.mu.Lock()
	op, ok := q.batches[batchID]
	if !ok {
		q.mu.Unlock()
		return
	}
	tenantID := op.TenantID
	items := op.Items
	opType := op.Type
	started := *op.StartedAt
	q.mu.Unlock()

	q.sink.Record(ctx, audit.EventBatchStarted, "start", tenantID, audit.OutcomeSuccess, map[string]interface{}{"batch_id": batchID})

	cancelled := false
	for _, item := range items {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		itemCtx := ctx
		var itemCancel context.CancelFunc
		if q.config.ItemTimeout > 0 {
			itemCtx, itemCancel = context.WithTimeout(ctx, q.config.ItemTimeout)
		}
		output, err := q.executor.Execute(itemCtx, tenantID, item)
		if itemCancel != nil {
			itemCancel()
		}

		result := models.BatchOperationResult{
			ItemID:      item.ID,
			Success:     err == nil,
			Output:      output,
			CompletedAt: q.clock(),
		}
		outcome := "success"
		if err != nil {
			result.Error = err.Error()
			outcome = "failure"
			q.logger.Warn("batch item failed",
				logging.String("batch_id", batchID),
				logging.String("item_id", item.ID),
				logging.Err(err))
		}
		q.collector.IncrementCounter(metrics.BatchItemsProcessed.Name, metrics.Labels("type", string(item.Type), "outcome", outcome))

		q.mu.Lock()
		op.Results = append(op.Results, result)
		if err == nil {
			op.Progress.Completed++
		} else {
			op.Progress.Failed++
		}
		q.mu.Unlock()
	}

	q.mu.Lock()
	var status models.BatchStatus
	switch {
	case cancelled || op.Status == models.BatchCancelled:
		status = models.BatchCancelled
	case op.Progress.Failed > 0:
		status = models.BatchFailed
	default:
		status = models.BatchCompleted
	}
	q.finishLocked(op, status)
	snap := snapshot(op)
	q.mu.Unlock()

	duration := q.clock().Sub(started)
	q.collector.DecrementGauge(metrics.ActiveBatches.Name, nil)
	q.collector.ObserveHistogram(metrics.BatchDuration.Name, duration.Seconds(), metrics.Labels("type", string(opType), "status", string(status)))
	q.sink.Record(context.Background(), audit.EventBatchCompleted, "finish", tenantID, outcomeFor(status), map[string]interface{}{
		"batch_id":  batchID,
		"status":    string(status),
		"completed": snap.Progress.Completed,
		"failed":    snap.Progress.Failed,
	})
	q.logger.Info("batch finished",
		logging.String("batch_id", batchID),
		logging.String("status", string(status)),
		logging.Duration("duration", duration))

	q.notify(snap)
}

// finishLocked moves a batch to a terminal status and releases its
// concurrency reservation. A running worker is identified by its
// cancel entry, so a cancel that pre-marks the status does not free
// the slot early. Callers hold q.mu.
func (q *Queue) finishLocked(op *models.BatchOperation, status models.BatchStatus) {
	op.Status = status
	now := q.clock()
	op.CompletedAt = &now
	if _, running := q.cancels[op.ID]; running {
		q.active--
		delete(q.cancels, op.ID)
	}
	q.gate.Release(op.TenantID, models.ResourceBatches, 1)
}

func (q *Queue) notify(op models.BatchOperation) {
	q.mu.Lock()
	observers := append([]Observer(nil), q.observers...)
	q.mu.Unlock()
	for _, observer := range observers {
		observer(op)
	}
}

func outcomeFor(status models.BatchStatus) string {
	if status == models.BatchCompleted {
		return audit.OutcomeSuccess
	}
	return audit.OutcomeFailure
}

// snapshot deep-copies a batch so callers never see live mutation
func snapshot(op *models.BatchOperation) models.BatchOperation {
	out := *op
	out.Items = append([]models.BatchOperationItem(nil), op.Items...)
	out.Results = append([]models.BatchOperationResult(nil), op.Results...)
	if op.StartedAt != nil {
		t := *op.StartedAt
		out.StartedAt = &t
	}
	if op.CompletedAt != nil {
		t := *op.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
