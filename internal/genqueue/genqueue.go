// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package genqueue is the Generation Queue of spec.md §4.10: a bounded
// priority queue of generation items, drained by a pool of workers grown
// or shrunk at runtime (following the teacher's hammer WorkerPool shape),
// each call rate-limited per provider and retried with backoff and
// priority escalation on transient failure.
package genqueue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/jerkytreats/framegraph/internal/model"
	"k8s.io/klog/v2"
)

var tracer = otel.Tracer("framegraph/genqueue")

// DefaultMaxQueueSize bounds a Queue when the caller does not pick its own
// capacity.
const DefaultMaxQueueSize = 1000

// Task is one scheduled generation item, annotated with its plan and
// submission order for deterministic same-priority ordering.
type Task struct {
	Item       model.GenerationItem
	PlanID     string
	Level      int
	Priority   model.Priority
	RetryCount int

	seq   uint64
	index int
}

// Generator performs the actual provider call for one item.
type Generator interface {
	Generate(ctx context.Context, item model.GenerationItem) (*model.Frame, error)
}

// Result is delivered to the submitter once a task finishes, successfully
// or not, including after retries are exhausted.
type Result struct {
	Task  Task
	Frame *model.Frame
	Err   error
}

// Stats is a point-in-time snapshot of the queue's throughput counters
// (§4.10). Pending and Processing decrease as items progress; Completed
// and Failed are monotonic for the lifetime of the Queue.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

// Less orders by submission sequence: each taskHeap instance backs exactly
// one model.Priority bucket, so within it FIFO is the only ordering that
// matters.
func (h taskHeap) Less(i, j int) bool { return h[i].seq < h[j].seq }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Queue is a bounded, priority-stratified FIFO: one FIFO heap per
// model.Priority level, drained highest priority first. Pending +
// processing is held to at most maxQueueSize (§4.10, §8).
type Queue struct {
	mu           sync.Mutex
	cond         *sync.Cond
	buckets      map[model.Priority]*taskHeap
	nextSeq      uint64
	closed       bool
	maxQueueSize int

	processing int
	completed  int
	failed     int

	ma      *movingaverage.MovingAverage
	lastPop time.Time
}

// NewQueue creates an empty Queue bounded to maxQueueSize pending+processing
// tasks (DefaultMaxQueueSize if maxQueueSize <= 0). throughputWindow bounds
// how many recent dequeue rates (one per Pop after the first, taken from the
// gap since the previous Pop) feed the moving-average throughput stat.
func NewQueue(maxQueueSize, throughputWindow int) *Queue {
	if maxQueueSize <= 0 {
		maxQueueSize = DefaultMaxQueueSize
	}
	if throughputWindow <= 0 {
		throughputWindow = 64
	}
	q := &Queue{
		maxQueueSize: maxQueueSize,
		buckets: map[model.Priority]*taskHeap{
			model.PriorityUrgent: {},
			model.PriorityHigh:   {},
			model.PriorityNormal: {},
			model.PriorityLow:    {},
		},
		ma: movingaverage.New(throughputWindow),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pendingLocked sums the queued (not yet dispatched) tasks across buckets.
// Callers must hold q.mu.
func (q *Queue) pendingLocked() int {
	total := 0
	for _, h := range q.buckets {
		total += h.Len()
	}
	return total
}

// Push enqueues a task at the given priority, failing with a config-kind
// error if the queue is closed or already at capacity. Queue state is left
// unchanged on failure.
func (q *Queue) Push(priority model.Priority, t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return model.NewConfigError("queue is closed", nil)
	}
	if q.pendingLocked()+q.processing >= q.maxQueueSize {
		return model.NewConfigError(fmt.Sprintf("queue at capacity (%d)", q.maxQueueSize), nil)
	}
	t.Priority = priority
	t.seq = q.nextSeq
	q.nextSeq++
	heap.Push(q.buckets[priority], t)
	q.cond.Signal()
	return nil
}

// PushBatch enqueues every task in tasks at the given priority, or none of
// them at all if the batch would breach capacity: the capacity check and
// the inserts happen under one lock hold, so the batch is rejected
// atomically (§8).
func (q *Queue) PushBatch(priority model.Priority, tasks []*Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return model.NewConfigError("queue is closed", nil)
	}
	if q.pendingLocked()+q.processing+len(tasks) > q.maxQueueSize {
		return model.NewConfigError(fmt.Sprintf("batch of %d would exceed queue capacity (%d)", len(tasks), q.maxQueueSize), nil)
	}
	h := q.buckets[priority]
	for _, t := range tasks {
		t.Priority = priority
		t.seq = q.nextSeq
		q.nextSeq++
		heap.Push(h, t)
	}
	q.cond.Signal()
	return nil
}

// Pop blocks until a task is available (highest priority bucket first) or
// ctx is done. A successful Pop moves the task from pending to processing.
func (q *Queue) Pop(ctx context.Context) (*Task, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if t := q.popLocked(); t != nil {
			now := time.Now()
			if !q.lastPop.IsZero() {
				if d := now.Sub(q.lastPop).Seconds(); d > 0 {
					q.ma.Add(1 / d)
				}
			}
			q.lastPop = now
			q.processing++
			return t, true
		}
		if q.closed {
			return nil, false
		}
		select {
		case <-ctx.Done():
			return nil, false
		default:
		}
		q.cond.Wait()
		if ctx.Err() != nil {
			return nil, false
		}
	}
}

func (q *Queue) popLocked() *Task {
	for _, p := range []model.Priority{model.PriorityUrgent, model.PriorityHigh, model.PriorityNormal, model.PriorityLow} {
		h := q.buckets[p]
		if h.Len() > 0 {
			return heap.Pop(h).(*Task)
		}
	}
	return nil
}

// noteCompleted records that a dispatched task finished successfully.
func (q *Queue) noteCompleted() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
	q.completed++
}

// noteFailed records that a dispatched task finished unsuccessfully, with
// no further retry pending.
func (q *Queue) noteFailed() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
	q.failed++
}

// noteRequeued records that a dispatched task is being reinserted for
// retry: it leaves processing, but is neither completed nor failed.
func (q *Queue) noteRequeued() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing--
}

// Stats returns a snapshot of the queue's throughput counters (§4.10).
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:    q.pendingLocked(),
		Processing: q.processing,
		Completed:  q.completed,
		Failed:     q.failed,
	}
}

// Len reports the total number of queued tasks across all priorities.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Throughput returns the moving average of recent dequeue rates in tasks
// per second, each taken from the gap between two consecutive Pops: a rough
// proxy for drain rate.
func (q *Queue) Throughput() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ma.Avg()
}

// Close wakes any blocked Pop callers; subsequent Pushes are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// RateLimiters hands out a per-provider token-bucket limiter, creating one
// on first use.
type RateLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimiters creates a registry where every provider gets its own
// limiter of rps requests/sec with the given burst.
func NewRateLimiters(rps float64, burst int) *RateLimiters {
	return &RateLimiters{limiters: map[string]*rate.Limiter{}, rps: rps, burst: burst}
}

func (r *RateLimiters) get(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(r.rps), r.burst)
		r.limiters[provider] = l
	}
	return l
}

// Wait blocks until provider's bucket has a token or ctx ends.
func (r *RateLimiters) Wait(ctx context.Context, provider string) error {
	return r.get(provider).Wait(ctx)
}

// RetryPolicy bounds the retry/backoff/escalation behavior applied around
// each Generator call (§4.10).
type RetryPolicy struct {
	// MaxRetries is how many times a retryable failure is reinserted before
	// the worker gives up and emits a failure.
	MaxRetries int
	// EscalateThreshold is the retry count at which a still-failing task's
	// priority is bumped one step, so it doesn't starve behind newer work.
	EscalateThreshold int
	// BaseDelay is doubled per retry attempt to back off reinsertion.
	BaseDelay time.Duration
}

// DefaultRetryPolicy mirrors the original's default escalation: up to five
// retries, escalating priority after the second, starting backoff at
// 200ms and doubling.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, EscalateThreshold: 2, BaseDelay: 200 * time.Millisecond}
}

// Worker drains tasks from a Queue, rate-limiting calls to gen and
// reinserting retryable failures with backoff, and publishes a Result per
// terminally resolved task to results.
type Worker struct {
	id      int
	queue   *Queue
	gen     Generator
	limits  *RateLimiters
	retry   RetryPolicy
	results chan<- Result

	cancel context.CancelFunc
}

// NewWorker constructs a Worker bound to queue, gen and limits; Results are
// sent to results, which the caller owns and must keep drained.
func NewWorker(id int, queue *Queue, gen Generator, limits *RateLimiters, retryPolicy RetryPolicy, results chan<- Result) *Worker {
	return &Worker{id: id, queue: queue, gen: gen, limits: limits, retry: retryPolicy, results: results}
}

// Run drains the queue until ctx is done or Kill is called.
func (w *Worker) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	for {
		t, ok := w.queue.Pop(ctx)
		if !ok {
			return
		}
		w.process(ctx, t)
	}
}

// Kill stops this worker after its current task, if any, completes.
func (w *Worker) Kill() {
	if w.cancel != nil {
		w.cancel()
	}
}

// isImmediateFailure reports whether kind must fail a task outright,
// without any retry (§4.10).
func isImmediateFailure(kind model.Kind) bool {
	return kind == model.KindProviderAuthFailed || kind == model.KindProviderModelNotFound
}

func (w *Worker) process(ctx context.Context, t *Task) {
	ctx, span := tracer.Start(ctx, "genqueue.process", trace.WithAttributes(
		attribute.String("node_id", t.Item.NodeID.String()),
		attribute.String("provider", t.Item.ProviderName),
		attribute.Int("worker_id", w.id),
		attribute.Int("retry_count", t.RetryCount),
	))
	defer span.End()

	if err := w.limits.Wait(ctx, t.Item.ProviderName); err != nil {
		w.queue.noteFailed()
		w.results <- Result{Task: *t, Err: model.NewProviderError(model.KindProviderRateLimit, "rate limiter wait failed", err)}
		return
	}

	frame, genErr := w.gen.Generate(ctx, t.Item)
	if genErr == nil {
		w.queue.noteCompleted()
		w.results <- Result{Task: *t, Frame: frame}
		return
	}

	kind := model.KindOf(genErr)
	if isImmediateFailure(kind) {
		w.queue.noteFailed()
		w.results <- Result{Task: *t, Err: genErr}
		return
	}

	if t.RetryCount >= w.retry.MaxRetries {
		w.queue.noteFailed()
		w.results <- Result{Task: *t, Err: model.NewGenerationFailed(fmt.Sprintf("generation failed for node %s after %d retries: %v", t.Item.NodeID, t.RetryCount, genErr))}
		return
	}

	w.requeue(ctx, t)
}

// requeue reinserts t for another attempt after a backoff, escalating its
// priority once it has crossed the escalation threshold (§4.10). The
// worker itself is freed to pick up other work while the backoff elapses.
func (w *Worker) requeue(ctx context.Context, t *Task) {
	next := *t
	next.RetryCount++

	priority := t.Priority
	if next.RetryCount >= w.retry.EscalateThreshold && priority < model.PriorityUrgent {
		priority++
	}

	delay := w.retry.BaseDelay << uint(t.RetryCount)
	klog.Warningf("genqueue: worker %d requeuing node %s at priority %s (retry %d) after %v", w.id, t.Item.NodeID, priority, next.RetryCount, delay)

	w.queue.noteRequeued()
	go func() {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			w.results <- Result{Task: next, Err: model.NewGenerationFailed("generation canceled during retry backoff for node " + t.Item.NodeID.String())}
			return
		}
		if err := w.queue.Push(priority, &next); err != nil {
			w.results <- Result{Task: next, Err: err}
		}
	}()
}

// Pool is a dynamically sized collection of running Workers, adapted from
// the teacher's hammer WorkerPool (Grow/Shrink/Size), with an idempotent
// Start/Stop bulk lifecycle layered on top (§4.10, §8).
type Pool struct {
	mu      sync.Mutex
	workers []*Worker
	nextID  int
	factory func(id int) *Worker
	ctx     context.Context
	started bool
}

// NewPool creates an empty Pool; factory builds one new Worker per Grow
// call.
func NewPool(ctx context.Context, factory func(id int) *Worker) *Pool {
	return &Pool{factory: factory, ctx: ctx}
}

func (p *Pool) growLocked() {
	w := p.factory(p.nextID)
	p.nextID++
	p.workers = append(p.workers, w)
	go w.Run(p.ctx)
}

// Grow starts one additional worker.
func (p *Pool) Grow() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.growLocked()
	p.started = true
}

// Shrink stops the most recently started worker.
func (p *Pool) Shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) == 0 {
		return
	}
	w := p.workers[len(p.workers)-1]
	p.workers = p.workers[:len(p.workers)-1]
	w.Kill()
}

// Size reports the number of currently running workers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Start brings the pool up to n running workers. Calling Start again while
// the pool is already started is a no-op (§8): it does not start a second
// cohort of workers on top of the first.
func (p *Pool) Start(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < n; i++ {
		p.growLocked()
	}
}

// Stop kills every running worker. Calling Stop again while the pool is
// already stopped is a no-op (§8).
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	for _, w := range p.workers {
		w.Kill()
	}
	p.workers = nil
	p.started = false
}

// StopAll is an alias for Stop.
func (p *Pool) StopAll() {
	p.Stop()
}
