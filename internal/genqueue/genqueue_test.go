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

package genqueue

import (
	"context"
	"testing"
	"time"

	"github.com/jerkytreats/framegraph/internal/model"
)

func mustPush(t *testing.T, q *Queue, priority model.Priority, task *Task) {
	t.Helper()
	if err := q.Push(priority, task); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
}

func TestPopReturnsHighestPriorityFirst(t *testing.T) {
	q := NewQueue(0, 0)
	low := &Task{Item: model.GenerationItem{FrameType: "low"}}
	high := &Task{Item: model.GenerationItem{FrameType: "high"}}
	mustPush(t, q, model.PriorityLow, low)
	mustPush(t, q, model.PriorityUrgent, high)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, ok := q.Pop(ctx)
	if !ok {
		t.Fatalf("Pop() ok=false")
	}
	if got.Item.FrameType != "high" {
		t.Fatalf("Pop() = %+v, want urgent task first", got)
	}
}

func TestPopPreservesFIFOWithinPriority(t *testing.T) {
	q := NewQueue(0, 0)
	first := &Task{Item: model.GenerationItem{FrameType: "first"}}
	second := &Task{Item: model.GenerationItem{FrameType: "second"}}
	mustPush(t, q, model.PriorityNormal, first)
	mustPush(t, q, model.PriorityNormal, second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got1, _ := q.Pop(ctx)
	got2, _ := q.Pop(ctx)
	if got1.Item.FrameType != "first" || got2.Item.FrameType != "second" {
		t.Fatalf("Pop() order = %q, %q, want first, second", got1.Item.FrameType, got2.Item.FrameType)
	}
}

func TestPopBlocksUntilPush(t *testing.T) {
	q := NewQueue(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan *Task, 1)
	go func() {
		got, _ := q.Pop(ctx)
		done <- got
	}()

	time.Sleep(50 * time.Millisecond)
	task := &Task{Item: model.GenerationItem{FrameType: "late"}}
	mustPush(t, q, model.PriorityNormal, task)

	select {
	case got := <-done:
		if got == nil || got.Item.FrameType != "late" {
			t.Fatalf("Pop() = %+v, want late task", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not unblock after Push")
	}
}

func TestPopUnblocksOnContextCancel(t *testing.T) {
	q := NewQueue(0, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Pop(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop() ok=true after context cancellation, want false")
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not unblock after context cancel")
	}
}

func TestPushBeyondCapacityFailsWithoutAlteringState(t *testing.T) {
	q := NewQueue(2, 0)
	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "a"}})
	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "b"}})

	if err := q.Push(model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "c"}}); model.KindOf(err) != model.KindConfigError {
		t.Fatalf("Push() beyond capacity kind = %v, want ConfigError", model.KindOf(err))
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len() after rejected Push = %d, want 2 (queue state unchanged)", got)
	}
}

func TestPushBatchRejectedAtomicallyOnOvercapacity(t *testing.T) {
	q := NewQueue(3, 0)
	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "seed"}})

	batch := []*Task{
		{Item: model.GenerationItem{FrameType: "a"}},
		{Item: model.GenerationItem{FrameType: "b"}},
		{Item: model.GenerationItem{FrameType: "c"}},
	}
	if err := q.PushBatch(model.PriorityNormal, batch); model.KindOf(err) != model.KindConfigError {
		t.Fatalf("PushBatch() kind = %v, want ConfigError", model.KindOf(err))
	}
	if got := q.Len(); got != 1 {
		t.Fatalf("Len() after rejected PushBatch = %d, want 1 (no item from the batch enqueued)", got)
	}
}

func TestPushBatchAcceptedWithinCapacity(t *testing.T) {
	q := NewQueue(5, 0)
	batch := []*Task{
		{Item: model.GenerationItem{FrameType: "a"}},
		{Item: model.GenerationItem{FrameType: "b"}},
	}
	if err := q.PushBatch(model.PriorityNormal, batch); err != nil {
		t.Fatalf("PushBatch() failed: %v", err)
	}
	if got := q.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
}

func TestStatsTracksDequeueAndTerminalCounts(t *testing.T) {
	q := NewQueue(0, 0)
	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "a"}})
	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "b"}})

	if s := q.Stats(); s.Pending != 2 || s.Processing != 0 {
		t.Fatalf("Stats() before Pop = %+v, want Pending=2 Processing=0", s)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	t1, _ := q.Pop(ctx)
	if s := q.Stats(); s.Pending != 1 || s.Processing != 1 {
		t.Fatalf("Stats() after one Pop = %+v, want Pending=1 Processing=1", s)
	}

	q.noteCompleted()
	if s := q.Stats(); s.Processing != 0 || s.Completed != 1 {
		t.Fatalf("Stats() after noteCompleted = %+v, want Processing=0 Completed=1", s)
	}

	t2, _ := q.Pop(ctx)
	q.noteFailed()
	if s := q.Stats(); s.Failed != 1 {
		t.Fatalf("Stats() after noteFailed = %+v, want Failed=1", s)
	}

	if t1.Item.FrameType == t2.Item.FrameType {
		t.Fatalf("expected distinct tasks, got %q twice", t1.Item.FrameType)
	}
}

type fakeGenerator struct {
	frame *model.Frame
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, _ model.GenerationItem) (*model.Frame, error) {
	return g.frame, g.err
}

func TestPoolGrowShrinkSize(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 10)
	gen := &fakeGenerator{frame: &model.Frame{FrameType: "ok"}}

	pool := NewPool(context.Background(), func(id int) *Worker {
		return NewWorker(id, q, gen, limits, RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, results)
	})

	pool.Grow()
	pool.Grow()
	if pool.Size() != 2 {
		t.Fatalf("Size() = %d, want 2", pool.Size())
	}
	pool.Shrink()
	if pool.Size() != 1 {
		t.Fatalf("Size() after Shrink = %d, want 1", pool.Size())
	}
	pool.StopAll()
	if pool.Size() != 0 {
		t.Fatalf("Size() after StopAll = %d, want 0", pool.Size())
	}
}

func TestPoolStartIsIdempotent(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 10)
	gen := &fakeGenerator{frame: &model.Frame{FrameType: "ok"}}

	pool := NewPool(context.Background(), func(id int) *Worker {
		return NewWorker(id, q, gen, limits, DefaultRetryPolicy(), results)
	})

	pool.Start(3)
	pool.Start(3)
	if got := pool.Size(); got != 3 {
		t.Fatalf("Size() after two Start(3) calls = %d, want 3 (second call is a no-op)", got)
	}
}

func TestPoolStopIsIdempotent(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 10)
	gen := &fakeGenerator{frame: &model.Frame{FrameType: "ok"}}

	pool := NewPool(context.Background(), func(id int) *Worker {
		return NewWorker(id, q, gen, limits, DefaultRetryPolicy(), results)
	})

	pool.Start(2)
	pool.Stop()
	pool.Stop()
	if got := pool.Size(); got != 0 {
		t.Fatalf("Size() after two Stop() calls = %d, want 0", got)
	}
}

func TestWorkerProcessesTaskAndPublishesResult(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 1)
	wantFrame := &model.Frame{FrameType: "summary"}
	gen := &fakeGenerator{frame: wantFrame}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := NewWorker(1, q, gen, limits, RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond}, results)
	go w.Run(ctx)

	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "summary"}})

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("Result.Err = %v, want nil", r.Err)
		}
		if r.Frame != wantFrame {
			t.Fatalf("Result.Frame = %v, want %v", r.Frame, wantFrame)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not publish a result in time")
	}
	w.Kill()
}

func TestWorkerFailsImmediatelyOnAuthError(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 1)
	gen := &fakeGenerator{err: model.NewProviderError(model.KindProviderAuthFailed, "bad key", nil)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := NewWorker(1, q, gen, limits, RetryPolicy{MaxRetries: 5, EscalateThreshold: 2, BaseDelay: time.Millisecond}, results)
	go w.Run(ctx)

	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "x"}})

	select {
	case r := <-results:
		if model.KindOf(r.Err) != model.KindProviderAuthFailed {
			t.Fatalf("Result.Err kind = %v, want ProviderAuthFailed", model.KindOf(r.Err))
		}
		if r.Task.RetryCount != 0 {
			t.Fatalf("Task.RetryCount = %d, want 0 (no retry on auth failure)", r.Task.RetryCount)
		}
	case <-time.After(time.Second):
		t.Fatal("worker did not publish a result in time")
	}
	w.Kill()
}

func TestWorkerRequeuesRateLimitErrorAndEventuallySucceeds(t *testing.T) {
	q := NewQueue(0, 0)
	limits := NewRateLimiters(1000, 10)
	results := make(chan Result, 4)
	wantFrame := &model.Frame{FrameType: "ok"}
	gen := &flakyGenerator{frame: wantFrame, failTimes: 1, err: model.NewProviderError(model.KindProviderRateLimit, "rate limited", nil)}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := NewWorker(1, q, gen, limits, RetryPolicy{MaxRetries: 5, EscalateThreshold: 2, BaseDelay: time.Millisecond}, results)
	go w.Run(ctx)

	mustPush(t, q, model.PriorityNormal, &Task{Item: model.GenerationItem{FrameType: "flaky"}})

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("Result.Err = %v, want nil after retry succeeds", r.Err)
		}
		if r.Task.RetryCount != 1 {
			t.Fatalf("Task.RetryCount = %d, want 1", r.Task.RetryCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not publish a result in time")
	}
	w.Kill()
}

type flakyGenerator struct {
	frame     *model.Frame
	err       error
	failTimes int
	calls     int
}

func (g *flakyGenerator) Generate(_ context.Context, _ model.GenerationItem) (*model.Frame, error) {
	g.calls++
	if g.calls <= g.failTimes {
		return nil, g.err
	}
	return g.frame, nil
}
