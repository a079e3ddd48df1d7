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

// Package genexec is the Generation Executor of spec.md §4.11: it drives a
// GenerationPlan through genqueue level by level, with a barrier between
// levels so later levels only start once every item in the current level
// has resolved, and applies the plan's FailurePolicy to decide whether to
// continue, stop, or abort. Frame writes go through the shared
// writeboundary so every generated frame gets the same validate/lock/
// store/update_head/add_basis treatment as a manually written one.
package genexec

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jerkytreats/framegraph/internal/genqueue"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/writeboundary"
)

var tracer = otel.Tracer("framegraph/genexec")

// DefaultWaitTimeout is how long EnqueueAndWait waits for a single item
// before giving up, per §4.10/§4.11.
const DefaultWaitTimeout = 300 * time.Second

// EventType enumerates the typed telemetry events a plan execution emits,
// named to match the generation lifecycle of §4.11.
type EventType string

const (
	EventGenerationStarted       EventType = "generation_started"
	EventLevelStarted            EventType = "level_started"
	EventNodeGenerationStarted   EventType = "node_generation_started"
	EventNodeGenerationCompleted EventType = "node_generation_completed"
	EventNodeGenerationFailed    EventType = "node_generation_failed"
	EventLevelCompleted          EventType = "level_completed"
	EventGenerationCompleted     EventType = "generation_completed"
	EventGenerationFailed        EventType = "generation_failed"
)

// Event is one point in a plan execution's telemetry stream.
type Event struct {
	Type    EventType
	PlanID  string
	Level   int
	NodeID  model.NodeID
	FrameID model.FrameID
	Err     error
}

// Sink receives Events on a best-effort basis; a nil Sink is a valid no-op.
type Sink func(Event)

func emit(sink Sink, e Event) {
	if sink != nil {
		sink(e)
	}
}

// Executor runs GenerationPlans against a Queue of workers and writes
// successful generations through boundary.
//
// An Executor's Results channel is shared by every worker in the pool; if
// Execute is ever called concurrently for two plans against the same
// Executor, a result belonging to the other plan/level is stashed and
// replayed once that plan's own executeLevel reaches it, rather than
// misattributed to the wrong level.
type Executor struct {
	Queue    *genqueue.Queue
	Boundary *writeboundary.Boundary
	Results  <-chan genqueue.Result

	stashMu sync.Mutex
	stash   []genqueue.Result
}

// Execute drives plan to completion (or early termination per its
// FailurePolicy), returning the aggregated GenerationResult. plan must
// already have passed Validate.
func (e *Executor) Execute(ctx context.Context, plan *model.GenerationPlan, sink Sink) (*model.GenerationResult, error) {
	ctx, span := tracer.Start(ctx, "genexec.Execute", trace.WithAttributes(
		attribute.String("plan_id", plan.PlanID),
		attribute.Int("total_nodes", plan.TotalNodes),
		attribute.Int("total_levels", plan.TotalLevels),
	))
	defer span.End()

	result := model.NewGenerationResult(plan.PlanID)
	emit(sink, Event{Type: EventGenerationStarted, PlanID: plan.PlanID})

	var aborted bool
	for levelIdx, items := range plan.Levels {
		if aborted {
			break
		}
		summary, levelErr := e.executeLevel(ctx, plan, levelIdx, items, result, sink)
		result.LevelSummaries = append(result.LevelSummaries, summary)

		switch {
		case levelErr != nil:
			aborted = true
		case summary.Failed > 0 && plan.FailurePolicy == model.FailurePolicyStopOnLevelFailure:
			aborted = true
		case summary.Failed > 0 && plan.FailurePolicy == model.FailurePolicyFailImmediately:
			aborted = true
		}
	}

	result.TotalGenerated = len(result.Successes)
	result.TotalFailed = len(result.Failures)

	finalType := EventGenerationCompleted
	failPolicyAborted := plan.FailurePolicy == model.FailurePolicyFailImmediately && result.TotalFailed > 0
	if failPolicyAborted {
		finalType = EventGenerationFailed
	}
	emit(sink, Event{Type: finalType, PlanID: plan.PlanID})
	span.SetAttributes(
		attribute.Int("total_generated", result.TotalGenerated),
		attribute.Int("total_failed", result.TotalFailed),
	)

	if failPolicyAborted {
		return result, model.NewGenerationFailed("plan " + plan.PlanID + " aborted: fail-immediately policy hit a failure")
	}
	return result, nil
}

func (e *Executor) executeLevel(ctx context.Context, plan *model.GenerationPlan, levelIdx int, items []model.GenerationItem, result *model.GenerationResult, sink Sink) (model.LevelSummary, error) {
	ctx, span := tracer.Start(ctx, "genexec.executeLevel", trace.WithAttributes(
		attribute.Int("level", levelIdx),
		attribute.Int("item_count", len(items)),
	))
	defer span.End()

	emit(sink, Event{Type: EventLevelStarted, PlanID: plan.PlanID, Level: levelIdx})

	summary := model.LevelSummary{LevelIndex: levelIdx, Total: len(items)}
	dispatched := 0
	for _, item := range items {
		task := &genqueue.Task{Item: item, PlanID: plan.PlanID, Level: levelIdx}
		if err := e.Queue.Push(plan.Priority, task); err != nil {
			summary.Failed++
			result.Failures[item.NodeID] = model.GenerationErrorDetail{Message: err.Error()}
			emit(sink, Event{Type: EventNodeGenerationFailed, PlanID: plan.PlanID, Level: levelIdx, NodeID: item.NodeID, Err: err})
			continue
		}
		emit(sink, Event{Type: EventNodeGenerationStarted, PlanID: plan.PlanID, Level: levelIdx, NodeID: item.NodeID})
		dispatched++
	}

	for i := 0; i < dispatched; i++ {
		r, err := e.nextResult(ctx, plan.PlanID, levelIdx)
		if err != nil {
			return summary, err
		}

		if r.Err != nil {
			summary.Failed++
			result.Failures[r.Task.Item.NodeID] = model.GenerationErrorDetail{Message: r.Err.Error()}
			emit(sink, Event{Type: EventNodeGenerationFailed, PlanID: plan.PlanID, Level: levelIdx, NodeID: r.Task.Item.NodeID, Err: r.Err})
			continue
		}

		if err := e.Boundary.Write(writeboundary.CapabilitySynthesis, r.Task.Item.NodeID, r.Frame); err != nil {
			summary.Failed++
			result.Failures[r.Task.Item.NodeID] = model.GenerationErrorDetail{Message: err.Error()}
			emit(sink, Event{Type: EventNodeGenerationFailed, PlanID: plan.PlanID, Level: levelIdx, NodeID: r.Task.Item.NodeID, Err: err})
			continue
		}

		summary.Generated++
		result.Successes[r.Task.Item.NodeID] = r.Frame.FrameID
		emit(sink, Event{Type: EventNodeGenerationCompleted, PlanID: plan.PlanID, Level: levelIdx, NodeID: r.Task.Item.NodeID, FrameID: r.Frame.FrameID})
	}

	emit(sink, Event{Type: EventLevelCompleted, PlanID: plan.PlanID, Level: levelIdx})
	return summary, nil
}

// nextResult returns the next result belonging to (planID, level), pulling
// from the stash first and only reading the shared channel when the stash
// has nothing usable.
func (e *Executor) nextResult(ctx context.Context, planID string, level int) (genqueue.Result, error) {
	if r, ok := e.popStash(planID, level); ok {
		return r, nil
	}
	for {
		select {
		case <-ctx.Done():
			return genqueue.Result{}, ctx.Err()
		case r := <-e.Results:
			if r.Task.PlanID == planID && r.Task.Level == level {
				return r, nil
			}
			e.stashMu.Lock()
			e.stash = append(e.stash, r)
			e.stashMu.Unlock()
		}
	}
}

func (e *Executor) popStash(planID string, level int) (genqueue.Result, bool) {
	e.stashMu.Lock()
	defer e.stashMu.Unlock()
	for i, r := range e.stash {
		if r.Task.PlanID == planID && r.Task.Level == level {
			e.stash = append(e.stash[:i], e.stash[i+1:]...)
			return r, true
		}
	}
	return genqueue.Result{}, false
}

// EnqueueAndWait submits a single item outside of any plan's level staging
// and blocks for its resolution, writing the resulting frame through the
// boundary on success (§4.10 enqueue_and_wait_with_options). It waits at
// most timeout (DefaultWaitTimeout if timeout <= 0); on expiry it returns
// model.NewGenerationFailed("timeout") without canceling the underlying
// task, which may still complete and be picked up by a later call sharing
// the same planID.
func (e *Executor) EnqueueAndWait(ctx context.Context, item model.GenerationItem, priority model.Priority, planID string, timeout time.Duration) (model.FrameID, error) {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task := &genqueue.Task{Item: item, PlanID: planID}
	if err := e.Queue.Push(priority, task); err != nil {
		return model.FrameID{}, err
	}

	r, err := e.nextResult(waitCtx, planID, 0)
	if err != nil {
		return model.FrameID{}, model.NewGenerationFailed("timeout")
	}
	if r.Err != nil {
		return model.FrameID{}, r.Err
	}
	if err := e.Boundary.Write(writeboundary.CapabilitySynthesis, r.Task.Item.NodeID, r.Frame); err != nil {
		return model.FrameID{}, err
	}
	return r.Frame.FrameID, nil
}
