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

// Package telemetry is the Telemetry Runtime of spec.md §4.13: one session
// per CLI invocation, a monotonic per-session event sequence, badger-backed
// durable storage, and a batched flush of the event stream so a long
// generation run doesn't fsync once per event.
package telemetry

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/globocom/go-buffer"
	"github.com/jerkytreats/framegraph/internal/model"
	"k8s.io/klog/v2"
)

// SessionMeta tracks the next event sequence number and latest status for a
// session, kept separate from model.SessionRecord so a hot-path seq bump
// doesn't rewrite the (larger, less frequently changing) session record.
type SessionMeta struct {
	NextSeq      uint64
	LatestStatus model.SessionStatus
	UpdatedAtMs  int64
}

var sessionCounter atomic.Uint64

func init() {
	sessionCounter.Store(1)
}

// NewSessionID produces a unique, time-ordered session identifier.
func NewSessionID() string {
	ts := time.Now().UnixMilli()
	pid := os.Getpid()
	seq := sessionCounter.Add(1) - 1
	return fmt.Sprintf("sess-%d-%d-%d", ts, pid, seq)
}

func encodeEventKey(sessionID string, seq uint64) string {
	return fmt.Sprintf("%s:%020d", sessionID, seq)
}

// Runtime is the session lifecycle surface the CLI drives: one
// StartSession/FinishSession pair per invocation, with EmitEvent in between.
// Events are pushed onto a buffer.Buffer and flushed to the Store in
// batches, so emitting progress from a busy generation run doesn't force a
// durable write per event.
type Runtime struct {
	store *Store
	buf   *buffer.Buffer

	seqMu sync.Mutex
	seq   map[string]uint64
}

// NewRuntime wires a Runtime over store, flushing buffered events in
// batches of flushSize or every flushInterval, whichever comes first.
func NewRuntime(store *Store, flushSize uint, flushInterval time.Duration) *Runtime {
	rt := &Runtime{store: store, seq: map[string]uint64{}}
	rt.buf = buffer.New(
		buffer.WithSize(flushSize),
		buffer.WithFlushInterval(flushInterval),
		buffer.WithFlusher(buffer.FlusherFunc(func(items []interface{}) {
			for _, item := range items {
				ev, ok := item.(model.ProgressEvent)
				if !ok {
					continue
				}
				if err := rt.store.AppendEvent(ev); err != nil {
					klog.Warningf("telemetry: failed to flush event for session %s: %v", ev.SessionID, err)
				}
			}
		})),
	)
	return rt
}

// StartSession records a new active session for command and returns its ID.
func (rt *Runtime) StartSession(command string) (string, error) {
	sessionID := NewSessionID()
	started := time.Now().UnixMilli()

	record := model.SessionRecord{SessionID: sessionID, Command: command, StartedAtMs: started, Status: model.SessionActive}
	if err := rt.store.PutSession(record); err != nil {
		return "", err
	}
	if err := rt.store.PutMeta(sessionID, SessionMeta{NextSeq: 1, LatestStatus: model.SessionActive, UpdatedAtMs: started}); err != nil {
		return "", err
	}

	if err := rt.EmitEvent(sessionID, "session_started", map[string]any{"command": command}); err != nil {
		return "", err
	}
	return sessionID, nil
}

// FinishSession marks sessionID completed or failed and records errMsg, if
// any.
func (rt *Runtime) FinishSession(sessionID string, success bool, errMsg string) error {
	status := model.SessionCompleted
	if !success {
		status = model.SessionFailed
	}

	data := map[string]any{"status": status.String()}
	if errMsg != "" {
		data["error"] = errMsg
	}
	if err := rt.EmitEvent(sessionID, "session_ended", data); err != nil {
		return err
	}

	record, err := rt.store.GetSession(sessionID)
	if err != nil {
		return err
	}
	ended := time.Now().UnixMilli()
	record.Status = status
	record.EndedAtMs = &ended
	if errMsg != "" {
		record.Error = &errMsg
	}
	if err := rt.store.PutSession(*record); err != nil {
		return err
	}

	if meta, err := rt.store.GetMeta(sessionID); err == nil && meta != nil {
		meta.LatestStatus = status
		meta.UpdatedAtMs = ended
		if err := rt.store.PutMeta(sessionID, *meta); err != nil {
			return err
		}
	}
	return nil
}

// EmitEvent assigns the next sequence number for sessionID and pushes the
// event onto the flush buffer.
func (rt *Runtime) EmitEvent(sessionID, eventType string, data map[string]any) error {
	seq := rt.nextSeq(sessionID)
	rt.buf.Push(model.ProgressEvent{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Seq:       seq,
		EventType: eventType,
		Data:      data,
	})
	return nil
}

// EmitEventBestEffort emits an event, logging rather than propagating any
// failure: progress telemetry must never abort the operation it describes.
func (rt *Runtime) EmitEventBestEffort(sessionID, eventType string, data map[string]any) {
	if err := rt.EmitEvent(sessionID, eventType, data); err != nil {
		klog.Warningf("telemetry: failed to emit %s for session %s: %v", eventType, sessionID, err)
	}
}

func (rt *Runtime) nextSeq(sessionID string) uint64 {
	rt.seqMu.Lock()
	defer rt.seqMu.Unlock()
	seq := rt.seq[sessionID]
	rt.seq[sessionID] = seq + 1
	return seq + 1
}

// MarkInterruptedSessions reclassifies every still-Active session as
// Interrupted; called once at startup to account for a process that died
// mid-session without reaching FinishSession.
func (rt *Runtime) MarkInterruptedSessions() (int, error) {
	return rt.store.MarkInterruptedSessions()
}

// Prune deletes completed/failed sessions that exceed policy's retention.
func (rt *Runtime) Prune(policy model.PrunePolicy) (int, error) {
	maxAge := time.Duration(policy.MaxAgeMs) * time.Millisecond
	return rt.store.PruneCompleted(policy.MaxCompleted, maxAge, time.Now())
}

// Close flushes any buffered events and releases the underlying store.
func (rt *Runtime) Close() error {
	rt.buf.Close()
	return rt.store.Close()
}

// sortSessionsByRecency orders sessions newest-started first, matching the
// original's list_sessions ordering.
func sortSessionsByRecency(sessions []model.SessionRecord) {
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].StartedAtMs > sessions[j].StartedAtMs })
}
