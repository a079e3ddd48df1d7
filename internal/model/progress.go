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

package model

import "time"

// ProgressEvent is one ordered telemetry entry within a session (§3).
type ProgressEvent struct {
	Timestamp time.Time
	SessionID string
	Seq       uint64
	EventType string
	Data      map[string]any
}

// SessionStatus is the lifecycle state of a telemetry session (§4.13).
type SessionStatus int

const (
	SessionActive SessionStatus = iota
	SessionCompleted
	SessionFailed
	SessionInterrupted
)

func (s SessionStatus) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionCompleted:
		return "completed"
	case SessionFailed:
		return "failed"
	case SessionInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// SessionRecord is the durable record of one telemetry session (§4.13).
type SessionRecord struct {
	SessionID   string
	Command     string
	StartedAtMs int64
	EndedAtMs   *int64
	Status      SessionStatus
	Error       *string
}

// PrunePolicy bounds how many completed/failed sessions survive pruning
// (§4.13).
type PrunePolicy struct {
	MaxCompleted int
	MaxAgeMs     int64
}

// DefaultPrunePolicy mirrors the original system's defaults.
func DefaultPrunePolicy() PrunePolicy {
	return PrunePolicy{
		MaxCompleted: 500,
		MaxAgeMs:     1000 * 60 * 60 * 24 * 14,
	}
}
