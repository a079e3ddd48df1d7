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

// OrderingPolicy selects how a Context View orders its result (§3).
type OrderingPolicy int

const (
	OrderingRecency OrderingPolicy = iota
	OrderingType
	OrderingAgent
)

func ParseOrderingPolicy(s string) (OrderingPolicy, bool) {
	switch s {
	case "recency", "Recency":
		return OrderingRecency, true
	case "type", "Type":
		return OrderingType, true
	case "agent", "Agent":
		return OrderingAgent, true
	default:
		return OrderingRecency, false
	}
}

// FilterKind discriminates the FrameFilter tagged union.
type FilterKind int

const (
	FilterByType FilterKind = iota
	FilterByAgent
)

// FrameFilter is one conjunctive filter term of a ViewPolicy (§3).
type FrameFilter struct {
	Kind  FilterKind
	Value string
}

func ByType(t string) FrameFilter  { return FrameFilter{Kind: FilterByType, Value: t} }
func ByAgent(a string) FrameFilter { return FrameFilter{Kind: FilterByAgent, Value: a} }

// ViewPolicy bounds, filters and orders a Context View retrieval (§3).
type ViewPolicy struct {
	MaxFrames int
	Ordering  OrderingPolicy
	Filters   []FrameFilter
}
