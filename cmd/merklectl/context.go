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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"github.com/jerkytreats/framegraph/internal/contextview"
	"github.com/jerkytreats/framegraph/internal/genexec"
	"github.com/jerkytreats/framegraph/internal/genqueue"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/provideriface"
	"k8s.io/klog/v2"
)

func runContext(args []string) {
	if len(args) == 0 {
		klog.Exit("context: expected a subcommand (generate, get)")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "generate":
		runContextGenerate(rest)
	case "get":
		runContextGet(rest)
	default:
		klog.Exitf("context: unknown subcommand %q", sub)
	}
}

func runContextGenerate(args []string) {
	fs, workspace := newFlagSet("context generate")
	node := fs.String("node", "", "Target NodeID.")
	path := fs.String("path", "", "Target path.")
	agentID := fs.String("agent", "", "Writer agent_id to generate with.")
	providerName := fs.String("provider", "", "Provider name to generate with.")
	frameType := fs.String("frame-type", "", "Frame type to generate; defaults to context-<agent>.")
	force := fs.Bool("force", false, "Regenerate even if a non-stale frame already exists.")
	noRecursive := fs.Bool("no-recursive", false, "Generate only the target node, not its subtree.")
	fs.Parse(args)

	if *agentID == "" || *providerName == "" {
		klog.Exit("context generate: --agent and --provider are required")
	}
	ft := *frameType
	if ft == "" {
		ft = "context-" + *agentID
	}

	a, err := openApp(*workspace, "context-generate")
	if err != nil {
		klog.Exitf("context generate: failed to open workspace: %v", err)
	}

	runErr := doContextGenerate(a, *node, *path, *agentID, *providerName, ft, *force, !*noRecursive)
	a.close(runErr)
	if runErr != nil {
		klog.Exitf("context generate: %v", runErr)
	}
}

func doContextGenerate(a *app, node, path, agentID, providerName, frameType string, force, recursive bool) error {
	agentCfg, err := a.agents.Get(agentID)
	if err != nil {
		return err
	}
	if err := agentCfg.Validate(); err != nil {
		return err
	}
	if agentCfg.Role != agentconfig.RoleWriter {
		return model.NewUnauthorized("agent " + agentID + " is not a Writer agent")
	}
	if _, err := a.providers.Get(providerName); err != nil {
		return err
	}

	target, err := resolveTargetNode(a, node, path)
	if err != nil {
		return err
	}

	levels, err := buildGenerationLevels(a, target, recursive, agentID, providerName, frameType, force)
	if err != nil {
		return err
	}

	total := 0
	for _, l := range levels {
		total += len(l)
	}
	sessionID := a.sessionID
	plan := &model.GenerationPlan{
		PlanID:        sessionID,
		Source:        "cli",
		SessionID:     &sessionID,
		Levels:        levels,
		Priority:      model.PriorityNormal,
		FailurePolicy: model.FailurePolicyContinue,
		TargetPath:    target.String(),
		TotalNodes:    total,
		TotalLevels:   len(levels),
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	promptTemplate := ""
	if agentCfg.PromptPath != "" {
		data, readErr := os.ReadFile(agentCfg.PromptPath)
		if readErr != nil {
			return model.NewConfigError("failed to read prompt file for agent "+agentID, readErr)
		}
		promptTemplate = string(data)
	}

	registry := provideriface.NewRegistry()
	registry.Register(provideriface.NewEcho(providerName))
	generator := &provideriface.Generator{
		Registry: registry,
		Build: func(item model.GenerationItem) (provideriface.ChatRequest, error) {
			return provideriface.ChatRequest{
				Prompt:   promptTemplate + "\n\npath: " + item.Path,
				Metadata: map[string]string{"path": item.Path},
			}, nil
		},
	}

	queue := genqueue.NewQueue(genqueue.DefaultMaxQueueSize, 64)
	results := make(chan genqueue.Result, total)
	limits := genqueue.NewRateLimiters(5, 5)
	ctx := context.Background()
	pool := genqueue.NewPool(ctx, func(id int) *genqueue.Worker {
		return genqueue.NewWorker(id, queue, generator, limits, genqueue.DefaultRetryPolicy(), results)
	})
	pool.Start(2)
	defer pool.Stop()

	executor := &genexec.Executor{Queue: queue, Boundary: a.boundary, Results: results}
	genResult, err := executor.Execute(ctx, plan, func(ev genexec.Event) {
		a.telemetry.EmitEventBestEffort(a.sessionID, string(ev.Type), map[string]any{
			"level":   ev.Level,
			"node_id": ev.NodeID.String(),
		})
	})
	if err != nil {
		return err
	}
	fmt.Printf("generated %d frame(s), %d failure(s) across %d level(s)\n", genResult.TotalGenerated, genResult.TotalFailed, len(genResult.LevelSummaries))
	for nodeID, detail := range genResult.Failures {
		fmt.Printf("  failed: %s: %s\n", nodeID.String()[:7], detail.Message)
	}
	return nil
}

// buildGenerationLevels groups target (and, if recursive, its subtree) into
// dependency levels ordered deepest-first, so a node's children are always
// generated in an earlier level than the node itself.
func buildGenerationLevels(a *app, target model.NodeID, recursive bool, agentID, providerName, frameType string, force bool) ([][]model.GenerationItem, error) {
	if !recursive {
		rec, err := a.nodes.Get(target)
		if err != nil {
			return nil, err
		}
		return [][]model.GenerationItem{{itemFor(rec, agentID, providerName, frameType, force)}}, nil
	}

	levelOf := map[model.NodeID]int{}
	var visit func(id model.NodeID) (int, error)
	visit = func(id model.NodeID) (int, error) {
		if lvl, ok := levelOf[id]; ok {
			return lvl, nil
		}
		rec, err := a.nodes.Get(id)
		if err != nil {
			return 0, err
		}
		maxChild := -1
		for _, child := range rec.Children {
			clvl, err := visit(child)
			if err != nil {
				return 0, err
			}
			if clvl > maxChild {
				maxChild = clvl
			}
		}
		lvl := maxChild + 1
		levelOf[id] = lvl
		return lvl, nil
	}
	if _, err := visit(target); err != nil {
		return nil, err
	}

	maxLevel := 0
	for _, lvl := range levelOf {
		if lvl > maxLevel {
			maxLevel = lvl
		}
	}
	levels := make([][]model.GenerationItem, maxLevel+1)
	for id, lvl := range levelOf {
		rec, err := a.nodes.Get(id)
		if err != nil {
			return nil, err
		}
		levels[lvl] = append(levels[lvl], itemFor(rec, agentID, providerName, frameType, force))
	}

	var nonEmpty [][]model.GenerationItem
	for _, l := range levels {
		if len(l) > 0 {
			nonEmpty = append(nonEmpty, l)
		}
	}
	return nonEmpty, nil
}

func itemFor(rec *model.NodeRecord, agentID, providerName, frameType string, force bool) model.GenerationItem {
	nodeType := model.GenerationNodeFile
	if rec.IsDirectory() {
		nodeType = model.GenerationNodeDirectory
	}
	return model.GenerationItem{
		NodeID:       rec.NodeID,
		Path:         rec.Path,
		NodeType:     nodeType,
		AgentID:      agentID,
		ProviderName: providerName,
		FrameType:    frameType,
		Force:        force,
	}
}

func runContextGet(args []string) {
	fs, workspace := newFlagSet("context get")
	node := fs.String("node", "", "Target NodeID.")
	path := fs.String("path", "", "Target path.")
	agentID := fs.String("agent", "", "Filter to frames written by this agent_id.")
	frameType := fs.String("frame-type", "", "Filter to this frame_type.")
	maxFrames := fs.Int("max-frames", 0, "Maximum number of frames to return (0 = unbounded).")
	ordering := fs.String("ordering", "recency", "Ordering policy: recency, type, or agent.")
	combine := fs.Bool("combine", false, "Concatenate frame contents into one blob instead of listing them.")
	separator := fs.String("separator", "\n\n", "Separator used between frames when --combine is set.")
	format := fs.String("format", "text", "Output format: text or json.")
	includeMetadata := fs.Bool("include-metadata", false, "Include each frame's metadata in the output.")
	includeDeleted := fs.Bool("include-deleted", false, "Include tombstoned (deleted) frames in the output.")
	fs.Parse(args)

	orderingPolicy, ok := model.ParseOrderingPolicy(*ordering)
	if !ok {
		klog.Exitf("context get: unknown ordering %q", *ordering)
	}

	a, err := openApp(*workspace, "context-get")
	if err != nil {
		klog.Exitf("context get: failed to open workspace: %v", err)
	}

	frames, buildErr := fetchContextFrames(a, *node, *path, *agentID, *frameType, *maxFrames, orderingPolicy, *includeDeleted)
	a.close(buildErr)
	if buildErr != nil {
		klog.Exitf("context get: %v", buildErr)
	}

	if *combine {
		var b strings.Builder
		for i, f := range frames {
			if i > 0 {
				b.WriteString(*separator)
			}
			b.Write(f.Content)
		}
		fmt.Print(b.String())
		return
	}

	if *format == "json" {
		printJSON(frameOutputs(frames, *includeMetadata))
		return
	}

	for _, f := range frames {
		fmt.Printf("--- %s (%s, agent=%s) ---\n", f.FrameID.String()[:7], f.FrameType, f.AgentID)
		if *includeMetadata && len(f.Metadata) > 0 {
			fmt.Printf("metadata: %v\n", f.Metadata)
		}
		fmt.Println(string(f.Content))
		fmt.Println()
	}
}

func fetchContextFrames(a *app, node, path, agentID, frameType string, maxFrames int, ordering model.OrderingPolicy, includeDeleted bool) ([]*model.Frame, error) {
	target, err := resolveTargetNode(a, node, path)
	if err != nil {
		return nil, err
	}

	basisHash := hashid.BasisHash(model.NodeBasis(target))
	frameIDs := a.basis.FramesForBasis(basisHash)

	var filters []model.FrameFilter
	if frameType != "" {
		filters = append(filters, model.ByType(frameType))
	}
	if agentID != "" {
		filters = append(filters, model.ByAgent(agentID))
	}
	policy := model.ViewPolicy{MaxFrames: maxFrames, Ordering: ordering, Filters: filters}

	selected, err := contextview.Resolve(a.frames, frameIDs, policy)
	if err != nil {
		return nil, err
	}

	out := make([]*model.Frame, 0, len(selected))
	for _, id := range selected {
		f, err := a.frames.Get(id)
		if err != nil {
			continue
		}
		if f.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

type frameOutput struct {
	FrameID   string            `json:"frame_id"`
	FrameType string            `json:"frame_type"`
	AgentID   string            `json:"agent_id"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp_unix_ms"`
}

func frameOutputs(frames []*model.Frame, includeMetadata bool) []frameOutput {
	out := make([]frameOutput, 0, len(frames))
	for _, f := range frames {
		fo := frameOutput{
			FrameID:   f.FrameID.String(),
			FrameType: f.FrameType,
			AgentID:   f.AgentID,
			Content:   string(f.Content),
			Timestamp: f.Timestamp.UnixMilli(),
		}
		if includeMetadata {
			fo.Metadata = f.Metadata
		}
		out = append(out, fo)
	}
	return out
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		klog.Exitf("failed to encode json: %v", err)
	}
}
