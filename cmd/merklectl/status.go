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
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/provideriface"
	"github.com/jerkytreats/framegraph/internal/providerconfig"
	"k8s.io/klog/v2"
)

type pathCount struct {
	Path  string `json:"path"`
	Nodes uint64 `json:"nodes"`
}

type contextCoverageEntry struct {
	AgentID           string `json:"agent_id"`
	NodesWithFrame    uint64 `json:"nodes_with_frame"`
	NodesWithoutFrame uint64 `json:"nodes_without_frame"`
	CoveragePct       uint64 `json:"coverage_pct"`
}

type treeStatus struct {
	RootHash   string      `json:"root_hash"`
	TotalNodes uint64      `json:"total_nodes"`
	Breakdown  []pathCount `json:"breakdown,omitempty"`
}

type workspaceStatus struct {
	Scanned             bool                   `json:"scanned"`
	Message             string                 `json:"message,omitempty"`
	Tree                *treeStatus            `json:"tree,omitempty"`
	ContextCoverage     []contextCoverageEntry `json:"context_coverage,omitempty"`
	TopPathsByNodeCount []pathCount            `json:"top_paths_by_node_count,omitempty"`
}

type agentStatusEntry struct {
	AgentID          string `json:"agent_id"`
	Role             string `json:"role"`
	Valid            bool   `json:"valid"`
	PromptPathExists bool   `json:"prompt_path_exists"`
}

type providerStatusEntry struct {
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`
	Model        string `json:"model"`
	Connectivity string `json:"connectivity,omitempty"`
}

type unifiedStatus struct {
	Workspace *workspaceStatus      `json:"workspace,omitempty"`
	Agents    []agentStatusEntry    `json:"agents,omitempty"`
	Providers []providerStatusEntry `json:"providers,omitempty"`
}

func runStatus(args []string) {
	fs, workspace := newFlagSet("status")
	format := fs.String("format", "text", "Output format: text or json.")
	workspaceOnly := fs.Bool("workspace-only", false, "Report only the workspace tree section.")
	agentsOnly := fs.Bool("agents-only", false, "Report only agent status.")
	providersOnly := fs.Bool("providers-only", false, "Report only provider status.")
	breakdown := fs.Bool("breakdown", false, "Include the top-level path breakdown in the tree section.")
	testConnectivity := fs.Bool("test-connectivity", false, "Attempt a trivial call against each configured provider.")
	watch := fs.Bool("watch", false, "Launch a live, auto-refreshing dashboard instead of a one-shot report.")
	fs.Parse(args)

	a, err := openApp(*workspace, "status")
	if err != nil {
		klog.Exitf("status: failed to open workspace: %v", err)
	}

	if *watch {
		runErr := runStatusWatch(a, *breakdown, *testConnectivity)
		a.close(runErr)
		if runErr != nil {
			klog.Exitf("status: %v", runErr)
		}
		return
	}

	out, buildErr := buildUnifiedStatus(a, *workspaceOnly, *agentsOnly, *providersOnly, *breakdown, *testConnectivity)
	a.close(buildErr)
	if buildErr != nil {
		klog.Exitf("status: %v", buildErr)
	}

	if *format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			klog.Exitf("status: failed to encode json: %v", err)
		}
		return
	}
	fmt.Print(formatUnifiedStatusText(out, *breakdown, *testConnectivity))
}

func buildUnifiedStatus(a *app, workspaceOnly, agentsOnly, providersOnly, breakdown, testConnectivity bool) (unifiedStatus, error) {
	anySection := workspaceOnly || agentsOnly || providersOnly
	includeWorkspace := !anySection || workspaceOnly
	includeAgents := !anySection || agentsOnly
	includeProviders := !anySection || providersOnly

	var out unifiedStatus
	if includeWorkspace {
		ws, err := buildWorkspaceStatus(a, breakdown)
		if err != nil {
			return out, err
		}
		out.Workspace = ws
	}
	if includeAgents {
		ag, err := buildAgentStatus(a)
		if err != nil {
			return out, err
		}
		out.Agents = ag
	}
	if includeProviders {
		pr, err := buildProviderStatus(a, testConnectivity)
		if err != nil {
			return out, err
		}
		out.Providers = pr
	}
	return out, nil
}

// buildWorkspaceStatus reports the tree, top-level breakdown, per-agent
// context coverage, and heaviest paths as recorded by the last scan. It
// reads the stored tree rather than rebuilding it, so it reflects the state
// as of the last `scan`, not the live filesystem.
func buildWorkspaceStatus(a *app, includeBreakdown bool) (*workspaceStatus, error) {
	root, err := a.nodes.Root()
	if err != nil {
		if model.KindOf(err) == model.KindNodeNotFound {
			return &workspaceStatus{Scanned: false, Message: "Run merklectl scan to build the tree."}, nil
		}
		return nil, err
	}

	records, err := a.nodes.ListActive()
	if err != nil {
		return nil, err
	}
	totalNodes := uint64(len(records))

	prefixCounts := map[string]uint64{}
	for _, r := range records {
		rel := strings.TrimPrefix(r.Path, a.workspaceRoot)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		first := "."
		if rel != "" {
			first = strings.SplitN(rel, string(filepath.Separator), 2)[0]
		}
		prefixCounts[first]++
	}

	var rest []pathCount
	for k, v := range prefixCounts {
		if k == "." {
			continue
		}
		rest = append(rest, pathCount{Path: k, Nodes: v})
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].Nodes > rest[j].Nodes })

	topPaths := []pathCount{{Path: ".", Nodes: totalNodes}}
	for i, r := range rest {
		if i >= 4 {
			break
		}
		topPaths = append(topPaths, pathCount{Path: r.Path + "/", Nodes: r.Nodes})
	}

	var breakdownRows []pathCount
	if includeBreakdown {
		breakdownRows = make([]pathCount, len(rest)+1)
		breakdownRows[0] = pathCount{Path: ".", Nodes: prefixCounts["."]}
		copy(breakdownRows[1:], rest)
		for i := range breakdownRows {
			if breakdownRows[i].Path != "." {
				breakdownRows[i].Path += "/"
			}
		}
	}

	coverage, err := buildContextCoverage(a, records, totalNodes)
	if err != nil {
		return nil, err
	}

	return &workspaceStatus{
		Scanned: true,
		Tree: &treeStatus{
			RootHash:   root.String(),
			TotalNodes: totalNodes,
			Breakdown:  breakdownRows,
		},
		ContextCoverage:     coverage,
		TopPathsByNodeCount: topPaths,
	}, nil
}

func buildContextCoverage(a *app, records []*model.NodeRecord, totalNodes uint64) ([]contextCoverageEntry, error) {
	agents, err := a.agents.List()
	if err != nil {
		return nil, err
	}

	var entries []contextCoverageEntry
	for _, ag := range agents {
		if ag.Role != agentconfig.RoleWriter {
			continue
		}
		frameType := "context-" + ag.AgentID
		withFrame := countNodesWithFrameType(a, records, frameType)
		var withoutFrame uint64
		if totalNodes > withFrame {
			withoutFrame = totalNodes - withFrame
		}
		var pct uint64
		if totalNodes > 0 {
			pct = (withFrame * 100) / totalNodes
		}
		entries = append(entries, contextCoverageEntry{
			AgentID:           ag.AgentID,
			NodesWithFrame:    withFrame,
			NodesWithoutFrame: withoutFrame,
			CoveragePct:       pct,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgentID < entries[j].AgentID })
	return entries, nil
}

// countNodesWithFrameType scans the active node set for a live (non
// tombstoned) head of frameType. The Head Index has no direct
// count-by-frame-type query, since it's keyed by (node, frame_type); a
// workspace-scale status report is the only caller that needs this
// aggregate, so it isn't worth indexing separately.
func countNodesWithFrameType(a *app, records []*model.NodeRecord, frameType string) uint64 {
	var count uint64
	for _, r := range records {
		if head, ok := a.heads.Get(r.NodeID, frameType); ok && head.TombstonedAt == nil {
			count++
		}
	}
	return count
}

func buildAgentStatus(a *app) ([]agentStatusEntry, error) {
	agents, err := a.agents.List()
	if err != nil {
		return nil, err
	}
	out := make([]agentStatusEntry, 0, len(agents))
	for _, ag := range agents {
		promptExists := false
		if ag.PromptPath != "" {
			if _, statErr := os.Stat(ag.PromptPath); statErr == nil {
				promptExists = true
			}
		}
		out = append(out, agentStatusEntry{
			AgentID:          ag.AgentID,
			Role:             string(ag.Role),
			Valid:            ag.Validate() == nil,
			PromptPathExists: promptExists,
		})
	}
	return out, nil
}

func buildProviderStatus(a *app, testConnectivity bool) ([]providerStatusEntry, error) {
	providers, err := a.providers.List()
	if err != nil {
		return nil, err
	}
	out := make([]providerStatusEntry, 0, len(providers))
	for _, p := range providers {
		entry := providerStatusEntry{ProviderName: p.Name, ProviderType: string(p.Type), Model: p.Model}
		if testConnectivity {
			entry.Connectivity = testProviderConnectivity(p)
		}
		out = append(out, entry)
	}
	return out, nil
}

// testProviderConnectivity only exercises the in-process echo provider for
// local backends. Concrete HTTP-backed provider clients are out of scope
// here, so connectivity for every non-local provider type is reported as
// skipped rather than attempted.
func testProviderConnectivity(p providerconfig.Config) string {
	if p.Type != providerconfig.TypeLocal {
		return "skipped"
	}
	echo := provideriface.NewEcho(p.Name)
	resp, err := echo.Chat(context.Background(), provideriface.ChatRequest{Prompt: "ping", Model: p.Model})
	if err != nil || resp.Content != "ping" {
		return "fail"
	}
	return "ok"
}

func formatUnifiedStatusText(u unifiedStatus, includeBreakdown, includeConnectivity bool) string {
	var b strings.Builder
	if u.Workspace != nil {
		b.WriteString(formatWorkspaceStatusText(u.Workspace, includeBreakdown))
	}
	if u.Agents != nil {
		b.WriteString(formatAgentStatusText(u.Agents))
	}
	if u.Providers != nil {
		b.WriteString(formatProviderStatusText(u.Providers, includeConnectivity))
	}
	return b.String()
}

func heading(title string) string {
	return title + "\n" + strings.Repeat("-", len(title)) + "\n"
}

func formatWorkspaceStatusText(w *workspaceStatus, includeBreakdown bool) string {
	var b strings.Builder
	b.WriteString(heading("Tree"))
	if !w.Scanned {
		b.WriteString("  Scanned: no\n")
		if w.Message != "" {
			fmt.Fprintf(&b, "  %s\n", w.Message)
		}
		b.WriteString("\n")
		return b.String()
	}

	rootShort := w.Tree.RootHash
	if len(rootShort) > 7 {
		rootShort = rootShort[:7]
	}
	fmt.Fprintf(&b, "  Root hash: %s...\n", rootShort)
	fmt.Fprintf(&b, "  Total nodes: %d\n", w.Tree.TotalNodes)
	b.WriteString("  Scanned: yes\n\n")

	if includeBreakdown && len(w.Tree.Breakdown) > 0 {
		b.WriteString(heading("Top-level breakdown"))
		b.WriteString(renderTable([]string{"Path", "Nodes"}, pathCountRows(w.Tree.Breakdown)))
		b.WriteString("\n")
	}

	if len(w.ContextCoverage) > 0 {
		b.WriteString(heading("Context coverage"))
		rows := make([][]string, len(w.ContextCoverage))
		for i, c := range w.ContextCoverage {
			rows[i] = []string{c.AgentID, fmt.Sprint(c.NodesWithFrame), fmt.Sprint(c.NodesWithoutFrame), fmt.Sprintf("%d%%", c.CoveragePct)}
		}
		b.WriteString(renderTable([]string{"Agent", "With frame", "Without", "Coverage"}, rows))
		b.WriteString("\n")
	}

	if len(w.TopPathsByNodeCount) > 0 {
		b.WriteString(heading("Top paths by node count"))
		b.WriteString(renderTable([]string{"Path", "Nodes"}, pathCountRows(w.TopPathsByNodeCount)))
		b.WriteString("\n")
	}
	return b.String()
}

func pathCountRows(rows []pathCount) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.Path, fmt.Sprint(r.Nodes)}
	}
	return out
}

func formatAgentStatusText(entries []agentStatusEntry) string {
	var b strings.Builder
	b.WriteString(heading("Agents"))
	if len(entries) == 0 {
		b.WriteString("No agents configured.\n\n")
		return b.String()
	}
	rows := make([][]string, len(entries))
	validCount := 0
	for i, e := range entries {
		validStr := "no"
		if e.Valid {
			validStr = "yes"
			validCount++
		}
		promptStr := "n/a"
		if e.Role == string(agentconfig.RoleWriter) {
			if e.PromptPathExists {
				promptStr = "exists"
			} else {
				promptStr = "missing"
			}
		}
		rows[i] = []string{e.AgentID, e.Role, validStr, promptStr}
	}
	b.WriteString(renderTable([]string{"Agent", "Role", "Valid", "Prompt"}, rows))
	fmt.Fprintf(&b, "\nTotal: %d agents, %d valid.\n\n", len(entries), validCount)
	return b.String()
}

func formatProviderStatusText(entries []providerStatusEntry, includeConnectivity bool) string {
	var b strings.Builder
	b.WriteString(heading("Providers"))
	if len(entries) == 0 {
		b.WriteString("No providers configured.\n\n")
		return b.String()
	}
	header := []string{"Provider", "Type", "Model"}
	if includeConnectivity {
		header = append(header, "Connectivity")
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		row := []string{e.ProviderName, e.ProviderType, e.Model}
		if includeConnectivity {
			row = append(row, formatConnectivity(e.Connectivity))
		}
		rows[i] = row
	}
	b.WriteString(renderTable(header, rows))
	fmt.Fprintf(&b, "\nTotal: %d providers.\n\n", len(entries))
	return b.String()
}

func formatConnectivity(c string) string {
	switch c {
	case "ok":
		return "OK"
	case "fail":
		return "Fail"
	case "skipped":
		return "Skipped"
	default:
		return "-"
	}
}

func renderTable(header []string, rows [][]string) string {
	var b strings.Builder
	tw := tabwriter.NewWriter(&b, 0, 2, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	tw.Flush()
	return b.String()
}
