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

// Command merklectl drives a single workspace's Merkle tree, frame store,
// and generation pipeline: scan, status, validate, workspace maintenance,
// context generation/retrieval, and agent/provider configuration.
package main

import (
	"flag"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/jerkytreats/framegraph/internal/agentconfig"
	"github.com/jerkytreats/framegraph/internal/basisindex"
	"github.com/jerkytreats/framegraph/internal/framestore"
	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/headindex"
	"github.com/jerkytreats/framegraph/internal/lockmgr"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/nodestore"
	"github.com/jerkytreats/framegraph/internal/pathutil"
	"github.com/jerkytreats/framegraph/internal/providerconfig"
	"github.com/jerkytreats/framegraph/internal/telemetry"
	"github.com/jerkytreats/framegraph/internal/writeboundary"
	"github.com/jerkytreats/framegraph/internal/xdgpaths"
	"k8s.io/klog/v2"
)

// initTracingOnce installs a real (if exporterless) SDK TracerProvider, so
// the spans internal/genqueue and internal/genexec start are processed by
// an actual span pipeline instead of falling back to the otel package's
// no-op default. This system ships no tracing backend of its own (spec.md
// names no exporter target), so there is nothing to batch spans to yet;
// the SDK is still worth installing over the no-op so a caller who adds an
// exporter later has a real provider to attach it to.
var initTracingOnce sync.Once

func initTracing() {
	initTracingOnce.Do(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})
}

// app bundles every durable store one merklectl invocation touches, all
// opened against the XDG data/state directories scoped to the invocation's
// workspace root.
type app struct {
	workspaceRoot string

	nodes    *nodestore.Store
	frames   *framestore.Store
	heads    *headindex.Index
	basis    *basisindex.Index
	locks    *lockmgr.Manager
	boundary *writeboundary.Boundary

	telemetryStore *telemetry.Store
	telemetry      *telemetry.Runtime
	sessionID      string

	agents    *agentconfig.Store
	providers *providerconfig.Store
}

// workspaceKey derives a stable directory-safe identifier for a canonical
// workspace root, the same way node and frame identities are derived from
// content: hash it.
func workspaceKey(canonicalRoot string) string {
	return hashid.ContentHash([]byte(canonicalRoot)).String()[:16]
}

// newFlagSet builds a FlagSet pre-registered with klog's flags (so every
// subcommand accepts -v, -logtostderr, and friends) and the -workspace flag
// shared by every command that touches a workspace.
func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	klog.InitFlags(fs)
	workspace := fs.String("workspace", "", "Workspace root directory (default: current directory).")
	return fs, workspace
}

// openApp resolves workspaceRoot (or the current directory), opens every
// store under its workspace-scoped data/state directories, reclassifies
// sessions an earlier invocation left active, and starts a new telemetry
// session tagged command.
func openApp(workspaceRoot, command string) (*app, error) {
	initTracing()

	root := workspaceRoot
	if root == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, model.NewIoError("failed to resolve current directory", err)
		}
		root = cwd
	}
	canonicalRoot, err := pathutil.Canonicalize(root)
	if err != nil {
		return nil, err
	}

	key := workspaceKey(canonicalRoot)
	dataDir := xdgpaths.WorkspaceDataDir(key)
	stateDir := xdgpaths.WorkspaceStateDir(key)
	if err := xdgpaths.EnsureDir(dataDir); err != nil {
		return nil, model.NewIoError("failed to create workspace data directory", err)
	}
	if err := xdgpaths.EnsureDir(stateDir); err != nil {
		return nil, model.NewIoError("failed to create workspace state directory", err)
	}

	nodes, err := nodestore.Open(filepath.Join(dataDir, "nodes"))
	if err != nil {
		return nil, err
	}
	frames, err := framestore.Open(filepath.Join(dataDir, "frames"))
	if err != nil {
		return nil, err
	}
	heads, err := headindex.Open(filepath.Join(dataDir, "head_index.gob"))
	if err != nil {
		return nil, err
	}
	basis, err := basisindex.Open(filepath.Join(dataDir, "basis_index.gob"))
	if err != nil {
		return nil, err
	}
	locks := lockmgr.New(0)

	telemetryStore, err := telemetry.Open(filepath.Join(stateDir, "telemetry"))
	if err != nil {
		return nil, err
	}
	rt := telemetry.NewRuntime(telemetryStore, 32, 2*time.Second)
	if changed, err := rt.MarkInterruptedSessions(); err != nil {
		klog.Warningf("merklectl: failed to reclassify interrupted sessions: %v", err)
	} else if changed > 0 {
		klog.Infof("merklectl: marked %d interrupted session(s) from a prior run", changed)
	}

	agents, err := agentconfig.Open(filepath.Join(xdgpaths.ConfigDir(), "agents"))
	if err != nil {
		return nil, err
	}
	providers, err := providerconfig.Open(filepath.Join(xdgpaths.ConfigDir(), "providers"))
	if err != nil {
		return nil, err
	}

	a := &app{
		workspaceRoot:  canonicalRoot,
		nodes:          nodes,
		frames:         frames,
		heads:          heads,
		basis:          basis,
		locks:          locks,
		telemetryStore: telemetryStore,
		telemetry:      rt,
		agents:         agents,
		providers:      providers,
	}
	a.boundary = &writeboundary.Boundary{
		Frames: frames,
		Heads:  heads,
		Basis:  basis,
		Locks:  locks,
		OnWritten: func(node model.NodeID, f *model.Frame) {
			a.telemetry.EmitEventBestEffort(a.sessionID, "frame_written", map[string]any{
				"node_id":    node.String(),
				"frame_id":   f.FrameID.String(),
				"frame_type": f.FrameType,
			})
		},
	}

	sessionID, err := rt.StartSession(command)
	if err != nil {
		return nil, err
	}
	a.sessionID = sessionID
	return a, nil
}

// close finishes the telemetry session with runErr's outcome, snapshots the
// in-memory indexes, and releases every durable handle. Every run* command
// function must call this exactly once before exiting.
func (a *app) close(runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
	}
	if err := a.telemetry.FinishSession(a.sessionID, runErr == nil, errMsg); err != nil {
		klog.Warningf("merklectl: failed to finish telemetry session: %v", err)
	}
	if err := a.heads.Snapshot(); err != nil {
		klog.Warningf("merklectl: failed to snapshot head index: %v", err)
	}
	if err := a.basis.Snapshot(); err != nil {
		klog.Warningf("merklectl: failed to snapshot basis index: %v", err)
	}
	if err := a.telemetry.Close(); err != nil {
		klog.Warningf("merklectl: failed to close telemetry store: %v", err)
	}
	if err := a.nodes.Close(); err != nil {
		klog.Warningf("merklectl: failed to close node store: %v", err)
	}
}

// parseNodeID parses a hex NodeID, wrapping a malformed value as an
// InvalidPath error so callers can report it alongside other CLI input
// mistakes.
func parseNodeID(s string) (model.NodeID, error) {
	h, err := model.ParseHash(s)
	if err != nil {
		return model.NodeID{}, model.NewInvalidPath("invalid node id: " + s)
	}
	return model.NodeID(h), nil
}

// resolveTargetNode resolves a --node/--path pair to a NodeID, canonicalizing
// path against the workspace root when node is empty.
func resolveTargetNode(a *app, node, path string) (model.NodeID, error) {
	if node != "" {
		return parseNodeID(node)
	}
	if path == "" {
		return model.NodeID{}, model.NewInvalidPath("either --node or --path is required")
	}
	canonical, err := pathutil.Canonicalize(path)
	if err != nil {
		return model.NodeID{}, err
	}
	rec, err := a.nodes.GetByPath(canonical)
	if err != nil {
		return model.NodeID{}, err
	}
	return rec.NodeID, nil
}
