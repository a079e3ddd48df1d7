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

// Package treebuilder composes Walker + Hasher output into the Merkle DAG
// of §4.2: file nodes bottom-up, directory nodes over sorted children.
package treebuilder

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jerkytreats/framegraph/internal/hashid"
	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/pathutil"
	"github.com/jerkytreats/framegraph/internal/walker"
	"golang.org/x/sync/errgroup"
)

// MerkleNode is the in-memory representation of one built tree node, ready
// to be converted to a model.NodeRecord for durable storage.
type MerkleNode struct {
	NodeID   model.NodeID
	Path     string
	Type     model.NodeType
	Children []model.NodeID
}

// Result is the full output of a Build: the root NodeID, every node keyed
// by NodeID, and the reverse child->parent map (§4.2).
type Result struct {
	Root     model.NodeID
	Nodes    map[model.NodeID]*MerkleNode
	ParentOf map[model.NodeID]model.NodeID
}

type pendingChild struct {
	name string
	path string
	kind walker.EntryKind
}

// maxConcurrentHashes bounds file-hashing fan-out.
const maxConcurrentHashes = 16

// Build walks rootPath, hashes every file and directory, and returns the
// resulting DAG. Directories are processed deepest-first so that every
// directory's children are already hashed by the time it is its turn.
func Build(ctx context.Context, rootPath string, ignore *walker.IgnoreSet) (*Result, error) {
	canonicalRoot, err := pathutil.Canonicalize(rootPath)
	if err != nil {
		return nil, err
	}

	entries, err := walker.Walk(rootPath, ignore)
	if err != nil {
		return nil, err
	}

	childrenOf := map[string][]pendingChild{}
	var files []walker.Entry
	var dirs []walker.Entry
	for _, e := range entries {
		if e.Path != canonicalRoot {
			parent := filepath.Dir(e.Path)
			childrenOf[parent] = append(childrenOf[parent], pendingChild{
				name: filepath.Base(e.Path),
				path: e.Path,
				kind: e.Kind,
			})
		}
		if e.Kind == walker.EntryFile {
			files = append(files, e)
		} else {
			dirs = append(dirs, e)
		}
	}

	nodeIDByPath := map[string]model.NodeID{}
	nodes := map[model.NodeID]*MerkleNode{}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentHashes)
	for _, f := range files {
		f := f
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			content, err := os.ReadFile(f.Path)
			if err != nil {
				return model.NewIoError("failed to read file "+f.Path, err)
			}
			contentHash := hashid.ContentHash(content)
			id := hashid.FileNodeID(f.Path, contentHash, nil)

			mu.Lock()
			nodeIDByPath[f.Path] = id
			nodes[id] = &MerkleNode{
				NodeID: id,
				Path:   f.Path,
				Type: model.NodeType{
					Kind:        model.NodeKindFile,
					Size:        uint64(len(content)),
					ContentHash: contentHash,
				},
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(dirs, func(i, j int) bool {
		di := strings.Count(dirs[i].Path, string(filepath.Separator))
		dj := strings.Count(dirs[j].Path, string(filepath.Separator))
		if di != dj {
			return di > dj // deepest first
		}
		return dirs[i].Path > dirs[j].Path
	})

	parentOf := map[model.NodeID]model.NodeID{}

	for _, d := range dirs {
		pending := childrenOf[d.Path]
		sort.Slice(pending, func(i, j int) bool { return pending[i].name < pending[j].name })

		refs := make([]hashid.ChildRef, 0, len(pending))
		childIDs := make([]model.NodeID, 0, len(pending))
		for _, pc := range pending {
			childID, ok := nodeIDByPath[pc.path]
			if !ok {
				// Child failed to canonicalize/hash upstream; walker already
				// logged this. Skip it from this directory's composition.
				continue
			}
			refs = append(refs, hashid.ChildRef{Name: pc.name, NodeID: childID})
			childIDs = append(childIDs, childID)
		}

		id := hashid.DirectoryNodeID(d.Path, refs, nil)
		nodeIDByPath[d.Path] = id
		nodes[id] = &MerkleNode{
			NodeID:   id,
			Path:     d.Path,
			Type:     model.NodeType{Kind: model.NodeKindDirectory},
			Children: childIDs,
		}
		for _, cid := range childIDs {
			parentOf[cid] = id
		}
	}

	rootID, ok := nodeIDByPath[canonicalRoot]
	if !ok {
		return nil, model.NewInvalidPath("root path was not produced by the walk: " + canonicalRoot)
	}

	return &Result{Root: rootID, Nodes: nodes, ParentOf: parentOf}, nil
}
