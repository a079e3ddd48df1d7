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

// Package walker enumerates filesystem entries under a workspace root in
// deterministic, sorted-by-path order, honoring an ignore set (§4.2).
package walker

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jerkytreats/framegraph/internal/model"
	"github.com/jerkytreats/framegraph/internal/pathutil"
	"k8s.io/klog/v2"
)

// EntryKind discriminates a walked entry.
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDirectory
)

// Entry is one enumerated filesystem item.
type Entry struct {
	Path string // canonical absolute path
	Kind EntryKind
}

// DefaultIgnores are the built-in ignore prefixes/components mentioned in
// §4.2: VCS and build directories.
var DefaultIgnores = []string{
	".git", ".hg", ".svn",
	"node_modules", "vendor", "target", "dist", "build",
	".DS_Store",
}

// IgnoreSet matches both on substring of the full path and on normalized
// path components, per §4.2.
type IgnoreSet struct {
	patterns []string
}

// NewIgnoreSet builds an IgnoreSet from the built-ins plus any caller
// supplied patterns.
func NewIgnoreSet(extra ...string) *IgnoreSet {
	patterns := make([]string, 0, len(DefaultIgnores)+len(extra))
	patterns = append(patterns, DefaultIgnores...)
	patterns = append(patterns, extra...)
	return &IgnoreSet{patterns: patterns}
}

// Matches reports whether name (a single path component) or fullPath
// (substring) should be ignored.
func (s *IgnoreSet) Matches(name, fullPath string) bool {
	for _, p := range s.patterns {
		if p == "" {
			continue
		}
		if name == p {
			return true
		}
		if strings.Contains(fullPath, p) {
			return true
		}
	}
	return false
}

// Walk enumerates all files and directories under root (canonicalized
// first), skipping ignored entries and not following symlinks. The result
// is sorted by path for determinism.
func Walk(root string, ignore *IgnoreSet) ([]Entry, error) {
	canonicalRoot, err := pathutil.Canonicalize(root)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	err = filepath.WalkDir(canonicalRoot, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			klog.Warningf("walker: skipping unreadable entry %q: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			klog.Warningf("walker: skipping unstattable entry %q: %v", p, err)
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		name := d.Name()
		if p != canonicalRoot && ignore.Matches(name, p) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		canonical, err := pathutil.Canonicalize(p)
		if err != nil {
			klog.Warningf("walker: skipping uncanonicalizable entry %q: %v", p, err)
			return nil
		}

		if d.IsDir() {
			entries = append(entries, Entry{Path: canonical, Kind: EntryDirectory})
			return nil
		}
		if info.Mode().IsRegular() {
			entries = append(entries, Entry{Path: canonical, Kind: EntryFile})
		}
		return nil
	})
	if err != nil {
		return nil, model.NewIoError("walk failed", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
