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

// Package pathutil canonicalizes filesystem paths for deterministic
// hashing, per spec.md §4.1's determinism preconditions: symlinks resolved,
// Unicode NFC, no trailing separator except root.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/jerkytreats/framegraph/internal/model"
	"golang.org/x/text/unicode/norm"
)

// Canonicalize resolves symlinks in p, normalizes the result to Unicode NFC,
// and strips any trailing separator (except for the filesystem root).
func Canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", model.NewInvalidPath("failed to make path absolute: " + err.Error())
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", model.NewInvalidPath("failed to resolve symlinks: " + err.Error())
	}
	return NormalizeString(resolved), nil
}

// NormalizeString applies Unicode NFC normalization and trailing-separator
// collapse to a path string that is already known to be canonical, without
// touching the filesystem. Used when re-deriving a child's canonical path
// from its already-canonical parent.
func NormalizeString(p string) string {
	normalized := norm.NFC.String(p)
	for len(normalized) > 1 && strings.HasSuffix(normalized, string(filepath.Separator)) {
		normalized = strings.TrimSuffix(normalized, string(filepath.Separator))
	}
	return normalized
}

// Join canonicalizes parent joined with name, without touching the
// filesystem (parent is assumed already canonical).
func Join(parent, name string) string {
	return NormalizeString(filepath.Join(parent, name))
}
