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

// Package atomicfile provides the atomic-write primitives shared by the
// Frame Store, Head Index, Basis Index and Telemetry snapshot files:
// write-to-temp-then-rename/link, with a directory fsync so the change
// survives a crash. Adapted from the teacher's storage/posix file_ops.go.
package atomicfile

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"k8s.io/klog/v2"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// syncDir calls fsync on the provided directory path.
func syncDir(d string) error {
	fd, err := os.Open(d)
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", d, err)
	}
	if err := fd.Sync(); err != nil {
		fd.Close()
		return fmt.Errorf("failed to sync %q: %w", d, err)
	}
	return fd.Close()
}

// MkdirAll reimplements os.MkdirAll but fsyncs the parent directory/ies it
// creates, so a subsequent crash can't lose the new directory entry.
func MkdirAll(name string) (err error) {
	name = strings.TrimSuffix(name, string(filepath.Separator))
	if name == "" {
		return nil
	}

	dir, _ := filepath.Split(name)
	di, err := os.Lstat(name)
	switch {
	case errors.Is(err, syscall.ENOENT), errors.Is(err, os.ErrNotExist):
		if dir != "" && dir != name {
			if err := MkdirAll(dir); err != nil {
				return err
			}
		}
		if err := os.Mkdir(name, dirPerm); err != nil && !os.IsExist(err) {
			return fmt.Errorf("%q: %w", name, err)
		}
		if dir == "" {
			return nil
		}
		return syncDir(dir)
	case err != nil:
		return fmt.Errorf("lstat %q: %w", name, err)
	case !di.IsDir():
		return fmt.Errorf("%s is not a directory", name)
	default:
		return nil
	}
}

// createTemp creates a new temporary file alongside the eventual target
// (sharing its directory, so the later rename/link is same-filesystem) and
// writes d to it.
func createTemp(prefix string, d []byte) (name string, err error) {
	try := 0
	var f *os.File
	for {
		name = prefix + "." + strconv.Itoa(int(rand.Int32())) + ".tmp"
		f, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
		if err == nil {
			break
		}
		if os.IsExist(err) {
			if try++; try < 10000 {
				continue
			}
			return "", &os.PathError{Op: "createtemp", Path: prefix + "*.tmp", Err: os.ErrExist}
		}
		return "", err
	}
	defer func() {
		if errC := f.Close(); errC != nil && err == nil {
			err = errC
		}
	}()

	if n, werr := f.Write(d); werr != nil {
		return "", fmt.Errorf("failed to write temp file %q: %w", name, werr)
	} else if n < len(d) {
		return "", fmt.Errorf("short write on %q, %d < %d", name, n, len(d))
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to sync temp file %q: %w", name, err)
	}
	return name, nil
}

// CreateExclusive atomically creates name containing d, failing if name
// already exists (os.ErrExist). Used by the Frame Store, where existence
// means "already written, this call is a dedup no-op" at a higher layer.
func CreateExclusive(name string, d []byte) error {
	dir, _ := filepath.Split(name)
	if err := MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to make directory structure: %w", err)
	}

	tmpName, err := createTemp(name, d)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err := os.Remove(tmpName); err != nil && !os.IsNotExist(err) {
			klog.Warningf("atomicfile: failed to remove temp file %q: %v", tmpName, err)
		}
	}()

	if err := os.Link(tmpName, name); err != nil {
		return fmt.Errorf("failed to link temp file to target %q: %w", name, err)
	}
	return syncDir(dir)
}

// Overwrite atomically creates/overwrites name with d.
func Overwrite(name string, d []byte) error {
	dir, _ := filepath.Split(name)
	if err := MkdirAll(dir); err != nil {
		return fmt.Errorf("failed to make directory structure: %w", err)
	}

	tmpName, err := createTemp(name, d)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if err := os.Rename(tmpName, name); err != nil {
		return fmt.Errorf("failed to rename temp file to target %q: %w", name, err)
	}
	return syncDir(dir)
}
