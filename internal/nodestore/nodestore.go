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

// Package nodestore is the durable Node Store of spec.md §4.3: every
// NodeRecord ever produced by the Tree Builder, keyed by NodeID, with a
// secondary path index and tombstone/restore support. Backed by BadgerDB,
// following the same open/View/Update pattern as the teacher's
// storage/posix/antispam badger driver.
package nodestore

import (
	"bytes"
	"encoding/gob"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/jerkytreats/framegraph/internal/model"
)

const (
	nodePrefix = "n:"
	pathPrefix = "p:"
	rootKey    = "@root"

	defaultCacheSize = 4096
)

// Store is the durable Node Store. A Store is safe for concurrent use;
// Badger handles its own internal locking, and the read cache is
// thread-safe.
type Store struct {
	db    *badger.DB
	cache *lru.Cache[model.NodeID, *model.NodeRecord]
}

// Open opens (creating if absent) a Node Store at dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, model.NewIoError("failed to open node store", err)
	}
	cache, err := lru.New[model.NodeID, *model.NodeRecord](defaultCacheSize)
	if err != nil {
		return nil, model.NewIoError("failed to build node cache", err)
	}
	return &Store{db: db, cache: cache}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func nodeKey(id model.NodeID) []byte {
	return append([]byte(nodePrefix), id[:]...)
}

func pathKey(canonicalPath string) []byte {
	return append([]byte(pathPrefix), []byte(canonicalPath)...)
}

func encodeRecord(r *model.NodeRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, fmt.Errorf("failed to encode node record: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*model.NodeRecord, error) {
	var r model.NodeRecord
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode node record: %w", err)
	}
	return &r, nil
}

// Put writes or overwrites a single NodeRecord, updating the path index.
func (s *Store) Put(r *model.NodeRecord) error {
	enc, err := encodeRecord(r)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(nodeKey(r.NodeID), enc); err != nil {
			return err
		}
		return txn.Set(pathKey(r.Path), r.NodeID[:])
	})
	if err != nil {
		return model.NewIoError("failed to put node record", err)
	}
	s.cache.Remove(r.NodeID)
	return nil
}

// PutBatch writes a set of records, as produced by one Tree Builder run, in
// transactions of at most 1000 records each; a larger batch is committed
// chunk by chunk, not atomically.
func (s *Store) PutBatch(records []*model.NodeRecord) error {
	const maxPerTxn = 1000
	for start := 0; start < len(records); start += maxPerTxn {
		end := start + maxPerTxn
		if end > len(records) {
			end = len(records)
		}
		if err := s.putBatchChunk(records[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putBatchChunk(records []*model.NodeRecord) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, r := range records {
			enc, err := encodeRecord(r)
			if err != nil {
				return err
			}
			if err := txn.Set(nodeKey(r.NodeID), enc); err != nil {
				return err
			}
			if err := txn.Set(pathKey(r.Path), r.NodeID[:]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.NewIoError("failed to put node batch", err)
	}
	for _, r := range records {
		s.cache.Remove(r.NodeID)
	}
	return nil
}

// Get fetches a NodeRecord by NodeID, returning a NodeNotFound model.Error if
// absent.
func (s *Store) Get(id model.NodeID) (*model.NodeRecord, error) {
	if r, ok := s.cache.Get(id); ok {
		return r, nil
	}

	var r *model.NodeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err == badger.ErrKeyNotFound {
			return model.NewNodeNotFound(id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			decoded, derr := decodeRecord(v)
			if derr != nil {
				return derr
			}
			r = decoded
			return nil
		})
	})
	if err != nil {
		if model.KindOf(err) == model.KindNodeNotFound {
			return nil, err
		}
		return nil, model.NewIoError("failed to get node record", err)
	}
	s.cache.Add(id, r)
	return r, nil
}

// GetByPath resolves a canonical path to its current NodeRecord.
func (s *Store) GetByPath(canonicalPath string) (*model.NodeRecord, error) {
	var id model.NodeID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pathKey(canonicalPath))
		if err == badger.ErrKeyNotFound {
			return model.NewPathNotInTree(canonicalPath)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			copy(id[:], v)
			return nil
		})
	})
	if err != nil {
		if model.KindOf(err) == model.KindPathNotInTree {
			return nil, err
		}
		return nil, model.NewIoError("failed to resolve path", err)
	}
	return s.Get(id)
}

// SetRoot records the NodeID of the most recent scan's root node.
func (s *Store) SetRoot(id model.NodeID) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(rootKey), id[:])
	})
	if err != nil {
		return model.NewIoError("failed to set root", err)
	}
	return nil
}

// Root returns the NodeID of the most recent scan's root node.
func (s *Store) Root() (model.NodeID, error) {
	var id model.NodeID
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(rootKey))
		if err == badger.ErrKeyNotFound {
			return model.NewNodeNotFound(model.NodeID{})
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			copy(id[:], v)
			return nil
		})
	})
	if err != nil {
		if model.KindOf(err) == model.KindNodeNotFound {
			return model.NodeID{}, err
		}
		return model.NodeID{}, model.NewIoError("failed to read root", err)
	}
	return id, nil
}

// Tombstone marks id and every node in its subtree (as recorded by
// Children) deleted at unixSeconds, in a single transaction.
func (s *Store) Tombstone(id model.NodeID, unixSeconds int64) ([]model.NodeID, error) {
	return s.markSubtree(id, &unixSeconds)
}

// Restore clears the tombstone on id and its subtree.
func (s *Store) Restore(id model.NodeID) ([]model.NodeID, error) {
	return s.markSubtree(id, nil)
}

func (s *Store) markSubtree(id model.NodeID, tombstonedAt *int64) ([]model.NodeID, error) {
	var affected []model.NodeID
	err := s.db.Update(func(txn *badger.Txn) error {
		queue := []model.NodeID{id}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			item, err := txn.Get(nodeKey(cur))
			if err == badger.ErrKeyNotFound {
				return model.NewNodeNotFound(cur)
			}
			if err != nil {
				return err
			}
			var rec *model.NodeRecord
			if err := item.Value(func(v []byte) error {
				decoded, derr := decodeRecord(v)
				if derr != nil {
					return derr
				}
				rec = decoded
				return nil
			}); err != nil {
				return err
			}

			rec.TombstonedAt = tombstonedAt
			enc, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			if err := txn.Set(nodeKey(cur), enc); err != nil {
				return err
			}
			affected = append(affected, cur)
			queue = append(queue, rec.Children...)
		}
		return nil
	})
	if err != nil {
		if model.KindOf(err) == model.KindNodeNotFound {
			return nil, err
		}
		return nil, model.NewIoError("failed to mark subtree", err)
	}
	for _, a := range affected {
		s.cache.Remove(a)
	}
	return affected, nil
}

// Delete permanently removes a node's record and path index entry. Used by
// `workspace compact` to purge tombstoned nodes; it is the caller's
// responsibility to have already tombstoned id, since this bypasses the
// soft-delete convention entirely.
func (s *Store) Delete(id model.NodeID) error {
	rec, err := s.Get(id)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(nodeKey(id)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(pathKey(rec.Path))
	})
	if err != nil {
		return model.NewIoError("failed to delete node record", err)
	}
	s.cache.Remove(id)
	return nil
}

// ListActive returns every non-tombstoned NodeRecord. Intended for
// workspace-scale status/validate commands, not hot paths.
func (s *Store) ListActive() ([]*model.NodeRecord, error) {
	return s.list(func(r *model.NodeRecord) bool { return !r.IsTombstoned() })
}

// ListTombstoned returns every tombstoned NodeRecord.
func (s *Store) ListTombstoned() ([]*model.NodeRecord, error) {
	return s.list(func(r *model.NodeRecord) bool { return r.IsTombstoned() })
}

func (s *Store) list(keep func(*model.NodeRecord) bool) ([]*model.NodeRecord, error) {
	var out []*model.NodeRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(nodePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(v []byte) error {
				rec, err := decodeRecord(v)
				if err != nil {
					return err
				}
				if keep(rec) {
					out = append(out, rec)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.NewIoError("failed to list node records", err)
	}
	return out, nil
}
