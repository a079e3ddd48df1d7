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

package telemetry

import (
	"bytes"
	"encoding/gob"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/jerkytreats/framegraph/internal/model"
)

const (
	sessionPrefix = "s:"
	metaPrefix    = "m:"
	eventPrefix   = "e:"
)

// Store is the durable badger-backed home for session records, session
// meta, and append-only events.
type Store struct {
	db *badger.DB
}

// Open opens (creating if absent) a telemetry Store at dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, model.NewIoError("failed to open telemetry store", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying badger handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// PutSession upserts a session record.
func (s *Store) PutSession(record model.SessionRecord) error {
	data, err := encodeGob(record)
	if err != nil {
		return model.NewIoError("failed to encode session record", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(sessionPrefix+record.SessionID), data)
	})
}

// GetSession returns the session record for sessionID.
func (s *Store) GetSession(sessionID string) (*model.SessionRecord, error) {
	var record model.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return decodeGob(val, &record) })
	})
	if err == badger.ErrKeyNotFound {
		return nil, model.NewIoError("session not found: "+sessionID, err)
	}
	if err != nil {
		return nil, model.NewIoError("failed to read session record", err)
	}
	return &record, nil
}

// ListSessions returns every known session, newest-started first.
func (s *Store) ListSessions() ([]model.SessionRecord, error) {
	var out []model.SessionRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(sessionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var record model.SessionRecord
			if err := it.Item().Value(func(val []byte) error { return decodeGob(val, &record) }); err != nil {
				return err
			}
			out = append(out, record)
		}
		return nil
	})
	if err != nil {
		return nil, model.NewIoError("failed to list sessions", err)
	}
	sortSessionsByRecency(out)
	return out, nil
}

// PutMeta upserts a session's meta record.
func (s *Store) PutMeta(sessionID string, meta SessionMeta) error {
	data, err := encodeGob(meta)
	if err != nil {
		return model.NewIoError("failed to encode session meta", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaPrefix+sessionID), data)
	})
}

// GetMeta returns sessionID's meta record, or nil if none exists.
func (s *Store) GetMeta(sessionID string) (*SessionMeta, error) {
	var meta SessionMeta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaPrefix + sessionID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return decodeGob(val, &meta) })
	})
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.NewIoError("failed to read session meta", err)
	}
	return &meta, nil
}

// AppendEvent durably stores ev under its session-scoped, zero-padded
// sequence key so a raw key scan naturally yields lexicographic (and thus
// sequence) order.
func (s *Store) AppendEvent(ev model.ProgressEvent) error {
	data, err := encodeGob(ev)
	if err != nil {
		return model.NewIoError("failed to encode event", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(eventPrefix+encodeEventKey(ev.SessionID, ev.Seq)), data)
	})
}

// ReadEvents returns every event recorded for sessionID, in sequence order.
func (s *Store) ReadEvents(sessionID string) ([]model.ProgressEvent, error) {
	return s.ReadEventsAfter(sessionID, 0)
}

// ReadEventsAfter returns sessionID's events with seq > afterSeq, in
// sequence order.
func (s *Store) ReadEventsAfter(sessionID string, afterSeq uint64) ([]model.ProgressEvent, error) {
	var out []model.ProgressEvent
	prefix := []byte(eventPrefix + sessionID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev model.ProgressEvent
			if err := it.Item().Value(func(val []byte) error { return decodeGob(val, &ev) }); err != nil {
				return err
			}
			if ev.Seq > afterSeq {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, model.NewIoError("failed to read events", err)
	}
	return out, nil
}

// MarkInterruptedSessions reclassifies every Active session as Interrupted.
func (s *Store) MarkInterruptedSessions() (int, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, session := range sessions {
		if session.Status != model.SessionActive {
			continue
		}
		session.Status = model.SessionInterrupted
		if err := s.PutSession(session); err != nil {
			return changed, err
		}
		if meta, err := s.GetMeta(session.SessionID); err == nil && meta != nil {
			meta.LatestStatus = model.SessionInterrupted
			meta.UpdatedAtMs = time.Now().UnixMilli()
			if err := s.PutMeta(session.SessionID, *meta); err != nil {
				return changed, err
			}
		}
		changed++
	}
	return changed, nil
}

// DeleteSession removes a session's record, meta, and every event.
func (s *Store) DeleteSession(sessionID string) error {
	events, err := s.ReadEvents(sessionID)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(sessionPrefix + sessionID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Delete([]byte(metaPrefix + sessionID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		for _, ev := range events {
			if err := txn.Delete([]byte(eventPrefix + encodeEventKey(sessionID, ev.Seq))); err != nil && err != badger.ErrKeyNotFound {
				return err
			}
		}
		return nil
	})
}

// PruneCompleted deletes completed/failed sessions older than maxAge
// (measured from EndedAtMs, falling back to StartedAtMs), then trims any
// remaining completed/failed sessions beyond maxCompleted, newest first.
func (s *Store) PruneCompleted(maxCompleted int, maxAge time.Duration, now time.Time) (int, error) {
	sessions, err := s.ListSessions()
	if err != nil {
		return 0, err
	}

	var completed []model.SessionRecord
	for _, session := range sessions {
		if session.Status == model.SessionCompleted || session.Status == model.SessionFailed {
			completed = append(completed, session)
		}
	}

	removed := 0
	nowMs := now.UnixMilli()
	maxAgeMs := maxAge.Milliseconds()
	var kept []model.SessionRecord
	for _, session := range completed {
		ended := session.StartedAtMs
		if session.EndedAtMs != nil {
			ended = *session.EndedAtMs
		}
		if nowMs-ended > maxAgeMs {
			if err := s.DeleteSession(session.SessionID); err != nil {
				return removed, err
			}
			removed++
			continue
		}
		kept = append(kept, session)
	}

	sortSessionsByRecency(kept)
	if len(kept) > maxCompleted {
		for _, session := range kept[maxCompleted:] {
			if err := s.DeleteSession(session.SessionID); err != nil {
				return removed, err
			}
			removed++
		}
	}

	return removed, nil
}
