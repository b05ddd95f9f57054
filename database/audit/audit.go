// Copyright 2026 Blink Labs Software
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

package audit

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Entry is one append-only audit record. Sequence numbers are assigned
// by the store and never reused.
type Entry struct {
	Sequence  uint64          `json:"sequence"`
	Kind      string          `json:"kind"`
	Timestamp time.Time       `json:"timestamp"`
	Detail    json.RawMessage `json:"detail"`
}

// Mirror receives a copy of each appended entry. Used to replicate the
// audit log into object storage.
type Mirror interface {
	Put(key string, data []byte) error
	Close() error
}

// Store is an append-only audit log on BadgerDB. Entries are keyed by
// sequence number so range scans return them in append order.
type Store struct {
	logger  *slog.Logger
	db      *badger.DB
	mirror  Mirror
	gcTimer *time.Timer
	nextSeq uint64
	closed  bool
	mu      sync.Mutex
}

var keyPrefix = []byte("audit/")

func entryKey(sequence uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], sequence)
	return key
}

// New creates an audit store. Uses an in-memory Badger instance if
// dataDir is empty.
func New(
	dataDir string,
	logger *slog.Logger,
	mirror Mirror,
) (*Store, error) {
	if logger == nil {
		// Create logger to throw away logs
		// We do this so we don't have to add guards around every log operation
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	var opts badger.Options
	if dataDir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		auditDir := filepath.Join(dataDir, "audit")
		if _, err := os.Stat(auditDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read audit dir: %w", err)
			}
			if err := os.MkdirAll(auditDir, fs.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create audit dir: %w", err)
			}
		}
		opts = badger.DefaultOptions(auditDir).
			WithCompression(options.ZSTD)
	}
	opts = opts.WithLogger(newBadgerLogger(logger))
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	store := &Store{
		logger: logger,
		db:     db,
		mirror: mirror,
	}
	if err := store.loadNextSequence(); err != nil {
		_ = db.Close()
		return nil, err
	}
	store.scheduleGc()
	return store, nil
}

func (s *Store) loadNextSequence() error {
	return s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Reverse = true
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		// Seek to the last possible audit key and step back into the
		// prefix
		seekKey := entryKey(^uint64(0))
		for it.Seek(seekKey); it.ValidForPrefix(keyPrefix); it.Next() {
			key := it.Item().Key()
			s.nextSeq = binary.BigEndian.Uint64(key[len(keyPrefix):]) + 1
			return nil
		}
		return nil
	})
}

// scheduleGc schedules periodic value log garbage collection
func (s *Store) scheduleGc() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.gcTimer != nil {
		s.gcTimer.Stop()
	}
	s.gcTimer = time.AfterFunc(5*time.Minute, func() {
		defer s.scheduleGc()
		if err := s.db.RunValueLogGC(0.5); err != nil {
			if !errors.Is(err, badger.ErrNoRewrite) &&
				!errors.Is(err, badger.ErrGCInMemoryMode) {
				s.logger.Debug(
					"badger GC failure",
					"component", "audit",
					"error", err,
				)
			}
		}
	})
}

// Append records an entry and returns its sequence number. The detail
// payload must marshal to JSON.
func (s *Store) Append(kind string, detail any) (uint64, error) {
	detailData, err := json.Marshal(detail)
	if err != nil {
		return 0, fmt.Errorf("failed to encode audit detail: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, errors.New("audit store closed")
	}
	sequence := s.nextSeq
	entry := Entry{
		Sequence:  sequence,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		Detail:    detailData,
	}
	entryData, err := json.Marshal(&entry)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(sequence), entryData)
	})
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}
	s.nextSeq++
	s.mu.Unlock()
	if s.mirror != nil {
		mirrorKey := fmt.Sprintf("audit/%020d.json", sequence)
		if err := s.mirror.Put(mirrorKey, entryData); err != nil {
			s.logger.Warn(
				"audit mirror write failed",
				"component", "audit",
				"sequence", sequence,
				"error", err,
			)
		}
	}
	return sequence, nil
}

// Entries returns up to limit entries starting at the given sequence
// number, in append order. A zero limit returns everything.
func (s *Store) Entries(fromSequence uint64, limit int) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(entryKey(fromSequence)); it.ValidForPrefix(keyPrefix); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	return entries, err
}

// Len returns the number of appended entries.
func (s *Store) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.gcTimer != nil {
		s.gcTimer.Stop()
	}
	s.mu.Unlock()
	var err error
	if s.mirror != nil {
		err = errors.Join(err, s.mirror.Close())
	}
	err = errors.Join(err, s.db.Close())
	return err
}
