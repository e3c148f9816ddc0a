// Package file persists the in-memory state as a single JSON snapshot
// document, rewritten wholesale after every committed transaction. The write
// goes to a temp file in the target directory and is moved into place with an
// atomic rename, so a crash mid-write never corrupts the previous snapshot.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"certcore/internal/infra/persistence/memory"
	"certcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no snapshot path is configured.
const DefaultPath = "data/certcore.json"

// Store is a snapshotting JSON-file-backed persistent store.
type Store struct {
	*memory.Store
	mu   sync.Mutex
	path string
}

// NewStore opens (or initializes) the snapshot at path and hydrates the
// in-memory store from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, domain.PersistenceError{Op: "create data directory", Err: err}
		}
	}
	s := &Store{Store: memory.NewStore(engine), path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path reports the snapshot file location.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// First run: materialize an empty snapshot so readers always find a
		// valid document.
		return s.persist()
	}
	if err != nil {
		return domain.PersistenceError{Op: "read snapshot", Err: err}
	}
	var snapshot memory.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.PersistenceError{Op: "decode snapshot", Err: err}
	}
	s.ImportState(snapshot)
	return nil
}

func (s *Store) persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return domain.PersistenceError{Op: "encode snapshot", Err: err}
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".certcore-*.json")
	if err != nil {
		return domain.PersistenceError{Op: "create temp snapshot", Err: err}
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return domain.PersistenceError{Op: "write snapshot", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return domain.PersistenceError{Op: "sync snapshot", Err: err}
	}
	if err := tmp.Close(); err != nil {
		return domain.PersistenceError{Op: "close snapshot", Err: err}
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return domain.PersistenceError{Op: "replace snapshot", Err: err}
	}
	return nil
}

// RunInTransaction applies fn within a transaction, then rewrites the
// snapshot file. When the durable write fails the in-memory state is rolled
// back to the previous snapshot so memory never runs ahead of disk.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	previous := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(); err != nil {
		s.ImportState(previous)
		return res, fmt.Errorf("snapshot %s: %w", s.path, err)
	}
	return res, nil
}
