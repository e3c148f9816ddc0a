// Package sqlite persists the in-memory state to a single SQLite table as
// JSON blobs, one bucket per collection. It snapshots the full state after
// every successful transaction.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"certcore/internal/infra/persistence/memory"
	"certcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "certcore.db"

// Store is a snapshotting SQLite-backed persistent store.
type Store struct {
	*memory.Store
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens the database at path, ensures the state table exists, and
// hydrates the in-memory store from any existing snapshot.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, domain.PersistenceError{Op: "create data directory", Err: err}
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.PersistenceError{Op: "open sqlite", Err: err}
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		return nil, domain.PersistenceError{Op: "create state table", Err: err}
	}
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

const (
	bucketDoctors      = "doctors"
	bucketEmployees    = "employees"
	bucketCertificates = "certificates"
	bucketMeta         = "meta"
)

var sqliteBuckets = []string{bucketDoctors, bucketEmployees, bucketCertificates, bucketMeta}

type metaPayload struct {
	LastUpdate time.Time `json:"last_update"`
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.PersistenceError{Op: "select state", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.PersistenceError{Op: "scan state", Err: err}
		}
		found = true
		switch bucket {
		case bucketDoctors:
			err = json.Unmarshal(payload, &snapshot.Doctors)
		case bucketEmployees:
			err = json.Unmarshal(payload, &snapshot.Employees)
		case bucketCertificates:
			err = json.Unmarshal(payload, &snapshot.Certificates)
		case bucketMeta:
			var meta metaPayload
			if err = json.Unmarshal(payload, &meta); err == nil {
				snapshot.LastUpdate = meta.LastUpdate
			}
		}
		if err != nil {
			return domain.PersistenceError{Op: "decode " + bucket, Err: err}
		}
	}
	if err := rows.Err(); err != nil {
		return domain.PersistenceError{Op: "iterate state", Err: err}
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

func (s *Store) persist() (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.Begin()
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		var data []byte
		switch bucket {
		case bucketDoctors:
			data, err = json.Marshal(snapshot.Doctors)
		case bucketEmployees:
			data, err = json.Marshal(snapshot.Employees)
		case bucketCertificates:
			data, err = json.Marshal(snapshot.Certificates)
		case bucketMeta:
			data, err = json.Marshal(metaPayload{LastUpdate: snapshot.LastUpdate})
		}
		if err != nil {
			retErr = domain.PersistenceError{Op: "encode " + bucket, Err: err}
			return retErr
		}
		if _, err = tx.Exec(`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
			retErr = domain.PersistenceError{Op: "upsert " + bucket, Err: err}
			return retErr
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.PersistenceError{Op: "commit", Err: err}
	}
	return nil
}

// RunInTransaction applies fn within a transaction, then snapshots state to
// SQLite. On persist failure the in-memory state rolls back to the previous
// snapshot.
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
