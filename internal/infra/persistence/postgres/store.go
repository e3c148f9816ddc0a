// Package postgres provides a Postgres-backed persistent store that mirrors
// the in-memory semantics, snapshotting the full state into a JSONB bucket
// table after every committed transaction.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"certcore/internal/infra/persistence/memory"
	"certcore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	// DefaultDSN keeps parity with OpenPersistentStore defaults while
	// allowing overrides via env.
	DefaultDSN = "postgres://localhost/certcore?sslmode=disable"
)

// Store persists state to Postgres while reusing the in-memory
// implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
	mu sync.Mutex
}

const (
	bucketDoctors      = "doctors"
	bucketEmployees    = "employees"
	bucketCertificates = "certificates"
	bucketMeta         = "meta"
)

var postgresBuckets = []string{bucketDoctors, bucketEmployees, bucketCertificates, bucketMeta}

type metaPayload struct {
	LastUpdate time.Time `json:"last_update"`
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to DefaultDSN), ensures the state table exists, and hydrates the in-memory
// store from any existing snapshot.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, domain.PersistenceError{Op: "open postgres", Err: err}
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, domain.PersistenceError{Op: "ping postgres", Err: err}
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`); err != nil {
		return nil, domain.PersistenceError{Op: "ensure state table", Err: err}
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
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

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.ExportState()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError{Op: "begin", Err: err}
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range postgresBuckets {
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
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, bucket, data); err != nil {
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
// Postgres. On persist failure the in-memory state rolls back to the
// previous snapshot.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	previous := s.ExportState()
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	if err := s.persist(ctx); err != nil {
		s.ImportState(previous)
		return res, fmt.Errorf("snapshot postgres state: %w", err)
	}
	return res, nil
}
