// Package backup writes full state snapshots to a blob store and reads them
// back. Backups are immutable, timestamped JSON documents.
package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	blobcore "certcore/internal/blob/core"
	"certcore/internal/infra/persistence/memory"
)

// KeyPrefix namespaces backup objects inside the blob store.
const KeyPrefix = "backup_"

// SnapshotSource exposes the current full state. Every persistence driver
// satisfies it.
type SnapshotSource interface {
	ExportState() memory.Snapshot
}

// AuditEntry captures audit trail metadata for backup operations.
type AuditEntry struct {
	Action     string    `json:"action"`
	Key        string    `json:"key"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AuditLogger records backup audit entries.
type AuditLogger interface {
	Record(ctx context.Context, entry AuditEntry)
}

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) {}

// Manager creates and retrieves snapshot backups.
type Manager struct {
	source SnapshotSource
	store  blobcore.Store
	audit  AuditLogger
	nowFn  func() time.Time
}

// Option customizes manager construction.
type Option func(*Manager)

// WithAuditLogger attaches an audit sink.
func WithAuditLogger(audit AuditLogger) Option {
	return func(m *Manager) {
		if audit != nil {
			m.audit = audit
		}
	}
}

// WithNowFunc overrides the clock used for backup names. Intended for tests.
func WithNowFunc(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.nowFn = now
		}
	}
}

// NewManager constructs a backup manager over the given source and blob store.
func NewManager(source SnapshotSource, store blobcore.Store, opts ...Option) *Manager {
	m := &Manager{source: source, store: store, audit: noopAudit{}, nowFn: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create snapshots the current state into a new timestamped backup object.
func (m *Manager) Create(ctx context.Context) (blobcore.Info, error) {
	snapshot := m.source.ExportState()
	key := fmt.Sprintf("%s%s.json", KeyPrefix, m.nowFn().UTC().Format("20060102_150405"))

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		m.record(ctx, "backup.create", key, "failed", err.Error())
		return blobcore.Info{}, fmt.Errorf("encode backup: %w", err)
	}
	info, err := m.store.Put(ctx, key, bytes.NewReader(data), blobcore.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"doctors":      strconv.Itoa(len(snapshot.Doctors)),
			"employees":    strconv.Itoa(len(snapshot.Employees)),
			"certificates": strconv.Itoa(len(snapshot.Certificates)),
		},
	})
	if err != nil {
		m.record(ctx, "backup.create", key, "failed", err.Error())
		return blobcore.Info{}, fmt.Errorf("store backup %s: %w", key, err)
	}
	m.record(ctx, "backup.create", key, "succeeded", "")
	return info, nil
}

// List returns all backups, newest first. Timestamped names make the key
// order chronological.
func (m *Manager) List(ctx context.Context) ([]blobcore.Info, error) {
	infos, err := m.store.List(ctx, KeyPrefix)
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key > infos[j].Key })
	return infos, nil
}

// Fetch decodes the identified backup back into a snapshot.
func (m *Manager) Fetch(ctx context.Context, key string) (memory.Snapshot, error) {
	_, rc, err := m.store.Get(ctx, key)
	if err != nil {
		m.record(ctx, "backup.fetch", key, "failed", err.Error())
		return memory.Snapshot{}, err
	}
	defer func() { _ = rc.Close() }()
	var snapshot memory.Snapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		m.record(ctx, "backup.fetch", key, "failed", err.Error())
		return memory.Snapshot{}, fmt.Errorf("decode backup %s: %w", key, err)
	}
	m.record(ctx, "backup.fetch", key, "succeeded", "")
	return snapshot, nil
}

func (m *Manager) record(ctx context.Context, action, key, status, reason string) {
	m.audit.Record(ctx, AuditEntry{
		Action:     action,
		Key:        key,
		Status:     status,
		Reason:     reason,
		OccurredAt: m.nowFn().UTC(),
	})
}

// MemoryAuditLog captures audit entries in-memory for assertions.
type MemoryAuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// Record stores an audit entry.
func (l *MemoryAuditLog) Record(_ context.Context, entry AuditEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
}

// Entries returns a defensive copy of recorded audit entries.
func (l *MemoryAuditLog) Entries() []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}
