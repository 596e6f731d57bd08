package store

import (
	"context"
	"sort"
	"sync"

	"github.com/gear6io/oxygen/pkg/errors"
)

// Memory keeps records in process memory.
type Memory struct {
	mu      sync.RWMutex
	records map[string]map[string]Entry
	closed  bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[string]map[string]Entry)}
}

func (m *Memory) ReadRecord(ctx context.Context, kind, key string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New(ErrClosed, "store closed", nil)
	}
	e, ok := m.records[kind][key]
	if !ok {
		return nil, notFound(kind, key)
	}
	return e.Record.clone(), nil
}

func (m *Memory) WriteRecord(ctx context.Context, kind, key string, record Record) error {
	return m.write(kind, key, record, true)
}

func (m *Memory) CreateRecord(ctx context.Context, kind, key string, record Record) error {
	return m.write(kind, key, record, false)
}

func (m *Memory) write(kind, key string, record Record, replace bool) error {
	if !record.Valid() {
		return errors.New(ErrInvalidRecord, "record is not valid JSON", nil).AddContext("kind", kind).AddContext("key", key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New(ErrClosed, "store closed", nil)
	}
	byKey, ok := m.records[kind]
	if !ok {
		byKey = make(map[string]Entry)
		m.records[kind] = byKey
	}
	if _, taken := byKey[key]; taken && !replace {
		return exists(kind, key)
	}
	byKey[key] = Entry{Kind: kind, Key: key, Record: record.clone(), UpdatedAt: now()}
	return nil
}

func (m *Memory) ListRecords(ctx context.Context, kind string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, errors.New(ErrClosed, "store closed", nil)
	}
	entries := make([]Entry, 0, len(m.records[kind]))
	for _, e := range m.records[kind] {
		e.Record = e.Record.clone()
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
		}
		return entries[i].Key > entries[j].Key
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
