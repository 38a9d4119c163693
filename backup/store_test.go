package backup_test

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/stupid-simple/devbackup/backup"
	"github.com/stupid-simple/devbackup/backuperr"
)

// memStore is an in-memory backup.Store.
type memStore struct {
	mu      sync.Mutex
	records map[string]backup.Record
	runs    []backup.RunEntry
}

func newMemStore() *memStore {
	return &memStore{records: map[string]backup.Record{}}
}

func (m *memStore) SaveRecord(ctx context.Context, rec backup.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("record %s already exists", rec.ID)
	}
	m.records[rec.ID] = rec
	return nil
}

func (m *memStore) FindRecord(ctx context.Context, id string) (*backup.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: backup %s", backuperr.ErrNotFound, id)
	}
	return &rec, nil
}

func (m *memStore) ListRecords(ctx context.Context, filter backup.RecordFilter) ([]backup.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []backup.Record
	for _, r := range m.records {
		if filter.Method != "" && r.Method != filter.Method {
			continue
		}
		if filter.Destination != "" && r.Destination != filter.Destination {
			continue
		}
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b backup.Record) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(b.ID, a.ID))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) DeleteRecord(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *memStore) AppendRun(ctx context.Context, run backup.RunEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *memStore) ListRuns(ctx context.Context, limit int) ([]backup.RunEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := slices.Clone(m.runs)
	slices.Reverse(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
