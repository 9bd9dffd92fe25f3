// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package metastore

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/cardinalhq/filerunner/internal/filerecord"
)

// MemoryStore is an in-process Store used by tests and the local backend.
// It keeps every accepted write so tests can inspect the transition history.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]filerecord.FileRecord
	history map[string][]filerecord.FileRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]filerecord.FileRecord),
		history: make(map[string][]filerecord.FileRecord),
	}
}

func (m *MemoryStore) Get(_ context.Context, fileID string) (filerecord.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[fileID]
	if !ok {
		return filerecord.FileRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ConditionalPut(ctx context.Context, rec filerecord.FileRecord, expect Precondition) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var current *filerecord.FileRecord
	if cur, ok := m.records[rec.FileID]; ok {
		current = &cur
	}
	if !expect.Holds(current) {
		return ErrConditionFailed
	}
	m.records[rec.FileID] = rec
	m.history[rec.FileID] = append(m.history[rec.FileID], rec)
	return nil
}

func (m *MemoryStore) QueryByStatusAndTimeRange(ctx context.Context, status filerecord.Status, start, end time.Time) ([]filerecord.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	lo, hi := start.UnixMilli(), end.UnixMilli()
	var out []filerecord.FileRecord
	for _, rec := range m.records {
		if rec.Status == status && rec.UploadTimestamp >= lo && rec.UploadTimestamp < hi {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b filerecord.FileRecord) int {
		if c := cmp.Compare(a.UploadTimestamp, b.UploadTimestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.FileID, b.FileID)
	})
	return out, nil
}

// History returns every record version written for fileID, oldest first.
func (m *MemoryStore) History(fileID string) []filerecord.FileRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[fileID])
}

// Seed stores rec unconditionally.
func (m *MemoryStore) Seed(rec filerecord.FileRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.FileID] = rec
	m.history[rec.FileID] = append(m.history[rec.FileID], rec)
}
