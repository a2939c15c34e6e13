package usage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/plinthhq/plinth/internal/pagination"
)

type rowKey struct {
	tenantID  string
	publicKey string
	subjectID string
}

// MemoryStore is an in-memory subscription store for tests and
// development.
type MemoryStore struct {
	mu   sync.RWMutex
	rows map[rowKey]*Subscription
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rows: make(map[rowKey]*Subscription)}
}

func (m *MemoryStore) Insert(_ context.Context, sub *Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := rowKey{sub.TenantID, sub.PublicKey, sub.SubjectID}
	if _, exists := m.rows[k]; exists {
		return false, nil
	}
	cp := *sub
	m.rows[k] = &cp
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, tenantID, publicKey, subjectID string) (*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.rows[rowKey{tenantID, publicKey, subjectID}]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (m *MemoryStore) SubjectTenant(_ context.Context, subjectID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k := range m.rows {
		if k.subjectID == subjectID {
			return k.tenantID, true, nil
		}
	}
	return "", false, nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, tenantID, subjectID string, status Status, periodEnd time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k, row := range m.rows {
		if k.tenantID == tenantID && k.subjectID == subjectID {
			row.Status = status
			if !periodEnd.IsZero() {
				row.PeriodEnd = periodEnd
			}
			row.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SetCustomer(_ context.Context, tenantID, subjectID, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found bool
	for k, row := range m.rows {
		if k.tenantID == tenantID && k.subjectID == subjectID {
			row.CustomerID = customerID
			row.UpdatedAt = time.Now()
			found = true
		}
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

func (m *MemoryStore) Increment(_ context.Context, tenantID, publicKey, subjectID string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[rowKey{tenantID, publicKey, subjectID}]
	if !ok {
		return 0, ErrNotFound
	}
	row.UsageCount += n
	row.UpdatedAt = time.Now()
	return row.UsageCount, nil
}

func (m *MemoryStore) ListByTenant(_ context.Context, tenantID string, limit int, cursor *pagination.Cursor) ([]*Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var rows []*Subscription
	for k, row := range m.rows {
		if k.tenantID != tenantID {
			continue
		}
		cp := *row
		rows = append(rows, &cp)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].SubjectID < rows[j].SubjectID
	})

	if cursor != nil {
		idx := sort.Search(len(rows), func(i int) bool {
			if !rows[i].CreatedAt.Equal(cursor.CreatedAt) {
				return rows[i].CreatedAt.After(cursor.CreatedAt)
			}
			return rows[i].SubjectID > cursor.ID
		})
		rows = rows[idx:]
	}
	if len(rows) > limit+1 {
		rows = rows[:limit+1]
	}
	return rows, nil
}

func (m *MemoryStore) DeleteTenant(_ context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.rows {
		if k.tenantID == tenantID {
			delete(m.rows, k)
			n++
		}
	}
	return n, nil
}
