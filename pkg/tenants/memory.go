package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// memStore is the in-memory catalog used for dev bring-up and tests.
type memStore struct {
	log *zap.SugaredLogger

	mu   sync.RWMutex
	byID map[uuid.UUID]Tenant
}

func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{log: log, byID: map[uuid.UUID]Tenant{}}
}

func (m *memStore) GetByIdentifier(_ context.Context, identifier string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.byID {
		if t.Identifier == identifier {
			return t, nil
		}
	}
	return Tenant{}, ErrNotFound
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t, ok := m.byID[id]; ok {
		return t, nil
	}
	return Tenant{}, ErrNotFound
}

func (m *memStore) Create(_ context.Context, t Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.Identifier == t.Identifier || existing.Name == t.Name {
			return ErrConflict
		}
	}
	if _, ok := m.byID[t.ID]; ok {
		return ErrConflict
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.byID[t.ID] = t
	return nil
}

func (m *memStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return ErrNotFound
	}
	delete(m.byID, id)
	return nil
}

func (m *memStore) List(_ context.Context) ([]Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Tenant, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out, nil
}
