package setuptoken

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type memStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]Token
}

func NewMemoryStore() Store {
	return &memStore{byID: map[uuid.UUID]Token{}}
}

func (m *memStore) Insert(_ context.Context, tok Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[tok.ID] = tok
	return nil
}

func (m *memStore) GetByTenantAndHash(_ context.Context, tenantID uuid.UUID, hash string) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tok := range m.byID {
		if tok.TenantID == tenantID && tok.TokenHash == hash {
			return tok, nil
		}
	}
	return Token{}, ErrNotFound
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

func (m *memStore) DeleteByTenant(_ context.Context, tenantID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, tok := range m.byID {
		if tok.TenantID == tenantID {
			delete(m.byID, id)
		}
	}
	return nil
}
