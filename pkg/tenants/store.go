package tenants

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("tenant not found")
	ErrConflict = errors.New("tenant already exists")
)

// Store is the tenant catalog. The broker core never caches records across
// requests; every operation re-reads through this interface so configuration
// changes take effect immediately.
type Store interface {
	GetByIdentifier(ctx context.Context, identifier string) (Tenant, error)
	GetByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	Create(ctx context.Context, t Tenant) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]Tenant, error)
}
