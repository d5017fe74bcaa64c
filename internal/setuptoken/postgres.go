package setuptoken

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgStore persists token hashes in the setup_tokens catalog table (created
// by the tenants schema; ON DELETE CASCADE ties rows to their tenant).
type pgStore struct {
	dbPool *pgxpool.Pool
}

func NewPostgresStore(dbPool *pgxpool.Pool) Store {
	return &pgStore{dbPool: dbPool}
}

func (p *pgStore) Insert(ctx context.Context, tok Token) error {
	_, err := p.dbPool.Exec(ctx,
		`INSERT INTO setup_tokens(id,tenant_id,token_hash,created_at,expires_at) VALUES ($1,$2,$3,$4,$5)`,
		tok.ID, tok.TenantID, tok.TokenHash, tok.CreatedAt, tok.ExpiresAt)
	return err
}

func (p *pgStore) GetByTenantAndHash(ctx context.Context, tenantID uuid.UUID, hash string) (Token, error) {
	row := p.dbPool.QueryRow(ctx,
		`SELECT id,tenant_id,token_hash,created_at,expires_at FROM setup_tokens WHERE tenant_id=$1 AND token_hash=$2`,
		tenantID, hash)
	var tok Token
	if err := row.Scan(&tok.ID, &tok.TenantID, &tok.TokenHash, &tok.CreatedAt, &tok.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	return tok, nil
}

func (p *pgStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.dbPool.Exec(ctx, `DELETE FROM setup_tokens WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgStore) DeleteByTenant(ctx context.Context, tenantID uuid.UUID) error {
	_, err := p.dbPool.Exec(ctx, `DELETE FROM setup_tokens WHERE tenant_id=$1`, tenantID)
	return err
}
