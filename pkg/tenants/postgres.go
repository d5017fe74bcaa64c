package tenants

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"canopy/pkg/uuid47"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed tenant catalog.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates the catalog tables if they do not already exist.
// Safe to call repeatedly (idempotent). Setup tokens cascade with their
// tenant.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenants (
  id uuid PRIMARY KEY,
  identifier text UNIQUE NOT NULL,
  name text UNIQUE NOT NULL,
  db_provider text NOT NULL DEFAULT 'postgres',
  encryption_key text NOT NULL DEFAULT '',
  connection_string text NOT NULL DEFAULT '',
  oidc_metadata_address text NOT NULL DEFAULT '',
  oidc_authority text NOT NULL DEFAULT '',
  oidc_authorization_endpoint text NOT NULL DEFAULT '',
  oidc_token_endpoint text NOT NULL DEFAULT '',
  oidc_jwks_uri text NOT NULL DEFAULT '',
  oidc_end_session_endpoint text NOT NULL DEFAULT '',
  oidc_client_id text NOT NULL DEFAULT '',
  oidc_client_secret text NOT NULL DEFAULT '',
  role_claim_name text NOT NULL DEFAULT '',
  obfuscation_key_k0 bigint NOT NULL,
  obfuscation_key_k1 bigint NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS setup_tokens (
  id uuid PRIMARY KEY,
  tenant_id uuid NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
  token_hash text UNIQUE NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  expires_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS setup_tokens_tenant_idx ON setup_tokens(tenant_id);
`)
	return err
}

const tenantColumns = `id,identifier,name,db_provider,encryption_key,connection_string,
oidc_metadata_address,oidc_authority,oidc_authorization_endpoint,oidc_token_endpoint,
oidc_jwks_uri,oidc_end_session_endpoint,oidc_client_id,oidc_client_secret,role_claim_name,
obfuscation_key_k0,obfuscation_key_k1,created_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	var provider string
	var k0, k1 int64
	err := row.Scan(&t.ID, &t.Identifier, &t.Name, &provider, &t.EncryptionKey, &t.ConnectionString,
		&t.OIDC.MetadataAddress, &t.OIDC.Authority, &t.OIDC.AuthorizationEndpoint, &t.OIDC.TokenEndpoint,
		&t.OIDC.JWKSURI, &t.OIDC.EndSessionEndpoint, &t.OIDC.ClientID, &t.OIDC.ClientSecret, &t.OIDC.RoleClaimName,
		&k0, &k1, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Tenant{}, ErrNotFound
		}
		return Tenant{}, err
	}
	t.DBProvider = DBProvider(provider)
	t.ObfuscationKey = uuid47.Key{K0: uint64(k0), K1: uint64(k1)}
	return t, nil
}

func (p *pgStore) GetByIdentifier(ctx context.Context, identifier string) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE identifier=$1`, identifier)
	return scanTenant(row)
}

func (p *pgStore) GetByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT `+tenantColumns+` FROM tenants WHERE id=$1`, id)
	return scanTenant(row)
}

func (p *pgStore) Create(ctx context.Context, t Tenant) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO tenants(
  id,identifier,name,db_provider,encryption_key,connection_string,
  oidc_metadata_address,oidc_authority,oidc_authorization_endpoint,oidc_token_endpoint,
  oidc_jwks_uri,oidc_end_session_endpoint,oidc_client_id,oidc_client_secret,role_claim_name,
  obfuscation_key_k0,obfuscation_key_k1)
  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		t.ID, t.Identifier, t.Name, string(t.DBProvider), t.EncryptionKey, t.ConnectionString,
		t.OIDC.MetadataAddress, t.OIDC.Authority, t.OIDC.AuthorizationEndpoint, t.OIDC.TokenEndpoint,
		t.OIDC.JWKSURI, t.OIDC.EndSessionEndpoint, t.OIDC.ClientID, t.OIDC.ClientSecret, t.OIDC.RoleClaimName,
		int64(t.ObfuscationKey.K0), int64(t.ObfuscationKey.K1))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (p *pgStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.dbPool.Exec(ctx, `DELETE FROM tenants WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgStore) List(ctx context.Context) ([]Tenant, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT `+tenantColumns+` FROM tenants ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
