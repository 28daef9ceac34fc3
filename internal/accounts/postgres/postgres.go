// Package postgres implements accounts.ConfigProvider backed by PostgreSQL,
// for deployments where several gateway instances share one account pool.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/yuegongzi/copilot-api/internal/accounts"
)

// Provider loads accounts from the accounts table.
type Provider struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed account provider using the provided DSN.
func New(dsn string, maxOpen, maxIdle int) (*Provider, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	p := &Provider{db: db}
	if err := p.initSchema(); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

func (p *Provider) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	login TEXT NOT NULL,
	refresh_credential TEXT NOT NULL,
	scopes TEXT[] NOT NULL DEFAULT '{}',
	disabled BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := p.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ListAccounts returns all enabled accounts.
func (p *Provider) ListAccounts(ctx context.Context) ([]accounts.Account, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, login, refresh_credential, scopes FROM accounts WHERE NOT disabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []accounts.Account
	for rows.Next() {
		var acc accounts.Account
		if err := rows.Scan(&acc.ID, &acc.Login, &acc.RefreshCredential, pq.Array(&acc.Scopes)); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return out, nil
}

// UpsertAccount inserts or updates one account row.
func (p *Provider) UpsertAccount(ctx context.Context, acc accounts.Account) error {
	_, err := p.db.ExecContext(ctx, `
INSERT INTO accounts (id, login, refresh_credential, scopes, disabled, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW())
ON CONFLICT (id) DO UPDATE SET
	login = EXCLUDED.login,
	refresh_credential = EXCLUDED.refresh_credential,
	scopes = EXCLUDED.scopes,
	disabled = EXCLUDED.disabled,
	updated_at = NOW()`,
		acc.ID, acc.Login, acc.RefreshCredential, pq.Array(acc.Scopes), acc.Disabled)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", acc.ID, err)
	}
	return nil
}

// Close releases underlying database resources.
func (p *Provider) Close() error {
	return p.db.Close()
}
