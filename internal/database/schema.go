package database

import "database/sql"

// Schema statements run on startup. Movements are append-only: the
// schema has no trigger enforcing it, the services simply never issue
// UPDATE or DELETE against the table. The partial unique index on
// ticket_ref prevents a ticket from being charged to an account twice.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		credit_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		credit_limit NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (credit_limit >= 0),
		balance NUMERIC(10,2) NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS tickets (
		id BIGSERIAL PRIMARY KEY,
		items TEXT NOT NULL,
		discount NUMERIC(5,2) NOT NULL DEFAULT 0,
		total NUMERIC(10,2) NOT NULL,
		received NUMERIC(10,2) NOT NULL DEFAULT 0,
		change NUMERIC(10,2) NOT NULL DEFAULT 0,
		deposit NUMERIC(10,2) NOT NULL DEFAULT 0,
		payment_type TEXT NOT NULL DEFAULT 'contado',
		account_id BIGINT REFERENCES accounts(id),
		seller_id BIGINT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		ticket_ref BIGINT REFERENCES tickets(id),
		kind TEXT NOT NULL CHECK (kind IN ('sale', 'payment', 'partial_delivery', 'adjustment')),
		amount NUMERIC(10,2) NOT NULL CHECK (amount >= 0),
		balance_before NUMERIC(10,2) NOT NULL,
		balance_after NUMERIC(10,2) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		recorded_by BIGINT,
		idempotency_key TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_account ON movements (account_id, id DESC)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_sale_ticket ON movements (ticket_ref) WHERE kind = 'sale' AND ticket_ref IS NOT NULL`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_movements_idempotency ON movements (idempotency_key) WHERE idempotency_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_tickets_unassigned ON tickets (created_at DESC) WHERE account_id IS NULL`,
}

// EnsureSchema creates the ledger tables and indexes if missing.
func EnsureSchema(db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
