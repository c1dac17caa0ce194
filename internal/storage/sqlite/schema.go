// internal/storage/sqlite/schema.go
package sqlite

// Schema is executed on every open. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS positions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id      TEXT NOT NULL,
	token_address TEXT NOT NULL,
	token_symbol  TEXT NOT NULL DEFAULT '',
	token_name    TEXT NOT NULL DEFAULT '',
	entry_price   REAL NOT NULL DEFAULT 0,
	amount_sol    REAL NOT NULL DEFAULT 0,
	amount_token  REAL NOT NULL DEFAULT 0,
	open_date     TIMESTAMP NOT NULL,
	last_updated  TIMESTAMP NOT NULL,
	is_active     INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_positions_owner ON positions(owner_id, is_active);

CREATE TABLE IF NOT EXISTS transactions (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	owner_id      TEXT NOT NULL,
	hash          TEXT NOT NULL UNIQUE,
	token_address TEXT NOT NULL,
	token_symbol  TEXT NOT NULL DEFAULT '',
	amount        REAL NOT NULL DEFAULT 0,
	type          TEXT NOT NULL,
	status        TEXT NOT NULL,
	price_usd     REAL NOT NULL DEFAULT 0,
	price_sol     REAL NOT NULL DEFAULT 0,
	timestamp     TIMESTAMP NOT NULL,
	error         TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_transactions_owner ON transactions(owner_id, id);
`
