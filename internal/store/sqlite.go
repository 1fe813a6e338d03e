package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	betting_end_time TEXT NOT NULL,
	party_a_id TEXT NOT NULL,
	party_a_name TEXT NOT NULL,
	party_a_description TEXT NOT NULL DEFAULT '',
	party_b_id TEXT NOT NULL,
	party_b_name TEXT NOT NULL,
	party_b_description TEXT NOT NULL DEFAULT '',
	winner_id TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contracts_ready ON contracts (status, betting_end_time);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL UNIQUE,
	winner_id TEXT NOT NULL,
	confidence REAL NOT NULL,
	reasoning TEXT NOT NULL,
	methodology TEXT NOT NULL,
	evidence TEXT NOT NULL,
	metrics TEXT NOT NULL,
	quality_flags TEXT NOT NULL,
	transaction_id TEXT NOT NULL,
	history_ref TEXT NOT NULL,
	message_count INTEGER NOT NULL,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	phase TEXT NOT NULL,
	message_type TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	content TEXT NOT NULL,
	metadata TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_contract ON messages (contract_id, created_at, seq);
`

// sqliteTimeLayout is fixed width so text comparison orders correctly.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var sqliteDialect = dialect{
	name:   "sqlite",
	schema: sqliteSchema,
	timeArg: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
	isUnique: func(err error) bool {
		return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
	},
}

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*Stores, error) {
	if path == "" {
		path = "arbiter.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, persistErr("create sqlite directory", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, persistErr("open sqlite", err)
	}
	// One writer at a time; readers share the connection.
	db.SetMaxOpenConns(1)
	return NewSQLite(ctx, db)
}

// NewSQLite wraps an open SQLite handle and migrates it.
func NewSQLite(ctx context.Context, db *sql.DB) (*Stores, error) {
	if err := migrate(ctx, db, sqliteDialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLStores(db, sqliteDialect), nil
}
