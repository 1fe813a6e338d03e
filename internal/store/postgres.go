package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/Iron-Ham/arbiter/internal/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS contracts (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	betting_end_time TIMESTAMPTZ NOT NULL,
	party_a_id TEXT NOT NULL,
	party_a_name TEXT NOT NULL,
	party_a_description TEXT NOT NULL DEFAULT '',
	party_b_id TEXT NOT NULL,
	party_b_name TEXT NOT NULL,
	party_b_description TEXT NOT NULL DEFAULT '',
	winner_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contracts_ready ON contracts (status, betting_end_time);

CREATE TABLE IF NOT EXISTS decisions (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL UNIQUE,
	winner_id TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	reasoning TEXT NOT NULL,
	methodology TEXT NOT NULL,
	evidence JSONB NOT NULL,
	metrics JSONB NOT NULL,
	quality_flags JSONB NOT NULL,
	transaction_id TEXT NOT NULL,
	history_ref TEXT NOT NULL,
	message_count INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	contract_id TEXT NOT NULL,
	seq BIGINT NOT NULL,
	phase TEXT NOT NULL,
	message_type TEXT NOT NULL,
	agent_id TEXT NOT NULL DEFAULT '',
	agent_name TEXT NOT NULL DEFAULT '',
	content JSONB NOT NULL,
	metadata JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_contract ON messages (contract_id, created_at, seq);
`

// uniqueViolation is the SQLSTATE for a unique constraint failure.
const uniqueViolation = "23505"

var postgresDialect = dialect{
	name:     "postgres",
	schema:   postgresSchema,
	numbered: true,
	timeArg:  func(t time.Time) any { return t.UTC() },
	isUnique: func(err error) bool {
		var pqErr *pq.Error
		return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
	},
}

// OpenPostgres connects to dsn and migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Stores, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, persistErr("open postgres", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, persistErr("ping postgres", err)
	}
	if err := migrate(ctx, db, postgresDialect); err != nil {
		_ = db.Close()
		return nil, err
	}
	return newSQLStores(db, postgresDialect), nil
}

// NewPostgres wraps an already migrated handle.
func NewPostgres(db *sql.DB) *Stores {
	return newSQLStores(db, postgresDialect)
}
