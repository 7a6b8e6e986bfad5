package sqlstore

import (
	"database/sql"
	"fmt"
)

// schema contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist. The %s verb is the dialect's
// append-sequence column definition.
const schema = `
CREATE TABLE IF NOT EXISTS savings_groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    slug TEXT NOT NULL UNIQUE,
    contribution_amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    frequency TEXT NOT NULL,
    max_members INTEGER NOT NULL,
    group_type TEXT NOT NULL,
    current_cycle INTEGER NOT NULL,
    total_cycles INTEGER NOT NULL,
    status TEXT NOT NULL,
    requires_prepayment BOOLEAN NOT NULL,
    requires_full_funding BOOLEAN NOT NULL,
    created_by TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS memberships (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL REFERENCES savings_groups(id),
    member_id TEXT NOT NULL,
    role TEXT NOT NULL,
    status TEXT NOT NULL,
    join_position INTEGER NOT NULL,
    joined_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    seq %s,
    id TEXT NOT NULL UNIQUE,
    member_id TEXT NOT NULL,
    group_id TEXT,
    cycle_number INTEGER NOT NULL DEFAULT 0,
    tx_type TEXT NOT NULL,
    scope TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    status TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    metadata TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (member_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS cycles (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL REFERENCES savings_groups(id),
    cycle_number INTEGER NOT NULL,
    winner_id TEXT NOT NULL,
    prize_amount TEXT NOT NULL,
    eligible TEXT NOT NULL,
    method TEXT NOT NULL,
    payout_transaction_id TEXT NOT NULL,
    drawn_by TEXT NOT NULL,
    drawn_at BIGINT NOT NULL,
    UNIQUE (group_id, cycle_number)
);

CREATE TABLE IF NOT EXISTS payout_accounts (
    id TEXT PRIMARY KEY,
    member_id TEXT NOT NULL,
    reference TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    UNIQUE (member_id, reference)
);

CREATE TABLE IF NOT EXISTS withdrawals (
    id TEXT PRIMARY KEY,
    member_id TEXT NOT NULL,
    amount TEXT NOT NULL,
    currency TEXT NOT NULL,
    destination_account TEXT NOT NULL,
    payout_account_id TEXT NOT NULL REFERENCES payout_accounts(id),
    status TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    idempotency_key TEXT NOT NULL,
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    UNIQUE (member_id, idempotency_key)
);

CREATE TABLE IF NOT EXISTS outbox (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    payload TEXT NOT NULL,
    dedupe_key TEXT NOT NULL UNIQUE,
    status TEXT NOT NULL,
    attempt_count INTEGER NOT NULL DEFAULT 0,
    next_attempt_at BIGINT NOT NULL,
    lease_owner TEXT NOT NULL DEFAULT '',
    lease_expires_at BIGINT NOT NULL DEFAULT 0,
    last_error TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS draw_leases (
    group_id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    expires_at BIGINT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_memberships_active ON memberships(group_id, member_id) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_memberships_group ON memberships(group_id, join_position);
CREATE INDEX IF NOT EXISTS idx_transactions_member ON transactions(member_id, seq);
CREATE INDEX IF NOT EXISTS idx_transactions_group_cycle ON transactions(group_id, cycle_number);
CREATE INDEX IF NOT EXISTS idx_outbox_due ON outbox(status, next_attempt_at);
`

// migrationLockKey serialises schema setup across processes starting at once.
const migrationLockKey = "kixikila:migrations"

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB, d dialect) error {
	if d.lockSQL == "" {
		_, err := db.Exec(fmt.Sprintf(schema, d.serial))
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.rebind(d.lockSQL), migrationLockKey); err != nil {
		return fmt.Errorf("failed to lock schema: %w", err)
	}
	if _, err := tx.Exec(fmt.Sprintf(schema, d.serial)); err != nil {
		return err
	}
	return tx.Commit()
}
