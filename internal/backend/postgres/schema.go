package postgres

// schemaStatements mirror the cassandra backend's column families as
// relational tables: (key, sequence) composite primary keys stand in for
// Cassandra's clustering order, with a supporting index for the
// "newest version <= seq" read pattern.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledgers (
		sequence BIGINT PRIMARY KEY,
		hash BYTEA NOT NULL,
		parent_hash BYTEA NOT NULL,
		tx_hash BYTEA NOT NULL,
		state_hash BYTEA NOT NULL,
		close_time BIGINT NOT NULL,
		parent_close_time BIGINT NOT NULL,
		close_time_resolution SMALLINT NOT NULL,
		close_flags SMALLINT NOT NULL,
		drops_total BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_hashes (hash BYTEA PRIMARY KEY, sequence BIGINT NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS objects (
		key BYTEA NOT NULL,
		sequence BIGINT NOT NULL,
		blob BYTEA NOT NULL,
		deleted BOOLEAN NOT NULL,
		PRIMARY KEY (key, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS objects_key_seq_desc ON objects (key, sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS successors (
		key BYTEA NOT NULL,
		sequence BIGINT NOT NULL,
		next BYTEA NOT NULL,
		PRIMARY KEY (key, sequence)
	)`,
	`CREATE INDEX IF NOT EXISTS successors_key_seq_desc ON successors (key, sequence DESC)`,
	`CREATE INDEX IF NOT EXISTS successors_next ON successors (next, sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash BYTEA PRIMARY KEY,
		sequence BIGINT NOT NULL,
		close_time BIGINT NOT NULL,
		tx_blob BYTEA NOT NULL,
		meta_blob BYTEA NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (sequence BIGINT NOT NULL, hash BYTEA NOT NULL, PRIMARY KEY (sequence, hash))`,
	`CREATE TABLE IF NOT EXISTS account_tx (
		account BYTEA NOT NULL,
		sequence BIGINT NOT NULL,
		idx INT NOT NULL,
		tx_hash BYTEA NOT NULL,
		PRIMARY KEY (account, sequence, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS nft_state (
		token_id BYTEA NOT NULL,
		sequence BIGINT NOT NULL,
		owner BYTEA NOT NULL,
		burned BOOLEAN NOT NULL,
		uri BYTEA NOT NULL,
		PRIMARY KEY (token_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS nft_tx (
		token_id BYTEA NOT NULL,
		sequence BIGINT NOT NULL,
		idx INT NOT NULL,
		tx_hash BYTEA NOT NULL,
		PRIMARY KEY (token_id, sequence, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_range (singleton BOOLEAN PRIMARY KEY DEFAULT true, min_sequence BIGINT, max_sequence BIGINT, CHECK (singleton))`,
}
