package cassandra

// schemaStatements are applied, in order, against the configured keyspace
// on every Open; each is a CREATE ... IF NOT EXISTS, so reapplying them to
// an existing keyspace changes nothing.
// Column families mirror the ledger entity model one-for-one; "Deleted" is
// stored explicitly rather than inferred from blob length, to distinguish a
// tombstone from a legitimately empty blob.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS ledgers (
		sequence bigint PRIMARY KEY,
		hash blob,
		parent_hash blob,
		tx_hash blob,
		state_hash blob,
		close_time bigint,
		parent_close_time bigint,
		close_time_resolution int,
		close_flags int,
		drops_total bigint
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_hashes (
		hash blob PRIMARY KEY,
		sequence bigint
	)`,
	`CREATE TABLE IF NOT EXISTS objects (
		key blob,
		sequence bigint,
		blob blob,
		deleted boolean,
		PRIMARY KEY (key, sequence)
	) WITH CLUSTERING ORDER BY (sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS successors (
		key blob,
		sequence bigint,
		next blob,
		PRIMARY KEY (key, sequence)
	) WITH CLUSTERING ORDER BY (sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		hash blob PRIMARY KEY,
		sequence bigint,
		close_time bigint,
		tx_blob blob,
		meta_blob blob
	)`,
	`CREATE TABLE IF NOT EXISTS ledger_transactions (
		sequence bigint,
		hash blob,
		PRIMARY KEY (sequence, hash)
	)`,
	`CREATE TABLE IF NOT EXISTS account_tx (
		account blob,
		sequence bigint,
		idx int,
		tx_hash blob,
		PRIMARY KEY (account, sequence, idx)
	) WITH CLUSTERING ORDER BY (sequence DESC, idx DESC)`,
	`CREATE TABLE IF NOT EXISTS nft_state (
		token_id blob,
		sequence bigint,
		owner blob,
		burned boolean,
		uri blob,
		PRIMARY KEY (token_id, sequence)
	) WITH CLUSTERING ORDER BY (sequence DESC)`,
	`CREATE TABLE IF NOT EXISTS nft_tx (
		token_id blob,
		sequence bigint,
		idx int,
		tx_hash blob,
		PRIMARY KEY (token_id, sequence, idx)
	) WITH CLUSTERING ORDER BY (sequence DESC, idx DESC)`,
	// ledger_range holds exactly one row per bound (min/max), updated via a
	// lightweight transaction (IF) implementing the tip-uniqueness CAS.
	`CREATE TABLE IF NOT EXISTS ledger_range (
		is_latest boolean PRIMARY KEY,
		sequence bigint
	)`,
}
