// Package postgres implements backend.Backend against PostgreSQL via
// pgx/v5, with read-path queries assembled through Masterminds/squirrel.
package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/config"
	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
	"github.com/xrplf/xrplreport/internal/xlog"
	"github.com/xrplf/xrplreport/internal/xmetrics"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Backend is a pgx-pool-backed backend.Backend implementation.
type Backend struct {
	pool    *pgxpool.Pool
	metrics *xmetrics.Metrics
	log     xlog.Logger

	tx *pendingTx
}

type Option func(*Backend)

func WithMetrics(m *xmetrics.Metrics) Option { return func(b *Backend) { b.metrics = m } }

func Open(ctx context.Context, cfg config.PostgresConfig, opts ...Option) (*Backend, error) {
	if len(cfg.ContactPoints) == 0 {
		return nil, fmt.Errorf("%w: postgres: no contact_points configured", xerrors.InvalidRequest)
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	dsn := fmt.Sprintf("postgres://%s:%d/%s", cfg.ContactPoints[0], port, cfg.Keyspace)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: parsing dsn: %v", xerrors.InvalidRequest, err)
	}
	if cfg.Threads > 0 {
		poolCfg.MaxConns = int32(cfg.Threads)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: connecting: %v", xerrors.BackendUnavailable, err)
	}

	b := &Backend{pool: pool, log: xlog.For("backend.postgres")}
	for _, o := range opts {
		o(b)
	}
	if b.metrics == nil {
		b.metrics = xmetrics.Noop()
	}

	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%w: postgres: applying schema: %v", xerrors.BackendUnavailable, err)
		}
	}

	return b, nil
}

func (b *Backend) Close() error {
	b.pool.Close()
	return nil
}

func (b *Backend) FetchLedgerBySeq(ctx context.Context, seq ledger.Seq) (*ledger.Header, error) {
	q, args, err := psql.Select("sequence", "hash", "parent_hash", "tx_hash", "state_hash", "close_time", "parent_close_time", "close_time_resolution", "close_flags", "drops_total").
		From("ledgers").Where(sq.Eq{"sequence": seq}).ToSql()
	if err != nil {
		return nil, err
	}
	row := b.pool.QueryRow(ctx, q, args...)
	return scanHeader(row)
}

func scanHeader(row pgx.Row) (*ledger.Header, error) {
	var h ledger.Header
	var s int64
	var hashB, parentB, txB, stateB []byte
	var resolution, flags int16
	if err := row.Scan(&s, &hashB, &parentB, &txB, &stateB, &h.CloseTime, &h.ParentCloseTime, &resolution, &flags, &h.DropsTotal); err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: scanning ledger header: %v", xerrors.BackendUnavailable, err)
	}
	h.Seq = ledger.Seq(s)
	copy(h.Hash[:], hashB)
	copy(h.ParentHash[:], parentB)
	copy(h.TxHash[:], txB)
	copy(h.StateHash[:], stateB)
	h.CloseTimeResolution = uint8(resolution)
	h.CloseFlags = uint8(flags)
	return &h, nil
}

func (b *Backend) FetchLedgerByHash(ctx context.Context, hash ledger.Hash) (*ledger.Header, error) {
	var seq int64
	err := b.pool.QueryRow(ctx, `SELECT sequence FROM ledger_hashes WHERE hash = $1`, hash[:]).Scan(&seq)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: resolving hash: %v", xerrors.BackendUnavailable, err)
	}
	return b.FetchLedgerBySeq(ctx, ledger.Seq(seq))
}

func (b *Backend) FetchLedgerRange(ctx context.Context) (*ledger.Range, error) {
	var min, max int64
	err := b.pool.QueryRow(ctx, `SELECT min_sequence, max_sequence FROM ledger_range WHERE singleton`).Scan(&min, &max)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: reading range: %v", xerrors.BackendUnavailable, err)
	}
	return &ledger.Range{Min: ledger.Seq(min), Max: ledger.Seq(max)}, nil
}

func (b *Backend) FetchLedgerObject(ctx context.Context, key ledger.Key, seq ledger.Seq) (ledger.Blob, error) {
	var blob []byte
	var deleted bool
	q, args, err := psql.Select("blob", "deleted").From("objects").
		Where(sq.And{sq.Eq{"key": key[:]}, sq.LtOrEq{"sequence": seq}}).
		OrderBy("sequence DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	if err := b.pool.QueryRow(ctx, q, args...).Scan(&blob, &deleted); err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: fetching object: %v", xerrors.BackendUnavailable, err)
	}
	if deleted {
		return nil, xerrors.NotFound
	}
	return blob, nil
}

func (b *Backend) FetchSuccessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	q, args, err := psql.Select("next").From("successors").
		Where(sq.And{sq.Eq{"key": key[:]}, sq.LtOrEq{"sequence": seq}}).
		OrderBy("sequence DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	var nextB []byte
	if err := b.pool.QueryRow(ctx, q, args...).Scan(&nextB); err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: fetching successor: %v", xerrors.BackendUnavailable, err)
	}
	var next ledger.Key
	copy(next[:], nextB)
	return &next, nil
}

// FetchPredecessor is the mirror-image query: the largest key whose
// successor link points at key, at or before seq. Squirrel builds this as
// cleanly as the forward lookup because the relational layout indexes
// `next` directly (unlike the Cassandra layout's forward-only partitions).
func (b *Backend) FetchPredecessor(ctx context.Context, key ledger.Key, seq ledger.Seq) (*ledger.Key, error) {
	q, args, err := psql.Select("key").From("successors").
		Where(sq.And{sq.Eq{"next": key[:]}, sq.LtOrEq{"sequence": seq}}).
		OrderBy("key DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	var predB []byte
	if err := b.pool.QueryRow(ctx, q, args...).Scan(&predB); err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: fetching predecessor: %v", xerrors.BackendUnavailable, err)
	}
	var pred ledger.Key
	copy(pred[:], predB)
	return &pred, nil
}

func (b *Backend) FetchTransaction(ctx context.Context, hash ledger.Hash) (*ledger.Transaction, error) {
	var t ledger.Transaction
	var seq int64
	err := b.pool.QueryRow(ctx, `SELECT sequence, close_time, tx_blob, meta_blob FROM transactions WHERE hash = $1`, hash[:]).
		Scan(&seq, &t.CloseTime, &t.TxBlob, &t.MetaBlob)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: fetching transaction: %v", xerrors.BackendUnavailable, err)
	}
	t.Hash = hash
	t.Seq = ledger.Seq(seq)
	return &t, nil
}

func (b *Backend) FetchLedgerTxHashes(ctx context.Context, seq ledger.Seq) ([]ledger.Hash, error) {
	rows, err := b.pool.Query(ctx, `SELECT hash FROM ledger_transactions WHERE sequence = $1`, int64(seq))
	if err != nil {
		return nil, fmt.Errorf("%w: postgres: scanning ledger tx hashes: %v", xerrors.BackendUnavailable, err)
	}
	defer rows.Close()
	var out []ledger.Hash
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("%w: postgres: scanning ledger tx hashes: %v", xerrors.BackendUnavailable, err)
		}
		var h ledger.Hash
		copy(h[:], raw)
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil, xerrors.NotFound
	}
	return out, rows.Err()
}

func (b *Backend) FetchAccountTransactions(ctx context.Context, account ledger.AccountID, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.AccountTx, *backend.AccountTxCursor, error) {
	builder := psql.Select("sequence", "idx", "tx_hash").From("account_tx").Where(sq.Eq{"account": account[:]})
	if cursor != nil {
		if forward {
			builder = builder.Where(sq.Expr("(sequence, idx) > (?, ?)", cursor.Seq, cursor.Index))
		} else {
			builder = builder.Where(sq.Expr("(sequence, idx) < (?, ?)", cursor.Seq, cursor.Index))
		}
	}
	if forward {
		builder = builder.OrderBy("sequence ASC", "idx ASC")
	} else {
		builder = builder.OrderBy("sequence DESC", "idx DESC")
	}
	builder = builder.Limit(uint64(limit))

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, nil, err
	}
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: postgres: scanning account tx: %v", xerrors.BackendUnavailable, err)
	}
	defer rows.Close()

	var out []ledger.AccountTx
	for rows.Next() {
		var seq int64
		var idx int
		var txHash []byte
		if err := rows.Scan(&seq, &idx, &txHash); err != nil {
			return nil, nil, fmt.Errorf("%w: postgres: scanning account tx: %v", xerrors.BackendUnavailable, err)
		}
		var h ledger.Hash
		copy(h[:], txHash)
		out = append(out, ledger.AccountTx{Account: account, Seq: ledger.Seq(seq), Index: uint32(idx), Tx: h})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var next *backend.AccountTxCursor
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = &backend.AccountTxCursor{Seq: last.Seq, Index: last.Index}
	}
	return out, next, nil
}

func (b *Backend) FetchNFTState(ctx context.Context, tokenID ledger.Hash, seq ledger.Seq) (*ledger.NFTState, error) {
	q, args, err := psql.Select("sequence", "owner", "burned", "uri").From("nft_state").
		Where(sq.And{sq.Eq{"token_id": tokenID[:]}, sq.LtOrEq{"sequence": seq}}).
		OrderBy("sequence DESC").Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	var n ledger.NFTState
	var s int64
	var owner []byte
	if err := b.pool.QueryRow(ctx, q, args...).Scan(&s, &owner, &n.Burned, &n.URI); err != nil {
		if err == pgx.ErrNoRows {
			return nil, xerrors.NotFound
		}
		return nil, fmt.Errorf("%w: postgres: fetching nft state: %v", xerrors.BackendUnavailable, err)
	}
	n.TokenID = tokenID
	n.Seq = ledger.Seq(s)
	copy(n.Owner[:], owner)
	return &n, nil
}

func (b *Backend) FetchNFTTransactions(ctx context.Context, tokenID ledger.Hash, limit int, forward bool, cursor *backend.AccountTxCursor) ([]ledger.NFTTx, *backend.AccountTxCursor, error) {
	builder := psql.Select("sequence", "idx", "tx_hash").From("nft_tx").Where(sq.Eq{"token_id": tokenID[:]})
	if cursor != nil {
		if forward {
			builder = builder.Where(sq.Expr("(sequence, idx) > (?, ?)", cursor.Seq, cursor.Index))
		} else {
			builder = builder.Where(sq.Expr("(sequence, idx) < (?, ?)", cursor.Seq, cursor.Index))
		}
	}
	if forward {
		builder = builder.OrderBy("sequence ASC", "idx ASC")
	} else {
		builder = builder.OrderBy("sequence DESC", "idx DESC")
	}
	builder = builder.Limit(uint64(limit))

	q, args, err := builder.ToSql()
	if err != nil {
		return nil, nil, err
	}
	rows, err := b.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: postgres: scanning nft tx: %v", xerrors.BackendUnavailable, err)
	}
	defer rows.Close()

	var out []ledger.NFTTx
	for rows.Next() {
		var seq int64
		var idx int
		var txHash []byte
		if err := rows.Scan(&seq, &idx, &txHash); err != nil {
			return nil, nil, fmt.Errorf("%w: postgres: scanning nft tx: %v", xerrors.BackendUnavailable, err)
		}
		var h ledger.Hash
		copy(h[:], txHash)
		out = append(out, ledger.NFTTx{TokenID: tokenID, Seq: ledger.Seq(seq), Index: uint32(idx), Tx: h})
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	var next *backend.AccountTxCursor
	if len(out) == limit && limit > 0 {
		last := out[len(out)-1]
		next = &backend.AccountTxCursor{Seq: last.Seq, Index: last.Index}
	}
	return out, next, nil
}
