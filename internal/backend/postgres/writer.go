package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/ledger"
)

// pendingTx wraps one open pgx transaction for the current write scope.
type pendingTx struct {
	tx pgx.Tx
}

func (b *Backend) StartWrites(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres backend: starting transaction: %w", err)
	}
	b.tx = &pendingTx{tx: tx}
	return nil
}

func (b *Backend) requireTx() (pgx.Tx, error) {
	if b.tx == nil {
		return nil, fmt.Errorf("postgres backend: write called outside StartWrites/FinishWrites scope")
	}
	return b.tx.tx, nil
}

func (b *Backend) WriteLedger(ctx context.Context, h ledger.Header) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledgers (sequence, hash, parent_hash, tx_hash, state_hash, close_time, parent_close_time, close_time_resolution, close_flags, drops_total)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) ON CONFLICT (sequence) DO NOTHING`,
		int64(h.Seq), h.Hash[:], h.ParentHash[:], h.TxHash[:], h.StateHash[:], h.CloseTime, h.ParentCloseTime, int16(h.CloseTimeResolution), int16(h.CloseFlags), h.DropsTotal)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledger_hashes (hash, sequence) VALUES ($1,$2) ON CONFLICT (hash) DO NOTHING`, h.Hash[:], int64(h.Seq))
	return err
}

func (b *Backend) WriteLedgerObject(ctx context.Context, o ledger.Object) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO objects (key, sequence, blob, deleted) VALUES ($1,$2,$3,$4)
		ON CONFLICT (key, sequence) DO UPDATE SET blob = EXCLUDED.blob, deleted = EXCLUDED.deleted`,
		o.Key[:], int64(o.Seq), []byte(o.Blob), o.Deleted)
	return err
}

func (b *Backend) WriteSuccessor(ctx context.Context, s ledger.Successor) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO successors (key, sequence, next) VALUES ($1,$2,$3)
		ON CONFLICT (key, sequence) DO UPDATE SET next = EXCLUDED.next`,
		s.Key[:], int64(s.Seq), s.Next[:])
	return err
}

func (b *Backend) WriteTransaction(ctx context.Context, t ledger.Transaction) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO transactions (hash, sequence, close_time, tx_blob, meta_blob) VALUES ($1,$2,$3,$4,$5) ON CONFLICT (hash) DO NOTHING`,
		t.Hash[:], int64(t.Seq), t.CloseTime, []byte(t.TxBlob), []byte(t.MetaBlob))
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO ledger_transactions (sequence, hash) VALUES ($1,$2) ON CONFLICT DO NOTHING`, int64(t.Seq), t.Hash[:])
	return err
}

func (b *Backend) WriteAccountTransactions(ctx context.Context, rows []ledger.AccountTx) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.Exec(ctx, `INSERT INTO account_tx (account, sequence, idx, tx_hash) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
			r.Account[:], int64(r.Seq), int(r.Index), r.Tx[:]); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) WriteNFTState(ctx context.Context, n ledger.NFTState) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO nft_state (token_id, sequence, owner, burned, uri) VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (token_id, sequence) DO UPDATE SET owner = EXCLUDED.owner, burned = EXCLUDED.burned, uri = EXCLUDED.uri`,
		n.TokenID[:], int64(n.Seq), n.Owner[:], n.Burned, []byte(n.URI))
	return err
}

func (b *Backend) WriteNFTTransactions(ctx context.Context, rows []ledger.NFTTx) error {
	tx, err := b.requireTx()
	if err != nil {
		return err
	}
	for _, r := range rows {
		if _, err := tx.Exec(ctx, `INSERT INTO nft_tx (token_id, sequence, idx, tx_hash) VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
			r.TokenID[:], int64(r.Seq), int(r.Index), r.Tx[:]); err != nil {
			return err
		}
	}
	return nil
}

// FinishWrites implements the write-conflict CAS with SELECT ... FOR
// UPDATE on the singleton ledger_range row, serializing concurrent writers
// the way the original indexer's Postgres backend does, then commits.
func (b *Backend) FinishWrites(ctx context.Context, seq ledger.Seq) (bool, error) {
	tx, err := b.requireTx()
	if err != nil {
		return false, err
	}
	defer func() { b.tx = nil }()

	var min, max int64
	err = tx.QueryRow(ctx, `SELECT min_sequence, max_sequence FROM ledger_range WHERE singleton FOR UPDATE`).Scan(&min, &max)
	switch {
	case err == pgx.ErrNoRows:
		if _, err := tx.Exec(ctx, `INSERT INTO ledger_range (singleton, min_sequence, max_sequence) VALUES (true, $1, $1)`, int64(seq)); err != nil {
			tx.Rollback(ctx)
			return false, err
		}
	case err != nil:
		tx.Rollback(ctx)
		return false, fmt.Errorf("postgres backend: reading tip for CAS: %w", err)
	default:
		if int64(seq) == max {
			// Idempotent replay; fall through and recommit the (identical)
			// batch without moving the tip.
		} else if int64(seq) != max+1 {
			tx.Rollback(ctx)
			return false, nil
		} else {
			if _, err := tx.Exec(ctx, `UPDATE ledger_range SET max_sequence = $1 WHERE singleton`, int64(seq)); err != nil {
				tx.Rollback(ctx)
				return false, err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("postgres backend: committing ledger %d: %w", seq, err)
	}
	return true, nil
}

// DoOnlineDelete implements the collapse-then-delete algorithm against the
// relational schema: rewrite live rows as a fresh baseline version at
// keepMin inside one transaction per page, splice a fresh successor chain
// at keepMin over those same live keys, then bulk-delete everything older.
// The chain splice must land before the successor purge: a key whose
// pointer was last written before keepMin and never touched again has no
// other row recording it, so deleting every successor row with
// sequence<keepMin without first writing a keepMin-anchored replacement
// would strand it outside FetchSuccessor's reach even though the object
// itself survives.
func (b *Backend) DoOnlineDelete(ctx context.Context, reader backend.PageReader, keepMin ledger.Seq) error {
	var cursor *ledger.Key
	const pageSize = 1000
	var liveKeys []ledger.Key
	for {
		objs, next, _, err := reader.FetchLedgerPage(ctx, cursor, keepMin, pageSize)
		if err != nil {
			return fmt.Errorf("postgres backend: online delete page walk: %w", err)
		}
		if len(objs) > 0 {
			tx, err := b.pool.Begin(ctx)
			if err != nil {
				return err
			}
			for _, o := range objs {
				if o.Deleted {
					continue
				}
				if _, err := tx.Exec(ctx, `INSERT INTO objects (key, sequence, blob, deleted) VALUES ($1,$2,$3,false)
					ON CONFLICT (key, sequence) DO UPDATE SET blob = EXCLUDED.blob, deleted = false`,
					o.Key[:], int64(keepMin), []byte(o.Blob)); err != nil {
					tx.Rollback(ctx)
					return fmt.Errorf("postgres backend: writing online-delete baseline: %w", err)
				}
				liveKeys = append(liveKeys, o.Key)
			}
			if err := tx.Commit(ctx); err != nil {
				return err
			}
		}
		if next == nil {
			break
		}
		cursor = next
	}

	if err := b.writeOnlineDeleteChain(ctx, keepMin, liveKeys); err != nil {
		return err
	}

	if _, err := b.pool.Exec(ctx, `DELETE FROM objects WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old objects: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM successors WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old successors: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM ledgers WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old ledgers: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM ledger_hashes WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old ledger hashes: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM transactions WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old transactions: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM ledger_transactions WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old ledger transactions: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM account_tx WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old account tx rows: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM nft_tx WHERE sequence < $1`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: deleting old nft tx rows: %w", err)
	}
	if _, err := b.pool.Exec(ctx, `UPDATE ledger_range SET min_sequence = $1 WHERE singleton`, int64(keepMin)); err != nil {
		return fmt.Errorf("postgres backend: updating retained minimum: %w", err)
	}
	return nil
}

// writeOnlineDeleteChain splices a full successor chain at keepMin over
// liveKeys (already ascending, the order FetchLedgerPage walks them in),
// the same technique the initial-load path uses to build a chain from
// scratch: link FIRST_KEY through every live key to LAST_KEY.
func (b *Backend) writeOnlineDeleteChain(ctx context.Context, keepMin ledger.Seq, liveKeys []ledger.Key) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return err
	}
	prev := ledger.FirstKey
	for _, k := range liveKeys {
		if _, err := tx.Exec(ctx, `INSERT INTO successors (key, sequence, next) VALUES ($1,$2,$3)
			ON CONFLICT (key, sequence) DO UPDATE SET next = EXCLUDED.next`,
			prev[:], int64(keepMin), k[:]); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("postgres backend: writing online-delete successor chain: %w", err)
		}
		prev = k
	}
	if _, err := tx.Exec(ctx, `INSERT INTO successors (key, sequence, next) VALUES ($1,$2,$3)
		ON CONFLICT (key, sequence) DO UPDATE SET next = EXCLUDED.next`,
		prev[:], int64(keepMin), ledger.LastKey[:]); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("postgres backend: writing final online-delete successor chain link: %w", err)
	}
	return tx.Commit(ctx)
}
