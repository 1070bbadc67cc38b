package mock

import (
	"context"
	"fmt"
	"sort"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/ledger"
)

func (b *Backend) StartWrites(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = &pendingWrites{}
	return nil
}

func (b *Backend) requirePending() (*pendingWrites, error) {
	if b.pending == nil {
		return nil, fmt.Errorf("mock backend: write called outside StartWrites/FinishWrites scope")
	}
	return b.pending, nil
}

func (b *Backend) WriteLedger(ctx context.Context, h ledger.Header) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	hh := h
	p.header = &hh
	return nil
}

func (b *Backend) WriteLedgerObject(ctx context.Context, o ledger.Object) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.objects = append(p.objects, o)
	return nil
}

func (b *Backend) WriteSuccessor(ctx context.Context, s ledger.Successor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.successors = append(p.successors, s)
	return nil
}

func (b *Backend) WriteTransaction(ctx context.Context, t ledger.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.transactions = append(p.transactions, t)
	return nil
}

func (b *Backend) WriteAccountTransactions(ctx context.Context, rows []ledger.AccountTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.accountTx = append(p.accountTx, rows...)
	return nil
}

func (b *Backend) WriteNFTState(ctx context.Context, n ledger.NFTState) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.nftState = append(p.nftState, n)
	return nil
}

func (b *Backend) WriteNFTTransactions(ctx context.Context, rows []ledger.NFTTx) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, err := b.requirePending()
	if err != nil {
		return err
	}
	p.nftTx = append(p.nftTx, rows...)
	return nil
}

// insertObjVersion inserts/overwrites the version for seq, idempotent under
// (key, seq): writing the same version twice is a no-op on observable state.
func insertObjVersion(versions []objVersion, v objVersion) []objVersion {
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq >= v.seq })
	if idx < len(versions) && versions[idx].seq == v.seq {
		versions[idx] = v
		return versions
	}
	versions = append(versions, objVersion{})
	copy(versions[idx+1:], versions[idx:])
	versions[idx] = v
	return versions
}

func insertSuccVersion(versions []succVersion, v succVersion) []succVersion {
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq >= v.seq })
	if idx < len(versions) && versions[idx].seq == v.seq {
		versions[idx] = v
		return versions
	}
	versions = append(versions, succVersion{})
	copy(versions[idx+1:], versions[idx:])
	versions[idx] = v
	return versions
}

func insertNFTVersion(versions []nftVersion, v nftVersion) []nftVersion {
	idx := sort.Search(len(versions), func(i int) bool { return versions[i].seq >= v.seq })
	if idx < len(versions) && versions[idx].seq == v.seq {
		versions[idx] = v
		return versions
	}
	versions = append(versions, nftVersion{})
	copy(versions[idx+1:], versions[idx:])
	versions[idx] = v
	return versions
}

// FinishWrites commits the pending batch and attempts the tip CAS described
// by the ledger-range tip-uniqueness invariant: the write succeeds only if
// the prior tip is absent or equals seq-1 (i.e. max before this call), or
// already equals seq (idempotent replay by the same writer).
func (b *Backend) FinishWrites(ctx context.Context, seq ledger.Seq) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := b.pending
	b.pending = nil
	if p == nil {
		return false, fmt.Errorf("mock backend: FinishWrites called without StartWrites")
	}

	if b.haveRange {
		if b.rng.Max > seq {
			return false, nil
		}
		if b.rng.Max == seq {
			// Idempotent replay of an already-committed ledger: apply the
			// (identical, by the idempotency invariant) writes and report
			// success without re-racing the tip.
		} else if b.rng.Max != seq-1 {
			return false, nil
		}
	}

	if p.header != nil {
		b.headers[seq] = *p.header
		b.hashIndex[p.header.Hash] = seq
	}
	for _, o := range p.objects {
		b.objects[o.Key] = insertObjVersion(b.objects[o.Key], objVersion{seq: o.Seq, blob: o.Blob, deleted: o.Deleted})
	}
	for _, s := range p.successors {
		b.successors[s.Key] = insertSuccVersion(b.successors[s.Key], succVersion{seq: s.Seq, next: s.Next})
	}
	for _, t := range p.transactions {
		b.transactions[t.Hash] = t
		b.ledgerTxSets[t.Seq] = append(b.ledgerTxSets[t.Seq], t.Hash)
	}
	for _, r := range p.accountTx {
		b.accountTx[r.Account] = append(b.accountTx[r.Account], r)
	}
	for _, n := range p.nftState {
		b.nftState[n.TokenID] = insertNFTVersion(b.nftState[n.TokenID], nftVersion{seq: n.Seq, owner: n.Owner, burned: n.Burned, uri: n.URI})
	}
	for _, r := range p.nftTx {
		b.nftTx[r.TokenID] = append(b.nftTx[r.TokenID], r)
	}

	if !b.haveRange {
		b.rng = ledger.Range{Min: seq, Max: seq}
		b.haveRange = true
	} else if seq > b.rng.Max {
		b.rng.Max = seq
	}
	return true, nil
}

// DoOnlineDelete collapses history before keepMin into a single baseline version, then deletes older rows: walk live state at keepMin
// via reader, rewrite every live object as a fresh version at keepMin, then
// drop everything strictly older than keepMin. The same walk collects every
// live key so a fresh successor chain can be spliced at keepMin before the
// old chain's rows are dropped: a key whose pointer was last written before
// keepMin and never touched again would otherwise lose its only successor
// row once the purge below removes every version with seq<keepMin.
func (b *Backend) DoOnlineDelete(ctx context.Context, reader backend.PageReader, keepMin ledger.Seq) error {
	var cursor *ledger.Key
	const pageSize = 512
	var liveKeys []ledger.Key
	for {
		objs, next, _, err := reader.FetchLedgerPage(ctx, cursor, keepMin, pageSize)
		if err != nil {
			return err
		}
		b.mu.Lock()
		for _, o := range objs {
			if o.Deleted {
				continue
			}
			b.objects[o.Key] = insertObjVersion(b.objects[o.Key], objVersion{seq: keepMin, blob: o.Blob})
			liveKeys = append(liveKeys, o.Key)
		}
		b.mu.Unlock()
		if next == nil {
			break
		}
		cursor = next
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	prev := ledger.FirstKey
	for _, k := range liveKeys {
		b.successors[prev] = insertSuccVersion(b.successors[prev], succVersion{seq: keepMin, next: k})
		prev = k
	}
	b.successors[prev] = insertSuccVersion(b.successors[prev], succVersion{seq: keepMin, next: ledger.LastKey})

	for seq := range b.headers {
		if seq < keepMin {
			delete(b.headers, seq)
		}
	}
	for h, seq := range b.hashIndex {
		if seq < keepMin {
			delete(b.hashIndex, h)
		}
	}
	for k, versions := range b.objects {
		filtered := versions[:0:0]
		for _, v := range versions {
			if v.seq >= keepMin {
				filtered = append(filtered, v)
			}
		}
		if len(filtered) == 0 {
			delete(b.objects, k)
		} else {
			b.objects[k] = filtered
		}
	}
	for k, versions := range b.successors {
		filtered := versions[:0:0]
		for _, v := range versions {
			if v.seq >= keepMin {
				filtered = append(filtered, v)
			}
		}
		if len(filtered) == 0 {
			delete(b.successors, k)
		} else {
			b.successors[k] = filtered
		}
	}
	for seq, hashes := range b.ledgerTxSets {
		if seq < keepMin {
			for _, h := range hashes {
				delete(b.transactions, h)
			}
			delete(b.ledgerTxSets, seq)
		}
	}
	for acct, rows := range b.accountTx {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.Seq >= keepMin {
				filtered = append(filtered, r)
			}
		}
		b.accountTx[acct] = filtered
	}
	for tokenID, rows := range b.nftTx {
		filtered := rows[:0:0]
		for _, r := range rows {
			if r.Seq >= keepMin {
				filtered = append(filtered, r)
			}
		}
		b.nftTx[tokenID] = filtered
	}

	b.rng.Min = keepMin
	return nil
}
