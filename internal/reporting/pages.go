package reporting

import (
	"context"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// FetchLedgerPage walks the successor chain starting just after cursor (or
// from the FIRST_KEY sentinel when cursor is nil), materializing up to
// limit live objects at seq. It resolves the key-based-vs-index-based
// paging Open Question in favor of the key-based convention already
// implied by the successor chain's FIRST_KEY/LAST_KEY sentinels: a page's
// "next" marker is the key the caller should pass back as cursor, never a
// row offset, so pages stay stable across concurrent online deletion.
//
// warning reports that the requested seq is older than the backend's
// retained minimum, the collapsed baseline answers "the object
// existed with blob B" but cannot distinguish "created at keep_min" from
// "created earlier and carried forward", so a caller walking a page at
// such a seq may see objects that look newly created.
func (i *Interface) FetchLedgerPage(ctx context.Context, cursor *ledger.Key, seq ledger.Seq, limit int) ([]ledger.Object, *ledger.Key, bool, error) {
	if limit <= 0 {
		limit = 200
	}

	warning := false
	if rng, err := i.backend.FetchLedgerRange(ctx); err == nil && seq < rng.Min {
		warning = true
	}

	cur := ledger.FirstKey
	if cursor != nil {
		cur = *cursor
	}

	objects := make([]ledger.Object, 0, limit)
	for len(objects) < limit {
		next, err := i.FetchSuccessor(ctx, cur, seq)
		if err != nil {
			if err == xerrors.NotFound {
				return objects, nil, warning, nil
			}
			return nil, nil, warning, err
		}
		if *next == ledger.LastKey {
			return objects, nil, warning, nil
		}
		blob, err := i.FetchLedgerObject(ctx, *next, seq)
		if err != nil {
			if err == xerrors.NotFound {
				// Successor pointed at a key with no live object at seq;
				// this can only happen transiently during a write, so skip
				// it rather than fail the whole page.
				cur = *next
				continue
			}
			return nil, nil, warning, err
		}
		objects = append(objects, ledger.Object{Key: *next, Seq: seq, Blob: blob})
		cur = *next
	}

	// Peek one more to decide whether to hand back a continuation cursor.
	next, err := i.FetchSuccessor(ctx, cur, seq)
	if err != nil || *next == ledger.LastKey {
		return objects, nil, warning, nil
	}
	return objects, &cur, warning, nil
}
