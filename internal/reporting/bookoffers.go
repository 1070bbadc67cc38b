package reporting

import (
	"context"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// nextQuality returns the first directory key strictly outside rootKey's
// order book: the book identifier occupies the high 192 bits of the key and
// the quality occupies the low 64 bits, so incrementing the 192-bit prefix
// with the quality zeroed lands on the base directory of the adjacent book.
// Mirrors getQualityNext's treatment of a book's base directory index.
func nextQuality(rootKey ledger.Key) ledger.Key {
	next := rootKey
	for i := 23; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	for i := 24; i < len(next); i++ {
		next[i] = 0
	}
	return next
}

// FetchBookOffers walks an order book's directory chain starting at
// rootKey (the book's base directory object, computed by the caller from
// the currency/issuer pair — that derivation is part of the RPC-facing
// layer this package does not own) and decodes up to limit offers in
// directory order. The walk stops at the first page whose key reaches
// bookEnd, the base directory of the next book, so it never spills into an
// adjacent order book once this one's quality-ordered chain runs out
// before limit offers are gathered. It skips a deleted offer rather than
// failing: a book can reference an Offer that closed in the
// same ledger that created the directory page naming it.
func (i *Interface) FetchBookOffers(ctx context.Context, rootKey ledger.Key, seq ledger.Seq, limit int) ([]Offer, error) {
	if limit <= 0 {
		limit = 200
	}
	bookEnd := nextQuality(rootKey)

	offers := make([]Offer, 0, limit)
	pageKey := rootKey
	for pageKey.Less(bookEnd) {
		blob, err := i.FetchLedgerObject(ctx, pageKey, seq)
		if err != nil {
			if err == xerrors.NotFound {
				return offers, nil
			}
			return nil, err
		}
		page, err := i.codec.DecodeDirectory(blob)
		if err != nil {
			return nil, err
		}
		for _, idx := range page.Indexes {
			offerBlob, err := i.FetchLedgerObject(ctx, idx, seq)
			if err != nil {
				if err == xerrors.NotFound {
					continue
				}
				return nil, err
			}
			offer, err := i.codec.DecodeOffer(offerBlob)
			if err != nil {
				return nil, err
			}
			offer.Key = idx
			offers = append(offers, offer)
			if len(offers) >= limit {
				return offers, nil
			}
		}
		if page.Next == nil {
			return offers, nil
		}
		pageKey = *page.Next
	}
	return offers, nil
}
