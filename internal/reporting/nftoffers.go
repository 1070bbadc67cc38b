package reporting

import (
	"context"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// FetchNFTOffers walks an NFT's buy- or sell-offer directory the same way
// FetchBookOffers walks an order book, reusing the DirectoryPage shape:
// NFTokenOffer directories are NFT-offer-specific but use the identical
// sfIndexes/sfIndexNext paging convention. This is one of the features
// dropped by the distillation of the original spec and restored here per
// its NFT offer directory support.
func (i *Interface) FetchNFTOffers(ctx context.Context, directoryKey ledger.Key, seq ledger.Seq, limit int) ([]Offer, error) {
	if limit <= 0 {
		limit = 200
	}

	offers := make([]Offer, 0, limit)
	pageKey := directoryKey
	for {
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
}

// FetchNFTPage decodes a single NFTokenPage object, used by higher layers
// that need to enumerate a single account's tokens rather than an offer
// directory.
func (i *Interface) FetchNFTPage(ctx context.Context, key ledger.Key, seq ledger.Seq) (NFTPage, error) {
	blob, err := i.FetchLedgerObject(ctx, key, seq)
	if err != nil {
		return NFTPage{}, err
	}
	return i.codec.DecodeNFTPage(blob)
}
