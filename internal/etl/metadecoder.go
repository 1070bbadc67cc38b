package etl

import "github.com/xrplf/xrplreport/internal/ledger"

// MetaDecoder derives the per-account and per-token transaction index rows
// from one transaction's opaque metadata blob. Decoding the real
// transaction-metadata wire format (which accounts were affected, which
// NFToken IDs were touched) is protocol-specific and out of scope for this
// repo the same way reporting.Codec's object formats are: a deployment
// wires in a decoder that understands the real format. NoopMetaDecoder is
// the zero-dependency default and simply produces no index rows.
type MetaDecoder interface {
	AffectedAccounts(tx ledger.Transaction) []ledger.AccountID
	AffectedNFTs(tx ledger.Transaction) []ledger.Hash

	// NFTStates inspects one ledger's object diffs and returns the NFT
	// owner/burned/URI projections that changed, derived from decoding
	// whichever diffs are NFT page objects.
	NFTStates(diffs []ledger.ObjectDiff) []ledger.NFTState
}

// NoopMetaDecoder implements MetaDecoder by reporting no affected accounts
// or tokens; account/NFT transaction indexing is simply skipped.
type NoopMetaDecoder struct{}

func (NoopMetaDecoder) AffectedAccounts(ledger.Transaction) []ledger.AccountID { return nil }
func (NoopMetaDecoder) AffectedNFTs(ledger.Transaction) []ledger.Hash          { return nil }
func (NoopMetaDecoder) NFTStates([]ledger.ObjectDiff) []ledger.NFTState       { return nil }
