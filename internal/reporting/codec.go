package reporting

import (
	"encoding/json"
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// Amount is a minimal currency amount sufficient to order offers by
// quality; it does not attempt to reproduce the wire-level issued-currency
// representation, which is out of scope for the object store itself (object blobs
// treats LedgerObject blobs as opaque to the storage and cache layers).
type Amount struct {
	Currency string `json:"currency"`
	Issuer   string `json:"issuer,omitempty"`
	Value    string `json:"value"` // decimal string, drops for XRP
}

// Offer is the subset of an Offer ledger object's fields the book-offers
// walk needs: the two sides of the trade and the directory it lives in.
type Offer struct {
	Key        ledger.Key
	Account    string
	TakerGets  Amount
	TakerPays  Amount
	BookNode   uint64
	Expiration uint32
}

// DirectoryPage is the subset of a DirectoryNode ledger object the
// directory walk needs: the page's entries and the pointer to the next
// page, mirroring sfIndexes/sfIndexNext.
type DirectoryPage struct {
	Indexes  []ledger.Key
	Next     *ledger.Key // nil at the last page
	RootNode ledger.Key  // 0 unless this page is itself the root
}

// NFTPage is the analogous structure for an NFTokenPage: a sorted run of
// token entries plus previous/next page pointers.
type NFTPage struct {
	Tokens   []NFTPageEntry
	Next     *ledger.Key
	Previous *ledger.Key
}

type NFTPageEntry struct {
	TokenID ledger.Hash
	URI     []byte
}

// Codec decodes the opaque object blobs the store hands back into the
// typed shapes the directory/book-offer/NFT-offer walks operate on. A real
// deployment plugs in a codec that understands the XRPL STObject wire
// format; defaultCodec below is a small JSON-based stand-in that New
// installs when no WithCodec option is given; the tests write their
// fixtures in that shape.
type Codec interface {
	DecodeDirectory(blob ledger.Blob) (DirectoryPage, error)
	DecodeOffer(blob ledger.Blob) (Offer, error)
	DecodeNFTPage(blob ledger.Blob) (NFTPage, error)
}

type defaultCodec struct{}

func (defaultCodec) DecodeDirectory(blob ledger.Blob) (DirectoryPage, error) {
	var p DirectoryPage
	if err := json.Unmarshal(blob, &p); err != nil {
		return DirectoryPage{}, fmt.Errorf("reporting: decoding directory page: %w", err)
	}
	return p, nil
}

func (defaultCodec) DecodeOffer(blob ledger.Blob) (Offer, error) {
	var o Offer
	if err := json.Unmarshal(blob, &o); err != nil {
		return Offer{}, fmt.Errorf("reporting: decoding offer: %w", err)
	}
	return o, nil
}

func (defaultCodec) DecodeNFTPage(blob ledger.Blob) (NFTPage, error) {
	var p NFTPage
	if err := json.Unmarshal(blob, &p); err != nil {
		return NFTPage{}, fmt.Errorf("reporting: decoding NFT page: %w", err)
	}
	return p, nil
}
