// Package rpcapi defines the request/response DTOs and the method dispatch
// table the external RPC/WebSocket handler layer plugs into. It does not
// implement method semantics that require interpreting XRPL's object-type
// or currency-amount formats (ledger_entry, book_offers, account_currencies,
// account_lines, NFT offer directories) — those stay the external layer's
// job, per the boundary this repo draws. What it does provide is a typed,
// testable contract in front of the core: JSON-tagged DTOs instead of a
// generic JSON value threaded through every handler, and one dispatch table
// instead of scattered globals.
package rpcapi

import (
	"encoding/json"

	"github.com/xrplf/xrplreport/internal/backend"
	"github.com/xrplf/xrplreport/internal/ledger"
)

// LedgerIndex selects a ledger by sequence, hash, or shorthand
// ("validated", "current", "closed"). Exactly one of Seq/Hash/Shorthand
// should be set; nothing enforces that, and resolveSeq uses the first of
// Seq, Hash, Shorthand that is set.
type LedgerIndex struct {
	Seq       *ledger.Seq
	Hash      *ledger.Hash
	Shorthand string
}

// RequiresLiveState reports whether this selector names a ledger that only
// a full consensus peer can answer.
func (li LedgerIndex) RequiresLiveState() bool {
	return li.Shorthand == "current" || li.Shorthand == "closed"
}

// LedgerRequest is the `ledger` method's request DTO.
type LedgerRequest struct {
	Ledger       LedgerIndex
	Transactions bool
	Expand       bool
}

type LedgerResponse struct {
	Header          ledger.Header
	TxHashes        []ledger.Hash          `json:"tx_hashes,omitempty"`
	Transactions    []ledger.Transaction   `json:"transactions,omitempty"`
	CompleteLedgers string                 `json:"complete_ledgers"`
	Validated       bool                   `json:"validated"`
}

// LedgerEntryRequest is the `ledger_entry` method's request DTO. Resolving
// the various specifier shapes (index, account_root, directory, ...) down
// to a ledger.Key is XRPL object-format knowledge this repo does not carry;
// ResolvedKey is populated only when the caller already did that resolution
// (e.g. a raw `index` hex string) and left empty otherwise, for the
// external layer to fill in before calling FetchLedgerObject itself.
type LedgerEntryRequest struct {
	Ledger      LedgerIndex
	ResolvedKey *ledger.Key
	Raw         json.RawMessage // the specifier shape this repo does not interpret
}

type LedgerEntryResponse struct {
	Key   ledger.Key
	Blob  ledger.Blob
	Seq   ledger.Seq
}

// LedgerRangeResponse is the `ledger_range` method's response DTO.
type LedgerRangeResponse struct {
	CompleteLedgers string `json:"complete_ledgers"`
}

// LedgerDataRequest is the `ledger_data` method's request DTO: a page walk
// over one ledger's live object set. Marker accepts either this repo's own
// hex-encoded key marker or the legacy integer-sub-sequence marker one
// older RPC version still sends — Dispatcher.LedgerData resolves either
// form via reporting.Interface.DecodeMarker.
type LedgerDataRequest struct {
	Ledger LedgerIndex
	Marker string
	Limit  int
}

type LedgerDataResponse struct {
	Objects []ledger.Object
	Marker  *ledger.Key `json:"marker,omitempty"`
}

// TxRequest is the `tx` method's request DTO.
type TxRequest struct {
	Hash ledger.Hash
}

type TxResponse struct {
	Transaction ledger.Transaction
	Validated   bool `json:"validated"`
}

// AccountTxRequest is the `account_tx` method's request DTO.
type AccountTxRequest struct {
	Account ledger.AccountID
	Limit   int
	Forward bool
	Cursor  *backend.AccountTxCursor
}

type AccountTxResponse struct {
	Account ledger.AccountID
	Rows    []ledger.AccountTx
	Cursor  *backend.AccountTxCursor `json:"marker,omitempty"`
}

// AccountInfoRequest is the `account_info` method's request DTO. As with
// LedgerEntryRequest, resolving an AccountID to its account-root Key is
// XRPL object-format knowledge the external layer supplies.
type AccountInfoRequest struct {
	Ledger      LedgerIndex
	Account     ledger.AccountID
	ResolvedKey *ledger.Key
}

type AccountInfoResponse struct {
	Account ledger.AccountID
	Blob    ledger.Blob
}

// AccountObjectsRequest is the `account_objects` method's request DTO: a
// page walk filtered to objects owned by Account, the filter applied
// externally since this repo's successor chain indexes by key, not owner.
// Marker accepts the same two encodings LedgerDataRequest.Marker does.
type AccountObjectsRequest struct {
	Ledger  LedgerIndex
	Account ledger.AccountID
	Marker  string
	Limit   int
}

type AccountObjectsResponse struct {
	Objects []ledger.Object
	Marker  *ledger.Key `json:"marker,omitempty"`
}

// NFTTxRequest is shared by any method walking one token's transaction
// index (nft_history and similar), mirroring AccountTxRequest.
type NFTTxRequest struct {
	TokenID ledger.Hash
	Limit   int
	Forward bool
	Cursor  *backend.AccountTxCursor
}

type NFTTxResponse struct {
	TokenID ledger.Hash
	Rows    []ledger.NFTTx
	Cursor  *backend.AccountTxCursor `json:"marker,omitempty"`
}

// ForwardedRequest wraps any method this repo relays verbatim to an
// upstream consensus peer instead of answering locally: submit,
// submit_multisigned, fee, path_find, ripple_path_find, manifest, and any
// request naming ledger_index current/closed.
type ForwardedRequest struct {
	Method string
	Params json.RawMessage
}

type ForwardedResponse struct {
	Result json.RawMessage
}

// SubscribeRequest is the `subscribe`/`unsubscribe` method's request DTO.
type SubscribeRequest struct {
	Streams  []string
	Accounts []ledger.AccountID
}
