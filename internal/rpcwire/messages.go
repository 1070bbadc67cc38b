// Package rpcwire defines the wire messages exchanged with an upstream
// peer over gRPC (initial/gap-fill ledger fetch) and WebSocket (the
// validated-ledger subscription stream), plus a grpc.Codec that lets the
// real google.golang.org/grpc client machinery carry them without a
// protoc-generated stub: the messages are plain structs: nothing here
// depends on protoreflect, so gRPC's native dialing, interceptor chain,
// health checking, and streaming all work unmodified — only the wire
// encoding differs from a .pb.go's.
package rpcwire

import "github.com/xrplf/xrplreport/internal/ledger"

// GetLedgerRequest asks a peer for one full ledger at sequence, optionally
// including every object (a full load) or just the header/transactions (an
// incremental fetch already covered by the subscription stream but
// re-requested after a gap).
type GetLedgerRequest struct {
	Sequence      uint32
	IncludeObjects bool
	IncludeTxns    bool
}

// GetLedgerResponse mirrors the upstream's ledger payload: header plus,
// depending on the request, full object state and/or transaction blobs.
type GetLedgerResponse struct {
	Validated bool
	Header    ledger.Header
	Objects   []ledger.Object
	Txns      []ledger.Transaction
}

// GetLedgerDataRequest pages through a ledger's full object state at a
// fixed sequence, used by the background full load against the upstream
// peer rather than another reporting node's backend.
type GetLedgerDataRequest struct {
	Sequence uint32
	Marker   []byte // nil means start from FIRST_KEY
	Limit    int
}

type GetLedgerDataResponse struct {
	Objects []ledger.Object
	Marker  []byte // nil means this was the last page
}

// ForwardRequest proxies an RPC call the reporting node cannot answer
// itself (a transaction submission) to the upstream peer that originated
// the load-balanced connection.
type ForwardRequest struct {
	Method string
	Params []byte // opaque, caller-defined encoding of the inner RPC params
}

type ForwardResponse struct {
	Result []byte
	Error  string
}

// LedgerClosedEvent is the payload of the WebSocket "ledgerClosed" stream
// message, published to C8 subscribers verbatim by the designated
// forwarder once validated.
type LedgerClosedEvent struct {
	Sequence        uint32
	Hash            ledger.Hash
	TxnCount        int
	CompleteLedgers string
}

// ManifestEvent and ValidationEvent are relayed verbatim (PublishRaw) by
// the designated forwarder; the reporting node does not interpret their
// contents, only forwards the bytes it received upstream.
type ManifestEvent struct {
	Raw []byte
}

type ValidationEvent struct {
	Raw []byte
}
