package rpcapi

import (
	"context"
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
	"github.com/xrplf/xrplreport/internal/reporting"
	"github.com/xrplf/xrplreport/internal/rpcwire"
	"github.com/xrplf/xrplreport/internal/xerrors"
)

// forwarder is the subset of the balancer the dispatcher needs to relay a
// request to a full consensus peer.
type forwarder interface {
	Forward(ctx context.Context, req rpcwire.ForwardRequest) (*rpcwire.ForwardResponse, error)
}

// forwardedMethods names every method that requires live consensus state
// and so is always relayed via C4/C5 rather than answered from history.
// Keeping the rule in this one table makes it inspectable; nothing in this
// package modifies the map after initialization.
var forwardedMethods = map[string]bool{
	"submit":               true,
	"submit_multisigned":   true,
	"fee":                  true,
	"path_find":            true,
	"ripple_path_find":     true,
	"manifest":             true,
}

// externalOnlyMethods names methods this repo deliberately does not
// implement a handler for: their semantics require interpreting XRPL
// object/amount formats this package does not carry. They still appear in
// MethodTable so the external layer's dispatch is driven by one table
// instead of hand-maintained globals; ExternalOnly reports them so the
// external layer resolves them itself.
var externalOnlyMethods = map[string]bool{
	"ledger_entry":        true,
	"account_currencies":  true,
	"account_lines":       true,
	"account_channels":    true,
	"account_offers":      true,
	"book_offers":         true,
	"nft_sell_offers":     true,
	"nft_buy_offers":      true,
}

// MethodTable lists every externally reachable RPC method in one
// inspectable table rather than hand-maintained globals scattered per
// handler.
var MethodTable = []string{
	"ledger", "ledger_entry", "ledger_range", "ledger_data",
	"tx", "account_tx", "account_info", "account_channels",
	"account_lines", "account_currencies", "account_offers",
	"account_objects", "book_offers", "nft_sell_offers", "nft_buy_offers",
	"subscribe", "unsubscribe",
	"submit", "submit_multisigned", "fee", "path_find", "ripple_path_find", "manifest",
}

// ExternalOnly reports whether method has no local handler in this
// package and must be resolved by the external layer.
func ExternalOnly(method string) bool {
	return externalOnlyMethods[method]
}

// Dispatcher routes a named method to either a local handler backed by the
// reporting façade (C3) or a forwarded call to the upstream balancer
// (C4/C5). The external transport (HTTP/WS framing, request-id
// correlation, the DOS limiter) is not this package's concern.
type Dispatcher struct {
	iface *reporting.Interface
	fwd   forwarder
}

func NewDispatcher(iface *reporting.Interface, fwd forwarder) *Dispatcher {
	return &Dispatcher{iface: iface, fwd: fwd}
}

// ShouldForward reports whether method (or the ledger selector named by a
// request that has already been DTO-decoded) must be relayed instead of
// answered from history.
func (d *Dispatcher) ShouldForward(method string, li LedgerIndex) bool {
	return forwardedMethods[method] || li.RequiresLiveState()
}

// Forward relays a request verbatim via C4/C5's Balancer.Forward.
func (d *Dispatcher) Forward(ctx context.Context, req ForwardedRequest) (*ForwardedResponse, error) {
	resp, err := d.fwd.Forward(ctx, rpcwire.ForwardRequest{Method: req.Method, Params: req.Params})
	if err != nil {
		return nil, fmt.Errorf("rpcapi: forwarding %s: %w", req.Method, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: rpcapi: upstream rejected %s: %s", xerrors.InvalidRequest, req.Method, resp.Error)
	}
	return &ForwardedResponse{Result: resp.Result}, nil
}

// resolveSeq turns a LedgerIndex into a concrete sequence against the
// persisted range, the one piece of "ledger_index interpretation" every
// history-backed method needs regardless of what it otherwise returns.
func (d *Dispatcher) resolveSeq(ctx context.Context, li LedgerIndex) (ledger.Seq, error) {
	switch {
	case li.Seq != nil:
		return *li.Seq, nil
	case li.Hash != nil:
		hdr, err := d.iface.FetchLedgerByHash(ctx, *li.Hash)
		if err != nil {
			return 0, err
		}
		return hdr.Seq, nil
	case li.Shorthand == "validated", li.Shorthand == "":
		rng, err := d.iface.FetchLedgerRange(ctx)
		if err != nil {
			return 0, err
		}
		return rng.Max, nil
	default:
		return 0, fmt.Errorf("%w: rpcapi: ledger_index %q requires live consensus state, not history", xerrors.InvalidRequest, li.Shorthand)
	}
}
