// Package source implements the upstream peer source (C4) and the load
// balancer that fans requests out across a configured set of peers (C5).
//
// A single UpstreamSource type owns one connection state machine — the
// spec's original design split connection-state handling across several
// ad-hoc booleans; this is replaced here with one type holding a variant
// connection (plain vs TLS) and a single explicit state machine, entered
// and left through a single transition method so every state change is
// observable and loggable in one place.
package source

import "fmt"

// connState is the subscription connection's state machine. Every state
// but Reading has an associated timeout enforced by the caller; expiry
// drops straight back to Disconnected.
type connState int

const (
	Disconnected connState = iota
	Resolving
	Connecting
	Handshaking
	TLSHandshaking
	Subscribed
	Reading
)

func (s connState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Resolving:
		return "resolving"
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case TLSHandshaking:
		return "tls_handshaking"
	case Subscribed:
		return "subscribed"
	case Reading:
		return "reading"
	default:
		return fmt.Sprintf("connState(%d)", int(s))
	}
}

// hasTimeout reports whether s is subject to the 30s per-state timeout;
// every state except Reading is.
func (s connState) hasTimeout() bool {
	return s != Reading
}
