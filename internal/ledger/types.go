// Package ledger defines the core data model of the reporting node: the
// sequence/key/hash primitives and the persisted entities derived from a
// validated ledger.
package ledger

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Seq is a monotonically increasing 32-bit ledger sequence number.
type Seq uint32

// Key is a 256-bit opaque object key.
type Key [32]byte

// Hash is a 256-bit transaction or ledger identifier.
type Hash [32]byte

// AccountID is a 160-bit account identifier.
type AccountID [20]byte

// Blob is an opaque byte string. A zero-length Blob paired with Deleted=true
// denotes a tombstone; a zero-length Blob with Deleted=false is a legitimate
// (if unusual) empty value and must not be confused with absence.
type Blob []byte

// FirstKey and LastKey are sentinel endpoints of the successor chain. They
// never denote real ledger objects.
var (
	FirstKey = Key{}
	LastKey  = func() Key {
		var k Key
		for i := range k {
			k[i] = 0xff
		}
		return k
	}()
)

// Compare orders two keys lexicographically by byte value.
func (k Key) Compare(other Key) int {
	return bytes.Compare(k[:], other[:])
}

// Less reports whether k sorts strictly before other.
func (k Key) Less(other Key) bool {
	return k.Compare(other) < 0
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (a AccountID) String() string {
	return hex.EncodeToString(a[:])
}

// KeyFromHex parses a hex-encoded 256-bit key.
func KeyFromHex(s string) (Key, error) {
	var k Key
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("ledger: invalid key hex %q: %w", s, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("ledger: key must be %d bytes, got %d", len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Range is a contiguous closed interval of persisted sequences.
type Range struct {
	Min Seq
	Max Seq
}

// Contains reports whether seq falls within the range.
func (r Range) Contains(seq Seq) bool {
	return seq >= r.Min && seq <= r.Max
}

// String renders the range the way the external RPC surface reports
// "complete_ledgers": "min-max", or a single number when min==max.
func (r Range) String() string {
	if r.Min == r.Max {
		return fmt.Sprintf("%d", r.Min)
	}
	return fmt.Sprintf("%d-%d", r.Min, r.Max)
}

// Header holds the fields of a LedgerHeader entity.
type Header struct {
	Seq                 Seq
	Hash                Hash
	ParentHash          Hash
	TxHash              Hash
	StateHash           Hash
	CloseTime           uint32 // seconds since the domain epoch
	ParentCloseTime      uint32
	CloseTimeResolution uint8
	CloseFlags          uint8
	DropsTotal          uint64
}

// Object is a single versioned LedgerObject entry: the blob value (or a
// tombstone) for Key at a given Seq.
type Object struct {
	Key     Key
	Seq     Seq
	Blob    Blob
	Deleted bool
}

// IsTombstone reports whether this object version denotes deletion.
func (o Object) IsTombstone() bool {
	return o.Deleted
}

// Successor is one link of the versioned successor chain: at Seq, the next
// live key strictly greater than Key is Next.
type Successor struct {
	Key Key
	Seq Seq
	Next Key
}

// Transaction is an opaque transaction/metadata pair.
type Transaction struct {
	Hash      Hash
	Seq       Seq
	CloseTime uint32
	TxBlob    Blob
	MetaBlob  Blob
}

// AccountTx is one row of the per-account transaction index.
type AccountTx struct {
	Account AccountID
	Seq     Seq
	Index   uint32
	Tx      Hash
}

// NFTState is the latest owner/burned/URI projection for a token at Seq.
type NFTState struct {
	TokenID   Hash
	Seq       Seq
	Owner     AccountID
	Burned    bool
	URI       Blob
}

// NFTTx is one row of the per-token transaction index.
type NFTTx struct {
	TokenID Hash
	Seq     Seq
	Index   uint32
	Tx      Hash
}

// ObjectDiff is a single key's before/after state used by the transformer to
// derive successor diffs and to feed the cache.
type ObjectDiff struct {
	Key     Key
	Blob    Blob
	Deleted bool
	// Created is true when no version of Key existed prior to this ledger;
	// it disambiguates modification from creation when Deleted is false.
	Created bool
}

// TransformedLedger is the unit the transformer hands to the write stage:
// everything derivable from one extracted ledger payload.
type TransformedLedger struct {
	Header          Header
	Transactions    []Transaction
	ObjectDiffs     []ObjectDiff
	SuccessorDiffs  []Successor
	AccountTxRows   []AccountTx
	NFTStates       []NFTState
	NFTTxRows       []NFTTx
}
