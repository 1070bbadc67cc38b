package backend

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// legacyMarkerPageSize is the page size each FetchLedgerPage call requests
// while DecodeMarker walks toward a legacy ordinal; the walk goes on page by
// page until the ordinal is reached.
const legacyMarkerPageSize = 512

// DecodeMarker accepts either the key-based marker this repo's ledger_data
// pagination standardizes on (a hex-encoded ledger.Key) or a legacy
// integer-sub-sequence marker: a plain decimal ordinal into the ascending
// live-object key space, which one older RPC version still sends.
// A legacy marker is resolved to a key by paging from FIRST_KEY and
// counting; this repo's own responses always hand back the key-based form,
// so the cost of the walk is paid only by a caller still using the legacy
// encoding.
func DecodeMarker(ctx context.Context, reader PageReader, raw string, seq ledger.Seq) (*ledger.Key, error) {
	if raw == "" {
		return nil, nil
	}
	if key, ok := decodeKeyMarker(raw); ok {
		return &key, nil
	}
	ordinal, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("backend: marker %q is neither a hex key nor a legacy integer sub-sequence", raw)
	}
	return resolveLegacyMarker(ctx, reader, ordinal, seq)
}

func decodeKeyMarker(raw string) (ledger.Key, bool) {
	var zero ledger.Key
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) != len(zero) {
		return ledger.Key{}, false
	}
	var k ledger.Key
	copy(k[:], b)
	return k, true
}

// resolveLegacyMarker pages from FIRST_KEY, skipping ordinal live objects,
// and returns the key of the last one skipped — the same value this repo's
// own FetchLedgerPage hands back as a "next" cursor, so the caller can pass
// it straight through on its next call.
func resolveLegacyMarker(ctx context.Context, reader PageReader, ordinal uint64, seq ledger.Seq) (*ledger.Key, error) {
	if ordinal == 0 {
		return nil, nil
	}
	var cursor *ledger.Key
	var seen uint64
	for {
		objs, next, _, err := reader.FetchLedgerPage(ctx, cursor, seq, legacyMarkerPageSize)
		if err != nil {
			return nil, err
		}
		if len(objs) == 0 {
			return nil, fmt.Errorf("backend: legacy marker %d is past the end of the live object set", ordinal)
		}
		remaining := ordinal - seen
		if remaining <= uint64(len(objs)) {
			key := objs[remaining-1].Key
			return &key, nil
		}
		seen += uint64(len(objs))
		if next == nil {
			return nil, fmt.Errorf("backend: legacy marker %d is past the end of the live object set", ordinal)
		}
		cursor = next
	}
}
