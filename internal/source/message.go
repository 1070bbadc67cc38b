package source

import (
	"strconv"
	"strings"

	"github.com/xrplf/xrplreport/internal/ledger"
)

// subscriptionMessage is the subset of an upstream subscription-stream
// payload this package understands. Every other field is preserved in Raw
// so it can be relayed verbatim by PublishRaw.
type subscriptionMessage struct {
	Type             string `json:"type"`
	ValidatedLedgers string `json:"validated_ledgers"`
	LedgerIndex      uint32 `json:"ledger_index"`
	LedgerIndexSet   bool   `json:"-"`
	TransactionType  string `json:"transaction"`
}

// parseValidatedLedgers parses the "a-b,c-d,e" form into sorted, disjoint
// ranges. Malformed segments are skipped rather than failing the whole
// parse, since a single garbled range shouldn't take down the subscription.
func parseValidatedLedgers(s string) []ledger.Range {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	ranges := make([]ledger.Range, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i := strings.IndexByte(p, '-'); i >= 0 {
			lo, err1 := strconv.ParseUint(p[:i], 10, 32)
			hi, err2 := strconv.ParseUint(p[i+1:], 10, 32)
			if err1 != nil || err2 != nil || hi < lo {
				continue
			}
			ranges = append(ranges, ledger.Range{Min: ledger.Seq(lo), Max: ledger.Seq(hi)})
			continue
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			continue
		}
		ranges = append(ranges, ledger.Range{Min: ledger.Seq(v), Max: ledger.Seq(v)})
	}
	sortRanges(ranges)
	return ranges
}

func sortRanges(ranges []ledger.Range) {
	for i := 1; i < len(ranges); i++ {
		for j := i; j > 0 && ranges[j-1].Min > ranges[j].Min; j-- {
			ranges[j-1], ranges[j] = ranges[j], ranges[j-1]
		}
	}
}

// containsSeq reports whether any of ranges contains seq.
func containsSeq(ranges []ledger.Range, seq ledger.Seq) bool {
	for _, r := range ranges {
		if r.Contains(seq) {
			return true
		}
	}
	return false
}
