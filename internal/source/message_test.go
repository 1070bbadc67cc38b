package source

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xrplf/xrplreport/internal/ledger"
)

func TestParseValidatedLedgersSortsDisjointRanges(t *testing.T) {
	got := parseValidatedLedgers("10-20,5,25-30")
	require.Equal(t, []ledger.Range{
		{Min: 5, Max: 5},
		{Min: 10, Max: 20},
		{Min: 25, Max: 30},
	}, got)
}

func TestParseValidatedLedgersSkipsMalformedSegments(t *testing.T) {
	got := parseValidatedLedgers("10-20,garbage,30-25,40")
	require.Equal(t, []ledger.Range{
		{Min: 10, Max: 20},
		{Min: 40, Max: 40},
	}, got)
}

func TestParseValidatedLedgersEmpty(t *testing.T) {
	require.Nil(t, parseValidatedLedgers(""))
}

func TestContainsSeq(t *testing.T) {
	ranges := []ledger.Range{{Min: 1, Max: 5}, {Min: 10, Max: 12}}
	require.True(t, containsSeq(ranges, 3))
	require.True(t, containsSeq(ranges, 10))
	require.False(t, containsSeq(ranges, 7))
}
