package cache

import (
	"fmt"

	"github.com/xrplf/xrplreport/internal/ledger"
)

func errNonSequentialUpdate(latest, got ledger.Seq) error {
	return fmt.Errorf("cache: non-sequential update: latest=%d got=%d", latest, got)
}
