package settlement

import (
	"github.com/alanyoungcy/castbet/internal/domain"
	"github.com/alanyoungcy/castbet/internal/ledger"
)

// MinBond is the smallest acceptable proposal bond for a pool: a fixed
// floor, or BondBps of the pool once that exceeds the floor.
func (p Params) MinBond(pool ledger.Amount) ledger.Amount {
	return ledger.Max(p.BondFloor, pool.Bps(p.BondBps))
}

func checkBond(posted, required ledger.Amount) error {
	if posted.Lt(required) {
		return &domain.BondError{Posted: posted, Required: required}
	}
	return nil
}
