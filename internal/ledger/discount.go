package ledger

import (
	"github.com/meridian-dex/rpm/internal/types"
)

// DiscountBps maps a user's current PROPoints to a fee discount in basis points.
// Read path for the external fee-curation layer: floor(points / pointsPerBp),
// capped so the discount can never consume the whole base fee.
func (l *Ledger) DiscountBps(user types.UserID) int {
	points := l.GetPoints(user)
	if !points.IsPositive() || !l.params.PointsPerDiscountBp.IsPositive() {
		return 0
	}

	bps := int(points.Quo(l.params.PointsPerDiscountBp).TruncateInt64())
	if bps > l.params.MaxFeeDiscountBps {
		bps = l.params.MaxFeeDiscountBps
	}
	return bps
}

// EffectiveFeeBps returns the pool fee a user pays after their discount.
func (l *Ledger) EffectiveFeeBps(user types.UserID) int {
	fee := l.params.BaseFeeBps - l.DiscountBps(user)
	if fee < 0 {
		fee = 0
	}
	return fee
}
