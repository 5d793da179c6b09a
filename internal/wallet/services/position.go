package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/coinpulse/walletcore/pkg/models"
)

// applyPositionDelta applies a signed delta to a position and recomputes the
// weighted-average price when the delta is a priced net-positive acquisition:
//
//	avgPrice' = (amount*avgPrice + delta*unitPrice) / (amount + delta)
//
// Disposals and unpriced deltas leave avgPrice untouched. Pure recalculation:
// persistence is the caller's concern, and the caller commits it in the same
// transaction as the balance write.
func applyPositionDelta(pos *models.Position, delta decimal.Decimal, unitPrice *decimal.Decimal) {
	newAmount := pos.Amount.Add(delta)

	if delta.IsPositive() && unitPrice != nil && newAmount.IsPositive() {
		weighted := pos.Amount.Mul(pos.AvgPrice).Add(delta.Mul(*unitPrice))
		pos.AvgPrice = weighted.Div(newAmount)
	}

	pos.Amount = newAmount
	pos.UpdatedAt = time.Now()
}

// weightedAvgPrice blends an existing holding with an acquisition. Shared by
// the per-position averager above and the cross-wallet grouping in the
// portfolio aggregator.
func weightedAvgPrice(amount, avgPrice, delta, unitPrice decimal.Decimal) decimal.Decimal {
	newAmount := amount.Add(delta)
	if !newAmount.IsPositive() {
		return avgPrice
	}
	return amount.Mul(avgPrice).Add(delta.Mul(unitPrice)).Div(newAmount)
}
