package billing

import (
	"github.com/boddenberg/card-billing/internal/domain"

	"github.com/shopspring/decimal"
)

// Minimum payment defaults: 15% of the bill, never below 50.00.
const DefaultMinimumFloorCents int64 = 5000

var defaultMinimumRate = decimal.RequireFromString("0.15")

// MinimumPolicy derives a bill's minimum payment from its total.
type MinimumPolicy struct {
	Rate       decimal.Decimal
	FloorCents int64
}

// DefaultMinimumPolicy returns the 15% / 5000 policy.
func DefaultMinimumPolicy() MinimumPolicy {
	return MinimumPolicy{Rate: defaultMinimumRate, FloorCents: DefaultMinimumFloorCents}
}

// MinimumPayment returns round(total*rate) raised to the floor, or 0 for an
// empty bill. Rounding is half away from zero.
func (p MinimumPolicy) MinimumPayment(totalCents int64) int64 {
	if totalCents <= 0 {
		return 0
	}
	pct := decimal.NewFromInt(totalCents).Mul(p.Rate).Round(0).IntPart()
	if pct < p.FloorCents {
		return p.FloorCents
	}
	return pct
}

// BillTotal nets charges against credits and never goes below zero.
func BillTotal(items []domain.LineItem) int64 {
	var sum int64
	for i := range items {
		sum += items[i].SignedCents()
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// OutstandingCents sums the unpaid portion of every bill that is not paid.
func OutstandingCents(bills []domain.Bill) int64 {
	var sum int64
	for i := range bills {
		if bills[i].Status == domain.BillPaid {
			continue
		}
		sum += bills[i].UnpaidCents()
	}
	return sum
}

// AvailableLimit is the credit limit minus everything still owed, floored at 0.
func AvailableLimit(creditLimitCents int64, bills []domain.Bill) int64 {
	if avail := creditLimitCents - OutstandingCents(bills); avail > 0 {
		return avail
	}
	return 0
}
