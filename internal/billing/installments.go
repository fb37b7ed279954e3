package billing

import (
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
)

// MaxInstallments bounds a single purchase.
const MaxInstallments = 48

// Installment is one planned slice of a purchase.
type Installment struct {
	Number      int
	Total       int
	AmountCents int64
	PostedAt    time.Time
}

// SplitAmounts divides total into n slices that add up to total exactly.
// Every slice gets total/n (integer division); the first slice also absorbs
// the remainder, so 1000/3 is [334 333 333].
func SplitAmounts(totalCents int64, n int) ([]int64, error) {
	if n < 2 {
		return nil, &domain.ErrInsufficientInstallmentCount{Count: n}
	}
	if n > MaxInstallments {
		return nil, &domain.ErrValidation{Field: "installment_count", Message: "at most 48 installments"}
	}
	if totalCents < int64(n) {
		return nil, &domain.ErrValidation{Field: "total_amount_cents", Message: "must be at least one cent per installment"}
	}

	base := totalCents / int64(n)
	amounts := make([]int64, n)
	for i := range amounts {
		amounts[i] = base
	}
	amounts[0] += totalCents - base*int64(n)
	return amounts, nil
}

// PlanInstallments returns the dated slices of a purchase. Installment i is
// posted i-1 calendar months after the first one, always counted from the
// first date so a Jan 31 purchase lands on Feb 28 and then Mar 31.
func PlanInstallments(totalCents int64, n int, firstPostedAt time.Time) ([]Installment, error) {
	amounts, err := SplitAmounts(totalCents, n)
	if err != nil {
		return nil, err
	}

	plan := make([]Installment, n)
	for i := range plan {
		plan[i] = Installment{
			Number:      i + 1,
			Total:       n,
			AmountCents: amounts[i],
			PostedAt:    AddMonths(firstPostedAt, i),
		}
	}
	return plan, nil
}
