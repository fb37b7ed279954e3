package billing

import (
	"sort"

	"github.com/boddenberg/card-billing/internal/domain"
)

// SortForPayment orders bills oldest due first; equal due dates fall back to
// the reference month.
func SortForPayment(bills []domain.Bill) {
	sort.SliceStable(bills, func(i, j int) bool {
		if !bills[i].DueDate.Equal(bills[j].DueDate) {
			return bills[i].DueDate.Before(bills[j].DueDate)
		}
		return bills[i].ReferenceMonth.Before(bills[j].ReferenceMonth)
	})
}

// Allocate spreads amountCents over bills in payment order. bills is modified
// in place (paid amount and status). Bills that do not accept payments or
// owe nothing are skipped. The returned remainder is what could not be
// allocated; it is not carried anywhere.
func Allocate(bills []domain.Bill, amountCents int64) ([]domain.Allocation, int64, error) {
	if amountCents <= 0 {
		return nil, 0, &domain.ErrValidation{Field: "amount_cents", Message: "must be positive"}
	}

	SortForPayment(bills)

	remaining := amountCents
	var allocs []domain.Allocation
	for i := range bills {
		if remaining == 0 {
			break
		}
		b := &bills[i]
		if !AcceptsPayment(b.Status) || b.UnpaidCents() <= 0 {
			continue
		}

		applied, err := ApplyPayment(b, remaining)
		if err != nil {
			return nil, 0, err
		}
		remaining -= applied
		allocs = append(allocs, domain.Allocation{
			BillID:         b.ID,
			ReferenceMonth: b.Month(),
			AmountCents:    applied,
			Status:         b.Status,
		})
	}
	return allocs, remaining, nil
}
