package billing_test

import (
	"testing"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
)

func TestAllocate_OldestDueFirst(t *testing.T) {
	bills := []domain.Bill{
		{ID: "b2", TotalCents: 10000, DueDate: date(2026, 5, 20), ReferenceMonth: date(2026, 5, 1), Status: domain.BillOpen},
		{ID: "b1", TotalCents: 10000, DueDate: date(2026, 4, 20), ReferenceMonth: date(2026, 4, 1), Status: domain.BillOpen},
	}

	allocs, remaining, err := billing.Allocate(bills, 15000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if remaining != 0 {
		t.Errorf("expected nothing left, got %d", remaining)
	}
	if len(allocs) != 2 {
		t.Fatalf("expected 2 allocations, got %d", len(allocs))
	}
	if allocs[0].BillID != "b1" || allocs[0].AmountCents != 10000 || allocs[0].Status != domain.BillPaid {
		t.Errorf("unexpected first allocation: %+v", allocs[0])
	}
	if allocs[1].BillID != "b2" || allocs[1].AmountCents != 5000 || allocs[1].Status != domain.BillPartial {
		t.Errorf("unexpected second allocation: %+v", allocs[1])
	}
}

func TestAllocate_TieBreaksOnReferenceMonth(t *testing.T) {
	due := date(2026, 6, 5)
	bills := []domain.Bill{
		{ID: "later", TotalCents: 100, DueDate: due, ReferenceMonth: date(2026, 5, 1), Status: domain.BillOpen},
		{ID: "earlier", TotalCents: 100, DueDate: due, ReferenceMonth: date(2026, 4, 1), Status: domain.BillClosed},
	}

	allocs, _, err := billing.Allocate(bills, 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(allocs) != 1 || allocs[0].BillID != "earlier" {
		t.Fatalf("expected payment on 'earlier', got %+v", allocs)
	}
}

func TestAllocate_LeftoverIsNotCarried(t *testing.T) {
	bills := []domain.Bill{
		{ID: "b1", TotalCents: 3000, PaidCents: 1000, DueDate: date(2026, 4, 20), Status: domain.BillPartial},
	}

	allocs, remaining, err := billing.Allocate(bills, 5000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if remaining != 3000 {
		t.Errorf("expected 3000 unallocated, got %d", remaining)
	}
	if len(allocs) != 1 || allocs[0].AmountCents != 2000 {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}
	if bills[0].PaidCents != 3000 || bills[0].Status != domain.BillPaid {
		t.Errorf("expected bill paid, got %d/%s", bills[0].PaidCents, bills[0].Status)
	}
}

func TestAllocate_SkipsPaidAndEmptyBills(t *testing.T) {
	bills := []domain.Bill{
		{ID: "paid", TotalCents: 500, PaidCents: 500, DueDate: date(2026, 1, 10), Status: domain.BillPaid},
		{ID: "empty", TotalCents: 0, DueDate: date(2026, 2, 10), Status: domain.BillOpen},
		{ID: "overdue", TotalCents: 800, DueDate: date(2026, 3, 10), Status: domain.BillOverdue},
	}

	allocs, remaining, err := billing.Allocate(bills, 1000)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(allocs) != 1 || allocs[0].BillID != "overdue" || allocs[0].Status != domain.BillPaid {
		t.Fatalf("unexpected allocations: %+v", allocs)
	}
	if remaining != 200 {
		t.Errorf("expected 200 unallocated, got %d", remaining)
	}
}

func TestAllocate_InvariantsHold(t *testing.T) {
	totals := []int64{12345, 500, 99999, 1, 40000}
	for _, payment := range []int64{1, 7, 500, 12345, 50000, 152890, 1000000} {
		bills := make([]domain.Bill, len(totals))
		for i, total := range totals {
			bills[i] = domain.Bill{
				ID:             string(rune('a' + i)),
				TotalCents:     total,
				DueDate:        date(2026, time.Month(1+i), 10),
				ReferenceMonth: date(2026, time.Month(1+i), 1),
				Status:         domain.BillClosed,
			}
		}

		allocs, remaining, err := billing.Allocate(bills, payment)
		if err != nil {
			t.Fatalf("payment=%d: unexpected error %v", payment, err)
		}

		var sum int64
		for _, a := range allocs {
			sum += a.AmountCents
		}
		if sum > payment || sum+remaining != payment {
			t.Fatalf("payment=%d: allocated %d remaining %d", payment, sum, remaining)
		}
		for _, b := range bills {
			if b.PaidCents > b.TotalCents {
				t.Fatalf("payment=%d: bill %s overpaid %d/%d", payment, b.ID, b.PaidCents, b.TotalCents)
			}
		}
	}
}

func TestAllocate_RejectsNonPositive(t *testing.T) {
	if _, _, err := billing.Allocate(nil, 0); err == nil {
		t.Fatal("expected error for zero payment")
	}
}
