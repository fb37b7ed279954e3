package billing_test

import (
	"testing"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"

	"github.com/shopspring/decimal"
)

func TestMinimumPayment(t *testing.T) {
	policy := billing.DefaultMinimumPolicy()

	tests := []struct {
		total int64
		want  int64
	}{
		{0, 0},
		{-100, 0},
		{1, 5000},
		{10000, 5000},
		{33333, 5000},
		{33334, 5000},   // 5000.1 rounds to 5000
		{40000, 6000},   // 15%
		{100003, 15000}, // 15000.45 rounds down
		{100004, 15001}, // 15000.6 rounds up
	}

	for _, tt := range tests {
		if got := policy.MinimumPayment(tt.total); got != tt.want {
			t.Errorf("MinimumPayment(%d) = %d, want %d", tt.total, got, tt.want)
		}
	}
}

func TestMinimumPayment_CustomPolicy(t *testing.T) {
	policy := billing.MinimumPolicy{Rate: decimal.RequireFromString("0.10"), FloorCents: 100}
	if got := policy.MinimumPayment(5000); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
	if got := policy.MinimumPayment(500); got != 100 {
		t.Errorf("expected floor 100, got %d", got)
	}
}

func TestBillTotal_NetsCreditsAndClampsAtZero(t *testing.T) {
	items := []domain.LineItem{
		{AmountCents: 1000, Kind: domain.ItemCharge},
		{AmountCents: 2500, Kind: domain.ItemCharge},
		{AmountCents: 500, Kind: domain.ItemCredit},
	}
	if got := billing.BillTotal(items); got != 3000 {
		t.Errorf("expected 3000, got %d", got)
	}

	refundOnly := []domain.LineItem{{AmountCents: 700, Kind: domain.ItemCredit}}
	if got := billing.BillTotal(refundOnly); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}

	if got := billing.BillTotal(nil); got != 0 {
		t.Errorf("expected 0 for no items, got %d", got)
	}
}

func TestAvailableLimit(t *testing.T) {
	bills := []domain.Bill{{TotalCents: 200000, Status: domain.BillOpen}}
	if got := billing.AvailableLimit(500000, bills); got != 300000 {
		t.Errorf("expected 300000, got %d", got)
	}

	bills[0].PaidCents = 200000
	bills[0].Status = domain.BillPaid
	if got := billing.AvailableLimit(500000, bills); got != 500000 {
		t.Errorf("expected 500000, got %d", got)
	}
}

func TestAvailableLimit_NeverNegative(t *testing.T) {
	bills := []domain.Bill{
		{TotalCents: 400000, Status: domain.BillOverdue},
		{TotalCents: 300000, PaidCents: 50000, Status: domain.BillPartial},
	}
	if got := billing.AvailableLimit(500000, bills); got != 0 {
		t.Errorf("expected 0, got %d", got)
	}
}

func TestOutstandingCents_IgnoresPaidAndOverpaid(t *testing.T) {
	bills := []domain.Bill{
		{TotalCents: 1000, PaidCents: 1000, Status: domain.BillPaid},
		{TotalCents: 1000, PaidCents: 1500, Status: domain.BillPartial}, // total lowered after payment
		{TotalCents: 800, PaidCents: 300, Status: domain.BillPartial},
	}
	if got := billing.OutstandingCents(bills); got != 500 {
		t.Errorf("expected 500, got %d", got)
	}
}
