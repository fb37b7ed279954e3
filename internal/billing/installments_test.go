package billing_test

import (
	"errors"
	"testing"
	"time"

	"github.com/boddenberg/card-billing/internal/billing"
	"github.com/boddenberg/card-billing/internal/domain"
)

func TestSplitAmounts_FirstInstallmentAbsorbsRemainder(t *testing.T) {
	got, err := billing.SplitAmounts(1000, 3)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	want := []int64{334, 333, 333}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestSplitAmounts_SumsExactly(t *testing.T) {
	for _, total := range []int64{2, 99, 1000, 1001, 123457, 999999} {
		for n := 2; n <= 24; n++ {
			if total < int64(n) {
				continue
			}
			amounts, err := billing.SplitAmounts(total, n)
			if err != nil {
				t.Fatalf("total=%d n=%d: unexpected error %v", total, n, err)
			}
			if len(amounts) != n {
				t.Fatalf("expected %d amounts, got %d", n, len(amounts))
			}

			var sum int64
			for i, a := range amounts {
				sum += a
				if i > 0 && a != total/int64(n) {
					t.Fatalf("total=%d n=%d: installment %d = %d, want %d", total, n, i+1, a, total/int64(n))
				}
			}
			if sum != total {
				t.Fatalf("total=%d n=%d: sum %d", total, n, sum)
			}
			if dev := amounts[0] - amounts[n-1]; dev < 0 || dev > int64(n-1) {
				t.Fatalf("total=%d n=%d: first installment deviates by %d", total, n, dev)
			}
		}
	}
}

func TestSplitAmounts_RejectsSingleInstallment(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		_, err := billing.SplitAmounts(1000, n)
		var countErr *domain.ErrInsufficientInstallmentCount
		if !errors.As(err, &countErr) {
			t.Fatalf("n=%d: expected ErrInsufficientInstallmentCount, got %v", n, err)
		}
	}
}

func TestSplitAmounts_CapsInstallmentCount(t *testing.T) {
	if _, err := billing.SplitAmounts(100000, billing.MaxInstallments); err != nil {
		t.Fatalf("n=%d: expected no error, got %v", billing.MaxInstallments, err)
	}

	_, err := billing.SplitAmounts(100000, billing.MaxInstallments+1)
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) || validation.Field != "installment_count" {
		t.Fatalf("expected ErrValidation on installment_count, got %v", err)
	}
}

func TestSplitAmounts_RejectsLessThanOneCentEach(t *testing.T) {
	_, err := billing.SplitAmounts(2, 3)
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPlanInstallments_CalendarMonths(t *testing.T) {
	first := time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)
	plan, err := billing.PlanInstallments(1200, 4, first)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	wantDays := []time.Time{
		time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 31, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 4, 30, 9, 0, 0, 0, time.UTC),
	}
	for i, inst := range plan {
		if inst.Number != i+1 || inst.Total != 4 {
			t.Errorf("installment %d: got number %d/%d", i+1, inst.Number, inst.Total)
		}
		if !inst.PostedAt.Equal(wantDays[i]) {
			t.Errorf("installment %d: expected %s, got %s", i+1, wantDays[i], inst.PostedAt)
		}
		if inst.AmountCents != 300 {
			t.Errorf("installment %d: expected 300, got %d", i+1, inst.AmountCents)
		}
	}
}
