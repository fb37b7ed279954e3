package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
	"github.com/boddenberg/card-billing/internal/infra/memory"
	"github.com/boddenberg/card-billing/internal/infra/observability"
	"github.com/boddenberg/card-billing/internal/service"

	"go.uber.org/zap"
)

// --- Fakes ---

type fakeProjector struct {
	mu       sync.Mutex
	budgeted map[int]bool // month -> has budget
	err      error
	upserts  []domain.BudgetProjection
}

func (f *fakeProjector) HasBudget(_ context.Context, _ string, _, month int) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.budgeted[month], nil
}

func (f *fakeProjector) UpsertProjection(_ context.Context, p *domain.BudgetProjection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, *p)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.BillEvent
	err    error
}

func (f *fakePublisher) PublishBillUpdated(_ context.Context, ev *domain.BillEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, *ev)
	return nil
}

// --- Helpers ---

const (
	ownerID = "owner-1"
	cardID  = "card-1"
)

var now = time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

func day(m time.Month, d int) time.Time {
	return time.Date(2026, m, d, 12, 0, 0, 0, time.UTC)
}

func newCard() domain.Account {
	return domain.Account{
		ID:                  cardID,
		OwnerID:             ownerID,
		Name:                "Visa Platinum",
		Type:                domain.AccountCreditCard,
		ClosingDay:          10,
		DueDay:              20,
		CreditLimitCents:    500000,
		AvailableLimitCents: 500000,
	}
}

func newService(t *testing.T, store *memory.Store, opts ...service.Option) *service.BillingService {
	t.Helper()
	opts = append([]service.Option{service.WithClock(func() time.Time { return now })}, opts...)
	return service.NewBillingService(store, observability.NewMetrics(), zap.NewNop(), opts...)
}

func seeded(t *testing.T, opts ...memory.Option) (*memory.Store, *service.BillingService) {
	t.Helper()
	store := memory.New(opts...)
	store.PutAccount(newCard())
	return store, newService(t, store)
}

func purchase(t *testing.T, svc *service.BillingService, cents int64, n int, at time.Time) *domain.PurchaseResult {
	t.Helper()
	res, err := svc.CreatePurchase(context.Background(), &domain.PurchaseRequest{
		AccountID:        cardID,
		CategoryID:       "cat-food",
		Description:      "groceries",
		TotalAmountCents: cents,
		InstallmentCount: n,
		PostedAt:         at,
	})
	if err != nil {
		t.Fatalf("purchase %d/%d: %v", cents, n, err)
	}
	return res
}

func available(t *testing.T, store *memory.Store) int64 {
	t.Helper()
	acc, err := store.GetAccount(context.Background(), cardID)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	return acc.AvailableLimitCents
}

// --- Purchases ---

func TestPurchaseAndPayment_RestoresLimit(t *testing.T) {
	store, svc := seeded(t)

	res := purchase(t, svc, 200000, 1, day(3, 5))
	if res.AvailableLimitCents != 300000 || available(t, store) != 300000 {
		t.Fatalf("expected 300000 available after purchase, got %d", res.AvailableLimitCents)
	}
	if len(res.Bills) != 1 || res.Bills[0].TotalCents != 200000 || res.Bills[0].MinimumPaymentCents != 30000 {
		t.Fatalf("unexpected bill: %+v", res.Bills)
	}

	pay, err := svc.ApplyPayment(context.Background(), cardID, 200000, time.Time{})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if pay.AvailableLimitCents != 500000 || available(t, store) != 500000 {
		t.Errorf("expected limit restored to 500000, got %d", pay.AvailableLimitCents)
	}
	if len(pay.Allocations) != 1 || pay.Allocations[0].Status != domain.BillPaid {
		t.Errorf("expected one paid allocation, got %+v", pay.Allocations)
	}
	if !pay.PaidAt.Equal(now) {
		t.Errorf("expected paid_at to default to now, got %v", pay.PaidAt)
	}
}

func TestPurchase_AfterClosingDayGoesToNextBill(t *testing.T) {
	_, svc := seeded(t)

	res := purchase(t, svc, 5000, 1, day(3, 15))

	bill := res.Bills[0]
	if bill.Month() != "2026-04" {
		t.Fatalf("expected 2026-04 bill, got %s", bill.Month())
	}
	if !bill.ClosingDate.Equal(time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)) ||
		!bill.DueDate.Equal(time.Date(2026, 4, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected cycle dates %v / %v", bill.ClosingDate, bill.DueDate)
	}
	if res.Items[0].BillID == nil || *res.Items[0].BillID != bill.ID {
		t.Error("expected item to be attached to the bill")
	}
}

func TestSplitInstallments_ThreeWay(t *testing.T) {
	_, svc := seeded(t)

	res := purchase(t, svc, 1000, 3, day(3, 5))

	if len(res.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(res.Items))
	}
	want := []int64{334, 333, 333}
	months := []string{"2026-03", "2026-04", "2026-05"}
	for i, item := range res.Items {
		if item.AmountCents != want[i] {
			t.Errorf("installment %d: expected %d, got %d", i+1, want[i], item.AmountCents)
		}
		if item.InstallmentNumber != i+1 || item.InstallmentTotal != 3 {
			t.Errorf("installment %d: numbering %d/%d", i+1, item.InstallmentNumber, item.InstallmentTotal)
		}
		if i == 0 && item.InstallmentParentID != nil {
			t.Error("first installment must not have a parent")
		}
		if i > 0 && (item.InstallmentParentID == nil || *item.InstallmentParentID != res.ParentItemID) {
			t.Errorf("installment %d: expected parent %s", i+1, res.ParentItemID)
		}
	}
	for i, b := range res.Bills {
		if b.Month() != months[i] || b.TotalCents != want[i] {
			t.Errorf("bill %d: expected %s with %d, got %s with %d", i, months[i], want[i], b.Month(), b.TotalCents)
		}
	}
	if res.AvailableLimitCents != 500000-1000 {
		t.Errorf("expected whole purchase to hold the limit, got %d", res.AvailableLimitCents)
	}
}

func TestSplitInstallments_RejectsSingle(t *testing.T) {
	_, svc := seeded(t)

	_, err := svc.SplitInstallments(context.Background(), &domain.PurchaseRequest{
		AccountID: cardID, TotalAmountCents: 1000, InstallmentCount: 1,
	})
	var insufficient *domain.ErrInsufficientInstallmentCount
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected ErrInsufficientInstallmentCount, got %v", err)
	}
}

func TestCreatePurchase_Validation(t *testing.T) {
	_, svc := seeded(t)

	tests := []struct {
		name string
		req  domain.PurchaseRequest
	}{
		{"zero amount", domain.PurchaseRequest{AccountID: cardID}},
		{"negative count", domain.PurchaseRequest{AccountID: cardID, TotalAmountCents: 100, InstallmentCount: -1}},
		{"bad kind", domain.PurchaseRequest{AccountID: cardID, TotalAmountCents: 100, Kind: "debit"}},
		{"too many installments", domain.PurchaseRequest{AccountID: cardID, TotalAmountCents: 10000, InstallmentCount: 49}},
		{"split credit", domain.PurchaseRequest{AccountID: cardID, TotalAmountCents: 10000, InstallmentCount: 2, Kind: domain.ItemCredit}},
		{"fewer cents than installments", domain.PurchaseRequest{AccountID: cardID, TotalAmountCents: 2, InstallmentCount: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			_, err := svc.CreatePurchase(context.Background(), &req)
			var v *domain.ErrValidation
			if !errors.As(err, &v) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreatePurchase_ExpiredCard(t *testing.T) {
	store := memory.New()
	card := newCard()
	expired := now.AddDate(0, -1, 0)
	card.ExpiresAt = &expired
	store.PutAccount(card)
	svc := newService(t, store)

	_, err := svc.CreatePurchase(context.Background(), &domain.PurchaseRequest{
		AccountID: cardID, TotalAmountCents: 1000, PostedAt: day(3, 5),
	})
	var exp *domain.ErrCardExpired
	if !errors.As(err, &exp) {
		t.Fatalf("expected ErrCardExpired, got %v", err)
	}

	bills, _ := store.ListBills(context.Background(), cardID)
	if len(bills) != 0 {
		t.Errorf("expected no bills, got %d", len(bills))
	}
}

func TestCreatePurchase_RollsBackOnFailure(t *testing.T) {
	store, svc := seeded(t, memory.WithItemInsertHook(func(item domain.LineItem) error {
		if item.InstallmentNumber == 2 {
			return errors.New("disk full")
		}
		return nil
	}))

	_, err := svc.CreatePurchase(context.Background(), &domain.PurchaseRequest{
		AccountID: cardID, TotalAmountCents: 3000, InstallmentCount: 3, PostedAt: day(3, 5),
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	bills, _ := store.ListBills(context.Background(), cardID)
	if len(bills) != 0 {
		t.Errorf("expected bills to be rolled back, got %d", len(bills))
	}
	if got := available(t, store); got != 500000 {
		t.Errorf("expected limit untouched, got %d", got)
	}
}

func TestCreatePurchase_CreditReducesBill(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))

	res, err := svc.CreatePurchase(context.Background(), &domain.PurchaseRequest{
		AccountID: cardID, Description: "refund", TotalAmountCents: 3000, Kind: domain.ItemCredit, PostedAt: day(3, 6),
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.Bills[0].TotalCents != 7000 {
		t.Errorf("expected bill total 7000, got %d", res.Bills[0].TotalCents)
	}
	if res.AvailableLimitCents != 493000 {
		t.Errorf("expected 493000 available, got %d", res.AvailableLimitCents)
	}
}

func TestCreatePurchase_NewChargeReopensPaidBill(t *testing.T) {
	_, svc := seeded(t)
	res := purchase(t, svc, 10000, 1, day(3, 5))

	if _, err := svc.PayBill(context.Background(), cardID, res.Bills[0].ID, 10000, time.Time{}); err != nil {
		t.Fatalf("pay bill: %v", err)
	}

	res = purchase(t, svc, 2000, 1, day(3, 6))
	bill := res.Bills[0]
	if bill.Status != domain.BillPartial || bill.TotalCents != 12000 || bill.PaidCents != 10000 {
		t.Errorf("expected partial 10000/12000, got %s %d/%d", bill.Status, bill.PaidCents, bill.TotalCents)
	}
	if res.AvailableLimitCents != 498000 {
		t.Errorf("expected 498000 available, got %d", res.AvailableLimitCents)
	}
}

// --- Bills ---

func TestResolveBill_ConcurrentCallersShareOneBill(t *testing.T) {
	store, svc := seeded(t)

	const callers = 20
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			b, err := svc.ResolveBill(context.Background(), cardID, day(3, 5))
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = b.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("expected one bill id, got %s and %s", ids[0], id)
		}
	}
	bills, _ := store.ListBills(context.Background(), cardID)
	if len(bills) != 1 {
		t.Errorf("expected exactly one bill, got %d", len(bills))
	}
}

func TestRecomputeBill_Idempotent(t *testing.T) {
	_, svc := seeded(t)
	res := purchase(t, svc, 40000, 1, day(3, 5))
	billID := res.Bills[0].ID

	first, err := svc.RecomputeBill(context.Background(), cardID, billID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	second, err := svc.RecomputeBill(context.Background(), cardID, billID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if first.TotalCents != 40000 || first.MinimumPaymentCents != 6000 {
		t.Errorf("unexpected totals %d/%d", first.TotalCents, first.MinimumPaymentCents)
	}
	if first.TotalCents != second.TotalCents || first.MinimumPaymentCents != second.MinimumPaymentCents || first.Status != second.Status {
		t.Errorf("recompute is not idempotent: %+v vs %+v", first, second)
	}
}

func TestRecomputeBill_OtherAccount(t *testing.T) {
	store, svc := seeded(t)
	other := newCard()
	other.ID = "card-2"
	store.PutAccount(other)

	res := purchase(t, svc, 1000, 1, day(3, 5))
	_, err := svc.RecomputeBill(context.Background(), "card-2", res.Bills[0].ID)
	var nf *domain.ErrBillNotFound
	if !errors.As(err, &nf) {
		t.Fatalf("expected ErrBillNotFound, got %v", err)
	}
}

func TestRecomputeCardLimit(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 1000, 1, day(3, 5))

	got, err := svc.RecomputeCardLimit(context.Background(), cardID)
	if err != nil {
		t.Fatalf("recompute limit: %v", err)
	}
	if got != 499000 {
		t.Errorf("expected 499000, got %d", got)
	}
}

func TestGetBillByMonth(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 1000, 1, day(3, 5))
	purchase(t, svc, 2000, 1, day(3, 6))

	detail, err := svc.GetBillByMonth(context.Background(), cardID, "2026-03")
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if detail.Bill.TotalCents != 3000 || len(detail.Items) != 2 {
		t.Errorf("unexpected detail: total %d, %d items", detail.Bill.TotalCents, len(detail.Items))
	}

	_, err = svc.GetBillByMonth(context.Background(), cardID, "2026-09")
	var nf *domain.ErrNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound for an empty month, got %v", err)
	}

	_, err = svc.GetBillByMonth(context.Background(), cardID, "March")
	var v *domain.ErrValidation
	if !errors.As(err, &v) {
		t.Errorf("expected ErrValidation for a bad month, got %v", err)
	}
}

func TestGetAccountOverview(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 1000, 2, day(3, 5))

	ov, err := svc.GetAccountOverview(context.Background(), cardID)
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if ov.OutstandingCents != 1000 || len(ov.OpenBills) != 2 {
		t.Errorf("unexpected overview: %d outstanding, %d bills", ov.OutstandingCents, len(ov.OpenBills))
	}
	if ov.OpenBills[0].Month() != "2026-03" {
		t.Errorf("expected oldest bill first, got %s", ov.OpenBills[0].Month())
	}
}

func TestListBills_NewestFirst(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 900, 3, day(3, 5))

	bills, err := svc.ListBills(context.Background(), cardID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bills) != 3 || bills[0].Month() != "2026-05" || bills[2].Month() != "2026-03" {
		t.Errorf("unexpected order: %v", bills)
	}
}

func TestAuthorizeAccount(t *testing.T) {
	_, svc := seeded(t)

	if _, err := svc.AuthorizeAccount(context.Background(), ownerID, cardID); err != nil {
		t.Fatalf("expected owner to be authorized, got %v", err)
	}

	_, err := svc.AuthorizeAccount(context.Background(), "intruder", cardID)
	var nf *domain.ErrAccountNotFound
	if !errors.As(err, &nf) {
		t.Errorf("expected ErrAccountNotFound for another owner, got %v", err)
	}
}

// --- Payments ---

func TestApplyPayment_OldestBillFirst(t *testing.T) {
	store, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))  // 2026-03, due Mar 20
	purchase(t, svc, 10000, 1, day(3, 15)) // 2026-04, due Apr 20

	res, err := svc.ApplyPayment(context.Background(), cardID, 15000, day(3, 18))
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}

	if len(res.Allocations) != 2 {
		t.Fatalf("expected 2 allocations, got %+v", res.Allocations)
	}
	mar, apr := res.Allocations[0], res.Allocations[1]
	if mar.ReferenceMonth != "2026-03" || mar.AmountCents != 10000 || mar.Status != domain.BillPaid {
		t.Errorf("unexpected March allocation %+v", mar)
	}
	if apr.ReferenceMonth != "2026-04" || apr.AmountCents != 5000 || apr.Status != domain.BillPartial {
		t.Errorf("unexpected April allocation %+v", apr)
	}
	if res.AllocatedCents != 15000 || res.UnallocatedCents != 0 {
		t.Errorf("unexpected totals %d/%d", res.AllocatedCents, res.UnallocatedCents)
	}
	if got := available(t, store); got != 495000 {
		t.Errorf("expected 495000 available, got %d", got)
	}
}

func TestApplyPayment_ReportsUnallocated(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))

	res, err := svc.ApplyPayment(context.Background(), cardID, 12500, time.Time{})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if res.AllocatedCents != 10000 || res.UnallocatedCents != 2500 {
		t.Errorf("expected 10000 allocated and 2500 left, got %d/%d", res.AllocatedCents, res.UnallocatedCents)
	}
	if res.AvailableLimitCents != 500000 {
		t.Errorf("limit must not exceed the credit limit, got %d", res.AvailableLimitCents)
	}
}

func TestApplyPayment_NoBills(t *testing.T) {
	_, svc := seeded(t)

	res, err := svc.ApplyPayment(context.Background(), cardID, 1000, time.Time{})
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if len(res.Allocations) != 0 || res.UnallocatedCents != 1000 {
		t.Errorf("expected the whole payment unallocated, got %+v", res)
	}
}

func TestApplyPayment_RejectsNonPositive(t *testing.T) {
	_, svc := seeded(t)

	_, err := svc.ApplyPayment(context.Background(), cardID, 0, time.Time{})
	var v *domain.ErrValidation
	if !errors.As(err, &v) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestPayBill(t *testing.T) {
	_, svc := seeded(t)
	res := purchase(t, svc, 10000, 1, day(3, 5))
	billID := res.Bills[0].ID

	pay, err := svc.PayBill(context.Background(), cardID, billID, 4000, time.Time{})
	if err != nil {
		t.Fatalf("pay bill: %v", err)
	}
	if pay.Allocations[0].Status != domain.BillPartial || pay.AvailableLimitCents != 494000 {
		t.Errorf("unexpected result %+v", pay)
	}

	pay, err = svc.PayBill(context.Background(), cardID, billID, 8000, time.Time{})
	if err != nil {
		t.Fatalf("pay bill: %v", err)
	}
	if pay.AllocatedCents != 6000 || pay.UnallocatedCents != 2000 || pay.Allocations[0].Status != domain.BillPaid {
		t.Errorf("unexpected settlement %+v", pay)
	}

	_, err = svc.PayBill(context.Background(), cardID, billID, 100, time.Time{})
	var inv *domain.ErrInvalidTransition
	if !errors.As(err, &inv) {
		t.Errorf("expected ErrInvalidTransition for a paid bill, got %v", err)
	}
}

// --- Deletions ---

func TestDeleteLineItem_ChainHeadConflicts(t *testing.T) {
	_, svc := seeded(t)
	res := purchase(t, svc, 1000, 3, day(3, 5))

	_, err := svc.DeleteLineItem(context.Background(), cardID, res.ParentItemID)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestDeleteLineItem_SingleItem(t *testing.T) {
	store, svc := seeded(t)
	purchase(t, svc, 1000, 1, day(3, 5))
	drop := purchase(t, svc, 2500, 1, day(3, 6))

	res, err := svc.DeleteLineItem(context.Background(), cardID, drop.ParentItemID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(res.DeletedItemIDs) != 1 || res.Bills[0].TotalCents != 1000 {
		t.Errorf("unexpected result %+v", res)
	}
	if got := available(t, store); got != 499000 {
		t.Errorf("expected 499000 available, got %d", got)
	}
}

func TestDeleteInstallmentChain_FromAnyInstallment(t *testing.T) {
	store, svc := seeded(t)
	res := purchase(t, svc, 1000, 3, day(3, 5))

	del, err := svc.DeleteInstallmentChain(context.Background(), cardID, res.Items[1].ID)
	if err != nil {
		t.Fatalf("delete chain: %v", err)
	}
	if len(del.DeletedItemIDs) != 3 {
		t.Errorf("expected 3 deleted items, got %d", len(del.DeletedItemIDs))
	}
	for _, b := range del.Bills {
		if b.TotalCents != 0 || b.MinimumPaymentCents != 0 {
			t.Errorf("bill %s not emptied: %d/%d", b.Month(), b.TotalCents, b.MinimumPaymentCents)
		}
	}
	if got := available(t, store); got != 500000 {
		t.Errorf("expected limit restored, got %d", got)
	}
}

func TestDeleteLineItem_ClampsOverpaidBill(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))
	extra := purchase(t, svc, 5000, 1, day(3, 6))
	if _, err := svc.ApplyPayment(context.Background(), cardID, 15000, time.Time{}); err != nil {
		t.Fatalf("apply payment: %v", err)
	}

	res, err := svc.DeleteLineItem(context.Background(), cardID, extra.ParentItemID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	b := res.Bills[0]
	if b.TotalCents != 10000 || b.PaidCents != 10000 || b.Status != domain.BillPaid {
		t.Errorf("expected paid 10000/10000, got %s %d/%d", b.Status, b.PaidCents, b.TotalCents)
	}
	if res.OverpaidCents != 5000 {
		t.Errorf("expected 5000 overpaid, got %d", res.OverpaidCents)
	}
}

func TestDeleteLineItem_NoOverpaidOnUnpaidBill(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))
	extra := purchase(t, svc, 5000, 1, day(3, 6))

	res, err := svc.DeleteLineItem(context.Background(), cardID, extra.ParentItemID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.OverpaidCents != 0 {
		t.Errorf("expected nothing overpaid, got %d", res.OverpaidCents)
	}
}

func TestPurchase_ReopensEmptiedPaidBillAsOpen(t *testing.T) {
	_, svc := seeded(t)
	first := purchase(t, svc, 10000, 1, day(3, 5))
	if _, err := svc.ApplyPayment(context.Background(), cardID, 10000, time.Time{}); err != nil {
		t.Fatalf("apply payment: %v", err)
	}

	del, err := svc.DeleteLineItem(context.Background(), cardID, first.ParentItemID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if del.OverpaidCents != 10000 || del.Bills[0].PaidCents != 0 {
		t.Fatalf("expected 10000 overpaid and nothing left paid, got %d and %d", del.OverpaidCents, del.Bills[0].PaidCents)
	}

	res := purchase(t, svc, 2000, 1, day(3, 6))
	bill := res.Bills[0]
	if bill.Status != domain.BillOpen || bill.PaidCents != 0 || bill.TotalCents != 2000 {
		t.Errorf("expected open 0/2000, got %s %d/%d", bill.Status, bill.PaidCents, bill.TotalCents)
	}

	got, err := svc.GetBillByMonth(context.Background(), cardID, "2026-03")
	if err != nil {
		t.Fatalf("get bill: %v", err)
	}
	if got.Bill.Status != domain.BillOpen {
		t.Errorf("expected stored status open, got %s", got.Bill.Status)
	}
}

func TestDeleteLineItem_UnknownOrForeign(t *testing.T) {
	store, svc := seeded(t)
	other := newCard()
	other.ID = "card-2"
	store.PutAccount(other)
	res := purchase(t, svc, 1000, 1, day(3, 5))

	var nf *domain.ErrNotFound
	if _, err := svc.DeleteLineItem(context.Background(), cardID, "missing"); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.DeleteLineItem(context.Background(), "card-2", res.ParentItemID); !errors.As(err, &nf) {
		t.Errorf("expected ErrNotFound for another card's item, got %v", err)
	}
}

// --- Lifecycle ---

func TestRefreshStatuses_CloseThenOverdue(t *testing.T) {
	_, svc := seeded(t)
	purchase(t, svc, 10000, 1, day(3, 5))

	changed, err := svc.RefreshStatuses(context.Background(), cardID, day(3, 10))
	if err != nil || len(changed) != 0 {
		t.Fatalf("expected nothing on closing day, got %v, %v", changed, err)
	}

	changed, err = svc.RefreshStatuses(context.Background(), cardID, day(3, 11))
	if err != nil || len(changed) != 1 || changed[0].Status != domain.BillClosed {
		t.Fatalf("expected bill closed, got %v, %v", changed, err)
	}

	changed, err = svc.RefreshStatuses(context.Background(), cardID, day(3, 21))
	if err != nil || len(changed) != 1 || changed[0].Status != domain.BillOverdue {
		t.Fatalf("expected bill overdue, got %v, %v", changed, err)
	}

	pay, err := svc.ApplyPayment(context.Background(), cardID, 10000, day(3, 22))
	if err != nil {
		t.Fatalf("apply payment: %v", err)
	}
	if pay.Allocations[0].Status != domain.BillPaid {
		t.Errorf("expected overdue bill to become paid, got %s", pay.Allocations[0].Status)
	}
}

func TestRefreshAllStatuses(t *testing.T) {
	store, svc := seeded(t)
	other := newCard()
	other.ID = "card-2"
	store.PutAccount(other)
	store.PutAccount(domain.Account{ID: "chk-1", OwnerID: ownerID, Type: domain.AccountChecking})

	purchase(t, svc, 1000, 1, day(3, 5))
	if _, err := svc.CreatePurchase(context.Background(), &domain.PurchaseRequest{
		AccountID: "card-2", TotalAmountCents: 1000, PostedAt: day(3, 5),
	}); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	res, err := svc.RefreshAllStatuses(context.Background(), day(3, 11), 4)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Accounts != 2 || res.BillsChanged != 2 || res.Failed != 0 {
		t.Errorf("unexpected sweep result %+v", res)
	}
}

// --- Collaborators ---

func TestPurchase_ProjectsBudgetedMonthsAndPublishes(t *testing.T) {
	store := memory.New()
	store.PutAccount(newCard())
	proj := &fakeProjector{budgeted: map[int]bool{4: true}}
	pub := &fakePublisher{}
	svc := newService(t, store, service.WithBudgetProjector(proj), service.WithEventPublisher(pub))

	res := purchase(t, svc, 1000, 3, day(3, 5))

	if len(proj.upserts) != 1 {
		t.Fatalf("expected one projection, got %+v", proj.upserts)
	}
	p := proj.upserts[0]
	if p.OwnerID != ownerID || p.CategoryID != "cat-food" || p.Year != 2026 || p.Month != 4 || p.AmountCents != 333 {
		t.Errorf("unexpected projection %+v", p)
	}
	if p.SourceItemID != res.Items[1].ID {
		t.Errorf("expected projection sourced from installment 2, got %s", p.SourceItemID)
	}

	if len(pub.events) != 3 {
		t.Fatalf("expected 3 bill events, got %d", len(pub.events))
	}
	for _, ev := range pub.events {
		if ev.Type != domain.BillEventUpdated || ev.AccountID != cardID || ev.AvailableLimitCents != 499000 {
			t.Errorf("unexpected event %+v", ev)
		}
	}
}

func TestPurchase_CollaboratorFailuresDoNotFail(t *testing.T) {
	store := memory.New()
	store.PutAccount(newCard())
	svc := newService(t, store,
		service.WithBudgetProjector(&fakeProjector{err: errors.New("supabase down")}),
		service.WithEventPublisher(&fakePublisher{err: errors.New("broker down")}),
	)

	res := purchase(t, svc, 1000, 2, day(3, 5))
	if len(res.Items) != 2 {
		t.Fatalf("expected purchase to be committed, got %+v", res)
	}
	if got := available(t, store); got != 499000 {
		t.Errorf("expected 499000 available, got %d", got)
	}
}
