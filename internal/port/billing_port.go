package port

import (
	"context"
	"time"

	"github.com/boddenberg/card-billing/internal/domain"
)

// BillingStore is the persistence port of the billing engine. Reads outside
// WithinTx see committed state only; every write goes through a BillingTx.
type BillingStore interface {
	// WithinTx runs fn in one transaction. fn returning an error rolls
	// everything back and the error is returned unchanged.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx BillingTx) error) error

	GetAccount(ctx context.Context, accountID string) (*domain.Account, error)
	ListBills(ctx context.Context, accountID string) ([]domain.Bill, error)
	GetBillByMonth(ctx context.Context, accountID string, month time.Time) (*domain.Bill, error)
	ListBillItems(ctx context.Context, billID string) ([]domain.LineItem, error)
	ListAccountIDs(ctx context.Context, accountType domain.AccountType) ([]string, error)
	Ping(ctx context.Context) error
}

// BillingTx is the transactional view handed to WithinTx callbacks. Locks are
// always taken account first, then bills.
type BillingTx interface {
	// Accounts
	LockAccount(ctx context.Context, accountID string) (*domain.Account, error)
	UpdateAvailableLimit(ctx context.Context, accountID string, availableCents int64) error

	// Bills
	// EnsureBill returns the bill for (accountID, referenceMonth), inserting
	// bill when none exists. created reports whether this call inserted it.
	EnsureBill(ctx context.Context, bill *domain.Bill) (b *domain.Bill, created bool, err error)
	LockBill(ctx context.Context, billID string) (*domain.Bill, error)
	LockOutstandingBills(ctx context.Context, accountID string) ([]domain.Bill, error)
	ListBills(ctx context.Context, accountID string) ([]domain.Bill, error)
	UpdateBillTotals(ctx context.Context, billID string, totalCents, minimumCents int64) error
	UpdateBillPayment(ctx context.Context, billID string, paidCents int64, status domain.BillStatus) error
	UpdateBillStatus(ctx context.Context, billID string, status domain.BillStatus) error

	// Line items
	InsertLineItem(ctx context.Context, item *domain.LineItem) error
	GetLineItem(ctx context.Context, itemID string) (*domain.LineItem, error)
	ListChain(ctx context.Context, parentID string) ([]domain.LineItem, error)
	ListBillItems(ctx context.Context, billID string) ([]domain.LineItem, error)
	DeleteLineItems(ctx context.Context, itemIDs []string) error
}
